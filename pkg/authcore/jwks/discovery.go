// Package jwks implements the key cache described by the authorization
// core: fetching and caching upstream signing keys by (issuer, kid) with a
// TTL, backed by OIDC discovery.
package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sclera-labs/authgate/pkg/apperrors"
	"github.com/sclera-labs/authgate/pkg/networking"
)

// UserAgent is sent on every outbound discovery/JWKS request.
const UserAgent = "authgate/1.0"

// DiscoveryDocument is the subset of an OIDC discovery document the cache
// needs.
type DiscoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// discoverJWKSURI fetches the issuer's well-known discovery document and
// returns its jwks_uri.
func discoverJWKSURI(ctx context.Context, client *http.Client, issuer string) (string, error) {
	wellKnown := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return "", apperrors.NewUpstreamUnavailableError("failed to build discovery request", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", apperrors.NewUpstreamUnavailableError("failed to fetch OIDC discovery document", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewUpstreamUnavailableError(
			fmt.Sprintf("OIDC discovery endpoint returned status %d", resp.StatusCode), nil)
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", apperrors.NewUpstreamUnavailableError("failed to decode OIDC discovery document", err)
	}
	if doc.JWKSURI == "" {
		return "", apperrors.NewUpstreamUnavailableError("OIDC discovery document missing jwks_uri", nil)
	}
	return doc.JWKSURI, nil
}

// NewHTTPClient builds the bounded HTTP client used for discovery and JWKS
// fetches, bounded by the fixed networking.HttpTimeout.
func NewHTTPClient(allowPrivateIP bool) (*http.Client, error) {
	return networking.NewHttpClientBuilder().WithPrivateIPs(allowPrivateIP).Build()
}
