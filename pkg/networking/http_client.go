package networking

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ValidatingTransport wraps a base http.RoundTripper and refuses to dial
// private/loopback/link-local addresses unless the builder was configured
// with WithPrivateIPs(true). A host given literally as "localhost" or a
// loopback IP (see IsLocalhost) is always allowed; the check applies to
// the addresses other host names resolve to. This is the one piece of defense-in-depth the
// JWKS/discovery fetchers get for free: an operator-configured issuer URL
// is trusted, but a redirect or DNS rebind pointing it at an internal
// address is not, by default.
type ValidatingTransport struct {
	Transport    http.RoundTripper
	allowPrivate bool
}

// RoundTrip implements http.RoundTripper.
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.allowPrivate {
		if err := validateHost(req.URL.Hostname()); err != nil {
			return nil, err
		}
	}
	return t.Transport.RoundTrip(req)
}

func validateHost(host string) error {
	if IsLocalhost(host) {
		return nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		// Let the dial fail naturally; don't mask DNS errors as policy errors.
		return nil //nolint:nilerr
	}
	for _, ip := range ips {
		if isPrivateOrReserved(ip) {
			return fmt.Errorf("networking: refusing to connect to private address %s resolved for host %q", ip, host)
		}
	}
	return nil
}

// HttpClientBuilder builds an *http.Client bounded by HttpTimeout, optionally
// pinned to a CA bundle, optionally authenticated with a bearer token read
// from a file, and by default refusing private-network destinations.
type HttpClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	caCertPath            string
	authTokenFile         string
	allowPrivate          bool
}

// NewHttpClientBuilder returns a builder with the default bounded timeouts.
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{
		clientTimeout:         HttpTimeout * time.Second,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithCABundle pins the client's root CA pool to the PEM bundle at path.
// An empty path leaves the system root pool in place.
func (b *HttpClientBuilder) WithCABundle(path string) *HttpClientBuilder {
	b.caCertPath = path
	return b
}

// WithTokenFromFile authenticates every outbound request with a bearer
// token read from path (re-read per call so a rotated token takes effect
// without a restart).
func (b *HttpClientBuilder) WithTokenFromFile(path string) *HttpClientBuilder {
	b.authTokenFile = path
	return b
}

// WithPrivateIPs allows (true) or forbids (false, the default) connecting
// to private/loopback/link-local addresses. Hosts that IsLocalhost
// accepts are allowed either way.
func (b *HttpClientBuilder) WithPrivateIPs(allow bool) *HttpClientBuilder {
	b.allowPrivate = allow
	return b
}

// fileTokenSource re-reads the token file on every Token() call.
type fileTokenSource struct{ path string }

func (f *fileTokenSource) Token() (*oauth2.Token, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth token file: %w", err)
	}
	return &oauth2.Token{AccessToken: strings.TrimSpace(string(b)), TokenType: "Bearer"}, nil
}

// Build assembles the configured *http.Client.
func (b *HttpClientBuilder) Build() (*http.Client, error) {
	baseTransport := &http.Transport{
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
	}

	if b.caCertPath != "" {
		pem, err := os.ReadFile(b.caCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA bundle at %s", b.caCertPath)
		}
		baseTransport.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
	}

	var transport http.RoundTripper = &ValidatingTransport{Transport: baseTransport, allowPrivate: b.allowPrivate}

	if b.authTokenFile != "" {
		transport = &oauth2.Transport{
			Source: &fileTokenSource{path: b.authTokenFile},
			Base:   transport,
		}
	}

	return &http.Client{
		Timeout:   b.clientTimeout,
		Transport: transport,
	}, nil
}
