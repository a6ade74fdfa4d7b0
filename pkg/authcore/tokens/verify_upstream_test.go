package tokens

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"

	"github.com/sclera-labs/authgate/pkg/authcore/jwks"
	"github.com/sclera-labs/authgate/pkg/authcore/store"
	"github.com/sclera-labs/authgate/pkg/authcore/tokencodec"
)

func newUpstreamIssuer(t *testing.T, kid string) (*httptest.Server, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.Import(priv.Public())
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"issuer": srv.URL, "jwks_uri": srv.URL + "/jwks.json"})
	})
	mux.HandleFunc("/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		set := jwk.NewSet()
		_ = set.AddKey(key)
		_ = json.NewEncoder(w).Encode(set)
	})
	srv = httptest.NewServer(mux)
	return srv, priv
}

func TestVerifyUpstream_MaterializesSessionToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	upstream, upstreamKey := newUpstreamIssuer(t, "upstream-kid")
	defer upstream.Close()

	httpClient, err := jwks.NewHTTPClient(true)
	require.NoError(t, err)
	cache, err := jwks.New(ctx, httpClient)
	require.NoError(t, err)

	gatewayKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cfg := Config{
		Issuer:           "https://gateway.example.com",
		Audience:         "https://gateway.example.com",
		InternalAudience: "https://internal.gateway.example.com",
		HandlePrefix:     "authgate",
		SessionTTL:       time.Hour,
		TrustedIssuers:   map[string]bool{upstream.URL: true},
	}
	svc := NewService(cfg, store.NewMemoryStore(), cache, gatewayKey)

	upstreamToken, err := tokencodec.Sign(tokencodec.SignOptions{
		Issuer:    upstream.URL,
		Audience:  "irrelevant",
		Subject:   "alice",
		JTI:       "upstream-jti",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
		Username:  "alice",
		UID:       42,
		Scopes:    []string{"read:all"},
		KeyID:     "upstream-kid",
	}, upstreamKey)
	require.NoError(t, err)

	h, err := svc.VerifyUpstream(ctx, upstreamToken)
	require.NoError(t, err)
	require.Equal(t, "authgate", h.Prefix)

	claims, err := svc.GetData(ctx, h)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, cfg.Issuer, claims.Issuer, "materialized token must carry our own issuer, never the upstream one")
}
