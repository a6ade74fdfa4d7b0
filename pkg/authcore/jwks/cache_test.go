package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"
)

// newTestIssuer returns an httptest server exposing discovery + JWKS
// documents for a freshly generated RSA key with the given kid.
func newTestIssuer(t *testing.T, kid string) (*httptest.Server, *rsa.PrivateKey) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.Import(priv.Public())
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   srv.URL,
			"jwks_uri": srv.URL + "/jwks.json",
		})
	})
	mux.HandleFunc("/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		set := jwk.NewSet()
		_ = set.AddKey(key)
		_ = json.NewEncoder(w).Encode(set)
	})
	srv = httptest.NewServer(mux)
	return srv, priv
}

func TestCache_Lookup_Success(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, priv := newTestIssuer(t, "kid-1")
	defer srv.Close()

	httpClient, err := NewHTTPClient(true)
	require.NoError(t, err)

	c, err := New(ctx, httpClient)
	require.NoError(t, err)

	key, err := c.Lookup(ctx, srv.URL, "kid-1")
	require.NoError(t, err)

	rsaKey, ok := key.(*rsa.PublicKey)
	require.True(t, ok)
	require.Equal(t, priv.PublicKey.N, rsaKey.N)
}

func TestCache_Lookup_UnknownKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _ := newTestIssuer(t, "kid-1")
	defer srv.Close()

	httpClient, err := NewHTTPClient(true)
	require.NoError(t, err)
	c, err := New(ctx, httpClient)
	require.NoError(t, err)

	_, err = c.Lookup(ctx, srv.URL, "does-not-exist")
	require.Error(t, err)
}

func TestCache_Lookup_UpstreamUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	httpClient, err := NewHTTPClient(true)
	require.NoError(t, err)
	c, err := New(ctx, httpClient)
	require.NoError(t, err)

	_, err = c.Lookup(ctx, srv.URL, "kid-1")
	require.Error(t, err)
}

func TestCache_LRUEviction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	httpClient, err := NewHTTPClient(true)
	require.NoError(t, err)
	c, err := New(ctx, httpClient)
	require.NoError(t, err)

	var servers []*httptest.Server
	for i := 0; i < MaxIssuers+1; i++ {
		kid := fmt.Sprintf("kid-%d", i)
		srv, _ := newTestIssuer(t, kid)
		servers = append(servers, srv)
		_, err := c.Lookup(ctx, srv.URL, kid)
		require.NoError(t, err)
	}
	defer func() {
		for _, s := range servers {
			s.Close()
		}
	}()

	require.LessOrEqual(t, len(c.issuerJWKSURL), MaxIssuers)
	// The first-registered issuer should have been evicted.
	_, stillTracked := c.issuerJWKSURL[servers[0].URL]
	require.False(t, stillTracked)
}
