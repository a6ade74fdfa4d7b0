package tokencodec

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testSignOptions(issuer string, now time.Time) SignOptions {
	return SignOptions{
		Issuer:    issuer,
		Audience:  "https://gateway.example.com",
		Subject:   "alice",
		JTI:       "jti-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
		Username:  "alice",
		UID:       1234,
		Email:     "alice@example.com",
		IsMemberOf: []GroupRef{
			{Name: "admins", ID: 100},
		},
		Scopes: []string{"read:all", "exec:notebook"},
		KeyID:  "kid-1",
	}
}

func resolverFor(key *rsa.PublicKey) KeyResolver {
	return func(context.Context, string, string) (interface{}, error) {
		return key, nil
	}
}

func TestSignAndVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	opts := testSignOptions("https://idp.example.com", now)

	encoded, err := Sign(opts, priv)
	require.NoError(t, err)

	claims, err := Verify(context.Background(), encoded, VerifyOptions{
		TrustedIssuers: map[string]bool{"https://idp.example.com": true},
		Audiences: map[string][]string{
			"https://idp.example.com": {"https://gateway.example.com"},
		},
		Leeway:  time.Minute,
		Resolve: resolverFor(&priv.PublicKey),
	})
	require.NoError(t, err)

	require.Equal(t, "alice", claims.Username)
	require.Equal(t, int64(1234), claims.UID)
	require.Equal(t, "alice@example.com", claims.Email)
	require.ElementsMatch(t, []string{"read:all", "exec:notebook"}, claims.Scopes)
	require.True(t, claims.HasScope("read:all"))
	require.False(t, claims.HasScope("write:all"))
	require.Equal(t, []string{"admins"}, claims.GroupNames())
}

func TestVerify_UntrustedIssuer(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	encoded, err := Sign(testSignOptions("https://evil.example.com", now), priv)
	require.NoError(t, err)

	_, err = Verify(context.Background(), encoded, VerifyOptions{
		TrustedIssuers: map[string]bool{"https://idp.example.com": true},
		Resolve:        resolverFor(&priv.PublicKey),
	})
	require.Error(t, err)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	opts := testSignOptions("https://idp.example.com", now.Add(-2*time.Hour))
	opts.ExpiresAt = now.Add(-time.Hour)

	encoded, err := Sign(opts, priv)
	require.NoError(t, err)

	_, err = Verify(context.Background(), encoded, VerifyOptions{
		TrustedIssuers: map[string]bool{"https://idp.example.com": true},
		Resolve:        resolverFor(&priv.PublicKey),
	})
	require.Error(t, err)
}

func TestVerify_ExpiredWithinLeewaySucceeds(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	opts := testSignOptions("https://idp.example.com", now.Add(-2*time.Hour))
	opts.ExpiresAt = now.Add(-10 * time.Second)

	encoded, err := Sign(opts, priv)
	require.NoError(t, err)

	claims, err := Verify(context.Background(), encoded, VerifyOptions{
		TrustedIssuers: map[string]bool{"https://idp.example.com": true},
		Leeway:         time.Minute,
		Resolve:        resolverFor(&priv.PublicKey),
	})
	require.NoError(t, err, "a token expired by less than the configured leeway must still verify")
	require.Equal(t, "alice", claims.Username)
}

func TestVerify_WrongAudience(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	encoded, err := Sign(testSignOptions("https://idp.example.com", now), priv)
	require.NoError(t, err)

	_, err = Verify(context.Background(), encoded, VerifyOptions{
		TrustedIssuers: map[string]bool{"https://idp.example.com": true},
		Audiences: map[string][]string{
			"https://idp.example.com": {"https://someone-else.example.com"},
		},
		Resolve: resolverFor(&priv.PublicKey),
	})
	require.Error(t, err)
}

func TestVerify_WrongKeyFailsSignatureCheck(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	encoded, err := Sign(testSignOptions("https://idp.example.com", now), priv)
	require.NoError(t, err)

	_, err = Verify(context.Background(), encoded, VerifyOptions{
		TrustedIssuers: map[string]bool{"https://idp.example.com": true},
		Resolve:        resolverFor(&otherPriv.PublicKey),
	})
	require.Error(t, err)
}

func TestDecodeUnverified(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	encoded, err := Sign(testSignOptions("https://idp.example.com", now), priv)
	require.NoError(t, err)

	header, claims, err := DecodeUnverified(encoded)
	require.NoError(t, err)
	require.Equal(t, "kid-1", header["kid"])
	require.Equal(t, "https://idp.example.com", claims["iss"])
}
