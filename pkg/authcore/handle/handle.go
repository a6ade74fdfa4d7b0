// Package handle implements the opaque handle/ticket codec: the
// "{prefix}-{key}.{secret}" strings used as bearer credentials and API
// token references. It never touches storage; callers are responsible for
// hashing Secret before persisting and for comparing hashes in constant
// time on lookup.
package handle

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/sclera-labs/authgate/pkg/apperrors"
)

// rawByteLen is the length in bytes of each of key and secret before
// encoding, giving 128 bits of entropy per spec.
const rawByteLen = 16

// Handle is the decoded form of a "{prefix}-{key}.{secret}" string.
type Handle struct {
	Prefix string
	Key    string
	Secret string
}

// Generate creates a new Handle with prefix and freshly random Key and
// Secret, each 22-char base64url-without-padding of 16 random bytes.
func Generate(prefix string) (Handle, error) {
	key, err := randomToken()
	if err != nil {
		return Handle{}, apperrors.NewInternalError("failed to generate handle key", err)
	}
	secret, err := randomToken()
	if err != nil {
		return Handle{}, apperrors.NewInternalError("failed to generate handle secret", err)
	}
	return Handle{Prefix: prefix, Key: key, Secret: secret}, nil
}

func randomToken() (string, error) {
	buf := make([]byte, rawByteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Encode renders h as "{prefix}-{key}.{secret}".
func (h Handle) Encode() string {
	return h.Prefix + "-" + h.Key + "." + h.Secret
}

// String is an alias for Encode, so a Handle can be used directly wherever
// a string is expected (headers, cookies, log fields).
func (h Handle) String() string {
	return h.Encode()
}

// StorageKey is the key under which the token this handle references is
// stored, independent of the secret.
func (h Handle) StorageKey() string {
	return h.Key
}

// Decode parses s into a Handle, rejecting anything that does not match
// "{prefix}-{key}.{secret}" with non-empty, plausible-length key and
// secret. wantPrefix is compared for equality, not as a constant-time
// comparison, since the prefix is never secret.
func Decode(s string, wantPrefix string) (Handle, error) {
	rest, ok := strings.CutPrefix(s, wantPrefix+"-")
	if !ok {
		return Handle{}, apperrors.NewInvalidRequestError("handle has wrong or missing prefix", nil)
	}

	key, secret, ok := strings.Cut(rest, ".")
	if !ok {
		return Handle{}, apperrors.NewInvalidRequestError("handle is missing the key.secret separator", nil)
	}

	if !isValidToken(key) || !isValidToken(secret) {
		return Handle{}, apperrors.NewInvalidRequestError("handle key or secret is malformed", nil)
	}

	return Handle{Prefix: wantPrefix, Key: key, Secret: secret}, nil
}

// isValidToken reports whether s could plausibly be an encoded 16-byte
// random value: the right alphabet, and short enough to reject garbage
// strings early without a full decode round-trip.
func isValidToken(s string) bool {
	if len(s) == 0 || len(s) > 64 {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}

// HashSecret returns the digest of secret that is safe to persist
// alongside a stored token record; the raw secret itself must never reach
// storage.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SecretMatches reports, in constant time, whether candidate equals the
// handle's secret. Callers should compare against a stored hash of the
// secret rather than the secret itself; this helper is for comparing two
// already-equivalent representations (e.g. two hashes, or in tests).
func SecretMatches(candidate, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}
