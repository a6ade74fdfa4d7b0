// Package session implements the state/cookie manager: an encrypted,
// authenticated session cookie carrying a token handle plus CSRF and
// login-flow state. It never touches the token store or the capability
// pipeline; it only encodes and decodes its own payload.
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/sclera-labs/authgate/pkg/apperrors"
)

// DefaultCookieName is used when Config.CookieName is empty.
const DefaultCookieName = "authgate"

// keySize is the required length of the session secret, per the data
// model's "32 bytes" configuration note.
const keySize = 32

// csrfSize is the byte length of a generated CSRF token, 128 bits.
const csrfSize = 16

// State is the cookie's decrypted payload.
type State struct {
	Handle    string `json:"handle"`
	CSRF      string `json:"csrf"`
	ReturnURL string `json:"return_url,omitempty"`
	LoginState string `json:"login_state,omitempty"`
}

// Config parameterizes Manager.
type Config struct {
	CookieName string
	Secret     [keySize]byte
	Secure     bool
	Domain     string
	MaxAge     time.Duration
}

// Manager encrypts and decrypts session cookies with a server-held
// symmetric key. All operations are safe for concurrent use; the key is
// immutable after construction.
type Manager struct {
	cookieName string
	secret     [keySize]byte
	secure     bool
	domain     string
	maxAge     time.Duration
}

// NewManager builds a Manager from cfg.
func NewManager(cfg Config) *Manager {
	name := cfg.CookieName
	if name == "" {
		name = DefaultCookieName
	}
	return &Manager{
		cookieName: name,
		secret:     cfg.Secret,
		secure:     cfg.Secure,
		domain:     cfg.Domain,
		maxAge:     cfg.MaxAge,
	}
}

// NewCSRFToken generates a random 128-bit CSRF token, URL-safe encoded.
func NewCSRFToken() (string, error) {
	buf := make([]byte, csrfSize)
	if _, err := rand.Read(buf); err != nil {
		return "", apperrors.NewInternalError("failed to generate csrf token", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CSRFMatches reports whether the header-supplied CSRF token matches the
// one carried by the session state, via a constant-time comparison.
func CSRFMatches(headerToken, stateToken string) bool {
	if headerToken == "" || stateToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(headerToken), []byte(stateToken)) == 1
}

// Encode seals state into the cookie's wire value: a base64url string
// carrying a random nonce followed by the secretbox-sealed JSON payload.
func (m *Manager) Encode(state State) (string, error) {
	plaintext, err := json.Marshal(state)
	if err != nil {
		return "", apperrors.NewInternalError("failed to marshal session state", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", apperrors.NewInternalError("failed to generate session nonce", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &m.secret)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a cookie value produced by Encode. Per the state/cookie
// manager's "decryption failure is not an error" rule, callers should
// treat any returned error as "no session", never surface it to the
// client, and never log the cookie value itself.
func (m *Manager) Decode(value string) (State, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return State{}, apperrors.NewUnauthenticatedError("malformed session cookie", err)
	}
	if len(raw) < 24 {
		return State{}, apperrors.NewUnauthenticatedError("session cookie too short", nil)
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &m.secret)
	if !ok {
		return State{}, apperrors.NewUnauthenticatedError("session cookie failed authentication", nil)
	}

	var state State
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return State{}, apperrors.NewUnauthenticatedError("session cookie payload malformed", err)
	}
	return state, nil
}

// SetCookie writes an encrypted cookie carrying state onto w.
func (m *Manager) SetCookie(w http.ResponseWriter, state State) error {
	value, err := m.Encode(state)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.domain,
		MaxAge:   int(m.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearCookie overwrites the session cookie with an immediately-expired
// empty one, for logout.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// FromRequest reads and decodes the session cookie from r. Any failure —
// missing cookie, malformed value, failed authentication — is treated
// uniformly as "no session" per the manager's decrypt-failure semantics,
// returning ok=false rather than an error.
func (m *Manager) FromRequest(r *http.Request) (state State, ok bool) {
	c, err := r.Cookie(m.cookieName)
	if err != nil {
		return State{}, false
	}
	state, err = m.Decode(c.Value)
	if err != nil {
		return State{}, false
	}
	return state, true
}

// Name returns the configured cookie name.
func (m *Manager) Name() string {
	return m.cookieName
}
