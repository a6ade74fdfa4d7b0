// Package tokencodec implements the pure sign/decode/verify functions over
// RS256 JWTs described by the token codec component: it never touches
// storage or the network, only claim maps.
package tokencodec

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GroupRef is one entry of the isMemberOf claim.
type GroupRef struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

// ClaimNames lets the username/uid claim keys be configured per deployment
// (some upstreams use "preferred_username", others "upn", etc.).
type ClaimNames struct {
	Username string // defaults to "username" if empty
	UID      string // defaults to "uid" if empty
}

func (c ClaimNames) usernameKey() string {
	if c.Username == "" {
		return "username"
	}
	return c.Username
}

func (c ClaimNames) uidKey() string {
	if c.UID == "" {
		return "uid"
	}
	return c.UID
}

// Claims is the decoded representation of a token's payload, per the data
// model's Token type. Scope is stored split for convenience; Raw keeps the
// full claim set for round-tripping and for capability checkers that need
// provider-specific claims.
type Claims struct {
	Issuer    string
	Audience  string
	Subject   string
	JTI       string
	Username  string
	UID       int64
	Email     string
	IsMemberOf []GroupRef
	Scopes    []string
	ExpiresAt time.Time
	Raw       jwt.MapClaims
}

// HasScope reports whether capability appears verbatim in the token's scope set.
func (c *Claims) HasScope(capability string) bool {
	for _, s := range c.Scopes {
		if s == capability {
			return true
		}
	}
	return false
}

// GroupNames returns the isMemberOf entries' names only.
func (c *Claims) GroupNames() []string {
	names := make([]string, 0, len(c.IsMemberOf))
	for _, g := range c.IsMemberOf {
		names = append(names, g.Name)
	}
	return names
}
