// Package config is the pure configuration for the authgate service. All
// values must be fully resolved by the time Validate is called; the one
// file it refers to, SigningKeyPath, is read later by LoadSigningKey.
// cmd/authgate binds these fields to cobra flags through viper; no config
// file is read and no environment variables are bound.
package config

import (
	"fmt"
	"time"

	"github.com/sclera-labs/authgate/pkg/logger"
)

// Defaults for fields spec.md marks as optional.
const (
	DefaultMinimumLifetime = 300 * time.Second
	DefaultJWKSTTL         = 600 * time.Second
	DefaultTokenCacheSize  = 10000
	DefaultHTTPTimeout     = 10 * time.Second
	DefaultCookieName      = "authgate"
	DefaultHandlePrefix    = "authgate"
	DefaultLogLevel        = "info"
	MinSecretLength        = 32
)

// AccessCheck is one entry of the configured capability checker pipeline:
// a predicate type name (registered in pkg/authcore/capability) plus its
// raw JSON configuration.
type AccessCheck struct {
	Type   string `mapstructure:"type"`
	Config string `mapstructure:"config"`
}

// Config is the resolved, validated configuration for a running authgate
// instance.
type Config struct {
	// Realm names this deployment in WWW-Authenticate challenges and
	// cookie scoping.
	Realm          string
	BasicAuthRealm string
	CookieName     string
	HandlePrefix   string

	// SessionSecret encrypts session cookies and must be 32 bytes,
	// consistent across every replica.
	SessionSecret [32]byte

	Issuer           string
	DefaultAudience  string
	InternalAudience string
	SigningKeyPath   string
	TrustedIssuers   []string

	DatabaseURL string
	RedisURL    string

	// KnownScopes maps a scope name to its operator-facing description.
	// It is the closed set of scopes a user-created token may reference;
	// the token service rejects any other scope name with Validation.
	KnownScopes map[string]string
	// GroupMapping maps a capability/scope name to the group whose
	// membership implies it. It is loaded but not passed to any checker;
	// the "group" checker reads its mapping from its AccessChecks entry.
	GroupMapping map[string]string
	AccessChecks []AccessCheck

	LogLevel string

	MinimumLifetime time.Duration
	JWKSTTL         time.Duration
	TokenCacheSize  int
	HTTPTimeout     time.Duration
}

// WithDefaults returns a copy of c with every zero-valued optional field
// set to its documented default.
func (c Config) WithDefaults() Config {
	if c.MinimumLifetime == 0 {
		c.MinimumLifetime = DefaultMinimumLifetime
	}
	if c.JWKSTTL == 0 {
		c.JWKSTTL = DefaultJWKSTTL
	}
	if c.TokenCacheSize == 0 {
		c.TokenCacheSize = DefaultTokenCacheSize
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.HandlePrefix == "" {
		c.HandlePrefix = DefaultHandlePrefix
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Realm == "" {
		c.Realm = "authgate"
	}
	if c.BasicAuthRealm == "" {
		c.BasicAuthRealm = c.Realm
	}
	return c
}

// Validate checks that c is ready to build a running service from. It does
// not reach out to the network or a store; callers must still confirm
// DatabaseURL/RedisURL (when set) are reachable.
func (c *Config) Validate() error {
	logger.Debugw("validating authgate config", "issuer", c.Issuer)

	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.DefaultAudience == "" {
		return fmt.Errorf("audience.default is required")
	}
	if c.InternalAudience == "" {
		return fmt.Errorf("audience.internal is required")
	}
	if c.SigningKeyPath == "" {
		return fmt.Errorf("signing_key_path is required")
	}
	if c.InternalAudience == c.DefaultAudience {
		return fmt.Errorf("audience.internal must differ from audience.default")
	}

	var zero [32]byte
	if c.SessionSecret == zero {
		return fmt.Errorf("session_secret must be set to %d random bytes", MinSecretLength)
	}

	for i, check := range c.AccessChecks {
		if check.Type == "" {
			return fmt.Errorf("access_checks[%d]: type is required", i)
		}
	}

	if c.MinimumLifetime < 0 {
		return fmt.Errorf("minimum_lifetime must not be negative")
	}
	if c.JWKSTTL <= 0 {
		return fmt.Errorf("jwks_ttl must be positive")
	}
	if c.TokenCacheSize <= 0 {
		return fmt.Errorf("token_cache_size must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}

	logger.Debugw("authgate config validation passed",
		"issuer", c.Issuer,
		"defaultAudience", c.DefaultAudience,
		"accessCheckCount", len(c.AccessChecks),
	)
	return nil
}
