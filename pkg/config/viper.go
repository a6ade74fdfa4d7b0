package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagSpec is one (flag name, default, usage) triple registered on the
// serve command and mirrored into viper, per the BindPFlag idiom the
// registry API server uses for its own flags.
type flagSpec struct {
	name  string
	def   interface{}
	usage string
}

var flagSpecs = []flagSpec{
	{"realm", "authgate", "realm name used in WWW-Authenticate challenges and cookie scoping"},
	{"basic-auth-realm", "", "realm name for Basic challenges; defaults to realm"},
	{"cookie-name", DefaultCookieName, "name of the encrypted session cookie"},
	{"handle-prefix", DefaultHandlePrefix, "prefix used on opaque token handles"},
	{"session-secret", "", "base64-encoded 32-byte secretbox key for session cookies"},
	{"signing-key-path", "", "path to the PEM-encoded RSA private key used to sign tokens"},
	{"issuer", "", "issuer identifier this gateway signs tokens as"},
	{"audience-default", "", "default audience for session and user tokens"},
	{"audience-internal", "", "audience for internally-reissued service tokens"},
	{"trusted-issuers", nil, "comma-separated list of upstream issuers VerifyUpstream accepts"},
	{"database-url", "", "database connection string; loaded into Config.DatabaseURL, no store connects to it"},
	{"redis-url", "", "redis connection string for the token store and admin store"},
	{"loglevel", DefaultLogLevel, "log level: debug, info, warn, error"},
	{"minimum-lifetime", DefaultMinimumLifetime, "minimum remaining lifetime a parent token must have to derive a child token; validated only, the token service uses its fixed 300s"},
	{"jwks-ttl", DefaultJWKSTTL, "how long cached upstream signing keys are trusted; validated only, the JWKS cache uses its fixed 600s"},
	{"token-cache-size", DefaultTokenCacheSize, "capacity of the internal-token reissue LRU cache; validated only, the token service uses its fixed 10000"},
	{"http-timeout", DefaultHTTPTimeout, "timeout for outbound discovery/JWKS HTTP requests; validated only, the HTTP client uses its fixed 10s"},
}

// RegisterFlags adds every authgate config flag to cmd and binds each to
// viper under the same name, matching cmd/thv-registry-api's
// viper.BindPFlag(name, cmd.Flags().Lookup(name)) pattern.
func RegisterFlags(cmd *cobra.Command) error {
	for _, spec := range flagSpecs {
		switch def := spec.def.(type) {
		case string:
			cmd.Flags().String(spec.name, def, spec.usage)
		case nil:
			cmd.Flags().StringSlice(spec.name, nil, spec.usage)
		case int:
			cmd.Flags().Int(spec.name, def, spec.usage)
		case time.Duration:
			cmd.Flags().Duration(spec.name, def, spec.usage)
		default:
			return fmt.Errorf("config: unsupported default type for flag %q", spec.name)
		}
		if err := viper.BindPFlag(spec.name, cmd.Flags().Lookup(spec.name)); err != nil {
			return fmt.Errorf("config: failed to bind flag %q: %w", spec.name, err)
		}
	}
	return nil
}

// Load reads every bound flag/env/config-file value out of v and builds a
// Config, applying defaults and decoding the session secret. It does not
// call Validate; callers decide when to enforce that.
func Load(v *viper.Viper) (Config, error) {
	var secret [32]byte
	if raw := v.GetString("session-secret"); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: session-secret must be base64: %w", err)
		}
		if len(decoded) != 32 {
			return Config{}, fmt.Errorf("config: session-secret must decode to 32 bytes, got %d", len(decoded))
		}
		copy(secret[:], decoded)
	}

	cfg := Config{
		Realm:            v.GetString("realm"),
		BasicAuthRealm:   v.GetString("basic-auth-realm"),
		CookieName:       v.GetString("cookie-name"),
		HandlePrefix:     v.GetString("handle-prefix"),
		SessionSecret:    secret,
		Issuer:           v.GetString("issuer"),
		DefaultAudience:  v.GetString("audience-default"),
		InternalAudience: v.GetString("audience-internal"),
		SigningKeyPath:   v.GetString("signing-key-path"),
		TrustedIssuers:   v.GetStringSlice("trusted-issuers"),
		DatabaseURL:      v.GetString("database-url"),
		RedisURL:         v.GetString("redis-url"),
		KnownScopes:      v.GetStringMapString("known-scopes"),
		GroupMapping:     v.GetStringMapString("group-mapping"),
		LogLevel:         v.GetString("loglevel"),
		MinimumLifetime:  v.GetDuration("minimum-lifetime"),
		JWKSTTL:          v.GetDuration("jwks-ttl"),
		TokenCacheSize:   v.GetInt("token-cache-size"),
		HTTPTimeout:      v.GetDuration("http-timeout"),
	}

	var accessChecks []AccessCheck
	if err := v.UnmarshalKey("access-checks", &accessChecks); err != nil {
		return Config{}, fmt.Errorf("config: failed to decode access-checks: %w", err)
	}
	cfg.AccessChecks = accessChecks

	return cfg.WithDefaults(), nil
}
