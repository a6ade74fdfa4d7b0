package tokencodec

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sclera-labs/authgate/pkg/apperrors"
)

// KeyResolver looks up the public key for (issuer, kid), satisfied by
// jwks.Cache.Lookup.
type KeyResolver func(ctx context.Context, issuer, kid string) (interface{}, error)

// SignOptions parameterizes Sign.
type SignOptions struct {
	Issuer     string
	Audience   string
	Subject    string
	JTI        string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Username   string
	UID        int64
	Email      string
	IsMemberOf []GroupRef
	Scopes     []string
	KeyID      string
	ClaimNames ClaimNames
}

// Sign builds and signs an RS256 JWT from opts using privateKey, returning
// the compact encoded token. Only RS256 is ever produced, per the codec's
// "only RS256 accepted" invariant.
func Sign(opts SignOptions, privateKey *rsa.PrivateKey) (string, error) {
	claims := jwt.MapClaims{
		"iss": opts.Issuer,
		"aud": opts.Audience,
		"sub": opts.Subject,
		"jti": opts.JTI,
		"iat": opts.IssuedAt.Unix(),
		"exp": opts.ExpiresAt.Unix(),
	}
	claims[opts.ClaimNames.usernameKey()] = opts.Username
	claims[opts.ClaimNames.uidKey()] = opts.UID
	if opts.Email != "" {
		claims["email"] = opts.Email
	}
	if len(opts.IsMemberOf) > 0 {
		groups := make([]map[string]interface{}, 0, len(opts.IsMemberOf))
		for _, g := range opts.IsMemberOf {
			groups = append(groups, map[string]interface{}{"name": g.Name, "id": g.ID})
		}
		claims["isMemberOf"] = groups
	}
	if len(opts.Scopes) > 0 {
		claims["scope"] = strings.Join(opts.Scopes, " ")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = opts.KeyID

	signed, err := token.SignedString(privateKey)
	if err != nil {
		return "", apperrors.NewInternalError("failed to sign token", err)
	}
	return signed, nil
}

// DecodeUnverified parses the token's header and claims without checking
// the signature. Used only to discover (issuer, kid) before a verified
// lookup, never to make an authorization decision.
func DecodeUnverified(encoded string) (header map[string]interface{}, claims jwt.MapClaims, err error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(encoded, jwt.MapClaims{})
	if err != nil {
		return nil, nil, apperrors.NewInvalidTokenError("failed to parse token", err)
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, nil, apperrors.NewInvalidTokenError("token claims are not a map", nil)
	}
	return token.Header, mc, nil
}

// VerifyOptions parameterizes Verify.
type VerifyOptions struct {
	TrustedIssuers map[string]bool
	Audiences      map[string][]string // issuer -> acceptable audiences
	Leeway         time.Duration
	ClaimNames     ClaimNames
	Resolve        KeyResolver
}

// Verify checks the signature, issuer, audience, exp and iat of encoded and
// returns the decoded Claims. Only RS256 is accepted.
func Verify(ctx context.Context, encoded string, opts VerifyOptions) (*Claims, error) {
	header, unverified, err := DecodeUnverified(encoded)
	if err != nil {
		return nil, err
	}

	issuer, _ := unverified["iss"].(string)
	if !opts.TrustedIssuers[issuer] {
		return nil, apperrors.NewUntrustedIssuerError(fmt.Sprintf("issuer %q is not trusted", issuer), nil)
	}

	kid, _ := header["kid"].(string)
	if kid == "" {
		return nil, apperrors.NewInvalidTokenError("token header missing kid", nil)
	}

	key, err := opts.Resolve(ctx, issuer, kid)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithLeeway(opts.Leeway))
	token, err := parser.Parse(encoded, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "expired") {
			return nil, apperrors.NewExpiredError("token is expired", err)
		}
		return nil, apperrors.NewInvalidTokenError("token signature verification failed", err)
	}
	if !token.Valid {
		return nil, apperrors.NewInvalidTokenError("token is invalid", nil)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperrors.NewInvalidTokenError("token claims are not a map", nil)
	}

	if err := validateTimes(mapClaims, opts.Leeway); err != nil {
		return nil, err
	}
	if err := validateAudience(mapClaims, issuer, opts.Audiences); err != nil {
		return nil, err
	}

	return MapClaimsToClaims(mapClaims, opts.ClaimNames)
}

func validateTimes(claims jwt.MapClaims, leeway time.Duration) error {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return apperrors.NewInvalidTokenError("token missing exp claim", err)
	}
	if exp.Before(time.Now().Add(-leeway)) {
		return apperrors.NewExpiredError("token is expired", nil)
	}

	iat, err := claims.GetIssuedAt()
	if err == nil && iat != nil && iat.After(time.Now().Add(leeway)) {
		return apperrors.NewInvalidTokenError("token issued in the future", nil)
	}
	return nil
}

func validateAudience(claims jwt.MapClaims, issuer string, audiences map[string][]string) error {
	allowed := audiences[issuer]
	if len(allowed) == 0 {
		return nil
	}
	got, err := claims.GetAudience()
	if err != nil {
		return apperrors.NewWrongAudienceError("token has no audience claim", err)
	}
	for _, want := range allowed {
		for _, aud := range got {
			if aud == want {
				return nil
			}
		}
	}
	return apperrors.NewWrongAudienceError(fmt.Sprintf("audience %v not in allowed set %v", got, allowed), nil)
}

// MapClaimsToClaims projects a raw jwt.MapClaims map (already verified, or
// deliberately not, by the caller) into the Claims struct. Exported so
// callers that only ever decode_unverified (the token service's GetData,
// which never re-verifies a token it already trusts) can still get a typed Claims
// value.
func MapClaimsToClaims(mc jwt.MapClaims, names ClaimNames) (*Claims, error) {
	sub, _ := mc.GetSubject()
	if sub == "" {
		return nil, apperrors.NewInvalidTokenError("token missing sub claim", nil)
	}
	iss, _ := mc.GetIssuer()
	aud, _ := mc.GetAudience()
	audStr := ""
	if len(aud) > 0 {
		audStr = aud[0]
	}
	jti, _ := mc["jti"].(string)

	username, _ := mc[names.usernameKey()].(string)

	var uid int64
	switch v := mc[names.uidKey()].(type) {
	case float64:
		uid = int64(v)
	case string:
		uid, _ = strconv.ParseInt(v, 10, 64)
	}

	email, _ := mc["email"].(string)

	var groups []GroupRef
	if raw, ok := mc["isMemberOf"].([]interface{}); ok {
		for _, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			var id int64
			if f, ok := m["id"].(float64); ok {
				id = int64(f)
			}
			groups = append(groups, GroupRef{Name: name, ID: id})
		}
	}

	var scopes []string
	if s, ok := mc["scope"].(string); ok && s != "" {
		scopes = strings.Fields(s)
	}

	var expiresAt time.Time
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}

	return &Claims{
		Issuer:     iss,
		Audience:   audStr,
		Subject:    sub,
		JTI:        jti,
		Username:   username,
		UID:        uid,
		Email:      email,
		IsMemberOf: groups,
		Scopes:     scopes,
		ExpiresAt:  expiresAt,
		Raw:        mc,
	}, nil
}
