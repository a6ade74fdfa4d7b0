// Package tokens implements the central token service: it issues,
// reissues, derives, revokes, and looks up tokens of every type the data
// model defines, enforcing scope and lifetime rules, consulting the
// store, handle codec, token codec, and JWKS cache components to do so.
package tokens

import (
	"container/list"
	"context"
	"crypto/rsa"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sclera-labs/authgate/pkg/apperrors"
	"github.com/sclera-labs/authgate/pkg/authcore/handle"
	"github.com/sclera-labs/authgate/pkg/authcore/jwks"
	"github.com/sclera-labs/authgate/pkg/authcore/store"
	"github.com/sclera-labs/authgate/pkg/authcore/tokencodec"
)

// Token types, per the data model.
const (
	TypeSession  = "session"
	TypeUser     = "user"
	TypeInternal = "internal"
	TypeNotebook = "notebook"
	TypeService  = "service"
)

// MinimumLifetime is the floor on any explicitly-TTL'd token; deriving an
// internal/notebook token fails when the parent has less than this left.
const MinimumLifetime = 300 * time.Second

// internalCacheCapacity bounds the in-memory internal-token dedup cache.
const internalCacheCapacity = 10000

// UserInfo describes the authenticated identity a session token is
// minted for, typically the result of an upstream OIDC login.
type UserInfo struct {
	Username   string
	UID        int64
	Email      string
	IsMemberOf []tokencodec.GroupRef
}

// ParentData is the decoded claim set of the token a derived (user,
// internal, notebook) token operation is acting on behalf of.
type ParentData struct {
	JTI       string
	Username  string
	UID       int64
	Email     string
	Scopes    []string
	ExpiresAt time.Time
	IsAdmin   bool
	IsMemberOf []tokencodec.GroupRef
}

// CreateUserTokenRequest is the caller-supplied body of a user token
// creation request.
type CreateUserTokenRequest struct {
	Username  string // target username; may differ from the actor's
	TokenName string
	Scopes    []string
	Expires   time.Time
}

// Config parameterizes Service.
type Config struct {
	Issuer           string
	Audience         string
	InternalAudience string
	HandlePrefix     string
	SessionTTL       time.Duration
	ClaimNames       tokencodec.ClaimNames
	TrustedIssuers   map[string]bool // for VerifyUpstream
	UpstreamAudiences map[string][]string
	Leeway           time.Duration

	// KnownScopes is the closed set of scope names a user-created token may
	// reference, per the data model's KNOWN_SCOPES. The reserved
	// "admin:token" and "user:token" scopes are always permitted in
	// addition to this set.
	KnownScopes map[string]string
}

// reservedScopes are always valid regardless of the configured
// KnownScopes set, per the data model's "plus reserved admin:token and
// user:token" clause.
var reservedScopes = map[string]bool{
	"admin:token": true,
	"user:token":  true,
}

// knownScope reports whether scope is in the configured KnownScopes set
// or is one of the reserved scopes.
func (s *Service) knownScope(scope string) bool {
	if reservedScopes[scope] {
		return true
	}
	_, ok := s.cfg.KnownScopes[scope]
	return ok
}

// Service is the token service: the sole writer of Store records and the
// sole minter of signed tokens.
type Service struct {
	cfg        Config
	store      store.Store
	jwksCache  *jwks.Cache
	signingKey *rsa.PrivateKey

	sf           singleflight.Group
	internalLRU  *list.List
	internalElem map[string]*list.Element
	internalMu   sync.Mutex
}

type internalCacheEntry struct {
	fingerprint string
	handleKey   string
}

// NewService builds a Service. signingKey is the process-wide RS256
// keypair used to sign every token this service issues.
func NewService(cfg Config, st store.Store, jwksCache *jwks.Cache, signingKey *rsa.PrivateKey) *Service {
	return &Service{
		cfg:          cfg,
		store:        st,
		jwksCache:    jwksCache,
		signingKey:   signingKey,
		internalLRU:  list.New(),
		internalElem: make(map[string]*list.Element),
	}
}

// issue signs a new token for the given claims, persists its record, and
// returns the handle that references it.
func (s *Service) issue(ctx context.Context, tokenType, name, parentJTI, service, username string, uid int64, email string, groups []tokencodec.GroupRef, scopes []string, ttl time.Duration) (handle.Handle, string, error) {
	jti := uuid.NewString()
	now := time.Now()
	expiresAt := now.Add(ttl)

	aud := s.cfg.Audience
	if tokenType == TypeInternal {
		aud = s.cfg.InternalAudience
	}

	encoded, err := tokencodec.Sign(tokencodec.SignOptions{
		Issuer:     s.cfg.Issuer,
		Audience:   aud,
		Subject:    username,
		JTI:        jti,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
		Username:   username,
		UID:        uid,
		Email:      email,
		IsMemberOf: groups,
		Scopes:     scopes,
		KeyID:      s.cfg.Issuer,
		ClaimNames: s.cfg.ClaimNames,
	}, s.signingKey)
	if err != nil {
		return handle.Handle{}, "", err
	}

	h, err := handle.Generate(s.cfg.HandlePrefix)
	if err != nil {
		return handle.Handle{}, "", err
	}

	record := &store.Record{
		JTI:        jti,
		Type:       tokenType,
		Name:       name,
		ParentJTI:  parentJTI,
		Service:    service,
		Username:   username,
		UID:        uid,
		Scopes:     scopes,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		ClaimsBlob: []byte(encoded),
		SecretHash: handle.HashSecret(h.Secret),
	}
	if err := s.store.Put(ctx, record); err != nil {
		return handle.Handle{}, "", err
	}

	// h.Key doubles as the handle's store lookup key and the JTI, so Get
	// can resolve directly without a secondary index.
	h.Key = jti
	return h, jti, nil
}

// CreateSessionToken mints a fresh session token for info, with the given
// scopes, and persists it with the configured session TTL.
func (s *Service) CreateSessionToken(ctx context.Context, info UserInfo, scopes []string, _ string) (handle.Handle, error) {
	h, _, err := s.issue(ctx, TypeSession, "", "", "", info.Username, info.UID, info.Email, info.IsMemberOf, scopes, s.cfg.SessionTTL)
	return h, err
}

// CreateUserToken mints a user-created, explicitly-TTL'd token on behalf
// of req.Username. The actor (described by parent) must own req.Username
// or be an admin; req.Scopes must be a subset of parent's scopes unless
// the actor is an admin; req.Expires must leave at least MinimumLifetime.
func (s *Service) CreateUserToken(ctx context.Context, parent ParentData, req CreateUserTokenRequest, _ string) (handle.Handle, error) {
	if parent.Username != req.Username && !parent.IsAdmin {
		return handle.Handle{}, apperrors.NewPermissionDeniedError("only the token owner or an admin may create this token", nil)
	}
	if !parent.IsAdmin && !scopesSubsetOf(req.Scopes, parent.Scopes) {
		return handle.Handle{}, apperrors.NewPermissionDeniedError("requested scopes exceed the actor's own scopes", nil)
	}
	for _, scope := range req.Scopes {
		if !s.knownScope(scope) {
			return handle.Handle{}, apperrors.NewValidationError(fmt.Sprintf("scope %q is not a known scope", scope), nil)
		}
	}

	ttl := time.Until(req.Expires)
	if ttl < MinimumLifetime {
		return handle.Handle{}, apperrors.NewValidationError("token lifetime is below the minimum allowed", nil)
	}

	h, _, err := s.issue(ctx, TypeUser, req.TokenName, "", "", req.Username, parent.UID, parent.Email, parent.IsMemberOf, req.Scopes, ttl)
	return h, err
}

// GetInternalToken returns a machine-to-machine token derived from
// parent, scoped to service, idempotently for identical
// (parent_jti, service, sorted(scopes)) tuples while cached.
func (s *Service) GetInternalToken(ctx context.Context, parent ParentData, service string, scopes []string, ip string) (handle.Handle, error) {
	return s.getDerivedToken(ctx, TypeInternal, parent, service, scopes, ip)
}

// GetNotebookToken returns a session-scoped child token carrying the
// parent's full scope, marked as a notebook token.
func (s *Service) GetNotebookToken(ctx context.Context, parent ParentData, ip string) (handle.Handle, error) {
	return s.getDerivedToken(ctx, TypeNotebook, parent, "notebook", parent.Scopes, ip)
}

func (s *Service) getDerivedToken(ctx context.Context, tokenType string, parent ParentData, service string, scopes []string, _ string) (handle.Handle, error) {
	ttl := time.Until(parent.ExpiresAt)
	if ttl < MinimumLifetime {
		return handle.Handle{}, apperrors.NewInsufficientLifetimeError("parent token does not have enough remaining lifetime to derive a child token", nil)
	}

	fingerprint := parent.JTI + ":" + service + ":" + sortedScopes(scopes)

	if cachedJTI, ok := s.internalCacheGet(fingerprint); ok {
		if existing, err := s.store.Get(ctx, cachedJTI); err == nil {
			return handle.Handle{Prefix: s.cfg.HandlePrefix, Key: existing.JTI}, nil
		}
	}

	result, err, _ := s.sf.Do(fingerprint, func() (interface{}, error) {
		if cachedJTI, err := s.store.GetInternalMapping(ctx, parent.JTI, service, sortedScopes(scopes)); err == nil {
			if existing, err := s.store.Get(ctx, cachedJTI); err == nil {
				return existing, nil
			}
		}

		h, jti, err := s.issue(ctx, tokenType, "", parent.JTI, service, parent.Username, parent.UID, parent.Email, parent.IsMemberOf, scopes, ttl)
		if err != nil {
			return nil, err
		}
		if err := s.store.PutInternalMapping(ctx, parent.JTI, service, sortedScopes(scopes), jti, ttl); err != nil {
			return nil, err
		}
		s.internalCachePut(fingerprint, jti)
		return h, nil
	})
	if err != nil {
		return handle.Handle{}, err
	}

	switch v := result.(type) {
	case handle.Handle:
		return v, nil
	case *store.Record:
		return handle.Handle{Prefix: s.cfg.HandlePrefix, Key: v.JTI}, nil
	default:
		return handle.Handle{}, apperrors.NewInternalError("unexpected derived token result type", nil)
	}
}

// GetData resolves h via the store and returns its decoded claim set. An
// absent or expired record yields the store's error; a non-empty secret
// that does not match yields Unauthenticated. It performs no network I/O.
func (s *Service) GetData(ctx context.Context, h handle.Handle) (*tokencodec.Claims, error) {
	record, err := s.store.Get(ctx, h.Key)
	if err != nil {
		return nil, err
	}
	if !handle.SecretMatches(handle.HashSecret(h.Secret), record.SecretHash) && h.Secret != "" {
		return nil, apperrors.NewUnauthenticatedError("handle secret does not match stored record", nil)
	}

	_, claims, err := tokencodec.DecodeUnverified(string(record.ClaimsBlob))
	if err != nil {
		return nil, err
	}
	decoded, err := tokencodec.MapClaimsToClaims(claims, s.cfg.ClaimNames)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// Store exposes the underlying token store for callers (the gateway's
// token metadata endpoints) that need to list or inspect records the
// service itself has no listing API for.
func (s *Service) Store() store.Store {
	return s.store
}

// EncodedToken returns the raw signed JWT stored for h, for callers (the
// decision engine) that must forward the bearer token itself upstream
// rather than the opaque handle.
func (s *Service) EncodedToken(ctx context.Context, h handle.Handle) (string, error) {
	record, err := s.store.Get(ctx, h.Key)
	if err != nil {
		return "", err
	}
	return string(record.ClaimsBlob), nil
}

// Revoke deletes the record h references. It records no history entry;
// the actor and ip arguments are unused. It is idempotent and reports
// whether a record existed.
func (s *Service) Revoke(ctx context.Context, h handle.Handle, _ string, _ string) (bool, error) {
	return s.store.Revoke(ctx, h.Key)
}

// VerifyUpstream decodes encoded, fetches its signing key via the JWKS
// cache, verifies it, and materializes the result into a new session
// token: every token this service hands back out carries our own
// signature, never an upstream one.
func (s *Service) VerifyUpstream(ctx context.Context, encoded string) (handle.Handle, error) {
	claims, err := tokencodec.Verify(ctx, encoded, tokencodec.VerifyOptions{
		TrustedIssuers: s.cfg.TrustedIssuers,
		Audiences:      s.cfg.UpstreamAudiences,
		Leeway:         s.cfg.Leeway,
		ClaimNames:     s.cfg.ClaimNames,
		Resolve:        s.jwksCache.Lookup,
	})
	if err != nil {
		return handle.Handle{}, err
	}

	info := UserInfo{
		Username:   claims.Username,
		UID:        claims.UID,
		Email:      claims.Email,
		IsMemberOf: claims.IsMemberOf,
	}
	return s.CreateSessionToken(ctx, info, claims.Scopes, "")
}

func scopesSubsetOf(requested, allowed []string) bool {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowedSet[s]; !ok {
			return false
		}
	}
	return true
}

func sortedScopes(scopes []string) string {
	cp := append([]string(nil), scopes...)
	sort.Strings(cp)
	return strings.Join(cp, " ")
}

func (s *Service) internalCacheGet(fingerprint string) (string, bool) {
	s.internalMu.Lock()
	defer s.internalMu.Unlock()

	elem, ok := s.internalElem[fingerprint]
	if !ok {
		return "", false
	}
	s.internalLRU.MoveToFront(elem)
	return elem.Value.(internalCacheEntry).handleKey, true
}

func (s *Service) internalCachePut(fingerprint, handleKey string) {
	s.internalMu.Lock()
	defer s.internalMu.Unlock()

	if elem, ok := s.internalElem[fingerprint]; ok {
		s.internalLRU.MoveToFront(elem)
		elem.Value = internalCacheEntry{fingerprint: fingerprint, handleKey: handleKey}
		return
	}

	elem := s.internalLRU.PushFront(internalCacheEntry{fingerprint: fingerprint, handleKey: handleKey})
	s.internalElem[fingerprint] = elem

	for s.internalLRU.Len() > internalCacheCapacity {
		oldest := s.internalLRU.Back()
		if oldest == nil {
			break
		}
		s.internalLRU.Remove(oldest)
		delete(s.internalElem, oldest.Value.(internalCacheEntry).fingerprint)
	}
}
