// Package store implements the session/token store component: it persists
// token metadata and the handle-key → record mapping in a key-value store
// with TTLs. It never verifies signatures or makes authorization
// decisions; it is pure storage.
package store

import (
	"context"
	"errors"
	"time"
)

// Record is the stored form of a token, keyed by JTI.
type Record struct {
	JTI        string    `json:"jti"`
	Type       string    `json:"type"`
	Name       string    `json:"name,omitempty"`
	ParentJTI  string    `json:"parent_jti,omitempty"`
	Service    string    `json:"service,omitempty"`
	Username   string    `json:"username"`
	UID        int64     `json:"uid"`
	Scopes     []string  `json:"scopes"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	ClaimsBlob []byte    `json:"claims_blob"`
	SecretHash string    `json:"secret_hash"`
}

// Expired reports whether r's TTL has elapsed as of now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// ErrNotFound is returned when a lookup key has no record, whether because
// it never existed, was revoked, or expired.
var ErrNotFound = errors.New("store: record not found")

// Store is the session/token store's operation set. Implementations must
// never return an expired record as a success. Stores do not check handle
// secrets; the token service compares SecretHash itself.
type Store interface {
	// Put persists record, keyed by record.JTI, replacing any prior record
	// for that JTI, and indexes it under record.Username for List.
	Put(ctx context.Context, record *Record) error

	// Get returns the record stored under jti. Returns ErrNotFound if
	// absent, revoked, or expired.
	Get(ctx context.Context, jti string) (*Record, error)

	// List returns every live record for username, filtering out expired
	// entries it happens to observe; it provides no stronger consistency
	// than "eventually reflects revokes and expiry".
	List(ctx context.Context, username string) ([]*Record, error)

	// Revoke deletes the record for jti. Reports whether a record existed.
	// Idempotent: revoking an absent jti is not an error.
	Revoke(ctx context.Context, jti string) (existed bool, err error)

	// PutInternalMapping records that (parentJTI, service, sortedScopes)
	// currently resolves to childJTI, with the given TTL.
	PutInternalMapping(ctx context.Context, parentJTI, service, sortedScopes, childJTI string, ttl time.Duration) error

	// GetInternalMapping returns the child JTI cached for
	// (parentJTI, service, sortedScopes), or ErrNotFound.
	GetInternalMapping(ctx context.Context, parentJTI, service, sortedScopes string) (string, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error
}
