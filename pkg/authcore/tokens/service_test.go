package tokens

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sclera-labs/authgate/pkg/authcore/handle"
	"github.com/sclera-labs/authgate/pkg/authcore/store"
)

// countingStore wraps a Store and counts Put/PutInternalMapping calls, so
// a concurrency test can assert exactly one store write happened across a
// fan-out of racing callers.
type countingStore struct {
	store.Store
	puts        atomic.Int64
	mappingPuts atomic.Int64
}

func (c *countingStore) Put(ctx context.Context, record *store.Record) error {
	c.puts.Add(1)
	return c.Store.Put(ctx, record)
}

func (c *countingStore) PutInternalMapping(ctx context.Context, parentJTI, service, sortedScopes, childJTI string, ttl time.Duration) error {
	c.mappingPuts.Add(1)
	return c.Store.PutInternalMapping(ctx, parentJTI, service, sortedScopes, childJTI, ttl)
}

func testService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	cfg := Config{
		Issuer:           "https://gateway.example.com",
		Audience:         "https://gateway.example.com",
		InternalAudience: "https://internal.gateway.example.com",
		HandlePrefix:     "authgate",
		SessionTTL:       time.Hour,
		KnownScopes:      map[string]string{"read:all": "read everything", "exec:notebook": "run a notebook"},
	}
	return NewService(cfg, st, nil, priv), st
}

func TestCreateSessionToken_ThenGetData(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	h, err := svc.CreateSessionToken(ctx, UserInfo{Username: "alice", UID: 1, Email: "alice@example.com"}, []string{"read:all"}, "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "authgate", h.Prefix)

	claims, err := svc.GetData(ctx, h)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
	require.True(t, claims.HasScope("read:all"))
}

func TestCreateUserToken_OwnerCanCreate(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	parent := ParentData{JTI: "parent-1", Username: "alice", Scopes: []string{"read:all", "exec:notebook"}, ExpiresAt: time.Now().Add(time.Hour)}
	req := CreateUserTokenRequest{Username: "alice", TokenName: "my-token", Scopes: []string{"read:all"}, Expires: time.Now().Add(time.Hour)}

	h, err := svc.CreateUserToken(ctx, parent, req, "127.0.0.1")
	require.NoError(t, err)

	claims, err := svc.GetData(ctx, h)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
}

func TestCreateUserToken_RejectsNonOwnerNonAdmin(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	parent := ParentData{JTI: "parent-1", Username: "alice", Scopes: []string{"read:all"}, ExpiresAt: time.Now().Add(time.Hour)}
	req := CreateUserTokenRequest{Username: "bob", Scopes: []string{"read:all"}, Expires: time.Now().Add(time.Hour)}

	_, err := svc.CreateUserToken(ctx, parent, req, "127.0.0.1")
	require.Error(t, err)
}

func TestCreateUserToken_AdminCanActForOthers(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	parent := ParentData{JTI: "parent-1", Username: "admin", Scopes: []string{"admin:token"}, ExpiresAt: time.Now().Add(time.Hour), IsAdmin: true}
	req := CreateUserTokenRequest{Username: "bob", Scopes: []string{"read:all"}, Expires: time.Now().Add(time.Hour)}

	h, err := svc.CreateUserToken(ctx, parent, req, "127.0.0.1")
	require.NoError(t, err)

	claims, err := svc.GetData(ctx, h)
	require.NoError(t, err)
	require.Equal(t, "bob", claims.Username)
}

func TestCreateUserToken_RejectsScopeEscalation(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	parent := ParentData{JTI: "parent-1", Username: "alice", Scopes: []string{"read:all"}, ExpiresAt: time.Now().Add(time.Hour)}
	req := CreateUserTokenRequest{Username: "alice", Scopes: []string{"read:all", "admin:token"}, Expires: time.Now().Add(time.Hour)}

	_, err := svc.CreateUserToken(ctx, parent, req, "127.0.0.1")
	require.Error(t, err)
}

func TestCreateUserToken_RejectsShortLifetime(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	parent := ParentData{JTI: "parent-1", Username: "alice", Scopes: []string{"read:all"}, ExpiresAt: time.Now().Add(time.Hour)}
	req := CreateUserTokenRequest{Username: "alice", Scopes: []string{"read:all"}, Expires: time.Now().Add(time.Second)}

	_, err := svc.CreateUserToken(ctx, parent, req, "127.0.0.1")
	require.Error(t, err)
}

func TestCreateUserToken_RejectsUnknownScope(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	parent := ParentData{JTI: "parent-1", Username: "alice", Scopes: []string{"read:all", "made:up"}, ExpiresAt: time.Now().Add(time.Hour)}
	req := CreateUserTokenRequest{Username: "alice", Scopes: []string{"made:up"}, Expires: time.Now().Add(time.Hour)}

	_, err := svc.CreateUserToken(ctx, parent, req, "127.0.0.1")
	require.Error(t, err)
}

func TestGetInternalToken_IsIdempotentForSameFingerprint(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	parent := ParentData{JTI: "parent-1", Username: "alice", Scopes: []string{"read:all"}, ExpiresAt: time.Now().Add(time.Hour)}

	h1, err := svc.GetInternalToken(ctx, parent, "cutout-service", []string{"read:all"}, "127.0.0.1")
	require.NoError(t, err)
	h2, err := svc.GetInternalToken(ctx, parent, "cutout-service", []string{"read:all"}, "127.0.0.1")
	require.NoError(t, err)

	require.Equal(t, h1.Key, h2.Key, "identical (parent, service, scopes) tuples should resolve to the same underlying token")
}

func TestGetInternalToken_DifferentServiceProducesDifferentToken(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	parent := ParentData{JTI: "parent-1", Username: "alice", Scopes: []string{"read:all"}, ExpiresAt: time.Now().Add(time.Hour)}

	h1, err := svc.GetInternalToken(ctx, parent, "service-a", []string{"read:all"}, "127.0.0.1")
	require.NoError(t, err)
	h2, err := svc.GetInternalToken(ctx, parent, "service-b", []string{"read:all"}, "127.0.0.1")
	require.NoError(t, err)

	require.NotEqual(t, h1.Key, h2.Key)
}

func TestGetInternalToken_ConcurrentCallsShareOneJTI(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cs := &countingStore{Store: store.NewMemoryStore()}
	cfg := Config{
		Issuer:           "https://gateway.example.com",
		Audience:         "https://gateway.example.com",
		InternalAudience: "https://internal.gateway.example.com",
		HandlePrefix:     "authgate",
		SessionTTL:       time.Hour,
		KnownScopes:      map[string]string{"read:all": "read everything"},
	}
	svc := NewService(cfg, cs, nil, priv)

	parent := ParentData{JTI: "parent-1", Username: "alice", Scopes: []string{"read:all"}, ExpiresAt: time.Now().Add(time.Hour)}

	const fanOut = 32
	results := make([]handle.Handle, fanOut)

	var g errgroup.Group
	for i := 0; i < fanOut; i++ {
		i := i
		g.Go(func() error {
			h, err := svc.GetInternalToken(context.Background(), parent, "cutout-service", []string{"read:all"}, "127.0.0.1")
			if err != nil {
				return err
			}
			results[i] = h
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := 1; i < fanOut; i++ {
		require.Equal(t, results[0].Key, results[i].Key, "every concurrent call for the same fingerprint must resolve to the same jti")
	}
	require.Equal(t, int64(1), cs.puts.Load(), "exactly one token record should have been minted across the race")
	require.Equal(t, int64(1), cs.mappingPuts.Load(), "exactly one internal-token mapping should have been written across the race")
}

func TestGetInternalToken_InsufficientLifetime(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	parent := ParentData{JTI: "parent-1", Username: "alice", Scopes: []string{"read:all"}, ExpiresAt: time.Now().Add(time.Second)}

	_, err := svc.GetInternalToken(ctx, parent, "cutout-service", []string{"read:all"}, "127.0.0.1")
	require.Error(t, err)
}

func TestGetNotebookToken_CarriesFullParentScope(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	parent := ParentData{JTI: "parent-1", Username: "alice", Scopes: []string{"read:all", "exec:notebook"}, ExpiresAt: time.Now().Add(time.Hour)}

	h, err := svc.GetNotebookToken(ctx, parent, "127.0.0.1")
	require.NoError(t, err)

	claims, err := svc.GetData(ctx, h)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"read:all", "exec:notebook"}, claims.Scopes)
}

func TestRevoke_IsIdempotent(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	h, err := svc.CreateSessionToken(ctx, UserInfo{Username: "alice"}, nil, "127.0.0.1")
	require.NoError(t, err)

	existed, err := svc.Revoke(ctx, h, "alice", "127.0.0.1")
	require.NoError(t, err)
	require.True(t, existed)

	_, err = svc.GetData(ctx, h)
	require.Error(t, err)

	existed, err = svc.Revoke(ctx, h, "alice", "127.0.0.1")
	require.NoError(t, err)
	require.False(t, existed)
}

func TestGetData_UnknownHandle(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	_, err := svc.GetData(ctx, handle.Handle{Prefix: svc.cfg.HandlePrefix, Key: "does-not-exist", Secret: "x"})
	require.Error(t, err)
}
