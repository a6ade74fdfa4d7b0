package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sclera-labs/authgate/pkg/apperrors"
)

// RedisStore is a Store backed by Redis, using the key layout:
//
//	{prefix}token:{jti}                                   -> JSON record
//	{prefix}tokens-for-user:{username}                    -> set of jti
//	{prefix}internal-token:{parent_jti}:{service}:{scopes} -> jti mapping
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore dials addr and returns a RedisStore using keyPrefix for
// every key it touches.
func NewRedisStore(ctx context.Context, addr, keyPrefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	s := NewRedisStoreWithClient(client, keyPrefix)
	if err := s.Ping(ctx); err != nil {
		return nil, apperrors.NewStorageError("failed to connect to redis", err)
	}
	return s, nil
}

// NewRedisStoreWithClient wraps an already-configured *redis.Client,
// letting callers supply sentinel/cluster/TLS options directly.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) tokenKey(jti string) string {
	return s.keyPrefix + "token:" + jti
}

func (s *RedisStore) userKey(username string) string {
	return s.keyPrefix + "tokens-for-user:" + username
}

func (s *RedisStore) internalKey(parentJTI, service, sortedScopes string) string {
	return s.keyPrefix + "internal-token:" + parentJTI + ":" + service + ":" + sortedScopes
}

func (s *RedisStore) Put(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal token record", err)
	}

	ttl := time.Until(record.ExpiresAt)
	if record.ExpiresAt.IsZero() {
		ttl = 0
	}

	pipe := s.client.TxPipeline()
	if ttl > 0 {
		pipe.Set(ctx, s.tokenKey(record.JTI), data, ttl)
	} else {
		pipe.Set(ctx, s.tokenKey(record.JTI), data, 0)
	}
	pipe.SAdd(ctx, s.userKey(record.Username), record.JTI)
	if ttl > 0 {
		pipe.Expire(ctx, s.userKey(record.Username), extendedTTL(ctx, s.client, s.userKey(record.Username), ttl))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewStorageError("failed to store token record", err)
	}
	return nil
}

// extendedTTL returns whichever is larger: candidate, or the key's current
// remaining TTL, so the per-user set's lifetime always covers its longest
// lived member.
func extendedTTL(ctx context.Context, client *redis.Client, key string, candidate time.Duration) time.Duration {
	current, err := client.TTL(ctx, key).Result()
	if err != nil || current < 0 {
		return candidate
	}
	if current > candidate {
		return current
	}
	return candidate
}

func (s *RedisStore) Get(ctx context.Context, jti string) (*Record, error) {
	data, err := s.client.Get(ctx, s.tokenKey(jti)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewStorageError("failed to fetch token record", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, apperrors.NewInternalError("failed to unmarshal token record", err)
	}
	if record.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (s *RedisStore) List(ctx context.Context, username string) ([]*Record, error) {
	jtis, err := s.client.SMembers(ctx, s.userKey(username)).Result()
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list tokens for user", err)
	}

	result := make([]*Record, 0, len(jtis))
	for _, jti := range jtis {
		record, err := s.Get(ctx, jti)
		if errors.Is(err, ErrNotFound) {
			s.client.SRem(ctx, s.userKey(username), jti)
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, nil
}

func (s *RedisStore) Revoke(ctx context.Context, jti string) (bool, error) {
	record, err := s.Get(ctx, jti)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.tokenKey(jti))
	pipe.SRem(ctx, s.userKey(record.Username), jti)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, apperrors.NewStorageError("failed to revoke token record", err)
	}
	return true, nil
}

func (s *RedisStore) PutInternalMapping(ctx context.Context, parentJTI, service, sortedScopes, childJTI string, ttl time.Duration) error {
	key := s.internalKey(parentJTI, service, sortedScopes)
	if err := s.client.Set(ctx, key, childJTI, ttl).Err(); err != nil {
		return apperrors.NewStorageError("failed to store internal token mapping", err)
	}
	return nil
}

func (s *RedisStore) GetInternalMapping(ctx context.Context, parentJTI, service, sortedScopes string) (string, error) {
	key := s.internalKey(parentJTI, service, sortedScopes)
	childJTI, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", apperrors.NewStorageError("failed to fetch internal token mapping", err)
	}
	return childJTI, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("redis ping failed for %s", s.keyPrefix), err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
