package admin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sclera-labs/authgate/pkg/apperrors"
)

// RedisStore is a Store backed by Redis. The roster is a Set; history is
// an append-only List, never trimmed.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStoreWithClient wraps an already-configured *redis.Client.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) rosterKey() string {
	return s.keyPrefix + "admins"
}

func (s *RedisStore) historyKey() string {
	return s.keyPrefix + "admin-history"
}

func (s *RedisStore) IsAdmin(ctx context.Context, username string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.rosterKey(), username).Result()
	if err != nil {
		return false, apperrors.NewStorageError("failed to check admin roster", err)
	}
	return ok, nil
}

func (s *RedisStore) Add(ctx context.Context, username, actor, ip string) error {
	isAdmin, err := s.IsAdmin(ctx, username)
	if err != nil {
		return err
	}
	if isAdmin {
		return nil
	}
	return s.appendTransactional(ctx, Event{Username: username, Action: ActionAdd, Actor: actor, IP: ip, EventTime: time.Now().UTC()}, func(pipe redis.Pipeliner) {
		pipe.SAdd(ctx, s.rosterKey(), username)
	})
}

func (s *RedisStore) Remove(ctx context.Context, username, actor, ip string) error {
	isAdmin, err := s.IsAdmin(ctx, username)
	if err != nil {
		return err
	}
	if !isAdmin {
		return ErrNotAdmin
	}
	return s.appendTransactional(ctx, Event{Username: username, Action: ActionRemove, Actor: actor, IP: ip, EventTime: time.Now().UTC()}, func(pipe redis.Pipeliner) {
		pipe.SRem(ctx, s.rosterKey(), username)
	})
}

// appendTransactional wraps a roster mutation and its history entry in a
// single pipelined transaction: either both persist, or neither does.
func (s *RedisStore) appendTransactional(ctx context.Context, event Event, mutateRoster func(redis.Pipeliner)) error {
	data, err := json.Marshal(event)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal admin history event", err)
	}

	pipe := s.client.TxPipeline()
	mutateRoster(pipe)
	pipe.RPush(ctx, s.historyKey(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewStorageError("failed to persist admin roster change", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.rosterKey()).Result()
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list admin roster", err)
	}
	return members, nil
}

func (s *RedisStore) History(ctx context.Context) ([]Event, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(), 0, -1).Result()
	if err != nil {
		return nil, apperrors.NewStorageError("failed to fetch admin history", err)
	}

	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		var e Event
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, apperrors.NewInternalError("failed to unmarshal admin history event", err)
		}
		events = append(events, e)
	}
	return events, nil
}
