package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"tunnus/internal/platform/redis"
	"tunnus/pkg/platform/sentinel"
)

const (
	keyPrefix       = "tunnus:session:"
	userIndexPrefix = "tunnus:user-sessions:"
)

// RedisStore shares the session registry across instances. Expiry is
// delegated to Redis key TTLs.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, entry Entry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode session entry: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+entry.SID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store session entry: %w", err)
	}
	// Secondary index for user-wide revocation. The set may retain sids
	// whose entries have expired; DeleteByUser tolerates that.
	indexKey := userIndexPrefix + entry.UserID.String()
	if err := s.client.SAdd(ctx, indexKey, entry.SID).Err(); err != nil {
		return fmt.Errorf("index session entry: %w", err)
	}
	if err := s.client.Expire(ctx, indexKey, ttl).Err(); err != nil {
		return fmt.Errorf("expire session index: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sid string) (Entry, error) {
	payload, err := s.client.Get(ctx, keyPrefix+sid).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return Entry{}, sentinel.ErrNotFound
		}
		return Entry{}, fmt.Errorf("load session entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode session entry: %w", err)
	}
	return entry, nil
}

func (s *RedisStore) Delete(ctx context.Context, sid string) error {
	entry, err := s.Get(ctx, sid)
	if err == nil {
		indexKey := userIndexPrefix + entry.UserID.String()
		if err := s.client.SRem(ctx, indexKey, sid).Err(); err != nil {
			return fmt.Errorf("unindex session entry: %w", err)
		}
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}
	if err := s.client.Del(ctx, keyPrefix+sid).Err(); err != nil {
		return fmt.Errorf("delete session entry: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	indexKey := userIndexPrefix + userID.String()
	sids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}
	removed := 0
	for _, sid := range sids {
		count, err := s.client.Del(ctx, keyPrefix+sid).Result()
		if err != nil {
			return removed, fmt.Errorf("delete session entry: %w", err)
		}
		removed += int(count)
	}
	if err := s.client.Del(ctx, indexKey).Err(); err != nil {
		return removed, fmt.Errorf("drop session index: %w", err)
	}
	return removed, nil
}
