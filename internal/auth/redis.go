package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisPendingStore is the multi-process PendingStore. Native key expiry
// replaces the in-memory store's read-time TTL check.
type RedisPendingStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisPendingStore(client *redis.Client, ttl time.Duration) *RedisPendingStore {
	return &RedisPendingStore{client: client, ttl: ttl, prefix: "pending_auth:"}
}

func (s *RedisPendingStore) key(senderID string) string {
	return s.prefix + senderID
}

func (s *RedisPendingStore) Get(ctx context.Context, senderID string) (PendingEntry, bool, error) {
	raw, err := s.client.Get(ctx, s.key(senderID)).Bytes()
	if err == redis.Nil {
		return PendingEntry{}, false, nil
	}
	if err != nil {
		return PendingEntry{}, false, errors.Wrap(err, "failed to read pending auth entry")
	}
	var e PendingEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return PendingEntry{}, false, errors.Wrap(err, "failed to decode pending auth entry")
	}
	return e, true, nil
}

func (s *RedisPendingStore) Set(ctx context.Context, senderID string, entry PendingEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode pending auth entry")
	}
	if err := s.client.Set(ctx, s.key(senderID), encoded, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to write pending auth entry")
	}
	return nil
}

func (s *RedisPendingStore) Clear(ctx context.Context, senderID string) error {
	if err := s.client.Del(ctx, s.key(senderID)).Err(); err != nil {
		return errors.Wrap(err, "failed to clear pending auth entry")
	}
	return nil
}
