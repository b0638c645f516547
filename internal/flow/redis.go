package flow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisStore is the multi-process Store, for deployments running more
// than one event-service process behind the inbound endpoint.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: "flow:"}
}

func (s *RedisStore) key(k Key) string {
	return s.prefix + k.ChatID + ":" + k.SenderID
}

func (s *RedisStore) Get(ctx context.Context, key Key) (State, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, errors.Wrap(err, "failed to read flow state")
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, errors.Wrap(err, "failed to decode flow state")
	}
	return st, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, state State) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to encode flow state")
	}
	if err := s.client.Set(ctx, s.key(key), encoded, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to write flow state")
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Wrap(err, "failed to clear flow state")
	}
	return nil
}
