package wait

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const incrementAttempts = 5

// RedisStore keeps descriptors in a shared Redis so every gateway replica
// sees the same waits.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisStore connects to the Redis at opts.Address.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreWithClient(client, opts.TTL)
}

// NewRedisStoreWithClient wraps an existing client. A non-positive ttl uses
// DefaultTTL.
func NewRedisStoreWithClient(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, d Descriptor) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode wait descriptor: %w", err)
	}

	suggestions := d.Suggestions()
	entries := make([]any, 0, len(suggestions))
	for _, suggestion := range suggestions {
		encoded, err := json.Marshal(suggestion)
		if err != nil {
			return fmt.Errorf("encode suggestion: %w", err)
		}
		entries = append(entries, encoded)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, DescriptorKey(sessionID, d.Variable), payload, s.ttl)
		if len(entries) > 0 {
			key := SuggestionsKey(sessionID)
			pipe.RPush(ctx, key, entries...)
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store wait descriptor: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID, variable string) (Descriptor, error) {
	return getDescriptor(ctx, s.client, DescriptorKey(sessionID, variable))
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getDescriptor(ctx context.Context, getter stringGetter, key string) (Descriptor, error) {
	payload, err := getter.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Descriptor{}, ErrNotFound
	}
	if err != nil {
		return Descriptor{}, fmt.Errorf("load wait descriptor: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return Descriptor{}, fmt.Errorf("decode wait descriptor: %w", err)
	}
	return d, nil
}

func (s *RedisStore) IncrementRetry(ctx context.Context, sessionID, variable string) (Descriptor, error) {
	key := DescriptorKey(sessionID, variable)

	var updated Descriptor
	txn := func(tx *redis.Tx) error {
		d, err := getDescriptor(ctx, tx, key)
		if err != nil {
			return err
		}
		d.RetryCount++

		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode wait descriptor: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, payload, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		updated = d
		return nil
	}

	for attempt := 0; attempt < incrementAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Descriptor{}, err
		}
		return updated, nil
	}
	return Descriptor{}, fmt.Errorf("increment retry for %s: too much contention", key)
}

func (s *RedisStore) Delete(ctx context.Context, sessionID, variable string) (bool, error) {
	removed, err := s.client.Del(ctx, DescriptorKey(sessionID, variable)).Result()
	if err != nil {
		return false, fmt.Errorf("delete wait descriptor: %w", err)
	}
	return removed > 0, nil
}

func (s *RedisStore) TakeSuggestions(ctx context.Context, sessionID string) ([]Suggestion, error) {
	key := SuggestionsKey(sessionID)

	var values *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		values = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("take suggestions: %w", err)
	}

	raw := values.Val()
	suggestions := make([]Suggestion, 0, len(raw))
	for _, item := range raw {
		var suggestion Suggestion
		if err := json.Unmarshal([]byte(item), &suggestion); err != nil {
			return nil, fmt.Errorf("decode suggestion: %w", err)
		}
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
