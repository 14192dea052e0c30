package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "evdms:session:"

// RedisStorage keeps the durable mirror in Redis under a per-device namespace.
type RedisStorage struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewRedisStorage constructs the storage. ttl bounds how long an abandoned
// mirror survives; zero keeps keys forever.
func NewRedisStorage(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, namespace: namespace, ttl: ttl}
}

func (s *RedisStorage) key(k string) string {
	return redisKeyPrefix + s.namespace + ":" + k
}

// Get returns the value stored under key.
func (s *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetMany writes all values in one MULTI/EXEC block.
func (s *RedisStorage) SetMany(ctx context.Context, values map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, s.key(k), v, s.ttl)
		}
		return nil
	})
	return err
}

// Delete removes keys.
func (s *RedisStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// RedisBroadcaster fans signals out over Redis pub/sub so execution contexts
// in other processes observe them.
type RedisBroadcaster struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// NewRedisBroadcaster constructs a broadcaster on the namespace channel.
func NewRedisBroadcaster(client redis.UniversalClient, namespace string, logger *slog.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroadcaster{client: client, channel: redisKeyPrefix + namespace + ":events", logger: logger}
}

// Publish sends sig on the channel.
func (b *RedisBroadcaster) Publish(ctx context.Context, sig Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe confirms the subscription before returning, then delivers
// signals from a background goroutine until unsubscribed.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, fn func(Signal)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var sig Signal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				b.logger.Warn("discarding malformed session signal", slog.String("channel", b.channel), slog.Any("error", err))
				continue
			}
			fn(sig)
		}
	}()

	return func() {
		_ = pubsub.Close()
		<-done
	}, nil
}
