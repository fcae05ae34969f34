package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces session keys.
const DefaultRedisKeyPrefix = "drawbot:session:"

// RedisStore keeps sessions as JSON values under prefix+chatID.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides DefaultRedisKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires idle sessions after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// NewRedisStore wraps an existing client. The caller owns the client lifecycle.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: DefaultRedisKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// OpenRedis parses url, connects and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(id int64) string {
	return s.prefix + strconv.FormatInt(id, 10)
}

// Get loads the session for id. A missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, id int64) (*Session, bool, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get session %d: %w", id, err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, false, fmt.Errorf("decode session %d: %w", id, err)
	}
	return &sess, true, nil
}

// Set writes the session, refreshing its TTL.
func (s *RedisStore) Set(ctx context.Context, id int64, sess *Session) error {
	if sess == nil {
		return ErrNilSession
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", id, err)
	}
	if err := s.client.Set(ctx, s.key(id), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %d: %w", id, err)
	}
	return nil
}

// Clear deletes the session for id.
func (s *RedisStore) Clear(ctx context.Context, id int64) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis clear session %d: %w", id, err)
	}
	return nil
}

// Active scans the key space under the prefix and counts non-idle sessions.
func (s *RedisStore) Active(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("redis get %s: %w", iter.Val(), err)
		}
		var head struct {
			State State `json:"state"`
		}
		if json.Unmarshal(raw, &head) == nil && head.State != StateIdle {
			n++
		}
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("redis scan sessions: %w", err)
	}
	return n, nil
}
