package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a read-through layer in front of another Store. Postgres
// stays the record of truth; redis errors only cost a round trip to it.
type RedisStore struct {
	client *redis.Client
	next   Store
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore keeps entries for ttl, which should be at least the cache TTL
// so stale fallbacks can still be served from redis.
func NewRedisStore(client *redis.Client, next Store, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		next:   next,
		prefix: "stockpicks:price:",
		ttl:    ttl,
		log:    logger,
	}
}

func (s *RedisStore) key(symbol string) string {
	return s.prefix + strings.ToUpper(symbol)
}

func (s *RedisStore) Get(ctx context.Context, symbol string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(symbol)).Bytes()
	switch {
	case err == nil:
		var rec Record
		if err := json.Unmarshal(data, &rec); err == nil {
			return rec, nil
		}
		s.log.Warn("redis price entry unreadable", "symbol", symbol)
	case !errors.Is(err, redis.Nil):
		s.log.Warn("redis get failed", "symbol", symbol, "err", err)
	}

	rec, err := s.next.Get(ctx, symbol)
	if err != nil {
		return Record{}, err
	}
	s.set(ctx, rec)
	return rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	if err := s.next.Put(ctx, rec); err != nil {
		return err
	}
	s.set(ctx, rec)
	return nil
}

func (s *RedisStore) set(ctx context.Context, rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, s.key(rec.Symbol), data, s.ttl).Err(); err != nil {
		s.log.Warn("redis set failed", "symbol", rec.Symbol, "err", err)
	}
}
