package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iconidentify/vidfetch/internal/config"
	"github.com/iconidentify/vidfetch/internal/domain"
)

const (
	redisKeyPrefix = "vidfetch:downloads:"
	redisTotalKey  = redisKeyPrefix + "total"
	redisDayTTL    = 90 * 24 * time.Hour
)

// RedisStore keeps the counter in Redis. INCR is atomic, so unlike the SQL
// store concurrent increments are never lost.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// OpenRedis connects to the Redis server described by cfg.
func OpenRedis(ctx context.Context, cfg config.CounterConfig, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &RedisStore{client: client, logger: logger}, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// Increment bumps the day and total counters in one round trip.
func (s *RedisStore) Increment(ctx context.Context, day string) error {
	key := redisKeyPrefix + day

	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, redisDayTTL)
	pipe.Incr(ctx, redisTotalKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	return nil
}

// Stats reads the day and total counters.
func (s *RedisStore) Stats(ctx context.Context, day string) (*domain.DailyStats, error) {
	vals, err := s.client.MGet(ctx, redisKeyPrefix+day, redisTotalKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read counter: %w", err)
	}

	stats := &domain.DailyStats{Day: day}
	if stats.DownloadsToday, err = redisInt(vals[0]); err != nil {
		return nil, err
	}
	if stats.TotalDownloads, err = redisInt(vals[1]); err != nil {
		return nil, err
	}
	return stats, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// redisInt converts an MGET value; missing keys come back as nil.
func redisInt(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse counter %q: %w", t, err)
		}
		return n, nil
	default:
		return 0, errors.New("unexpected counter value type")
	}
}
