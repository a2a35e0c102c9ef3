package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a delivery count is kept. Zero keeps it forever.
	TTL time.Duration
}

// RedisLedger keeps delivery counts in Redis so that several consumer
// processes on the same subscription share one view.
type RedisLedger struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
}

// NewRedisLedger connects to Redis and pings it before returning.
func NewRedisLedger(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisLedger, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisLedger{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisLedger").Logger(),
		ttl:         cfg.TTL,
	}, nil
}

// Record increments the delivery count and refreshes its TTL in one round trip.
func (l *RedisLedger) Record(ctx context.Context, subscription, messageID string) (int64, error) {
	k := key(subscription, messageID)

	pipe := l.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, k)
	if l.ttl > 0 {
		pipe.PExpire(ctx, k, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Error().Err(err).Str("key", k).Msg("Failed to record delivery in Redis.")
		return 0, fmt.Errorf("failed to record delivery: %w", err)
	}
	return incr.Val(), nil
}

// Count returns the delivery count of a message.
func (l *RedisLedger) Count(ctx context.Context, subscription, messageID string) (int64, error) {
	n, err := l.redisClient.Get(ctx, key(subscription, messageID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read delivery count: %w", err)
	}
	return n, nil
}

// Close closes the Redis client connection.
func (l *RedisLedger) Close() error {
	if l.redisClient != nil {
		l.logger.Info().Msg("Closing Redis client connection...")
		return l.redisClient.Close()
	}
	return nil
}
