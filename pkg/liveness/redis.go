package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// ErrNoHeartbeat is returned when no live heartbeat exists for a step
var ErrNoHeartbeat = errors.New("no heartbeat")

// RedisConfig holds Redis heartbeat settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// Validate checks if the configuration is valid
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("redis address cannot be empty")
	}
	if c.KeyPrefix == "" {
		return errors.New("key prefix cannot be empty")
	}
	if c.TTL <= 0 {
		return errors.New("ttl must be positive")
	}
	return nil
}

// kv is the part of the Redis client used for heartbeats
type kv interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// beatRecord is the JSON stored under a heartbeat key
type beatRecord struct {
	Step      string    `json:"step"`
	Cursor    int64     `json:"cursor"`
	Processed int       `json:"processed"`
	Total     int       `json:"total,omitempty"`
	At        time.Time `json:"at"`
}

// Redis stores the latest beat of each step under {prefix}:{step} with a TTL.
// A key that expires means the step stopped making progress.
type Redis struct {
	client    kv
	closer    func() error
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedis connects to Redis and checks the connection
func NewRedis(ctx context.Context, cfg *RedisConfig, logger *zap.Logger) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	r := newRedis(client, cfg.KeyPrefix, cfg.TTL, logger)
	r.closer = client.Close
	return r, nil
}

func newRedis(client kv, keyPrefix string, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (r *Redis) key(step string) string {
	return r.keyPrefix + ":" + step
}

// Heartbeat stores the beat. Failures are logged; a missed heartbeat must
// not fail the pipeline.
func (r *Redis) Heartbeat(ctx context.Context, beat types.Beat) {
	data, err := json.Marshal(beatRecord(beat))
	if err != nil {
		r.logger.Warn("Failed to encode heartbeat", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, r.key(beat.Step), data, r.ttl).Err(); err != nil {
		r.logger.Warn("Failed to write heartbeat",
			zap.String("step", beat.Step),
			zap.Error(err))
	}
}

// Last returns the latest live beat of a step
func (r *Redis) Last(ctx context.Context, step string) (types.Beat, error) {
	data, err := r.client.Get(ctx, r.key(step)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Beat{}, ErrNoHeartbeat
		}
		return types.Beat{}, fmt.Errorf("failed to read heartbeat: %w", err)
	}

	var rec beatRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.Beat{}, fmt.Errorf("failed to decode heartbeat: %w", err)
	}
	return types.Beat(rec), nil
}

// Close closes the Redis client
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
