package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/playlimit/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "playlimit"
	keySequence = keyPrefix + ":periods:seq"
	keyUsers    = keyPrefix + ":periods:users"
)

// Store implements storage.Ledger using Redis sorted sets, one per user,
// scored by the period timestamp.
type Store struct {
	client       *redis.Client
	appendScript *redis.Script
	now          func() time.Time
}

// Open creates a new Redis-backed ledger
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port (e.g. miniredis addresses)
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:       client,
		appendScript: redis.NewScript(appendPeriodScript),
		now:          time.Now,
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func userKey(userID string) string {
	return fmt.Sprintf("%s:periods:user:%s", keyPrefix, userID)
}
