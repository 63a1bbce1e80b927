package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions tunes the connection pool. Zero values fall back to defaults.
type RedisOptions struct {
	PoolSize     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedis parses the URL, configures the pool and verifies the connection.
// The caller owns the returned client and must Close it.
func NewRedis(ctx context.Context, redisURL string, o RedisOptions) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 10
	if o.PoolSize > 0 {
		opts.PoolSize = o.PoolSize
	}
	opts.MinIdleConns = 2
	opts.MaxRetries = 1 // the session layer owns retry policy
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	if o.ReadTimeout > 0 {
		opts.ReadTimeout = o.ReadTimeout
	}
	opts.WriteTimeout = 500 * time.Millisecond
	if o.WriteTimeout > 0 {
		opts.WriteTimeout = o.WriteTimeout
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("✅ Redis connection established (%s, db %d)", opts.Addr, opts.DB)
	return client, nil
}
