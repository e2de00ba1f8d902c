// Package redis holds the Redis-backed pieces of the renewal services: the
// dashboard cache, the shared batch id counter and the job lock.
package redis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/keyip-renewals/internal/config"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/pkg/errors"
)

var ErrConnectionFailed = errors.New(errors.ErrCodeDatabaseError, "redis connection failed")

// Client is a go-redis client that knows the key prefix of this deployment.
// Commands issued after Close fail with redis.ErrClosed.
type Client struct {
	redis.UniversalClient

	prefix string
	logger logging.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewClient connects to a standalone Redis server and verifies it with a
// ping.
func NewClient(cfg config.RedisConfig, log logging.Logger) (*Client, error) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = config.DefaultRedisPoolSize
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = config.DefaultRedisKeyPrefix
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  orDefault(cfg.DialTimeout, 5*time.Second),
		ReadTimeout:  orDefault(cfg.ReadTimeout, 3*time.Second),
		WriteTimeout: orDefault(cfg.WriteTimeout, 3*time.Second),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		log.Error("Redis ping failed", logging.String("addr", cfg.Addr), logging.Err(err))
		return nil, ErrConnectionFailed
	}

	log.Info("Redis client connected", logging.String("addr", cfg.Addr), logging.Int("db", cfg.DB))
	return &Client{UniversalClient: rdb, prefix: cfg.KeyPrefix, logger: log}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

// Key joins parts with ':' under the configured prefix.
func (c *Client) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.UniversalClient.Ping(ctx).Err()
}

// GetUnderlyingClient exposes the go-redis client for scripts.
func (c *Client) GetUnderlyingClient() redis.UniversalClient {
	return c.UniversalClient
}

// Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.UniversalClient.Close()
		if c.closeErr != nil {
			c.logger.Error("Failed to close Redis client", logging.Err(c.closeErr))
			return
		}
		c.logger.Info("Closed Redis client")
	})
	return c.closeErr
}
