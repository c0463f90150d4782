// Package redis implements the locking, pub/sub, rate limiting and cursor
// interfaces on go-redis/v9. The same connection also carries the message
// bus (see internal/bus).
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
)

// clientName identifies this service's connections in CLIENT LIST.
const clientName = "nftpayments"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

func (cfg ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: clientName,
		// Bus requests and lock calls carry their own deadlines.
		ContextTimeoutEnabled: true,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostOf(cfg.Addr)}
	}
	return opts
}

// Client is the shared connection used by every Redis-backed component.
type Client struct {
	rdb *redis.Client
}

// New connects to cfg.Addr and fails unless the server answers PING.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(cfg.options())
	c := &Client{rdb: rdb}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

// Ping checks the connection; the health endpoint calls it.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.rdb.Options().Addr, err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the driver to the bus and the adapters in this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
