// Package cache provides the Dragonfly/Redis client used for cross-instance
// coordination, and the distributed record lock built on it.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every key when New is given an empty namespace.
const DefaultNamespace = "progress"

// Cache is a Redis/Dragonfly client whose keys all live under one namespace,
// so several deployments can share a server.
type Cache struct {
	client    *redis.Client
	namespace string
}

// New connects to url and verifies the server answers a PING.
func New(ctx context.Context, url, namespace string) (*Cache, error) {
	opts, err := parseURL(url)
	if err != nil {
		return nil, err
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}
	return &Cache{client: client, namespace: namespace}, nil
}

func parseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	return opts, nil
}

// Key joins parts under the cache namespace: Key("lock", "l/c") is
// "progress:lock:l/c".
func (c *Cache) Key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}

// Ping reports whether the server is reachable. It backs /readyz.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (c *Cache) Close() error {
	return c.client.Close()
}
