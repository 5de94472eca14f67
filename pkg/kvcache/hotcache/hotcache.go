/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package hotcache is an optional read-through byte cache sitting in front
// of the blob store (SPEC_FULL.md, supplemented features). It never
// replaces the metadata store as the source of truth for residency: a hit
// here only saves a blob GET, and a miss always falls back to blobstore.Store.
package hotcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/logging"
)

const defaultTTL = 5 * time.Minute

// Config holds the configuration for the Redis-backed hot cache.
type Config struct {
	// Address is a redis:// (or rediss://, unix://) URL. A bare host:port
	// is accepted and treated as redis://.
	Address string `json:"address,omitempty"`
	// TTL is how long a cached block survives after its last Set; Get does
	// not extend it.
	TTL time.Duration `json:"ttl,omitempty"`
}

// DefaultConfig returns the default hot-cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Address: "redis://127.0.0.1:6379",
		TTL:     defaultTTL,
	}
}

// Cache is a best-effort read-through cache of block bytes.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to the Redis instance described by cfg.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	addr := cfg.Address
	if !strings.HasPrefix(addr, "redis://") &&
		!strings.HasPrefix(addr, "rediss://") &&
		!strings.HasPrefix(addr, "unix://") {
		addr = "redis://" + addr
	}

	opt, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hot cache redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to hot cache redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// Get returns the cached bytes for key, if present. A miss (including any
// Redis error) is reported as ok=false; callers fall back to the blob store.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			klog.FromContext(ctx).V(logging.DEBUG).Error(err, "hot cache get failed", "key", key)
		}

		return nil, false
	}

	return data, true
}

// Set populates the hot cache for key. Failures are logged, not surfaced:
// the hot cache is an optimization, never a requirement for correctness.
func (c *Cache) Set(ctx context.Context, key string, data []byte) {
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		klog.FromContext(ctx).V(logging.DEBUG).Error(err, "hot cache set failed", "key", key)
	}
}

// Evict removes key from the hot cache, called when the engine evicts the
// corresponding block from the metadata store.
func (c *Cache) Evict(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		klog.FromContext(ctx).V(logging.DEBUG).Error(err, "hot cache evict failed", "key", key)
	}
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
