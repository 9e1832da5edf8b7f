// Package admindata implements the Store interface: the opaque
// per-peer blob and LUID<->GUID map persistence that backs component
// D's load_admin_data/save_admin_data and read_next_map_item/
// insert_map_item callbacks. RedisStore is used when
// daemonconfig.Config.UsesRedis() is true; DiskStore is the fallback.
package admindata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps admin-data blobs and LUID<->GUID maps in Redis, so
// multiple daemon instances behind the same peer share state.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// RedisOptions mirrors the fields daemonconfig.RedisConfig exposes,
// kept separate so this package doesn't import daemonconfig.
type RedisOptions struct {
	Addr            string
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// NewRedisStore dials Redis and verifies the connection with a Ping.
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		PoolSize:        opts.PoolSize,
		MinIdleConns:    opts.MinIdleConns,
		DialTimeout:     opts.DialTimeout,
		ReadTimeout:     opts.ReadTimeout,
		WriteTimeout:    opts.WriteTimeout,
		MaxRetries:      opts.MaxRetries,
		MinRetryBackoff: opts.MinRetryBackoff,
		MaxRetryBackoff: opts.MaxRetryBackoff,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	if logger != nil {
		logger.Info("connected to admin-data redis", "addr", opts.Addr, "db", opts.DB)
	}
	return &RedisStore{client: client, logger: logger}, nil
}

func blobKey(key string) string { return "pimsyncd:admindata:blob:" + key }
func mapKey(key string) string  { return "pimsyncd:admindata:map:" + key }

// LoadBlob returns the stored blob, or (nil, nil) if none exists yet.
func (s *RedisStore) LoadBlob(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, blobKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load admin-data blob %q: %w", key, err)
	}
	return val, nil
}

// SaveBlob persists data under key, with no expiry.
func (s *RedisStore) SaveBlob(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, blobKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("save admin-data blob %q: %w", key, err)
	}
	return nil
}

// LoadMapItems returns the stored LUID<->GUID map, or an empty slice if
// none exists yet.
func (s *RedisStore) LoadMapItems(ctx context.Context, key string) ([]MapItem, error) {
	val, err := s.client.Get(ctx, mapKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load admin-data map %q: %w", key, err)
	}
	var items []MapItem
	if err := json.Unmarshal(val, &items); err != nil {
		return nil, fmt.Errorf("unmarshal admin-data map %q: %w", key, err)
	}
	return items, nil
}

// SaveMapItems replaces the whole map under key.
func (s *RedisStore) SaveMapItems(ctx context.Context, key string, items []MapItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal admin-data map %q: %w", key, err)
	}
	if err := s.client.Set(ctx, mapKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("save admin-data map %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
