package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisKV implements KV using Redis as the fast store. The four logical
// databases are expressed as key prefixes on a single client so that one
// connection pool serves all partitions.
type RedisKV struct {
	client goredis.UniversalClient
}

// RedisConfig holds connection settings for the fast store.
type RedisConfig struct {
	// Single node configuration
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Cluster configuration
	ClusterAddrs []string `yaml:"cluster_addrs"`

	// Sentinel configuration
	SentinelAddrs  []string `yaml:"sentinel_addrs"`
	SentinelMaster string   `yaml:"sentinel_master"`

	// Common configuration
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}
}

// NewRedisKV creates a new Redis-backed fast store.
func NewRedisKV(cfg RedisConfig) (*RedisKV, error) {
	var client goredis.UniversalClient

	switch {
	case len(cfg.ClusterAddrs) > 0:
		client = goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	case len(cfg.SentinelAddrs) > 0:
		client = goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
		})
	default:
		client = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisKV{client: client}, nil
}

// NewRedisKVFromClient wraps an existing client. Used by tests with miniredis.
func NewRedisKVFromClient(client goredis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) fullKey(db LogicalDB, key string) string {
	return "hub:" + string(db) + ":" + key
}

// Get retrieves a value. Returns nil, nil when the key is absent.
func (r *RedisKV) Get(ctx context.Context, db LogicalDB, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.fullKey(db, key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores a value. A ttl of zero means no expiry.
func (r *RedisKV) Set(ctx context.Context, db LogicalDB, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.fullKey(db, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes keys and returns the number actually deleted.
func (r *RedisKV) Delete(ctx context.Context, db LogicalDB, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.fullKey(db, k)
	}
	n, err := r.client.Del(ctx, full...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return n, nil
}

// Keys returns all keys in db matching pattern, with the db prefix stripped.
// SCAN is used instead of KEYS to avoid blocking the server on large partitions.
func (r *RedisKV) Keys(ctx context.Context, db LogicalDB, pattern string) ([]string, error) {
	prefix := "hub:" + string(db) + ":"
	var (
		cursor uint64
		out    []string
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, prefix+pattern, 256).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range batch {
			out = append(out, k[len(prefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Ping checks connectivity to the fast store.
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *RedisKV) Close() error {
	return r.client.Close()
}
