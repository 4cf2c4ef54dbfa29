// Package cache keeps the last real stats snapshot in Redis so a restarted
// tracker shows real numbers before its first successful fetch.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pilot-tracker/internal/flight"
	"pilot-tracker/internal/stats"
)

const defaultKey = "pilottracker:stats:snapshot"

// Options configure the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// SnapshotCache stores one JSON-encoded snapshot under a single key.
type SnapshotCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger zerolog.Logger
}

var _ stats.Cache = (*SnapshotCache)(nil)

// Open connects and pings Redis.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (*SnapshotCache, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	key := opts.Key
	if key == "" {
		key = defaultKey
	}
	c := &SnapshotCache{
		client: client,
		key:    key,
		ttl:    opts.TTL,
		logger: logger.With().Str("component", "cache").Logger(),
	}
	c.logger.Info().Str("addr", opts.Addr).Str("key", key).Msg("redis connected")
	return c, nil
}

// LoadSnapshot returns the cached snapshot; the boolean is false on a miss.
func (c *SnapshotCache) LoadSnapshot(ctx context.Context) (flight.Snapshot, bool, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return flight.Snapshot{}, false, nil
	}
	if err != nil {
		return flight.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return flight.Snapshot{}, false, err
	}
	return snap, true, nil
}

// StoreSnapshot overwrites the cached snapshot. Synthetic snapshots are
// never cached.
func (c *SnapshotCache) StoreSnapshot(ctx context.Context, snap flight.Snapshot) error {
	if snap.Synthetic {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *SnapshotCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func decodeSnapshot(data []byte) (flight.Snapshot, error) {
	var snap flight.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return flight.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	snap.Synthetic = false
	return snap, nil
}
