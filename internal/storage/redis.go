package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/storyforge/pkg/storage"
)

// DefaultSnapshotTTL is how long an autosaved snapshot is kept.
const DefaultSnapshotTTL = 7 * 24 * time.Hour

// RedisStorage implements the Storage interface using Redis strings for
// snapshots and Redis lists for log streams.
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// Ensure RedisStorage implements Storage interface
var _ storage.Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a new Redis storage instance. redisURL may be a
// redis:// URL or a bare host:port address.
func NewRedisStorage(redisURL string, logger *slog.Logger) (*RedisStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opt := &redis.Options{Addr: redisURL}
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		opt = parsed
	}
	return &RedisStorage{
		client: redis.NewClient(opt),
		logger: logger,
		ttl:    DefaultSnapshotTTL,
	}, nil
}

// WithTTL sets the snapshot expiry. Zero keeps snapshots forever.
func (r *RedisStorage) WithTTL(ttl time.Duration) *RedisStorage {
	r.ttl = ttl
	return r
}

// Health and lifecycle methods

// Client returns the underlying Redis client, shared with the event relay.
func (r *RedisStorage) Client() *redis.Client {
	return r.client
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(delay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", attempts)
}

func snapshotKey(sessionID string) string {
	return "snapshot:" + sessionID
}

func logKey(stream string) string {
	return "log:" + stream
}

// Snapshot operations

func (r *RedisStorage) SaveSnapshot(ctx context.Context, sessionID string, data []byte) error {
	if err := r.client.Set(ctx, snapshotKey(sessionID), data, r.ttl).Err(); err != nil {
		r.logger.Error("Failed to save snapshot", "session_id", sessionID, "error", err)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (r *RedisStorage) LoadSnapshot(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := r.client.Get(ctx, snapshotKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Debug("Snapshot not found", "session_id", sessionID)
			return nil, nil
		}
		r.logger.Error("Failed to load snapshot", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func (r *RedisStorage) DeleteSnapshot(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, snapshotKey(sessionID)).Err(); err != nil {
		r.logger.Error("Failed to delete snapshot", "session_id", sessionID, "error", err)
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Log stream operations

func (r *RedisStorage) AppendLogLine(ctx context.Context, stream string, record []byte) error {
	if err := r.client.RPush(ctx, logKey(stream), record).Err(); err != nil {
		return fmt.Errorf("failed to append to %s: %w", stream, err)
	}
	return nil
}

func (r *RedisStorage) ReadLog(ctx context.Context, stream string) ([][]byte, error) {
	vals, err := r.client.LRange(ctx, logKey(stream), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", stream, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
