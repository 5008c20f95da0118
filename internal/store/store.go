// Package store persists finished tasks and the active-task snapshot in Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Jayphen/timestop/internal/task"
)

const (
	// TaskKeyPrefix is the Redis key prefix for finished tasks.
	TaskKeyPrefix = "timestop:task:"
	// HistoryKey is the sorted set of task ids scored by completion time in ms.
	HistoryKey = "timestop:history"
	// ActiveKey holds the snapshot of the task in progress.
	ActiveKey = "timestop:active"
	// DefaultRedisURL is the default Redis connection URL.
	DefaultRedisURL = "redis://localhost:6379"
	// DefaultActiveTTL bounds how long a stale active snapshot survives a crash.
	DefaultActiveTTL = 12 * time.Hour
)

// Client wraps a Redis client with task storage operations.
type Client struct {
	rdb       *redis.Client
	activeTTL time.Duration
}

// NewClient connects to the Redis server at url. An empty url means
// DefaultRedisURL.
func NewClient(url string) (*Client, error) {
	if url == "" {
		url = DefaultRedisURL
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb, activeTTL: DefaultActiveTTL}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SaveTask stores a finished task and indexes it by completion time.
// Saving the same task again overwrites it.
func (c *Client) SaveTask(ctx context.Context, s task.Snapshot) error {
	if s.CompletedAt == nil {
		return fmt.Errorf("%w: task %s is not finished", task.ErrIllegalTransition, s.ID)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, TaskKeyPrefix+s.ID, data, 0)
		pipe.ZAdd(ctx, HistoryKey, redis.Z{
			Score:  float64(s.CompletedAt.UnixMilli()),
			Member: s.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving task %s: %w", s.ID, err)
	}
	return nil
}

// GetTask returns a stored task, or nil if there is none with that id.
func (c *Client) GetTask(ctx context.Context, id string) (*task.Snapshot, error) {
	data, err := c.rdb.Get(ctx, TaskKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s task.Snapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decoding task %s: %w", id, err)
	}
	return &s, nil
}

// History returns stored tasks completed within [from, to], oldest first.
// A zero bound is open. Entries that fail to decode are skipped.
func (c *Client) History(ctx context.Context, from, to time.Time) ([]task.Snapshot, error) {
	ids, err := c.rdb.ZRangeByScore(ctx, HistoryKey, &redis.ZRangeBy{
		Min: scoreBound(from, "-inf"),
		Max: scoreBound(to, "+inf"),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []task.Snapshot{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = TaskKeyPrefix + id
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]task.Snapshot, 0, len(values))
	for _, val := range values {
		str, ok := val.(string)
		if !ok {
			continue
		}

		var s task.Snapshot
		if err := json.Unmarshal([]byte(str), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func scoreBound(t time.Time, open string) string {
	if t.IsZero() {
		return open
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// SetActive stores the snapshot of the task in progress.
func (c *Client) SetActive(ctx context.Context, s task.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, ActiveKey, data, c.activeTTL).Err()
}

// GetActive returns the task in progress, or nil if there is none.
func (c *Client) GetActive(ctx context.Context) (*task.Snapshot, error) {
	data, err := c.rdb.Get(ctx, ActiveKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s task.Snapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decoding active task: %w", err)
	}
	return &s, nil
}

// ClearActive removes the active snapshot.
func (c *Client) ClearActive(ctx context.Context) error {
	return c.rdb.Del(ctx, ActiveKey).Err()
}

// IsAvailable checks if Redis is reachable at url.
func IsAvailable(url string) bool {
	client, err := NewClient(url)
	if err != nil {
		return false
	}
	defer client.Close()
	return true
}
