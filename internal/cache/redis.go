package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"coderoom-backend/internal/model"
)

const (
	// per-room cap on retained runs
	maxRunsPerRoom = 50
	runTTL         = 24 * time.Hour
)

// RedisClient wraps the Redis client for execution-result caching. The
// cache is advisory: the room protocol works the same with a nil client.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client and verifies connectivity.
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &RedisClient{client: client}, nil
}

func runsKey(roomID string) string {
	return "room:" + roomID + ":runs"
}

// AddExecution appends a finished run to the room's list, trimming to the
// retention cap.
func (r *RedisClient) AddExecution(ctx context.Context, roomID string, result *model.ExecutionResult) error {
	key := runsKey(roomID)

	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -maxRunsPerRoom, -1)
	pipe.Expire(ctx, key, runTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Redis] Failed to add execution: %v", err)
		return err
	}

	return nil
}

// GetRecentExecutions retrieves the last count runs for a room, oldest
// first.
func (r *RedisClient) GetRecentExecutions(ctx context.Context, roomID string, count int64) ([]model.ExecutionResult, error) {
	results, err := r.client.LRange(ctx, runsKey(roomID), -count, -1).Result()
	if err != nil {
		return nil, err
	}

	runs := make([]model.ExecutionResult, 0, len(results))
	for _, data := range results {
		var run model.ExecutionResult
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			continue
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// DeleteRoom removes the cached runs for a room.
func (r *RedisClient) DeleteRoom(ctx context.Context, roomID string) error {
	return r.client.Del(ctx, runsKey(roomID)).Err()
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is reachable.
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
