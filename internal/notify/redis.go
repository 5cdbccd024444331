package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the list events are appended to.
const DefaultRedisKey = "mkwheelhouse:events"

// Redis appends events to a Redis list.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects lazily to the Redis server at url.
func NewRedis(url, key string) (*Redis, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	if url == "" {
		return nil, errors.New("redis url not configured")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opt), key: key}, nil
}

func (r *Redis) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.client.RPush(ctx, r.key, data).Err(); err != nil {
		return fmt.Errorf("redis rpush %s: %w", r.key, err)
	}
	return nil
}

// recent returns up to n of the newest events, oldest first.
func (r *Redis) recent(ctx context.Context, n int64) ([]Event, error) {
	if n <= 0 {
		n = 1
	}
	vals, err := r.client.LRange(ctx, r.key, -n, -1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(vals))
	for _, v := range vals {
		var ev Event
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			return events, fmt.Errorf("decode event from %s: %w", r.key, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r *Redis) Close() error { return r.client.Close() }
