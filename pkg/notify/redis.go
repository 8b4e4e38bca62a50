package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient parses a redis:// URL and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisNotifier publishes denials as JSON on "<prefix>:<principal id>"
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisNotifier creates a Redis pub/sub sink
func NewRedisNotifier(client *redis.Client, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "clinicauth:denials"
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

// Channel returns the channel a principal's UI subscribes to
func (n *RedisNotifier) Channel(principalID string) string {
	return fmt.Sprintf("%s:%s", n.prefix, principalID)
}

func (n *RedisNotifier) Name() string { return "redis" }

func (n *RedisNotifier) NotifyDenied(ctx context.Context, d Denial) error {
	if d.PrincipalID == "" {
		return nil
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal denial: %w", err)
	}
	if err := n.client.Publish(ctx, n.Channel(d.PrincipalID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}
