package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jobhub/messaging/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "auth_token:"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient оборачивает готовый клиент (например, в тестах).
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetToken сохраняет токен по ключу auth_token:{userID} с TTL.
func (c *Client) SetToken(ctx context.Context, userID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = storage.DefaultTokenTTL
	}
	return c.cli.Set(ctx, keyPrefix+userID, token, ttl).Err()
}

// GetToken возвращает storage.ErrNoToken, если ключа нет.
func (c *Client) GetToken(ctx context.Context, userID string) (string, error) {
	val, err := c.cli.Get(ctx, keyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("redis get token: %w", err)
	}
	return val, nil
}

func (c *Client) DeleteToken(ctx context.Context, userID string) error {
	return c.cli.Del(ctx, keyPrefix+userID).Err()
}

var _ storage.TokenStore = (*Client)(nil)
