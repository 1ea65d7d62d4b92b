package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jobhub/messaging/internal/storage"
)

type item struct {
	val string
	exp time.Time
}

// Client хранит токены в памяти процесса; используется, когда Redis не настроен.
type Client struct {
	mu     sync.RWMutex
	tokens map[string]item
	now    func() time.Time
}

func New() *Client {
	return &Client{
		tokens: make(map[string]item),
		now:    time.Now,
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetToken(ctx context.Context, userID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = storage.DefaultTokenTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[userID] = item{val: token, exp: c.now().Add(ttl)}
	return nil
}

func (c *Client) GetToken(ctx context.Context, userID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.tokens[userID]
	if !ok || c.now().After(v.exp) {
		return "", storage.ErrNoToken
	}
	return v.val, nil
}

func (c *Client) DeleteToken(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, userID)
	return nil
}

var _ storage.TokenStore = (*Client)(nil)
