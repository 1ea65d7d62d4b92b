package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNoToken: токен для пользователя не сохранён или истёк.
var ErrNoToken = errors.New("storage: no auth token")

// DefaultTokenTTL: сколько живёт сохранённый токен, если TTL не задан.
const DefaultTokenTTL = 24 * time.Hour

// TokenStore: хранилище auth-токенов для подключения к серверу сообщений.
// Канал перечитывает токен перед каждой попыткой подключения, поэтому ротация
// токена подхватывается при следующем реконнекте.
// Реализации: redis.Client, memory.Client (без Redis).
type TokenStore interface {
	SetToken(ctx context.Context, userID, token string, ttl time.Duration) error
	GetToken(ctx context.Context, userID string) (string, error)
	DeleteToken(ctx context.Context, userID string) error
	Close() error
}

// TokenSource привязывает TokenStore к пользователю: результат подходит для ws.ClientOptions.Tokens.
// Отсутствующий токен не ошибка: канал использует токен из конфигурации.
func TokenSource(store TokenStore, userID string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		tok, err := store.GetToken(ctx, userID)
		if errors.Is(err, ErrNoToken) {
			return "", nil
		}
		return tok, err
	}
}
