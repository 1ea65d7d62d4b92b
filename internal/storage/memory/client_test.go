package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jobhub/messaging/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	ctx := context.Background()
	c := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.GetToken(ctx, "1")
	assert.ErrorIs(t, err, storage.ErrNoToken)

	require.NoError(t, c.SetToken(ctx, "1", "a", time.Minute))
	tok, err := c.GetToken(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "a", tok)

	now = now.Add(2 * time.Minute)
	_, err = c.GetToken(ctx, "1")
	assert.ErrorIs(t, err, storage.ErrNoToken)

	require.NoError(t, c.SetToken(ctx, "1", "b", 0))
	src := storage.TokenSource(c, "1")
	tok, err = src(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", tok)

	require.NoError(t, c.DeleteToken(ctx, "1"))
	tok, err = src(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
}
