package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldironlabs/mcprt/pkg/mcp/session"
)

func TestCreateGetDelete(t *testing.T) {
	ctx := context.Background()
	store := New()

	sess, err := store.Create(ctx, "2025-06-18", nil)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID())

	got, ok := store.Get(ctx, sess.ID())
	require.True(t, ok)
	assert.Equal(t, sess.ID(), got.ID())

	require.NoError(t, store.Delete(ctx, sess.ID()))
	_, ok = store.Get(ctx, sess.ID())
	assert.False(t, ok)
}

func TestRangeVisitsAllSessions(t *testing.T) {
	ctx := context.Background()
	store := New()
	_, err := store.Create(ctx, "2025-06-18", nil)
	require.NoError(t, err)
	_, err = store.Create(ctx, "2025-06-18", nil)
	require.NoError(t, err)

	count := 0
	store.Range(ctx, func(_ *session.Session) bool {
		count++
		return true
	})
	assert.Equal(t, 2, count)
}
