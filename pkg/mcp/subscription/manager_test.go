package subscription

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldironlabs/mcprt/pkg/mcp/session/memory"
)

func newTestManager(t *testing.T) (*Manager, *memory.Store) {
	t.Helper()
	store := memory.New()
	mgr, err := New(store)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	return mgr, store
}

func TestSubscribeThenNotifyDeliversToQueue(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t)

	sess, err := store.Create(ctx, "2025-06-18", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Subscribe(ctx, sess.ID(), "file:///a"))
	require.NoError(t, mgr.NotifyResourceUpdated(ctx, "file:///a"))

	require.Eventually(t, func() bool {
		return len(sess.DrainQueue()) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t)
	sess, err := store.Create(ctx, "2025-06-18", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Subscribe(ctx, sess.ID(), "file:///a"))
	require.NoError(t, mgr.Subscribe(ctx, sess.ID(), "file:///a"))
	assert.Equal(t, []string{"file:///a"}, sess.Subscriptions())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t)
	sess, err := store.Create(ctx, "2025-06-18", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Subscribe(ctx, sess.ID(), "file:///a"))
	require.NoError(t, mgr.Unsubscribe(ctx, sess.ID(), "file:///a"))
	assert.Empty(t, sess.Subscriptions())

	require.NoError(t, mgr.NotifyResourceUpdated(ctx, "file:///a"))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sess.DrainQueue())
}

func TestUnsubscribeAllRemovesEveryURI(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t)
	sess, err := store.Create(ctx, "2025-06-18", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Subscribe(ctx, sess.ID(), "file:///a"))
	require.NoError(t, mgr.Subscribe(ctx, sess.ID(), "file:///b"))

	mgr.UnsubscribeAll(sess.ID())

	require.NoError(t, mgr.NotifyResourceUpdated(ctx, "file:///a"))
	require.NoError(t, mgr.NotifyResourceUpdated(ctx, "file:///b"))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sess.DrainQueue())
}

func TestNotifyPayloadIsWellFormedNotification(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t)
	sess, err := store.Create(ctx, "2025-06-18", nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Subscribe(ctx, sess.ID(), "file:///a"))
	require.NoError(t, mgr.NotifyResourceUpdated(ctx, "file:///a"))

	var frames [][]byte
	require.Eventually(t, func() bool {
		frames = sess.DrainQueue()
		return len(frames) > 0
	}, time.Second, 10*time.Millisecond)

	var envelope struct {
		Method string `json:"method"`
		Params struct {
			URI string `json:"uri"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &envelope))
	assert.Equal(t, "notifications/resources/updated", envelope.Method)
	assert.Equal(t, "file:///a", envelope.Params.URI)
}
