package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal in-test Store letting us control LastActivity
// without sleeping past a real threshold.
type fakeStore struct {
	sessions map[string]*Session
	deleted  []string
}

func newFakeStore() *fakeStore { return &fakeStore{sessions: make(map[string]*Session)} }

func (f *fakeStore) Create(ctx context.Context, protocolVersion string, clientInfo json.RawMessage) (*Session, error) {
	return nil, nil
}
func (f *fakeStore) Get(ctx context.Context, id string) (*Session, bool) {
	s, ok := f.sessions[id]
	return s, ok
}
func (f *fakeStore) Save(ctx context.Context, s *Session) error { return nil }
func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.sessions, id)
	return nil
}
func (f *fakeStore) Range(ctx context.Context, fn func(*Session) bool) {
	for _, s := range f.sessions {
		if !fn(s) {
			return
		}
	}
}

func TestReaperSweepsIdleSessions(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	idle := New("idle", "2025-06-18", nil)
	idle.mu.Lock()
	idle.lastActivity = time.Now().Add(-time.Hour)
	idle.mu.Unlock()
	store.sessions["idle"] = idle

	fresh := New("fresh", "2025-06-18", nil)
	store.sessions["fresh"] = fresh

	var unsubscribed []string
	var expired []string
	r := NewReaper(store,
		WithThreshold(time.Minute),
		WithUnsubscribeAll(func(id string) { unsubscribed = append(unsubscribed, id) }),
		WithOnExpire(func(id string) { expired = append(expired, id) }),
	)
	r.sweep(ctx)

	assert.Equal(t, []string{"idle"}, store.deleted)
	assert.Equal(t, []string{"idle"}, unsubscribed)
	assert.Equal(t, []string{"idle"}, expired)

	_, ok := store.Get(ctx, "fresh")
	require.True(t, ok, "active session must survive a sweep")
}
