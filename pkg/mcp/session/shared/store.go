// Package shared implements a cache-backed session.Store for
// multi-process deployments. A local sync.Map remains the fast,
// authoritative read path; the cache is a best-effort write-through layer
// for cross-process visibility. Every cache operation is allowed to fail
// without failing the caller: per spec §4.4, backends must tolerate cache
// unavailability by degrading to best-effort and logging at warning.
package shared

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coldironlabs/mcprt/internal/logging"
	"github.com/coldironlabs/mcprt/pkg/mcp/cache"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
)

const keyPrefix = "session:"

// Store is a cache-backed session.Store.
type Store struct {
	cache  cache.Cache
	logger *logging.Logger
	local  sync.Map // map[string]*session.Session, local hydration cache
}

// Option configures a Store at construction.
type Option func(*Store)

// WithLogger attaches a structured logger; defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New constructs a Store backed by c.
func New(c cache.Cache, opts ...Option) *Store {
	s := &Store{cache: c, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(id string) string { return keyPrefix + id }

func (s *Store) Create(ctx context.Context, protocolVersion string, clientInfo json.RawMessage) (*session.Session, error) {
	sess := session.New(uuid.New().String(), protocolVersion, clientInfo)
	s.local.Store(sess.ID(), sess)

	raw, err := json.Marshal(sess.Snapshot())
	if err != nil {
		return nil, err
	}
	// CAS with a nil old value enforces "must not already exist" — the
	// atomic operation spec §4.4 calls for, guarding against a UUID
	// collision clobbering another process's session.
	if _, err := s.cache.CAS(ctx, cacheKey(sess.ID()), nil, raw); err != nil {
		s.logger.Warn(ctx, "session cache write-through failed on create",
			zap.String("session_id", sess.ID()), zap.Error(err))
	}
	return sess, nil
}

func (s *Store) Get(ctx context.Context, id string) (*session.Session, bool) {
	if v, ok := s.local.Load(id); ok {
		return v.(*session.Session), true
	}

	raw, ok, err := s.cache.Get(ctx, cacheKey(id))
	if err != nil {
		s.logger.Warn(ctx, "session cache read failed", zap.String("session_id", id), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var snap session.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.logger.Warn(ctx, "session cache payload malformed", zap.String("session_id", id), zap.Error(err))
		return nil, false
	}
	sess := session.FromSnapshot(snap)
	s.local.Store(id, sess)
	return sess, true
}

func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	if !sess.TakeDirty() {
		return nil
	}
	s.local.Store(sess.ID(), sess)

	raw, err := json.Marshal(sess.Snapshot())
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, cacheKey(sess.ID()), raw); err != nil {
		s.logger.Warn(ctx, "session cache write-through failed on save",
			zap.String("session_id", sess.ID()), zap.Error(err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.local.Delete(id)
	if err := s.cache.Delete(ctx, cacheKey(id)); err != nil {
		s.logger.Warn(ctx, "session cache delete failed", zap.String("session_id", id), zap.Error(err))
	}
	return nil
}

// Range only iterates the locally hydrated set. A shared-cache backend has
// no enumeration primitive in the cache.Cache interface; the reaper still
// works correctly against this because any session a process cares about
// (one it created or has read) is hydrated locally, and idle sessions
// eventually get swept by whichever process last touched them.
func (s *Store) Range(ctx context.Context, fn func(*session.Session) bool) {
	s.local.Range(func(_, v any) bool {
		return fn(v.(*session.Session))
	})
}
