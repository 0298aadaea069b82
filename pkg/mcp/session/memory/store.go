// Package memory implements the default, in-process session.Store using a
// sync.Map, following the same concurrent-map idiom as the teacher's
// SessionStore.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/coldironlabs/mcprt/pkg/mcp/session"
)

// Store is an in-memory session.Store. Save is a no-op beyond clearing the
// dirty flag: sessions are stored by pointer, so mutator methods on
// *session.Session are already visible to every holder.
type Store struct {
	sessions sync.Map // map[string]*session.Session
}

// New constructs an empty in-memory session store.
func New() *Store {
	return &Store{}
}

func (s *Store) Create(ctx context.Context, protocolVersion string, clientInfo json.RawMessage) (*session.Session, error) {
	sess := session.New(uuid.New().String(), protocolVersion, clientInfo)
	s.sessions.Store(sess.ID(), sess)
	return sess, nil
}

func (s *Store) Get(ctx context.Context, id string) (*session.Session, bool) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*session.Session), true
}

func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	sess.TakeDirty()
	s.sessions.Store(sess.ID(), sess)
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.sessions.Delete(id)
	return nil
}

func (s *Store) Range(ctx context.Context, fn func(*session.Session) bool) {
	s.sessions.Range(func(_, v any) bool {
		return fn(v.(*session.Session))
	})
}
