// Package session implements the per-connection state store (spec
// component C4): the initialized flag, negotiated protocol version,
// client info, log level, resource subscriptions, and outbound
// notification queue that the Protocol and Dispatcher read and write on
// every message.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Session holds one client's protocol state. All mutator methods lock
// internally, matching the requirement that concurrent POSTs for the same
// session id serialize through the session lock.
type Session struct {
	mu sync.Mutex

	id              string
	initialized     bool
	clientInfo      json.RawMessage
	protocolVersion string
	logLevel        string
	subscriptions   map[string]struct{}
	messageQueue    [][]byte
	lastActivity    time.Time
	createdAt       time.Time
	dirty           bool
}

// New constructs a Session with the given id. Backends are responsible
// for id generation (typically a UUID) since that is a store-level policy,
// not a property of the session state itself.
func New(id, protocolVersion string, clientInfo json.RawMessage) *Session {
	return newSession(id, protocolVersion, clientInfo)
}

func newSession(id, protocolVersion string, clientInfo json.RawMessage) *Session {
	now := time.Now()
	return &Session{
		id:              id,
		protocolVersion: protocolVersion,
		clientInfo:      clientInfo,
		logLevel:        "info",
		subscriptions:   make(map[string]struct{}),
		createdAt:       now,
		lastActivity:    now,
		dirty:           true,
	}
}

// ID returns the session's identifier. Immutable, safe without locking.
func (s *Session) ID() string { return s.id }

// Initialized reports whether notifications/initialized has been received.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// MarkInitialized sets the initialized flag, written by the
// notifications/initialized handler and read by the Dispatcher's init gate.
func (s *Session) MarkInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	s.dirty = true
}

// ProtocolVersion returns the negotiated protocol version.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// SetProtocolVersion records the version negotiated during initialize.
func (s *Session) SetProtocolVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = version
	s.dirty = true
}

// ClientInfo returns the raw client info object supplied at initialize.
func (s *Session) ClientInfo() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// SetClientInfo records the client info object supplied at initialize.
func (s *Session) SetClientInfo(info json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientInfo = info
	s.dirty = true
}

// LogLevel returns the most recently set log level, defaulting to "info".
func (s *Session) LogLevel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logLevel
}

// SetLogLevel is written by the logging/setLevel handler.
func (s *Session) SetLogLevel(level string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logLevel = level
	s.dirty = true
}

// Subscribe adds uri to the subscription set. Idempotent.
func (s *Session) Subscribe(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[uri] = struct{}{}
	s.dirty = true
}

// Unsubscribe removes uri from the subscription set. Idempotent.
func (s *Session) Unsubscribe(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, uri)
	s.dirty = true
}

// Subscriptions returns a snapshot of the current subscription set.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscriptions))
	for uri := range s.subscriptions {
		out = append(out, uri)
	}
	return out
}

// Enqueue appends a framed outbound message (already encoded wire bytes)
// to the session's notification queue, for the transport to drain.
func (s *Session) Enqueue(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageQueue = append(s.messageQueue, frame)
	s.dirty = true
}

// DrainQueue removes and returns every queued frame.
func (s *Session) DrainQueue() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messageQueue) == 0 {
		return nil
	}
	out := s.messageQueue
	s.messageQueue = nil
	s.dirty = true
	return out
}

// Touch updates last_activity, written by the Protocol on every message.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
	s.dirty = true
}

// LastActivity returns the timestamp of the most recent Touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IdleSince reports how long the session has been inactive.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// TakeDirty reports whether the session has unflushed mutations and, if
// so, clears the flag. Store.Save implementations use this to skip
// redundant writes to a shared backend.
func (s *Session) TakeDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return false
	}
	s.dirty = false
	return true
}

// Snapshot is the wire shape used by cache-backed Store implementations.
// The message queue is intentionally excluded: queued frames are already
// addressed to a live transport connection and have no meaning replayed
// from a cold cache entry after a process restart.
type Snapshot struct {
	ID              string          `json:"id"`
	Initialized     bool            `json:"initialized"`
	ClientInfo      json.RawMessage `json:"clientInfo,omitempty"`
	ProtocolVersion string          `json:"protocolVersion"`
	LogLevel        string          `json:"logLevel"`
	Subscriptions   []string        `json:"subscriptions,omitempty"`
	LastActivity    time.Time       `json:"lastActivity"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Snapshot captures the session's current state for persistence.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]string, 0, len(s.subscriptions))
	for uri := range s.subscriptions {
		subs = append(subs, uri)
	}
	return Snapshot{
		ID:              s.id,
		Initialized:     s.initialized,
		ClientInfo:      s.clientInfo,
		ProtocolVersion: s.protocolVersion,
		LogLevel:        s.logLevel,
		Subscriptions:   subs,
		LastActivity:    s.lastActivity,
		CreatedAt:       s.createdAt,
	}
}

// FromSnapshot rehydrates a Session from a previously captured Snapshot.
func FromSnapshot(d Snapshot) *Session {
	subs := make(map[string]struct{}, len(d.Subscriptions))
	for _, uri := range d.Subscriptions {
		subs[uri] = struct{}{}
	}
	return &Session{
		id:              d.ID,
		initialized:     d.Initialized,
		clientInfo:      d.ClientInfo,
		protocolVersion: d.ProtocolVersion,
		logLevel:        d.LogLevel,
		subscriptions:   subs,
		createdAt:       d.CreatedAt,
		lastActivity:    d.LastActivity,
	}
}

// Store is a pluggable session backend (spec: "in-memory or shared
// cache"). Implementations must tolerate backend unavailability by
// degrading to best-effort and logging at warning rather than failing
// the caller.
type Store interface {
	// Create allocates a new session with a fresh id.
	Create(ctx context.Context, protocolVersion string, clientInfo json.RawMessage) (*Session, error)
	// Get returns the session for id, if it exists.
	Get(ctx context.Context, id string) (*Session, bool)
	// Save flushes any dirty fields. The Protocol calls this at the end
	// of every message dispatch.
	Save(ctx context.Context, s *Session) error
	// Delete removes a session entirely.
	Delete(ctx context.Context, id string) error
	// Range iterates every known session; used by the Reaper. Iteration
	// stops early if fn returns false.
	Range(ctx context.Context, fn func(*Session) bool)
}
