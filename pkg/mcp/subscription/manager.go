// Package subscription implements the resource-subscription fan-out (spec
// component C5): sessionId<->uri bidirectional mappings, and broadcast of
// resources/updated notifications to every subscriber's message queue.
//
// Fan-out runs over an embedded, node-local NATS server rather than a
// plain in-process map walk, mirroring the teacher's own use of NATS for
// event delivery (pkg/mcp/operations.go, pkg/mcp/sse.go). Embedding keeps
// this single-process: no external NATS deployment is required, and no
// cross-node coordination is attempted, consistent with the protocol's
// scope.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/coldironlabs/mcprt/internal/logging"
	"github.com/coldironlabs/mcprt/pkg/mcp/jsonrpc"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
)

const readyTimeout = 5 * time.Second

// resourceUpdatedParams is the params payload of a
// notifications/resources/updated message.
type resourceUpdatedParams struct {
	URI string `json:"uri"`
}

// Manager owns the bidirectional sessionId<->uri index and the embedded
// NATS connection used to fan updates out to subscribers.
type Manager struct {
	store  session.Store
	logger *logging.Logger

	embedded *server.Server
	conn     *nats.Conn

	mu      sync.Mutex
	bySess  map[string]map[string]*nats.Subscription // sessionId -> uri -> subscription
	byURI   map[string]map[string]struct{}           // uri -> set of sessionId (bookkeeping / introspection)
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLogger attaches a structured logger; defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New starts an embedded, node-local NATS server and returns a Manager
// bound to it. store is used to resolve a sessionId to its live *Session
// so a broadcast can enqueue directly into its message queue.
func New(store session.Store, opts ...Option) (*Manager, error) {
	srv, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start embedded nats server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		return nil, fmt.Errorf("embedded nats server did not become ready within %s", readyTimeout)
	}

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats server: %w", err)
	}

	m := &Manager{
		store:    store,
		logger:   logging.NewNop(),
		embedded: srv,
		conn:     conn,
		bySess:   make(map[string]map[string]*nats.Subscription),
		byURI:    make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func subject(uri string) string {
	return "resources." + url.QueryEscape(uri) + ".updated"
}

// Subscribe records sessionId's interest in uri and idempotently attaches
// a NATS subscription that delivers future updates into the session's
// message queue.
func (m *Manager) Subscribe(ctx context.Context, sessionID, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uris, ok := m.bySess[sessionID]; ok {
		if _, already := uris[uri]; already {
			return nil
		}
	}

	sub, err := m.conn.Subscribe(subject(uri), func(msg *nats.Msg) {
		m.deliver(ctx, sessionID, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", uri, err)
	}

	if m.bySess[sessionID] == nil {
		m.bySess[sessionID] = make(map[string]*nats.Subscription)
	}
	m.bySess[sessionID][uri] = sub

	if m.byURI[uri] == nil {
		m.byURI[uri] = make(map[string]struct{})
	}
	m.byURI[uri][sessionID] = struct{}{}

	if sess, ok := m.store.Get(ctx, sessionID); ok {
		sess.Subscribe(uri)
		_ = m.store.Save(ctx, sess)
	}
	return nil
}

// Unsubscribe idempotently removes sessionId's interest in uri.
func (m *Manager) Unsubscribe(ctx context.Context, sessionID, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(sessionID, uri)

	if sess, ok := m.store.Get(ctx, sessionID); ok {
		sess.Unsubscribe(uri)
		_ = m.store.Save(ctx, sess)
	}
	return nil
}

// UnsubscribeAll removes sessionId from every uri it was subscribed to.
// Intended to run on session destruction (spec §4.5).
func (m *Manager) UnsubscribeAll(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uris := m.bySess[sessionID]
	for uri := range uris {
		m.removeLocked(sessionID, uri)
	}
}

// removeLocked must be called with m.mu held.
func (m *Manager) removeLocked(sessionID, uri string) {
	if uris, ok := m.bySess[sessionID]; ok {
		if sub, exists := uris[uri]; exists {
			_ = sub.Unsubscribe()
			delete(uris, uri)
			if len(uris) == 0 {
				delete(m.bySess, sessionID)
			}
		}
	}
	if sessions, ok := m.byURI[uri]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.byURI, uri)
		}
	}
}

// NotifyResourceUpdated publishes a resources/updated event for uri. Every
// currently-subscribed session receives it asynchronously via its own
// NATS subscription callback.
func (m *Manager) NotifyResourceUpdated(ctx context.Context, uri string) error {
	notif := jsonrpc.Notification{
		Method: "notifications/resources/updated",
		Params: mustParams(resourceUpdatedParams{URI: uri}),
	}
	frame, err := jsonrpc.Encode(notif)
	if err != nil {
		return fmt.Errorf("encode resources/updated: %w", err)
	}
	if err := m.conn.Publish(subject(uri), frame); err != nil {
		return fmt.Errorf("publish resources/updated: %w", err)
	}
	return nil
}

func (m *Manager) deliver(ctx context.Context, sessionID string, frame []byte) {
	sess, ok := m.store.Get(ctx, sessionID)
	if !ok {
		return
	}
	sess.Enqueue(frame)
	if err := m.store.Save(ctx, sess); err != nil {
		m.logger.Warn(ctx, "session save failed after delivering update",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Close unsubscribes everything and tears down the embedded NATS server.
func (m *Manager) Close() {
	m.mu.Lock()
	for sessionID, uris := range m.bySess {
		for uri, sub := range uris {
			_ = sub.Unsubscribe()
			delete(uris, uri)
		}
		delete(m.bySess, sessionID)
	}
	m.byURI = make(map[string]map[string]struct{})
	m.mu.Unlock()

	m.conn.Close()
	m.embedded.Shutdown()
}

func mustParams(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}
