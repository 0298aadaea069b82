// Package protocol implements the Protocol loop (spec component C7): the
// transport-agnostic state machine that fetches or creates a session for
// an inbound envelope, dispatches requests/notifications/batches, and
// hands the resulting frame back to a Transport for delivery.
package protocol

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/coldironlabs/mcprt/internal/logging"
	"github.com/coldironlabs/mcprt/pkg/mcp/dispatch"
	"github.com/coldironlabs/mcprt/pkg/mcp/jsonrpc"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
)

// Transport is the minimal surface the Protocol needs from whatever
// carries bytes to a client. Serialization happens inside Send so framing
// differences (newline-delimited stdio vs. SSE events) stay out of the
// Protocol, per spec §4.7: "messages are passed as already-typed objects,
// not strings; serialization happens inside transport.send."
type Transport interface {
	Send(ctx context.Context, sessionID string, msg jsonrpc.Message) error
}

// Protocol wires a session store, a dispatcher, and a transport together.
type Protocol struct {
	store     session.Store
	dispatch  *dispatch.Dispatcher
	transport Transport
	logger    *logging.Logger

	mu        sync.Mutex
	cancelled map[string]map[any]struct{} // sessionID -> set of cancelled request ids
}

// Option configures a Protocol at construction.
type Option func(*Protocol)

// WithLogger attaches a structured logger; defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Protocol) { p.logger = l }
}

// New constructs a Protocol. transport may be set later via SetTransport
// if the transport itself needs a reference to the Protocol first (the
// common case: a transport's constructor takes the Protocol as a
// callback target, and the Protocol needs the transport to send).
func New(store session.Store, d *dispatch.Dispatcher, opts ...Option) *Protocol {
	p := &Protocol{
		store:     store,
		dispatch:  d,
		logger:    logging.NewNop(),
		cancelled: make(map[string]map[any]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetTransport attaches (or replaces) the transport frames are sent
// through.
func (p *Protocol) SetTransport(t Transport) { p.transport = t }

// OnClientConnected is called by a transport when a new client attaches.
// For transports that generate sessionId at connect time (SSE), this
// pre-creates the session so the first message() call finds it already
// present.
func (p *Protocol) OnClientConnected(ctx context.Context, sessionID string) {
	if _, ok := p.store.Get(ctx, sessionID); ok {
		return
	}
	sess := session.New(sessionID, "", nil)
	if err := p.store.Save(ctx, sess); err != nil {
		p.logger.Warn(ctx, "failed to persist newly connected session", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// OnClientDisconnected tears down a session's subscriptions and state.
// unsubscribeAll is typically subscription.Manager.UnsubscribeAll; it is
// passed in rather than imported to avoid a dependency cycle (subscription
// does not need to know about protocol).
func (p *Protocol) OnClientDisconnected(ctx context.Context, sessionID string, unsubscribeAll func(string)) {
	if unsubscribeAll != nil {
		unsubscribeAll(sessionID)
	}
	if err := p.store.Delete(ctx, sessionID); err != nil {
		p.logger.Warn(ctx, "failed to delete session on disconnect", zap.String("session_id", sessionID), zap.Error(err))
	}
	p.mu.Lock()
	delete(p.cancelled, sessionID)
	p.mu.Unlock()
}

// HandleMessage implements the six-step algorithm of spec §4.7 for one
// inbound frame. It fetches or creates the session, dispatches the
// decoded envelope, saves the session, and sends a response frame if one
// was produced.
func (p *Protocol) HandleMessage(ctx context.Context, sessionID string, raw []byte) {
	sess, ok := p.store.Get(ctx, sessionID)
	if !ok {
		sess = session.New(sessionID, "", nil)
	}
	sess.Touch()

	msg, parseErr := jsonrpc.Parse(raw)
	if parseErr != nil {
		p.sendAndSave(ctx, sess, jsonrpc.NewErrorResponse(nil, parseErr))
		return
	}

	switch m := msg.(type) {
	case jsonrpc.BatchRequest:
		resp := p.processBatch(ctx, sess, m)
		if len(resp) > 0 {
			p.sendAndSave(ctx, sess, jsonrpc.BatchResponse(resp))
		} else {
			p.saveSession(ctx, sess)
		}

	case jsonrpc.Request:
		if p.takeCancelled(sessionID, m.ID) {
			p.saveSession(ctx, sess)
			return
		}
		resp := p.processRequest(ctx, sess, m)
		p.sendAndSave(ctx, sess, resp)

	case jsonrpc.Notification:
		p.processNotification(ctx, sess, m)
		p.saveSession(ctx, sess)

	default:
		// Responses/ErrorResponses arriving inbound (a client replying to a
		// server-initiated request) are outside this runtime's scope; log
		// and drop.
		p.logger.Warn(ctx, "ignoring unexpected inbound message kind", zap.String("session_id", sessionID))
		p.saveSession(ctx, sess)
	}
}

// processBatch processes contained notifications first, then requests,
// per spec §4.7 step 2, collecting responses in original request order.
func (p *Protocol) processBatch(ctx context.Context, sess *session.Session, batch jsonrpc.BatchRequest) []jsonrpc.Message {
	for _, m := range batch {
		if n, ok := m.(jsonrpc.Notification); ok {
			p.processNotification(ctx, sess, n)
		}
	}

	var responses []jsonrpc.Message
	for _, m := range batch {
		req, ok := m.(jsonrpc.Request)
		if !ok {
			continue
		}
		if p.takeCancelled(sess.ID(), req.ID) {
			continue
		}
		responses = append(responses, p.processRequest(ctx, sess, req))
	}
	return responses
}

// processRequest calls the dispatcher and maps its outcome to a Response
// or ErrorResponse, per spec §4.7 step 3.
func (p *Protocol) processRequest(ctx context.Context, sess *session.Session, req jsonrpc.Request) jsonrpc.Message {
	if req.Method == "notifications/cancelled" {
		// A cancellation framed as a request (malformed client) is answered
		// with an empty result and is not dispatched; no cancellation is
		// recorded for it.
		return jsonrpc.NewResponse(req.ID, struct{}{})
	}

	result, mcpErr := p.safeDispatch(ctx, sess, req.Method, req.Params)
	if mcpErr != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewErrorFromMcp(mcpErr))
	}
	return jsonrpc.NewResponse(req.ID, result)
}

// processNotification calls the dispatcher and never produces output, per
// spec §4.7 step 4. "notifications/cancelled" is recognized here and
// recorded rather than forwarded to the dispatcher.
func (p *Protocol) processNotification(ctx context.Context, sess *session.Session, n jsonrpc.Notification) {
	if n.Method == "notifications/cancelled" {
		p.recordCancellation(ctx, sess.ID(), n.Params)
		return
	}
	if _, mcpErr := p.safeDispatch(ctx, sess, n.Method, n.Params); mcpErr != nil {
		p.logger.Warn(ctx, "notification handler returned an error, nothing to report to the client",
			zap.String("method", n.Method), zap.Int("code", mcpErr.Code), zap.String("message", mcpErr.Message))
	}
}

// safeDispatch calls the Dispatcher, converting any unexpected panic or
// plain error into an InternalError so a misbehaving handler can never
// crash the Protocol loop, per spec §4.7 step 3 ("catch any other
// throwable and synthesize InternalError").
func (p *Protocol) safeDispatch(ctx context.Context, sess *session.Session, method string, params json.RawMessage) (result any, mcpErr *jsonrpc.McpError) {
	defer func() {
		if r := recover(); r != nil {
			mcpErr = jsonrpc.NewMcpError(jsonrpc.CodeInternalError, "internal error handling method")
			result = nil
			p.logger.Error(ctx, "recovered from panic in dispatch", zap.String("method", method), zap.Any("panic", r))
		}
	}()
	return p.dispatch.Dispatch(ctx, sess, method, params)
}

type cancelledParams struct {
	RequestID any `json:"requestId"`
}

func (p *Protocol) recordCancellation(ctx context.Context, sessionID string, params json.RawMessage) {
	var cp cancelledParams
	if err := json.Unmarshal(params, &cp); err != nil || cp.RequestID == nil {
		p.logger.Warn(ctx, "malformed notifications/cancelled params", zap.String("session_id", sessionID))
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.cancelled[sessionID]
	if !ok {
		set = make(map[any]struct{})
		p.cancelled[sessionID] = set
	}
	set[normalizeID(cp.RequestID)] = struct{}{}
}

// takeCancelled reports whether id was previously cancelled for
// sessionID, clearing the record either way.
func (p *Protocol) takeCancelled(sessionID string, id any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.cancelled[sessionID]
	if !ok {
		return false
	}
	key := normalizeID(id)
	if _, found := set[key]; !found {
		return false
	}
	delete(set, key)
	return true
}

// normalizeID collapses JSON-number-decoded ids (float64) and string ids
// to comparable map keys.
func normalizeID(id any) any {
	if f, ok := id.(float64); ok {
		return f
	}
	return id
}

func (p *Protocol) saveSession(ctx context.Context, sess *session.Session) {
	if err := p.store.Save(ctx, sess); err != nil {
		p.logger.Warn(ctx, "failed to save session", zap.String("session_id", sess.ID()), zap.Error(err))
	}
}

// sendAndSave implements spec §4.7 steps 5-6: persist the session, then
// send the produced frame if there is one, logging (never retrying) a
// send failure.
func (p *Protocol) sendAndSave(ctx context.Context, sess *session.Session, resp jsonrpc.Message) {
	p.saveSession(ctx, sess)
	if resp == nil {
		return
	}
	if p.transport == nil {
		p.logger.Warn(ctx, "no transport attached, dropping response", zap.String("session_id", sess.ID()))
		return
	}
	if err := p.transport.Send(ctx, sess.ID(), resp); err != nil {
		p.logger.Error(ctx, "transport send failed", zap.String("session_id", sess.ID()), zap.Error(err))
	}
}
