// Package sse implements the HTTP+SSE transport (spec component C10):
// many concurrent sessions, each with a GET /{prefix}/sse streaming
// connection and a POST /{prefix}/message endpoint, bridged through a
// per-session queue on the shared session.Store.
package sse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coldironlabs/mcprt/internal/logging"
	"github.com/coldironlabs/mcprt/pkg/mcp/jsonrpc"
	"github.com/coldironlabs/mcprt/pkg/mcp/protocol"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
)

const (
	defaultPollInterval      = 100 * time.Millisecond
	defaultKeepaliveInterval = 20 * time.Second
	defaultRateLimit         = 50 // requests/sec
	defaultBurst             = 100
)

// Transport is the HTTP+SSE transport. It owns no http.Server of its own;
// callers mount Register onto an existing *echo.Echo so the host can
// combine this with other routes (health checks, metrics, auth).
type Transport struct {
	store  session.Store
	prefix string
	logger *logging.Logger

	pollInterval      time.Duration
	keepaliveInterval time.Duration
	limiter           *rate.Limiter
	metrics           *metrics
	requireAcceptBoth bool

	unsubscribeAll func(sessionID string)
}

// Option configures a Transport at construction.
type Option func(*Transport)

// WithLogger attaches a structured logger; defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithPrefix overrides the default "/mcp" route prefix.
func WithPrefix(prefix string) Option {
	return func(t *Transport) { t.prefix = prefix }
}

// WithRateLimit overrides the default token-bucket rate (requests/sec)
// and burst size shared across every route this transport registers.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(t *Transport) { t.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst) }
}

// WithPollInterval overrides how often an open SSE connection checks its
// session's queue for new frames. Mainly useful to speed up tests.
func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) { t.pollInterval = d }
}

// WithUnsubscribeAll wires subscription.Manager.UnsubscribeAll so a
// disconnecting SSE client's subscriptions are torn down. Passed in
// rather than imported directly to avoid a dependency cycle.
func WithUnsubscribeAll(fn func(sessionID string)) Option {
	return func(t *Transport) { t.unsubscribeAll = fn }
}

// WithRequireAcceptBoth turns on Accept-header validation for POST
// /message, rejecting a request whose Accept header doesn't cover both
// application/json and text/event-stream, matching the teacher's
// validateAcceptHeader. Off by default since spec.md's POST endpoint
// doesn't mandate it; HTTPConfig.RequireAcceptBoth is the config knob a
// host wires this from.
func WithRequireAcceptBoth(require bool) Option {
	return func(t *Transport) { t.requireAcceptBoth = require }
}

// New constructs an SSE Transport backed by store. store must be the same
// session.Store the Protocol it will be registered against uses.
func New(store session.Store, reg prometheus.Registerer, opts ...Option) *Transport {
	t := &Transport{
		store:             store,
		prefix:            "/mcp",
		logger:            logging.NewNop(),
		pollInterval:      defaultPollInterval,
		keepaliveInterval: defaultKeepaliveInterval,
		limiter:           rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		metrics:           newMetrics(reg),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send implements protocol.Transport: it enqueues msg onto the session's
// message queue. The SSE loop servicing that session's connection (if
// any) delivers it on its next poll tick, per spec §4.10: "enqueue into
// the session's queue; the SSE loop delivers."
func (t *Transport) Send(ctx context.Context, sessionID string, msg jsonrpc.Message) error {
	frame, err := jsonrpc.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode outbound frame: %w", err)
	}
	sess, ok := t.store.Get(ctx, sessionID)
	if !ok {
		return fmt.Errorf("no such session: %s", sessionID)
	}
	sess.Enqueue(frame)
	return t.store.Save(ctx, sess)
}

// Register mounts the transport's routes and middleware chain onto e,
// driving p for every inbound frame.
func (t *Transport) Register(e *echo.Echo, p *protocol.Protocol) {
	group := e.Group(t.prefix,
		middleware.Recover(),
		middleware.RequestID(),
		rateLimitMiddleware(t.limiter, t.metrics),
		requestLogMiddleware(t.logger),
	)
	group.GET("/sse", t.handleSSE(p))
	group.POST("/message", t.handlePostMessage(p))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (t *Transport) handleSSE(p *protocol.Protocol) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		sessionID := uuid.New().String()
		p.OnClientConnected(ctx, sessionID)
		t.metrics.connectionsTotal.Inc()
		t.metrics.activeConnections.Inc()
		defer func() {
			t.metrics.activeConnections.Dec()
			p.OnClientDisconnected(ctx, sessionID, t.unsubscribeAll)
		}()

		resp := c.Response()
		resp.Header().Set(echo.HeaderContentType, "text/event-stream")
		resp.Header().Set("Cache-Control", "no-cache")
		resp.Header().Set("Connection", "keep-alive")
		resp.Header().Set("X-Accel-Buffering", "no")
		resp.WriteHeader(http.StatusOK)

		endpointURL := fmt.Sprintf("%s://%s%s/message?sessionId=%s", scheme(c.Request()), c.Request().Host, t.prefix, sessionID)
		seq := 0
		if err := writeSSEEvent(resp, &seq, "endpoint", endpointURL); err != nil {
			return err
		}
		resp.Flush()

		pollTicker := time.NewTicker(t.pollInterval)
		defer pollTicker.Stop()
		keepalive := time.NewTicker(t.keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil

			case <-pollTicker.C:
				sess, ok := t.store.Get(ctx, sessionID)
				if !ok {
					return nil
				}
				frames := sess.DrainQueue()
				if len(frames) == 0 {
					continue
				}
				for _, frame := range frames {
					if err := writeSSEEvent(resp, &seq, "message", string(frame)); err != nil {
						t.logger.Warn(ctx, "sse write failed, closing connection", zap.String("session_id", sessionID), zap.Error(err))
						return nil
					}
					t.metrics.messagesSentTotal.Inc()
				}
				if err := t.store.Save(ctx, sess); err != nil {
					t.logger.Warn(ctx, "failed to save session after drain", zap.String("session_id", sessionID), zap.Error(err))
				}
				resp.Flush()

			case <-keepalive.C:
				if _, err := io.WriteString(resp, ":\n\n"); err != nil {
					return nil
				}
				resp.Flush()
			}
		}
	}
}

func (t *Transport) handlePostMessage(p *protocol.Protocol) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessionID := c.QueryParam("sessionId")
		if sessionID == "" {
			t.metrics.postRequestsTotal.WithLabelValues("missing_session").Inc()
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "sessionId query parameter is required"})
		}

		if t.requireAcceptBoth && !validateAcceptHeader(c.Request().Header.Get(echo.HeaderAccept)) {
			t.metrics.postRequestsTotal.WithLabelValues("not_acceptable").Inc()
			return c.JSON(http.StatusNotAcceptable, map[string]string{
				"error": "Accept header must include both application/json and text/event-stream",
			})
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			t.metrics.postRequestsTotal.WithLabelValues("read_error").Inc()
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		}

		ctx := c.Request().Context()

		// Dispatch synchronously; any response the Protocol produces is
		// delivered asynchronously through Send -> the session queue ->
		// the SSE loop, per spec §4.10's default policy.
		p.HandleMessage(ctx, sessionID, body)

		t.setSessionHeaders(c, ctx, sessionID)
		t.metrics.postRequestsTotal.WithLabelValues("accepted").Inc()
		return c.NoContent(http.StatusAccepted)
	}
}

// setSessionHeaders stamps Mcp-Session-Id and, once negotiated,
// Mcp-Protocol-Version onto the response, matching the teacher's
// handleInitialize header contract — additive and harmless for clients
// that ignore them, but lets a Streamable-HTTP client track session
// identity across POSTs without parsing the body.
func (t *Transport) setSessionHeaders(c echo.Context, ctx context.Context, sessionID string) {
	c.Response().Header().Set("Mcp-Session-Id", sessionID)
	sess, ok := t.store.Get(ctx, sessionID)
	if !ok {
		return
	}
	if pv := sess.ProtocolVersion(); pv != "" {
		c.Response().Header().Set("Mcp-Protocol-Version", pv)
	}
}

// validateAcceptHeader reports whether accept covers both media types a
// Streamable-HTTP client must send, per the teacher's validateAcceptHeader.
func validateAcceptHeader(accept string) bool {
	if accept == "" {
		return false
	}
	return strings.Contains(accept, "application/json") && strings.Contains(accept, "text/event-stream")
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

func writeSSEEvent(w io.Writer, seq *int, event, data string) error {
	*seq++
	_, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, *seq, data)
	return err
}
