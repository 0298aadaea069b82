package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldironlabs/mcprt/pkg/mcp/dispatch"
	"github.com/coldironlabs/mcprt/pkg/mcp/protocol"
	"github.com/coldironlabs/mcprt/pkg/mcp/registry"
	"github.com/coldironlabs/mcprt/pkg/mcp/schema"
	"github.com/coldironlabs/mcprt/pkg/mcp/session/memory"
	"github.com/coldironlabs/mcprt/pkg/mcp/subscription"
	"github.com/coldironlabs/mcprt/pkg/mcpconfig"
)

func newTestServer(t *testing.T, opts ...Option) (*echo.Echo, *Transport, *memory.Store) {
	t.Helper()
	store := memory.New()
	reg := registry.New()
	subs, err := subscription.New(store)
	require.NoError(t, err)
	t.Cleanup(subs.Close)

	d := dispatch.New(reg, nil, schema.New(), subs, mcpconfig.Capabilities{}, 50, mcpconfig.ServerInfo{Name: "t", Version: "0"})
	p := protocol.New(store, d)

	allOpts := append([]Option{WithPollInterval(10 * time.Millisecond)}, opts...)
	tr := New(store, prometheus.NewRegistry(), allOpts...)
	p.SetTransport(tr)

	e := echo.New()
	tr.Register(e, p)
	return e, tr, store
}

func TestPostMessageWithoutSessionIDIsBadRequest(t *testing.T) {
	e, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp/message", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestPostMessageValidEnvelopeAccepted covers spec §4.10's default
// policy: a valid request envelope is accepted with 202, its Response
// delivered asynchronously via the session queue rather than the HTTP
// response body. HandleMessage creates the session on the fly if it
// doesn't already exist, so no prior GET /sse connection is required to
// exercise this path.
func TestPostMessageValidEnvelopeAccepted(t *testing.T) {
	e, _, _ := newTestServer(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp/message?sessionId=sess-1", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

// TestPostMessageSetsSessionHeaders covers the Mcp-Session-Id /
// Mcp-Protocol-Version supplement: a successful POST always echoes the
// session id, and the protocol version once initialize has negotiated one.
func TestPostMessageSetsSessionHeaders(t *testing.T) {
	e, _, _ := newTestServer(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp/message?sessionId=sess-headers", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "sess-headers", rec.Header().Get("Mcp-Session-Id"))
	assert.Equal(t, "2025-03-26", rec.Header().Get("Mcp-Protocol-Version"))
}

// TestPostMessageRejectsIncompleteAcceptHeaderWhenRequired covers the
// config-gated Accept-header validation lifted from the teacher's
// validateAcceptHeader: with the gate on, a request missing either
// required media type is rejected before it reaches the dispatcher.
func TestPostMessageRejectsIncompleteAcceptHeaderWhenRequired(t *testing.T) {
	e, _, _ := newTestServer(t, WithRequireAcceptBoth(true))

	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp/message?sessionId=sess-1", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAccept, "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

// TestPostMessageAcceptsCompleteAcceptHeaderWhenRequired is the
// companion positive case: both required media types present, gate on.
func TestPostMessageAcceptsCompleteAcceptHeaderWhenRequired(t *testing.T) {
	e, _, _ := newTestServer(t, WithRequireAcceptBoth(true))

	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp/message?sessionId=sess-1", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAccept, "application/json, text/event-stream")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSSEEndpointEmitsInitialEvent(t *testing.T) {
	e, _, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/mcp/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	reader := bufio.NewReader(rec.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: endpoint\n", line)
}

// TestMessageDeliveredThroughQueueReachesSSEStream exercises the full
// loop: POST enqueues a response frame via Transport.Send, and the SSE
// connection's poll loop picks it up on its next tick.
func TestMessageDeliveredThroughQueueReachesSSEStream(t *testing.T) {
	e, _, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	sseReq := httptest.NewRequest(http.MethodGet, "/mcp/sse", nil).WithContext(ctx)
	sseRec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		e.ServeHTTP(sseRec, sseReq)
		close(done)
	}()

	reader := bufio.NewReader(sseRec.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: endpoint\n", line)

	sessionID := extractSessionID(t, reader)
	require.NotEmpty(t, sessionID)

	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	postReq := httptest.NewRequest(http.MethodPost, "/mcp/message?sessionId="+sessionID, strings.NewReader(body))
	postReq.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	postRec := httptest.NewRecorder()
	e.ServeHTTP(postRec, postReq)
	assert.Equal(t, http.StatusAccepted, postRec.Code)

	<-done
	assert.Contains(t, sseRec.Body.String(), `"result"`)
}

// extractSessionID reads the "data: <endpoint-url>" line following the
// endpoint event header already consumed by the caller and pulls the
// sessionId query parameter out of it.
func extractSessionID(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	// "id: N\n"
	_, err := r.ReadString('\n')
	require.NoError(t, err)
	dataLine, err := r.ReadString('\n')
	require.NoError(t, err)
	idx := strings.Index(dataLine, "sessionId=")
	require.Greater(t, idx, -1)
	return strings.TrimSpace(dataLine[idx+len("sessionId="):])
}
