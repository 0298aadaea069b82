package stdio

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

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

func newTestProtocol(t *testing.T) *protocol.Protocol {
	t.Helper()
	store := memory.New()
	reg := registry.New()
	subs, err := subscription.New(store)
	require.NoError(t, err)
	t.Cleanup(subs.Close)

	d := dispatch.New(reg, nil, schema.New(), subs, mcpconfig.Capabilities{}, 50, mcpconfig.ServerInfo{Name: "t", Version: "0"})
	return protocol.New(store, d)
}

func TestRunProcessesOneLineThenEOF(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	var out bytes.Buffer

	tr := New(in, &out)
	p := newTestProtocol(t)
	p.SetTransport(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := tr.Run(ctx, p)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"result"`)
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r, _ := io.Pipe()
	var out bytes.Buffer
	tr := New(r, &out)
	p := newTestProtocol(t)
	p.SetTransport(tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, p) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
