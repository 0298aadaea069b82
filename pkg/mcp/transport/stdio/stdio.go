// Package stdio implements the stdio transport (spec component C9): a
// single logical session reading newline-delimited JSON-RPC frames from
// stdin and writing responses to stdout, with stderr reserved for
// diagnostics.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/coldironlabs/mcprt/internal/logging"
	"github.com/coldironlabs/mcprt/pkg/mcp/jsonrpc"
	"github.com/coldironlabs/mcprt/pkg/mcp/protocol"
)

// SessionID is the fixed session identifier the stdio transport always
// uses, per spec §4.9: "a fixed sessionId (e.g. 'stdio')."
const SessionID = "stdio"

// maxLineBytes bounds a single line the scanner will buffer, guarding
// against an unbounded read from a misbehaving client.
const maxLineBytes = 16 * 1024 * 1024

// Transport reads newline-delimited JSON-RPC frames from r and writes
// newline-delimited responses to w, forwarding each inbound line to a
// protocol.Protocol and implementing protocol.Transport for outbound
// delivery.
type Transport struct {
	in     io.Reader
	out    io.Writer
	logger *logging.Logger

	mu sync.Mutex // guards writes to out
}

// Option configures a Transport at construction.
type Option func(*Transport)

// WithLogger attaches a structured logger; defaults to a no-op logger.
// Per spec §4.9, diagnostics must never reach stdout, so this logger's
// sink must not be stdout — callers are responsible for configuring it
// to write to stderr or elsewhere.
func WithLogger(l *logging.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New constructs a stdio Transport over the given reader/writer (normally
// os.Stdin/os.Stdout).
func New(r io.Reader, w io.Writer, opts ...Option) *Transport {
	t := &Transport{in: r, out: w, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send serializes msg and writes it as one line to stdout. sessionID is
// ignored: stdio is single-session by construction.
func (t *Transport) Send(ctx context.Context, sessionID string, msg jsonrpc.Message) error {
	frame, err := jsonrpc.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode outbound frame: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.out.Write(frame); err != nil {
		return err
	}
	_, err = t.out.Write([]byte("\n"))
	return err
}

// Run drives the read loop: each complete line is handed to p as one
// message. Run blocks until ctx is cancelled or the input stream is
// exhausted (EOF), at which point it logs the reason and returns, per spec §4.9's SIGINT/SIGTERM handling contract (the
// caller is expected to cancel ctx from a signal handler).
func (t *Transport) Run(ctx context.Context, p *protocol.Protocol) error {
	p.OnClientConnected(ctx, SessionID)
	defer p.OnClientDisconnected(ctx, SessionID, nil)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			cp := make([]byte, len(line))
			copy(cp, line)
			lines <- cp
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			t.logger.Debug(ctx, "stdio transport stopping: context cancelled")
			return nil
		case line, ok := <-lines:
			if !ok {
				err := <-scanErr
				if err != nil {
					t.logger.Warn(ctx, "stdio read loop ended with error", zap.Error(err))
					return err
				}
				t.logger.Debug(ctx, "stdio transport stopping: input closed")
				return nil
			}
			p.HandleMessage(ctx, SessionID, line)
		}
	}
}
