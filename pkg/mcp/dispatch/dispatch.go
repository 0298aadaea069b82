// Package dispatch implements the Dispatcher (spec component C6): a fixed
// method table gating each MCP request/notification on session-init state
// and server capabilities, validating arguments, invoking handlers through
// a ContainerResolver, and delegating result shaping to an injectable
// ResultFormatter.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/coldironlabs/mcprt/internal/logging"
	"github.com/coldironlabs/mcprt/pkg/mcp/jsonrpc"
	"github.com/coldironlabs/mcprt/pkg/mcp/registry"
	"github.com/coldironlabs/mcprt/pkg/mcp/schema"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
	"github.com/coldironlabs/mcprt/pkg/mcp/subscription"
	"github.com/coldironlabs/mcprt/pkg/mcpconfig"
)

// SupportedProtocolVersions, newest first. The server always answers with
// the newest it supports regardless of what the client requested (spec
// §6: "does not refuse on mismatch, but logs a warning").
var SupportedProtocolVersions = []string{"2025-03-26", "2024-11-05"}

// CompletionProvider answers completion/complete requests. Returning a nil
// provider from New yields an always-empty candidate list; hosts that want
// real completions supply one via WithCompletionProvider.
type CompletionProvider func(ctx context.Context, ref CompletionRef, argument CompletionArgument) ([]string, error)

type methodEntry struct {
	requireInit    bool
	capabilityName string
	capability     func(mcpconfig.Capabilities) bool
	handle         func(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError)
}

// Dispatcher routes a parsed method name to its handler, per the fixed
// table in spec §4.6.
type Dispatcher struct {
	registry      *registry.Registry
	resolver      registry.ContainerResolver
	validator     *schema.Validator
	subscriptions *subscription.Manager
	formatter     ResultFormatter
	capabilities  mcpconfig.Capabilities
	paginationLim int
	serverInfo    mcpconfig.ServerInfo
	instructions  string
	completion    CompletionProvider
	logger        *logging.Logger

	methods map[string]methodEntry
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithFormatter overrides the default result formatter.
func WithFormatter(f ResultFormatter) Option {
	return func(d *Dispatcher) { d.formatter = f }
}

// WithLogger attaches a structured logger; defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithCompletionProvider supplies a completion/complete implementation.
func WithCompletionProvider(p CompletionProvider) Option {
	return func(d *Dispatcher) { d.completion = p }
}

// WithInstructions sets the instructions string returned from initialize.
func WithInstructions(s string) Option {
	return func(d *Dispatcher) { d.instructions = s }
}

// New constructs a Dispatcher wired to its collaborators.
func New(
	reg *registry.Registry,
	resolver registry.ContainerResolver,
	validator *schema.Validator,
	subs *subscription.Manager,
	capabilities mcpconfig.Capabilities,
	paginationLimit int,
	serverInfo mcpconfig.ServerInfo,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		registry:      reg,
		resolver:      resolver,
		validator:     validator,
		subscriptions: subs,
		formatter:     DefaultFormatter{},
		capabilities:  capabilities,
		paginationLim: paginationLimit,
		serverInfo:    serverInfo,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.methods = d.buildMethodTable()
	return d
}

// Dispatch routes method to its handler. The returned *jsonrpc.McpError is
// nil on success. Callers must not surface a non-nil error for a
// Notification as a JSON-RPC response — notifications never reply on the
// wire, per spec §4.7.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, method string, params json.RawMessage) (any, *jsonrpc.McpError) {
	entry, ok := d.methods[method]
	if !ok {
		return nil, jsonrpc.NewMcpError(jsonrpc.CodeMethodNotFound, fmt.Sprintf("method not found: %s", method))
	}

	if entry.capability != nil && !entry.capability(d.capabilities) {
		return nil, jsonrpc.NewMcpError(jsonrpc.CodeMethodNotFound,
			fmt.Sprintf("method not found: %s capability is disabled", entry.capabilityName))
	}

	if entry.requireInit && !sess.Initialized() {
		return nil, jsonrpc.NewMcpError(jsonrpc.CodeInvalidRequest, "session has not completed initialization")
	}

	return entry.handle(ctx, d, sess, params)
}

func (d *Dispatcher) buildMethodTable() map[string]methodEntry {
	capTools := func(c mcpconfig.Capabilities) bool { return c.Tools }
	capResources := func(c mcpconfig.Capabilities) bool { return c.Resources.Enabled }
	capSubscribe := func(c mcpconfig.Capabilities) bool { return c.Resources.Enabled && c.Resources.Subscribe }
	capPrompts := func(c mcpconfig.Capabilities) bool { return c.Prompts }
	capLogging := func(c mcpconfig.Capabilities) bool { return c.Logging }
	capCompletions := func(c mcpconfig.Capabilities) bool { return c.Completions }

	return map[string]methodEntry{
		"initialize": {handle: handleInitialize},
		"notifications/initialized": {handle: handleInitialized},
		"ping":                      {handle: handlePing},

		"tools/list": {requireInit: true, capabilityName: "tools", capability: capTools, handle: handleToolsList},
		"tools/call": {requireInit: true, capabilityName: "tools", capability: capTools, handle: handleToolsCall},

		"resources/list":           {requireInit: true, capabilityName: "resources", capability: capResources, handle: handleResourcesList},
		"resources/templates/list": {requireInit: true, capabilityName: "resources", capability: capResources, handle: handleResourceTemplatesList},
		"resources/read":           {requireInit: true, capabilityName: "resources", capability: capResources, handle: handleResourcesRead},
		"resources/subscribe":      {requireInit: true, capabilityName: "resources.subscribe", capability: capSubscribe, handle: handleResourcesSubscribe},
		"resources/unsubscribe":    {requireInit: true, capabilityName: "resources.subscribe", capability: capSubscribe, handle: handleResourcesUnsubscribe},

		"prompts/list": {requireInit: true, capabilityName: "prompts", capability: capPrompts, handle: handlePromptsList},
		"prompts/get":  {requireInit: true, capabilityName: "prompts", capability: capPrompts, handle: handlePromptsGet},

		"logging/setLevel":      {requireInit: true, capabilityName: "logging", capability: capLogging, handle: handleLoggingSetLevel},
		"completion/complete":   {requireInit: true, capabilityName: "completions", capability: capCompletions, handle: handleCompletionComplete},
	}
}

func invalidParams(msg string, validationErrors []schema.ValidationError) *jsonrpc.McpError {
	var data any
	if len(validationErrors) > 0 {
		data = map[string]any{"validation_errors": validationErrors}
	}
	return &jsonrpc.McpError{Code: jsonrpc.CodeInvalidParams, Message: msg, Data: data}
}

func internalError(err error) *jsonrpc.McpError {
	return jsonrpc.NewMcpError(jsonrpc.CodeInternalError, err.Error())
}

func (d *Dispatcher) logWarn(ctx context.Context, msg string, fields ...zap.Field) {
	d.logger.Warn(ctx, msg, fields...)
}
