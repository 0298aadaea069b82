package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldironlabs/mcprt/pkg/mcp/jsonrpc"
	"github.com/coldironlabs/mcprt/pkg/mcp/registry"
	"github.com/coldironlabs/mcprt/pkg/mcp/schema"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
	"github.com/coldironlabs/mcprt/pkg/mcp/session/memory"
	"github.com/coldironlabs/mcprt/pkg/mcp/subscription"
	"github.com/coldironlabs/mcprt/pkg/mcpconfig"
)

func newTestDispatcher(t *testing.T, caps mcpconfig.Capabilities) (*Dispatcher, *registry.Registry, *session.Session) {
	t.Helper()
	reg := registry.New()
	store := memory.New()
	subs, err := subscription.New(store)
	require.NoError(t, err)
	t.Cleanup(subs.Close)

	d := New(reg, nil, schema.New(), subs, caps, 50, mcpconfig.ServerInfo{Name: "test", Version: "0.0.1"})

	sess, err := store.Create(context.Background(), "2025-03-26", nil)
	require.NoError(t, err)
	return d, reg, sess
}

func fullCapabilities() mcpconfig.Capabilities {
	return mcpconfig.Capabilities{
		Tools:       true,
		Prompts:     true,
		Logging:     true,
		Completions: true,
		Resources: mcpconfig.ResourceCapabilities{
			Enabled:     true,
			Subscribe:   true,
			ListChanged: true,
		},
	}
}

func TestUnknownMethodIsMethodNotFound(t *testing.T) {
	d, _, sess := newTestDispatcher(t, fullCapabilities())
	_, mcpErr := d.Dispatch(context.Background(), sess, "nonexistent/method", nil)
	require.NotNil(t, mcpErr)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, mcpErr.Code)
}

// TestDisabledCapabilityWinsOverUninitialized verifies testable property 2:
// a disabled capability returns MethodNotFound regardless of session init
// state, never InvalidRequest.
func TestDisabledCapabilityWinsOverUninitialized(t *testing.T) {
	d, _, sess := newTestDispatcher(t, mcpconfig.Capabilities{}) // everything disabled
	assert.False(t, sess.Initialized())

	_, mcpErr := d.Dispatch(context.Background(), sess, "tools/list", nil)
	require.NotNil(t, mcpErr)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, mcpErr.Code)
}

// TestUninitializedSessionRejectsGatedMethod verifies testable property 1.
func TestUninitializedSessionRejectsGatedMethod(t *testing.T) {
	d, _, sess := newTestDispatcher(t, fullCapabilities())
	assert.False(t, sess.Initialized())

	_, mcpErr := d.Dispatch(context.Background(), sess, "tools/list", nil)
	require.NotNil(t, mcpErr)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, mcpErr.Code)
}

func TestInitializeNegotiatesNewestSupportedVersion(t *testing.T) {
	d, _, sess := newTestDispatcher(t, fullCapabilities())
	params, _ := json.Marshal(initializeParams{ProtocolVersion: "unknown-version"})

	result, mcpErr := d.Dispatch(context.Background(), sess, "initialize", params)
	require.Nil(t, mcpErr)
	res := result.(InitializeResult)
	assert.Equal(t, SupportedProtocolVersions[0], res.ProtocolVersion)
	assert.False(t, sess.Initialized())

	_, mcpErr = d.Dispatch(context.Background(), sess, "notifications/initialized", nil)
	require.Nil(t, mcpErr)
	assert.True(t, sess.Initialized())
}

func TestPingRequiresNoInitOrCapability(t *testing.T) {
	d, _, sess := newTestDispatcher(t, mcpconfig.Capabilities{})
	result, mcpErr := d.Dispatch(context.Background(), sess, "ping", nil)
	require.Nil(t, mcpErr)
	assert.NotNil(t, result)
}

// TestToolsCallValidationFailureReportsPointer covers scenario S2: a
// schema-invalid tool call returns InvalidParams with data.validation_errors.
func TestToolsCallValidationFailureReportsPointer(t *testing.T) {
	d, reg, sess := newTestDispatcher(t, fullCapabilities())
	sess.MarkInitialized()

	schemaDoc := map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []any{"name"},
	}
	err := reg.RegisterTool(context.Background(), registry.Element{
		Identifier:  "greet",
		InputSchema: schemaDoc,
		HandlerRef:  registry.Inline(registry.HandlerFunc(func(ctx context.Context, args json.RawMessage) (any, error) { return "hi", nil })),
	}, true)
	require.NoError(t, err)

	params, _ := json.Marshal(toolsCallParams{Name: "greet", Arguments: json.RawMessage(`{}`)})
	_, mcpErr := d.Dispatch(context.Background(), sess, "tools/call", params)
	require.NotNil(t, mcpErr)
	assert.Equal(t, jsonrpc.CodeInvalidParams, mcpErr.Code)
	data, ok := mcpErr.Data.(map[string]any)
	require.True(t, ok)
	validationErrors, ok := data["validation_errors"].([]schema.ValidationError)
	require.True(t, ok)
	require.NotEmpty(t, validationErrors)
}

// TestToolsCallHandlerErrorIsEncapsulated covers testable property 9: a
// handler-thrown error becomes a successful CallToolResult with isError
// true, never a JSON-RPC error.
func TestToolsCallHandlerErrorIsEncapsulated(t *testing.T) {
	d, reg, sess := newTestDispatcher(t, fullCapabilities())
	sess.MarkInitialized()

	err := reg.RegisterTool(context.Background(), registry.Element{
		Identifier: "boom",
		HandlerRef: registry.Inline(registry.HandlerFunc(func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, assert.AnError
		})),
	}, true)
	require.NoError(t, err)

	params, _ := json.Marshal(toolsCallParams{Name: "boom"})
	result, mcpErr := d.Dispatch(context.Background(), sess, "tools/call", params)
	require.Nil(t, mcpErr)
	res := result.(CallToolResult)
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "text", res.Content[0].Type)
}

func TestToolsListPagination(t *testing.T) {
	d, reg, sess := newTestDispatcher(t, fullCapabilities())
	sess.MarkInitialized()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		err := reg.RegisterTool(context.Background(), registry.Element{
			Identifier: name,
			HandlerRef: registry.Inline(registry.HandlerFunc(func(ctx context.Context, args json.RawMessage) (any, error) { return nil, nil })),
		}, true)
		require.NoError(t, err)
	}

	params, _ := json.Marshal(listParams{})
	result, mcpErr := d.Dispatch(context.Background(), sess, "tools/list", params)
	require.Nil(t, mcpErr)
	res := result.(toolsListResult)
	assert.Len(t, res.Tools, 3)
	assert.Empty(t, res.NextCursor)
}

func TestResourcesSubscribeUnknownCapabilityDisabled(t *testing.T) {
	caps := fullCapabilities()
	caps.Resources.Subscribe = false
	d, _, sess := newTestDispatcher(t, caps)
	sess.MarkInitialized()

	params, _ := json.Marshal(resourcesSubscribeParams{URI: "file:///a"})
	_, mcpErr := d.Dispatch(context.Background(), sess, "resources/subscribe", params)
	require.NotNil(t, mcpErr)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, mcpErr.Code)
}

func TestCompletionCompleteWithoutProviderReturnsEmpty(t *testing.T) {
	d, _, sess := newTestDispatcher(t, fullCapabilities())
	sess.MarkInitialized()

	params, _ := json.Marshal(completionCompleteParams{Ref: CompletionRef{Type: "ref/prompt", Name: "x"}})
	result, mcpErr := d.Dispatch(context.Background(), sess, "completion/complete", params)
	require.Nil(t, mcpErr)
	res := result.(completionCompleteResult)
	assert.Empty(t, res.Completion.Values)
}

func TestPromptsGetMissingRequiredArgument(t *testing.T) {
	d, reg, sess := newTestDispatcher(t, fullCapabilities())
	sess.MarkInitialized()

	err := reg.RegisterPrompt(context.Background(), registry.Element{
		Identifier: "welcome",
		Arguments:  []registry.ArgumentSpec{{Name: "username", Required: true}},
		HandlerRef: registry.Inline(registry.HandlerFunc(func(ctx context.Context, args json.RawMessage) (any, error) { return "hi", nil })),
	}, true)
	require.NoError(t, err)

	params, _ := json.Marshal(promptsGetParams{Name: "welcome"})
	_, mcpErr := d.Dispatch(context.Background(), sess, "prompts/get", params)
	require.NotNil(t, mcpErr)
	assert.Equal(t, jsonrpc.CodeInvalidParams, mcpErr.Code)
}
