package dispatch

import (
	"context"
	"encoding/json"

	"github.com/coldironlabs/mcprt/pkg/mcp/jsonrpc"
	"github.com/coldironlabs/mcprt/pkg/mcp/registry"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
)

type listParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type toolsListResult struct {
	Tools      []toolDescriptor `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

func toolDescriptorOf(el *registry.Element) toolDescriptor {
	return toolDescriptor{Name: el.Identifier, Description: el.Description, InputSchema: el.InputSchema}
}

func handleToolsList(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p listParams
	if len(params) > 0 {
		_ = json.Unmarshal(params, &p)
	}

	offset, ok := decodeCursor(p.Cursor)
	if !ok {
		d.logWarn(ctx, "invalid tools/list cursor, restarting at offset 0")
	}

	all := d.registry.List(registry.KindTool)
	slice, next := page(all, offset, d.paginationLim)

	out := make([]toolDescriptor, 0, len(slice))
	for _, el := range slice {
		out = append(out, toolDescriptorOf(el))
	}
	return toolsListResult{Tools: out, NextCursor: next}, nil
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CallToolResult is the tools/call response shape. Handler-thrown errors
// are encapsulated here (isError: true) rather than surfaced as a
// JSON-RPC error, per spec §4.6/§7.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

func handleToolsCall(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("malformed tools/call params: "+err.Error(), nil)
	}

	el, ok := d.registry.GetTool(p.Name)
	if !ok {
		return nil, jsonrpc.NewMcpError(jsonrpc.CodeMethodNotFound, "unknown tool: "+p.Name)
	}

	args := p.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	if el.InputSchema != nil {
		if err := d.validator.Register(el.Identifier, el.InputSchema); err != nil {
			return nil, internalError(err)
		}
		var decoded any
		if err := json.Unmarshal(args, &decoded); err != nil {
			return nil, invalidParams("tool arguments are not valid JSON: "+err.Error(), nil)
		}
		result := d.validator.Validate(el.Identifier, decoded)
		if !result.Valid {
			return nil, invalidParams("tool arguments failed schema validation", result.Errors)
		}
	}

	handler, err := registry.Resolve(el.HandlerRef, d.resolver)
	if err != nil {
		return nil, internalError(err)
	}

	value, invokeErr := handler.Invoke(ctx, args)
	if invokeErr != nil {
		return CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: invokeErr.Error()}},
			IsError: true,
		}, nil
	}

	return CallToolResult{Content: d.formatter.FormatToolResult(value), IsError: false}, nil
}
