package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coldironlabs/mcprt/pkg/mcp/jsonrpc"
	"github.com/coldironlabs/mcprt/pkg/mcp/registry"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
)

type promptDescriptor struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Arguments   []registry.ArgumentSpec `json:"arguments,omitempty"`
}

type promptsListResult struct {
	Prompts    []promptDescriptor `json:"prompts"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

func promptDescriptorOf(el *registry.Element) promptDescriptor {
	return promptDescriptor{Name: el.Identifier, Description: el.Description, Arguments: el.Arguments}
}

func handlePromptsList(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p listParams
	if len(params) > 0 {
		_ = json.Unmarshal(params, &p)
	}
	offset, ok := decodeCursor(p.Cursor)
	if !ok {
		d.logWarn(ctx, "invalid prompts/list cursor, restarting at offset 0")
	}

	all := d.registry.List(registry.KindPrompt)
	slice, next := page(all, offset, d.paginationLim)

	out := make([]promptDescriptor, 0, len(slice))
	for _, el := range slice {
		out = append(out, promptDescriptorOf(el))
	}
	return promptsListResult{Prompts: out, NextCursor: next}, nil
}

type promptsGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

type promptsGetResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

func handlePromptsGet(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p promptsGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("malformed prompts/get params: "+err.Error(), nil)
	}

	el, ok := d.registry.GetPrompt(p.Name)
	if !ok {
		return nil, jsonrpc.NewMcpError(jsonrpc.CodeInvalidParams, "unknown prompt: "+p.Name)
	}

	for _, arg := range el.Arguments {
		if arg.Required {
			if _, present := p.Arguments[arg.Name]; !present {
				return nil, invalidParams(fmt.Sprintf("missing required argument: %s", arg.Name), nil)
			}
		}
	}

	handler, err := registry.Resolve(el.HandlerRef, d.resolver)
	if err != nil {
		return nil, internalError(err)
	}

	args, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, internalError(err)
	}

	value, invokeErr := handler.Invoke(ctx, args)
	if invokeErr != nil {
		return nil, jsonrpc.NewMcpError(jsonrpc.CodeInternalError, invokeErr.Error())
	}

	return promptsGetResult{Description: el.Description, Messages: d.formatter.FormatPromptMessages(value)}, nil
}
