package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coldironlabs/mcprt/pkg/mcp/dispatch"
	"github.com/coldironlabs/mcprt/pkg/mcp/registry"
)

// registerDemoElements seeds the registry with one element of each kind so
// a freshly started server has something to list and call before a real
// host wires in its own tools. Every registration here is manual — it
// always wins over anything a later manifest reload discovers under the
// same identifier.
func registerDemoElements(ctx context.Context, reg *registry.Registry) error {
	if err := reg.RegisterTool(ctx, registry.Element{
		Identifier:  "echo",
		Description: "Echoes back the provided text.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []any{"text"},
		},
		HandlerRef: registry.Inline(registry.HandlerFunc(echoTool)),
	}, true); err != nil {
		return fmt.Errorf("register echo tool: %w", err)
	}

	if err := reg.RegisterResource(ctx, registry.Element{
		Identifier:  "mcpd://status",
		Name:        "status",
		Description: "Static server status document.",
		MIMEType:    "text/plain",
		HandlerRef:  registry.Inline(registry.HandlerFunc(statusResource)),
	}, true); err != nil {
		return fmt.Errorf("register status resource: %w", err)
	}

	if err := reg.RegisterResourceTemplate(ctx, registry.Element{
		Identifier:  "mcpd://echo/{text}",
		Name:        "echo-template",
		Description: "Reflects the {text} path variable back as the resource body.",
		MIMEType:    "text/plain",
		HandlerRef:  registry.Inline(registry.HandlerFunc(echoTemplateResource)),
	}, true); err != nil {
		return fmt.Errorf("register echo resource template: %w", err)
	}

	if err := reg.RegisterPrompt(ctx, registry.Element{
		Identifier:  "greeting",
		Description: "A friendly greeting addressed to the given name.",
		Arguments: []registry.ArgumentSpec{
			{Name: "name", Description: "who to greet", Required: true},
		},
		HandlerRef: registry.Inline(registry.HandlerFunc(greetingPrompt)),
	}, true); err != nil {
		return fmt.Errorf("register greeting prompt: %w", err)
	}

	return nil
}

func echoTool(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return dispatch.ContentBlock{Type: "text", Text: in.Text}, nil
}

func statusResource(_ context.Context, _ json.RawMessage) (any, error) {
	return "ok", nil
}

func echoTemplateResource(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode template variables: %w", err)
	}
	return in.Text, nil
}

func greetingPrompt(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return fmt.Sprintf("Hello, %s! Welcome to mcpd.", in.Name), nil
}
