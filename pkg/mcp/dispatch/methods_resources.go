package dispatch

import (
	"context"
	"encoding/json"

	"github.com/coldironlabs/mcprt/pkg/mcp/jsonrpc"
	"github.com/coldironlabs/mcprt/pkg/mcp/registry"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
)

type resourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

type resourceTemplateDescriptor struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type resourcesListResult struct {
	Resources  []resourceDescriptor `json:"resources"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

type resourceTemplatesListResult struct {
	ResourceTemplates []resourceTemplateDescriptor `json:"resourceTemplates"`
	NextCursor        string                       `json:"nextCursor,omitempty"`
}

func resourceDescriptorOf(el *registry.Element) resourceDescriptor {
	return resourceDescriptor{URI: el.Identifier, Name: el.Name, Description: el.Description, MimeType: el.MIMEType, Size: el.Size}
}

func handleResourcesList(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p listParams
	if len(params) > 0 {
		_ = json.Unmarshal(params, &p)
	}
	offset, ok := decodeCursor(p.Cursor)
	if !ok {
		d.logWarn(ctx, "invalid resources/list cursor, restarting at offset 0")
	}

	all := d.registry.List(registry.KindResource)
	slice, next := page(all, offset, d.paginationLim)

	out := make([]resourceDescriptor, 0, len(slice))
	for _, el := range slice {
		out = append(out, resourceDescriptorOf(el))
	}
	return resourcesListResult{Resources: out, NextCursor: next}, nil
}

func handleResourceTemplatesList(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p listParams
	if len(params) > 0 {
		_ = json.Unmarshal(params, &p)
	}
	offset, ok := decodeCursor(p.Cursor)
	if !ok {
		d.logWarn(ctx, "invalid resources/templates/list cursor, restarting at offset 0")
	}

	all := d.registry.List(registry.KindResourceTemplate)
	slice, next := page(all, offset, d.paginationLim)

	out := make([]resourceTemplateDescriptor, 0, len(slice))
	for _, el := range slice {
		out = append(out, resourceTemplateDescriptor{URITemplate: el.Identifier, Name: el.Name, Description: el.Description, MimeType: el.MIMEType})
	}
	return resourceTemplatesListResult{ResourceTemplates: out, NextCursor: next}, nil
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

type resourcesReadResult struct {
	Contents []ResourceContent `json:"contents"`
}

func handleResourcesRead(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p resourcesReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("malformed resources/read params: "+err.Error(), nil)
	}

	el, vars, ok := d.registry.GetResource(p.URI, true)
	if !ok {
		return nil, jsonrpc.NewMcpError(jsonrpc.CodeInvalidParams, "resource not found: "+p.URI)
	}

	handler, err := registry.Resolve(el.HandlerRef, d.resolver)
	if err != nil {
		return nil, internalError(err)
	}

	argsMap := map[string]any{"uri": p.URI}
	for k, v := range vars {
		argsMap[k] = v
	}
	args, err := json.Marshal(argsMap)
	if err != nil {
		return nil, internalError(err)
	}

	value, invokeErr := handler.Invoke(ctx, args)
	if invokeErr != nil {
		return nil, jsonrpc.NewMcpError(jsonrpc.CodeInternalError, invokeErr.Error())
	}

	return resourcesReadResult{Contents: d.formatter.FormatResourceContents(value, p.URI, el.MIMEType)}, nil
}

type resourcesSubscribeParams struct {
	URI string `json:"uri"`
}

func handleResourcesSubscribe(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p resourcesSubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("malformed resources/subscribe params: "+err.Error(), nil)
	}
	if err := d.subscriptions.Subscribe(ctx, sess.ID(), p.URI); err != nil {
		return nil, internalError(err)
	}
	return struct{}{}, nil
}

func handleResourcesUnsubscribe(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p resourcesSubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("malformed resources/unsubscribe params: "+err.Error(), nil)
	}
	if err := d.subscriptions.Unsubscribe(ctx, sess.ID(), p.URI); err != nil {
		return nil, internalError(err)
	}
	return struct{}{}, nil
}
