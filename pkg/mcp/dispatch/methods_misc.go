package dispatch

import (
	"context"
	"encoding/json"

	"github.com/coldironlabs/mcprt/pkg/mcp/jsonrpc"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
)

// validLogLevels mirrors the RFC 5424 severity names the logging/setLevel
// request accepts.
var validLogLevels = map[string]struct{}{
	"debug": {}, "info": {}, "notice": {}, "warning": {},
	"error": {}, "critical": {}, "alert": {}, "emergency": {},
}

type loggingSetLevelParams struct {
	Level string `json:"level"`
}

func handleLoggingSetLevel(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p loggingSetLevelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("malformed logging/setLevel params: "+err.Error(), nil)
	}
	if _, ok := validLogLevels[p.Level]; !ok {
		return nil, invalidParams("unrecognized log level: "+p.Level, nil)
	}
	sess.SetLogLevel(p.Level)
	return struct{}{}, nil
}

// CompletionRef names the element a completion/complete request is
// narrowing suggestions for.
type CompletionRef struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// CompletionArgument is the partially-typed argument being completed.
type CompletionArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type completionCompleteParams struct {
	Ref      CompletionRef      `json:"ref"`
	Argument CompletionArgument `json:"argument"`
}

type completionValues struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

type completionCompleteResult struct {
	Completion completionValues `json:"completion"`
}

// handleCompletionComplete delegates to the configured CompletionProvider.
// A host that never configured one gets an always-empty candidate list
// rather than a dispatch error — completions are advisory.
func handleCompletionComplete(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p completionCompleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("malformed completion/complete params: "+err.Error(), nil)
	}

	if d.completion == nil {
		return completionCompleteResult{Completion: completionValues{Values: []string{}}}, nil
	}

	values, err := d.completion(ctx, p.Ref, p.Argument)
	if err != nil {
		return nil, internalError(err)
	}
	return completionCompleteResult{Completion: completionValues{Values: values, Total: len(values)}}, nil
}
