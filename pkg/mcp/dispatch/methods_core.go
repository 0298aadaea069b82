package dispatch

import (
	"context"
	"encoding/json"

	"github.com/coldironlabs/mcprt/pkg/mcp/jsonrpc"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
)

// initializeParams is the inbound payload of the initialize request.
type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ClientInfo      json.RawMessage `json:"clientInfo"`
}

// InitializeResult is the initialize response shape spec §4.6 describes.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      serverInfoJ  `json:"serverInfo"`
	Capabilities    capabilitiesJ `json:"capabilities"`
	Instructions    string       `json:"instructions,omitempty"`
}

type serverInfoJ struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type capabilitiesJ struct {
	Tools       *toolsCapJ     `json:"tools,omitempty"`
	Resources   *resourcesCapJ `json:"resources,omitempty"`
	Prompts     *promptsCapJ   `json:"prompts,omitempty"`
	Logging     *struct{}      `json:"logging,omitempty"`
	Completions *struct{}      `json:"completions,omitempty"`
}

type toolsCapJ struct {
	ListChanged bool `json:"listChanged"`
}

type resourcesCapJ struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

type promptsCapJ struct {
	ListChanged bool `json:"listChanged"`
}

// negotiateProtocolVersion picks the newest protocol version this server
// supports, regardless of what the client requested (spec §6: "does not
// refuse on mismatch, but logs a warning"). matched reports whether the
// client requested that same version.
func negotiateProtocolVersion(requested string) (version string, matched bool) {
	latest := SupportedProtocolVersions[0]
	return latest, requested == latest
}

func handleInitialize(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	var p initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams("malformed initialize params: "+err.Error(), nil)
		}
	}

	version, matched := negotiateProtocolVersion(p.ProtocolVersion)
	if !matched {
		d.logWarn(ctx, "client requested a different protocol version, answering with latest supported")
	}
	sess.SetProtocolVersion(version)
	sess.SetClientInfo(p.ClientInfo)

	caps := capabilitiesJ{}
	if d.capabilities.Tools {
		caps.Tools = &toolsCapJ{ListChanged: true}
	}
	if d.capabilities.Resources.Enabled {
		caps.Resources = &resourcesCapJ{
			Subscribe:   d.capabilities.Resources.Subscribe,
			ListChanged: d.capabilities.Resources.ListChanged,
		}
	}
	if d.capabilities.Prompts {
		caps.Prompts = &promptsCapJ{ListChanged: true}
	}
	if d.capabilities.Logging {
		caps.Logging = &struct{}{}
	}
	if d.capabilities.Completions {
		caps.Completions = &struct{}{}
	}

	return InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      serverInfoJ{Name: d.serverInfo.Name, Version: d.serverInfo.Version},
		Capabilities:    caps,
		Instructions:    d.instructions,
	}, nil
}

func handleInitialized(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	sess.MarkInitialized()
	return nil, nil
}

func handlePing(ctx context.Context, d *Dispatcher, sess *session.Session, params json.RawMessage) (any, *jsonrpc.McpError) {
	return struct{}{}, nil
}
