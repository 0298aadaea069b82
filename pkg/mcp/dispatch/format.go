package dispatch

import (
	"encoding/base64"
	"encoding/json"
)

// ContentBlock is one unit of tool/prompt content, the wire shape MCP
// clients render.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ResourceContent is one item of a resources/read result.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// PromptMessage is one turn of a prompts/get result.
type PromptMessage struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
}

// promptShorthand is the {user?, assistant?} convenience shape a host
// handler may return instead of a full []PromptMessage.
type promptShorthand struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// ResultFormatter shapes raw handler return values into the content
// structures the wire protocol expects. It is injectable so a host can
// override any of the three conversions without touching the Dispatcher.
type ResultFormatter interface {
	FormatToolResult(value any) []ContentBlock
	FormatResourceContents(value any, uri, mime string) []ResourceContent
	FormatPromptMessages(value any) []PromptMessage
}

// DefaultFormatter implements the conversions spec §4.6 describes.
type DefaultFormatter struct{}

func (DefaultFormatter) FormatToolResult(value any) []ContentBlock {
	switch v := value.(type) {
	case nil:
		return []ContentBlock{{Type: "text", Text: ""}}
	case []ContentBlock:
		return v
	case ContentBlock:
		return []ContentBlock{v}
	case string:
		return []ContentBlock{{Type: "text", Text: v}}
	default:
		return []ContentBlock{{Type: "text", Text: jsonOrString(v)}}
	}
}

func (DefaultFormatter) FormatResourceContents(value any, uri, mime string) []ResourceContent {
	switch v := value.(type) {
	case []ResourceContent:
		return v
	case ResourceContent:
		if v.URI == "" {
			v.URI = uri
		}
		return []ResourceContent{v}
	case []byte:
		return []ResourceContent{{URI: uri, MimeType: withDefault(mime, "application/octet-stream"), Blob: base64.StdEncoding.EncodeToString(v)}}
	case string:
		return []ResourceContent{{URI: uri, MimeType: withDefault(mime, "text/plain"), Text: v}}
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			return []ResourceContent{{URI: uri, MimeType: withDefault(firstString(v["mimeType"], mime), "text/plain"), Text: text}}
		}
		if blob, ok := v["blob"].(string); ok {
			return []ResourceContent{{URI: uri, MimeType: withDefault(firstString(v["mimeType"], mime), "application/octet-stream"), Blob: blob}}
		}
		return []ResourceContent{{URI: uri, MimeType: withDefault(mime, "application/json"), Text: jsonOrString(v)}}
	default:
		return []ResourceContent{{URI: uri, MimeType: withDefault(mime, "application/json"), Text: jsonOrString(v)}}
	}
}

func (DefaultFormatter) FormatPromptMessages(value any) []PromptMessage {
	switch v := value.(type) {
	case []PromptMessage:
		return v
	case PromptMessage:
		return []PromptMessage{v}
	case map[string]any:
		var short promptShorthand
		if raw, err := json.Marshal(v); err == nil {
			_ = json.Unmarshal(raw, &short)
		}
		var out []PromptMessage
		if short.User != "" {
			out = append(out, PromptMessage{Role: "user", Content: ContentBlock{Type: "text", Text: short.User}})
		}
		if short.Assistant != "" {
			out = append(out, PromptMessage{Role: "assistant", Content: ContentBlock{Type: "text", Text: short.Assistant}})
		}
		if len(out) > 0 {
			return out
		}
		return []PromptMessage{{Role: "user", Content: ContentBlock{Type: "text", Text: jsonOrString(v)}}}
	case string:
		return []PromptMessage{{Role: "user", Content: ContentBlock{Type: "text", Text: v}}}
	default:
		return []PromptMessage{{Role: "user", Content: ContentBlock{Type: "text", Text: jsonOrString(v)}}}
	}
}

func jsonOrString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func withDefault(mime, fallback string) string {
	if mime == "" {
		return fallback
	}
	return mime
}

func firstString(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
