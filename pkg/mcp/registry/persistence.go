package registry

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// snapshot is the persisted cache payload shape spec §6 describes: one key
// storing the discovered-element set as four top-level arrays, each item
// {metadata, handlerRef}.
type snapshot struct {
	Tools             []elementDTO `json:"tools"`
	Resources         []elementDTO `json:"resources"`
	Prompts           []elementDTO `json:"prompts"`
	ResourceTemplates []elementDTO `json:"resourceTemplates"`
}

type elementDTO struct {
	Metadata   elementMetadata `json:"metadata"`
	HandlerRef handlerRefDTO   `json:"handlerRef"`
}

type elementMetadata struct {
	Identifier  string         `json:"identifier"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Name        string         `json:"name,omitempty"`
	MIMEType    string         `json:"mimeType,omitempty"`
	Size        *int64         `json:"size,omitempty"`
	Arguments   []ArgumentSpec `json:"arguments,omitempty"`
}

type handlerRefDTO struct {
	ClassName          string `json:"className,omitempty"`
	MethodName         string `json:"methodName,omitempty"`
	InvokableClassName string `json:"invokableClassName,omitempty"`
}

func toDTO(el *Element) elementDTO {
	return elementDTO{
		Metadata: elementMetadata{
			Identifier:  el.Identifier,
			Description: el.Description,
			InputSchema: el.InputSchema,
			Name:        el.Name,
			MIMEType:    el.MIMEType,
			Size:        el.Size,
			Arguments:   el.Arguments,
		},
		HandlerRef: handlerRefDTO{
			ClassName:          el.HandlerRef.ClassName,
			MethodName:         el.HandlerRef.MethodName,
			InvokableClassName: el.HandlerRef.InvokableClassName,
		},
	}
}

func fromDTO(kind Kind, dto elementDTO) Element {
	m := dto.Metadata
	return Element{
		Kind:        kind,
		Identifier:  m.Identifier,
		Description: m.Description,
		InputSchema: m.InputSchema,
		Name:        m.Name,
		MIMEType:    m.MIMEType,
		Size:        m.Size,
		Arguments:   m.Arguments,
		Manual:      false,
		HandlerRef: HandlerRef{
			ClassName:          dto.HandlerRef.ClassName,
			MethodName:         dto.HandlerRef.MethodName,
			InvokableClassName: dto.HandlerRef.InvokableClassName,
		},
	}
}

// Save persists only the discovered subset of every kind to the cache
// under a fixed key. Manual entries are excluded. Only the named handler
// forms are serialized: a discovered entry with an Inline handler is saved
// without it and comes back from Load with an empty HandlerRef.
func (r *Registry) Save(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}

	snap := snapshot{}
	for _, el := range r.List(KindTool) {
		if !el.Manual {
			snap.Tools = append(snap.Tools, toDTO(el))
		}
	}
	for _, el := range r.List(KindResource) {
		if !el.Manual {
			snap.Resources = append(snap.Resources, toDTO(el))
		}
	}
	for _, el := range r.List(KindPrompt) {
		if !el.Manual {
			snap.Prompts = append(snap.Prompts, toDTO(el))
		}
	}
	for _, el := range r.List(KindResourceTemplate) {
		if !el.Manual {
			snap.ResourceTemplates = append(snap.ResourceTemplates, toDTO(el))
		}
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.cache.Set(ctx, cacheKey, raw)
}

// Load reads the persisted snapshot and rehydrates discovered entries,
// skipping any identifier already registered as manual (invariant 1 still
// applies on load, same as a live registerDiscovered call would). A
// malformed payload is logged and ignored rather than returned as an
// error, since a corrupt cache must not prevent the server from starting.
func (r *Registry) Load(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}

	raw, ok, err := r.cache.Get(ctx, cacheKey)
	if err != nil {
		r.logger.Warn(ctx, "registry cache read failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		r.logger.Warn(ctx, "registry cache payload malformed, ignoring", zap.Error(err))
		return nil
	}

	r.loadKind(ctx, KindTool, snap.Tools)
	r.loadKind(ctx, KindResource, snap.Resources)
	r.loadKind(ctx, KindPrompt, snap.Prompts)
	r.loadKind(ctx, KindResourceTemplate, snap.ResourceTemplates)
	return nil
}

func (r *Registry) loadKind(ctx context.Context, kind Kind, items []elementDTO) {
	for _, dto := range items {
		el := fromDTO(kind, dto)
		if err := r.register(ctx, el); err != nil {
			r.logger.Warn(ctx, "discovered element from cache rejected",
				zap.String("kind", string(kind)), zap.String("identifier", el.Identifier), zap.Error(err))
		}
	}
}
