package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/coldironlabs/mcprt/internal/logging"
	"github.com/coldironlabs/mcprt/pkg/mcp/cache"
	"github.com/coldironlabs/mcprt/pkg/mcp/uritemplate"
)

// ListChangedFunc is invoked whenever a kind's list hash changes. Delivery
// is asynchronous and best-effort: a slow or blocked listener never stalls
// a registration call.
type ListChangedFunc func(kind Kind)

// Registry holds the four element kind tables plus optional cache-backed
// persistence of the discovered subset. Reads are lock-free via sync.Map;
// mutation only ever replaces map entries, so a concurrent lookup during
// registration observes either the old or the new record, never a torn
// state (per spec §5's shared-resource policy).
type Registry struct {
	tables map[Kind]*sync.Map // Kind -> sync.Map[string]*Element

	mu        sync.Mutex // guards listHashes and the changed-listeners fan-out
	listHashes map[Kind]string

	cache  cache.Cache
	logger *logging.Logger

	onChanged ListChangedFunc
	changedCh chan Kind
}

const cacheKey = "registry:discovered"

// Option configures a Registry at construction.
type Option func(*Registry)

// WithCache attaches a cache.Cache used by Save/Load.
func WithCache(c cache.Cache) Option {
	return func(r *Registry) { r.cache = c }
}

// WithLogger attaches a structured logger; defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithListChanged registers a callback invoked (from a private goroutine)
// whenever a kind's list hash changes after a mutation.
func WithListChanged(fn ListChangedFunc) Option {
	return func(r *Registry) { r.onChanged = fn }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		tables: map[Kind]*sync.Map{
			KindTool:             {},
			KindResource:         {},
			KindResourceTemplate: {},
			KindPrompt:           {},
		},
		listHashes: make(map[Kind]string),
		logger:     logging.NewNop(),
		changedCh:  make(chan Kind, 64),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.drainChanged()
	return r
}

func (r *Registry) drainChanged() {
	for kind := range r.changedCh {
		if r.onChanged != nil {
			r.onChanged(kind)
		}
	}
}

// register is the shared precedence/replacement logic for all four kinds.
// Invariant 1: on conflict the manual registration always wins; a
// discovered challenger is dropped and logged at debug. Otherwise the new
// element replaces the old one and a replacement warning is logged.
func (r *Registry) register(ctx context.Context, el Element) error {
	if err := validateIdentifier(el.Kind, el.Identifier); err != nil {
		return err
	}

	table := r.tables[el.Kind]
	existingVal, loaded := table.Load(el.Identifier)
	if loaded {
		existing := existingVal.(*Element)
		if existing.Manual && !el.Manual {
			r.logger.Debug(ctx, "discovered element dropped: manual registration wins",
				zap.String("kind", string(el.Kind)), zap.String("identifier", el.Identifier))
			return nil
		}
		r.logger.Warn(ctx, "element replaced",
			zap.String("kind", string(el.Kind)), zap.String("identifier", el.Identifier))
	}

	stored := el
	table.Store(el.Identifier, &stored)
	r.recomputeListHash(el.Kind)
	return nil
}

// RegisterTool registers a Tool. Its inputSchema (if present) is stored as
// given and not checked here; the Dispatcher compiles it with
// schema.Validator when the tool is called.
func (r *Registry) RegisterTool(ctx context.Context, el Element, isManual bool) error {
	el.Kind = KindTool
	el.Manual = isManual
	return r.register(ctx, el)
}

// RegisterResource registers a Resource.
func (r *Registry) RegisterResource(ctx context.Context, el Element, isManual bool) error {
	el.Kind = KindResource
	el.Manual = isManual
	return r.register(ctx, el)
}

// RegisterResourceTemplate registers a ResourceTemplate.
func (r *Registry) RegisterResourceTemplate(ctx context.Context, el Element, isManual bool) error {
	el.Kind = KindResourceTemplate
	el.Manual = isManual
	return r.register(ctx, el)
}

// RegisterPrompt registers a Prompt.
func (r *Registry) RegisterPrompt(ctx context.Context, el Element, isManual bool) error {
	el.Kind = KindPrompt
	el.Manual = isManual
	return r.register(ctx, el)
}

// GetTool looks up a tool by name.
func (r *Registry) GetTool(name string) (*Element, bool) {
	return r.get(KindTool, name)
}

// GetPrompt looks up a prompt by name.
func (r *Registry) GetPrompt(name string) (*Element, bool) {
	return r.get(KindPrompt, name)
}

func (r *Registry) get(kind Kind, identifier string) (*Element, bool) {
	v, ok := r.tables[kind].Load(identifier)
	if !ok {
		return nil, false
	}
	return v.(*Element), true
}

// GetResource resolves uri against registered resources first, then — if
// includeTemplates is true and no exact match exists — against registered
// resource templates, returning the first match and its extracted
// variable bindings.
func (r *Registry) GetResource(uri string, includeTemplates bool) (*Element, map[string]string, bool) {
	if el, ok := r.get(KindResource, uri); ok {
		return el, nil, true
	}
	if !includeTemplates {
		return nil, nil, false
	}

	var found *Element
	var vars map[string]string
	r.tables[KindResourceTemplate].Range(func(_, v any) bool {
		el := v.(*Element)
		tmpl, err := uritemplate.Compile(el.Identifier)
		if err != nil {
			return true
		}
		if m, ok := tmpl.Match(uri); ok {
			found = el
			vars = m
			return false
		}
		return true
	})
	if found == nil {
		return nil, nil, false
	}
	return found, vars, true
}

// List returns every element of kind, in a stable identifier order.
func (r *Registry) List(kind Kind) []*Element {
	var out []*Element
	r.tables[kind].Range(func(_, v any) bool {
		out = append(out, v.(*Element))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Clear removes discovered entries of every kind from the in-memory maps
// and, if a cache is configured, from the persisted snapshot. Manual
// entries are untouched.
func (r *Registry) Clear(ctx context.Context) error {
	for kind, table := range r.tables {
		var toDelete []string
		table.Range(func(k, v any) bool {
			el := v.(*Element)
			if !el.Manual {
				toDelete = append(toDelete, k.(string))
			}
			return true
		})
		for _, id := range toDelete {
			table.Delete(id)
		}
		r.recomputeListHash(kind)
	}
	if r.cache != nil {
		if err := r.cache.Delete(ctx, cacheKey); err != nil {
			r.logger.Warn(ctx, "cache delete failed during clear", zap.Error(err))
		}
	}
	return nil
}

// recomputeListHash recomputes a stable hash of kind's canonical-ordered
// projection and, if it changed, queues a list_changed event.
// ResourceTemplates never emit per spec §4.3.
func (r *Registry) recomputeListHash(kind Kind) {
	elements := r.List(kind)
	projection := make([]map[string]any, 0, len(elements))
	for _, el := range elements {
		projection = append(projection, map[string]any{
			"identifier": el.Identifier,
			"manual":     el.Manual,
		})
	}
	raw, _ := json.Marshal(projection)
	sum := sha256.Sum256(raw)
	newHash := hex.EncodeToString(sum[:])

	r.mu.Lock()
	oldHash := r.listHashes[kind]
	r.listHashes[kind] = newHash
	r.mu.Unlock()

	if oldHash == newHash {
		return
	}
	if kind == KindResourceTemplate {
		return
	}
	select {
	case r.changedCh <- kind:
	default:
		r.logger.Warn(context.Background(), "list_changed listener backlog full, dropping event",
			zap.String("kind", string(kind)))
	}
}
