package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldironlabs/mcprt/pkg/mcp/cache"
)

func noopHandler() Handler {
	return HandlerFunc(func(ctx context.Context, args json.RawMessage) (any, error) { return nil, nil })
}

func TestRegisterToolRejectsBadName(t *testing.T) {
	r := New()
	err := r.RegisterTool(context.Background(), Element{Identifier: "bad name!", HandlerRef: Inline(noopHandler())}, true)
	assert.Error(t, err)
}

func TestManualWinsOverDiscoveredEitherOrder(t *testing.T) {
	ctx := context.Background()

	r := New()
	require.NoError(t, r.RegisterTool(ctx, Element{Identifier: "x", HandlerRef: Inline(noopHandler())}, true))
	require.NoError(t, r.RegisterTool(ctx, Element{Identifier: "x", Description: "discovered", HandlerRef: Inline(noopHandler())}, false))
	el, ok := r.GetTool("x")
	require.True(t, ok)
	assert.Empty(t, el.Description, "manual registration must win when registered first")

	r2 := New()
	require.NoError(t, r2.RegisterTool(ctx, Element{Identifier: "y", Description: "discovered", HandlerRef: Inline(noopHandler())}, false))
	require.NoError(t, r2.RegisterTool(ctx, Element{Identifier: "y", Description: "manual", HandlerRef: Inline(noopHandler())}, true))
	el2, ok := r2.GetTool("y")
	require.True(t, ok)
	assert.Equal(t, "manual", el2.Description, "manual registration must win when registered second")
}

func TestResourceTemplateRequiresVariable(t *testing.T) {
	r := New()
	err := r.RegisterResourceTemplate(context.Background(), Element{Identifier: "file://static", HandlerRef: Inline(noopHandler())}, true)
	assert.Error(t, err)
}

func TestResourceRejectsTemplatedURI(t *testing.T) {
	r := New()
	err := r.RegisterResource(context.Background(), Element{Identifier: "file://{id}", HandlerRef: Inline(noopHandler())}, true)
	assert.Error(t, err)
}

func TestGetResourceFallsBackToTemplate(t *testing.T) {
	ctx := context.Background()
	r := New()
	require.NoError(t, r.RegisterResourceTemplate(ctx, Element{Identifier: "user://{id}/profile", HandlerRef: Inline(noopHandler())}, true))

	el, vars, ok := r.GetResource("user://42/profile", true)
	require.True(t, ok)
	assert.Equal(t, "user://{id}/profile", el.Identifier)
	assert.Equal(t, "42", vars["id"])

	_, _, ok = r.GetResource("user://42/profile", false)
	assert.False(t, ok, "includeTemplates=false must skip template matching")
}

func TestClearRemovesOnlyDiscovered(t *testing.T) {
	ctx := context.Background()
	r := New()
	require.NoError(t, r.RegisterTool(ctx, Element{Identifier: "manual-one", HandlerRef: Inline(noopHandler())}, true))
	require.NoError(t, r.RegisterTool(ctx, Element{Identifier: "found-one", HandlerRef: Inline(noopHandler())}, false))

	require.NoError(t, r.Clear(ctx))

	_, ok := r.GetTool("manual-one")
	assert.True(t, ok)
	_, ok = r.GetTool("found-one")
	assert.False(t, ok)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()

	r1 := New(WithCache(c))
	require.NoError(t, r1.RegisterTool(ctx, Element{
		Identifier:  "search",
		Description: "search things",
		HandlerRef:  ByMethod("SearchService", "Search"),
	}, false))
	require.NoError(t, r1.Save(ctx))

	r2 := New(WithCache(c))
	require.NoError(t, r2.Load(ctx))

	el, ok := r2.GetTool("search")
	require.True(t, ok)
	assert.Equal(t, "search things", el.Description)
	assert.Equal(t, "SearchService", el.HandlerRef.ClassName)
}

func TestLoadSkipsIdentifierAlreadyManual(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()

	seed := New(WithCache(c))
	require.NoError(t, seed.RegisterTool(ctx, Element{Identifier: "dup", Description: "from-cache", HandlerRef: ByInvokable("X")}, false))
	require.NoError(t, seed.Save(ctx))

	r := New(WithCache(c))
	require.NoError(t, r.RegisterTool(ctx, Element{Identifier: "dup", Description: "manual-wins", HandlerRef: Inline(noopHandler())}, true))
	require.NoError(t, r.Load(ctx))

	el, ok := r.GetTool("dup")
	require.True(t, ok)
	assert.Equal(t, "manual-wins", el.Description)
}

func TestListChangedFiresOnMutation(t *testing.T) {
	ctx := context.Background()
	changed := make(chan Kind, 4)
	r := New(WithListChanged(func(k Kind) { changed <- k }))

	require.NoError(t, r.RegisterTool(ctx, Element{Identifier: "a", HandlerRef: Inline(noopHandler())}, true))

	select {
	case k := <-changed:
		assert.Equal(t, KindTool, k)
	default:
		t.Fatal("expected a list_changed event")
	}
}

func TestResourceTemplateNeverEmitsListChanged(t *testing.T) {
	ctx := context.Background()
	changed := make(chan Kind, 4)
	r := New(WithListChanged(func(k Kind) { changed <- k }))

	require.NoError(t, r.RegisterResourceTemplate(ctx, Element{Identifier: "x://{id}", HandlerRef: Inline(noopHandler())}, true))

	select {
	case k := <-changed:
		t.Fatalf("resource templates must not emit list_changed, got %v", k)
	default:
	}
}
