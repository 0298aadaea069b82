package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler is the host-provided callable the Dispatcher invokes to produce
// a result for a given element. The core never executes business logic;
// it only ever calls through this interface.
type Handler interface {
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

func (f HandlerFunc) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	return f(ctx, args)
}

// HandlerRef is the opaque descriptor spec §3 calls HandlerRef: either a
// (className, methodName) pair, an invokableClassName, or an inline
// Handler the caller already holds. Exactly one form should be set.
type HandlerRef struct {
	ClassName          string
	MethodName         string
	InvokableClassName string
	Inline             Handler
}

// Inline wraps a Handler directly as a HandlerRef, the common case for
// programmatic (manual) registration.
func Inline(h Handler) HandlerRef {
	return HandlerRef{Inline: h}
}

// ByMethod builds a HandlerRef naming a (class, method) pair for container
// resolution.
func ByMethod(className, methodName string) HandlerRef {
	return HandlerRef{ClassName: className, MethodName: methodName}
}

// ByInvokable builds a HandlerRef naming a single invokable class.
func ByInvokable(className string) HandlerRef {
	return HandlerRef{InvokableClassName: className}
}

// ContainerResolver resolves a HandlerRef that names a class/method pair
// or an invokable class name to a concrete Handler, standing in for the
// host's dependency-injection container (explicitly out of core scope
// per spec §1).
type ContainerResolver interface {
	Resolve(ref HandlerRef) (Handler, error)
}

// Resolve returns ref's Handler directly if it is Inline, otherwise
// delegates to resolver. A nil resolver with a non-inline ref is a
// programming error surfaced as a plain error.
func Resolve(ref HandlerRef, resolver ContainerResolver) (Handler, error) {
	if ref.Inline != nil {
		return ref.Inline, nil
	}
	if resolver == nil {
		return nil, fmt.Errorf("handler ref %+v requires a container resolver, none configured", ref)
	}
	return resolver.Resolve(ref)
}
