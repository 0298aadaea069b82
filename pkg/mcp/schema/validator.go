// Package schema validates tool input and output payloads against JSON
// Schema 2020-12 documents declared in element manifests, producing
// structured, pointer-addressed validation errors instead of bare strings.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError is one failed constraint, addressable by JSON pointer so
// a caller can map it back to a specific field in the offending payload.
type ValidationError struct {
	Pointer string `json:"pointer"`
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

// Result is the outcome of validating a single document against a schema.
type Result struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validator compiles and caches JSON Schema 2020-12 documents keyed by an
// arbitrary schema ID (typically "<tool-name>.input" / "<tool-name>.output").
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// New returns a Validator with an empty schema cache.
func New() *Validator {
	return &Validator{
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register compiles and stores a schema document under id. Re-registering
// the same id replaces the previous compiled schema, which the Dispatcher
// relies on: it re-registers a tool's schema on every tools/call.
func (v *Validator) Register(id string, doc map[string]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("schema %q: marshal: %w", id, err)
	}

	resourceName := "mem://" + id
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("schema %q: add resource: %w", id, err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("schema %q: compile: %w", id, err)
	}

	v.schemas[id] = compiled
	return nil
}

// Has reports whether a schema has been registered under id.
func (v *Validator) Has(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.schemas[id]
	return ok
}

// Validate checks doc (already decoded to Go values: map[string]any,
// []any, string, float64, bool, nil) against the schema registered under
// id. A missing schema id is treated as "no constraint" and reports valid.
func (v *Validator) Validate(id string, doc any) Result {
	v.mu.RLock()
	compiled, ok := v.schemas[id]
	v.mu.RUnlock()
	if !ok {
		return Result{Valid: true}
	}

	if err := compiled.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return Result{Valid: false, Errors: flatten(verr)}
		}
		return Result{Valid: false, Errors: []ValidationError{{Pointer: "", Keyword: "", Message: err.Error()}}}
	}
	return Result{Valid: true}
}

// flatten walks a jsonschema.ValidationError's cause tree into a flat,
// leaf-first list of pointer-addressed errors.
func flatten(verr *jsonschema.ValidationError) []ValidationError {
	var out []ValidationError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, ValidationError{
				Pointer: e.InstanceLocation,
				Keyword: lastSegment(e.KeywordLocation),
				Message: e.Message,
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return out
}

// lastSegment returns the final "/"-separated segment of a JSON pointer.
func lastSegment(loc string) string {
	for i := len(loc) - 1; i >= 0; i-- {
		if loc[i] == '/' {
			return loc[i+1:]
		}
	}
	return loc
}
