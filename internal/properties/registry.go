// Package properties implements the property type registry: a table of
// PropertyType factories keyed by kind that turn raw attribute descriptors
// into typed, validated properties.
package properties

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// Registry maps kind names to PropertyType factories. It is safe for
// concurrent use; kinds may be registered while properties are created.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]types.PropertyType
}

// NewRegistry returns a Registry holding the seven built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[string]types.PropertyType)}
	for _, pt := range Builtins() {
		r.kinds[pt.Name()] = pt
	}
	return r
}

// Builtins returns a fresh factory for every built-in kind.
func Builtins() []types.PropertyType {
	return []types.PropertyType{
		BoolType{}, IntType{}, FloatType{}, StringType{},
		SymbolType{}, ItemType{}, JSONType{},
	}
}

// Register adds pt, replacing any factory already registered for its kind.
func (r *Registry) Register(pt types.PropertyType) error {
	if pt == nil || pt.Name() == "" {
		return fmt.Errorf("register property type: %w: empty kind", types.ErrInvalidProperty)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[pt.Name()] = pt
	return nil
}

// Lookup returns the factory registered for kind.
func (r *Registry) Lookup(kind string) (types.PropertyType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pt, ok := r.kinds[kind]
	return pt, ok
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Create reads the descriptor's "type" field and dispatches to the
// matching factory. Unknown kinds fail with ErrUnknownPropertyKind.
func (r *Registry) Create(res types.Resolver, raw json.RawMessage) (types.Property, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidProperty, err)
	}
	pt, ok := r.Lookup(head.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownPropertyKind, head.Type)
	}
	p, err := pt.CreateProperty(res, raw)
	if err != nil {
		return nil, fmt.Errorf("create %s property: %w", head.Type, err)
	}
	return p, nil
}
