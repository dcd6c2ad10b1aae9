// Package schema implements the schema registry: the in-memory mirror of
// the server's Type graph and Item set. It applies full snapshots with a
// two-phase load, applies incremental messages, and notifies schema
// listeners of every change.
package schema

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/mesh-intelligence/coco/internal/clock"
	"github.com/mesh-intelligence/coco/internal/listeners"
	"github.com/mesh-intelligence/coco/internal/properties"
	"github.com/mesh-intelligence/coco/pkg/types"
)

// PropertyFactory materializes property descriptors. *properties.Registry
// implements it.
type PropertyFactory interface {
	Create(r types.Resolver, raw json.RawMessage) (types.Property, error)
}

// Config configures a Registry. Zero fields take defaults.
type Config struct {
	// Properties creates properties from descriptors. Defaults to
	// properties.NewRegistry().
	Properties PropertyFactory
	// Clock timestamps values that arrive without one. Defaults to
	// clock.Real().
	Clock clock.Clock
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Registry owns the Type graph and Item set. It is safe for concurrent
// use. Listener callbacks run on the goroutine that applied the change,
// after the registry locks have been released.
type Registry struct {
	props  PropertyFactory
	clock  clock.Clock
	logger *slog.Logger

	// applyMu serializes writers; mu guards graph for readers. Events
	// are emitted after applyMu is released so listeners may apply
	// further messages.
	applyMu sync.Mutex
	mu      sync.RWMutex
	graph   *graph

	listeners listeners.Set[types.SchemaListener]
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	if cfg.Properties == nil {
		cfg.Properties = properties.NewRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		props:  cfg.Properties,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		graph:  newGraph(),
	}
}

// AddListener subscribes l to schema events and returns a function that
// unsubscribes it.
func (r *Registry) AddListener(l types.SchemaListener) (remove func()) {
	return r.listeners.Add(l)
}

// Type returns the Type with the given name.
func (r *Registry) Type(name string) (*types.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.Type(name)
}

// Item returns the Item with the given id.
func (r *Registry) Item(id string) (*types.Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.Item(id)
}

// Types returns all Types sorted by name.
func (r *Registry) Types() []*types.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Type, 0, len(r.graph.types))
	for _, t := range r.graph.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Items returns all Items sorted by id.
func (r *Registry) Items() []*types.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.sortedItems()
}

// Len returns the number of Types and Items.
func (r *Registry) Len() (typeCount, itemCount int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.graph.types), len(r.graph.items)
}

// event is one pending listener notification.
type event func(types.SchemaListener)

// emit delivers events in order, each to every current listener.
func (r *Registry) emit(events []event) {
	for _, ev := range events {
		r.listeners.Each(ev)
	}
}

// graph is one generation of the Type/Item arena. A snapshot builds a
// fresh graph and swaps it in whole; incremental messages mutate the
// current one under the registry's write lock.
type graph struct {
	types map[string]*types.Type
	items map[string]*types.Item
	// decls keeps each Type's declaration so an items-only resync can
	// rebuild the graph against the same Types.
	decls map[string]types.TypeMessage
}

func newGraph() *graph {
	return &graph{
		types: make(map[string]*types.Type),
		items: make(map[string]*types.Item),
		decls: make(map[string]types.TypeMessage),
	}
}

func (g *graph) Type(name string) (*types.Type, bool) {
	t, ok := g.types[name]
	return t, ok
}

func (g *graph) Item(id string) (*types.Item, bool) {
	item, ok := g.items[id]
	return item, ok
}

func (g *graph) sortedItems() []*types.Item {
	out := make([]*types.Item, 0, len(g.items))
	for _, item := range g.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *graph) sortedDecls() []types.TypeMessage {
	out := make([]types.TypeMessage, 0, len(g.decls))
	for _, d := range g.decls {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
