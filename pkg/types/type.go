package types

import (
	"encoding/json"
	"sort"
	"sync"
)

// Type is a named schema node. Parents form a DAG; the registry rejects
// cycles before a Type is published.
type Type struct {
	Name              string              // Unique name.
	Data              json.RawMessage     // Opaque metadata, not interpreted.
	Parents           []*Type             // Direct parents in declaration order.
	StaticProperties  map[string]Property // Properties of the type itself.
	DynamicProperties map[string]Property // Properties carried by item values.

	mu        sync.RWMutex
	instances map[string]*Item
}

// NewType returns a stub Type with no parents and no properties.
func NewType(name string, data json.RawMessage) *Type {
	return &Type{
		Name:              name,
		Data:              data,
		StaticProperties:  map[string]Property{},
		DynamicProperties: map[string]Property{},
		instances:         map[string]*Item{},
	}
}

// AddInstance records item as an instance of t.
func (t *Type) AddInstance(item *Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.instances == nil {
		t.instances = map[string]*Item{}
	}
	t.instances[item.ID] = item
}

// RemoveInstance drops the instance with the given id. Idempotent.
func (t *Type) RemoveInstance(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.instances, id)
}

// HasInstance reports whether an item with the given id is an instance of t.
func (t *Type) HasInstance(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.instances[id]
	return ok
}

// Instances returns the direct instances of t sorted by id.
// Returns an empty slice (not nil) when there are none.
func (t *Type) Instances() []*Item {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Item, 0, len(t.instances))
	for _, item := range t.instances {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ancestors returns every transitive parent of t in breadth-first order,
// each at most once. t itself is excluded.
func (t *Type) Ancestors() []*Type {
	seen := map[*Type]bool{t: true}
	var out []*Type
	queue := append([]*Type(nil), t.Parents...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, next.Parents...)
	}
	return out
}

// IsA reports whether t is other or descends from it.
func (t *Type) IsA(other *Type) bool {
	if t == other {
		return true
	}
	for _, ancestor := range t.Ancestors() {
		if ancestor == other {
			return true
		}
	}
	return false
}

// EffectiveStaticProperties merges the static properties of t and its
// ancestors. A declaration on a nearer type wins.
func (t *Type) EffectiveStaticProperties() map[string]Property {
	return t.effective(func(tp *Type) map[string]Property { return tp.StaticProperties })
}

// EffectiveDynamicProperties merges the dynamic properties of t and its
// ancestors. A declaration on a nearer type wins.
func (t *Type) EffectiveDynamicProperties() map[string]Property {
	return t.effective(func(tp *Type) map[string]Property { return tp.DynamicProperties })
}

func (t *Type) effective(props func(*Type) map[string]Property) map[string]Property {
	out := make(map[string]Property)
	for _, tp := range append([]*Type{t}, t.Ancestors()...) {
		for name, p := range props(tp) {
			if _, ok := out[name]; !ok {
				out[name] = p
			}
		}
	}
	return out
}

// ParentNames returns the names of the direct parents in declaration order.
func (t *Type) ParentNames() []string {
	names := make([]string, 0, len(t.Parents))
	for _, p := range t.Parents {
		names = append(names, p.Name)
	}
	return names
}

// MarshalJSON renders t in the wire shape of a type message, with parents
// as names and properties as descriptors.
func (t *Type) MarshalJSON() ([]byte, error) {
	type typeJSON struct {
		Name              string              `json:"name"`
		Data              json.RawMessage     `json:"data,omitempty"`
		Parents           []string            `json:"parents,omitempty"`
		StaticProperties  map[string]Property `json:"static_properties,omitempty"`
		DynamicProperties map[string]Property `json:"dynamic_properties,omitempty"`
	}
	return json.Marshal(typeJSON{
		Name:              t.Name,
		Data:              t.Data,
		Parents:           t.ParentNames(),
		StaticProperties:  t.StaticProperties,
		DynamicProperties: t.DynamicProperties,
	})
}
