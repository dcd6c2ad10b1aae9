package schema

import (
	"fmt"
	"time"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// ApplySnapshot replaces the whole graph with the given Types and Items.
//
// Loading runs in two phases over a fresh arena: every Type is first
// created as a stub holding only its name and data, then each stub is
// refined by resolving its parents and property descriptors. Parents and
// item-property domains may therefore reference any Type in the snapshot
// regardless of order. Items are created once every Type is refined.
//
// On error the current graph is left untouched and no listener is
// notified. On success TypeCreated fires for every Type, then ItemCreated
// for every Item, in argument order.
func (r *Registry) ApplySnapshot(typeMsgs []types.TypeMessage, itemMsgs []types.ItemMessage) error {
	r.applyMu.Lock()
	events, err := r.applySnapshot(typeMsgs, itemMsgs)
	r.applyMu.Unlock()
	r.emit(events)
	return err
}

// ReplaceItems replaces the Item set while keeping the current Type
// declarations. The graph is rebuilt from those declarations, so Type
// pointers issued before the call are stale afterwards. Only ItemCreated
// events fire.
func (r *Registry) ReplaceItems(itemMsgs []types.ItemMessage) error {
	r.applyMu.Lock()
	events, err := r.replaceItems(itemMsgs)
	r.applyMu.Unlock()
	r.emit(events)
	return err
}

func (r *Registry) applySnapshot(typeMsgs []types.TypeMessage, itemMsgs []types.ItemMessage) ([]event, error) {
	g, typeOrder, itemOrder, err := r.build(typeMsgs, itemMsgs)
	if err != nil {
		return nil, err
	}
	r.swap(g)
	r.logger.Info("schema snapshot applied", "types", len(typeOrder), "items", len(itemOrder))

	events := make([]event, 0, len(typeOrder)+len(itemOrder))
	for _, t := range typeOrder {
		events = append(events, func(l types.SchemaListener) { l.TypeCreated(t) })
	}
	for _, item := range itemOrder {
		events = append(events, func(l types.SchemaListener) { l.ItemCreated(item) })
	}
	return events, nil
}

func (r *Registry) replaceItems(itemMsgs []types.ItemMessage) ([]event, error) {
	r.mu.RLock()
	decls := r.graph.sortedDecls()
	r.mu.RUnlock()

	g, _, itemOrder, err := r.build(decls, itemMsgs)
	if err != nil {
		return nil, err
	}
	r.swap(g)
	r.logger.Info("schema items replaced", "items", len(itemOrder))

	events := make([]event, 0, len(itemOrder))
	for _, item := range itemOrder {
		events = append(events, func(l types.SchemaListener) { l.ItemCreated(item) })
	}
	return events, nil
}

func (r *Registry) swap(g *graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graph = g
}

func (r *Registry) build(typeMsgs []types.TypeMessage, itemMsgs []types.ItemMessage) (*graph, []*types.Type, []*types.Item, error) {
	g := newGraph()

	// Phase 1: stubs.
	typeOrder := make([]*types.Type, 0, len(typeMsgs))
	for _, tm := range typeMsgs {
		if tm.Name == "" {
			return nil, nil, nil, &types.ProtocolError{Kind: types.MsgCoco, Err: fmt.Errorf("%w: type without name", types.ErrMalformedMessage)}
		}
		if _, dup := g.types[tm.Name]; dup {
			return nil, nil, nil, &types.ProtocolError{Kind: types.MsgCoco, Ref: tm.Name, Err: types.ErrDuplicate}
		}
		t := types.NewType(tm.Name, tm.Data)
		g.types[tm.Name] = t
		g.decls[tm.Name] = tm
		typeOrder = append(typeOrder, t)
	}

	// Phase 2: refine against the complete arena.
	for i, tm := range typeMsgs {
		if err := r.refine(g, typeOrder[i], tm); err != nil {
			return nil, nil, nil, withKind(types.MsgCoco, err)
		}
	}
	if err := checkCycles(typeOrder); err != nil {
		return nil, nil, nil, withKind(types.MsgCoco, err)
	}

	itemOrder := make([]*types.Item, 0, len(itemMsgs))
	for _, im := range itemMsgs {
		item, err := newItem(g, im, r.clock.Now())
		if err != nil {
			return nil, nil, nil, withKind(types.MsgCoco, err)
		}
		g.items[item.ID] = item
		itemOrder = append(itemOrder, item)
	}
	for _, item := range itemOrder {
		item.Type.AddInstance(item)
	}

	r.bindPendingDefaults(g, typeOrder)
	return g, typeOrder, itemOrder, nil
}

// refine resolves the parents and properties of stub t against res.
func (r *Registry) refine(res resolver, t *types.Type, tm types.TypeMessage) error {
	for _, name := range tm.Parents {
		parent, ok := res.Type(name)
		if !ok {
			return &types.ProtocolError{Ref: name, Err: fmt.Errorf("%w: parent of %q", types.ErrUnknownType, t.Name)}
		}
		t.Parents = append(t.Parents, parent)
	}
	for name, raw := range tm.StaticProperties {
		p, err := r.props.Create(res, raw)
		if err != nil {
			return &types.ProtocolError{Ref: t.Name + "." + name, Err: err}
		}
		t.StaticProperties[name] = p
	}
	for name, raw := range tm.DynamicProperties {
		p, err := r.props.Create(res, raw)
		if err != nil {
			return &types.ProtocolError{Ref: t.Name + "." + name, Err: err}
		}
		t.DynamicProperties[name] = p
	}
	return nil
}

// newItem creates an Item from im against res without publishing it. An
// initial value without a timestamp is stamped with now.
func newItem(res resolver, im types.ItemMessage, now time.Time) (*types.Item, error) {
	if im.ID == "" {
		return nil, &types.ProtocolError{Err: fmt.Errorf("%w: item without id", types.ErrMalformedMessage)}
	}
	if _, dup := res.Item(im.ID); dup {
		return nil, &types.ProtocolError{Ref: im.ID, Err: types.ErrDuplicate}
	}
	t, ok := res.Type(im.Type)
	if !ok {
		return nil, &types.ProtocolError{Ref: im.Type, Err: fmt.Errorf("%w: type of item %q", types.ErrUnknownType, im.ID)}
	}
	value := im.Value
	if value != nil && value.Timestamp.IsZero() {
		stamped := *value
		stamped.Timestamp = now.UTC()
		value = &stamped
	}
	return types.NewItem(im.ID, t, im.Properties, value), nil
}

// bindPendingDefaults resolves item-property default ids that named items
// of the same snapshot. Ids that still do not resolve are dropped.
func (r *Registry) bindPendingDefaults(res resolver, ts []*types.Type) {
	for _, t := range ts {
		for _, props := range []map[string]types.Property{t.StaticProperties, t.DynamicProperties} {
			for name, p := range props {
				ip, ok := p.(*types.ItemProperty)
				if !ok || len(ip.PendingDefault) == 0 {
					continue
				}
				for _, id := range ip.PendingDefault {
					if item, ok := res.Item(id); ok {
						ip.Default = append(ip.Default, item)
						continue
					}
					r.logger.Warn("dropping unresolved item default", "type", t.Name, "property", name, "item_id", id)
				}
				ip.PendingDefault = nil
			}
		}
	}
}

// checkCycles rejects any parent cycle reachable from ts, including a
// Type listing itself as parent.
func checkCycles(ts []*types.Type) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*types.Type]int, len(ts))
	var visit func(t *types.Type) error
	visit = func(t *types.Type) error {
		switch state[t] {
		case visiting:
			return &types.ProtocolError{Ref: t.Name, Err: types.ErrParentCycle}
		case done:
			return nil
		}
		state[t] = visiting
		for _, p := range t.Parents {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[t] = done
		return nil
	}
	for _, t := range ts {
		if err := visit(t); err != nil {
			return err
		}
	}
	return nil
}

// resolver is the read side of a graph, with or without the registry lock.
type resolver interface {
	Type(name string) (*types.Type, bool)
	Item(id string) (*types.Item, bool)
}

// overlay resolves one unpublished Type before falling back to base.
type overlay struct {
	base resolver
	t    *types.Type
}

func (o overlay) Type(name string) (*types.Type, bool) {
	if name == o.t.Name {
		return o.t, true
	}
	return o.base.Type(name)
}

func (o overlay) Item(id string) (*types.Item, bool) { return o.base.Item(id) }

// withKind stamps kind on a *ProtocolError that does not carry one yet.
func withKind(kind string, err error) error {
	if pe, ok := err.(*types.ProtocolError); ok && pe.Kind == "" {
		pe.Kind = kind
	}
	return err
}
