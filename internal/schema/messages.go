package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// ApplyMessage applies one duplex channel message. Unrecognized kinds are
// ignored. Failures are returned as *types.ProtocolError and leave the
// registry unchanged.
func (r *Registry) ApplyMessage(msg types.Message) error {
	r.applyMu.Lock()
	events, err := r.applyMessage(msg)
	r.applyMu.Unlock()
	if err != nil {
		return withKind(msg.Kind, err)
	}
	r.emit(events)
	return nil
}

func (r *Registry) applyMessage(msg types.Message) ([]event, error) {
	switch msg.Kind {
	case types.MsgCoco:
		return r.applyCoco(msg.Raw)
	case types.MsgNewType:
		return r.applyNewType(msg.Raw)
	case types.MsgNewItem:
		return r.applyNewItem(msg.Raw)
	case types.MsgNewData:
		return r.applyNewData(msg.Raw)
	case types.MsgDeletedItem:
		return r.applyDeletedItem(msg.Raw)
	default:
		r.logger.Debug("ignoring message", "msg_type", msg.Kind)
		return nil, nil
	}
}

func (r *Registry) applyCoco(raw json.RawMessage) ([]event, error) {
	var body struct {
		Types json.RawMessage `json:"types"`
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, malformed(err)
	}
	items, err := decodeEntries(body.Items, func(key string, im *types.ItemMessage) {
		if im.ID == "" {
			im.ID = key
		}
	})
	if err != nil {
		return nil, err
	}
	if isAbsent(body.Types) {
		return r.replaceItems(items)
	}
	decls, err := decodeEntries(body.Types, func(key string, tm *types.TypeMessage) {
		if tm.Name == "" {
			tm.Name = key
		}
	})
	if err != nil {
		return nil, err
	}
	return r.applySnapshot(decls, items)
}

func (r *Registry) applyNewType(raw json.RawMessage) ([]event, error) {
	var tm types.TypeMessage
	if err := json.Unmarshal(raw, &tm); err != nil {
		return nil, malformed(err)
	}
	if tm.Name == "" {
		return nil, malformed(errors.New("type without name"))
	}

	r.mu.RLock()
	_, dup := r.graph.types[tm.Name]
	r.mu.RUnlock()
	if dup {
		return nil, &types.ProtocolError{Ref: tm.Name, Err: types.ErrDuplicate}
	}

	// Writers are serialized by applyMu, so the graph can be read
	// without mu while the new Type is refined off to the side.
	t := types.NewType(tm.Name, tm.Data)
	res := overlay{base: r.graph, t: t}
	if err := r.refine(res, t, tm); err != nil {
		return nil, err
	}
	if err := checkCycles([]*types.Type{t}); err != nil {
		return nil, err
	}
	r.bindPendingDefaults(res, []*types.Type{t})

	r.mu.Lock()
	r.graph.types[t.Name] = t
	r.graph.decls[t.Name] = tm
	r.mu.Unlock()

	r.logger.Debug("type created", "type", t.Name)
	return []event{func(l types.SchemaListener) { l.TypeCreated(t) }}, nil
}

func (r *Registry) applyNewItem(raw json.RawMessage) ([]event, error) {
	var im types.ItemMessage
	if err := json.Unmarshal(raw, &im); err != nil {
		return nil, malformed(err)
	}
	item, err := newItem(r.graph, im, r.clock.Now())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.graph.items[item.ID] = item
	item.Type.AddInstance(item)
	r.mu.Unlock()

	r.logger.Debug("item created", "item_id", item.ID, "type", item.Type.Name)
	return []event{func(l types.SchemaListener) { l.ItemCreated(item) }}, nil
}

func (r *Registry) applyNewData(raw json.RawMessage) ([]event, error) {
	var body struct {
		ID        string          `json:"id"`
		ItemID    string          `json:"item_id"`
		Value     json.RawMessage `json:"value"`
		Data      json.RawMessage `json:"data"`
		Timestamp *int64          `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, malformed(err)
	}
	id := body.ID
	if id == "" {
		id = body.ItemID
	}
	if id == "" {
		return nil, malformed(errors.New("new_data without id"))
	}

	r.mu.RLock()
	item, ok := r.graph.items[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &types.ProtocolError{Ref: id, Err: types.ErrUnknownItem}
	}

	v, err := r.decodeValue(body.Value, body.Data, body.Timestamp)
	if err != nil {
		return nil, err
	}
	item.AppendValue(v)
	return []event{func(l types.SchemaListener) { l.ItemValueChanged(item, v) }}, nil
}

// decodeValue accepts {"value": {"data": d, "timestamp": ms}},
// {"value": d} or {"data": d, "timestamp": ms}. A missing timestamp is
// the registry clock's current time.
func (r *Registry) decodeValue(value, data json.RawMessage, ts *int64) (types.Value, error) {
	if !isAbsent(value) {
		var structured struct {
			Data      json.RawMessage `json:"data"`
			Timestamp *int64          `json:"timestamp"`
		}
		trimmed := bytes.TrimSpace(value)
		if trimmed[0] == '{' && json.Unmarshal(trimmed, &structured) == nil && structured.Data != nil {
			data, ts = structured.Data, structured.Timestamp
		} else {
			data = value
		}
	}
	if data == nil {
		return types.Value{}, malformed(errors.New("new_data without value"))
	}
	v := types.Value{Data: data, Timestamp: r.clock.Now().UTC()}
	if ts != nil {
		v.Timestamp = time.UnixMilli(*ts).UTC()
	}
	return v, nil
}

func (r *Registry) applyDeletedItem(raw json.RawMessage) ([]event, error) {
	var body struct {
		ID     string `json:"id"`
		ItemID string `json:"item_id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, malformed(err)
	}
	id := body.ID
	if id == "" {
		id = body.ItemID
	}

	r.mu.Lock()
	item, ok := r.graph.items[id]
	if ok {
		delete(r.graph.items, id)
		item.Type.RemoveInstance(id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, &types.ProtocolError{Ref: id, Err: types.ErrUnknownItem}
	}

	r.logger.Debug("item deleted", "item_id", id)
	return []event{func(l types.SchemaListener) { l.ItemDeleted(item) }}, nil
}

// MessageReceived lets a Registry subscribe directly to a transport
// session. Messages that cannot be applied are logged and reported to
// schema listeners through MessageRejected.
func (r *Registry) MessageReceived(msg types.Message) {
	if err := r.ApplyMessage(msg); err != nil {
		r.logger.Warn("message rejected", "msg_type", msg.Kind, "error", err)
		r.emit([]event{func(l types.SchemaListener) { l.MessageRejected(err) }})
	}
}

// The remaining ConnectionListener callbacks carry no schema changes.

func (r *Registry) ConnectionEstablished() {}
func (r *Registry) ConnectionClosed()      {}
func (r *Registry) ConnectionFailed(error) {}
func (r *Registry) RequestFailed(error)    {}
func (r *Registry) MessageRejected(error)  {}

var _ types.ConnectionListener = (*Registry)(nil)

// decodeEntries decodes a JSON object keyed by name or id, or a JSON
// array. Object entries are returned sorted by key and passed to fill
// with their key.
func decodeEntries[T any](raw json.RawMessage, fill func(key string, v *T)) ([]T, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '[' {
		var list []T
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, malformed(err)
		}
		return list, nil
	}
	var byKey map[string]T
	if err := json.Unmarshal(trimmed, &byKey); err != nil {
		return nil, malformed(err)
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		v := byKey[k]
		fill(k, &v)
		out = append(out, v)
	}
	return out, nil
}

func malformed(err error) error {
	return &types.ProtocolError{Err: fmt.Errorf("%w: %v", types.ErrMalformedMessage, err)}
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
