package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Value is one timestamped data point received for an Item.
// On the wire the timestamp is Unix milliseconds.
type Value struct {
	Data      json.RawMessage
	Timestamp time.Time
}

type valueJSON struct {
	Data      json.RawMessage `json:"data"`
	Timestamp *int64          `json:"timestamp,omitempty"`
}

// MarshalJSON encodes the value with a millisecond timestamp.
func (v Value) MarshalJSON() ([]byte, error) {
	data := v.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	ms := v.Timestamp.UnixMilli()
	return json.Marshal(valueJSON{Data: data, Timestamp: &ms})
}

// UnmarshalJSON decodes {"data": ..., "timestamp": ms}. Without a
// timestamp the Timestamp is left zero for the receiver to stamp.
func (v *Value) UnmarshalJSON(b []byte) error {
	var raw valueJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	v.Data = raw.Data
	v.Timestamp = time.Time{}
	if raw.Timestamp != nil {
		v.Timestamp = time.UnixMilli(*raw.Timestamp).UTC()
	}
	return nil
}

// Item is an instance of exactly one Type.
type Item struct {
	ID         string          // Unique id.
	Type       *Type           // Owning type, never nil.
	Properties json.RawMessage // Opaque payload conforming to Type's properties.

	mu      sync.RWMutex
	value   *Value
	history []Value
}

// NewItem creates an Item owned by typ. When value is non-nil it becomes
// the current value and the first history entry. The item is not added to
// typ's instance set; the registry does that on publication.
func NewItem(id string, typ *Type, properties json.RawMessage, value *Value) *Item {
	item := &Item{ID: id, Type: typ, Properties: properties}
	if value != nil {
		v := *value
		item.value = &v
		item.history = []Value{v}
	}
	return item
}

// Value returns the current value and whether one has been received.
func (i *Item) Value() (Value, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.value == nil {
		return Value{}, false
	}
	return *i.value, true
}

// History returns a copy of all values received, oldest first.
func (i *Item) History() []Value {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Value, len(i.history))
	copy(out, i.history)
	return out
}

// AppendValue makes v the current value and appends it to the history.
func (i *Item) AppendValue(v Value) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.value = &v
	i.history = append(i.history, v)
}

// MarshalJSON renders the item in the wire shape of an item message.
func (i *Item) MarshalJSON() ([]byte, error) {
	type itemJSON struct {
		ID         string          `json:"id"`
		Type       string          `json:"type"`
		Properties json.RawMessage `json:"properties,omitempty"`
		Value      *Value          `json:"value,omitempty"`
	}
	out := itemJSON{ID: i.ID, Properties: i.Properties}
	if i.Type != nil {
		out.Type = i.Type.Name
	}
	if v, ok := i.Value(); ok {
		out.Value = &v
	}
	return json.Marshal(out)
}

// isNull reports whether raw is absent or the JSON literal null.
func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
