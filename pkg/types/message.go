package types

import (
	"encoding/json"
	"fmt"
)

// MsgTypeField is the discriminator of every duplex channel frame.
const MsgTypeField = "msg_type"

// Message kinds carried on the duplex channel.
const (
	MsgLogin       = "login"
	MsgCoco        = "coco" // Full resync.
	MsgNewType     = "new_type"
	MsgNewItem     = "new_item"
	MsgNewData     = "new_data"
	MsgDeletedItem = "deleted_item"
)

// Message is one discriminated envelope received on the duplex channel.
// Raw holds the complete frame so listeners can decode kind-specific
// fields themselves.
type Message struct {
	Kind string
	Raw  json.RawMessage
}

// ParseMessage decodes the envelope of a frame. It fails with
// ErrMalformedMessage when frame is not a JSON object or carries no
// msg_type string.
func ParseMessage(frame []byte) (Message, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	rawKind, ok := envelope[MsgTypeField]
	if !ok {
		return Message{}, fmt.Errorf("%w: missing %s", ErrMalformedMessage, MsgTypeField)
	}
	var kind string
	if err := json.Unmarshal(rawKind, &kind); err != nil || kind == "" {
		return Message{}, fmt.Errorf("%w: %s must be a non-empty string", ErrMalformedMessage, MsgTypeField)
	}
	raw := make(json.RawMessage, len(frame))
	copy(raw, frame)
	return Message{Kind: kind, Raw: raw}, nil
}

// TypeMessage is the wire shape of a Type declaration, used by snapshots
// and new_type messages.
type TypeMessage struct {
	Name              string                     `json:"name"`
	Data              json.RawMessage            `json:"data,omitempty"`
	Parents           []string                   `json:"parents,omitempty"`
	StaticProperties  map[string]json.RawMessage `json:"static_properties,omitempty"`
	DynamicProperties map[string]json.RawMessage `json:"dynamic_properties,omitempty"`
}

// ItemMessage is the wire shape of an Item, used by snapshots and
// new_item messages. Properties is also accepted under the key "data".
type ItemMessage struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
	Value      *Value          `json:"value,omitempty"`
}

// UnmarshalJSON accepts both "properties" and "data" for the payload.
func (m *ItemMessage) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID         string          `json:"id"`
		Type       string          `json:"type"`
		Properties json.RawMessage `json:"properties"`
		Data       json.RawMessage `json:"data"`
		Value      *Value          `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.ID = raw.ID
	m.Type = raw.Type
	m.Properties = raw.Properties
	if len(m.Properties) == 0 {
		m.Properties = raw.Data
	}
	m.Value = raw.Value
	return nil
}
