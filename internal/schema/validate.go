package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// ValidateData checks a payload about to be published for itemID against
// the effective dynamic properties of the item's Type. The payload must be
// a JSON object; unknown keys are rejected.
func (r *Registry) ValidateData(itemID string, payload json.RawMessage) error {
	item, ok := r.Item(itemID)
	if !ok {
		return fmt.Errorf("validate %q: %w", itemID, types.ErrUnknownItem)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("validate %q: %w: payload must be an object", itemID, types.ErrInvalidValue)
	}
	props := item.Type.EffectiveDynamicProperties()

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p, ok := props[name]
		if !ok {
			return fmt.Errorf("validate %q: %w: %s has no dynamic property %q", itemID, types.ErrInvalidValue, item.Type.Name, name)
		}
		if err := p.Validate(r, fields[name]); err != nil {
			return fmt.Errorf("validate %q: property %q: %w", itemID, name, err)
		}
	}
	return nil
}
