package schema

import (
	"encoding/json"
	"fmt"

	exprlang "github.com/expr-lang/expr"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// Query returns the Items for which expression evaluates to true, sorted
// by id. The expression sees:
//
//	id          item id
//	type        name of the item's Type
//	types       names of the item's Type and all its ancestors
//	properties  decoded properties payload
//	value       decoded data of the current value, or nil
//
// For example: `"Animal" in types && properties.legs > 2`.
func (r *Registry) Query(expression string) ([]*types.Item, error) {
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		// The env key shadows the builtin of the same name.
		exprlang.DisableBuiltin("type"),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidQuery, err)
	}

	var out []*types.Item
	for _, item := range r.Items() {
		result, err := exprlang.Run(program, queryEnv(item))
		if err != nil {
			return nil, fmt.Errorf("%w: item %q: %v", types.ErrInvalidQuery, item.ID, err)
		}
		match, ok := result.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: expression returned %T, want bool", types.ErrInvalidQuery, result)
		}
		if match {
			out = append(out, item)
		}
	}
	return out, nil
}

func queryEnv(item *types.Item) map[string]any {
	names := []string{item.Type.Name}
	for _, a := range item.Type.Ancestors() {
		names = append(names, a.Name)
	}
	env := map[string]any{
		"id":         item.ID,
		"type":       item.Type.Name,
		"types":      names,
		"properties": decodeAny(item.Properties),
		"value":      nil,
	}
	if v, ok := item.Value(); ok {
		env["value"] = decodeAny(v.Data)
	}
	return env
}

// decodeAny returns nil for an absent or undecodable payload.
func decodeAny(raw json.RawMessage) any {
	if isAbsent(raw) {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
