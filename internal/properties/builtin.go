package properties

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// BoolType creates bool properties.
type BoolType struct{}

func (BoolType) Name() string { return types.KindBool }

func (BoolType) CreateProperty(_ types.Resolver, raw json.RawMessage) (types.Property, error) {
	var d struct {
		Default *bool `json:"default"`
	}
	if err := decode(raw, &d); err != nil {
		return nil, err
	}
	return &types.BoolProperty{Default: d.Default}, nil
}

// IntType creates int properties. Undeclared bounds are the int64 range.
type IntType struct{}

func (IntType) Name() string { return types.KindInt }

func (IntType) CreateProperty(_ types.Resolver, raw json.RawMessage) (types.Property, error) {
	var d struct {
		Min      *json.Number `json:"min"`
		Max      *json.Number `json:"max"`
		Multiple bool         `json:"multiple"`
		Default  *json.Number `json:"default"`
	}
	if err := decode(raw, &d); err != nil {
		return nil, err
	}
	p := &types.IntProperty{Min: math.MinInt64, Max: math.MaxInt64, Multiple: d.Multiple}
	var err error
	if d.Min != nil {
		if p.Min, err = toInt("min", *d.Min); err != nil {
			return nil, err
		}
	}
	if d.Max != nil {
		if p.Max, err = toInt("max", *d.Max); err != nil {
			return nil, err
		}
	}
	if d.Default != nil {
		v, err := toInt("default", *d.Default)
		if err != nil {
			return nil, err
		}
		p.Default = &v
	}
	if p.Min > p.Max {
		return nil, fmt.Errorf("%w: min %d greater than max %d", types.ErrInvalidProperty, p.Min, p.Max)
	}
	return p, nil
}

// FloatType creates float properties. Undeclared bounds are infinite.
type FloatType struct{}

func (FloatType) Name() string { return types.KindFloat }

func (FloatType) CreateProperty(_ types.Resolver, raw json.RawMessage) (types.Property, error) {
	var d struct {
		Min      *float64 `json:"min"`
		Max      *float64 `json:"max"`
		Multiple bool     `json:"multiple"`
		Default  *float64 `json:"default"`
	}
	if err := decode(raw, &d); err != nil {
		return nil, err
	}
	p := &types.FloatProperty{Min: math.Inf(-1), Max: math.Inf(1), Multiple: d.Multiple, Default: d.Default}
	if d.Min != nil {
		p.Min = *d.Min
	}
	if d.Max != nil {
		p.Max = *d.Max
	}
	if p.Min > p.Max {
		return nil, fmt.Errorf("%w: min %g greater than max %g", types.ErrInvalidProperty, p.Min, p.Max)
	}
	return p, nil
}

// StringType creates string properties.
type StringType struct{}

func (StringType) Name() string { return types.KindString }

func (StringType) CreateProperty(_ types.Resolver, raw json.RawMessage) (types.Property, error) {
	var d struct {
		Multiple bool    `json:"multiple"`
		Default  *string `json:"default"`
	}
	if err := decode(raw, &d); err != nil {
		return nil, err
	}
	return &types.StringProperty{Multiple: d.Multiple, Default: d.Default}, nil
}

// SymbolType creates symbol properties. Both "values" and "default" may
// be a single string or a list; a scalar becomes a one-element list.
type SymbolType struct{}

func (SymbolType) Name() string { return types.KindSymbol }

func (SymbolType) CreateProperty(_ types.Resolver, raw json.RawMessage) (types.Property, error) {
	var d struct {
		Values   json.RawMessage `json:"values"`
		Multiple bool            `json:"multiple"`
		Default  json.RawMessage `json:"default"`
	}
	if err := decode(raw, &d); err != nil {
		return nil, err
	}
	values, err := stringOrList("values", d.Values)
	if err != nil {
		return nil, err
	}
	def, err := stringOrList("default", d.Default)
	if err != nil {
		return nil, err
	}
	return &types.SymbolProperty{Values: values, Multiple: d.Multiple, Default: def}, nil
}

// ItemType creates item-reference properties. The domain must already be
// resolvable. Default ids that do not resolve yet are kept as pending.
type ItemType struct{}

func (ItemType) Name() string { return types.KindItem }

func (ItemType) CreateProperty(r types.Resolver, raw json.RawMessage) (types.Property, error) {
	var d struct {
		Domain   string          `json:"domain"`
		Multiple bool            `json:"multiple"`
		Default  json.RawMessage `json:"default"`
	}
	if err := decode(raw, &d); err != nil {
		return nil, err
	}
	if d.Domain == "" {
		return nil, fmt.Errorf("%w: item property requires a domain", types.ErrInvalidProperty)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownType, d.Domain)
	}
	domain, ok := r.Type(d.Domain)
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownType, d.Domain)
	}
	ids, err := stringOrList("default", d.Default)
	if err != nil {
		return nil, err
	}
	p := &types.ItemProperty{Domain: domain, Multiple: d.Multiple}
	for _, id := range ids {
		if item, ok := r.Item(id); ok {
			p.Default = append(p.Default, item)
		} else {
			p.PendingDefault = append(p.PendingDefault, id)
		}
	}
	return p, nil
}

// JSONType creates json properties. Schema and default are kept opaque.
type JSONType struct{}

func (JSONType) Name() string { return types.KindJSON }

func (JSONType) CreateProperty(_ types.Resolver, raw json.RawMessage) (types.Property, error) {
	var d struct {
		Schema  json.RawMessage `json:"schema"`
		Default json.RawMessage `json:"default"`
	}
	if err := decode(raw, &d); err != nil {
		return nil, err
	}
	p := &types.JSONProperty{Schema: d.Schema}
	if !isNull(d.Default) {
		p.Default = d.Default
	}
	return p, nil
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: field %q: want %s, got %s", types.ErrInvalidProperty, typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return fmt.Errorf("%w: %v", types.ErrInvalidProperty, err)
	}
	return nil
}

// toInt accepts integral numbers, including ones written with a fraction
// such as 4.0.
func toInt(field string, n json.Number) (int64, error) {
	i, ok := types.IntegralNumber(n)
	if !ok {
		return 0, fmt.Errorf("%w: %s %s is not an int", types.ErrInvalidProperty, field, n)
	}
	return i, nil
}

func stringOrList(field string, raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: %s must be a string or a list of strings", types.ErrInvalidProperty, field)
	}
	return list, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
