package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// Property kinds. Each names one built-in PropertyType.
const (
	KindBool   = "bool"
	KindInt    = "int"
	KindFloat  = "float"
	KindString = "string"
	KindSymbol = "symbol"
	KindItem   = "item"
	KindJSON   = "json"
)

// builtinKinds is the set of kinds every property registry starts with.
var builtinKinds = map[string]bool{
	KindBool:   true,
	KindInt:    true,
	KindFloat:  true,
	KindString: true,
	KindSymbol: true,
	KindItem:   true,
	KindJSON:   true,
}

// IsBuiltinKind reports whether kind is one of the seven built-in kinds.
func IsBuiltinKind(kind string) bool {
	return builtinKinds[kind]
}

// Property is an immutable constraint set for one attribute of a Type.
type Property interface {
	// Kind returns the name of the PropertyType that created the property.
	Kind() string
	// Validate checks value against the property's constraints. JSON null
	// is always accepted. Failures wrap ErrInvalidValue.
	Validate(r Resolver, value json.RawMessage) error
}

// PropertyType is a factory that turns a raw attribute descriptor into a
// Property of one kind.
type PropertyType interface {
	Name() string
	CreateProperty(r Resolver, raw json.RawMessage) (Property, error)
}

// Resolver looks up Types and Items by identity. The schema registry and
// a snapshot under construction both implement it.
type Resolver interface {
	Type(name string) (*Type, bool)
	Item(id string) (*Item, bool)
}

// BoolProperty accepts true or false.
type BoolProperty struct {
	Default *bool
}

func (p *BoolProperty) Kind() string { return KindBool }

func (p *BoolProperty) Validate(_ Resolver, value json.RawMessage) error {
	return validateEach(value, false, func(v any) error {
		if _, ok := v.(bool); !ok {
			return invalidValue("want bool, got %s", describe(v))
		}
		return nil
	})
}

func (p *BoolProperty) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Default *bool  `json:"default,omitempty"`
	}{KindBool, p.Default})
}

// IntProperty accepts integers within [Min, Max].
type IntProperty struct {
	Min      int64 // math.MinInt64 when not declared.
	Max      int64 // math.MaxInt64 when not declared.
	Multiple bool
	Default  *int64
}

// IntegralNumber converts n to an int64 when it is integral, including
// numbers written with a zero fraction such as 4.0.
func IntegralNumber(n json.Number) (int64, bool) {
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func (p *IntProperty) Kind() string { return KindInt }

func (p *IntProperty) Validate(_ Resolver, value json.RawMessage) error {
	return validateEach(value, p.Multiple, func(v any) error {
		n, ok := v.(json.Number)
		if !ok {
			return invalidValue("want int, got %s", describe(v))
		}
		i, ok := IntegralNumber(n)
		if !ok {
			return invalidValue("want int, got %s", n)
		}
		if i < p.Min || i > p.Max {
			return invalidValue("%d out of range [%d, %d]", i, p.Min, p.Max)
		}
		return nil
	})
}

func (p *IntProperty) MarshalJSON() ([]byte, error) {
	out := struct {
		Type     string `json:"type"`
		Min      *int64 `json:"min,omitempty"`
		Max      *int64 `json:"max,omitempty"`
		Multiple bool   `json:"multiple,omitempty"`
		Default  *int64 `json:"default,omitempty"`
	}{Type: KindInt, Multiple: p.Multiple, Default: p.Default}
	if p.Min != math.MinInt64 {
		out.Min = &p.Min
	}
	if p.Max != math.MaxInt64 {
		out.Max = &p.Max
	}
	return json.Marshal(out)
}

// FloatProperty accepts numbers within [Min, Max].
type FloatProperty struct {
	Min      float64 // -Inf when not declared.
	Max      float64 // +Inf when not declared.
	Multiple bool
	Default  *float64
}

func (p *FloatProperty) Kind() string { return KindFloat }

func (p *FloatProperty) Validate(_ Resolver, value json.RawMessage) error {
	return validateEach(value, p.Multiple, func(v any) error {
		n, ok := v.(json.Number)
		if !ok {
			return invalidValue("want float, got %s", describe(v))
		}
		f, err := n.Float64()
		if err != nil {
			return invalidValue("want float, got %s", n)
		}
		if f < p.Min || f > p.Max {
			return invalidValue("%g out of range [%g, %g]", f, p.Min, p.Max)
		}
		return nil
	})
}

// MarshalJSON omits infinite bounds, which JSON cannot represent.
func (p *FloatProperty) MarshalJSON() ([]byte, error) {
	out := struct {
		Type     string   `json:"type"`
		Min      *float64 `json:"min,omitempty"`
		Max      *float64 `json:"max,omitempty"`
		Multiple bool     `json:"multiple,omitempty"`
		Default  *float64 `json:"default,omitempty"`
	}{Type: KindFloat, Multiple: p.Multiple, Default: p.Default}
	if !math.IsInf(p.Min, 0) {
		out.Min = &p.Min
	}
	if !math.IsInf(p.Max, 0) {
		out.Max = &p.Max
	}
	return json.Marshal(out)
}

// StringProperty accepts strings.
type StringProperty struct {
	Multiple bool
	Default  *string
}

func (p *StringProperty) Kind() string { return KindString }

func (p *StringProperty) Validate(_ Resolver, value json.RawMessage) error {
	return validateEach(value, p.Multiple, func(v any) error {
		if _, ok := v.(string); !ok {
			return invalidValue("want string, got %s", describe(v))
		}
		return nil
	})
}

func (p *StringProperty) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string  `json:"type"`
		Multiple bool    `json:"multiple,omitempty"`
		Default  *string `json:"default,omitempty"`
	}{KindString, p.Multiple, p.Default})
}

// SymbolProperty accepts one of a fixed set of strings. An empty Values
// set accepts any string.
type SymbolProperty struct {
	Values   []string
	Multiple bool
	Default  []string // Always a list; nil when not declared.
}

func (p *SymbolProperty) Kind() string { return KindSymbol }

func (p *SymbolProperty) Validate(_ Resolver, value json.RawMessage) error {
	return validateEach(value, p.Multiple, func(v any) error {
		s, ok := v.(string)
		if !ok {
			return invalidValue("want symbol, got %s", describe(v))
		}
		if len(p.Values) > 0 && !slices.Contains(p.Values, s) {
			return invalidValue("symbol %q not in %v", s, p.Values)
		}
		return nil
	})
}

func (p *SymbolProperty) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string   `json:"type"`
		Values   []string `json:"values,omitempty"`
		Multiple bool     `json:"multiple,omitempty"`
		Default  []string `json:"default,omitempty"`
	}{KindSymbol, p.Values, p.Multiple, p.Default})
}

// ItemProperty references Items whose Type is Domain or descends from it.
type ItemProperty struct {
	Domain   *Type
	Multiple bool
	Default  []*Item // nil when not declared.

	// PendingDefault holds default ids that were not yet resolvable when
	// the property was created. The schema registry binds them once the
	// snapshot's items exist.
	PendingDefault []string
}

func (p *ItemProperty) Kind() string { return KindItem }

func (p *ItemProperty) Validate(r Resolver, value json.RawMessage) error {
	return validateEach(value, p.Multiple, func(v any) error {
		id, ok := v.(string)
		if !ok {
			return invalidValue("want item id, got %s", describe(v))
		}
		item, ok := r.Item(id)
		if !ok {
			return fmt.Errorf("%w: %w: %q", ErrInvalidValue, ErrUnknownItem, id)
		}
		if p.Domain != nil && !item.Type.IsA(p.Domain) {
			return invalidValue("item %q is a %s, not a %s", id, item.Type.Name, p.Domain.Name)
		}
		return nil
	})
}

func (p *ItemProperty) MarshalJSON() ([]byte, error) {
	out := struct {
		Type     string   `json:"type"`
		Domain   string   `json:"domain,omitempty"`
		Multiple bool     `json:"multiple,omitempty"`
		Default  []string `json:"default,omitempty"`
	}{Type: KindItem, Multiple: p.Multiple}
	if p.Domain != nil {
		out.Domain = p.Domain.Name
	}
	for _, item := range p.Default {
		out.Default = append(out.Default, item.ID)
	}
	return json.Marshal(out)
}

// JSONProperty carries an arbitrary nested schema and default, both opaque.
// Any well-formed JSON value is accepted.
type JSONProperty struct {
	Schema  json.RawMessage
	Default json.RawMessage // nil when not declared.
}

func (p *JSONProperty) Kind() string { return KindJSON }

func (p *JSONProperty) Validate(_ Resolver, value json.RawMessage) error {
	if isNull(value) {
		return nil
	}
	if !json.Valid(value) {
		return invalidValue("malformed json")
	}
	return nil
}

func (p *JSONProperty) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string          `json:"type"`
		Schema  json.RawMessage `json:"schema,omitempty"`
		Default json.RawMessage `json:"default,omitempty"`
	}{KindJSON, p.Schema, p.Default})
}

// validateEach decodes value and applies check to it, or to every element
// when multiple is set.
func validateEach(value json.RawMessage, multiple bool, check func(any) error) error {
	if isNull(value) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return invalidValue("malformed json: %v", err)
	}
	if !multiple {
		return check(v)
	}
	list, ok := v.([]any)
	if !ok {
		return invalidValue("want list, got %s", describe(v))
	}
	for i, elem := range list {
		if err := check(elem); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func invalidValue(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
