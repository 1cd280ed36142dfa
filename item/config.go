package item

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
)

// OptionFlags describe how an option may be set.
type OptionFlags uint8

const (
	// OptionWritable options may be passed to Configure.
	OptionWritable OptionFlags = 1 << iota
	// OptionRequired options must have a value for the item to be configured.
	OptionRequired
	// OptionProvided options can be supplied by the implementation itself.
	OptionProvided
)

// OptionType is the value type of an option.
type OptionType int

const (
	TypeString OptionType = iota
	TypeBool
	TypeInt
	TypeUint32
	TypeUint64
	TypeFloat
)

func (t OptionType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeFloat:
		return "float"
	default:
		return "unknown"
	}
}

// OptionSpec declares one configuration option.
type OptionSpec struct {
	Name  string
	Type  OptionType
	Flags OptionFlags
}

func (o OptionSpec) Writable() bool { return o.Flags&OptionWritable != 0 }

func (o OptionSpec) Required() bool { return o.Flags&OptionRequired != 0 }

func (o OptionSpec) Provided() bool { return o.Flags&OptionProvided != 0 }

// ConfigSpec is the set of options an item kind understands. It is declared
// once per kind.
type ConfigSpec []OptionSpec

// Lookup returns the spec of the named option.
func (s ConfigSpec) Lookup(name string) (OptionSpec, bool) {
	for _, opt := range s {
		if opt.Name == name {
			return opt, true
		}
	}

	return OptionSpec{}, false
}

// Values maps option names to typed values.
type Values map[string]any

// Clone returns a shallow copy.
func (v Values) Clone() Values {
	if v == nil {
		return Values{}
	}

	return maps.Clone(v)
}

// Keys returns the option names in sorted order.
func (v Values) Keys() []string {
	return slices.Sorted(maps.Keys(v))
}

// String returns the named string value.
func (v Values) String(name string) (string, bool) {
	s, ok := v[name].(string)

	return s, ok
}

// Int returns the named int value.
func (v Values) Int(name string) (int, bool) {
	i, ok := v[name].(int)

	return i, ok
}

// Uint32 returns the named uint32 value.
func (v Values) Uint32(name string) (uint32, bool) {
	u, ok := v[name].(uint32)

	return u, ok
}

// Bool returns the named bool value.
func (v Values) Bool(name string) (bool, bool) {
	b, ok := v[name].(bool)

	return b, ok
}

var (
	// ErrNotWritable is reported for read-only options passed to Configure.
	ErrNotWritable = errors.New("option is not writable")
	// ErrTypeMismatch is reported for values that do not fit the option type.
	ErrTypeMismatch = errors.New("value does not match option type")
)

// coerce converts value to the Go type of t. Any integer kind is accepted
// for integer options as long as it fits, since configuration sources rarely
// preserve exact integer widths.
func coerce(t OptionType, value any) (any, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: nil is not a %s", ErrTypeMismatch, t)
	}

	switch t {
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case TypeBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case TypeInt:
		if i, ok := toInt64(rv); ok && i >= math.MinInt && i <= math.MaxInt {
			return int(i), nil
		}
	case TypeUint32:
		if i, ok := toInt64(rv); ok && i >= 0 && i <= math.MaxUint32 {
			return uint32(i), nil
		}
	case TypeUint64:
		if rv.CanUint() {
			return rv.Uint(), nil
		}

		if i, ok := toInt64(rv); ok && i >= 0 {
			return uint64(i), nil
		}
	case TypeFloat:
		if rv.CanFloat() {
			return rv.Float(), nil
		}

		if i, ok := toInt64(rv); ok {
			return float64(i), nil
		}
	}

	return nil, fmt.Errorf("%w: %T is not a %s", ErrTypeMismatch, value, t)
}

func toInt64(rv reflect.Value) (int64, bool) {
	switch {
	case rv.CanInt():
		return rv.Int(), true
	case rv.CanUint():
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}

		return int64(u), true
	default:
		return 0, false
	}
}
