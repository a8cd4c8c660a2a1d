// Conversions between value trees and plain Go values.

package value

import (
	"encoding/json"
	"fmt"
	"math"
)

// FromAny converts a plain Go value, as produced by encoding/json (with or
// without UseNumber) or a msgpack decoder, into a Value.
func FromAny(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return Clone(x), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		return numberFromLiteral(x.String())
	case int:
		return Int(x), nil
	case int8:
		return Int(x), nil
	case int16:
		return Int(x), nil
	case int32:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return Int(x), nil
	case uint16:
		return Int(x), nil
	case uint32:
		return Int(x), nil
	case uint64:
		return fromUint(x)
	case float32:
		return Float(x), nil
	case float64:
		return Float(x), nil
	case []any:
		a := make(Array, len(x))
		for i, e := range x {
			v, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			a[i] = v
		}
		return a, nil
	case map[string]any:
		o := make(Object, len(x))
		for k, e := range x {
			v, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			o[k] = v
		}
		return o, nil
	case map[any]any:
		o := make(Object, len(x))
		for k, e := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: object key of type %T", ErrUnsupported, k)
			}
			v, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", ks, err)
			}
			o[ks] = v
		}
		return o, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, x)
	}
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Float(float64(u)), nil
	}
	return Int(int64(u)), nil
}

// ToAny converts v into plain Go values: nil, bool, int64, float64, string,
// []any and map[string]any.
func ToAny(v Value) any {
	switch v := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(v)
	case Int:
		return int64(v)
	case Float:
		return float64(v)
	case String:
		return string(v)
	case Array:
		a := make([]any, len(v))
		for i, e := range v {
			a[i] = ToAny(e)
		}
		return a
	case Object:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = ToAny(e)
		}
		return m
	default:
		panic(fmt.Sprintf("unexpected value type %T", v))
	}
}
