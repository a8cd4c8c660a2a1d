// Package value defines the JSON value tree stored per key.
//
// A [Value] is one of a closed set of concrete types: [Null], [Bool], [Int],
// [Float], [String], [Array] and [Object]. The set is sealed so that hashing,
// encoding and path extraction can switch exhaustively over it.
//
// Integers and floats are distinct kinds: the JSON literal 1 decodes to
// Int(1) and 1.0 decodes to Float(1). Encoding preserves the distinction.
package value

import (
	"errors"
	"fmt"
)

var (
	// ErrNotObject is returned when a top-level JSON object was expected.
	ErrNotObject = errors.New("value is not a JSON object")
	// ErrUnsupported is returned for values that have no JSON representation.
	ErrUnsupported = errors.New("unsupported value")
)

// Kind identifies the concrete type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a node of a JSON value tree.
//
// Only types in this package implement Value. A nil Value is treated as Null
// by every function in this package.
type Value interface {
	Kind() Kind
	sealed()
}

// Null is the JSON null.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Int is a JSON number written without fraction or exponent.
type Int int64

// Float is a JSON number written with a fraction or an exponent.
type Float float64

// String is a JSON string.
type String string

// Array is an ordered JSON array.
type Array []Value

// Object is a JSON object. Key order is irrelevant.
type Object map[string]Value

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (String) Kind() Kind { return KindString }
func (Array) Kind() Kind  { return KindArray }
func (Object) Kind() Kind { return KindObject }

func (Null) sealed()   {}
func (Bool) sealed()   {}
func (Int) sealed()    {}
func (Float) sealed()  {}
func (String) sealed() {}
func (Array) sealed()  {}
func (Object) sealed() {}

// KindOf returns the kind of v, reporting KindNull for a nil Value.
func KindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}

// Equal reports whether a and b are structurally identical.
//
// Object key order never matters; array order always does. Int and Float
// never compare equal, even when numerically identical.
func Equal(a, b Value) bool {
	if KindOf(a) != KindOf(b) {
		return false
	}
	switch a := a.(type) {
	case nil, Null:
		return true
	case Bool:
		return a == b.(Bool)
	case Int:
		return a == b.(Int)
	case Float:
		return a == b.(Float)
	case String:
		return a == b.(String)
	case Array:
		b := b.(Array)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !Equal(a[i], b[i]) {
				return false
			}
		}
		return true
	case Object:
		b := b.(Object)
		if len(a) != len(b) {
			return false
		}
		for k, av := range a {
			bv, ok := b[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		panic(fmt.Sprintf("unexpected value type %T", a))
	}
}

// Clone returns a deep copy of v. Scalars are returned as is.
func Clone(v Value) Value {
	switch v := v.(type) {
	case nil:
		return Null{}
	case Array:
		if v == nil {
			return Array(nil)
		}
		c := make(Array, len(v))
		for i, e := range v {
			c[i] = Clone(e)
		}
		return c
	case Object:
		if v == nil {
			return Object(nil)
		}
		c := make(Object, len(v))
		for k, e := range v {
			c[k] = Clone(e)
		}
		return c
	default:
		return v
	}
}

// CloneMap returns a deep copy of a record set.
func CloneMap(m map[string]Value) map[string]Value {
	c := make(map[string]Value, len(m))
	for k, v := range m {
		c[k] = Clone(v)
	}
	return c
}
