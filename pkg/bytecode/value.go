package bytecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind byte

const (
	KindNil Kind = iota
	KindNumber
	KindBoolean
	KindString
	KindHeapRef
	KindArray
	KindObject
)

var kindNames = [...]string{
	KindNil:     "nil",
	KindNumber:  "number",
	KindBoolean: "boolean",
	KindString:  "string",
	KindHeapRef: "heapref",
	KindArray:   "array",
	KindObject:  "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Value is the tagged union every operand, constant, local and heap cell holds.
// Scalars are immutable. Array and Object point at shared containers that
// are mutated in place.
type Value struct {
	kind Kind
	num  float64 // Number payload, or the address of a HeapRef
	str  string
	arr  *Array
	obj  *Object
}

// Nil is the zero Value.
var Nil = Value{}

// Number returns a Number value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Boolean returns a Boolean value.
func Boolean(b bool) Value {
	if b {
		return Value{kind: KindBoolean, num: 1}
	}
	return Value{kind: KindBoolean}
}

// String returns a String value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// HeapRef returns a reference to the heap block at addr.
func HeapRef(addr int) Value { return Value{kind: KindHeapRef, num: float64(addr)} }

// ArrayValue wraps a shared array.
func ArrayValue(a *Array) Value { return Value{kind: KindArray, arr: a} }

// ObjectValue wraps a shared object.
func ObjectValue(o *Object) Value { return Value{kind: KindObject, obj: o} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsBool() bool   { return v.kind == KindBoolean }
func (v Value) IsString() bool { return v.kind == KindString }

// AsNumber returns the Number payload.
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsBool returns the Boolean payload.
func (v Value) AsBool() (bool, bool) {
	return v.num != 0, v.kind == KindBoolean
}

// AsString returns the String payload.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsHeapRef returns the heap address.
func (v Value) AsHeapRef() (int, bool) {
	return int(v.num), v.kind == KindHeapRef
}

// AsArray returns the referenced array.
func (v Value) AsArray() (*Array, bool) {
	return v.arr, v.kind == KindArray
}

// AsObject returns the referenced object.
func (v Value) AsObject() (*Object, bool) {
	return v.obj, v.kind == KindObject
}

// Equal is the runtime equality used by OpEq. Nil equals only Nil, values of
// different kinds are never equal, scalars compare by payload and containers
// compare by identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindNumber, KindBoolean, KindHeapRef:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindArray:
		return v.arr == o.arr
	case KindObject:
		return v.obj == o.obj
	}
	return false
}

// Identical reports structural identity as used for constant pool
// deduplication. Unlike Equal it distinguishes -0 from 0 and treats
// NaN as identical to itself.
func (v Value) Identical(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == KindNumber {
		return math.Float64bits(v.num) == math.Float64bits(o.num)
	}
	return v.Equal(o)
}

func (v Value) String() string {
	return v.format(make(map[any]bool))
}

func (v Value) format(seen map[any]bool) string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.num != 0)
	case KindString:
		return v.str
	case KindHeapRef:
		return fmt.Sprintf("@%d", int(v.num))
	case KindArray:
		if seen[v.arr] {
			return "[...]"
		}
		seen[v.arr] = true
		defer delete(seen, v.arr)
		parts := make([]string, len(v.arr.elems))
		for i, e := range v.arr.elems {
			parts[i] = e.format(seen)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindObject:
		if seen[v.obj] {
			return "{...}"
		}
		seen[v.obj] = true
		defer delete(seen, v.obj)
		parts := make([]string, len(v.obj.keys))
		for i, k := range v.obj.keys {
			parts[i] = k + ": " + v.obj.props[k].format(seen)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return v.kind.String()
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

// Array is a fixed-length, mutable sequence of values.
type Array struct {
	elems []Value
}

// NewArray returns an array of n nil elements.
func NewArray(n int) *Array {
	return &Array{elems: make([]Value, n)}
}

func (a *Array) Len() int { return len(a.elems) }

// Get returns the element at i.
func (a *Array) Get(i int) (Value, bool) {
	if i < 0 || i >= len(a.elems) {
		return Nil, false
	}
	return a.elems[i], true
}

// Set replaces the element at i.
func (a *Array) Set(i int, v Value) bool {
	if i < 0 || i >= len(a.elems) {
		return false
	}
	a.elems[i] = v
	return true
}

// Elements returns the backing slice. Callers must not retain it across mutation.
func (a *Array) Elements() []Value { return a.elems }

// Object is a mutable string-keyed map that remembers insertion order.
type Object struct {
	keys  []string
	props map[string]Value
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{props: make(map[string]Value)}
}

// Get returns the property value, or Nil when the key is missing.
func (o *Object) Get(key string) Value {
	return o.props[key]
}

// Set inserts or overwrites a property.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.props[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.props[key] = v
}

// Keys returns property names in insertion order.
func (o *Object) Keys() []string { return o.keys }

func (o *Object) Len() int { return len(o.keys) }
