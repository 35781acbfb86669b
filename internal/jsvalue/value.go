// File: internal/jsvalue/value.go

// Package jsvalue models JavaScript runtime values observed by the hook layer.
//
// A Value is immutable once constructed and is always handled through a pointer.
// Two *Value handles refer to the same runtime instance exactly when the pointers
// are equal; this is what the taint tracker keys on. A nil *Value behaves as
// undefined everywhere.
package jsvalue

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies the active variant of a Value.
type Kind int

const (
	KindUndefined Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the lowercase JavaScript-ish name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a recursive tagged union over the JavaScript value shapes the
// analyzer cares about. Only the field matching kind is meaningful.
type Value struct {
	kind  Kind
	b     bool
	n     float64
	s     string
	items []*Value
	obj   *Map
}

// Undefined returns a new undefined (or null) value.
func Undefined() *Value { return &Value{kind: KindUndefined} }

// Bool returns a new boolean value.
func Bool(b bool) *Value { return &Value{kind: KindBool, b: b} }

// Number returns a new numeric value.
func Number(n float64) *Value { return &Value{kind: KindNumber, n: n} }

// String returns a new string value.
func String(s string) *Value { return &Value{kind: KindString, s: s} }

// Array returns a new array value. The item slice is copied.
func Array(items ...*Value) *Value {
	cp := make([]*Value, len(items))
	copy(cp, items)
	return &Value{kind: KindArray, items: cp}
}

// Object returns a new object value backed by a copy of m.
func Object(m *Map) *Value {
	return &Value{kind: KindObject, obj: m.Clone()}
}

// Kind reports the active variant. A nil receiver is undefined.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindUndefined
	}
	return v.kind
}

// IsUndefined reports whether v is nil or the undefined variant.
func (v *Value) IsUndefined() bool { return v.Kind() == KindUndefined }

// AsBool returns the boolean payload.
func (v *Value) AsBool() (bool, bool) {
	if v.Kind() != KindBool {
		return false, false
	}
	return v.b, true
}

// AsNumber returns the numeric payload.
func (v *Value) AsNumber() (float64, bool) {
	if v.Kind() != KindNumber {
		return 0, false
	}
	return v.n, true
}

// AsString returns the string payload.
func (v *Value) AsString() (string, bool) {
	if v.Kind() != KindString {
		return "", false
	}
	return v.s, true
}

// Items returns a copy of the array elements, or nil for non-arrays.
func (v *Value) Items() []*Value {
	if v.Kind() != KindArray {
		return nil
	}
	cp := make([]*Value, len(v.items))
	copy(cp, v.items)
	return cp
}

// Fields returns a copy of the object's fields, or nil for non-objects.
func (v *Value) Fields() *Map {
	if v.Kind() != KindObject {
		return nil
	}
	return v.obj.Clone()
}

// Equal reports deep structural equality. It is not used for taint lookup,
// which is identity based.
func (v *Value) Equal(o *Value) bool {
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case KindUndefined:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n || (math.IsNaN(v.n) && math.IsNaN(o.n))
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(o.obj)
	}
	return false
}

// String renders the value for logs and content-based lookup keys.
func (v *Value) String() string {
	var sb strings.Builder
	v.render(&sb)
	return sb.String()
}

func (v *Value) render(sb *strings.Builder) {
	switch v.Kind() {
	case KindUndefined:
		sb.WriteString("[undefined/null]")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		sb.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				sb.WriteString(", ")
			}
			item.render(sb)
		}
		sb.WriteByte(']')
	case KindObject:
		sb.WriteByte('{')
		for i, key := range v.obj.Keys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Quote(key))
			sb.WriteByte(':')
			field, _ := v.obj.Get(key)
			field.render(sb)
		}
		sb.WriteByte('}')
	}
}
