package jsvalue

import (
	"errors"
	"fmt"
	"io"
	"math"

	jsoniter "github.com/json-iterator/go"
)

// codec is shared by every (un)marshal path in this package. Object keys are
// streamed so insertion order survives a round trip.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalJSON encodes undefined as null. NaN and infinities have no JSON
// representation and are also written as null.
func (v *Value) MarshalJSON() ([]byte, error) {
	stream := codec.BorrowStream(nil)
	defer codec.ReturnStream(stream)

	writeValue(stream, v)
	if stream.Error != nil {
		return nil, fmt.Errorf("jsvalue: encode: %w", stream.Error)
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	iter := codec.BorrowIterator(data)
	defer codec.ReturnIterator(iter)

	parsed := readValue(iter)
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return fmt.Errorf("jsvalue: decode: %w", iter.Error)
	}
	*v = *parsed
	return nil
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	stream := codec.BorrowStream(nil)
	defer codec.ReturnStream(stream)

	writeMap(stream, m)
	if stream.Error != nil {
		return nil, fmt.Errorf("jsvalue: encode map: %w", stream.Error)
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// UnmarshalJSON decodes a JSON object, keeping document key order. null decodes
// to an empty map.
func (m *Map) UnmarshalJSON(data []byte) error {
	iter := codec.BorrowIterator(data)
	defer codec.ReturnIterator(iter)

	decoded := NewMap()
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
	case jsoniter.ObjectValue:
		iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
			decoded.Set(key, readValue(it))
			return it.Error == nil
		})
	default:
		return fmt.Errorf("jsvalue: decode map: expected object")
	}
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return fmt.Errorf("jsvalue: decode map: %w", iter.Error)
	}
	*m = *decoded
	return nil
}

func writeValue(stream *jsoniter.Stream, v *Value) {
	switch v.Kind() {
	case KindUndefined:
		stream.WriteNil()
	case KindBool:
		stream.WriteBool(v.b)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			stream.WriteNil()
			return
		}
		stream.WriteFloat64(v.n)
	case KindString:
		stream.WriteString(v.s)
	case KindArray:
		stream.WriteArrayStart()
		for i, item := range v.items {
			if i > 0 {
				stream.WriteMore()
			}
			writeValue(stream, item)
		}
		stream.WriteArrayEnd()
	case KindObject:
		writeMap(stream, v.obj)
	}
}

func writeMap(stream *jsoniter.Stream, m *Map) {
	stream.WriteObjectStart()
	first := true
	m.Range(func(key string, v *Value) bool {
		if !first {
			stream.WriteMore()
		}
		first = false
		stream.WriteObjectField(key)
		writeValue(stream, v)
		return true
	})
	stream.WriteObjectEnd()
}

func readValue(iter *jsoniter.Iterator) *Value {
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
		return Undefined()
	case jsoniter.BoolValue:
		return Bool(iter.ReadBool())
	case jsoniter.NumberValue:
		return Number(iter.ReadFloat64())
	case jsoniter.StringValue:
		return String(iter.ReadString())
	case jsoniter.ArrayValue:
		items := []*Value{}
		for iter.ReadArray() {
			items = append(items, readValue(iter))
			if iter.Error != nil {
				break
			}
		}
		return &Value{kind: KindArray, items: items}
	case jsoniter.ObjectValue:
		m := NewMap()
		iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
			m.Set(key, readValue(it))
			return it.Error == nil
		})
		return &Value{kind: KindObject, obj: m}
	default:
		iter.ReportError("jsvalue.readValue", "unexpected token")
		return Undefined()
	}
}
