package span

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies the variant held by a Value.
type ValueKind uint8

const (
	// KindEmpty is the zero Value, holding nothing.
	KindEmpty ValueKind = iota
	// KindString holds a UTF-8 string.
	KindString
	// KindBool holds a boolean.
	KindBool
	// KindInt holds a signed 64-bit integer.
	KindInt
	// KindDouble holds a 64-bit float.
	KindDouble
	// KindBytes holds opaque bytes.
	KindBytes
	// KindArray holds an ordered list of Values.
	KindArray
	// KindMap holds a string-keyed map of Values.
	KindMap
)

// Value is a tagged sum over the attribute value types a span may carry.
// It mirrors the OTLP AnyValue shape with native Go representations: arrays
// stay arrays, kvlists become nested maps, bytes stay opaque.
type Value struct {
	kind  ValueKind
	str   string
	boolv bool
	intv  int64
	dblv  float64
	bytes []byte
	arr   []Value
	m     map[string]Value
}

// StringValue returns a Value holding s.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// BoolValue returns a Value holding b.
func BoolValue(b bool) Value { return Value{kind: KindBool, boolv: b} }

// IntValue returns a Value holding i.
func IntValue(i int64) Value { return Value{kind: KindInt, intv: i} }

// DoubleValue returns a Value holding f.
func DoubleValue(f float64) Value { return Value{kind: KindDouble, dblv: f} }

// BytesValue returns a Value holding raw bytes.
func BytesValue(b []byte) Value { return Value{kind: KindBytes, bytes: b} }

// ArrayValue returns a Value holding vs.
func ArrayValue(vs []Value) Value { return Value{kind: KindArray, arr: vs} }

// MapValue returns a Value holding m.
func MapValue(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind reports which variant the Value holds.
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string variant, or "" if the Value is not a string.
func (v Value) Str() string { return v.str }

// Bool returns the bool variant, or false if the Value is not a bool.
func (v Value) Bool() bool { return v.boolv }

// Int returns the int variant, or 0 if the Value is not an int.
func (v Value) Int() int64 { return v.intv }

// Double returns the double variant, or 0 if the Value is not a double.
func (v Value) Double() float64 { return v.dblv }

// Bytes returns the bytes variant, or nil.
func (v Value) Bytes() []byte { return v.bytes }

// Array returns the array variant, or nil.
func (v Value) Array() []Value { return v.arr }

// Map returns the map variant, or nil.
func (v Value) Map() map[string]Value { return v.m }

// AsString renders any variant as a string. Scalars format naturally;
// composite variants render as JSON.
func (v Value) AsString() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.boolv)
	case KindInt:
		return strconv.FormatInt(v.intv, 10)
	case KindDouble:
		return strconv.FormatFloat(v.dblv, 'g', -1, 64)
	case KindBytes:
		return base64.StdEncoding.EncodeToString(v.bytes)
	case KindArray, KindMap:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return ""
}

// AsFloat interprets the Value as a number. Ints and doubles convert
// directly; strings parse if numeric. The second return reports whether a
// numeric interpretation existed.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.intv), true
	case KindDouble:
		return v.dblv, true
	case KindString:
		f, err := strconv.ParseFloat(v.str, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// MarshalJSON renders the native representation of the variant, so span
// documents persist with plain JSON scalars, arrays, and objects.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindEmpty:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.boolv)
	case KindInt:
		return json.Marshal(v.intv)
	case KindDouble:
		return json.Marshal(v.dblv)
	case KindBytes:
		return json.Marshal(v.bytes)
	case KindArray:
		return json.Marshal(v.arr)
	case KindMap:
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON infers the variant from the JSON type. Numbers become ints
// when integral, doubles otherwise; objects become map values; arrays
// recurse.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromJSON(raw)
	return nil
}

func fromJSON(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Value{}
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i)
		}
		f, _ := t.Float64()
		return DoubleValue(f)
	case []any:
		arr := make([]Value, 0, len(t))
		for _, e := range t {
			arr = append(arr, fromJSON(e))
		}
		return ArrayValue(arr)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = fromJSON(e)
		}
		return MapValue(m)
	}
	return Value{}
}
