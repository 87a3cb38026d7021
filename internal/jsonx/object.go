// Package jsonx decodes generic JSON values while keeping object key order.
//
// encoding/json decodes objects into map[string]any and loses the order in
// which keys appeared. Table columns are derived from that order, so Decode
// walks the document with gjson and builds *Object values that remember it.
package jsonx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Object is a JSON object that preserves key insertion order.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

func (o *Object) Get(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Set stores v under key. A new key is appended; an existing key keeps its
// position.
func (o *Object) Set(key string, v any) {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Clone returns a shallow copy.
func (o *Object) Clone() *Object {
	out := NewObject()
	if o == nil {
		return out
	}
	for _, k := range o.keys {
		out.Set(k, o.values[k])
	}
	return out
}

func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := Marshal(o.values[k])
		if err != nil {
			return nil, fmt.Errorf("jsonx: marshal %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	obj, ok := v.(*Object)
	if !ok {
		return fmt.Errorf("jsonx: expected object, got %T", v)
	}
	*o = *obj
	return nil
}

// ErrInvalid reports input that is not exactly one well-formed JSON value.
var ErrInvalid = errors.New("jsonx: invalid JSON")

// Decode parses exactly one JSON value. Objects become *Object, arrays
// []any, numbers json.Number, and the remaining kinds string, bool or nil.
func Decode(data []byte) (any, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalid
	}
	return fromResult(gjson.ParseBytes(data)), nil
}

// fromResult walks members in document order, which keeps object keys in
// the order they were written.
func fromResult(r gjson.Result) any {
	switch {
	case r.IsObject():
		obj := NewObject()
		r.ForEach(func(key, value gjson.Result) bool {
			obj.Set(key.Str, fromResult(value))
			return true
		})
		return obj
	case r.IsArray():
		arr := make([]any, 0)
		r.ForEach(func(_, value gjson.Result) bool {
			arr = append(arr, fromResult(value))
			return true
		})
		return arr
	}
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Number:
		return json.Number(r.Raw)
	case gjson.True:
		return true
	case gjson.False:
		return false
	default:
		return nil
	}
}

// Marshal encodes v, keeping *Object key order at every depth.
func Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case *Object:
		return t.MarshalJSON()
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := Marshal(e)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case []*Object:
		items := make([]any, len(t))
		for i, o := range t {
			items[i] = o
		}
		return Marshal(items)
	case json.Number:
		return []byte(t.String()), nil
	default:
		return json.Marshal(t)
	}
}

// String renders v as compact JSON, except that strings are returned as-is.
// Values that cannot be encoded render as an empty string.
func String(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// IsEmpty reports whether v carries no data: nil, "", or an empty array or
// object.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []*Object:
		return len(t) == 0
	case *Object:
		return t.Len() == 0
	default:
		return false
	}
}
