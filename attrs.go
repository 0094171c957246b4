package zarr

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// DimensionsKey is the xarray convention for naming the dimensions of an array
// inside its .zattrs document.
const DimensionsKey = "_ARRAY_DIMENSIONS"

// Attributes is an ordered key/value document, the content of a .zattrs key.
// Keys keep the order in which they were first set or decoded.
type Attributes struct {
	keys   []string
	values map[string]any
}

// NewAttributes builds attributes from alternating key/value pairs.
func NewAttributes(kv ...any) Attributes {
	var a Attributes
	for i := 0; i+1 < len(kv); i += 2 {
		a.Set(fmt.Sprint(kv[i]), kv[i+1])
	}
	return a
}

func (a Attributes) Len() int { return len(a.keys) }

// Keys returns the attribute names in document order.
func (a Attributes) Keys() []string {
	return append([]string(nil), a.keys...)
}

func (a Attributes) Get(key string) (any, bool) {
	v, ok := a.values[key]
	return v, ok
}

// String returns the attribute as a string, or "" when absent or not a string.
func (a Attributes) String(key string) string {
	s, _ := a.values[key].(string)
	return s
}

func (a *Attributes) Set(key string, val any) {
	if a.values == nil {
		a.values = make(map[string]any)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = val
}

func (a *Attributes) Delete(key string) {
	if _, ok := a.values[key]; !ok {
		return
	}
	delete(a.values, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i:i], a.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a shallow copy; values are shared but the key set is not.
func (a Attributes) Clone() Attributes {
	out := Attributes{keys: append([]string(nil), a.keys...)}
	if a.values != nil {
		out.values = make(map[string]any, len(a.values))
		for k, v := range a.values {
			out.values[k] = v
		}
	}
	return out
}

// Inherit merges parent attributes below the receiver: a key already set on
// the receiver wins, keys only present on the parent are appended. Calling it
// while walking up a hierarchy gives closest-ancestor-wins precedence.
func (a Attributes) Inherit(parent Attributes) Attributes {
	out := a.Clone()
	for _, k := range parent.keys {
		if _, ok := out.values[k]; ok {
			continue
		}
		out.Set(k, parent.values[k])
	}
	return out
}

// DimensionNames returns the _ARRAY_DIMENSIONS list.
func (a Attributes) DimensionNames() ([]string, bool) {
	raw, ok := a.values[DimensionsKey]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// Fields splits a whitespace separated attribute such as CF "coordinates".
func (a Attributes) Fields(key string) []string {
	return strings.Fields(a.String(key))
}

func (a Attributes) MarshalJSON() ([]byte, error) {
	stream := JSON.BorrowStream(nil)
	defer JSON.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, k := range a.keys {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(k)
		stream.WriteVal(a.values[k])
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return nil, fmt.Errorf("failed to encode attributes: %w", stream.Error)
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

func (a *Attributes) UnmarshalJSON(data []byte) error {
	iter := JSON.BorrowIterator(data)
	defer JSON.ReturnIterator(iter)

	var out Attributes
	if iter.WhatIsNext() == jsoniter.NilValue {
		iter.Skip()
		*a = out
		return nil
	}
	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		var v any
		it.ReadVal(&v)
		out.Set(field, v)
		return it.Error == nil
	})
	if iter.Error != nil {
		return fmt.Errorf("failed to decode attributes: %w", iter.Error)
	}
	*a = out
	return nil
}
