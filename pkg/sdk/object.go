package sdk

import (
	"bytes"
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Object is a string-keyed record that keeps keys in insertion order,
// including when encoded to JSON.
type Object struct {
	m *orderedmap.OrderedMap[string, any]
}

func NewObject() *Object {
	return &Object{m: orderedmap.New[string, any]()}
}

// Put sets key to v and returns o so calls can be chained. Overwriting a
// key keeps its original position.
func (o *Object) Put(key string, v any) *Object {
	if o.m == nil {
		o.m = orderedmap.New[string, any]()
	}
	o.m.Set(key, v)
	return o
}

func (o *Object) Get(key string) (any, bool) {
	if o == nil || o.m == nil {
		return nil, false
	}
	return o.m.Get(key)
}

func (o *Object) Len() int {
	if o == nil || o.m == nil {
		return 0
	}
	return o.m.Len()
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, o.Len())
	if o.Len() == 0 {
		return keys
	}
	for p := o.m.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

func (o *Object) MarshalJSON() ([]byte, error) {
	if o.Len() == 0 {
		return []byte("{}"), nil
	}
	return o.m.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object keeping its key order. Values are kept
// as raw JSON so nested records round-trip unchanged.
func (o *Object) UnmarshalJSON(data []byte) error {
	o.m = orderedmap.New[string, any]()
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	raw := orderedmap.New[string, json.RawMessage]()
	if err := raw.UnmarshalJSON(data); err != nil {
		return err
	}
	for p := raw.Oldest(); p != nil; p = p.Next() {
		o.m.Set(p.Key, p.Value)
	}
	return nil
}

// Array is an ordered sequence of opaque values. An empty or nil Array
// encodes as [] rather than null.
type Array []any

func (a Array) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal([]any(a))
}
