package uidl

import (
	"bytes"
	"encoding/json"
)

// objectWriter writes a JSON object with fields in insertion order.
type objectWriter struct {
	buf   *bytes.Buffer
	count int
	err   error
}

func newObjectWriter(buf *bytes.Buffer) *objectWriter {
	return &objectWriter{buf: buf}
}

// key writes the separator and the quoted field name.
func (o *objectWriter) key(name string) {
	if o.count > 0 {
		o.buf.WriteByte(',')
	}
	o.count++
	quoted, _ := json.Marshal(name)
	o.buf.Write(quoted)
	o.buf.WriteByte(':')
}

// field writes name and the JSON encoding of value.
func (o *objectWriter) field(name string, value any) {
	if o.err != nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		o.err = err
		return
	}
	o.key(name)
	o.buf.Write(data)
}

// raw writes name and an already encoded value.
func (o *objectWriter) raw(name string, value []byte) {
	if o.err != nil {
		return
	}
	o.key(name)
	o.buf.Write(value)
}

// orderedMap is a JSON object that keeps insertion order.
type orderedMap struct {
	keys   []string
	values map[string]any
}

func newOrderedMap() *orderedMap {
	return &orderedMap{values: make(map[string]any)}
}

func (m *orderedMap) Set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *orderedMap) Len() int { return len(m.keys) }

func (m *orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	o := newObjectWriter(&buf)
	for _, k := range m.keys {
		o.field(k, m.values[k])
	}
	if o.err != nil {
		return nil, o.err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
