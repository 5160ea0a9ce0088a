package archive

import (
	"fmt"
	"sort"
)

// Metadata is an ordered string-to-string mapping. Keys are kept in
// sorted order so that serialization is deterministic and matches the
// archived representation produced by earlier generations.
type Metadata struct {
	keys   []string
	values map[string]string
}

func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]string)}
}

func (m *Metadata) Len() int {
	return len(m.keys)
}

func (m *Metadata) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *Metadata) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		i := sort.SearchStrings(m.keys, key)
		m.keys = append(m.keys, "")
		copy(m.keys[i+1:], m.keys[i:])
		m.keys[i] = key
	}
	m.values[key] = value
}

// Keys returns the keys in serialization order.
func (m *Metadata) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	c := NewMetadata()
	for _, k := range m.keys {
		c.Set(k, m.values[k])
	}
	return c
}

// Equal reports whether both maps hold the same pairs.
func (m *Metadata) Equal(other *Metadata) bool {
	if len(m.keys) != len(other.keys) {
		return false
	}
	for _, k := range m.keys {
		ov, ok := other.values[k]
		if !ok || ov != m.values[k] {
			return false
		}
	}
	return true
}

func (m *Metadata) Encode(e *Encoder) error {
	if err := e.Uint64(uint64(len(m.keys))); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	for _, k := range m.keys {
		if err := e.String(k); err != nil {
			return err
		}
		if err := e.String(m.values[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metadata) Decode(d *Decoder) error {
	n, err := d.Uint64()
	if err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	m.keys = m.keys[:0]
	m.values = make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		k, err := d.String()
		if err != nil {
			return err
		}
		v, err := d.String()
		if err != nil {
			return err
		}
		if _, ok := m.values[k]; !ok {
			m.keys = append(m.keys, k)
		}
		m.values[k] = v
	}
	return nil
}
