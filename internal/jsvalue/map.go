package jsvalue

// Map is an insertion-ordered string-keyed collection of values. It backs
// object values, step context and node metadata. The zero value is not usable;
// construct with NewMap. A nil *Map reads as empty.
type Map struct {
	keys   []string
	values map[string]*Value
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{values: make(map[string]*Value)}
}

// MapOf builds a map from fields, in order.
func MapOf(fields ...Field) *Map {
	m := NewMap()
	for _, f := range fields {
		m.Set(f.Key, f.Value)
	}
	return m
}

// Field is a single key/value entry used to build maps literally.
type Field struct {
	Key   string
	Value *Value
}

// Set inserts or replaces key. Replacing keeps the original position.
func (m *Map) Set(key string, v *Value) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (*Value, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	cp := make([]string, len(m.keys))
	copy(cp, m.keys)
	return cp
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key string, v *Value) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// Clone returns a shallow copy. Values are immutable so sharing them is safe.
func (m *Map) Clone() *Map {
	cp := NewMap()
	m.Range(func(k string, v *Value) bool {
		cp.Set(k, v)
		return true
	})
	return cp
}

// Equal reports whether both maps hold structurally equal values in the same order.
func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	ok := m.Keys()
	for i, k := range o.Keys() {
		if ok[i] != k {
			return false
		}
		a, _ := m.Get(k)
		b, _ := o.Get(k)
		if !a.Equal(b) {
			return false
		}
	}
	return true
}
