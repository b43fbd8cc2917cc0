package domain

// Items is an ordered key/value collection with unique keys.
// Insertion order is kept; overwriting a key keeps its position.
//
// The VersionKey slot is reserved: Get, Keys, Len and All never expose it.
// Items is not safe for concurrent use; it belongs to whoever holds the session lock.
type Items struct {
	keys   []string
	values map[string]any
	dirty  bool
}

// NewItems creates an empty collection.
func NewItems() *Items {
	return &Items{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (it *Items) Get(key string) (any, bool) {
	if it == nil || key == VersionKey {
		return nil, false
	}
	v, ok := it.values[key]
	return v, ok
}

// Set stores value under key. Writes to the reserved key are ignored.
func (it *Items) Set(key string, value any) {
	if key == VersionKey {
		return
	}
	it.set(key, value)
}

func (it *Items) set(key string, value any) {
	if _, exists := it.values[key]; !exists {
		it.keys = append(it.keys, key)
	}
	it.values[key] = value
	it.dirty = true
}

// Delete removes key. Deleting the reserved key is ignored.
func (it *Items) Delete(key string) {
	if key == VersionKey {
		return
	}
	it.delete(key)
}

func (it *Items) delete(key string) {
	if _, exists := it.values[key]; !exists {
		return
	}
	delete(it.values, key)
	for i, k := range it.keys {
		if k == key {
			it.keys = append(it.keys[:i], it.keys[i+1:]...)
			break
		}
	}
	it.dirty = true
}

// Clear removes every entry, the version tag included.
func (it *Items) Clear() {
	if it == nil {
		return
	}
	it.keys = nil
	it.values = make(map[string]any)
	it.dirty = true
}

// Keys returns the application-visible keys in insertion order.
func (it *Items) Keys() []string {
	if it == nil {
		return nil
	}
	keys := make([]string, 0, len(it.keys))
	for _, k := range it.keys {
		if k != VersionKey {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len returns the number of application-visible entries.
func (it *Items) Len() int {
	if it == nil {
		return 0
	}
	n := len(it.keys)
	if _, ok := it.values[VersionKey]; ok {
		n--
	}
	return n
}

// All returns a copy of the application-visible entries.
func (it *Items) All() map[string]any {
	out := make(map[string]any, it.Len())
	for _, k := range it.Keys() {
		out[k] = it.values[k]
	}
	return out
}

// Version returns the stored version tag.
func (it *Items) Version() (string, bool) {
	if it == nil {
		return "", false
	}
	v, ok := it.values[VersionKey].(string)
	return v, ok
}

// SetVersion writes the version tag into the reserved slot.
func (it *Items) SetVersion(version string) {
	it.set(VersionKey, version)
}

// Raw returns every entry, the reserved slot included, in insertion order.
// It is meant for store adapters that must persist the complete payload.
func (it *Items) Raw() ([]string, map[string]any) {
	if it == nil {
		return nil, map[string]any{}
	}
	keys := make([]string, len(it.keys))
	copy(keys, it.keys)
	values := make(map[string]any, len(it.values))
	for k, v := range it.values {
		values[k] = v
	}
	return keys, values
}

// Load replaces the content with entries read back from a store, the reserved slot included.
// The collection is left clean.
func (it *Items) Load(keys []string, values map[string]any) {
	it.Clear()
	for _, k := range keys {
		if v, ok := values[k]; ok {
			it.set(k, v)
		}
	}
	it.dirty = false
}

// Dirty reports whether the collection changed since it was loaded.
func (it *Items) Dirty() bool {
	return it != nil && it.dirty
}

// MarkClean resets the dirty flag after a successful persist.
func (it *Items) MarkClean() {
	if it != nil {
		it.dirty = false
	}
}

// Clone returns a deep copy of the collection (values are copied shallowly).
func (it *Items) Clone() *Items {
	if it == nil {
		return nil
	}
	keys, values := it.Raw()
	return &Items{keys: keys, values: values, dirty: it.dirty}
}
