package lsm

import "sort"

// MemStore is the in-memory ordered key→Mutation map that absorbs new
// writes. Keys are unique; iteration always yields ascending order.
// MemUsage tracks an approximate byte cost, kept consistent with
// ApproxKeyUsage/ApproxValueUsage so it agrees with SSTable build-size
// estimates to within varint slack.
type MemStore struct {
	entries  map[string]Mutation
	keys     []string // kept sorted
	memUsage uint64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]Mutation)}
}

// MemUsage returns the current approximate byte usage.
func (m *MemStore) MemUsage() uint64 {
	return m.memUsage
}

// Len returns the number of distinct keys currently held.
func (m *MemStore) Len() int {
	return len(m.keys)
}

// Apply inserts or overwrites the mutation recorded against key, updating
// MemUsage by adding the new entry's cost and subtracting the old one's.
// Overwriting with a Delete goes through this same path — there is no
// separate "remove" on MemStore; deletion of an entry is never direct.
func (m *MemStore) Apply(key []byte, mutation Mutation) {
	k := string(key)
	if old, exists := m.entries[k]; exists {
		m.memUsage -= ApproxKeyUsage(key) + ApproxValueUsage(old)
	} else {
		m.insertKey(k)
	}
	m.entries[k] = mutation
	m.memUsage += ApproxKeyUsage(key) + ApproxValueUsage(mutation)
}

func (m *MemStore) insertKey(k string) {
	i := sort.SearchStrings(m.keys, k)
	m.keys = append(m.keys, "")
	copy(m.keys[i+1:], m.keys[i:])
	m.keys[i] = k
}

// Lookup returns the mutation recorded against key, if any.
func (m *MemStore) Lookup(key []byte) (Mutation, bool) {
	mut, ok := m.entries[string(key)]
	return mut, ok
}

// FirstInRange returns the smallest key within iv, or false if none exists.
func (m *MemStore) FirstInRange(iv Interval) ([]byte, bool) {
	i := sort.Search(len(m.keys), func(i int) bool {
		return iv.AboveLowerBound([]byte(m.keys[i]))
	})
	if i >= len(m.keys) || !iv.BelowUpperBound([]byte(m.keys[i])) {
		return nil, false
	}
	return []byte(m.keys[i]), true
}

// LastInRange returns the largest key within iv, or false if none exists.
func (m *MemStore) LastInRange(iv Interval) ([]byte, bool) {
	i := sort.Search(len(m.keys), func(i int) bool {
		return !iv.BelowUpperBound([]byte(m.keys[i]))
	})
	i--
	if i < 0 || !iv.AboveLowerBound([]byte(m.keys[i])) {
		return nil, false
	}
	return []byte(m.keys[i]), true
}

// MemStoreIterator is a lazy, finite, non-restartable walk over a
// MemStore's entries within an interval, in the given direction. It is
// invalidated if the underlying MemStore is mutated during iteration —
// callers must not do that.
type MemStoreIterator struct {
	store     *MemStore
	interval  Interval
	direction Direction
	pos       int // index into store.keys; meaningless once done
	done      bool
}

// Iter returns a MemStoreIterator over m restricted to iv, walking in dir.
func (m *MemStore) Iter(iv Interval, dir Direction) *MemStoreIterator {
	it := &MemStoreIterator{store: m, interval: iv, direction: dir}
	switch dir {
	case Forward:
		key, ok := m.FirstInRange(iv)
		if !ok {
			it.done = true
			return it
		}
		it.pos = sort.SearchStrings(m.keys, string(key))
	case Backward:
		key, ok := m.LastInRange(iv)
		if !ok {
			it.done = true
			return it
		}
		it.pos = sort.SearchStrings(m.keys, string(key))
	}
	return it
}

// CurrentKey returns the key at the iterator's current position.
func (it *MemStoreIterator) CurrentKey() ([]byte, bool) {
	if it.done {
		return nil, false
	}
	return []byte(it.store.keys[it.pos]), true
}

// CurrentValue returns the mutation at the iterator's current position.
func (it *MemStoreIterator) CurrentValue() Mutation {
	if it.done {
		panic(ErrIteratorExhausted)
	}
	return it.store.entries[it.store.keys[it.pos]]
}

// Step advances the iterator. It returns ErrIteratorExhausted if the
// iterator is already past the end.
func (it *MemStoreIterator) Step() error {
	if it.done {
		return ErrIteratorExhausted
	}
	switch it.direction {
	case Forward:
		it.pos++
		if it.pos >= len(it.store.keys) || !it.interval.BelowUpperBound([]byte(it.store.keys[it.pos])) {
			it.done = true
		}
	case Backward:
		it.pos--
		if it.pos < 0 || !it.interval.AboveLowerBound([]byte(it.store.keys[it.pos])) {
			it.done = true
		}
	}
	return nil
}
