package lsm

import "bytes"

// MutationIterator is the common interface every layer of the engine
// iterates through: MemStore iterators, table iterators, and the
// composite Merge/Concat iterators below. Empty at construction means
// CurrentKey returns false immediately; stepping past the end returns
// ErrIteratorExhausted. CurrentValue has no error result: on an exhausted
// iterator it panics (the engine's iterators panic with
// ErrIteratorExhausted).
type MutationIterator interface {
	CurrentKey() ([]byte, bool)
	CurrentValue() Mutation
	Step() error
}

// MergeIterator owns N child iterators and unifies them into a single
// ordered stream. Forward direction yields the minimum front key, ties
// broken toward the smallest child index; backward direction yields the
// maximum front key, ties broken toward the largest child index. Either
// way, the tie-break encodes precedence: for Forward the children are
// expected newest-first, for Backward oldest-first, so a tie resolves to
// the newest contributor. On
// Step, every child whose front key equals the chosen key is advanced,
// collapsing duplicates down to the front-most contributor's value. The
// tie-breaker is kept explicit (by index) rather than relying on sort
// stability, per the composition guidance this engine follows.
type MergeIterator struct {
	children []MutationIterator
	fronts   []frontKey
	dir      Direction
}

type frontKey struct {
	key   []byte
	valid bool
}

// NewMergeIterator returns a MergeIterator over children, walking in dir.
// The highest-precedence source is index 0 for Forward and the last index
// for Backward.
func NewMergeIterator(children []MutationIterator, dir Direction) *MergeIterator {
	m := &MergeIterator{children: children, dir: dir, fronts: make([]frontKey, len(children))}
	for i, c := range children {
		k, ok := c.CurrentKey()
		m.fronts[i] = frontKey{key: k, valid: ok}
	}
	return m
}

// chosen returns the index of the child currently selected as the merge's
// front, and whether any child is valid.
func (m *MergeIterator) chosen() (int, bool) {
	best := -1
	for i, f := range m.fronts {
		if !f.valid {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		cmp := bytes.Compare(f.key, m.fronts[best].key)
		switch m.dir {
		case Forward:
			if cmp < 0 || (cmp == 0 && i < best) {
				best = i
			}
		case Backward:
			if cmp > 0 || (cmp == 0 && i > best) {
				best = i
			}
		}
	}
	return best, best != -1
}

// CurrentKey returns the merge's current front key.
func (m *MergeIterator) CurrentKey() ([]byte, bool) {
	i, ok := m.chosen()
	if !ok {
		return nil, false
	}
	return m.fronts[i].key, true
}

// CurrentValue returns the mutation from the front-most contributor of
// the merge's current front key.
func (m *MergeIterator) CurrentValue() Mutation {
	i, ok := m.chosen()
	if !ok {
		panic(ErrIteratorExhausted)
	}
	return m.children[i].CurrentValue()
}

// Step advances every child whose front key equals the current chosen
// key, then refreshes their cached fronts.
func (m *MergeIterator) Step() error {
	i, ok := m.chosen()
	if !ok {
		return ErrIteratorExhausted
	}
	key := m.fronts[i].key
	for idx, f := range m.fronts {
		if !f.valid || !bytes.Equal(f.key, key) {
			continue
		}
		if err := m.children[idx].Step(); err != nil {
			return err
		}
		k, ok := m.children[idx].CurrentKey()
		m.fronts[idx] = frontKey{key: k, valid: ok}
	}
	return nil
}

// ConcatIteratorFactory lazily produces the next child iterator in a
// finite, non-overlapping, monotonically ordered chain, or (nil, false,
// nil) when exhausted.
type ConcatIteratorFactory func() (MutationIterator, bool, error)

// ConcatIterator chains a sequence of child iterators with disjoint,
// monotonically ordered key ranges, advancing to the next child once the
// current one exhausts. Empty children are skipped both at construction
// and mid-stream. An error from the factory propagates to the caller of
// Step (or the constructor, for the first child).
type ConcatIterator struct {
	factory ConcatIteratorFactory
	current MutationIterator
	done    bool
}

// NewConcatIterator constructs a ConcatIterator, pulling children from
// factory (skipping any that start out empty) until it finds one with at
// least one entry or the factory is exhausted.
func NewConcatIterator(factory ConcatIteratorFactory) (*ConcatIterator, error) {
	c := &ConcatIterator{factory: factory}
	if err := c.advanceToNonEmpty(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ConcatIterator) advanceToNonEmpty() error {
	for {
		next, ok, err := c.factory()
		if err != nil {
			return err
		}
		if !ok {
			c.current = nil
			c.done = true
			return nil
		}
		if _, hasKey := next.CurrentKey(); hasKey {
			c.current = next
			return nil
		}
	}
}

// CurrentKey returns the key at the concat iterator's current position.
func (c *ConcatIterator) CurrentKey() ([]byte, bool) {
	if c.done || c.current == nil {
		return nil, false
	}
	return c.current.CurrentKey()
}

// CurrentValue returns the mutation at the concat iterator's current
// position.
func (c *ConcatIterator) CurrentValue() Mutation {
	if c.done || c.current == nil {
		panic(ErrIteratorExhausted)
	}
	return c.current.CurrentValue()
}

// Step advances the current child, moving on to the next non-empty child
// once it exhausts.
func (c *ConcatIterator) Step() error {
	if c.done || c.current == nil {
		return ErrIteratorExhausted
	}
	if err := c.current.Step(); err != nil {
		return err
	}
	if _, ok := c.current.CurrentKey(); ok {
		return nil
	}
	return c.advanceToNonEmpty()
}
