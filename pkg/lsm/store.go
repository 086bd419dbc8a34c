package lsm

import (
	"bytes"
	"os"
	"sort"
	"time"

	"github.com/dd0wney/lsmkv/pkg/logging"
	"github.com/dd0wney/lsmkv/pkg/metrics"
)

// Store is the façade over a single directory's worth of LSM state: the
// active memstore, the TOC, and the threshold that governs when a flush
// happens. It is NOT safe for concurrent use; every operation runs to
// completion on the caller's goroutine.
//
// memstores holds only one element. An earlier revision of this engine
// carried a second, frozen slot while a flush was pending; every
// operation here is synchronous, so there is never a window in which a
// frozen memstore would need to remain independently readable.
type Store struct {
	memstores []*MemStore
	toc       *Toc
	dir       string
	threshold uint64

	log     logging.Logger
	metrics *metrics.Registry
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithLogger injects a structured logger. Defaults to logging.NopLogger{}.
func WithLogger(log logging.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithMetrics attaches a metrics.Registry that Store operations report
// into. Defaults to nil, which disables metrics entirely.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Store) { s.metrics = reg }
}

// Create creates dir and an empty manifest inside it.
func Create(dir string) error {
	return createToc(dir)
}

// Open opens dir's manifest, validates it against the directory's actual
// table files, and returns a ready-to-use Store with a single active
// memstore and threshold governing when it flushes.
func Open(dir string, threshold uint64, opts ...Option) (*Store, error) {
	s := &Store{
		dir:       dir,
		threshold: threshold,
		memstores: []*MemStore{NewMemStore()},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.NopLogger{}
	}

	toc, err := openToc(dir, s.log)
	if err != nil {
		return nil, err
	}
	s.toc = toc
	s.reportTableCounts()
	return s, nil
}

// Close releases the store's open file handles. It does not flush.
func (s *Store) Close() error {
	return s.toc.close()
}

// Put unconditionally records value against key.
func (s *Store) Put(key, value []byte) error {
	s.memstores[0].Apply(key, SetMutation(value))
	s.reportMemUsage()
	return s.considerSplit()
}

// Insert records value against key only if key was previously absent. It
// returns whether the insert took effect.
func (s *Store) Insert(key, value []byte) (bool, error) {
	exists, err := s.Exists(key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	s.memstores[0].Apply(key, SetMutation(value))
	s.reportMemUsage()
	if err := s.considerSplit(); err != nil {
		return true, err
	}
	return true, nil
}

// Replace records value against key only if key was previously present. It
// returns whether the replace took effect.
func (s *Store) Replace(key, value []byte) (bool, error) {
	exists, err := s.Exists(key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	s.memstores[0].Apply(key, SetMutation(value))
	s.reportMemUsage()
	if err := s.considerSplit(); err != nil {
		return true, err
	}
	return true, nil
}

// Remove records a tombstone for key if key was previously present. It
// returns whether the key had existed.
func (s *Store) Remove(key []byte) (bool, error) {
	exists, err := s.Exists(key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	s.memstores[0].Apply(key, DeleteMutation())
	s.reportMemUsage()
	if err := s.considerSplit(); err != nil {
		return true, err
	}
	return true, nil
}

// Get searches the memstore, then level 0 (newest-first), then every
// higher level, returning the first tagged value found for key: Set
// yields the value, Delete yields an absent result, and exhausting every
// layer without finding the key also yields an absent result.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	mut, ok, err := s.lookup(key)
	if err != nil {
		return nil, false, err
	}
	hit := ok && !mut.IsDelete()
	if s.metrics != nil {
		s.metrics.RecordGet(hit)
	}
	if !hit {
		return nil, false, nil
	}
	return mut.Value, true, nil
}

// Exists reports whether key currently has a live (non-tombstoned) value.
func (s *Store) Exists(key []byte) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

func (s *Store) lookup(key []byte) (Mutation, bool, error) {
	for _, ms := range s.memstores {
		if mut, ok := ms.Lookup(key); ok {
			return mut, true, nil
		}
	}

	level0 := s.toc.tablesAtLevel(0)
	sort.Slice(level0, func(i, j int) bool { return level0[i].ID > level0[j].ID })
	for _, t := range level0 {
		if !t.Overlaps(key, key) {
			continue
		}
		if mut, ok, err := LookupTable(s.dir, t, key); err != nil {
			return Mutation{}, false, err
		} else if ok {
			return mut, true, nil
		}
	}

	for level := uint32(1); level <= s.toc.maxLevel(); level++ {
		for _, t := range s.toc.tablesAtLevel(level) {
			if !t.Overlaps(key, key) {
				continue
			}
			if mut, ok, err := LookupTable(s.dir, t, key); err != nil {
				return Mutation{}, false, err
			} else if ok {
				return mut, true, nil
			}
		}
	}
	return Mutation{}, false, nil
}

// considerSplit flushes the active memstore once its usage reaches
// threshold.
func (s *Store) considerSplit() error {
	if s.memstores[0].MemUsage() >= s.threshold {
		return s.Flush()
	}
	return nil
}

// Flush seals the active memstore into a new level-0 table, records it
// in the TOC, runs one releveling pass, and installs a fresh active
// memstore. An empty memstore is skipped entirely — no table file is
// written and the table id counter does not advance.
func (s *Store) Flush() error {
	start := time.Now()
	active := s.memstores[0]
	if active.Len() == 0 {
		return nil
	}

	builder := NewTableBuilder()
	full := Interval{Lower: UnboundedBound(), Upper: UnboundedBound()}
	it := active.Iter(full, Forward)
	for {
		key, ok := it.CurrentKey()
		if !ok {
			break
		}
		if err := builder.AddMutation(key, it.CurrentValue()); err != nil {
			return err
		}
		if err := it.Step(); err != nil {
			return err
		}
	}

	id := s.toc.nextTableID
	f, err := os.OpenFile(tableFilePath(s.dir, id), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	keysOffset, fileSize, smallest, biggest, err := builder.Finish(f)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	info := TableInfo{
		ID:          id,
		Level:       0,
		KeysOffset:  keysOffset,
		FileSize:    fileSize,
		SmallestKey: smallest,
		BiggestKey:  biggest,
	}
	if _, err := s.toc.append(TocEntry{Additions: []TableInfo{info}}); err != nil {
		return err
	}

	s.log.Info("flush complete", logging.TableID(id), logging.Count(int(info.FileSize)))
	if s.metrics != nil {
		s.metrics.RecordFlush(time.Since(start))
	}

	s.memstores[0] = NewMemStore()
	s.reportMemUsage()

	if err := rebalance(s.dir, s.toc, s.threshold, s.log, s.metrics); err != nil {
		return err
	}
	s.reportTableCounts()
	return nil
}

// Sync flushes the active memstore, then issues an OS-level sync of the
// store's directory entry.
func (s *Store) Sync() error {
	if err := s.Flush(); err != nil {
		return err
	}
	d, err := os.Open(s.dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// StoreIter is the cursor returned by RangeDirected, produced by unifying
// one iterator per memstore, one per level-0 table, and one ConcatIterator
// per higher level into a single MergeIterator.
type StoreIter struct {
	merge    *MergeIterator
	interval Interval
}

// Range returns a StoreIter walking iv in ascending key order.
func (s *Store) Range(iv Interval) (*StoreIter, error) {
	return s.RangeDirected(iv, Forward)
}

// RangeDescending returns a StoreIter walking iv in descending key order.
func (s *Store) RangeDescending(iv Interval) (*StoreIter, error) {
	return s.RangeDirected(iv, Backward)
}

// RangeDirected builds the full iterator stack for iv/direction: one
// iterator per memstore, one per level-0 table (newest first), and one
// ConcatIterator per higher level (tables overlapping iv, ordered by
// smallest_key ascending for Forward or descending for Backward).
func (s *Store) RangeDirected(iv Interval, direction Direction) (*StoreIter, error) {
	var children []MutationIterator

	for _, ms := range s.memstores {
		children = append(children, ms.Iter(iv, direction))
	}

	level0 := s.toc.tablesAtLevel(0)
	sort.Slice(level0, func(i, j int) bool { return level0[i].ID > level0[j].ID })
	for _, t := range level0 {
		if !t.OverlapsInterval(iv) {
			continue
		}
		tIt, err := NewTableIterator(s.dir, t, iv, direction)
		if err != nil {
			return nil, err
		}
		children = append(children, tIt)
	}

	for level := uint32(1); level <= s.toc.maxLevel(); level++ {
		concat, err := newLevelConcat(s.dir, s.toc.tablesAtLevel(level), iv, direction)
		if err != nil {
			return nil, err
		}
		children = append(children, concat)
	}

	// The merge resolves backward ties toward the largest child index, so
	// the newest-first stack built above must be reversed for a backward
	// scan to keep newer layers winning ties in either direction.
	if direction == Backward {
		for i, j := 0, len(children)-1; i < j; i, j = i+1, j-1 {
			children[i], children[j] = children[j], children[i]
		}
	}

	return &StoreIter{merge: NewMergeIterator(children, direction), interval: iv}, nil
}

func newLevelConcat(dir string, tables []TableInfo, iv Interval, direction Direction) (*ConcatIterator, error) {
	filtered := make([]TableInfo, 0, len(tables))
	for _, t := range tables {
		if t.OverlapsInterval(iv) {
			filtered = append(filtered, t)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		c := bytes.Compare(filtered[i].SmallestKey, filtered[j].SmallestKey)
		if direction == Forward {
			return c < 0
		}
		return c > 0
	})

	idx := 0
	factory := func() (MutationIterator, bool, error) {
		if idx >= len(filtered) {
			return nil, false, nil
		}
		t := filtered[idx]
		idx++
		it, err := NewTableIterator(dir, t, iv, direction)
		if err != nil {
			return nil, false, err
		}
		return it, true, nil
	}
	return NewConcatIterator(factory)
}

// Next advances it, returning the next live (key, value) pair within its
// interval, or ok == false once the interval is exhausted. Tombstones are
// consumed silently: a Delete causes Next to continue to the following
// key rather than returning it.
func (it *StoreIter) Next() (key, value []byte, ok bool, err error) {
	for {
		k, hasKey := it.merge.CurrentKey()
		if !hasKey || !it.interval.Contains(k) {
			return nil, nil, false, nil
		}
		mut := it.merge.CurrentValue()
		keyCopy := append([]byte(nil), k...)
		if err := it.merge.Step(); err != nil {
			return nil, nil, false, err
		}
		if mut.IsDelete() {
			continue
		}
		return keyCopy, append([]byte(nil), mut.Value...), true, nil
	}
}

func (s *Store) reportMemUsage() {
	if s.metrics != nil {
		s.metrics.SetMemStoreBytes(s.memstores[0].MemUsage())
	}
}

func (s *Store) reportTableCounts() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetTableCount(0, s.toc.levelCount(0))
	for level := uint32(1); level <= s.toc.maxLevel(); level++ {
		s.metrics.SetTableCount(level, s.toc.levelCount(level))
	}
}
