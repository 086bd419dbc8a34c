package lsm

import (
	"os"
	"sort"

	"github.com/dd0wney/lsmkv/pkg/logging"
	"github.com/dd0wney/lsmkv/pkg/metrics"
)

// level0CompactionLimit is the most level-0 tables allowed; more than this
// triggers a relevel of everything but the newest into level 1.
const level0CompactionLimit = 4

// levelSizeBase and levelSizeFactor give the trigger threshold for level
// L>0: more than levelSizeBase * levelSizeFactor^(L-1) tables.
const (
	levelSizeBase   = 4
	levelSizeFactor = 10
)

// rebalance runs at most one top-level relevel, or at most one relevel at
// each deeper level, per invocation — called once per flush. Work is
// intentionally spread across future flushes rather than compacting
// everything eagerly.
func rebalance(dir string, toc *Toc, threshold uint64, log logging.Logger, rec *metrics.Registry) error {
	if log == nil {
		log = logging.NopLogger{}
	}
	if toc.levelCount(0) > level0CompactionLimit {
		return relevelLevel0(dir, toc, threshold, log, rec)
	}

	maxLevel := toc.maxLevel()
	for level := uint32(1); level <= maxLevel; level++ {
		limit := levelSizeBase * pow10(level-1)
		if toc.levelCount(level) > limit {
			if err := relevelOneFromLevel(dir, toc, threshold, level, log, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func pow10(n uint32) int {
	v := 1
	for i := uint32(0); i < n; i++ {
		v *= levelSizeFactor
	}
	return v
}

// relevelLevel0 relevels every level-0 table except the newest (highest
// id) into level 1.
func relevelLevel0(dir string, toc *Toc, threshold uint64, log logging.Logger, rec *metrics.Registry) error {
	tables := toc.tablesAtLevel(0)
	if len(tables) == 0 {
		return nil
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })
	s := tables[:len(tables)-1] // all but newest
	if len(s) == 0 {
		return nil
	}
	return relevel(dir, toc, threshold, s, 0, log, rec)
}

// relevelOneFromLevel picks the single table at level that overlaps the
// fewest tables at level+1 (ties toward smallest id) and relevels it.
func relevelOneFromLevel(dir string, toc *Toc, threshold uint64, level uint32, log logging.Logger, rec *metrics.Registry) error {
	candidates := toc.tablesAtLevel(level)
	if len(candidates) == 0 {
		return nil
	}
	next := toc.tablesAtLevel(level + 1)

	best := candidates[0]
	bestOverlap := countOverlaps(best, next)
	for _, c := range candidates[1:] {
		n := countOverlaps(c, next)
		if n < bestOverlap || (n == bestOverlap && c.ID < best.ID) {
			best, bestOverlap = c, n
		}
	}
	return relevel(dir, toc, threshold, []TableInfo{best}, level, log, rec)
}

func countOverlaps(t TableInfo, others []TableInfo) int {
	n := 0
	for _, o := range others {
		if t.OverlapsTable(o) {
			n++
		}
	}
	return n
}

// relevel merges a set s of tables at level into level+1. If none of s
// overlaps the other, and none of s overlaps level+1, this is a
// metadata-only move: a single TOC entry re-assigns their level. Otherwise
// it streams a MergeIterator over s (in precedence order) and the
// overlapping tables at level+1 into fresh output tables.
//
// Tombstone policy: Delete mutations are never dropped here, even at what
// would be the bottom level — only the merge iterator's precedence
// (newer entries in s shadow older entries in the overlap set) determines
// which mutation survives for a given key.
func relevel(dir string, toc *Toc, threshold uint64, s []TableInfo, level uint32, log logging.Logger, rec *metrics.Registry) error {
	overlap := overlappingAt(toc, level+1, s)

	if len(overlap) == 0 && pairwiseDisjoint(s) {
		return metadataOnlyMove(toc, s, level, level+1, log, rec)
	}
	return mergeRelevel(dir, toc, threshold, s, overlap, level, log, rec)
}

func overlappingAt(toc *Toc, level uint32, s []TableInfo) []TableInfo {
	candidates := toc.tablesAtLevel(level)
	var out []TableInfo
	for _, c := range candidates {
		for _, t := range s {
			if t.OverlapsTable(c) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func pairwiseDisjoint(tables []TableInfo) bool {
	for i := range tables {
		for j := i + 1; j < len(tables); j++ {
			if tables[i].OverlapsTable(tables[j]) {
				return false
			}
		}
	}
	return true
}

func metadataOnlyMove(toc *Toc, s []TableInfo, sourceLevel, newLevel uint32, log logging.Logger, rec *metrics.Registry) error {
	entry := TocEntry{}
	for _, t := range s {
		entry.Removals = append(entry.Removals, t.ID)
		moved := t
		moved.Level = newLevel
		entry.Additions = append(entry.Additions, moved)
	}
	_, err := toc.append(entry)
	if err == nil {
		log.Debug("compaction: metadata-only relevel", logging.LevelNum(newLevel), logging.Count(len(s)))
		if rec != nil {
			rec.RecordCompaction(sourceLevel)
		}
	}
	return err
}

// mergeRelevel builds a MergeIterator over s (in precedence order)
// followed by overlap, streams it into successive TableBuilders (closing
// one and starting the next whenever LowerBoundFileSize exceeds
// threshold), and writes a single TOC entry moving s ∪ overlap out in
// favor of the new tables at level+1.
func mergeRelevel(dir string, toc *Toc, threshold uint64, s, overlap []TableInfo, level uint32, log logging.Logger, rec *metrics.Registry) error {
	precedence := precedenceOrder(s, level)
	children := make([]MutationIterator, 0, len(precedence)+len(overlap))
	for _, t := range precedence {
		it, err := NewTableIterator(dir, t, Interval{Lower: UnboundedBound(), Upper: UnboundedBound()}, Forward)
		if err != nil {
			return err
		}
		children = append(children, it)
	}
	for _, t := range overlap {
		it, err := NewTableIterator(dir, t, Interval{Lower: UnboundedBound(), Upper: UnboundedBound()}, Forward)
		if err != nil {
			return err
		}
		children = append(children, it)
	}
	merge := NewMergeIterator(children, Forward)

	var newTables []TableInfo
	nextID := toc.nextTableID

	builder := NewTableBuilder()
	flushOutput := func() error {
		if builder.IsEmpty() {
			return nil
		}
		id := nextID
		nextID++
		f, err := os.OpenFile(tableFilePath(dir, id), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
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
		newTables = append(newTables, TableInfo{
			ID:          id,
			Level:       level + 1,
			KeysOffset:  keysOffset,
			FileSize:    fileSize,
			SmallestKey: smallest,
			BiggestKey:  biggest,
		})
		builder = NewTableBuilder()
		return nil
	}

	for {
		key, ok := merge.CurrentKey()
		if !ok {
			break
		}
		value := merge.CurrentValue()
		if err := builder.AddMutation(key, value); err != nil {
			return err
		}
		if builder.LowerBoundFileSize() > threshold {
			if err := flushOutput(); err != nil {
				return err
			}
		}
		if err := merge.Step(); err != nil {
			return err
		}
	}
	if err := flushOutput(); err != nil {
		return err
	}

	entry := TocEntry{Additions: newTables}
	for _, t := range s {
		entry.Removals = append(entry.Removals, t.ID)
	}
	for _, t := range overlap {
		entry.Removals = append(entry.Removals, t.ID)
	}

	unreferenced, err := toc.append(entry)
	if err != nil {
		return err
	}
	log.Debug("compaction: merged relevel", logging.LevelNum(level+1), logging.Count(len(newTables)))
	if rec != nil {
		rec.RecordCompaction(level)
	}
	for _, id := range unreferenced {
		if err := os.Remove(tableFilePath(dir, id)); err != nil {
			log.Warn("compaction: failed to remove superseded table", logging.TableID(id), logging.Error(err))
		}
	}
	return nil
}

// precedenceOrder returns s in the order MergeIterator should favor it: at
// level 0, newer (higher id) tables first; at any other level, s is a
// single table and already in the right order.
func precedenceOrder(s []TableInfo, level uint32) []TableInfo {
	if level != 0 {
		return s
	}
	out := append([]TableInfo(nil), s...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}
