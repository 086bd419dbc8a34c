package lsm

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// TableInfo is the persistent descriptor for one on-disk table, as
// recorded in the TOC. file_size >= TabBackPadding + KeysOffset;
// SmallestKey <= BiggestKey lexicographically; ID uniquely identifies the
// on-disk file.
type TableInfo struct {
	ID          uint64
	Level       uint32
	KeysOffset  uint64
	FileSize    uint64
	SmallestKey []byte
	BiggestKey  []byte
}

// Overlaps reports whether t's key range intersects [lo, hi] (inclusive).
func (t TableInfo) Overlaps(lo, hi []byte) bool {
	return overlaps(t.SmallestKey, t.BiggestKey, lo, hi)
}

// OverlapsTable reports whether t and other have intersecting key ranges.
func (t TableInfo) OverlapsTable(other TableInfo) bool {
	return overlaps(t.SmallestKey, t.BiggestKey, other.SmallestKey, other.BiggestKey)
}

// OverlapsInterval reports whether t's key range can contain any key
// inside iv.
func (t TableInfo) OverlapsInterval(iv Interval) bool {
	return intervalOverlapsRange(iv, t.SmallestKey, t.BiggestKey)
}

// tableFileName returns the "<id>.tab" file name for a table id.
func tableFileName(id uint64) string {
	return strconv.FormatUint(id, 10) + ".tab"
}

// parseTableFileName parses a directory entry name as a table id. It
// rejects names that don't round-trip through decimal u64 formatting
// (e.g. "01.tab" is rejected; "1.tab" is accepted), per the external
// interface's naming rule.
func parseTableFileName(name string) (uint64, bool) {
	const suffix = ".tab"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return 0, false
	}
	digits := name[:len(name)-len(suffix)]
	id, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	if tableFileName(id) != name {
		return 0, false
	}
	return id, true
}

func tableFilePath(dir string, id uint64) string {
	return filepath.Join(dir, tableFileName(id))
}

func (t TableInfo) String() string {
	return fmt.Sprintf("table{id=%d level=%d range=[%q,%q]}", t.ID, t.Level, t.SmallestKey, t.BiggestKey)
}
