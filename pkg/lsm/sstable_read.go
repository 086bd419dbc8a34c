package lsm

import (
	"bytes"
	"os"
)

// keyEntry is one parsed key-area entry: the key itself, and where its
// mutation lives in the values-area.
type keyEntry struct {
	key         []byte
	valueOffset uint64
	valueLength uint64
}

// loadKeysBlock reads the entire keys-area of a table into memory.
func loadKeysBlock(f *os.File, info TableInfo) ([]byte, error) {
	keysAreaLen := info.FileSize - info.KeysOffset - TabBackPadding
	buf := make([]byte, keysAreaLen)
	if _, err := f.ReadAt(buf, int64(info.KeysOffset)); err != nil {
		return nil, err
	}
	return buf, nil
}

// tailLength returns the byte length of the keys-area tail
// (uvarint(last_entry_length) || u8(byte_length_of_that_uvarint)) sitting
// at the end of block, by reading the trailing length byte and decoding
// backward from it.
func tailLength(block []byte) (int, error) {
	if len(block) < 1 {
		return 0, ErrCorruptTable
	}
	lenByteLen := int(block[len(block)-1])
	if lenByteLen < 1 || lenByteLen+1 > len(block) {
		return 0, ErrCorruptTable
	}
	if _, n, err := DecodeUvarint(block[len(block)-1-lenByteLen:]); err != nil || n != lenByteLen {
		return 0, ErrCorruptTable
	}
	return lenByteLen + 1, nil
}

// parseKeyEntries decodes every key entry out of a loaded keys-area block,
// in ascending order, stopping before the keys-area tail. Forward parsing
// needs only the entries themselves, since each carries its own
// key_length; the tail exists for readers that instead walk backward from
// the end using prev_entry_length chains, which this implementation does
// not need once the block is fully materialized.
func parseKeyEntries(block []byte) ([]keyEntry, error) {
	tlen, err := tailLength(block)
	if err != nil {
		return nil, err
	}
	entriesEnd := len(block) - tlen

	var entries []keyEntry
	pos := 0
	for pos < entriesEnd {
		_, n1, err := DecodeUvarint(block[pos:])
		if err != nil {
			return nil, err
		}
		valueOffset, n2, err := DecodeUvarint(block[pos+n1:])
		if err != nil {
			return nil, err
		}
		valueLength, n3, err := DecodeUvarint(block[pos+n1+n2:])
		if err != nil {
			return nil, err
		}
		keyLength, n4, err := DecodeUvarint(block[pos+n1+n2+n3:])
		if err != nil {
			return nil, err
		}
		keyStart := pos + n1 + n2 + n3 + n4
		keyEnd := keyStart + int(keyLength)
		if keyEnd > entriesEnd {
			return nil, ErrCorruptTable
		}
		entries = append(entries, keyEntry{
			key:         block[keyStart:keyEnd],
			valueOffset: valueOffset,
			valueLength: valueLength,
		})
		pos = keyEnd
	}
	return entries, nil
}

// LookupTable opens the table file described by info under dir, loads its
// keys-area, and linearly scans forward comparing keys. On equality, it
// positionally reads exactly value_length bytes at value_offset and
// decodes the mutation; on greater-than, it reports a miss. There is no
// binary search or block index — lookups are O(n) in the table's key
// count, which level-0-sized tables keep tolerable.
func LookupTable(dir string, info TableInfo, key []byte) (Mutation, bool, error) {
	f, err := os.Open(tableFilePath(dir, info.ID))
	if err != nil {
		return Mutation{}, false, err
	}
	defer f.Close()

	block, err := loadKeysBlock(f, info)
	if err != nil {
		return Mutation{}, false, err
	}
	entries, err := parseKeyEntries(block)
	if err != nil {
		return Mutation{}, false, err
	}

	for _, e := range entries {
		switch c := bytes.Compare(e.key, key); {
		case c < 0:
			continue
		case c > 0:
			return Mutation{}, false, nil
		default:
			valBuf := make([]byte, e.valueLength)
			if _, err := f.ReadAt(valBuf, int64(e.valueOffset)); err != nil {
				return Mutation{}, false, err
			}
			mut, _, err := DecodeMutation(valBuf)
			if err != nil {
				return Mutation{}, false, err
			}
			return mut, true, nil
		}
	}
	return Mutation{}, false, nil
}

// TableIterator walks a single table's entries within an interval, in a
// chosen direction. It loads the keys-area once at construction, and a
// contiguous values-area slice bounded to the range of offsets the
// interval's entries actually reference.
type TableIterator struct {
	entries  []keyEntry
	valueBuf []byte   // values-area bytes spanning [minOffset, maxOffset+maxLen)
	baseOff  uint64   // minOffset, so valueBuf indices line up with entry offsets minus baseOff
	pos      int      // index into entries
	interval Interval
	dir      Direction
	done     bool
}

// NewTableIterator opens the table described by info under dir and
// constructs a TableIterator restricted to iv, walking in dir direction.
func NewTableIterator(dirPath string, info TableInfo, iv Interval, dir Direction) (*TableIterator, error) {
	f, err := os.Open(tableFilePath(dirPath, info.ID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	block, err := loadKeysBlock(f, info)
	if err != nil {
		return nil, err
	}
	all, err := parseKeyEntries(block)
	if err != nil {
		return nil, err
	}

	lo := sortSearchEntries(all, func(e keyEntry) bool { return iv.AboveLowerBound(e.key) })
	hi := sortSearchEntries(all, func(e keyEntry) bool { return !iv.BelowUpperBound(e.key) })
	entries := all[lo:hi]

	it := &TableIterator{entries: entries, interval: iv, dir: dir}
	if len(entries) == 0 {
		it.done = true
		return it, nil
	}

	minOff, maxEnd := entries[0].valueOffset, entries[0].valueOffset+entries[0].valueLength
	for _, e := range entries[1:] {
		if e.valueOffset < minOff {
			minOff = e.valueOffset
		}
		if end := e.valueOffset + e.valueLength; end > maxEnd {
			maxEnd = end
		}
	}
	valBuf := make([]byte, maxEnd-minOff)
	if _, err := f.ReadAt(valBuf, int64(minOff)); err != nil {
		return nil, err
	}
	it.valueBuf = valBuf
	it.baseOff = minOff

	switch dir {
	case Forward:
		it.pos = 0
	case Backward:
		it.pos = len(entries) - 1
	}
	return it, nil
}

func sortSearchEntries(entries []keyEntry, pred func(keyEntry) bool) int {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if pred(entries[mid]) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// CurrentKey returns the key at the iterator's current position.
func (it *TableIterator) CurrentKey() ([]byte, bool) {
	if it.done {
		return nil, false
	}
	return it.entries[it.pos].key, true
}

// CurrentValue decodes and returns the mutation at the iterator's current
// position.
func (it *TableIterator) CurrentValue() Mutation {
	if it.done {
		panic(ErrIteratorExhausted)
	}
	e := it.entries[it.pos]
	start := e.valueOffset - it.baseOff
	end := start + e.valueLength
	mut, _, err := DecodeMutation(it.valueBuf[start:end])
	if err != nil {
		panic(err)
	}
	return mut
}

// Step advances the iterator one position in its direction.
func (it *TableIterator) Step() error {
	if it.done {
		return ErrIteratorExhausted
	}
	switch it.dir {
	case Forward:
		it.pos++
		if it.pos >= len(it.entries) {
			it.done = true
		}
	case Backward:
		it.pos--
		if it.pos < 0 {
			it.done = true
		}
	}
	return nil
}
