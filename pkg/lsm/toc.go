package lsm

import (
	"bytes"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/dd0wney/lsmkv/pkg/logging"
)

const tocFileName = "toc"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// TocEntry is one record appended to the manifest: the table ids being
// retired, and the TableInfo descriptors being introduced.
type TocEntry struct {
	Removals  []uint64
	Additions []TableInfo
}

// encodeTocEntry serializes e's payload: uvarint(n_removals) ||
// uvarint-id × n_removals || uvarint(n_additions) || encoded_TableInfo ×
// n_additions.
func encodeTocEntry(e TocEntry) []byte {
	var buf []byte
	buf = EncodeUvarint(buf, uint64(len(e.Removals)))
	for _, id := range e.Removals {
		buf = EncodeUvarint(buf, id)
	}
	buf = EncodeUvarint(buf, uint64(len(e.Additions)))
	for _, info := range e.Additions {
		buf = encodeTableInfo(buf, info)
	}
	return buf
}

func encodeTableInfo(dst []byte, info TableInfo) []byte {
	dst = EncodeUvarint(dst, info.ID)
	dst = EncodeUvarint(dst, uint64(info.Level))
	dst = EncodeUvarint(dst, info.KeysOffset)
	dst = EncodeUvarint(dst, info.FileSize)
	dst = EncodeBytes(dst, info.SmallestKey)
	dst = EncodeBytes(dst, info.BiggestKey)
	return dst
}

func decodeTableInfo(buf []byte) (TableInfo, int, error) {
	var info TableInfo
	id, n1, err := DecodeUvarint(buf)
	if err != nil {
		return info, 0, err
	}
	level, n2, err := DecodeUvarint(buf[n1:])
	if err != nil {
		return info, 0, err
	}
	keysOffset, n3, err := DecodeUvarint(buf[n1+n2:])
	if err != nil {
		return info, 0, err
	}
	fileSize, n4, err := DecodeUvarint(buf[n1+n2+n3:])
	if err != nil {
		return info, 0, err
	}
	smallest, n5, err := DecodeBytes(buf[n1+n2+n3+n4:])
	if err != nil {
		return info, 0, err
	}
	biggest, n6, err := DecodeBytes(buf[n1+n2+n3+n4+n5:])
	if err != nil {
		return info, 0, err
	}
	info = TableInfo{
		ID:          id,
		Level:       uint32(level),
		KeysOffset:  keysOffset,
		FileSize:    fileSize,
		SmallestKey: smallest,
		BiggestKey:  biggest,
	}
	return info, n1 + n2 + n3 + n4 + n5 + n6, nil
}

func decodeTocEntry(buf []byte) (TocEntry, error) {
	var e TocEntry
	nRemovals, n, err := DecodeUvarint(buf)
	if err != nil {
		return e, err
	}
	pos := n
	for i := uint64(0); i < nRemovals; i++ {
		id, n, err := DecodeUvarint(buf[pos:])
		if err != nil {
			return e, err
		}
		e.Removals = append(e.Removals, id)
		pos += n
	}
	nAdditions, n, err := DecodeUvarint(buf[pos:])
	if err != nil {
		return e, err
	}
	pos += n
	for i := uint64(0); i < nAdditions; i++ {
		info, n, err := decodeTableInfo(buf[pos:])
		if err != nil {
			return e, err
		}
		e.Additions = append(e.Additions, info)
		pos += n
	}
	return e, nil
}

// Toc is the in-memory table-of-contents: the set of live tables, their
// per-level membership, and the next id to assign. It owns the append-only
// manifest file handle.
type Toc struct {
	dir         string
	file        *os.File
	tableInfos  map[uint64]TableInfo
	levelInfos  map[uint32][]uint64 // level>0 kept ordered by smallest_key
	nextTableID uint64
	log         logging.Logger
}

// createToc creates dir (if needed) and an empty manifest file inside it.
func createToc(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, tocFileName), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// openToc opens the manifest file for read+append, replays its records
// into a fresh Toc, and cross-checks the result against the directory's
// actual table files.
func openToc(dir string, log logging.Logger) (*Toc, error) {
	if log == nil {
		log = logging.NopLogger{}
	}
	path := filepath.Join(dir, tocFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	toc := &Toc{
		dir:        dir,
		tableInfos: make(map[uint64]TableInfo),
		levelInfos: make(map[uint32][]uint64),
		log:        log,
	}

	pos := 0
	for pos < len(data) {
		payloadLen, n1, err := DecodeU64(data[pos:])
		if err != nil {
			break
		}
		checksum, n2, err := DecodeU32(data[pos+n1:])
		if err != nil {
			break
		}
		payloadStart := pos + n1 + n2
		payloadEnd := payloadStart + int(payloadLen)
		if payloadEnd > len(data) {
			break
		}
		payload := data[payloadStart:payloadEnd]
		if crc32.Checksum(payload, castagnoli) != checksum {
			log.Warn("toc: checksum mismatch, truncating tail", logging.Int("offset", pos))
			break
		}
		entry, err := decodeTocEntry(payload)
		if err != nil {
			log.Warn("toc: malformed record, truncating tail", logging.Error(err))
			break
		}
		toc.apply(entry)
		pos = payloadEnd
	}

	if pos != len(data) {
		if err := os.Truncate(path, int64(pos)); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	toc.file = f

	if err := toc.crossCheck(); err != nil {
		f.Close()
		return nil, err
	}
	return toc, nil
}

// apply folds entry into the in-memory Toc: removals first, then
// additions, advancing nextTableID past every added id.
func (t *Toc) apply(entry TocEntry) {
	for _, id := range entry.Removals {
		if info, ok := t.tableInfos[id]; ok {
			t.removeFromLevel(info.Level, id)
			delete(t.tableInfos, id)
		}
	}
	for _, info := range entry.Additions {
		t.tableInfos[info.ID] = info
		t.addToLevel(info)
		if info.ID+1 > t.nextTableID {
			t.nextTableID = info.ID + 1
		}
	}
}

func (t *Toc) addToLevel(info TableInfo) {
	ids := t.levelInfos[info.Level]
	if info.Level == 0 {
		t.levelInfos[0] = append(ids, info.ID)
		return
	}
	i := sort.Search(len(ids), func(i int) bool {
		return bytes.Compare(t.tableInfos[ids[i]].SmallestKey, info.SmallestKey) >= 0
	})
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = info.ID
	t.levelInfos[info.Level] = ids
}

func (t *Toc) removeFromLevel(level uint32, id uint64) {
	ids := t.levelInfos[level]
	for i, existing := range ids {
		if existing == id {
			t.levelInfos[level] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// crossCheck verifies that every TableInfo in the final Toc has a
// corresponding table file on disk of the expected size. A directory
// entry counts as a table file only if its name round-trips through
// decimal u64 formatting (see parseTableFileName).
func (t *Toc) crossCheck() error {
	dirents, err := os.ReadDir(t.dir)
	if err != nil {
		return err
	}
	sizes := make(map[uint64]uint64, len(dirents))
	for _, de := range dirents {
		id, ok := parseTableFileName(de.Name())
		if !ok {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			return err
		}
		sizes[id] = uint64(fi.Size())
	}
	for id, info := range t.tableInfos {
		size, ok := sizes[id]
		if !ok || size != info.FileSize {
			return ErrInvalidToc
		}
	}
	return nil
}

// append serializes entry as a length+checksum+payload record, writes it,
// folds it into the in-memory Toc, and returns the set of table ids that
// became unreferenced: the removals minus any id the same entry re-adds
// (a metadata-only relevel re-adds every id it removes, so its files must
// not be unlinked). The caller unlinks the returned files after the
// manifest write completes.
func (t *Toc) append(entry TocEntry) ([]uint64, error) {
	payload := encodeTocEntry(entry)
	checksum := crc32.Checksum(payload, castagnoli)

	var record []byte
	record = EncodeU64(record, uint64(len(payload)))
	record = EncodeU32(record, checksum)
	record = append(record, payload...)

	if _, err := t.file.Write(record); err != nil {
		return nil, err
	}
	if err := t.file.Sync(); err != nil {
		return nil, err
	}
	t.apply(entry)

	readded := make(map[uint64]bool, len(entry.Additions))
	for _, info := range entry.Additions {
		readded[info.ID] = true
	}
	var unreferenced []uint64
	for _, id := range entry.Removals {
		if !readded[id] {
			unreferenced = append(unreferenced, id)
		}
	}
	return unreferenced, nil
}

// levelCount returns the number of tables currently recorded at level.
func (t *Toc) levelCount(level uint32) int {
	return len(t.levelInfos[level])
}

// tablesAtLevel returns the TableInfo for every table at level, in the
// Toc's stored order (insertion order for level 0, smallest_key order for
// higher levels).
func (t *Toc) tablesAtLevel(level uint32) []TableInfo {
	ids := t.levelInfos[level]
	infos := make([]TableInfo, len(ids))
	for i, id := range ids {
		infos[i] = t.tableInfos[id]
	}
	return infos
}

// maxLevel returns the highest level with at least one table.
func (t *Toc) maxLevel() uint32 {
	var max uint32
	for level, ids := range t.levelInfos {
		if len(ids) > 0 && level > max {
			max = level
		}
	}
	return max
}

func (t *Toc) close() error {
	return t.file.Close()
}
