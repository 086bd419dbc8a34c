package lsm

import (
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/dd0wney/lsmkv/pkg/logging"
)

func writeTableFile(t *testing.T, dir string, info TableInfo) {
	t.Helper()
	f, err := os.OpenFile(tableFilePath(dir, info.ID), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(int64(info.FileSize)); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
}

func sampleTableInfo(id uint64) TableInfo {
	return TableInfo{
		ID:          id,
		Level:       0,
		KeysOffset:  4,
		FileSize:    20,
		SmallestKey: []byte("a"),
		BiggestKey:  []byte("z"),
	}
}

// TestTocTailRecovery checks that a TOC file truncated mid-record still
// opens, recovering every preceding complete record.
func TestTocTailRecovery(t *testing.T) {
	dir := t.TempDir()
	if err := createToc(dir); err != nil {
		t.Fatalf("createToc: %v", err)
	}

	info1 := sampleTableInfo(1)
	writeTableFile(t, dir, info1)
	toc, err := openToc(dir, logging.NopLogger{})
	if err != nil {
		t.Fatalf("openToc: %v", err)
	}
	if _, err := toc.append(TocEntry{Additions: []TableInfo{info1}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := toc.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Append a second, complete record manually, then corrupt its tail by
	// truncating the file partway through it.
	info2 := sampleTableInfo(2)
	writeTableFile(t, dir, info2)
	toc, err = openToc(dir, logging.NopLogger{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	payload := encodeTocEntry(TocEntry{Additions: []TableInfo{info2}})
	checksum := crc32.Checksum(payload, castagnoli)
	var record []byte
	record = EncodeU64(record, uint64(len(payload)))
	record = EncodeU32(record, checksum)
	record = append(record, payload...)

	fullPath := filepath.Join(dir, tocFileName)
	stat, err := os.Stat(fullPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	preLen := stat.Size()
	if _, err := toc.file.Write(record); err != nil {
		t.Fatalf("Write: %v", err)
	}
	toc.close()

	// Truncate to cut the second record in half.
	torn := preLen + int64(len(record))/2
	if err := os.Truncate(fullPath, torn); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	recovered, err := openToc(dir, logging.NopLogger{})
	if err != nil {
		t.Fatalf("openToc after tear: %v", err)
	}
	defer recovered.close()

	if recovered.levelCount(0) != 1 {
		t.Fatalf("levelCount(0) = %d, want 1 (only the first record survives)", recovered.levelCount(0))
	}
	if _, ok := recovered.tableInfos[1]; !ok {
		t.Fatalf("table 1 missing after recovery")
	}
	if _, ok := recovered.tableInfos[2]; ok {
		t.Fatalf("table 2 should not have survived the torn record")
	}

	recoveredStat, err := os.Stat(fullPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if recoveredStat.Size() != preLen {
		t.Fatalf("toc file size after recovery = %d, want %d (truncated to last good record)", recoveredStat.Size(), preLen)
	}
}

// TestTocCrcRejection checks that flipping a byte in a record's payload
// causes that record and everything after it to be discarded on read.
func TestTocCrcRejection(t *testing.T) {
	dir := t.TempDir()
	if err := createToc(dir); err != nil {
		t.Fatalf("createToc: %v", err)
	}
	info1 := sampleTableInfo(1)
	writeTableFile(t, dir, info1)
	toc, err := openToc(dir, logging.NopLogger{})
	if err != nil {
		t.Fatalf("openToc: %v", err)
	}
	if _, err := toc.append(TocEntry{Additions: []TableInfo{info1}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	toc.close()

	fullPath := filepath.Join(dir, tocFileName)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	flipped := append([]byte(nil), data...)
	// Flip a byte inside the payload (past the 12-byte length+checksum header).
	flipped[12] ^= 0xff
	if err := os.WriteFile(fullPath, flipped, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	recovered, err := openToc(dir, logging.NopLogger{})
	if err != nil {
		t.Fatalf("openToc after corruption: %v", err)
	}
	defer recovered.close()

	if recovered.levelCount(0) != 0 {
		t.Fatalf("levelCount(0) = %d, want 0 (corrupted record discarded)", recovered.levelCount(0))
	}

	stat, err := os.Stat(fullPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.Size() != 0 {
		t.Fatalf("toc file size after corruption recovery = %d, want 0", stat.Size())
	}
}

func TestTocCrossCheckRejectsMissingTableFile(t *testing.T) {
	dir := t.TempDir()
	if err := createToc(dir); err != nil {
		t.Fatalf("createToc: %v", err)
	}
	info1 := sampleTableInfo(1)
	writeTableFile(t, dir, info1)
	toc, err := openToc(dir, logging.NopLogger{})
	if err != nil {
		t.Fatalf("openToc: %v", err)
	}
	if _, err := toc.append(TocEntry{Additions: []TableInfo{info1}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	toc.close()

	if err := os.Remove(tableFilePath(dir, 1)); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := openToc(dir, logging.NopLogger{}); err != ErrInvalidToc {
		t.Fatalf("openToc with missing table file = %v, want ErrInvalidToc", err)
	}
}
