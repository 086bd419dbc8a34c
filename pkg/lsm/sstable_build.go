package lsm

import (
	"bytes"
	"io"
)

// TableBuilder streams a strictly-ascending sequence of (key, Mutation)
// pairs into growing value and key buffers, then finalizes them to a
// writer as a single table file. AddMutation must be called in strictly
// ascending key order; out-of-order keys are reported as
// ErrBuilderNotAscending.
type TableBuilder struct {
	valuesBuf []byte
	keysBuf   []byte

	firstKey []byte
	lastKey  []byte

	lastEntryLen uint64
	hasEntries   bool
}

// NewTableBuilder returns an empty TableBuilder.
func NewTableBuilder() *TableBuilder {
	return &TableBuilder{}
}

// AddMutation appends the encoded mutation to the values buffer, then
// appends a key entry (carrying the previous call's entry length) to the
// keys buffer.
func (b *TableBuilder) AddMutation(key []byte, mutation Mutation) error {
	if b.hasEntries && bytes.Compare(key, b.lastKey) <= 0 {
		return ErrBuilderNotAscending
	}

	valueOffset := uint64(len(b.valuesBuf))
	b.valuesBuf = EncodeMutation(b.valuesBuf, mutation)
	valueLength := uint64(len(b.valuesBuf)) - valueOffset

	var entry []byte
	entry = EncodeUvarint(entry, b.lastEntryLen)
	entry = EncodeUvarint(entry, valueOffset)
	entry = EncodeUvarint(entry, valueLength)
	entry = EncodeUvarint(entry, uint64(len(key)))
	entry = append(entry, key...)

	b.keysBuf = append(b.keysBuf, entry...)
	b.lastEntryLen = uint64(len(entry))

	if !b.hasEntries {
		b.firstKey = append([]byte(nil), key...)
		b.hasEntries = true
	}
	b.lastKey = append([]byte(nil), key...)
	return nil
}

// IsEmpty reports whether any mutation has been added yet.
func (b *TableBuilder) IsEmpty() bool {
	return !b.hasEntries
}

// LowerBoundFileSize returns the number of bytes the final file will be at
// least: the bytes written so far plus TabBackPadding. Compaction uses this
// to decide when to close the current output table and start a new one.
func (b *TableBuilder) LowerBoundFileSize() uint64 {
	return uint64(len(b.valuesBuf)+len(b.keysBuf)) + TabBackPadding
}

// Finish writes the values buffer, the keys buffer, the keys-area tail and
// the trailing u64 to w, and returns the keys offset, total
// file size, and the smallest/biggest keys seen. It MUST NOT be called on
// an empty builder.
func (b *TableBuilder) Finish(w io.Writer) (keysOffset, fileSize uint64, smallest, biggest []byte, err error) {
	if b.IsEmpty() {
		return 0, 0, nil, nil, ErrBuilderEmpty
	}

	var lastLenEnc []byte
	lastLenEnc = EncodeUvarint(lastLenEnc, b.lastEntryLen)
	tail := append(append([]byte(nil), lastLenEnc...), byte(len(lastLenEnc)))

	keysOffset = uint64(len(b.valuesBuf))

	if _, err = w.Write(b.valuesBuf); err != nil {
		return 0, 0, nil, nil, err
	}
	if _, err = w.Write(b.keysBuf); err != nil {
		return 0, 0, nil, nil, err
	}
	if _, err = w.Write(tail); err != nil {
		return 0, 0, nil, nil, err
	}

	var trailer []byte
	trailer = EncodeU64(trailer, keysOffset)
	if _, err = w.Write(trailer); err != nil {
		return 0, 0, nil, nil, err
	}

	fileSize = keysOffset + uint64(len(b.keysBuf)) + uint64(len(tail)) + TabBackPadding
	return keysOffset, fileSize, b.firstKey, b.lastKey, nil
}
