package lsm

// MutationTag discriminates the two variants of a Mutation.
type MutationTag uint8

const (
	TagSet    MutationTag = 0
	TagDelete MutationTag = 1
)

// Mutation is the tagged union recorded against a key: either a Set of
// some value, or a Delete tombstone. A Delete shadows any prior Set for the
// same key in older storage layers until the tombstone is itself dropped —
// this engine never drops it (see compaction.go).
type Mutation struct {
	Tag   MutationTag
	Value []byte // unused when Tag == TagDelete
}

// SetMutation builds a Set(value) mutation.
func SetMutation(value []byte) Mutation {
	return Mutation{Tag: TagSet, Value: value}
}

// DeleteMutation builds a Delete tombstone.
func DeleteMutation() Mutation {
	return Mutation{Tag: TagDelete}
}

// IsDelete reports whether m is a tombstone.
func (m Mutation) IsDelete() bool {
	return m.Tag == TagDelete
}

// EncodeMutation appends the on-disk encoding of m to dst: 0x00 followed by
// a length-prefixed value for Set, or the single byte 0x01 for Delete.
func EncodeMutation(dst []byte, m Mutation) []byte {
	switch m.Tag {
	case TagSet:
		dst = append(dst, byte(TagSet))
		return EncodeBytes(dst, m.Value)
	case TagDelete:
		return append(dst, byte(TagDelete))
	default:
		panic("lsm: invalid mutation tag")
	}
}

// DecodeMutation decodes a Mutation from the front of buf, returning the
// value and the number of bytes consumed. Any tag byte outside {0,1} fails
// with ErrInvalidMutationTag.
func DecodeMutation(buf []byte) (Mutation, int, error) {
	if len(buf) < 1 {
		return Mutation{}, 0, ErrTruncatedBuffer
	}
	switch MutationTag(buf[0]) {
	case TagSet:
		value, n, err := DecodeBytes(buf[1:])
		if err != nil {
			return Mutation{}, 0, err
		}
		return SetMutation(value), n + 1, nil
	case TagDelete:
		return DeleteMutation(), 1, nil
	default:
		return Mutation{}, 0, ErrInvalidMutationTag
	}
}

// ApproxKeyUsage is the approximate byte cost a key contributes to a
// MemStore's usage accounting.
func ApproxKeyUsage(key []byte) uint64 {
	return 6 + uint64(len(key))
}

// ApproxValueUsage is the approximate byte cost a Mutation's value
// contributes to a MemStore's usage accounting. The accounting need not be
// exact, only monotonic in value length and consistent between write-time
// memstore accounting and build-time SSTable size estimates.
func ApproxValueUsage(m Mutation) uint64 {
	if m.IsDelete() {
		return 1
	}
	return 2 + uint64(len(m.Value))
}
