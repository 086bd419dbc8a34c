package lsm

// Table (SSTable) file layout, low offset to high:
//
//	[ values-area ][ keys-area ][ trailing-keys-offset: fixed u64 ]
//
// TabBackPadding is the size of the trailing u64, which duplicates
// keys-offset for defense-in-depth; the TOC is authoritative.
//
// Values-area: the concatenation of encoded mutations (see mutation.go) in
// insertion order, which is ascending-key order.
//
// Keys-area: a sequence of key entries in ascending key order, followed by
// a tail that enables backward traversal without a second pass. A key
// entry is:
//
//	uvarint(prev_entry_length) || uvarint(value_offset) || uvarint(value_length) || uvarint(key_length) || key_bytes
//
// prev_entry_length of the first entry is 0. value_offset is a byte offset
// within the values-area; value_length covers the entire encoded mutation
// (tag byte plus optional length-prefixed payload).
//
// The keys-area tail is:
//
//	uvarint(last_entry_length) || u8(byte_length_of_that_uvarint)
//
// The trailing byte lets a reader locate the start of the final entry by
// reading the last byte of the keys-area, stepping back that many bytes to
// decode last_entry_length, then stepping back again by that length to
// reach the final entry. Recursive application of prev_entry_length from
// there gives O(1) per-step backward iteration.
//
// Earlier revisions of this format omitted prev_entry_length and
// key_length, relying on each key's own internal length prefix; this
// format keeps both so every key entry is self-describing and the file is
// walkable in either direction.
const TabBackPadding = 8
