package lsm

import "errors"

// Sentinel errors returned by the store, table, and iterator layers.
var (
	ErrKeyNotFound         = errors.New("lsm: key not found")
	ErrIteratorExhausted   = errors.New("lsm: iterator exhausted")
	ErrInvalidToc          = errors.New("lsm: invalid toc")
	ErrCorruptTable        = errors.New("lsm: corrupt table")
	ErrVarintOverflow      = errors.New("lsm: varint overflow")
	ErrTruncatedBuffer     = errors.New("lsm: truncated buffer")
	ErrInvalidMutationTag  = errors.New("lsm: invalid mutation tag")
	ErrBuilderEmpty        = errors.New("lsm: table builder has no entries")
	ErrBuilderNotAscending = errors.New("lsm: table builder keys must be strictly ascending")
)
