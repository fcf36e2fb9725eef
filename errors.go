package cuckootable

import "errors"

// Sentinel errors returned by Table/Set64/Set32 operations. Callers should
// compare against these with errors.Is; none of them are retried internally.
var (
	// ErrDuplicateKey is returned by Insert when the key is already present
	// in one of its two candidate buckets. This is always a caller bug: the
	// table never produces it on its own.
	ErrDuplicateKey = errors.New("cuckootable: key already present")

	// ErrDisplacementExhausted is returned by Insert when a cuckoo
	// displacement chain reaches MaxInsertDepth without finding an empty
	// slot. The chain is unwound before returning, so the table is left as
	// if the insert never happened (see DESIGN.md for why this
	// implementation chooses to unwind rather than match the reference
	// implementation's inconsistent-on-exhaustion behavior).
	ErrDisplacementExhausted = errors.New("cuckootable: cuckoo displacement chain exhausted")

	// ErrAlignment is returned at construction time when the injected
	// Allocator returns a bucket array whose base address is not a
	// multiple of the hardware cache line size.
	ErrAlignment = errors.New("cuckootable: bucket array is not cache-line aligned")

	// ErrInvalidCapacity is returned at construction time when the
	// requested capacity does not produce a positive power-of-two bucket
	// count.
	ErrInvalidCapacity = errors.New("cuckootable: invalid capacity")

	// ErrOutOfMemory is returned when the injected Allocator fails to
	// allocate storage.
	ErrOutOfMemory = errors.New("cuckootable: allocator out of memory")
)
