package cuckootable

import (
	"math/bits"

	"github.com/rs/zerolog"
)

// Unsigned is the set of key widths this package supports: 64-bit for the
// map and Set64, 32-bit for Set32. Non-goal per spec.md: arbitrary key
// types are not supported, only these two fixed widths.
type Unsigned interface {
	~uint32 | ~uint64
}

// emptySentinel is the reserved "this slot is unused" key value for width K:
// all-ones of the key's width. Callers must never insert this value.
func emptySentinel[K Unsigned]() K {
	return ^K(0)
}

// nextPow2 returns the smallest power of two >= x, or 0 if x is 0 or would
// overflow. Mirrors original_source/cuckoo_table.hpp's next_pow2 bit-twiddle
// exactly (same shift sequence), rather than using bits.Len, so a reader
// comparing against the C++ reference sees the identical derivation.
func nextPow2(x uint64) uint64 {
	if x == 0 {
		return 0
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	return x
}

// scanFind linearly scans slots for key, returning the index of the first
// match or -1. This is the scalar reference that findSIMD must agree with
// for every input (spec.md §8, "SIMD equivalence").
func scanFind[K Unsigned](slots []K, key K) int {
	for i, k := range slots {
		if k == key {
			return i
		}
	}
	return -1
}

// scanFindBranchless builds a per-lane match bitmask without branching on
// the comparison result, the way a SIMD compare + movemask would, and reads
// the first set bit out with a count-trailing-zeros instruction. This is the
// portable stand-in for the target's vector-equality primitive: spec.md §9
// calls for "a branchless scalar compare that the compiler autovectorizes"
// when true SIMD intrinsics are unavailable, which is always the case from
// pure Go without cgo or assembly.
func scanFindBranchless[K Unsigned](slots []K, key K) int {
	var mask uint32
	for i, k := range slots {
		var eq uint32
		if k == key {
			eq = 1
		}
		mask |= eq << uint(i)
	}
	if mask == 0 {
		return -1
	}
	return bits.TrailingZeros32(mask)
}

// scanInsertEmpty scans slots in order and returns the index of the first
// slot holding the empty sentinel, or -1 if the bucket is full. It also
// reports whether key occupies any slot (duplicate detection); the callers
// check dup first, so bucket.insert fails on a duplicate without writing,
// per spec.md §4.1. The whole bucket is scanned whether or not a duplicate
// is found.
func scanInsertEmpty[K Unsigned](slots []K, key, empty K) (emptyIdx int, dup bool) {
	emptyIdx = -1
	for i, k := range slots {
		if k == empty {
			if emptyIdx == -1 {
				emptyIdx = i
			}
			continue
		}
		if k == key {
			dup = true
		}
	}
	return emptyIdx, dup
}

// Options configures construction of a Table, Set64, or Set32. Grounded on
// cockroachdb-swiss's functional-options pattern (options.go in that repo):
// a library-level constructor has no business reading a config file, so
// configuration is exposed as ordinary Go values passed at construction.
// Options is shared across all three variants since HashFunc itself is not
// parametrized by key width (see hash.go) and the allocator, which is
// variant-specific, is stored as any and type-asserted by each constructor.
type Options struct {
	hash      HashFunc
	allocator any
	logger    zerolog.Logger
}

// Option mutates an in-progress Options.
type Option func(*Options)

// WithHash overrides the default CRC32C-based hash function.
func WithHash(h HashFunc) Option {
	return func(o *Options) { o.hash = h }
}

// WithLogger overrides the default disabled logger. Pass a configured
// zerolog.Logger to observe construction, teardown, and displacement-chain
// unwinds.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.logger = l }
}

// withAllocator is set by the variant-specific WithAllocator wrappers
// (table_map.go, table_set64.go, table_set32.go) since the Allocator type is
// itself generic over the bucket type, which differs per variant.
func withAllocator(a any) Option {
	return func(o *Options) { o.allocator = a }
}

func defaultOptions() Options {
	return Options{
		logger: zerolog.Nop(),
	}
}
