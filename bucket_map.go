package cuckootable

// bucketMap holds SlotsPerBucketMap key/value slots. Sized to exactly one
// 64-byte cache line (4 slots * (8-byte key + 8-byte value)) and must be
// allocated at a cache-line-aligned address by the table's Allocator.
//
// Keys and values are stored in separate parallel arrays (rather than an
// array of (key,value) pairs) so that a scalar or branchless-SIMD scan over
// keys touches only contiguous key bytes; this mirrors the std::array
// layout of original_source/cuckoo_table.hpp's Bucket, which keeps
// key_slots and value_slots as separate arrays for the same reason.
//
// The per-bucket eviction-rotation counter that displaceInsert needs is
// deliberately kept *outside* this struct (see Table.evictCounters): adding
// it here would grow bucketMap past 64 bytes and violate the exact
// cache-line sizing spec.md §3 requires.
type bucketMap struct {
	keys   [SlotsPerBucketMap]uint64
	values [SlotsPerBucketMap]uint64
}

// SlotsPerBucketMap is the slot count of the 64-bit key/value map variant.
const SlotsPerBucketMap = 4

func (b *bucketMap) find(key uint64) int {
	return scanFind(b.keys[:], key)
}

// findSIMD must return the same slot as find for every key, present or
// absent (spec.md §8, "SIMD equivalence").
func (b *bucketMap) findSIMD(key uint64) int {
	return scanFindBranchless(b.keys[:], key)
}

// insert scans slots in order, writing into the first empty one. It
// reports ErrDuplicateKey without writing if key is already present
// anywhere in the bucket, and reports (false, nil) without writing if the
// bucket is full.
func (b *bucketMap) insert(key, value uint64) (ok bool, err error) {
	empty := emptySentinel[uint64]()
	idx, dup := scanInsertEmpty(b.keys[:], key, empty)
	if dup {
		return false, ErrDuplicateKey
	}
	if idx == -1 {
		return false, nil
	}
	b.update(idx, key, value)
	return true, nil
}

// displaceInsert evicts one slot via a deterministic, non-peeking rotation
// driven by *counter (owned by the table, one byte per bucket — spec.md §9:
// "a per-bucket byte counter... keep it non-atomic"), and overwrites that
// slot with (key, value), returning the evicted pair.
func (b *bucketMap) displaceInsert(key, value uint64, counter *byte) (evictedKey, evictedValue uint64) {
	idx := int(*counter) & (SlotsPerBucketMap - 1)
	*counter++
	evictedKey, evictedValue = b.keys[idx], b.values[idx]
	b.update(idx, key, value)
	return evictedKey, evictedValue
}

func (b *bucketMap) update(i int, key, value uint64) {
	b.keys[i] = key
	b.values[i] = value
}

func (b *bucketMap) erase(i int) {
	b.keys[i] = emptySentinel[uint64]()
	b.values[i] = 0
}

func (b *bucketMap) initEmpty() {
	empty := emptySentinel[uint64]()
	for i := range b.keys {
		b.keys[i] = empty
		b.values[i] = 0
	}
}
