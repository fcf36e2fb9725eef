package cuckootable

// SlotsPerBucketSet64 is the slot count of the 64-bit key set variant.
const SlotsPerBucketSet64 = 4

// bucketSet64 holds SlotsPerBucketSet64 bare 64-bit keys: 32 bytes, half a
// cache line, matching original_source/src/cuckoo_set.hpp's Bucket. Two of
// these fit in one cache line; the table's Allocator still aligns the whole
// array to the full cache-line size (spec.md §3) so that a single line load
// covers both bucket positions.
type bucketSet64 struct {
	keys [SlotsPerBucketSet64]uint64
}

func (b *bucketSet64) find(key uint64) int {
	return scanFind(b.keys[:], key)
}

func (b *bucketSet64) findSIMD(key uint64) int {
	return scanFindBranchless(b.keys[:], key)
}

func (b *bucketSet64) insert(key uint64) (ok bool, err error) {
	empty := emptySentinel[uint64]()
	idx, dup := scanInsertEmpty(b.keys[:], key, empty)
	if dup {
		return false, ErrDuplicateKey
	}
	if idx == -1 {
		return false, nil
	}
	b.update(idx, key)
	return true, nil
}

func (b *bucketSet64) displaceInsert(key uint64, counter *byte) (evictedKey uint64) {
	idx := int(*counter) & (SlotsPerBucketSet64 - 1)
	*counter++
	evictedKey = b.keys[idx]
	b.update(idx, key)
	return evictedKey
}

func (b *bucketSet64) update(i int, key uint64) {
	b.keys[i] = key
}

func (b *bucketSet64) erase(i int) {
	b.keys[i] = emptySentinel[uint64]()
}

func (b *bucketSet64) initEmpty() {
	empty := emptySentinel[uint64]()
	for i := range b.keys {
		b.keys[i] = empty
	}
}
