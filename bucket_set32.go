package cuckootable

// SlotsPerBucketSet32 is the slot count of the 32-bit key set variant.
// Doubled relative to the 64-bit variants (8 vs 4) so the bucket still
// covers 32 bytes despite the narrower key.
const SlotsPerBucketSet32 = 8

// bucketSet32 holds SlotsPerBucketSet32 bare 32-bit keys: 32 bytes, half a
// cache line, spec.md §3's "one 64-bit or 32-bit variant for a key-only
// set" instantiated at the 32-bit width.
type bucketSet32 struct {
	keys [SlotsPerBucketSet32]uint32
}

func (b *bucketSet32) find(key uint32) int {
	return scanFind(b.keys[:], key)
}

func (b *bucketSet32) findSIMD(key uint32) int {
	return scanFindBranchless(b.keys[:], key)
}

func (b *bucketSet32) insert(key uint32) (ok bool, err error) {
	empty := emptySentinel[uint32]()
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

func (b *bucketSet32) displaceInsert(key uint32, counter *byte) (evictedKey uint32) {
	idx := int(*counter) & (SlotsPerBucketSet32 - 1)
	*counter++
	evictedKey = b.keys[idx]
	b.update(idx, key)
	return evictedKey
}

func (b *bucketSet32) update(i int, key uint32) {
	b.keys[i] = key
}

func (b *bucketSet32) erase(i int) {
	b.keys[i] = emptySentinel[uint32]()
}

func (b *bucketSet32) initEmpty() {
	empty := emptySentinel[uint32]()
	for i := range b.keys {
		b.keys[i] = empty
	}
}
