package cuckootable

import (
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

// MaxLookupBatchSzSet32 is the largest batch FindBatched accepts for the
// 32-bit key set variant: one cache line's worth of 4-byte keys.
const MaxLookupBatchSzSet32 = cacheLineSize / 4

// SetIter32 locates a single slot within a Set32. The zero value is null.
type SetIter32 struct {
	bucket *bucketSet32
	slot   int
}

// IsNull reports whether the iterator refers to no slot.
func (it SetIter32) IsNull() bool { return it.bucket == nil }

// Key returns the key at the referenced slot. Key panics if called on a
// null iterator.
func (it SetIter32) Key() uint32 { return it.bucket.keys[it.slot] }

// Set32 is a 32-bit-key bucketized cuckoo hash set: SlotsPerBucketSet32
// slots per bucket, two buckets per 64-byte cache line. Set32 is
// single-writer; see the package doc comment for the concurrency contract.
type Set32 struct {
	numBuckets    uint64
	bucketBitmask uint64
	buckets       []bucketSet32
	evictCounters []byte

	hash      HashFunc
	allocator Allocator[bucketSet32]

	sz int

	opts Options
}

// WithSet32Allocator overrides the default HugePageAllocator[bucketSet32]
// used by NewSet32.
func WithSet32Allocator(a Allocator[bucketSet32]) Option {
	return withAllocator(a)
}

// NewSet32 constructs a Set32 sized for at least capacity keys, per the
// same rounding/validation rules as NewTable.
func NewSet32(capacity uint64, opts ...Option) (*Set32, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.hash == nil {
		o.hash = CRC32CHash
	}

	numBuckets := nextPow2(capacity) / SlotsPerBucketSet32
	if numBuckets == 0 || numBuckets&(numBuckets-1) != 0 {
		return nil, fmt.Errorf("%w: capacity %d yields %d buckets", ErrInvalidCapacity, capacity, numBuckets)
	}

	allocator, _ := o.allocator.(Allocator[bucketSet32])
	if allocator == nil {
		allocator = HugePageAllocator[bucketSet32]{}
	}

	buckets, err := allocator.Allocate(int(numBuckets))
	if err != nil {
		return nil, err
	}
	if !isCacheLineAligned(buckets) {
		return nil, ErrAlignment
	}
	for i := range buckets {
		buckets[i].initEmpty()
	}

	o.logger.Debug().
		Uint64("num_buckets", numBuckets).
		Uint64("capacity", capacity).
		Bool("avx2", cpuid.CPU.Supports(cpuid.AVX2)).
		Bool("neon", cpuid.CPU.Supports(cpuid.ASIMD)).
		Msg("cuckootable: Set32 constructed")

	return &Set32{
		numBuckets:    numBuckets,
		bucketBitmask: numBuckets - 1,
		buckets:       buckets,
		evictCounters: make([]byte, numBuckets),
		hash:          o.hash,
		allocator:     allocator,
		opts:          o,
	}, nil
}

// Close releases the set's bucket storage back to its allocator.
func (s *Set32) Close() {
	s.allocator.Deallocate(s.buckets)
	s.opts.logger.Debug().Msg("cuckootable: Set32 closed")
}

// Size returns the current number of occupied slots.
func (s *Set32) Size() int { return s.sz }

// LoadFactor returns the fraction of slots currently occupied.
func (s *Set32) LoadFactor() float64 {
	return float64(s.sz) / float64(s.numBuckets*SlotsPerBucketSet32)
}

// Find probes key's two candidate buckets in order and returns a locator to
// the first match, or a null iterator if key is not present.
func (s *Set32) Find(key uint32) SetIter32 {
	_, b1, b2 := bucketIndices(s.hash, key, s.bucketBitmask)

	bucket1 := &s.buckets[b1]
	if slot := bucket1.findSIMD(key); slot != -1 {
		return SetIter32{bucket1, slot}
	}
	bucket2 := &s.buckets[b2]
	if slot := bucket2.findSIMD(key); slot != -1 {
		return SetIter32{bucket2, slot}
	}
	return SetIter32{}
}

// FindBatched looks up up to MaxLookupBatchSzSet32 keys at once using the
// lazy hash/prefetch/probe pipeline described on Table.FindBatched.
func (s *Set32) FindBatched(keys []uint32, out []SetIter32) {
	if len(keys) > MaxLookupBatchSzSet32 {
		panic(fmt.Sprintf("cuckootable: FindBatched: batch of %d exceeds MaxLookupBatchSzSet32 %d", len(keys), MaxLookupBatchSzSet32))
	}
	var hashes [MaxLookupBatchSzSet32]uint64
	var b1s [MaxLookupBatchSzSet32]uint64

	for i, k := range keys {
		hashes[i] = s.hash(uint64(k))
		b1s[i] = hashes[i] & s.bucketBitmask
		prefetchBucket(&s.buckets[b1s[i]])
	}

	for i, k := range keys {
		slot := s.buckets[b1s[i]].findSIMD(k)
		if slot != -1 {
			out[i] = SetIter32{&s.buckets[b1s[i]], slot}
		} else {
			out[i] = SetIter32{}
		}
	}

	var b2s [MaxLookupBatchSzSet32]uint64
	for i, k := range keys {
		if !out[i].IsNull() {
			continue
		}
		b2s[i] = otherBucket(s.hash, hashes[i], k, s.bucketBitmask)
		prefetchBucket(&s.buckets[b2s[i]])
	}

	for i, k := range keys {
		if !out[i].IsNull() {
			continue
		}
		slot := s.buckets[b2s[i]].findSIMD(k)
		if slot != -1 {
			out[i] = SetIter32{&s.buckets[b2s[i]], slot}
		}
	}
}

// Erase clears the slot referenced by it.
func (s *Set32) Erase(it SetIter32) {
	if it.IsNull() {
		return
	}
	s.sz--
	it.bucket.erase(it.slot)
}

// Insert adds key to the set. See Table.Insert for the error contract and
// the unwind-on-exhaustion policy.
func (s *Set32) Insert(key uint32) error {
	_, b1, b2 := bucketIndices(s.hash, key, s.bucketBitmask)

	if b2 != b1 && s.buckets[b2].find(key) != -1 {
		return ErrDuplicateKey
	}
	ok, err := s.buckets[b1].insert(key)
	if err != nil {
		return err
	}
	if ok {
		s.sz++
		return nil
	}
	ok, err = s.buckets[b2].insert(key)
	if err != nil {
		return err
	}
	if ok {
		s.sz++
		return nil
	}

	if err := s.displaceInsert(b1, key); err != nil {
		return err
	}
	s.sz++
	return nil
}

type displacementStepSet32 struct {
	bucket  uint64
	slot    int
	prevKey uint32
}

func (s *Set32) displaceInsert(startBucket uint64, key uint32) error {
	history := make([]displacementStepSet32, 0, MaxInsertDepth)

	bucketID := startBucket
	curKey := key

	for depth := 0; depth < MaxInsertDepth; depth++ {
		b := &s.buckets[bucketID]
		counter := &s.evictCounters[bucketID]
		idx := int(*counter) & (SlotsPerBucketSet32 - 1)

		evKey := b.keys[idx]
		history = append(history, displacementStepSet32{bucketID, idx, evKey})

		b.displaceInsert(curKey, counter)

		_, evB1, evB2 := bucketIndices(s.hash, evKey, s.bucketBitmask)
		nextBucket := evB2
		if bucketID == evB2 {
			nextBucket = evB1
		}

		ok, err := s.buckets[nextBucket].insert(evKey)
		if err != nil {
			s.unwind(history)
			return err
		}
		if ok {
			return nil
		}

		bucketID, curKey = nextBucket, evKey
	}

	s.unwind(history)
	s.opts.logger.Warn().
		Uint64("start_bucket", startBucket).
		Int("depth", len(history)).
		Msg("cuckootable: Set32.Insert: displacement chain exhausted, unwound")
	return ErrDisplacementExhausted
}

func (s *Set32) unwind(history []displacementStepSet32) {
	for i := len(history) - 1; i >= 0; i-- {
		step := history[i]
		s.buckets[step.bucket].update(step.slot, step.prevKey)
	}
}
