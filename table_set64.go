package cuckootable

import (
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

// MaxLookupBatchSzSet64 is the largest batch FindBatched accepts for the
// 64-bit key set variant: one cache line's worth of 8-byte keys.
const MaxLookupBatchSzSet64 = cacheLineSize / 8

// SetIter64 locates a single slot within a Set64. The zero value is null.
type SetIter64 struct {
	bucket *bucketSet64
	slot   int
}

// IsNull reports whether the iterator refers to no slot.
func (it SetIter64) IsNull() bool { return it.bucket == nil }

// Key returns the key at the referenced slot. Key panics if called on a
// null iterator.
func (it SetIter64) Key() uint64 { return it.bucket.keys[it.slot] }

// Set64 is a 64-bit-key bucketized cuckoo hash set: SlotsPerBucketSet64
// slots per bucket, two buckets per 64-byte cache line. Set64 is
// single-writer; see the package doc comment for the concurrency contract.
type Set64 struct {
	numBuckets    uint64
	bucketBitmask uint64
	buckets       []bucketSet64
	evictCounters []byte

	hash      HashFunc
	allocator Allocator[bucketSet64]

	sz int

	opts Options
}

// WithSet64Allocator overrides the default HugePageAllocator[bucketSet64]
// used by NewSet64.
func WithSet64Allocator(a Allocator[bucketSet64]) Option {
	return withAllocator(a)
}

// NewSet64 constructs a Set64 sized for at least capacity keys, per the
// same rounding/validation rules as NewTable.
func NewSet64(capacity uint64, opts ...Option) (*Set64, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.hash == nil {
		o.hash = CRC32CHash
	}

	numBuckets := nextPow2(capacity) / SlotsPerBucketSet64
	if numBuckets == 0 || numBuckets&(numBuckets-1) != 0 {
		return nil, fmt.Errorf("%w: capacity %d yields %d buckets", ErrInvalidCapacity, capacity, numBuckets)
	}

	allocator, _ := o.allocator.(Allocator[bucketSet64])
	if allocator == nil {
		allocator = HugePageAllocator[bucketSet64]{}
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
		Msg("cuckootable: Set64 constructed")

	return &Set64{
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
func (s *Set64) Close() {
	s.allocator.Deallocate(s.buckets)
	s.opts.logger.Debug().Msg("cuckootable: Set64 closed")
}

// Size returns the current number of occupied slots.
func (s *Set64) Size() int { return s.sz }

// LoadFactor returns the fraction of slots currently occupied.
func (s *Set64) LoadFactor() float64 {
	return float64(s.sz) / float64(s.numBuckets*SlotsPerBucketSet64)
}

// Find probes key's two candidate buckets in order and returns a locator to
// the first match, or a null iterator if key is not present.
func (s *Set64) Find(key uint64) SetIter64 {
	_, b1, b2 := bucketIndices(s.hash, key, s.bucketBitmask)

	bucket1 := &s.buckets[b1]
	if slot := bucket1.findSIMD(key); slot != -1 {
		return SetIter64{bucket1, slot}
	}
	bucket2 := &s.buckets[b2]
	if slot := bucket2.findSIMD(key); slot != -1 {
		return SetIter64{bucket2, slot}
	}
	return SetIter64{}
}

// FindBatched looks up up to MaxLookupBatchSzSet64 keys at once using the
// lazy hash/prefetch/probe pipeline described on Table.FindBatched.
func (s *Set64) FindBatched(keys []uint64, out []SetIter64) {
	if len(keys) > MaxLookupBatchSzSet64 {
		panic(fmt.Sprintf("cuckootable: FindBatched: batch of %d exceeds MaxLookupBatchSzSet64 %d", len(keys), MaxLookupBatchSzSet64))
	}
	var hashes [MaxLookupBatchSzSet64]uint64
	var b1s [MaxLookupBatchSzSet64]uint64

	for i, k := range keys {
		hashes[i] = s.hash(k)
		b1s[i] = hashes[i] & s.bucketBitmask
		prefetchBucket(&s.buckets[b1s[i]])
	}

	for i, k := range keys {
		slot := s.buckets[b1s[i]].findSIMD(k)
		if slot != -1 {
			out[i] = SetIter64{&s.buckets[b1s[i]], slot}
		} else {
			out[i] = SetIter64{}
		}
	}

	var b2s [MaxLookupBatchSzSet64]uint64
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
			out[i] = SetIter64{&s.buckets[b2s[i]], slot}
		}
	}
}

// Erase clears the slot referenced by it.
func (s *Set64) Erase(it SetIter64) {
	if it.IsNull() {
		return
	}
	s.sz--
	it.bucket.erase(it.slot)
}

// Insert adds key to the set. See Table.Insert for the error contract and
// the unwind-on-exhaustion policy.
func (s *Set64) Insert(key uint64) error {
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

type displacementStepSet64 struct {
	bucket  uint64
	slot    int
	prevKey uint64
}

func (s *Set64) displaceInsert(startBucket uint64, key uint64) error {
	history := make([]displacementStepSet64, 0, MaxInsertDepth)

	bucketID := startBucket
	curKey := key

	for depth := 0; depth < MaxInsertDepth; depth++ {
		b := &s.buckets[bucketID]
		counter := &s.evictCounters[bucketID]
		idx := int(*counter) & (SlotsPerBucketSet64 - 1)

		evKey := b.keys[idx]
		history = append(history, displacementStepSet64{bucketID, idx, evKey})

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
		Msg("cuckootable: Set64.Insert: displacement chain exhausted, unwound")
	return ErrDisplacementExhausted
}

func (s *Set64) unwind(history []displacementStepSet64) {
	for i := len(history) - 1; i >= 0; i-- {
		step := history[i]
		s.buckets[step.bucket].update(step.slot, step.prevKey)
	}
}
