package cuckootable

import (
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

// MaxInsertDepth bounds the length of a cuckoo displacement chain before
// Insert gives up. spec.md §4.2/§6: 256, chosen to bound worst-case insert
// cost while comfortably exceeding the displacement lengths a well-mixing
// hash produces below the ~93% load factor where 4-slot cuckoo tables
// become unstable.
const MaxInsertDepth = 256

// MaxLookupBatchSzMap is the largest batch FindBatched accepts for the
// 64-bit key map variant: one cache line's worth of 8-byte keys.
const MaxLookupBatchSzMap = cacheLineSize / 8

// MapIter locates a single slot within a Table. The zero value is null.
// Iterators are invalidated by any Insert, which can displace the
// referenced slot. Erase never displaces other slots.
type MapIter struct {
	bucket *bucketMap
	slot   int
}

// IsNull reports whether the iterator refers to no slot.
func (it MapIter) IsNull() bool { return it.bucket == nil }

// Key returns the key at the referenced slot. Key panics if called on a
// null iterator.
func (it MapIter) Key() uint64 { return it.bucket.keys[it.slot] }

// Value returns the value at the referenced slot. Value panics if called
// on a null iterator.
func (it MapIter) Value() uint64 { return it.bucket.values[it.slot] }

// SetValue overwrites the value at the referenced slot in place, leaving
// the key and the table's occupancy count unchanged.
func (it MapIter) SetValue(v uint64) { it.bucket.values[it.slot] = v }

// Table is a 64-bit-key, 64-bit-value bucketized cuckoo hash map.
// SlotsPerBucketMap slots per bucket, one bucket per 64-byte cache line.
// Table is single-writer; see the package doc comment for the concurrency
// contract.
type Table struct {
	numBuckets    uint64
	bucketBitmask uint64
	buckets       []bucketMap
	// evictCounters holds one non-atomic rotation byte per bucket, kept
	// out of bucketMap itself to preserve its exact 64-byte size.
	evictCounters []byte

	hash      HashFunc
	allocator Allocator[bucketMap]

	sz int

	opts Options
}

// WithMapAllocator overrides the default HugePageAllocator[bucketMap] used
// by NewTable.
func WithMapAllocator(a Allocator[bucketMap]) Option {
	return withAllocator(a)
}

// NewTable constructs a Table sized for at least capacity keys. capacity is
// rounded up to a power of two and divided by SlotsPerBucketMap to get the
// bucket count, per spec.md §4.2's constructor. It returns ErrInvalidCapacity
// if that does not yield a positive power-of-two bucket count, ErrOutOfMemory
// if the allocator fails, and ErrAlignment if the allocator returns storage
// that is not cache-line aligned.
func NewTable(capacity uint64, opts ...Option) (*Table, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.hash == nil {
		o.hash = CRC32CHash
	}

	numBuckets := nextPow2(capacity) / SlotsPerBucketMap
	if numBuckets == 0 || numBuckets&(numBuckets-1) != 0 {
		return nil, fmt.Errorf("%w: capacity %d yields %d buckets", ErrInvalidCapacity, capacity, numBuckets)
	}

	allocator, _ := o.allocator.(Allocator[bucketMap])
	if allocator == nil {
		allocator = HugePageAllocator[bucketMap]{}
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
		Msg("cuckootable: Table constructed")

	return &Table{
		numBuckets:    numBuckets,
		bucketBitmask: numBuckets - 1,
		buckets:       buckets,
		evictCounters: make([]byte, numBuckets),
		hash:          o.hash,
		allocator:     allocator,
		opts:          o,
	}, nil
}

// Close releases the table's bucket storage back to its allocator. The
// table must not be used afterward.
func (t *Table) Close() {
	t.allocator.Deallocate(t.buckets)
	t.opts.logger.Debug().Msg("cuckootable: Table closed")
}

// Size returns the current number of occupied slots.
func (t *Table) Size() int { return t.sz }

// LoadFactor returns the fraction of slots currently occupied.
func (t *Table) LoadFactor() float64 {
	return float64(t.sz) / float64(t.numBuckets*SlotsPerBucketMap)
}

// Find probes key's two candidate buckets in order and returns a locator to
// the first match, or a null iterator if key is not present.
func (t *Table) Find(key uint64) MapIter {
	_, b1, b2 := bucketIndices(t.hash, key, t.bucketBitmask)

	bucket1 := &t.buckets[b1]
	if slot := bucket1.findSIMD(key); slot != -1 {
		return MapIter{bucket1, slot}
	}
	bucket2 := &t.buckets[b2]
	if slot := bucket2.findSIMD(key); slot != -1 {
		return MapIter{bucket2, slot}
	}
	return MapIter{}
}

// FindBatched looks up up to MaxLookupBatchSzMap keys at once, writing one
// result per key into out (which must have len(keys) capacity). It
// implements the mandatory hash/prefetch/probe pipeline of spec.md §4.2:
// first buckets are hashed and prefetched, then SIMD-probed; only keys that
// missed in their first bucket get their second bucket hashed, prefetched,
// and probed. This is the *lazy* prefetch form spec.md §9 recommends over
// the reference implementation's eager one, used here for all three table
// variants.
func (t *Table) FindBatched(keys []uint64, out []MapIter) {
	if len(keys) > MaxLookupBatchSzMap {
		panic(fmt.Sprintf("cuckootable: FindBatched: batch of %d exceeds MaxLookupBatchSzMap %d", len(keys), MaxLookupBatchSzMap))
	}
	var hashes [MaxLookupBatchSzMap]uint64
	var b1s [MaxLookupBatchSzMap]uint64

	for i, k := range keys {
		hashes[i] = t.hash(k)
		b1s[i] = hashes[i] & t.bucketBitmask
		prefetchBucket(&t.buckets[b1s[i]])
	}

	for i, k := range keys {
		slot := t.buckets[b1s[i]].findSIMD(k)
		if slot != -1 {
			out[i] = MapIter{&t.buckets[b1s[i]], slot}
		} else {
			out[i] = MapIter{}
		}
	}

	var b2s [MaxLookupBatchSzMap]uint64
	for i, k := range keys {
		if !out[i].IsNull() {
			continue
		}
		b2s[i] = otherBucket(t.hash, hashes[i], k, t.bucketBitmask)
		prefetchBucket(&t.buckets[b2s[i]])
	}

	for i, k := range keys {
		if !out[i].IsNull() {
			continue
		}
		slot := t.buckets[b2s[i]].findSIMD(k)
		if slot != -1 {
			out[i] = MapIter{&t.buckets[b2s[i]], slot}
		}
	}
}

// Erase clears the slot referenced by it, which must have been returned by
// a prior Find/FindBatched on this table and not invalidated since.
func (t *Table) Erase(it MapIter) {
	if it.IsNull() {
		return
	}
	t.sz--
	it.bucket.erase(it.slot)
}

// Insert adds (key, value) to the table. It returns ErrDuplicateKey if key
// is already present in either candidate bucket, or ErrDisplacementExhausted
// if a cuckoo displacement chain runs MaxInsertDepth deep without finding an
// empty slot — in which case the chain is fully unwound and the table is
// left exactly as it was before the call (see DESIGN.md for why this
// implementation unwinds rather than matching the reference's
// leave-it-inconsistent behavior).
func (t *Table) Insert(key, value uint64) error {
	_, b1, b2 := bucketIndices(t.hash, key, t.bucketBitmask)

	if b2 != b1 && t.buckets[b2].find(key) != -1 {
		return ErrDuplicateKey
	}
	ok, err := t.buckets[b1].insert(key, value)
	if err != nil {
		return err
	}
	if ok {
		t.sz++
		return nil
	}
	ok, err = t.buckets[b2].insert(key, value)
	if err != nil {
		return err
	}
	if ok {
		t.sz++
		return nil
	}

	if err := t.displaceInsert(b1, key, value); err != nil {
		return err
	}
	t.sz++
	return nil
}

// displacementStepMap records one eviction performed while making room for an
// insert, so the chain can be unwound exactly if it runs out of depth.
type displacementStepMap struct {
	bucket   uint64
	slot     int
	prevKey  uint64
	prevVal  uint64
}

// displaceInsert runs the bounded cuckoo eviction chain iteratively
// (spec.md §9: "write iteratively" rather than recursively). On success the
// new (key, value) pair ends up resident somewhere in the table. On
// MaxInsertDepth exhaustion every step recorded so far is replayed in
// reverse to restore the pre-call state, and ErrDisplacementExhausted is
// returned.
func (t *Table) displaceInsert(startBucket uint64, key, value uint64) error {
	history := make([]displacementStepMap, 0, MaxInsertDepth)

	bucketID := startBucket
	curKey, curVal := key, value

	for depth := 0; depth < MaxInsertDepth; depth++ {
		b := &t.buckets[bucketID]
		counter := &t.evictCounters[bucketID]
		idx := int(*counter) & (SlotsPerBucketMap - 1)

		evKey, evVal := b.keys[idx], b.values[idx]
		history = append(history, displacementStepMap{bucketID, idx, evKey, evVal})

		// Record the displacement before mutating, then perform it via
		// the bucket's own displaceInsert so the eviction-rotation
		// counter advances exactly once per step.
		b.displaceInsert(curKey, curVal, counter)

		_, evB1, evB2 := bucketIndices(t.hash, evKey, t.bucketBitmask)
		nextBucket := evB2
		if bucketID == evB2 {
			nextBucket = evB1
		}

		ok, err := t.buckets[nextBucket].insert(evKey, evVal)
		if err != nil {
			// A duplicate this deep means the evicted key already lives
			// in its other bucket too, which can only happen if the
			// table's invariants were already broken by caller misuse
			// (spec.md §4.2: "this is a caller bug"). Unwind before
			// surfacing it so the broken invariant doesn't compound.
			t.unwindMap(history)
			return err
		}
		if ok {
			return nil
		}

		bucketID, curKey, curVal = nextBucket, evKey, evVal
	}

	t.unwindMap(history)
	t.opts.logger.Warn().
		Uint64("start_bucket", startBucket).
		Int("depth", len(history)).
		Msg("cuckootable: Table.Insert: displacement chain exhausted, unwound")
	return ErrDisplacementExhausted
}

// unwindMap replays recorded displacement steps in reverse, restoring each
// slot to the key/value it held before the chain touched it.
func (t *Table) unwindMap(history []displacementStepMap) {
	for i := len(history) - 1; i >= 0; i-- {
		step := history[i]
		t.buckets[step.bucket].update(step.slot, step.prevKey, step.prevVal)
	}
}
