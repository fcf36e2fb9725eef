package cuckootable

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// cacheLineSize is the hardware cache line size this table is tuned for.
// spec.md §3 requires the bucket array's base pointer be divisible by the
// *full* cache-line size even for half-line bucket variants, so that a
// single line fetch covers both bucket positions packed into it.
const cacheLineSize = 64

// hugePageSize is the huge page size HugePageAllocator rounds allocations
// up to, matching original_source/test/huge_page_allocator.hpp's 2 MiB
// constant (1 << 21).
const hugePageSize = 1 << 21

// Allocator provides cache-line-aligned storage for a table's bucket array,
// per spec.md §4.3. It is generic over the bucket type B (bucketMap,
// bucketSet64, or bucketSet32) so a single allocator implementation serves
// all three table variants.
type Allocator[B any] interface {
	// Allocate returns a slice of n zero-initialized buckets whose backing
	// array's base address is a multiple of cacheLineSize. It returns
	// ErrOutOfMemory on allocation failure.
	Allocate(n int) ([]B, error)

	// Deallocate releases storage previously returned by Allocate. It must
	// tolerate being called with the exact slice Allocate returned (same
	// backing array, same length).
	Deallocate(buckets []B)
}

func roundUpHugePage(n uintptr) uintptr {
	return ((n - 1) / hugePageSize + 1) * hugePageSize
}

// HugePageAllocator is the reference Allocator: it maps anonymous private,
// huge-page-backed memory via golang.org/x/sys/unix (the same package
// Meesho-BharatMLStack/ssd-cache's internal/allocator uses for its mmap'd
// page pool), rounding the request up to a 2 MiB boundary. If the kernel
// rejects MAP_HUGETLB (no hugepages configured, or insufficient
// permissions) it falls back to a plain anonymous mapping — still page
// aligned, and therefore still cache-line aligned — per spec.md §9's
// "fall back to over-aligned standard allocation" guidance. The zero value
// is ready to use.
type HugePageAllocator[B any] struct{}

func (HugePageAllocator[B]) Allocate(n int) ([]B, error) {
	if n <= 0 {
		return nil, fmt.Errorf("cuckootable: allocate requires n > 0, got %d", n)
	}
	var zero B
	bucketSize := unsafe.Sizeof(zero)
	total := roundUpHugePage(uintptr(n) * bucketSize)

	data, err := unix.Mmap(-1, 0, int(total),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_HUGETLB)
	if err != nil {
		data, err = unix.Mmap(-1, 0, int(total),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			return nil, fmt.Errorf("%w: mmap: %v", ErrOutOfMemory, err)
		}
	}

	ptr := unsafe.Pointer(&data[0])
	return unsafe.Slice((*B)(ptr), n), nil
}

func (HugePageAllocator[B]) Deallocate(buckets []B) {
	if len(buckets) == 0 {
		return
	}
	var zero B
	bucketSize := unsafe.Sizeof(zero)
	total := roundUpHugePage(uintptr(len(buckets)) * bucketSize)
	ptr := unsafe.Pointer(&buckets[0])
	raw := unsafe.Slice((*byte)(ptr), total)
	_ = unix.Munmap(raw)
}

// StandardAllocator is a portable Allocator for hosts or tests that do not
// need huge-page backing, just the cache-line alignment contract: it
// over-allocates a plain []byte and slices it at the next cache-line
// boundary. Deallocate is a no-op; the backing array is reclaimed by the
// garbage collector once the table drops its reference. The zero value is
// ready to use.
type StandardAllocator[B any] struct{}

func (StandardAllocator[B]) Allocate(n int) ([]B, error) {
	if n <= 0 {
		return nil, fmt.Errorf("cuckootable: allocate requires n > 0, got %d", n)
	}
	var zero B
	bucketSize := unsafe.Sizeof(zero)
	total := uintptr(n) * bucketSize

	buf := make([]byte, total+cacheLineSize-1)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + cacheLineSize - 1) &^ (cacheLineSize - 1)
	ptr := unsafe.Pointer(&buf[aligned-base])
	return unsafe.Slice((*B)(ptr), n), nil
}

func (StandardAllocator[B]) Deallocate(buckets []B) {}

// isCacheLineAligned reports whether the first bucket of buckets sits at a
// cache-line-aligned address, the invariant spec.md §4.2's constructor must
// verify (failing with ErrAlignment otherwise).
func isCacheLineAligned[B any](buckets []B) bool {
	if len(buckets) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&buckets[0]))%cacheLineSize == 0
}
