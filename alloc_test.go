package cuckootable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStandardAllocatorAlignsAndSizes(t *testing.T) {
	a := StandardAllocator[bucketMap]{}
	buckets, err := a.Allocate(37)
	require.NoError(t, err)
	require.Len(t, buckets, 37)
	require.True(t, isCacheLineAligned(buckets))
	a.Deallocate(buckets) // no-op; must not panic
}

func TestStandardAllocatorRejectsNonPositive(t *testing.T) {
	a := StandardAllocator[bucketMap]{}
	_, err := a.Allocate(0)
	require.Error(t, err)
}

func TestHugePageAllocatorAlignsAndSizes(t *testing.T) {
	a := HugePageAllocator[bucketMap]{}
	buckets, err := a.Allocate(16)
	require.NoError(t, err)
	defer a.Deallocate(buckets)
	require.Len(t, buckets, 16)
	require.True(t, isCacheLineAligned(buckets))
}

func TestRoundUpHugePage(t *testing.T) {
	require.Equal(t, uintptr(hugePageSize), roundUpHugePage(1))
	require.Equal(t, uintptr(hugePageSize), roundUpHugePage(hugePageSize))
	require.Equal(t, uintptr(2*hugePageSize), roundUpHugePage(hugePageSize+1))
}

func TestIsCacheLineAlignedEmptySlice(t *testing.T) {
	require.True(t, isCacheLineAligned([]bucketMap(nil)))
}
