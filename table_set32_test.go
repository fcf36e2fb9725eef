package cuckootable

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet32InsertFindAt80PercentLoad(t *testing.T) {
	s, err := NewSet32(2048)
	require.NoError(t, err)
	defer s.Close()

	const n = 1638 // ~80% of the 2048 slots (256 buckets of 8)
	for i := uint32(0); i < n; i++ {
		require.NoError(t, s.Insert(i))
	}
	require.Equal(t, n, s.Size())

	for i := uint32(0); i < n; i++ {
		it := s.Find(i)
		require.False(t, it.IsNull(), "key %d should be present", i)
		require.Equal(t, i, it.Key())
	}
	require.True(t, s.Find(1000000).IsNull())
}

func TestSet32EraseThenFindMisses(t *testing.T) {
	s, err := NewSet32(256)
	require.NoError(t, err)
	defer s.Close()

	for i := uint32(0); i < 50; i++ {
		require.NoError(t, s.Insert(i))
	}
	it := s.Find(10)
	require.False(t, it.IsNull())
	s.Erase(it)
	require.Equal(t, 49, s.Size())
	require.True(t, s.Find(10).IsNull())
}

func TestSet32DuplicateInsertFails(t *testing.T) {
	s, err := NewSet32(256)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert(7))
	require.ErrorIs(t, s.Insert(7), ErrDuplicateKey)
}

func TestSet32FindBatchedMatchesScalar(t *testing.T) {
	s, err := NewSet32(4096)
	require.NoError(t, err)
	defer s.Close()

	for _, k := range []uint32{0, 1, 2, 3, 5, 6} {
		require.NoError(t, s.Insert(k))
	}

	keys := []uint32{0, 1, 2, 3, 9999, 5, 6, 9998}
	wantHit := []bool{true, true, true, true, false, true, true, false}

	out := make([]SetIter32, len(keys))
	s.FindBatched(keys, out)

	for i, k := range keys {
		require.Equal(t, wantHit[i], !out[i].IsNull(), "key %d", k)
		require.Equal(t, s.Find(k).IsNull(), out[i].IsNull())
	}
}

func TestSet32SIMDScalarParityFuzz(t *testing.T) {
	s, err := NewSet32(1 << 17)
	require.NoError(t, err)
	defer s.Close()

	rng := rand.New(rand.NewSource(3))
	present := make(map[uint32]bool)
	for len(present) < 100000 {
		k := uint32(rng.Uint64() % (1 << 28))
		if k == emptySentinel[uint32]() || present[k] {
			continue
		}
		if err := s.Insert(k); err != nil {
			if err == ErrDisplacementExhausted {
				break
			}
			require.NoError(t, err)
		}
		present[k] = true
	}
	for k := range present {
		require.False(t, s.Find(k).IsNull())
		_, b1, b2 := bucketIndices(s.hash, k, s.bucketBitmask)
		require.Equal(t, s.buckets[b1].find(k), s.buckets[b1].findSIMD(k))
		require.Equal(t, s.buckets[b2].find(k), s.buckets[b2].findSIMD(k))
	}
}

func TestSet32DisplacementTerminatesAtHighLoad(t *testing.T) {
	constHash := func(uint64) uint64 { return 0x9999 }
	s, err := NewSet32(64, WithHash(constHash))
	require.NoError(t, err)
	defer s.Close()

	inserted := 0
	for i := uint32(0); i < 10000; i++ {
		if err := s.Insert(i); err != nil {
			require.ErrorIs(t, err, ErrDisplacementExhausted)
			break
		}
		inserted++
	}
	require.Equal(t, inserted, s.Size())
}

func TestSet32InvalidCapacity(t *testing.T) {
	_, err := NewSet32(0)
	require.ErrorIs(t, err, ErrInvalidCapacity)
}
