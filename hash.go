package cuckootable

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
)

// HashFunc computes a hash of a key, widened to uint64 regardless of the
// table variant's native key width. It must be deterministic and
// stateless, and must avalanche well both in the bottom log2(numBuckets)
// bits (used directly as bucket index 1) and in the bits produced by
// XOR-ing the hash with the key (used to derive bucket index 2) — spec.md
// §6. Operating uniformly on uint64 rather than on the table's native key
// type keeps the "other bucket" formula, hash(h ^ key), well-typed for both
// the 64-bit and 32-bit key variants without narrowing h's entropy back
// down to 32 bits.
type HashFunc func(uint64) uint64

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32CHash is the reference hash: CRC-32C of the key's little-endian
// bytes, replicated into the high and low 32-bit halves of a 64-bit
// result. This is a direct port of
// original_source/tests/hash.hpp's CRCHash<uint64_t> (`crc << 32 | crc`),
// using the standard library's hash/crc32 (Castagnoli polynomial) in place
// of the ARMv8 CRC32C instruction the original reaches for via arm_acle.h —
// hash/crc32 dispatches to the equivalent hardware instruction under the
// hood on amd64/arm64 when available. Replicating the 32-bit CRC into both
// halves is what makes both `h & mask` and `hash(h^k) & mask` draw from
// well-mixed entropy even when numBuckets is small.
func CRC32CHash(k uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], k)
	crc := uint64(crc32.Checksum(buf[:], crc32cTable))
	return crc<<32 | crc
}

// XXHash64 is an alternative reference hash, built on
// github.com/cespare/xxhash/v2 (the hash library used by
// Meesho-BharatMLStack/flashring and .../ssd-cache in the wider retrieval
// pack). It trades the CRC32C hash's widely-available hardware instruction
// for a software hash with excellent avalanche properties at every input
// size, and is a drop-in alternative via WithHash.
func XXHash64(k uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], k)
	return xxhash.Sum64(buf[:])
}

// bucketIndices derives the two candidate bucket indices for key from its
// hash, per spec.md §4.2: b1 = h & mask; b2 = hash(h ^ key) & mask. Using
// exactly this formula (rather than, say, hashing key twice with distinct
// seeds) is what lets displaceInsert reconstruct the alternate bucket of an
// evicted key from the key alone, without storing a second hash per slot.
// key is widened to uint64 so this same derivation serves the 32-bit set
// variant without narrowing h.
func bucketIndices[K Unsigned](hash HashFunc, key K, mask uint64) (h uint64, b1, b2 uint64) {
	h = hash(uint64(key))
	b1 = h & mask
	b2 = otherBucket(hash, h, key, mask)
	return h, b1, b2
}

// otherBucket computes the alternate bucket for key given its primary hash
// h and the key itself. Calling this with h recomputed from
// the evicted key (rather than carried alongside it) is the whole point of
// the "other bucket" formula: spec.md §4.2 requires that the alternate
// bucket be derivable from (bucket, hash) or (key) alone.
func otherBucket[K Unsigned](hash HashFunc, h uint64, key K, mask uint64) uint64 {
	return hash(h^uint64(key)) & mask
}
