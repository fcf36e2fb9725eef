// Package cuckootable implements a bucketized 2-choice cuckoo hash table
// tuned for lookup-heavy workloads.
//
// Keys are packed into fixed-slot buckets sized to a hardware cache line (or
// half of one): 4 slots of an 8-byte key (plus an 8-byte value for the map
// variant) fill exactly 64 bytes, and 4 or 8 slots of a bare key fill exactly
// 32 bytes. Every key has exactly two candidate buckets, derived from a
// single stored hash by XOR-ing the hash with the key and rehashing — the
// alternate bucket of an evicted key can therefore always be recomputed from
// the key alone, without carrying a second hash alongside it.
//
// Three concrete tables are provided:
//
//   - Table: 64-bit key, 64-bit value map (SlotsPerBucket = 4, 64-byte buckets).
//   - Set64: 64-bit key set (SlotsPerBucket = 4, 32-byte buckets).
//   - Set32: 32-bit key set (SlotsPerBucket = 8, 32-byte buckets).
//
// All three share the same slot-scan and bucket-index helpers, instantiated
// over the key width via generics; each variant has its own copy of the
// cuckoo-displacement loop.
//
// A table is single-writer: Insert and Erase must not race with each other
// or with Find/FindBatched on the same table. Multiple readers may call
// Find/FindBatched concurrently as long as no mutation is in flight. The
// package performs no internal locking.
package cuckootable
