package cuckootable

import "unsafe"

// prefetchBucket issues a read-only touch of b's first byte, standing in
// for the hardware prefetch hint (__builtin_prefetch) that
// original_source/cuckoo_table.hpp issues from C++. Go has no portable
// prefetch intrinsic without cgo or hand-written assembly, and none of the
// repositories in the retrieval pack carry one either, so this package
// preserves the *shape* of the pipeline mandated by spec.md §4.2 — hash and
// touch every bucket in one pass, probe it in a later pass, with enough
// independent work in between for a real prefetch to land — without being
// able to issue the underlying hardware hint itself.
//
//go:noinline
func prefetchBucket[B any](b *B) {
	_ = *(*byte)(unsafe.Pointer(b))
}
