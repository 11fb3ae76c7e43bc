package core

import (
	"fmt"
	"unsafe"
)

// Arena is a bump allocator over a caller-provided contiguous buffer
// (spec.md §4.1). It is single-writer; readers are safe to use the
// returned offsets after the caller's own publication barrier (e.g. after
// materialization completes and bit-matrices become read-only).
//
// Unlike the teacher's map-backed registries (core/integration_registry.go),
// an arena has no third-party counterpart anywhere in the retrieval
// corpus — it is a raw offset/high-water-mark structure over a byte slice,
// which is exactly what the teacher's own disk-cache bookkeeping in
// core/storage.go does for file offsets, generalized here to memory.
type Arena struct {
	buf  []byte
	mark int
}

// NewArena allocates an Arena over a zeroed buffer of the given size.
func NewArena(size int) *Arena {
	return &Arena{buf: make([]byte, size)}
}

// Alloc reserves size bytes aligned to align (which must be a power of two
// in {8,16,32,64}) and returns the offset where the reserved range starts
// (Bytes turns it into a slice). It fails (ok=false) if the
// arena would overflow.
func (a *Arena) Alloc(size, align int) (off int, ok bool) {
	if align <= 0 || (align&(align-1)) != 0 {
		panic(fmt.Sprintf("arena: invalid alignment %d", align))
	}
	// Branchless padding per spec.md §4.1: (-addr) & (align-1).
	pad := (-a.mark) & (align - 1)
	start := a.mark + pad
	end := start + size
	if end > len(a.buf) {
		return 0, false
	}
	a.mark = end
	return start, true
}

// Bytes returns the byte range [off, off+size) previously returned by
// Alloc. It panics if the range is out of bounds — callers only ever pass
// offsets Alloc handed back.
func (a *Arena) Bytes(off, size int) []byte {
	return a.buf[off : off+size]
}

// Checkpoint is a restore point captured by Save.
type Checkpoint int

// Save captures the current high-water mark.
func (a *Arena) Save() Checkpoint { return Checkpoint(a.mark) }

// Restore discards all allocations made since cp was captured.
func (a *Arena) Restore(cp Checkpoint) { a.mark = int(cp) }

// Reset returns the arena to empty.
func (a *Arena) Reset() { a.mark = 0 }

// Len reports the number of bytes currently allocated.
func (a *Arena) Len() int { return a.mark }

// Cap reports the arena's total capacity.
func (a *Arena) Cap() int { return len(a.buf) }

// AllocUint64s reserves n uint64 words out of the arena and returns them as
// a slice reinterpreting the underlying bytes (spec.md §4.1: bit-matrices
// are allocated in the arena). If the arena is exhausted it degrades
// gracefully to a heap-backed slice rather than failing the caller -
// exact predicate/closure counts aren't known statically at construction
// time, so running out of headroom is expected to happen occasionally,
// not a hard error.
func (a *Arena) AllocUint64s(n int) []uint64 {
	if n <= 0 {
		return nil
	}
	size := n * 8
	off, ok := a.Alloc(size, 8)
	if !ok {
		return make([]uint64, n)
	}
	b := a.Bytes(off, size)
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), n)
}

// AllocMessages reserves n Messages out of the arena for a fiber's mailbox
// ring buffer (spec.md §3, "fiber state lives in the scheduler's arena").
// Falls back to a heap slice on exhaustion, same rationale as
// AllocUint64s.
func (a *Arena) AllocMessages(n int) []Message {
	if n <= 0 {
		return nil
	}
	var m Message
	size := n * int(unsafe.Sizeof(m))
	off, ok := a.Alloc(size, 8)
	if !ok {
		return make([]Message, n)
	}
	b := a.Bytes(off, size)
	return unsafe.Slice((*Message)(unsafe.Pointer(&b[0])), n)
}
