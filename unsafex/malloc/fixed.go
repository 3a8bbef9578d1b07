package malloc

import (
	"fmt"

	"github.com/cloudwego/memkit/alloc"
	"github.com/cloudwego/memkit/unsafex"
)

// FixedAllocator bump-allocates from a single caller-supplied buffer.
//
// Only the most recent allocation can be given back or resized in place;
// everything else is reclaimed by Reset.
type FixedAllocator struct {
	buf  []byte
	base uintptr
	off  int
}

// NewFixedAllocator creates an allocator over buf. The buffer must outlive
// every region handed out.
func NewFixedAllocator(buf []byte) *FixedAllocator {
	return &FixedAllocator{buf: buf, base: unsafex.Addr(buf)}
}

func (a *FixedAllocator) Allocate(l alloc.Layout) ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if l.Size == 0 {
		return alloc.Empty(), nil
	}
	start := a.alignedOffset(l.Align)
	if start > len(a.buf) || l.Size > len(a.buf)-start {
		return nil, fmt.Errorf("%w: fixed: %d bytes requested, %d available",
			alloc.ErrAllocationFailure, l.Size, len(a.buf)-a.off)
	}
	a.off = start + l.Size
	return a.buf[start:a.off:a.off], nil
}

// Deallocate reclaims b only if it is the most recent allocation.
// Padding inserted for alignment stays consumed.
func (a *FixedAllocator) Deallocate(b []byte, l alloc.Layout) {
	if l.Size == 0 {
		return
	}
	if off, ok := a.offsetOf(b); ok && off+l.Size == a.off {
		a.off = off
	}
}

func (a *FixedAllocator) Grow(b []byte, from, to alloc.Layout) ([]byte, error) {
	if err := alloc.CheckResize(from, to, true); err != nil {
		return nil, err
	}
	if from.Size == 0 {
		return a.Allocate(to)
	}
	off, ok := a.offsetOf(b)
	if ok && off+from.Size == a.off && to.IsAligned(unsafex.Addr(b)) && to.Size <= len(a.buf)-off {
		a.off = off + to.Size
		return a.buf[off:a.off:a.off], nil
	}
	return alloc.Realloc(a, b, from, to)
}

func (a *FixedAllocator) Shrink(b []byte, from, to alloc.Layout) ([]byte, error) {
	if err := alloc.CheckResize(from, to, false); err != nil {
		return nil, err
	}
	if to.Size == 0 {
		a.Deallocate(b, from)
		return alloc.Empty(), nil
	}
	if !to.IsAligned(unsafex.Addr(b)) {
		return alloc.Realloc(a, b, from, to)
	}
	if off, ok := a.offsetOf(b); ok && off+from.Size == a.off {
		a.off = off + to.Size
	}
	return b[:to.Size:to.Size], nil
}

// Used returns the number of bytes consumed, alignment padding included.
func (a *FixedAllocator) Used() int { return a.off }

// Available returns the number of bytes left at the end of the buffer.
func (a *FixedAllocator) Available() int { return len(a.buf) - a.off }

// Cap returns the size of the underlying buffer.
func (a *FixedAllocator) Cap() int { return len(a.buf) }

// Reset forgets every allocation.
func (a *FixedAllocator) Reset() { a.off = 0 }

func (a *FixedAllocator) alignedOffset(align int) int {
	addr := a.base + uintptr(a.off)
	mask := uintptr(align - 1)
	return a.off + int(((addr+mask)&^mask)-addr)
}

func (a *FixedAllocator) offsetOf(b []byte) (int, bool) {
	if cap(b) == 0 {
		return 0, false
	}
	addr := unsafex.Addr(b)
	if addr < a.base || addr >= a.base+uintptr(len(a.buf)) {
		return 0, false
	}
	return int(addr - a.base), true
}
