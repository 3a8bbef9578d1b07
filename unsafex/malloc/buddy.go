package malloc

import (
	"fmt"
	"math/bits"
	"slices"
	"unsafe"

	"github.com/cloudwego/memkit/alloc"
)

const (
	// magic marks a live buddy block.
	magic uint32 = 0xBADF00D

	// DefaultMinBlockSize is the default minimum block size (8KB).
	DefaultMinBlockSize = 8 * 1024

	// DefaultMaxBlockSize is the default maximum block size (512KB).
	DefaultMaxBlockSize = 512 * 1024
)

// offsets is a stack of free block offsets of one order.
type offsets []int

func (s *offsets) push(off int) {
	*s = append(*s, off)
}

func (s *offsets) pop() int {
	n := len(*s) - 1
	off := (*s)[n]
	*s = (*s)[:n]
	return off
}

// BuddyAllocator is a buddy system allocator over a caller-supplied arena.
// Blocks are powers of two between the minimum and the maximum block size.
// Freed blocks are merged with their buddy lazily, when an allocation cannot
// be served otherwise.
//
// Besides the raw Alloc/Free API it satisfies alloc.Allocator, so it can back
// an arena or a slab.
type BuddyAllocator struct {
	arena []byte
	base  unsafe.Pointer

	// free[o] holds blocks of minBlockSize<<o bytes.
	free []offsets

	// dirty is set when a block below the root order is freed, so its buddy
	// may be free too. Cleared when a merge attempt finds nothing.
	dirty bool

	minBlockSize  int
	minBlockShift int
	maxBlockSize  int
	maxOrder      int
}

// NewBuddyAllocator creates a new buddy allocator with default block sizes (8KB min, 512KB max).
// The arena's size MUST be a multiple of maxBlockSize.
func NewBuddyAllocator(arena []byte) (*BuddyAllocator, error) {
	return NewBuddyAllocatorWithBlockSize(arena, DefaultMinBlockSize, DefaultMaxBlockSize)
}

// NewBuddyAllocatorWithBlockSize creates a new buddy allocator with custom block sizes.
// Both minBlock and maxBlock must be powers of two, and minBlock <= maxBlock.
// The arena's size MUST be a multiple of maxBlock.
func NewBuddyAllocatorWithBlockSize(arena []byte, minBlock, maxBlock int) (*BuddyAllocator, error) {
	if !isPow2(minBlock) {
		return nil, fmt.Errorf("buddy: min block size must be a power of two, got %d", minBlock)
	}
	if !isPow2(maxBlock) {
		return nil, fmt.Errorf("buddy: max block size must be a power of two, got %d", maxBlock)
	}
	if minBlock > maxBlock {
		return nil, fmt.Errorf("buddy: min block size %d exceeds max block size %d", minBlock, maxBlock)
	}
	if minBlock <= headerSize {
		return nil, fmt.Errorf("buddy: min block size must exceed the %d byte header, got %d", headerSize, minBlock)
	}
	if len(arena) < maxBlock || len(arena)%maxBlock != 0 {
		return nil, fmt.Errorf("buddy: arena of %d bytes is not a positive multiple of %d", len(arena), maxBlock)
	}

	minShift := bits.TrailingZeros(uint(minBlock))
	a := &BuddyAllocator{
		arena:         arena,
		base:          unsafe.Pointer(unsafe.SliceData(arena)),
		minBlockSize:  minBlock,
		minBlockShift: minShift,
		maxBlockSize:  maxBlock,
		maxOrder:      bits.TrailingZeros(uint(maxBlock)) - minShift,
	}
	a.free = make([]offsets, a.maxOrder+1)
	for o := range a.free[:a.maxOrder] {
		a.free[o] = make(offsets, 0, min(1<<(a.maxOrder-o), 64))
	}
	a.free[a.maxOrder] = make(offsets, 0, len(arena)/maxBlock)
	a.Reset()
	return a, nil
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

var _ alloc.Allocator = (*BuddyAllocator)(nil)

// Alloc allocates a block of memory of at least size bytes.
// It returns a slice of the allocated memory, or nil if no
// sufficiently large block is available.
func (a *BuddyAllocator) Alloc(size int) []byte {
	if size <= 0 || size > a.maxBlockSize-headerSize {
		return nil
	}
	want := a.orderOf(size + headerSize)
	order := a.firstFree(want)
	if order < 0 && a.dirty {
		if order = a.CoalesceUntil(want); order < 0 {
			a.dirty = false
		}
	}
	if order < 0 {
		return nil
	}

	// Split down to the wanted order, keeping the left half.
	off := a.free[order].pop()
	for order > want {
		order--
		a.free[order].push(off + a.blockSize(order))
	}
	return blockData(a.base, off, a.blockSize(want), size, magic)
}

// Free returns a block of memory to the allocator.
// Panics if the block doesn't belong to this allocator.
//
// The block must be the slice returned by Alloc, possibly shortened with
// block[:n]. Its start and capacity locate the block.
func (a *BuddyAllocator) Free(block []byte) {
	size := cap(block)
	if size == 0 {
		return
	}
	if size > a.maxBlockSize {
		panic("buddy: invalid block size")
	}
	off := blockOffset(a.base, block)
	if off < 0 || off >= len(a.arena) {
		panic("buddy: block not in arena")
	}
	h := headerAt(a.base, off)
	if h.magic != magic {
		panic("buddy: double free or invalid block")
	}
	if int(h.size) > size {
		panic("buddy: corrupted size")
	}
	a.release(off, a.orderOf(size+headerSize))
}

// IsValidOffset checks if the given data offset could be a valid allocation start.
// It validates bounds and alignment without checking the magic (allocation state).
// Use this for pre-validation before FreeAt to avoid panics from untrusted input.
func (a *BuddyAllocator) IsValidOffset(dataOffset int) bool {
	off := dataOffset - headerSize
	return off >= 0 && off < len(a.arena) && off&(a.minBlockSize-1) == 0
}

// FreeAt returns a block at the given data offset to the allocator.
// The offset is relative to the arena start and points to user data.
// Panics if the offset is invalid or the block doesn't belong to this allocator.
func (a *BuddyAllocator) FreeAt(dataOffset int) {
	off := dataOffset - headerSize
	if off < 0 || off >= len(a.arena) {
		panic("buddy: offset out of range")
	}
	h := headerAt(a.base, off)
	if h.magic != magic {
		panic("buddy: double free or invalid block")
	}
	a.release(off, a.orderOf(int(h.size)+headerSize))
}

// release puts the block at off back on its free list.
// Merging with its buddy is deferred to CoalesceUntil.
func (a *BuddyAllocator) release(off, order int) {
	if off&(a.blockSize(order)-1) != 0 {
		panic("buddy: misaligned block")
	}
	headerAt(a.base, off).magic = 0
	a.free[order].push(off)
	if order < a.maxOrder {
		a.dirty = true
	}
}

// Available returns the total free bytes available for allocation.
func (a *BuddyAllocator) Available() int {
	total := 0
	for o, list := range a.free {
		total += len(list) * (a.blockSize(o) - headerSize)
	}
	return total
}

// CoalesceUntil merges free buddies, order by order from the smallest, until
// a block of at least targetOrder exists. It returns the order of such a
// block, or -1.
func (a *BuddyAllocator) CoalesceUntil(targetOrder int) int {
	if o := a.firstFree(targetOrder); o >= 0 {
		return o
	}
	for o := 0; o < targetOrder; o++ {
		list := a.free[o]
		if len(list) < 2 {
			continue
		}
		// Sorted, a left buddy is directly followed by its right buddy.
		slices.Sort(list)
		size := a.blockSize(o)
		kept := list[:0]
		for i := 0; i < len(list); i++ {
			if i+1 < len(list) && list[i+1] == list[i]^size {
				a.free[o+1].push(list[i])
				i++
				continue
			}
			kept = append(kept, list[i])
		}
		a.free[o] = kept
	}
	return a.firstFree(targetOrder)
}

// firstFree returns the smallest order >= order with a free block, or -1.
func (a *BuddyAllocator) firstFree(order int) int {
	for o := order; o <= a.maxOrder; o++ {
		if len(a.free[o]) > 0 {
			return o
		}
	}
	return -1
}

// Reset clears all allocations and returns the allocator to its initial state.
func (a *BuddyAllocator) Reset() {
	for o := range a.free {
		a.free[o] = a.free[o][:0]
	}
	for off := 0; off < len(a.arena); off += a.maxBlockSize {
		a.free[a.maxOrder].push(off)
	}
	a.dirty = false
}

// orderOf returns the smallest order whose blocks hold size bytes.
func (a *BuddyAllocator) orderOf(size int) int {
	if size <= a.minBlockSize {
		return 0
	}
	return bits.Len(uint(size-1)) - a.minBlockShift
}

func (a *BuddyAllocator) blockSize(order int) int {
	return a.minBlockSize << order
}

// Cap returns the size of the managed arena.
func (a *BuddyAllocator) Cap() int {
	return len(a.arena)
}

// Allocate implements alloc.Allocator. Regions are aligned to at most 8 bytes
// and are rounded up to a power-of-two block.
func (a *BuddyAllocator) Allocate(l alloc.Layout) ([]byte, error) {
	if err := checkBlockLayout(l); err != nil {
		return nil, err
	}
	if l.Size == 0 {
		return alloc.Empty(), nil
	}
	b := a.Alloc(l.Size)
	if b == nil {
		return nil, fmt.Errorf("%w: buddy: no free block for %d bytes", alloc.ErrAllocationFailure, l.Size)
	}
	return checkBlockAddr(b, l, a.Free)
}

// Deallocate implements alloc.Allocator.
func (a *BuddyAllocator) Deallocate(b []byte, l alloc.Layout) {
	if l.Size == 0 {
		return
	}
	a.Free(b)
}

// Grow implements alloc.Allocator. It stays in place while the block holding b
// is large enough.
func (a *BuddyAllocator) Grow(b []byte, from, to alloc.Layout) ([]byte, error) {
	return resizeBlock(a, b, from, to, true)
}

// Shrink implements alloc.Allocator. The block is never split.
func (a *BuddyAllocator) Shrink(b []byte, from, to alloc.Layout) ([]byte, error) {
	return resizeBlock(a, b, from, to, false)
}
