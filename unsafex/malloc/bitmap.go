package malloc

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/cloudwego/memkit/alloc"
)

const (
	// bitmapMagic detects double-free/invalid blocks.
	bitmapMagic uint32 = 0xB17BA900

	// DefaultBitmapMinBlockSize is the default minimum block size (4KB).
	DefaultBitmapMinBlockSize = 4 * 1024

	// DefaultBitmapMaxBlockSize is the default maximum block size (512KB).
	DefaultBitmapMaxBlockSize = 512 * 1024
)

// BitmapAllocator manages a caller-supplied arena as blocks of minBlockSize
// bytes. A Bitmap at the head of the arena records which blocks are in use,
// and an allocation takes a run of contiguous blocks found by next-fit.
type BitmapAllocator struct {
	arena []byte

	// used is carved from the head of arena by a FixedAllocator.
	used *Bitmap

	// blocks is the first block, right after the block map.
	blocks    unsafe.Pointer
	numBlocks int
	nextIdx   int

	minBlockSize  int
	minBlockShift int
	maxBlockSize  int
}

var _ alloc.Allocator = (*BitmapAllocator)(nil)

// NewBitmapAllocator creates a bitmap allocator with default block sizes (4KB min, 512KB max).
// Arena size must be large enough to hold bitmap + at least one maxBlock allocation.
func NewBitmapAllocator(arena []byte) (*BitmapAllocator, error) {
	return NewBitmapAllocatorWithBlockSize(arena, DefaultBitmapMinBlockSize, DefaultBitmapMaxBlockSize)
}

// NewBitmapAllocatorWithBlockSize creates a bitmap allocator with specified block sizes.
// minBlock must be a positive multiple of 4096, maxBlock a multiple of minBlock
// larger than it. The arena must hold the block map and one maxBlock allocation.
func NewBitmapAllocatorWithBlockSize(arena []byte, minBlock, maxBlock int) (*BitmapAllocator, error) {
	if minBlock < 4096 || minBlock%4096 != 0 {
		return nil, fmt.Errorf("bitmap: min block size must be a positive multiple of 4096, got %d", minBlock)
	}
	if maxBlock <= minBlock || maxBlock%minBlock != 0 {
		return nil, fmt.Errorf("bitmap: max block size %d must be a multiple of min block size %d above it",
			maxBlock, minBlock)
	}

	// The map takes whole blocks at the head so the first block stays aligned.
	// Solve mapBytes*8 >= numBlocks with mapSize + numBlocks*minBlock <= len(arena).
	mapBytes := (len(arena) + 8*minBlock) / (8*minBlock + 1)
	mapSize := (mapBytes + minBlock - 1) / minBlock * minBlock

	numBlocks := 0
	if len(arena) > mapSize {
		numBlocks = (len(arena) - mapSize) / minBlock
	}
	if numBlocks < maxBlock/minBlock {
		return nil, fmt.Errorf("bitmap: arena too small: need at least %d blocks, got %d",
			maxBlock/minBlock, numBlocks)
	}

	used, err := NewBitmap(NewFixedAllocator(arena[:mapSize]), (numBlocks+7)&^7)
	if err != nil {
		return nil, fmt.Errorf("bitmap: placing block map: %w", err)
	}
	return &BitmapAllocator{
		arena:         arena,
		used:          used,
		blocks:        unsafe.Pointer(&arena[mapSize]),
		numBlocks:     numBlocks,
		minBlockSize:  minBlock,
		minBlockShift: bits.TrailingZeros(uint(minBlock)),
		maxBlockSize:  maxBlock,
	}, nil
}

// Alloc allocates memory of at least size bytes.
// Returns nil if no contiguous region is available.
func (a *BitmapAllocator) Alloc(size int) []byte {
	if size <= 0 || size+headerSize > a.maxBlockSize {
		return nil
	}
	n := a.blocksFor(size)
	idx := a.search(a.nextIdx, n)
	if idx == -1 && a.nextIdx > 0 {
		idx = a.search(0, n)
	}
	if idx == -1 {
		return nil
	}

	a.used.setRange(idx, n, true)
	a.nextIdx = idx + n
	if a.nextIdx >= a.numBlocks {
		a.nextIdx = 0
	}
	return blockData(a.blocks, idx<<a.minBlockShift, n<<a.minBlockShift, size, bitmapMagic)
}

// search finds n free blocks in a row at or after start.
func (a *BitmapAllocator) search(start, n int) int {
	if n == 1 {
		return a.used.findFree(start, a.numBlocks)
	}
	return a.used.findRun(start, n, a.numBlocks)
}

// blocksFor returns how many blocks hold size bytes and the header.
func (a *BitmapAllocator) blocksFor(size int) int {
	return (size + headerSize + a.minBlockSize - 1) >> a.minBlockShift
}

// Free returns memory to the allocator.
// Panics if block is invalid or already freed.
func (a *BitmapAllocator) Free(block []byte) {
	if cap(block) == 0 {
		return
	}
	off := blockOffset(a.blocks, block)
	if off < 0 || off >= a.numBlocks<<a.minBlockShift {
		panic("bitmap: block not in arena")
	}
	if off&(a.minBlockSize-1) != 0 {
		panic("bitmap: misaligned block")
	}
	h := headerAt(a.blocks, off)
	if h.magic != bitmapMagic {
		panic("bitmap: double free or invalid block")
	}
	if int(h.size) > cap(block) {
		panic("bitmap: corrupted size")
	}
	a.release(off)
}

// Available returns total free bytes.
func (a *BitmapAllocator) Available() int {
	return (a.numBlocks - a.used.Count()) * (a.minBlockSize - headerSize)
}

// Reset clears all allocations and returns the allocator to its initial state.
func (a *BitmapAllocator) Reset() {
	a.used.Reset()
	a.nextIdx = 0
}

// IsValidOffset checks if the given data offset could be a valid allocation start.
// The offset is relative to the first block, not to the arena start.
// Validates bounds and alignment without checking magic (allocation state).
func (a *BitmapAllocator) IsValidOffset(dataOffset int) bool {
	off := dataOffset - headerSize
	return off >= 0 && off < a.numBlocks<<a.minBlockShift && off&(a.minBlockSize-1) == 0
}

// FreeAt returns a block at the given data offset to the allocator.
// The offset is relative to the first block and should point to user data.
// Panics if the offset is invalid or the block doesn't belong to this allocator.
func (a *BitmapAllocator) FreeAt(dataOffset int) {
	off := dataOffset - headerSize
	if off < 0 || off >= a.numBlocks<<a.minBlockShift {
		panic("bitmap: offset out of range")
	}
	if off&(a.minBlockSize-1) != 0 {
		panic("bitmap: misaligned offset")
	}
	if headerAt(a.blocks, off).magic != bitmapMagic {
		panic("bitmap: double free or invalid block")
	}
	a.release(off)
}

// release clears the header and the block bits of the allocation at off.
func (a *BitmapAllocator) release(off int) {
	h := headerAt(a.blocks, off)
	h.magic = 0
	a.used.setRange(off>>a.minBlockShift, a.blocksFor(int(h.size)), false)
}

// Allocate implements alloc.Allocator. Regions are aligned to at most 8 bytes.
func (a *BitmapAllocator) Allocate(l alloc.Layout) ([]byte, error) {
	if err := checkBlockLayout(l); err != nil {
		return nil, err
	}
	if l.Size == 0 {
		return alloc.Empty(), nil
	}
	b := a.Alloc(l.Size)
	if b == nil {
		return nil, fmt.Errorf("%w: bitmap: no run of blocks for %d bytes", alloc.ErrAllocationFailure, l.Size)
	}
	return checkBlockAddr(b, l, a.Free)
}

// Deallocate implements alloc.Allocator.
func (a *BitmapAllocator) Deallocate(b []byte, l alloc.Layout) {
	if l.Size == 0 {
		return
	}
	a.Free(b)
}

// Grow implements alloc.Allocator. It stays in place while the blocks
// already reserved for b can hold the new size.
func (a *BitmapAllocator) Grow(b []byte, from, to alloc.Layout) ([]byte, error) {
	return resizeBlock(a, b, from, to, true)
}

// Shrink implements alloc.Allocator. The blocks reserved for b are kept.
func (a *BitmapAllocator) Shrink(b []byte, from, to alloc.Layout) ([]byte, error) {
	return resizeBlock(a, b, from, to, false)
}

