package malloc

import (
	"fmt"
	"unsafe"

	"github.com/cloudwego/memkit/alloc"
	"github.com/cloudwego/memkit/unsafex"
)

// blockAlign is the strongest alignment the block allocators guarantee:
// user data follows an 8 byte header at a block boundary.
const blockAlign = 8

// headerSize is the size of the header in front of every block.
const headerSize = 8

// header is stored at the start of an allocated block. magic is cleared when
// the block is freed, so a second free is detected.
type header struct {
	magic uint32
	size  uint32 // requested size
}

func headerAt(base unsafe.Pointer, off int) *header {
	return (*header)(unsafe.Add(base, off))
}

// blockData writes the header of the block of blockBytes at off and returns
// its data region cut to size.
func blockData(base unsafe.Pointer, off, blockBytes, size int, mark uint32) []byte {
	h := headerAt(base, off)
	h.magic = mark
	h.size = uint32(size)
	p := (*byte)(unsafe.Add(base, off+headerSize))
	return unsafe.Slice(p, blockBytes-headerSize)[:size]
}

// blockOffset returns the offset of the header in front of data, relative to
// base. The result may be out of range for foreign slices.
func blockOffset(base unsafe.Pointer, data []byte) int {
	return int(unsafex.Addr(data)-uintptr(base)) - headerSize
}

func checkBlockLayout(l alloc.Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if l.Align > blockAlign {
		return fmt.Errorf("%w: alignment %d exceeds %d", alloc.ErrInvalidRequest, l.Align, blockAlign)
	}
	return nil
}

// checkBlockAddr gives b back when the arena itself was not 8 byte aligned.
func checkBlockAddr(b []byte, l alloc.Layout, free func([]byte)) ([]byte, error) {
	if !l.IsAligned(unsafex.Addr(b)) {
		free(b)
		return nil, fmt.Errorf("%w: arena does not satisfy alignment %d", alloc.ErrAllocationFailure, l.Align)
	}
	return b, nil
}

// resizeBlock keeps b in place while its block capacity allows,
// otherwise it moves the data to a new block.
func resizeBlock(a alloc.Allocator, b []byte, from, to alloc.Layout, grow bool) ([]byte, error) {
	if err := alloc.CheckResize(from, to, grow); err != nil {
		return nil, err
	}
	if err := checkBlockLayout(to); err != nil {
		return nil, err
	}
	if from.Size == 0 {
		return a.Allocate(to)
	}
	if to.Size == 0 {
		a.Deallocate(b, from)
		return alloc.Empty(), nil
	}
	if to.Size <= cap(b) && to.IsAligned(unsafex.Addr(b)) {
		return b[:to.Size], nil
	}
	return alloc.Realloc(a, b, from, to)
}
