package malloc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/cloudwego/memkit/alloc"
)

// ErrOutOfRange is returned when a bit index lies outside a Bitmap.
var ErrOutOfRange = errors.New("malloc: bit index out of range")

// Bitmap is a fixed-length array of bit flags whose storage comes from an
// alloc.Allocator. Its length is always a multiple of 8.
type Bitmap struct {
	a    alloc.Allocator
	bits []byte
	n    int
}

// NewBitmap creates a Bitmap of n cleared bits backed by a.
// A nil a uses alloc.Heap.
func NewBitmap(a alloc.Allocator, n int) (*Bitmap, error) {
	if err := checkBitLen(n); err != nil {
		return nil, err
	}
	if a == nil {
		a = alloc.Heap
	}
	b, err := a.Allocate(bitmapLayout(n))
	if err != nil {
		return nil, err
	}
	bm := &Bitmap{a: a, bits: b[:n>>3], n: n}
	clear(bm.bits)
	return bm, nil
}

// Len returns the number of bits.
func (bm *Bitmap) Len() int { return bm.n }

// Get reports whether bit i is set.
func (bm *Bitmap) Get(i int) (bool, error) {
	if err := bm.check(i); err != nil {
		return false, err
	}
	return bm.isSet(i), nil
}

// Set sets bit i.
func (bm *Bitmap) Set(i int) error {
	if err := bm.check(i); err != nil {
		return err
	}
	bm.bits[i>>3] |= 1 << (i & 7)
	return nil
}

// Clear clears bit i.
func (bm *Bitmap) Clear(i int) error {
	if err := bm.check(i); err != nil {
		return err
	}
	bm.bits[i>>3] &^= 1 << (i & 7)
	return nil
}

// Count returns the number of set bits.
func (bm *Bitmap) Count() int {
	c := 0
	for _, b := range bm.bits {
		c += bits.OnesCount8(b)
	}
	return c
}

// Reset clears every bit.
func (bm *Bitmap) Reset() {
	clear(bm.bits)
}

// Resize changes the length to n bits, which must be a multiple of 8.
// Bits gained are clear; bits dropped are lost.
// On error the bitmap is unchanged.
func (bm *Bitmap) Resize(n int) error {
	if err := checkBitLen(n); err != nil {
		return err
	}
	if n == bm.n {
		return nil
	}
	from, to := bitmapLayout(bm.n), bitmapLayout(n)
	var (
		b   []byte
		err error
	)
	if n > bm.n {
		b, err = bm.a.Grow(bm.bits, from, to)
	} else {
		b, err = bm.a.Shrink(bm.bits, from, to)
	}
	if err != nil {
		return err
	}
	b = b[:n>>3]
	if n > bm.n {
		clear(b[bm.n>>3:])
	}
	bm.bits, bm.n = b, n
	return nil
}

// Release gives the storage back to the allocator. The bitmap is empty afterwards.
func (bm *Bitmap) Release() {
	if bm.n > 0 {
		bm.a.Deallocate(bm.bits, bitmapLayout(bm.n))
	}
	bm.bits, bm.n = nil, 0
}

func (bm *Bitmap) check(i int) error {
	if i < 0 || i >= bm.n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, i, bm.n)
	}
	return nil
}

func checkBitLen(n int) error {
	if n < 0 || n&7 != 0 {
		return fmt.Errorf("%w: bitmap length must be a non-negative multiple of 8, got %d",
			alloc.ErrInvalidRequest, n)
	}
	return nil
}

func bitmapLayout(n int) alloc.Layout {
	return alloc.Layout{Size: n >> 3, Align: 1}
}

func (bm *Bitmap) isSet(i int) bool {
	return bm.bits[i>>3]&(1<<(i&7)) != 0
}

// word returns the 64 bits starting at bit i, which must be a multiple of 64.
func (bm *Bitmap) word(i int) uint64 {
	return binary.LittleEndian.Uint64(bm.bits[i>>3:])
}

// findFree returns the first clear bit in [start, limit), or -1.
func (bm *Bitmap) findFree(start, limit int) int {
	i := start
	for ; i < limit && i&63 != 0; i++ {
		if !bm.isSet(i) {
			return i
		}
	}
	for ; i+64 <= limit; i += 64 {
		if w := bm.word(i); w != ^uint64(0) {
			return i + bits.TrailingZeros64(^w)
		}
	}
	for ; i < limit; i++ {
		if !bm.isSet(i) {
			return i
		}
	}
	return -1
}

// findRun returns the first bit of count contiguous clear bits in
// [start, limit), or -1. Whole words are skipped when full or empty.
func (bm *Bitmap) findRun(start, count, limit int) int {
	run := 0
	for i := start; i < limit; {
		if i&63 == 0 && i+64 <= limit {
			switch bm.word(i) {
			case 0:
				run += 64
				i += 64
				if run >= count {
					return i - run
				}
				continue
			case ^uint64(0):
				run = 0
				i += 64
				continue
			}
		}
		if bm.isSet(i) {
			run = 0
		} else if run++; run >= count {
			return i - run + 1
		}
		i++
	}
	return -1
}

// setRange sets or clears count bits starting at idx.
func (bm *Bitmap) setRange(idx, count int, set bool) {
	fill := byte(0)
	if set {
		fill = 0xFF
	}
	end := idx + count
	for i := idx; i < end; {
		if i&7 == 0 && i+8 <= end {
			bm.bits[i>>3] = fill
			i += 8
			continue
		}
		if set {
			bm.bits[i>>3] |= 1 << (i & 7)
		} else {
			bm.bits[i>>3] &^= 1 << (i & 7)
		}
		i++
	}
}
