/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package arena

import (
	"unsafe"

	"github.com/cloudwego/memkit/alloc"
	"github.com/cloudwego/memkit/internal/region"
	"github.com/cloudwego/memkit/unsafex/malloc"
)

// chunk is one fixed-capacity run of units with a bump cursor.
// Its storage never moves or changes size while the chunk lives.
type chunk[T any] struct {
	reg  region.Region[T]
	base uintptr
	used int // units in use, [0, used) may hold values
	next int // index of the following chunk, -1 for the tail

	// vacated marks units whose value was moved elsewhere and must not be
	// destructed again. Only destructor-running arenas create it.
	vacated *malloc.Bitmap
}

func newChunk[T any](a alloc.Allocator, capacity int) (chunk[T], error) {
	reg, err := region.Make[T](a, capacity)
	if err != nil {
		return chunk[T]{}, err
	}
	return chunk[T]{
		reg:  reg,
		base: uintptr(unsafe.Pointer(unsafe.SliceData(reg.Items))),
		next: -1,
	}, nil
}

func (c *chunk[T]) capacity() int {
	return len(c.reg.Items)
}

func (c *chunk[T]) unit() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}

// contains reports whether addr lies within the chunk storage.
func (c *chunk[T]) contains(addr uintptr) bool {
	return addr >= c.base && addr < c.base+uintptr(c.capacity())*c.unit()
}

// indexOf returns the unit index of addr, which must be contained.
func (c *chunk[T]) indexOf(addr uintptr) int {
	return int((addr - c.base) / c.unit())
}

// fit returns the first unit at or after the cursor whose address satisfies
// align and is followed by n free units. align must be a multiple of the unit
// alignment, or the chunk storage happens to be aligned for it.
func (c *chunk[T]) fit(n, align int) (int, bool) {
	addr := c.base + uintptr(c.used)*c.unit()
	mask := uintptr(align - 1)
	pad := ((addr + mask) &^ mask) - addr
	if pad%c.unit() != 0 {
		return 0, false
	}
	start := c.used + int(pad/c.unit())
	if start > c.capacity() || n > c.capacity()-start {
		return 0, false
	}
	return start, true
}

// take moves the cursor past [start, start+n) and returns those units.
func (c *chunk[T]) take(start, n int) []T {
	c.used = start + n
	return c.reg.Items[start:c.used:c.used]
}

func (c *chunk[T]) isTail(idx, n int) bool {
	return idx+n == c.used
}

// retract moves the cursor back to to. Units leaving the chunk are destructed
// by drop unless they were vacated.
func (c *chunk[T]) retract(to int, drop func(*T)) {
	c.destruct(to, c.used, drop)
	c.used = to
}

// destruct runs drop over [lo, hi) skipping vacated units, and clears their
// vacated marks.
func (c *chunk[T]) destruct(lo, hi int, drop func(*T)) {
	if c.vacated == nil {
		if drop != nil {
			for i := lo; i < hi; i++ {
				drop(&c.reg.Items[i])
			}
		}
		return
	}
	for i := lo; i < hi; i++ {
		if c.isVacated(i) {
			_ = c.vacated.Clear(i)
		} else if drop != nil {
			drop(&c.reg.Items[i])
		}
	}
}

// vacate marks [lo, hi) as moved out. Values are zeroed so the collector does
// not see stale references.
func (c *chunk[T]) vacate(lo, hi int) {
	if c.vacated == nil {
		bm, err := malloc.NewBitmap(alloc.Heap, (c.capacity()+7)&^7)
		if err != nil {
			panic(err)
		}
		c.vacated = bm
	}
	var zero T
	for i := lo; i < hi; i++ {
		_ = c.vacated.Set(i)
		c.reg.Items[i] = zero
	}
}

func (c *chunk[T]) isVacated(i int) bool {
	ok, _ := c.vacated.Get(i)
	return ok
}

// reset destructs every resident value and rewinds the cursor.
func (c *chunk[T]) reset(drop func(*T)) {
	c.retract(0, drop)
	if c.vacated != nil {
		c.vacated.Reset()
	}
}

// free tears the chunk down and gives its storage back to a.
func (c *chunk[T]) free(a alloc.Allocator, drop func(*T)) {
	c.reset(drop)
	if c.vacated != nil {
		c.vacated.Release()
		c.vacated = nil
	}
	c.reg.Free(a)
	c.base = 0
}
