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
	"fmt"
	"math"
	"unsafe"

	"github.com/cloudwego/memkit/alloc"
	"github.com/cloudwego/memkit/unsafex"
)

// chunkList is the allocation engine shared by Typed and Dropless.
//
// Chunks live in one slice and are linked by index in creation order. Both
// the search for free space and the search for the chunk owning an address
// walk that order from the head.
type chunkList[T any] struct {
	opts Options
	a    alloc.Allocator // nil places chunks on the typed Go heap

	// drop destructs a value leaving the arena. Nil never destructs.
	drop func(*T)

	chunks     []chunk[T]
	head, tail int
	nextCap    int

	leaked   bool
	released bool
}

func newChunkList[T any](opts Options, drop func(*T)) chunkList[T] {
	return chunkList[T]{
		opts:    opts,
		a:       opts.Allocator,
		drop:    drop,
		head:    -1,
		tail:    -1,
		nextCap: opts.ChunkCapacity,
	}
}

func (l *chunkList[T]) unit() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// units returns how many units hold size bytes.
func (l *chunkList[T]) units(size int) int {
	u := l.unit()
	n := size / u
	if size%u != 0 {
		n++
	}
	return n
}

func (l *chunkList[T]) checkLive() {
	if l.released {
		panic("arena: use after Release")
	}
}

// alloc reserves n units whose first address satisfies align.
func (l *chunkList[T]) alloc(n, align int) ([]T, error) {
	l.checkLive()
	if n == 0 {
		return []T{}, nil
	}
	for i := l.head; i != -1; i = l.chunks[i].next {
		c := &l.chunks[i]
		if start, ok := c.fit(n, align); ok {
			return c.take(start, n), nil
		}
	}
	c, err := l.appendChunk(n, align)
	if err != nil {
		return nil, err
	}
	start, ok := c.fit(n, align)
	if !ok {
		return nil, fmt.Errorf("%w: arena: chunk storage cannot satisfy alignment %d",
			alloc.ErrInvalidRequest, align)
	}
	return c.take(start, n), nil
}

// appendChunk links a new chunk after the tail. It is large enough for n
// units at any alignment up to align.
func (l *chunkList[T]) appendChunk(n, align int) (*chunk[T], error) {
	pad := (align - 1) / l.unit()
	if n > math.MaxInt-pad {
		return nil, fmt.Errorf("%w: arena: %d units overflows", alloc.ErrAllocationFailure, n)
	}
	capacity := l.nextCap
	dedicated := n+pad > capacity
	if dedicated {
		capacity = n + pad
	}
	c, err := newChunk[T](l.a, capacity)
	if err != nil {
		return nil, fmt.Errorf("arena: new chunk of %d units: %w", capacity, err)
	}
	if l.drop != nil && l.a != nil {
		// allocator memory is not zeroed and must not be destructed as values
		clear(c.reg.Items)
	}

	idx := len(l.chunks)
	l.chunks = append(l.chunks, c)
	if l.tail == -1 {
		l.head = idx
	} else {
		l.chunks[l.tail].next = idx
	}
	l.tail = idx

	if l.opts.Growth == GrowDouble && !dedicated {
		l.nextCap = min(l.nextCap*2, l.opts.MaxChunkCapacity)
	}
	return &l.chunks[idx], nil
}

// owner returns the chunk holding addr and the unit index of addr in it.
func (l *chunkList[T]) owner(addr uintptr) (ci, idx int, ok bool) {
	for i := l.head; i != -1; i = l.chunks[i].next {
		if c := &l.chunks[i]; c.contains(addr) {
			return i, c.indexOf(addr), true
		}
	}
	return -1, 0, false
}

// free gives back n units at addr. Only the most recent allocation of a chunk
// is reclaimed; anything else stays resident until Reset or Release.
func (l *chunkList[T]) free(addr uintptr, n int) {
	l.checkLive()
	ci, idx, ok := l.owner(addr)
	if !ok {
		return
	}
	if c := &l.chunks[ci]; c.isTail(idx, n) {
		c.retract(idx, l.drop)
	}
}

// moveOut gives back n units at idx of chunk ci after the first moved of them
// were copied elsewhere. The rest are destructed.
func (l *chunkList[T]) moveOut(ci, idx, n, moved int) {
	c := &l.chunks[ci]
	if l.drop != nil {
		c.destruct(idx+moved, idx+n, l.drop)
		c.vacate(idx, idx+n)
	}
	if c.isTail(idx, n) {
		c.retract(idx, l.drop)
	}
}

func (l *chunkList[T]) bytes(s []T, size int) []byte {
	return unsafex.BytesOf(s)[:size]
}

func (l *chunkList[T]) allocate(lay alloc.Layout) ([]byte, error) {
	if err := lay.Validate(); err != nil {
		return nil, err
	}
	l.checkLive()
	if lay.Size == 0 {
		return alloc.Empty(), nil
	}
	s, err := l.alloc(l.units(lay.Size), lay.Align)
	if err != nil {
		return nil, err
	}
	return l.bytes(s, lay.Size), nil
}

func (l *chunkList[T]) deallocate(b []byte, lay alloc.Layout) {
	if lay.Size == 0 {
		return
	}
	l.free(unsafex.Addr(b), l.units(lay.Size))
}

func (l *chunkList[T]) grow(b []byte, from, to alloc.Layout) ([]byte, error) {
	if err := alloc.CheckResize(from, to, true); err != nil {
		return nil, err
	}
	l.checkLive()
	if from.Size == 0 {
		return l.allocate(to)
	}
	addr := unsafex.Addr(b)
	fromN, toN := l.units(from.Size), l.units(to.Size)
	ci, idx, ok := l.owner(addr)
	if ok && to.IsAligned(addr) {
		c := &l.chunks[ci]
		if c.isTail(idx, fromN) && toN <= c.capacity()-idx {
			return l.bytes(c.take(idx, toN), to.Size), nil
		}
	}

	nb, err := l.allocate(to)
	if err != nil {
		return nil, err
	}
	copy(nb, b[:from.Size])
	if ok {
		l.moveOut(ci, idx, fromN, fromN)
	}
	return nb, nil
}

func (l *chunkList[T]) shrink(b []byte, from, to alloc.Layout) ([]byte, error) {
	if err := alloc.CheckResize(from, to, false); err != nil {
		return nil, err
	}
	l.checkLive()
	if to.Size == 0 {
		l.deallocate(b, from)
		return alloc.Empty(), nil
	}
	addr := unsafex.Addr(b)
	fromN, toN := l.units(from.Size), l.units(to.Size)
	ci, idx, ok := l.owner(addr)
	if to.IsAligned(addr) {
		if ok {
			if c := &l.chunks[ci]; c.isTail(idx, fromN) {
				c.retract(idx+toN, l.drop)
			}
		}
		return b[:to.Size], nil
	}

	nb, err := l.allocate(to)
	if err != nil {
		return nil, err
	}
	copy(nb, b[:to.Size])
	if ok {
		l.moveOut(ci, idx, fromN, toN)
	}
	return nb, nil
}

// reset destructs every resident value and rewinds all chunks.
func (l *chunkList[T]) reset() {
	l.checkLive()
	for i := l.head; i != -1; i = l.chunks[i].next {
		l.chunks[i].reset(l.drop)
	}
}

// release tears the arena down unless it is leaked.
func (l *chunkList[T]) release() {
	if l.leaked {
		return
	}
	l.teardown()
}

func (l *chunkList[T]) teardown() {
	if l.released {
		return
	}
	for i := l.head; i != -1; i = l.chunks[i].next {
		l.chunks[i].free(l.a, l.drop)
	}
	l.chunks = nil
	l.head, l.tail = -1, -1
	l.released = true
}

func (l *chunkList[T]) stats() Stats {
	s := Stats{UnitSize: l.unit()}
	for i := l.head; i != -1; i = l.chunks[i].next {
		c := &l.chunks[i]
		s.Chunks++
		s.Capacity += c.capacity()
		s.Used += c.used
	}
	if s.Capacity > 0 {
		s.Utilization = float64(s.Used) / float64(s.Capacity)
	}
	return s
}
