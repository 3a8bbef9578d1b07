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

package alloc

import (
	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/cloudwego/memkit/unsafex"
)

var (
	// Heap allocates uninitialized memory from the garbage-collected heap.
	// Deallocate only drops the reference and the collector reclaims the memory.
	Heap Allocator = heapAllocator{}

	// Pool allocates from power-of-two size classes recycled through sync.Pool.
	// Regions given back with Deallocate are reused by later allocations.
	Pool Allocator = poolAllocator{}
)

type heapAllocator struct{}

func (heapAllocator) Allocate(l Layout) ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if l.Size == 0 {
		return Empty(), nil
	}
	return alignedBytes(l, func(n int) []byte { return dirtmake.Bytes(n, n) }), nil
}

func (heapAllocator) Deallocate(b []byte, l Layout) {}

func (h heapAllocator) Grow(b []byte, from, to Layout) ([]byte, error) {
	return growWith(h, b, from, to)
}

func (h heapAllocator) Shrink(b []byte, from, to Layout) ([]byte, error) {
	return shrinkWith(h, b, from, to)
}

type poolAllocator struct{}

func (poolAllocator) Allocate(l Layout) ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if l.Size == 0 {
		return Empty(), nil
	}
	return alignedBytes(l, func(n int) []byte { return mcache.Malloc(n) }), nil
}

// Deallocate returns b to its size class. Regions whose capacity is not a
// power of two, such as padded over-aligned ones, are left to the collector.
func (poolAllocator) Deallocate(b []byte, l Layout) {
	if c := cap(b); c == 0 || c&(c-1) != 0 {
		return
	}
	mcache.Free(b)
}

func (p poolAllocator) Grow(b []byte, from, to Layout) ([]byte, error) {
	return growWith(p, b, from, to)
}

func (p poolAllocator) Shrink(b []byte, from, to Layout) ([]byte, error) {
	return shrinkWith(p, b, from, to)
}

// growWith extends b in place when it can, otherwise moves it within a.
func growWith(a Allocator, b []byte, from, to Layout) ([]byte, error) {
	if err := CheckResize(from, to, true); err != nil {
		return nil, err
	}
	if nb, ok := resizeInPlace(b, to); ok {
		return nb, nil
	}
	return Realloc(a, b, from, to)
}

// shrinkWith truncates b in place when it can. Shrinking to zero bytes gives
// b back to a.
func shrinkWith(a Allocator, b []byte, from, to Layout) ([]byte, error) {
	if err := CheckResize(from, to, false); err != nil {
		return nil, err
	}
	if to.Size == 0 {
		a.Deallocate(b, from)
		return Empty(), nil
	}
	if nb, ok := resizeInPlace(b, to); ok {
		return nb, nil
	}
	return Realloc(a, b, from, to)
}

// alignedBytes returns l.Size bytes from mk aligned to l.Align.
// The heap only aligns small objects to their size class, so a misaligned
// buffer is replaced by a padded one.
func alignedBytes(l Layout, mk func(n int) []byte) []byte {
	b := mk(l.Size)
	if l.IsAligned(unsafex.Addr(b)) {
		return b[:l.Size]
	}
	b = mk(l.Size + l.Align - 1)
	addr := unsafex.Addr(b)
	off := int(alignUp(addr, uintptr(l.Align)) - addr)
	return b[off : off+l.Size]
}

// resizeInPlace reslices b to the new size when its capacity and address allow it.
func resizeInPlace(b []byte, to Layout) ([]byte, bool) {
	if to.Size > cap(b) || !to.IsAligned(unsafex.Addr(b)) {
		return nil, false
	}
	return b[:to.Size], true
}
