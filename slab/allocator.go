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

package slab

import (
	"fmt"
	"unsafe"

	"github.com/cloudwego/memkit/alloc"
	"github.com/cloudwego/memkit/unsafex"
)

var _ alloc.Allocator = (*Slab[uint64])(nil)

// checkLayout accepts layouts that fit in one value of a pointer-free T.
func (s *Slab[T]) checkLayout(l alloc.Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	var zero T
	if alloc.HasPointers[T]() {
		return fmt.Errorf("%w: slab: %T holds pointers", alloc.ErrInvalidRequest, zero)
	}
	if l.Size > s.valueSize() || l.Align > int(unsafe.Alignof(zero)) {
		return fmt.Errorf("%w: slab: layout %s does not fit a slot of %T", alloc.ErrInvalidRequest, l, zero)
	}
	return nil
}

// Allocate implements alloc.Allocator for pointer-free T: each region is one
// slot, so the layout must fit in a value of T.
func (s *Slab[T]) Allocate(l alloc.Layout) ([]byte, error) {
	if err := s.checkLayout(l); err != nil {
		return nil, err
	}
	if l.Size == 0 {
		return alloc.Empty(), nil
	}
	var zero T
	idx, err := s.Insert(zero)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s.slot(idx).value)), s.valueSize())[:l.Size], nil
}

// Deallocate implements alloc.Allocator. The slot goes back on the free list
// without running a destructor.
func (s *Slab[T]) Deallocate(b []byte, l alloc.Layout) {
	if l.Size == 0 {
		return
	}
	if idx, ok := s.indexOf(unsafex.Addr(b)); ok {
		s.Remove(idx)
	}
}

// Grow implements alloc.Allocator. A region grows in place up to the size of
// T, the capacity of every slot region.
func (s *Slab[T]) Grow(b []byte, from, to alloc.Layout) ([]byte, error) {
	if err := alloc.CheckResize(from, to, true); err != nil {
		return nil, err
	}
	if err := s.checkLayout(to); err != nil {
		return nil, err
	}
	if from.Size == 0 {
		return s.Allocate(to)
	}
	return b[:to.Size], nil
}

// Shrink implements alloc.Allocator. The slot is truncated in place.
func (s *Slab[T]) Shrink(b []byte, from, to alloc.Layout) ([]byte, error) {
	if err := alloc.CheckResize(from, to, false); err != nil {
		return nil, err
	}
	if err := s.checkLayout(to); err != nil {
		return nil, err
	}
	if to.Size == 0 {
		s.Deallocate(b, from)
		return alloc.Empty(), nil
	}
	return b[:to.Size], nil
}

// indexOf maps the address of a slot value back to its index.
func (s *Slab[T]) indexOf(addr uintptr) (int, bool) {
	slotSize := unsafe.Sizeof(slot[T]{})
	for p := range s.pages {
		items := s.pages[p].Items
		base := uintptr(unsafe.Pointer(unsafe.SliceData(items)))
		if addr < base || addr >= base+uintptr(len(items))*slotSize {
			continue
		}
		off := addr - base
		if off%slotSize != 0 {
			return 0, false
		}
		return p<<s.shift + int(off/slotSize), true
	}
	return 0, false
}
