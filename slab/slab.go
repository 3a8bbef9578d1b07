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

// Package slab implements a pool of same-typed slots addressed by stable
// integer indices.
//
// Removing a value puts its slot on a free list threaded through the unused
// slots; the next insert reuses the most recently freed slot. Slots live in
// fixed-size pages, so the address of a value never changes while it is in
// the slab.
//
// Plain indices may alias a newer occupant once their slot has been reused.
// Keys carry the slot generation as well and fail instead.
//
// A Slab is not safe for concurrent use.
package slab

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/cloudwego/memkit/alloc"
	"github.com/cloudwego/memkit/arena"
	"github.com/cloudwego/memkit/internal/region"
)

// DefaultPageSize is the default number of slots per page.
const DefaultPageSize = 64

// empty terminates the free list.
const empty = -1

// Options configures a Slab. A nil *Options selects DefaultOptions.
type Options struct {
	// PageSize is the number of slots per page, a power of two.
	PageSize int

	// Allocator provides page storage. Nil selects the Go heap, which is
	// required for pointer holding types.
	Allocator alloc.Allocator
}

// DefaultOptions returns options with DefaultPageSize slots per page on the
// Go heap.
func DefaultOptions() Options {
	return Options{PageSize: DefaultPageSize}
}

type slot[T any] struct {
	value    T
	next     int
	gen      uint32
	occupied bool
}

// Slab stores values of T in reusable slots.
type Slab[T any] struct {
	a     alloc.Allocator
	pages []region.Region[slot[T]]
	shift uint
	mask  int

	slots int // slots materialized so far
	free  int // head of the free list
	len   int

	drop     func(*T)
	released bool
}

// New creates an empty Slab. No page is allocated until the first insert.
func New[T any](o *Options) (*Slab[T], error) {
	opts := DefaultOptions()
	if o != nil {
		opts = *o
	}
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize < 0 || opts.PageSize&(opts.PageSize-1) != 0 {
		return nil, fmt.Errorf("%w: slab: page size must be a power of two, got %d",
			alloc.ErrInvalidRequest, opts.PageSize)
	}
	if opts.Allocator != nil && alloc.HasPointers[T]() {
		var zero T
		return nil, fmt.Errorf("%w: slab: %T holds pointers and needs the Go heap",
			alloc.ErrInvalidRequest, zero)
	}
	return &Slab[T]{
		a:     opts.Allocator,
		shift: uint(bits.TrailingZeros(uint(opts.PageSize))),
		mask:  opts.PageSize - 1,
		free:  empty,
		drop:  arena.DropFunc[T](),
	}, nil
}

// MustNew is like New but panics on error.
func MustNew[T any](o *Options) *Slab[T] {
	s, err := New[T](o)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Slab[T]) checkLive() {
	if s.released {
		panic("slab: use after Release")
	}
}

func (s *Slab[T]) slot(idx int) *slot[T] {
	return &s.pages[idx>>s.shift].Items[idx&s.mask]
}

// lookup returns the occupied slot at idx, or nil.
func (s *Slab[T]) lookup(idx int) *slot[T] {
	if idx < 0 || idx >= s.slots {
		return nil
	}
	if sl := s.slot(idx); sl.occupied {
		return sl
	}
	return nil
}

// Insert stores v and returns its index. The most recently freed slot is
// reused first; otherwise a new slot is appended.
func (s *Slab[T]) Insert(v T) (int, error) {
	s.checkLive()
	idx := s.free
	if idx == empty {
		if s.slots == len(s.pages)<<s.shift {
			if err := s.addPage(); err != nil {
				return 0, err
			}
		}
		idx = s.slots
		s.slots++
	} else {
		s.free = s.slot(idx).next
	}
	sl := s.slot(idx)
	sl.value = v
	sl.next = empty
	sl.occupied = true
	s.len++
	return idx, nil
}

// MustInsert is like Insert but panics on error.
func (s *Slab[T]) MustInsert(v T) int {
	idx, err := s.Insert(v)
	if err != nil {
		panic(err)
	}
	return idx
}

func (s *Slab[T]) addPage() error {
	page, err := region.Make[slot[T]](s.a, s.mask+1)
	if err != nil {
		return fmt.Errorf("slab: new page: %w", err)
	}
	if s.a != nil {
		clear(page.Items)
	}
	s.pages = append(s.pages, page)
	return nil
}

// Remove takes the value at idx out of the slab. Its destructor is not run:
// the caller owns the value. It reports false if idx is free or out of range.
func (s *Slab[T]) Remove(idx int) (T, bool) {
	s.checkLive()
	sl := s.lookup(idx)
	if sl == nil {
		var zero T
		return zero, false
	}
	return s.vacate(idx, sl), true
}

func (s *Slab[T]) vacate(idx int, sl *slot[T]) T {
	v := sl.value
	var zero T
	sl.value = zero
	sl.occupied = false
	sl.gen++
	sl.next = s.free
	s.free = idx
	s.len--
	return v
}

// Get returns the value at idx. A stale idx whose slot has been reused
// returns the new occupant.
func (s *Slab[T]) Get(idx int) (T, bool) {
	if sl := s.lookup(idx); sl != nil {
		return sl.value, true
	}
	var zero T
	return zero, false
}

// GetPtr returns the address of the value at idx, or nil. The address stays
// valid until the value is removed.
func (s *Slab[T]) GetPtr(idx int) *T {
	if sl := s.lookup(idx); sl != nil {
		return &sl.value
	}
	return nil
}

// Len returns the number of values in the slab.
func (s *Slab[T]) Len() int {
	return s.len
}

// Cap returns the number of slots created so far, occupied or free.
func (s *Slab[T]) Cap() int {
	return s.slots
}

// Each calls fn for every value in index order until fn returns false.
func (s *Slab[T]) Each(fn func(idx int, v *T) bool) {
	for idx := 0; idx < s.slots; idx++ {
		if sl := s.slot(idx); sl.occupied && !fn(idx, &sl.value) {
			return
		}
	}
}

// Release destructs every value still in the slab and gives page storage
// back. Any further use panics.
func (s *Slab[T]) Release() {
	if s.released {
		return
	}
	for idx := 0; idx < s.slots; idx++ {
		if sl := s.slot(idx); sl.occupied && s.drop != nil {
			s.drop(&sl.value)
		}
	}
	for i := range s.pages {
		s.pages[i].Free(s.a)
	}
	s.pages = nil
	s.slots, s.len, s.free = 0, 0, empty
	s.released = true
}

func (s *Slab[T]) valueSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}
