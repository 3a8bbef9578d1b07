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

// Package alloc defines the allocator capability shared by every allocator in
// this module, together with the Go heap allocators that back them by default.
//
// An Allocator hands out regions described by a Layout and takes them back.
// Any Allocator can back another one: a Dropless arena can draw its chunks from
// a slab, a slab its pages from a FixedAllocator, and so on.
//
// Heap and Pool may be shared between goroutines. Every other allocator in
// this module has a single owner that performs one operation at a time.
package alloc

import (
	"errors"
	"fmt"
)

var (
	// ErrAllocationFailure is returned when the backing memory is exhausted or
	// a size computation overflows.
	ErrAllocationFailure = errors.New("alloc: allocation failure")

	// ErrInvalidRequest is returned for requests an allocator can never serve,
	// such as a malformed layout or an unsupported alignment.
	ErrInvalidRequest = errors.New("alloc: invalid request")
)

// Allocator is the allocation capability.
//
// Allocate returns a region of at least l.Size bytes whose first byte satisfies
// l.Align. The memory is not zeroed. A zero-size request returns an empty,
// non-nil slice.
//
// Deallocate gives back a region previously returned with layout l.
// Allocators may ignore it; it never fails.
//
// Grow and Shrink resize a region. They may move it, in which case the first
// min(from.Size, to.Size) bytes are carried over. On error the original region
// is left untouched and still owned by the caller.
type Allocator interface {
	Allocate(l Layout) ([]byte, error)
	Deallocate(b []byte, l Layout)
	Grow(b []byte, from, to Layout) ([]byte, error)
	Shrink(b []byte, from, to Layout) ([]byte, error)
}

// empty is returned for zero-size requests.
var empty = make([]byte, 0)

// Empty returns the region handed out for zero-size requests.
func Empty() []byte {
	return empty[:0:0]
}

// Realloc moves b to a fresh region of layout to obtained from a, copying
// min(from.Size, to.Size) bytes, then deallocates b.
// If the new allocation fails, b is not freed.
func Realloc(a Allocator, b []byte, from, to Layout) ([]byte, error) {
	nb, err := a.Allocate(to)
	if err != nil {
		return nil, err
	}
	copy(nb[:min(from.Size, to.Size)], b)
	a.Deallocate(b, from)
	return nb, nil
}

// CheckResize validates the layouts of a Grow or Shrink call.
// grow selects which direction the size may move.
func CheckResize(from, to Layout, grow bool) error {
	if err := from.Validate(); err != nil {
		return err
	}
	if err := to.Validate(); err != nil {
		return err
	}
	if grow && to.Size < from.Size {
		return fmt.Errorf("%w: grow from %d to %d bytes", ErrInvalidRequest, from.Size, to.Size)
	}
	if !grow && to.Size > from.Size {
		return fmt.Errorf("%w: shrink from %d to %d bytes", ErrInvalidRequest, from.Size, to.Size)
	}
	return nil
}
