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

// Package region acquires typed storage from an alloc.Allocator.
package region

import (
	"fmt"

	"github.com/cloudwego/memkit/alloc"
	"github.com/cloudwego/memkit/unsafex"
)

// Region is a []E whose memory was obtained from an allocator, remembering
// the exact layout so it can be given back.
type Region[E any] struct {
	Items []E

	raw    []byte
	layout alloc.Layout
}

// Make acquires storage for n values of E.
//
// A nil allocator places the storage on the typed Go heap, which is the only
// option for element types holding Go pointers. Any other allocator must hand
// out memory for pointer-free E.
func Make[E any](a alloc.Allocator, n int) (Region[E], error) {
	l, err := alloc.ArrayLayout[E](n)
	if err != nil {
		return Region[E]{}, err
	}
	if a == nil {
		return Region[E]{Items: make([]E, n), layout: l}, nil
	}
	if alloc.HasPointers[E]() {
		return Region[E]{}, fmt.Errorf("%w: %T holds pointers and cannot live in allocator memory",
			alloc.ErrInvalidRequest, *new(E))
	}
	raw, err := a.Allocate(l)
	if err != nil {
		return Region[E]{}, err
	}
	if len(raw) < l.Size || !l.IsAligned(unsafex.Addr(raw)) {
		a.Deallocate(raw, l)
		return Region[E]{}, fmt.Errorf("%w: allocator returned %d bytes at %#x for %s",
			alloc.ErrAllocationFailure, len(raw), unsafex.Addr(raw), l)
	}
	return Region[E]{Items: unsafex.SliceOf[E](raw, n), raw: raw, layout: l}, nil
}

// Layout returns the layout the storage was acquired with.
func (r *Region[E]) Layout() alloc.Layout {
	return r.layout
}

// Bytes returns the storage as bytes.
func (r *Region[E]) Bytes() []byte {
	if r.raw != nil {
		return r.raw[:r.layout.Size]
	}
	return unsafex.BytesOf(r.Items)
}

// Free gives the storage back to a, which must be the allocator passed to Make.
// Storage on the Go heap is simply dropped.
func (r *Region[E]) Free(a alloc.Allocator) {
	if r.raw != nil && a != nil {
		a.Deallocate(r.raw, r.layout)
	}
	*r = Region[E]{}
}
