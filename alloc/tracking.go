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
	"fmt"

	"github.com/cloudwego/memkit/unsafex"
)

// Tracking wraps an Allocator and keeps a record of every live region.
// It is meant for tests and debugging: it verifies that regions come back with
// the layout they were acquired with, and Limit simulates exhaustion.
type Tracking struct {
	backing Allocator

	// Limit caps the number of live bytes. Zero means unlimited.
	Limit int

	live       map[uintptr]Layout
	inUse      int
	allocs     int
	frees      int
	mismatches int
	unknown    int
}

// NewTracking wraps a. A nil a wraps Heap.
func NewTracking(a Allocator) *Tracking {
	if a == nil {
		a = Heap
	}
	return &Tracking{backing: a, live: make(map[uintptr]Layout)}
}

func (t *Tracking) Allocate(l Layout) ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if t.Limit > 0 && t.inUse+l.Size > t.Limit {
		return nil, fmt.Errorf("%w: limit %d bytes, %d in use, %d requested",
			ErrAllocationFailure, t.Limit, t.inUse, l.Size)
	}
	b, err := t.backing.Allocate(l)
	if err != nil {
		return nil, err
	}
	t.allocs++
	t.record(b, l)
	return b, nil
}

func (t *Tracking) Deallocate(b []byte, l Layout) {
	if l.Size == 0 {
		return
	}
	if !t.forget(b, l) {
		return
	}
	t.frees++
	t.backing.Deallocate(b, l)
}

func (t *Tracking) Grow(b []byte, from, to Layout) ([]byte, error) {
	if t.Limit > 0 && t.inUse+to.Size-from.Size > t.Limit {
		return nil, fmt.Errorf("%w: limit %d bytes, %d in use, grow by %d",
			ErrAllocationFailure, t.Limit, t.inUse, to.Size-from.Size)
	}
	return t.resize(b, from, to, t.backing.Grow)
}

func (t *Tracking) Shrink(b []byte, from, to Layout) ([]byte, error) {
	return t.resize(b, from, to, t.backing.Shrink)
}

func (t *Tracking) resize(b []byte, from, to Layout,
	fn func([]byte, Layout, Layout) ([]byte, error),
) ([]byte, error) {
	nb, err := fn(b, from, to)
	if err != nil {
		return nil, err
	}
	if from.Size > 0 {
		t.forget(b, from)
	}
	t.record(nb, to)
	return nb, nil
}

func (t *Tracking) record(b []byte, l Layout) {
	if l.Size == 0 {
		return
	}
	t.live[unsafex.Addr(b)] = l
	t.inUse += l.Size
}

func (t *Tracking) forget(b []byte, l Layout) bool {
	addr := unsafex.Addr(b)
	got, ok := t.live[addr]
	if !ok {
		t.unknown++
		return false
	}
	if got != l {
		t.mismatches++
	}
	delete(t.live, addr)
	t.inUse -= got.Size
	return true
}

// Live returns the number of regions handed out and not yet given back.
func (t *Tracking) Live() int { return len(t.live) }

// InUse returns the number of live bytes.
func (t *Tracking) InUse() int { return t.inUse }

// Allocs returns the number of successful Allocate calls.
func (t *Tracking) Allocs() int { return t.allocs }

// Frees returns the number of Deallocate calls for known regions.
func (t *Tracking) Frees() int { return t.frees }

// Mismatches returns how many regions were given back with a layout that
// differs from the one they were acquired with.
func (t *Tracking) Mismatches() int { return t.mismatches }

// Unknown returns how many deallocated or resized regions were not handed out by t.
func (t *Tracking) Unknown() int { return t.unknown }
