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
	"unsafe"

	"github.com/cloudwego/memkit/alloc"
	"github.com/cloudwego/memkit/unsafex"
)

// Dropper is implemented by values that release resources when they leave a
// Typed arena or a slab. Drop is called exactly once per resident value.
type Dropper interface {
	Drop()
}

// DropFunc returns the destructor used for values of T: Drop when *T
// implements Dropper, followed by zeroing the value when it holds pointers.
// It returns nil when leaving a value needs no work.
func DropFunc[T any]() func(*T) {
	_, dropper := any((*T)(nil)).(Dropper)
	pointers := alloc.HasPointers[T]()
	switch {
	case dropper && pointers:
		return func(p *T) {
			any(p).(Dropper).Drop()
			var zero T
			*p = zero
		}
	case dropper:
		return func(p *T) { any(p).(Dropper).Drop() }
	case pointers:
		return func(p *T) {
			var zero T
			*p = zero
		}
	}
	return nil
}

// Typed is an arena of values of type T. Values freed from the tail of a
// chunk, truncated by a shrink, or still resident at Reset or Release are
// destructed with Drop.
//
// Chunks of pointer holding types live on the typed Go heap so the collector
// can trace them.
type Typed[T any] struct {
	list chunkList[T]
}

var _ alloc.Allocator = (*Typed[uint64])(nil)

// NewTyped creates an empty Typed arena. No memory is reserved until the
// first allocation.
func NewTyped[T any](o *Options) (*Typed[T], error) {
	opts, err := o.resolve(DefaultTypedCapacity)
	if err != nil {
		return nil, err
	}
	var zero T
	if unsafe.Sizeof(zero) == 0 {
		return nil, fmt.Errorf("%w: arena: zero-sized type %T", alloc.ErrInvalidRequest, zero)
	}
	if opts.Allocator != nil && alloc.HasPointers[T]() {
		return nil, fmt.Errorf("%w: arena: %T holds pointers and needs the Go heap",
			alloc.ErrInvalidRequest, zero)
	}
	return &Typed[T]{list: newChunkList[T](opts, DropFunc[T]())}, nil
}

// MustNewTyped is like NewTyped but panics on error.
func MustNewTyped[T any](o *Options) *Typed[T] {
	t, err := NewTyped[T](o)
	if err != nil {
		panic(err)
	}
	return t
}

// Alloc moves v into the arena and returns its address, which stays valid
// until the value is freed or the arena is reset or released.
func (t *Typed[T]) Alloc(v T) (*T, error) {
	s, err := t.list.alloc(1, t.align())
	if err != nil {
		return nil, err
	}
	s[0] = v
	return &s[0], nil
}

// MustAlloc is like Alloc but panics on error.
func (t *Typed[T]) MustAlloc(v T) *T {
	p, err := t.Alloc(v)
	if err != nil {
		panic(err)
	}
	return p
}

// AllocSlice copies src into contiguous arena storage.
func (t *Typed[T]) AllocSlice(src []T) ([]T, error) {
	s, err := t.list.alloc(len(src), t.align())
	if err != nil {
		return nil, err
	}
	copy(s, src)
	return s, nil
}

// MustAllocSlice is like AllocSlice but panics on error.
func (t *Typed[T]) MustAllocSlice(src []T) []T {
	s, err := t.AllocSlice(src)
	if err != nil {
		panic(err)
	}
	return s
}

// Free destructs *p and reclaims its slot if it is the most recent allocation
// of its chunk. Otherwise it does nothing and the value is destructed at
// Reset or Release.
func (t *Typed[T]) Free(p *T) {
	if p == nil {
		return
	}
	t.list.free(uintptr(unsafe.Pointer(p)), 1)
}

// FreeSlice is Free for a slice returned by AllocSlice.
func (t *Typed[T]) FreeSlice(s []T) {
	if len(s) == 0 {
		return
	}
	t.list.free(uintptr(unsafe.Pointer(unsafe.SliceData(s))), len(s))
}

// Reset destructs every value and keeps the chunks for reuse.
// Pointers handed out before are invalid afterwards.
func (t *Typed[T]) Reset() {
	t.list.reset()
}

// Release destructs every value and gives chunk storage back.
// It is ignored while the arena is leaked. Any further use panics.
func (t *Typed[T]) Release() {
	t.list.release()
}

// Stats returns a usage snapshot.
func (t *Typed[T]) Stats() Stats {
	return t.list.stats()
}

func (t *Typed[T]) align() int {
	var zero T
	return int(unsafe.Alignof(zero))
}

// checkLayout accepts layouts for a pointer-free T aligned at most like T.
func (t *Typed[T]) checkLayout(l alloc.Layout) error {
	var zero T
	if alloc.HasPointers[T]() {
		return fmt.Errorf("%w: arena: %T holds pointers", alloc.ErrInvalidRequest, zero)
	}
	if l.Align > t.align() {
		return fmt.Errorf("%w: arena: layout %s is aligned beyond %T",
			alloc.ErrInvalidRequest, l, zero)
	}
	return nil
}

// Allocate implements alloc.Allocator for pointer-free T. The size is rounded
// up to whole values of T and Align must not exceed the alignment of T.
func (t *Typed[T]) Allocate(l alloc.Layout) ([]byte, error) {
	if err := t.checkLayout(l); err != nil {
		return nil, err
	}
	return t.list.allocate(l)
}

// Deallocate implements alloc.Allocator.
func (t *Typed[T]) Deallocate(b []byte, l alloc.Layout) {
	if t.checkLayout(l) != nil {
		return
	}
	t.list.deallocate(b, l)
}

// Grow implements alloc.Allocator.
func (t *Typed[T]) Grow(b []byte, from, to alloc.Layout) ([]byte, error) {
	if err := t.checkLayout(to); err != nil {
		return nil, err
	}
	return t.list.grow(b, from, to)
}

// Shrink implements alloc.Allocator. Values cut off are destructed.
func (t *Typed[T]) Shrink(b []byte, from, to alloc.Layout) ([]byte, error) {
	if err := t.checkLayout(to); err != nil {
		return nil, err
	}
	return t.list.shrink(b, from, to)
}

// Values reinterprets a region returned by the allocator methods as the
// whole values it covers. A trailing partial value is not included.
func (t *Typed[T]) Values(b []byte) []T {
	return unsafex.SliceOf[T](b, len(b)/t.list.unit())
}
