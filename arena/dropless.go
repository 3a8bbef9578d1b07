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

	"github.com/cloudwego/memkit/alloc"
	"github.com/cloudwego/memkit/unsafex"
)

// Dropless is a byte arena that never runs destructors. It serves strings,
// byte buffers and slices of pointer-free values.
type Dropless struct {
	list chunkList[byte]
}

var _ alloc.Allocator = (*Dropless)(nil)

// NewDropless creates an empty Dropless arena. A nil Options.Allocator
// selects alloc.Heap.
func NewDropless(o *Options) (*Dropless, error) {
	opts, err := o.resolve(DefaultDroplessCapacity)
	if err != nil {
		return nil, err
	}
	if opts.Allocator == nil {
		opts.Allocator = alloc.Heap
	}
	return &Dropless{list: newChunkList[byte](opts, nil)}, nil
}

// MustNewDropless is like NewDropless but panics on error.
func MustNewDropless(o *Options) *Dropless {
	d, err := NewDropless(o)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Dropless) Allocate(l alloc.Layout) ([]byte, error) {
	return d.list.allocate(l)
}

// Deallocate reclaims b only if it is the most recent allocation of its chunk.
func (d *Dropless) Deallocate(b []byte, l alloc.Layout) {
	d.list.deallocate(b, l)
}

func (d *Dropless) Grow(b []byte, from, to alloc.Layout) ([]byte, error) {
	return d.list.grow(b, from, to)
}

func (d *Dropless) Shrink(b []byte, from, to alloc.Layout) ([]byte, error) {
	return d.list.shrink(b, from, to)
}

// AllocBytes copies src into the arena.
func (d *Dropless) AllocBytes(src []byte) ([]byte, error) {
	b, err := d.list.allocate(alloc.Layout{Size: len(src), Align: 1})
	if err != nil {
		return nil, err
	}
	copy(b, src)
	return b, nil
}

// MustAllocBytes is like AllocBytes but panics on error.
func (d *Dropless) MustAllocBytes(src []byte) []byte {
	b, err := d.AllocBytes(src)
	if err != nil {
		panic(err)
	}
	return b
}

// AllocString copies s into the arena and returns a string sharing the arena
// memory. It must not be used after Reset or Release.
func (d *Dropless) AllocString(s string) (string, error) {
	b, err := d.AllocBytes(unsafex.StringToBinary(s))
	if err != nil {
		return "", err
	}
	return unsafex.BinaryToString(b), nil
}

// MustAllocString is like AllocString but panics on error.
func (d *Dropless) MustAllocString(s string) string {
	r, err := d.AllocString(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Reset forgets every allocation and keeps the chunks for reuse.
func (d *Dropless) Reset() {
	d.list.reset()
}

// Release gives chunk storage back. It is ignored while the arena is leaked.
// Any further use panics.
func (d *Dropless) Release() {
	d.list.release()
}

// Stats returns a usage snapshot.
func (d *Dropless) Stats() Stats {
	return d.list.stats()
}

// Alloc copies v into d and returns its address. T must not hold pointers.
func Alloc[T any](d *Dropless, v T) (*T, error) {
	s, err := AllocSlice(d, []T{v})
	if err != nil {
		return nil, err
	}
	return &s[0], nil
}

// MustAlloc is like Alloc but panics on error.
func MustAlloc[T any](d *Dropless, v T) *T {
	p, err := Alloc(d, v)
	if err != nil {
		panic(err)
	}
	return p
}

// AllocSlice copies src into d. T must not hold pointers.
func AllocSlice[T any](d *Dropless, src []T) ([]T, error) {
	if alloc.HasPointers[T]() {
		var zero T
		return nil, fmt.Errorf("%w: arena: %T holds pointers and cannot live in a Dropless arena",
			alloc.ErrInvalidRequest, zero)
	}
	l, err := alloc.ArrayLayout[T](len(src))
	if err != nil {
		return nil, err
	}
	b, err := d.list.allocate(l)
	if err != nil {
		return nil, err
	}
	s := unsafex.SliceOf[T](b, len(src))
	copy(s, src)
	return s, nil
}

// MustAllocSlice is like AllocSlice but panics on error.
func MustAllocSlice[T any](d *Dropless, src []T) []T {
	s, err := AllocSlice(d, src)
	if err != nil {
		panic(err)
	}
	return s
}
