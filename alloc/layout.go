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
	"math"
	"unsafe"
)

// Layout describes a requested memory region: Size bytes aligned to Align.
// Align is always a power of two.
type Layout struct {
	Size  int
	Align int
}

// NewLayout returns a validated Layout.
func NewLayout(size, align int) (Layout, error) {
	l := Layout{Size: size, Align: align}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// LayoutOf returns the Layout of a single value of type T.
func LayoutOf[T any]() Layout {
	var zero T
	return Layout{Size: int(unsafe.Sizeof(zero)), Align: int(unsafe.Alignof(zero))}
}

// ArrayLayout returns the Layout of n consecutive values of type T.
// It fails with ErrAllocationFailure if the byte size overflows.
func ArrayLayout[T any](n int) (Layout, error) {
	if n < 0 {
		return Layout{}, fmt.Errorf("%w: negative length %d", ErrInvalidRequest, n)
	}
	l := LayoutOf[T]()
	if l.Size != 0 && n > math.MaxInt/l.Size {
		return Layout{}, fmt.Errorf("%w: %d elements of %d bytes overflows", ErrAllocationFailure, n, l.Size)
	}
	l.Size *= n
	return l, nil
}

// Validate checks that the size is non-negative, the alignment is a power of two
// and that rounding the size up to the alignment does not overflow.
func (l Layout) Validate() error {
	if l.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidRequest, l.Size)
	}
	if l.Align <= 0 || l.Align&(l.Align-1) != 0 {
		return fmt.Errorf("%w: alignment must be a power of two, got %d", ErrInvalidRequest, l.Align)
	}
	if l.Size > math.MaxInt-(l.Align-1) {
		return fmt.Errorf("%w: size %d overflows when aligned to %d", ErrAllocationFailure, l.Size, l.Align)
	}
	return nil
}

// IsAligned reports whether addr satisfies the layout's alignment.
func (l Layout) IsAligned(addr uintptr) bool {
	return addr&uintptr(l.Align-1) == 0
}

func (l Layout) String() string {
	return fmt.Sprintf("{size=%d align=%d}", l.Size, l.Align)
}

// alignUp rounds off up to the next multiple of align (a power of two).
func alignUp(off, align uintptr) uintptr {
	return (off + align - 1) &^ (align - 1)
}
