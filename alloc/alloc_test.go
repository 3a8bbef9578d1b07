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
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/memkit/unsafex"
)

func TestLayoutValidate(t *testing.T) {
	tests := []struct {
		name    string
		l       Layout
		wantErr error
	}{
		{"ok", Layout{Size: 16, Align: 8}, nil},
		{"zero_size", Layout{Size: 0, Align: 1}, nil},
		{"negative_size", Layout{Size: -1, Align: 1}, ErrInvalidRequest},
		{"zero_align", Layout{Size: 8, Align: 0}, ErrInvalidRequest},
		{"align_not_pow2", Layout{Size: 8, Align: 12}, ErrInvalidRequest},
		{"overflow", Layout{Size: math.MaxInt, Align: 8}, ErrAllocationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.l.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	_, err := NewLayout(3, 3)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	l, err := NewLayout(3, 4)
	require.NoError(t, err)
	assert.Equal(t, Layout{Size: 3, Align: 4}, l)
}

func TestLayoutOf(t *testing.T) {
	assert.Equal(t, Layout{Size: 8, Align: 8}, LayoutOf[uint64]())
	assert.Equal(t, Layout{Size: 1, Align: 1}, LayoutOf[byte]())

	l, err := ArrayLayout[uint32](10)
	require.NoError(t, err)
	assert.Equal(t, Layout{Size: 40, Align: 4}, l)

	_, err = ArrayLayout[uint64](math.MaxInt / 4)
	assert.ErrorIs(t, err, ErrAllocationFailure)
	_, err = ArrayLayout[uint64](-1)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHeapAllocate(t *testing.T) {
	for _, a := range []Allocator{Heap, Pool} {
		for _, align := range []int{1, 2, 8, 16, 64, 4096} {
			for _, size := range []int{1, 3, 7, 100, 5000} {
				l := Layout{Size: size, Align: align}
				b, err := a.Allocate(l)
				require.NoError(t, err)
				assert.Len(t, b, size)
				assert.True(t, l.IsAligned(unsafex.Addr(b)), "size=%d align=%d", size, align)
				a.Deallocate(b, l)
			}
		}
		b, err := a.Allocate(Layout{Size: 0, Align: 8})
		require.NoError(t, err)
		assert.NotNil(t, b)
		assert.Empty(t, b)
		a.Deallocate(b, Layout{Size: 0, Align: 8})

		_, err = a.Allocate(Layout{Size: 1, Align: 3})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
}

func TestHeapGrowShrink(t *testing.T) {
	for _, a := range []Allocator{Heap, Pool} {
		from := Layout{Size: 10, Align: 1}
		b, err := a.Allocate(from)
		require.NoError(t, err)
		copy(b, "0123456789")

		to := Layout{Size: 100, Align: 1}
		g, err := a.Grow(b, from, to)
		require.NoError(t, err)
		assert.Len(t, g, 100)
		assert.Equal(t, "0123456789", string(g[:10]))

		s, err := a.Shrink(g, to, Layout{Size: 4, Align: 1})
		require.NoError(t, err)
		assert.Equal(t, "0123", string(s))

		_, err = a.Grow(s, Layout{Size: 4, Align: 1}, Layout{Size: 2, Align: 1})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		_, err = a.Shrink(s, Layout{Size: 4, Align: 1}, Layout{Size: 8, Align: 1})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
}

func TestPoolReuse(t *testing.T) {
	l := Layout{Size: 1024, Align: 8}
	b, err := Pool.Allocate(l)
	require.NoError(t, err)
	assert.Equal(t, 1024, cap(b))
	assert.NotPanics(t, func() { Pool.Deallocate(b, l) })
	assert.NotPanics(t, func() { Pool.Deallocate(nil, l) })
	assert.NotPanics(t, func() { Pool.Deallocate(make([]byte, 10, 24), Layout{Size: 10, Align: 1}) })
}

// freeCounter records regions given back to the wrapped allocator.
type freeCounter struct {
	Allocator
	freed []int
}

func (f *freeCounter) Deallocate(b []byte, l Layout) {
	f.freed = append(f.freed, cap(b))
	f.Allocator.Deallocate(b, l)
}

func TestShrinkToZeroFrees(t *testing.T) {
	for _, a := range []Allocator{Heap, Pool} {
		b, err := a.Allocate(Layout{Size: 16, Align: 1})
		require.NoError(t, err)
		s, err := a.Shrink(b, Layout{Size: 16, Align: 1}, Layout{Size: 0, Align: 1})
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.Equal(t, 0, cap(s))
	}

	fc := &freeCounter{Allocator: Pool}
	b, err := fc.Allocate(Layout{Size: 64, Align: 1})
	require.NoError(t, err)
	s, err := shrinkWith(fc, b, Layout{Size: 64, Align: 1}, Layout{Size: 0, Align: 1})
	require.NoError(t, err)
	assert.Len(t, s, 0)
	assert.Equal(t, []int{64}, fc.freed)
}

type failing struct{}

func (failing) Allocate(Layout) ([]byte, error) { return nil, ErrAllocationFailure }
func (failing) Deallocate([]byte, Layout)       { panic("must not free") }
func (failing) Grow([]byte, Layout, Layout) ([]byte, error) {
	return nil, ErrAllocationFailure
}
func (failing) Shrink([]byte, Layout, Layout) ([]byte, error) {
	return nil, ErrAllocationFailure
}

func TestRealloc(t *testing.T) {
	tr := NewTracking(nil)
	from := Layout{Size: 4, Align: 1}
	b, err := tr.Allocate(from)
	require.NoError(t, err)
	copy(b, "abcd")

	nb, err := Realloc(tr, b, from, Layout{Size: 8, Align: 1})
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(nb[:4]))
	assert.Equal(t, 1, tr.Live())
	assert.Equal(t, 1, tr.Frees())

	nb, err = Realloc(tr, nb, Layout{Size: 8, Align: 1}, Layout{Size: 2, Align: 1})
	require.NoError(t, err)
	assert.Equal(t, "ab", string(nb))

	// a failing allocation never frees the original
	keep := []byte("data")
	_, err = Realloc(failing{}, keep, from, Layout{Size: 16, Align: 1})
	assert.True(t, errors.Is(err, ErrAllocationFailure))
	assert.Equal(t, "data", string(keep))
}

func TestTracking(t *testing.T) {
	tr := NewTracking(Pool)
	tr.Limit = 64

	l := Layout{Size: 32, Align: 8}
	b1, err := tr.Allocate(l)
	require.NoError(t, err)
	b2, err := tr.Allocate(l)
	require.NoError(t, err)
	assert.Equal(t, 64, tr.InUse())

	_, err = tr.Allocate(Layout{Size: 1, Align: 1})
	assert.ErrorIs(t, err, ErrAllocationFailure)

	tr.Deallocate(b1, l)
	tr.Deallocate(b2, Layout{Size: 16, Align: 8})
	assert.Equal(t, 0, tr.Live())
	assert.Equal(t, 1, tr.Mismatches())
	assert.Equal(t, 2, tr.Frees())

	tr.Deallocate(make([]byte, 8), Layout{Size: 8, Align: 1})
	assert.Equal(t, 1, tr.Unknown())
	assert.Equal(t, 2, tr.Allocs())
}

func TestHasPointers(t *testing.T) {
	type plain struct {
		a int
		b [4]float64
	}
	type withString struct {
		n int
		s string
	}
	assert.False(t, HasPointers[int]())
	assert.False(t, HasPointers[plain]())
	assert.False(t, HasPointers[[0]*int]())
	assert.True(t, HasPointers[*int]())
	assert.True(t, HasPointers[string]())
	assert.True(t, HasPointers[[]byte]())
	assert.True(t, HasPointers[withString]())
	assert.True(t, HasPointers[[2]withString]())
	assert.True(t, HasPointers[any]())
	assert.True(t, HasPointers[map[int]int]())
}
