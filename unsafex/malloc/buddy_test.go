package malloc

import (
	"fmt"
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/memkit/unsafex"
)

func TestNewBuddyAllocator(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		min, max int
		ok       bool
	}{
		{"default_one_root", 512 * 1024, DefaultMinBlockSize, DefaultMaxBlockSize, true},
		{"default_eight_roots", 4 * 1024 * 1024, DefaultMinBlockSize, DefaultMaxBlockSize, true},
		{"default_too_small", 256 * 1024, DefaultMinBlockSize, DefaultMaxBlockSize, false},
		{"default_not_multiple", 768 * 1024, DefaultMinBlockSize, DefaultMaxBlockSize, false},
		{"custom", 64 * 1024, 1024, 64 * 1024, true},
		{"single_order", 4096, 4096, 4096, true},
		{"min_not_pow2", 64 * 1024, 1000, 64 * 1024, false},
		{"max_not_pow2", 64 * 1024, 1024, 60000, false},
		{"min_above_max", 64 * 1024, 8192, 4096, false},
		{"min_not_above_header", 64 * 1024, headerSize, 64 * 1024, false},
		{"empty_arena", 0, 1024, 64 * 1024, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewBuddyAllocatorWithBlockSize(make([]byte, tt.size), tt.min, tt.max)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, a.Cap())
			assert.Equal(t, tt.size/tt.max*(tt.max-headerSize), a.Available())
		})
	}
}

func TestBuddyAlloc(t *testing.T) {
	a, err := NewBuddyAllocatorWithBlockSize(make([]byte, 64*1024), 1024, 16*1024)
	require.NoError(t, err)

	tests := []struct {
		size, cap int
	}{
		{1, 1024 - headerSize},
		{1024 - headerSize, 1024 - headerSize},
		{1024 - headerSize + 1, 2048 - headerSize},
		{8000, 8192 - headerSize},
		{16*1024 - headerSize, 16*1024 - headerSize},
	}
	for _, tt := range tests {
		b := a.Alloc(tt.size)
		require.NotNil(t, b, "size=%d", tt.size)
		assert.Len(t, b, tt.size)
		assert.Equal(t, tt.cap, cap(b))
		a.Free(b)
	}

	assert.Nil(t, a.Alloc(0))
	assert.Nil(t, a.Alloc(-1))
	assert.Nil(t, a.Alloc(16*1024-headerSize+1))
}

func TestBuddySplitMerge(t *testing.T) {
	a := newTestBuddyAllocator(t, 512*1024)

	// the root is split down to one 8KB block; each order keeps a right half
	b := a.Alloc(1024)
	require.NotNil(t, b)
	assert.Equal(t, uintptr(a.base)+headerSize, unsafex.Addr(b))
	assert.Equal(t, 512*1024-8*1024-6*headerSize, a.Available())
	for o := 0; o < a.maxOrder; o++ {
		assert.Equal(t, offsets{a.blockSize(o)}, a.free[o], "order %d", o)
	}
	assert.Empty(t, a.free[a.maxOrder])

	a.Free(b)
	assert.True(t, a.dirty)

	// a root sized request merges everything back
	big := a.Alloc(DefaultMaxBlockSize - headerSize)
	require.NotNil(t, big)
	assert.Equal(t, uintptr(a.base)+headerSize, unsafex.Addr(big))
	assert.Zero(t, a.Available())
}

func TestBuddyExhaustion(t *testing.T) {
	a := newTestBuddyAllocator(t, 512*1024)

	var blocks [][]byte
	for b := a.Alloc(1024); b != nil; b = a.Alloc(1024) {
		blocks = append(blocks, b)
	}
	assert.Len(t, blocks, 64)
	assert.Nil(t, a.Alloc(1))

	for i, b := range blocks {
		for j := range blocks[:i] {
			require.False(t, overlap(blocks[j], b))
		}
	}
	for _, b := range blocks {
		a.Free(b)
	}
	require.NotNil(t, a.Alloc(DefaultMaxBlockSize/2))
}

func TestCoalesceUntil(t *testing.T) {
	tests := []struct {
		name   string
		order  int
		blocks []int
		target int
		want   int
	}{
		{"two_buddies", 0, []int{8192, 0}, 1, 1},
		{"four_blocks", 0, []int{0, 8192, 16384, 24576}, 2, 2},
		{"eight_blocks", 0, []int{57344, 0, 8192, 16384, 24576, 32768, 40960, 49152}, 3, 3},
		{"no_buddies", 0, []int{0, 16384, 32768, 49152}, 1, -1},
		{"single", 0, []int{16384}, 1, -1},
		{"across_roots", 0, []int{0, 512 * 1024}, 1, -1},
		{"partial", 0, []int{0, 8192, 32768}, 2, -1},
		{"already_available", 2, []int{0}, 2, 2},
		{"higher_available", 3, []int{0}, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestBuddyAllocator(t, 1024*1024)
			clearBuddyFreeLists(a)
			a.free[tt.order] = append(a.free[tt.order], tt.blocks...)
			assert.Equal(t, tt.want, a.CoalesceUntil(tt.target))
		})
	}
}

func TestBuddyCoalesceFails(t *testing.T) {
	a := newTestBuddyAllocator(t, 1024*1024)
	clearBuddyFreeLists(a)
	a.free[0] = append(a.free[0], 3*8192, 5*8192, 7*8192)
	a.dirty = true

	assert.Nil(t, a.Alloc(16384))
	assert.False(t, a.dirty)
	assert.Len(t, a.free[0], 3)
}

func TestBuddyFreeAt(t *testing.T) {
	a := newTestBuddyAllocator(t, 512*1024)

	assert.True(t, a.IsValidOffset(headerSize))
	assert.True(t, a.IsValidOffset(8192+headerSize))
	assert.False(t, a.IsValidOffset(0))
	assert.False(t, a.IsValidOffset(-100))
	assert.False(t, a.IsValidOffset(100))
	assert.False(t, a.IsValidOffset(8192+headerSize+1))
	assert.False(t, a.IsValidOffset(512*1024+headerSize))

	small, err := NewBuddyAllocatorWithBlockSize(make([]byte, 64*1024), 1024, 64*1024)
	require.NoError(t, err)
	assert.True(t, small.IsValidOffset(1024+headerSize))
	assert.False(t, small.IsValidOffset(512+headerSize))

	initial := a.Available()
	b := a.Alloc(20000)
	require.NotNil(t, b)
	off := int(unsafex.Addr(b) - uintptr(a.base))
	require.True(t, a.IsValidOffset(off))
	a.FreeAt(off)
	assert.Len(t, a.free[2], 2)
	assert.PanicsWithValue(t, "buddy: double free or invalid block", func() { a.FreeAt(off) })
	assert.PanicsWithValue(t, "buddy: offset out of range", func() { a.FreeAt(0) })
	assert.PanicsWithValue(t, "buddy: offset out of range", func() { a.FreeAt(512*1024 + headerSize) })

	require.NotNil(t, a.Alloc(DefaultMaxBlockSize-headerSize))
	a.Reset()
	assert.Equal(t, initial, a.Available())
}

func TestBuddyFreeInvalid(t *testing.T) {
	a := newTestBuddyAllocator(t, 512*1024)

	assert.NotPanics(t, func() { a.Free(nil) })
	assert.NotPanics(t, func() { a.Free([]byte{}) })
	assert.PanicsWithValue(t, "buddy: invalid block size", func() { a.Free(make([]byte, 1<<20)) })
	assert.PanicsWithValue(t, "buddy: block not in arena", func() { a.Free(make([]byte, 8192)) })

	b := a.Alloc(100)
	assert.PanicsWithValue(t, "buddy: corrupted size", func() { a.Free(b[:50:60]) })
	assert.NotPanics(t, func() { a.Free(b[:10]) })
	assert.PanicsWithValue(t, "buddy: double free or invalid block", func() { a.Free(b) })
}

func TestBuddyRandomAllocFree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := newTestBuddyAllocator(t, 4*1024*1024)
	initial := a.Available()

	sizes := []int{100, 512, 1024, 4096, 8192, 16384, 32768, 65536}
	var blocks [][]byte
	for i := 0; i < 100000; i++ {
		if len(blocks) == 0 || rng.Intn(3) != 0 {
			if b := a.Alloc(sizes[rng.Intn(len(sizes))]); b != nil {
				blocks = append(blocks, b)
			}
			continue
		}
		idx := rng.Intn(len(blocks))
		a.Free(blocks[idx])
		blocks[idx] = blocks[len(blocks)-1]
		blocks = blocks[:len(blocks)-1]
	}
	for _, b := range blocks {
		a.Free(b)
	}

	// every root can be rebuilt once all blocks are back
	for i := 0; i < a.Cap()/DefaultMaxBlockSize; i++ {
		require.NotNil(t, a.Alloc(DefaultMaxBlockSize-headerSize), "root %d", i)
	}
	assert.Zero(t, a.Available())
	a.Reset()
	assert.Equal(t, initial, a.Available())
}

func newTestBuddyAllocator(t *testing.T, size int) *BuddyAllocator {
	t.Helper()
	a, err := NewBuddyAllocator(make([]byte, size))
	require.NoError(t, err)
	return a
}

func clearBuddyFreeLists(a *BuddyAllocator) {
	for o := range a.free {
		a.free[o] = a.free[o][:0]
	}
}

func overlap(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	aStart := uintptr(unsafe.Pointer(&a[0]))
	bStart := uintptr(unsafe.Pointer(&b[0]))
	return aStart < bStart+uintptr(len(b)) && bStart < aStart+uintptr(len(a))
}

func sizeName(n int) string {
	if n >= 1024 && n%1024 == 0 {
		return fmt.Sprintf("%dKB", n/1024)
	}
	return fmt.Sprintf("%dB", n)
}

func BenchmarkBuddyAlloc(b *testing.B) {
	for _, sz := range []int{1024, 8192, 32768, 131072} {
		b.Run(sizeName(sz), func(b *testing.B) {
			b.ReportAllocs()
			a, _ := NewBuddyAllocator(make([]byte, 16*1024*1024))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if block := a.Alloc(sz); block != nil {
					a.Free(block)
				}
			}
		})
	}
}

func BenchmarkCoalescing(b *testing.B) {
	for _, n := range []int{2, 8, 32, 64} {
		b.Run(sizeName(n*DefaultMinBlockSize), func(b *testing.B) {
			b.ReportAllocs()
			a, _ := NewBuddyAllocator(make([]byte, 16*1024*1024))
			target := 0
			for 1<<target < n {
				target++
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				clearBuddyFreeLists(a)
				for j := 0; j < n; j++ {
					a.free[0].push(j * DefaultMinBlockSize)
				}
				a.CoalesceUntil(target)
			}
		})
	}
}
