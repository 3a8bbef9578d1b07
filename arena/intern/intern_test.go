// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package intern

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/memkit/alloc"
	"github.com/cloudwego/memkit/arena"
)

func TestIntern(t *testing.T) {
	in := MustNew(nil)
	defer in.Release()

	a := in.MustIntern("fn")
	b := in.MustIntern("let")
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, a, in.MustIntern("fn"))
	assert.Equal(t, 2, in.Len())

	id, ok := in.ID("let")
	require.True(t, ok)
	assert.Equal(t, b, id)
	_, ok = in.ID("mut")
	assert.False(t, ok)

	s, ok := in.Lookup(a)
	require.True(t, ok)
	assert.Equal(t, "fn", s)
	_, ok = in.Lookup(2)
	assert.False(t, ok)
	_, ok = in.Lookup(-1)
	assert.False(t, ok)

	assert.Equal(t, 2, in.MustIntern(""))
	assert.Equal(t, 2, in.MustIntern(""))
}

func TestInternMany(t *testing.T) {
	in := MustNew(&arena.Options{ChunkCapacity: 256})
	defer in.Release()

	const n = 5000
	for i := 0; i < n; i++ {
		require.Equal(t, i, in.MustIntern("ident_"+strconv.Itoa(i)))
	}
	for i := n - 1; i >= 0; i-- {
		key := "ident_" + strconv.Itoa(i)
		id, ok := in.ID(key)
		require.True(t, ok, key)
		assert.Equal(t, i, id)
		s, _ := in.Lookup(i)
		assert.Equal(t, key, s)
	}
	assert.Equal(t, n, in.Len())
	assert.Greater(t, in.Stats().Chunks, 1)
}

func TestInternCopies(t *testing.T) {
	in := MustNew(nil)
	defer in.Release()

	buf := []byte("mutable")
	id := in.MustIntern(string(buf))
	buf[0] = 'M'
	s, _ := in.Lookup(id)
	assert.Equal(t, "mutable", s)
}

func TestInternFailure(t *testing.T) {
	tr := alloc.NewTracking(nil)
	tr.Limit = 16
	in := MustNew(&arena.Options{ChunkCapacity: 16, Allocator: tr})

	_, err := in.Intern("0123456789abcdef")
	require.NoError(t, err)
	_, err = in.Intern("does not fit anymore")
	assert.ErrorIs(t, err, alloc.ErrAllocationFailure)
	assert.Equal(t, 1, in.Len())

	in.Release()
	assert.Equal(t, 0, tr.Live())
}

func TestUseAfterRelease(t *testing.T) {
	in := MustNew(nil)
	id := in.MustIntern("x")
	in.Release()

	assert.PanicsWithValue(t, "intern: use after Release", func() { in.Intern("x") })
	assert.PanicsWithValue(t, "intern: use after Release", func() { in.ID("x") })
	assert.PanicsWithValue(t, "intern: use after Release", func() { in.MustIntern("y") })
	_, ok := in.Lookup(id)
	assert.False(t, ok)
}

func TestNewError(t *testing.T) {
	_, err := New(&arena.Options{ChunkCapacity: -1})
	assert.ErrorIs(t, err, alloc.ErrInvalidRequest)
	assert.Panics(t, func() { MustNew(&arena.Options{ChunkCapacity: -1}) })
}

func BenchmarkIntern(b *testing.B) {
	in := MustNew(nil)
	keys := make([]string, 1024)
	for i := range keys {
		keys[i] = "key_" + strconv.Itoa(i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		in.MustIntern(keys[i&1023])
	}
}
