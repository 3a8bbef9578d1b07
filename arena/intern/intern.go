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

// Package intern deduplicates strings into a Dropless arena and hands out
// dense integer ids for them.
package intern

import (
	"errors"
	"math"

	"github.com/bytedance/gopkg/util/xxhash3"

	"github.com/cloudwego/memkit/arena"
)

const minTableSize = 16

var errTooMany = errors.New("intern: too many strings")

// Interner maps strings to ids in insertion order. The interned strings live
// in its arena and are valid until Release.
type Interner struct {
	arena *arena.Dropless

	strs   []string
	hashes []uint64

	// hashtable holds id+1 per slot, 0 for empty. Its size is a power of two.
	hashtable []int32 // using int32 for mem efficiency

	released bool
}

// New creates an Interner whose strings are stored in a Dropless arena
// configured by o.
func New(o *arena.Options) (*Interner, error) {
	d, err := arena.NewDropless(o)
	if err != nil {
		return nil, err
	}
	return &Interner{arena: d, hashtable: make([]int32, minTableSize)}, nil
}

// MustNew is like New but panics on error.
func MustNew(o *arena.Options) *Interner {
	in, err := New(o)
	if err != nil {
		panic(err)
	}
	return in
}

// Intern returns the id of s, copying s into the arena the first time it
// is seen.
func (in *Interner) Intern(s string) (int, error) {
	in.checkLive()
	h := xxhash3.HashString(s)
	if id, ok := in.find(s, h); ok {
		return id, nil
	}
	if len(in.strs) >= math.MaxInt32-1 {
		return 0, errTooMany
	}
	stored, err := in.arena.AllocString(s)
	if err != nil {
		return 0, err
	}
	id := len(in.strs)
	in.strs = append(in.strs, stored)
	in.hashes = append(in.hashes, h)
	if 2*len(in.strs) > len(in.hashtable) {
		in.rehash(2 * len(in.hashtable))
	} else {
		in.place(id, h)
	}
	return id, nil
}

// MustIntern is like Intern but panics on error.
func (in *Interner) MustIntern(s string) int {
	id, err := in.Intern(s)
	if err != nil {
		panic(err)
	}
	return id
}

// ID returns the id of s if it has been interned.
func (in *Interner) ID(s string) (int, bool) {
	in.checkLive()
	return in.find(s, xxhash3.HashString(s))
}

// Lookup returns the string with the given id.
func (in *Interner) Lookup(id int) (string, bool) {
	if id < 0 || id >= len(in.strs) {
		return "", false
	}
	return in.strs[id], true
}

// Len returns the number of distinct strings.
func (in *Interner) Len() int {
	return len(in.strs)
}

// Stats returns the usage of the underlying arena.
func (in *Interner) Stats() arena.Stats {
	return in.arena.Stats()
}

// Release frees the arena. Strings returned before must not be used afterwards,
// and Intern or ID panic.
func (in *Interner) Release() {
	in.arena.Release()
	in.strs, in.hashes, in.hashtable = nil, nil, nil
	in.released = true
}

func (in *Interner) checkLive() {
	if in.released {
		panic("intern: use after Release")
	}
}

func (in *Interner) find(s string, h uint64) (int, bool) {
	mask := uint64(len(in.hashtable) - 1)
	for i := h & mask; ; i = (i + 1) & mask {
		v := in.hashtable[i]
		if v == 0 {
			return 0, false
		}
		id := int(v - 1)
		if in.hashes[id] == h && in.strs[id] == s {
			return id, true
		}
	}
}

func (in *Interner) place(id int, h uint64) {
	mask := uint64(len(in.hashtable) - 1)
	i := h & mask
	for in.hashtable[i] != 0 {
		i = (i + 1) & mask
	}
	in.hashtable[i] = int32(id + 1)
}

func (in *Interner) rehash(size int) {
	in.hashtable = make([]int32, size)
	for id, h := range in.hashes {
		in.place(id, h)
	}
}
