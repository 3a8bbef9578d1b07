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
)

const (
	// DefaultTypedCapacity is the default number of values per Typed chunk.
	DefaultTypedCapacity = 1024

	// DefaultDroplessCapacity is the default number of bytes per Dropless chunk.
	DefaultDroplessCapacity = 4096

	// defaultMaxGrowth bounds doubling when MaxChunkCapacity is not set.
	defaultMaxGrowth = 64
)

// Growth selects the capacity of chunks appended after the first one.
type Growth int

const (
	// GrowFixed gives every chunk ChunkCapacity units.
	GrowFixed Growth = iota
	// GrowDouble doubles the capacity of each new chunk up to MaxChunkCapacity.
	GrowDouble
)

func (g Growth) String() string {
	switch g {
	case GrowFixed:
		return "fixed"
	case GrowDouble:
		return "double"
	}
	return fmt.Sprintf("Growth(%d)", int(g))
}

// Options configures an arena. A nil *Options selects DefaultOptions.
type Options struct {
	// ChunkCapacity is the number of units in a chunk: values for Typed,
	// bytes for Dropless. Zero selects the default of the arena kind.
	ChunkCapacity int

	// Growth is the policy for chunks after the first.
	Growth Growth

	// MaxChunkCapacity caps GrowDouble. Zero means 64 times ChunkCapacity.
	// Requests larger than a chunk always get a chunk of their own size.
	MaxChunkCapacity int

	// Allocator provides chunk storage. Nil selects the Go heap.
	// Typed arenas of pointer holding types only accept nil.
	Allocator alloc.Allocator
}

// DefaultOptions returns options with fixed-size chunks of the default
// capacity on the Go heap.
func DefaultOptions() Options {
	return Options{Growth: GrowFixed}
}

// resolve validates o and fills in defaults.
func (o *Options) resolve(defaultCapacity int) (Options, error) {
	var r Options
	if o == nil {
		r = DefaultOptions()
	} else {
		r = *o
	}
	if r.ChunkCapacity < 0 {
		return r, fmt.Errorf("%w: arena: negative chunk capacity %d", alloc.ErrInvalidRequest, r.ChunkCapacity)
	}
	if r.ChunkCapacity == 0 {
		r.ChunkCapacity = defaultCapacity
	}
	switch r.Growth {
	case GrowFixed:
		r.MaxChunkCapacity = r.ChunkCapacity
	case GrowDouble:
		if r.MaxChunkCapacity == 0 {
			r.MaxChunkCapacity = r.ChunkCapacity * defaultMaxGrowth
		}
		if r.MaxChunkCapacity < r.ChunkCapacity {
			return r, fmt.Errorf("%w: arena: max chunk capacity %d below chunk capacity %d",
				alloc.ErrInvalidRequest, r.MaxChunkCapacity, r.ChunkCapacity)
		}
	default:
		return r, fmt.Errorf("%w: arena: unknown growth policy %v", alloc.ErrInvalidRequest, r.Growth)
	}
	return r, nil
}
