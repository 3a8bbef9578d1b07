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

// Package arena implements chunked bump allocators.
//
// An arena hands out memory from a list of fixed-capacity chunks. Each chunk
// keeps a cursor that only moves forward, except when the most recent
// allocation of the chunk is freed, grown or shrunk. Everything else is
// reclaimed at once by Reset or Release.
//
// Two specializations share one engine:
//
//   - Typed[T] stores values of T and runs their destructor (see Dropper)
//     when they leave the arena.
//   - Dropless stores raw bytes and any pointer-free value and never runs
//     destructors.
//
// Both implement alloc.Allocator so they can back other allocators.
//
// Arenas are not safe for concurrent use. A single owner performs one
// operation at a time.
package arena
