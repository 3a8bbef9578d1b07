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

package slab

import "fmt"

// Key identifies one occupancy of a slot. Once the value is removed the key
// stays invalid even if the slot is reused.
type Key struct {
	Index int
	Gen   uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%d@%d", k.Index, k.Gen)
}

// InsertKey is Insert returning a Key.
func (s *Slab[T]) InsertKey(v T) (Key, error) {
	idx, err := s.Insert(v)
	if err != nil {
		return Key{}, err
	}
	return Key{Index: idx, Gen: s.slot(idx).gen}, nil
}

// KeyOf returns the key of the current occupant of idx.
func (s *Slab[T]) KeyOf(idx int) (Key, bool) {
	sl := s.lookup(idx)
	if sl == nil {
		return Key{}, false
	}
	return Key{Index: idx, Gen: sl.gen}, true
}

func (s *Slab[T]) lookupKey(k Key) *slot[T] {
	if sl := s.lookup(k.Index); sl != nil && sl.gen == k.Gen {
		return sl
	}
	return nil
}

// GetKey returns the value identified by k. Stale keys report false.
func (s *Slab[T]) GetKey(k Key) (T, bool) {
	if sl := s.lookupKey(k); sl != nil {
		return sl.value, true
	}
	var zero T
	return zero, false
}

// GetKeyPtr is GetPtr for keys.
func (s *Slab[T]) GetKeyPtr(k Key) *T {
	if sl := s.lookupKey(k); sl != nil {
		return &sl.value
	}
	return nil
}

// RemoveKey is Remove for keys. Stale keys report false and leave the slab
// untouched.
func (s *Slab[T]) RemoveKey(k Key) (T, bool) {
	s.checkLive()
	sl := s.lookupKey(k)
	if sl == nil {
		var zero T
		return zero, false
	}
	return s.vacate(k.Index, sl), true
}
