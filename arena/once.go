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
	"errors"
	"fmt"
)

// ErrAlreadySet is matched by the error Once.Init returns for a cell that already holds a value.
var ErrAlreadySet = errors.New("arena: once already set")

// AlreadySetError hands back the value a second Init refused to store.
type AlreadySetError[T any] struct {
	Value T
}

func (e *AlreadySetError[T]) Error() string {
	return fmt.Sprintf("arena: once already set, rejected %v", e.Value)
}

func (e *AlreadySetError[T]) Is(target error) bool { return target == ErrAlreadySet }

// Once is a cell that is set at most once. The zero value is empty and ready to use.
// It has a single owner; use sync.Once for cross-goroutine initialisation.
type Once[T any] struct {
	value T
	set   bool
}

// Init stores v if the cell is empty. Otherwise the stored value is kept
// and v is returned in an *AlreadySetError.
func (o *Once[T]) Init(v T) error {
	if o.set {
		return &AlreadySetError[T]{Value: v}
	}
	o.value, o.set = v, true
	return nil
}

// Get returns the stored value and whether Init has succeeded.
func (o *Once[T]) Get() (T, bool) {
	return o.value, o.set
}
