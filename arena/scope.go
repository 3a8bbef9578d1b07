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

// WithDropless runs fn with a fresh Dropless arena and releases the arena
// when fn returns or panics. Nothing allocated from it may escape fn unless
// the arena is leaked.
func WithDropless(o *Options, fn func(d *Dropless) error) error {
	d, err := NewDropless(o)
	if err != nil {
		return err
	}
	defer d.Release()
	return fn(d)
}

// WithTyped is WithDropless for a Typed arena. Resident values are destructed
// on the way out.
func WithTyped[T any](o *Options, fn func(t *Typed[T]) error) error {
	t, err := NewTyped[T](o)
	if err != nil {
		return err
	}
	defer t.Release()
	return fn(t)
}
