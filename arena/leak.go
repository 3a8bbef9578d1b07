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

import "errors"

// ErrAlreadyRecovered is returned by Recover after the first call.
var ErrAlreadyRecovered = errors.New("arena: already recovered")

// leakable is implemented by *Typed[T] and *Dropless.
type leakable interface {
	isLeaked() bool
	setLeaked(bool)
	teardown()
}

// Leaked holds an arena whose Release is suppressed, so values allocated from
// it can be shared by structures that outlive any single owner. Recover
// eventually tears the arena down.
type Leaked[A leakable] struct {
	arena     A
	recovered bool
}

// Arena returns the leaked arena. It keeps serving allocations until Recover.
func (l *Leaked[A]) Arena() A {
	return l.arena
}

// Recovered reports whether Recover has been called.
func (l *Leaked[A]) Recovered() bool {
	return l.recovered
}

// Recover tears the arena down, destructing resident values and giving chunk
// storage back. Only the first call does so; later calls return
// ErrAlreadyRecovered. Values from the arena must not be used afterwards.
func (l *Leaked[A]) Recover() error {
	if l.recovered {
		return ErrAlreadyRecovered
	}
	l.recovered = true
	l.arena.setLeaked(false)
	l.arena.teardown()
	return nil
}

func leak[A leakable](a A) *Leaked[A] {
	if a.isLeaked() {
		panic("arena: already leaked")
	}
	a.setLeaked(true)
	return &Leaked[A]{arena: a}
}

// Leak suppresses Release until the returned handle is recovered.
// Leaking a released arena or leaking twice panics.
func (t *Typed[T]) Leak() *Leaked[*Typed[T]] {
	t.list.checkLive()
	return leak(t)
}

func (t *Typed[T]) isLeaked() bool   { return t.list.leaked }
func (t *Typed[T]) setLeaked(v bool) { t.list.leaked = v }
func (t *Typed[T]) teardown()        { t.list.teardown() }

// Leak suppresses Release until the returned handle is recovered.
// Leaking a released arena or leaking twice panics.
func (d *Dropless) Leak() *Leaked[*Dropless] {
	d.list.checkLive()
	return leak(d)
}

func (d *Dropless) isLeaked() bool   { return d.list.leaked }
func (d *Dropless) setLeaked(v bool) { d.list.leaked = v }
func (d *Dropless) teardown()        { d.list.teardown() }
