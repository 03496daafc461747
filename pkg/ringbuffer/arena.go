// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ringbuffer

// arena is the fixed set of slots backing a Buffer.
//
// A slot does not know whether it is occupied. The owning Buffer decides
// that from head, tail and size, and calls construct/emplace when a slot
// becomes live and destroy when it stops being live.
type arena[T any] []T

func newArena[T any](n int) arena[T] {
	return make(arena[T], n)
}

// construct places v into an unoccupied slot.
func (a arena[T]) construct(i int, v T) {
	a[i] = v
}

// assign replaces the value of an occupied slot.
func (a arena[T]) assign(i int, v T) {
	a[i] = v
}

// emplace builds a value in place. The slot must have been destroyed (or
// never constructed) so init starts from the zero value.
func (a arena[T]) emplace(i int, init func(*T)) {
	if init != nil {
		init(&a[i])
	}
}

// destroy ends occupancy of slot i, dropping any references it held.
func (a arena[T]) destroy(i int) {
	var zero T
	a[i] = zero
}

func (a arena[T]) at(i int) *T {
	return &a[i]
}
