// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ringbuffer

import (
	"iter"

	"github.com/antimetal/ringbuffer/pkg/errors"
)

// Iterator is a bidirectional cursor over the live run of a Buffer.
//
// Besides the slot position an Iterator counts the forward steps left before
// End. On a full buffer the slot after tail is head, so Begin and End share a
// position; left is what tells them apart. Iterators are invalidated by any
// mutation of the buffer.
type Iterator[T any] struct {
	buf  *Buffer[T]
	pos  int
	left int
}

// Begin returns an iterator at the front element, or End if b is empty.
func (b *Buffer[T]) Begin() Iterator[T] {
	if b.size == 0 {
		return b.End()
	}
	return Iterator[T]{buf: b, pos: b.head, left: b.size}
}

// End returns the iterator one past the back element.
func (b *Buffer[T]) End() Iterator[T] {
	return Iterator[T]{buf: b, pos: b.wrap.increment(b.tail), left: 0}
}

// Value returns a pointer to the element under the iterator.
//
// Preconditions: it is not an end position.
func (it Iterator[T]) Value() *T {
	if it.buf == nil || it.left <= 0 || it.left > it.buf.size {
		panic(errors.ErrIteratorEnd)
	}
	return it.buf.cells.at(it.pos)
}

// Next moves the iterator one element towards the back.
func (it *Iterator[T]) Next() {
	it.pos = it.buf.wrap.increment(it.pos)
	it.left--
}

// Prev moves the iterator one element towards the front.
func (it *Iterator[T]) Prev() {
	it.pos = it.buf.wrap.decrement(it.pos)
	it.left++
}

// Equal reports whether both iterators refer to the same buffer, slot and
// remaining count.
func (it Iterator[T]) Equal(other Iterator[T]) bool {
	return it.buf == other.buf && it.pos == other.pos && it.left == other.left
}

// ReverseIterator walks a Buffer from back to front. It wraps the forward
// iterator one past the element it refers to.
type ReverseIterator[T any] struct {
	base Iterator[T]
}

// Reverse adapts it for back-to-front traversal.
func Reverse[T any](it Iterator[T]) ReverseIterator[T] {
	return ReverseIterator[T]{base: it}
}

// RBegin returns a reverse iterator at the back element.
func (b *Buffer[T]) RBegin() ReverseIterator[T] {
	return Reverse(b.End())
}

// REnd returns the reverse iterator one before the front element.
func (b *Buffer[T]) REnd() ReverseIterator[T] {
	return Reverse(b.Begin())
}

// Base returns the underlying forward iterator.
func (r ReverseIterator[T]) Base() Iterator[T] {
	return r.base
}

func (r ReverseIterator[T]) Value() *T {
	it := r.base
	it.Prev()
	return it.Value()
}

func (r *ReverseIterator[T]) Next() {
	r.base.Prev()
}

func (r *ReverseIterator[T]) Prev() {
	r.base.Next()
}

func (r ReverseIterator[T]) Equal(other ReverseIterator[T]) bool {
	return r.base.Equal(other.base)
}

// All yields copies of the elements from front to back.
func (b *Buffer[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for it, end := b.Begin(), b.End(); !it.Equal(end); it.Next() {
			if !yield(*it.Value()) {
				return
			}
		}
	}
}

// Pointers yields pointers to the elements from front to back. The buffer
// must not be pushed to or popped from while iterating.
func (b *Buffer[T]) Pointers() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for it, end := b.Begin(), b.End(); !it.Equal(end); it.Next() {
			if !yield(it.Value()) {
				return
			}
		}
	}
}

// Backward yields copies of the elements from back to front.
func (b *Buffer[T]) Backward() iter.Seq[T] {
	return func(yield func(T) bool) {
		for it, end := b.RBegin(), b.REnd(); !it.Equal(end); it.Next() {
			if !yield(*it.Value()) {
				return
			}
		}
	}
}
