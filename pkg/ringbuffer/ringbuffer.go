// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ringbuffer provides a fixed-capacity, double-ended ring buffer.
//
// A Buffer holds at most Cap() elements. Elements can be pushed and popped at
// both ends in constant time; pushing onto a full buffer evicts the element at
// the opposite end instead of growing. Storage is allocated once, when the
// buffer is created, and never again.
package ringbuffer

import (
	"fmt"

	"github.com/antimetal/ringbuffer/pkg/errors"
)

// EvictFunc is called with the element a push discarded to make room.
type EvictFunc[T any] func(evicted T)

// Option configures a Buffer at construction time.
type Option[T any] func(*Buffer[T])

// WithEvictCallback registers fn to observe evictions. fn runs after the
// push that caused the eviction has completed.
func WithEvictCallback[T any](fn EvictFunc[T]) Option[T] {
	return func(b *Buffer[T]) {
		b.onEvict = fn
	}
}

// Buffer is a generic, thread-unsafe, fixed-capacity double-ended queue that
// overwrites the element at the opposite end when a push finds it full.
//
// The live elements are the run of slots that starts at head and ends at
// tail, walking forward modulo the capacity. When the buffer is empty head is
// one past tail; that position is where the next push lands and is never
// read.
//
// Note: This implementation is NOT thread-safe. If concurrent access is needed,
// synchronization must be handled externally.
type Buffer[T any] struct {
	cells arena[T]
	wrap  wrapper
	head  int
	tail  int
	size  int

	onEvict EvictFunc[T]
}

// New creates an empty ring buffer with the given capacity
func New[T any](capacity int, opts ...Option[T]) (*Buffer[T], error) {
	if err := validateCapacity(capacity); err != nil {
		return nil, err
	}
	b := &Buffer[T]{
		cells: newArena[T](capacity),
		wrap:  wrapper(capacity),
	}
	b.reset()
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

func validateCapacity(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w, got %d", errors.ErrInvalidCapacity, capacity)
	}
	return nil
}

// reset puts head and tail into the canonical empty relationship.
func (b *Buffer[T]) reset() {
	b.tail = 0
	b.head = b.wrap.increment(b.tail)
	b.size = 0
}

// Len returns the current number of elements in the buffer
func (b *Buffer[T]) Len() int {
	return b.size
}

// Cap returns the capacity of the buffer
func (b *Buffer[T]) Cap() int {
	return len(b.cells)
}

// Empty reports whether the buffer holds no elements.
func (b *Buffer[T]) Empty() bool {
	return b.size == 0
}

// Full reports whether the next push will evict.
func (b *Buffer[T]) Full() bool {
	return b.size == len(b.cells)
}

// Front returns a pointer to the oldest element. The pointer is only valid
// until the next mutation of b.
//
// Preconditions: !b.Empty().
func (b *Buffer[T]) Front() *T {
	if b.size == 0 {
		panic(errors.ErrEmpty)
	}
	return b.cells.at(b.head)
}

// Back returns a pointer to the newest element. The pointer is only valid
// until the next mutation of b.
//
// Preconditions: !b.Empty().
func (b *Buffer[T]) Back() *T {
	if b.size == 0 {
		panic(errors.ErrEmpty)
	}
	return b.cells.at(b.tail)
}

// Data returns the backing storage, Cap() slots long. Only the slots of the
// live run hold elements and the run may wrap past the end of the slice; use
// Slices for an ordered view.
func (b *Buffer[T]) Data() []T {
	return b.cells
}

// Slices returns the live run as at most two contiguous views of the backing
// storage, front part first. second is nil unless the run wraps.
func (b *Buffer[T]) Slices() (first, second []T) {
	if b.size == 0 {
		return nil, nil
	}
	if b.head <= b.tail {
		return b.cells[b.head : b.tail+1 : b.tail+1], nil
	}
	return b.cells[b.head:len(b.cells):len(b.cells)], b.cells[: b.tail+1 : b.tail+1]
}

// PushBack appends v. If the buffer is full the front element is evicted and
// its slot is reused for v.
func (b *Buffer[T]) PushBack(v T) {
	if b.size == len(b.cells) {
		slot := b.head
		evicted := *b.cells.at(slot)
		b.head = b.wrap.increment(b.head)
		b.cells.assign(slot, v)
		b.tail = slot
		b.evicted(evicted)
		return
	}
	b.tail = b.wrap.increment(b.tail)
	b.cells.construct(b.tail, v)
	b.size++
}

// PushFront prepends v. If the buffer is full the back element is evicted
// and its slot is reused for v.
func (b *Buffer[T]) PushFront(v T) {
	if b.size == len(b.cells) {
		slot := b.tail
		evicted := *b.cells.at(slot)
		b.tail = b.wrap.decrement(b.tail)
		b.cells.assign(slot, v)
		b.head = slot
		b.evicted(evicted)
		return
	}
	b.head = b.wrap.decrement(b.head)
	b.cells.construct(b.head, v)
	b.size++
}

// EmplaceBack appends an element built in place by init, which receives a
// pointer to a zeroed slot. If the buffer is full the front element is
// destroyed first.
func (b *Buffer[T]) EmplaceBack(init func(*T)) {
	if b.size == len(b.cells) {
		slot := b.head
		evicted := *b.cells.at(slot)
		b.head = b.wrap.increment(b.head)
		b.cells.destroy(slot)
		b.cells.emplace(slot, init)
		b.tail = slot
		b.evicted(evicted)
		return
	}
	b.tail = b.wrap.increment(b.tail)
	b.cells.emplace(b.tail, init)
	b.size++
}

// EmplaceFront prepends an element built in place by init. If the buffer is
// full the back element is destroyed first.
func (b *Buffer[T]) EmplaceFront(init func(*T)) {
	if b.size == len(b.cells) {
		slot := b.tail
		evicted := *b.cells.at(slot)
		b.tail = b.wrap.decrement(b.tail)
		b.cells.destroy(slot)
		b.cells.emplace(slot, init)
		b.head = slot
		b.evicted(evicted)
		return
	}
	b.head = b.wrap.decrement(b.head)
	b.cells.emplace(b.head, init)
	b.size++
}

func (b *Buffer[T]) evicted(v T) {
	if b.onEvict != nil {
		b.onEvict(v)
	}
}

// PopBack removes and returns the newest element.
//
// Preconditions: !b.Empty().
func (b *Buffer[T]) PopBack() T {
	if b.size == 0 {
		panic(errors.ErrEmpty)
	}
	old := b.tail
	v := *b.cells.at(old)
	b.size--
	b.tail = b.wrap.decrement(old)
	b.cells.destroy(old)
	return v
}

// PopFront removes and returns the oldest element.
//
// Preconditions: !b.Empty().
func (b *Buffer[T]) PopFront() T {
	if b.size == 0 {
		panic(errors.ErrEmpty)
	}
	old := b.head
	v := *b.cells.at(old)
	b.size--
	b.head = b.wrap.increment(old)
	b.cells.destroy(old)
	return v
}

// TryPopBack is PopBack for callers that have not checked Empty.
func (b *Buffer[T]) TryPopBack() (T, bool) {
	if b.size == 0 {
		var zero T
		return zero, false
	}
	return b.PopBack(), true
}

// TryPopFront is PopFront for callers that have not checked Empty.
func (b *Buffer[T]) TryPopFront() (T, bool) {
	if b.size == 0 {
		var zero T
		return zero, false
	}
	return b.PopFront(), true
}

// Clear removes all elements from the buffer
func (b *Buffer[T]) Clear() {
	for b.size != 0 {
		b.PopBack()
	}
	b.reset()
}

// ToSlice returns all elements in order from front (oldest) to back (newest)
func (b *Buffer[T]) ToSlice() []T {
	result := make([]T, 0, b.size)
	first, second := b.Slices()
	result = append(result, first...)
	return append(result, second...)
}

// Clone returns a new buffer with the same capacity, eviction callback and
// elements. Only the live run is copied. Elements are copied by assignment,
// so reference-typed elements are shared.
func (b *Buffer[T]) Clone() *Buffer[T] {
	c := &Buffer[T]{
		cells:   newArena[T](len(b.cells)),
		wrap:    b.wrap,
		onEvict: b.onEvict,
	}
	c.copyRun(b)
	return c
}

// CopyFrom replaces the contents of b with a copy of src's elements. Both
// buffers must have the same capacity.
func (b *Buffer[T]) CopyFrom(src *Buffer[T]) error {
	if src == b {
		return nil
	}
	if len(src.cells) != len(b.cells) {
		return fmt.Errorf("copy: %w: %d != %d", errors.ErrCapacityMismatch, len(src.cells), len(b.cells))
	}
	b.destroyRun()
	b.copyRun(src)
	return nil
}

// MoveFrom transfers src's elements into b, replacing b's contents, and
// leaves src empty. Both buffers must have the same capacity.
func (b *Buffer[T]) MoveFrom(src *Buffer[T]) error {
	if src == b {
		return nil
	}
	if len(src.cells) != len(b.cells) {
		return fmt.Errorf("move: %w: %d != %d", errors.ErrCapacityMismatch, len(src.cells), len(b.cells))
	}
	b.destroyRun()
	b.copyRun(src)
	src.destroyRun()
	src.reset()
	return nil
}

// copyRun takes over src's indices and constructs its live run into b. The
// slots of b outside the run are left untouched.
func (b *Buffer[T]) copyRun(src *Buffer[T]) {
	b.head, b.tail, b.size = src.head, src.tail, src.size
	for i, n := src.head, 0; n < src.size; i, n = src.wrap.increment(i), n+1 {
		b.cells.construct(i, *src.cells.at(i))
	}
}

func (b *Buffer[T]) destroyRun() {
	for i, n := b.head, 0; n < b.size; i, n = b.wrap.increment(i), n+1 {
		b.cells.destroy(i)
	}
}
