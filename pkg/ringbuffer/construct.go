// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ringbuffer

import (
	"fmt"
	"iter"

	"github.com/antimetal/ringbuffer/pkg/errors"
)

// NewFilled creates a buffer holding count copies of value. It returns a
// *errors.CapacityError if count exceeds capacity.
func NewFilled[T any](capacity, count int, value T, opts ...Option[T]) (*Buffer[T], error) {
	if err := validateCapacity(capacity); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("count must not be negative, got %d", count)
	}
	if count > capacity {
		return nil, &errors.CapacityError{Op: "NewFilled", Count: count, Capacity: capacity}
	}
	b, err := New(capacity, opts...)
	if err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		b.cells.construct(i, value)
	}
	b.place(count)
	return b, nil
}

// FromSeq creates a buffer from the elements of seq, in order. The sequence
// is not measured up front: elements are counted as they are consumed and
// consumption stops at the first element that does not fit, in which case a
// *errors.CapacityError is returned.
func FromSeq[T any](capacity int, seq iter.Seq[T], opts ...Option[T]) (*Buffer[T], error) {
	b, err := New(capacity, opts...)
	if err != nil {
		return nil, err
	}
	if seq == nil {
		return b, nil
	}

	n := 0
	overflow := false
	for v := range seq {
		if n >= capacity {
			overflow = true
			break
		}
		b.cells.construct(n, v)
		n++
	}
	if overflow {
		return nil, &errors.CapacityError{Op: "FromSeq", Count: n + 1, Capacity: capacity}
	}
	b.place(n)
	return b, nil
}

// FromSlice creates a buffer holding a copy of values, values[0] at the
// front. It returns a *errors.CapacityError if len(values) exceeds capacity.
func FromSlice[T any](capacity int, values []T, opts ...Option[T]) (*Buffer[T], error) {
	if err := validateCapacity(capacity); err != nil {
		return nil, err
	}
	if len(values) > capacity {
		return nil, &errors.CapacityError{Op: "FromSlice", Count: len(values), Capacity: capacity}
	}
	b, err := New(capacity, opts...)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		b.cells.construct(i, v)
	}
	b.place(len(values))
	return b, nil
}

// place sets the indices for n elements constructed in slots 0..n-1.
func (b *Buffer[T]) place(n int) {
	if n == 0 {
		b.reset()
		return
	}
	b.head = 0
	b.tail = n - 1
	b.size = n
}
