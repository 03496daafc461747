// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package errors

import (
	stdliberrors "errors"
	"fmt"
)

var (
	ErrUnsupported = stdliberrors.ErrUnsupported

	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

var (
	// ErrCapacityExceeded is returned when a bulk construction asks for more
	// elements than the buffer can hold.
	ErrCapacityExceeded = New("capacity exceeded")

	// ErrInvalidCapacity is returned when a buffer is created with a
	// capacity that is not positive.
	ErrInvalidCapacity = New("capacity must be greater than 0")

	// ErrCapacityMismatch is returned when copying or moving between buffers
	// of different capacities.
	ErrCapacityMismatch = New("capacity mismatch")

	// ErrEmpty is the panic value for element access on an empty buffer.
	ErrEmpty = New("buffer is empty")

	// ErrIteratorEnd is the panic value for dereferencing an iterator that
	// does not refer to a live element, such as End.
	ErrIteratorEnd = New("iterator is not at an element")
)

// CapacityError reports which operation overflowed and by how much.
type CapacityError struct {
	Op       string
	Count    int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %s: count %d exceeds capacity %d", e.Op, ErrCapacityExceeded, e.Count, e.Capacity)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

func NewRetryable(text string) RetryableError {
	return &retryableError{text: text}
}

// WrapRetryable marks err as retryable while keeping it in the chain.
func WrapRetryable(err error) RetryableError {
	return &retryableError{text: err.Error(), err: err}
}

func Retryable(err error) bool {
	var rerr RetryableError
	return As(err, &rerr)
}

type RetryableError interface {
	error
	Retryable()
}

type retryableError struct {
	text string
	err  error
}

func (r *retryableError) Error() string {
	return r.text
}

func (r *retryableError) Unwrap() error {
	return r.err
}

func (r *retryableError) Retryable() {}
