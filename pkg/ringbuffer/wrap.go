// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ringbuffer

// wrapper does index arithmetic modulo the buffer capacity.
type wrapper int

func (n wrapper) increment(i int) int {
	return (i + 1) % int(n)
}

func (n wrapper) decrement(i int) int {
	return (i + int(n) - 1) % int(n)
}
