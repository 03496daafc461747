// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package snapshot

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec converts buffer elements to and from their stored form.
type Codec[T any] interface {
	Marshal(v T) ([]byte, error)
	// Unmarshal must not retain data after it returns.
	Unmarshal(data []byte) (T, error)
}

// ProtoCodec stores protobuf messages in their wire format.
type ProtoCodec[M proto.Message] struct {
	// New returns an empty message to unmarshal into.
	New func() M
}

func (c ProtoCodec[M]) Marshal(v M) ([]byte, error) {
	return proto.Marshal(v)
}

func (c ProtoCodec[M]) Unmarshal(data []byte) (M, error) {
	var zero M
	if c.New == nil {
		return zero, fmt.Errorf("proto codec has no message constructor")
	}
	m := c.New()
	if err := proto.Unmarshal(data, m); err != nil {
		return zero, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return m, nil
}
