// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package snapshot

import (
	"context"
	"strconv"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/antimetal/ringbuffer/pkg/errors"
	"github.com/antimetal/ringbuffer/pkg/ringbuffer"
	"github.com/antimetal/ringbuffer/pkg/ringbuffer/logsink"
)

var int64Codec = ProtoCodec[*wrapperspb.Int64Value]{
	New: func() *wrapperspb.Int64Value { return &wrapperspb.Int64Value{} },
}

// intCodec stores ints as decimal strings and refuses to decode "bad".
type intCodec struct{}

func (intCodec) Marshal(v int) ([]byte, error) { return []byte(strconv.Itoa(v)), nil }

func (intCodec) Unmarshal(data []byte) (int, error) { return strconv.Atoi(string(data)) }

func newStore[T any](t *testing.T, codec Codec[T]) *Store[T] {
	t.Helper()
	s, err := Open(codec, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func values(buf *ringbuffer.Buffer[*wrapperspb.Int64Value]) []int64 {
	out := []int64{}
	for v := range buf.All() {
		out = append(out, v.GetValue())
	}
	return out
}

func TestStore_SaveLoad(t *testing.T) {
	s := newStore(t, Codec[*wrapperspb.Int64Value](int64Codec))
	ctx := context.Background()

	buf, err := ringbuffer.New[*wrapperspb.Int64Value](4)
	require.NoError(t, err)
	for i := int64(0); i < 7; i++ {
		buf.PushBack(wrapperspb.Int64(i))
	}
	buf.PushFront(wrapperspb.Int64(-1))
	require.Equal(t, []int64{-1, 3, 4, 5}, values(buf))

	before := time.Now().Add(-time.Second)
	require.NoError(t, s.Save(ctx, "samples", buf))

	restored, err := s.Load("samples", 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 3, 4, 5}, values(restored))
	assert.True(t, restored.Full())

	// Restoring into a larger buffer leaves room to grow.
	larger, err := s.Load("samples", 10)
	require.NoError(t, err)
	assert.Equal(t, 4, larger.Len())
	assert.Equal(t, 10, larger.Cap())

	savedAt, err := s.SavedAt("samples")
	require.NoError(t, err)
	assert.True(t, savedAt.After(before))
}

func TestStore_LoadOverCapacity(t *testing.T) {
	s := newStore[int](t, intCodec{})

	buf, err := ringbuffer.FromSlice(5, []int{1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), "five", buf))

	restored, err := s.Load("five", 3)
	assert.Nil(t, restored)
	require.ErrorIs(t, err, errors.ErrCapacityExceeded)

	var cerr *errors.CapacityError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 4, cerr.Count)
	assert.Equal(t, 3, cerr.Capacity)
}

func TestStore_SaveReplaces(t *testing.T) {
	s := newStore[int](t, intCodec{})
	ctx := context.Background()

	long, err := ringbuffer.FromSlice(4, []int{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "x", long))

	short, err := ringbuffer.FromSlice(4, []int{9})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "x", short))

	restored, err := s.Load("x", 4)
	require.NoError(t, err)
	assert.Equal(t, []int{9}, restored.ToSlice())

	empty, err := ringbuffer.New[int](4)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "x", empty))
	restored, err = s.Load("x", 1)
	require.NoError(t, err)
	assert.True(t, restored.Empty())
}

func TestStore_LargeSnapshot(t *testing.T) {
	s := newStore[int](t, intCodec{})
	ctx := context.Background()

	// Far more elements than badger accepts in a single transaction.
	const n = 150_000
	buf, err := ringbuffer.New[int](n)
	require.NoError(t, err)
	for i := 0; i < n+10; i++ {
		buf.PushBack(i)
	}
	require.True(t, buf.Full())
	require.NoError(t, s.Save(ctx, "large", buf))

	restored, err := s.Load("large", n)
	require.NoError(t, err)
	assert.Equal(t, n, restored.Len())
	assert.Equal(t, 10, *restored.Front())
	assert.Equal(t, n+9, *restored.Back())
	assert.Equal(t, buf.ToSlice(), restored.ToSlice())

	// Replacing it drops every old element.
	small, err := ringbuffer.FromSlice(n, []int{1, 2})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "large", small))
	restored, err = s.Load("large", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, restored.ToSlice())

	require.NoError(t, s.Save(ctx, "large", buf))
	require.NoError(t, s.Delete(ctx, "large"))
	require.NoError(t, s.store.View(func(txn *badger.Txn) error {
		_, err := txn.Get(elementKeyFor("large", 0))
		assert.ErrorIs(t, err, badger.ErrKeyNotFound)
		return nil
	}))
}

func TestStore_ElementsWithoutMetaAreHidden(t *testing.T) {
	s := newStore[int](t, intCodec{})

	require.NoError(t, s.store.Update(func(txn *badger.Txn) error {
		return txn.Set(elementKeyFor("partial", 1), []byte("1"))
	}))

	names, err := s.Names()
	require.NoError(t, err)
	assert.Empty(t, names)
	_, err = s.Load("partial", 2)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	// A later save of the same name does not pick up stray elements.
	buf, err := ringbuffer.FromSlice(2, []int{7})
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), "partial", buf))
	restored, err := s.Load("partial", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, restored.ToSlice())
}

func TestStore_NamesAndDelete(t *testing.T) {
	s := newStore[int](t, intCodec{})
	ctx := context.Background()

	names, err := s.Names()
	require.NoError(t, err)
	assert.Empty(t, names)

	buf, err := ringbuffer.FromSlice(2, []int{1, 2})
	require.NoError(t, err)
	for _, name := range []string{"b", "a", "ab"} {
		require.NoError(t, s.Save(ctx, name, buf))
	}

	names, err = s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "ab", "b"}, names)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Load("a", 2)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	// Deleting "a" must not touch "ab".
	restored, err := s.Load("ab", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, restored.ToSlice())

	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrSnapshotNotFound)
	_, err = s.SavedAt("a")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestStore_Errors(t *testing.T) {
	s := newStore[int](t, intCodec{})
	ctx := context.Background()

	buf, err := ringbuffer.FromSlice(2, []int{1})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Save(ctx, "", buf), ErrInvalidName)
	assert.ErrorIs(t, s.Save(ctx, "a/b", buf), ErrInvalidName)
	assert.Error(t, s.Save(ctx, "nil", nil))

	_, err = s.Load("missing", 2)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	_, err = s.Load("ok", 0)
	assert.ErrorIs(t, err, ErrSnapshotNotFound, "missing snapshot is reported before capacity")

	require.NoError(t, s.Save(ctx, "ok", buf))
	_, err = s.Load("ok", 0)
	assert.ErrorIs(t, err, errors.ErrInvalidCapacity)

	// Corrupt a stored element so decoding fails.
	require.NoError(t, s.store.Update(func(txn *badger.Txn) error {
		return txn.Set(elementKeyFor("ok", 0), []byte("bad"))
	}))
	_, err = s.Load("ok", 2)
	assert.ErrorContains(t, err, "failed to decode snapshot")

	_, err = Open[int](nil, Options{})
	assert.Error(t, err)
}

func TestStore_RetriesConflicts(t *testing.T) {
	s := newStore[int](t, intCodec{})

	attempts := 0
	err := s.update(context.Background(), func(txn *badger.Txn) error {
		attempts++
		if attempts < 3 {
			return badger.ErrConflict
		}
		return txn.Set([]byte("k"), []byte("v"))
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = s.update(context.Background(), func(*badger.Txn) error {
		attempts++
		return badger.ErrConflict
	})
	assert.ErrorIs(t, err, badger.ErrConflict)
	assert.True(t, errors.Retryable(err))
	assert.Equal(t, int(s.opts.MaxRetries), attempts)

	attempts = 0
	permanent := errors.New("permanent")
	err = s.update(context.Background(), func(*badger.Txn) error {
		attempts++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.update(ctx, func(*badger.Txn) error { return badger.ErrConflict })
	assert.Error(t, err)
}

func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	rec, err := logsink.NewRecorder(logsink.Config{Capacity: 32, Verbosity: 1})
	require.NoError(t, err)

	s, err := Open[int](intCodec{}, Options{Path: dir, Logger: rec.Logger()})
	require.NoError(t, err)

	buf, err := ringbuffer.FromSlice(3, []int{7, 8, 9})
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), "durable", buf))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Contains(t, last.Name, "snapshot-store")

	s, err = Open[int](intCodec{}, Options{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	restored, err := s.Load("durable", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8, 9}, restored.ToSlice())
}

func TestProtoCodec(t *testing.T) {
	data, err := int64Codec.Marshal(wrapperspb.Int64(42))
	require.NoError(t, err)

	v, err := int64Codec.Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, proto.Equal(wrapperspb.Int64(42), v))

	_, err = int64Codec.Unmarshal([]byte{0xff})
	assert.Error(t, err)

	_, err = ProtoCodec[*wrapperspb.Int64Value]{}.Unmarshal(data)
	assert.Error(t, err)
}
