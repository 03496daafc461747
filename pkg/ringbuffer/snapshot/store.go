// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package snapshot persists the contents of ring buffers to BadgerDB and
// restores them.
package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/antimetal/ringbuffer/pkg/errors"
	"github.com/antimetal/ringbuffer/pkg/ringbuffer"
)

type keyPart = []byte

var (
	elementKey = keyPart("snap")
	metaKey    = keyPart("meta")
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidName      = errors.New("invalid snapshot name")
)

// Options represents configuration for a Store
type Options struct {
	// Path is the badger directory. Empty keeps the store in memory.
	Path string
	// MaxRetries bounds attempts at a write that hits a transaction conflict.
	MaxRetries uint
	// RetryInterval is the first backoff interval after a conflict.
	RetryInterval time.Duration
	Logger        logr.Logger
}

// DefaultOptions returns a default configuration
func DefaultOptions() Options {
	return Options{
		MaxRetries:    5,
		RetryInterval: 50 * time.Millisecond,
		Logger:        logr.Discard(),
	}
}

// ApplyDefaults fills in zero values with defaults
func (o *Options) ApplyDefaults() {
	defaults := DefaultOptions()

	if o.MaxRetries == 0 {
		o.MaxRetries = defaults.MaxRetries
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = defaults.RetryInterval
	}
	if o.Logger.GetSink() == nil {
		o.Logger = defaults.Logger
	}
}

// Store saves named snapshots of ring buffers. A snapshot holds the live
// elements of a buffer from front to back and the time it was saved.
//
// Snapshots are restored through ringbuffer.FromSeq, so restoring into a
// buffer smaller than the snapshot fails with errors.ErrCapacityExceeded.
type Store[T any] struct {
	mu sync.RWMutex

	store  *badger.DB
	codec  Codec[T]
	opts   Options
	logger logr.Logger
	closed bool
}

// Open creates a new Store.
func Open[T any](codec Codec[T], opts Options) (*Store[T], error) {
	if codec == nil {
		return nil, fmt.Errorf("codec can't be nil")
	}
	opts.ApplyDefaults()
	logger := opts.Logger.WithName("snapshot-store")

	dbOpts := badger.DefaultOptions(opts.Path).
		WithLogger(badgerLogger{logger: logger.WithName("badger")})
	if opts.Path == "" {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	return &Store[T]{
		store:  db,
		codec:  codec,
		opts:   opts,
		logger: logger,
	}, nil
}

// Save replaces the snapshot called name with the current contents of buf.
// There is no size limit: elements are written in as many transactions as
// needed, and the snapshot is only listed by Names or loadable once all of
// them are stored.
func (s *Store[T]) Save(ctx context.Context, name string, buf *ringbuffer.Buffer[T]) error {
	if err := validateName(name); err != nil {
		return err
	}
	if buf == nil {
		return fmt.Errorf("buffer can't be nil")
	}

	values := make([][]byte, 0, buf.Len())
	for v := range buf.All() {
		data, err := s.codec.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal element %d: %w", len(values), err)
		}
		values = append(values, data)
	}
	savedAt, err := proto.Marshal(timestamppb.Now())
	if err != nil {
		return fmt.Errorf("failed to marshal save time: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := buildKey(metaKey, keyPart(name))

	// The meta key is what makes a snapshot visible, so it goes first on the
	// way out and last on the way back in.
	if err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return fmt.Errorf("failed to hide previous snapshot: %w", err)
	}
	if err := s.dropElements(name); err != nil {
		return fmt.Errorf("failed to delete previous snapshot: %w", err)
	}
	if err := s.writeElements(name, values); err != nil {
		return err
	}
	if err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(key, savedAt)
	}); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	s.logger.V(1).Info("saved snapshot", "name", name, "elements", len(values), "capacity", buf.Cap())
	return nil
}

// Load restores the snapshot called name into a new buffer of the given
// capacity. opts are passed on to the buffer.
// If the snapshot does not exist, it will return ErrSnapshotNotFound.
func (s *Store[T]) Load(name string, capacity int, opts ...ringbuffer.Option[T]) (*ringbuffer.Buffer[T], error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var buf *ringbuffer.Buffer[T]
	err := s.store.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(buildKey(metaKey, keyPart(name))); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSnapshotNotFound
			}
			return fmt.Errorf("failed to read snapshot: %w", err)
		}

		prefix := elementPrefix(name)
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   100,
			Prefix:         prefix,
		})
		defer it.Close()

		var decodeErr error
		elements := func(yield func(T) bool) {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				var v T
				err := it.Item().Value(func(val []byte) error {
					var err error
					v, err = s.codec.Unmarshal(val)
					return err
				})
				if err != nil {
					decodeErr = err
					return
				}
				if !yield(v) {
					return
				}
			}
		}

		b, err := ringbuffer.FromSeq(capacity, elements, opts...)
		if decodeErr != nil {
			return fmt.Errorf("failed to decode snapshot %q: %w", name, decodeErr)
		}
		if err != nil {
			return fmt.Errorf("failed to restore snapshot %q: %w", name, err)
		}
		buf = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// SavedAt returns when the snapshot called name was last saved.
// If the snapshot does not exist, it will return ErrSnapshotNotFound.
func (s *Store[T]) SavedAt(name string) (time.Time, error) {
	if err := validateName(name); err != nil {
		return time.Time{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var val []byte
	err := s.store.View(func(txn *badger.Txn) error {
		item, err := txn.Get(buildKey(metaKey, keyPart(name)))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(val)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, ErrSnapshotNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	ts := &timestamppb.Timestamp{}
	if err := proto.Unmarshal(val, ts); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal save time: %w", err)
	}
	return ts.AsTime(), nil
}

// Names returns the names of all stored snapshots in lexical order.
func (s *Store[T]) Names() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := []string{}
	prefix := append(buildKey(metaKey), '/')
	err := s.store.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return names, nil
}

// Delete removes the snapshot called name.
// If the snapshot does not exist, it will return ErrSnapshotNotFound.
func (s *Store[T]) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.update(ctx, func(txn *badger.Txn) error {
		key := buildKey(metaKey, keyPart(name))
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSnapshotNotFound
			}
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	if err := s.dropElements(name); err != nil {
		return fmt.Errorf("failed to delete elements: %w", err)
	}
	return nil
}

// Close closes the store.
// It is idempotent - calling Close multiple times will close only once.
func (s *Store[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.store.Close()
}

// update runs fn in a read-write transaction, retrying with exponential
// backoff while badger reports a conflict.
func (s *Store[T]) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := classify(s.store.Update(fn))
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Retryable(err) {
			s.logger.V(1).Info("snapshot transaction conflict, retrying", "error", err.Error())
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.MaxRetries),
	)
	return err
}

// classify marks the badger errors that a fresh transaction can get past.
func classify(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return errors.WrapRetryable(err)
	}
	return err
}

// writeElements stores values under name through a write batch, which
// splits the writes over as many transactions as badger needs.
func (s *Store[T]) writeElements(name string, values [][]byte) error {
	wb := s.store.NewWriteBatch()
	for i, data := range values {
		if err := wb.Set(elementKeyFor(name, i), data); err != nil {
			wb.Cancel()
			return fmt.Errorf("failed to write element %d: %w", i, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to write elements: %w", err)
	}
	return nil
}

// dropElements deletes every element stored under name.
func (s *Store[T]) dropElements(name string) error {
	prefix := elementPrefix(name)
	var keys [][]byte
	err := s.store.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return err
	}

	wb := s.store.NewWriteBatch()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			wb.Cancel()
			return err
		}
	}
	return wb.Flush()
}

func validateName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func elementPrefix(name string) []byte {
	return append(buildKey(elementKey, keyPart(name)), '/')
}

// elementKeyFor orders elements by position with a big-endian index.
func elementKeyFor(name string, i int) []byte {
	return binary.BigEndian.AppendUint64(elementPrefix(name), uint64(i))
}

func buildKey(parts ...keyPart) []byte {
	b := bytes.Buffer{}
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		b.WriteByte('/')
		b.Write(p)
	}
	return b.Bytes()
}
