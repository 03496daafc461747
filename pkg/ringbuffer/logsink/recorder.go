// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package logsink provides a logr sink that keeps the most recent log entries
// in memory, backed by a ring buffer, so they can be inspected or replayed to
// another logger after the fact.
package logsink

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/antimetal/ringbuffer/pkg/ringbuffer"
)

// Entry is a single recorded log line. Names holds one segment per WithName
// call, outermost first; Name is the same segments joined with "/".
type Entry struct {
	Time          time.Time
	Name          string
	Names         []string
	Level         int
	Message       string
	IsError       bool
	Err           error
	KeysAndValues []any
}

// Config represents configuration for a Recorder
type Config struct {
	// Capacity is the number of entries retained. Older entries are evicted.
	Capacity int
	// Verbosity is the highest V-level recorded.
	Verbosity int
	// Delegate, when set, also receives every entry as it is logged.
	Delegate logr.Logger
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Capacity: 256,
	}
}

// ApplyDefaults fills in zero values with defaults
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Capacity == 0 {
		c.Capacity = defaults.Capacity
	}
}

// Recorder retains the last Capacity log entries written through its Logger.
// It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries *ringbuffer.Buffer[Entry]
	evicted uint64

	verbosity int
	delegate  logr.Logger
}

func NewRecorder(config Config) (*Recorder, error) {
	config.ApplyDefaults()
	if config.Verbosity < 0 {
		return nil, fmt.Errorf("verbosity must not be negative, got %d", config.Verbosity)
	}

	r := &Recorder{
		verbosity: config.Verbosity,
		delegate:  config.Delegate,
	}
	entries, err := ringbuffer.New(config.Capacity, ringbuffer.WithEvictCallback(func(Entry) {
		r.evicted++
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create entry buffer: %w", err)
	}
	r.entries = entries
	return r, nil
}

// Logger returns a logr.Logger that records into r.
func (r *Recorder) Logger() logr.Logger {
	return logr.New(&sink{rec: r, delegate: r.delegate})
}

// Entries returns the retained entries, oldest first.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.ToSlice()
}

// Len returns the number of retained entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}

// Evicted returns how many entries were discarded to make room for newer ones.
func (r *Recorder) Evicted() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

// Last returns the most recent entry, if any.
func (r *Recorder) Last() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries.Empty() {
		return Entry{}, false
	}
	return *r.entries.Back(), true
}

// Reset discards all retained entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Clear()
	r.evicted = 0
}

// Replay writes the retained entries, oldest first, to logger. The recorder
// is left unchanged.
func (r *Recorder) Replay(logger logr.Logger) {
	for _, e := range r.Entries() {
		l := logger
		for _, name := range e.Names {
			l = l.WithName(name)
		}
		kv := append([]any{"recordedAt", e.Time}, e.KeysAndValues...)
		if e.IsError {
			l.Error(e.Err, e.Message, kv...)
			continue
		}
		l.V(e.Level).Info(e.Message, kv...)
	}
}

func (r *Recorder) record(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.PushBack(e)
}

type sink struct {
	rec      *Recorder
	names    []string
	values   []any
	delegate logr.Logger
}

var _ logr.LogSink = (*sink)(nil)

func (s *sink) Init(logr.RuntimeInfo) {}

func (s *sink) Enabled(level int) bool {
	return level <= s.rec.verbosity
}

func (s *sink) Info(level int, msg string, keysAndValues ...any) {
	s.rec.record(Entry{
		Time:          time.Now(),
		Name:          strings.Join(s.names, "/"),
		Names:         s.names,
		Level:         level,
		Message:       msg,
		KeysAndValues: s.merge(keysAndValues),
	})
	if s.delegate.GetSink() != nil {
		s.delegate.V(level).Info(msg, keysAndValues...)
	}
}

func (s *sink) Error(err error, msg string, keysAndValues ...any) {
	s.rec.record(Entry{
		Time:          time.Now(),
		Name:          strings.Join(s.names, "/"),
		Names:         s.names,
		Message:       msg,
		IsError:       true,
		Err:           err,
		KeysAndValues: s.merge(keysAndValues),
	})
	if s.delegate.GetSink() != nil {
		s.delegate.Error(err, msg, keysAndValues...)
	}
}

func (s *sink) WithValues(keysAndValues ...any) logr.LogSink {
	c := *s
	c.values = s.merge(keysAndValues)
	if s.delegate.GetSink() != nil {
		c.delegate = s.delegate.WithValues(keysAndValues...)
	}
	return &c
}

func (s *sink) WithName(name string) logr.LogSink {
	c := *s
	// Segments are never modified in place, so entries can share them.
	c.names = append(slices.Clip(s.names), name)
	if s.delegate.GetSink() != nil {
		c.delegate = s.delegate.WithName(name)
	}
	return &c
}

// merge returns a fresh slice holding the sink's values followed by kv.
func (s *sink) merge(kv []any) []any {
	out := make([]any, 0, len(s.values)+len(kv))
	out = append(out, s.values...)
	return append(out, kv...)
}
