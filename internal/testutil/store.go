package testutil

import (
	"context"
	"io"
	"sort"
	"sync"
)

// Store mirrors the method set of vein.Store so this package does not import
// vein (vein's own tests import testutil).
type Store interface {
	Put(ctx context.Context, path string, r io.Reader) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Stat(ctx context.Context, path string) (int64, error)
	ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error)
}

// InstrumentedStore wraps a Store, recording every read and optionally failing
// reads of chosen paths. Whole-object Gets and ranged reads are counted
// separately. It is safe for concurrent use.
type InstrumentedStore struct {
	inner Store

	mu     sync.Mutex
	gets   map[string]int
	ranges map[string]int
	bytes  map[string]int64
	fails  map[string]error
}

// NewInstrumentedStore wraps inner.
func NewInstrumentedStore(inner Store) *InstrumentedStore {
	s := &InstrumentedStore{
		inner: inner,
		fails: make(map[string]error),
	}
	s.Reset()
	return s
}

func (s *InstrumentedStore) Put(ctx context.Context, path string, r io.Reader) error {
	return s.inner.Put(ctx, path, r)
}

func (s *InstrumentedStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.gets[path]++
	err := s.fails[path]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	rc, err := s.inner.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return &countingReader{ReadCloser: rc, store: s, path: path}, nil
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Stat is metadata only; it is not counted as a read but honours FailOn.
func (s *InstrumentedStore) Stat(ctx context.Context, path string) (int64, error) {
	s.mu.Lock()
	err := s.fails[path]
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.inner.Stat(ctx, path)
}

func (s *InstrumentedStore) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	s.mu.Lock()
	s.ranges[path]++
	err := s.fails[path]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	data, err := s.inner.ReadRange(ctx, path, offset, length)
	if err != nil {
		return nil, err
	}
	s.addBytes(path, len(data))
	return data, nil
}

func (s *InstrumentedStore) addBytes(path string, n int) {
	s.mu.Lock()
	s.bytes[path] += int64(n)
	s.mu.Unlock()
}

// FailOn makes every subsequent read or Stat of path return err.
func (s *InstrumentedStore) FailOn(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[path] = err
}

// Opened returns the distinct paths read since the last Reset, by Get or by
// range, sorted.
func (s *InstrumentedStore) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(s.gets)+len(s.ranges))
	for p := range s.gets {
		seen[p] = struct{}{}
	}
	for p := range s.ranges {
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Gets returns how many times path was fetched whole since the last Reset.
func (s *InstrumentedStore) Gets(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[path]
}

// RangeReads returns how many ranged reads of path were issued since the last
// Reset.
func (s *InstrumentedStore) RangeReads(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ranges[path]
}

// BytesRead returns the bytes of path delivered since the last Reset, by Get
// and by range.
func (s *InstrumentedStore) BytesRead(path string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes[path]
}

// Reset clears the recorded reads. Failures set by FailOn are kept.
func (s *InstrumentedStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets = make(map[string]int)
	s.ranges = make(map[string]int)
	s.bytes = make(map[string]int64)
}

type countingReader struct {
	io.ReadCloser
	store *InstrumentedStore
	path  string
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.store.addBytes(r.path, n)
	return n, err
}
