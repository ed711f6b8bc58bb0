package vein

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidPath indicates a path that would escape the storage root, or an
// invalid byte range.
var ErrInvalidPath = errors.New("invalid path: escapes storage root")

// cleanKey normalises a file path to a slash-separated key relative to the
// store root.
func cleanKey(p string) (string, error) {
	if p == "" {
		return "", ErrInvalidPath
	}
	key := path.Clean(filepath.ToSlash(p))
	switch {
	case key == ".", key == "..", strings.HasPrefix(key, "../"), path.IsAbs(key):
		return "", ErrInvalidPath
	}
	return key, nil
}

// cleanPrefix normalises a listing prefix. The empty prefix lists everything.
func cleanPrefix(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	key := path.Clean(filepath.ToSlash(p))
	switch {
	case key == ".":
		return "", nil
	case key == "..", strings.HasPrefix(key, "../"), path.IsAbs(key):
		return "", ErrInvalidPath
	}
	return key, nil
}

func checkRange(offset, length int64) error {
	if offset < 0 || length < 0 || offset > math.MaxInt64-length {
		return fmt.Errorf("%w: range offset %d length %d", ErrInvalidPath, offset, length)
	}
	return nil
}

// sliceRange returns data[offset:offset+length], clipped to the data.
func sliceRange(data []byte, offset, length int64) []byte {
	size := int64(len(data))
	if offset >= size {
		return []byte{}
	}
	end := min(offset+length, size)
	return bytes.Clone(data[offset:end])
}

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

// fsStore implements Store over a directory of the local filesystem.
type fsStore struct {
	root string
}

// NewFS creates a filesystem-backed Store rooted at the given directory.
// The directory must exist.
func NewFS(root string) (Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vein: %s is not a directory: %w", root, os.ErrNotExist)
	}
	return &fsStore{root: root}, nil
}

func (f *fsStore) resolve(p string) (string, error) {
	key, err := cleanKey(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(key)), nil
}

func (f *fsStore) Put(_ context.Context, p string, r io.Reader) error {
	full, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrPathExists
		}
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (f *fsStore) open(p string) (*os.File, error) {
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return file, err
}

func (f *fsStore) Get(_ context.Context, p string) (io.ReadCloser, error) {
	return f.open(p)
}

func (f *fsStore) Stat(_ context.Context, p string) (int64, error) {
	full, err := f.resolve(p)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) || err == nil && info.IsDir() {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *fsStore) ReadRange(_ context.Context, p string, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}
	file, err := f.open(p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if offset >= info.Size() || length == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, min(length, info.Size()-offset))
	n, err := file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// List walks the directory named by prefix. Keys are sorted as strings, which
// is not the order filepath.WalkDir visits them in.
func (f *fsStore) List(_ context.Context, prefix string) ([]string, error) {
	key, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.WalkDir(filepath.Join(f.root, filepath.FromSlash(key)), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// memoryStore implements Store over an in-memory map.
type memoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemory creates an in-memory Store. It is safe for concurrent use.
func NewMemory() Store {
	return &memoryStore{files: make(map[string][]byte)}
}

func (m *memoryStore) load(p string) ([]byte, error) {
	key, err := cleanKey(p)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.files[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *memoryStore) Put(_ context.Context, p string, r io.Reader) error {
	key, err := cleanKey(p)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[key]; ok {
		return ErrPathExists
	}
	m.files[key] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, p string) (io.ReadCloser, error) {
	data, err := m.load(p)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, p string) (int64, error) {
	data, err := m.load(p)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (m *memoryStore) ReadRange(_ context.Context, p string, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}
	data, err := m.load(p)
	if err != nil {
		return nil, err
	}
	return sliceRange(data, offset, length), nil
}

// List returns the keys starting with prefix, sorted.
func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	key, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.files {
		if strings.HasPrefix(k, key) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// -----------------------------------------------------------------------------
// Random access
// -----------------------------------------------------------------------------

// storeReaderAt serves io.ReaderAt calls with Store.ReadRange, so a reader
// fetches only the byte ranges it asks for. It is safe for concurrent use.
type storeReaderAt struct {
	ctx   context.Context
	store Store
	path  string
	size  int64
}

func (r *storeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("vein: read %s at negative offset %d", r.path, off)
	}
	if off >= r.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	data, err := r.store.ReadRange(r.ctx, r.path, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
