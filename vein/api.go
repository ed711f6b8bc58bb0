// Package vein scans collections of files, optionally partitioned by directory
// structure, as a single logical table.
//
// Vein focuses on deciding what must be read and in what logical shape:
// discovery, partition inference, pruning, and scan assembly. It does not
// implement aggregation, joins, sorting, or writing datasets.
package vein

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store abstracts the underlying file or object storage system.
//
// Implementations may target filesystems, S3, or other object stores.
// Vein only reads through a Store; Put exists so fixtures and examples can
// populate one.
type Store interface {
	// Put writes data to the given path.
	Put(ctx context.Context, path string, r io.Reader) error

	// Get retrieves data from the given path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// List returns all file paths under the given prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)

	// Stat returns the size of the file at path in bytes.
	Stat(ctx context.Context, path string) (int64, error)

	// ReadRange reads up to length bytes starting at offset. A range past the
	// end of the file returns the bytes available, possibly none.
	ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error)
}

// -----------------------------------------------------------------------------
// FileFormat interface
// -----------------------------------------------------------------------------

// FileSource identifies a single file within a Store.
type FileSource struct {
	Store Store
	Path  string
}

// Open returns a reader for the file, transparently decompressed according to
// the file extension.
func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := s.Store.Get(ctx, s.Path)
	if err != nil {
		return nil, err
	}
	d := decompressorFor(s.Path)
	dr, err := d.Decompress(rc)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	return &stackedReadCloser{Reader: dr, closers: []io.Closer{dr, rc}}, nil
}

// ReaderAt returns random access to the file and its size. Uncompressed files
// are served by ranged Store reads; compressed files are decompressed into
// memory first.
func (s FileSource) ReaderAt(ctx context.Context) (io.ReaderAt, int64, error) {
	if decompressorFor(s.Path).Extension() != "" {
		rc, err := s.Open(ctx)
		if err != nil {
			return nil, 0, err
		}
		defer func() { _ = rc.Close() }()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, 0, err
		}
		return bytes.NewReader(data), int64(len(data)), nil
	}
	size, err := s.Store.Stat(ctx, s.Path)
	if err != nil {
		return nil, 0, err
	}
	return &storeReaderAt{ctx: ctx, store: s.Store, path: s.Path, size: size}, size, nil
}

// ReadOptions are hints passed to a physical reader. Readers may honour any
// subset of them; the fragment layer re-applies projection and filtering.
type ReadOptions struct {
	// Columns lists the physical columns needed. Nil means all columns.
	Columns []string

	// Filter is the residual filter for this file. May be nil.
	Filter Expression

	// Split selects one split of a splittable file. Negative means the whole file.
	Split int

	// BatchSize bounds the number of rows per batch.
	BatchSize int

	// Schema declares the types expected for named columns. Readers of
	// self-describing formats ignore it; others use it to type values.
	Schema *Schema
}

// FileFormat is the physical reader capability: it learns a file's schema from
// metadata and produces its rows as record batches.
//
// Formats are pluggable and orthogonal to storage, compression, and partitioning.
type FileFormat interface {
	// Name returns the format identifier (for example, "parquet" or "jsonl").
	Name() string

	// Matches reports whether a path holds data in this format.
	Matches(path string) bool

	// Splittable reports whether files can be scanned as independent splits.
	Splittable() bool

	// CountSplits returns the number of independent splits in a file.
	CountSplits(ctx context.Context, src FileSource) (int, error)

	// Inspect returns the physical schema of a file without reading all of it.
	Inspect(ctx context.Context, src FileSource) (*Schema, error)

	// Read returns the file's rows as a lazy sequence of batches.
	Read(ctx context.Context, src FileSource, opts ReadOptions) (RecordBatchIterator, error)
}

// -----------------------------------------------------------------------------
// Decompressor interface
// -----------------------------------------------------------------------------

// Decompressor handles decompression of data streams.
type Decompressor interface {
	// Name returns the compressor identifier (for example, "gzip", "zstd", "noop").
	Name() string

	// Extension returns the file extension (for example, ".gz", ".zst", "").
	Extension() string

	// Decompress wraps a reader with decompression.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// -----------------------------------------------------------------------------
// Evaluator interface
// -----------------------------------------------------------------------------

// Evaluator applies a filter expression to materialised rows.
type Evaluator interface {
	// Evaluate returns a mask with one entry per row; true keeps the row.
	Evaluate(expr Expression, batch *RecordBatch) ([]bool, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrNotFound indicates a requested resource does not exist.
	ErrNotFound = errNotFound{}

	// ErrPathExists indicates an attempt to write to an existing path.
	ErrPathExists = errPathExists{}

	// ErrInvalidFormat indicates a file could not be decoded by its format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrSchemaViolation indicates data or a schema that breaks schema rules.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrNilSource indicates a nil source or fragment in a dataset's sources.
	ErrNilSource = errors.New("nil source")

	// ErrDuplicateField indicates a schema declares the same field name twice.
	ErrDuplicateField = errors.New("duplicate field")

	// ErrSchemaConflict indicates two schemas disagree on a field's type.
	ErrSchemaConflict = errors.New("schema conflict")

	// ErrUnknownField indicates a reference to a field the schema does not have.
	ErrUnknownField = errors.New("unknown field")

	// ErrTypeMismatch indicates a comparison between incomparable types.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnsupportedType indicates a value or physical type vein cannot represent.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrInvalidPartition indicates a partition value that cannot be parsed.
	ErrInvalidPartition = errors.New("invalid partition")
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errPathExists struct{}

func (errPathExists) Error() string { return "path exists" }

// fieldError provides details about a failure tied to one named field.
type fieldError struct {
	Field   string
	Message string
	Kind    error
}

func (e *fieldError) Error() string {
	return "vein: " + e.Kind.Error() + ": " + e.Field + ": " + e.Message
}

func (e *fieldError) Unwrap() error {
	return e.Kind
}

func newFieldError(kind error, field, msg string) error {
	return &fieldError{Field: field, Message: msg, Kind: kind}
}

type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
