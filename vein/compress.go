package vein

import (
	"compress/gzip"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// decompressors are matched against file extensions in order.
var decompressors = []Decompressor{
	NewGzipDecompressor(),
	NewZstdDecompressor(),
	NewSnappyDecompressor(),
	NewLZ4Decompressor(),
}

// decompressorFor selects a decompressor by file extension, falling back to noop.
func decompressorFor(path string) Decompressor {
	for _, d := range decompressors {
		if strings.HasSuffix(path, d.Extension()) {
			return d
		}
	}
	return NewNoOpDecompressor()
}

// stripCompressionExt removes a recognised compression extension from path.
func stripCompressionExt(path string) string {
	return strings.TrimSuffix(path, decompressorFor(path).Extension())
}

// -----------------------------------------------------------------------------
// Gzip
// -----------------------------------------------------------------------------

type gzipDecompressor struct{}

// NewGzipDecompressor reads gzip streams (.gz).
func NewGzipDecompressor() Decompressor { return &gzipDecompressor{} }

func (g *gzipDecompressor) Name() string { return "gzip" }

func (g *gzipDecompressor) Extension() string { return ".gz" }

func (g *gzipDecompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// -----------------------------------------------------------------------------
// Zstd
// -----------------------------------------------------------------------------

type zstdDecompressor struct{}

// NewZstdDecompressor reads Zstandard streams (.zst).
func NewZstdDecompressor() Decompressor { return &zstdDecompressor{} }

func (z *zstdDecompressor) Name() string { return "zstd" }

func (z *zstdDecompressor) Extension() string { return ".zst" }

func (z *zstdDecompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// -----------------------------------------------------------------------------
// Snappy
// -----------------------------------------------------------------------------

type snappyDecompressor struct{}

// NewSnappyDecompressor reads snappy framed streams (.sz).
func NewSnappyDecompressor() Decompressor { return &snappyDecompressor{} }

func (s *snappyDecompressor) Name() string { return "snappy" }

func (s *snappyDecompressor) Extension() string { return ".sz" }

func (s *snappyDecompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}

// -----------------------------------------------------------------------------
// LZ4
// -----------------------------------------------------------------------------

type lz4Decompressor struct{}

// NewLZ4Decompressor reads LZ4 frame streams (.lz4).
func NewLZ4Decompressor() Decompressor { return &lz4Decompressor{} }

func (l *lz4Decompressor) Name() string { return "lz4" }

func (l *lz4Decompressor) Extension() string { return ".lz4" }

func (l *lz4Decompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// -----------------------------------------------------------------------------
// NoOp
// -----------------------------------------------------------------------------

type noopDecompressor struct{}

// NewNoOpDecompressor passes data through unchanged.
func NewNoOpDecompressor() Decompressor { return &noopDecompressor{} }

func (n *noopDecompressor) Name() string { return "noop" }

func (n *noopDecompressor) Extension() string { return "" }

func (n *noopDecompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}
