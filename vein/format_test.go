package vein

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/justapithecus/vein/internal/testutil"
)

func putString(t *testing.T, s Store, path, data string) FileSource {
	t.Helper()
	if err := s.Put(context.Background(), path, strings.NewReader(data)); err != nil {
		t.Fatalf("Put(%q): %v", path, err)
	}
	return FileSource{Store: s, Path: path}
}

func readAllBatches(t *testing.T, f FileFormat, src FileSource, opts ReadOptions) []*RecordBatch {
	t.Helper()
	it, err := f.Read(context.Background(), src, opts)
	if err != nil {
		t.Fatalf("Read(%s): %v", src.Path, err)
	}
	defer func() { _ = it.Close() }()
	batches, err := CollectBatches(it)
	if err != nil {
		t.Fatalf("CollectBatches(%s): %v", src.Path, err)
	}
	return batches
}

// -----------------------------------------------------------------------------
// JSONL
// -----------------------------------------------------------------------------

const jsonlSample = `{"id":1,"name":"ada","score":1.5,"tags":["x"],"ok":true}
{"id":2,"name":null,"score":2,"extra":"e"}

{"id":3,"name":"cy","score":-0.5,"ok":false}
`

func TestJSONLFormat_Matches(t *testing.T) {
	f := NewJSONLFormat()
	for _, p := range []string{"a.jsonl", "a/b.ndjson", "a.jsonl.gz", "a.ndjson.zst"} {
		if !f.Matches(p) {
			t.Errorf("expected match for %s", p)
		}
	}
	for _, p := range []string{"a.json", "a.parquet", "a.gz", "jsonl"} {
		if f.Matches(p) {
			t.Errorf("unexpected match for %s", p)
		}
	}
}

func TestJSONLFormat_Inspect(t *testing.T) {
	src := putString(t, NewMemory(), "d/f.jsonl", jsonlSample)
	schema, err := NewJSONLFormat().Inspect(context.Background(), src)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	want := "{id: int64, name: string, score: float64, tags: string, ok: bool, extra: string}"
	if schema.String() != want {
		t.Errorf("Inspect = %s, want %s", schema, want)
	}
}

func TestJSONLFormat_Read(t *testing.T) {
	src := putString(t, NewMemory(), "d/f.jsonl", jsonlSample)
	batches := readAllBatches(t, NewJSONLFormat(), src, ReadOptions{Split: -1})
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	b := batches[0]
	if b.NumRows() != 3 {
		t.Fatalf("expected 3 rows (blank line skipped), got %d", b.NumRows())
	}
	row0 := b.Row(0)
	if row0["id"] != int64(1) || row0["tags"] != `["x"]` || row0["ok"] != true || row0["extra"] != nil {
		t.Errorf("row 0 = %v", row0)
	}
	row1 := b.Row(1)
	if row1["name"] != nil || row1["score"] != 2.0 || row1["extra"] != "e" {
		t.Errorf("row 1 = %v", row1)
	}
}

func TestJSONLFormat_ReadProjectionAndBatchSize(t *testing.T) {
	var lines strings.Builder
	for i := 0; i < 5; i++ {
		lines.WriteString(`{"a":` + string(rune('0'+i)) + `,"b":"x"}` + "\n")
	}
	src := putString(t, NewMemory(), "f.ndjson", lines.String())

	batches := readAllBatches(t, NewJSONLFormat(), src, ReadOptions{
		Columns:   []string{"b", "missing", "a"},
		Split:     -1,
		BatchSize: 2,
	})
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = b.NumRows()
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("batch sizes = %v, want [2 2 1]", sizes)
	}
	if got := batches[0].Schema().Names(); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("projected names = %v, want [b a]", got)
	}
	if v := batches[2].Row(0)["a"]; v != int64(4) {
		t.Errorf("last value = %v, want 4", v)
	}
}

func TestJSONLFormat_ConflictingTypesWidenToString(t *testing.T) {
	src := putString(t, NewMemory(), "f.jsonl", "{\"v\":1}\n{\"v\":\"s\"}\n{\"w\":1}\n{\"w\":2.5}\n")
	schema, err := NewJSONLFormat().Inspect(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if schema.String() != "{v: string, w: float64}" {
		t.Errorf("Inspect = %s", schema)
	}
	b := readAllBatches(t, NewJSONLFormat(), src, ReadOptions{Split: -1})[0]
	if b.Row(0)["v"] != "1" || b.Row(3)["w"] != 2.5 || b.Row(2)["w"] != 1.0 {
		t.Errorf("unexpected values %v %v", b.Row(0), b.Row(2))
	}
}

func TestJSONLFormat_Invalid(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	for name, data := range map[string]string{
		"array.jsonl":  "[1,2]\n",
		"broken.jsonl": "{\"a\":1}\n{bad\n",
	} {
		if _, err := NewJSONLFormat().Inspect(ctx, putString(t, store, name, data)); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("%s: expected ErrInvalidFormat, got %v", name, err)
		}
	}

	src := putString(t, store, "late.jsonl", "{\"id\":1}\n{\"id\":\"x\"}\n")
	it, err := NewJSONLFormat().Read(ctx, src, ReadOptions{
		Split:  -1,
		Schema: MustSchema(Field{Name: "id", Type: Int64}),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = it.Close() }()
	_, err = CollectBatches(it)
	if !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("expected ErrSchemaViolation, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected the offending line in %q", err)
	}

	for name, data := range map[string]string{
		"read-array.jsonl":  "{\"a\":1}\n[1,2]\n",
		"read-broken.jsonl": "{\"a\":1}\n{bad\n",
	} {
		it, err := NewJSONLFormat().Read(ctx, putString(t, store, name, data), ReadOptions{Columns: []string{"a"}, Split: -1})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := CollectBatches(it); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Read %s: expected ErrInvalidFormat, got %v", name, err)
		}
		_ = it.Close()
	}
}

func TestJSONLFormat_ReadTypesFromDeclaredSchema(t *testing.T) {
	src := putString(t, NewMemory(), "f.jsonl", "{\"n\":1,\"f\":2,\"s\":3,\"t\":\"2024-01-01T00:00:00Z\"}\n{\"n\":null,\"f\":2.5}\n")
	declared := MustSchema(
		Field{Name: "n", Type: Int32, Nullable: true},
		Field{Name: "f", Type: Float32, Nullable: true},
		Field{Name: "s", Type: String, Nullable: true},
		Field{Name: "t", Type: Timestamp, Nullable: true},
	)
	b := readAllBatches(t, NewJSONLFormat(), src, ReadOptions{
		Columns: []string{"n", "f", "s", "t"},
		Split:   -1,
		Schema:  declared,
	})[0]

	want := "{n: int64, f: float64, s: string, t: string}"
	if b.Schema().String() != want {
		t.Errorf("physical schema = %s, want %s", b.Schema(), want)
	}
	row0, row1 := b.Row(0), b.Row(1)
	if row0["n"] != int64(1) || row0["f"] != 2.0 || row0["s"] != "3" || row0["t"] != "2024-01-01T00:00:00Z" {
		t.Errorf("row 0 = %v", row0)
	}
	if row1["n"] != nil || row1["f"] != 2.5 || row1["s"] != nil {
		t.Errorf("row 1 = %v", row1)
	}
}

func TestJSONLFormat_ReadSeesColumnsPastInferenceSample(t *testing.T) {
	var lines strings.Builder
	for i := 0; i < 1500; i++ {
		lines.WriteString(`{"id":` + strconv.Itoa(i) + `}` + "\n")
	}
	lines.WriteString(`{"id":1500,"late":"hello"}` + "\n")
	store := testutil.NewInstrumentedStore(NewMemory())
	src := putString(t, store, "f.jsonl", lines.String())

	schema, err := NewJSONLFormat().Inspect(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if schema.HasField("late") {
		t.Fatalf("inference sampled past its limit: %s", schema)
	}

	store.Reset()
	batches := readAllBatches(t, NewJSONLFormat(), src, ReadOptions{
		Columns: []string{"id", "late"},
		Split:   -1,
		Schema:  MustSchema(Field{Name: "id", Type: Int64}, Field{Name: "late", Type: String, Nullable: true}),
	})
	var late []any
	for _, b := range batches {
		if col, ok := b.ColumnByName("late"); ok {
			for _, v := range col {
				if v != nil {
					late = append(late, v)
				}
			}
		}
	}
	if len(late) != 1 || late[0] != "hello" {
		t.Errorf("late values = %v, want [hello]", late)
	}
	if got := store.Gets("f.jsonl"); got != 1 {
		t.Errorf("Read fetched the file %d times, want 1", got)
	}
}

func TestJSONLFormat_EscapedKeys(t *testing.T) {
	src := putString(t, NewMemory(), "f.jsonl", `{"a.b":1,"c*":"x"}`+"\n")
	b := readAllBatches(t, NewJSONLFormat(), src, ReadOptions{Split: -1})[0]
	if b.Row(0)["a.b"] != int64(1) || b.Row(0)["c*"] != "x" {
		t.Errorf("row = %v", b.Row(0))
	}
}

func TestJSONLFormat_MissingFile(t *testing.T) {
	src := FileSource{Store: NewMemory(), Path: "nope.jsonl"}
	if _, err := NewJSONLFormat().Inspect(context.Background(), src); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFormatFor(t *testing.T) {
	formats := DefaultFormats()
	tests := map[string]string{
		"a.parquet":  "parquet",
		"a.jsonl.gz": "jsonl",
		"a.csv":      "",
		"_SUCCESS":   "",
		"a.parq":     "parquet",
		"x/y.ndjson": "jsonl",
	}
	for p, want := range tests {
		f := formatFor(formats, p)
		got := ""
		if f != nil {
			got = f.Name()
		}
		if got != want {
			t.Errorf("formatFor(%q) = %q, want %q", p, got, want)
		}
	}
}
