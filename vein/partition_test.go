package vein

import (
	"errors"
	"testing"
)

var partSchema = MustSchema(
	Field{Name: "year", Type: Int16, Nullable: true},
	Field{Name: "region", Type: String, Nullable: true},
)

// -----------------------------------------------------------------------------
// Segment parsing
// -----------------------------------------------------------------------------

func TestDirectoryPartitioning_ParseSegment(t *testing.T) {
	p := NewDirectoryPartitioning(partSchema)
	tests := []struct {
		depth   int
		segment string
		want    string
	}{
		{0, "2024", "(year == 2024)"},
		{1, "eu", `(region == "eu")`},
		{1, "a%20b", `(region == "a b")`},
		{1, HiveDefaultPartition, "is_null(region)"},
	}
	for _, tt := range tests {
		e, err := p.ParseSegment(tt.depth, tt.segment)
		if err != nil {
			t.Fatalf("ParseSegment(%d, %q): %v", tt.depth, tt.segment, err)
		}
		if e.String() != tt.want {
			t.Errorf("ParseSegment(%d, %q) = %s, want %s", tt.depth, tt.segment, e, tt.want)
		}
	}

	e, err := p.ParseSegment(2, "extra")
	if err != nil || e != nil {
		t.Errorf("segment beyond schema: got %v, %v; want nil, nil", e, err)
	}
}

func TestDirectoryPartitioning_InvalidValue(t *testing.T) {
	p := NewDirectoryPartitioning(partSchema)
	for _, seg := range []string{"twenty", "70000", "%zz"} {
		if _, err := p.ParseSegment(0, seg); !errors.Is(err, ErrInvalidPartition) {
			t.Errorf("ParseSegment(0, %q): expected ErrInvalidPartition, got %v", seg, err)
		}
	}
}

func TestHivePartitioning_ParseSegment(t *testing.T) {
	p := NewHivePartitioning(partSchema)
	tests := []struct {
		segment string
		want    string // empty: no expression
	}{
		{"year=2024", "(year == 2024)"},
		{"region=us%2Fwest", `(region == "us/west")`},
		{"region=" + HiveDefaultPartition, "is_null(region)"},
		{"other=1", ""},
		{"plain", ""},
	}
	for _, tt := range tests {
		e, err := p.ParseSegment(0, tt.segment)
		if err != nil {
			t.Fatalf("ParseSegment(%q): %v", tt.segment, err)
		}
		switch {
		case tt.want == "" && e != nil:
			t.Errorf("ParseSegment(%q) = %s, want nil", tt.segment, e)
		case tt.want != "" && (e == nil || e.String() != tt.want):
			t.Errorf("ParseSegment(%q) = %v, want %s", tt.segment, e, tt.want)
		}
	}
	if _, err := p.ParseSegment(0, "year=abc"); !errors.Is(err, ErrInvalidPartition) {
		t.Errorf("expected ErrInvalidPartition, got %v", err)
	}
}

func TestParsePath(t *testing.T) {
	p := NewHivePartitioning(partSchema)
	e, err := ParsePath(p, "year=2024/misc/region=eu")
	if err != nil {
		t.Fatal(err)
	}
	if want := `((year == 2024) and (region == "eu"))`; e.String() != want {
		t.Errorf("ParsePath = %s, want %s", e, want)
	}
	e, err = ParsePath(p, "")
	if err != nil || e != nil {
		t.Errorf("empty path: got %v, %v", e, err)
	}
}

// -----------------------------------------------------------------------------
// Formatting
// -----------------------------------------------------------------------------

func TestPartitioning_FormatRoundTrip(t *testing.T) {
	values := map[string]any{"year": 2024, "region": "us/west"}
	tests := []struct {
		p    Partitioning
		want string
	}{
		{NewDirectoryPartitioning(partSchema), "2024/us%2Fwest"},
		{NewHivePartitioning(partSchema), "year=2024/region=us%2Fwest"},
	}
	for _, tt := range tests {
		t.Run(tt.p.Name(), func(t *testing.T) {
			dir, err := tt.p.Format(values)
			if err != nil {
				t.Fatalf("Format: %v", err)
			}
			if dir != tt.want {
				t.Fatalf("Format = %q, want %q", dir, tt.want)
			}
			e, err := ParsePath(tt.p, dir)
			if err != nil {
				t.Fatalf("ParsePath(%q): %v", dir, err)
			}
			got := partitionValues(e)
			if got["year"].Value != int64(2024) || got["region"].Value != "us/west" {
				t.Errorf("round trip lost values: %v", got)
			}
		})
	}
}

func TestPartitioning_FormatErrors(t *testing.T) {
	dir := NewDirectoryPartitioning(partSchema)
	if _, err := dir.Format(map[string]any{"year": 2024}); err == nil {
		t.Error("expected error for missing key")
	}
	if _, err := dir.Format(map[string]any{"year": 2024, "region": nil}); err == nil {
		t.Error("expected error for null in directory partitioning")
	}
	if _, err := dir.Format(map[string]any{"year": 1 << 20, "region": "eu"}); err == nil {
		t.Error("expected error for year out of int16 range")
	}

	hive := NewHivePartitioning(partSchema)
	got, err := hive.Format(map[string]any{"year": 2024, "region": nil})
	if err != nil {
		t.Fatal(err)
	}
	if want := "year=2024/region=" + HiveDefaultPartition; got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

// -----------------------------------------------------------------------------
// Factories
// -----------------------------------------------------------------------------

func TestHivePartitioningFactory(t *testing.T) {
	f := HivePartitioningFactory()
	schema, err := f.Inspect([]string{
		"year=2023/region=eu",
		"year=2024/region=" + HiveDefaultPartition,
		"year=2024/region=us",
		"",
		"year=3000000000",
		"notes",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := MustSchema(
		Field{Name: "year", Type: Int64, Nullable: true},
		Field{Name: "region", Type: String, Nullable: true},
	)
	if !schema.Equal(want) {
		t.Fatalf("Inspect = %s, want %s", schema, want)
	}

	dataset := MustSchema(
		Field{Name: "id", Type: Int64},
		Field{Name: "year", Type: Int32, Nullable: true},
	)
	p, err := f.Finish(dataset)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "hive" || p.Schema().NumFields() != 1 || p.Schema().Field(0).Type != Int32 {
		t.Errorf("Finish = %s %s", p.Name(), p.Schema())
	}
}

func TestHivePartitioningFactory_AllNullIsString(t *testing.T) {
	schema, err := HivePartitioningFactory().Inspect([]string{"k=" + HiveDefaultPartition})
	if err != nil {
		t.Fatal(err)
	}
	if f, ok := schema.FieldByName("k"); !ok || f.Type != String {
		t.Errorf("Inspect = %s, want k: string", schema)
	}
}

func TestDirectoryPartitioningFactory(t *testing.T) {
	f := DirectoryPartitioningFactory("year", "region")
	schema, err := f.Inspect([]string{"2023/eu", "2024/us/deeper", "2024"})
	if err != nil {
		t.Fatal(err)
	}
	if schema.String() != "{year: int32, region: string}" {
		t.Errorf("Inspect = %s", schema)
	}

	p, err := f.Finish(MustSchema(
		Field{Name: "region", Type: String, Nullable: true},
		Field{Name: "year", Type: Int32, Nullable: true},
	))
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Schema().Names(); len(got) != 2 || got[0] != "year" {
		t.Errorf("Finish kept positional order? got %v", got)
	}

	if _, err := f.Finish(MustSchema(Field{Name: "year", Type: Int32})); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}

func TestInferPartitionType(t *testing.T) {
	tests := []struct {
		values []string
		want   DataType
	}{
		{nil, String},
		{[]string{"1", "-2", "300"}, Int32},
		{[]string{"1", "2147483648"}, Int64},
		{[]string{"1", "x"}, String},
		{[]string{"1.5"}, String},
	}
	for _, tt := range tests {
		if got := inferPartitionType(tt.values); got != tt.want {
			t.Errorf("inferPartitionType(%v) = %s, want %s", tt.values, got, tt.want)
		}
	}
}
