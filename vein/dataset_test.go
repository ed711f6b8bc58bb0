package vein_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/vein/vein"
)

var memSchema = vein.MustSchema(
	vein.Field{Name: "id", Type: vein.Int64},
	vein.Field{Name: "day", Type: vein.String, Nullable: true},
)

func memSource(t *testing.T, day string, ids ...any) vein.DataSource {
	t.Helper()
	b, err := vein.NewRecordBatch(vein.MustSchema(vein.Field{Name: "id", Type: vein.Int64}), ids)
	require.NoError(t, err)
	partition := vein.Equal(vein.Ref("day"), vein.Lit(day))
	return vein.NewSimpleSource(partition, vein.NewInMemoryFragment([]*vein.RecordBatch{b}, partition))
}

func TestNewDataset_Options(t *testing.T) {
	discoveryOnly := map[string]vein.Option{
		"WithFormat":              vein.WithFormat(vein.NewJSONLFormat()),
		"WithPartitioning":        vein.WithPartitioning(vein.NewHivePartitioning(memSchema)),
		"WithPartitioningFactory": vein.WithPartitioningFactory(vein.HivePartitioningFactory()),
		"WithSchema":              vein.WithSchema(memSchema),
		"WithIgnorePrefixes":      vein.WithIgnorePrefixes("~"),
	}
	for name, opt := range discoveryOnly {
		t.Run(name, func(t *testing.T) {
			_, err := vein.NewDataset(memSchema, nil, opt)
			assert.ErrorIs(t, err, vein.ErrOptionNotValidForDataset)
		})
	}

	_, err := vein.NewDataset(memSchema, nil, vein.WithStrictSchema(), vein.WithLogger(slog.Default()))
	assert.NoError(t, err)

	_, err = vein.NewDataset(memSchema, nil, vein.WithLogger(nil))
	assert.Error(t, err)

	_, err = vein.NewDataset(nil, nil)
	assert.ErrorIs(t, err, vein.ErrSchemaViolation)
}

func TestNewDataset_RejectsNilSources(t *testing.T) {
	b, err := vein.NewRecordBatch(vein.MustSchema(vein.Field{Name: "id", Type: vein.Int64}), []any{int64(1)})
	require.NoError(t, err)
	frag := vein.NewInMemoryFragment([]*vein.RecordBatch{b}, nil)

	for name, sources := range map[string][]vein.DataSource{
		"nil interface":     {memSource(t, "mon", 1), nil},
		"nil simple source": {(*vein.SimpleSource)(nil)},
		"nil tree source":   {(*vein.TreeSource)(nil)},
		"nil tree child":    {vein.NewTreeSource(nil, vein.NewSimpleSource(nil, frag), nil)},
		"nil fragment":      {vein.NewTreeSource(nil, vein.NewSimpleSource(nil, frag, nil))},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := vein.NewDataset(memSchema, sources)
			assert.ErrorIs(t, err, vein.ErrNilSource)
		})
	}
}

func TestDataset_MaterialisesPartitionsOfEnclosingSources(t *testing.T) {
	b, err := vein.NewRecordBatch(vein.MustSchema(vein.Field{Name: "id", Type: vein.Int64}), []any{int64(1), int64(2)})
	require.NoError(t, err)
	monday := vein.Equal(vein.Ref("day"), vein.Lit("mon"))
	src := vein.NewTreeSource(nil,
		vein.NewSimpleSource(monday, vein.NewInMemoryFragment([]*vein.RecordBatch{b}, nil)),
	)
	ds, err := vein.NewDataset(memSchema, []vein.DataSource{src})
	require.NoError(t, err)

	for _, filter := range []vein.Expression{vein.True(), monday} {
		b := ds.NewScan()
		require.NoError(t, b.Filter(filter))
		sc, err := b.Finish()
		require.NoError(t, err)
		tbl, err := sc.ToTable(context.Background())
		require.NoError(t, err)

		days, err := tbl.Column("day")
		require.NoError(t, err)
		assert.Equal(t, []any{"mon", "mon"}, days, "filter %s", filter)
	}
}

func TestDataset_InMemorySources(t *testing.T) {
	sources := []vein.DataSource{
		memSource(t, "mon", 1, 2),
		memSource(t, "tue", 3),
		memSource(t, "wed", 4, 5),
	}
	ds, err := vein.NewDataset(memSchema, sources)
	require.NoError(t, err)
	assert.Len(t, ds.Sources(), 3)

	b := ds.NewScan()
	require.NoError(t, b.Filter(vein.Or(
		vein.Equal(vein.Ref("day"), vein.Lit("mon")),
		vein.Equal(vein.Ref("day"), vein.Lit("wed")),
	)))
	require.NoError(t, b.Filter(vein.NotEqual(vein.Ref("id"), vein.Lit(2))))
	sc, err := b.Finish()
	require.NoError(t, err)

	tbl, err := sc.ToTable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"id": int64(1), "day": "mon"},
		{"id": int64(4), "day": "wed"},
		{"id": int64(5), "day": "wed"},
	}, tbl.Rows())
}

func TestDataset_SourcesIsACopy(t *testing.T) {
	ds, err := vein.NewDataset(memSchema, []vein.DataSource{memSource(t, "mon", 1)})
	require.NoError(t, err)
	ds.Sources()[0] = nil
	assert.NotNil(t, ds.Sources()[0])
}
