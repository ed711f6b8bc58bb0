package vein

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
)

// DefaultBatchSize bounds the rows per batch produced by physical readers.
const DefaultBatchSize = 64 * 1024

// -----------------------------------------------------------------------------
// ScanContext and ScanOptions
// -----------------------------------------------------------------------------

// ScanContext carries execution resources shared by every task of a scan.
type ScanContext struct {
	// Concurrency bounds the number of tasks ToTable executes at once.
	Concurrency int

	// BatchSize bounds the rows per batch requested from readers.
	BatchSize int

	// Evaluator applies residual filters to materialised rows.
	Evaluator Evaluator

	// Logger receives debug records about scan execution.
	Logger *slog.Logger
}

// DefaultScanContext returns a context using all CPUs and the row evaluator.
func DefaultScanContext() *ScanContext {
	return &ScanContext{
		Concurrency: runtime.GOMAXPROCS(0),
		BatchSize:   DefaultBatchSize,
		Evaluator:   NewRowEvaluator(),
		Logger:      discardLogger(),
	}
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// ScanOptions describe what a scan needs: the residual filter, the dataset
// schema, and the projected columns. ScanOptions are immutable; the With
// methods return modified copies.
type ScanOptions struct {
	filter     Expression
	schema     *Schema
	projection []string
	strict     bool
	logger     *slog.Logger

	// partition accumulates the partition expressions of every source and
	// fragment the options were bound through, outermost first.
	partition Expression
}

// NewScanOptions returns options reading every column of schema with no filter.
func NewScanOptions(schema *Schema) *ScanOptions {
	return &ScanOptions{schema: schema, filter: True()}
}

func (o *ScanOptions) clone() *ScanOptions {
	c := *o
	return &c
}

// WithFilter returns a copy with the filter replaced.
func (o *ScanOptions) WithFilter(filter Expression) *ScanOptions {
	c := o.clone()
	if filter == nil {
		filter = True()
	}
	c.filter = filter
	return c
}

// WithProjection returns a copy projecting the named columns, in order.
// Nil projects every column of the schema.
func (o *ScanOptions) WithProjection(names []string) *ScanOptions {
	c := o.clone()
	if names != nil {
		c.projection = append([]string(nil), names...)
	} else {
		c.projection = nil
	}
	return c
}

// WithStrict returns a copy in which unexpected physical columns are errors.
func (o *ScanOptions) WithStrict(strict bool) *ScanOptions {
	c := o.clone()
	c.strict = strict
	return c
}

func (o *ScanOptions) withLogger(l *slog.Logger) *ScanOptions {
	c := o.clone()
	c.logger = l
	return c
}

func (o *ScanOptions) withPartition(e Expression) *ScanOptions {
	c := o.clone()
	if c.partition == nil {
		c.partition = e
	} else {
		c.partition = And(c.partition, e)
	}
	return c
}

// Filter returns the residual filter. It is never nil.
func (o *ScanOptions) Filter() Expression { return o.filter }

// Schema returns the dataset schema.
func (o *ScanOptions) Schema() *Schema { return o.schema }

// Strict reports whether unexpected physical columns are errors.
func (o *ScanOptions) Strict() bool { return o.strict }

// Partition returns the conjunction of the partition expressions the options
// were bound under, from the outermost source down to the fragment, or nil.
func (o *ScanOptions) Partition() Expression { return o.partition }

// Projection returns the projected column names.
func (o *ScanOptions) Projection() []string {
	if o.projection == nil {
		return o.schema.Names()
	}
	return append([]string(nil), o.projection...)
}

// ProjectedSchema returns the output schema of the scan.
func (o *ScanOptions) ProjectedSchema() (*Schema, error) {
	if o.projection == nil {
		return o.schema, nil
	}
	return o.schema.Select(o.projection...)
}

func (o *ScanOptions) log() *slog.Logger {
	if o.logger == nil {
		return discardLogger()
	}
	return o.logger
}

// -----------------------------------------------------------------------------
// Fragments
// -----------------------------------------------------------------------------

// Fragment is the smallest unit of work discovery produces: one file or one
// in-memory collection of batches.
//
// The set of fragment kinds is closed.
type Fragment interface {
	// Scan returns the fragment's scan tasks.
	Scan(ctx context.Context, sc *ScanContext) (ScanTaskIterator, error)

	// Splittable reports whether the fragment yields more than one task.
	Splittable() bool

	// ScanOptions returns the options the fragment was bound to.
	ScanOptions() *ScanOptions

	// PartitionExpression returns the predicate true for every row, or nil.
	PartitionExpression() Expression

	bind(opts *ScanOptions) Fragment
}

// InMemoryFragment serves fixed batches. It is never splittable.
type InMemoryFragment struct {
	batches   []*RecordBatch
	partition Expression
	opts      *ScanOptions
}

// NewInMemoryFragment wraps batches with an optional partition expression.
func NewInMemoryFragment(batches []*RecordBatch, partition Expression) *InMemoryFragment {
	return &InMemoryFragment{batches: append([]*RecordBatch(nil), batches...), partition: partition}
}

func (f *InMemoryFragment) Splittable() bool { return false }

func (f *InMemoryFragment) ScanOptions() *ScanOptions { return f.opts }

func (f *InMemoryFragment) PartitionExpression() Expression { return f.partition }

func (f *InMemoryFragment) bind(opts *ScanOptions) Fragment {
	c := *f
	c.opts = opts
	return &c
}

func (f *InMemoryFragment) Scan(_ context.Context, sc *ScanContext) (ScanTaskIterator, error) {
	if f.opts == nil {
		return nil, errUnbound
	}
	return newSliceTaskIterator(&memoryScanTask{fragment: f, sc: sc}), nil
}

// FileFragment is one file in a Store read through a FileFormat.
type FileFragment struct {
	source    FileSource
	format    FileFormat
	partition Expression
	opts      *ScanOptions
}

// NewFileFragment builds a fragment for one file.
func NewFileFragment(src FileSource, format FileFormat, partition Expression) *FileFragment {
	return &FileFragment{source: src, format: format, partition: partition}
}

// Path returns the file path within its store.
func (f *FileFragment) Path() string { return f.source.Path }

// Format returns the fragment's file format.
func (f *FileFragment) Format() FileFormat { return f.format }

func (f *FileFragment) Splittable() bool { return f.format.Splittable() }

func (f *FileFragment) ScanOptions() *ScanOptions { return f.opts }

func (f *FileFragment) PartitionExpression() Expression { return f.partition }

func (f *FileFragment) bind(opts *ScanOptions) Fragment {
	c := *f
	c.opts = opts
	return &c
}

// Scan returns one task per split for splittable formats, otherwise one task.
func (f *FileFragment) Scan(ctx context.Context, sc *ScanContext) (ScanTaskIterator, error) {
	if f.opts == nil {
		return nil, errUnbound
	}
	if !f.format.Splittable() {
		return newSliceTaskIterator(&fileScanTask{fragment: f, sc: sc, split: -1}), nil
	}
	n, err := f.format.CountSplits(ctx, f.source)
	if err != nil {
		return nil, fmt.Errorf("vein: count splits %s: %w", f.source.Path, err)
	}
	tasks := make([]ScanTask, n)
	for i := range tasks {
		tasks[i] = &fileScanTask{fragment: f, sc: sc, split: i}
	}
	return newSliceTaskIterator(tasks...), nil
}

var errUnbound = errors.New("vein: fragment scanned without options; obtain fragments from a DataSource")

// -----------------------------------------------------------------------------
// Scan tasks
// -----------------------------------------------------------------------------

// ScanTask is an independently executable unit producing record batches.
type ScanTask interface {
	// Execute returns the task's batches conformed to the projected schema.
	Execute(ctx context.Context) (RecordBatchIterator, error)

	// Fragment returns the fragment the task belongs to.
	Fragment() Fragment
}

// ScanTaskIterator yields tasks lazily. Next returns io.EOF when exhausted.
type ScanTaskIterator interface {
	Next() (ScanTask, error)
}

type sliceTaskIterator struct {
	tasks []ScanTask
	pos   int
}

func newSliceTaskIterator(tasks ...ScanTask) *sliceTaskIterator {
	return &sliceTaskIterator{tasks: tasks}
}

func (it *sliceTaskIterator) Next() (ScanTask, error) {
	if it.pos >= len(it.tasks) {
		return nil, io.EOF
	}
	t := it.tasks[it.pos]
	it.pos++
	return t, nil
}

type memoryScanTask struct {
	fragment *InMemoryFragment
	sc       *ScanContext
}

func (t *memoryScanTask) Fragment() Fragment { return t.fragment }

func (t *memoryScanTask) Execute(_ context.Context) (RecordBatchIterator, error) {
	c, err := newConformer(t.fragment.opts, t.sc)
	if err != nil {
		return nil, err
	}
	return &conformingIterator{inner: newSliceBatchIterator(t.fragment.batches), conformer: c}, nil
}

type fileScanTask struct {
	fragment *FileFragment
	sc       *ScanContext
	split    int
}

func (t *fileScanTask) Fragment() Fragment { return t.fragment }

func (t *fileScanTask) Execute(ctx context.Context) (RecordBatchIterator, error) {
	f := t.fragment
	c, err := newConformer(f.opts, t.sc)
	if err != nil {
		return nil, err
	}
	t.sc.Logger.Debug("execute scan task",
		"path", f.source.Path,
		"format", f.format.Name(),
		"split", t.split,
		"filter", f.opts.filter.String(),
	)
	it, err := f.format.Read(ctx, f.source, ReadOptions{
		Columns:   c.physicalColumns(),
		Filter:    c.filter,
		Split:     t.split,
		BatchSize: t.sc.BatchSize,
		Schema:    f.opts.schema,
	})
	if err != nil {
		return nil, fmt.Errorf("vein: read %s: %w", f.source.Path, err)
	}
	return &conformingIterator{inner: it, conformer: c, path: f.source.Path}, nil
}

// -----------------------------------------------------------------------------
// Conforming physical batches to the dataset schema
// -----------------------------------------------------------------------------

// conformer turns physical batches into batches of the projected schema:
// partition fields pinned anywhere between the dataset root and the fragment
// are materialised (and win over same-named physical columns), missing columns become null, values are cast to declared types,
// the residual filter is applied and the result projected.
type conformer struct {
	opts       *ScanOptions
	values     map[string]Scalar
	readSchema *Schema
	outSchema  *Schema
	filter     Expression
	evaluator  Evaluator
}

func newConformer(opts *ScanOptions, sc *ScanContext) (*conformer, error) {
	out, err := opts.ProjectedSchema()
	if err != nil {
		return nil, err
	}
	c := &conformer{
		opts:      opts,
		values:    partitionValues(opts.partition),
		outSchema: out,
		evaluator: sc.Evaluator,
	}
	if !isTrueLiteral(opts.filter) {
		c.filter = opts.filter
	}

	// Read the projected columns plus whatever the filter references.
	need := make(map[string]bool)
	for _, n := range out.Names() {
		need[n] = true
	}
	if c.filter != nil {
		for _, n := range FieldNames(c.filter) {
			need[n] = true
		}
	}
	var fields []Field
	for _, f := range opts.schema.fields {
		if need[f.Name] {
			fields = append(fields, f)
		}
	}
	if c.readSchema, err = NewSchema(fields...); err != nil {
		return nil, err
	}
	return c, nil
}

// physicalColumns lists the columns a reader must supply. Nil means all,
// which strict mode needs to detect unexpected columns.
func (c *conformer) physicalColumns() []string {
	if c.opts.strict {
		return nil
	}
	cols := make([]string, 0, c.readSchema.NumFields())
	for _, f := range c.readSchema.fields {
		if _, ok := c.values[f.Name]; !ok {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

func (c *conformer) conform(b *RecordBatch) (*RecordBatch, error) {
	if c.opts.strict {
		for _, f := range b.schema.fields {
			if !c.opts.schema.HasField(f.Name) {
				return nil, newFieldError(ErrSchemaViolation, f.Name, "unexpected physical column")
			}
		}
	}
	n := b.numRows
	cols := make([][]any, c.readSchema.NumFields())
	for i, f := range c.readSchema.fields {
		if v, ok := c.values[f.Name]; ok {
			cs, err := CastScalar(v, f.Type)
			if err != nil {
				return nil, fmt.Errorf("vein: partition value for %s: %w", f.Name, err)
			}
			col := make([]any, n)
			for r := range col {
				col[r] = cs.Value
			}
			cols[i] = col
			continue
		}
		src := b.schema.FieldIndex(f.Name)
		if src < 0 {
			cols[i] = make([]any, n)
			continue
		}
		pf := b.schema.fields[src]
		if pf.Type == f.Type {
			cols[i] = b.columns[src]
			continue
		}
		col := make([]any, n)
		for r, v := range b.columns[src] {
			cs, err := CastScalar(Scalar{Type: pf.Type, Value: v}, f.Type)
			if err != nil {
				return nil, newFieldError(ErrSchemaConflict, f.Name, err.Error())
			}
			col[r] = cs.Value
		}
		cols[i] = col
	}
	rb := newBatch(c.readSchema, cols, n)
	if c.filter != nil {
		mask, err := c.evaluator.Evaluate(c.filter, rb)
		if err != nil {
			return nil, err
		}
		rb = rb.Filter(mask)
	}
	return rb.Project(c.outSchema)
}

// conformingIterator conforms each physical batch and skips empty results.
type conformingIterator struct {
	inner     RecordBatchIterator
	conformer *conformer
	path      string
}

func (it *conformingIterator) Next() (*RecordBatch, error) {
	for {
		b, err := it.inner.Next()
		if err != nil {
			return nil, err
		}
		out, err := it.conformer.conform(b)
		if err != nil {
			if it.path != "" {
				return nil, fmt.Errorf("vein: %s: %w", it.path, err)
			}
			return nil, err
		}
		if out.NumRows() > 0 {
			return out, nil
		}
	}
}

func (it *conformingIterator) Close() error { return it.inner.Close() }
