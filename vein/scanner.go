package vein

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------------------------
// ScannerBuilder
// -----------------------------------------------------------------------------

// ScannerBuilder accumulates projection, filter, and execution settings.
// Invalid settings are rejected when they are made, not during the scan.
type ScannerBuilder struct {
	dataset    *Dataset
	projection []string
	filter     Expression
	context    ScanContext
}

func newScannerBuilder(d *Dataset) *ScannerBuilder {
	return &ScannerBuilder{
		dataset: d,
		context: *DefaultScanContext(),
	}
}

// Project selects the output columns, in order.
func (b *ScannerBuilder) Project(names ...string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if !b.dataset.schema.HasField(name) {
			return newFieldError(ErrUnknownField, name, "cannot project: not in dataset schema "+b.dataset.schema.String())
		}
		if seen[name] {
			return newFieldError(ErrDuplicateField, name, "projected more than once")
		}
		seen[name] = true
	}
	b.projection = append([]string{}, names...)
	return nil
}

// Filter adds a predicate. Repeated calls are conjoined.
func (b *ScannerBuilder) Filter(expr Expression) error {
	if expr == nil {
		return errors.New("vein: nil filter")
	}
	t, err := expr.Validate(b.dataset.schema)
	if err != nil {
		return err
	}
	if t != Bool && t != Null {
		return fmt.Errorf("vein: %w: filter %s has type %s", ErrTypeMismatch, expr, t)
	}
	b.filter = conjoin(b.filter, expr)
	return nil
}

// Concurrency bounds the number of tasks ToTable runs at once.
func (b *ScannerBuilder) Concurrency(n int) error {
	if n < 1 {
		return fmt.Errorf("vein: concurrency must be positive, got %d", n)
	}
	b.context.Concurrency = n
	return nil
}

// BatchSize bounds the rows per batch requested from readers.
func (b *ScannerBuilder) BatchSize(n int) error {
	if n < 1 {
		return fmt.Errorf("vein: batch size must be positive, got %d", n)
	}
	b.context.BatchSize = n
	return nil
}

// Evaluator replaces the residual filter evaluator.
func (b *ScannerBuilder) Evaluator(e Evaluator) error {
	if e == nil {
		return errors.New("vein: nil evaluator")
	}
	b.context.Evaluator = e
	return nil
}

// Finish freezes the builder's state into a Scanner. Later builder calls do
// not affect the returned scanner.
func (b *ScannerBuilder) Finish() (*Scanner, error) {
	d := b.dataset
	opts := NewScanOptions(d.schema).
		WithFilter(b.filter).
		WithProjection(b.projection).
		WithStrict(d.cfg.strict).
		withLogger(d.cfg.logger)
	out, err := opts.ProjectedSchema()
	if err != nil {
		return nil, err
	}
	sc := b.context
	sc.Logger = d.cfg.logger
	return &Scanner{
		sources: d.Sources(),
		options: opts,
		context: &sc,
		schema:  out,
	}, nil
}

// -----------------------------------------------------------------------------
// Scanner
// -----------------------------------------------------------------------------

// Scanner is an immutable, ready-to-run scan.
type Scanner struct {
	sources []DataSource
	options *ScanOptions
	context *ScanContext
	schema  *Schema
}

// Schema returns the projected output schema.
func (s *Scanner) Schema() *Schema { return s.schema }

// Options returns the scan options.
func (s *Scanner) Options() *ScanOptions { return s.options }

// Scan returns the scan tasks lazily, in source, fragment, then split order.
func (s *Scanner) Scan(ctx context.Context) (ScanTaskIterator, error) {
	return &scanTaskIterator{ctx: ctx, scanner: s}, nil
}

type scanTaskIterator struct {
	ctx       context.Context
	scanner   *Scanner
	source    int
	fragments FragmentIterator
	tasks     ScanTaskIterator
}

func (it *scanTaskIterator) Next() (ScanTask, error) {
	s := it.scanner
	for {
		if err := it.ctx.Err(); err != nil {
			return nil, err
		}
		if it.tasks != nil {
			t, err := it.tasks.Next()
			if err == nil {
				return t, nil
			}
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			it.tasks = nil
		}
		if it.fragments != nil {
			f, err := it.fragments.Next()
			if err == nil {
				if it.tasks, err = f.Scan(it.ctx, s.context); err != nil {
					return nil, err
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			it.fragments = nil
		}
		if it.source >= len(s.sources) {
			return nil, io.EOF
		}
		it.fragments = s.sources[it.source].GetFragments(s.options)
		it.source++
	}
}

// ToTable executes every task, up to Concurrency at a time, and assembles
// the batches in task order. Any task error fails the whole call.
func (s *Scanner) ToTable(ctx context.Context) (*Table, error) {
	it, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	var tasks []ScanTask
	for {
		t, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	s.context.Logger.Debug("scan planned", "tasks", len(tasks), "concurrency", s.context.Concurrency)

	results := make([][]*RecordBatch, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.context.Concurrency, 1))
	for i, task := range tasks {
		g.Go(func() error {
			batches, err := executeTask(gctx, task)
			if err != nil {
				return err
			}
			results[i] = batches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []*RecordBatch
	for _, r := range results {
		all = append(all, r...)
	}
	return NewTable(s.schema, all...)
}

func executeTask(ctx context.Context, task ScanTask) ([]*RecordBatch, error) {
	it, err := task.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return CollectBatches(it)
}
