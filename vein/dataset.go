package vein

import (
	"errors"
	"fmt"
	"log/slog"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// datasetConfig holds the resolved configuration for a dataset.
type datasetConfig struct {
	logger *slog.Logger
	strict bool
}

// openConfig holds the configuration for discovery. It extends datasetConfig
// because Open builds a Dataset.
type openConfig struct {
	datasetConfig
	formats        []FileFormat
	partitioning   Partitioning
	factory        PartitioningFactory
	schema         *Schema
	ignorePrefixes []string
}

func defaultOpenConfig() *openConfig {
	return &openConfig{
		datasetConfig:  datasetConfig{logger: discardLogger()},
		formats:        DefaultFormats(),
		ignorePrefixes: []string{".", "_"},
	}
}

// Option configures Open, NewDiscovery, or NewDataset.
// Options implement methods for the constructors they support.
// Using an option with an unsupported constructor returns an error.
type Option interface {
	applyDataset(*datasetConfig) error
	applyOpen(*openConfig) error
}

// ErrOptionNotValidForDataset indicates an option was used with NewDataset
// that only applies to discovery.
var ErrOptionNotValidForDataset = errors.New("option not valid for dataset")

// formatOption implements Option for WithFormat.
type formatOption struct {
	formats []FileFormat
}

// WithFormat restricts discovery to the given formats, tried in order.
// Default: DefaultFormats() (parquet, then JSONL).
func WithFormat(formats ...FileFormat) Option {
	return &formatOption{formats: formats}
}

func (o *formatOption) applyDataset(*datasetConfig) error {
	return fmt.Errorf("WithFormat: %w", ErrOptionNotValidForDataset)
}

func (o *formatOption) applyOpen(cfg *openConfig) error {
	if len(o.formats) == 0 {
		return errors.New("WithFormat: at least one format required")
	}
	cfg.formats = o.formats
	return nil
}

// partitioningOption implements Option for WithPartitioning.
type partitioningOption struct {
	partitioning Partitioning
}

// WithPartitioning declares the partition scheme explicitly, names and types.
// Default: hive partitioning inferred from directory names.
func WithPartitioning(p Partitioning) Option {
	return &partitioningOption{partitioning: p}
}

func (o *partitioningOption) applyDataset(*datasetConfig) error {
	return fmt.Errorf("WithPartitioning: %w", ErrOptionNotValidForDataset)
}

func (o *partitioningOption) applyOpen(cfg *openConfig) error {
	cfg.partitioning = o.partitioning
	cfg.factory = nil
	return nil
}

// factoryOption implements Option for WithPartitioningFactory.
type factoryOption struct {
	factory PartitioningFactory
}

// WithPartitioningFactory infers the partition scheme with f.
func WithPartitioningFactory(f PartitioningFactory) Option {
	return &factoryOption{factory: f}
}

func (o *factoryOption) applyDataset(*datasetConfig) error {
	return fmt.Errorf("WithPartitioningFactory: %w", ErrOptionNotValidForDataset)
}

func (o *factoryOption) applyOpen(cfg *openConfig) error {
	cfg.factory = o.factory
	cfg.partitioning = nil
	return nil
}

// schemaOption implements Option for WithSchema.
type schemaOption struct {
	schema *Schema
}

// WithSchema declares the dataset schema, skipping inspection of file metadata.
func WithSchema(s *Schema) Option {
	return &schemaOption{schema: s}
}

func (o *schemaOption) applyDataset(*datasetConfig) error {
	return fmt.Errorf("WithSchema: %w", ErrOptionNotValidForDataset)
}

func (o *schemaOption) applyOpen(cfg *openConfig) error {
	cfg.schema = o.schema
	return nil
}

// ignoreOption implements Option for WithIgnorePrefixes.
type ignoreOption struct {
	prefixes []string
}

// WithIgnorePrefixes skips files and directories whose name starts with any
// of the prefixes. Default: "." and "_".
func WithIgnorePrefixes(prefixes ...string) Option {
	return &ignoreOption{prefixes: prefixes}
}

func (o *ignoreOption) applyDataset(*datasetConfig) error {
	return fmt.Errorf("WithIgnorePrefixes: %w", ErrOptionNotValidForDataset)
}

func (o *ignoreOption) applyOpen(cfg *openConfig) error {
	cfg.ignorePrefixes = append([]string(nil), o.prefixes...)
	return nil
}

// strictOption implements Option for WithStrictSchema.
type strictOption struct{}

// WithStrictSchema makes physical columns absent from the dataset schema an
// error during scans instead of being ignored.
func WithStrictSchema() Option {
	return &strictOption{}
}

func (o *strictOption) applyDataset(cfg *datasetConfig) error {
	cfg.strict = true
	return nil
}

func (o *strictOption) applyOpen(cfg *openConfig) error {
	return o.applyDataset(&cfg.datasetConfig)
}

// loggerOption implements Option for WithLogger.
type loggerOption struct {
	logger *slog.Logger
}

// WithLogger sets the logger receiving debug records for discovery, pruning,
// and task execution. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return &loggerOption{logger: l}
}

func (o *loggerOption) applyDataset(cfg *datasetConfig) error {
	if o.logger == nil {
		return errors.New("WithLogger: nil logger")
	}
	cfg.logger = o.logger
	return nil
}

func (o *loggerOption) applyOpen(cfg *openConfig) error {
	return o.applyDataset(&cfg.datasetConfig)
}

// -----------------------------------------------------------------------------
// Dataset
// -----------------------------------------------------------------------------

// Dataset is a schema plus the sources holding its rows.
//
// A Dataset is immutable and safe for concurrent scans.
type Dataset struct {
	schema  *Schema
	sources []DataSource
	cfg     datasetConfig
}

// NewDataset builds a dataset over sources.
func NewDataset(schema *Schema, sources []DataSource, opts ...Option) (*Dataset, error) {
	if schema == nil {
		return nil, fmt.Errorf("vein: %w: dataset schema is required", ErrSchemaViolation)
	}
	for i, src := range sources {
		if err := checkSource(src); err != nil {
			return nil, fmt.Errorf("vein: source %d: %w", i, err)
		}
	}
	cfg := datasetConfig{logger: discardLogger()}
	for _, opt := range opts {
		if err := opt.applyDataset(&cfg); err != nil {
			return nil, err
		}
	}
	return &Dataset{
		schema:  schema,
		sources: append([]DataSource(nil), sources...),
		cfg:     cfg,
	}, nil
}

// checkSource walks a source tree and rejects nil sources and fragments.
func checkSource(root DataSource) error {
	stack := []DataSource{root}
	for len(stack) > 0 {
		src := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch s := src.(type) {
		case nil:
			return ErrNilSource
		case *TreeSource:
			if s == nil {
				return ErrNilSource
			}
			stack = append(stack, s.children...)
		case *SimpleSource:
			if s == nil {
				return ErrNilSource
			}
			for i, f := range s.frags {
				if f == nil {
					return fmt.Errorf("fragment %d: %w", i, ErrNilSource)
				}
			}
		}
	}
	return nil
}

// Schema returns the dataset schema.
func (d *Dataset) Schema() *Schema { return d.schema }

// Sources returns the dataset's sources in order.
func (d *Dataset) Sources() []DataSource { return append([]DataSource(nil), d.sources...) }

// NewScan starts building a scan of the dataset.
func (d *Dataset) NewScan() *ScannerBuilder {
	return newScannerBuilder(d)
}
