// Package config resolves the vein command's settings from flags, the
// environment, and partition spec files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/vein/vein"
)

// EnvPrefix is the environment variable prefix (VEIN_CONCURRENCY, ...).
const EnvPrefix = "VEIN"

// Config holds the settings for one command invocation.
type Config struct {
	// Columns projects the output. Empty selects every column.
	Columns []string `mapstructure:"columns"`

	// Eq holds key=value equality filters, conjoined.
	Eq []string `mapstructure:"eq"`

	// Partitioning is "hive" or "dir:a,b". Empty infers hive partitioning.
	Partitioning string `mapstructure:"partitioning"`

	// PartitionSpec is a YAML file declaring the partition fields and types.
	// It takes precedence over Partitioning.
	PartitionSpec string `mapstructure:"partition-spec"`

	// Format restricts discovery to one file format.
	Format string `mapstructure:"format"`

	Concurrency int `mapstructure:"concurrency"`
	BatchSize   int `mapstructure:"batch-size"`

	// S3 settings. A non-empty bucket switches the store to S3.
	S3Bucket   string `mapstructure:"s3-bucket"`
	S3Prefix   string `mapstructure:"s3-prefix"`
	S3Region   string `mapstructure:"s3-region"`
	S3Endpoint string `mapstructure:"s3-endpoint"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

// NewViper returns a viper instance reading VEIN_* environment variables.
// Dashes in keys map to underscores (batch-size is VEIN_BATCH_SIZE).
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("concurrency", vein.DefaultScanContext().Concurrency)
	v.SetDefault("batch-size", vein.DefaultBatchSize)
	v.SetDefault("log-level", "warn")
	v.SetDefault("log-format", "text")
	return v
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	// Comma-separated env values arrive as one element.
	cfg.Columns = splitList(cfg.Columns)
	cfg.Eq = splitList(cfg.Eq)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the settings that do not need the dataset.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be positive, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch-size must be positive, got %d", c.BatchSize)
	}
	switch c.Format {
	case "", "parquet", "jsonl":
	default:
		return fmt.Errorf("config: unknown format %q", c.Format)
	}
	for _, kv := range c.Eq {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("config: filter %q is not key=value", kv)
		}
	}
	return nil
}

// OpenOptions returns the discovery options implied by the settings.
func (c *Config) OpenOptions() ([]vein.Option, error) {
	var opts []vein.Option
	switch c.Format {
	case "parquet":
		opts = append(opts, vein.WithFormat(vein.NewParquetFormat()))
	case "jsonl":
		opts = append(opts, vein.WithFormat(vein.NewJSONLFormat()))
	}

	if c.PartitionSpec != "" {
		spec, err := LoadPartitionSpec(c.PartitionSpec)
		if err != nil {
			return nil, err
		}
		p, err := spec.Partitioning()
		if err != nil {
			return nil, err
		}
		return append(opts, vein.WithPartitioning(p)), nil
	}

	switch style, names, _ := strings.Cut(c.Partitioning, ":"); style {
	case "", "hive":
		opts = append(opts, vein.WithPartitioningFactory(vein.HivePartitioningFactory()))
	case "dir", "directory":
		if names == "" {
			return nil, errors.New("config: directory partitioning needs field names (dir:a,b)")
		}
		opts = append(opts, vein.WithPartitioningFactory(vein.DirectoryPartitioningFactory(splitList([]string{names})...)))
	default:
		return nil, fmt.Errorf("config: unknown partitioning %q", c.Partitioning)
	}
	return opts, nil
}

// Filter builds the conjunction of the equality filters, parsing each value
// as the type of its field in schema. It returns nil when there are none.
func (c *Config) Filter(schema *vein.Schema) (vein.Expression, error) {
	if len(c.Eq) == 0 {
		return nil, nil
	}
	exprs := make([]vein.Expression, 0, len(c.Eq))
	for _, kv := range c.Eq {
		name, text, _ := strings.Cut(kv, "=")
		f, ok := schema.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("config: filter on %q: %w", name, vein.ErrUnknownField)
		}
		if text == vein.HiveDefaultPartition {
			exprs = append(exprs, vein.IsNull(vein.Ref(name)))
			continue
		}
		v, err := vein.ParseScalar(text, f.Type)
		if err != nil {
			return nil, fmt.Errorf("config: filter on %q: %w", name, err)
		}
		exprs = append(exprs, vein.Equal(vein.Ref(name), vein.Lit(v)))
	}
	return vein.And(exprs...), nil
}

// -----------------------------------------------------------------------------
// Partition spec files
// -----------------------------------------------------------------------------

// PartitionSpec declares a partition scheme in YAML:
//
//	style: hive
//	fields:
//	  - name: year
//	    type: int32
//	  - name: region
//	    type: string
type PartitionSpec struct {
	Style  string           `yaml:"style"`
	Fields []PartitionField `yaml:"fields"`
}

// PartitionField is one declared partition field.
type PartitionField struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// LoadPartitionSpec reads a partition spec from a YAML file.
func LoadPartitionSpec(path string) (*PartitionSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read partition spec: %w", err)
	}
	return ParsePartitionSpec(data)
}

// ParsePartitionSpec decodes a partition spec. Unknown keys are rejected.
func ParsePartitionSpec(data []byte) (*PartitionSpec, error) {
	var spec PartitionSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("config: parse partition spec: %w", err)
	}
	if len(spec.Fields) == 0 {
		return nil, errors.New("config: partition spec declares no fields")
	}
	return &spec, nil
}

// Partitioning builds the declared scheme.
func (s *PartitionSpec) Partitioning() (vein.Partitioning, error) {
	fields := make([]vein.Field, len(s.Fields))
	for i, pf := range s.Fields {
		t, err := vein.ParseDataType(pf.Type)
		if err != nil {
			return nil, fmt.Errorf("config: partition field %q: %w", pf.Name, err)
		}
		fields[i] = vein.Field{Name: pf.Name, Type: t, Nullable: true}
	}
	schema, err := vein.NewSchema(fields...)
	if err != nil {
		return nil, fmt.Errorf("config: partition spec: %w", err)
	}
	switch s.Style {
	case "", "hive":
		return vein.NewHivePartitioning(schema), nil
	case "dir", "directory":
		return vein.NewDirectoryPartitioning(schema), nil
	}
	return nil, fmt.Errorf("config: unknown partition style %q", s.Style)
}
