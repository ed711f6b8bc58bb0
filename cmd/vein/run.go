package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/olekukonko/tablewriter"

	"github.com/justapithecus/vein/internal/config"
	"github.com/justapithecus/vein/internal/logging"
	"github.com/justapithecus/vein/vein"
	"github.com/justapithecus/vein/vein/s3"
)

// openDataset resolves the store for target and discovers the dataset.
func openDataset(ctx context.Context, stderr io.Writer, cfg *config.Config, target string) (*vein.Dataset, error) {
	logger, err := logging.New(stderr, logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, err
	}
	store, root, err := openStore(ctx, cfg, target)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.OpenOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, vein.WithLogger(logger))
	return vein.Open(ctx, store, root, opts...)
}

// openStore returns the store and the dataset root inside it. Local targets
// become the store root; S3 targets are key prefixes inside the bucket.
func openStore(ctx context.Context, cfg *config.Config, target string) (vein.Store, string, error) {
	if cfg.S3Bucket == "" {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, "", err
		}
		store, err := vein.NewFS(abs)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3Endpoint != "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		// Local S3-compatible services usually run with static test credentials.
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, "", fmt.Errorf("load aws config: %w", err)
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	store, err := s3.New(client, s3.Config{Bucket: cfg.S3Bucket, Prefix: cfg.S3Prefix})
	if err != nil {
		return nil, "", err
	}
	return store, target, nil
}

func runSchema(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config, target string) error {
	ds, err := openDataset(ctx, stderr, cfg, target)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"field", "type", "nullable"})
	table.SetAutoFormatHeaders(false)
	for _, f := range ds.Schema().Fields() {
		table.Append([]string{f.Name, f.Type.String(), fmt.Sprint(f.Nullable)})
	}
	table.Render()
	return nil
}

func runScan(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config, target string) error {
	ds, err := openDataset(ctx, stderr, cfg, target)
	if err != nil {
		return err
	}
	b := ds.NewScan()
	if len(cfg.Columns) > 0 {
		if err := b.Project(cfg.Columns...); err != nil {
			return err
		}
	}
	filter, err := cfg.Filter(ds.Schema())
	if err != nil {
		return err
	}
	if filter != nil {
		if err := b.Filter(filter); err != nil {
			return err
		}
	}
	if err := b.Concurrency(cfg.Concurrency); err != nil {
		return err
	}
	if err := b.BatchSize(cfg.BatchSize); err != nil {
		return err
	}
	scanner, err := b.Finish()
	if err != nil {
		return err
	}
	result, err := scanner.ToTable(ctx)
	if err != nil {
		return err
	}
	return printTable(stdout, result)
}

func printTable(w io.Writer, t *vein.Table) error {
	names := t.Schema().Names()
	table := tablewriter.NewWriter(w)
	table.SetHeader(names)
	table.SetAutoFormatHeaders(false)
	for _, row := range t.Rows() {
		cells := make([]string, len(names))
		for i, name := range names {
			cells[i] = formatCell(row[name])
		}
		table.Append(cells)
	}
	table.SetFooter(footer(len(names), t.NumRows()))
	table.Render()
	return nil
}

func footer(columns, rows int) []string {
	out := make([]string, max(columns, 1))
	out[len(out)-1] = fmt.Sprintf("%d rows", rows)
	return out
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case []byte:
		return fmt.Sprintf("%x", x)
	}
	return fmt.Sprint(v)
}
