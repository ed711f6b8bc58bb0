// Command vein inspects and scans partitioned datasets on a local
// filesystem or S3.
//
//	vein schema ./events
//	vein scan ./events --eq region=eu --columns id,region
//	vein scan events --s3-bucket warehouse --partitioning dir:year,month
//
// Every flag may also be set through the environment: VEIN_CONCURRENCY,
// VEIN_S3_BUCKET, and so on.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/justapithecus/vein/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := config.NewViper()
	root := &cobra.Command{
		Use:           "vein",
		Short:         "Inspect and scan partitioned datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.String("partitioning", "", `partition scheme: "hive" or "dir:a,b" (default: infer hive)`)
	pf.String("partition-spec", "", "YAML file declaring partition fields and types")
	pf.String("format", "", `restrict discovery to one format: "parquet" or "jsonl"`)
	pf.String("s3-bucket", "", "read from this S3 bucket instead of the local filesystem")
	pf.String("s3-prefix", "", "key prefix inside the S3 bucket")
	pf.String("s3-region", "", "S3 region (default: from the AWS environment)")
	pf.String("s3-endpoint", "", "S3-compatible endpoint URL (MinIO, LocalStack, R2)")
	pf.String("log-level", "warn", "debug, info, warn, or error")
	pf.String("log-format", "text", "text or json")

	root.AddCommand(newSchemaCmd(v), newScanCmd(v))
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		return v.BindPFlags(cmd.InheritedFlags())
	}
	return root
}

func newSchemaCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <root>",
		Short: "Print the discovered dataset schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runSchema(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, args[0])
		},
	}
}

func newScanCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <root>",
		Short: "Scan the dataset and print the rows as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runScan(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, args[0])
		},
	}
	f := cmd.Flags()
	f.StringSlice("columns", nil, "columns to output, in order (default: all)")
	f.StringArray("eq", nil, "equality filter key=value (repeatable)")
	f.Int("concurrency", 0, "scan tasks run at once (default: GOMAXPROCS)")
	f.Int("batch-size", 0, "rows per batch")
	return cmd
}
