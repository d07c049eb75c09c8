// fleet-archiver moves done tasks older than a cutoff into blob storage as JSONL
// and removes them from Postgres. Run it from cron; it exits when the backlog is empty.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"fleet-dashboard/internal/archive"
	"fleet-dashboard/internal/blob"
	"fleet-dashboard/internal/config"
	"fleet-dashboard/internal/store"
	"fleet-dashboard/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	var (
		olderThan time.Duration
		batchSize int
		prefix    string
		dryRun    bool
	)
	flagSet := pflag.NewFlagSet("fleet-archiver", pflag.ContinueOnError)
	flagSet.DurationVar(&olderThan, "older-than", 30*24*time.Hour, "archive done tasks last updated before now minus this")
	flagSet.IntVar(&batchSize, "batch-size", 500, "tasks per uploaded object")
	flagSet.StringVar(&prefix, "prefix", cfg.ArchivePrefix, "object key prefix")
	flagSet.BoolVar(&dryRun, "dry-run", false, "list what would be archived without uploading or deleting")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	logger := telemetry.NewLogger("fleet-archiver", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	bucket, err := blob.FromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init blob storage: %w", err)
	}

	archiver := archive.New(archive.Options{
		Store:     st,
		Bucket:    bucket,
		Prefix:    prefix,
		BatchSize: batchSize,
		DryRun:    dryRun,
		Logger:    logger,
	})
	report, err := archiver.Run(ctx, olderThan)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(report)
}
