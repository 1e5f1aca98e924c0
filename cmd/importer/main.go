// cmd/importer/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"forge-issues/internal/archive"
	"forge-issues/internal/config"
	"forge-issues/internal/database"
)

func main() {
	root := &cobra.Command{
		Use:           "importer",
		Short:         "Replay hourly event-archive snapshots into the issue store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(hourCmd(), rangeCmd(), retryCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func hourCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hour <YYYY-MM-DD> <hour>",
		Short: "Import a single archive hour",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := time.Parse("2006-01-02", args[0])
			if err != nil {
				return fmt.Errorf("invalid date %q: %w", args[0], err)
			}
			hour, err := strconv.Atoi(args[1])
			if err != nil || hour < 0 || hour > 23 {
				return fmt.Errorf("invalid hour %q: must be 0-23", args[1])
			}
			return withImporter(func(ctx context.Context, imp *archive.Importer) error {
				if !imp.ImportHour(ctx, date, hour, archive.Options{UpdateCounts: true}) {
					return fmt.Errorf("import of %s hour %d did not succeed", args[0], hour)
				}
				return nil
			})
		},
	}
}

func rangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "range <start YYYY-MM-DD> <end YYYY-MM-DD>",
		Short: "Import every hour in a date range, recomputing counts once at the end",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse("2006-01-02", args[0])
			if err != nil {
				return fmt.Errorf("invalid start date %q: %w", args[0], err)
			}
			end, err := time.Parse("2006-01-02", args[1])
			if err != nil {
				return fmt.Errorf("invalid end date %q: %w", args[1], err)
			}
			if end.Before(start) {
				return fmt.Errorf("end date %s is before start date %s", args[1], args[0])
			}
			return withImporter(func(ctx context.Context, imp *archive.Importer) error {
				imp.ImportDateRange(ctx, start, end)
				return nil
			})
		},
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <filename>",
		Short: "Re-run the hour recorded under a ledger filename",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImporter(func(ctx context.Context, imp *archive.Importer) error {
				ok, err := imp.RetryImport(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("retry of %s did not succeed", args[0])
				}
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the import ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *database.Store) error {
				sum, err := store.SummarizeImports(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("imports: %d total, %d successful, %d failed\n", sum.Total, sum.Successful, sum.Failed)
				fmt.Printf("records: %d issues, %d created, %d updated\n", sum.IssuesCount, sum.CreatedCount, sum.UpdatedCount)
				return nil
			})
		},
	}
}

// withStore runs a command body with config, logging and a database store set
// up, tearing everything down afterwards.
func withStore(body func(ctx context.Context, store *database.Store) error) error {
	logLevel := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.LogLevel == "debug" {
		logLevel.Set(slog.LevelDebug)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()

	return body(ctx, database.New(dbpool).WithChunkSize(cfg.UpsertChunkSize))
}

// withImporter additionally resolves the archive's host row and builds an
// importer bound to it.
func withImporter(body func(ctx context.Context, imp *archive.Importer) error) error {
	return withStore(func(ctx context.Context, store *database.Store) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		host, err := archive.EnsureHost(ctx, store)
		if err != nil {
			return fmt.Errorf("resolving archive host: %w", err)
		}
		imp := archive.NewImporter(store, host.ID, cfg.ArchiveBaseURL, cfg.RequestTimeout, slog.Default())
		return body(ctx, imp)
	})
}
