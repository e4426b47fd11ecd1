// Package main provides the Veridesk sync CLI.
//
// The CLI drives catalog syncs against the same database as the server and
// keeps a small local history on disk so operators can inspect past runs
// without a server round-trip.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/veridesk/veridesk/internal/config"
	"github.com/veridesk/veridesk/internal/db"
	"github.com/veridesk/veridesk/internal/export"
	"github.com/veridesk/veridesk/internal/integrations/licensor"
	"github.com/veridesk/veridesk/internal/localstate"
	"github.com/veridesk/veridesk/internal/models"
	syncengine "github.com/veridesk/veridesk/internal/sync"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "veridesk-sync",
		Short: "Veridesk license catalog sync",
		Long: `veridesk-sync reconciles the external license catalog into the
local Veridesk database and keeps a local run history.

Run 'veridesk-sync run' to start a sync.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to sync config file (default: $SYNC_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newExportCmd(),
	)

	return rootCmd
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func loadConfig() (*config.SyncConfig, error) {
	path := flagConfig
	if path == "" {
		path = os.Getenv("SYNC_CONFIG")
	}
	return config.LoadSyncConfig(path)
}

func stateDir() string {
	if dir := os.Getenv("VERIDESK_STATE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".veridesk"
	}
	return filepath.Join(home, ".veridesk")
}

// connect builds the database, catalog client and engine shared by the
// run and status commands.
func connect(ctx context.Context, cfg *config.SyncConfig, logger zerolog.Logger) (*db.DB, *syncengine.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	catalog, err := licensor.NewClient(licensor.ClientConfig{
		BaseURL:     cfg.RemoteURL,
		APIKey:      cfg.RemoteAPIKey,
		ProxyConfig: cfg.Proxy,
	}, logger)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("create catalog client: %w", err)
	}

	engine, err := syncengine.NewEngine(database, catalog, database, logger)
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	return database, engine, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Veridesk Sync %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		comprehensive    bool
		detectDuplicates bool
		batchSize        int
		limit            int
		maxPages         int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a catalog sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Hour)
			defer cancel()

			database, engine, err := connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			opts := syncengine.Options{
				Comprehensive:    comprehensive,
				DetectDuplicates: detectDuplicates,
				BatchSize:        batchSize,
				Limit:            limit,
				MaxPages:         maxPages,
				Trigger:          models.SyncTriggerCLI,
			}
			if opts.BatchSize <= 0 {
				opts.BatchSize = cfg.BatchSize
			}
			if opts.BatchSize <= 0 {
				opts.BatchSize = config.DefaultBatchSize
			}
			if !cmd.Flags().Changed("detect-duplicates") {
				opts.DetectDuplicates = cfg.DetectDuplicates
			}

			result, err := engine.Execute(ctx, opts)
			if err != nil {
				return err
			}

			recordLocalRun(ctx, result, opts, logger)
			printResult(result)

			if !result.Success {
				return fmt.Errorf("sync finished with errors")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&comprehensive, "comprehensive", false, "walk the full paginated catalog")
	cmd.Flags().BoolVar(&detectDuplicates, "detect-duplicates", false, "consolidate duplicate records after matching")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "page size requested from the catalog")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap on total records fetched (0 = unlimited)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "cap on pages fetched (0 = unlimited)")

	return cmd
}

// recordLocalRun mirrors the run into the on-disk history. Failures here are
// logged, never fatal.
func recordLocalRun(ctx context.Context, result *syncengine.Result, opts syncengine.Options, logger zerolog.Logger) {
	state, err := localstate.NewStore(stateDir(), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("could not open local state store")
		return
	}
	defer state.Close()

	mode := models.SyncModeSingleBatch
	if opts.Comprehensive {
		mode = models.SyncModeComprehensive
	}
	run := models.NewSyncRun(models.SyncTriggerCLI, mode)
	run.Success = result.Success
	run.TotalFetched = result.TotalFetched
	run.Created = result.Created
	run.Updated = result.Updated
	run.Failed = result.Failed
	run.DuplicatesDetected = result.DuplicatesDetected
	run.DuplicatesConsolidated = result.DuplicatesConsolidated
	run.Duration = result.Duration
	for _, e := range result.Errors {
		run.Errors = append(run.Errors, models.SyncRunError{AppID: e.AppID, Error: e.Err})
	}

	if err := state.RecordRun(ctx, run); err != nil {
		logger.Warn().Err(err).Msg("could not record run in local history")
	}
}

func printResult(result *syncengine.Result) {
	status := "OK"
	if !result.Success {
		status = "FAILED"
	}
	fmt.Printf("Sync %s in %s\n", status, result.Duration.Round(time.Millisecond))
	fmt.Printf("  Fetched:      %d\n", result.TotalFetched)
	fmt.Printf("  Created:      %d\n", result.Created)
	fmt.Printf("  Updated:      %d\n", result.Updated)
	fmt.Printf("  Failed:       %d\n", result.Failed)
	if result.DuplicatesDetected > 0 {
		fmt.Printf("  Duplicates:   %d detected, %d consolidated\n",
			result.DuplicatesDetected, result.DuplicatesConsolidated)
	}
	for _, e := range result.Errors {
		if e.AppID != "" {
			fmt.Printf("  error [%s]: %s\n", e.AppID, e.Err)
		} else {
			fmt.Printf("  error: %s\n", e.Err)
		}
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local and remote sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			database, engine, err := connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			status := engine.GetSyncStatus(ctx)
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal status: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs from the local history",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			state, err := localstate.NewStore(stateDir(), logger)
			if err != nil {
				return err
			}
			defer state.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			runs, err := state.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No sync runs recorded yet.")
				return nil
			}

			for _, run := range runs {
				status := "ok"
				if !run.Success {
					status = "failed"
				}
				fmt.Printf("%s  %-7s %-13s %-6s fetched=%d created=%d updated=%d failed=%d\n",
					run.StartedAt.Format(time.RFC3339), status, run.Mode, run.Trigger,
					run.TotalFetched, run.Created, run.Updated, run.Failed)
			}

			if last, err := state.GetLastSyncTime(ctx); err == nil && last != nil {
				fmt.Printf("\nLast successful sync: %s\n", last.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		report string
		format string
		output string
		upload bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export licenses or run history as a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			exportFormat, ok := export.ParseFormat(format)
			if !ok {
				return fmt.Errorf("invalid format %q (want json, yaml or csv)", format)
			}

			var reportType export.ReportType
			switch report {
			case "licenses":
				reportType = export.ReportTypeLicenses
			case "runs":
				reportType = export.ReportTypeSyncRuns
			default:
				return fmt.Errorf("invalid report %q (want licenses or runs)", report)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			if err := cfg.Validate(); err != nil {
				return err
			}
			database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer database.Close()

			exporter := export.NewExporter(database, logger)
			opts := export.DefaultOptions()
			opts.Format = exportFormat
			opts.ExportedBy = "veridesk-sync"

			var data []byte
			if reportType == export.ReportTypeLicenses {
				data, err = exporter.ExportLicenses(ctx, opts)
			} else {
				data, err = exporter.ExportSyncRuns(ctx, opts)
			}
			if err != nil {
				return err
			}

			name := export.ObjectName(reportType, exportFormat, time.Now().UTC())

			if upload {
				uploader, err := export.NewS3Uploader(cfg.Export, logger)
				if err != nil {
					return err
				}
				location, err := uploader.Upload(ctx, name, data, export.ContentType(exportFormat))
				if err != nil {
					return err
				}
				fmt.Printf("Uploaded %s to %s\n", name, location)
				return nil
			}

			path := output
			if path == "" {
				path = name
			}
			if err := os.WriteFile(path, data, 0600); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Printf("Wrote %s (%d bytes)\n", path, len(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&report, "report", "licenses", "report to export: licenses or runs")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json, yaml or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: generated name)")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload to the configured S3 bucket instead of writing a file")

	return cmd
}
