// Package main runs a configuration over many seeds and summarises the
// distribution of outcomes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"github.com/pthm-cable/methdemon/config"
	"github.com/pthm-cable/methdemon/runner"
	"github.com/pthm-cable/methdemon/telemetry"
)

// CLI flags
var (
	configPath string
	seeds      int
	firstSeed  uint64
	maxTime    float64
	outputDir  string
	perRun     bool
	dbPath     string

	rootCmd = &cobra.Command{
		Use:          "replicate",
		Short:        "Run a config over many seeds and summarise the outcomes",
		RunE:         runReplicates,
		SilenceUsage: true,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "Base config YAML file (empty = use defaults)")
	flags.IntVar(&seeds, "seeds", 10, "Number of replicates")
	flags.Uint64Var(&firstSeed, "first-seed", 1, "Seed of the first replicate; later ones count up")
	flags.Float64Var(&maxTime, "max-time", 0, "Stop each run after this many generations (0 = use config)")
	flags.StringVar(&outputDir, "output", "", "Output directory for results")
	flags.BoolVar(&perRun, "per-run-output", false, "Write full CSV output for every replicate")
	flags.StringVar(&dbPath, "db", "", "SQLite run database shared by all replicates")
	_ = rootCmd.MarkFlagRequired("output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runReplicates(cmd *cobra.Command, args []string) error {
	if seeds < 1 {
		return errors.New("--seeds must be at least 1")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	// Validate the base config once up front
	if _, err := config.Load(configPath); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Runs log only warnings and errors
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	out := cmd.OutOrStdout()

	var runs []telemetry.RunRecord
	startTime := time.Now()
	for i := 0; i < seeds; i++ {
		seed := firstSeed + uint64(i)

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg.Seed = seed
		if maxTime > 0 {
			cfg.Stopping.MaxTime = maxTime
		}
		if dbPath != "" {
			cfg.Output.Database = dbPath
		}
		cfg.ComputeDerived()

		var runDir string
		if perRun {
			runDir = filepath.Join(outputDir, fmt.Sprintf("seed_%d", seed))
		}

		run, err := replicate(ctx, cfg, runDir, logger)
		if err != nil {
			logger.Error("replicate failed", "seed", seed, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		runs = append(runs, run)

		elapsed := time.Since(startTime)
		remaining := time.Duration(seeds-i-1) * (elapsed / time.Duration(i+1))
		fmt.Fprintf(out, "Run %d/%d: seed=%d reason=%s cells=%d demes=%d genotypes=%d | elapsed: %s, ETA: %s\n",
			i+1, seeds, seed, run.Reason, run.Cells, run.Demes, run.Genotypes,
			elapsed.Round(time.Second), remaining.Round(time.Second))
	}

	if len(runs) == 0 {
		return errors.New("no replicate finished")
	}

	if err := writeCSV(filepath.Join(outputDir, "runs.csv"), runs); err != nil {
		return fmt.Errorf("writing runs: %w", err)
	}
	summary := Summarise(runs)
	if err := writeCSV(filepath.Join(outputDir, "summary.csv"), summary); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	fmt.Fprintf(out, "\n%d replicates complete in %s\n", len(runs), time.Since(startTime).Round(time.Second))
	printSummary(out, summary, StopCounts(runs))
	return nil
}

// replicate runs one seed to completion.
func replicate(ctx context.Context, cfg *config.Config, dir string, logger *slog.Logger) (telemetry.RunRecord, error) {
	r, err := runner.New(ctx, cfg, runner.Options{OutputDir: dir, Logger: logger})
	if err != nil {
		return telemetry.RunRecord{}, err
	}
	defer r.Close()

	res, err := r.Run(ctx)
	if err != nil {
		return telemetry.RunRecord{}, err
	}
	return telemetry.NewRunRecord(r.RunID(), cfg.Seed, res), nil
}

func writeCSV(path string, records any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gocsv.Marshal(records, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, rows []SummaryRow, stops map[string]int) {
	fmt.Fprintln(w, "\nOutcomes:")
	for _, r := range rows {
		fmt.Fprintf(w, "  %-10s mean=%.3f std=%.3f min=%.3f median=%.3f max=%.3f\n",
			r.Metric, r.Mean, r.Std, r.Min, r.Median, r.Max)
	}
	fmt.Fprintln(w, "\nStop reasons:")
	for _, reason := range slices.Sorted(maps.Keys(stops)) {
		fmt.Fprintf(w, "  %-16s %d\n", reason, stops[reason])
	}
}
