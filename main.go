package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/methdemon/config"
	"github.com/pthm-cable/methdemon/runner"
)

// CLI flags
var (
	configPath  string
	logLevel    string
	seed        uint64
	maxTime     float64
	outputDir   string
	snapshotDir string
	dbPath      string
	logStats    bool

	rootCmd = &cobra.Command{
		Use:   "methdemon",
		Short: "Agent-based simulator of clonal and epigenetic tumour evolution",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run one simulation",
		RunE:  runSimulation,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			slog.Info("config valid",
				"capacity", cfg.Derived.K,
				"max_demes", cfg.Derived.MaxDemes,
				"base_migration_rate", cfg.Derived.BaseMigrationRate,
			)
			return nil
		},
	}

	defaultsCmd = &cobra.Command{
		Use:   "defaults",
		Short: "Print the default config",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.OutOrStdout().Write(config.DefaultsYAML())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (empty = use defaults)")

	runCmd.Flags().Uint64Var(&seed, "seed", 0, "RNG seed (overrides config)")
	runCmd.Flags().Float64Var(&maxTime, "max-time", 0, "Stop after this many generations (overrides config)")
	runCmd.Flags().StringVar(&outputDir, "output-dir", "", "Output directory for CSV logs and config snapshot")
	runCmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "Directory for snapshot files")
	runCmd.Flags().StringVar(&dbPath, "db", "", "SQLite run database (overrides config)")
	runCmd.Flags().BoolVar(&logStats, "log-stats", false, "Output stats via slog")

	rootCmd.AddCommand(runCmd, validateCmd, defaultsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs a JSON handler on stdout as the default logger.
func setupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
	return nil
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("max-time") {
		cfg.Stopping.MaxTime = maxTime
	}
	if flags.Changed("db") {
		cfg.Output.Database = dbPath
	}
	cfg.ComputeDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(ctx, cfg, runner.Options{
		OutputDir:   outputDir,
		SnapshotDir: snapshotDir,
		LogStats:    logStats,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	res, err := r.Run(ctx)
	if err != nil {
		slog.Error("run failed", "run_id", r.RunID(), "reason", res.Reason, "error", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s cells=%d demes=%d genotypes=%d time=%.3f\n",
		r.RunID(), res.Reason, res.Cells, res.Demes, res.Genotypes, res.Elapsed)
	return nil
}
