// Package runner drives one tumour trajectory and feeds its telemetry
// collaborators: CSV output, bookmarks, snapshots, the run store and metrics.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pthm-cable/methdemon/config"
	"github.com/pthm-cable/methdemon/random"
	"github.com/pthm-cable/methdemon/telemetry"
	"github.com/pthm-cable/methdemon/tumour"
)

// Options holds runner initialization options.
type Options struct {
	RunID       string // Generated when empty
	OutputDir   string // CSV, config and metrics output (empty = disabled)
	SnapshotDir string // Snapshot on bookmarks and at the end (empty = disabled)
	LogStats    bool   // Log every window via slog
	Logger      *slog.Logger

	// StatsCallback is called after every window flush.
	StatsCallback func(telemetry.WindowStats)
}

// Runner owns a tumour and everything that observes it.
type Runner struct {
	cfg    *config.Config
	opts   Options
	runID  string
	logger *slog.Logger

	tm *tumour.Tumour

	collector        *telemetry.Collector
	perfCollector    *telemetry.PerfCollector
	bookmarkDetector *telemetry.BookmarkDetector
	outputManager    *telemetry.OutputManager
	metrics          *telemetry.Metrics
	store            telemetry.RunStore

	bookmarks []telemetry.Bookmark
	lastStats telemetry.WindowStats
	windows   int

	// Output time spent inside the current step
	outputSpent time.Duration
}

// New builds a runner for cfg. The store is opened here and closed by Close.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Runner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := opts.RunID
	if runID == "" {
		runID = telemetry.NewRunID()
	}
	logger = logger.With("run_id", runID)

	r := &Runner{
		cfg:              cfg,
		opts:             opts,
		runID:            runID,
		logger:           logger,
		collector:        telemetry.NewCollector(),
		perfCollector:    telemetry.NewPerfCollector(10000),
		bookmarkDetector: telemetry.NewBookmarkDetector(10),
		store:            telemetry.NewRunStore(cfg.Output.Database),
	}
	if cfg.Output.Metrics {
		r.metrics = telemetry.NewMetrics()
	}

	tm, err := tumour.New(cfg, random.New(cfg.Seed),
		tumour.WithLogger(logger),
		tumour.WithSampleHook(cfg.Output.Interval, r.onSample),
	)
	if err != nil {
		return nil, err
	}
	r.tm = tm

	if err := r.store.Init(ctx); err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}

	om, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		_ = r.store.Close()
		return nil, err
	}
	r.outputManager = om
	if err := om.WriteConfig(cfg); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("writing config: %w", err)
	}

	return r, nil
}

// RunID returns the run identifier.
func (r *Runner) RunID() string { return r.runID }

// Tumour exposes the driven tumour for inspection.
func (r *Runner) Tumour() *tumour.Tumour { return r.tm }

// Store returns the run store.
func (r *Runner) Store() telemetry.RunStore { return r.store }

// Bookmarks returns every bookmark triggered so far.
func (r *Runner) Bookmarks() []telemetry.Bookmark { return r.bookmarks }

// Run steps the tumour until it stops, then writes the final outputs.
// A cancelled run still writes its outputs and returns ctx's error.
func (r *Runner) Run(ctx context.Context) (tumour.Result, error) {
	r.logger.Info("starting simulation",
		"seed", r.cfg.Seed,
		"capacity", r.cfg.Derived.K,
		"max_demes", r.cfg.Derived.MaxDemes,
		"fission_mode", r.cfg.Fission.Mode,
		"max_time", r.cfg.Stopping.MaxTime,
	)

	var runErr error
	reason := tumour.StopNone
	for {
		if reason = r.tm.StopReason(); reason != tumour.StopNone {
			break
		}
		if err := ctx.Err(); err != nil {
			reason, runErr = tumour.StopCancelled, err
			break
		}
		if err := r.step(); err != nil {
			runErr = err
			break
		}
	}

	res := r.tm.Result(reason)
	if runErr == nil || errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		if err := r.finish(ctx, res); err != nil {
			return res, errors.Join(runErr, err)
		}
	}
	if runErr == nil {
		r.logger.Info("run finished", "result", res)
	}
	return res, runErr
}

// step runs one event and records its cost, excluding output work.
func (r *Runner) step() error {
	r.outputSpent = 0
	start := time.Now()
	ev, err := r.tm.Step()
	elapsed := time.Since(start)
	if err != nil {
		return err
	}
	r.perfCollector.Observe(ev.Kind.String(), elapsed-r.outputSpent)
	if r.outputSpent > 0 {
		r.perfCollector.Observe(telemetry.PhaseOutput, r.outputSpent)
	}
	return nil
}

// Close releases output files and the store.
func (r *Runner) Close() error {
	return errors.Join(r.outputManager.Close(), r.store.Close())
}
