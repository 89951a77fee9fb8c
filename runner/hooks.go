package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pthm-cable/methdemon/telemetry"
	"github.com/pthm-cable/methdemon/tumour"
)

// onSample flushes the stats window and handles bookmarks. Output failures
// are logged and the run continues.
func (r *Runner) onSample(tm *tumour.Tumour) {
	start := time.Now()
	defer func() { r.outputSpent += time.Since(start) }()

	stats := r.collector.Flush(tm)
	perfStats := r.perfCollector.Stats()
	r.lastStats = stats
	r.windows++

	if r.opts.StatsCallback != nil {
		r.opts.StatsCallback(stats)
	}

	if r.opts.LogStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if err := r.outputManager.WriteTelemetry(stats); err != nil {
		r.logger.Error("failed to write telemetry", "error", err)
	}
	if err := r.outputManager.WritePerf(perfStats, stats.WindowEnd); err != nil {
		r.logger.Error("failed to write perf", "error", err)
	}
	if err := r.store.SaveWindow(context.Background(), r.runID, stats); err != nil {
		r.logger.Error("failed to store window", "error", err)
	}
	r.metrics.Observe(stats)

	for _, bm := range r.bookmarkDetector.Check(stats) {
		r.bookmarks = append(r.bookmarks, bm)
		if r.opts.LogStats {
			bm.LogBookmark()
		}
		if err := r.outputManager.WriteBookmark(bm); err != nil {
			r.logger.Error("failed to write bookmark", "error", err)
		}
		r.metrics.ObserveBookmark(bm)

		if r.opts.SnapshotDir != "" {
			r.saveSnapshot("", false)
		}
	}
}

// saveSnapshot writes a snapshot of the current state. Cells are included
// only when clone output is enabled.
func (r *Runner) saveSnapshot(reason tumour.StopReason, final bool) {
	snapshot := telemetry.NewSnapshot(r.runID, r.cfg.Seed, r.tm, r.cfg.Output.WriteClonesFile)
	snapshot.Reason = string(reason)
	if final {
		snapshot.Bookmarks = r.bookmarks
	}

	path, err := telemetry.SaveSnapshot(snapshot, r.opts.SnapshotDir)
	if err != nil {
		r.logger.Error("failed to save snapshot", "error", err)
		return
	}
	r.logger.Info("snapshot saved", "path", path, "time", snapshot.Elapsed)
}

// finish writes the end-of-run tables, the stored summary, metrics and the
// final snapshot.
func (r *Runner) finish(ctx context.Context, res tumour.Result) error {
	ctx = context.WithoutCancel(ctx)

	// Close the last partial window so the series covers the whole run
	if r.tm.Events() > 0 && (r.windows == 0 || r.lastStats.WindowEnd < r.tm.Elapsed()) {
		r.onSample(r.tm)
	}

	var errs []error
	if err := r.outputManager.WriteFinal(r.cfg, r.tm); err != nil {
		errs = append(errs, fmt.Errorf("writing final tables: %w", err))
	}

	genotypes := telemetry.NewGenotypeRecords(r.tm.Genotypes())
	if err := r.store.SaveRun(ctx, telemetry.NewRunRecord(r.runID, r.cfg.Seed, res)); err != nil {
		errs = append(errs, fmt.Errorf("storing run: %w", err))
	}
	if err := r.store.SaveDemes(ctx, r.runID, r.tm.Demes()); err != nil {
		errs = append(errs, fmt.Errorf("storing demes: %w", err))
	}
	if err := r.store.SaveGenotypes(ctx, r.runID, genotypes); err != nil {
		errs = append(errs, fmt.Errorf("storing genotypes: %w", err))
	}

	if r.outputManager != nil {
		if err := r.metrics.WriteTextfile(r.outputManager.Dir()); err != nil {
			errs = append(errs, err)
		}
	}

	if r.opts.SnapshotDir != "" {
		r.saveSnapshot(res.Reason, true)
	}
	return errors.Join(errs...)
}
