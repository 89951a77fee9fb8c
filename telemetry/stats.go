package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for one sample window.
type WindowStats struct {
	WindowStart float64 `csv:"-"`
	WindowEnd   float64 `csv:"time"`
	Events      int64   `csv:"events"`

	// State at window end
	Population int  `csv:"population"`
	Demes      int  `csv:"demes"`
	Genotypes  int  `csv:"genotypes"`
	Turnover   bool `csv:"turnover"`

	// Events during window
	Births         int64 `csv:"births"`
	Deaths         int64 `csv:"deaths"`
	Mutations      int64 `csv:"mutations"`
	Fissions       int64 `csv:"fissions"`
	Methylations   int64 `csv:"methylations"`
	Demethylations int64 `csv:"demethylations"`
	Discarded      int64 `csv:"discarded"`

	// Per-cell methylated fraction (sampled at window end)
	MethMean float64 `csv:"meth_mean"`
	MethStd  float64 `csv:"meth_std"`
	MethP10  float64 `csv:"meth_p10"`
	MethP50  float64 `csv:"meth_p50"`
	MethP90  float64 `csv:"meth_p90"`

	// Clonal structure
	MaxDriverMutations int     `csv:"max_driver_mutations"`
	DominantGenotype   int     `csv:"dominant_genotype"`
	DominantShare      float64 `csv:"dominant_share"`
}

// ComputeFractionStats returns mean, sample standard deviation and the
// 10th, 50th and 90th empirical quantiles. All zeros for empty input.
func ComputeFractionStats(values []float64) (mean, std, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0, 0
	}

	mean, std = stat.MeanStdDev(values, nil)
	if n == 1 {
		std = 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = stat.Quantile(0.10, stat.Empirical, sorted, nil)
	p50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	p90 = stat.Quantile(0.90, stat.Empirical, sorted, nil)

	return mean, std, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("window_start", s.WindowStart),
		slog.Float64("window_end", s.WindowEnd),
		slog.Int64("events", s.Events),
		slog.Int("population", s.Population),
		slog.Int("demes", s.Demes),
		slog.Int("genotypes", s.Genotypes),
		slog.Bool("turnover", s.Turnover),
		slog.Int64("births", s.Births),
		slog.Int64("deaths", s.Deaths),
		slog.Int64("mutations", s.Mutations),
		slog.Int64("fissions", s.Fissions),
		slog.Int64("methylations", s.Methylations),
		slog.Int64("demethylations", s.Demethylations),
		slog.Int64("discarded", s.Discarded),
		slog.Float64("meth_mean", s.MethMean),
		slog.Float64("meth_std", s.MethStd),
		slog.Float64("meth_p50", s.MethP50),
		slog.Int("max_driver_mutations", s.MaxDriverMutations),
		slog.Int("dominant_genotype", s.DominantGenotype),
		slog.Float64("dominant_share", s.DominantShare),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"time", s.WindowEnd,
		"events", s.Events,
		"population", s.Population,
		"demes", s.Demes,
		"genotypes", s.Genotypes,
		"births", s.Births,
		"deaths", s.Deaths,
		"fissions", s.Fissions,
		"mutations", s.Mutations,
		"meth_mean", s.MethMean,
		"dominant_share", s.DominantShare,
	)
}
