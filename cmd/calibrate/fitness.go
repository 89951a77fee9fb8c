package main

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/pthm-cable/methdemon/config"
	"github.com/pthm-cable/methdemon/random"
	"github.com/pthm-cable/methdemon/telemetry"
	"github.com/pthm-cable/methdemon/tumour"
)

// Targets are the end-of-run statistics to match. NaN disables a target.
type Targets struct {
	MethMean      float64
	Genotypes     float64
	DominantShare float64
}

// enabled reports whether at least one target is set.
func (t Targets) enabled() bool {
	return !math.IsNaN(t.MethMean) || !math.IsNaN(t.Genotypes) || !math.IsNaN(t.DominantShare)
}

// distance is the mean squared relative error of stats against the targets.
func (t Targets) distance(stats telemetry.WindowStats) float64 {
	var sum float64
	var n int
	add := func(target, observed float64) {
		if math.IsNaN(target) {
			return
		}
		scale := math.Max(math.Abs(target), 1e-3)
		d := (observed - target) / scale
		sum += d * d
		n++
	}
	add(t.MethMean, stats.MethMean)
	add(t.Genotypes, float64(stats.Genotypes))
	add(t.DominantShare, stats.DominantShare)
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// extinctPenalty is the fitness of a replicate that died out.
const extinctPenalty = 1e6

// FitnessEvaluator runs simulations and scores them against targets.
type FitnessEvaluator struct {
	params     *ParamVector
	seeds      []uint64
	baseConfig *config.Config
	targets    Targets

	mu        sync.Mutex
	lastStats []telemetry.WindowStats // final stats from the most recent Evaluate call
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, seeds []uint64, baseCfg *config.Config, targets Targets) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:     params,
		seeds:      seeds,
		baseConfig: baseCfg,
		targets:    targets,
	}
}

// LastStats returns the final stats of every seed from the most recent evaluation.
func (fe *FitnessEvaluator) LastStats() []telemetry.WindowStats {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastStats
}

// Evaluate computes fitness for a raw parameter vector (lower = better).
// Seeds run in parallel; each trajectory is owned by one goroutine.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg := fe.copyConfig()
	fe.params.Apply(cfg, x)
	if err := cfg.Validate(); err != nil {
		return extinctPenalty
	}

	fitness := make([]float64, len(fe.seeds))
	stats := make([]telemetry.WindowStats, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s uint64) {
			defer wg.Done()
			st, err := runSimulation(cfg, s)
			stats[idx] = st
			if err != nil || st.Population == 0 {
				fitness[idx] = extinctPenalty
				return
			}
			fitness[idx] = fe.targets.distance(st)
		}(i, seed)
	}
	wg.Wait()

	fe.mu.Lock()
	fe.lastStats = stats
	fe.mu.Unlock()

	return seedMean(fitness)
}

// copyConfig returns a deep copy of the base config.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	cfg.Fission.Schedule = append([]float64(nil), fe.baseConfig.Fission.Schedule...)
	return &cfg
}

// runSimulation runs one replicate without output and returns its final stats.
func runSimulation(cfg *config.Config, seed uint64) (telemetry.WindowStats, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tm, err := tumour.New(cfg, random.New(seed), tumour.WithLogger(logger))
	if err != nil {
		return telemetry.WindowStats{}, err
	}
	if _, err := tm.Run(context.Background()); err != nil {
		return telemetry.WindowStats{}, err
	}
	return telemetry.NewCollector().Flush(tm), nil
}
