// Package main provides CMA-ES calibration of selection, methylation and
// fission parameters against target end-of-run statistics.
package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/methdemon/config"
	"github.com/pthm-cable/methdemon/telemetry"
)

// CLI flags
var (
	configPath      string
	maxTime         float64
	seeds           int
	maxEvals        int
	population      int
	outputDir       string
	targetMeth      float64
	targetGenotypes float64
	targetDominant  float64

	rootCmd = &cobra.Command{
		Use:          "calibrate",
		Short:        "Fit selection, methylation and fission parameters to target statistics with CMA-ES",
		RunE:         runCalibration,
		SilenceUsage: true,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "Base config YAML file (empty = use defaults)")
	flags.Float64Var(&maxTime, "max-time", 0, "Generations per run (0 = use config)")
	flags.IntVar(&seeds, "seeds", 3, "Number of seeds per evaluation")
	flags.IntVar(&maxEvals, "max-evals", 200, "Maximum number of evaluations")
	flags.IntVar(&population, "population", 0, "CMA-ES population size (0 = auto)")
	flags.StringVar(&outputDir, "output", "", "Output directory for results")
	flags.Float64Var(&targetMeth, "target-meth-mean", math.NaN(), "Target mean methylated fraction")
	flags.Float64Var(&targetGenotypes, "target-genotypes", math.NaN(), "Target number of live genotypes")
	flags.Float64Var(&targetDominant, "target-dominant-share", math.NaN(), "Target share of the largest clone")
	_ = rootCmd.MarkFlagRequired("output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCalibration(cmd *cobra.Command, args []string) error {
	targets := Targets{MethMean: targetMeth, Genotypes: targetGenotypes, DominantShare: targetDominant}
	if !targets.enabled() {
		return errors.New("at least one --target-* flag is required")
	}
	if seeds < 1 {
		return errors.New("--seeds must be at least 1")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	baseCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if maxTime > 0 {
		baseCfg.Stopping.MaxTime = maxTime
	}
	if baseCfg.Stopping == (config.StoppingConfig{}) {
		return errors.New("the base config needs at least one stopping condition")
	}

	out := cmd.OutOrStdout()
	params := NewParamVector()
	evaluator := NewFitnessEvaluator(params, calibrationSeeds(seeds), baseCfg, targets)

	elog, err := newEvalLog(filepath.Join(outputDir, "calibrate_log.csv"), params, maxEvals, out)
	if err != nil {
		return fmt.Errorf("creating evaluation log: %w", err)
	}
	defer elog.Close()

	popSize := population
	if popSize == 0 {
		popSize = 4 + int(3*math.Log(float64(params.Dim())))
	}

	// CMA-ES searches the unit cube; Evaluate clamps before simulating
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			raw := params.Clamp(params.FromUnit(x))
			fitness := evaluator.Evaluate(raw)
			elog.Record(raw, fitness, evaluator.LastStats())
			return fitness
		},
	}

	fmt.Fprintf(out, "Calibrating %d parameters: population=%d max_evals=%d seeds=%d\n",
		params.Dim(), popSize, maxEvals, seeds)

	result, err := optimize.Minimize(problem,
		params.ToUnit(params.Read(baseCfg)),
		&optimize.Settings{FuncEvaluations: maxEvals},
		&optimize.CmaEsChol{InitStepSize: 0.3, Population: popSize},
	)
	if err != nil {
		slog.Warn("optimization ended", "error", err)
	}

	best := elog.best
	if best == nil {
		best = params.Clamp(params.FromUnit(result.X))
	}

	fmt.Fprintf(out, "\nCalibration complete after %d evaluations in %s\n", elog.count, time.Since(elog.start).Round(time.Second))
	fmt.Fprintf(out, "Best fitness: %.6f\n", elog.bestFitness)
	for i, spec := range params.Specs {
		fmt.Fprintf(out, "  %-18s %-28s %.6f\n", spec.Name, spec.Path, best[i])
	}

	bestCfg := evaluator.copyConfig()
	params.Apply(bestCfg, best)
	path := filepath.Join(outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(path); err != nil {
		return fmt.Errorf("writing best config: %w", err)
	}
	fmt.Fprintf(out, "Best config saved to: %s\n", path)
	return nil
}

// calibrationSeeds returns n well-separated seeds, fixed across evaluations so
// every candidate sees the same replicates.
func calibrationSeeds(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(i*1000 + 42)
	}
	return out
}

// evalLog streams one CSV row per evaluation and tracks the best point seen.
// The optimizer's final X is not always its best evaluation.
type evalLog struct {
	f        *os.File
	w        *csv.Writer
	progress io.Writer
	maxEvals int
	start    time.Time

	count       int
	bestFitness float64
	best        []float64
}

func newEvalLog(path string, params *ParamVector, maxEvals int, progress io.Writer) (*evalLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	header := []string{"eval", "fitness", "meth_mean", "genotypes"}
	for _, spec := range params.Specs {
		header = append(header, spec.Name)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	return &evalLog{
		f:           f,
		w:           w,
		progress:    progress,
		maxEvals:    maxEvals,
		start:       time.Now(),
		bestFitness: math.Inf(1),
	}, nil
}

// Record logs one evaluation of the clamped parameters raw.
func (l *evalLog) Record(raw []float64, fitness float64, stats []telemetry.WindowStats) {
	l.count++
	if fitness < l.bestFitness {
		l.bestFitness = fitness
		l.best = append(l.best[:0], raw...)
	}

	meth := make([]float64, len(stats))
	genotypes := make([]float64, len(stats))
	for i, s := range stats {
		meth[i] = s.MethMean
		genotypes[i] = float64(s.Genotypes)
	}
	methMean, genotypesMean := seedMean(meth), seedMean(genotypes)

	row := []string{
		strconv.Itoa(l.count),
		strconv.FormatFloat(fitness, 'f', 6, 64),
		strconv.FormatFloat(methMean, 'f', 6, 64),
		strconv.FormatFloat(genotypesMean, 'f', 2, 64),
	}
	for _, v := range raw {
		row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
	}
	if err := l.w.Write(row); err != nil {
		slog.Error("failed to log evaluation", "eval", l.count, "error", err)
	}
	l.w.Flush()

	elapsed := time.Since(l.start)
	eta := time.Duration(l.maxEvals-l.count) * (elapsed / time.Duration(l.count))
	fmt.Fprintf(l.progress, "Eval %d/%d: fitness=%.4f meth=%.3f genotypes=%.1f best=%.4f | elapsed %s, eta %s\n",
		l.count, l.maxEvals, fitness, methMean, genotypesMean, l.bestFitness,
		elapsed.Round(time.Second), eta.Round(time.Second))
}

func (l *evalLog) Close() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// seedMean averages a per-seed statistic; no seeds gives NaN.
func seedMean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return floats.Sum(xs) / float64(len(xs))
}
