package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/methdemon/config"
	"github.com/pthm-cable/methdemon/random"
	"github.com/pthm-cable/methdemon/tumour"
)

// grownTumour runs a small two-deme tumour to 60 cells, flushing a window
// every generation.
func grownTumour(t *testing.T) (*tumour.Tumour, *config.Config, []WindowStats) {
	t.Helper()

	cfg := config.Default()
	cfg.Stopping = config.StoppingConfig{MaxPopulation: 60}
	cfg.Capacity.DemeCarryingCapacity = 40
	cfg.Initial.InitPop = 4
	cfg.Mutation.MuDriverBirth = 0.05
	cfg.Methylation.MethRate = 0.02
	cfg.Methylation.DemethRate = 0.02
	cfg.Methylation.FCpGLociPerCell = 20
	cfg.Methylation.ManualArray = 0.5
	cfg.Output.WriteClonesFile = true
	cfg.ComputeDerived()

	collector := NewCollector()
	var windows []WindowStats
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hook := func(p *tumour.Tumour) {
		windows = append(windows, collector.Flush(p))
	}
	tm, err := tumour.New(cfg, random.New(11), tumour.WithLogger(logger), tumour.WithSampleHook(1, hook))
	require.NoError(t, err)

	_, err = tm.Run(context.Background())
	require.NoError(t, err)
	return tm, cfg, windows
}

func TestCollectorWindowsSumToTotals(t *testing.T) {
	tm, _, windows := grownTumour(t)
	require.NotEmpty(t, windows)

	var births, deaths, meth int64
	for i, w := range windows {
		births += w.Births
		deaths += w.Deaths
		meth += w.Methylations
		if i > 0 {
			assert.Equal(t, windows[i-1].WindowEnd, w.WindowStart, "windows must tile")
		}
		assert.GreaterOrEqual(t, w.MethP90, w.MethP10)
		assert.GreaterOrEqual(t, w.Genotypes, 1)
	}

	// The last partial window is still open
	final := NewCollector().Flush(tm)
	assert.GreaterOrEqual(t, final.Births, births)
	assert.GreaterOrEqual(t, final.Deaths, deaths)
	assert.GreaterOrEqual(t, final.Methylations, meth)
}

func TestCollectorDominantGenotype(t *testing.T) {
	tm, _, _ := grownTumour(t)

	stats := NewCollector().Flush(tm)
	assert.Equal(t, tm.NumCells(), stats.Population)
	assert.Equal(t, tm.NumGenotypes(), stats.Genotypes)
	assert.Greater(t, stats.DominantShare, 0.0)
	assert.LessOrEqual(t, stats.DominantShare, 1.0)

	var best int
	for _, g := range tm.Genotypes() {
		best = max(best, g.Count)
	}
	assert.InDelta(t, float64(best)/float64(tm.NumCells()), stats.DominantShare, 1e-12)
}
