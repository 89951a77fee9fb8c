// Package telemetry provides per-window statistics, bookmarks, run output and snapshots.
package telemetry

import (
	"iter"

	"github.com/pthm-cable/methdemon/components"
	"github.com/pthm-cable/methdemon/genotype"
	"github.com/pthm-cable/methdemon/tumour"
)

// Population is the read-only view of a running tumour that telemetry needs.
type Population interface {
	Counters() tumour.EventCounter
	Elapsed() float64
	Events() int64
	NumCells() int
	NumDemes() int
	TurnoverIndicator() bool
	Demes() []tumour.DemeView
	Genotypes() []genotype.Genotype
	Cells() iter.Seq[tumour.CellView]
}

// Collector turns cumulative counters into per-window deltas and produces WindowStats.
type Collector struct {
	windowStart float64
	last        tumour.EventCounter

	// Reused between flushes
	fractions []float64
}

// NewCollector creates a new stats collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Flush produces a WindowStats for the window ending now and starts the next one.
func (c *Collector) Flush(p Population) WindowStats {
	now := p.Counters()
	stats := WindowStats{
		WindowStart: c.windowStart,
		WindowEnd:   p.Elapsed(),
		Events:      p.Events(),

		Population: p.NumCells(),
		Demes:      p.NumDemes(),
		Turnover:   p.TurnoverIndicator(),

		Births:         now.Births - c.last.Births,
		Deaths:         now.Deaths - c.last.Deaths,
		Mutations:      now.Mutations - c.last.Mutations,
		Fissions:       now.Fissions - c.last.Fissions,
		Methylations:   now.Methylations - c.last.Methylations,
		Demethylations: now.Demethylations - c.last.Demethylations,
		Discarded:      now.Discarded - c.last.Discarded,
	}

	c.fractions = c.fractions[:0]
	for cell := range p.Cells() {
		c.fractions = append(c.fractions, components.MethylatedFraction(cell.Loci))
	}
	stats.MethMean, stats.MethStd, stats.MethP10, stats.MethP50, stats.MethP90 = ComputeFractionStats(c.fractions)

	genotypes := p.Genotypes()
	stats.Genotypes = len(genotypes)
	dominant := -1
	for i, g := range genotypes {
		if g.DriverMutations > stats.MaxDriverMutations {
			stats.MaxDriverMutations = g.DriverMutations
		}
		if dominant < 0 || g.Count > genotypes[dominant].Count {
			dominant = i
		}
	}
	if dominant >= 0 {
		stats.DominantGenotype = int(genotypes[dominant].ID)
		if stats.Population > 0 {
			stats.DominantShare = float64(genotypes[dominant].Count) / float64(stats.Population)
		}
	}

	// Reset for next window
	c.windowStart = stats.WindowEnd
	c.last = now

	return stats
}
