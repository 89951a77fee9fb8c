package tumour

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/pthm-cable/methdemon/genotype"
)

// DemeView is a read-only copy of one deme's state.
type DemeView struct {
	ID           int     `json:"id" csv:"deme"`
	Side         string  `json:"side" csv:"side"`
	Population   int     `json:"population" csv:"population"`
	Capacity     int     `json:"capacity" csv:"capacity"`
	Fissions     int     `json:"fissions" csv:"fissions"`
	SumBirth     float64 `json:"sum_birth" csv:"sum_birth"`
	SumMigration float64 `json:"sum_migration" csv:"sum_migration"`
	DeathRate    float64 `json:"death_rate" csv:"death_rate"`
	Saturated    bool    `json:"saturated" csv:"saturated"`
}

// CellView is a read-only copy of one cell.
type CellView struct {
	CellID   uint64
	Deme     int
	Slot     int
	Genotype genotype.ID
	BornAt   float64
	Loci     []uint8
}

// Demes returns a snapshot of every deme in id order.
func (t *Tumour) Demes() []DemeView {
	out := make([]DemeView, len(t.demes))
	for i, d := range t.demes {
		out[i] = DemeView{
			ID:           d.id,
			Side:         d.side.String(),
			Population:   d.Population(),
			Capacity:     d.capacity,
			Fissions:     d.fissions,
			SumBirth:     d.sumBirth,
			SumMigration: d.sumMigration,
			DeathRate:    d.DeathRate(),
			Saturated:    d.Saturated(),
		}
	}
	return out
}

// Genotypes returns copies of every live genotype ordered by id.
func (t *Tumour) Genotypes() []genotype.Genotype {
	return t.registry.All()
}

// Cells yields every cell, deme by deme in slot order. Loci are copies.
// The tumour must not be stepped while iterating.
func (t *Tumour) Cells() iter.Seq[CellView] {
	return func(yield func(CellView) bool) {
		for _, d := range t.demes {
			for slot, e := range d.members {
				lin := t.cells.lineage(e)
				cv := CellView{
					CellID:   lin.CellID,
					Deme:     d.id,
					Slot:     slot,
					Genotype: lin.Genotype,
					BornAt:   lin.BornAt,
					Loci:     slices.Clone(t.cells.loci(e)),
				}
				if !yield(cv) {
					return
				}
			}
		}
	}
}

// Counters returns the cumulative event totals.
func (t *Tumour) Counters() EventCounter { return t.counters }

// Elapsed returns the simulated time in generations.
func (t *Tumour) Elapsed() float64 { return t.elapsed }

// OutputTimer returns the time since the last sample.
func (t *Tumour) OutputTimer() float64 { return t.outputTimer }

// Events returns the number of completed events.
func (t *Tumour) Events() int64 { return t.events }

// NumDemes returns the number of demes.
func (t *Tumour) NumDemes() int { return len(t.demes) }

// NumCells returns the total population.
func (t *Tumour) NumCells() int {
	n := 0
	for _, d := range t.demes {
		n += d.Population()
	}
	return n
}

// NumGenotypes returns the number of live genotypes.
func (t *Tumour) NumGenotypes() int { return t.registry.Len() }

// NextCellID returns the id the next new cell will get.
func (t *Tumour) NextCellID() uint64 { return t.cells.nextCellID }

// NextGenotypeID returns the id the next new genotype will get.
func (t *Tumour) NextGenotypeID() genotype.ID { return t.registry.NextID() }

// TurnoverIndicator reports whether the deme count has reached its maximum.
func (t *Tumour) TurnoverIndicator() bool { return t.turnover }

// FissionsPerDeme returns each deme's fission counter in id order.
func (t *Tumour) FissionsPerDeme() []int {
	out := make([]int, len(t.demes))
	for i, d := range t.demes {
		out[i] = d.fissions
	}
	return out
}

// SideCounts returns the number of left and right demes.
func (t *Tumour) SideCounts() (left, right int) {
	return t.sideCounts[SideLeft], t.sideCounts[SideRight]
}

// CheckInvariants verifies the structural invariants of the whole tumour:
// placements match member slots, cached rates match recomputed ones, and
// genotype counts match the cells carrying them.
func (t *Tumour) CheckInvariants() error {
	var errs []error
	carriers := make(map[genotype.ID]int)
	total := 0

	for _, d := range t.demes {
		if len(d.birth) != len(d.members) || len(d.migration) != len(d.members) {
			errs = append(errs, fmt.Errorf("deme %d: rate slices out of step with members", d.id))
			continue
		}
		var sumBirth, sumMigration float64
		for slot, e := range d.members {
			if !t.cells.alive(e) {
				errs = append(errs, fmt.Errorf("deme %d slot %d: dead entity", d.id, slot))
				continue
			}
			p := t.cells.placement(e)
			if p.Deme != d.id || p.Slot != slot {
				errs = append(errs, fmt.Errorf("deme %d slot %d: placement says deme %d slot %d", d.id, slot, p.Deme, p.Slot))
			}
			g := t.cells.genotypeOf(e)
			carriers[g]++
			birth, migration, ok := t.registry.Rates(g)
			if !ok {
				errs = append(errs, fmt.Errorf("deme %d slot %d: genotype %d not registered", d.id, slot, g))
				continue
			}
			if birth != d.birth[slot] || migration != d.migration[slot] {
				errs = append(errs, fmt.Errorf("deme %d slot %d: cached rates differ from genotype %d", d.id, slot, g))
			}
			sumBirth += birth
			sumMigration += migration
		}
		if !closeTo(sumBirth, d.sumBirth) || !closeTo(sumMigration, d.sumMigration) {
			errs = append(errs, fmt.Errorf("deme %d: cached sums (%v, %v) differ from recomputed (%v, %v)",
				d.id, d.sumBirth, d.sumMigration, sumBirth, sumMigration))
		}
		total += d.Population()
	}

	if n := t.cells.count(); n != total {
		errs = append(errs, fmt.Errorf("world holds %d cells, demes hold %d", n, total))
	}

	for _, g := range t.registry.All() {
		if g.Count != carriers[g.ID] {
			errs = append(errs, fmt.Errorf("genotype %d: count %d, carried by %d cells", g.ID, g.Count, carriers[g.ID]))
		}
		if g.Count == 0 && !g.Immortal {
			errs = append(errs, fmt.Errorf("genotype %d: mortal with zero count", g.ID))
		}
	}
	return errors.Join(errs...)
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}
