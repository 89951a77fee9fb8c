package tumour

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/floats"
)

// Side is the half of the tumour a deme belongs to.
type Side uint8

const (
	SideLeft Side = iota
	SideRight
)

// String returns the side name.
func (s Side) String() string {
	if s == SideRight {
		return "right"
	}
	return "left"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideRight {
		return SideLeft
	}
	return SideRight
}

// Deme is a spatial sub-population with a carrying capacity. Members are
// kept in slot order; birth and migration hold each member's genotype rates
// at the same index.
type Deme struct {
	id           int
	capacity     int
	side         Side
	baseDeath    float64
	crowdedDeath float64
	fissions     int

	members   []ecs.Entity
	birth     []float64
	migration []float64

	sumBirth     float64
	sumMigration float64
}

func newDeme(id, capacity int, side Side, baseDeath, crowdedDeath float64) *Deme {
	return &Deme{
		id:           id,
		capacity:     capacity,
		side:         side,
		baseDeath:    baseDeath,
		crowdedDeath: crowdedDeath,
		members:      make([]ecs.Entity, 0, capacity+1),
		birth:        make([]float64, 0, capacity+1),
		migration:    make([]float64, 0, capacity+1),
	}
}

// ID returns the deme's index in the tumour.
func (d *Deme) ID() int { return d.id }

// Side returns the deme's side.
func (d *Deme) Side() Side { return d.side }

// Capacity returns the carrying capacity.
func (d *Deme) Capacity() int { return d.capacity }

// Population returns the number of member cells.
func (d *Deme) Population() int { return len(d.members) }

// Fissions returns the number of fission events this deme took part in.
func (d *Deme) Fissions() int { return d.fissions }

// SumBirth returns the cached sum of member birth rates.
func (d *Deme) SumBirth() float64 { return d.sumBirth }

// SumMigration returns the cached sum of member migration rates.
func (d *Deme) SumMigration() float64 { return d.sumMigration }

// Saturated reports whether the deme has reached its carrying capacity.
func (d *Deme) Saturated() bool {
	return len(d.members) >= d.capacity
}

// DeathRate returns the per-cell death rate, which jumps to the crowded
// rate while the deme is above capacity.
func (d *Deme) DeathRate() float64 {
	if len(d.members) > d.capacity {
		return d.crowdedDeath
	}
	return d.baseDeath
}

// TotalRate returns the deme's aggregate event rate. Migration counts only
// when fission is possible.
func (d *Deme) TotalRate(fissionEligible bool) float64 {
	total := d.sumBirth + d.DeathRate()*float64(len(d.members))
	if fissionEligible {
		total += d.sumMigration
	}
	return total
}

// add appends a member and returns its slot. Cached sums are not updated.
func (d *Deme) add(e ecs.Entity, birth, migration float64) int {
	d.members = append(d.members, e)
	d.birth = append(d.birth, birth)
	d.migration = append(d.migration, migration)
	return len(d.members) - 1
}

// removeAt removes the member at slot by moving the last member into it.
// If a member was moved, it is returned with moved set so the caller can
// update its placement. Cached sums are not updated.
func (d *Deme) removeAt(slot int) (e ecs.Entity, moved bool) {
	last := len(d.members) - 1
	if slot != last {
		d.members[slot] = d.members[last]
		d.birth[slot] = d.birth[last]
		d.migration[slot] = d.migration[last]
		e, moved = d.members[slot], true
	}
	d.members = d.members[:last]
	d.birth = d.birth[:last]
	d.migration = d.migration[:last]
	return e, moved
}

// setRates replaces the cached rates of the member at slot.
func (d *Deme) setRates(slot int, birth, migration float64) {
	d.birth[slot] = birth
	d.migration[slot] = migration
}

// recomputeRates rebuilds the cached sums from the members.
func (d *Deme) recomputeRates() {
	d.sumBirth = floats.Sum(d.birth)
	d.sumMigration = floats.Sum(d.migration)
}

// memberWeights writes each member's total event rate into dst.
func (d *Deme) memberWeights(dst []float64, fissionEligible bool) []float64 {
	n := len(d.members)
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	death := d.DeathRate()
	for i := range n {
		w := d.birth[i] + death
		if fissionEligible {
			w += d.migration[i]
		}
		dst[i] = w
	}
	return dst
}
