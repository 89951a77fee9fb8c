package systems

import "github.com/pthm-cable/methdemon/random"

// Daughters is the number of cells a division produces.
const Daughters = 2

// MutationDraw holds new driver mutation counts for each daughter slot.
// Slot 0 is the dividing cell kept in place, slot 1 is the new cell.
type MutationDraw struct {
	Driver    [Daughters]int
	Migration [Daughters]int
}

// Total returns the number of new mutations across both slots.
func (d MutationDraw) Total() int {
	n := 0
	for i := range Daughters {
		n += d.Driver[i] + d.Migration[i]
	}
	return n
}

// Mutated reports whether slot i gained any mutation.
func (d MutationDraw) Mutated(i int) bool {
	return d.Driver[i] > 0 || d.Migration[i] > 0
}

// DrawMutations draws independent Poisson counts for every slot, driver
// before migration, slot 0 before slot 1.
func DrawMutations(rng *random.Source, muDriver, muMigration float64) MutationDraw {
	var d MutationDraw
	for i := range Daughters {
		d.Driver[i] = rng.Poisson(muDriver)
		d.Migration[i] = rng.Poisson(muMigration)
	}
	return d
}
