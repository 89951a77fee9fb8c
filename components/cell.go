// Package components defines ECS components for tumour cells.
package components

import "github.com/pthm-cable/methdemon/genotype"

// Placement locates a cell inside its deme's member list.
// Slot must always equal the cell's index in that list.
type Placement struct {
	Deme int
	Slot int
}

// Lineage ties a cell to its clone.
type Lineage struct {
	CellID   uint64
	Genotype genotype.ID
	BornAt   float64 // Simulated generations
}

// Methylation holds one cell's fCpG array. Each locus is 0 or 1.
type Methylation struct {
	Loci []uint8
}

// Fraction returns the share of methylated loci.
func (m *Methylation) Fraction() float64 {
	return MethylatedFraction(m.Loci)
}

// MethylatedFraction returns the share of loci set to 1, or 0 for an empty array.
func MethylatedFraction(loci []uint8) float64 {
	if len(loci) == 0 {
		return 0
	}
	n := 0
	for _, v := range loci {
		n += int(v)
	}
	return float64(n) / float64(len(loci))
}
