package systems

import "github.com/pthm-cable/methdemon/random"

// Methylate applies one round of stochastic drift to an fCpG array in place.
// Each unmethylated locus flips to 1 with probability methRate and each
// methylated locus flips to 0 with probability demethRate. It returns the
// number of flips in each direction.
func Methylate(loci []uint8, methRate, demethRate float64, rng *random.Source) (meth, demeth int) {
	for i, v := range loci {
		if v == 0 {
			if rng.Bernoulli(methRate) {
				loci[i] = 1
				meth++
			}
		} else if rng.Bernoulli(demethRate) {
			loci[i] = 0
			demeth++
		}
	}
	return meth, demeth
}

// InitialArray returns a founding fCpG array where each locus is methylated
// with probability p.
func InitialArray(n int, p float64, rng *random.Source) []uint8 {
	loci := make([]uint8, n)
	for i := range loci {
		if rng.Bernoulli(p) {
			loci[i] = 1
		}
	}
	return loci
}
