// Package systems holds the stateless algorithms used by the tumour event loop.
package systems

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/methdemon/random"
)

// ErrDegenerateRates is returned when no entry can be chosen: the slice is
// empty, a rate is negative or NaN, or the rates sum to zero.
var ErrDegenerateRates = errors.New("degenerate rate vector")

// ChooseWeighted returns index i with probability rates[i] / sum(rates).
// scratch is reused for cumulative sums when it has enough capacity; the
// returned slice should be passed back on the next call.
// A single entry is returned without consuming a draw.
func ChooseWeighted(rng *random.Source, rates, scratch []float64) (int, []float64, error) {
	n := len(rates)
	if n == 0 {
		return 0, scratch, ErrDegenerateRates
	}
	for _, r := range rates {
		if r < 0 || math.IsNaN(r) {
			return 0, scratch, ErrDegenerateRates
		}
	}
	if n == 1 {
		if rates[0] <= 0 {
			return 0, scratch, ErrDegenerateRates
		}
		return 0, scratch, nil
	}

	if cap(scratch) < n {
		scratch = make([]float64, n)
	}
	cum := floats.CumSum(scratch[:n], rates)
	total := cum[n-1]
	if total <= 0 || math.IsInf(total, 0) {
		return 0, scratch, ErrDegenerateRates
	}

	return searchCumulative(rates, cum, rng.Uniform(0, total)), scratch, nil
}

// searchCumulative returns the first index whose cumulative sum exceeds u.
// If rounding leaves u at or past the total, it falls back to the last entry
// with a positive rate, so zero-rate entries never win.
func searchCumulative(rates, cum []float64, u float64) int {
	n := len(cum)
	if i := sort.Search(n, func(i int) bool { return cum[i] > u }); i < n {
		return i
	}
	for i := n - 1; i > 0; i-- {
		if rates[i] > 0 {
			return i
		}
	}
	return 0
}
