package systems

import (
	"errors"
	"math"
	"testing"

	"github.com/pthm-cable/methdemon/random"
)

func TestChooseWeightedFrequencies(t *testing.T) {
	rng := random.New(42)
	rates := []float64{1, 2, 3, 4}
	counts := make([]int, len(rates))
	var scratch []float64

	const trials = 100000
	for i := 0; i < trials; i++ {
		idx, s, err := ChooseWeighted(rng, rates, scratch)
		if err != nil {
			t.Fatal(err)
		}
		scratch = s
		counts[idx]++
	}

	for i, c := range counts {
		want := rates[i] / 10
		got := float64(c) / trials
		if math.Abs(got-want) > 0.01 {
			t.Errorf("index %d frequency = %.4f, want %.2f ± 0.01", i, got, want)
		}
	}
}

func TestChooseWeightedSkipsZeroRates(t *testing.T) {
	rng := random.New(1)
	rates := []float64{0, 5, 0, 0, 1, 0}
	for i := 0; i < 10000; i++ {
		idx, _, err := ChooseWeighted(rng, rates, nil)
		if err != nil {
			t.Fatal(err)
		}
		if rates[idx] == 0 {
			t.Fatalf("chose zero-rate index %d", idx)
		}
	}
}

func TestChooseWeightedSingleEntryNoDraw(t *testing.T) {
	a, b := random.New(9), random.New(9)
	idx, _, err := ChooseWeighted(a, []float64{0.3}, nil)
	if err != nil || idx != 0 {
		t.Fatalf("got (%d, %v), want (0, nil)", idx, err)
	}
	if a.Float64() != b.Float64() {
		t.Error("single-entry choice consumed a draw")
	}
}

func TestChooseWeightedDegenerate(t *testing.T) {
	tests := []struct {
		name  string
		rates []float64
	}{
		{"empty", nil},
		{"all zero", []float64{0, 0, 0}},
		{"single zero", []float64{0}},
		{"negative", []float64{1, -1}},
		{"nan", []float64{1, math.NaN()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ChooseWeighted(random.New(1), tt.rates, nil)
			if !errors.Is(err, ErrDegenerateRates) {
				t.Errorf("err = %v, want ErrDegenerateRates", err)
			}
		})
	}
}

func TestChooseWeightedReusesScratch(t *testing.T) {
	scratch := make([]float64, 0, 8)
	_, got, err := ChooseWeighted(random.New(1), []float64{1, 1, 1}, scratch)
	if err != nil {
		t.Fatal(err)
	}
	if cap(got) != 8 {
		t.Errorf("scratch reallocated: cap = %d, want 8", cap(got))
	}
}

func TestSearchCumulativeAtTotal(t *testing.T) {
	tests := []struct {
		name  string
		rates []float64
		want  int
	}{
		{"trailing zero", []float64{1, 2, 0}, 1},
		{"several trailing zeros", []float64{3, 0, 0, 0}, 0},
		{"last positive", []float64{1, 0, 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cum := make([]float64, len(tt.rates))
			var total float64
			for i, r := range tt.rates {
				total += r
				cum[i] = total
			}
			if got := searchCumulative(tt.rates, cum, total); got != tt.want {
				t.Errorf("searchCumulative at total = %d, want %d", got, tt.want)
			}
			if got := searchCumulative(tt.rates, cum, math.Nextafter(total, math.Inf(1))); got != tt.want {
				t.Errorf("searchCumulative past total = %d, want %d", got, tt.want)
			}
		})
	}
}
