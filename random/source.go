// Package random provides the single random stream a simulation run draws from.
package random

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Source is a seeded pseudo-random stream. Every stochastic decision in a run
// draws from one Source in a fixed order, so equal seeds replay equal runs.
// A Source is not safe for concurrent use.
type Source struct {
	pcg  *rand.PCG
	rng  *rand.Rand
	seed uint64
}

// New creates a Source seeded with seed.
func New(seed uint64) *Source {
	pcg := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Source{
		pcg:  pcg,
		rng:  rand.New(pcg),
		seed: seed,
	}
}

// Seed returns the seed the stream was created with.
func (s *Source) Seed() uint64 {
	return s.seed
}

// Rand exposes the underlying generator for gonum distributions.
func (s *Source) Rand() *rand.Rand {
	return s.rng
}

// Float64 returns a uniform draw in [0, 1).
func (s *Source) Float64() float64 {
	return s.rng.Float64()
}

// Uniform returns a uniform draw in [lo, hi).
func (s *Source) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.rng.Float64()
}

// IntN returns a uniform integer in [0, n). n must be positive.
func (s *Source) IntN(n int) int {
	return s.rng.IntN(n)
}

// Exp returns an exponential draw with the given rate (mean 1/rate).
// A non-positive rate yields +Inf without consuming a draw.
func (s *Source) Exp(rate float64) float64 {
	if rate <= 0 {
		return math.Inf(1)
	}
	return distuv.Exponential{Rate: rate, Src: s.rng}.Rand()
}

// Poisson returns a Poisson draw with the given mean. A non-positive mean
// returns 0 without consuming a draw.
func (s *Source) Poisson(mean float64) int {
	if mean <= 0 {
		return 0
	}
	return int(distuv.Poisson{Lambda: mean, Src: s.rng}.Rand())
}

// Bernoulli returns true with probability p. p outside (0, 1) short-circuits
// without consuming a draw.
func (s *Source) Bernoulli(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.rng.Float64() < p
}

// Perm returns a uniformly random permutation of [0, n).
func (s *Source) Perm(n int) []int {
	return s.rng.Perm(n)
}

// StochasticRound rounds x down or up so that the expectation equals x.
func (s *Source) StochasticRound(x float64) int {
	floor := math.Floor(x)
	if s.rng.Float64() < x-floor {
		return int(floor) + 1
	}
	return int(floor)
}
