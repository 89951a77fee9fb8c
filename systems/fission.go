package systems

import (
	"slices"

	"github.com/pthm-cable/methdemon/random"
)

// FissionRequest describes a saturated deme asking to split.
type FissionRequest struct {
	Elapsed  float64 // Simulated generations
	Demes    int     // Current deme count
	MaxDemes int
	QuotaOK  bool // Target side still has room
}

// FissionPolicy decides whether a fission draw becomes a true fission
// (a new deme) or a pseudo-fission (half the deme is discarded).
type FissionPolicy interface {
	Accept(req FissionRequest, rng *random.Source) bool
}

// CapacityPolicy accepts a true fission with probability 1/Modifier while
// deme and side quotas allow it. It always consumes one draw.
type CapacityPolicy struct {
	Modifier float64
}

// Accept implements FissionPolicy.
func (p CapacityPolicy) Accept(req FissionRequest, rng *random.Source) bool {
	u := rng.Float64()
	modifier := max(p.Modifier, 1)
	return u <= 1/modifier && req.Demes < req.MaxDemes && req.QuotaOK
}

// ScheduledPolicy accepts the first fission unconditionally and each later
// one only once elapsed time has passed the next unused checkpoint. It
// consumes no draws.
type ScheduledPolicy struct {
	schedule []float64
	next     int
	first    bool
}

// NewScheduledPolicy creates a policy over ascending checkpoints.
func NewScheduledPolicy(schedule []float64) *ScheduledPolicy {
	return &ScheduledPolicy{schedule: slices.Clone(schedule)}
}

// Accept implements FissionPolicy.
func (p *ScheduledPolicy) Accept(req FissionRequest, _ *random.Source) bool {
	if req.Demes >= req.MaxDemes || !req.QuotaOK {
		return false
	}
	if !p.first {
		p.first = true
		return true
	}
	if p.next < len(p.schedule) && req.Elapsed >= p.schedule[p.next] {
		p.next++
		return true
	}
	return false
}

// Remaining returns the number of unused checkpoints.
func (p *ScheduledPolicy) Remaining() int {
	return len(p.schedule) - p.next
}

// SplitIndices picks ceil(pop/2) distinct member slots uniformly at random
// and returns them in descending order, so they can be removed one by one
// with swap-with-last removal without invalidating the remaining indices.
// With stochastic set the count is pop/2 rounded stochastically instead,
// never less than one.
func SplitIndices(rng *random.Source, pop int, stochastic bool) []int {
	if pop <= 0 {
		return nil
	}
	k := (pop + 1) / 2
	if stochastic {
		k = max(rng.StochasticRound(float64(pop)/2), 1)
	}
	idx := rng.Perm(pop)[:k]
	slices.Sort(idx)
	slices.Reverse(idx)
	return idx
}
