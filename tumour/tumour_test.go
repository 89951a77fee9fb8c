package tumour

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/methdemon/config"
	"github.com/pthm-cable/methdemon/random"
	"github.com/pthm-cable/methdemon/systems"
)

// fixedPolicy accepts or rejects every fission without drawing.
type fixedPolicy bool

func (p fixedPolicy) Accept(req systems.FissionRequest, _ *random.Source) bool {
	return bool(p) && req.Demes < req.MaxDemes && req.QuotaOK
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns defaults with every stopping condition disabled and
// every stochastic extra switched off.
func testConfig(modify func(c *config.Config)) *config.Config {
	cfg := config.Default()
	cfg.Stopping = config.StoppingConfig{}
	cfg.Mutation = config.MutationConfig{}
	cfg.Methylation.MethRate = 0
	cfg.Methylation.DemethRate = 0
	cfg.Methylation.FCpGLociPerCell = 16
	cfg.Fitness.BaselineDeathRate = 0
	if modify != nil {
		modify(cfg)
	}
	cfg.ComputeDerived()
	return cfg
}

func newTestTumour(t *testing.T, cfg *config.Config, seed uint64, opts ...Option) *Tumour {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	tm, err := New(cfg, random.New(seed), opts...)
	require.NoError(t, err)
	return tm
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.Capacity.DemeCarryingCapacity = 0 })
	_, err := New(cfg, random.New(1))
	require.ErrorIs(t, err, config.ErrInvalidParameter)

	_, err = New(nil, random.New(1))
	require.ErrorIs(t, err, config.ErrInvalidParameter)

	cfg = testConfig(func(c *config.Config) { c.Methylation.FCpGLociPerCell = 0 })
	_, err = New(cfg, random.New(1))
	require.ErrorIs(t, err, config.ErrInvalidParameter)
}

func TestNewSeedsFounders(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 7
		c.Methylation.ManualArray = 1
	})
	tm := newTestTumour(t, cfg, 1)

	assert.Equal(t, 7, tm.NumCells())
	assert.Equal(t, 1, tm.NumDemes())
	assert.Equal(t, 1, tm.NumGenotypes())
	require.NoError(t, tm.CheckInvariants())

	for c := range tm.Cells() {
		for _, v := range c.Loci {
			require.Equal(t, uint8(1), v, "manual array 1 should methylate every founding locus")
		}
	}

	g := tm.Genotypes()[0]
	assert.True(t, g.Immortal)
	assert.Equal(t, 7, g.Count)
	assert.Equal(t, uint64(7), tm.NextCellID())
}

func TestEndToEndGrowthToCapacity(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Seed = 42
		c.Initial.InitPop = 1
		c.Capacity.DemeCarryingCapacity = 100
		c.Stopping.MaxPopulation = 100
	})
	tm := newTestTumour(t, cfg, cfg.Seed)

	res, err := tm.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopMaxPopulation, res.Reason)
	assert.Equal(t, 1, res.Demes)
	assert.Equal(t, 100, res.Cells)
	assert.Equal(t, int64(99), res.Counters.Births)
	assert.Equal(t, int64(0), res.Counters.Deaths)
	assert.Equal(t, int64(0), res.Counters.Mutations)
	assert.Equal(t, int64(0), res.Counters.Methylations)
	assert.Equal(t, int64(0), res.Counters.Demethylations)
	assert.Equal(t, res.Counters.Births, res.Counters.Deaths+int64(cfg.Derived.K-cfg.Initial.InitPop))
	assert.Greater(t, res.Elapsed, 0.0)
	require.NoError(t, tm.CheckInvariants())
}

func TestPopulationAccounting(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 10
		c.Capacity.DemeCarryingCapacity = 40
		c.Fitness.BaselineDeathRate = 0.3
		c.Dispersal.InitMigrationRate = 1
		c.Fission.Modifier = 2
		c.Mutation.MuDriverBirth = 0.05
		c.Methylation.MethRate = 0.01
		c.Methylation.DemethRate = 0.01
		c.Stopping.MaxGenerations = 5000
	})
	tm := newTestTumour(t, cfg, 7)

	res, err := tm.Run(context.Background())
	require.NoError(t, err)

	c := res.Counters
	assert.Equal(t, int64(res.Cells-cfg.Initial.InitPop), c.Births-c.Deaths-c.Discarded)
	require.NoError(t, tm.CheckInvariants())
}

func TestDeterministicReplay(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 5
		c.Capacity.DemeCarryingCapacity = 30
		c.Fitness.BaselineDeathRate = 0.2
		c.Dispersal.InitMigrationRate = 0.5
		c.Mutation.MuDriverBirth = 0.1
		c.Mutation.MuDriverMigration = 0.05
		c.Methylation.MethRate = 0.02
		c.Methylation.DemethRate = 0.02
		c.Stopping.MaxGenerations = 3000
	})

	run := func(seed uint64) (Result, []DemeView, int) {
		tm := newTestTumour(t, cfg, seed)
		res, err := tm.Run(context.Background())
		require.NoError(t, err)
		return res, tm.Demes(), len(tm.Genotypes())
	}

	resA, demesA, genA := run(11)
	resB, demesB, genB := run(11)
	assert.Equal(t, resA, resB)
	assert.Equal(t, demesA, demesB)
	assert.Equal(t, genA, genB)

	resC, _, _ := run(12)
	assert.NotEqual(t, resA.Elapsed, resC.Elapsed, "different seeds should give different trajectories")
}

func TestInvariantsHoldEveryStep(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 3
		c.Capacity.DemeCarryingCapacity = 12
		c.Fitness.BaselineDeathRate = 0.25
		c.Dispersal.InitMigrationRate = 2
		c.Fission.MaxDemes = 6
		c.Fission.Modifier = 3
		c.Mutation.MuDriverBirth = 0.2
		c.Mutation.MuDriverMigration = 0.2
		c.Methylation.MethRate = 0.05
		c.Methylation.DemethRate = 0.05
	})
	tm := newTestTumour(t, cfg, 3)

	for i := 0; i < 2000; i++ {
		if tm.NumCells() == 0 {
			break
		}
		_, err := tm.Step()
		require.NoError(t, err)
		require.NoError(t, tm.CheckInvariants(), "after step %d", i)
		require.LessOrEqual(t, tm.NumDemes(), cfg.Derived.MaxDemes)
	}
}

func TestTrueFissionConservesCells(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 9
		c.Capacity.DemeCarryingCapacity = 9
		c.Dispersal.InitMigrationRate = 1
	})
	tm := newTestTumour(t, cfg, 5, WithFissionPolicy(fixedPolicy(true)))
	parent := tm.demes[0]
	require.True(t, parent.Saturated())

	ev, err := tm.fission(parent)
	require.NoError(t, err)
	require.True(t, ev.TrueFission)
	require.Equal(t, 1, ev.NewDeme)

	child := tm.demes[1]
	assert.Equal(t, 5, child.Population())
	assert.Equal(t, 4, parent.Population())
	assert.Equal(t, SideRight, child.Side())
	assert.Equal(t, 1, parent.Fissions())
	assert.Equal(t, 1, child.Fissions())
	assert.Equal(t, int64(1), tm.Counters().Fissions)
	assert.Equal(t, int64(0), tm.Counters().Deaths)
	require.NoError(t, tm.CheckInvariants())

	left, right := tm.SideCounts()
	assert.Equal(t, 1, left)
	assert.Equal(t, 1, right)
}

func TestPseudoFissionDiscardsHalf(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 10
		c.Capacity.DemeCarryingCapacity = 10
		c.Dispersal.InitMigrationRate = 1
	})
	tm := newTestTumour(t, cfg, 5, WithFissionPolicy(fixedPolicy(false)))
	d := tm.demes[0]

	ev, err := tm.fission(d)
	require.NoError(t, err)
	assert.False(t, ev.TrueFission)
	assert.Equal(t, -1, ev.NewDeme)
	assert.Equal(t, 1, tm.NumDemes())
	assert.Equal(t, 5, d.Population())
	assert.Equal(t, 1, d.Fissions())

	c := tm.Counters()
	assert.Equal(t, int64(1), c.Fissions)
	assert.Equal(t, int64(5), c.Discarded)
	assert.Equal(t, int64(0), c.Deaths)
	require.NoError(t, tm.CheckInvariants())
}

func TestStochasticSplitFission(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 9
		c.Capacity.DemeCarryingCapacity = 9
		c.Dispersal.InitMigrationRate = 1
		c.Fission.StochasticSplit = true
	})
	tm := newTestTumour(t, cfg, 5, WithFissionPolicy(fixedPolicy(true)))
	parent := tm.demes[0]

	_, err := tm.fission(parent)
	require.NoError(t, err)

	child := tm.demes[1]
	assert.Contains(t, []int{4, 5}, child.Population())
	assert.Equal(t, 9, parent.Population()+child.Population())
	require.NoError(t, tm.CheckInvariants())
}

// Births are not blocked in a full deme; the crowded death rate pulls it
// back. Overshoot stays within a few cells.
func TestCrowdedDemeOvershootIsBounded(t *testing.T) {
	const capacity = 7
	for seed := uint64(1); seed <= 20; seed++ {
		cfg := testConfig(func(c *config.Config) {
			c.Initial.InitPop = 1
			c.Capacity.DemeCarryingCapacity = capacity
			c.Dispersal.InitMigrationRate = 0
		})
		tm := newTestTumour(t, cfg, seed)
		d := tm.demes[0]

		peak := 0
		for i := 0; i < 3000; i++ {
			_, err := tm.Step()
			require.NoError(t, err)
			peak = max(peak, d.Population())
		}
		require.NoError(t, tm.CheckInvariants())
		assert.GreaterOrEqual(t, peak, capacity, "seed %d never filled the deme", seed)
		assert.LessOrEqual(t, peak, 2*capacity, "seed %d overshot capacity", seed)
		assert.LessOrEqual(t, d.Population(), capacity+3, "seed %d stayed crowded", seed)
	}
}

func TestLaterFissionsStayOnParentSide(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 8
		c.Capacity.DemeCarryingCapacity = 8
		c.Dispersal.InitMigrationRate = 1
	})
	tm := newTestTumour(t, cfg, 2, WithFissionPolicy(fixedPolicy(true)))

	_, err := tm.fission(tm.demes[0])
	require.NoError(t, err)
	// Refill the left deme so it can split again
	for tm.demes[0].Population() < 8 {
		require.NoError(t, tm.divide(tm.demes[0], 0))
	}
	_, err = tm.fission(tm.demes[0])
	require.NoError(t, err)

	require.Equal(t, 3, tm.NumDemes())
	assert.Equal(t, SideLeft, tm.demes[2].Side())
	assert.Equal(t, 2, tm.demes[0].Fissions())
	assert.Equal(t, 2, tm.demes[2].Fissions())
	require.NoError(t, tm.CheckInvariants())
}

func TestSideQuotasStartTurnover(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 6
		c.Capacity.DemeCarryingCapacity = 6
		c.Dispersal.InitMigrationRate = 1
		c.Dispersal.LeftDemes = 1
		c.Dispersal.RightDemes = 1
	})
	tm := newTestTumour(t, cfg, 4, WithFissionPolicy(fixedPolicy(true)))
	require.Equal(t, 2, cfg.Derived.MaxDemes)
	require.False(t, tm.TurnoverIndicator())

	ev, err := tm.fission(tm.demes[0])
	require.NoError(t, err)
	require.True(t, ev.TrueFission)
	assert.True(t, tm.TurnoverIndicator())

	// No deme can draw fission once turnover has begun
	for _, d := range tm.demes {
		assert.False(t, tm.fissionEligible(d))
	}
}

func TestSaturationBoundary(t *testing.T) {
	tests := []struct {
		name     string
		initPop  int
		eligible bool
	}{
		{"one below capacity", 9, false},
		{"at capacity", 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(func(c *config.Config) {
				c.Initial.InitPop = tt.initPop
				c.Capacity.DemeCarryingCapacity = 10
				c.Dispersal.InitMigrationRate = 0.5
			})
			tm := newTestTumour(t, cfg, 1)
			d := tm.demes[0]

			assert.Equal(t, tt.eligible, tm.fissionEligible(d))
			want := d.SumBirth()
			if tt.eligible {
				want += d.SumMigration()
			}
			assert.InDelta(t, want, d.TotalRate(tm.fissionEligible(d)), 1e-12)
		})
	}
}

func TestCrowdedDeathRate(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 5
		c.Capacity.DemeCarryingCapacity = 5
		c.Fitness.BaselineDeathRate = 0.1
	})
	tm := newTestTumour(t, cfg, 1)
	d := tm.demes[0]
	assert.Equal(t, 0.1, d.DeathRate())

	require.NoError(t, tm.divide(d, 0))
	assert.Equal(t, 6, d.Population())
	assert.Equal(t, cfg.Derived.DensityDeathRate, d.DeathRate())
}

func TestDeathFixesMovedPlacement(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.Initial.InitPop = 5 })
	tm := newTestTumour(t, cfg, 1)
	d := tm.demes[0]
	last := d.members[4]

	require.NoError(t, tm.die(d, 1))
	assert.Equal(t, 4, d.Population())
	assert.Equal(t, last, d.members[1])
	assert.Equal(t, 1, tm.cells.placement(last).Slot)
	assert.Equal(t, int64(1), tm.Counters().Deaths)
	require.NoError(t, tm.CheckInvariants())
}

func TestMutationsCreateGenotypes(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 1
		c.Capacity.DemeCarryingCapacity = 50
		c.Mutation.MuDriverBirth = 1
		c.Stopping.MaxPopulation = 50
	})
	tm := newTestTumour(t, cfg, 8)

	res, err := tm.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, res.Counters.Mutations, int64(0))
	assert.Greater(t, res.Genotypes, 1)

	total := 0
	for _, g := range tm.Genotypes() {
		total += g.Count
		if !g.Immortal {
			assert.Positive(t, g.Count)
			assert.GreaterOrEqual(t, g.BirthRate, cfg.Fitness.NormalBirthRate)
			assert.LessOrEqual(t, g.BirthRate, cfg.Derived.MaxBirthRate)
		}
	}
	assert.Equal(t, tm.NumCells(), total)
	require.NoError(t, tm.CheckInvariants())
}

func TestMethylationTallies(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 1
		c.Capacity.DemeCarryingCapacity = 30
		c.Methylation.MethRate = 0.2
		c.Methylation.FCpGLociPerCell = 50
		c.Stopping.MaxPopulation = 30
	})
	tm := newTestTumour(t, cfg, 6)

	res, err := tm.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, res.Counters.Methylations, int64(0))
	assert.Equal(t, int64(0), res.Counters.Demethylations)

	// Without mutations every tally lands on the founder
	g := tm.Genotypes()[0]
	assert.Equal(t, res.Counters.Methylations, int64(g.Methylations))

	methylated := 0
	for c := range tm.Cells() {
		for _, v := range c.Loci {
			methylated += int(v)
		}
	}
	assert.Positive(t, methylated)
}

func TestTurnoverStop(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 10
		c.Capacity.DemeCarryingCapacity = 20
		c.Fitness.BaselineDeathRate = 0.05
		c.Dispersal.InitMigrationRate = 1
		c.Fission.MaxDemes = 2
		c.Stopping.Turnover = 1
		c.Stopping.MaxGenerations = 200000
	})
	tm := newTestTumour(t, cfg, 9)

	res, err := tm.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StopTurnover, res.Reason)
	assert.Equal(t, 2, res.Demes)
	assert.True(t, tm.TurnoverIndicator())
	assert.GreaterOrEqual(t, float64(tm.turnoverDeaths), float64(tm.turnoverPop))
}

func TestMaxFissionsStop(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 4
		c.Capacity.DemeCarryingCapacity = 8
		c.Dispersal.InitMigrationRate = 2
		c.Stopping.MaxFissions = 3
		c.Stopping.MaxGenerations = 100000
	})
	tm := newTestTumour(t, cfg, 10)

	res, err := tm.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopMaxFissions, res.Reason)
	assert.Equal(t, int64(3), res.Counters.Fissions)
}

func TestScheduledFissionMode(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 4
		c.Capacity.DemeCarryingCapacity = 4
		c.Dispersal.InitMigrationRate = 1
		c.Fission.Mode = config.FissionScheduled
		c.Fission.Schedule = []float64{1000}
	})
	tm := newTestTumour(t, cfg, 12)

	ev, err := tm.fission(tm.demes[0])
	require.NoError(t, err)
	assert.True(t, ev.TrueFission, "first scheduled fission is unconditional")

	for tm.demes[0].Population() < 4 {
		require.NoError(t, tm.divide(tm.demes[0], 0))
	}
	ev, err = tm.fission(tm.demes[0])
	require.NoError(t, err)
	assert.False(t, ev.TrueFission, "checkpoint not yet reached")
}

func TestSampleHook(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Initial.InitPop = 5
		c.Capacity.DemeCarryingCapacity = 20
		c.Fitness.BaselineDeathRate = 0.5
		c.Stopping.MaxTime = 10
	})

	calls := 0
	tm := newTestTumour(t, cfg, 13, WithSampleHook(1, func(tm *Tumour) {
		calls++
		assert.GreaterOrEqual(t, tm.OutputTimer(), 1.0)
	}))

	res, err := tm.Run(context.Background())
	require.NoError(t, err)
	if res.Reason == StopMaxTime {
		assert.Positive(t, calls)
		assert.LessOrEqual(t, calls, 10)
	}
	assert.Less(t, tm.OutputTimer(), 1.0)
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig(nil)
	tm := newTestTumour(t, cfg, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := tm.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCancelled, res.Reason)
	assert.Equal(t, int64(0), res.Events)
}

func TestStepOnExtinctTumour(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.Initial.InitPop = 1 })
	tm := newTestTumour(t, cfg, 1)
	require.NoError(t, tm.die(tm.demes[0], 0))

	_, err := tm.Step()
	require.ErrorIs(t, err, ErrExtinct)
	assert.Equal(t, StopExtinction, tm.StopReason())
	// The founder survives extinction of its carriers
	assert.Equal(t, 1, tm.NumGenotypes())
}
