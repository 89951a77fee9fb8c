// Package tumour runs a stochastic, event-driven simulation of a tumour made
// of demes. Each event picks a deme by its aggregate rate, a cell by its own
// rate, and then birth, death or fission for that cell.
package tumour

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/methdemon/config"
	"github.com/pthm-cable/methdemon/genotype"
	"github.com/pthm-cable/methdemon/random"
	"github.com/pthm-cable/methdemon/systems"
)

// EventCounter holds cumulative event totals for a run.
type EventCounter struct {
	Births         int64 `json:"births"`
	Deaths         int64 `json:"deaths"`
	Mutations      int64 `json:"mutations"`
	Fissions       int64 `json:"fissions"`
	Methylations   int64 `json:"methylations"`
	Demethylations int64 `json:"demethylations"`
	Discarded      int64 `json:"discarded"` // Cells dropped by pseudo-fission
}

// LogValue implements slog.LogValuer for structured logging.
func (c EventCounter) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("births", c.Births),
		slog.Int64("deaths", c.Deaths),
		slog.Int64("mutations", c.Mutations),
		slog.Int64("fissions", c.Fissions),
		slog.Int64("methylations", c.Methylations),
		slog.Int64("demethylations", c.Demethylations),
		slog.Int64("discarded", c.Discarded),
	)
}

// SampleFunc is called each time the output timer reaches the sample interval.
type SampleFunc func(t *Tumour)

// Option configures a Tumour.
type Option func(*Tumour)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tumour) { t.log = l }
}

// WithSampleHook calls fn every interval simulated generations.
func WithSampleHook(interval float64, fn SampleFunc) Option {
	return func(t *Tumour) {
		t.sampleInterval = interval
		t.onSample = fn
	}
}

// WithFissionPolicy overrides the policy selected by the fission mode.
func WithFissionPolicy(p systems.FissionPolicy) Option {
	return func(t *Tumour) { t.policy = p }
}

// Tumour owns every deme, cell and genotype of one trajectory.
// It is not safe for concurrent use.
type Tumour struct {
	cfg      *config.Config
	rng      *random.Source
	log      *slog.Logger
	policy   systems.FissionPolicy
	registry *genotype.Registry
	cells    *cellStore
	demes    []*Deme

	elapsed     float64
	outputTimer float64
	events      int64
	counters    EventCounter

	sideCounts [2]int
	sideQuota  [2]int

	turnover       bool
	turnoverPop    int
	turnoverDeaths int64

	sampleInterval float64
	onSample       SampleFunc

	// Scratch buffers reused across events
	demeRates   []float64
	memberRates []float64
	cum         []float64
	kindRates   [numEventKinds]float64
}

// New validates cfg and creates a tumour holding one left deme seeded with
// init_pop cells of the founding genotype.
func New(cfg *config.Config, rng *random.Source, opts ...Option) (*Tumour, error) {
	if cfg == nil || rng == nil {
		return nil, fmt.Errorf("%w: config and random source are required", config.ErrInvalidParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	law := genotype.FitnessLaw{
		SDriverBirth:     cfg.Fitness.SDriverBirth,
		SDriverMigration: cfg.Fitness.SDriverMigration,
		MaxBirthRate:     cfg.Derived.MaxBirthRate,
		MaxMigrationRate: cfg.Derived.MaxMigrationRate,
	}

	t := &Tumour{
		cfg:       cfg,
		rng:       rng,
		log:       slog.Default(),
		registry:  genotype.NewRegistry(law, cfg.Fitness.NormalBirthRate, cfg.Derived.BaseMigrationRate),
		cells:     newCellStore(),
		sideQuota: [2]int{cfg.Dispersal.LeftDemes, cfg.Dispersal.RightDemes},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.policy == nil {
		switch cfg.Fission.Mode {
		case config.FissionScheduled:
			t.policy = systems.NewScheduledPolicy(cfg.Fission.Schedule)
		default:
			t.policy = systems.CapacityPolicy{Modifier: cfg.Derived.FissionModifier}
		}
	}

	first := t.addDeme(SideLeft)
	birth, migration, _ := t.registry.Rates(genotype.FounderID)
	for range cfg.Initial.InitPop {
		loci := systems.InitialArray(cfg.Methylation.FCpGLociPerCell, cfg.Methylation.ManualArray, rng)
		if err := t.registry.Retain(genotype.FounderID); err != nil {
			return nil, err
		}
		e := t.cells.spawn(first.id, first.Population(), genotype.FounderID, loci, 0)
		first.add(e, birth, migration)
	}
	first.recomputeRates()
	t.checkTurnover()

	t.log.Info("tumour initialised",
		"seed", rng.Seed(),
		"init_pop", cfg.Initial.InitPop,
		"capacity", cfg.Derived.K,
		"max_demes", cfg.Derived.MaxDemes,
		"fission_mode", cfg.Fission.Mode,
	)
	return t, nil
}

func (t *Tumour) addDeme(side Side) *Deme {
	d := newDeme(len(t.demes), t.cfg.Derived.K, side,
		t.cfg.Fitness.BaselineDeathRate, t.cfg.Derived.DensityDeathRate)
	t.demes = append(t.demes, d)
	t.sideCounts[side]++
	return d
}

// quotaOK reports whether side can take another deme. A quota of -1 on
// either side disables the check.
func (t *Tumour) quotaOK(side Side) bool {
	if t.sideQuota[SideLeft] < 0 || t.sideQuota[SideRight] < 0 {
		return true
	}
	return t.sideCounts[side] < t.sideQuota[side]
}

// fissionEligible reports whether a deme's migration rate currently counts.
func (t *Tumour) fissionEligible(d *Deme) bool {
	return !t.turnover && d.Saturated()
}

// checkTurnover enters the turnover phase once the deme count reaches its maximum.
func (t *Tumour) checkTurnover() {
	if t.turnover || len(t.demes) < t.cfg.Derived.MaxDemes {
		return
	}
	t.turnover = true
	t.turnoverPop = t.NumCells()
	t.log.Info("turnover phase started",
		"demes", len(t.demes),
		"population", t.turnoverPop,
		"elapsed", t.elapsed,
	)
}

// retarget moves a cell from one genotype to another.
func (t *Tumour) retarget(from, to genotype.ID) error {
	if err := t.registry.Retain(to); err != nil {
		return err
	}
	if _, err := t.registry.Release(from); err != nil {
		return err
	}
	return nil
}

// wrapSelection converts a selection failure into the tumour's error.
func wrapSelection(stage string, err error) error {
	if errors.Is(err, systems.ErrDegenerateRates) {
		return fmt.Errorf("choosing %s: %w", stage, ErrDegenerateRateSum)
	}
	return fmt.Errorf("choosing %s: %w", stage, err)
}
