// Package genotype tracks the clones present in a tumour: their driver
// mutations, derived rates and how many cells currently carry them.
package genotype

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
)

// ID identifies a genotype. IDs are allocated in creation order and never reused.
type ID int

// FounderID is the id of the founding genotype.
const FounderID ID = 0

var (
	// ErrUnknown is returned for an id that is not (or no longer) registered.
	ErrUnknown = errors.New("unknown genotype")
	// ErrRefUnderflow is returned when releasing a genotype nobody carries.
	ErrRefUnderflow = errors.New("genotype reference count underflow")
)

// Genotype is one clone's heritable state.
type Genotype struct {
	ID       ID
	Parent   ID // -1 for the founder
	Immortal bool

	DriverMutations    int
	MigrationMutations int
	BirthRate          float64
	MigrationRate      float64

	// Cumulative along the lineage
	Methylations   int
	Demethylations int

	CreatedAt float64 // Simulated generations
	Count     int     // Live cells carrying this genotype
}

// FitnessLaw derives child rates from parent rates.
type FitnessLaw struct {
	SDriverBirth     float64
	SDriverMigration float64
	MaxBirthRate     float64
	MaxMigrationRate float64
}

// BirthRate applies n new driver mutations to a parent birth rate.
func (l FitnessLaw) BirthRate(parent float64, n int) float64 {
	return clampRate(parent*math.Pow(1+l.SDriverBirth, float64(n)), l.MaxBirthRate)
}

// MigrationRate applies n new migration mutations to a parent migration rate.
func (l FitnessLaw) MigrationRate(parent float64, n int) float64 {
	return clampRate(parent*math.Pow(1+l.SDriverMigration, float64(n)), l.MaxMigrationRate)
}

func clampRate(r, hi float64) float64 {
	if r < 0 || math.IsNaN(r) {
		return 0
	}
	if r > hi {
		return hi
	}
	return r
}

// Registry owns every live genotype.
type Registry struct {
	law    FitnessLaw
	byID   map[ID]*Genotype
	nextID ID
}

// NewRegistry creates a registry holding only the immortal founder with the
// given baseline rates.
func NewRegistry(law FitnessLaw, birthRate, migrationRate float64) *Registry {
	r := &Registry{
		law:  law,
		byID: make(map[ID]*Genotype),
	}
	r.byID[FounderID] = &Genotype{
		ID:            FounderID,
		Parent:        -1,
		Immortal:      true,
		BirthRate:     birthRate,
		MigrationRate: migrationRate,
	}
	r.nextID = FounderID + 1
	return r
}

// Create registers a child of parent carrying newDriver and newMigration
// additional mutations. The child starts with a count of zero and the
// parent's count is left untouched.
func (r *Registry) Create(parent ID, newDriver, newMigration int, at float64) (ID, error) {
	p, ok := r.byID[parent]
	if !ok {
		return 0, fmt.Errorf("create from %d: %w", parent, ErrUnknown)
	}

	id := r.nextID
	r.nextID++
	r.byID[id] = &Genotype{
		ID:                 id,
		Parent:             parent,
		DriverMutations:    p.DriverMutations + newDriver,
		MigrationMutations: p.MigrationMutations + newMigration,
		BirthRate:          r.law.BirthRate(p.BirthRate, newDriver),
		MigrationRate:      r.law.MigrationRate(p.MigrationRate, newMigration),
		Methylations:       p.Methylations,
		Demethylations:     p.Demethylations,
		CreatedAt:          at,
	}
	return id, nil
}

// Retain adds one carrier.
func (r *Registry) Retain(id ID) error {
	g, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("retain %d: %w", id, ErrUnknown)
	}
	g.Count++
	return nil
}

// Release removes one carrier. A mortal genotype whose count reaches zero is
// removed from the registry and removed reports true.
func (r *Registry) Release(id ID) (removed bool, err error) {
	g, ok := r.byID[id]
	if !ok {
		return false, fmt.Errorf("release %d: %w", id, ErrUnknown)
	}
	if g.Count == 0 {
		return false, fmt.Errorf("release %d: %w", id, ErrRefUnderflow)
	}
	g.Count--
	if g.Count == 0 && !g.Immortal {
		delete(r.byID, id)
		return true, nil
	}
	return false, nil
}

// AddMethylation adds methylation and demethylation events to a genotype's tallies.
func (r *Registry) AddMethylation(id ID, meth, demeth int) error {
	g, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("methylate %d: %w", id, ErrUnknown)
	}
	g.Methylations += meth
	g.Demethylations += demeth
	return nil
}

// Rates returns the birth and migration rate of a genotype.
func (r *Registry) Rates(id ID) (birth, migration float64, ok bool) {
	g, ok := r.byID[id]
	if !ok {
		return 0, 0, false
	}
	return g.BirthRate, g.MigrationRate, true
}

// Get returns a copy of a genotype.
func (r *Registry) Get(id ID) (Genotype, bool) {
	g, ok := r.byID[id]
	if !ok {
		return Genotype{}, false
	}
	return *g, true
}

// All returns copies of every registered genotype ordered by id.
func (r *Registry) All() []Genotype {
	ids := slices.Sorted(maps.Keys(r.byID))
	out := make([]Genotype, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.byID[id])
	}
	return out
}

// Len returns the number of registered genotypes.
func (r *Registry) Len() int {
	return len(r.byID)
}

// NextID returns the id the next Create will allocate.
func (r *Registry) NextID() ID {
	return r.nextID
}

// LogValue implements slog.LogValuer for structured logging.
func (g Genotype) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("id", int(g.ID)),
		slog.Int("parent", int(g.Parent)),
		slog.Int("driver_mutations", g.DriverMutations),
		slog.Int("migration_mutations", g.MigrationMutations),
		slog.Float64("birth_rate", g.BirthRate),
		slog.Float64("migration_rate", g.MigrationRate),
		slog.Int("count", g.Count),
	)
}
