package tumour

import (
	"slices"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/methdemon/genotype"
	"github.com/pthm-cable/methdemon/systems"
)

// EventKind is the kind of event applied to a chosen cell.
type EventKind uint8

const (
	EventBirth EventKind = iota
	EventDeath
	EventFission
	numEventKinds
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventBirth:
		return "birth"
	case EventDeath:
		return "death"
	case EventFission:
		return "fission"
	default:
		return "unknown"
	}
}

// Event describes one completed step.
type Event struct {
	Kind EventKind
	Deme int
	Dt   float64

	// Fission outcome
	TrueFission bool
	NewDeme     int // -1 unless TrueFission
}

// divide replaces the cell at slot by two daughters: the original cell in
// place and a new cell appended to the deme.
func (t *Tumour) divide(d *Deme, slot int) error {
	t.counters.Births++

	parent := d.members[slot]
	pg := t.cells.genotypeOf(parent)

	draw := systems.DrawMutations(t.rng, t.cfg.Mutation.MuDriverBirth, t.cfg.Mutation.MuDriverMigration)
	t.counters.Mutations += int64(draw.Total())

	loci := slices.Clone(t.cells.loci(parent))
	meth, demeth := systems.Methylate(loci, t.cfg.Methylation.MethRate, t.cfg.Methylation.DemethRate, t.rng)

	if err := t.registry.Retain(pg); err != nil {
		return err
	}
	child := t.cells.spawn(d.id, d.Population(), pg, loci, t.elapsed)
	childSlot := d.add(child, d.birth[slot], d.migration[slot])

	daughters := [systems.Daughters]ecs.Entity{parent, child}
	slots := [systems.Daughters]int{slot, childSlot}
	final := [systems.Daughters]genotype.ID{pg, pg}
	for i := range systems.Daughters {
		if !draw.Mutated(i) {
			continue
		}
		// Create before release so the parent record outlives both slots
		id, err := t.registry.Create(pg, draw.Driver[i], draw.Migration[i], t.elapsed)
		if err != nil {
			return err
		}
		if err := t.retarget(pg, id); err != nil {
			return err
		}
		t.cells.setGenotype(daughters[i], id)
		birth, migration, _ := t.registry.Rates(id)
		d.setRates(slots[i], birth, migration)
		final[i] = id
	}

	if meth > 0 || demeth > 0 {
		if err := t.registry.AddMethylation(final[1], meth, demeth); err != nil {
			return err
		}
		t.counters.Methylations += int64(meth)
		t.counters.Demethylations += int64(demeth)
	}

	d.recomputeRates()
	return nil
}

// removeMember takes the member at slot out of d and fixes the placement of
// the member moved into its slot.
func (t *Tumour) removeMember(d *Deme, slot int) ecs.Entity {
	e := d.members[slot]
	if moved, ok := d.removeAt(slot); ok {
		t.cells.place(moved, d.id, slot)
	}
	return e
}

// discard removes a cell from the tumour entirely.
func (t *Tumour) discard(d *Deme, slot int) error {
	e := t.removeMember(d, slot)
	g := t.cells.genotypeOf(e)
	t.cells.destroy(e)
	if _, err := t.registry.Release(g); err != nil {
		return err
	}
	return nil
}

func (t *Tumour) die(d *Deme, slot int) error {
	t.counters.Deaths++
	if t.turnover {
		t.turnoverDeaths++
	}
	if err := t.discard(d, slot); err != nil {
		return err
	}
	d.recomputeRates()
	return nil
}

// fission splits a saturated deme. The policy decides between a true
// fission, which moves half the members into a new deme, and a
// pseudo-fission, which discards them.
func (t *Tumour) fission(d *Deme) (Event, error) {
	t.counters.Fissions++
	ev := Event{Kind: EventFission, Deme: d.id, NewDeme: -1}

	// The first deme split seeds the other side; later splits stay put
	target := d.side
	if len(t.demes) == 1 && t.quotaOK(d.side.Opposite()) {
		target = d.side.Opposite()
	}

	accept := t.policy.Accept(systems.FissionRequest{
		Elapsed:  t.elapsed,
		Demes:    len(t.demes),
		MaxDemes: t.cfg.Derived.MaxDemes,
		QuotaOK:  t.quotaOK(target),
	}, t.rng)
	moving := systems.SplitIndices(t.rng, d.Population(), t.cfg.Fission.StochasticSplit)

	d.fissions++
	if !accept {
		for _, slot := range moving {
			if err := t.discard(d, slot); err != nil {
				return ev, err
			}
			t.counters.Discarded++
		}
		d.recomputeRates()
		return ev, nil
	}

	nd := t.addDeme(target)
	nd.fissions = d.fissions
	for _, slot := range moving {
		birth, migration := d.birth[slot], d.migration[slot]
		e := t.removeMember(d, slot)
		t.cells.place(e, nd.id, nd.add(e, birth, migration))
	}
	d.recomputeRates()
	nd.recomputeRates()

	ev.TrueFission = true
	ev.NewDeme = nd.id
	t.log.Debug("deme fission",
		"parent", d.id,
		"child", nd.id,
		"side", nd.side.String(),
		"parent_pop", d.Population(),
		"child_pop", nd.Population(),
		"elapsed", t.elapsed,
	)
	t.checkTurnover()
	return ev, nil
}
