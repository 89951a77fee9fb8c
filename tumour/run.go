package tumour

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/methdemon/systems"
)

// StopReason names the condition that ended a run.
type StopReason string

const (
	StopNone           StopReason = ""
	StopExtinction     StopReason = "extinction"
	StopMaxTime        StopReason = "max_time"
	StopMaxGenerations StopReason = "max_generations"
	StopMaxFissions    StopReason = "max_fissions"
	StopMaxPopulation  StopReason = "max_population"
	StopTurnover       StopReason = "turnover"
	StopCancelled      StopReason = "cancelled"
)

// Result summarises a finished run.
type Result struct {
	Reason    StopReason
	Counters  EventCounter
	Elapsed   float64
	Events    int64
	Cells     int
	Demes     int
	Genotypes int
}

// LogValue implements slog.LogValuer for structured logging.
func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("reason", string(r.Reason)),
		slog.Float64("elapsed", r.Elapsed),
		slog.Int64("events", r.Events),
		slog.Int("cells", r.Cells),
		slog.Int("demes", r.Demes),
		slog.Int("genotypes", r.Genotypes),
		slog.Any("counters", r.Counters),
	)
}

// Step performs one event and advances the clocks.
func (t *Tumour) Step() (Event, error) {
	if t.NumCells() == 0 {
		return Event{}, ErrExtinct
	}

	if cap(t.demeRates) < len(t.demes) {
		t.demeRates = make([]float64, len(t.demes), 2*len(t.demes))
	}
	t.demeRates = t.demeRates[:len(t.demes)]
	for i, d := range t.demes {
		t.demeRates[i] = d.TotalRate(t.fissionEligible(d))
	}
	total := floats.Sum(t.demeRates)
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return Event{}, fmt.Errorf("total rate %v: %w", total, ErrNonFiniteDraw)
	}

	di, cum, err := systems.ChooseWeighted(t.rng, t.demeRates, t.cum)
	t.cum = cum
	if err != nil {
		return Event{}, wrapSelection("deme", err)
	}
	d := t.demes[di]
	eligible := t.fissionEligible(d)

	slot, err := t.chooseMember(d, eligible)
	if err != nil {
		return Event{}, wrapSelection("member", err)
	}

	t.kindRates[EventBirth] = d.birth[slot]
	t.kindRates[EventDeath] = d.DeathRate()
	t.kindRates[EventFission] = 0
	if eligible {
		t.kindRates[EventFission] = d.migration[slot]
	}
	k, cum, err := systems.ChooseWeighted(t.rng, t.kindRates[:], t.cum)
	t.cum = cum
	if err != nil {
		return Event{}, wrapSelection("event", err)
	}

	ev := Event{Kind: EventKind(k), Deme: d.id, NewDeme: -1}
	switch ev.Kind {
	case EventBirth:
		err = t.divide(d, slot)
	case EventDeath:
		err = t.die(d, slot)
	case EventFission:
		ev, err = t.fission(d)
	}
	if err != nil {
		return ev, fmt.Errorf("%s in deme %d: %w", ev.Kind, d.id, err)
	}

	dt := t.rng.Exp(total)
	if math.IsNaN(dt) || math.IsInf(dt, 0) {
		return ev, fmt.Errorf("time step %v: %w", dt, ErrNonFiniteDraw)
	}
	ev.Dt = dt
	t.elapsed += dt
	t.outputTimer += dt
	t.events++

	if t.onSample != nil && t.sampleInterval > 0 && t.outputTimer >= t.sampleInterval {
		t.onSample(t)
		t.outputTimer = 0
	}
	return ev, nil
}

// chooseMember picks a member of d weighted by its total event rate.
func (t *Tumour) chooseMember(d *Deme, eligible bool) (int, error) {
	t.memberRates = d.memberWeights(t.memberRates, eligible)
	if t.cfg.Fission.UniformMemberSelection && allEqual(t.memberRates) {
		if len(t.memberRates) == 1 {
			return 0, nil
		}
		return t.rng.IntN(len(t.memberRates)), nil
	}
	slot, cum, err := systems.ChooseWeighted(t.rng, t.memberRates, t.cum)
	t.cum = cum
	return slot, err
}

func allEqual(xs []float64) bool {
	if len(xs) == 0 || xs[0] <= 0 {
		return false
	}
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// StopReason evaluates the stopping conditions. Zero thresholds are disabled.
func (t *Tumour) StopReason() StopReason {
	s := t.cfg.Stopping
	switch {
	case t.NumCells() == 0:
		return StopExtinction
	case s.MaxPopulation > 0 && t.NumCells() >= s.MaxPopulation:
		return StopMaxPopulation
	case s.MaxTime > 0 && t.elapsed >= s.MaxTime:
		return StopMaxTime
	case s.MaxGenerations > 0 && t.events >= s.MaxGenerations:
		return StopMaxGenerations
	case s.MaxFissions > 0 && t.counters.Fissions >= s.MaxFissions:
		return StopMaxFissions
	case s.Turnover > 0 && t.turnover && float64(t.turnoverDeaths) >= s.Turnover*float64(t.turnoverPop):
		return StopTurnover
	}
	return StopNone
}

// Run steps until a stopping condition holds, ctx is cancelled, or an
// event fails. Cancellation is checked between events.
func (t *Tumour) Run(ctx context.Context) (Result, error) {
	for {
		if reason := t.StopReason(); reason != StopNone {
			res := t.Result(reason)
			t.log.Info("run finished", "result", res)
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return t.Result(StopCancelled), err
		}
		if _, err := t.Step(); err != nil {
			return t.Result(StopNone), err
		}
	}
}

// Result summarises the current state under the given stop reason.
func (t *Tumour) Result(reason StopReason) Result {
	return Result{
		Reason:    reason,
		Counters:  t.counters,
		Elapsed:   t.elapsed,
		Events:    t.events,
		Cells:     t.NumCells(),
		Demes:     len(t.demes),
		Genotypes: t.registry.Len(),
	}
}
