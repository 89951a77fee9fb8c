package telemetry

import (
	"log/slog"
	"time"
)

// Phase names, one per event kind plus output work.
const (
	PhaseBirth   = "birth"
	PhaseDeath   = "death"
	PhaseFission = "fission"
	PhaseOutput  = "output"
)

var phases = []string{PhaseBirth, PhaseDeath, PhaseFission, PhaseOutput}

// PerfSample holds timing data for a single event.
type PerfSample struct {
	Phase    string
	Duration time.Duration
}

// PerfCollector tracks wall-clock cost over a rolling window of events.
type PerfCollector struct {
	windowSize  int
	samples     []PerfSample
	writeIndex  int
	sampleCount int
}

// NewPerfCollector creates a new performance collector.
// windowSize: number of events to average over.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 10000
	}
	return &PerfCollector{
		windowSize: windowSize,
		samples:    make([]PerfSample, windowSize),
	}
}

// Observe records one timed unit of work.
func (p *PerfCollector) Observe(phase string, d time.Duration) {
	if p == nil {
		return
	}
	p.samples[p.writeIndex] = PerfSample{Phase: phase, Duration: d}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgEventDuration time.Duration
	MinEventDuration time.Duration
	MaxEventDuration time.Duration

	// Share of total time per phase, in percent
	PhasePct map[string]float64

	EventsPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p == nil || p.sampleCount == 0 {
		return PerfStats{PhasePct: make(map[string]float64)}
	}

	var total, minD, maxD time.Duration
	phaseSum := make(map[string]time.Duration)
	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		total += s.Duration
		if i == 0 || s.Duration < minD {
			minD = s.Duration
		}
		if s.Duration > maxD {
			maxD = s.Duration
		}
		phaseSum[s.Phase] += s.Duration
	}

	pct := make(map[string]float64, len(phaseSum))
	for phase, sum := range phaseSum {
		if total > 0 {
			pct[phase] = float64(sum) / float64(total) * 100
		}
	}

	avg := total / time.Duration(p.sampleCount)
	var perSec float64
	if avg > 0 {
		perSec = float64(time.Second) / float64(avg)
	}

	return PerfStats{
		AvgEventDuration: avg,
		MinEventDuration: minD,
		MaxEventDuration: maxD,
		PhasePct:         pct,
		EventsPerSecond:  perSec,
	}
}

// LogStats logs performance statistics.
func (s PerfStats) LogStats() {
	attrs := []any{
		"avg_event_ns", s.AvgEventDuration.Nanoseconds(),
		"max_event_ns", s.MaxEventDuration.Nanoseconds(),
		"events_per_sec", int(s.EventsPerSecond),
	}
	for _, phase := range phases {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, phase+"_pct", int(pct*10)/10.0)
		}
	}
	slog.Info("perf", attrs...)
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_event_ns", s.AvgEventDuration.Nanoseconds()),
		slog.Int64("min_event_ns", s.MinEventDuration.Nanoseconds()),
		slog.Int64("max_event_ns", s.MaxEventDuration.Nanoseconds()),
		slog.Float64("events_per_sec", s.EventsPerSecond),
	}
	for _, phase := range phases {
		if pct, ok := s.PhasePct[phase]; ok {
			attrs = append(attrs, slog.Float64(phase+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	WindowEnd    float64 `csv:"time"`
	AvgEventNS   int64   `csv:"avg_event_ns"`
	MinEventNS   int64   `csv:"min_event_ns"`
	MaxEventNS   int64   `csv:"max_event_ns"`
	EventsPerSec float64 `csv:"events_per_sec"`
	BirthPct     float64 `csv:"birth_pct"`
	DeathPct     float64 `csv:"death_pct"`
	FissionPct   float64 `csv:"fission_pct"`
	OutputPct    float64 `csv:"output_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(windowEnd float64) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:    windowEnd,
		AvgEventNS:   s.AvgEventDuration.Nanoseconds(),
		MinEventNS:   s.MinEventDuration.Nanoseconds(),
		MaxEventNS:   s.MaxEventDuration.Nanoseconds(),
		EventsPerSec: s.EventsPerSecond,
		BirthPct:     s.PhasePct[PhaseBirth],
		DeathPct:     s.PhasePct[PhaseDeath],
		FissionPct:   s.PhasePct[PhaseFission],
		OutputPct:    s.PhasePct[PhaseOutput],
	}
}
