package telemetry

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/pthm-cable/methdemon/tumour"
)

// RunRecord summarises one finished run.
type RunRecord struct {
	ID        string  `csv:"run_id" json:"id"`
	Seed      uint64  `csv:"seed" json:"seed"`
	Reason    string  `csv:"reason" json:"reason"`
	Elapsed   float64 `csv:"elapsed" json:"elapsed"`
	Events    int64   `csv:"events" json:"events"`
	Cells     int     `csv:"cells" json:"cells"`
	Demes     int     `csv:"demes" json:"demes"`
	Genotypes int     `csv:"genotypes" json:"genotypes"`
	Births    int64   `csv:"births" json:"births"`
	Deaths    int64   `csv:"deaths" json:"deaths"`
	Mutations int64   `csv:"mutations" json:"mutations"`
	Fissions  int64   `csv:"fissions" json:"fissions"`
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewRunRecord builds a run summary from a finished result.
func NewRunRecord(id string, seed uint64, res tumour.Result) RunRecord {
	return RunRecord{
		ID:        id,
		Seed:      seed,
		Reason:    string(res.Reason),
		Elapsed:   res.Elapsed,
		Events:    res.Events,
		Cells:     res.Cells,
		Demes:     res.Demes,
		Genotypes: res.Genotypes,
		Births:    res.Counters.Births,
		Deaths:    res.Counters.Deaths,
		Mutations: res.Counters.Mutations,
		Fissions:  res.Counters.Fissions,
	}
}

// RunStore persists run summaries, their sample series and final tables.
type RunStore interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run RunRecord) error
	GetRun(ctx context.Context, id string) (RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]RunRecord, error)
	SaveWindow(ctx context.Context, runID string, stats WindowStats) error
	Windows(ctx context.Context, runID string) ([]WindowStats, error)
	SaveDemes(ctx context.Context, runID string, demes []tumour.DemeView) error
	SaveGenotypes(ctx context.Context, runID string, gs []GenotypeRecord) error
	Genotypes(ctx context.Context, runID string) ([]GenotypeRecord, error)
	Close() error
}

// NewRunStore returns a SQLite store for a non-empty path and an in-memory
// store otherwise.
func NewRunStore(path string) RunStore {
	if path == "" {
		return NewMemoryStore()
	}
	return NewSQLiteStore(path)
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]RunRecord
	windows   map[string][]WindowStats
	demes     map[string][]tumour.DemeView
	genotypes map[string][]GenotypeRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]RunRecord),
		windows:   make(map[string][]WindowStats),
		demes:     make(map[string][]tumour.DemeView),
		genotypes: make(map[string][]GenotypeRecord),
	}
}

func (s *MemoryStore) Init(context.Context) error { return nil }

func (s *MemoryStore) SaveRun(_ context.Context, run RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(context.Context) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunRecord, 0, len(s.runs))
	for _, id := range slices.Sorted(maps.Keys(s.runs)) {
		out = append(out, s.runs[id])
	}
	return out, nil
}

func (s *MemoryStore) SaveWindow(_ context.Context, runID string, stats WindowStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[runID] = append(s.windows[runID], stats)
	return nil
}

func (s *MemoryStore) Windows(_ context.Context, runID string) ([]WindowStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.windows[runID]), nil
}

func (s *MemoryStore) SaveDemes(_ context.Context, runID string, demes []tumour.DemeView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.demes[runID] = slices.Clone(demes)
	return nil
}

func (s *MemoryStore) SaveGenotypes(_ context.Context, runID string, gs []GenotypeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genotypes[runID] = slices.Clone(gs)
	return nil
}

func (s *MemoryStore) Genotypes(_ context.Context, runID string) ([]GenotypeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.genotypes[runID]), nil
}

func (s *MemoryStore) Close() error { return nil }
