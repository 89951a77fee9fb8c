package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pthm-cable/methdemon/tumour"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the observable end state of a run.
type Snapshot struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Seed    uint64 `json:"seed"`

	Reason  string              `json:"reason,omitempty"`
	Elapsed float64             `json:"elapsed"`
	Events  int64               `json:"events"`
	Totals  tumour.EventCounter `json:"totals"`

	Demes     []tumour.DemeView `json:"demes"`
	Genotypes []GenotypeRecord  `json:"genotypes"`
	Cells     []CellRecord      `json:"cells,omitempty"`

	Bookmarks []Bookmark `json:"bookmarks,omitempty"`
}

// NewSnapshot captures p. Cells are included only when withCells is set.
func NewSnapshot(runID string, seed uint64, p Population, withCells bool) *Snapshot {
	s := &Snapshot{
		Version:   SnapshotVersion,
		RunID:     runID,
		Seed:      seed,
		Elapsed:   p.Elapsed(),
		Events:    p.Events(),
		Totals:    p.Counters(),
		Demes:     p.Demes(),
		Genotypes: NewGenotypeRecords(p.Genotypes()),
	}
	if withCells {
		for c := range p.Cells() {
			s.Cells = append(s.Cells, NewCellRecord(c))
		}
	}
	return s
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("snapshot_%d", snapshot.Events)
	if snapshot.Reason != "" {
		name = fmt.Sprintf("snapshot_%d_%s", snapshot.Events, snapshot.Reason)
	}
	path := filepath.Join(dir, name+".json")

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}

	return &snapshot, nil
}
