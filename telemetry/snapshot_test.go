package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestSnapshotSaveLoad(t *testing.T) {
	tm, cfg, _ := grownTumour(t)

	snapshot := NewSnapshot("run-1", cfg.Seed, tm, true)
	snapshot.Reason = "max_population"
	snapshot.Bookmarks = []Bookmark{{Type: BookmarkFirstFission, Time: 3.5, Description: "2 demes"}}

	path, err := SaveSnapshot(snapshot, t.TempDir())
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if filepath.Base(path) != "snapshot_"+strconv.FormatInt(snapshot.Events, 10)+"_max_population.json" {
		t.Errorf("unexpected file name %s", filepath.Base(path))
	}

	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	if loaded.RunID != "run-1" || loaded.Seed != cfg.Seed {
		t.Errorf("identity mismatch: %+v", loaded)
	}
	if loaded.Elapsed != tm.Elapsed() || loaded.Events != tm.Events() {
		t.Error("clock mismatch")
	}
	if loaded.Totals != tm.Counters() {
		t.Errorf("totals = %+v, want %+v", loaded.Totals, tm.Counters())
	}
	if len(loaded.Demes) != tm.NumDemes() {
		t.Errorf("demes = %d, want %d", len(loaded.Demes), tm.NumDemes())
	}
	if len(loaded.Genotypes) != tm.NumGenotypes() {
		t.Errorf("genotypes = %d, want %d", len(loaded.Genotypes), tm.NumGenotypes())
	}
	if len(loaded.Cells) != tm.NumCells() {
		t.Errorf("cells = %d, want %d", len(loaded.Cells), tm.NumCells())
	}
	for _, c := range loaded.Cells {
		if len(c.Loci) != cfg.Methylation.FCpGLociPerCell {
			t.Fatalf("cell %d has %d loci", c.CellID, len(c.Loci))
		}
	}
	if len(loaded.Bookmarks) != 1 || loaded.Bookmarks[0].Type != BookmarkFirstFission {
		t.Errorf("bookmarks = %+v", loaded.Bookmarks)
	}
}

func TestSnapshotWithoutCells(t *testing.T) {
	tm, cfg, _ := grownTumour(t)

	snapshot := NewSnapshot("run-2", cfg.Seed, tm, false)
	if len(snapshot.Cells) != 0 {
		t.Error("cells included without withCells")
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["cells"]; ok {
		t.Error("empty cells should be omitted")
	}
}

func TestLoadSnapshotVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.json")
	if err := os.WriteFile(path, []byte(`{"version": 999}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(path); err == nil {
		t.Error("expected version mismatch error")
	}
}
