package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pthm-cable/methdemon/telemetry"
)

func TestSummarise(t *testing.T) {
	runs := []telemetry.RunRecord{
		{Reason: "max_time", Cells: 10, Elapsed: 1},
		{Reason: "max_time", Cells: 30, Elapsed: 2},
		{Reason: "extinction", Cells: 20, Elapsed: 3},
	}

	rows := Summarise(runs)
	if len(rows) != len(metrics) {
		t.Fatalf("got %d rows, want %d", len(rows), len(metrics))
	}

	var cells SummaryRow
	for _, r := range rows {
		if r.Metric == "cells" {
			cells = r
		}
	}
	if cells.N != 3 || cells.Mean != 20 || cells.Min != 10 || cells.Max != 30 || cells.Median != 20 {
		t.Errorf("unexpected cells row %+v", cells)
	}
	if math.Abs(cells.Std-10) > 1e-9 {
		t.Errorf("std = %v, want 10", cells.Std)
	}

	counts := StopCounts(runs)
	if counts["max_time"] != 2 || counts["extinction"] != 1 {
		t.Errorf("stop counts = %v", counts)
	}
}

func TestSummariseDegenerate(t *testing.T) {
	if row := summariseValues("x", nil); row.N != 0 || row.Mean != 0 {
		t.Errorf("empty row = %+v", row)
	}
	row := summariseValues("x", []float64{4})
	if row.Mean != 4 || row.Std != 0 || row.Median != 4 {
		t.Errorf("single row = %+v", row)
	}
}

func TestPrintSummarySortsStopReasons(t *testing.T) {
	var b strings.Builder
	printSummary(&b, []SummaryRow{{Metric: "cells", N: 2, Mean: 5}}, map[string]int{
		"max_time":   2,
		"extinction": 1,
	})

	out := b.String()
	if !strings.Contains(out, "cells") {
		t.Errorf("summary row missing:\n%s", out)
	}
	ext, mt := strings.Index(out, "extinction"), strings.Index(out, "max_time")
	if ext < 0 || mt < 0 || ext > mt {
		t.Errorf("stop reasons not sorted:\n%s", out)
	}
}

func TestReplicateCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "capacity:\n  deme_carrying_capacity: 20\nstopping:\n  max_population: 30\nmethylation:\n  fcpg_loci_per_cell: 8\n"
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", cfgPath, "--seeds", "2", "--output", filepath.Join(dir, "out")})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	for _, name := range []string{"runs.csv", "summary.csv"} {
		if _, err := os.Stat(filepath.Join(dir, "out", name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if !strings.Contains(out.String(), "2 replicates complete") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}
