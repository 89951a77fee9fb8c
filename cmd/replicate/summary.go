package main

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/methdemon/telemetry"
)

// SummaryRow holds replicate statistics for one outcome.
type SummaryRow struct {
	Metric string  `csv:"metric"`
	N      int     `csv:"n"`
	Mean   float64 `csv:"mean"`
	Std    float64 `csv:"std"`
	Min    float64 `csv:"min"`
	Median float64 `csv:"median"`
	Max    float64 `csv:"max"`
}

// metrics lists the outcomes summarised across replicates.
var metrics = []struct {
	name  string
	value func(r telemetry.RunRecord) float64
}{
	{"elapsed", func(r telemetry.RunRecord) float64 { return r.Elapsed }},
	{"events", func(r telemetry.RunRecord) float64 { return float64(r.Events) }},
	{"cells", func(r telemetry.RunRecord) float64 { return float64(r.Cells) }},
	{"demes", func(r telemetry.RunRecord) float64 { return float64(r.Demes) }},
	{"genotypes", func(r telemetry.RunRecord) float64 { return float64(r.Genotypes) }},
	{"births", func(r telemetry.RunRecord) float64 { return float64(r.Births) }},
	{"deaths", func(r telemetry.RunRecord) float64 { return float64(r.Deaths) }},
	{"mutations", func(r telemetry.RunRecord) float64 { return float64(r.Mutations) }},
	{"fissions", func(r telemetry.RunRecord) float64 { return float64(r.Fissions) }},
}

// Summarise computes one row per outcome over runs.
func Summarise(runs []telemetry.RunRecord) []SummaryRow {
	rows := make([]SummaryRow, 0, len(metrics))
	values := make([]float64, len(runs))
	for _, m := range metrics {
		for i, r := range runs {
			values[i] = m.value(r)
		}
		rows = append(rows, summariseValues(m.name, values))
	}
	return rows
}

func summariseValues(name string, values []float64) SummaryRow {
	row := SummaryRow{Metric: name, N: len(values)}
	switch len(values) {
	case 0:
		return row
	case 1:
		row.Mean, row.Min, row.Median, row.Max = values[0], values[0], values[0], values[0]
		return row
	}

	row.Mean, row.Std = stat.MeanStdDev(values, nil)
	row.Min = floats.Min(values)
	row.Max = floats.Max(values)

	sorted := make([]float64, len(values))
	copy(sorted, values)
	floats.Argsort(sorted, make([]int, len(sorted)))
	row.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if math.IsNaN(row.Std) {
		row.Std = 0
	}
	return row
}

// StopCounts tallies the stop reasons of runs.
func StopCounts(runs []telemetry.RunRecord) map[string]int {
	counts := make(map[string]int)
	for _, r := range runs {
		counts[r.Reason]++
	}
	return counts
}
