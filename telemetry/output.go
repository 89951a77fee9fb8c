package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/methdemon/components"
	"github.com/pthm-cable/methdemon/config"
	"github.com/pthm-cable/methdemon/genotype"
	"github.com/pthm-cable/methdemon/tumour"
)

// GenotypeRecord is the CSV row for one genotype.
type GenotypeRecord struct {
	ID                 int     `csv:"genotype" json:"id"`
	Parent             int     `csv:"parent" json:"parent"`
	DriverMutations    int     `csv:"driver_mutations" json:"driver_mutations"`
	MigrationMutations int     `csv:"migration_mutations" json:"migration_mutations"`
	BirthRate          float64 `csv:"birth_rate" json:"birth_rate"`
	MigrationRate      float64 `csv:"migration_rate" json:"migration_rate"`
	Methylations       int     `csv:"methylations" json:"methylations"`
	Demethylations     int     `csv:"demethylations" json:"demethylations"`
	CreatedAt          float64 `csv:"created_at" json:"created_at"`
	Count              int     `csv:"count" json:"count"`
}

// NewGenotypeRecords converts registry copies into CSV rows.
func NewGenotypeRecords(gs []genotype.Genotype) []GenotypeRecord {
	out := make([]GenotypeRecord, len(gs))
	for i, g := range gs {
		out[i] = GenotypeRecord{
			ID:                 int(g.ID),
			Parent:             int(g.Parent),
			DriverMutations:    g.DriverMutations,
			MigrationMutations: g.MigrationMutations,
			BirthRate:          g.BirthRate,
			MigrationRate:      g.MigrationRate,
			Methylations:       g.Methylations,
			Demethylations:     g.Demethylations,
			CreatedAt:          g.CreatedAt,
			Count:              g.Count,
		}
	}
	return out
}

// CellRecord is the CSV row for one cell.
type CellRecord struct {
	CellID     uint64  `csv:"cell" json:"cell"`
	Deme       int     `csv:"deme" json:"deme"`
	Genotype   int     `csv:"genotype" json:"genotype"`
	BornAt     float64 `csv:"born_at" json:"born_at"`
	Methylated float64 `csv:"methylated_fraction" json:"methylated_fraction"`
	Loci       string  `csv:"fcpg" json:"fcpg"` // One character per locus
}

// NewCellRecord converts a cell view into a CSV row.
func NewCellRecord(c tumour.CellView) CellRecord {
	var b strings.Builder
	b.Grow(len(c.Loci))
	for _, v := range c.Loci {
		b.WriteByte('0' + v)
	}
	return CellRecord{
		CellID:     c.CellID,
		Deme:       c.Deme,
		Genotype:   int(c.Genotype),
		BornAt:     c.BornAt,
		Methylated: components.MethylatedFraction(c.Loci),
		Loci:       b.String(),
	}
}

// OutputManager handles structured run output with CSV logging.
type OutputManager struct {
	dir           string
	telemetryFile *os.File
	perfFile      *os.File
	bookmarkFile  *os.File

	// Track if headers have been written
	telemetryHeaderWritten bool
	perfHeaderWritten      bool
	bookmarkHeaderWritten  bool
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, "telemetry.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating telemetry.csv: %w", err)
	}
	om.telemetryFile = f

	f, err = os.Create(filepath.Join(dir, "perf.csv"))
	if err != nil {
		om.telemetryFile.Close()
		return nil, fmt.Errorf("creating perf.csv: %w", err)
	}
	om.perfFile = f

	f, err = os.Create(filepath.Join(dir, "bookmarks.csv"))
	if err != nil {
		om.telemetryFile.Close()
		om.perfFile.Close()
		return nil, fmt.Errorf("creating bookmarks.csv: %w", err)
	}
	om.bookmarkFile = f

	return om, nil
}

// WriteConfig saves the effective configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// appendRecords writes records to f, with a header on the first write only.
func appendRecords(f *os.File, headerWritten *bool, records any) error {
	if !*headerWritten {
		if err := gocsv.Marshal(records, f); err != nil {
			return err
		}
		*headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, f)
}

// WriteTelemetry writes a window stats record to telemetry.csv.
func (om *OutputManager) WriteTelemetry(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := appendRecords(om.telemetryFile, &om.telemetryHeaderWritten, []WindowStats{stats}); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd float64) error {
	if om == nil {
		return nil
	}
	records := []PerfStatsCSV{stats.ToCSV(windowEnd)}
	if err := appendRecords(om.perfFile, &om.perfHeaderWritten, records); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteBookmark writes a bookmark record to bookmarks.csv.
func (om *OutputManager) WriteBookmark(b Bookmark) error {
	if om == nil {
		return nil
	}
	if err := appendRecords(om.bookmarkFile, &om.bookmarkHeaderWritten, []Bookmark{b}); err != nil {
		return fmt.Errorf("writing bookmark: %w", err)
	}
	return nil
}

// writeTable writes a complete CSV file in one go.
func (om *OutputManager) writeTable(name string, records any) error {
	f, err := os.Create(filepath.Join(om.dir, name))
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if err := gocsv.Marshal(records, f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return f.Close()
}

// WriteDemes writes demes.csv.
func (om *OutputManager) WriteDemes(demes []tumour.DemeView) error {
	if om == nil {
		return nil
	}
	return om.writeTable("demes.csv", demes)
}

// WriteGenotypes writes genotypes.csv.
func (om *OutputManager) WriteGenotypes(gs []GenotypeRecord) error {
	if om == nil {
		return nil
	}
	return om.writeTable("genotypes.csv", gs)
}

// WriteCells writes cells.csv.
func (om *OutputManager) WriteCells(cells []CellRecord) error {
	if om == nil {
		return nil
	}
	return om.writeTable("cells.csv", cells)
}

// WriteFinal writes the end-of-run tables selected in cfg.
func (om *OutputManager) WriteFinal(cfg *config.Config, p Population) error {
	if om == nil {
		return nil
	}
	if cfg.Output.WriteDemesFile {
		if err := om.WriteDemes(p.Demes()); err != nil {
			return err
		}
	}
	if cfg.Output.WriteGenotypesFile {
		if err := om.WriteGenotypes(NewGenotypeRecords(p.Genotypes())); err != nil {
			return err
		}
	}
	if cfg.Output.WriteClonesFile {
		var cells []CellRecord
		for c := range p.Cells() {
			cells = append(cells, NewCellRecord(c))
		}
		if err := om.WriteCells(cells); err != nil {
			return err
		}
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, f := range []*os.File{om.telemetryFile, om.perfFile, om.bookmarkFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
