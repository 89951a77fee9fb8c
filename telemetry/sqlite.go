package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/pthm-cable/methdemon/tumour"
)

// SQLiteStore persists runs to a SQLite database file.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore creates a store for path. Call Init before use.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, seed, reason, elapsed, events, cells, demes, genotypes, births, deaths, mutations, fissions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seed = excluded.seed,
			reason = excluded.reason,
			elapsed = excluded.elapsed,
			events = excluded.events,
			cells = excluded.cells,
			demes = excluded.demes,
			genotypes = excluded.genotypes,
			births = excluded.births,
			deaths = excluded.deaths,
			mutations = excluded.mutations,
			fissions = excluded.fissions
	`, run.ID, int64(run.Seed), run.Reason, run.Elapsed, run.Events, run.Cells, run.Demes, run.Genotypes,
		run.Births, run.Deaths, run.Mutations, run.Fissions)
	return err
}

const runColumns = `id, seed, reason, elapsed, events, cells, demes, genotypes, births, deaths, mutations, fissions`

func scanRun(row interface{ Scan(...any) error }) (RunRecord, error) {
	var run RunRecord
	var seed int64
	err := row.Scan(&run.ID, &seed, &run.Reason, &run.Elapsed, &run.Events, &run.Cells, &run.Demes,
		&run.Genotypes, &run.Births, &run.Deaths, &run.Mutations, &run.Fissions)
	run.Seed = uint64(seed)
	return run, err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (RunRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return RunRecord{}, false, err
	}

	run, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveWindow(ctx context.Context, runID string, w WindowStats) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO windows (run_id, window_start, window_end, events, population, demes, genotypes, turnover,
			births, deaths, mutations, fissions, methylations, demethylations, discarded,
			meth_mean, meth_std, meth_p10, meth_p50, meth_p90, max_driver_mutations, dominant_genotype, dominant_share)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, w.WindowStart, w.WindowEnd, w.Events, w.Population, w.Demes, w.Genotypes, w.Turnover,
		w.Births, w.Deaths, w.Mutations, w.Fissions, w.Methylations, w.Demethylations, w.Discarded,
		w.MethMean, w.MethStd, w.MethP10, w.MethP50, w.MethP90, w.MaxDriverMutations, w.DominantGenotype, w.DominantShare)
	return err
}

func (s *SQLiteStore) Windows(ctx context.Context, runID string) ([]WindowStats, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT window_start, window_end, events, population, demes, genotypes, turnover,
			births, deaths, mutations, fissions, methylations, demethylations, discarded,
			meth_mean, meth_std, meth_p10, meth_p50, meth_p90, max_driver_mutations, dominant_genotype, dominant_share
		FROM windows WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WindowStats
	for rows.Next() {
		var w WindowStats
		if err := rows.Scan(&w.WindowStart, &w.WindowEnd, &w.Events, &w.Population, &w.Demes, &w.Genotypes, &w.Turnover,
			&w.Births, &w.Deaths, &w.Mutations, &w.Fissions, &w.Methylations, &w.Demethylations, &w.Discarded,
			&w.MethMean, &w.MethStd, &w.MethP10, &w.MethP50, &w.MethP90, &w.MaxDriverMutations, &w.DominantGenotype, &w.DominantShare); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveDemes(ctx context.Context, runID string, demes []tumour.DemeView) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM demes WHERE run_id = ?`, runID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO demes (run_id, deme, side, population, capacity, fissions, sum_birth, sum_migration, death_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range demes {
		if _, err := stmt.ExecContext(ctx, runID, d.ID, d.Side, d.Population, d.Capacity, d.Fissions,
			d.SumBirth, d.SumMigration, d.DeathRate); err != nil {
			return fmt.Errorf("insert deme %d: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveGenotypes(ctx context.Context, runID string, gs []GenotypeRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM genotypes WHERE run_id = ?`, runID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO genotypes (run_id, genotype, parent, driver_mutations, migration_mutations,
			birth_rate, migration_rate, methylations, demethylations, created_at, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, g := range gs {
		if _, err := stmt.ExecContext(ctx, runID, g.ID, g.Parent, g.DriverMutations, g.MigrationMutations,
			g.BirthRate, g.MigrationRate, g.Methylations, g.Demethylations, g.CreatedAt, g.Count); err != nil {
			return fmt.Errorf("insert genotype %d: %w", g.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Genotypes(ctx context.Context, runID string) ([]GenotypeRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT genotype, parent, driver_mutations, migration_mutations, birth_rate, migration_rate,
			methylations, demethylations, created_at, count
		FROM genotypes WHERE run_id = ? ORDER BY genotype
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GenotypeRecord
	for rows.Next() {
		var g GenotypeRecord
		if err := rows.Scan(&g.ID, &g.Parent, &g.DriverMutations, &g.MigrationMutations, &g.BirthRate,
			&g.MigrationRate, &g.Methylations, &g.Demethylations, &g.CreatedAt, &g.Count); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			reason TEXT NOT NULL,
			elapsed REAL NOT NULL,
			events INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			demes INTEGER NOT NULL,
			genotypes INTEGER NOT NULL,
			births INTEGER NOT NULL,
			deaths INTEGER NOT NULL,
			mutations INTEGER NOT NULL,
			fissions INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS windows (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			window_start REAL NOT NULL,
			window_end REAL NOT NULL,
			events INTEGER NOT NULL,
			population INTEGER NOT NULL,
			demes INTEGER NOT NULL,
			genotypes INTEGER NOT NULL,
			turnover BOOLEAN NOT NULL,
			births INTEGER NOT NULL,
			deaths INTEGER NOT NULL,
			mutations INTEGER NOT NULL,
			fissions INTEGER NOT NULL,
			methylations INTEGER NOT NULL,
			demethylations INTEGER NOT NULL,
			discarded INTEGER NOT NULL,
			meth_mean REAL NOT NULL,
			meth_std REAL NOT NULL,
			meth_p10 REAL NOT NULL,
			meth_p50 REAL NOT NULL,
			meth_p90 REAL NOT NULL,
			max_driver_mutations INTEGER NOT NULL,
			dominant_genotype INTEGER NOT NULL,
			dominant_share REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS windows_run ON windows (run_id);
		CREATE TABLE IF NOT EXISTS demes (
			run_id TEXT NOT NULL,
			deme INTEGER NOT NULL,
			side TEXT NOT NULL,
			population INTEGER NOT NULL,
			capacity INTEGER NOT NULL,
			fissions INTEGER NOT NULL,
			sum_birth REAL NOT NULL,
			sum_migration REAL NOT NULL,
			death_rate REAL NOT NULL,
			PRIMARY KEY (run_id, deme)
		);
		CREATE TABLE IF NOT EXISTS genotypes (
			run_id TEXT NOT NULL,
			genotype INTEGER NOT NULL,
			parent INTEGER NOT NULL,
			driver_mutations INTEGER NOT NULL,
			migration_mutations INTEGER NOT NULL,
			birth_rate REAL NOT NULL,
			migration_rate REAL NOT NULL,
			methylations INTEGER NOT NULL,
			demethylations INTEGER NOT NULL,
			created_at REAL NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (run_id, genotype)
		);
	`)
	return err
}
