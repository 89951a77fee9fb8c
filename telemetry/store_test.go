package telemetry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/methdemon/tumour"
)

func newStores(t *testing.T) map[string]RunStore {
	t.Helper()
	ctx := context.Background()

	sqlite := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, sqlite.Init(ctx))
	t.Cleanup(func() { _ = sqlite.Close() })

	memory := NewMemoryStore()
	require.NoError(t, memory.Init(ctx))

	return map[string]RunStore{"sqlite": sqlite, "memory": memory}
}

func TestRunStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			res := tumour.Result{
				Reason:    tumour.StopMaxTime,
				Elapsed:   12.5,
				Events:    400,
				Cells:     120,
				Demes:     3,
				Genotypes: 5,
				Counters:  tumour.EventCounter{Births: 250, Deaths: 131, Mutations: 4, Fissions: 2},
			}
			id := NewRunID()
			run := NewRunRecord(id, 1<<63+5, res)
			require.NoError(t, store.SaveRun(ctx, run))

			got, ok, err := store.GetRun(ctx, id)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, run, got)

			// Upsert replaces the row
			run.Cells = 121
			require.NoError(t, store.SaveRun(ctx, run))
			runs, err := store.ListRuns(ctx)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, 121, runs[0].Cells)

			_, ok, err = store.GetRun(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRunStoreWindowsAndTables(t *testing.T) {
	ctx := context.Background()

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			id := NewRunID()
			w1 := WindowStats{WindowStart: 0, WindowEnd: 1, Events: 10, Population: 8, Births: 7, MethMean: 0.25, Turnover: false}
			w2 := WindowStats{WindowStart: 1, WindowEnd: 2, Events: 30, Population: 20, Births: 12, DominantGenotype: 3, DominantShare: 0.6, Turnover: true}
			require.NoError(t, store.SaveWindow(ctx, id, w1))
			require.NoError(t, store.SaveWindow(ctx, id, w2))
			require.NoError(t, store.SaveWindow(ctx, "other", w1))

			windows, err := store.Windows(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []WindowStats{w1, w2}, windows)

			demes := []tumour.DemeView{
				{ID: 0, Side: "left", Population: 10, Capacity: 10, SumBirth: 10},
				{ID: 1, Side: "right", Population: 4, Capacity: 10, SumBirth: 4.4},
			}
			require.NoError(t, store.SaveDemes(ctx, id, demes))
			require.NoError(t, store.SaveDemes(ctx, id, demes[:1]))

			gs := []GenotypeRecord{
				{ID: 0, Parent: -1, BirthRate: 1, MigrationRate: 0.1, Count: 9},
				{ID: 2, Parent: 0, DriverMutations: 1, BirthRate: 1.1, MigrationRate: 0.1, CreatedAt: 3.2, Count: 5},
			}
			require.NoError(t, store.SaveGenotypes(ctx, id, gs))
			got, err := store.Genotypes(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, gs, got)
		})
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	_, _, err := store.GetRun(context.Background(), "x")
	require.Error(t, err)
	require.NoError(t, store.Close())

	require.Error(t, NewSQLiteStore("").Init(context.Background()))
}

func TestNewRunStore(t *testing.T) {
	assert.IsType(t, &MemoryStore{}, NewRunStore(""))
	assert.IsType(t, &SQLiteStore{}, NewRunStore("runs.db"))
}
