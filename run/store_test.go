package run

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/rdbms"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/espejodata/espejo/schema"
	"github.com/espejodata/espejo/stats"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, shared.Connector) {
	t.Helper()
	log := logrus.New()
	db, err := rdbms.OpenDbConnection(log, shared.ConnectionDetails{
		Type:        constants.ConnectionTypeSqlite,
		LogicalName: constants.ConnectionNameDestination,
		Data:        map[string]string{"dsn": filepath.Join(t.TempDir(), "espejo.db")},
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, schema.EnsureSchema(log, db))
	return NewStore(log, db), db
}

func TestStorePersistAndLoad(t *testing.T) {
	s, _ := openTestStore(t)
	start := time.Now().UTC().Truncate(time.Second)
	state := RunState{
		JobID:     "job-1",
		Domain:    domain.DomainCobranzas,
		Mode:      "full_month",
		Actor:     "tester",
		Running:   true,
		Stage:     StageExtracting,
		RowsRead:  120,
		Log:       []string{"one", "two"},
		StartTime: start,
	}
	require.NoError(t, s.Persist(state))

	got, err := s.Load(domain.DomainCobranzas, "")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, domain.DomainCobranzas, got.Domain)
	assert.True(t, got.Running)
	assert.Equal(t, StageExtracting, got.Stage)
	assert.Equal(t, int64(120), got.RowsRead)
	assert.Equal(t, []string{"one", "two"}, got.Log)
	assert.True(t, got.StartTime.Equal(start))
	assert.True(t, got.EndTime.IsZero())
	assert.Nil(t, got.ExtractStats, "no stats until extraction has finished")

	// Persisting the same jobId updates in place.
	state.Running = false
	state.Stage = StageCompleted
	state.RowsUpserted = 100
	state.RowsUnchanged = 20
	state.ExtractStats = &stats.StepStats{
		StepName:           "extract-cobranzas",
		StatusText:         "complete",
		ElapsedTimeSec:     3,
		TotalRowsProcessed: 120,
		RowsPerSecondAvg:   40,
	}
	state.EndTime = start.Add(time.Minute)
	require.NoError(t, s.Persist(state))

	got, err = s.Load(domain.DomainCobranzas, "job-1")
	require.NoError(t, err)
	assert.False(t, got.Running)
	assert.Equal(t, StageCompleted, got.Stage)
	assert.Equal(t, int64(100), got.RowsUpserted)
	assert.Equal(t, state.ExtractStats, got.ExtractStats)
	assert.True(t, got.EndTime.Equal(start.Add(time.Minute)))
}

func TestStoreLoadReturnsLatestRun(t *testing.T) {
	s, _ := openTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i, job := range []string{"old", "new"} {
		require.NoError(t, s.Persist(RunState{
			JobID:     job,
			Domain:    domain.DomainCartera,
			Mode:      "full_all",
			Stage:     StageCompleted,
			Log:       []string{},
			StartTime: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	got, err := s.Load(domain.DomainCartera, "")
	require.NoError(t, err)
	assert.Equal(t, "new", got.JobID)

	_, err = s.Load(domain.DomainGestores, "")
	assert.Equal(t, sql.ErrNoRows, err)
	_, err = s.Load(domain.DomainCartera, "missing")
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestStoreReconcileInterruptedRuns(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.Persist(RunState{
		JobID: "stale", Domain: domain.DomainCartera, Mode: "full_all",
		Running: true, Stage: StageUpserting, Log: []string{}, StartTime: now,
	}))
	require.NoError(t, s.Persist(RunState{
		JobID: "done", Domain: domain.DomainCobranzas, Mode: "full_all",
		Running: false, Stage: StageCompleted, Log: []string{}, StartTime: now, EndTime: now,
	}))

	n, err := s.ReconcileInterruptedRuns()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Load(domain.DomainCartera, "stale")
	require.NoError(t, err)
	assert.False(t, got.Running)
	assert.Equal(t, StageFailed, got.Stage)
	assert.Equal(t, constants.ErrorTextInterrupted, got.Error)
	assert.False(t, got.EndTime.IsZero())

	got, err = s.Load(domain.DomainCobranzas, "done")
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, got.Stage)

	// Second pass finds nothing.
	n, err = s.ReconcileInterruptedRuns()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
