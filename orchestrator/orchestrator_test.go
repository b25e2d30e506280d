package orchestrator

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/queries"
	"github.com/espejodata/espejo/rdbms"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/espejodata/espejo/run"
	"github.com/espejodata/espejo/schema"
	"github.com/espejodata/espejo/window"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRig struct {
	orch        *Orchestrator
	registry    *run.Registry
	store       *run.Store
	destDb      shared.Connector
	srcDb       shared.Connector
	queriesDir  string
	invalidated []string
	mu          sync.Mutex
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	log := logrus.New()
	dir := t.TempDir()
	openSqlite := func(file string) shared.Connector {
		db, err := rdbms.OpenDbConnection(log, shared.ConnectionDetails{
			Type:        constants.ConnectionTypeSqlite,
			LogicalName: "test",
			Data:        map[string]string{"dsn": filepath.Join(dir, file)},
		})
		require.NoError(t, err)
		t.Cleanup(db.Close)
		return db
	}
	rig := &testRig{
		registry:   run.NewRegistry(),
		destDb:     openSqlite("mirror.db"),
		srcDb:      openSqlite("legacy.db"),
		queriesDir: filepath.Join(dir, "queries"),
	}
	require.NoError(t, os.MkdirAll(rig.queriesDir, 0755))
	require.NoError(t, schema.EnsureSchema(log, rig.destDb))
	rig.store = run.NewStore(log, rig.destDb)
	srcPath := filepath.Join(dir, "legacy.db")
	rig.orch = New(&Config{
		Log:      log,
		Registry: rig.registry,
		Store:    rig.store,
		DestDb:   rig.destDb,
		OpenSource: func() (shared.Connector, error) {
			return rdbms.OpenDbConnection(log, shared.ConnectionDetails{
				Type:        constants.ConnectionTypeSqlite,
				LogicalName: constants.ConnectionNameSource,
				Data:        map[string]string{"dsn": srcPath},
			})
		},
		Queries:         queries.NewLoader(log, rig.queriesDir),
		CommitBatchSize: 2, // small batches exercise the chunk loop.
		TxtBatchNumRows: 2,
		InvalidateFn: func(prefix string) {
			rig.mu.Lock()
			defer rig.mu.Unlock()
			rig.invalidated = append(rig.invalidated, prefix)
		},
	})
	return rig
}

func (r *testRig) writeQuery(t *testing.T, d domain.Domain, sqlText string) {
	t.Helper()
	require.NoError(t, ioutil.WriteFile(filepath.Join(r.queriesDir, d.String()+".sql"), []byte(sqlText), 0644))
}

func (r *testRig) waitForTerminal(t *testing.T, d domain.Domain) run.RunState {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if state, ok := r.registry.Load(d); ok && state.Stage.IsTerminal() {
			return state
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal stage in time")
	return run.RunState{}
}

func countRows(t *testing.T, db shared.Connector, table string) int {
	t.Helper()
	rows, err := db.Query("select count(*) from " + table)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	return n
}

func TestRunEndToEndIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.srcDb.Exec(`create table gestiones (
		contrato text, mes_gestion text, supervisor text, unidad text, canal text,
		tramo integer, cantidad integer, monto_total real, monto_pagado real)`)
	require.NoError(t, err)
	for _, v := range [][]interface{}{
		{"C1", "01/2026", "S1", "U1", "CALL", 1, 1, 100.0, 10.0},
		{"C2", "01/2026", "S1", "U1", "CALL", 2, 1, 200.0, 20.0},
		{"C3", "02/2026", "S2", "U2", "TERRENO", 3, 1, 300.0, 30.0},
		{"C1", "01/2026", "S1", "U1", "CALL", 1, 1, 999.0, 99.0}, // duplicate business key; first wins.
	} {
		_, err = rig.srcDb.Exec(`insert into gestiones values ( ?,?,?,?,?,?,?,?,? )`, v...)
		require.NoError(t, err)
	}
	rig.writeQuery(t, domain.DomainCobranzas, `select * from gestiones`)

	ack, err := rig.orch.StartRun(Request{Domain: domain.DomainCobranzas, Actor: "tester"})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.JobID)
	assert.Equal(t, string(window.ModeFullAll), ack.Mode)

	state := rig.waitForTerminal(t, domain.DomainCobranzas)
	require.Equal(t, run.StageCompleted, state.Stage, "run log: %v error: %v", state.Log, state.Error)
	assert.Equal(t, int64(4), state.RowsRead)
	assert.Equal(t, int64(1), state.DuplicatesDetected)
	assert.Equal(t, int64(0), state.RowsUpserted, "fresh inserts are not changed rows")
	assert.Equal(t, int64(3), state.RowsUnchanged)
	assert.Equal(t, 100, state.ProgressPercent)
	require.NotNil(t, state.ExtractStats, "the extract step's stats are part of the run status")
	assert.Equal(t, "extract-cobranzas", state.ExtractStats.StepName)
	assert.Equal(t, "complete", state.ExtractStats.StatusText)
	assert.Equal(t, 4, state.ExtractStats.TotalRowsProcessed)
	assert.Equal(t, 3, countRows(t, rig.destDb, "fact_cobranzas"))
	assert.Equal(t, 3, countRows(t, rig.destDb, "audit_cobranzas"))
	assert.Empty(t, rig.registry.ActiveJob(), "gate must be released on completion")

	// A second identical run replaces the window with identical content: nothing changes.
	_, err = rig.orch.StartRun(Request{Domain: domain.DomainCobranzas, Actor: "tester"})
	require.NoError(t, err)
	state = rig.waitForTerminal(t, domain.DomainCobranzas)
	require.Equal(t, run.StageCompleted, state.Stage)
	assert.Equal(t, int64(0), state.RowsUpserted, "rewriting the window with identical content fires no updates")
	assert.Equal(t, int64(3), state.RowsUnchanged)
	assert.Equal(t, 3, countRows(t, rig.destDb, "fact_cobranzas"))

	// The durable row matches the registry.
	persisted, err := rig.store.Load(domain.DomainCobranzas, "")
	require.NoError(t, err)
	assert.Equal(t, run.StageCompleted, persisted.Stage)
	assert.False(t, persisted.Running)
	require.NotNil(t, persisted.ExtractStats, "extract stats survive in the durable run row")
	assert.Equal(t, 4, persisted.ExtractStats.TotalRowsProcessed)
}

func TestRunDiscardsRowsOutsideWindow(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.srcDb.Exec(`create table gestiones (contrato text, mes_gestion text, monto_total real)`)
	require.NoError(t, err)
	_, err = rig.srcDb.Exec(`insert into gestiones values
		('C1','01/2026',100.0), ('C2','12/2025',200.0), ('C3','03/2026',300.0)`)
	require.NoError(t, err)
	rig.writeQuery(t, domain.DomainGestores, `select * from gestiones`)

	_, err = rig.orch.StartRun(Request{Domain: domain.DomainGestores, YearFrom: 2026, Actor: "tester"})
	require.NoError(t, err)
	state := rig.waitForTerminal(t, domain.DomainGestores)
	require.Equal(t, run.StageCompleted, state.Stage, "run log: %v error: %v", state.Log, state.Error)
	assert.Equal(t, int64(3), state.RowsRead)
	assert.Equal(t, int64(1), state.RowsDiscarded) // the 2025 row never reaches the destination.
	assert.Equal(t, int64(0), state.RowsUpserted)
	assert.Equal(t, int64(2), state.RowsUnchanged)
	assert.Equal(t, 2, countRows(t, rig.destDb, "fact_gestores"))
}

func TestStartRunRejections(t *testing.T) {
	rig := newTestRig(t)

	// An inverted close-month range is rejected before any side effect.
	_, err := rig.orch.StartRun(Request{
		Domain:         domain.DomainCartera,
		CloseMonthFrom: "03/2026",
		CloseMonthTo:   "01/2026",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, window.ErrWindowConflict))
	assert.Empty(t, rig.registry.ActiveJob())

	// Close-month scope is cartera-only.
	_, err = rig.orch.StartRun(Request{Domain: domain.DomainCobranzas, CloseMonthFrom: "01/2026"})
	assert.True(t, errors.Is(err, window.ErrWindowConflict))

	// While any run holds the gate, every new request is rejected outright.
	require.NoError(t, rig.registry.TryAcquire(run.RunState{JobID: "held", Domain: domain.DomainGestores, Stage: run.StageStarting}))
	_, err = rig.orch.StartRun(Request{Domain: domain.DomainCobranzas})
	require.Error(t, err)
	assert.True(t, errors.Is(err, run.ErrRunActive))
	rig.registry.Release("held")

	_, err = rig.orch.StartRun(Request{Domain: domain.Domain("unknown")})
	assert.Error(t, err)
}

func TestCarteraRunReplacesPerPeriodAndInvalidatesCache(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.srcDb.Exec(`create table cartera (
		contrato text, fecha_cierre text, cuotas_vencidas integer,
		supervisor text, unidad text, canal text, monto_total real, monto_pagado real)`)
	require.NoError(t, err)
	for _, v := range [][]interface{}{
		{"C1", "2026-01-31", 0, "S1", "U1", "CALL", 100.0, 100.0},
		{"C2", "2026-01-31", 3, "S1", "U1", "CALL", 200.0, 50.0},
		{"C1", "2026-02-28", 12, "S1", "U1", "CALL", 100.0, 100.0}, // aging saturates at tranche 7.
	} {
		_, err = rig.srcDb.Exec(`insert into cartera values ( ?,?,?,?,?,?,?,? )`, v...)
		require.NoError(t, err)
	}
	rig.writeQuery(t, domain.DomainCartera, `select * from cartera`)

	_, err = rig.orch.StartRun(Request{
		Domain:         domain.DomainCartera,
		CloseMonthFrom: "01/2026",
		CloseMonthTo:   "02/2026",
		Actor:          "tester",
	})
	require.NoError(t, err)
	state := rig.waitForTerminal(t, domain.DomainCartera)
	require.Equal(t, run.StageCompleted, state.Stage, "run log: %v error: %v", state.Log, state.Error)
	assert.Equal(t, string(window.ModeRangeMonths), state.Mode)
	assert.Equal(t, int64(0), state.RowsUpserted)
	assert.Equal(t, int64(3), state.RowsUnchanged)
	assert.Equal(t, 3, countRows(t, rig.destDb, "fact_cartera"))

	rows, err := rig.destDb.Query(`select tramo from fact_cartera where contrato = 'C1' and fecha_cierre = '2026-02-28'`)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var tramo int
	require.NoError(t, rows.Scan(&tramo))
	assert.Equal(t, 7, tramo)

	rig.mu.Lock()
	defer rig.mu.Unlock()
	assert.Equal(t, []string{constants.CacheKeyPrefixCartera}, rig.invalidated)
}

func TestRunFailureReleasesGateAndPersists(t *testing.T) {
	rig := newTestRig(t)
	// No query file exists for contratos, so the run fails after acceptance.
	ack, err := rig.orch.StartRun(Request{Domain: domain.DomainContratos, Actor: "tester"})
	require.NoError(t, err)

	state := rig.waitForTerminal(t, domain.DomainContratos)
	assert.Equal(t, run.StageFailed, state.Stage)
	assert.False(t, state.Running)
	assert.Contains(t, state.Error, "contratos")
	assert.Empty(t, rig.registry.ActiveJob(), "gate must be released on failure")

	persisted, err := rig.store.Load(domain.DomainContratos, ack.JobID)
	require.NoError(t, err)
	assert.Equal(t, run.StageFailed, persisted.Stage)
	assert.NotEmpty(t, persisted.Error)
}
