package upsert

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/rdbms"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/espejodata/espejo/schema"
	"github.com/espejodata/espejo/window"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDb(t *testing.T) shared.Connector {
	t.Helper()
	log := logrus.New()
	db, err := rdbms.OpenDbConnection(log, shared.ConnectionDetails{
		Type:        constants.ConnectionTypeSqlite,
		LogicalName: constants.ConnectionNameDestination,
		Data:        map[string]string{"dsn": filepath.Join(t.TempDir(), "mirror.db")},
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, schema.EnsureSchema(log, db))
	return db
}

func newTestUpserter(t *testing.T, db shared.Connector, d domain.Domain) *Upserter {
	t.Helper()
	mapper, err := domain.MapperFor(d)
	require.NoError(t, err)
	return NewUpserter(&UpserterConfig{Log: logrus.New(), Db: db, Mapper: mapper})
}

func gestionRecord(contract, period, hash string) domain.NormalizedRecord {
	return domain.NormalizedRecord{
		Domain:       domain.DomainCobranzas,
		ContractID:   contract,
		GestionMonth: period,
		Supervisor:   "S1",
		Unit:         "U1",
		Channel:      "CALL",
		Tranche:      2,
		Quantity:     1,
		AmountTotal:  100,
		AmountPaid:   40,
		ContentHash:  hash,
		RawPayload:   `{"contrato":"` + contract + `"}`,
		Seq:          1,
	}
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

func TestApplyChunkIsHashGuarded(t *testing.T) {
	db := openTestDb(t)
	u := newTestUpserter(t, db, domain.DomainCobranzas)
	now := time.Now()
	recs := []domain.NormalizedRecord{
		gestionRecord("C1", "01/2026", "h1"),
		gestionRecord("C2", "01/2026", "h2"),
		gestionRecord("C3", "02/2026", "h3"),
	}

	// Fresh inserts are not "changed": nothing previously stored differed.
	changed, unchanged, err := u.ApplyChunk("job-1", recs, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), changed)
	assert.Equal(t, int64(3), unchanged)
	assert.Equal(t, 3, countRows(t, db, "fact_cobranzas"))
	assert.Equal(t, 3, countRows(t, db, "audit_cobranzas"))

	// Re-applying identical content is a no-op that is counted, not written.
	changed, unchanged, err = u.ApplyChunk("job-2", recs, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), changed)
	assert.Equal(t, int64(3), unchanged)

	// A changed hash fires the update clause for exactly that row.
	recs[1].AmountPaid = 60
	recs[1].ContentHash = "h2-changed"
	changed, unchanged, err = u.ApplyChunk("job-3", recs, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)
	assert.Equal(t, int64(2), unchanged)
	assert.Equal(t, 3, countRows(t, db, "fact_cobranzas"))

	rows, err := db.Query(`select monto_pagado from fact_cobranzas where contrato = 'C2'`)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var paid float64
	require.NoError(t, rows.Scan(&paid))
	assert.Equal(t, 60.0, paid)
}

func TestApplyChunkSplitsIntoStatementBatches(t *testing.T) {
	db := openTestDb(t)
	mapper, err := domain.MapperFor(domain.DomainCobranzas)
	require.NoError(t, err)
	// A chunk larger than the statement batch commits once but execs in sub-batches.
	u := NewUpserter(&UpserterConfig{Log: logrus.New(), Db: db, Mapper: mapper, TxtBatchNumRows: 2})
	recs := []domain.NormalizedRecord{
		gestionRecord("C1", "01/2026", "h1"),
		gestionRecord("C2", "01/2026", "h2"),
		gestionRecord("C3", "01/2026", "h3"),
		gestionRecord("C4", "01/2026", "h4"),
		gestionRecord("C5", "01/2026", "h5"),
	}
	changed, unchanged, err := u.ApplyChunk("job-1", recs, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), changed)
	assert.Equal(t, int64(5), unchanged)
	assert.Equal(t, 5, countRows(t, db, "fact_cobranzas"))
	assert.Equal(t, 5, countRows(t, db, "audit_cobranzas"))
}

func TestDeleteWindowByPeriods(t *testing.T) {
	db := openTestDb(t)
	u := newTestUpserter(t, db, domain.DomainCobranzas)
	now := time.Now()
	_, _, err := u.ApplyChunk("job-1", []domain.NormalizedRecord{
		gestionRecord("C1", "01/2026", "h1"),
		gestionRecord("C2", "02/2026", "h2"),
		gestionRecord("C3", "03/2026", "h3"),
	}, now)
	require.NoError(t, err)

	w := window.Window{Mode: window.ModeRangeMonths, Periods: []string{"01/2026", "02/2026"}}
	deleted, err := u.DeleteWindow(w)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 1, countRows(t, db, "fact_cobranzas"))
	assert.Equal(t, 1, countRows(t, db, "audit_cobranzas")) // the audit table follows the window.
}

func TestDeleteWindowByYearAndAll(t *testing.T) {
	db := openTestDb(t)
	u := newTestUpserter(t, db, domain.DomainCobranzas)
	now := time.Now()
	_, _, err := u.ApplyChunk("job-1", []domain.NormalizedRecord{
		gestionRecord("C1", "12/2025", "h1"),
		gestionRecord("C2", "01/2026", "h2"),
	}, now)
	require.NoError(t, err)

	deleted, err := u.DeleteWindow(window.Window{Mode: window.ModeFullYear, Year: 2025})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 1, countRows(t, db, "fact_cobranzas"))

	deleted, err = u.DeleteWindow(window.Window{Mode: window.ModeFullAll})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 0, countRows(t, db, "fact_cobranzas"))
	assert.Equal(t, 0, countRows(t, db, "audit_cobranzas"))
}

func TestCarteraChunkKeysByContractAndCloseDate(t *testing.T) {
	db := openTestDb(t)
	u := newTestUpserter(t, db, domain.DomainCartera)
	now := time.Now()
	rec := domain.NormalizedRecord{
		Domain:       domain.DomainCartera,
		ContractID:   "C1",
		CloseDate:    "2026-01-31",
		CloseMonth:   "01/2026",
		GestionMonth: "01/2026",
		Supervisor:   "S1",
		Unit:         "U1",
		Channel:      "CALL",
		Tranche:      3,
		Quantity:     1,
		AmountTotal:  500,
		AmountPaid:   0,
		ContentHash:  "h1",
		RawPayload:   `{}`,
		Seq:          1,
	}
	changed, unchanged, err := u.ApplyChunk("job-1", []domain.NormalizedRecord{rec}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), changed)
	assert.Equal(t, int64(1), unchanged)

	// Same contract at a different close date is a new row, not an update.
	rec2 := rec
	rec2.CloseDate = "2026-02-28"
	rec2.CloseMonth = "02/2026"
	rec2.ContentHash = "h2"
	changed, _, err = u.ApplyChunk("job-2", []domain.NormalizedRecord{rec2}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), changed)
	assert.Equal(t, 2, countRows(t, db, "fact_cartera"))

	// Same key with differing content is the one case that counts as changed.
	rec2.AmountPaid = 50
	rec2.ContentHash = "h3"
	changed, _, err = u.ApplyChunk("job-3", []domain.NormalizedRecord{rec2}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)
	assert.Equal(t, 2, countRows(t, db, "fact_cartera"))
}

func TestSnapshotRefreshExpandsQuantities(t *testing.T) {
	db := openTestDb(t)
	u := newTestUpserter(t, db, domain.DomainAnalytics)
	now := time.Now()
	rec := gestionRecord("C1", "01/2026", "h1")
	rec.Domain = domain.DomainAnalytics
	rec.Quantity = 3
	rec.AmountTotal = 300
	rec.AmountPaid = 90
	rec2 := gestionRecord("C2", "02/2026", "h2")
	rec2.Domain = domain.DomainAnalytics
	_, _, err := u.ApplyChunk("job-1", []domain.NormalizedRecord{rec, rec2}, now)
	require.NoError(t, err)

	s := NewSnapshotRefresher(&SnapshotRefresherConfig{Log: logrus.New(), Db: db, TxtBatchNumRows: 2})
	written, err := s.Refresh(window.Window{Mode: window.ModeFullAll})
	require.NoError(t, err)
	assert.Equal(t, int64(4), written) // 3 expanded rows + 1.
	assert.Equal(t, 4, countRows(t, db, domain.AnalyticsSnapshotTable))

	rows, err := db.Query(`select count(*), sum(monto_total), sum(monto_pagado) from analytics_unidades where contrato = 'C1'`)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var n int
	var total, paid float64
	require.NoError(t, rows.Scan(&n, &total, &paid))
	assert.Equal(t, 3, n)
	assert.InDelta(t, 300.0, total, 0.001) // split amounts sum back to the fact.
	assert.InDelta(t, 90.0, paid, 0.001)
	require.NoError(t, rows.Close()) // release the single connection before the next refresh.

	// A scoped refresh only replaces its window.
	written, err = s.Refresh(window.Window{Mode: window.ModeFullMonth, Periods: []string{"02/2026"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), written)
	assert.Equal(t, 4, countRows(t, db, domain.AnalyticsSnapshotTable))
}
