package upsert

import (
	"fmt"
	"time"

	om "github.com/cevaris/ordered_map"
	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/espejodata/espejo/window"
	"github.com/pkg/errors"
)

type UpserterConfig struct {
	Log             logger.Logger
	Db              shared.Connector
	Mapper          domain.FactMapper
	TxtBatchNumRows int // max rows combined into one DML statement; 0 uses the default.
}

// Upserter writes normalized records for one domain into its fact and audit
// tables. The fact upsert is hash guarded so identical rows are no-ops; each
// chunk commits in its own transaction, so a failed run leaves earlier chunks
// applied and later ones absent, which the replacement-window delete repairs
// on the next run.
type Upserter struct {
	log             logger.Logger
	db              shared.Connector
	mapper          domain.FactMapper
	txtBatchNumRows int
	factGen         shared.SqlStmtTxtBatcher
	auditGen        shared.SqlStmtTxtBatcher
	deleteFactGen   shared.SqlStmtTxtBatcher
	deleteAuditGen  shared.SqlStmtTxtBatcher
}

func NewUpserter(cfg *UpserterConfig) *Upserter {
	if cfg.TxtBatchNumRows <= 0 {
		cfg.TxtBatchNumRows = constants.TxtBatchNumRowsDefault
	}
	dml := cfg.Db.GetDmlGenerator()
	u := &Upserter{
		log:             cfg.Log,
		db:              cfg.Db,
		mapper:          cfg.Mapper,
		txtBatchNumRows: cfg.TxtBatchNumRows,
	}
	u.factGen = dml.NewUpsertGenerator(&shared.SqlStatementGeneratorConfig{
		Log:             cfg.Log,
		OutputTable:     cfg.Mapper.FactTable(),
		TargetKeyCols:   cfg.Mapper.KeyCols(),
		TargetOtherCols: cfg.Mapper.OtherCols(),
		HashCol:         domain.HashColumnName,
	}).(shared.SqlStmtTxtBatcher)
	u.auditGen = dml.NewUpsertGenerator(&shared.SqlStatementGeneratorConfig{
		Log:             cfg.Log,
		OutputTable:     cfg.Mapper.AuditTable(),
		TargetKeyCols:   auditKeyCols(),
		TargetOtherCols: auditOtherCols(cfg.Mapper.PeriodColumn()),
		HashCol:         domain.HashColumnName,
	}).(shared.SqlStmtTxtBatcher)
	// The window delete batches period values, one predicate term per period.
	u.deleteFactGen = dml.NewDeleteGenerator(&shared.SqlStatementGeneratorConfig{
		Log:           cfg.Log,
		OutputTable:   cfg.Mapper.FactTable(),
		TargetKeyCols: periodKeyCols(cfg.Mapper.PeriodColumn()),
	}).(shared.SqlStmtTxtBatcher)
	u.deleteAuditGen = dml.NewDeleteGenerator(&shared.SqlStatementGeneratorConfig{
		Log:           cfg.Log,
		OutputTable:   cfg.Mapper.AuditTable(),
		TargetKeyCols: periodKeyCols(cfg.Mapper.PeriodColumn()),
	}).(shared.SqlStmtTxtBatcher)
	return u
}

func auditKeyCols() *om.OrderedMap {
	o := om.NewOrderedMap()
	o.Set("businessKey", "business_key")
	return o
}

func auditOtherCols(periodCol string) *om.OrderedMap {
	o := om.NewOrderedMap()
	o.Set("period", periodCol)
	o.Set("contentHash", domain.HashColumnName)
	o.Set("rawPayload", "raw_payload")
	o.Set("jobId", "job_id")
	o.Set("seq", "seq")
	o.Set("syncedAt", "synced_at")
	return o
}

func periodKeyCols(periodCol string) *om.OrderedMap {
	o := om.NewOrderedMap()
	o.Set("period", periodCol)
	return o
}

// DeleteWindow removes every fact and audit row inside the window so the run
// can repopulate it. The delete is unconditional: rows absent from the new
// extraction disappear. Returns the number of fact rows removed.
func (u *Upserter) DeleteWindow(w window.Window) (int64, error) {
	factDeleted, err := u.deleteWindowFromTable(w, u.mapper.FactTable(), u.deleteFactGen)
	if err != nil {
		return 0, err
	}
	if _, err = u.deleteWindowFromTable(w, u.mapper.AuditTable(), u.deleteAuditGen); err != nil {
		return 0, err
	}
	u.log.Info("deleted ", factDeleted, " rows from ", u.mapper.FactTable(), " for window ", w)
	return factDeleted, nil
}

func (u *Upserter) deleteWindowFromTable(w window.Window, table string, gen shared.SqlStmtTxtBatcher) (int64, error) {
	switch w.Mode {
	case window.ModeFullMonth, window.ModeRangeMonths:
		// One predicate term per period via the batch DELETE generator.
		gen.InitBatch(len(w.Periods))
		for _, p := range w.Periods {
			if _, err := gen.AddValuesToBatch([]interface{}{p}); err != nil {
				return 0, errors.Wrapf(err, "unable to batch window delete for %v", table)
			}
		}
		res, err := u.db.Exec(gen.GetStatement(), gen.GetValues()...)
		if err != nil {
			return 0, errors.Wrapf(err, "unable to delete window from %v", table)
		}
		return res.RowsAffected()
	default:
		predicate, args := w.DeletePredicate(u.mapper.PeriodColumn())
		sqlText := fmt.Sprintf("delete from %v", table)
		if predicate != "" { // full_all has no predicate and truncates the table.
			sqlText = fmt.Sprintf("%v where %v", sqlText, predicate)
		}
		res, err := u.db.Exec(sqlText, args...)
		if err != nil {
			return 0, errors.Wrapf(err, "unable to delete window from %v", table)
		}
		return res.RowsAffected()
	}
}

// ApplyChunk upserts one chunk of records into the fact and audit tables inside a
// single transaction, splitting the chunk into multi-row statements of at most
// TxtBatchNumRows. Records must already be deduplicated; conflicting keys in
// one statement would otherwise fail the multi-row upsert.
// "changed" counts the fact rows whose update clause actually fired, meaning an
// existing row's content hash differed from the incoming one. Fresh inserts and
// hash-identical collisions both land in "unchanged": after the delete phase the
// window is repopulated from scratch, so update firings only occur for business
// keys that survived the delete.
func (u *Upserter) ApplyChunk(jobID string, recs []domain.NormalizedRecord, now time.Time) (changed int64, unchanged int64, err error) {
	if len(recs) == 0 {
		return 0, 0, nil
	}
	tx, err := u.db.Begin()
	if err != nil {
		return 0, 0, errors.Wrap(err, "unable to begin chunk transaction")
	}
	for start := 0; start < len(recs); start += u.txtBatchNumRows { // for each statement-sized sub-batch...
		end := start + u.txtBatchNumRows
		if end > len(recs) {
			end = len(recs)
		}
		n, err := u.applyFactBatch(tx, recs[start:end])
		if err != nil {
			_ = tx.Rollback()
			return 0, 0, err
		}
		changed += n
		if err = u.applyAuditBatch(tx, jobID, recs[start:end], now); err != nil {
			_ = tx.Rollback()
			return 0, 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, 0, errors.Wrap(err, "unable to commit chunk transaction")
	}
	return changed, int64(len(recs)) - changed, nil
}

func (u *Upserter) applyFactBatch(tx shared.Transacter, recs []domain.NormalizedRecord) (int64, error) {
	before, err := countTableRows(tx, u.mapper.FactTable())
	if err != nil {
		return 0, err
	}
	u.factGen.InitBatch(len(recs))
	for _, rec := range recs {
		if _, err := u.factGen.AddValuesToBatch(u.mapper.Values(rec)); err != nil {
			return 0, errors.Wrapf(err, "unable to batch fact row for %v", u.mapper.FactTable())
		}
	}
	res, err := tx.Exec(u.factGen.GetStatement(), u.factGen.GetValues()...)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to upsert into %v", u.mapper.FactTable())
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "unable to count affected rows")
	}
	after, err := countTableRows(tx, u.mapper.FactTable())
	if err != nil {
		return 0, err
	}
	// Affected rows are inserts plus fired updates; the table-growth delta
	// isolates the inserts.
	return affected - (after - before), nil
}

func countTableRows(tx shared.Transacter, table string) (int64, error) {
	rows, err := tx.Query("select count(*) from " + table)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to count rows in %v", table)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, errors.Errorf("no count returned for %v", table)
	}
	var n int64
	if err = rows.Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "unable to scan row count for %v", table)
	}
	return n, nil
}

func (u *Upserter) applyAuditBatch(tx shared.Transacter, jobID string, recs []domain.NormalizedRecord, now time.Time) error {
	syncedAt := now.UTC().Format(time.RFC3339)
	u.auditGen.InitBatch(len(recs))
	for _, rec := range recs {
		values := []interface{}{rec.BusinessKey(), rec.PeriodKey(), rec.ContentHash, rec.RawPayload, jobID, rec.Seq, syncedAt}
		if _, err := u.auditGen.AddValuesToBatch(values); err != nil {
			return errors.Wrapf(err, "unable to batch audit row for %v", u.mapper.AuditTable())
		}
	}
	if _, err := tx.Exec(u.auditGen.GetStatement(), u.auditGen.GetValues()...); err != nil {
		return errors.Wrapf(err, "unable to upsert into %v", u.mapper.AuditTable())
	}
	return nil
}
