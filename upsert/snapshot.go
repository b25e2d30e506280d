package upsert

import (
	"fmt"

	om "github.com/cevaris/ordered_map"
	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/espejodata/espejo/window"
	"github.com/pkg/errors"
)

type SnapshotRefresherConfig struct {
	Log             logger.Logger
	Db              shared.Connector
	TxtBatchNumRows int
}

// SnapshotRefresher rebuilds the per-unit snapshot table from the analytics fact
// table after an analytics run. Each fact row expands into cantidad rows, one
// per underlying contract unit, with the monetary totals split evenly so the
// snapshot sums back to the fact it came from.
type SnapshotRefresher struct {
	log             logger.Logger
	db              shared.Connector
	txtBatchNumRows int
	insGen          shared.SqlStmtTxtBatcher
}

func NewSnapshotRefresher(cfg *SnapshotRefresherConfig) *SnapshotRefresher {
	if cfg.TxtBatchNumRows <= 0 {
		cfg.TxtBatchNumRows = constants.TxtBatchNumRowsDefault
	}
	s := &SnapshotRefresher{log: cfg.Log, db: cfg.Db, txtBatchNumRows: cfg.TxtBatchNumRows}
	s.insGen = cfg.Db.GetDmlGenerator().NewInsertGenerator(&shared.SqlStatementGeneratorConfig{
		Log:             cfg.Log,
		OutputTable:     domain.AnalyticsSnapshotTable,
		TargetKeyCols:   snapshotKeyCols(),
		TargetOtherCols: snapshotOtherCols(),
	}).(shared.SqlStmtTxtBatcher)
	return s
}

func snapshotKeyCols() *om.OrderedMap {
	o := om.NewOrderedMap()
	o.Set("unit", "unidad")
	o.Set("gestionMonth", "mes_gestion")
	return o
}

func snapshotOtherCols() *om.OrderedMap {
	o := om.NewOrderedMap()
	o.Set("supervisor", "supervisor")
	o.Set("channel", "canal")
	o.Set("tranche", "tramo")
	o.Set("contractId", "contrato")
	o.Set("amountTotal", "monto_total")
	o.Set("amountPaid", "monto_pagado")
	return o
}

// Refresh replaces the snapshot rows inside the window and returns the number
// of expanded rows written.
func (s *SnapshotRefresher) Refresh(w window.Window) (int64, error) {
	predicate, args := w.DeletePredicate("mes_gestion")
	deleteSQL := fmt.Sprintf("delete from %v", domain.AnalyticsSnapshotTable)
	selectSQL := `select contrato, mes_gestion, supervisor, unidad, canal, tramo, cantidad, monto_total, monto_pagado from fact_analytics`
	if predicate != "" {
		deleteSQL = fmt.Sprintf("%v where %v", deleteSQL, predicate)
		selectSQL = fmt.Sprintf("%v where %v", selectSQL, predicate)
	}
	if _, err := s.db.Exec(deleteSQL, args...); err != nil {
		return 0, errors.Wrapf(err, "unable to clear %v", domain.AnalyticsSnapshotTable)
	}
	// Read all facts in scope before writing; the store runs on a single
	// connection so an open result set would block the inserts below.
	facts, err := s.readFacts(selectSQL, args)
	if err != nil {
		return 0, err
	}

	var written int64
	batch := make([][]interface{}, 0, s.txtBatchNumRows)
	for _, f := range facts {
		for i := int64(0); i < f.cantidad; i++ { // expand the fact into one row per unit.
			batch = append(batch, []interface{}{
				f.unidad, f.mes, f.supervisor, f.canal, f.tramo, f.contrato,
				f.total / float64(f.cantidad), f.pagado / float64(f.cantidad),
			})
			if len(batch) == s.txtBatchNumRows {
				if err = s.flush(batch); err != nil {
					return written, err
				}
				written += int64(len(batch))
				batch = batch[:0]
			}
		}
	}
	if len(batch) > 0 {
		if err = s.flush(batch); err != nil {
			return written, err
		}
		written += int64(len(batch))
	}
	s.log.Info("rebuilt ", domain.AnalyticsSnapshotTable, " with ", written, " rows for window ", w)
	return written, nil
}

type analyticsFact struct {
	contrato, mes, supervisor, unidad, canal string
	tramo                                    int
	cantidad                                 int64
	total, pagado                            float64
}

func (s *SnapshotRefresher) readFacts(selectSQL string, args []interface{}) ([]analyticsFact, error) {
	rows, err := s.db.Query(selectSQL, args...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read fact_analytics")
	}
	defer rows.Close()
	var facts []analyticsFact
	for rows.Next() {
		var f analyticsFact
		if err = rows.Scan(&f.contrato, &f.mes, &f.supervisor, &f.unidad, &f.canal, &f.tramo, &f.cantidad, &f.total, &f.pagado); err != nil {
			return nil, errors.Wrap(err, "unable to scan fact_analytics row")
		}
		if f.cantidad < 1 { // a fact row always represents at least one unit.
			f.cantidad = 1
		}
		facts = append(facts, f)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to read fact_analytics")
	}
	return facts, nil
}

func (s *SnapshotRefresher) flush(batch [][]interface{}) error {
	s.insGen.InitBatch(len(batch))
	for _, values := range batch {
		if _, err := s.insGen.AddValuesToBatch(values); err != nil {
			return errors.Wrapf(err, "unable to batch %v row", domain.AnalyticsSnapshotTable)
		}
	}
	if _, err := s.db.Exec(s.insGen.GetStatement(), s.insGen.GetValues()...); err != nil {
		return errors.Wrapf(err, "unable to insert into %v", domain.AnalyticsSnapshotTable)
	}
	return nil
}
