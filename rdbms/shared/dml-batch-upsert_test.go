package shared

import (
	"regexp"
	"testing"

	"github.com/cevaris/ordered_map"
	"github.com/sirupsen/logrus"
)

func TestSqlUpsert(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	log.Info("Starting tests for SQL UPSERT...")

	omKeys := ordered_map.NewOrderedMap()
	omKeys.Set("contractField", "contrato")
	omKeys.Set("closeDateField", "fecha_cierre")
	omCols := ordered_map.NewOrderedMap()
	omCols.Set("amountField", "monto_total")
	omCols.Set("hashField", "content_hash")

	db := NewMockConnection(log, "sqlite3")
	dml := db.GetDmlGenerator()
	o := dml.NewUpsertGenerator(&SqlStatementGeneratorConfig{
		Log:             log,
		OutputTable:     "fact_cartera",
		TargetKeyCols:   omKeys,
		TargetOtherCols: omCols,
		HashCol:         "content_hash"}).(SqlStmtTxtBatcher)

	o.InitBatch(1)
	batchIsFull, err := o.AddValuesToBatch([]interface{}{"C1", "2026-01-31", 100.5, "abc123"})
	if err != nil {
		t.Fatal(err)
	}
	if !batchIsFull {
		t.Fatal("The batch *should* be full but it is not.")
	}
	sql := o.GetStatement()
	re := regexp.MustCompile(`^insert into fact_cartera \(contrato,fecha_cierre,monto_total,content_hash\) ` +
		`values \( \?,\?,\?,\? \) ` +
		`on conflict \(contrato,fecha_cierre\) do update set ` +
		`monto_total = excluded\.monto_total, content_hash = excluded\.content_hash ` +
		`where fact_cartera\.content_hash <> excluded\.content_hash$`)
	if !re.MatchString(sql) {
		t.Fatal("unexpected UPSERT statement generated: ", sql)
	}
	if len(o.GetValues()) != 4 {
		t.Fatal("expected 4 values in batch, got ", len(o.GetValues()))
	}

	// The key columns must never appear in the update set clause.
	reBad := regexp.MustCompile(`do update set .*contrato = excluded\.contrato`)
	if reBad.MatchString(sql) {
		t.Fatal("key columns must not be updated on conflict: ", sql)
	}

	// Overfilling the batch should error.
	if _, err := o.AddValuesToBatch([]interface{}{"C2", "2026-01-31", 1.0, "def"}); err == nil {
		t.Fatal("There should have been an error. The batch was already full.")
	}
}
