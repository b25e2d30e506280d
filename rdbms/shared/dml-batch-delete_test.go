package shared

import (
	"regexp"
	"testing"

	"github.com/cevaris/ordered_map"
	"github.com/sirupsen/logrus"
)

func TestSqlDelete(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	log.Info("Starting tests for SQL DELETE...")

	omKeys := ordered_map.NewOrderedMap()
	omKeys.Set("periodField", "mes_cierre")

	db := NewMockConnection(log, "sqlite3")
	dml := db.GetDmlGenerator()
	o := dml.NewDeleteGenerator(&SqlStatementGeneratorConfig{
		Log:             log,
		OutputTable:     "fact_cartera",
		TargetKeyCols:   omKeys,
		TargetOtherCols: ordered_map.NewOrderedMap()}).(SqlStmtTxtBatcher)

	// Batch of two period values produces two OR'd predicates.
	o.InitBatch(2)
	if _, err := o.AddValuesToBatch([]interface{}{"01/2026"}); err != nil {
		t.Fatal(err)
	}
	batchIsFull, err := o.AddValuesToBatch([]interface{}{"02/2026"})
	if err != nil {
		t.Fatal(err)
	}
	if !batchIsFull {
		t.Fatal("The batch *should* be full but it is not.")
	}
	sql := o.GetStatement()
	re := regexp.MustCompile(`^delete from fact_cartera where \( mes_cierre = \? \) or \( mes_cierre = \? \)$`)
	if !re.MatchString(sql) {
		t.Fatal("unexpected DELETE statement generated: ", sql)
	}
	if len(o.GetValues()) != 2 {
		t.Fatal("expected 2 values in batch, got ", len(o.GetValues()))
	}

	// Wrong number of values per row should error.
	o.InitBatch(1)
	if _, err := o.AddValuesToBatch([]interface{}{"01/2026", "02/2026"}); err == nil {
		t.Fatal("There should have been an error. Incorrect number of values deliberately supplied in batch.")
	}
}
