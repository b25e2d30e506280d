package shared

import (
	"fmt"
	"strings"

	h "github.com/espejodata/espejo/helper"

	"github.com/pkg/errors"
)

// SqlUpsertTxtBatch implements interface SqlStmtTxtBatcher and is able to generate
// INSERT ... ON CONFLICT DO UPDATE statements with batches of rows supplied.
// The update clause only fires when the incoming content hash differs from the
// stored one, so re-syncing identical rows is a no-op that can be counted.
type SqlUpsertTxtBatch struct {
	SqlStatementGeneratorConfig // mandatory to be populated.
	sqlCoreCfg
	AllCols   []string
	KeyCols   []string // list of columns extracted from SqlStatementGeneratorConfig.
	OtherCols []string
}

// NewUpsertGenerator.
// Configure defaults in SqlStatementGeneratorConfig.
// HashCol must name a column present in TargetOtherCols.
func (*DmlGeneratorTxtBatch) NewUpsertGenerator(cfg *SqlStatementGeneratorConfig) SqlStmtGenerator {
	FixSqlStatementGeneratorConfig(cfg)
	if cfg.HashCol == "" {
		cfg.Log.Fatal("Error, missing content hash column name for UPSERT generator.")
	}
	cfg.Log.Debug("Creating NewUpsertGenerator")
	o := &SqlUpsertTxtBatch{SqlStatementGeneratorConfig: *cfg}
	o.setupSqlStatement()
	return o
}

func (o *SqlUpsertTxtBatch) setupSqlStatement() {
	idx := 0
	o.KeyCols = make([]string, o.TargetKeyCols.Len())
	h.OrderedMapValuesToStringSlice(o.Log, o.TargetKeyCols, &o.KeyCols, &idx)
	idx = 0
	o.OtherCols = make([]string, o.TargetOtherCols.Len())
	h.OrderedMapValuesToStringSlice(o.Log, o.TargetOtherCols, &o.OtherCols, &idx)
	o.AllCols = make([]string, 0, len(o.KeyCols)+len(o.OtherCols))
	o.AllCols = append(o.AllCols, o.KeyCols...)
	o.AllCols = append(o.AllCols, o.OtherCols...)
	// Build "col = excluded.col" update terms for the non-key columns only.
	setList := make([]string, len(o.OtherCols))
	for i, c := range o.OtherCols {
		setList[i] = fmt.Sprintf("%v = excluded.%v", c, c)
	}
	// Example:
	// insert into t (k1,k2,c1,hash) values ( ?,?,?,? ),( ?,?,?,? )
	// on conflict (k1,k2) do update set c1 = excluded.c1, hash = excluded.hash
	// where t.hash <> excluded.hash
	o.sqlStmtTemplate = `insert into <SCHEMA><SEPARATOR><TABLE> (<TGT-COLS>) values <VALUES> ` +
		`on conflict (<KEY-COLS>) do update set <SET-COLS> ` +
		`where <TABLE>.<HASH-COL> <> excluded.<HASH-COL>`
	o.sqlStmtTemplate = strings.Replace(o.sqlStmtTemplate, "<SCHEMA>", o.OutputSchema, 1)
	o.sqlStmtTemplate = strings.Replace(o.sqlStmtTemplate, "<SEPARATOR>", o.SchemaSeparator, 1)
	o.sqlStmtTemplate = strings.Replace(o.sqlStmtTemplate, "<TABLE>", o.OutputTable, 2)
	o.sqlStmtTemplate = strings.Replace(o.sqlStmtTemplate, "<TGT-COLS>", strings.Join(o.AllCols, ","), 1)
	o.sqlStmtTemplate = strings.Replace(o.sqlStmtTemplate, "<KEY-COLS>", strings.Join(o.KeyCols, ","), 1)
	o.sqlStmtTemplate = strings.Replace(o.sqlStmtTemplate, "<SET-COLS>", strings.Join(setList, ", "), 1)
	o.sqlStmtTemplate = strings.Replace(o.sqlStmtTemplate, "<HASH-COL>", o.HashCol, 2)
	o.Log.Debug("setup UPSERT generator with SQL (VALUES pending): ", o.sqlStmtTemplate)
}

func (o *SqlUpsertTxtBatch) InitBatch(batchSize int) {
	o.batchSize = batchSize
	if o.previousNumRowsInBatch != o.batchSize { // if we have a new batch size and need to generate SQL...
		o.sqlStmt = o.sqlStmtTemplate // reset the sqlStmt from our template.
	}
	o.rowsInBatch = 0
	// Allocate a new buffer to hold all values (args) to exec.
	o.sqlValues = make([]interface{}, 0, o.batchSize*len(o.AllCols)) // many values per row in a batch.
}

// AddValuesToBatch appends one row of values.
// The ordering of values is important: supply the key columns followed by the other columns.
func (o *SqlUpsertTxtBatch) AddValuesToBatch(values []interface{}) (batchIsFull bool, err error) {
	if o.rowsInBatch >= o.batchSize {
		err = errors.New("no more rows allowed in UPSERT batch")
		batchIsFull = true
		return
	}
	if len(values) != len(o.AllCols) {
		err = errors.New("the number of values supplied does not match the number of table columns")
		return
	}
	o.sqlValues = append(o.sqlValues, values...)
	o.rowsInBatch++                  // keep track of how close we are to the batch limit.
	if o.rowsInBatch < o.batchSize { // if the batch has room for more values...
		batchIsFull = false
	} else {
		batchIsFull = true // caller should exec SQL.
	}
	return
}

func (o *SqlUpsertTxtBatch) GetValues() []interface{} {
	return o.sqlValues
}

func (o *SqlUpsertTxtBatch) GetStatement() string {
	if o.previousNumRowsInBatch != o.batchSize { // if we have a new batch size and need to generate SQL...
		allRows := getBindPlaceholderRows(o.rowsInBatch, len(o.AllCols))
		o.sqlStmt = strings.Replace(o.sqlStmt, "<VALUES>", allRows.String(), 1)
		o.previousNumRowsInBatch = o.batchSize
	} // else we have the same batch size and can use cached SQL...
	o.Log.Debug("SQL batch UPSERT generated statement: ", o.sqlStmt)
	return o.sqlStmt
}
