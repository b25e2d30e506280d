package shared

import (
	"fmt"
	"strings"

	h "github.com/espejodata/espejo/helper"

	"github.com/pkg/errors"
)

// SqlDeleteTxtBatch implements interface SqlStmtTxtBatcher and is able to generate
// DELETE statements covering batches of key tuples supplied.
type SqlDeleteTxtBatch struct {
	SqlStatementGeneratorConfig // mandatory to be populated.
	sqlCoreCfg
	KeyList []string
}

// NewDeleteGenerator.
// Configure defaults in SqlStatementGeneratorConfig.
func (*DmlGeneratorTxtBatch) NewDeleteGenerator(cfg *SqlStatementGeneratorConfig) SqlStmtGenerator {
	FixSqlStatementGeneratorConfig(cfg)
	cfg.Log.Debug("Creating NewDeleteGenerator")
	o := &SqlDeleteTxtBatch{SqlStatementGeneratorConfig: *cfg}
	o.setupSqlStatement()
	return o
}

func (o *SqlDeleteTxtBatch) setupSqlStatement() {
	// Example:
	// delete from table
	// where ( a = ? and b = ? )
	//    or ( a = ? and b = ? )
	o.sqlStmtTemplate = `delete from <SCHEMA><SEPARATOR><TABLE> where <KEY-PREDICATES>`
	o.sqlStmtTemplate = strings.Replace(o.sqlStmtTemplate, "<SCHEMA>", o.OutputSchema, 1)
	o.sqlStmtTemplate = strings.Replace(o.sqlStmtTemplate, "<SEPARATOR>", o.SchemaSeparator, 1)
	o.sqlStmtTemplate = strings.Replace(o.sqlStmtTemplate, "<TABLE>", o.OutputTable, 1)
	o.Log.Debug("setup DELETE generator SQL (<KEY-PREDICATES> pending): ", o.sqlStmtTemplate)
}

func (o *SqlDeleteTxtBatch) InitBatch(batchSize int) {
	o.batchSize = batchSize
	if o.previousNumRowsInBatch != o.batchSize { // if we have a new batch size and need to generate SQL...
		o.sqlStmt = o.sqlStmtTemplate // reset the sqlStmt from our template.
	}
	o.rowsInBatch = 0
	// Slice to hold the list of target table key columns.
	if len(o.KeyList) == 0 { // if we have not built a list of columns from targetKeyCols ordered map...
		o.KeyList = make([]string, o.TargetKeyCols.Len())
		idx := 0
		h.OrderedMapValuesToStringSlice(o.Log, o.TargetKeyCols, &o.KeyList, &idx)
	}
	// Allocate a new buffer to hold all values (args) to exec.
	o.sqlValues = make([]interface{}, 0, o.batchSize*len(o.KeyList)) // many values per row in a batch.
}

func (o *SqlDeleteTxtBatch) AddValuesToBatch(values []interface{}) (batchIsFull bool, err error) {
	if o.rowsInBatch >= o.batchSize {
		err = errors.New("no more rows allowed in DELETE batch")
		batchIsFull = true
		return
	}
	if len(values) != len(o.KeyList) {
		err = errors.New("the number of target table key columns does not match the number of input values supplied")
		return
	}
	o.sqlValues = append(o.sqlValues, values...) // save all input values to pass as args to SQL exec.
	o.rowsInBatch++                              // keep track of how close we are to the batch limit.
	if o.rowsInBatch < o.batchSize {             // if the batch has room for more values...
		batchIsFull = false
	} else {
		batchIsFull = true // caller should exec SQL.
	}
	return
}

func (o *SqlDeleteTxtBatch) GetValues() []interface{} {
	return o.sqlValues
}

func (o *SqlDeleteTxtBatch) GetStatement() string {
	if o.previousNumRowsInBatch != o.batchSize { // if we have a new batch size and need to generate SQL...
		// Build one "( k1 = ? and k2 = ? )" term per row in the batch, OR'd together.
		term := make([]string, len(o.KeyList))
		for i, v := range o.KeyList { // for each key in the WHERE clause...
			term[i] = fmt.Sprintf("%v = ?", v)
		}
		oneRow := fmt.Sprintf("( %v )", strings.Join(term, " and "))
		allRows := make([]string, o.rowsInBatch)
		for i := 0; i < o.rowsInBatch; i++ {
			allRows[i] = oneRow
		}
		o.sqlStmt = strings.Replace(o.sqlStmt, "<KEY-PREDICATES>", strings.Join(allRows, " or "), 1)
		o.previousNumRowsInBatch = o.batchSize
	} // else we have the same batch size and can use cached SQL...
	o.Log.Debug("SQL batch DELETE generated statement: ", o.sqlStmt)
	return o.sqlStmt
}
