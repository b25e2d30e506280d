package shared

import (
	"fmt"
	"strings"

	om "github.com/cevaris/ordered_map"
	"github.com/espejodata/espejo/logger"
)

type DmlGeneratorTxtBatch struct{}

type SqlStatementGeneratorConfig struct {
	Log             logger.Logger
	OutputSchema    string
	SchemaSeparator string
	OutputTable     string
	TargetKeyCols   *om.OrderedMap // ordered map of: key = record field name; value = target table column name
	TargetOtherCols *om.OrderedMap // ordered map of: key = record field name; value = target table column name
	HashCol         string         // name of the content-hash column, used by the upsert generator to guard updates.
}

type sqlCoreCfg struct {
	sqlStmt                string
	sqlStmtTemplate        string
	sqlValues              []interface{} // slice to hold data values for all rows in batch
	batchSize              int
	rowsInBatch            int
	previousNumRowsInBatch int
}

// getBindPlaceholderRows builds the placeholder text for a multi-row VALUES clause
// i.e. ( ?,?,? ),( ?,?,? ) for the given number of rows and columns.
func getBindPlaceholderRows(numRows int, numCols int) *strings.Builder {
	allRows := strings.Builder{}
	for rowIdx := 1; rowIdx <= numRows; rowIdx++ { // for each row in the batch...
		row := strings.Builder{}
		for idy := 0; idy < numCols; idy++ { // for each value in the current row...
			row.WriteString(",?")
		}
		// Save the row as ',( ?,?,? )'  <<< trim the leading comma later.
		allRows.WriteString(fmt.Sprintf(",( %v )", strings.TrimLeft(row.String(), ",")))
	}
	retval := strings.Builder{}
	retval.WriteString(strings.TrimLeft(allRows.String(), ","))
	return &retval
}
