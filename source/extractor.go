package source

import (
	"sync/atomic"

	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/espejodata/espejo/stats"
	"github.com/espejodata/espejo/stream"
	"github.com/pkg/errors"
)

type QueryExtractConfig struct {
	Log         logger.Logger
	Name        string
	Db          shared.Connector
	StepWatcher *stats.StepWatcher // optional; gathers step stats when supplied.
	Sqltext     string
	Args        []interface{}
}

// NewQueryExtract executes the extraction SQL and produces rows onto the returned
// channel. The row channel is closed when the result set is exhausted; the error
// channel then yields exactly one value, nil on success. The sequence is lazy,
// finite and non-restartable. Database errors are surfaced verbatim so the run
// records the driver's message as its terminal error.
func NewQueryExtract(cfg *QueryExtractConfig) (chan stream.Record, chan error) {
	outputChan := make(chan stream.Record, constants.ChanSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(outputChan)
		errChan <- execSql(cfg, outputChan)
	}()
	return outputChan, errChan
}

func execSql(cfg *QueryExtractConfig, outputChan chan stream.Record) error {
	if cfg.Sqltext == "" {
		return errors.Errorf("%v received empty extraction SQL", cfg.Name)
	}
	rowCount := int64(0)
	if cfg.StepWatcher != nil { // if the caller wants step stats...
		cfg.StepWatcher.StartWatching(&rowCount, &outputChan)
		defer cfg.StepWatcher.StopWatching()
	}
	cfg.Log.Info(cfg.Name, " executing extraction SQL")
	cfg.Log.Debug(cfg.Name, " SQL: ", cfg.Sqltext, "; args = ", cfg.Args)
	rows, err := cfg.Db.Query(cfg.Sqltext, cfg.Args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return errors.Wrapf(err, "%v unable to fetch column types", cfg.Name)
	}
	scanPtrs := make([]interface{}, len(colTypes))
	scanVals := make([]interface{}, len(colTypes))
	for idx := range scanVals {
		scanPtrs[idx] = &scanVals[idx]
	}
	for rows.Next() {
		if err = rows.Scan(scanPtrs...); err != nil {
			return errors.Wrapf(err, "%v unable to scan row", cfg.Name)
		}
		row := stream.NewRecord()
		for idx := range scanVals {
			row.SetData(colTypes[idx].Name(), scanVals[idx])
		}
		cfg.Log.Trace(cfg.Name, " producing row onto outputChan: ", row)
		outputChan <- row
		atomic.AddInt64(&rowCount, 1)
	}
	if err = rows.Err(); err != nil {
		return err
	}
	// Drain any extra result sets the query produced before the connection is
	// released. Legacy procedures can emit trailing sets we never asked for.
	for rows.NextResultSet() {
		for rows.Next() {
		}
	}
	cfg.Log.Info(cfg.Name, " extracted ", atomic.AddInt64(&rowCount, 0), " rows")
	return rows.Err()
}
