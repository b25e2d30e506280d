package run

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/espejodata/espejo/stats"
	"github.com/pkg/errors"
)

const sqlPersistRun = `insert into sync_runs
 (job_id, domain, mode, year_from, close_month_from, close_month_to, actor, running,
  stage, progress_percent, rows_read, rows_upserted, rows_unchanged, duplicates_detected,
  rows_discarded, extract_stats, error, log_json, start_time, end_time)
 values ( ?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,? )
 on conflict (job_id) do update set
  running = excluded.running, stage = excluded.stage,
  progress_percent = excluded.progress_percent, rows_read = excluded.rows_read,
  rows_upserted = excluded.rows_upserted, rows_unchanged = excluded.rows_unchanged,
  duplicates_detected = excluded.duplicates_detected, rows_discarded = excluded.rows_discarded,
  extract_stats = excluded.extract_stats, error = excluded.error,
  log_json = excluded.log_json, end_time = excluded.end_time`

const sqlLoadRun = `select job_id, domain, mode, year_from, close_month_from, close_month_to,
  actor, running, stage, progress_percent, rows_read, rows_upserted, rows_unchanged,
  duplicates_detected, rows_discarded, extract_stats, error, log_json, start_time, end_time
 from sync_runs`

// Store persists run state to the destination database so status survives a
// restart and interrupted runs can be reconciled on startup.
type Store struct {
	log logger.Logger
	db  shared.Connector
}

func NewStore(log logger.Logger, db shared.Connector) *Store {
	return &Store{log: log, db: db}
}

// Persist writes the run state, inserting or updating by jobId.
func (s *Store) Persist(state RunState) error {
	logJSON, err := json.Marshal(state.Log)
	if err != nil {
		return errors.Wrap(err, "unable to marshal run log")
	}
	endTime := ""
	if !state.EndTime.IsZero() {
		endTime = state.EndTime.Format(time.RFC3339)
	}
	extractStats := ""
	if state.ExtractStats != nil {
		b, err := json.Marshal(state.ExtractStats)
		if err != nil {
			return errors.Wrap(err, "unable to marshal extract stats")
		}
		extractStats = string(b)
	}
	_, err = s.db.Exec(sqlPersistRun,
		state.JobID, string(state.Domain), state.Mode, state.YearFrom,
		state.CloseMonthFrom, state.CloseMonthTo, state.Actor, boolToInt(state.Running),
		string(state.Stage), state.ProgressPercent, state.RowsRead, state.RowsUpserted,
		state.RowsUnchanged, state.DuplicatesDetected, state.RowsDiscarded, extractStats,
		state.Error, string(logJSON), state.StartTime.Format(time.RFC3339), endTime)
	if err != nil {
		return errors.Wrapf(err, "unable to persist run %v", state.JobID)
	}
	return nil
}

// Load fetches a run by jobId when given, else the most recent run for the
// domain. sql.ErrNoRows is returned when nothing matches.
func (s *Store) Load(d domain.Domain, jobID string) (RunState, error) {
	var rows *sql.Rows
	var err error
	if jobID != "" {
		rows, err = s.db.Query(sqlLoadRun+" where job_id = ?", jobID)
	} else {
		rows, err = s.db.Query(sqlLoadRun+" where domain = ? order by start_time desc limit 1", string(d))
	}
	if err != nil {
		return RunState{}, errors.Wrap(err, "unable to query sync_runs")
	}
	defer rows.Close()
	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return RunState{}, errors.Wrap(err, "unable to read sync_runs")
		}
		return RunState{}, sql.ErrNoRows
	}
	return scanRun(rows)
}

// ReconcileInterruptedRuns marks runs left running by a crash as failed and
// returns how many were flipped. Call once on startup before accepting runs.
func (s *Store) ReconcileInterruptedRuns() (int64, error) {
	res, err := s.db.Exec(
		`update sync_runs set running = 0, stage = ?, error = ?, end_time = ? where running = 1`,
		string(StageFailed), constants.ErrorTextInterrupted, time.Now().Format(time.RFC3339))
	if err != nil {
		return 0, errors.Wrap(err, "unable to reconcile interrupted runs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "unable to count reconciled runs")
	}
	if n > 0 {
		s.log.Info("marked ", n, " interrupted run(s) as failed")
	}
	return n, nil
}

func scanRun(rows *sql.Rows) (RunState, error) {
	var state RunState
	var dom, stage, extractStats, logJSON, startTime, endTime string
	var running int
	err := rows.Scan(&state.JobID, &dom, &state.Mode, &state.YearFrom,
		&state.CloseMonthFrom, &state.CloseMonthTo, &state.Actor, &running,
		&stage, &state.ProgressPercent, &state.RowsRead, &state.RowsUpserted,
		&state.RowsUnchanged, &state.DuplicatesDetected, &state.RowsDiscarded,
		&extractStats, &state.Error, &logJSON, &startTime, &endTime)
	if err != nil {
		return RunState{}, errors.Wrap(err, "unable to scan sync_runs row")
	}
	state.Domain = domain.Domain(dom)
	state.Stage = Stage(stage)
	state.Running = running != 0
	if extractStats != "" {
		state.ExtractStats = &stats.StepStats{}
		if err = json.Unmarshal([]byte(extractStats), state.ExtractStats); err != nil {
			return RunState{}, errors.Wrap(err, "unable to unmarshal extract stats")
		}
	}
	if err = json.Unmarshal([]byte(logJSON), &state.Log); err != nil {
		return RunState{}, errors.Wrap(err, "unable to unmarshal run log")
	}
	if state.StartTime, err = time.Parse(time.RFC3339, startTime); err != nil {
		return RunState{}, errors.Wrap(err, "unable to parse run start time")
	}
	if endTime != "" {
		if state.EndTime, err = time.Parse(time.RFC3339, endTime); err != nil {
			return RunState{}, errors.Wrap(err, "unable to parse run end time")
		}
	}
	return state, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
