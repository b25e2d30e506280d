package run

import (
	"fmt"
	"time"

	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/stats"
)

// Stage is the explicit state machine of one synchronization run. Transitions go
// through the whole pipeline in order, or to failed from anywhere; terminal
// stages accept no further transitions.
type Stage string

const (
	StageStarting          Stage = "starting"
	StageConnectingSource  Stage = "connecting_source"
	StageExtracting        Stage = "extracting"
	StageReplacingWindow   Stage = "replacing_window"
	StageUpserting         Stage = "upserting"
	StageRefreshingDerived Stage = "refreshing_derived"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

var stageTransitions = map[Stage][]Stage{
	StageStarting:          {StageConnectingSource, StageFailed},
	StageConnectingSource:  {StageExtracting, StageFailed},
	StageExtracting:        {StageReplacingWindow, StageFailed},
	StageReplacingWindow:   {StageUpserting, StageFailed},
	StageUpserting:         {StageRefreshingDerived, StageCompleted, StageFailed},
	StageRefreshingDerived: {StageCompleted, StageFailed},
	StageCompleted:         {},
	StageFailed:            {},
}

// CanTransition reports whether moving from s to next is a legal stage change.
func (s Stage) CanTransition(next Stage) bool {
	for _, v := range stageTransitions[s] {
		if v == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the run has finished, successfully or not.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// RunState is the live and persisted picture of one run: scope, stage, counters
// and a bounded operational log. It is retained after completion for status queries.
type RunState struct {
	JobID              string        `json:"jobId"`
	Domain             domain.Domain `json:"domain"`
	Mode               string        `json:"mode"`
	YearFrom           int           `json:"yearFrom,omitempty"`
	CloseMonthFrom     string        `json:"closeMonthFrom,omitempty"`
	CloseMonthTo       string        `json:"closeMonthTo,omitempty"`
	Actor              string        `json:"actor"`
	Running            bool          `json:"running"`
	Stage              Stage         `json:"stage"`
	ProgressPercent    int           `json:"progressPercent"`
	RowsRead           int64         `json:"rowsRead"`
	RowsUpserted       int64         `json:"rowsUpserted"`
	RowsUnchanged      int64         `json:"rowsUnchanged"`
	DuplicatesDetected int64         `json:"duplicatesDetected"`
	RowsDiscarded      int64         `json:"rowsDiscarded"` // rows whose period fell outside the window.
	// ExtractStats is the extract step's throughput snapshot, filled once
	// extraction finishes.
	ExtractStats *stats.StepStats `json:"extractStats,omitempty"`
	Error        string           `json:"error,omitempty"`
	Log          []string         `json:"log"`
	StartTime    time.Time        `json:"startTime"`
	EndTime      time.Time        `json:"endTime,omitempty"`
}

// AppendLog adds a timestamped line to the rolling log, keeping only the most
// recent lines so a misbehaving run cannot grow state without bound.
func (s *RunState) AppendLog(line string) {
	entry := fmt.Sprintf("%v %v", time.Now().Format("15:04:05"), line)
	s.Log = append(s.Log, entry)
	if len(s.Log) > constants.RunLogMaxLines {
		s.Log = s.Log[len(s.Log)-constants.RunLogMaxLines:]
	}
}

// Clone returns a copy safe to hand to concurrent readers.
func (s RunState) Clone() RunState {
	c := s
	c.Log = make([]string, len(s.Log))
	copy(c.Log, s.Log)
	if s.ExtractStats != nil {
		snap := *s.ExtractStats
		c.ExtractStats = &snap
	}
	return c
}
