package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/espejodata/espejo/constants"
	h "github.com/espejodata/espejo/helper"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/stream"
)

// StepWatcher samples the row counter of one pipeline step periodically so the
// status surface can report throughput while a run is in flight.
// The owning step calls StartWatching() and StopWatching() around its row loop.
type StepWatcher struct {
	log             logger.Logger
	stepName        string
	rowCountPtr     *int64 // ptr to the rowCount held by the step we are watching.
	chanPtr         *chan stream.Record
	chanLen         int64
	startTime       time.Time
	rowsPerSecDelta int64
	rowsPerSecAvg   int64
	totalRows       int64
	priorRowCount   int64     // lets us calculate delta rows per sec between ticker timeouts.
	priorTime       time.Time // lets us calculate delta rows per sec between ticker timeouts.
	ticker          *time.Ticker
	tickerDone      chan struct{}
	isRunning       h.AtomBool
}

// StepStats is a point-in-time snapshot of one step, shaped for the status response.
type StepStats struct {
	StepName           string `json:"stepName"`
	StatusText         string `json:"statusText"`
	ElapsedTimeSec     int    `json:"elapsedTimeSec"`
	TotalRowsProcessed int    `json:"totalRowsProcessed"`
	RowsPerSecondAvg   int    `json:"rowsPerSecondAvg"`
	RowsPerSecondDelta int    `json:"rowsPerSecondDelta"`
	OutputBufferLen    int    `json:"outputBufferLen"`
}

func NewStepWatcher(log logger.Logger, stepName string) *StepWatcher {
	return &StepWatcher{log: log, stepName: stepName, tickerDone: make(chan struct{})}
}

// StartWatching begins periodic sampling of the supplied row counter and channel.
// The counter must only be updated atomically by the watched step.
func (w *StepWatcher) StartWatching(rowCountPtr *int64, chanPtr *chan stream.Record) {
	w.rowCountPtr = rowCountPtr
	w.chanPtr = chanPtr
	w.startTime = time.Now()
	w.priorTime = w.startTime
	w.isRunning.Set(true)
	w.totalRows = 0 // reset in case the step calls StartWatching repeatedly.
	w.CalculateStats()
	w.ticker = time.NewTicker(time.Second * constants.StatsCaptureFrequencySeconds)
	go func() {
		for {
			select {
			case <-w.ticker.C:
				w.CalculateStats()
			case <-w.tickerDone:
				return
			}
		}
	}()
}

func (w *StepWatcher) StopWatching() {
	w.ticker.Stop()
	w.tickerDone <- struct{}{}
	w.CalculateStats() // force a final sample.
	w.isRunning.Set(false)
	atomic.StoreInt64(&w.chanLen, 0)
}

func (w *StepWatcher) CalculateStats() {
	deltaTime := int64(time.Since(w.priorTime).Seconds())
	if deltaTime < 1 { // if we would divide by zero...
		deltaTime = 1
	}
	rowCount := atomic.AddInt64(w.rowCountPtr, 0)
	deltaRowCount := rowCount - w.priorRowCount
	atomic.StoreInt64(&w.rowsPerSecDelta, deltaRowCount/deltaTime)
	if w.chanPtr != nil { // if the step exposes a buffer channel...
		atomic.StoreInt64(&w.chanLen, int64(len(*w.chanPtr)))
	}
	w.log.Debug("STATS: ", w.stepName, " processing ", w.rowsPerSecDelta, " rows per sec. Output channel length ", atomic.AddInt64(&w.chanLen, 0))
	atomic.StoreInt64(&w.priorRowCount, rowCount)
	w.priorTime = time.Now()
	atomic.AddInt64(&w.totalRows, deltaRowCount) // delta keeps the total honest when a step restarts its counter.
	atomic.StoreInt64(&w.rowsPerSecAvg,
		atomic.AddInt64(&w.totalRows, 0)/getNumSecondsSinceTimeOrOne(w.startTime))
}

// RenderStats gets a struct filled with stats at the point in time it is called.
func (w *StepWatcher) RenderStats() StepStats {
	statusText := "complete"
	if w.isRunning.Get() {
		statusText = "running"
	}
	return StepStats{
		StepName:           w.stepName,
		StatusText:         statusText,
		ElapsedTimeSec:     int(time.Since(w.startTime).Seconds()),
		TotalRowsProcessed: int(atomic.AddInt64(&w.totalRows, 0)),
		RowsPerSecondAvg:   int(atomic.AddInt64(&w.rowsPerSecAvg, 0)),
		RowsPerSecondDelta: int(atomic.AddInt64(&w.rowsPerSecDelta, 0)),
		OutputBufferLen:    int(atomic.AddInt64(&w.chanLen, 0)),
	}
}

// String formats the stats for general logging.
func (s StepStats) String() string {
	return fmt.Sprintf(
		"Stats for %v %v "+
			"elapsedTimeSec=%v "+
			"totalRowsProcessed=%v "+
			"rowsPerSecondAvg=%v "+
			"rowsPerSecondDelta=%v "+
			"outputBufferLen=%v",
		s.StepName, s.StatusText,
		s.ElapsedTimeSec,
		s.TotalRowsProcessed,
		s.RowsPerSecondAvg,
		s.RowsPerSecondDelta,
		s.OutputBufferLen,
	)
}

func getNumSecondsSinceTimeOrOne(t time.Time) (seconds int64) {
	seconds = int64(time.Since(t).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return
}
