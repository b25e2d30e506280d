package actions

import (
	"fmt"
	"time"

	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/helper"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/orchestrator"
	"github.com/espejodata/espejo/run"
	"github.com/pkg/errors"
)

type SyncConfig struct {
	LogLevel         string `errorTxt:"log level" mandatory:"yes"`
	DomainName       string `errorTxt:"domain name" mandatory:"yes"`
	YearFrom         int
	CloseMonth       string // single-month shorthand, equivalent to CloseMonthFrom alone.
	CloseMonthFrom   string
	CloseMonthTo     string
	Actor            string
	Connections      ConnectionLoader
	QueriesDir       string
	CommitBatchSize  int
	TxtBatchNumRows  int
	StackDumpOnPanic bool
}

// RunSync executes one synchronization run from the command line and blocks
// until it reaches a terminal stage, sharing the orchestrator with the web
// path. A failed run surfaces as the returned error.
func RunSync(cfg *SyncConfig) error {
	if cfg == nil {
		return errors.New("nil pointer to sync config supplied")
	}
	log := logger.NewLogger("espejo", cfg.LogLevel, cfg.StackDumpOnPanic)
	if err := helper.ValidateStructIsPopulated(cfg); err != nil {
		return err
	}
	d, err := domain.ParseDomain(cfg.DomainName)
	if err != nil {
		return err
	}
	svc, cleanup, err := BuildSyncService(log, &ServiceConfig{
		Connections:     cfg.Connections,
		QueriesDir:      cfg.QueriesDir,
		CommitBatchSize: cfg.CommitBatchSize,
		TxtBatchNumRows: cfg.TxtBatchNumRows,
	})
	if err != nil {
		return err
	}
	defer cleanup()
	if cfg.CloseMonthFrom == "" { // if only the single-month shorthand was given...
		cfg.CloseMonthFrom = cfg.CloseMonth
	}
	ack, err := svc.Start(orchestrator.Request{
		Domain:         d,
		YearFrom:       cfg.YearFrom,
		CloseMonthFrom: cfg.CloseMonthFrom,
		CloseMonthTo:   cfg.CloseMonthTo,
		Actor:          cfg.Actor,
	})
	if err != nil {
		return err
	}
	log.Info("run ", ack.JobID, " accepted in mode ", ack.Mode)
	state := waitForRun(log, svc, d)
	if state.Stage == run.StageFailed {
		return errors.Errorf("run %v failed: %v", state.JobID, state.Error)
	}
	log.Info(fmt.Sprintf("run %v completed: %v read, %v upserted, %v unchanged, %v duplicates, %v discarded",
		state.JobID, state.RowsRead, state.RowsUpserted, state.RowsUnchanged,
		state.DuplicatesDetected, state.RowsDiscarded))
	return nil
}

// waitForRun polls the registry until the run is terminal, logging progress as
// it moves.
func waitForRun(log logger.Logger, svc *SyncService, d domain.Domain) run.RunState {
	lastPct := -1
	for {
		state, ok := svc.registry.Load(d)
		if !ok { // the run vanished; nothing more to report.
			return run.RunState{Stage: run.StageFailed, Error: "run state lost"}
		}
		if state.Stage.IsTerminal() {
			return state
		}
		if state.ProgressPercent != lastPct {
			lastPct = state.ProgressPercent
			log.Info("stage ", state.Stage, ": ", state.ProgressPercent, "%")
		}
		time.Sleep(500 * time.Millisecond)
	}
}
