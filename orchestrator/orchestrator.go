package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/dedupe"
	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/queries"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/espejodata/espejo/run"
	"github.com/espejodata/espejo/source"
	"github.com/espejodata/espejo/spill"
	"github.com/espejodata/espejo/stats"
	"github.com/espejodata/espejo/upsert"
	"github.com/espejodata/espejo/window"
	"github.com/pkg/errors"
	"github.com/rs/xid"
)

type Config struct {
	Log      logger.Logger
	Registry *run.Registry
	Store    *run.Store
	DestDb   shared.Connector
	// OpenSource opens a fresh connection to the legacy store per run; the
	// drivers in use do not support concurrent cursors on one connection.
	OpenSource      func() (shared.Connector, error)
	Queries         *queries.Loader
	NewStaging      func(log logger.Logger) (spill.Staging, error) // optional; defaults to the disk spill.
	CommitBatchSize int
	TxtBatchNumRows int
	InvalidateFn    func(prefix string) // optional read-view cache invalidation.
}

// Request carries the caller's scope parameters for one run.
type Request struct {
	Domain         domain.Domain
	YearFrom       int
	CloseMonthFrom string
	CloseMonthTo   string
	Actor          string
}

// Ack is returned immediately on acceptance; the run continues in the background.
type Ack struct {
	JobID     string        `json:"jobId"`
	Domain    domain.Domain `json:"domain"`
	Mode      string        `json:"mode"`
	StartedAt time.Time     `json:"startedAt"`
}

// Orchestrator wires extraction, normalization, window replacement and upsert
// into one sequential run per request. At most one run is active system-wide.
type Orchestrator struct {
	cfg Config
}

func New(cfg *Config) *Orchestrator {
	if cfg.CommitBatchSize <= 0 {
		cfg.CommitBatchSize = constants.CommitBatchSizeDefault
	}
	if cfg.TxtBatchNumRows <= 0 {
		cfg.TxtBatchNumRows = constants.TxtBatchNumRowsDefault
	}
	if cfg.NewStaging == nil {
		cfg.NewStaging = func(log logger.Logger) (spill.Staging, error) {
			return spill.NewDiskSpill(log)
		}
	}
	return &Orchestrator{cfg: *cfg}
}

// StartRun validates the request, claims the concurrency gate and launches the
// run in the background. The window is planned before the gate is touched so a
// bad scope is rejected without side effects.
func (o *Orchestrator) StartRun(req Request) (Ack, error) {
	if _, err := domain.MapperFor(req.Domain); err != nil {
		return Ack{}, err
	}
	w, err := window.Plan(req.Domain, req.YearFrom, req.CloseMonthFrom, req.CloseMonthTo)
	if err != nil {
		return Ack{}, err
	}
	now := time.Now()
	state := run.RunState{
		JobID:          xid.New().String(),
		Domain:         req.Domain,
		Mode:           string(w.Mode),
		YearFrom:       req.YearFrom,
		CloseMonthFrom: req.CloseMonthFrom,
		CloseMonthTo:   req.CloseMonthTo,
		Actor:          req.Actor,
		Running:        true,
		Stage:          run.StageStarting,
		StartTime:      now,
		Log:            []string{},
	}
	state.AppendLog(fmt.Sprintf("run accepted for domain %v with window %v", req.Domain, w))
	if err = o.cfg.Registry.TryAcquire(state); err != nil {
		return Ack{}, err
	}
	if err = o.cfg.Store.Persist(state); err != nil {
		// The run never started; hand the gate back rather than leaving it wedged.
		o.cfg.Registry.Release(state.JobID)
		return Ack{}, err
	}
	o.cfg.Log.Info("run ", state.JobID, " accepted: domain=", req.Domain, " window=", w, " actor=", req.Actor)
	go o.execute(state.JobID, req.Domain, w)
	return Ack{JobID: state.JobID, Domain: req.Domain, Mode: string(w.Mode), StartedAt: now}, nil
}

func (o *Orchestrator) execute(jobID string, d domain.Domain, w window.Window) {
	log := o.cfg.Log
	defer o.cfg.Registry.Release(jobID)
	defer func() {
		if r := recover(); r != nil { // a panicking run must still release the gate and record failure.
			o.failRun(d, errors.Errorf("run panicked: %v", r))
		}
	}()

	stopPersist := o.persistPeriodically(d)
	defer stopPersist()

	// Connect to the legacy source.
	if _, err := o.cfg.Registry.Transition(d, run.StageConnectingSource); err != nil {
		o.failRun(d, err)
		return
	}
	o.setProgress(d, 2)
	sqlText, err := o.cfg.Queries.SqlFor(d)
	if err != nil {
		o.failRun(d, err)
		return
	}
	srcDb, err := o.cfg.OpenSource()
	if err != nil {
		o.failRun(d, err)
		return
	}
	defer srcDb.Close()

	// Extract, normalize, deduplicate and stage.
	if _, err = o.cfg.Registry.Transition(d, run.StageExtracting); err != nil {
		o.failRun(d, err)
		return
	}
	o.setProgress(d, 5)
	staging, err := o.cfg.NewStaging(log)
	if err != nil {
		o.failRun(d, err)
		return
	}
	defer staging.Dispose()
	if err = o.extractToStaging(d, w, srcDb, sqlText, staging); err != nil {
		o.failRun(d, err)
		return
	}
	o.setProgress(d, constants.ProgressExtractWeight)

	// Replace the window.
	if _, err = o.cfg.Registry.Transition(d, run.StageReplacingWindow); err != nil {
		o.failRun(d, err)
		return
	}
	mapper, err := domain.MapperFor(d)
	if err != nil {
		o.failRun(d, err)
		return
	}
	upserter := upsert.NewUpserter(&upsert.UpserterConfig{
		Log:             log,
		Db:              o.cfg.DestDb,
		Mapper:          mapper,
		TxtBatchNumRows: o.cfg.TxtBatchNumRows,
	})
	deleted, err := upserter.DeleteWindow(w)
	if err != nil {
		o.failRun(d, err)
		return
	}
	o.appendLog(d, fmt.Sprintf("window %v cleared: %v fact rows deleted", w, deleted))

	// Upsert staged records.
	if _, err = o.cfg.Registry.Transition(d, run.StageUpserting); err != nil {
		o.failRun(d, err)
		return
	}
	if err = o.upsertStaged(jobID, d, staging, upserter); err != nil {
		o.failRun(d, err)
		return
	}

	// Analytics rebuilds its derived per-unit snapshot before completing.
	if d == domain.DomainAnalytics {
		if _, err = o.cfg.Registry.Transition(d, run.StageRefreshingDerived); err != nil {
			o.failRun(d, err)
			return
		}
		refresher := upsert.NewSnapshotRefresher(&upsert.SnapshotRefresherConfig{
			Log:             log,
			Db:              o.cfg.DestDb,
			TxtBatchNumRows: o.cfg.TxtBatchNumRows,
		})
		written, err := refresher.Refresh(w)
		if err != nil {
			o.failRun(d, err)
			return
		}
		o.appendLog(d, fmt.Sprintf("snapshot %v rebuilt with %v rows", domain.AnalyticsSnapshotTable, written))
	}

	state, err := o.cfg.Registry.Transition(d, run.StageCompleted)
	if err != nil {
		o.failRun(d, err)
		return
	}
	state, _ = o.cfg.Registry.Update(d, func(s *run.RunState) {
		s.ProgressPercent = 100
		s.EndTime = time.Now()
		s.AppendLog(fmt.Sprintf("run completed: %v read, %v upserted, %v unchanged, %v duplicates, %v discarded",
			s.RowsRead, s.RowsUpserted, s.RowsUnchanged, s.DuplicatesDetected, s.RowsDiscarded))
	})
	if err = o.cfg.Store.Persist(state); err != nil {
		log.Error("unable to persist final state of run ", jobID, ": ", err)
	}
	if d == domain.DomainCartera && o.cfg.InvalidateFn != nil { // completed cartera runs invalidate cached portfolio views.
		o.cfg.InvalidateFn(constants.CacheKeyPrefixCartera)
	}
	log.Info("run ", jobID, " completed")
}

// extractToStaging pulls every source row through normalization and dedupe into
// the staging spill. Rows whose period falls outside the window are discarded.
func (o *Orchestrator) extractToStaging(d domain.Domain, w window.Window,
	srcDb shared.Connector, sqlText string, staging spill.Staging) error {
	watcher := stats.NewStepWatcher(o.cfg.Log, fmt.Sprintf("extract-%v", d))
	rowChan, errChan := source.NewQueryExtract(&source.QueryExtractConfig{
		Log:         o.cfg.Log,
		Name:        fmt.Sprintf("extract-%v", d),
		Db:          srcDb,
		StepWatcher: watcher,
		Sqltext:     sqlText,
	})
	deduper := dedupe.NewDeduper()
	now := time.Now()
	var seq, read, discarded int64
	flushCounters := func() {
		o.cfg.Registry.Update(d, func(s *run.RunState) {
			s.RowsRead = read
			s.DuplicatesDetected = deduper.Duplicates()
			s.RowsDiscarded = discarded
		})
	}
	for row := range rowChan {
		seq++
		rec, err := domain.Normalize(d, row, seq, now)
		if err != nil {
			for range rowChan { // unblock the producer before surfacing the error.
			}
			<-errChan
			return err
		}
		read++
		if !w.Contains(rec.PeriodKey()) { // rows outside the window are never written.
			discarded++
			continue
		}
		if !deduper.Keep(rec) {
			continue
		}
		if err = staging.Append(rec); err != nil {
			for range rowChan {
			}
			<-errChan
			return err
		}
		if read%1000 == 0 {
			flushCounters()
		}
	}
	if err := <-errChan; err != nil {
		return err
	}
	flushCounters()
	snapshot := watcher.RenderStats() // final sample; the extractor has stopped the watcher by now.
	o.cfg.Registry.Update(d, func(s *run.RunState) {
		s.ExtractStats = &snapshot
	})
	o.appendLog(d, snapshot.String())
	o.appendLog(d, fmt.Sprintf("extraction finished: %v rows read, %v staged, %v duplicates, %v outside window",
		read, staging.Count(), deduper.Duplicates(), discarded))
	return nil
}

// upsertStaged replays the staging spill in commit-sized chunks. Cartera runs
// two passes, grouping by close period so each period's replacement is logged
// and applied as its own sequence of chunks.
func (o *Orchestrator) upsertStaged(jobID string, d domain.Domain, staging spill.Staging, upserter *upsert.Upserter) error {
	total := staging.Count()
	if total == 0 {
		o.appendLog(d, "nothing staged; window left empty")
		return nil
	}
	now := time.Now()
	var applied int64
	applyChunk := func(recs []domain.NormalizedRecord) error {
		changed, unchanged, err := upserter.ApplyChunk(jobID, recs, now)
		if err != nil {
			return err
		}
		applied += int64(len(recs))
		o.cfg.Registry.Update(d, func(s *run.RunState) {
			s.RowsUpserted += changed
			s.RowsUnchanged += unchanged
			s.ProgressPercent = blendProgress(applied, total)
		})
		return nil
	}
	if d == domain.DomainCartera {
		counts, err := staging.CountByPeriod()
		if err != nil {
			return err
		}
		for _, period := range sortedPeriods(counts) { // first pass grouped the rows; second pass applies per period.
			o.appendLog(d, fmt.Sprintf("replacing period %v: %v rows", period, counts[period]))
			if err = staging.IteratePeriod(period, o.cfg.CommitBatchSize, applyChunk); err != nil {
				return err
			}
		}
		return nil
	}
	return staging.IterateChunks(o.cfg.CommitBatchSize, applyChunk)
}

func (o *Orchestrator) failRun(d domain.Domain, cause error) {
	o.cfg.Log.Error("run for domain ", d, " failed: ", cause)
	state, err := o.cfg.Registry.Transition(d, run.StageFailed)
	if err != nil { // already terminal; nothing more to record.
		o.cfg.Log.Error("unable to mark run failed: ", err)
		return
	}
	state, _ = o.cfg.Registry.Update(d, func(s *run.RunState) {
		s.Error = cause.Error()
		s.EndTime = time.Now()
		s.AppendLog("run failed: " + cause.Error())
	})
	if err = o.cfg.Store.Persist(state); err != nil {
		o.cfg.Log.Error("unable to persist failed state: ", err)
	}
}

// persistPeriodically flushes the in-memory run state to the run table until the
// returned stop function is called, which also writes one final snapshot.
func (o *Orchestrator) persistPeriodically(d domain.Domain) func() {
	ticker := time.NewTicker(time.Second * constants.RunPersistFrequencySeconds)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if state, ok := o.cfg.Registry.Load(d); ok {
					if err := o.cfg.Store.Persist(state); err != nil {
						o.cfg.Log.Error("unable to persist run state: ", err)
					}
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
		if state, ok := o.cfg.Registry.Load(d); ok {
			if err := o.cfg.Store.Persist(state); err != nil {
				o.cfg.Log.Error("unable to persist run state: ", err)
			}
		}
	}
}

func (o *Orchestrator) setProgress(d domain.Domain, pct int) {
	o.cfg.Registry.Update(d, func(s *run.RunState) {
		if pct > s.ProgressPercent { // progress never moves backwards.
			s.ProgressPercent = pct
		}
	})
}

func (o *Orchestrator) appendLog(d domain.Domain, line string) {
	o.cfg.Log.Info(line)
	o.cfg.Registry.Update(d, func(s *run.RunState) {
		s.AppendLog(line)
	})
}

// blendProgress maps upsert completion onto the progress scale after the extract
// weight, capped below 100 until the terminal transition.
func blendProgress(applied, total int64) int {
	pct := constants.ProgressExtractWeight + int(int64(constants.ProgressUpsertWeight)*applied/total)
	if pct > 99 {
		pct = 99
	}
	return pct
}

// sortedPeriods orders MM/YYYY labels chronologically.
func sortedPeriods(counts map[string]int64) []string {
	periods := make([]string, 0, len(counts))
	for p := range counts {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool {
		mi, yi, erri := domain.ParsePeriod(periods[i])
		mj, yj, errj := domain.ParsePeriod(periods[j])
		if erri != nil || errj != nil { // malformed labels sort last, textually.
			return periods[i] < periods[j]
		}
		if yi != yj {
			return yi < yj
		}
		return mi < mj
	})
	return periods
}
