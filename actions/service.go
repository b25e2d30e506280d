package actions

import (
	"database/sql"

	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/orchestrator"
	"github.com/espejodata/espejo/run"
	"github.com/pkg/errors"
)

// ErrRunNotFound is returned by Status when neither the in-memory registry nor
// the durable run table has a row for the requested domain or job.
var ErrRunNotFound = errors.New("no synchronization run found")

// ErrDomainDisabled is returned by Start when the operator has switched the
// domain off in domains.yaml.
var ErrDomainDisabled = errors.New("domain is disabled in configuration")

type SyncServiceConfig struct {
	Log          logger.Logger
	Orchestrator *orchestrator.Orchestrator
	Registry     *run.Registry
	Store        *run.Store
	Cache        *ViewCache
	EnabledFn    func(d domain.Domain) bool // nil means every domain accepts runs.
}

// SyncService is the operation surface consumed by both the web handlers and
// the CLI: run submission and status lookup over one shared orchestrator.
type SyncService struct {
	log      logger.Logger
	orch     *orchestrator.Orchestrator
	registry *run.Registry
	store    *run.Store
	cache    *ViewCache
	enabled  func(d domain.Domain) bool
}

func NewSyncService(cfg *SyncServiceConfig) *SyncService {
	return &SyncService{
		log:      cfg.Log,
		orch:     cfg.Orchestrator,
		registry: cfg.Registry,
		store:    cfg.Store,
		cache:    cfg.Cache,
		enabled:  cfg.EnabledFn,
	}
}

// Start submits a run and returns the acceptance ack. Scope and concurrency
// rejections surface as window.ErrWindowConflict and run.ErrRunActive for the
// caller to map onto its own status codes.
func (s *SyncService) Start(req orchestrator.Request) (orchestrator.Ack, error) {
	if s.enabled != nil && !s.enabled(req.Domain) {
		return orchestrator.Ack{}, errors.Wrapf(ErrDomainDisabled, "domain %v", req.Domain)
	}
	return s.orch.StartRun(req)
}

// Status answers from the in-memory registry while the owning process still
// holds the run, and falls back to the durable run table otherwise, so a status
// query keeps working after a restart. An empty jobID means "the latest run for
// this domain".
func (s *SyncService) Status(d domain.Domain, jobID string) (run.RunState, error) {
	if state, ok := s.registry.Load(d); ok {
		if jobID == "" || state.JobID == jobID {
			return state, nil
		}
	}
	state, err := s.store.Load(d, jobID)
	if err == sql.ErrNoRows {
		return run.RunState{}, errors.Wrapf(ErrRunNotFound, "domain %v", d)
	}
	if err != nil {
		return run.RunState{}, err
	}
	return state, nil
}

// Cache exposes the read-view cache so callers can wire invalidation into the
// orchestrator and serve cached views from the read layer.
func (s *SyncService) Cache() *ViewCache {
	return s.cache
}
