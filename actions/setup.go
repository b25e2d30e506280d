package actions

import (
	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/orchestrator"
	"github.com/espejodata/espejo/queries"
	"github.com/espejodata/espejo/rdbms"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/espejodata/espejo/run"
	"github.com/espejodata/espejo/schema"
	"github.com/pkg/errors"
)

type ServiceConfig struct {
	Connections     ConnectionLoader
	QueriesDir      string
	DisabledDomains []string // domains switched off by the operator; empty means all accept runs.
	CommitBatchSize int
	TxtBatchNumRows int
}

// BuildSyncService opens the destination store, prepares its schema, reconciles
// any run a previous process left marked running and wires the orchestrator.
// The returned cleanup func closes the destination connection.
func BuildSyncService(log logger.Logger, cfg *ServiceConfig) (*SyncService, func(), error) {
	destDetails, err := cfg.Connections.LoadConnection(constants.ConnectionNameDestination)
	if err != nil {
		return nil, nil, err
	}
	destDb, err := rdbms.OpenDbConnection(log, destDetails)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "unable to open connection %q", constants.ConnectionNameDestination)
	}
	cleanup := func() {
		destDb.Close()
	}
	if err = schema.EnsureSchema(log, destDb); err != nil {
		cleanup()
		return nil, nil, err
	}
	store := run.NewStore(log, destDb)
	// Runs abandoned by a dead process must be failed before new runs start.
	n, err := store.ReconcileInterruptedRuns()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if n > 0 {
		log.Warn(n, " interrupted run(s) marked failed on startup")
	}
	registry := run.NewRegistry()
	cache := NewViewCache()
	orch := orchestrator.New(&orchestrator.Config{
		Log:      log,
		Registry: registry,
		Store:    store,
		DestDb:   destDb,
		OpenSource: func() (shared.Connector, error) {
			d, err := cfg.Connections.LoadConnection(constants.ConnectionNameSource)
			if err != nil {
				return nil, err
			}
			return rdbms.OpenDbConnection(log, d)
		},
		Queries:         queries.NewLoader(log, cfg.QueriesDir),
		CommitBatchSize: cfg.CommitBatchSize,
		TxtBatchNumRows: cfg.TxtBatchNumRows,
		InvalidateFn: func(prefix string) {
			cache.InvalidatePrefix(prefix)
		},
	})
	disabled := make(map[domain.Domain]bool, len(cfg.DisabledDomains))
	for _, name := range cfg.DisabledDomains {
		d, err := domain.ParseDomain(name)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		disabled[d] = true
	}
	svc := NewSyncService(&SyncServiceConfig{
		Log:          log,
		Orchestrator: orch,
		Registry:     registry,
		Store:        store,
		Cache:        cache,
		EnabledFn: func(d domain.Domain) bool {
			return !disabled[d]
		},
	})
	return svc, cleanup, nil
}
