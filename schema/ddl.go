package schema

import (
	"fmt"

	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/pkg/errors"
)

// ddlCartera holds the portfolio fact table, keyed by contract + close date.
const ddlCartera = `create table if not exists fact_cartera (
 contrato      text not null,
 fecha_cierre  text not null,
 mes_cierre    text not null,
 mes_gestion   text not null,
 supervisor    text not null,
 unidad        text not null,
 canal         text not null,
 tramo         integer not null,
 cantidad      integer not null,
 monto_total   real not null,
 monto_pagado  real not null,
 content_hash  text not null,
 primary key (contrato, fecha_cierre)
)`

// ddlGestionFmt is shared by the management-style domains, keyed by the full tuple.
const ddlGestionFmt = `create table if not exists fact_%v (
 contrato      text not null,
 mes_gestion   text not null,
 supervisor    text not null,
 unidad        text not null,
 canal         text not null,
 tramo         integer not null,
 cantidad      integer not null,
 monto_total   real not null,
 monto_pagado  real not null,
 content_hash  text not null,
 primary key (contrato, mes_gestion, supervisor, unidad, canal, tramo)
)`

// ddlAuditFmt keeps the raw source payload per business key for traceability.
// The period column carries the same name as the fact table's so the window
// delete phase can use one predicate for both.
const ddlAuditFmt = `create table if not exists audit_%v (
 business_key  text not null,
 %v            text not null,
 content_hash  text not null,
 raw_payload   text not null,
 job_id        text not null,
 seq           integer not null,
 synced_at     text not null,
 primary key (business_key)
)`

const ddlAnalyticsSnapshot = `create table if not exists analytics_unidades (
 unidad        text not null,
 mes_gestion   text not null,
 supervisor    text not null,
 canal         text not null,
 tramo         integer not null,
 contrato      text not null,
 monto_total   real not null,
 monto_pagado  real not null
)`

const ddlSyncRuns = `create table if not exists sync_runs (
 job_id              text not null,
 domain              text not null,
 mode                text not null,
 year_from           integer not null,
 close_month_from    text not null,
 close_month_to      text not null,
 actor               text not null,
 running             integer not null,
 stage               text not null,
 progress_percent    integer not null,
 rows_read           integer not null,
 rows_upserted       integer not null,
 rows_unchanged      integer not null,
 duplicates_detected integer not null,
 rows_discarded      integer not null,
 extract_stats       text not null,
 error               text not null,
 log_json            text not null,
 start_time          text not null,
 end_time            text not null,
 primary key (job_id)
)`

// Reserved tables for incremental sync and queued execution. Created so older
// databases upgrade cleanly; nothing consumes them yet.
var ddlReserved = []string{
	`create table if not exists sync_watermarks (
 domain        text not null,
 watermark     text not null,
 updated_at    text not null,
 primary key (domain)
)`,
	`create table if not exists sync_chunk_manifest (
 job_id        text not null,
 chunk_index   integer not null,
 row_count     integer not null,
 applied       integer not null,
 primary key (job_id, chunk_index)
)`,
	`create table if not exists sync_job_queue (
 job_id        text not null,
 domain        text not null,
 priority      integer not null,
 retries       integer not null,
 lock_owner    text not null,
 enqueued_at   text not null,
 primary key (job_id)
)`,
}

// EnsureSchema creates all destination tables and indexes if they do not exist.
// Statements are idempotent so it runs on every startup.
func EnsureSchema(log logger.Logger, db shared.Connector) error {
	stmts := []string{ddlCartera}
	for _, d := range domain.AllDomains() {
		m, err := domain.MapperFor(d)
		if err != nil {
			return err
		}
		if d != domain.DomainCartera {
			stmts = append(stmts, fmt.Sprintf(ddlGestionFmt, d))
		}
		stmts = append(stmts, fmt.Sprintf(ddlAuditFmt, d, m.PeriodColumn()))
		stmts = append(stmts, fmt.Sprintf("create index if not exists idx_%v_%v on %v (%v)",
			m.FactTable(), m.PeriodColumn(), m.FactTable(), m.PeriodColumn()))
	}
	stmts = append(stmts, ddlAnalyticsSnapshot, ddlSyncRuns)
	stmts = append(stmts, `create index if not exists idx_analytics_unidades_mes on analytics_unidades (mes_gestion)`)
	stmts = append(stmts, `create index if not exists idx_sync_runs_domain on sync_runs (domain, start_time)`)
	stmts = append(stmts, ddlReserved...)
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return errors.Wrap(err, "unable to apply schema")
		}
	}
	log.Debug("destination schema is up to date")
	return nil
}
