package constants

// Engine

const (
	ChanSize                     = 100  // buffer length of channels between pipeline steps.
	FetchBatchSizeDefault        = 2000 // num rows fetched from the legacy source per batch.
	CommitBatchSizeDefault       = 1000 // commit interval in num rows against the destination.
	TxtBatchNumRowsDefault       = 50   // num rows combined into a single DML statement.
	SpillChunkSizeDefault        = 500  // num records read back from the spill file per chunk.
	StatsCaptureFrequencySeconds = 5
	RunLogMaxLines               = 200 // rolling operational log kept per run.
	RunPersistFrequencySeconds   = 3   // how often the in-memory run state is flushed to the run table.
	ProgressExtractWeight        = 45  // percentage points assigned to the extract phase.
	ProgressUpsertWeight         = 50  // percentage points assigned to the upsert phase; the rest is finalisation.
	TimeFormatYearSeconds        = "20060102T150405"
	PeriodFormat                 = "01/2006" // MM/YYYY period labels.
	PeriodYearMin                = 2000
	PeriodYearMax                = 2100
	TrancheMax                   = 7 // aging buckets saturate here.
	EnvVarPrefix                 = "ESPEJO" // prefix for environment variables.
	ConnectionNameSource         = "legacy" // logical name of the legacy source connection.
	ConnectionNameDestination    = "mirror" // logical name of the local analytical store.
	ConnectionTypeSqlServer      = "sqlserver"
	ConnectionTypeSqlite         = "sqlite3"
	ConnectionTypeMock           = "mock"
	CacheKeyPrefixCartera        = "cartera" // read-view cache entries invalidated when a cartera run completes.
	ErrorTextInterrupted         = "interrupted on restart"
)
