// Package store persists companies, candidates, review batches, run
// ledgers and project snapshots.
package store

import (
	"context"
	"time"

	"github.com/sells-group/saleslist-enrich/internal/db"
	"github.com/sells-group/saleslist-enrich/internal/model"
)

// RunFilter narrows ListRuns.
type RunFilter struct {
	JobName       string
	Status        model.RunStatus
	StartedAfter  *time.Time
	StartedBefore *time.Time
	Limit         int
	Offset        int
}

// RunResult carries the final counters of a finished run.
type RunResult struct {
	Status           model.RunStatus
	InputCount       int
	InsertedCount    int
	SkippedCount     int
	ErrorCount       int
	SkipBreakdown    map[string]int
	ErrorSummary     string
	Metadata         map[string]any
	NextScheduledFor *time.Time
}

// BatchFilter narrows ListBatches.
type BatchFilter struct {
	CompanyID int64
	Status    model.BatchStatus
	Field     string
	OpenOnly  bool
	Limit     int
	Offset    int
}

// Store is the persistence surface of the pipeline. Lookup methods return
// (nil, nil) when the row does not exist. Methods taking a db.Querier join
// the caller's transaction; everything else runs on the pool.
type Store interface {
	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
	Pool() db.Pool

	// Companies
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	GetCompanyByCorporateNumber(ctx context.Context, corporateNumber string) (*model.Company, error)
	FindCompanyByName(ctx context.Context, normalizedName, prefecture string) (*model.Company, error)
	ListCompaniesMissingCorporateNumber(ctx context.Context, ids []int64, limit int) ([]model.Company, error)
	GetCompanyForUpdate(ctx context.Context, q db.Querier, id int64) (*model.Company, error)
	UpdateCompanyField(ctx context.Context, q db.Querier, id int64, field, value string) error
	UpdateCompanyEnrichment(ctx context.Context, id int64, at time.Time, source, nextRetryStrategy string) error
	ListEnrichmentTargets(ctx context.Context, cooldown time.Duration, now time.Time, ids []int64, limit int) ([]model.Company, error)
	AppendCompanyNote(ctx context.Context, id int64, note string, maxNotes int) error

	// Candidates and fetch bookkeeping
	GetSourceRecordForUpdate(ctx context.Context, q db.Querier, companyID int64, field, source string) (*model.ExternalSourceRecord, error)
	UpsertSourceRecord(ctx context.Context, q db.Querier, rec *model.ExternalSourceRecord) error
	HasBlockedCandidate(ctx context.Context, q db.Querier, companyID int64, field, valueHash string) (bool, error)
	HasPendingCandidate(ctx context.Context, q db.Querier, companyID int64, field, valueHash string) (bool, error)
	CreateCandidate(ctx context.Context, q db.Querier, c *model.UpdateCandidate) error
	GetCandidateForUpdate(ctx context.Context, q db.Querier, id int64) (*model.UpdateCandidate, error)
	FinalizeCandidate(ctx context.Context, q db.Querier, c *model.UpdateCandidate) error

	// Review batches and items
	GetOpenBatchForUpdate(ctx context.Context, q db.Querier, companyID int64) (*model.ReviewBatch, error)
	GetBatchForUpdate(ctx context.Context, q db.Querier, id int64) (*model.ReviewBatch, error)
	CreateBatch(ctx context.Context, q db.Querier, companyID int64) (*model.ReviewBatch, error)
	TouchBatch(ctx context.Context, q db.Querier, batchID int64, status model.BatchStatus) error
	CreateReviewItem(ctx context.Context, q db.Querier, item *model.ReviewItem) error
	GetBatch(ctx context.Context, id int64) (*model.ReviewBatch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.ReviewBatch, error)
	ListBatchItems(ctx context.Context, batchID int64) ([]model.ReviewItem, error)
	GetReviewItemForUpdate(ctx context.Context, q db.Querier, id int64) (*model.ReviewItem, error)
	UpdateReviewItemDecision(ctx context.Context, q db.Querier, item *model.ReviewItem) error
	CountItemDecisions(ctx context.Context, q db.Querier, batchID int64) (map[model.ItemDecision]int, error)
	InsertHistory(ctx context.Context, q db.Querier, h *model.UpdateHistory) error

	// Run ledger
	CreateRun(ctx context.Context, jobName string, sources []string, metadata map[string]any) (*model.Run, error)
	GetRun(ctx context.Context, id int64) (*model.Run, error)
	GetRunByUUID(ctx context.Context, executionUUID string) (*model.Run, error)
	HasActiveRun(ctx context.Context, jobName string) (bool, error)
	MarkRunRunning(ctx context.Context, executionUUID string, startedAt time.Time) error
	CompleteRun(ctx context.Context, executionUUID string, finishedAt time.Time, result RunResult) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	UpsertJobDefinitions(ctx context.Context, defs []model.JobDefinition) error
	ListJobDefinitions(ctx context.Context) ([]model.JobDefinition, error)

	// Projects and snapshots
	GetProjectForUpdate(ctx context.Context, q db.Querier, id int64) (*model.Project, error)
	ListProjectCompanies(ctx context.Context, q db.Querier, projectID int64) ([]model.ProjectCompany, error)
	CreateSnapshot(ctx context.Context, q db.Querier, s *model.ProjectSnapshot) error
	GetSnapshot(ctx context.Context, id int64) (*model.ProjectSnapshot, error)
	LatestSnapshot(ctx context.Context, projectID int64) (*model.ProjectSnapshot, error)
	ListSnapshots(ctx context.Context, projectID int64, limit int) ([]model.ProjectSnapshot, error)
	RestoreProject(ctx context.Context, q db.Querier, projectID int64, data model.SnapshotData) error
}
