package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saleslist-enrich/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func companyRow(mock pgxmock.PgxPoolIface, id int64, name string) *pgxmock.Rows {
	now := time.Now()
	return mock.NewRows([]string{
		"id", "corporate_number", "name", "industry", "contact_person_name",
		"contact_person_position", "prefecture", "city", "capital", "employee_count",
		"revenue", "established_year", "website_url", "phone", "email",
		"business_description", "notes", "ai_last_enriched_at", "ai_last_enriched_source",
		"next_retry_strategy", "created_at", "updated_at",
	}).AddRow(
		id, "1234567890123", name, "", "", "", "東京都", "", (*int64)(nil), (*int64)(nil),
		(*int64)(nil), (*int64)(nil), "", "", "", "", "", (*time.Time)(nil), "", "", now, now,
	)
}

func TestGetCompany(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM companies WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(companyRow(mock, 7, "株式会社テスト"))

	c, err := s.GetCompany(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, "株式会社テスト", c.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCompanyNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM companies WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnRows(mock.NewRows([]string{"id"}))

	c, err := s.GetCompany(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCompanyFieldNumeric(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE companies SET capital = \$1, updated_at = now\(\) WHERE id = \$2`).
		WithArgs(int64(6500000), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateCompanyField(context.Background(), mock, 3, model.FieldCapital, "6500000")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCompanyFieldRejectsUnknown(t *testing.T) {
	s, mock := newMockStore(t)

	err := s.UpdateCompanyField(context.Background(), mock, 3, "drop_table", "x")
	assert.Error(t, err)

	err = s.UpdateCompanyField(context.Background(), mock, 3, model.FieldCapital, "not a number")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasBlockedCandidate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(1), "capital", "abc123").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))

	blocked, err := s.HasBlockedCandidate(context.Background(), mock, 1, "capital", "abc123")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCandidate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO update_candidates`).
		WithArgs(int64(1), "capital", "6500000", "hash", "AI", "powerplexy",
			85, "pending", pgxmock.AnyArg(), "株式会社テスト", "", ([]byte)(nil)).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(11)))

	c := &model.UpdateCandidate{
		CompanyID:         1,
		Field:             "capital",
		CandidateValue:    "6500000",
		ValueHash:         "hash",
		SourceKind:        model.SourceAI,
		SourceDetail:      "powerplexy",
		Confidence:        85,
		Status:            model.CandidatePending,
		CollectedAt:       time.Now(),
		SourceCompanyName: "株式会社テスト",
	}
	require.NoError(t, s.CreateCandidate(context.Background(), mock, c))
	assert.Equal(t, int64(11), c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSourceRecord(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(`(?s)INSERT INTO external_source_records .+ ON CONFLICT \(company_id, field, source\) DO UPDATE`).
		WithArgs(int64(1), "capital", "nta-api", now, "hash", ([]byte)(nil)).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(5)))

	rec := &model.ExternalSourceRecord{
		CompanyID: 1, Field: "capital", Source: "nta-api",
		LastFetchedAt: now, ContentHash: "hash",
	}
	require.NoError(t, s.UpsertSourceRecord(context.Background(), mock, rec))
	assert.Equal(t, int64(5), rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunAssignsExecutionUUID(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO data_collection_runs`).
		WithArgs(pgxmock.AnyArg(), "corporate_number", []string{"nta-api"}, ([]byte)(nil)).
		WillReturnRows(runRows(mock, 1, "corporate_number", model.RunQueued, now))

	r, err := s.CreateRun(context.Background(), "corporate_number", []string{"nta-api"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunQueued, r.Status)
	assert.NotEmpty(t, r.ExecutionUUID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func runRows(mock pgxmock.PgxPoolIface, id int64, job string, status model.RunStatus, now time.Time) *pgxmock.Rows {
	return mock.NewRows([]string{
		"id", "execution_uuid", "job_name", "data_source", "status", "started_at",
		"finished_at", "duration_seconds", "input_count", "inserted_count",
		"skipped_count", "error_count", "skip_breakdown", "error_summary",
		"metadata", "next_scheduled_for", "created_at", "updated_at",
	}).AddRow(
		id, "9f1c9a1e-0000-0000-0000-000000000001", job, []string{"nta-api"},
		string(status), (*time.Time)(nil), (*time.Time)(nil), (*int)(nil),
		0, 0, 0, 0, []byte(nil), "", []byte(nil), (*time.Time)(nil), now, now,
	)
}

func TestMarkRunRunningRequiresQueued(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE data_collection_runs`).
		WithArgs(pgxmock.AnyArg(), "uuid-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkRunRunning(context.Background(), "uuid-1", time.Now())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunRejectsNonTerminalStatus(t *testing.T) {
	s, mock := newMockStore(t)

	err := s.CompleteRun(context.Background(), "uuid-1", time.Now(), RunResult{Status: model.RunRunning})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasActiveRun(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("ai_enrich").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))

	active, err := s.HasActiveRun(context.Background(), "ai_enrich")
	require.NoError(t, err)
	assert.False(t, active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsFilters(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(`(?s)SELECT .+ FROM data_collection_runs WHERE true AND job_name = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("opendata", "SUCCESS", 10).
		WillReturnRows(runRows(mock, 2, "opendata", model.RunSuccess, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{
		JobName: "opendata", Status: model.RunSuccess, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "opendata", runs[0].JobName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchBatchNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE review_batches`).
		WithArgs("in_review", int64(99)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.TouchBatch(context.Background(), mock, 99, model.BatchInReview)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountItemDecisions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT decision, COUNT\(\*\) FROM review_items`).
		WithArgs(int64(4)).
		WillReturnRows(mock.NewRows([]string{"decision", "count"}).
			AddRow("approved", 2).
			AddRow("pending", 1))

	counts, err := s.CountItemDecisions(context.Background(), mock, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.DecisionApproved])
	assert.Equal(t, 1, counts[model.DecisionPending])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestSnapshotNone(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM project_snapshots`).
		WithArgs(int64(1)).
		WillReturnRows(mock.NewRows([]string{"id"}))

	snap, err := s.LatestSnapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.NoError(t, mock.ExpectationsWereMet())
}
