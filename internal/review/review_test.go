package review

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saleslist-enrich/internal/clock"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/store"
)

func newReviewer(t *testing.T) (*Reviewer, pgxmock.PgxPoolIface, *clock.Fixed) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	clk := clock.NewFixed(time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC))
	return New(store.NewPostgresFromPool(mock), clk), mock, clk
}

func expectBatchLock(mock pgxmock.PgxPoolIface, id, companyID int64, status string) {
	mock.ExpectQuery(`(?s)SELECT .+ FROM review_batches WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(mock.NewRows([]string{"id", "company_id", "status", "assigned_to", "created_at", "updated_at"}).
			AddRow(id, companyID, status, "", time.Now(), time.Now()))
}

func expectItemLock(mock pgxmock.PgxPoolIface, id, batchID, candidateID int64, field, current, candidate string) {
	mock.ExpectQuery(`(?s)SELECT .+ FROM review_items WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(mock.NewRows([]string{
			"id", "batch_id", "candidate_id", "field", "current_value", "candidate_value",
			"confidence", "decision", "comment", "decided_by", "decided_at", "created_at",
		}).AddRow(
			id, batchID, candidateID, field, current, candidate,
			85, "pending", "", "", (*time.Time)(nil), time.Now(),
		))
}

func expectCandidateLock(mock pgxmock.PgxPoolIface, id, companyID int64, field, value string) {
	mock.ExpectQuery(`(?s)SELECT .+ FROM update_candidates WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(mock.NewRows([]string{
			"id", "company_id", "field", "candidate_value", "value_hash", "source_kind",
			"source_detail", "confidence", "status", "collected_at", "merged_at", "rejected_at",
			"rejection_reason_code", "rejection_reason_detail", "block_reproposal",
			"source_company_name", "source_corporate_number", "metadata",
		}).AddRow(
			id, companyID, field, value, model.ValueHash(field, value), "AI",
			"powerplexy", 85, "pending", time.Now(), (*time.Time)(nil), (*time.Time)(nil),
			"none", "", false, "", "", []byte(nil),
		))
}

func expectCompanyLock(mock pgxmock.PgxPoolIface, id int64) {
	now := time.Now()
	mock.ExpectQuery(`(?s)SELECT .+ FROM companies WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(mock.NewRows([]string{
			"id", "corporate_number", "name", "industry", "contact_person_name",
			"contact_person_position", "prefecture", "city", "capital", "employee_count",
			"revenue", "established_year", "website_url", "phone", "email",
			"business_description", "notes", "ai_last_enriched_at", "ai_last_enriched_source",
			"next_retry_strategy", "created_at", "updated_at",
		}).AddRow(
			id, "", "株式会社テスト", "", "", "", "東京都", "", (*int64)(nil), (*int64)(nil),
			(*int64)(nil), (*int64)(nil), "", "", "", "", "", (*time.Time)(nil), "", "", now, now,
		))
}

func expectDecisionCounts(mock pgxmock.PgxPoolIface, batchID int64, rows map[string]int) {
	r := mock.NewRows([]string{"decision", "count"})
	for decision, n := range rows {
		r.AddRow(decision, n)
	}
	mock.ExpectQuery(`SELECT decision, COUNT\(\*\) FROM review_items`).
		WithArgs(batchID).
		WillReturnRows(r)
}

func TestDecideApprove(t *testing.T) {
	r, mock, _ := newReviewer(t)

	mock.ExpectBegin()
	expectBatchLock(mock, 4, 1, "pending")
	expectItemLock(mock, 30, 4, 10, model.FieldCapital, "", "6500000")
	expectCandidateLock(mock, 10, 1, model.FieldCapital, "6500000")
	expectCompanyLock(mock, 1)
	mock.ExpectExec(`UPDATE companies SET capital`).
		WithArgs(int64(6500000), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO update_history`).
		WithArgs(int64(1), model.FieldCapital, "", "6500000", "AI", "reviewer@example.com", "").
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))
	mock.ExpectExec(`UPDATE update_candidates`).
		WithArgs("merged", pgxmock.AnyArg(), (*time.Time)(nil), "none", "", false,
			"6500000", model.ValueHash(model.FieldCapital, "6500000"), int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE review_items`).
		WithArgs("approved", "", "reviewer@example.com", pgxmock.AnyArg(), "6500000", int64(30)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectDecisionCounts(mock, 4, map[string]int{"approved": 1})
	mock.ExpectExec(`UPDATE review_batches`).
		WithArgs("approved", int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := r.Decide(context.Background(), DecideRequest{
		BatchID:   4,
		DecidedBy: "reviewer@example.com",
		Items:     []ItemRequest{{ItemID: 30, Decision: Approve}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.BatchApproved, res.Batch.Status)
	assert.Equal(t, 1, res.Decided)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideUpdateNormalizesNewValue(t *testing.T) {
	r, mock, _ := newReviewer(t)

	mock.ExpectBegin()
	expectBatchLock(mock, 4, 1, "in_review")
	expectItemLock(mock, 30, 4, 10, model.FieldCapital, "", "6000000")
	expectCandidateLock(mock, 10, 1, model.FieldCapital, "6000000")
	expectCompanyLock(mock, 1)
	// 650万円 is normalized to digits before writing.
	mock.ExpectExec(`UPDATE companies SET capital`).
		WithArgs(int64(6500000), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO update_history`).
		WithArgs(int64(1), model.FieldCapital, "", "6500000", "AI", "reviewer@example.com", "").
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))
	mock.ExpectExec(`UPDATE update_candidates`).
		WithArgs("merged", pgxmock.AnyArg(), (*time.Time)(nil), "none", "", false,
			"6500000", model.ValueHash(model.FieldCapital, "6500000"), int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE review_items`).
		WithArgs("updated", "", "reviewer@example.com", pgxmock.AnyArg(), "6500000", int64(30)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectDecisionCounts(mock, 4, map[string]int{"updated": 1, "pending": 2})
	mock.ExpectExec(`UPDATE review_batches`).
		WithArgs("in_review", int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := r.Decide(context.Background(), DecideRequest{
		BatchID:   4,
		DecidedBy: "reviewer@example.com",
		Items:     []ItemRequest{{ItemID: 30, Decision: Update, NewValue: "650万円"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.BatchInReview, res.Batch.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideUpdateRejectsEmptyNewValue(t *testing.T) {
	r, mock, _ := newReviewer(t)

	mock.ExpectBegin()
	expectBatchLock(mock, 4, 1, "pending")
	expectItemLock(mock, 30, 4, 10, model.FieldCapital, "", "6000000")
	expectCandidateLock(mock, 10, 1, model.FieldCapital, "6000000")
	mock.ExpectRollback()

	_, err := r.Decide(context.Background(), DecideRequest{
		BatchID:   4,
		DecidedBy: "reviewer@example.com",
		Items:     []ItemRequest{{ItemID: 30, Decision: Update, NewValue: "未公開"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyNewValue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideRejectWithBlockDefaultsReason(t *testing.T) {
	r, mock, _ := newReviewer(t)

	mock.ExpectBegin()
	expectBatchLock(mock, 4, 1, "pending")
	expectItemLock(mock, 30, 4, 10, model.FieldPhone, "", "0312345678")
	expectCandidateLock(mock, 10, 1, model.FieldPhone, "0312345678")
	mock.ExpectExec(`UPDATE update_candidates`).
		WithArgs("rejected", (*time.Time)(nil), pgxmock.AnyArg(),
			"mismatch_company", "", true, "0312345678",
			model.ValueHash(model.FieldPhone, "0312345678"), int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE review_items`).
		WithArgs("rejected", "", "reviewer@example.com", pgxmock.AnyArg(), "0312345678", int64(30)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectDecisionCounts(mock, 4, map[string]int{"rejected": 1})
	mock.ExpectExec(`UPDATE review_batches`).
		WithArgs("rejected", int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := r.Decide(context.Background(), DecideRequest{
		BatchID:   4,
		DecidedBy: "reviewer@example.com",
		Items:     []ItemRequest{{ItemID: 30, Decision: Reject, BlockReproposal: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.BatchRejected, res.Batch.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideClosedBatch(t *testing.T) {
	r, mock, _ := newReviewer(t)

	mock.ExpectBegin()
	expectBatchLock(mock, 4, 1, "approved")
	mock.ExpectRollback()

	_, err := r.Decide(context.Background(), DecideRequest{
		BatchID: 4,
		Items:   []ItemRequest{{ItemID: 30, Decision: Approve}},
	})
	assert.ErrorIs(t, err, ErrBatchClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideUnknownDecision(t *testing.T) {
	r, mock, _ := newReviewer(t)

	mock.ExpectBegin()
	expectBatchLock(mock, 4, 1, "pending")
	expectItemLock(mock, 30, 4, 10, model.FieldPhone, "", "0312345678")
	expectCandidateLock(mock, 10, 1, model.FieldPhone, "0312345678")
	mock.ExpectRollback()

	_, err := r.Decide(context.Background(), DecideRequest{
		BatchID: 4,
		Items:   []ItemRequest{{ItemID: 30, Decision: "maybe"}},
	})
	assert.ErrorIs(t, err, ErrUnknownDecision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideNoItems(t *testing.T) {
	r, _, _ := newReviewer(t)

	_, err := r.Decide(context.Background(), DecideRequest{BatchID: 4})
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestBatchStatusFromCounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		counts map[model.ItemDecision]int
		want   model.BatchStatus
	}{
		{"pending remain", map[model.ItemDecision]int{model.DecisionPending: 1, model.DecisionApproved: 2}, model.BatchInReview},
		{"all approved", map[model.ItemDecision]int{model.DecisionApproved: 3}, model.BatchApproved},
		{"approved and updated", map[model.ItemDecision]int{model.DecisionApproved: 1, model.DecisionUpdated: 1}, model.BatchApproved},
		{"all rejected", map[model.ItemDecision]int{model.DecisionRejected: 2}, model.BatchRejected},
		{"mixed", map[model.ItemDecision]int{model.DecisionApproved: 1, model.DecisionRejected: 1}, model.BatchPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, batchStatusFromCounts(tt.counts))
		})
	}
}
