package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist-enrich/internal/db"
	"github.com/sells-group/saleslist-enrich/internal/model"
)

const batchColumns = `id, company_id, status, assigned_to, created_at, updated_at`

func scanBatch(row pgx.Row) (*model.ReviewBatch, error) {
	var b model.ReviewBatch
	err := row.Scan(&b.ID, &b.CompanyID, &b.Status, &b.AssignedTo, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetOpenBatchForUpdate locks the company's open batch, if any.
func (s *PostgresStore) GetOpenBatchForUpdate(ctx context.Context, q db.Querier, companyID int64) (*model.ReviewBatch, error) {
	b, err := scanBatch(q.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM review_batches
		 WHERE company_id = $1 AND status IN ('pending', 'in_review')
		 FOR UPDATE`,
		companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get open batch")
	}
	return b, nil
}

// GetBatchForUpdate locks a batch by id for the decide transaction.
func (s *PostgresStore) GetBatchForUpdate(ctx context.Context, q db.Querier, id int64) (*model.ReviewBatch, error) {
	b, err := scanBatch(q.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM review_batches WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get batch %d", id)
	}
	return b, nil
}

func (s *PostgresStore) CreateBatch(ctx context.Context, q db.Querier, companyID int64) (*model.ReviewBatch, error) {
	b, err := scanBatch(q.QueryRow(ctx,
		`INSERT INTO review_batches (company_id, status)
		 VALUES ($1, 'pending')
		 RETURNING `+batchColumns,
		companyID))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create batch")
	}
	return b, nil
}

func (s *PostgresStore) TouchBatch(ctx context.Context, q db.Querier, batchID int64, status model.BatchStatus) error {
	tag, err := q.Exec(ctx,
		`UPDATE review_batches SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch batch %d", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch not found: %d", batchID)
	}
	return nil
}

func (s *PostgresStore) CreateReviewItem(ctx context.Context, q db.Querier, item *model.ReviewItem) error {
	err := q.QueryRow(ctx,
		`INSERT INTO review_items
		 (batch_id, candidate_id, field, current_value, candidate_value, confidence, decision)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		 RETURNING id, created_at`,
		item.BatchID, item.CandidateID, item.Field, item.CurrentValue,
		item.CandidateValue, item.Confidence,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "postgres: create review item")
	}
	item.Decision = model.DecisionPending
	return nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, id int64) (*model.ReviewBatch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM review_batches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get batch %d", id)
	}
	return b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.ReviewBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM review_batches WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CompanyID > 0 {
		query += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, filter.CompanyID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.OpenOnly {
		query += ` AND status IN ('pending', 'in_review')`
	}
	if filter.Field != "" {
		query += fmt.Sprintf(` AND EXISTS (
		   SELECT 1 FROM review_items ri
		   WHERE ri.batch_id = review_batches.id AND ri.field = $%d
		 )`, argIdx)
		args = append(args, filter.Field)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var batches []model.ReviewBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

const itemColumns = `id, batch_id, candidate_id, field, current_value, candidate_value,
	confidence, decision, comment, decided_by, decided_at, created_at`

func scanItem(row pgx.Row) (*model.ReviewItem, error) {
	var it model.ReviewItem
	err := row.Scan(&it.ID, &it.BatchID, &it.CandidateID, &it.Field,
		&it.CurrentValue, &it.CandidateValue, &it.Confidence, &it.Decision,
		&it.Comment, &it.DecidedBy, &it.DecidedAt, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *PostgresStore) ListBatchItems(ctx context.Context, batchID int64) ([]model.ReviewItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM review_items WHERE batch_id = $1 ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batch items")
	}
	defer rows.Close()

	var items []model.ReviewItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan review item")
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list batch items iterate")
}

func (s *PostgresStore) GetReviewItemForUpdate(ctx context.Context, q db.Querier, id int64) (*model.ReviewItem, error) {
	it, err := scanItem(q.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM review_items WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get review item %d", id)
	}
	return it, nil
}

func (s *PostgresStore) UpdateReviewItemDecision(ctx context.Context, q db.Querier, item *model.ReviewItem) error {
	tag, err := q.Exec(ctx,
		`UPDATE review_items SET
		   decision = $1, comment = $2, decided_by = $3, decided_at = $4,
		   candidate_value = $5
		 WHERE id = $6`,
		string(item.Decision), item.Comment, item.DecidedBy, item.DecidedAt,
		item.CandidateValue, item.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update review item %d", item.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("review_item not found: %d", item.ID)
	}
	return nil
}

// CountItemDecisions tallies the batch's items per decision, used to
// recompute the batch status after each decision.
func (s *PostgresStore) CountItemDecisions(ctx context.Context, q db.Querier, batchID int64) (map[model.ItemDecision]int, error) {
	rows, err := q.Query(ctx,
		`SELECT decision, COUNT(*) FROM review_items WHERE batch_id = $1 GROUP BY decision`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count item decisions")
	}
	defer rows.Close()

	counts := make(map[model.ItemDecision]int)
	for rows.Next() {
		var decision string
		var n int
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision count")
		}
		counts[model.ItemDecision(decision)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count item decisions iterate")
}

func (s *PostgresStore) InsertHistory(ctx context.Context, q db.Querier, h *model.UpdateHistory) error {
	err := q.QueryRow(ctx,
		`INSERT INTO update_history
		 (company_id, field, old_value, new_value, source_kind, approved_by, comment)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		h.CompanyID, h.Field, h.OldValue, h.NewValue, string(h.SourceKind),
		h.ApprovedBy, h.Comment,
	).Scan(&h.ID, &h.CreatedAt)
	return eris.Wrap(err, "postgres: insert history")
}
