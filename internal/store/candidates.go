package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist-enrich/internal/db"
	"github.com/sells-group/saleslist-enrich/internal/model"
)

// GetSourceRecordForUpdate locks the fetch record for (company, field,
// source) so cooldown checks and upserts are race-free within the ingest
// transaction.
func (s *PostgresStore) GetSourceRecordForUpdate(ctx context.Context, q db.Querier, companyID int64, field, source string) (*model.ExternalSourceRecord, error) {
	var rec model.ExternalSourceRecord
	var metadata []byte
	err := q.QueryRow(ctx,
		`SELECT id, company_id, field, source, last_fetched_at, content_hash, metadata
		 FROM external_source_records
		 WHERE company_id = $1 AND field = $2 AND source = $3
		 FOR UPDATE`,
		companyID, field, source,
	).Scan(&rec.ID, &rec.CompanyID, &rec.Field, &rec.Source, &rec.LastFetchedAt, &rec.ContentHash, &metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get source record")
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal source record metadata")
		}
	}
	return &rec, nil
}

func (s *PostgresStore) UpsertSourceRecord(ctx context.Context, q db.Querier, rec *model.ExternalSourceRecord) error {
	var metadata []byte
	if rec.Metadata != nil {
		var err error
		metadata, err = json.Marshal(rec.Metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal source record metadata")
		}
	}

	err := q.QueryRow(ctx,
		`INSERT INTO external_source_records (company_id, field, source, last_fetched_at, content_hash, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (company_id, field, source) DO UPDATE SET
		   last_fetched_at = $4, content_hash = $5, metadata = $6
		 RETURNING id`,
		rec.CompanyID, rec.Field, rec.Source, rec.LastFetchedAt, rec.ContentHash, metadata,
	).Scan(&rec.ID)
	return eris.Wrap(err, "postgres: upsert source record")
}

// HasBlockedCandidate reports whether the same value was rejected before
// with re-proposal blocked.
func (s *PostgresStore) HasBlockedCandidate(ctx context.Context, q db.Querier, companyID int64, field, valueHash string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM update_candidates
		   WHERE company_id = $1 AND field = $2 AND value_hash = $3
		     AND status = 'rejected' AND block_reproposal
		 )`,
		companyID, field, valueHash,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: has blocked candidate")
}

// HasPendingCandidate reports whether an undecided candidate already exists
// for the same field value. A different value for the field is not a
// duplicate and still gets its own candidate.
func (s *PostgresStore) HasPendingCandidate(ctx context.Context, q db.Querier, companyID int64, field, valueHash string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM update_candidates
		   WHERE company_id = $1 AND field = $2 AND value_hash = $3 AND status = 'pending'
		 )`,
		companyID, field, valueHash,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: has pending candidate")
}

func (s *PostgresStore) CreateCandidate(ctx context.Context, q db.Querier, c *model.UpdateCandidate) error {
	var metadata []byte
	if c.Metadata != nil {
		var err error
		metadata, err = json.Marshal(c.Metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal candidate metadata")
		}
	}

	err := q.QueryRow(ctx,
		`INSERT INTO update_candidates
		 (company_id, field, candidate_value, value_hash, source_kind, source_detail,
		  confidence, status, collected_at, source_company_name, source_corporate_number, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		c.CompanyID, c.Field, c.CandidateValue, c.ValueHash, string(c.SourceKind),
		c.SourceDetail, c.Confidence, string(c.Status), c.CollectedAt,
		c.SourceCompanyName, c.SourceCorporateNumber, metadata,
	).Scan(&c.ID)
	return eris.Wrap(err, "postgres: create candidate")
}

func (s *PostgresStore) GetCandidateForUpdate(ctx context.Context, q db.Querier, id int64) (*model.UpdateCandidate, error) {
	var c model.UpdateCandidate
	var metadata []byte
	err := q.QueryRow(ctx,
		`SELECT id, company_id, field, candidate_value, value_hash, source_kind, source_detail,
		        confidence, status, collected_at, merged_at, rejected_at,
		        rejection_reason_code, rejection_reason_detail, block_reproposal,
		        source_company_name, source_corporate_number, metadata
		 FROM update_candidates WHERE id = $1
		 FOR UPDATE`,
		id,
	).Scan(&c.ID, &c.CompanyID, &c.Field, &c.CandidateValue, &c.ValueHash,
		&c.SourceKind, &c.SourceDetail, &c.Confidence, &c.Status, &c.CollectedAt,
		&c.MergedAt, &c.RejectedAt, &c.RejectionReasonCode, &c.RejectionReasonDetail,
		&c.BlockReproposal, &c.SourceCompanyName, &c.SourceCorporateNumber, &metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get candidate %d", id)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal candidate metadata")
		}
	}
	return &c, nil
}

// FinalizeCandidate writes the decision outcome onto a candidate.
func (s *PostgresStore) FinalizeCandidate(ctx context.Context, q db.Querier, c *model.UpdateCandidate) error {
	tag, err := q.Exec(ctx,
		`UPDATE update_candidates SET
		   status = $1, merged_at = $2, rejected_at = $3,
		   rejection_reason_code = $4, rejection_reason_detail = $5,
		   block_reproposal = $6, candidate_value = $7, value_hash = $8
		 WHERE id = $9`,
		string(c.Status), c.MergedAt, c.RejectedAt,
		string(c.RejectionReasonCode), c.RejectionReasonDetail,
		c.BlockReproposal, c.CandidateValue, c.ValueHash, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize candidate %d", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("candidate not found: %d", c.ID)
	}
	return nil
}
