package ingest

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

func newGate(t *testing.T) (*Ingestor, pgxmock.PgxPoolIface, *clock.Fixed) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	clk := clock.NewFixed(time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC))
	st := store.NewPostgresFromPool(mock)
	return New(st, clk, 30*24*time.Hour), mock, clk
}

func expectCompanyLock(mock pgxmock.PgxPoolIface, id int64, capital *int64) {
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
			id, "", "株式会社テスト", "", "", "", "東京都", "", capital, (*int64)(nil),
			(*int64)(nil), (*int64)(nil), "", "", "", "", "", (*time.Time)(nil), "", "", now, now,
		))
}

func expectNotBlocked(mock pgxmock.PgxPoolIface, id int64, field, hash string) {
	mock.ExpectQuery(`(?s)SELECT EXISTS .+ block_reproposal`).
		WithArgs(id, field, hash).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))
}

func expectNoSourceRecord(mock pgxmock.PgxPoolIface, id int64, field, source string) {
	mock.ExpectQuery(`(?s)SELECT .+ FROM external_source_records`).
		WithArgs(id, field, source).
		WillReturnRows(mock.NewRows([]string{"id"}))
}

func expectSourceRecordUpsert(mock pgxmock.PgxPoolIface, id int64, field, source, hash string) {
	mock.ExpectQuery(`INSERT INTO external_source_records`).
		WithArgs(id, field, source, pgxmock.AnyArg(), hash, pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(1)))
}

func TestIngestCreatesCandidateAndBatch(t *testing.T) {
	g, mock, _ := newGate(t)
	hash := model.ValueHash(model.FieldCapital, "6500000")

	mock.ExpectBegin()
	expectCompanyLock(mock, 1, nil)
	expectNotBlocked(mock, 1, model.FieldCapital, hash)
	expectNoSourceRecord(mock, 1, model.FieldCapital, "nta-api")
	// No pending candidate for this value.
	mock.ExpectQuery(`(?s)SELECT EXISTS .+ status = 'pending'`).
		WithArgs(int64(1), model.FieldCapital, hash).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO update_candidates`).
		WithArgs(int64(1), model.FieldCapital, "6500000", hash, "RULE", "",
			100, "pending", pgxmock.AnyArg(), "", "", pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(10)))
	// No open batch yet; one is created.
	mock.ExpectQuery(`(?s)SELECT .+ FROM review_batches .+ FOR UPDATE`).
		WithArgs(int64(1)).
		WillReturnRows(mock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO review_batches`).
		WithArgs(int64(1)).
		WillReturnRows(mock.NewRows([]string{"id", "company_id", "status", "assigned_to", "created_at", "updated_at"}).
			AddRow(int64(20), int64(1), "pending", "", time.Now(), time.Now()))
	mock.ExpectQuery(`INSERT INTO review_items`).
		WithArgs(int64(20), int64(10), model.FieldCapital, "", "6500000", 100).
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(30), time.Now()))
	mock.ExpectExec(`UPDATE review_batches`).
		WithArgs("pending", int64(20)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectSourceRecordUpsert(mock, 1, model.FieldCapital, "nta-api", hash)
	mock.ExpectCommit()

	outcome, err := g.Ingest(context.Background(), Entry{
		CompanyID:  1,
		Field:      model.FieldCapital,
		Value:      "650万円",
		SourceKind: model.SourceRule,
		Source:     "nta-api",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestSkipsUnknownField(t *testing.T) {
	g, mock, _ := newGate(t)

	outcome, err := g.Ingest(context.Background(), Entry{CompanyID: 1, Field: "nope", Value: "x"})
	require.NoError(t, err)
	assert.Equal(t, SkipUnknownField, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An unusable value leaves the fetch record alone: the stored hash keeps
// guarding the cooldown for the next valid sighting.
func TestIngestDropsInvalidValueWithoutTouchingRecord(t *testing.T) {
	g, mock, _ := newGate(t)

	mock.ExpectBegin()
	expectCompanyLock(mock, 1, nil)
	mock.ExpectCommit()

	outcome, err := g.Ingest(context.Background(), Entry{
		CompanyID:  1,
		Field:      model.FieldCapital,
		Value:      "未公開",
		SourceKind: model.SourceRule,
	})
	require.NoError(t, err)
	assert.Equal(t, SkipInvalidValue, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestSkipsBlockedValue(t *testing.T) {
	g, mock, _ := newGate(t)
	hash := model.ValueHash(model.FieldCapital, "6500000")

	mock.ExpectBegin()
	expectCompanyLock(mock, 1, nil)
	mock.ExpectQuery(`(?s)SELECT EXISTS .+ block_reproposal`).
		WithArgs(int64(1), model.FieldCapital, hash).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))
	expectSourceRecordUpsert(mock, 1, model.FieldCapital, "rule-based", hash)
	mock.ExpectCommit()

	outcome, err := g.Ingest(context.Background(), Entry{
		CompanyID:  1,
		Field:      model.FieldCapital,
		Value:      "6500000",
		SourceKind: model.SourceAI,
	})
	require.NoError(t, err)
	assert.Equal(t, SkipBlocked, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestSkipsSameAsCurrent(t *testing.T) {
	g, mock, _ := newGate(t)
	hash := model.ValueHash(model.FieldCapital, "6500000")

	capital := int64(6500000)
	mock.ExpectBegin()
	expectCompanyLock(mock, 1, &capital)
	expectNotBlocked(mock, 1, model.FieldCapital, hash)
	expectSourceRecordUpsert(mock, 1, model.FieldCapital, "rule-based", hash)
	mock.ExpectCommit()

	// A different notation of the value already on the company.
	outcome, err := g.Ingest(context.Background(), Entry{
		CompanyID:  1,
		Field:      model.FieldCapital,
		Value:      "650万円",
		SourceKind: model.SourceRule,
	})
	require.NoError(t, err)
	assert.Equal(t, SkipSameAsCurrent, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestSkipsCooldownOnSameContent(t *testing.T) {
	g, mock, clk := newGate(t)
	hash := model.ValueHash(model.FieldCapital, "6500000")

	mock.ExpectBegin()
	expectCompanyLock(mock, 1, nil)
	expectNotBlocked(mock, 1, model.FieldCapital, hash)
	mock.ExpectQuery(`(?s)SELECT .+ FROM external_source_records`).
		WithArgs(int64(1), model.FieldCapital, "nta-api").
		WillReturnRows(mock.NewRows([]string{"id", "company_id", "field", "source", "last_fetched_at", "content_hash", "metadata"}).
			AddRow(int64(3), int64(1), "capital", "nta-api", clk.Now().Add(-24*time.Hour), hash, []byte(nil)))
	expectSourceRecordUpsert(mock, 1, model.FieldCapital, "nta-api", hash)
	mock.ExpectCommit()

	outcome, err := g.Ingest(context.Background(), Entry{
		CompanyID:  1,
		Field:      model.FieldCapital,
		Value:      "6500000",
		SourceKind: model.SourceRule,
		Source:     "nta-api",
	})
	require.NoError(t, err)
	assert.Equal(t, SkipCooldown, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A per-entry cooldown window overrides the gate-wide one: a record from
// two days ago no longer suppresses an entry carrying a one-day window.
func TestIngestEntryCooldownOverride(t *testing.T) {
	g, mock, clk := newGate(t)
	hash := model.ValueHash(model.FieldCapital, "6500000")

	mock.ExpectBegin()
	expectCompanyLock(mock, 1, nil)
	expectNotBlocked(mock, 1, model.FieldCapital, hash)
	mock.ExpectQuery(`(?s)SELECT .+ FROM external_source_records`).
		WithArgs(int64(1), model.FieldCapital, "nta-api").
		WillReturnRows(mock.NewRows([]string{"id", "company_id", "field", "source", "last_fetched_at", "content_hash", "metadata"}).
			AddRow(int64(3), int64(1), "capital", "nta-api", clk.Now().Add(-48*time.Hour), hash, []byte(nil)))
	mock.ExpectQuery(`(?s)SELECT EXISTS .+ status = 'pending'`).
		WithArgs(int64(1), model.FieldCapital, hash).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO update_candidates`).
		WithArgs(int64(1), model.FieldCapital, "6500000", hash, "RULE", "",
			100, "pending", pgxmock.AnyArg(), "", "", pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectQuery(`(?s)SELECT .+ FROM review_batches .+ FOR UPDATE`).
		WithArgs(int64(1)).
		WillReturnRows(mock.NewRows([]string{"id", "company_id", "status", "assigned_to", "created_at", "updated_at"}).
			AddRow(int64(20), int64(1), "pending", "", time.Now(), time.Now()))
	mock.ExpectQuery(`INSERT INTO review_items`).
		WithArgs(int64(20), int64(10), model.FieldCapital, "", "6500000", 100).
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(30), time.Now()))
	mock.ExpectExec(`UPDATE review_batches`).
		WithArgs("pending", int64(20)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectSourceRecordUpsert(mock, 1, model.FieldCapital, "nta-api", hash)
	mock.ExpectCommit()

	outcome, err := g.Ingest(context.Background(), Entry{
		CompanyID:    1,
		Field:        model.FieldCapital,
		Value:        "6500000",
		SourceKind:   model.SourceRule,
		Source:       "nta-api",
		CooldownDays: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Only a pending candidate for the SAME value is a duplicate.
func TestIngestSuppressesOpenDuplicateSameValue(t *testing.T) {
	g, mock, _ := newGate(t)
	hash := model.ValueHash(model.FieldCapital, "6500000")

	mock.ExpectBegin()
	expectCompanyLock(mock, 1, nil)
	expectNotBlocked(mock, 1, model.FieldCapital, hash)
	expectNoSourceRecord(mock, 1, model.FieldCapital, "rule-based")
	mock.ExpectQuery(`(?s)SELECT EXISTS .+ status = 'pending'`).
		WithArgs(int64(1), model.FieldCapital, hash).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))
	expectSourceRecordUpsert(mock, 1, model.FieldCapital, "rule-based", hash)
	mock.ExpectCommit()

	outcome, err := g.Ingest(context.Background(), Entry{
		CompanyID:  1,
		Field:      model.FieldCapital,
		Value:      "6500000",
		SourceKind: model.SourceAI,
	})
	require.NoError(t, err)
	assert.Equal(t, SkipOpenDuplicate, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A new value for the field gets its own candidate even while another
// value sits in review: the duplicate check keys on the value hash.
func TestIngestNewValueBypassesOpenDuplicate(t *testing.T) {
	g, mock, _ := newGate(t)
	hash := model.ValueHash(model.FieldCapital, "7000000")

	mock.ExpectBegin()
	expectCompanyLock(mock, 1, nil)
	expectNotBlocked(mock, 1, model.FieldCapital, hash)
	expectNoSourceRecord(mock, 1, model.FieldCapital, "rule-based")
	// A pending candidate for "6500000" exists, but not for this hash.
	mock.ExpectQuery(`(?s)SELECT EXISTS .+ status = 'pending'`).
		WithArgs(int64(1), model.FieldCapital, hash).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO update_candidates`).
		WithArgs(int64(1), model.FieldCapital, "7000000", hash, "AI", "",
			85, "pending", pgxmock.AnyArg(), "", "", pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery(`(?s)SELECT .+ FROM review_batches .+ FOR UPDATE`).
		WithArgs(int64(1)).
		WillReturnRows(mock.NewRows([]string{"id", "company_id", "status", "assigned_to", "created_at", "updated_at"}).
			AddRow(int64(20), int64(1), "pending", "", time.Now(), time.Now()))
	mock.ExpectQuery(`INSERT INTO review_items`).
		WithArgs(int64(20), int64(11), model.FieldCapital, "", "7000000", 85).
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(31), time.Now()))
	mock.ExpectExec(`UPDATE review_batches`).
		WithArgs("pending", int64(20)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectSourceRecordUpsert(mock, 1, model.FieldCapital, "rule-based", hash)
	mock.ExpectCommit()

	outcome, err := g.Ingest(context.Background(), Entry{
		CompanyID:  1,
		Field:      model.FieldCapital,
		Value:      "7000000",
		SourceKind: model.SourceAI,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntrySourceFallback(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "nta-api", Entry{Source: "nta-api", SourceDetail: "x"}.source())
	assert.Equal(t, "seq-1", Entry{SourceDetail: "seq-1"}.source())
	assert.Equal(t, "rule-based", Entry{}.source())
}
