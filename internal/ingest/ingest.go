// Package ingest is the single gate through which collected values enter
// the review pipeline. Collectors never write company fields; they submit
// entries here, and the gate decides whether a review candidate is born.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/clock"
	"github.com/sells-group/saleslist-enrich/internal/db"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/normalize"
	"github.com/sells-group/saleslist-enrich/internal/store"
)

// Entry is one proposed value arriving from a collector.
type Entry struct {
	CompanyID             int64
	Field                 string
	Value                 string
	SourceKind            model.SourceKind
	Source                string
	SourceDetail          string
	Confidence            int
	SourceCompanyName     string
	SourceCorporateNumber string
	Metadata              map[string]any

	// CooldownDays overrides the gate-wide cooldown window for this
	// entry when positive.
	CooldownDays int
}

// source resolves the fetch-record source name with its fallback chain.
func (e Entry) source() string {
	if e.Source != "" {
		return e.Source
	}
	if e.SourceDetail != "" {
		return e.SourceDetail
	}
	return "rule-based"
}

// Outcome says what the gate did with an entry.
type Outcome string

const (
	OutcomeCreated      Outcome = "created"
	SkipInvalidValue    Outcome = "invalid_value"
	SkipUnknownField    Outcome = "unknown_field"
	SkipCompanyNotFound Outcome = "company_not_found"
	SkipBlocked         Outcome = "blocked"
	SkipSameAsCurrent   Outcome = "same_as_current"
	SkipCooldown        Outcome = "cooldown"
	SkipOpenDuplicate   Outcome = "open_duplicate"
)

// Created reports whether the entry became a candidate.
func (o Outcome) Created() bool { return o == OutcomeCreated }

// Default item confidences per source kind.
const (
	confidenceAI   = 85
	confidenceRule = 100
)

// Ingestor runs entries through the suppression gate inside a single
// transaction per entry, with the company row locked throughout.
type Ingestor struct {
	store    store.Store
	clk      clock.Clock
	cooldown time.Duration
}

func New(st store.Store, clk clock.Clock, cooldown time.Duration) *Ingestor {
	return &Ingestor{store: st, clk: clk, cooldown: cooldown}
}

// Ingest pushes one entry through the gate. Suppressed entries still
// refresh the fetch record, so cooldown windows track the latest sighting.
func (g *Ingestor) Ingest(ctx context.Context, e Entry) (Outcome, error) {
	if !model.IsCandidateField(e.Field) {
		return SkipUnknownField, nil
	}

	tx, err := g.store.Pool().Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "ingest: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	outcome, err := g.ingestInTx(ctx, tx, e)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "ingest: commit")
	}

	if outcome.Created() {
		zap.L().Debug("candidate created",
			zap.Int64("company_id", e.CompanyID),
			zap.String("field", e.Field),
			zap.String("source", e.source()),
		)
	}
	return outcome, nil
}

func (g *Ingestor) ingestInTx(ctx context.Context, q db.Querier, e Entry) (Outcome, error) {
	now := g.clk.Now()

	company, err := g.store.GetCompanyForUpdate(ctx, q, e.CompanyID)
	if err != nil {
		return "", err
	}
	if company == nil {
		return SkipCompanyNotFound, nil
	}

	// An unusable value is dropped outright; touching the fetch record
	// here would clobber the stored hash and defeat the cooldown check
	// for the next valid sighting.
	normalized := normalize.Value(e.Field, e.Value)
	if normalized == "" {
		return SkipInvalidValue, nil
	}
	hash := model.ValueHash(e.Field, normalized)

	blocked, err := g.store.HasBlockedCandidate(ctx, q, e.CompanyID, e.Field, hash)
	if err != nil {
		return "", err
	}
	if blocked {
		return g.suppress(ctx, q, e, now, hash, SkipBlocked)
	}

	if current, ok := company.FieldValue(e.Field); ok && current != "" && current == normalized {
		return g.suppress(ctx, q, e, now, hash, SkipSameAsCurrent)
	}

	rec, err := g.store.GetSourceRecordForUpdate(ctx, q, e.CompanyID, e.Field, e.source())
	if err != nil {
		return "", err
	}
	cooldown := g.cooldown
	if e.CooldownDays > 0 {
		cooldown = time.Duration(e.CooldownDays) * 24 * time.Hour
	}
	if rec != nil && cooldown > 0 && now.Sub(rec.LastFetchedAt) < cooldown && rec.ContentHash == hash {
		return g.suppress(ctx, q, e, now, hash, SkipCooldown)
	}

	pending, err := g.store.HasPendingCandidate(ctx, q, e.CompanyID, e.Field, hash)
	if err != nil {
		return "", err
	}
	if pending {
		return g.suppress(ctx, q, e, now, hash, SkipOpenDuplicate)
	}

	confidence := e.Confidence
	if confidence == 0 {
		if e.SourceKind == model.SourceAI {
			confidence = confidenceAI
		} else {
			confidence = confidenceRule
		}
	}

	candidate := &model.UpdateCandidate{
		CompanyID:             e.CompanyID,
		Field:                 e.Field,
		CandidateValue:        normalized,
		ValueHash:             hash,
		SourceKind:            e.SourceKind,
		SourceDetail:          e.SourceDetail,
		Confidence:            confidence,
		Status:                model.CandidatePending,
		CollectedAt:           now,
		SourceCompanyName:     e.SourceCompanyName,
		SourceCorporateNumber: e.SourceCorporateNumber,
		Metadata:              e.Metadata,
	}
	if err := g.store.CreateCandidate(ctx, q, candidate); err != nil {
		return "", err
	}

	batch, err := g.store.GetOpenBatchForUpdate(ctx, q, e.CompanyID)
	if err != nil {
		return "", err
	}
	if batch == nil {
		if batch, err = g.store.CreateBatch(ctx, q, e.CompanyID); err != nil {
			return "", err
		}
	}

	currentValue, _ := company.FieldValue(e.Field)
	item := &model.ReviewItem{
		BatchID:        batch.ID,
		CandidateID:    candidate.ID,
		Field:          e.Field,
		CurrentValue:   currentValue,
		CandidateValue: normalized,
		Confidence:     confidence,
	}
	if err := g.store.CreateReviewItem(ctx, q, item); err != nil {
		return "", err
	}
	if err := g.store.TouchBatch(ctx, q, batch.ID, batch.Status); err != nil {
		return "", err
	}

	if err := g.touchSourceRecord(ctx, q, e, now, hash); err != nil {
		return "", err
	}
	return OutcomeCreated, nil
}

// suppress records the sighting without creating a candidate.
func (g *Ingestor) suppress(ctx context.Context, q db.Querier, e Entry, now time.Time, hash string, outcome Outcome) (Outcome, error) {
	if err := g.touchSourceRecord(ctx, q, e, now, hash); err != nil {
		return "", err
	}
	return outcome, nil
}

func (g *Ingestor) touchSourceRecord(ctx context.Context, q db.Querier, e Entry, now time.Time, hash string) error {
	return g.store.UpsertSourceRecord(ctx, q, &model.ExternalSourceRecord{
		CompanyID:     e.CompanyID,
		Field:         e.Field,
		Source:        e.source(),
		LastFetchedAt: now,
		ContentHash:   hash,
		Metadata:      e.Metadata,
	})
}
