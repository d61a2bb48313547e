// Package review applies human decisions to pending candidates. This is
// the only code path that mutates company fields.
package review

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

// Decision is the reviewer's verdict on one item.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
	Update  Decision = "update"
)

// ItemRequest is one item's decision inside a decide call.
type ItemRequest struct {
	ItemID                int64                 `json:"id"`
	Decision              Decision              `json:"decision"`
	NewValue              string                `json:"new_value,omitempty"`
	Comment               string                `json:"comment,omitempty"`
	BlockReproposal       bool                  `json:"block_reproposal,omitempty"`
	RejectionReasonCode   model.RejectionReason `json:"rejection_reason_code,omitempty"`
	RejectionReasonDetail string                `json:"rejection_reason_detail,omitempty"`
}

// DecideRequest decides one or more items of a single batch.
type DecideRequest struct {
	BatchID   int64         `json:"batch_id"`
	DecidedBy string        `json:"decided_by"`
	Items     []ItemRequest `json:"items"`
}

// Result reports the batch state after a decide call.
type Result struct {
	Batch   *model.ReviewBatch `json:"batch"`
	Decided int                `json:"decided"`
}

var (
	ErrBatchNotFound     = eris.New("review: batch not found")
	ErrBatchClosed       = eris.New("review: batch is closed")
	ErrItemNotFound      = eris.New("review: item not found")
	ErrItemNotInBatch    = eris.New("review: item does not belong to batch")
	ErrCandidateNotFound = eris.New("review: candidate not found")
	ErrUnknownDecision   = eris.New("review: unknown decision")
	ErrEmptyNewValue     = eris.New("review: new_value normalizes to empty")
	ErrInvalidReason     = eris.New("review: invalid rejection reason")
	ErrNoItems           = eris.New("review: no items to decide")
)

// Reviewer runs decide calls. All items of one call share a transaction
// with row locks on the batch, the items, and their candidates.
type Reviewer struct {
	store store.Store
	clk   clock.Clock
}

func New(st store.Store, clk clock.Clock) *Reviewer {
	return &Reviewer{store: st, clk: clk}
}

// Decide applies the requested decisions and recomputes the batch status
// from the resulting per-item tallies.
func (r *Reviewer) Decide(ctx context.Context, req DecideRequest) (*Result, error) {
	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}

	tx, err := r.store.Pool().Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "review: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch, err := r.store.GetBatchForUpdate(ctx, tx, req.BatchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	if !batch.Status.Open() {
		return nil, ErrBatchClosed
	}

	for _, item := range req.Items {
		if err := r.decideItem(ctx, tx, batch, req.DecidedBy, item); err != nil {
			return nil, err
		}
	}

	counts, err := r.store.CountItemDecisions(ctx, tx, batch.ID)
	if err != nil {
		return nil, err
	}
	batch.Status = batchStatusFromCounts(counts)
	if err := r.store.TouchBatch(ctx, tx, batch.ID, batch.Status); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "review: commit")
	}

	zap.L().Info("review decisions applied",
		zap.Int64("batch_id", batch.ID),
		zap.Int("items", len(req.Items)),
		zap.String("batch_status", string(batch.Status)),
	)
	return &Result{Batch: batch, Decided: len(req.Items)}, nil
}

func (r *Reviewer) decideItem(ctx context.Context, q db.Querier, batch *model.ReviewBatch, decidedBy string, req ItemRequest) error {
	item, err := r.store.GetReviewItemForUpdate(ctx, q, req.ItemID)
	if err != nil {
		return err
	}
	if item == nil {
		return eris.Wrapf(ErrItemNotFound, "item %d", req.ItemID)
	}
	if item.BatchID != batch.ID {
		return eris.Wrapf(ErrItemNotInBatch, "item %d, batch %d", item.ID, batch.ID)
	}

	candidate, err := r.store.GetCandidateForUpdate(ctx, q, item.CandidateID)
	if err != nil {
		return err
	}
	if candidate == nil {
		return eris.Wrapf(ErrCandidateNotFound, "candidate %d", item.CandidateID)
	}
	if candidate.CompanyID != batch.CompanyID {
		return eris.Errorf("review: candidate %d belongs to company %d, batch %d is for company %d",
			candidate.ID, candidate.CompanyID, batch.ID, batch.CompanyID)
	}

	now := r.clk.Now()
	switch req.Decision {
	case Approve:
		item.Decision = model.DecisionApproved
		if err := r.applyValue(ctx, q, candidate, item, decidedBy, req.Comment, candidate.CandidateValue, now); err != nil {
			return err
		}

	case Update:
		normalized := normalize.Value(item.Field, req.NewValue)
		if normalized == "" {
			return eris.Wrapf(ErrEmptyNewValue, "item %d, field %s", item.ID, item.Field)
		}
		candidate.CandidateValue = normalized
		candidate.ValueHash = model.ValueHash(item.Field, normalized)
		item.CandidateValue = normalized
		item.Decision = model.DecisionUpdated
		if err := r.applyValue(ctx, q, candidate, item, decidedBy, req.Comment, normalized, now); err != nil {
			return err
		}

	case Reject:
		reason := req.RejectionReasonCode
		if reason == "" {
			if req.BlockReproposal {
				reason = model.RejectionMismatchCompany
			} else {
				reason = model.RejectionNone
			}
		}
		if !model.ValidRejectionReason(reason) {
			return eris.Wrapf(ErrInvalidReason, "%q", reason)
		}
		candidate.Status = model.CandidateRejected
		candidate.RejectedAt = &now
		candidate.MergedAt = nil
		candidate.RejectionReasonCode = reason
		candidate.RejectionReasonDetail = req.RejectionReasonDetail
		candidate.BlockReproposal = req.BlockReproposal
		item.Decision = model.DecisionRejected
		if err := r.store.FinalizeCandidate(ctx, q, candidate); err != nil {
			return err
		}

	default:
		return eris.Wrapf(ErrUnknownDecision, "%q", req.Decision)
	}

	item.Comment = req.Comment
	item.DecidedBy = decidedBy
	item.DecidedAt = &now
	return r.store.UpdateReviewItemDecision(ctx, q, item)
}

// applyValue writes the accepted value onto the company, appends history,
// and marks the candidate merged.
func (r *Reviewer) applyValue(ctx context.Context, q db.Querier, candidate *model.UpdateCandidate, item *model.ReviewItem, decidedBy, comment, value string, now time.Time) error {
	company, err := r.store.GetCompanyForUpdate(ctx, q, candidate.CompanyID)
	if err != nil {
		return err
	}
	if company == nil {
		return eris.Errorf("review: company %d not found", candidate.CompanyID)
	}
	oldValue, _ := company.FieldValue(item.Field)

	if err := r.store.UpdateCompanyField(ctx, q, candidate.CompanyID, item.Field, value); err != nil {
		return err
	}
	if err := r.store.InsertHistory(ctx, q, &model.UpdateHistory{
		CompanyID:  candidate.CompanyID,
		Field:      item.Field,
		OldValue:   oldValue,
		NewValue:   value,
		SourceKind: candidate.SourceKind,
		ApprovedBy: decidedBy,
		Comment:    comment,
	}); err != nil {
		return err
	}

	candidate.Status = model.CandidateMerged
	candidate.MergedAt = &now
	candidate.RejectedAt = nil
	candidate.RejectionReasonCode = model.RejectionNone
	candidate.RejectionReasonDetail = ""
	candidate.BlockReproposal = false
	return r.store.FinalizeCandidate(ctx, q, candidate)
}

// batchStatusFromCounts derives the batch status from its item decisions.
// Any pending item keeps the batch open as in_review.
func batchStatusFromCounts(counts map[model.ItemDecision]int) model.BatchStatus {
	if counts[model.DecisionPending] > 0 {
		return model.BatchInReview
	}
	accepted := counts[model.DecisionApproved] + counts[model.DecisionUpdated]
	rejected := counts[model.DecisionRejected]
	switch {
	case rejected == 0 && accepted > 0:
		return model.BatchApproved
	case accepted == 0 && rejected > 0:
		return model.BatchRejected
	default:
		return model.BatchPartial
	}
}
