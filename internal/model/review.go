package model

import "time"

// BatchStatus is the lifecycle state of a review batch.
type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchInReview BatchStatus = "in_review"
	BatchApproved BatchStatus = "approved"
	BatchRejected BatchStatus = "rejected"
	BatchPartial  BatchStatus = "partial"
)

// Open reports whether the batch still accepts candidates and decisions.
func (s BatchStatus) Open() bool {
	return s == BatchPending || s == BatchInReview
}

// Terminal reports whether the batch has been sealed by a decision.
func (s BatchStatus) Terminal() bool {
	return s == BatchApproved || s == BatchRejected || s == BatchPartial
}

// ReviewBatch groups pending candidates of one company for human review.
// At most one open batch exists per company.
type ReviewBatch struct {
	ID         int64       `json:"id"`
	CompanyID  int64       `json:"company_id"`
	Status     BatchStatus `json:"status"`
	AssignedTo string      `json:"assigned_to,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// ItemDecision is the per-item review outcome.
type ItemDecision string

const (
	DecisionPending  ItemDecision = "pending"
	DecisionApproved ItemDecision = "approved"
	DecisionRejected ItemDecision = "rejected"
	DecisionUpdated  ItemDecision = "updated"
)

// ReviewItem is one candidate under review inside a batch. CurrentValue
// snapshots the company field at creation time.
type ReviewItem struct {
	ID             int64        `json:"id"`
	BatchID        int64        `json:"batch_id"`
	CandidateID    int64        `json:"candidate_id"`
	Field          string       `json:"field"`
	CurrentValue   string       `json:"current_value"`
	CandidateValue string       `json:"candidate_value"`
	Confidence     int          `json:"confidence"`
	Decision       ItemDecision `json:"decision"`
	Comment        string       `json:"comment,omitempty"`
	DecidedBy      string       `json:"decided_by,omitempty"`
	DecidedAt      *time.Time   `json:"decided_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}
