package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SourceKind classifies where a candidate came from.
type SourceKind string

const (
	SourceRule   SourceKind = "RULE"
	SourceAI     SourceKind = "AI"
	SourceManual SourceKind = "MANUAL"
)

// CandidateStatus is the lifecycle state of an update candidate.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateMerged   CandidateStatus = "merged"
	CandidateRejected CandidateStatus = "rejected"
	CandidateExpired  CandidateStatus = "expired"
)

// RejectionReason codes for rejected candidates.
type RejectionReason string

const (
	RejectionNone            RejectionReason = "none"
	RejectionMismatchCompany RejectionReason = "mismatch_company"
	RejectionInvalidValue    RejectionReason = "invalid_value"
	RejectionOutdated        RejectionReason = "outdated"
	RejectionDuplicate       RejectionReason = "duplicate"
	RejectionOther           RejectionReason = "other"
)

// ValidRejectionReason reports whether code is a known rejection reason.
func ValidRejectionReason(code RejectionReason) bool {
	switch code {
	case RejectionNone, RejectionMismatchCompany, RejectionInvalidValue,
		RejectionOutdated, RejectionDuplicate, RejectionOther:
		return true
	}
	return false
}

// UpdateCandidate is a proposed value for one field of one company. It is
// never applied directly; a human decision merges or rejects it.
type UpdateCandidate struct {
	ID                    int64           `json:"id"`
	CompanyID             int64           `json:"company_id"`
	Field                 string          `json:"field"`
	CandidateValue        string          `json:"candidate_value"`
	ValueHash             string          `json:"value_hash"`
	SourceKind            SourceKind      `json:"source_kind"`
	SourceDetail          string          `json:"source_detail,omitempty"`
	Confidence            int             `json:"confidence"`
	Status                CandidateStatus `json:"status"`
	CollectedAt           time.Time       `json:"collected_at"`
	MergedAt              *time.Time      `json:"merged_at,omitempty"`
	RejectedAt            *time.Time      `json:"rejected_at,omitempty"`
	RejectionReasonCode   RejectionReason `json:"rejection_reason_code"`
	RejectionReasonDetail string          `json:"rejection_reason_detail,omitempty"`
	BlockReproposal       bool            `json:"block_reproposal"`
	SourceCompanyName     string          `json:"source_company_name,omitempty"`
	SourceCorporateNumber string          `json:"source_corporate_number,omitempty"`
	Metadata              map[string]any  `json:"metadata,omitempty"`
}

// ExternalSourceRecord tracks the last fetch per (company, field, source).
// It exists only to implement cooldown and same-content suppression.
type ExternalSourceRecord struct {
	ID            int64          `json:"id"`
	CompanyID     int64          `json:"company_id"`
	Field         string         `json:"field"`
	Source        string         `json:"source"`
	LastFetchedAt time.Time      `json:"last_fetched_at"`
	ContentHash   string         `json:"content_hash"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// UpdateHistory is the append-only log of accepted field changes.
type UpdateHistory struct {
	ID         int64      `json:"id"`
	CompanyID  int64      `json:"company_id"`
	Field      string     `json:"field"`
	OldValue   string     `json:"old_value"`
	NewValue   string     `json:"new_value"`
	SourceKind SourceKind `json:"source_kind"`
	ApprovedBy string     `json:"approved_by"`
	Comment    string     `json:"comment,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ValueHash computes the identity of a candidate value:
// SHA-256 over lower(strip(field)) || "::" || strip(value).
func ValueHash(field, value string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(field)) + "::" + strings.TrimSpace(value)))
	return hex.EncodeToString(h[:])
}
