package enrich

import (
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/pkg/registry"
)

// Status is the final outcome of one company's enrichment pass.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Context carries mutable state across the registry → AI → registry-retry
// chain for a single company. It lives only for the duration of the pass.
type Context struct {
	Company *model.Company

	RegistryMatch        *registry.Company
	RegistryInitial404   bool
	RegistryFailed       bool
	RegistryRetry404     bool
	RegistryRetrySuccess bool

	AIAttempted  bool
	AIFields     map[string]bool
	Findings     map[string]string
	NameVariants []string
	EnglishName  string
	Website      string
	Person       string
	Role         string

	Confidence map[string]float64
	Created    int
	Cost       float64
	Status     Status
}

func NewContext(company *model.Company) *Context {
	return &Context{
		Company:    company,
		AIFields:   make(map[string]bool),
		Findings:   make(map[string]string),
		Confidence: make(map[string]float64),
		Status:     StatusPending,
	}
}

// Per-field confidence scores, scaled to 0..1.
const (
	confidenceRegistry       = 1.0
	confidenceAgreement      = 1.0
	confidenceAIOfficialSite = 0.8
	confidenceAISingle       = 0.5
)

// scoreAIField assigns the confidence for an AI-provided field value.
// Agreement with a registry value wins, then presence of an official site.
func (ec *Context) scoreAIField(field, value string) float64 {
	if ec.RegistryMatch != nil {
		if existing, ok := ec.Findings[field]; ok && existing == value {
			return confidenceAgreement
		}
	}
	if ec.Website != "" {
		return confidenceAIOfficialSite
	}
	return confidenceAISingle
}

// recordFinding stores a field value with its confidence, keeping the
// higher-confidence value on conflict.
func (ec *Context) recordFinding(field, value string, confidence float64) {
	if prev, ok := ec.Confidence[field]; ok && prev >= confidence {
		return
	}
	ec.Findings[field] = value
	ec.Confidence[field] = confidence
}
