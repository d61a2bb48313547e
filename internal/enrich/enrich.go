// Package enrich sequences the registry → AI → registry-retry chain for a
// single company and feeds every discovered value through the ingest gate.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/clock"
	"github.com/sells-group/saleslist-enrich/internal/ingest"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/pricing"
	"github.com/sells-group/saleslist-enrich/internal/resilience"
	"github.com/sells-group/saleslist-enrich/internal/store"
	"github.com/sells-group/saleslist-enrich/internal/usage"
	"github.com/sells-group/saleslist-enrich/pkg/powerplexy"
	"github.com/sells-group/saleslist-enrich/pkg/registry"
)

// aiTemperature keeps the chat completions deterministic enough for
// field extraction.
const aiTemperature = 0.2

// Gate is the slice of the ingest pipeline the orchestrator needs.
type Gate interface {
	Ingest(ctx context.Context, e ingest.Entry) (ingest.Outcome, error)
}

// Budget gates and records AI spending.
type Budget interface {
	CanExecute(ctx context.Context) error
	Record(ctx context.Context, cost float64) error
}

// Options tune a single orchestrator instance.
type Options struct {
	Model         string
	MaxTokens     int
	APIDelay      time.Duration
	MaxErrorNotes int
}

// Orchestrator runs enrichment passes. It never writes company fields
// directly; values flow through the gate into review.
type Orchestrator struct {
	store store.Store
	gate  Gate
	meter Budget
	ai    powerplexy.Client
	reg   registry.Client
	clk   clock.Clock
	opts  Options
}

func New(st store.Store, gate Gate, meter Budget, ai powerplexy.Client, reg registry.Client, clk clock.Clock, opts Options) *Orchestrator {
	if opts.MaxErrorNotes <= 0 {
		opts.MaxErrorNotes = 10
	}
	return &Orchestrator{store: st, gate: gate, meter: meter, ai: ai, reg: reg, clk: clk, opts: opts}
}

// ErrBudgetExhausted is surfaced when the usage meter refuses the AI call.
var ErrBudgetExhausted = usage.ErrBudgetExhausted

// EnrichCompany runs the full chain for one company and returns the pass
// context for the caller's bookkeeping.
func (o *Orchestrator) EnrichCompany(ctx context.Context, company *model.Company) (*Context, error) {
	ec := NewContext(company)

	o.registryLookup(ctx, ec)

	missing := MissingFields(company)
	if len(missing) > 0 {
		if err := o.aiEnrich(ctx, ec, missing); err != nil {
			return ec, err
		}
	}

	if ec.RegistryInitial404 {
		o.registryRetry(ctx, ec)
	}

	o.finish(ctx, ec)
	return ec, nil
}

// registryLookup is step one: match the company against the
// corporate-number registry and ingest the fields a match provides.
func (o *Orchestrator) registryLookup(ctx context.Context, ec *Context) {
	company := ec.Company

	entries, err := resilience.DoVal(ctx, resilience.RegistryRetryConfig(), func(ctx context.Context) ([]registry.Company, error) {
		return o.reg.Search(ctx, company.Name, company.Prefecture)
	})
	if err != nil {
		ec.RegistryFailed = true
		zap.L().Warn("registry lookup failed",
			zap.Int64("company_id", company.ID), zap.Error(err))
		return
	}
	if len(entries) == 0 {
		ec.RegistryInitial404 = true
		return
	}

	best, ok := registry.SelectBestMatch(entries, company.Name, company.Prefecture)
	if !ok {
		ec.RegistryInitial404 = true
		return
	}
	ec.RegistryMatch = &best
	o.ingestRegistryMatch(ctx, ec, &best)
}

// registryFields maps a registry entry onto candidate fields.
func registryFields(entry *registry.Company) map[string]string {
	fields := map[string]string{
		model.FieldCorporateNumber: entry.CorporateNumber,
		model.FieldPrefecture:      entry.PrefectureName,
		model.FieldCapital:         entry.CapitalStock.String(),
		model.FieldPhone:           entry.PhoneNumber,
	}
	city := strings.TrimSpace(entry.CityName + entry.StreetNumber + entry.BlockNumber + entry.BuildingName)
	if city != "" {
		fields[model.FieldCity] = city
	}
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			delete(fields, k)
		}
	}
	return fields
}

func (o *Orchestrator) ingestRegistryMatch(ctx context.Context, ec *Context, entry *registry.Company) {
	sourceDetail := "nta-api"
	if entry.SequenceNumber.String() != "" {
		sourceDetail = fmt.Sprintf("nta-api:%s", entry.SequenceNumber.String())
	}

	fields := registryFields(entry)
	for _, field := range sortedFields(fields) {
		value := fields[field]
		ec.recordFinding(field, value, confidenceRegistry)
		outcome, err := o.gate.Ingest(ctx, ingest.Entry{
			CompanyID:             ec.Company.ID,
			Field:                 field,
			Value:                 value,
			SourceKind:            model.SourceRule,
			Source:                "nta-api",
			SourceDetail:          sourceDetail,
			SourceCompanyName:     entry.Name,
			SourceCorporateNumber: entry.CorporateNumber,
		})
		if err != nil {
			zap.L().Warn("registry ingest failed",
				zap.Int64("company_id", ec.Company.ID),
				zap.String("field", field), zap.Error(err))
			continue
		}
		if outcome.Created() {
			ec.Created++
		}
	}
}

// aiEnrich is step two: ask the AI for the still-missing fields, budget
// permitting, and ingest whatever it confirms.
func (o *Orchestrator) aiEnrich(ctx context.Context, ec *Context, missing []string) error {
	if err := o.meter.CanExecute(ctx); err != nil {
		if errors.Is(err, usage.ErrBudgetExhausted) {
			zap.L().Info("ai enrichment skipped, budget exhausted",
				zap.Int64("company_id", ec.Company.ID))
			return err
		}
		return err
	}
	ec.AIAttempted = true

	var constraints Constraints
	if m := ec.RegistryMatch; m != nil {
		constraints = Constraints{
			OfficialName:    m.Name,
			Address:         strings.TrimSpace(m.PrefectureName + m.CityName + m.StreetNumber),
			CorporateNumber: m.CorporateNumber,
		}
	}
	system, user := BuildPrompt(ec.Company, missing, constraints)

	temperature := aiTemperature
	req := powerplexy.ChatCompletionRequest{
		Model: o.opts.Model,
		Messages: []powerplexy.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: &temperature,
	}
	if o.opts.MaxTokens > 0 {
		req.MaxTokens = &o.opts.MaxTokens
	}

	resp, err := resilience.DoVal(ctx, resilience.AIRetryConfig(), func(ctx context.Context) (*powerplexy.ChatCompletionResponse, error) {
		return o.ai.ChatCompletion(ctx, req)
	})
	if err != nil {
		o.noteError(ctx, ec.Company.ID, fmt.Sprintf("AI呼び出し失敗: %v", err))
		return eris.Wrap(err, "enrich: ai call")
	}

	parsed, err := powerplexy.ExtractJSON(resp.Content())
	if err != nil {
		o.noteError(ctx, ec.Company.ID, "AI応答のJSON解析に失敗")
		return eris.Wrap(err, "enrich: parse ai answer")
	}

	fields, hints := MapAnswer(parsed)
	ec.NameVariants = hints.NameVariants
	ec.EnglishName = hints.EnglishName
	ec.Website = hints.Website
	ec.Person = hints.Person
	ec.Role = hints.Role
	if hints.Website != "" {
		if _, ok := fields[model.FieldWebsiteURL]; !ok {
			fields[model.FieldWebsiteURL] = hints.Website
		}
	}

	for _, field := range sortedFields(fields) {
		value := fields[field]
		ec.AIFields[field] = true
		confidence := ec.scoreAIField(field, value)
		ec.recordFinding(field, value, confidence)
		outcome, err := o.gate.Ingest(ctx, ingest.Entry{
			CompanyID:    ec.Company.ID,
			Field:        field,
			Value:        value,
			SourceKind:   model.SourceAI,
			Source:       "powerplexy",
			SourceDetail: o.opts.Model,
			Confidence:   int(confidence * 100),
		})
		if err != nil {
			zap.L().Warn("ai ingest failed",
				zap.Int64("company_id", ec.Company.ID),
				zap.String("field", field), zap.Error(err))
			continue
		}
		if outcome.Created() {
			ec.Created++
		}
	}

	// One AI call counts against the budget once it yields any mapped
	// result; token cost is priced regardless.
	ec.Cost = pricing.Cost(o.opts.Model, resp.Usage)
	if len(fields) > 0 || len(hints.NameVariants) > 0 || hints.EnglishName != "" {
		if err := o.meter.Record(ctx, ec.Cost); err != nil {
			zap.L().Warn("usage record failed", zap.Error(err))
		}
	}

	if o.opts.APIDelay > 0 {
		if err := o.clk.Sleep(ctx, o.opts.APIDelay); err != nil {
			return err
		}
	}
	return nil
}

// registryRetry is step three: if the initial lookup 404'd and the AI
// produced name variants, re-query the registry with each in turn.
func (o *Orchestrator) registryRetry(ctx context.Context, ec *Context) {
	variants := append([]string{}, ec.NameVariants...)
	if ec.EnglishName != "" {
		variants = append(variants, ec.EnglishName)
	}
	if len(variants) == 0 {
		return
	}

	for _, variant := range variants {
		entries, err := resilience.DoVal(ctx, resilience.RegistryRetryConfig(), func(ctx context.Context) ([]registry.Company, error) {
			return o.reg.Search(ctx, variant, ec.Company.Prefecture)
		})
		if err != nil {
			zap.L().Warn("registry retry failed",
				zap.Int64("company_id", ec.Company.ID),
				zap.String("variant", variant), zap.Error(err))
			continue
		}
		if len(entries) == 0 {
			continue
		}
		best, ok := registry.SelectBestMatch(entries, variant, ec.Company.Prefecture)
		if !ok {
			continue
		}
		ec.RegistryRetrySuccess = true
		ec.RegistryMatch = &best
		o.ingestRegistryMatch(ctx, ec, &best)
		return
	}
	ec.RegistryRetry404 = true
}

// finish settles the pass status and stamps the company's enrichment
// bookkeeping, including the retry strategy when nothing was produced.
func (o *Orchestrator) finish(ctx context.Context, ec *Context) {
	now := o.clk.Now()

	// The pass is attributed to the AI once any AI-mapped field came
	// back non-empty, even when the registry confirmed the same value.
	source := "rule"
	if len(ec.AIFields) > 0 {
		source = "ai"
	}

	covered := true
	for _, field := range MissingFields(ec.Company) {
		if _, ok := ec.Findings[field]; !ok {
			covered = false
			break
		}
	}

	strategy := StrategyNone
	switch {
	case ec.Created > 0 && covered:
		ec.Status = StatusSuccess
	case ec.Created > 0:
		ec.Status = StatusPartial
	default:
		ec.Status = StatusFailed
		var reason NoDataReason
		reason, strategy = Classify(ec)
		zap.L().Info("enrichment produced no data",
			zap.Int64("company_id", ec.Company.ID),
			zap.String("reason", string(reason)),
			zap.String("next_strategy", string(strategy)),
		)
	}

	if err := o.store.UpdateCompanyEnrichment(ctx, ec.Company.ID, now, source, string(strategy)); err != nil {
		zap.L().Error("update enrichment bookkeeping failed",
			zap.Int64("company_id", ec.Company.ID), zap.Error(err))
	}
}

func (o *Orchestrator) noteError(ctx context.Context, companyID int64, note string) {
	stamped := fmt.Sprintf("[%s] %s", o.clk.Now().Format("2006-01-02 15:04"), note)
	if err := o.store.AppendCompanyNote(ctx, companyID, stamped, o.opts.MaxErrorNotes); err != nil {
		zap.L().Warn("append error note failed",
			zap.Int64("company_id", companyID), zap.Error(err))
	}
}
