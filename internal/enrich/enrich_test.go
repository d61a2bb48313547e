package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saleslist-enrich/internal/clock"
	"github.com/sells-group/saleslist-enrich/internal/ingest"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/store"
	"github.com/sells-group/saleslist-enrich/internal/usage"
	"github.com/sells-group/saleslist-enrich/pkg/powerplexy"
	"github.com/sells-group/saleslist-enrich/pkg/registry"
)

type fakeGate struct {
	entries []ingest.Entry
	outcome ingest.Outcome
}

func (g *fakeGate) Ingest(_ context.Context, e ingest.Entry) (ingest.Outcome, error) {
	g.entries = append(g.entries, e)
	if g.outcome != "" {
		return g.outcome, nil
	}
	return ingest.OutcomeCreated, nil
}

type fakeBudget struct {
	canExecuteErr error
	recorded      []float64
}

func (b *fakeBudget) CanExecute(context.Context) error { return b.canExecuteErr }
func (b *fakeBudget) Record(_ context.Context, cost float64) error {
	b.recorded = append(b.recorded, cost)
	return nil
}

type fakeAI struct {
	resp *powerplexy.ChatCompletionResponse
	err  error
	reqs []powerplexy.ChatCompletionRequest
}

func (a *fakeAI) ChatCompletion(_ context.Context, req powerplexy.ChatCompletionRequest) (*powerplexy.ChatCompletionResponse, error) {
	a.reqs = append(a.reqs, req)
	return a.resp, a.err
}

type fakeRegistry struct {
	results map[string][]registry.Company
	queries []string
}

func (r *fakeRegistry) Search(_ context.Context, name, _ string) ([]registry.Company, error) {
	r.queries = append(r.queries, name)
	return r.results[name], nil
}

func newOrchestrator(t *testing.T, gate *fakeGate, budget *fakeBudget, ai *fakeAI, reg *fakeRegistry) (*Orchestrator, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	clk := clock.NewFixed(time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC))
	st := store.NewPostgresFromPool(mock)
	o := New(st, gate, budget, ai, reg, clk, Options{Model: "sonar-pro"})
	return o, mock
}

func expectEnrichmentStamp(mock pgxmock.PgxPoolIface, source, strategy string) {
	mock.ExpectExec(`(?s)UPDATE companies\s+SET ai_last_enriched_at`).
		WithArgs(pgxmock.AnyArg(), source, strategy, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func fullCompany() *model.Company {
	c := &model.Company{ID: 1, Name: "株式会社テスト", Prefecture: "東京都"}
	for _, field := range model.CandidateFields {
		if v, _ := c.FieldValue(field); v == "" {
			if model.NumericFields[field] {
				_ = c.SetFieldValue(field, "1000")
			} else {
				_ = c.SetFieldValue(field, "値あり")
			}
		}
	}
	return c
}

func TestEnrichCompanyRegistryOnly(t *testing.T) {
	gate := &fakeGate{}
	budget := &fakeBudget{}
	ai := &fakeAI{}
	reg := &fakeRegistry{results: map[string][]registry.Company{
		"株式会社テスト": {{
			CorporateNumber: "1234567890123",
			Name:            "株式会社テスト",
			PrefectureName:  "東京都",
			CityName:        "千代田区",
			CapitalStock:    registry.FlexNumber("6500000"),
			PhoneNumber:     "03-1234-5678",
		}},
	}}
	o, mock := newOrchestrator(t, gate, budget, ai, reg)
	expectEnrichmentStamp(mock, "rule", "none")

	ec, err := o.EnrichCompany(context.Background(), fullCompany())
	require.NoError(t, err)

	// All fields were present, so no AI call was made.
	assert.Empty(t, ai.reqs)
	assert.False(t, ec.AIAttempted)
	assert.Equal(t, StatusSuccess, ec.Status)

	// Registry fields flowed through the gate as rule entries.
	require.NotEmpty(t, gate.entries)
	for _, e := range gate.entries {
		assert.Equal(t, model.SourceRule, e.SourceKind)
		assert.Equal(t, "nta-api", e.Source)
		assert.Equal(t, "1234567890123", e.SourceCorporateNumber)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrichCompanyAIWithRegistryRetry(t *testing.T) {
	gate := &fakeGate{}
	budget := &fakeBudget{}
	ai := &fakeAI{resp: &powerplexy.ChatCompletionResponse{
		Choices: []powerplexy.Choice{{Message: powerplexy.Message{
			Content: `{"資本金": "650万円", "official_name_candidates": ["テスト株式会社"], "website": "https://test.example.jp"}`,
		}}},
		Usage: powerplexy.Usage{PromptTokens: 1000, CompletionTokens: 500},
	}}
	reg := &fakeRegistry{results: map[string][]registry.Company{
		// Initial lookup misses; the AI-suggested variant hits.
		"テスト株式会社": {{
			CorporateNumber: "9876543210987",
			Name:            "テスト株式会社",
			PrefectureName:  "東京都",
		}},
	}}
	o, mock := newOrchestrator(t, gate, budget, ai, reg)
	expectEnrichmentStamp(mock, "ai", "none")

	ec, err := o.EnrichCompany(context.Background(), &model.Company{
		ID: 1, Name: "株式会社テスト", Prefecture: "東京都",
	})
	require.NoError(t, err)

	assert.True(t, ec.AIAttempted)
	assert.True(t, ec.RegistryInitial404)
	assert.True(t, ec.RegistryRetrySuccess)
	assert.Equal(t, []string{"株式会社テスト", "テスト株式会社"}, reg.queries)

	// Extraction calls run at a fixed low temperature.
	require.Len(t, ai.reqs, 1)
	require.NotNil(t, ai.reqs[0].Temperature)
	assert.InDelta(t, 0.2, *ai.reqs[0].Temperature, 1e-9)

	// The AI capital value went through the gate with official-site confidence.
	var aiCapital *ingest.Entry
	for i := range gate.entries {
		if gate.entries[i].SourceKind == model.SourceAI && gate.entries[i].Field == model.FieldCapital {
			aiCapital = &gate.entries[i]
		}
	}
	require.NotNil(t, aiCapital)
	assert.Equal(t, "650万円", aiCapital.Value)
	assert.Equal(t, 80, aiCapital.Confidence)
	assert.Equal(t, "powerplexy", aiCapital.Source)

	// One non-empty AI result was priced and recorded.
	require.Len(t, budget.recorded, 1)
	assert.InDelta(t, 1000.0/1e6*3+500.0/1e6*15, budget.recorded[0], 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrichCompanyAIAgreementStillAttributedToAI(t *testing.T) {
	gate := &fakeGate{}
	budget := &fakeBudget{}
	ai := &fakeAI{resp: &powerplexy.ChatCompletionResponse{
		Choices: []powerplexy.Choice{{Message: powerplexy.Message{
			Content: `{"資本金": "6500000"}`,
		}}},
		Usage: powerplexy.Usage{PromptTokens: 100, CompletionTokens: 50},
	}}
	reg := &fakeRegistry{results: map[string][]registry.Company{
		"株式会社テスト": {{
			CorporateNumber: "1234567890123",
			Name:            "株式会社テスト",
			PrefectureName:  "東京都",
			CapitalStock:    registry.FlexNumber("6500000"),
		}},
	}}
	o, mock := newOrchestrator(t, gate, budget, ai, reg)
	// The AI answered, even if it only confirmed the registry's capital,
	// so the pass is stamped as AI-sourced.
	expectEnrichmentStamp(mock, "ai", "none")

	ec, err := o.EnrichCompany(context.Background(), &model.Company{
		ID: 1, Name: "株式会社テスト", Prefecture: "東京都",
	})
	require.NoError(t, err)

	assert.True(t, ec.AIAttempted)
	assert.True(t, ec.AIFields[model.FieldCapital])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrichCompanyBudgetExhausted(t *testing.T) {
	gate := &fakeGate{}
	budget := &fakeBudget{canExecuteErr: usage.ErrBudgetExhausted}
	o, _ := newOrchestrator(t, gate, budget, &fakeAI{}, &fakeRegistry{})

	_, err := o.EnrichCompany(context.Background(), &model.Company{
		ID: 1, Name: "株式会社テスト", Prefecture: "東京都",
	})
	assert.ErrorIs(t, err, usage.ErrBudgetExhausted)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ec       Context
		reason   NoDataReason
		strategy RetryStrategy
	}{
		{
			"variants insufficient",
			Context{RegistryInitial404: true, RegistryRetry404: true, NameVariants: []string{"別名"}},
			ReasonNameVariantInsufficient, StrategyNameVariantExpansion,
		},
		{
			"ai empty after double 404",
			Context{RegistryInitial404: true, RegistryRetry404: true, AIAttempted: true, Findings: map[string]string{}},
			ReasonAINoFieldResult, StrategyOfficialSiteFocused,
		},
		{
			"no official site",
			Context{AIAttempted: true, Findings: map[string]string{"phone": "x"}},
			ReasonNoOfficialSite, StrategyEnglishNameSearch,
		},
		{
			"registry failure",
			Context{RegistryFailed: true},
			ReasonGbizNotFound, StrategyRelaxPrefecture,
		},
		{
			"fallback",
			Context{},
			ReasonRetryExhausted, StrategyNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reason, strategy := Classify(&tt.ec)
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.strategy, strategy)
		})
	}
}

func TestMissingFields(t *testing.T) {
	t.Parallel()

	c := &model.Company{ID: 1, Name: "株式会社テスト", Prefecture: "東京都", Phone: "0312345678"}
	missing := MissingFields(c)
	assert.Contains(t, missing, model.FieldCapital)
	assert.Contains(t, missing, model.FieldWebsiteURL)
	assert.NotContains(t, missing, model.FieldPrefecture)
	assert.NotContains(t, missing, model.FieldPhone)
	assert.NotContains(t, missing, model.FieldName)
}

func TestBuildPromptIncludesConstraints(t *testing.T) {
	t.Parallel()

	c := &model.Company{ID: 1, Name: "株式会社テスト", Prefecture: "東京都"}
	system, user := BuildPrompt(c, []string{model.FieldCapital}, Constraints{
		OfficialName:    "株式会社テスト",
		Address:         "東京都千代田区",
		CorporateNumber: "1234567890123",
	})

	assert.NotEmpty(t, system)
	assert.Contains(t, user, "- 正式法人名: 株式会社テスト")
	assert.Contains(t, user, "- 所在地: 東京都千代田区")
	assert.Contains(t, user, "- 法人番号: 1234567890123")
	assert.Contains(t, user, "資本金")
	assert.Contains(t, user, "official_name_candidates")
}

func TestMapAnswer(t *testing.T) {
	t.Parallel()

	fields, hints := MapAnswer(map[string]any{
		"資本金":                      "650万円",
		"従業員数":                     float64(120),
		"electric_sheep":           "ignored",
		"website_url":              "https://direct.example.jp",
		"official_name_candidates": []any{"テスト株式会社", "TEST Inc."},
		"english_name":             "TEST Inc.",
		"website":                  "https://test.example.jp",
	})

	assert.Equal(t, "650万円", fields[model.FieldCapital])
	assert.Equal(t, "120", fields[model.FieldEmployeeCount])
	assert.Equal(t, "https://direct.example.jp", fields[model.FieldWebsiteURL])
	assert.NotContains(t, fields, "electric_sheep")
	assert.Equal(t, []string{"テスト株式会社", "TEST Inc."}, hints.NameVariants)
	assert.Equal(t, "TEST Inc.", hints.EnglishName)
	assert.Equal(t, "https://test.example.jp", hints.Website)
}
