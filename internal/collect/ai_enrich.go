package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/clock"
	"github.com/sells-group/saleslist-enrich/internal/enrich"
	"github.com/sells-group/saleslist-enrich/internal/jobs"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/store"
	"github.com/sells-group/saleslist-enrich/internal/usage"
)

// Skip reasons of the AI enrichment job.
const (
	skipMissingAPIKey = "missing_api_key"
	skipUsageLimit    = "usage_limit"

	maxErrorDetails = 10
)

// Enricher runs one company's enrichment pass.
type Enricher interface {
	EnrichCompany(ctx context.Context, company *model.Company) (*enrich.Context, error)
}

// AIEnrichCollector is the scheduled AI pass over enrichment targets.
type AIEnrichCollector struct {
	store     store.Store
	enricher  Enricher
	clk       clock.Clock
	apiKey    string
	batchSize int
	cooldown  time.Duration
}

func NewAIEnrichCollector(st store.Store, enricher Enricher, clk clock.Clock, apiKey string, batchSize int, cooldown time.Duration) *AIEnrichCollector {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &AIEnrichCollector{
		store: st, enricher: enricher, clk: clk,
		apiKey: apiKey, batchSize: batchSize, cooldown: cooldown,
	}
}

// Run is the job body for ai.enrich.
func (c *AIEnrichCollector) Run(ctx context.Context, opts jobs.Options) (jobs.Stats, error) {
	stats := jobs.Stats{SkipBreakdown: map[string]int{}, Metadata: map[string]any{}}

	if c.apiKey == "" {
		stats.SkipBreakdown[skipMissingAPIKey] = 1
		zap.L().Warn("ai enrichment skipped, no api key configured")
		return stats, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = c.batchSize
	}
	targets, err := c.store.ListEnrichmentTargets(ctx, c.cooldown, c.clk.Now(), opts.CompanyIDs, limit)
	if err != nil {
		return stats, err
	}
	stats.Input = len(targets)

	var (
		errorDetails []string
		totalCost    float64
	)
	for i := range targets {
		company := &targets[i]

		if opts.DryRun {
			stats.Skipped++
			continue
		}

		ec, err := c.enricher.EnrichCompany(ctx, company)
		if err != nil {
			if errors.Is(err, usage.ErrBudgetExhausted) {
				stats.SkipBreakdown[skipUsageLimit] += len(targets) - i
				stats.Skipped += len(targets) - i
				break
			}
			// One company's failure never aborts the batch.
			stats.Errors++
			if len(errorDetails) < maxErrorDetails {
				errorDetails = append(errorDetails, fmt.Sprintf("company %d: %v", company.ID, err))
			}
			continue
		}
		stats.Inserted += ec.Created
		totalCost += ec.Cost
		if ec.Created == 0 {
			stats.Skipped++
		}
	}

	if len(errorDetails) > 0 {
		stats.Metadata["error_details"] = errorDetails
	}
	if totalCost > 0 {
		stats.Metadata["estimated_cost"] = totalCost
	}
	return stats, nil
}
