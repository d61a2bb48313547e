// Package collect holds the bodies of the registered collection jobs.
// Each body reports ledger stats and leaves all company mutation to the
// ingest gate.
package collect

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
	"github.com/sells-group/saleslist-enrich/internal/jobs"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/normalize"
	"github.com/sells-group/saleslist-enrich/internal/resilience"
	"github.com/sells-group/saleslist-enrich/internal/store"
	"github.com/sells-group/saleslist-enrich/internal/usage"
	"github.com/sells-group/saleslist-enrich/pkg/registry"
)

// Gate is the ingest entry point the collectors feed.
type Gate interface {
	Ingest(ctx context.Context, e ingest.Entry) (ingest.Outcome, error)
}

// Skip-breakdown keys of the corporate-number job.
const (
	skipMissingToken    = "missing_token"
	skipPrefecture      = "skipped_prefecture"
	skipName            = "skipped_name"
	skipCooldown        = "skipped_cooldown"
	skipRateLimit       = "skipped_rate_limit"
	statNotFound        = "not_found"
	defaultSearchLimit  = 100
	defaultCallInterval = time.Second
)

// CorporateNumberCollector resolves corporate numbers for companies that
// lack one by querying the registry and ingesting the match.
type CorporateNumberCollector struct {
	store    store.Store
	gate     Gate
	reg      registry.Client
	daily    *usage.DailyCounter
	clk      clock.Clock
	token    string
	interval time.Duration
	cooldown time.Duration
}

func NewCorporateNumberCollector(st store.Store, gate Gate, reg registry.Client, daily *usage.DailyCounter, clk clock.Clock, token string, interval, cooldown time.Duration) *CorporateNumberCollector {
	if interval <= 0 {
		interval = defaultCallInterval
	}
	return &CorporateNumberCollector{
		store: st, gate: gate, reg: reg, daily: daily, clk: clk,
		token: token, interval: interval, cooldown: cooldown,
	}
}

// Run is the job body for clone.corporate_number.
func (c *CorporateNumberCollector) Run(ctx context.Context, opts jobs.Options) (jobs.Stats, error) {
	stats := jobs.Stats{SkipBreakdown: map[string]int{}, Metadata: map[string]any{}}

	if c.token == "" {
		if opts.AllowMissingToken {
			stats.SkipBreakdown[skipMissingToken] = 1
			zap.L().Warn("corporate number collection skipped, no registry token")
			return stats, nil
		}
		return stats, eris.New("collect: registry token not configured")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	companies, err := c.store.ListCompaniesMissingCorporateNumber(ctx, opts.CompanyIDs, limit)
	if err != nil {
		return stats, err
	}
	stats.Input = len(companies)

	var checked, matched int
	var processed []int64
	for i := range companies {
		company := &companies[i]

		if !opts.ForceRefresh {
			if err := c.daily.Allow(ctx); err != nil {
				if errors.Is(err, usage.ErrDailyLimitReached) {
					stats.SkipBreakdown[skipRateLimit] += len(companies) - i
					stats.Skipped += len(companies) - i
					break
				}
				return stats, err
			}
			if c.onCooldown(ctx, company) {
				stats.SkipBreakdown[skipCooldown]++
				stats.Skipped++
				continue
			}
		}

		entries, err := resilience.DoVal(ctx, resilience.RegistryRetryConfig(), func(ctx context.Context) ([]registry.Company, error) {
			return c.reg.Search(ctx, company.Name, company.Prefecture)
		})
		if err != nil {
			var rle *registry.RateLimitError
			if errors.As(err, &rle) {
				stats.SkipBreakdown[skipRateLimit] += len(companies) - i
				stats.Skipped += len(companies) - i
				break
			}
			stats.Errors++
			zap.L().Warn("registry search failed",
				zap.Int64("company_id", company.ID), zap.Error(err))
			continue
		}
		if !opts.ForceRefresh {
			if err := c.daily.Record(ctx); err != nil {
				zap.L().Warn("daily counter record failed", zap.Error(err))
			}
		}
		checked++
		processed = append(processed, company.ID)

		if len(entries) == 0 {
			stats.SkipBreakdown[statNotFound]++
			stats.Skipped++
			continue
		}

		best, ok := registry.SelectBestMatch(entries, company.Name, company.Prefecture)
		if !ok {
			stats.SkipBreakdown[statNotFound]++
			stats.Skipped++
			continue
		}
		if opts.PrefectureStrict && company.Prefecture != "" && best.PrefectureName != company.Prefecture {
			stats.SkipBreakdown[skipPrefecture]++
			stats.Skipped++
			continue
		}
		if opts.PrefectureStrict && normalize.Name(best.Name) != normalize.Name(company.Name) {
			stats.SkipBreakdown[skipName]++
			stats.Skipped++
			continue
		}

		matched++
		if opts.DryRun {
			continue
		}
		stats.Inserted += c.ingestMatch(ctx, company, &best)

		if i < len(companies)-1 && !opts.ForceRefresh {
			if err := c.clk.Sleep(ctx, c.interval); err != nil {
				return stats, err
			}
		}
	}

	stats.Metadata["checked"] = checked
	stats.Metadata["matched"] = matched
	stats.Metadata["processed_company_ids"] = processed
	stats.Metadata["summary"] = fmt.Sprintf(
		"checked=%d matched=%d not_found=%d errors=%d", checked, matched,
		stats.SkipBreakdown[statNotFound], stats.Errors)
	return stats, nil
}

// onCooldown checks the last registry fetch of this company's corporate
// number without taking the ingest lock.
func (c *CorporateNumberCollector) onCooldown(ctx context.Context, company *model.Company) bool {
	if c.cooldown <= 0 {
		return false
	}
	tx, err := c.store.Pool().Begin(ctx)
	if err != nil {
		return false
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rec, err := c.store.GetSourceRecordForUpdate(ctx, tx, company.ID, model.FieldCorporateNumber, "nta-api")
	if err != nil || rec == nil {
		return false
	}
	return c.clk.Now().Sub(rec.LastFetchedAt) < c.cooldown
}

// ingestMatch feeds the matched registry row through the gate: the
// corporate number plus the rule-based location and contact fields.
func (c *CorporateNumberCollector) ingestMatch(ctx context.Context, company *model.Company, best *registry.Company) int {
	sourceDetail := "nta-api"
	if seq := best.SequenceNumber.String(); seq != "" {
		sourceDetail = "nta-api:" + seq
	}

	// The corporate number carries its own 30-day cooldown, matching the
	// registry's update cadence; the other rule fields use the gate-wide
	// window.
	values := []struct {
		field        string
		value        string
		cooldownDays int
	}{
		{model.FieldCorporateNumber, best.CorporateNumber, 30},
		{model.FieldPrefecture, best.PrefectureName, 0},
		{model.FieldCity, strings.TrimSpace(best.CityName + best.StreetNumber + best.BlockNumber + best.BuildingName), 0},
		{model.FieldCapital, normalize.DigitsOnly(best.CapitalStock.String()), 0},
		{model.FieldPhone, normalize.DigitsOnly(best.PhoneNumber), 0},
	}

	created := 0
	for _, v := range values {
		if v.value == "" {
			continue
		}
		outcome, err := c.gate.Ingest(ctx, ingest.Entry{
			CompanyID:             company.ID,
			Field:                 v.field,
			Value:                 v.value,
			SourceKind:            model.SourceRule,
			Source:                "nta-api",
			SourceDetail:          sourceDetail,
			SourceCompanyName:     best.Name,
			SourceCorporateNumber: best.CorporateNumber,
			CooldownDays:          v.cooldownDays,
		})
		if err != nil {
			zap.L().Warn("corporate number ingest failed",
				zap.Int64("company_id", company.ID),
				zap.String("field", v.field), zap.Error(err))
			continue
		}
		if outcome.Created() {
			created++
		}
	}
	return created
}
