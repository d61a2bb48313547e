package collect

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/clock"
	"github.com/sells-group/saleslist-enrich/internal/jobs"
	"github.com/sells-group/saleslist-enrich/internal/store"
)

// DailyEnrichCollector is the ai.enrich beat body. It spreads the day's
// record limit over child runs of one batch each, so every batch gets its
// own execution UUID and ledger row while the parent run aggregates.
type DailyEnrichCollector struct {
	store      store.Store
	inner      *AIEnrichCollector
	tracker    *jobs.Tracker
	clk        clock.Clock
	dailyLimit func(now time.Time) int
}

func NewDailyEnrichCollector(st store.Store, inner *AIEnrichCollector, tracker *jobs.Tracker, clk clock.Clock, dailyLimit func(now time.Time) int) *DailyEnrichCollector {
	return &DailyEnrichCollector{
		store: st, inner: inner, tracker: tracker, clk: clk, dailyLimit: dailyLimit,
	}
}

// Run is the job body for ai.enrich.
func (c *DailyEnrichCollector) Run(ctx context.Context, opts jobs.Options) (jobs.Stats, error) {
	// Operator-scoped invocations run as a single batch under the
	// parent run itself.
	if opts.Limit > 0 || len(opts.CompanyIDs) > 0 {
		return c.inner.Run(ctx, opts)
	}

	stats := jobs.Stats{SkipBreakdown: map[string]int{}, Metadata: map[string]any{}}
	parentUUID := jobs.ExecutionUUIDFromContext(ctx)

	limit := c.dailyLimit(c.clk.Now())
	if limit < 1 {
		limit = 1
	}
	batchSize := c.inner.batchSize
	batches := (limit + batchSize - 1) / batchSize

	var children []string
	for b := 0; b < batches; b++ {
		size := batchSize
		if remaining := limit - b*batchSize; remaining < size {
			size = remaining
		}

		childRun, err := c.store.CreateRun(ctx, jobs.JobAIEnrich, nil, map[string]any{
			"parent_execution_uuid": parentUUID,
		})
		if err != nil {
			return stats, err
		}
		children = append(children, childRun.ExecutionUUID)

		var batchStats jobs.Stats
		trackErr := c.tracker.Track(ctx, childRun.ExecutionUUID, func(ctx context.Context) (jobs.Stats, error) {
			s, err := c.inner.Run(ctx, jobs.Options{Limit: size, DryRun: opts.DryRun})
			batchStats = s
			return s, err
		})

		stats.Input += batchStats.Input
		stats.Inserted += batchStats.Inserted
		stats.Skipped += batchStats.Skipped
		stats.Errors += batchStats.Errors
		for reason, n := range batchStats.SkipBreakdown {
			stats.SkipBreakdown[reason] += n
		}
		if trackErr != nil {
			zap.L().Error("enrichment batch failed",
				zap.String("execution_uuid", childRun.ExecutionUUID), zap.Error(trackErr))
			break
		}
		// No point starting another batch once targets ran out or a
		// gate closed the day.
		if batchStats.Input < size ||
			batchStats.SkipBreakdown[skipUsageLimit] > 0 ||
			batchStats.SkipBreakdown[skipMissingAPIKey] > 0 {
			break
		}
	}

	stats.Metadata["daily_record_limit"] = limit
	stats.Metadata["child_execution_uuids"] = children
	return stats, nil
}
