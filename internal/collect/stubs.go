package collect

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/jobs"
)

// FacebookSyncCollector is a placeholder body keeping the ledger contract
// for the facebook job until the integration is configured.
type FacebookSyncCollector struct {
	token string
}

func NewFacebookSyncCollector(token string) *FacebookSyncCollector {
	return &FacebookSyncCollector{token: token}
}

func (c *FacebookSyncCollector) Run(_ context.Context, _ jobs.Options) (jobs.Stats, error) {
	if c.token == "" {
		zap.L().Warn("facebook sync skipped, no token configured")
		return jobs.Stats{SkipBreakdown: map[string]int{skipMissingToken: 1}}, nil
	}
	// Metrics sync is handled by an external collaborator; the job exists
	// so schedules and the ledger stay consistent.
	return jobs.Stats{}, nil
}

// AIStubCollector completes immediately. It keeps a queue binding alive
// for smoke-testing worker deployments.
type AIStubCollector struct{}

func (c AIStubCollector) Run(_ context.Context, _ jobs.Options) (jobs.Stats, error) {
	return jobs.Stats{Metadata: map[string]any{"stub": true}}, nil
}
