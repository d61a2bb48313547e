package jobs

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/clock"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/store"
)

const maxErrorSummary = 512

type executionUUIDKey struct{}

// WithExecutionUUID binds a run's execution UUID to the context.
func WithExecutionUUID(ctx context.Context, uuid string) context.Context {
	return context.WithValue(ctx, executionUUIDKey{}, uuid)
}

// ExecutionUUIDFromContext returns the execution UUID of the run the body
// is executing under, or "" outside a tracked run.
func ExecutionUUIDFromContext(ctx context.Context) string {
	uuid, _ := ctx.Value(executionUUIDKey{}).(string)
	return uuid
}

// Stats is what a job body reports back to the ledger.
type Stats struct {
	Input         int
	Inserted      int
	Skipped       int
	Errors        int
	SkipBreakdown map[string]int
	Metadata      map[string]any
}

// Tracker runs a job body inside the ledger contract: mark RUNNING on
// entry, seal SUCCESS or FAILURE on exit, panics included.
type Tracker struct {
	store    store.Store
	clk      clock.Clock
	schedule *Schedule
}

func NewTracker(st store.Store, clk clock.Clock, schedule *Schedule) *Tracker {
	return &Tracker{store: st, clk: clk, schedule: schedule}
}

// Track executes body for the run identified by executionUUID. Re-entry
// on an already-sealed run is a no-op; a RUNNING run is resumed.
func (t *Tracker) Track(ctx context.Context, executionUUID string, body func(context.Context) (Stats, error)) (err error) {
	if executionUUID == "" {
		return eris.New("jobs: track called without execution uuid")
	}

	run, err := t.store.GetRunByUUID(ctx, executionUUID)
	if err != nil {
		return err
	}
	if run == nil {
		return eris.Errorf("jobs: no run for execution uuid %s", executionUUID)
	}

	switch run.Status {
	case model.RunQueued:
		if err := t.store.MarkRunRunning(ctx, executionUUID, t.clk.Now()); err != nil {
			return err
		}
	case model.RunRunning:
		// Resumed after a worker died mid-run; the body is idempotent
		// because ingestion suppresses repeats.
		zap.L().Warn("resuming run already marked running",
			zap.String("execution_uuid", executionUUID))
	default:
		zap.L().Info("run already sealed, skipping",
			zap.String("execution_uuid", executionUUID),
			zap.String("status", string(run.Status)))
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			sealErr := t.seal(ctx, run, Stats{}, eris.Errorf("panic: %v", r))
			if sealErr != nil {
				zap.L().Error("sealing panicked run failed", zap.Error(sealErr))
			}
			err = eris.Errorf("jobs: run %s panicked: %v", executionUUID, r)
		}
	}()

	stats, bodyErr := body(WithExecutionUUID(ctx, executionUUID))
	if sealErr := t.seal(ctx, run, stats, bodyErr); sealErr != nil {
		return sealErr
	}
	return bodyErr
}

// seal writes the terminal ledger row. The ledger update runs outside the
// body's transactions so it survives a body rollback.
func (t *Tracker) seal(ctx context.Context, run *model.Run, stats Stats, bodyErr error) error {
	now := t.clk.Now()
	result := store.RunResult{
		Status:        model.RunSuccess,
		InputCount:    stats.Input,
		InsertedCount: stats.Inserted,
		SkippedCount:  stats.Skipped,
		ErrorCount:    stats.Errors,
		SkipBreakdown: stats.SkipBreakdown,
		Metadata:      stats.Metadata,
	}
	if bodyErr != nil {
		result.Status = model.RunFailure
		result.ErrorSummary = truncateSummary(bodyErr.Error())
	}
	if t.schedule != nil {
		result.NextScheduledFor = t.schedule.Next(run.JobName, now)
	}

	if err := t.store.CompleteRun(ctx, run.ExecutionUUID, now, result); err != nil {
		return err
	}
	zap.L().Info("run sealed",
		zap.String("job", run.JobName),
		zap.String("execution_uuid", run.ExecutionUUID),
		zap.String("status", string(result.Status)),
		zap.Int("input", stats.Input),
		zap.Int("inserted", stats.Inserted),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
	)
	return nil
}

func truncateSummary(s string) string {
	if len(s) <= maxErrorSummary {
		return s
	}
	return s[:maxErrorSummary]
}

// Summary renders the human-readable one-liner attached to run logs.
func (s Stats) Summary() string {
	return fmt.Sprintf("input=%d inserted=%d skipped=%d errors=%d",
		s.Input, s.Inserted, s.Skipped, s.Errors)
}
