package model

import "time"

// RunStatus is the job ledger state. Transitions are one-way:
// QUEUED → RUNNING → SUCCESS | FAILURE.
type RunStatus string

const (
	RunQueued  RunStatus = "QUEUED"
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailure RunStatus = "FAILURE"
)

// Active reports whether the run still occupies its job slot.
func (s RunStatus) Active() bool {
	return s == RunQueued || s == RunRunning
}

// CanTransitionTo enforces run status monotonicity.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunQueued:
		return next == RunRunning
	case RunRunning:
		return next == RunSuccess || next == RunFailure
	}
	return false
}

// Run is one ledger entry for an execution of a named collection job.
type Run struct {
	ID               int64          `json:"id"`
	ExecutionUUID    string         `json:"execution_uuid"`
	JobName          string         `json:"job_name"`
	DataSource       []string       `json:"data_source,omitempty"`
	Status           RunStatus      `json:"status"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
	DurationSeconds  *int           `json:"duration_seconds,omitempty"`
	InputCount       int            `json:"input_count"`
	InsertedCount    int            `json:"inserted_count"`
	SkippedCount     int            `json:"skipped_count"`
	ErrorCount       int            `json:"error_count"`
	SkipBreakdown    map[string]int `json:"skip_breakdown,omitempty"`
	ErrorSummary     string         `json:"error_summary,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	NextScheduledFor *time.Time     `json:"next_scheduled_for,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// JobDefinition describes a registered collection job.
type JobDefinition struct {
	Name               string   `json:"name"`
	Label              string   `json:"label"`
	TaskType           string   `json:"task_type"`
	DefaultSources     []string `json:"default_sources,omitempty"`
	SupportsCompanyIDs bool     `json:"supports_company_ids"`
	SupportsSourceKeys bool     `json:"supports_source_keys"`
	BeatScheduleKey    string   `json:"beat_schedule_key,omitempty"`
	Enabled            bool     `json:"enabled"`
}
