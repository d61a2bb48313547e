package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist-enrich/internal/model"
)

const runColumns = `id, execution_uuid, job_name, data_source, status, started_at,
	finished_at, duration_seconds, input_count, inserted_count, skipped_count,
	error_count, skip_breakdown, error_summary, metadata, next_scheduled_for,
	created_at, updated_at`

func scanRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var skipJSON, metaJSON []byte
	err := row.Scan(&r.ID, &r.ExecutionUUID, &r.JobName, &r.DataSource, &r.Status,
		&r.StartedAt, &r.FinishedAt, &r.DurationSeconds, &r.InputCount,
		&r.InsertedCount, &r.SkippedCount, &r.ErrorCount, &skipJSON,
		&r.ErrorSummary, &metaJSON, &r.NextScheduledFor, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(skipJSON) > 0 {
		if err := json.Unmarshal(skipJSON, &r.SkipBreakdown); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal skip breakdown")
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run metadata")
		}
	}
	return &r, nil
}

// CreateRun inserts a QUEUED ledger entry with a fresh execution UUID.
func (s *PostgresStore) CreateRun(ctx context.Context, jobName string, sources []string, metadata map[string]any) (*model.Run, error) {
	executionUUID := uuid.New().String()

	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal run metadata")
		}
	}
	if sources == nil {
		sources = []string{}
	}

	r, err := scanRun(s.pool.QueryRow(ctx,
		`INSERT INTO data_collection_runs (execution_uuid, job_name, data_source, status, metadata)
		 VALUES ($1, $2, $3, 'QUEUED', $4)
		 RETURNING `+runColumns,
		executionUUID, jobName, sources, metaJSON,
	))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create run")
	}
	return r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM data_collection_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get run %d", id)
	}
	return r, nil
}

func (s *PostgresStore) GetRunByUUID(ctx context.Context, executionUUID string) (*model.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM data_collection_runs WHERE execution_uuid = $1`,
		executionUUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", executionUUID)
	}
	return r, nil
}

// HasActiveRun reports whether the job already has a QUEUED or RUNNING run.
func (s *PostgresStore) HasActiveRun(ctx context.Context, jobName string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM data_collection_runs
		   WHERE job_name = $1 AND status IN ('QUEUED', 'RUNNING')
		 )`,
		jobName,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: has active run")
}

// MarkRunRunning transitions QUEUED → RUNNING. The status guard in the
// WHERE clause keeps the transition one-way.
func (s *PostgresStore) MarkRunRunning(ctx context.Context, executionUUID string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE data_collection_runs
		 SET status = 'RUNNING', started_at = $1, updated_at = now()
		 WHERE execution_uuid = $2 AND status = 'QUEUED'`,
		startedAt, executionUUID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark run running %s", executionUUID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not queued: %s", executionUUID)
	}
	return nil
}

// CompleteRun transitions RUNNING → SUCCESS|FAILURE and writes the final
// counters.
func (s *PostgresStore) CompleteRun(ctx context.Context, executionUUID string, finishedAt time.Time, result RunResult) error {
	if result.Status != model.RunSuccess && result.Status != model.RunFailure {
		return eris.Errorf("postgres: invalid terminal status %s", result.Status)
	}

	var skipJSON, metaJSON []byte
	var err error
	if result.SkipBreakdown != nil {
		if skipJSON, err = json.Marshal(result.SkipBreakdown); err != nil {
			return eris.Wrap(err, "postgres: marshal skip breakdown")
		}
	}
	if result.Metadata != nil {
		if metaJSON, err = json.Marshal(result.Metadata); err != nil {
			return eris.Wrap(err, "postgres: marshal run metadata")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE data_collection_runs SET
		   status = $1, finished_at = $2,
		   duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2 - started_at)))::int,
		   input_count = $3, inserted_count = $4, skipped_count = $5, error_count = $6,
		   skip_breakdown = $7, error_summary = $8, metadata = $9,
		   next_scheduled_for = $10, updated_at = now()
		 WHERE execution_uuid = $11 AND status = 'RUNNING'`,
		string(result.Status), finishedAt,
		result.InputCount, result.InsertedCount, result.SkippedCount, result.ErrorCount,
		skipJSON, result.ErrorSummary, metaJSON, result.NextScheduledFor, executionUUID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", executionUUID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not running: %s", executionUUID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM data_collection_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.JobName != "" {
		query += fmt.Sprintf(` AND job_name = $%d`, argIdx)
		args = append(args, filter.JobName)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.StartedAfter != nil {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, *filter.StartedAfter)
		argIdx++
	}
	if filter.StartedBefore != nil {
		query += fmt.Sprintf(` AND started_at < $%d`, argIdx)
		args = append(args, *filter.StartedBefore)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// UpsertJobDefinitions syncs the static job registry into the database so
// operators can toggle jobs without a deploy.
func (s *PostgresStore) UpsertJobDefinitions(ctx context.Context, defs []model.JobDefinition) error {
	for _, d := range defs {
		sources := d.DefaultSources
		if sources == nil {
			sources = []string{}
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO job_definitions
			 (name, label, task_type, default_sources, supports_company_ids, supports_source_keys, beat_schedule_key, enabled)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (name) DO UPDATE SET
			   label = $2, task_type = $3, default_sources = $4,
			   supports_company_ids = $5, supports_source_keys = $6, beat_schedule_key = $7`,
			d.Name, d.Label, d.TaskType, sources, d.SupportsCompanyIDs,
			d.SupportsSourceKeys, d.BeatScheduleKey, d.Enabled,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert job definition %s", d.Name)
		}
	}
	return nil
}

func (s *PostgresStore) ListJobDefinitions(ctx context.Context) ([]model.JobDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, label, task_type, default_sources, supports_company_ids,
		        supports_source_keys, beat_schedule_key, enabled
		 FROM job_definitions ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list job definitions")
	}
	defer rows.Close()

	var defs []model.JobDefinition
	for rows.Next() {
		var d model.JobDefinition
		if err := rows.Scan(&d.Name, &d.Label, &d.TaskType, &d.DefaultSources,
			&d.SupportsCompanyIDs, &d.SupportsSourceKeys, &d.BeatScheduleKey, &d.Enabled); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job definition")
		}
		defs = append(defs, d)
	}
	return defs, eris.Wrap(rows.Err(), "postgres: list job definitions iterate")
}
