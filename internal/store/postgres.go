package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist-enrich/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest paths of the ingest gate and run ledger.
var preparedStatements = map[string]string{
	"get_company":          `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`,
	"has_blocked":          `SELECT EXISTS (SELECT 1 FROM update_candidates WHERE company_id = $1 AND field = $2 AND value_hash = $3 AND status = 'rejected' AND block_reproposal)`,
	"has_pending":          `SELECT EXISTS (SELECT 1 FROM update_candidates WHERE company_id = $1 AND field = $2 AND value_hash = $3 AND status = 'pending')`,
	"has_active_run":       `SELECT EXISTS (SELECT 1 FROM data_collection_runs WHERE job_name = $1 AND status IN ('QUEUED', 'RUNNING'))`,
	"get_run_by_uuid":      `SELECT ` + runColumns + ` FROM data_collection_runs WHERE execution_uuid = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns the pool's
// lifecycle.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for transaction-scoped work.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                      BIGSERIAL PRIMARY KEY,
	corporate_number        TEXT NOT NULL DEFAULT '',
	name                    TEXT NOT NULL,
	industry                TEXT NOT NULL DEFAULT '',
	contact_person_name     TEXT NOT NULL DEFAULT '',
	contact_person_position TEXT NOT NULL DEFAULT '',
	prefecture              TEXT NOT NULL DEFAULT '',
	city                    TEXT NOT NULL DEFAULT '',
	capital                 BIGINT,
	employee_count          BIGINT,
	revenue                 BIGINT,
	established_year        BIGINT,
	website_url             TEXT NOT NULL DEFAULT '',
	phone                   TEXT NOT NULL DEFAULT '',
	email                   TEXT NOT NULL DEFAULT '',
	business_description    TEXT NOT NULL DEFAULT '',
	notes                   TEXT NOT NULL DEFAULT '',
	ai_last_enriched_at     TIMESTAMPTZ,
	ai_last_enriched_source TEXT NOT NULL DEFAULT '',
	next_retry_strategy     TEXT NOT NULL DEFAULT '',
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_corporate_number ON companies(corporate_number);

CREATE TABLE IF NOT EXISTS external_source_records (
	id              BIGSERIAL PRIMARY KEY,
	company_id      BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	field           TEXT NOT NULL,
	source          TEXT NOT NULL,
	last_fetched_at TIMESTAMPTZ NOT NULL,
	content_hash    TEXT NOT NULL DEFAULT '',
	metadata        JSONB,
	UNIQUE (company_id, field, source)
);

CREATE TABLE IF NOT EXISTS update_candidates (
	id                      BIGSERIAL PRIMARY KEY,
	company_id              BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	field                   TEXT NOT NULL,
	candidate_value         TEXT NOT NULL,
	value_hash              TEXT NOT NULL,
	source_kind             TEXT NOT NULL,
	source_detail           TEXT NOT NULL DEFAULT '',
	confidence              INTEGER NOT NULL DEFAULT 0,
	status                  TEXT NOT NULL DEFAULT 'pending',
	collected_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	merged_at               TIMESTAMPTZ,
	rejected_at             TIMESTAMPTZ,
	rejection_reason_code   TEXT NOT NULL DEFAULT 'none',
	rejection_reason_detail TEXT NOT NULL DEFAULT '',
	block_reproposal        BOOLEAN NOT NULL DEFAULT false,
	source_company_name     TEXT NOT NULL DEFAULT '',
	source_corporate_number TEXT NOT NULL DEFAULT '',
	metadata                JSONB
);

CREATE INDEX IF NOT EXISTS idx_candidates_company_field ON update_candidates(company_id, field);
CREATE INDEX IF NOT EXISTS idx_candidates_status ON update_candidates(status);
CREATE INDEX IF NOT EXISTS idx_candidates_block ON update_candidates(company_id, field, value_hash)
	WHERE status = 'rejected' AND block_reproposal;

CREATE TABLE IF NOT EXISTS review_batches (
	id          BIGSERIAL PRIMARY KEY,
	company_id  BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	status      TEXT NOT NULL DEFAULT 'pending',
	assigned_to TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_batches_one_open_per_company ON review_batches(company_id)
	WHERE status IN ('pending', 'in_review');

CREATE TABLE IF NOT EXISTS review_items (
	id              BIGSERIAL PRIMARY KEY,
	batch_id        BIGINT NOT NULL REFERENCES review_batches(id) ON DELETE CASCADE,
	candidate_id    BIGINT NOT NULL REFERENCES update_candidates(id) ON DELETE RESTRICT,
	field           TEXT NOT NULL,
	current_value   TEXT NOT NULL DEFAULT '',
	candidate_value TEXT NOT NULL,
	confidence      INTEGER NOT NULL DEFAULT 0,
	decision        TEXT NOT NULL DEFAULT 'pending',
	comment         TEXT NOT NULL DEFAULT '',
	decided_by      TEXT NOT NULL DEFAULT '',
	decided_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_review_items_batch ON review_items(batch_id);

CREATE TABLE IF NOT EXISTS update_history (
	id          BIGSERIAL PRIMARY KEY,
	company_id  BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	field       TEXT NOT NULL,
	old_value   TEXT NOT NULL DEFAULT '',
	new_value   TEXT NOT NULL DEFAULT '',
	source_kind TEXT NOT NULL,
	approved_by TEXT NOT NULL DEFAULT '',
	comment     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_history_company ON update_history(company_id);

CREATE TABLE IF NOT EXISTS data_collection_runs (
	id                 BIGSERIAL PRIMARY KEY,
	execution_uuid     TEXT NOT NULL UNIQUE,
	job_name           TEXT NOT NULL,
	data_source        TEXT[] NOT NULL DEFAULT '{}',
	status             TEXT NOT NULL DEFAULT 'QUEUED',
	started_at         TIMESTAMPTZ,
	finished_at        TIMESTAMPTZ,
	duration_seconds   INTEGER,
	input_count        INTEGER NOT NULL DEFAULT 0,
	inserted_count     INTEGER NOT NULL DEFAULT 0,
	skipped_count      INTEGER NOT NULL DEFAULT 0,
	error_count        INTEGER NOT NULL DEFAULT 0,
	skip_breakdown     JSONB,
	error_summary      TEXT NOT NULL DEFAULT '',
	metadata           JSONB,
	next_scheduled_for TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_job_status ON data_collection_runs(job_name, status);
CREATE INDEX IF NOT EXISTS idx_runs_created ON data_collection_runs(created_at DESC);

CREATE TABLE IF NOT EXISTS job_definitions (
	name                 TEXT PRIMARY KEY,
	label                TEXT NOT NULL,
	task_type            TEXT NOT NULL,
	default_sources      TEXT[] NOT NULL DEFAULT '{}',
	supports_company_ids BOOLEAN NOT NULL DEFAULT false,
	supports_source_keys BOOLEAN NOT NULL DEFAULT false,
	beat_schedule_key    TEXT NOT NULL DEFAULT '',
	enabled              BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS projects (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS project_companies (
	id            BIGSERIAL PRIMARY KEY,
	project_id    BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	company_id    BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	status        TEXT NOT NULL DEFAULT '',
	memo          TEXT NOT NULL DEFAULT '',
	display_order INTEGER NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, company_id)
);

CREATE TABLE IF NOT EXISTS project_snapshots (
	id         BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	data       JSONB NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_project ON project_snapshots(project_id, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
