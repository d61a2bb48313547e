package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist-enrich/internal/db"
	"github.com/sells-group/saleslist-enrich/internal/model"
)

// GetProjectForUpdate locks the project row, serializing snapshot and
// restore against concurrent edits.
func (s *PostgresStore) GetProjectForUpdate(ctx context.Context, q db.Querier, id int64) (*model.Project, error) {
	var p model.Project
	err := q.QueryRow(ctx,
		`SELECT id, name, description, status, created_at, updated_at
		 FROM projects WHERE id = $1
		 FOR UPDATE`,
		id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get project %d", id)
	}
	return &p, nil
}

func (s *PostgresStore) ListProjectCompanies(ctx context.Context, q db.Querier, projectID int64) ([]model.ProjectCompany, error) {
	rows, err := q.Query(ctx,
		`SELECT id, project_id, company_id, status, memo, display_order, updated_at
		 FROM project_companies WHERE project_id = $1
		 ORDER BY display_order, id`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list project companies")
	}
	defer rows.Close()

	var pcs []model.ProjectCompany
	for rows.Next() {
		var pc model.ProjectCompany
		if err := rows.Scan(&pc.ID, &pc.ProjectID, &pc.CompanyID, &pc.Status,
			&pc.Memo, &pc.DisplayOrder, &pc.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project company")
		}
		pcs = append(pcs, pc)
	}
	return pcs, eris.Wrap(rows.Err(), "postgres: list project companies iterate")
}

func (s *PostgresStore) CreateSnapshot(ctx context.Context, q db.Querier, snap *model.ProjectSnapshot) error {
	dataJSON, err := json.Marshal(snap.Data)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}

	err = q.QueryRow(ctx,
		`INSERT INTO project_snapshots (project_id, data, created_by, source, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		snap.ProjectID, dataJSON, snap.CreatedBy, string(snap.Source), snap.Reason,
	).Scan(&snap.ID, &snap.CreatedAt)
	return eris.Wrap(err, "postgres: create snapshot")
}

const snapshotColumns = `id, project_id, data, created_by, source, reason, created_at`

func scanSnapshot(row pgx.Row) (*model.ProjectSnapshot, error) {
	var snap model.ProjectSnapshot
	var dataJSON []byte
	err := row.Scan(&snap.ID, &snap.ProjectID, &dataJSON, &snap.CreatedBy,
		&snap.Source, &snap.Reason, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dataJSON, &snap.Data); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
	}
	return &snap, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, id int64) (*model.ProjectSnapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM project_snapshots WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get snapshot %d", id)
	}
	return snap, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, projectID int64) (*model.ProjectSnapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM project_snapshots
		 WHERE project_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest snapshot")
	}
	return snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, projectID int64, limit int) ([]model.ProjectSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM project_snapshots
		 WHERE project_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var snaps []model.ProjectSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		snaps = append(snaps, *snap)
	}
	return snaps, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

// RestoreProject rewrites the project and its child rows from a snapshot
// image. Children absent from the image are removed; present ones are
// upserted by company.
func (s *PostgresStore) RestoreProject(ctx context.Context, q db.Querier, projectID int64, data model.SnapshotData) error {
	tag, err := q.Exec(ctx,
		`UPDATE projects SET name = $1, description = $2, status = $3, updated_at = now()
		 WHERE id = $4`,
		data.Project.Name, data.Project.Description, data.Project.Status, projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: restore project %d", projectID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("project not found: %d", projectID)
	}

	keep := make([]int64, 0, len(data.Companies))
	for _, c := range data.Companies {
		keep = append(keep, c.CompanyID)
	}
	if _, err := q.Exec(ctx,
		`DELETE FROM project_companies WHERE project_id = $1 AND NOT (company_id = ANY($2))`,
		projectID, keep,
	); err != nil {
		return eris.Wrap(err, "postgres: prune project companies")
	}

	for _, c := range data.Companies {
		if _, err := q.Exec(ctx,
			`INSERT INTO project_companies (project_id, company_id, status, memo, display_order)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (project_id, company_id) DO UPDATE SET
			   status = $3, memo = $4, display_order = $5, updated_at = now()`,
			projectID, c.CompanyID, c.Status, c.Memo, c.DisplayOrder,
		); err != nil {
			return eris.Wrapf(err, "postgres: restore project company %d", c.CompanyID)
		}
	}
	return nil
}
