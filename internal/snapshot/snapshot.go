// Package snapshot implements project snapshot-and-undo: JSON images of
// a project and its child rows that can be restored later.
package snapshot

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/db"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/store"
)

// Sentinel errors mapped to API responses by the server layer.
var (
	ErrProjectNotFound  = eris.New("snapshot: project not found")
	ErrSnapshotNotFound = eris.New("snapshot: snapshot not found")
	ErrNoSnapshots      = eris.New("snapshot: no snapshots to undo")
	ErrWrongProject     = eris.New("snapshot: snapshot belongs to another project")
)

// Service captures and restores project images.
type Service struct {
	store store.Store
}

func New(st store.Store) *Service {
	return &Service{store: st}
}

// Capture takes a snapshot of the project's current state. Bulk-edit
// callers use this before mutating so the edit stays reversible.
func (s *Service) Capture(ctx context.Context, projectID int64, createdBy string, source model.SnapshotSource, reason string) (*model.ProjectSnapshot, error) {
	tx, err := s.store.Pool().Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	snap, err := s.captureInTx(ctx, tx, projectID, createdBy, source, reason)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "snapshot: commit")
	}

	zap.L().Info("project snapshot captured",
		zap.Int64("project_id", projectID),
		zap.Int64("snapshot_id", snap.ID),
		zap.String("source", string(source)))
	return snap, nil
}

// captureInTx reads the locked project image and inserts the snapshot row
// inside the caller's transaction.
func (s *Service) captureInTx(ctx context.Context, q db.Querier, projectID int64, createdBy string, source model.SnapshotSource, reason string) (*model.ProjectSnapshot, error) {
	project, err := s.store.GetProjectForUpdate(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, ErrProjectNotFound
	}
	companies, err := s.store.ListProjectCompanies(ctx, q, projectID)
	if err != nil {
		return nil, err
	}

	snap := &model.ProjectSnapshot{
		ProjectID: projectID,
		Data:      buildData(project, companies),
		CreatedBy: createdBy,
		Source:    source,
		Reason:    reason,
	}
	if err := s.store.CreateSnapshot(ctx, q, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Restore writes a stored image back over the project. The pre-restore
// state is snapshotted first with source=restore, so a restore is itself
// undoable.
func (s *Service) Restore(ctx context.Context, projectID, snapshotID int64, restoredBy string) (*model.ProjectSnapshot, error) {
	target, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrSnapshotNotFound
	}
	if target.ProjectID != projectID {
		return nil, ErrWrongProject
	}
	return s.apply(ctx, projectID, target, restoredBy, model.SnapshotRestore, "")
}

// Undo rolls the project back to its most recent snapshot.
func (s *Service) Undo(ctx context.Context, projectID int64, undoneBy string) (*model.ProjectSnapshot, error) {
	latest, err := s.store.LatestSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNoSnapshots
	}
	return s.apply(ctx, projectID, latest, undoneBy, model.SnapshotUndo, "undo")
}

// apply snapshots the current state, then overwrites the project with the
// target image, in one transaction.
func (s *Service) apply(ctx context.Context, projectID int64, target *model.ProjectSnapshot, actor string, source model.SnapshotSource, reason string) (*model.ProjectSnapshot, error) {
	tx, err := s.store.Pool().Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := s.captureInTx(ctx, tx, projectID, actor, source, reason); err != nil {
		return nil, err
	}
	if err := s.store.RestoreProject(ctx, tx, projectID, target.Data); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "snapshot: commit")
	}

	zap.L().Info("project restored from snapshot",
		zap.Int64("project_id", projectID),
		zap.Int64("snapshot_id", target.ID),
		zap.String("source", string(source)))
	return target, nil
}

// List returns recent snapshots for a project, newest first.
func (s *Service) List(ctx context.Context, projectID int64, limit int) ([]model.ProjectSnapshot, error) {
	return s.store.ListSnapshots(ctx, projectID, limit)
}

func buildData(project *model.Project, companies []model.ProjectCompany) model.SnapshotData {
	data := model.SnapshotData{
		Project: model.SnapshotProject{
			Name:        project.Name,
			Description: project.Description,
			Status:      project.Status,
		},
		Companies: make([]model.SnapshotCompany, 0, len(companies)),
	}
	for _, pc := range companies {
		data.Companies = append(data.Companies, model.SnapshotCompany{
			ID:           pc.ID,
			CompanyID:    pc.CompanyID,
			Status:       pc.Status,
			Memo:         pc.Memo,
			DisplayOrder: pc.DisplayOrder,
		})
	}
	return data
}
