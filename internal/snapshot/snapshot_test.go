package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/store"
)

func newService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(store.NewPostgresFromPool(mock)), mock
}

func expectProjectLock(mock pgxmock.PgxPoolIface, id int64) {
	now := time.Now()
	mock.ExpectQuery(`(?s)SELECT id, name, .+ FROM projects WHERE id = \$1\s+FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(mock.NewRows([]string{
			"id", "name", "description", "status", "created_at", "updated_at",
		}).AddRow(id, "新規開拓リスト", "製造業向け", "active", now, now))
}

func expectProjectCompanies(mock pgxmock.PgxPoolIface, projectID int64) {
	now := time.Now()
	mock.ExpectQuery(`(?s)SELECT id, project_id, .+ FROM project_companies WHERE project_id = \$1`).
		WithArgs(projectID).
		WillReturnRows(mock.NewRows([]string{
			"id", "project_id", "company_id", "status", "memo", "display_order", "updated_at",
		}).
			AddRow(int64(11), projectID, int64(101), "contacted", "初回架電済", 1, now).
			AddRow(int64(12), projectID, int64(102), "pending", "", 2, now))
}

func expectSnapshotInsert(mock pgxmock.PgxPoolIface, projectID, snapID int64, source string) {
	mock.ExpectQuery(`(?s)INSERT INTO project_snapshots`).
		WithArgs(projectID, pgxmock.AnyArg(), pgxmock.AnyArg(), source, pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(snapID, time.Now()))
}

func TestCapture(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	expectProjectLock(mock, 5)
	expectProjectCompanies(mock, 5)
	expectSnapshotInsert(mock, 5, 31, "bulk_edit")
	mock.ExpectCommit()

	snap, err := svc.Capture(context.Background(), 5, "operator", model.SnapshotBulkEdit, "一括ステータス変更前")
	require.NoError(t, err)

	assert.Equal(t, int64(31), snap.ID)
	assert.Equal(t, model.SnapshotBulkEdit, snap.Source)
	assert.Equal(t, "新規開拓リスト", snap.Data.Project.Name)
	require.Len(t, snap.Data.Companies, 2)
	assert.Equal(t, int64(101), snap.Data.Companies[0].CompanyID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaptureProjectNotFound(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT id, name, .+ FROM projects WHERE id = \$1\s+FOR UPDATE`).
		WithArgs(int64(99)).
		WillReturnRows(mock.NewRows([]string{
			"id", "name", "description", "status", "created_at", "updated_at",
		}))
	mock.ExpectRollback()

	_, err := svc.Capture(context.Background(), 99, "operator", model.SnapshotManual, "")
	assert.ErrorIs(t, err, ErrProjectNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreWrongProject(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectQuery(`SELECT .+ FROM project_snapshots WHERE id = \$1`).
		WithArgs(int64(31)).
		WillReturnRows(mock.NewRows([]string{
			"id", "project_id", "data", "created_by", "source", "reason", "created_at",
		}).AddRow(int64(31), int64(7), []byte(`{"project":{"name":"X"},"companies":[]}`),
			"operator", "snapshot", "", time.Now()))

	_, err := svc.Restore(context.Background(), 5, 31, "operator")
	assert.ErrorIs(t, err, ErrWrongProject)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUndoNoSnapshots(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM project_snapshots\s+WHERE project_id = \$1\s+ORDER BY created_at DESC`).
		WithArgs(int64(5)).
		WillReturnRows(mock.NewRows([]string{
			"id", "project_id", "data", "created_by", "source", "reason", "created_at",
		}))

	_, err := svc.Undo(context.Background(), 5, "operator")
	assert.ErrorIs(t, err, ErrNoSnapshots)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUndoRestoresLatest(t *testing.T) {
	svc, mock := newService(t)

	data := []byte(`{"project":{"name":"旧リスト名","status":"active"},` +
		`"companies":[{"id":11,"company_id":101,"status":"pending","display_order":1}]}`)
	mock.ExpectQuery(`(?s)SELECT .+ FROM project_snapshots\s+WHERE project_id = \$1\s+ORDER BY created_at DESC`).
		WithArgs(int64(5)).
		WillReturnRows(mock.NewRows([]string{
			"id", "project_id", "data", "created_by", "source", "reason", "created_at",
		}).AddRow(int64(31), int64(5), data, "operator", "bulk_edit", "", time.Now()))

	mock.ExpectBegin()
	// Current state is captured first so the undo itself can be undone.
	expectProjectLock(mock, 5)
	expectProjectCompanies(mock, 5)
	expectSnapshotInsert(mock, 5, 32, "undo")
	mock.ExpectExec(`UPDATE projects SET name = \$1`).
		WithArgs("旧リスト名", "", "active", int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM project_companies WHERE project_id = \$1`).
		WithArgs(int64(5), []int64{101}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`(?s)INSERT INTO project_companies`).
		WithArgs(int64(5), int64(101), "pending", "", 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	snap, err := svc.Undo(context.Background(), 5, "operator")
	require.NoError(t, err)

	assert.Equal(t, int64(31), snap.ID)
	assert.Equal(t, "旧リスト名", snap.Data.Project.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}
