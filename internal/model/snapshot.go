package model

import "time"

// SnapshotSource tags why a project snapshot was taken.
type SnapshotSource string

const (
	SnapshotBulkEdit SnapshotSource = "bulk_edit"
	SnapshotUpdate   SnapshotSource = "update"
	SnapshotUndo     SnapshotSource = "undo"
	SnapshotRestore  SnapshotSource = "restore"
	SnapshotManual   SnapshotSource = "snapshot"
)

// Project is the parent entity for snapshot-and-undo. Only the fields the
// snapshot payload covers live here.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectCompany is one child row of a project (a sales-list entry).
type ProjectCompany struct {
	ID           int64     `json:"id"`
	ProjectID    int64     `json:"project_id"`
	CompanyID    int64     `json:"company_id"`
	Status       string    `json:"status,omitempty"`
	Memo         string    `json:"memo,omitempty"`
	DisplayOrder int       `json:"display_order"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProjectSnapshot stores a JSON image of a project and its children so that
// bulk edits can be undone.
type ProjectSnapshot struct {
	ID        int64          `json:"id"`
	ProjectID int64          `json:"project_id"`
	Data      SnapshotData   `json:"data"`
	CreatedBy string         `json:"created_by,omitempty"`
	Source    SnapshotSource `json:"source"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SnapshotData is the JSON payload of a project snapshot.
type SnapshotData struct {
	Project   SnapshotProject   `json:"project"`
	Companies []SnapshotCompany `json:"companies"`
}

// SnapshotProject is the captured field subset of the parent.
type SnapshotProject struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// SnapshotCompany is the captured field subset of one child row.
type SnapshotCompany struct {
	ID           int64  `json:"id"`
	CompanyID    int64  `json:"company_id"`
	Status       string `json:"status,omitempty"`
	Memo         string `json:"memo,omitempty"`
	DisplayOrder int    `json:"display_order"`
}
