package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/saleslist-enrich/internal/model"
)

func projectID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		badRequest(w, "invalid project id")
		return
	}
	snaps, err := s.snapshots.List(r.Context(), id, intParam(r.URL.Query().Get("limit")))
	if err != nil {
		respondError(w, err)
		return
	}
	if snaps == nil {
		snaps = []model.ProjectSnapshot{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

type captureRequest struct {
	CreatedBy string `json:"created_by,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleCaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		badRequest(w, "invalid project id")
		return
	}
	var req captureRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	snap, err := s.snapshots.Capture(r.Context(), id, req.CreatedBy, model.SnapshotManual, req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

type restoreRequest struct {
	SnapshotID int64  `json:"snapshot_id"`
	RestoredBy string `json:"restored_by,omitempty"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		badRequest(w, "invalid project id")
		return
	}
	var req restoreRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.SnapshotID == 0 {
		badRequest(w, "snapshot_id is required")
		return
	}
	snap, err := s.snapshots.Restore(r.Context(), id, req.SnapshotID, req.RestoredBy)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type undoRequest struct {
	UndoneBy string `json:"undone_by,omitempty"`
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		badRequest(w, "invalid project id")
		return
	}
	var req undoRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	snap, err := s.snapshots.Undo(r.Context(), id, req.UndoneBy)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
