package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/saleslist-enrich/internal/ingest"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/review"
	"github.com/sells-group/saleslist-enrich/internal/store"
)

// batchView is a batch plus its items, the shape both list and get return.
type batchView struct {
	model.ReviewBatch
	Items []model.ReviewItem `json:"items"`
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.BatchFilter{
		Status:    model.BatchStatus(q.Get("status")),
		Field:     q.Get("field"),
		CompanyID: int64(intParam(q.Get("company_id"))),
		Limit:     intParam(q.Get("limit")),
		Offset:    intParam(q.Get("offset")),
	}
	// Open batches by default; an explicit status widens the view.
	filter.OpenOnly = filter.Status == ""

	batches, err := s.store.ListBatches(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		items, err := s.store.ListBatchItems(r.Context(), b.ID)
		if err != nil {
			respondError(w, err)
			return
		}
		if items == nil {
			items = []model.ReviewItem{}
		}
		views = append(views, batchView{ReviewBatch: b, Items: items})
	}
	respondJSON(w, http.StatusOK, map[string]any{"batches": views})
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "invalid batch id")
		return
	}

	batch, err := s.store.GetBatch(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if batch == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}
	items, err := s.store.ListBatchItems(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if items == nil {
		items = []model.ReviewItem{}
	}
	respondJSON(w, http.StatusOK, batchView{ReviewBatch: *batch, Items: items})
}

type decideRequest struct {
	DecidedBy string               `json:"decided_by"`
	Items     []review.ItemRequest `json:"items"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "invalid batch id")
		return
	}

	var req decideRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	result, err := s.decider.Decide(r.Context(), review.DecideRequest{
		BatchID:   id,
		DecidedBy: req.DecidedBy,
		Items:     req.Items,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type importEntry struct {
	CompanyID       int64  `json:"company_id"`
	CorporateNumber string `json:"corporate_number"`
	SourceDetail    string `json:"source_detail,omitempty"`
}

type importRequest struct {
	Entries []importEntry `json:"entries"`
}

// handleImportCorporateNumbers is the manual bulk entry point: each row
// runs through the same ingest gate as the collectors.
func (s *Server) handleImportCorporateNumbers(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if len(req.Entries) == 0 {
		badRequest(w, "entries is required")
		return
	}

	created := 0
	for _, e := range req.Entries {
		outcome, err := s.gate.Ingest(r.Context(), ingest.Entry{
			CompanyID:    e.CompanyID,
			Field:        model.FieldCorporateNumber,
			Value:        e.CorporateNumber,
			SourceKind:   model.SourceManual,
			Source:       "manual-import",
			SourceDetail: e.SourceDetail,
		})
		if err != nil {
			respondError(w, err)
			return
		}
		if outcome.Created() {
			created++
		}
	}
	respondJSON(w, http.StatusCreated, map[string]int{"created_count": created})
}
