// Package server exposes the pipeline's HTTP API: job triggers, the run
// ledger, review decisions, and project snapshots.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/clock"
	"github.com/sells-group/saleslist-enrich/internal/ingest"
	"github.com/sells-group/saleslist-enrich/internal/jobs"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/review"
	"github.com/sells-group/saleslist-enrich/internal/snapshot"
	"github.com/sells-group/saleslist-enrich/internal/store"
	"github.com/sells-group/saleslist-enrich/internal/usage"
)

// Enqueuer triggers jobs. Satisfied by jobs.Runner.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, name string, opts jobs.Options) (*model.Run, error)
}

// Decider applies review decisions. Satisfied by review.Reviewer.
type Decider interface {
	Decide(ctx context.Context, req review.DecideRequest) (*review.Result, error)
}

// Gate ingests candidate entries. Satisfied by ingest.Ingestor.
type Gate interface {
	Ingest(ctx context.Context, e ingest.Entry) (ingest.Outcome, error)
}

// Snapshots is the project snapshot surface. Satisfied by snapshot.Service.
type Snapshots interface {
	Capture(ctx context.Context, projectID int64, createdBy string, source model.SnapshotSource, reason string) (*model.ProjectSnapshot, error)
	Restore(ctx context.Context, projectID, snapshotID int64, restoredBy string) (*model.ProjectSnapshot, error)
	Undo(ctx context.Context, projectID int64, undoneBy string) (*model.ProjectSnapshot, error)
	List(ctx context.Context, projectID int64, limit int) ([]model.ProjectSnapshot, error)
}

// UsageReporter reads the monthly AI usage counters.
type UsageReporter interface {
	Snapshot(ctx context.Context) (usage.Usage, error)
}

// Server wires the API handlers to their collaborators.
type Server struct {
	store     store.Store
	enqueuer  Enqueuer
	decider   Decider
	gate      Gate
	snapshots Snapshots
	meter     UsageReporter
	schedule  *jobs.Schedule
	clk       clock.Clock
}

func New(st store.Store, enqueuer Enqueuer, decider Decider, gate Gate, snapshots Snapshots, meter UsageReporter, schedule *jobs.Schedule, clk clock.Clock) *Server {
	return &Server{
		store: st, enqueuer: enqueuer, decider: decider, gate: gate,
		snapshots: snapshots, meter: meter, schedule: schedule, clk: clk,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/data-collection", func(r chi.Router) {
		r.Post("/trigger", s.handleTrigger)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{execution_uuid}", s.handleGetRun)
		r.Get("/usage", s.handleUsage)
	})

	r.Route("/companies/reviews", func(r chi.Router) {
		r.Get("/", s.handleListReviews)
		r.Get("/{id}", s.handleGetReview)
		r.Post("/{id}/decide", s.handleDecide)
		r.Post("/import-corporate-numbers", s.handleImportCorporateNumbers)
	})

	r.Route("/projects/{id}", func(r chi.Router) {
		r.Get("/snapshots", s.handleListSnapshots)
		r.Post("/snapshots", s.handleCaptureSnapshot)
		r.Post("/restore", s.handleRestore)
		r.Post("/undo", s.handleUndo)
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain sentinels to HTTP statuses. Unknown errors are
// internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrUnknownJob),
		errors.Is(err, jobs.ErrJobDisabled),
		errors.Is(err, jobs.ErrUnsupportedOption),
		errors.Is(err, review.ErrNoItems),
		errors.Is(err, review.ErrUnknownDecision),
		errors.Is(err, review.ErrEmptyNewValue),
		errors.Is(err, review.ErrInvalidReason),
		errors.Is(err, review.ErrItemNotInBatch):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrActiveRun),
		errors.Is(err, review.ErrBatchClosed):
		return http.StatusConflict
	case errors.Is(err, review.ErrBatchNotFound),
		errors.Is(err, review.ErrItemNotFound),
		errors.Is(err, review.ErrCandidateNotFound),
		errors.Is(err, snapshot.ErrProjectNotFound),
		errors.Is(err, snapshot.ErrSnapshotNotFound),
		errors.Is(err, snapshot.ErrWrongProject),
		errors.Is(err, snapshot.ErrNoSnapshots):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}

var errBadBody = errors.New("invalid request body")

func badRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
