package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/saleslist-enrich/internal/jobs"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/store"
)

type triggerRequest struct {
	JobName string       `json:"job_name"`
	Options jobs.Options `json:"options"`
}

type triggerResponse struct {
	ExecutionUUID    string                `json:"execution_uuid"`
	Run              *model.Run            `json:"run"`
	NextScheduledFor *time.Time            `json:"next_scheduled_for"`
	Schedules        map[string]*time.Time `json:"schedules"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.JobName == "" {
		badRequest(w, "job_name is required")
		return
	}

	run, err := s.enqueuer.EnqueueJob(r.Context(), req.JobName, req.Options)
	if err != nil {
		respondError(w, err)
		return
	}

	now := s.clk.Now()
	schedules, _ := s.schedule.All(now)
	respondJSON(w, http.StatusAccepted, triggerResponse{
		ExecutionUUID:    run.ExecutionUUID,
		Run:              run,
		NextScheduledFor: s.schedule.Next(req.JobName, now),
		Schedules:        schedules,
	})
}

type runListResponse struct {
	Runs             []model.Run           `json:"runs"`
	NextScheduledFor *time.Time            `json:"next_scheduled_for"`
	Schedules        map[string]*time.Time `json:"schedules"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		JobName: q.Get("job_name"),
		Status:  model.RunStatus(q.Get("status")),
		Limit:   intParam(q.Get("limit")),
		Offset:  intParam(q.Get("offset")),
	}

	var err error
	if filter.StartedAfter, err = timeParam(q.Get("started_after")); err != nil {
		badRequest(w, "started_after must be RFC 3339")
		return
	}
	if filter.StartedBefore, err = timeParam(q.Get("started_before")); err != nil {
		badRequest(w, "started_before must be RFC 3339")
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}

	schedules, earliest := s.schedule.All(s.clk.Now())
	respondJSON(w, http.StatusOK, runListResponse{
		Runs:             runs,
		NextScheduledFor: earliest,
		Schedules:        schedules,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	executionUUID := chi.URLParam(r, "execution_uuid")
	run, err := s.store.GetRunByUUID(r.Context(), executionUUID)
	if err != nil {
		respondError(w, err)
		return
	}
	if run == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	u, err := s.meter.Snapshot(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func intParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func timeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
