package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/queue"
)

type createJobRequest struct {
	Family  string       `json:"family"`
	Variant string       `json:"variant"`
	Input   domain.Input `json:"input"`
}

type jobListResponse struct {
	Jobs []domain.Job `json:"jobs"`
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := a.Engine.Jobs()
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		want := domain.JobStatus(strings.ToLower(raw))
		if !want.Valid() {
			a.error(w, http.StatusBadRequest, "bad_request", "unknown status filter")
			return
		}
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Status == want {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	a.json(w, http.StatusOK, jobListResponse{Jobs: jobs})
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	family, err := domain.ParseFamily(req.Family)
	if err != nil {
		a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	job, err := a.Engine.Enqueue(r.Context(), queue.EnqueueRequest{
		Family:  family,
		Variant: req.Variant,
		Input:   req.Input,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, job)
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Engine.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) CancelAllJobs(w http.ResponseWriter, r *http.Request) {
	n := a.Engine.CancelAll(r.Context())
	a.json(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	removed, err := a.Engine.Remove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string][]string{"removed": removed})
}

func (a *App) LastResult(w http.ResponseWriter, r *http.Request) {
	last, ok := a.Engine.LastResult()
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "no result yet")
		return
	}
	a.json(w, http.StatusOK, last)
}
