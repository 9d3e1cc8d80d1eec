// Package api provides HTTP handlers for the job orchestration API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms/internal/api/shared"
	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/health"
	"github.com/dbawebdesign/lailms/internal/orchestrator"
	"github.com/dbawebdesign/lailms/internal/platform/logger"
	"github.com/dbawebdesign/lailms/internal/recovery"
)

// JobHandler handles job-related HTTP requests.
type JobHandler struct {
	orch      *orchestrator.Orchestrator
	recovery  *recovery.Controller
	monitor   *health.Monitor
	validator *validator.Validate
	logger    *slog.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(
	orch *orchestrator.Orchestrator,
	recoveryController *recovery.Controller,
	monitor *health.Monitor,
	logger *slog.Logger,
) *JobHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for JobHandler")
	}

	return &JobHandler{
		orch:      orch,
		recovery:  recoveryController,
		monitor:   monitor,
		validator: validator.New(),
		logger:    logger.With(slog.String("component", "job_handler")),
	}
}

// parseJobID extracts and parses the {id} URL parameter. On failure it
// writes the error response and returns false.
func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID format")
		return uuid.Nil, false
	}
	return id, true
}

// CreateJob handles POST /jobs requests.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		log.Debug("create job request failed validation", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request data")
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid owner ID format")
		return
	}

	plan := domain.GenerationPlan{
		Sections:          req.Sections,
		IncludeAssessment: req.IncludeAssessment,
		IncludeQuiz:       req.IncludeQuiz,
		IncludeExam:       req.IncludeExam,
	}
	if plan.TaskCount() == 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			"Generation plan produces no tasks")
		return
	}

	job, err := h.orch.CreateJob(r.Context(), ownerID, req.Title, plan)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Info("job created",
		slog.String("job_id", job.ID.String()),
		slog.Int("tasks", plan.TaskCount()))
	shared.RespondWithJSON(w, r, http.StatusCreated, jobToResponse(job))
}

// ListJobs handles GET /jobs requests. The owner query parameter is
// required; dismissed jobs are excluded unless include_dismissed is set.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(r.URL.Query().Get("owner"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid or missing owner query parameter")
		return
	}

	includeDismissed := r.URL.Query().Get("include_dismissed") == "true"

	jobs, err := h.orch.ListJobs(r.Context(), ownerID, includeDismissed)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp := jobToResponse(job)
		if job.Status == domain.JobStatusProcessing {
			if snapshot, err := h.monitor.Snapshot(r.Context(), job); err == nil {
				resp.Health = &snapshot
			}
		}
		responses = append(responses, resp)
	}

	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// GetJob handles GET /jobs/{id} requests, returning the job with its
// tasks and unresolved errors. Processing jobs carry a live health
// snapshot.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	job, tasks, errRecords, err := h.orch.GetJobDetail(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := JobDetailResponse{
		Job:    jobToResponse(job),
		Tasks:  make([]TaskResponse, 0, len(tasks)),
		Errors: make([]ErrorRecordResponse, 0, len(errRecords)),
	}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, taskToResponse(task))
	}
	for _, record := range errRecords {
		resp.Errors = append(resp.Errors, errorRecordToResponse(record))
	}

	if job.Status == domain.JobStatusProcessing {
		if snapshot, err := h.monitor.Snapshot(r.Context(), job); err == nil {
			resp.Job.Health = &snapshot
		}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// RecoverJob handles POST /jobs/{id}/recover requests. Resume is capped
// by the per-job recovery-attempt limit; an ineligible job yields a
// structured result with success=false, not an error status.
func (h *JobHandler) RecoverJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	result, err := h.recovery.AttemptRecovery(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// RestartJob handles POST /jobs/{id}/restart requests. Restart discards
// all task progress, so the request body must carry {"confirm": true}.
func (h *JobHandler) RestartJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	var req RestartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Confirm {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			"Restart discards all progress and must be confirmed")
		return
	}

	result, err := h.recovery.RestartJob(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// DeleteJob handles DELETE /jobs/{id} requests.
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	result, err := h.recovery.DeleteJob(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// DismissJob handles POST /jobs/{id}/dismiss requests. Only terminal
// jobs can be dismissed.
func (h *JobHandler) DismissJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	if err := h.orch.DismissJob(r.Context(), jobID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CancelJob handles POST /jobs/{id}/cancel requests.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	if err := h.orch.CancelJob(r.Context(), jobID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SkipTask handles POST /tasks/{id}/skip requests.
func (h *JobHandler) SkipTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	if err := h.orch.SkipTask(r.Context(), taskID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
