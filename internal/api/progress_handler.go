package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dbawebdesign/lailms/internal/api/shared"
	"github.com/dbawebdesign/lailms/internal/platform/logger"
	"github.com/dbawebdesign/lailms/internal/progress"
	"github.com/dbawebdesign/lailms/internal/store"
)

// ProgressHandler serves job progress: a pollable snapshot and a live
// server-sent-events stream. The stream is best-effort; clients that
// need a consistent view poll the snapshot endpoint.
type ProgressHandler struct {
	publisher *progress.Publisher
	jobs      store.JobStore
	logger    *slog.Logger
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(publisher *progress.Publisher, jobs store.JobStore, logger *slog.Logger) *ProgressHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ProgressHandler")
	}

	return &ProgressHandler{
		publisher: publisher,
		jobs:      jobs,
		logger:    logger.With(slog.String("component", "progress_handler")),
	}
}

// ProgressSnapshotResponse is the poll view of a job's progress.
type ProgressSnapshotResponse struct {
	JobID     string          `json:"job_id"`
	Status    string          `json:"status"`
	Progress  int             `json:"progress"`
	LastEvent *progress.Event `json:"last_event,omitempty"`
}

// GetProgress handles GET /jobs/{id}/progress requests.
func (h *ProgressHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := ProgressSnapshotResponse{
		JobID:    job.ID.String(),
		Status:   string(job.Status),
		Progress: job.Progress,
	}
	if event, ok := h.publisher.Latest(jobID); ok {
		resp.LastEvent = &event
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// StreamEvents handles GET /jobs/{id}/events requests by streaming
// progress events as server-sent events until the client disconnects.
func (h *ProgressHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	if _, err := h.jobs.Get(r.Context(), jobID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming is not supported")
		return
	}

	events, cancel := h.publisher.Subscribe(jobID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Replay the latest snapshot so a late subscriber starts with the
	// current state instead of silence.
	if event, ok := h.publisher.Latest(jobID); ok {
		writeSSE(w, event)
	}
	flusher.Flush()

	log.Debug("event stream opened", slog.String("job_id", jobID.String()))

	for {
		select {
		case <-r.Context().Done():
			log.Debug("event stream closed", slog.String("job_id", jobID.String()))
			return
		case event, open := <-events:
			if !open {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event progress.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal progress event", "error", err)
		return
	}
	fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.Seq, payload)
}
