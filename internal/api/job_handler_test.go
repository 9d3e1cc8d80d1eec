package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/health"
	"github.com/dbawebdesign/lailms/internal/orchestrator"
	"github.com/dbawebdesign/lailms/internal/progress"
	"github.com/dbawebdesign/lailms/internal/recovery"
	"github.com/dbawebdesign/lailms/internal/store/storetest"
)

// stubScheduler satisfies the orchestrator and recovery dispatch
// interfaces without running real workers.
type stubScheduler struct{}

func (stubScheduler) Dispatch(context.Context, *domain.Task) error { return nil }
func (stubScheduler) CancelJobTimers(uuid.UUID)                    {}

type apiFixture struct {
	stores *storetest.MemoryStores
	orch   *orchestrator.Orchestrator
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	stores := storetest.NewMemoryStores()
	publisher := progress.NewPublisher(log)
	sched := stubScheduler{}

	orch := orchestrator.New(stores.Jobs, stores.Tasks, stores.Errors, sched, sched, publisher, log)
	monitor := health.NewMonitor(stores.Jobs, stores.Tasks, stores.Errors, publisher, health.DefaultConfig(), log)
	controller := recovery.New(stores.Jobs, stores.Tasks, stores.Errors, sched, sched, publisher, publisher, 3, log)

	jobHandler := NewJobHandler(orch, controller, monitor, log)
	progressHandler := NewProgressHandler(publisher, stores.Jobs, log)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobHandler.ListJobs)
			r.Post("/", jobHandler.CreateJob)
			r.Get("/{id}", jobHandler.GetJob)
			r.Post("/{id}/recover", jobHandler.RecoverJob)
			r.Post("/{id}/restart", jobHandler.RestartJob)
			r.Delete("/{id}", jobHandler.DeleteJob)
			r.Post("/{id}/dismiss", jobHandler.DismissJob)
			r.Post("/{id}/cancel", jobHandler.CancelJob)
			r.Get("/{id}/progress", progressHandler.GetProgress)
		})
		r.Post("/tasks/{id}/skip", jobHandler.SkipTask)
	})

	return &apiFixture{stores: stores, orch: orch, router: r}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createJob(t *testing.T, ownerID uuid.UUID) JobResponse {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/api/jobs", CreateJobRequest{
		OwnerID:     ownerID.String(),
		Title:       "Intro to Botany",
		Sections:    2,
		IncludeQuiz: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateJob(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	ownerID := uuid.New()

	resp := f.createJob(t, ownerID)

	assert.Equal(t, ownerID.String(), resp.OwnerID)
	assert.Equal(t, "Intro to Botany", resp.Title)
	assert.Equal(t, string(domain.JobStatusQueued), resp.Status)
	assert.Equal(t, 0, resp.Progress)
}

func TestCreateJobValidation(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	tests := []struct {
		name string
		body any
	}{
		{"malformed body", "not json"},
		{"missing title", CreateJobRequest{OwnerID: uuid.New().String(), Sections: 2}},
		{"bad owner id", CreateJobRequest{OwnerID: "nope", Title: "T", Sections: 2}},
		{"empty plan", CreateJobRequest{OwnerID: uuid.New().String(), Title: "T"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := f.do(t, http.MethodPost, "/api/jobs", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetJobDetail(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	job := f.createJob(t, uuid.New())

	rec := f.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail JobDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))

	assert.Equal(t, job.ID, detail.Job.ID)
	assert.Len(t, detail.Tasks, 3)
	assert.Empty(t, detail.Errors)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	ownerID := uuid.New()
	f.createJob(t, ownerID)
	f.createJob(t, uuid.New()) // another owner

	rec := f.do(t, http.MethodGet, "/api/jobs/?owner="+ownerID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 1)

	// Missing owner parameter is a client error.
	rec = f.do(t, http.MethodGet, "/api/jobs/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRestartRequiresConfirmation(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	job := f.createJob(t, uuid.New())

	rec := f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/restart", RestartJobRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/restart", RestartJobRequest{Confirm: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var result recovery.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
}

func TestRecoverReturnsStructuredResult(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	job := f.createJob(t, uuid.New())

	rec := f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/recover", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result recovery.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, domain.ActionResume, result.Action)
}

func TestDismissRequiresTerminalJob(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	job := f.createJob(t, uuid.New())

	rec := f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/dismiss", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusNoContent,
		f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil).Code)

	rec = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/dismiss", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCancelTwiceConflicts(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	job := f.createJob(t, uuid.New())

	require.Equal(t, http.StatusNoContent,
		f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil).Code)

	rec := f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteJob(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	job := f.createJob(t, uuid.New())

	rec := f.do(t, http.MethodDelete, "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSkipTask(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	job := f.createJob(t, uuid.New())

	jobID, err := uuid.Parse(job.ID)
	require.NoError(t, err)
	tasks, err := f.stores.Tasks.ListByJob(context.Background(), jobID)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)

	rec := f.do(t, http.MethodPost, "/api/tasks/"+tasks[0].ID.String()+"/skip", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	skipped, err := f.stores.Tasks.Get(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSkipped, skipped.Status)

	// A second skip of the same task conflicts.
	rec = f.do(t, http.MethodPost, "/api/tasks/"+tasks[0].ID.String()+"/skip", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProgressSnapshot(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	job := f.createJob(t, uuid.New())

	rec := f.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot ProgressSnapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))

	assert.Equal(t, job.ID, snapshot.JobID)
	assert.Equal(t, string(domain.JobStatusQueued), snapshot.Status)
	require.NotNil(t, snapshot.LastEvent, "job creation publishes an event")
	assert.Contains(t, snapshot.LastEvent.Message, "created")
}
