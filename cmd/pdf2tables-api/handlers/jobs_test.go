package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/observability"
	"github.com/spherical/pdf2tables/internal/service"
)

type fakeService struct {
	submitErr error
	clientID  string
	uploads   []service.Upload
	contents  [][]byte

	jobs    map[string]domain.Job
	release error
}

func (f *fakeService) Submit(_ context.Context, clientID string, uploads []service.Upload) (*service.Submission, error) {
	f.clientID = clientID
	f.uploads = uploads
	for _, u := range uploads {
		rc, err := u.Open()
		if err != nil {
			return nil, err
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		f.contents = append(f.contents, data)
	}
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &service.Submission{
		RequestID: "req-1",
		Jobs: []domain.Job{{
			ID: "job-1", RequestID: "req-1", FileName: uploads[0].Name, Status: domain.StatusQueued,
			History: []domain.Transition{{Status: domain.StatusQueued, At: time.Now()}},
		}},
	}, nil
}

func (f *fakeService) Job(id string) (domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, domain.NotFoundError("job "+id, nil)
	}
	return j, nil
}

func (f *fakeService) Batch(requestID string) (*service.Batch, error) {
	var list []domain.Job
	for _, j := range f.jobs {
		if j.RequestID == requestID {
			list = append(list, j)
		}
	}
	if len(list) == 0 {
		return nil, domain.NotFoundError("request "+requestID, nil)
	}
	return &service.Batch{RequestID: requestID, Jobs: list, Done: list[0].Status.IsTerminal()}, nil
}

func (f *fakeService) Result(id string) (domain.Job, *domain.Result, error) {
	j, err := f.Job(id)
	if err != nil {
		return j, nil, err
	}
	if j.Status != domain.StatusDone {
		return j, nil, domain.ConflictError("job "+id+" is "+string(j.Status), nil)
	}
	return j, j.Result, nil
}

func (f *fakeService) Cancel(id string) (domain.Job, error) {
	j, err := f.Job(id)
	if err != nil {
		return j, err
	}
	if j.Status.IsTerminal() {
		return j, domain.ConflictError("already terminal", nil)
	}
	j.Status = domain.StatusFailed
	j.Error = &domain.JobError{Kind: domain.ErrorTypeCancelled, Message: "cancelled by client"}
	f.jobs[id] = j
	return j, nil
}

func (f *fakeService) Release(string) error { return f.release }

func newTestRouter(svc JobService) http.Handler {
	h := NewJobsHandler(observability.NopLogger(), svc, JobsConfig{MaxFileBytes: 1 << 20, MaxFiles: 3})
	r := chi.NewRouter()
	r.Post("/api/v1/requests", h.Submit)
	r.Get("/api/v1/requests/{requestID}", h.Batch)
	r.Delete("/api/v1/requests/{requestID}", h.Release)
	r.Get("/api/v1/jobs/{jobID}", h.Job)
	r.Get("/api/v1/jobs/{jobID}/result", h.Result)
	r.Post("/api/v1/jobs/{jobID}/cancel", h.Cancel)
	return r
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doneJob() domain.Job {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return domain.Job{
		ID: "job-1", RequestID: "req-1", FileName: "invoice.pdf",
		Status: domain.StatusDone, Classification: domain.ClassificationBornDigital,
		StrategyUsed: domain.StrategyLattice,
		Result: &domain.Result{
			HTML:       `<div class="table-card"></div>`,
			JSON:       json.RawMessage(`{"tables":[]}`),
			TableCount: 1,
		},
		History: []domain.Transition{
			{Status: domain.StatusQueued, At: now},
			{Status: domain.StatusDone, At: now.Add(time.Second)},
		},
		CreatedAt: now, UpdatedAt: now.Add(time.Second),
	}
}

func TestSubmit_Accepted(t *testing.T) {
	svc := &fakeService{}
	body, ct := multipartBody(t, map[string][]byte{"../../etc/invoice.pdf": []byte("%PDF-1.7")})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", body)
	req.Header.Set("Content-Type", ct)
	req.RemoteAddr = "192.0.2.7:54321"
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "192.0.2.7", svc.clientID)
	require.Len(t, svc.uploads, 1)
	assert.Equal(t, "invoice.pdf", svc.uploads[0].Name, "path components stripped")
	assert.Equal(t, []byte("%PDF-1.7"), svc.contents[0])

	var resp SubmissionDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "queued", resp.Jobs[0].Status)
	assert.Equal(t, 0, resp.Jobs[0].Progress)
}

func TestSubmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantRetry  string
	}{
		{"unsupported", domain.UnsupportedFormatError("nope", nil), http.StatusUnsupportedMediaType, ""},
		{"too large", domain.TooLargeError("big", nil), http.StatusRequestEntityTooLarge, ""},
		{"validation", domain.ValidationError("no files", nil), http.StatusBadRequest, ""},
		{"rate limited", domain.RateLimitedError("slow down", 1500*time.Millisecond), http.StatusTooManyRequests, "2"},
		{"capacity", func() error {
			e := domain.CapacityExceededError("full", nil)
			e.RetryAfter = 30 * time.Second
			return e
		}(), http.StatusServiceUnavailable, "30"},
		{"storage", domain.StorageUnavailableError("disk", errors.New("ENOSPC")), http.StatusInsufficientStorage, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{submitErr: tt.err}
			body, ct := multipartBody(t, map[string][]byte{"a.pdf": []byte("%PDF-1.7")})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantRetry, rec.Header().Get("Retry-After"))

			var resp ErrorDTO
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, string(domain.TypeOf(tt.err)), resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestSubmit_BodyTooLarge(t *testing.T) {
	h := NewJobsHandler(observability.NopLogger(), &fakeService{}, JobsConfig{MaxFileBytes: 10, MaxFiles: 1})
	body, ct := multipartBody(t, map[string][]byte{"a.pdf": bytes.Repeat([]byte("x"), 2<<20)})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSubmit_NotMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newTestRouter(&fakeService{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJob_Snapshot(t *testing.T) {
	svc := &fakeService{jobs: map[string]domain.Job{"job-1": doneJob()}}

	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var dto JobDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "done", dto.Status)
	assert.Equal(t, 100, dto.Progress)
	assert.Equal(t, "lattice", dto.StrategyUsed)
	assert.Equal(t, "/api/v1/jobs/job-1/result", dto.ResultURL)
	require.NotNil(t, dto.TableCount)
	assert.Equal(t, 1, *dto.TableCount)
	assert.Len(t, dto.History, 2)

	rec = httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResult_Formats(t *testing.T) {
	svc := &fakeService{jobs: map[string]domain.Job{"job-1": doneJob()}}
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/result", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename=invoice-tables.html`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "table-card")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/result?format=json&download=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=invoice-tables.json`, rec.Header().Get("Content-Disposition"))
	assert.JSONEq(t, `{"tables":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/result?format=xml", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResult_NotDone(t *testing.T) {
	job := doneJob()
	job.Status = domain.StatusExtracting
	job.Result = nil
	svc := &fakeService{jobs: map[string]domain.Job{"job-1": job}}

	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/result", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelAndBatch(t *testing.T) {
	job := doneJob()
	job.Status = domain.StatusClassifying
	job.Result = nil
	svc := &fakeService{jobs: map[string]domain.Job{"job-1": job}}
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/requests/req-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var batch BatchDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.False(t, batch.Done)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var dto JobDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "failed", dto.Status)
	require.NotNil(t, dto.Error)
	assert.Equal(t, "cancelled", dto.Error.Kind)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/requests/req-1", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.True(t, batch.Done)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/requests/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRelease(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/requests/req-1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	svc.release = domain.ConflictError("job job-1 is still extracting", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/requests/req-1", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type probe struct{ err error }

func (p probe) Healthy() error { return p.err }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(observability.NopLogger(), probe{}).Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = httptest.NewRecorder()
	NewHealthHandler(observability.NopLogger(), probe{err: domain.StorageUnavailableError("disk full", nil)}).
		Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}
