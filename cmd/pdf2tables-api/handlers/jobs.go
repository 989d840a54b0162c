// Package handlers provides HTTP handlers for the pdf2tables API.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/observability"
	"github.com/spherical/pdf2tables/internal/service"
)

// JobService is the service surface the job handlers call.
type JobService interface {
	Submit(ctx context.Context, clientID string, uploads []service.Upload) (*service.Submission, error)
	Job(jobID string) (domain.Job, error)
	Batch(requestID string) (*service.Batch, error)
	Result(jobID string) (domain.Job, *domain.Result, error)
	Cancel(jobID string) (domain.Job, error)
	Release(requestID string) error
}

// JobsConfig holds upload limits enforced before the body is parsed.
type JobsConfig struct {
	MaxFileBytes int64
	MaxFiles     int
	// Synchronous reports whether Submit returns finished jobs.
	Synchronous bool
}

// JobsHandler handles submission, polling, result download and release.
type JobsHandler struct {
	logger *observability.Logger
	svc    JobService
	cfg    JobsConfig
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(logger *observability.Logger, svc JobService, cfg JobsConfig) *JobsHandler {
	return &JobsHandler{logger: logger, svc: svc, cfg: cfg}
}

// JobDTO represents a job in API responses.
type JobDTO struct {
	ID             string          `json:"id"`
	RequestID      string          `json:"requestId"`
	FileName       string          `json:"fileName"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	Classification string          `json:"classification"`
	StrategyUsed   string          `json:"strategyUsed,omitempty"`
	OCRApplied     bool            `json:"ocrApplied"`
	Error          *JobErrorDTO    `json:"error,omitempty"`
	TableCount     *int            `json:"tableCount,omitempty"`
	ResultURL      string          `json:"resultUrl,omitempty"`
	History        []TransitionDTO `json:"history"`
	CreatedAt      string          `json:"createdAt"`
	UpdatedAt      string          `json:"updatedAt"`
}

// JobErrorDTO is the failure reason of a job.
type JobErrorDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TransitionDTO is one entry of a job's status history.
type TransitionDTO struct {
	Status string `json:"status"`
	At     string `json:"at"`
}

// RejectionDTO is a file that got no job.
type RejectionDTO struct {
	FileName string      `json:"fileName"`
	Error    JobErrorDTO `json:"error"`
}

// SubmissionDTO is the response to a submission.
type SubmissionDTO struct {
	RequestID string         `json:"requestId"`
	Jobs      []JobDTO       `json:"jobs"`
	Rejected  []RejectionDTO `json:"rejected,omitempty"`
}

// BatchDTO is the status of every job of a request.
type BatchDTO struct {
	RequestID string   `json:"requestId"`
	Done      bool     `json:"done"`
	Jobs      []JobDTO `json:"jobs"`
}

// Submit handles POST /api/v1/requests with multipart field "files".
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := h.cfg.MaxFileBytes*int64(h.cfg.MaxFiles) + 1<<20
	if r.ContentLength > limit {
		writeDomainError(w, r, domain.TooLargeError(
			fmt.Sprintf("request body exceeds %d bytes", limit), nil))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeDomainError(w, r, domain.TooLargeError(
				fmt.Sprintf("request body exceeds %d bytes", limit), err))
			return
		}
		writeDomainError(w, r, domain.ValidationError("invalid multipart form", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, upload(fh))
	}

	sub, err := h.svc.Submit(ctx, clientIP(r), uploads)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := SubmissionDTO{
		RequestID: sub.RequestID,
		Jobs:      toJobDTOs(sub.Jobs),
	}
	for _, rej := range sub.Rejected {
		resp.Rejected = append(resp.Rejected, RejectionDTO{
			FileName: rej.FileName,
			Error:    JobErrorDTO{Kind: string(rej.Error.Kind), Message: rej.Error.Message},
		})
	}

	status := http.StatusAccepted
	if h.cfg.Synchronous {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// Batch handles GET /api/v1/requests/{requestID}.
func (h *JobsHandler) Batch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.svc.Batch(chi.URLParam(r, "requestID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchDTO{
		RequestID: batch.RequestID,
		Done:      batch.Done,
		Jobs:      toJobDTOs(batch.Jobs),
	})
}

// Release handles DELETE /api/v1/requests/{requestID}.
func (h *JobsHandler) Release(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	if err := h.svc.Release(requestID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.logger.WithContext(r.Context()).Info().
		Str("request_id", requestID).
		Msg("workspace released by client")
	w.WriteHeader(http.StatusNoContent)
}

// Job handles GET /api/v1/jobs/{jobID}.
func (h *JobsHandler) Job(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Job(chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(job))
}

// Cancel handles POST /api/v1/jobs/{jobID}/cancel.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Cancel(chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.logger.WithContext(r.Context()).Info().
		Str("job_id", job.ID).
		Str("request_id", job.RequestID).
		Msg("job cancelled by client")
	writeJSON(w, http.StatusOK, toJobDTO(job))
}

// Result handles GET /api/v1/jobs/{jobID}/result?format=html|json&download=1.
func (h *JobsHandler) Result(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "html"
	}
	if format != "html" && format != "json" {
		writeDomainError(w, r, domain.ValidationError("format must be html or json", nil))
		return
	}

	job, res, err := h.svc.Result(chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	disposition := "inline"
	if r.URL.Query().Get("download") == "1" {
		disposition = "attachment"
	}
	stem := strings.TrimSuffix(job.FileName, filepath.Ext(job.FileName))
	if stem == "" {
		stem = job.ID
	}

	var (
		body        []byte
		contentType string
	)
	switch format {
	case "json":
		body, contentType = res.JSON, "application/json"
	default:
		body, contentType = []byte(res.HTML), "text/html; charset=utf-8"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType(disposition, map[string]string{"filename": stem + "-tables." + format}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func upload(fh *multipart.FileHeader) service.Upload {
	return service.Upload{
		Name: filepath.Base(fh.Filename),
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

// clientIP returns the host part of RemoteAddr, which RealIP has already
// replaced with the forwarded address when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func toJobDTOs(list []domain.Job) []JobDTO {
	out := make([]JobDTO, 0, len(list))
	for _, j := range list {
		out = append(out, toJobDTO(j))
	}
	return out
}

func toJobDTO(j domain.Job) JobDTO {
	dto := JobDTO{
		ID:             j.ID,
		RequestID:      j.RequestID,
		FileName:       j.FileName,
		Status:         string(j.Status),
		Progress:       j.Progress(),
		Classification: string(j.Classification),
		StrategyUsed:   string(j.StrategyUsed),
		OCRApplied:     j.OCRApplied,
		History:        make([]TransitionDTO, 0, len(j.History)),
		CreatedAt:      j.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:      j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.Error != nil {
		dto.Error = &JobErrorDTO{Kind: string(j.Error.Kind), Message: j.Error.Message}
	}
	if j.Result != nil {
		n := j.Result.TableCount
		dto.TableCount = &n
		dto.ResultURL = "/api/v1/jobs/" + j.ID + "/result"
	}
	for _, t := range j.History {
		dto.History = append(dto.History, TransitionDTO{
			Status: string(t.Status),
			At:     t.At.Format(time.RFC3339Nano),
		})
	}
	return dto
}
