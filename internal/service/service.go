// Package service is the submission facade shared by the HTTP API and the
// CLI. It validates uploads, allocates a workspace, registers one job per
// file and hands the jobs to the pipeline runner.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/pdf2tables/internal/classify"
	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/jobs"
	"github.com/spherical/pdf2tables/internal/observability"
	"github.com/spherical/pdf2tables/internal/pipeline"
	"github.com/spherical/pdf2tables/internal/ratelimit"
	"github.com/spherical/pdf2tables/internal/workspace"
)

// Registry is the job registry surface the service needs.
type Registry interface {
	Create(requestID, fileName string) (string, error)
	Get(jobID string) (domain.Job, error)
	ListByRequest(requestID string) []domain.Job
	Transition(jobID string, to domain.Status, p jobs.Payload) (domain.Job, error)
	Cancel(jobID string) (domain.Job, error)
}

// Workspaces allocates and releases per-request storage.
type Workspaces interface {
	Allocate(requestID string) (*workspace.Handle, error)
	Release(requestID string) error
	Probe() error
}

// Runner executes registered jobs.
type Runner interface {
	Submit(ctx context.Context, tasks ...pipeline.Task) error
}

// Limiter decides whether a client may submit.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Upload is one file of a submission.
type Upload struct {
	Name string
	// Size is the declared size in bytes, or -1 when unknown.
	Size int64
	Open func() (io.ReadCloser, error)
}

// Rejection describes a file that passed validation but got no job.
type Rejection struct {
	FileName string           `json:"file_name"`
	Error    *domain.JobError `json:"error"`
}

// Submission is the outcome of Submit.
type Submission struct {
	RequestID string       `json:"request_id"`
	Jobs      []domain.Job `json:"jobs"`
	Rejected  []Rejection  `json:"rejected,omitempty"`
}

// Batch is the status of every job of one request.
type Batch struct {
	RequestID string       `json:"request_id"`
	Jobs      []domain.Job `json:"jobs"`
	Done      bool         `json:"done"`
}

// Config holds submission limits.
type Config struct {
	MaxFileBytes int64
	MaxFiles     int
	// RetryAfter is suggested to clients when the registry is full.
	RetryAfter time.Duration
}

// Service implements submission, status, result and release.
type Service struct {
	registry   Registry
	workspaces Workspaces
	runner     Runner
	limiter    Limiter
	cfg        Config
	logger     *observability.Logger
	newID      func() string
}

// New creates a service. limiter may be nil to disable rate limiting.
func New(registry Registry, workspaces Workspaces, runner Runner, limiter Limiter, cfg Config, logger *observability.Logger) *Service {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 25 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 20
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		registry:   registry,
		workspaces: workspaces,
		runner:     runner,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
		newID:      uuid.NewString,
	}
}

type checked struct {
	upload Upload
	format domain.Format
}

// Submit validates uploads and starts one job per file. Nothing is allocated
// when validation fails or the client is rate limited. Files that cannot get
// a job because the registry is full are listed as rejected; if no file got
// a job the whole submission fails with CapacityExceeded.
func (s *Service) Submit(ctx context.Context, clientID string, uploads []Upload) (*Submission, error) {
	log := s.logger.WithContext(ctx)

	if s.limiter != nil && clientID != "" {
		decision, err := s.limiter.Allow(ctx, clientID)
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		}
		if !decision.Allowed {
			return nil, domain.RateLimitedError("too many submissions", decision.RetryAfter)
		}
	}

	files, err := s.validate(uploads)
	if err != nil {
		return nil, err
	}

	requestID := s.newID()
	ws, err := s.workspaces.Allocate(requestID)
	if err != nil {
		return nil, err
	}

	sub := &Submission{RequestID: requestID}
	tasks := make([]pipeline.Task, 0, len(files))

	for _, f := range files {
		jobID, err := s.registry.Create(requestID, f.upload.Name)
		if err != nil {
			sub.Rejected = append(sub.Rejected, Rejection{FileName: f.upload.Name, Error: domain.AsJobError(err)})
			continue
		}

		doc := domain.Document{Name: jobID + f.format.Extension(), Format: f.format}
		if err := s.save(ws, doc.Name, f.upload); err != nil {
			s.failJob(jobID, err)
			continue
		}
		tasks = append(tasks, pipeline.Task{JobID: jobID, Workspace: ws, Document: doc})
	}

	if len(tasks) == 0 && len(sub.Rejected) == len(files) {
		if err := s.workspaces.Release(requestID); err != nil {
			log.Warn().Err(err).Str("request_id", requestID).Msg("release after rejection failed")
		}
		e := domain.CapacityExceededError("job registry is full, retry later", nil)
		e.RetryAfter = s.cfg.RetryAfter
		return nil, e
	}

	log.Info().
		Str("request_id", requestID).
		Int("files", len(files)).
		Int("jobs", len(tasks)).
		Int("rejected", len(sub.Rejected)).
		Msg("submission accepted")

	if err := s.runner.Submit(ctx, tasks...); err != nil {
		// sync mode caller went away; jobs still run to completion
		log.Warn().Err(err).Str("request_id", requestID).Msg("stopped waiting for jobs")
	}

	sub.Jobs = s.registry.ListByRequest(requestID)
	return sub, nil
}

func (s *Service) validate(uploads []Upload) ([]checked, error) {
	if len(uploads) == 0 {
		return nil, domain.ValidationError("no files uploaded", nil)
	}
	if len(uploads) > s.cfg.MaxFiles {
		return nil, domain.ValidationError(fmt.Sprintf("at most %d files per request", s.cfg.MaxFiles), nil)
	}

	out := make([]checked, 0, len(uploads))
	for _, u := range uploads {
		if u.Size > s.cfg.MaxFileBytes {
			return nil, domain.TooLargeError(
				fmt.Sprintf("%s exceeds %d bytes", u.Name, s.cfg.MaxFileBytes), nil)
		}

		head, err := peek(u)
		if err != nil {
			return nil, domain.ValidationError("read "+u.Name, err)
		}
		format, err := classify.DetectFormat(head)
		if err != nil {
			return nil, domain.UnsupportedFormatError(u.Name+": only PDF, PNG and JPEG documents are accepted", nil)
		}
		out = append(out, checked{upload: u, format: format})
	}
	return out, nil
}

func peek(u Upload) ([]byte, error) {
	rc, err := u.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	head := make([]byte, classify.SniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return head[:n], nil
}

// save streams the upload into the workspace, enforcing the size limit for
// uploads whose size was not declared up front.
func (s *Service) save(ws *workspace.Handle, name string, u Upload) error {
	rc, err := u.Open()
	if err != nil {
		return domain.ValidationError("open "+u.Name, err)
	}
	defer rc.Close()

	w, err := ws.Create(name)
	if err != nil {
		return domain.StorageUnavailableError("store "+u.Name, err)
	}

	n, err := io.Copy(w, io.LimitReader(rc, s.cfg.MaxFileBytes+1))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return domain.StorageUnavailableError("store "+u.Name, err)
	}
	if n > s.cfg.MaxFileBytes {
		return domain.TooLargeError(fmt.Sprintf("%s exceeds %d bytes", u.Name, s.cfg.MaxFileBytes), nil)
	}
	return nil
}

func (s *Service) failJob(jobID string, err error) {
	if _, terr := s.registry.Transition(jobID, domain.StatusFailed, jobs.Payload{Error: domain.AsJobError(err)}); terr != nil {
		s.logger.Warn().Err(terr).Str("job_id", jobID).Msg("could not fail job")
	}
}

// Job returns one job snapshot.
func (s *Service) Job(jobID string) (domain.Job, error) {
	return s.registry.Get(jobID)
}

// Batch returns the jobs of one request and whether all are terminal.
func (s *Service) Batch(requestID string) (*Batch, error) {
	list := s.registry.ListByRequest(requestID)
	if len(list) == 0 {
		return nil, domain.NotFoundError("request "+requestID, nil)
	}

	done := true
	for _, j := range list {
		if !j.Status.IsTerminal() {
			done = false
			break
		}
	}
	return &Batch{RequestID: requestID, Jobs: list, Done: done}, nil
}

// Result returns the rendered output of a finished job.
func (s *Service) Result(jobID string) (domain.Job, *domain.Result, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return domain.Job{}, nil, err
	}
	if job.Status != domain.StatusDone || job.Result == nil {
		return job, nil, domain.ConflictError(fmt.Sprintf("job %s is %s", jobID, job.Status), nil)
	}
	return job, job.Result, nil
}

// Cancel fails a job that has not finished yet.
func (s *Service) Cancel(jobID string) (domain.Job, error) {
	return s.registry.Cancel(jobID)
}

// Release reclaims the workspace of a request once every job is terminal.
// Releasing an unknown or already released request succeeds.
func (s *Service) Release(requestID string) error {
	for _, j := range s.registry.ListByRequest(requestID) {
		if !j.Status.IsTerminal() {
			return domain.ConflictError(
				fmt.Sprintf("job %s is still %s", j.ID, j.Status), nil)
		}
	}
	return s.workspaces.Release(requestID)
}

// Healthy reports whether workspaces can still be allocated.
func (s *Service) Healthy() error {
	return s.workspaces.Probe()
}

// Bytes wraps in-memory content as an Upload. Used by the CLI and tests.
func Bytes(name string, data []byte) Upload {
	return Upload{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
