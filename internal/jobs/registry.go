// Package jobs holds the process-wide job registry and enforces the job
// status state machine. It is the only read path for polling clients.
package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/pdf2tables/internal/domain"
)

// LeaseChecker reports whether the workspace owning a request is still live.
type LeaseChecker interface {
	Live(requestID string, now time.Time) bool
}

// Payload carries the fields a transition may attach to a job.
type Payload struct {
	Classification domain.Classification
	Strategy       domain.Strategy
	OCRApplied     bool
	Result         *domain.Result
	Error          *domain.JobError
}

type entry struct {
	mu  sync.Mutex
	job domain.Job
}

// Registry is a guarded map of jobs keyed by id. Per-job updates happen
// under a short per-entry lock that is never held across stage work.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	max     int
	leases  LeaseChecker
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLeases attaches the checker used by Get and SweepExpired.
func WithLeases(l LeaseChecker) Option {
	return func(r *Registry) { r.leases = l }
}

// NewRegistry creates a registry holding at most maxJobs jobs.
func NewRegistry(maxJobs int, opts ...Option) *Registry {
	if maxJobs <= 0 {
		maxJobs = 256
	}
	r := &Registry{
		entries: make(map[string]*entry),
		max:     maxJobs,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLeases attaches the lease checker after construction. The workspace
// manager and the registry reference each other, so one side is late-bound.
func (r *Registry) SetLeases(l LeaseChecker) {
	r.mu.Lock()
	r.leases = l
	r.mu.Unlock()
}

// Create registers a new queued job for fileName in request requestID.
func (r *Registry) Create(requestID, fileName string) (string, error) {
	now := r.now()
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.max {
		return "", domain.CapacityExceededError(
			fmt.Sprintf("job registry full (%d jobs)", r.max), nil)
	}

	r.entries[id] = &entry{job: domain.Job{
		ID:             id,
		RequestID:      requestID,
		FileName:       fileName,
		Status:         domain.StatusQueued,
		Classification: domain.ClassificationUnknown,
		StrategyUsed:   domain.StrategyNone,
		History:        []domain.Transition{{Status: domain.StatusQueued, At: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}}
	return id, nil
}

// Transition moves a job to status to and attaches the payload fields that
// the target status allows. It returns InvalidTransition when to is not a
// successor of the current status.
func (r *Registry) Transition(jobID string, to domain.Status, p Payload) (domain.Job, error) {
	e, ok := r.lookup(jobID)
	if !ok {
		return domain.Job{}, domain.NotFoundError("job "+jobID, nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.job.Status
	if !from.CanTransition(to) {
		return snapshot(e.job), domain.InvalidTransitionError(
			fmt.Sprintf("job %s: %s -> %s", jobID, from, to), nil)
	}

	switch to {
	case domain.StatusDone:
		if p.Result == nil {
			return snapshot(e.job), domain.InvalidTransitionError(
				fmt.Sprintf("job %s: done without result", jobID), nil)
		}
		e.job.Result = p.Result
	case domain.StatusFailed:
		if p.Error == nil {
			return snapshot(e.job), domain.InvalidTransitionError(
				fmt.Sprintf("job %s: failed without reason", jobID), nil)
		}
		e.job.Error = p.Error
	}

	if from == domain.StatusClassifying && p.Classification != "" {
		e.job.Classification = p.Classification
	}
	if from == domain.StatusExtracting && to == domain.StatusRendering && p.Strategy != "" {
		e.job.StrategyUsed = p.Strategy
	}
	if p.OCRApplied {
		e.job.OCRApplied = true
	}

	now := r.now()
	e.job.Status = to
	e.job.UpdatedAt = now
	e.job.History = append(e.job.History, domain.Transition{Status: to, At: now})

	return snapshot(e.job), nil
}

// Cancel fails a non-terminal job with kind cancelled.
func (r *Registry) Cancel(jobID string) (domain.Job, error) {
	job, err := r.Get(jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.Status.IsTerminal() {
		return job, domain.ConflictError(
			fmt.Sprintf("job %s already %s", jobID, job.Status), nil)
	}
	job, err = r.Transition(jobID, domain.StatusFailed, Payload{Error: &domain.JobError{
		Kind:    domain.ErrorTypeCancelled,
		Message: "cancelled by client",
	}})
	if errors.Is(err, domain.ErrInvalidTransition) {
		// finished between the read and the transition
		return job, domain.ConflictError(
			fmt.Sprintf("job %s already %s", jobID, job.Status), nil)
	}
	return job, err
}

// Get returns a snapshot of a job. A job whose workspace has been reclaimed
// is reported as not found even before the sweeper removes it.
func (r *Registry) Get(jobID string) (domain.Job, error) {
	e, ok := r.lookup(jobID)
	if !ok {
		return domain.Job{}, domain.NotFoundError("job "+jobID, nil)
	}

	e.mu.Lock()
	job := snapshot(e.job)
	e.mu.Unlock()

	if !r.live(job.RequestID) {
		return domain.Job{}, domain.NotFoundError("job "+jobID+" expired", nil)
	}
	return job, nil
}

// ListByRequest returns the jobs of one request ordered by creation time.
func (r *Registry) ListByRequest(requestID string) []domain.Job {
	r.mu.RLock()
	matched := make([]*entry, 0)
	for _, e := range r.entries {
		e.mu.Lock()
		if e.job.RequestID == requestID {
			matched = append(matched, e)
		}
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	if len(matched) == 0 || !r.live(requestID) {
		return nil
	}

	out := make([]domain.Job, 0, len(matched))
	for _, e := range matched {
		e.mu.Lock()
		out = append(out, snapshot(e.job))
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SweepExpired removes every job whose workspace is no longer live at now.
// A transition racing the removal may be lost; the workspace is gone anyway.
func (r *Registry) SweepExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.leases == nil {
		return 0
	}

	removed := 0
	for id, e := range r.entries {
		e.mu.Lock()
		requestID := e.job.RequestID
		e.mu.Unlock()

		if !r.leases.Live(requestID, now) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Forget drops every job of a released request.
func (r *Registry) Forget(requestID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.entries {
		e.mu.Lock()
		match := e.job.RequestID == requestID
		e.mu.Unlock()

		if match {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) lookup(jobID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jobID]
	return e, ok
}

func (r *Registry) live(requestID string) bool {
	r.mu.RLock()
	leases := r.leases
	r.mu.RUnlock()

	if leases == nil {
		return true
	}
	return leases.Live(requestID, r.now())
}

// snapshot deep-copies the mutable parts of a job.
func snapshot(j domain.Job) domain.Job {
	out := j
	out.History = append([]domain.Transition(nil), j.History...)
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.Result != nil {
		res := *j.Result
		res.JSON = append([]byte(nil), j.Result.JSON...)
		out.Result = &res
	}
	return out
}
