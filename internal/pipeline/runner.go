// Package pipeline drives jobs through classification, OCR, table
// extraction and rendering, committing a registry transition after every
// stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/jobs"
	"github.com/spherical/pdf2tables/internal/observability"
)

// Mode selects whether Submit blocks until jobs are terminal.
type Mode string

const (
	ModeDeferred Mode = "deferred"
	ModeSync     Mode = "sync"
)

// JobStore is the registry surface the runner mutates jobs through.
type JobStore interface {
	Get(jobID string) (domain.Job, error)
	Transition(jobID string, to domain.Status, p jobs.Payload) (domain.Job, error)
}

// Task is one job ready to run.
type Task struct {
	JobID     string
	Workspace domain.Workspace
	Document  domain.Document
}

// Config holds runner settings.
type Config struct {
	Mode          Mode
	MaxConcurrent int
	StageTimeout  time.Duration
	OCRRecovery   bool
}

// Stages bundles the stage implementations.
type Stages struct {
	Classifier domain.Classifier
	OCR        domain.OCRStage
	Extractor  domain.TableExtractor
	Renderer   domain.Renderer
}

// errAbandoned stops a job quietly: it was cancelled or its workspace was
// reclaimed while a stage ran.
var errAbandoned = errors.New("job abandoned")

// Runner executes jobs. Every job runs its stages serially; at most
// MaxConcurrent jobs run stages at once and the rest wait in queued.
type Runner struct {
	store  JobStore
	stages Stages
	cfg    Config
	logger *observability.Logger

	slots  *semaphore.Weighted
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner.
func NewRunner(store JobStore, stages Stages, cfg Config, logger *observability.Logger) *Runner {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 5 * time.Minute
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDeferred
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:  store,
		stages: stages,
		cfg:    cfg,
		logger: logger,
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		base:   base,
		cancel: cancel,
	}
}

// Mode returns the execution mode.
func (r *Runner) Mode() Mode {
	return r.cfg.Mode
}

// Submit starts tasks. In deferred mode it returns immediately; in sync mode
// it returns once every task is terminal or ctx is done. Jobs keep running
// to a terminal status either way.
func (r *Runner) Submit(ctx context.Context, tasks ...Task) error {
	var batch sync.WaitGroup
	for _, t := range tasks {
		batch.Add(1)
		r.wg.Add(1)
		go func(t Task) {
			defer r.wg.Done()
			defer batch.Done()
			r.process(t)
		}(t)
	}

	if r.cfg.Mode != ModeSync {
		return nil
	}

	done := make(chan struct{})
	go func() {
		batch.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops admitting queued jobs and waits for running ones until ctx
// is done.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) process(t Task) {
	log := r.logger.WithJob(t.Workspace.RequestID(), t.JobID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("panic", fmt.Sprint(rec)).Msg("pipeline panicked")
			r.fail(t, log, domain.NewError(domain.ErrorTypeInternal, fmt.Sprintf("pipeline panic: %v", rec), nil))
		}
	}()

	if err := r.slots.Acquire(r.base, 1); err != nil {
		r.fail(t, log, domain.NewError(domain.ErrorTypeCancelled, "service shutting down", err))
		return
	}
	defer r.slots.Release(1)

	start := time.Now()
	if err := r.run(t, log); err != nil {
		r.fail(t, log, err)
		return
	}
	log.Info().Dur("duration", time.Since(start)).Msg("job done")
}

func (r *Runner) run(t Task, log *observability.Logger) error {
	ws := t.Workspace
	doc := t.Document

	if err := r.advance(t, domain.StatusClassifying, jobs.Payload{}); err != nil {
		return err
	}

	var class domain.Classification
	err := r.stage(t, log, "classify", func(ctx context.Context) error {
		var err error
		class, err = r.stages.Classifier.Classify(ctx, ws, doc)
		return err
	})
	if err != nil {
		return err
	}

	ocrApplied := false
	if class == domain.ClassificationScanned {
		if err := r.advance(t, domain.StatusOCRRunning, jobs.Payload{Classification: class}); err != nil {
			return err
		}
		if doc, err = r.ocr(t, log, doc, domain.OCRSkipText); err != nil {
			return err
		}
		ocrApplied = true
		if err := r.advance(t, domain.StatusExtracting, jobs.Payload{OCRApplied: true}); err != nil {
			return err
		}
	} else {
		if err := r.advance(t, domain.StatusExtracting, jobs.Payload{Classification: class}); err != nil {
			return err
		}
	}

	// A born-digital document that yields nothing gets one forced OCR pass
	// and a second extraction. The job stays in extracting throughout.
	retryWithOCR := class == domain.ClassificationBornDigital && r.cfg.OCRRecovery

	tables, strategy, err := r.extract(t, log, doc, !retryWithOCR)
	if err != nil {
		return err
	}
	if retryWithOCR && len(tables) == 0 {
		log.Info().Msg("no tables in born-digital document, retrying after OCR")
		if doc, err = r.ocr(t, log, doc, domain.OCRForce); err != nil {
			return err
		}
		ocrApplied = true
		if tables, strategy, err = r.extract(t, log, doc, true); err != nil {
			return err
		}
	}

	if err := r.advance(t, domain.StatusRendering, jobs.Payload{Strategy: strategy, OCRApplied: ocrApplied}); err != nil {
		return err
	}

	var result *domain.Result
	err = r.stage(t, log, "render", func(context.Context) error {
		htmlOut, data, err := r.stages.Renderer.Render(tables)
		if err != nil {
			return err
		}
		result = &domain.Result{HTML: htmlOut, JSON: data, TableCount: len(tables)}
		return nil
	})
	if err != nil {
		return err
	}

	return r.advance(t, domain.StatusDone, jobs.Payload{Result: result})
}

func (r *Runner) ocr(t Task, log *observability.Logger, doc domain.Document, mode domain.OCRMode) (domain.Document, error) {
	var out domain.Document
	err := r.stage(t, log, "ocr", func(ctx context.Context) error {
		var err error
		out, err = r.stages.OCR.Run(ctx, t.Workspace, doc, mode)
		return err
	})
	return out, err
}

func (r *Runner) extract(t Task, log *observability.Logger, doc domain.Document, allowDeep bool) ([]domain.Table, domain.Strategy, error) {
	var (
		tables   []domain.Table
		strategy domain.Strategy
	)
	err := r.stage(t, log, "extract", func(ctx context.Context) error {
		var err error
		tables, strategy, err = r.stages.Extractor.Extract(ctx, t.Workspace, doc, allowDeep)
		return err
	})
	return tables, strategy, err
}

// stage runs fn unless the job has already been abandoned. The stage
// context is detached from the runner so shutdown never interrupts a tool
// mid-call; only the stage timeout bounds it.
func (r *Runner) stage(t Task, log *observability.Logger, name string, fn func(ctx context.Context) error) error {
	if r.abandoned(t) {
		return errAbandoned
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.base), r.cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	log.Debug().Str("stage", name).Msg("stage started")

	err := fn(ctx)
	if err != nil {
		log.Warn().Str("stage", name).Dur("duration", time.Since(start)).Err(err).Msg("stage failed")
		return err
	}
	log.Info().Str("stage", name).Dur("duration", time.Since(start)).Msg("stage finished")
	return nil
}

// advance commits a transition. A rejected transition on a job that is
// already terminal or gone means the job was cancelled or swept.
func (r *Runner) advance(t Task, to domain.Status, p jobs.Payload) error {
	job, err := r.store.Transition(t.JobID, to, p)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || job.Status.IsTerminal() {
		return errAbandoned
	}
	return err
}

func (r *Runner) abandoned(t Task) bool {
	job, err := r.store.Get(t.JobID)
	return err != nil || job.Status.IsTerminal()
}

func (r *Runner) fail(t Task, log *observability.Logger, err error) {
	if errors.Is(err, errAbandoned) {
		log.Info().Msg("job abandoned, stopping")
		return
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		log.Error().Err(err).Msg("job state contract violated")
	}

	reason := domain.AsJobError(err)
	var de *domain.DomainError
	if errors.As(err, &de) {
		reason.Message = de.Message
		if de.Err != nil {
			reason.Message += ": " + de.Err.Error()
		}
	}

	if _, terr := r.store.Transition(t.JobID, domain.StatusFailed, jobs.Payload{Error: reason}); terr != nil {
		log.Debug().Err(terr).Msg("failure not recorded, job already terminal or removed")
		return
	}
	log.Warn().Str("kind", string(reason.Kind)).Str("reason", reason.Message).Msg("job failed")
}
