// Package app assembles the pdf2tables components from configuration. Both
// binaries build the same graph so the CLI exercises the exact pipeline the
// API serves.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spherical/pdf2tables/internal/classify"
	"github.com/spherical/pdf2tables/internal/config"
	"github.com/spherical/pdf2tables/internal/extract"
	"github.com/spherical/pdf2tables/internal/jobs"
	"github.com/spherical/pdf2tables/internal/observability"
	"github.com/spherical/pdf2tables/internal/ocr"
	"github.com/spherical/pdf2tables/internal/pipeline"
	"github.com/spherical/pdf2tables/internal/ratelimit"
	"github.com/spherical/pdf2tables/internal/render"
	"github.com/spherical/pdf2tables/internal/service"
	"github.com/spherical/pdf2tables/internal/toolexec"
	"github.com/spherical/pdf2tables/internal/workspace"
)

// App holds the wired components and owns their lifecycle.
type App struct {
	Config     *config.Config
	Logger     *observability.Logger
	Registry   *jobs.Registry
	Workspaces *workspace.Manager
	Runner     *pipeline.Runner
	Limiter    *ratelimit.Limiter
	Service    *service.Service

	stopSweeper context.CancelFunc
}

// Options override pieces of the default graph. Zero values use the real
// implementations.
type Options struct {
	ToolRunner toolexec.Runner
	TextSource classify.TextSource
	// DisableRateLimit skips the limiter regardless of configuration.
	DisableRateLimit bool
}

// Build wires every component. The caller must call Start before submitting
// and Shutdown when done.
func Build(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if opts.ToolRunner == nil {
		opts.ToolRunner = toolexec.NewExecRunner(logger.WithOperation("toolexec"))
	}
	if opts.TextSource == nil {
		opts.TextSource = classify.FitzSource{}
	}

	manager := workspace.NewManager(workspace.Config{
		BaseDir: cfg.Workspace.BaseDir,
		TTL:     cfg.Workspace.TTL,
	}, logger.WithOperation("workspace"))

	registry := jobs.NewRegistry(cfg.Jobs.MaxJobs, jobs.WithLeases(manager))
	manager.SetReclaimer(registry)

	engines, err := ocrEngines(cfg, opts.ToolRunner)
	if err != nil {
		return nil, err
	}

	extractor := extract.NewService(
		logger.WithOperation("extract"),
		deepStrategy(cfg, opts.ToolRunner),
		extract.NewLattice(opts.ToolRunner, cfg.Extraction.CamelotPath),
		extract.NewStream(opts.ToolRunner, cfg.Extraction.CamelotPath),
	)

	mode := pipeline.ModeDeferred
	if cfg.Synchronous() {
		mode = pipeline.ModeSync
	}

	runner := pipeline.NewRunner(registry, pipeline.Stages{
		Classifier: classify.New(opts.TextSource, classify.Config{
			TextRatioThreshold: cfg.Classifier.TextRatioThreshold,
			CharsPerPage:       cfg.Classifier.CharsPerPage,
		}, logger.WithOperation("classify")),
		OCR:       ocr.NewStage(logger.WithOperation("ocr"), engines...),
		Extractor: extractor,
		Renderer:  render.New(),
	}, pipeline.Config{
		Mode:          mode,
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		StageTimeout:  cfg.Jobs.StageTimeout,
		OCRRecovery:   cfg.Extraction.OCRRecovery,
	}, logger.WithOperation("pipeline"))

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled && !opts.DisableRateLimit {
		limiter, err = newLimiter(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	var svcLimiter service.Limiter
	if limiter != nil {
		svcLimiter = limiter
	}

	svc := service.New(registry, manager, runner, svcLimiter, service.Config{
		MaxFileBytes: cfg.Upload.MaxFileBytes,
		MaxFiles:     cfg.Upload.MaxFiles,
		RetryAfter:   30 * time.Second,
	}, logger.WithOperation("service"))

	logger.Info().
		Str("mode", string(mode)).
		Int("max_jobs", cfg.Jobs.MaxJobs).
		Int("max_concurrent", cfg.Jobs.MaxConcurrent).
		Strs("ocr_engines", cfg.OCR.Engines).
		Bool("deep", extractor.HasDeep()).
		Bool("rate_limit", limiter != nil).
		Msg("components wired")

	return &App{
		Config:     cfg,
		Logger:     logger,
		Registry:   registry,
		Workspaces: manager,
		Runner:     runner,
		Limiter:    limiter,
		Service:    svc,
	}, nil
}

// Start reaps directories left by a previous process and starts the expiry
// sweeper.
func (a *App) Start(ctx context.Context) {
	if n, err := a.Workspaces.ReapOrphans(); err != nil {
		a.Logger.Warn().Err(err).Msg("orphan reaping failed")
	} else if n > 0 {
		a.Logger.Info().Int("removed", n).Msg("reaped orphaned workspaces")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	a.stopSweeper = cancel
	go a.Workspaces.Start(sweepCtx, a.Config.Workspace.SweepInterval)
}

// Shutdown waits for in-flight jobs until ctx is done, then releases every
// workspace and closes the limiter store.
func (a *App) Shutdown(ctx context.Context) error {
	if a.stopSweeper != nil {
		a.stopSweeper()
	}

	err := a.Runner.Shutdown(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("jobs still running at shutdown")
	}

	a.Workspaces.ReleaseAll()

	if a.Limiter != nil {
		if cerr := a.Limiter.Close(); cerr != nil {
			a.Logger.Warn().Err(cerr).Msg("close rate limiter")
		}
	}
	return err
}

func ocrEngines(cfg *config.Config, runner toolexec.Runner) ([]ocr.Engine, error) {
	engines := make([]ocr.Engine, 0, len(cfg.OCR.Engines))
	for _, name := range cfg.OCR.Engines {
		switch name {
		case "ocrmypdf":
			engines = append(engines, &ocr.OCRmyPDF{
				Runner:   runner,
				Path:     cfg.OCR.OCRmyPDFPath,
				Language: cfg.OCR.Language,
				Jobs:     cfg.OCR.Jobs,
			})
		case "tesseract":
			engines = append(engines, &ocr.Tesseract{
				Runner:   runner,
				Path:     cfg.OCR.TesseractPath,
				Language: cfg.OCR.Language,
			})
		case "paddleocr":
			engines = append(engines, &ocr.PaddleOCR{
				Runner:   runner,
				Command:  cfg.OCR.PaddleCommand,
				Language: cfg.OCR.Language,
			})
		default:
			return nil, fmt.Errorf("unknown OCR engine: %s", name)
		}
	}
	return engines, nil
}

func deepStrategy(cfg *config.Config, runner toolexec.Runner) extract.Strategy {
	if !cfg.Extraction.Deep.Enabled {
		return nil
	}
	return extract.NewDeep(runner, cfg.Extraction.Deep.Command)
}

func newLimiter(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*ratelimit.Limiter, error) {
	rl := cfg.RateLimit

	var store ratelimit.Store
	switch rl.Driver {
	case "redis":
		rs, err := ratelimit.NewRedisStore(ctx, ratelimit.RedisConfig{
			Addr:     rl.Redis.Addr,
			Password: rl.Redis.Password,
			DB:       rl.Redis.DB,
			PoolSize: rl.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("rate limit store: %w", err)
		}
		store = rs
	default:
		store = ratelimit.NewMemoryStore(10000)
	}

	logger.Info().
		Str("driver", rl.Driver).
		Int("requests", rl.Requests).
		Dur("window", rl.Window).
		Msg("rate limiter enabled")

	return ratelimit.New(store, rl.Requests, rl.Window), nil
}
