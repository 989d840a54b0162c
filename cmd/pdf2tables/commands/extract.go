package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical/pdf2tables/cmd/pdf2tables/ui"
	"github.com/spherical/pdf2tables/internal/app"
	"github.com/spherical/pdf2tables/internal/config"
	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/observability"
	"github.com/spherical/pdf2tables/internal/service"
)

var (
	extractOutDir  string
	extractFormat  string
	extractTimeout time.Duration
)

const pollInterval = 250 * time.Millisecond

var extractCmd = &cobra.Command{
	Use:   "extract FILE...",
	Short: "Extract tables from local documents",
	Long: `Extract runs every file through the extraction pipeline and writes
<name>-tables.html and/or <name>-tables.json into the output directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractOutDir, "out", "o", ".", "output directory")
	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", "both", "output format: html, json or both")
	extractCmd.Flags().DurationVar(&extractTimeout, "timeout", 30*time.Minute, "give up after this long")
	rootCmd.AddCommand(extractCmd)
}

// extractService is the service surface the CLI drives.
type extractService interface {
	Submit(ctx context.Context, clientID string, uploads []service.Upload) (*service.Submission, error)
	Batch(requestID string) (*service.Batch, error)
	Result(jobID string) (domain.Job, *domain.Result, error)
	Cancel(jobID string) (domain.Job, error)
	Release(requestID string) error
}

func runExtract(cmd *cobra.Command, args []string) error {
	if extractFormat != "html" && extractFormat != "json" && extractFormat != "both" {
		return fmt.Errorf("invalid format %q: use html, json or both", extractFormat)
	}

	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// polled for live progress
	cfg.Jobs.ExecutionMode = config.ModeDeferred

	logLevel := "error"
	if verbose {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       logLevel,
		Format:      "console",
		Output:      os.Stderr,
		ServiceName: "pdf2tables-cli",
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger, app.Options{DisableRateLimit: true})
	if err != nil {
		return err
	}
	a.Start(ctx)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
		defer done()
		_ = a.Shutdown(shutdownCtx)
	}()

	// stage logs and the spinner share stderr
	u := ui.New(noColor, verbose)
	u.Section("Table extraction")

	uploads, err := fileUploads(args)
	if err != nil {
		return err
	}

	start := time.Now()
	batch, err := runBatch(ctx, a.Service, u, uploads, pollInterval)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(extractOutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	written, err := writeOutputs(a.Service, batch, extractOutDir, extractFormat)
	if err != nil {
		return err
	}

	summarize(u, batch, written, time.Since(start))

	if err := a.Service.Release(batch.RequestID); err != nil {
		u.Warning("release workspace: %v", err)
	}

	if failed := countFailed(batch); failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(batch.Jobs))
	}
	return nil
}

// fileUploads opens nothing up front; each Upload reopens its file on demand.
func fileUploads(paths []string) ([]service.Upload, error) {
	uploads := make([]service.Upload, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		path := p
		uploads = append(uploads, service.Upload{
			Name: filepath.Base(path),
			Size: info.Size(),
			Open: func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}
	return uploads, nil
}

// runBatch submits uploads and polls until every job is terminal. When ctx
// ends first the remaining jobs are cancelled.
func runBatch(ctx context.Context, svc extractService, u *ui.UI, uploads []service.Upload, interval time.Duration) (*service.Batch, error) {
	sub, err := svc.Submit(ctx, "", uploads)
	if err != nil {
		return nil, err
	}
	for _, rej := range sub.Rejected {
		u.Warning("%s skipped: %s", rej.FileName, rej.Error.Message)
	}
	u.Info("Submitted %d document(s) as request %s", len(sub.Jobs), sub.RequestID)

	spin := u.NewSpinner("starting")
	bar := u.NewProgressBar(int64(len(sub.Jobs)*100), "progress")
	spin.Start()
	defer spin.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		batch, err := svc.Batch(sub.RequestID)
		if err != nil {
			return nil, err
		}

		total := 0
		for _, j := range batch.Jobs {
			total += j.Progress()
		}
		bar.Set(int64(total))
		spin.UpdateMessage(describe(batch))

		if batch.Done {
			bar.Finish()
			return batch, nil
		}

		select {
		case <-ctx.Done():
			for _, j := range batch.Jobs {
				if !j.Status.IsTerminal() {
					_, _ = svc.Cancel(j.ID)
				}
			}
			return nil, fmt.Errorf("extraction interrupted: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// describe summarizes the running jobs for the spinner line.
func describe(b *service.Batch) string {
	done := 0
	var active []string
	for _, j := range b.Jobs {
		if j.Status.IsTerminal() {
			done++
			continue
		}
		active = append(active, fmt.Sprintf("%s: %s", j.FileName, j.Status))
	}
	msg := fmt.Sprintf("%d/%d finished", done, len(b.Jobs))
	if len(active) > 0 {
		msg += " | " + strings.Join(active, ", ")
	}
	return msg
}

type output struct {
	job   domain.Job
	files []string
}

func writeOutputs(svc extractService, batch *service.Batch, dir, format string) ([]output, error) {
	used := make(map[string]bool)
	outputs := make([]output, 0, len(batch.Jobs))

	for _, j := range batch.Jobs {
		out := output{job: j}
		if j.Status != domain.StatusDone {
			outputs = append(outputs, out)
			continue
		}

		_, res, err := svc.Result(j.ID)
		if err != nil {
			return nil, err
		}

		stem := strings.TrimSuffix(j.FileName, filepath.Ext(j.FileName))
		if used[stem] {
			stem += "-" + shortID(j.ID)
		}
		used[stem] = true

		if format == "html" || format == "both" {
			path := filepath.Join(dir, stem+"-tables.html")
			if err := os.WriteFile(path, []byte(res.HTML), 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", path, err)
			}
			out.files = append(out.files, path)
		}
		if format == "json" || format == "both" {
			path := filepath.Join(dir, stem+"-tables.json")
			if err := os.WriteFile(path, res.JSON, 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", path, err)
			}
			out.files = append(out.files, path)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func summarize(u *ui.UI, batch *service.Batch, outputs []output, elapsed time.Duration) {
	u.Section("Summary")

	rows := make([][]string, 0, len(outputs))
	for _, o := range outputs {
		j := o.job
		tables := "-"
		if j.Result != nil {
			tables = fmt.Sprintf("%d", j.Result.TableCount)
		}
		note := strings.Join(o.files, ", ")
		if j.Error != nil {
			note = fmt.Sprintf("%s: %s", j.Error.Kind, j.Error.Message)
		}
		rows = append(rows, []string{
			j.FileName,
			string(j.Status),
			string(j.Classification),
			string(j.StrategyUsed),
			fmt.Sprintf("%t", j.OCRApplied),
			tables,
			note,
		})
	}
	u.Table([]string{"File", "Status", "Class", "Strategy", "OCR", "Tables", "Output"}, rows)

	if failed := countFailed(batch); failed > 0 {
		u.Error("%d of %d documents failed", failed, len(batch.Jobs))
		return
	}
	u.Success("%d document(s) processed in %s", len(batch.Jobs), ui.FormatDuration(elapsed))
}

func countFailed(b *service.Batch) int {
	n := 0
	for _, j := range b.Jobs {
		if j.Status == domain.StatusFailed {
			n++
		}
	}
	return n
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
