// Package toolexec runs the external command-line tools the pipeline
// stages delegate to.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/spherical/pdf2tables/internal/observability"
)

// Runner lets stages stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *observability.Logger
}

// NewExecRunner creates a runner that logs each invocation.
func NewExecRunner(logger *observability.Logger) *ExecRunner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ExecRunner{logger: logger}
}

// Run executes name with args and returns captured stdout and stderr.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	r.logger.WithContext(ctx).Debug().
		Str("cmd_line", strings.Join(append([]string{name}, args...), " ")).
		Msg("running command")

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		r.logger.WithContext(ctx).Error().
			Str("cmd", name).
			Dur("duration", dur).
			Err(err).
			Str("stderr", Truncate(errb.String(), 8<<10)).
			Msg("exec failed")
	} else {
		r.logger.WithContext(ctx).Debug().
			Str("cmd", name).
			Dur("duration", dur).
			Int("stdout_bytes", out.Len()).
			Int("stderr_bytes", errb.Len()).
			Msg("exec ok")
	}

	return out.Bytes(), errb.Bytes(), err
}

// SplitCommand splits an operator-supplied command line into the program
// and its arguments, honouring shell quoting.
func SplitCommand(command string) (string, []string, error) {
	fields, err := shellwords.Parse(command)
	if err != nil {
		return "", nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(fields) == 0 {
		return "", nil, errors.New("empty command")
	}
	return fields[0], fields[1:], nil
}

// Truncate caps s at max bytes.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
