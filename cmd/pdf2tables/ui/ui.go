// Package ui provides terminal output for the pdf2tables CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// UI writes status lines, a live spinner and a progress bar.
type UI struct {
	out   io.Writer
	err   io.Writer
	quiet bool
}

// New creates a UI writing to stdout and stderr.
func New(noColor, quiet bool) *UI {
	if noColor {
		color.NoColor = true
	}
	return &UI{out: os.Stdout, err: os.Stderr, quiet: quiet}
}

// NewWithWriters creates a UI writing to the given streams. Animations are
// disabled.
func NewWithWriters(out, err io.Writer) *UI {
	color.NoColor = true
	return &UI{out: out, err: err, quiet: true}
}

// Success prints a success message.
func (u *UI) Success(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(u.out, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (u *UI) Error(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(u.err, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (u *UI) Warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(u.out, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Info prints an info message.
func (u *UI) Info(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(u.out, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Section prints a section header.
func (u *UI) Section(title string) {
	color.New(color.FgMagenta, color.Bold).Fprintf(u.out, "\n━━━ %s ━━━\n\n", strings.ToUpper(title))
}

// Table prints rows under headers in aligned columns.
func (u *UI) Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(u.out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(w, strings.Join(separator, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	_ = w.Flush()
}

// Spinner wraps a spinner for indeterminate progress.
type Spinner struct {
	spinner *spinner.Spinner
}

// NewSpinner creates a spinner with the given message. It is inert when the
// UI is quiet.
func (u *UI) NewSpinner(message string) *Spinner {
	if u.quiet {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = u.err
	return &Spinner{spinner: s}
}

// Start starts the spinner animation.
func (s *Spinner) Start() {
	if s.spinner != nil {
		s.spinner.Start()
	}
}

// Stop stops the spinner animation and clears the line.
func (s *Spinner) Stop() {
	if s.spinner != nil {
		s.spinner.Stop()
	}
}

// UpdateMessage updates the spinner's message.
func (s *Spinner) UpdateMessage(message string) {
	if s.spinner != nil {
		s.spinner.Lock()
		s.spinner.Suffix = " " + message
		s.spinner.Unlock()
	}
}

// ProgressBar wraps a progress bar for deterministic progress.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBar creates a bar counting up to total. It is inert when the UI
// is quiet.
func (u *UI) NewProgressBar(total int64, description string) *ProgressBar {
	if u.quiet {
		return &ProgressBar{}
	}
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(u.err),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(u.err, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &ProgressBar{bar: bar}
}

// Set moves the bar to current.
func (p *ProgressBar) Set(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the bar.
func (p *ProgressBar) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(100 * time.Millisecond)
	minutes := d / time.Minute
	d -= minutes * time.Minute
	if minutes > 0 {
		return fmt.Sprintf("%dm %.1fs", minutes, d.Seconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
