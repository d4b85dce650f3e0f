package cmd

import (
	"io"
	"log/slog"
	"os"

	"audio-extract/domain/audio"
	"audio-extract/infrastructure/logging"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// progressSteps is the resolution of the terminal progress bar
const progressSteps = 1000

// ProgressReporter renders extraction progress either as a terminal bar or as
// sampled log lines.
type ProgressReporter struct {
	bar     *progressbar.ProgressBar
	sampler *logging.ProgressSampler
	logger  *slog.Logger
}

// NewProgressReporter picks a bar when w is a terminal and sampled logging otherwise
func NewProgressReporter(w io.Writer, logger *slog.Logger) *ProgressReporter {
	if f, ok := w.(*os.File); ok && isTerminal(f.Fd()) {
		return NewBarReporter(w)
	}
	return NewLogReporter(logger)
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// NewBarReporter renders progress as a bar on w
func NewBarReporter(w io.Writer) *ProgressReporter {
	bar := progressbar.NewOptions(progressSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("extracting audio"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
	)
	return &ProgressReporter{bar: bar}
}

// NewLogReporter logs progress every ten percent
func NewLogReporter(logger *slog.Logger) *ProgressReporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ProgressReporter{
		sampler: logging.NewProgressSampler(0.1),
		logger:  logging.NewComponentLogger(logger, "progress"),
	}
}

// Report is an audio.ProgressFunc
func (p *ProgressReporter) Report(fraction float64) {
	if p.bar != nil {
		_ = p.bar.Set(int(fraction * progressSteps))
		return
	}
	if p.sampler.ShouldLog(fraction) {
		p.logger.Info("extraction progress", slog.Int("percent", int(fraction*100)))
	}
}

// Func returns the reporter as a progress callback
func (p *ProgressReporter) Func() audio.ProgressFunc {
	return p.Report
}

// Finish completes the bar, if any
func (p *ProgressReporter) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Abort erases the bar, if any, and stops it from redrawing
func (p *ProgressReporter) Abort() {
	if p.bar != nil {
		_ = p.bar.Clear()
		_ = p.bar.Exit()
	}
}
