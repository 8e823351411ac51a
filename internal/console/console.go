// Package console renders the human-facing progress line and final batch
// summary. Structured diagnostics go through the zap logger instead.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/3leaps/verifarm/pkg/engine"
)

// SystemFailureMessage is printed when a disposition step failed.
const SystemFailureMessage = "ERROR: System fail detected. Probable cause: disk space?"

// Console writes to a terminal or log file. Colors are dropped when out is
// not a terminal.
type Console struct {
	out    io.Writer
	inline bool

	mu       sync.Mutex
	progress bool

	header  lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
}

// New creates a Console. When inline is true, progress overwrites itself
// with a carriage return; otherwise every update is its own line.
func New(out io.Writer, inline bool) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:     out,
		inline:  inline,
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		muted:   r.NewStyle().Faint(true),
		success: r.NewStyle().Foreground(lipgloss.Color("2")),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")),
		failure: r.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
	}
}

// Banner prints the tool name and version.
func (c *Console) Banner(name, version string) {
	c.printf("\n%s\n\n", c.header.Render(fmt.Sprintf("%s %s", name, version)))
}

// Workers prints the hardware and effective pool size.
func (c *Console) Workers(hardware, effective int) {
	line := fmt.Sprintf("  # of hardware threads: %d", hardware)
	if effective != hardware {
		line += fmt.Sprintf(",  # of workers requested: %d", effective)
	}
	c.printf("%s\n\n  Running...\n", line)
}

// Warn prints a highlighted warning line.
func (c *Console) Warn(msg string) {
	c.printf("%s\n", c.warning.Render("WARNING: "+msg))
}

// Progress prints one progress update. It is safe to pass as
// engine.Config.Progress.
func (c *Console) Progress(s engine.Snapshot) {
	line := fmt.Sprintf("\t%3d %% (%d out of %d) complete.", s.Percent(), s.Done, s.Total)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inline {
		_, _ = fmt.Fprintf(c.out, "%s\r", line)
		c.progress = true
		return
	}
	_, _ = fmt.Fprintln(c.out, line)
}

// Summary prints the final statistics of a run.
func (c *Console) Summary(res *engine.Result) {
	var sb strings.Builder
	snap := res.Snapshot

	sb.WriteString("\n  All done.\n\n")

	elapsed := res.Elapsed()
	perJob := time.Duration(0)
	if snap.Done > 0 {
		perJob = elapsed / time.Duration(snap.Done)
	}
	fmt.Fprintf(&sb, "  Elapsed time: %.2f seconds (approx. %d milliseconds per job, %d workers)\n\n",
		elapsed.Seconds(), perJob.Milliseconds(), res.Workers)

	if snap.SystemFailure {
		sb.WriteString("\n" + c.failure.Render(SystemFailureMessage) + "\n\n")
	}

	fmt.Fprintf(&sb, "  # passes: %s\n", c.success.Render(fmt.Sprint(snap.Passed)))
	fails := fmt.Sprint(snap.Failed)
	if snap.Failed > 0 {
		fails = c.failure.Render(fails)
	}
	fmt.Fprintf(&sb, "  # fails:  %s\n", fails)

	if snap.Pending > 0 {
		fmt.Fprintf(&sb, "  # requests pended:  %s\n", c.warning.Render(fmt.Sprint(snap.Pending)))
	}
	switch snap.Reason {
	case engine.ReasonInterrupt:
		sb.WriteString(c.warning.Render("  Stopped early: interrupted") + "\n")
	case engine.ReasonFailThreshold:
		sb.WriteString(c.warning.Render(fmt.Sprintf("  Stopped early: more than %d fails", snap.MaxFails)) + "\n")
	}
	if res.ReportPath != "" {
		sb.WriteString(c.muted.Render("  Report: "+res.ReportPath) + "\n")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress {
		// Leave the last inline progress line intact.
		_, _ = io.WriteString(c.out, "\n")
		c.progress = false
	}
	_, _ = io.WriteString(c.out, sb.String())
}

// Plan prints an expansion preview.
func (c *Console) Plan(unit string, p *engine.Plan) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", c.header.Render("Unit "+unit))
	fmt.Fprintf(&sb, "  unit dir:    %s\n", p.UnitDir)
	fmt.Fprintf(&sb, "  run script:  %s\n", p.RunScript)
	fmt.Fprintf(&sb, "  files:       %d\n", len(p.Files))
	fmt.Fprintf(&sb, "  run count:   %d\n", p.RunCount)
	fmt.Fprintf(&sb, "  jobs:        %d\n", p.Jobs)
	fmt.Fprintf(&sb, "  passing:     %s\n", p.Disposition)
	threshold := "unlimited"
	if p.Threshold >= 0 {
		threshold = fmt.Sprint(p.Threshold)
	}
	fmt.Fprintf(&sb, "  max fails:   %s\n", threshold)
	c.printf("%s", sb.String())
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}
