// Package output renders operator-facing CLI text: status lines, a code
// block helper, and an in-place progress bar for long-running index runs.
package output

import (
	"fmt"
	"io"
	"strings"
)

const progressBarWidth = 30

const (
	iconSuccess = "✅"
	iconWarning = "⚠️ "
	iconError   = "❌"
)

// Printer writes status and progress output to a single io.Writer, in the
// order calls are made. It has no buffering of its own; callers that need
// concurrent-safe writes should serialize calls externally.
type Printer struct {
	dest io.Writer
}

// New returns a Printer writing to dest.
func New(dest io.Writer) *Printer {
	return &Printer{dest: dest}
}

// Line prints msg prefixed with icon, or indented plainly when icon is
// empty. Write errors are ignored: CLI status output isn't worth failing
// a command over.
func (p *Printer) Line(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(p.dest, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(p.dest, "%s %s\n", icon, msg)
}

// Linef is Line with fmt.Sprintf-style formatting.
func (p *Printer) Linef(icon, format string, args ...any) {
	p.Line(icon, fmt.Sprintf(format, args...))
}

// Success prints msg with a success icon.
func (p *Printer) Success(msg string) { p.Line(iconSuccess, msg) }

// Successf is Success with formatting.
func (p *Printer) Successf(format string, args ...any) { p.Success(fmt.Sprintf(format, args...)) }

// Warning prints msg with a warning icon.
func (p *Printer) Warning(msg string) { p.Line(iconWarning, msg) }

// Warningf is Warning with formatting.
func (p *Printer) Warningf(format string, args ...any) { p.Warning(fmt.Sprintf(format, args...)) }

// Error prints msg with an error icon.
func (p *Printer) Error(msg string) { p.Line(iconError, msg) }

// Errorf is Error with formatting.
func (p *Printer) Errorf(format string, args ...any) { p.Error(fmt.Sprintf(format, args...)) }

// Block prints content as an indented, blank-line-delimited block, for
// rendering a snippet of matched source around a search result.
func (p *Printer) Block(content string) {
	_, _ = fmt.Fprintln(p.dest)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(p.dest, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(p.dest)
}

// Blank prints an empty line.
func (p *Printer) Blank() { _, _ = fmt.Fprintln(p.dest) }

// Progress redraws an in-place progress bar for current out of total,
// followed by msg. Call ProgressDone (or let current reach total, which
// emits a trailing newline itself) once the operation finishes.
func (p *Printer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	_, _ = fmt.Fprintf(p.dest, "\r[%s] %.0f%% %s", progressBar(current, total, progressBarWidth), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(p.dest)
	}
}

// ProgressDone terminates an in-place progress line with a newline.
func (p *Printer) ProgressDone() { _, _ = fmt.Fprintln(p.dest) }

// progressBar renders a filled/unfilled block bar of the given width for
// current out of total.
func progressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := int(float64(current) / float64(total) * float64(width))
	switch {
	case filled > width:
		filled = width
	case filled < 0:
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
