// Package output handles formatted terminal output for the CLI.
package output

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Printer writes formatted status lines for pipeline runs.
type Printer struct {
	w io.Writer
}

// New creates a Printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Header prints the run header.
func (p *Printer) Header(featureID, phase string) {
	fmt.Fprintf(p.w, "%s\n", headerStyle.Render(fmt.Sprintf("▸ %s — %s", featureID, phase)))
}

// Info prints a plain informational line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.w, "  "+format+"\n", args...)
}

// Success prints a success line with a checkmark.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintf(p.w, "%s\n", successStyle.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Failure prints a failure line with its cause.
func (p *Printer) Failure(format string, args ...any) {
	fmt.Fprintf(p.w, "%s\n", failStyle.Render("✗ "+fmt.Sprintf(format, args...)))
}

// Detail prints a dimmed secondary line.
func (p *Printer) Detail(format string, args ...any) {
	fmt.Fprintf(p.w, "%s\n", dimStyle.Render("  "+fmt.Sprintf(format, args...)))
}
