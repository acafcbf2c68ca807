package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/dshills/prreview/internal/review"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("247"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

// TextWriter outputs a human-readable terminal report.
type TextWriter struct{}

func (t *TextWriter) Write(w io.Writer, report *Report) error {
	ew := &errWriter{w: w}

	ew.printf("%s\n", titleStyle.Render("PR Review: "+report.Target))
	ew.printf("Status: %s\n", report.Status)
	ew.println(strings.Repeat("─", 60))

	if report.Error != "" {
		ew.printf("%s %s\n", criticalStyle.Render("Error:"), report.Error)
		return ew.err
	}

	s := report.Summary
	ew.printf("Findings: %d total", s.Total)
	if s.Total > 0 {
		ew.printf(" (%d critical, %d suggestions)", s.CriticalBugs, s.StyleSuggestions)
	}
	ew.println("")
	ew.println(strings.Repeat("─", 60))

	if s.Total == 0 {
		ew.printf("\n%s\n", okStyle.Render("No issues found. Looks good!"))
		return ew.err
	}

	for _, f := range report.Findings {
		label, style := "SUGGESTION", styleStyle
		if f.Category == review.CategoryCriticalBug {
			label, style = "CRITICAL", criticalStyle
		}
		ew.printf("\n  %s line %d  %s\n", style.Render(label), f.Line, f.Severity.Label())
		for _, line := range wrapText(f.Message, 70) {
			ew.printf("    %s\n", line)
		}
	}

	ew.printf("\n%s\n", strings.Repeat("─", 60))
	ew.printf("%s\n", dimStyle.Render(fmt.Sprintf("Completed in %dms", report.DurationMs)))

	return ew.err
}

// errWriter wraps an io.Writer and captures the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintln(ew.w, s)
}

func wrapText(text string, width int) []string {
	lines := strings.Split(wordwrap.String(text, width), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return lines
}
