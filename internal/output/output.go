package output

import (
	"fmt"
	"io"
	"os"

	"github.com/dshills/prreview/internal/review"
)

// Report is one analysis run as seen by the CLI writers.
type Report struct {
	Target     string           `json:"target"`
	RunID      string           `json:"runId,omitempty"`
	Status     string           `json:"status"`
	Findings   []review.Finding `json:"findings"`
	Summary    review.Summary   `json:"summary"`
	Markdown   string           `json:"markdown,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"durationMs"`
}

// Writer writes a report in a specific format.
type Writer interface {
	Write(w io.Writer, report *Report) error
}

// GetWriter returns a writer for the specified format.
func GetWriter(format string) (Writer, error) {
	switch format {
	case "text", "":
		return &TextWriter{}, nil
	case "json":
		return &JSONWriter{}, nil
	case "markdown", "md":
		return &MarkdownWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteReport writes the report to the specified output (file path or stdout).
func WriteReport(report *Report, format, outPath string) error {
	writer, err := GetWriter(format)
	if err != nil {
		return err
	}

	var w io.Writer
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	} else {
		w = os.Stdout
	}

	return writer.Write(w, report)
}

// MarkdownWriter writes the PR analysis report.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, report *Report) error {
	md := report.Markdown
	if md == "" {
		md = FormatFindings(report.Findings)
	}
	_, err := fmt.Fprintln(w, md)
	return err
}
