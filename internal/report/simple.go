package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// SimpleWriter outputs human-readable text reports for terminal display.
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections without rows are shown.
	showEmpty bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *CrawlReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeModes(&sb, report)
	w.writeRuns(&sb, report)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

// writeHeader writes the title and the store totals.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *CrawlReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                          D2CRAWL REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	if report.Database != "" {
		fmt.Fprintf(sb, "Database:         %s\n", report.Database)
	}
	fmt.Fprintf(sb, "Generated:        %s\n", report.GeneratedAt.Format(timeLayout))
	fmt.Fprintf(sb, "Guardians:        %d\n", report.Guardians)
	fmt.Fprintf(sb, "Activities:       %d\n", report.Activities)
	fmt.Fprintf(sb, "Consumed sources: %d\n", report.ConsumedSources)
	fmt.Fprintf(sb, "Pending sources:  %d\n", report.PendingSources())
	sb.WriteString("\n")
}

// writeModes writes the activity count of every mode.
func (w *SimpleWriter) writeModes(sb *strings.Builder, report *CrawlReport) {
	if len(report.Modes) == 0 && !w.showEmpty {
		return
	}
	section(sb, "ACTIVITIES BY MODE")

	if len(report.Modes) == 0 {
		sb.WriteString("  No activities stored\n\n")
		return
	}
	for _, m := range report.Modes {
		fmt.Fprintf(sb, "  %-20s %d\n", m.Name+":", m.Activities)
	}
	sb.WriteString("\n")
}

// writeRuns writes one line per recent run.
func (w *SimpleWriter) writeRuns(sb *strings.Builder, report *CrawlReport) {
	if len(report.Runs) == 0 && !w.showEmpty {
		return
	}
	section(sb, "RECENT RUNS")

	if len(report.Runs) == 0 {
		sb.WriteString("  No runs recorded\n\n")
		return
	}
	for _, r := range report.Runs {
		fmt.Fprintf(sb, "  [%s] %s  %s\n", r.Status, r.ID, r.StartedAt.Format(timeLayout))
		fmt.Fprintf(sb, "    sources=%d activities=%d guardians=%d failures=%d",
			r.Sources, r.Activities, r.Guardians, r.Failures)
		if d := r.Duration(); d > 0 {
			fmt.Fprintf(sb, " elapsed=%s", d.Round(time.Millisecond))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
