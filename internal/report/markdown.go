package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/d2crawl/internal/database"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeModes(md, report)
	w.writeRuns(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the store totals and an alert about the last run.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *CrawlReport) {
	md.H1("d2crawl Report")
	md.PlainText("")

	rows := [][]string{
		{"Generated", report.GeneratedAt.Format(timeLayout)},
		{"Guardians", strconv.FormatInt(report.Guardians, 10)},
		{"Activities", strconv.FormatInt(report.Activities, 10)},
		{"Consumed sources", strconv.FormatInt(report.ConsumedSources, 10)},
		{"Pending sources", strconv.FormatInt(report.PendingSources(), 10)},
	}
	if report.Database != "" {
		rows = append([][]string{{"Database", "`" + report.Database + "`"}}, rows...)
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	w.writeAlert(md, report)
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *CrawlReport) {
	last := report.LastRun()
	switch {
	case last == nil:
		md.Note("No crawl run has been recorded yet.")
	case last.Status == database.RunFailed:
		md.Cautionf("The last run %s failed after %d source(s). Check the logs before resuming.", last.ID, last.Sources)
	case last.Status == database.RunRunning:
		md.Warningf("Run %s has not finished. It is still running or was killed.", last.ID)
	case last.Failures > 0:
		md.Importantf("The last run finished with %d per-entity failure(s).", last.Failures)
	default:
		md.Tip("The last run finished without failures.")
	}
	md.PlainText("")
}

// writeModes writes the mode distribution table and pie chart.
func (w *MarkdownWriter) writeModes(md *markdown.Markdown, report *CrawlReport) {
	md.H2("Activities by Mode")
	md.PlainText("")

	if !report.HasActivities() {
		md.PlainText("No activities stored.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(report.Modes))
	for _, m := range report.Modes {
		rows = append(rows, []string{m.Name, strconv.Itoa(m.Mode), strconv.FormatInt(m.Activities, 10)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Mode", "Value", "Activities"},
		Rows:   rows,
	})
	md.PlainText("")

	w.writePieChart(md, report)
}

// writePieChart writes a mermaid pie chart of the mode distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, report *CrawlReport) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Activity Mode Distribution"),
		piechart.WithShowData(true),
	)
	for _, m := range report.Modes {
		if m.Activities > 0 {
			chart.LabelAndIntValue(m.Name, uint64(m.Activities))
		}
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeRuns writes the recent runs table.
func (w *MarkdownWriter) writeRuns(md *markdown.Markdown, report *CrawlReport) {
	md.H2("Recent Runs")
	md.PlainText("")

	if len(report.Runs) == 0 {
		md.PlainText("No runs recorded.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(report.Runs))
	for _, r := range report.Runs {
		elapsed := "-"
		if d := r.Duration(); d > 0 {
			elapsed = d.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			"`" + r.ID + "`",
			r.Status,
			r.StartedAt.Format(timeLayout),
			elapsed,
			strconv.FormatInt(r.Sources, 10),
			strconv.FormatInt(r.Activities, 10),
			strconv.FormatInt(r.Guardians, 10),
			strconv.FormatInt(r.Failures, 10),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Run", "Status", "Started", "Elapsed", "Sources", "Activities", "Guardians", "Failures"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [d2crawl](https://github.com/nao1215/d2crawl)*")
}
