package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/d2crawl/internal/database"
	"github.com/nao1215/d2crawl/internal/report"
)

// NewReportCmd creates the report command.
func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the crawl database",
		Long: `Report prints the number of stored guardians and activities, the
activities per game mode and the most recent crawl runs.

Examples:
  # Text summary on the terminal
  d2crawl report

  # Markdown with a mode pie chart, written to a file
  d2crawl report --markdown -o crawl.md

  # JSON for other tools
  d2crawl report --json`,
		Args: cobra.NoArgs,
		RunE: runReportCmd,
	}

	addStoreFlags(cmd)

	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().IntP("runs", "r", report.DefaultRecentRuns,
		"Number of recent runs to list")
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")

	return cmd
}

// runReportCmd executes the report command.
func runReportCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	format := report.FormatText
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		format = report.FormatJSON
	}
	if asMarkdown, _ := cmd.Flags().GetBool("markdown"); asMarkdown {
		format = report.FormatMarkdown
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	runs, err := cmd.Flags().GetInt("runs")
	if err != nil {
		return err
	}

	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	db, err := database.Open(cfg.DBDir, opts)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Debug("database opened", "path", db.Path())

	out := cmd.OutOrStdout()
	if outputPath != "" {
		f, err := createReportFile(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if err := writeReport(cmd.Context(), db, format, runs, out); err != nil {
		return err
	}
	if outputPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", outputPath)
	}
	return nil
}

// writeReport collects a report from db and renders it in format.
func writeReport(ctx context.Context, db *database.CrawlDB, format string, runs int, out io.Writer) error {
	r, err := report.Collect(ctx, db, runs)
	if err != nil {
		return err
	}
	r.Database = db.Path()

	w := report.NewWriter(format, out, getVersion())
	if w == nil {
		return fmt.Errorf("unknown report format %q", format)
	}
	if _, err := w.Write(r); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func createReportFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}
	return f, nil
}
