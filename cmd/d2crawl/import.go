package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nao1215/d2crawl/internal/archive"
	"github.com/nao1215/d2crawl/internal/model"
)

// importStore is the part of the store the import command writes to.
type importStore interface {
	InsertGuardian(ctx context.Context, g model.Guardian) (bool, error)
	InsertActivity(ctx context.Context, a model.Activity) (bool, error)
}

// importStats counts rows read and rows that were new to the store.
type importStats struct {
	Chunks        int
	Guardians     int
	NewGuardians  int
	Activities    int
	NewActivities int
	Rejected      int
}

// NewImportCmd creates the import command.
func NewImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <archive-dir>",
		Short: "Load archive chunk files into the crawl database",
		Long: `Import reads the guardians-NNNN and activities-NNNN chunk files written
by "crawl --archive" and inserts every row that is not stored yet.
Rows already in the database are left untouched, so importing the same
archive twice is harmless.

Examples:
  d2crawl import ~/.local/share/d2crawl/archive --db-dir ./fresh`,
		Args: cobra.ExactArgs(1),
		RunE: runImportCmd,
	}

	addStoreFlags(cmd)

	return cmd
}

// runImportCmd executes the import command.
func runImportCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := importArchive(cmd.Context(), args[0], db, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d chunk(s): %d/%d new guardian(s), %d/%d new activity(ies)\n",
		stats.Chunks, stats.NewGuardians, stats.Guardians, stats.NewActivities, stats.Activities)
	if stats.Rejected > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Rejected %d invalid row(s); see the log for details\n", stats.Rejected)
	}
	return nil
}

// importArchive inserts every row of the chunk files in dir into store.
// A row that does not decode or validate is logged and counted in Rejected;
// the rest of its chunk is still imported.
func importArchive(ctx context.Context, dir string, store importStore, logger *slog.Logger) (importStats, error) {
	var stats importStats

	guardians, err := archive.Chunks(dir, guardianArchive)
	if err != nil {
		return stats, err
	}
	for _, c := range guardians {
		rows := 0
		err := archive.ScanChunk(c.Path, func(row int, g model.Guardian, rowErr error) error {
			if rowErr != nil {
				stats.Rejected++
				logger.Warn("rejecting archive row", "path", c.Path, "row", row, "error", rowErr)
				return nil
			}
			inserted, err := store.InsertGuardian(ctx, g)
			if err != nil {
				return fmt.Errorf("import guardian %s from %s: %w", g.ID(), c.Path, err)
			}
			rows++
			stats.Guardians++
			if inserted {
				stats.NewGuardians++
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
		stats.Chunks++
		logger.Info("chunk imported", "path", c.Path, "rows", rows)
	}

	activities, err := archive.Chunks(dir, activityArchive)
	if err != nil {
		return stats, err
	}
	for _, c := range activities {
		rows := 0
		err := archive.ScanChunk(c.Path, func(row int, a model.Activity, rowErr error) error {
			if rowErr != nil {
				stats.Rejected++
				logger.Warn("rejecting archive row", "path", c.Path, "row", row, "error", rowErr)
				return nil
			}
			inserted, err := store.InsertActivity(ctx, a)
			if err != nil {
				return fmt.Errorf("import activity %s from %s: %w", a.InstanceID, c.Path, err)
			}
			rows++
			stats.Activities++
			if inserted {
				stats.NewActivities++
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
		stats.Chunks++
		logger.Info("chunk imported", "path", c.Path, "rows", rows)
	}

	if stats.Chunks == 0 {
		logger.Warn("no chunk files found", "dir", dir)
	}
	return stats, nil
}
