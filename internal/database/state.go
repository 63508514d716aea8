package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Cursor returns the persisted frontier position: the guardian row id the
// next source selection starts after.
func (cdb *CrawlDB) Cursor(ctx context.Context) (int64, error) {
	var cursor int64
	err := cdb.db.QueryRowContext(ctx, `SELECT cursor FROM crawl_state WHERE id = 1`).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor: %w", err)
	}
	return cursor, nil
}

// AdvanceCursor moves the persisted cursor to the guardian row id rowID.
// The cursor never moves backwards; a smaller row id is ignored.
func (cdb *CrawlDB) AdvanceCursor(ctx context.Context, rowID int64) error {
	_, err := cdb.db.ExecContext(ctx, `
	INSERT INTO crawl_state (id, cursor) VALUES (1, ?)
	ON CONFLICT(id) DO UPDATE SET cursor = MAX(cursor, excluded.cursor)`, rowID)
	if err != nil {
		return fmt.Errorf("failed to advance cursor to %d: %w", rowID, err)
	}
	return nil
}

// ResetCursor moves the cursor back to the first guardian so that sources
// skipped after a failed history fetch are visited again.
func (cdb *CrawlDB) ResetCursor(ctx context.Context) error {
	if _, err := cdb.db.ExecContext(ctx, `UPDATE crawl_state SET cursor = 0 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	return nil
}

// Run status values.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Run is the bookkeeping record of one crawl invocation.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	RunStats
}

// RunStats are the counters stored when a run finishes.
type RunStats struct {
	Sources    int64
	Activities int64
	Guardians  int64
	Failures   int64
}

// StartRun records a new run and returns its id.
func (cdb *CrawlDB) StartRun(ctx context.Context) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}
	_, err = cdb.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, status) VALUES (?, ?, ?)`,
		id, formatTimestamp(time.Now()), RunRunning)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final status and counters of run id.
func (cdb *CrawlDB) FinishRun(ctx context.Context, id, status string, stats RunStats) error {
	result, err := cdb.db.ExecContext(ctx, `
	UPDATE runs SET finished_at = ?, status = ?, sources = ?, activities = ?, guardians = ?, failures = ?
	WHERE id = ?`,
		formatTimestamp(time.Now()), status, stats.Sources, stats.Activities, stats.Guardians, stats.Failures, id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (cdb *CrawlDB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT id, started_at, finished_at, status, sources, activities, guardians, failures
	FROM runs
	ORDER BY started_at DESC, rowid DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			startedAt  string
			finishedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Status,
			&r.Sources, &r.Activities, &r.Guardians, &r.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTimestamp(startedAt)
		if finishedAt.Valid {
			r.FinishedAt = parseTimestamp(finishedAt.String)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
