package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of tasks a BatchProcessor runs at once
// when no limit is configured.
const DefaultConcurrency = 10

// fatalError marks a task error that must stop the whole batch.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so that ProcessBatch cancels the remaining tasks and
// returns it. Errors that are not wrapped are logged and counted, and the
// other tasks keep running.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was wrapped with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// Result counts the outcomes of one batch.
type Result struct {
	Succeeded int
	Failed    int
}

// BatchProcessor fans a list of items out to concurrent tasks.
// It uses errgroup to manage goroutines and respect concurrency limits.
//
// A task failure never cancels its siblings: the failure is logged and
// counted and the batch completes. Only a Fatal error, or cancellation of
// the parent context, stops the batch early.
type BatchProcessor struct {
	// stage names the batch in logs and failure callbacks.
	stage string

	// concurrency is the maximum number of concurrent tasks.
	concurrency int

	// logger is used for batch-level logging.
	logger *slog.Logger

	// onFailure is called once per failed task.
	onFailure func(stage string, err error)
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent tasks.
// Default is DefaultConcurrency if not specified.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithFailureHook registers fn to be called for every failed task.
func WithFailureHook(fn func(stage string, err error)) BatchOption {
	return func(b *BatchProcessor) {
		b.onFailure = fn
	}
}

// NewBatchProcessor creates a new BatchProcessor for stage.
func NewBatchProcessor(stage string, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		stage:       stage,
		concurrency: DefaultConcurrency,
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// Stage returns the stage name.
func (bp *BatchProcessor) Stage() string {
	return bp.stage
}

// ProcessBatch runs task for every item and waits for all of them.
// It returns the first Fatal error (still wrapped), or the context error when
// ctx was cancelled; per-task failures only show up in the Result.
func ProcessBatch[T any](ctx context.Context, bp *BatchProcessor, items []T, task func(ctx context.Context, item T) error) (Result, error) {
	if len(items) == 0 {
		return Result{}, nil
	}

	bp.logger.Debug("starting batch",
		"stage", bp.stage,
		"tasks", len(items),
		"concurrency", bp.concurrency,
	)
	startTime := time.Now()

	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for _, item := range items {
		item := item
		g.Go(func() error {
			// Check for cancellation before starting
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			err := task(gctx, item)
			switch {
			case err == nil:
				succeeded.Add(1)
				return nil
			case IsFatal(err):
				return err
			case gctx.Err() != nil:
				return gctx.Err()
			}

			failed.Add(1)
			bp.logger.Warn("task failed",
				"stage", bp.stage,
				"error", err,
			)
			if bp.onFailure != nil {
				bp.onFailure(bp.stage, err)
			}
			// Don't return error to errgroup - we want to continue other tasks
			return nil
		})
	}

	err := g.Wait()
	result := Result{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}

	bp.logger.Debug("batch complete",
		"stage", bp.stage,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"elapsed", time.Since(startTime),
	)

	// A Fatal error keeps its marker so nested batches propagate it.
	return result, err
}
