package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nao1215/d2crawl/internal/database"
	"github.com/nao1215/d2crawl/internal/model"
)

// DefaultRecentRuns is the number of runs a report lists.
const DefaultRecentRuns = 10

// Source is the part of the store a report is collected from.
type Source interface {
	CountGuardians(ctx context.Context) (int64, error)
	CountActivities(ctx context.Context) (int64, error)
	CountSources(ctx context.Context) (int64, error)
	ModeCounts(ctx context.Context) ([]database.ModeCount, error)
	RecentRuns(ctx context.Context, limit int) ([]database.Run, error)
}

// ModeShare is the number of stored activities of one game mode.
type ModeShare struct {
	Mode       int    `json:"mode"`
	Name       string `json:"name"`
	Activities int64  `json:"activities"`
}

// RunRecord is one crawl run as shown in a report.
type RunRecord struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Sources    int64      `json:"sources"`
	Activities int64      `json:"activities"`
	Guardians  int64      `json:"guardians"`
	Failures   int64      `json:"failures"`
}

// Duration returns how long the run took, or zero while it is running.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// CrawlReport is a snapshot of the crawl store.
type CrawlReport struct {
	GeneratedAt time.Time `json:"generated_at"`
	Database    string    `json:"database,omitempty"`

	Guardians       int64 `json:"guardians"`
	Activities      int64 `json:"activities"`
	ConsumedSources int64 `json:"consumed_sources"`

	// Modes is sorted by activity count, largest first.
	Modes []ModeShare `json:"modes"`

	// Runs is ordered newest first.
	Runs []RunRecord `json:"runs"`
}

// PendingSources returns the number of guardians not consumed as a source.
// Private guardians are included; they are never consumed.
func (r *CrawlReport) PendingSources() int64 {
	if n := r.Guardians - r.ConsumedSources; n > 0 {
		return n
	}
	return 0
}

// HasActivities reports whether any activity was stored.
func (r *CrawlReport) HasActivities() bool {
	return r.Activities > 0
}

// LastRun returns the most recent run, or nil when none was recorded.
func (r *CrawlReport) LastRun() *RunRecord {
	if len(r.Runs) == 0 {
		return nil
	}
	return &r.Runs[0]
}

// Collect builds a report from src, listing up to runs recent runs.
func Collect(ctx context.Context, src Source, runs int) (*CrawlReport, error) {
	if runs <= 0 {
		runs = DefaultRecentRuns
	}

	r := &CrawlReport{GeneratedAt: time.Now().UTC()}

	var err error
	if r.Guardians, err = src.CountGuardians(ctx); err != nil {
		return nil, fmt.Errorf("failed to count guardians: %w", err)
	}
	if r.Activities, err = src.CountActivities(ctx); err != nil {
		return nil, fmt.Errorf("failed to count activities: %w", err)
	}
	if r.ConsumedSources, err = src.CountSources(ctx); err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}

	modes, err := src.ModeCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count modes: %w", err)
	}
	r.Modes = make([]ModeShare, 0, len(modes))
	for _, m := range modes {
		r.Modes = append(r.Modes, ModeShare{Mode: m.Mode, Name: model.ModeName(m.Mode), Activities: m.Count})
	}
	sort.SliceStable(r.Modes, func(i, j int) bool { return r.Modes[i].Activities > r.Modes[j].Activities })

	recent, err := src.RecentRuns(ctx, runs)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	r.Runs = make([]RunRecord, 0, len(recent))
	for _, run := range recent {
		rec := RunRecord{
			ID:         run.ID,
			Status:     run.Status,
			StartedAt:  run.StartedAt,
			Sources:    run.Sources,
			Activities: run.Activities,
			Guardians:  run.Guardians,
			Failures:   run.Failures,
		}
		if !run.FinishedAt.IsZero() {
			finished := run.FinishedAt
			rec.FinishedAt = &finished
		}
		r.Runs = append(r.Runs, rec)
	}
	return r, nil
}
