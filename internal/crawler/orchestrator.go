package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nao1215/d2crawl/internal/archive"
	"github.com/nao1215/d2crawl/internal/bungie"
	"github.com/nao1215/d2crawl/internal/database"
	"github.com/nao1215/d2crawl/internal/metrics"
	"github.com/nao1215/d2crawl/internal/model"
	"github.com/nao1215/d2crawl/internal/pipeline"
)

// Stage names, used in logs and metrics.
const (
	StageHistory  = "history"
	StageActivity = "activity"
	StageGuardian = "guardian"
	StageRederive = "rederive"
)

const (
	kindActivity = "activity"
	kindGuardian = "guardian"

	reasonSeen      = "seen"
	reasonRumble    = "rumble"
	reasonPrivate   = "private"
	reasonNoRoster  = "no_roster"
	reasonConsumed  = "consumed"
	reasonBusy      = "busy"
	reasonDuplicate = "duplicate"
	reasonNoID      = "incomplete_id"
)

// ErrInvalidBudget is returned by Run for a budget below one.
var ErrInvalidBudget = errors.New("budget must be at least one source")

// API is the part of the Bungie client the orchestrator uses.
type API interface {
	ActivityHistory(ctx context.Context, id model.GuardianID, mode int, from, to bungie.DateBound) ([]bungie.HistoryEntry, error)
	CarnageReport(ctx context.Context, instanceID string) (*bungie.CarnageReport, error)
	Stats(ctx context.Context, id model.GuardianID) (model.PvPStats, error)
}

// Store is the part of the dedup store the orchestrator uses.
type Store interface {
	FrontierStore
	GuardianExists(ctx context.Context, id model.GuardianID) (bool, error)
	InsertGuardian(ctx context.Context, g model.Guardian) (bool, error)
	ActivityExists(ctx context.Context, instanceID string) (bool, error)
	InsertActivity(ctx context.Context, a model.Activity) (bool, error)
	GetActivity(ctx context.Context, instanceID string) (model.Activity, error)
	StartRun(ctx context.Context) (string, error)
	FinishRun(ctx context.Context, id, status string, stats database.RunStats) error
}

// Summary reports what one run did.
type Summary struct {
	RunID string

	// Sources is the number of sources walked to the end and consumed.
	Sources int
	// SkippedSources were found consumed or busy when claimed.
	SkippedSources int
	// FailedSources had their history fetch fail and stay unconsumed.
	FailedSources int

	Activities int
	Guardians  int
	Discarded  int
	Failures   int

	// Exhausted is true when the run stopped because no source was left.
	Exhausted bool
	// InvalidWindow is true when the history window could not be resolved
	// and no source was walked.
	InvalidWindow bool
	Elapsed       time.Duration
}

// counters are updated from concurrent tasks.
type counters struct {
	sources, skippedSources, failedSources atomic.Int64
	activities, guardians, discarded       atomic.Int64
	failures                               atomic.Int64
}

func (c *counters) summary() Summary {
	return Summary{
		Sources:        int(c.sources.Load()),
		SkippedSources: int(c.skippedSources.Load()),
		FailedSources:  int(c.failedSources.Load()),
		Activities:     int(c.activities.Load()),
		Guardians:      int(c.guardians.Load()),
		Discarded:      int(c.discarded.Load()),
		Failures:       int(c.failures.Load()),
	}
}

// Orchestrator walks the match history of sources and fans out to activity
// and guardian fetches.
type Orchestrator struct {
	api      API
	store    Store
	frontier *Frontier
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mode        int
	from, to    bungie.DateBound
	concurrency int
	seeds       []model.Guardian

	guardianArchive *archive.Archive[model.Guardian]
	activityArchive *archive.Archive[model.Activity]

	activityBatch *pipeline.BatchProcessor
	guardianBatch *pipeline.BatchProcessor
	rederiveBatch *pipeline.BatchProcessor

	counts *counters
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMode sets the activity mode requested from the history endpoint.
func WithMode(mode int) Option {
	return func(o *Orchestrator) {
		o.mode = mode
	}
}

// WithWindow sets the history window.
func WithWindow(from, to bungie.DateBound) Option {
	return func(o *Orchestrator) {
		o.from = from
		o.to = to
	}
}

// WithConcurrency sets the task limit of every fan-out batch.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithSeeds sets guardians inserted before the run starts.
func WithSeeds(seeds ...model.Guardian) Option {
	return func(o *Orchestrator) {
		o.seeds = append(o.seeds, seeds...)
	}
}

// WithArchives sets the archives every inserted entity is appended to.
// Either may be nil.
func WithArchives(guardians *archive.Archive[model.Guardian], activities *archive.Archive[model.Activity]) Option {
	return func(o *Orchestrator) {
		o.guardianArchive = guardians
		o.activityArchive = activities
	}
}

// New creates an orchestrator.
func New(api API, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:         api,
		store:       store,
		logger:      slog.Default(),
		mode:        model.ModeAllPvP,
		concurrency: pipeline.DefaultConcurrency,
		counts:      &counters{},
	}
	for _, opt := range opts {
		opt(o)
	}

	o.frontier = NewFrontier(store, o.logger)

	hook := func(stage string, _ error) {
		o.counts.failures.Add(1)
		o.metrics.Failed(stage)
	}
	batch := func(stage string) *pipeline.BatchProcessor {
		return pipeline.NewBatchProcessor(stage,
			pipeline.WithConcurrency(o.concurrency),
			pipeline.WithBatchLogger(o.logger),
			pipeline.WithFailureHook(hook),
		)
	}
	o.activityBatch = batch(StageActivity)
	o.guardianBatch = batch(StageGuardian)
	o.rederiveBatch = batch(StageRederive)
	return o
}

// Frontier returns the frontier the orchestrator selects sources from.
func (o *Orchestrator) Frontier() *Frontier {
	return o.frontier
}

// Run processes up to budget sources. It stops early when the frontier is
// exhausted, which is not an error. Store faults and context cancellation
// end the run and are returned together with the partial summary.
func (o *Orchestrator) Run(ctx context.Context, budget int) (*Summary, error) {
	if budget < 1 {
		return nil, ErrInvalidBudget
	}
	start := time.Now()
	o.counts = &counters{}

	runID, err := o.store.StartRun(ctx)
	if err != nil {
		return nil, err
	}
	o.logger.Info("crawl started",
		"run_id", runID,
		"budget", budget,
		"mode", model.ModeName(o.mode),
		"concurrency", o.concurrency,
	)

	var (
		exhausted bool
		runErr    error
	)
	_, _, windowErr := bungie.Window(o.from, o.to, time.Now())
	if windowErr != nil {
		// The cursor stays where it is so the next run with a fixed window
		// walks the same sources.
		o.logger.Error("invalid history window, no source walked", "run_id", runID, "error", windowErr)
	} else {
		exhausted, runErr = o.run(ctx, budget)
	}

	summary := o.counts.summary()
	summary.RunID = runID
	summary.Exhausted = exhausted
	summary.InvalidWindow = windowErr != nil
	summary.Elapsed = time.Since(start)

	status := database.RunFinished
	if runErr != nil || windowErr != nil {
		status = database.RunFailed
	}
	stats := database.RunStats{
		Sources:    int64(summary.Sources),
		Activities: int64(summary.Activities),
		Guardians:  int64(summary.Guardians),
		Failures:   int64(summary.Failures),
	}
	// The run record is written even when ctx was cancelled.
	if err := o.store.FinishRun(context.WithoutCancel(ctx), runID, status, stats); err != nil {
		o.logger.Error("failed to record run", "run_id", runID, "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	o.logger.Info("crawl finished",
		"run_id", runID,
		"status", status,
		"sources", summary.Sources,
		"skipped_sources", summary.SkippedSources,
		"failed_sources", summary.FailedSources,
		"activities", summary.Activities,
		"guardians", summary.Guardians,
		"discarded", summary.Discarded,
		"failures", summary.Failures,
		"exhausted", summary.Exhausted,
		"invalid_window", summary.InvalidWindow,
		"elapsed", summary.Elapsed,
	)
	return &summary, runErr
}

func (o *Orchestrator) run(ctx context.Context, budget int) (bool, error) {
	if err := o.insertSeeds(ctx); err != nil {
		return false, err
	}

	for processed := 0; processed < budget; processed++ {
		src, err := o.frontier.Next(ctx)
		if errors.Is(err, database.ErrNotFound) {
			o.logger.Info("no unconsumed source left", "processed", processed)
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if err := o.processSource(ctx, src); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (o *Orchestrator) insertSeeds(ctx context.Context) error {
	for _, g := range o.seeds {
		inserted, err := o.store.InsertGuardian(ctx, g)
		if err != nil {
			return fmt.Errorf("insert seed %s: %w", g.ID(), err)
		}
		if inserted {
			o.logger.Info("seed guardian added", "guardian", g.ID().String(), "name", g.BungieName())
			o.counts.guardians.Add(1)
			o.metrics.Inserted(kindGuardian)
			o.archiveGuardian(g)
		}
	}
	return nil
}

// processSource walks the history of one source. Errors returned are fatal
// for the run; per-entity failures are logged by the batches.
func (o *Orchestrator) processSource(ctx context.Context, src Source) error {
	id := src.ID()

	ok, err := o.frontier.Claim(ctx, src)
	if err != nil {
		return err
	}
	if !ok {
		o.counts.skippedSources.Add(1)
		return nil
	}

	o.logger.Info("fetching activity history", "guardian", id.String(), "row", src.RowID)
	history, err := o.api.ActivityHistory(ctx, id, o.mode, o.from, o.to)
	if err == nil && history == nil {
		// Malformed input, not a fault of this source: leave the cursor alone.
		o.logger.Warn("no activity history returned, source stays unconsumed", "guardian", id.String())
		o.counts.failedSources.Add(1)
		o.counts.failures.Add(1)
		o.metrics.Failed(StageHistory)
		o.frontier.Release(src)
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			o.frontier.Release(src)
			return ctx.Err()
		}
		o.logger.Warn("cannot fetch activity history, source stays unconsumed",
			"guardian", id.String(),
			"error", err,
		)
		o.counts.failedSources.Add(1)
		o.counts.failures.Add(1)
		o.metrics.Failed(StageHistory)
		return o.frontier.Skip(ctx, src)
	}

	fresh, known, err := o.partitionHistory(ctx, history)
	if err != nil {
		o.frontier.Release(src)
		return err
	}
	o.logger.Debug("activity history partitioned",
		"guardian", id.String(),
		"activities", len(history),
		"unseen", len(fresh),
		"seen", len(known),
	)

	if _, err := pipeline.ProcessBatch(ctx, o.activityBatch, fresh, o.fetchActivity); err != nil {
		o.frontier.Release(src)
		return err
	}
	if _, err := pipeline.ProcessBatch(ctx, o.rederiveBatch, known, o.rederiveRoster); err != nil {
		o.frontier.Release(src)
		return err
	}

	if err := o.frontier.Complete(ctx, src); err != nil {
		return err
	}
	o.counts.sources.Add(1)
	o.metrics.SourceConsumed()
	o.logger.Info("source consumed", "guardian", id.String())
	return nil
}

// partitionHistory splits history into activities not yet stored and
// instance ids of stored ones. Duplicate entries are dropped.
func (o *Orchestrator) partitionHistory(ctx context.Context, history []bungie.HistoryEntry) ([]bungie.HistoryEntry, []string, error) {
	var (
		fresh []bungie.HistoryEntry
		known []string
	)
	dup := make(map[string]struct{}, len(history))
	for _, e := range history {
		if _, ok := dup[e.InstanceID]; ok {
			o.logger.Debug("skipping activity", "instance_id", e.InstanceID, "reason", reasonDuplicate)
			continue
		}
		dup[e.InstanceID] = struct{}{}

		seen, err := o.store.ActivityExists(ctx, e.InstanceID)
		if err != nil {
			return nil, nil, err
		}
		if seen {
			o.logger.Debug("skipping activity", "instance_id", e.InstanceID, "reason", reasonSeen)
			o.metrics.Skipped(kindActivity, reasonSeen)
			known = append(known, e.InstanceID)
			continue
		}
		fresh = append(fresh, e)
	}
	return fresh, known, nil
}

// fetchActivity fetches the carnage report of one activity, stores it and
// fans out to its roster.
func (o *Orchestrator) fetchActivity(ctx context.Context, e bungie.HistoryEntry) error {
	report, err := o.api.CarnageReport(ctx, e.InstanceID)
	if err != nil {
		return fmt.Errorf("fetch activity %s: %w", e.InstanceID, err)
	}
	if report.IsRumble() {
		o.logger.Debug("skipping activity", "instance_id", e.InstanceID, "reason", reasonRumble)
		o.counts.discarded.Add(1)
		o.metrics.Skipped(kindActivity, reasonRumble)
		return nil
	}

	activity, err := report.Activity()
	if err != nil {
		return fmt.Errorf("decode activity %s: %w", e.InstanceID, err)
	}
	if activity.InstanceID == "" {
		activity.InstanceID = e.InstanceID
	}

	inserted, err := o.store.InsertActivity(ctx, activity)
	if err != nil {
		return pipeline.Fatal(err)
	}
	if inserted {
		o.counts.activities.Add(1)
		o.metrics.Inserted(kindActivity)
		o.archiveActivity(activity)
	}

	return o.fetchRoster(ctx, activity)
}

// rederiveRoster re-reads a stored activity and fans out to its roster. It
// completes participants left unfetched when an earlier run stopped before
// the source was consumed.
func (o *Orchestrator) rederiveRoster(ctx context.Context, instanceID string) error {
	activity, err := o.store.GetActivity(ctx, instanceID)
	if err != nil {
		return pipeline.Fatal(err)
	}
	if len(activity.Players) == 0 {
		o.logger.Debug("skipping roster", "instance_id", instanceID, "reason", reasonNoRoster)
		o.metrics.Skipped(kindActivity, reasonNoRoster)
		return nil
	}
	return o.fetchRoster(ctx, activity)
}

// fetchRoster stores private participants with empty stats and fetches the
// stats of unseen public ones.
func (o *Orchestrator) fetchRoster(ctx context.Context, activity model.Activity) error {
	public := make([]model.Participant, 0, len(activity.Players))
	dup := make(map[model.GuardianID]struct{}, len(activity.Players))

	for _, p := range activity.Players {
		if !p.ID.Valid() {
			o.logger.Warn("skipping participant with incomplete id",
				"instance_id", activity.InstanceID,
				"guardian", p.ID.String(),
				"reason", reasonNoID,
			)
			continue
		}
		if _, ok := dup[p.ID]; ok {
			o.logger.Debug("skipping guardian", "guardian", p.ID.String(), "reason", reasonDuplicate)
			continue
		}
		dup[p.ID] = struct{}{}

		seen, err := o.store.GuardianExists(ctx, p.ID)
		if err != nil {
			return pipeline.Fatal(err)
		}
		if seen {
			o.logger.Debug("skipping guardian", "guardian", p.ID.String(), "reason", reasonSeen)
			o.metrics.Skipped(kindGuardian, reasonSeen)
			continue
		}

		if !p.IsPublic {
			if err := o.storeGuardian(ctx, p.Guardian()); err != nil {
				return err
			}
			o.logger.Debug("skipping guardian stats", "guardian", p.ID.String(), "reason", reasonPrivate)
			o.metrics.Skipped(kindGuardian, reasonPrivate)
			continue
		}
		public = append(public, p)
	}

	_, err := pipeline.ProcessBatch(ctx, o.guardianBatch, public, o.fetchGuardian)
	return err
}

// fetchGuardian fetches and stores the stats of a public participant.
func (o *Orchestrator) fetchGuardian(ctx context.Context, p model.Participant) error {
	stats, err := o.api.Stats(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("fetch stats of guardian %s: %w", p.ID, err)
	}
	return o.storeGuardian(ctx, p.Guardian().WithStats(stats))
}

func (o *Orchestrator) storeGuardian(ctx context.Context, g model.Guardian) error {
	inserted, err := o.store.InsertGuardian(ctx, g)
	if err != nil {
		return pipeline.Fatal(err)
	}
	if inserted {
		o.counts.guardians.Add(1)
		o.metrics.Inserted(kindGuardian)
		o.archiveGuardian(g)
	}
	return nil
}

func (o *Orchestrator) archiveGuardian(g model.Guardian) {
	if o.guardianArchive == nil {
		return
	}
	if err := o.guardianArchive.Append(g); err != nil {
		o.logger.Warn("failed to archive guardian", "guardian", g.ID().String(), "error", err)
	}
}

func (o *Orchestrator) archiveActivity(a model.Activity) {
	if o.activityArchive == nil {
		return
	}
	if err := o.activityArchive.Append(a); err != nil {
		o.logger.Warn("failed to archive activity", "instance_id", a.InstanceID, "error", err)
	}
}
