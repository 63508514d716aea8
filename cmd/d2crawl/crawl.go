package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/nao1215/d2crawl/internal/archive"
	"github.com/nao1215/d2crawl/internal/bungie"
	"github.com/nao1215/d2crawl/internal/config"
	"github.com/nao1215/d2crawl/internal/crawler"
	"github.com/nao1215/d2crawl/internal/database"
	"github.com/nao1215/d2crawl/internal/metrics"
	"github.com/nao1215/d2crawl/internal/model"
	"github.com/nao1215/d2crawl/internal/ratelimit"
)

// Archive names, shared with the import command.
const (
	guardianArchive = "guardians"
	activityArchive = "activities"
)

func guardianKey(g model.Guardian) string { return g.ID().String() }

func activityKey(a model.Activity) string { return a.InstanceID }

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl PvP matches starting from the stored guardians",
		Long: `Crawl walks the activity history of stored guardians that were not yet
used as a source, one source at a time, up to --budget sources.

For every source it:
- fetches the activity history inside the [--from, --to) window
- fetches the carnage report of every activity not stored yet
  (free-for-all Rumble matches are discarded)
- stores every participant; private profiles get empty stats, public
  ones get their all-time PvP stats
- marks the source consumed once all of this finished

Per-entity failures are logged and retried when another source refers
to the same entity. A crawl stopped with Ctrl-C resumes at the source
it was walking.

Examples:
  # Crawl 100 sources with the configured window
  d2crawl crawl --budget 100

  # Only Trials of Osiris matches in 2023, archived to chunk files
  d2crawl crawl --mode 84 --from 2023-01-01T00:00:00Z --to 2024-01-01T00:00:00Z --archive

  # Expose Prometheus metrics while crawling
  d2crawl crawl --metrics-addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: runCrawlCmd,
	}

	addStoreFlags(cmd)
	addAPIFlags(cmd)

	// History window flags
	cmd.Flags().String("from", config.DefaultFrom,
		"Oldest activity to include ("+bungie.DateLayout+")")
	cmd.Flags().String("to", config.DefaultTo,
		"Activities at or after this time are excluded ("+bungie.DateLayout+")")
	cmd.Flags().IntP("mode", "m", config.DefaultMode,
		"Activity mode requested from the history endpoint")

	// Crawl behavior flags
	cmd.Flags().IntP("budget", "b", config.DefaultBudget,
		"Maximum number of sources processed in this run")
	cmd.Flags().IntP("concurrency", "n", config.DefaultConcurrency,
		"Maximum concurrent activity and stats fetches")
	cmd.Flags().Float64("rate", config.DefaultRatePerSecond,
		"Requests per second allowed by the token bucket")
	cmd.Flags().Int("burst", config.DefaultRateCapacity,
		"Token bucket capacity")
	cmd.Flags().Bool("rewind", false,
		"Reset the frontier cursor and rescan the guardian table from the start")

	// Output flags
	cmd.Flags().Bool("archive", false,
		"Also append inserted guardians and activities to compressed chunk files")
	cmd.Flags().String("archive-dir", "",
		"Directory of the chunk files (default: <data dir>/archive)")
	cmd.Flags().String("metrics-addr", "",
		"Serve Prometheus metrics on this address")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildCrawlConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := runCrawl(ctx, cfg, logger)
	if summary != nil {
		printSummary(cmd.OutOrStdout(), summary)
	}
	if errors.Is(err, context.Canceled) {
		logger.Warn("crawl interrupted, the current source stays unconsumed")
		return nil
	}
	return err
}

// buildCrawlConfig layers the crawl flags over the loaded configuration.
func buildCrawlConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("from") {
		if cfg.From, err = flags.GetString("from"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("to") {
		if cfg.To, err = flags.GetString("to"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("mode") {
		if cfg.Mode, err = flags.GetInt("mode"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("budget") {
		if cfg.Budget, err = flags.GetInt("budget"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("concurrency") {
		if cfg.Concurrency, err = flags.GetInt("concurrency"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("rate") {
		if cfg.RatePerSecond, err = flags.GetFloat64("rate"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("burst") {
		if cfg.RateCapacity, err = flags.GetInt("burst"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("archive") {
		if cfg.Archive.Enabled, err = flags.GetBool("archive"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("archive-dir") {
		if cfg.Archive.Dir, err = flags.GetString("archive-dir"); err != nil {
			return nil, err
		}
	}
	if cfg.Rewind, err = flags.GetBool("rewind"); err != nil {
		return nil, err
	}
	if cfg.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runCrawl wires the client, the store and the archives into an orchestrator
// and runs it. The summary is returned whenever the run started.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*crawler.Summary, error) {
	m := metrics.New()
	if cfg.MetricsAddr != "" {
		shutdown, err := serveMetrics(cfg.MetricsAddr, m, logger)
		if err != nil {
			return nil, err
		}
		defer shutdown()
	}

	db, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if cfg.Rewind {
		if err := db.ResetCursor(ctx); err != nil {
			return nil, err
		}
		logger.Info("frontier cursor reset")
	}

	seeds, err := seedGuardians(cfg.Seeds)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateCapacity, cfg.RatePerSecond,
		ratelimit.WithPollInterval(cfg.PollInterval),
		ratelimit.WithWaitHook(m.RateLimitWait),
	)
	client := newClient(cfg, limiter, logger, m)

	opts := []crawler.Option{
		crawler.WithMode(cfg.Mode),
		crawler.WithWindow(bungie.DateString(cfg.From), bungie.DateString(cfg.To)),
		crawler.WithConcurrency(cfg.Concurrency),
		crawler.WithLogger(logger),
		crawler.WithMetrics(m),
		crawler.WithSeeds(seeds...),
	}

	if cfg.Archive.Enabled {
		guardians, activities, err := openArchives(cfg, logger, m)
		if err != nil {
			return nil, err
		}
		defer closeArchive(guardians, logger)
		defer closeArchive(activities, logger)
		opts = append(opts, crawler.WithArchives(guardians, activities))
	}

	return crawler.New(client, db, opts...).Run(ctx, cfg.Budget)
}

// newClient builds the Bungie client used by crawl and seed.
func newClient(cfg *config.Config, limiter bungie.Acquirer, logger *slog.Logger, m *metrics.Metrics) *bungie.Client {
	return bungie.New(cfg.APIKey,
		bungie.WithBaseURL(cfg.BaseURL),
		bungie.WithDoer(bungie.NewTransport(cfg.Timeout)),
		bungie.WithLimiter(limiter),
		bungie.WithRetryDelay(cfg.RetryDelay),
		bungie.WithLogger(logger),
		bungie.WithMetrics(m),
	)
}

// seedGuardians converts configured seeds into guardian records.
func seedGuardians(seeds []config.Seed) ([]model.Guardian, error) {
	guardians := make([]model.Guardian, 0, len(seeds))
	for _, s := range seeds {
		id, err := model.NewGuardianID(s.MembershipID, s.MembershipType, s.CharacterID)
		if err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", s.DisplayName, err)
		}
		guardians = append(guardians, model.NewGuardian(id, s.DisplayName, "", false))
	}
	return guardians, nil
}

func openArchives(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*archive.Archive[model.Guardian], *archive.Archive[model.Activity], error) {
	opts := []archive.Option{
		archive.WithMaxBuffer(cfg.Archive.MaxBuffer),
		archive.WithMaxRows(cfg.Archive.MaxRows),
		archive.WithLogger(logger),
		archive.WithWriteHook(func(int) { m.ArchiveChunkWritten() }),
	}
	guardians, err := archive.Open(cfg.Archive.Dir, guardianArchive, guardianKey, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open guardian archive: %w", err)
	}
	activities, err := archive.Open(cfg.Archive.Dir, activityArchive, activityKey, opts...)
	if err != nil {
		closeArchive(guardians, logger)
		return nil, nil, fmt.Errorf("failed to open activity archive: %w", err)
	}
	logger.Info("archiving enabled", "dir", cfg.Archive.Dir)
	return guardians, activities, nil
}

func closeArchive[T any](a *archive.Archive[T], logger *slog.Logger) {
	if err := a.Close(); err != nil {
		logger.Error("failed to flush archive", "error", err)
	}
}

// serveMetrics exposes m on addr until the returned function is called.
func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	handler := fasthttpadaptor.NewFastHTTPHandler(m.Handler())
	srv := &fasthttp.Server{
		Name: "d2crawl",
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) != "/metrics" {
				ctx.NotFound()
				return
			}
			handler(ctx)
		},
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		if err := srv.Shutdown(); err != nil {
			logger.Warn("failed to stop metrics server", "error", err)
		}
	}, nil
}

// printSummary writes the run summary for the operator.
func printSummary(w io.Writer, s *crawler.Summary) {
	fmt.Fprintf(w, "Run %s finished in %s\n", s.RunID, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  sources:    %d consumed, %d skipped, %d failed\n", s.Sources, s.SkippedSources, s.FailedSources)
	fmt.Fprintf(w, "  activities: %d stored, %d discarded\n", s.Activities, s.Discarded)
	fmt.Fprintf(w, "  guardians:  %d stored\n", s.Guardians)
	fmt.Fprintf(w, "  failures:   %d\n", s.Failures)
	if s.InvalidWindow {
		fmt.Fprintln(w, "  history window is invalid; fix --from/--to and run again")
	}
	if s.Exhausted {
		fmt.Fprintln(w, "  no unconsumed source left; seed more guardians to continue")
	}
}

var _ crawler.Store = (*database.CrawlDB)(nil)
