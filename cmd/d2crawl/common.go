package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/d2crawl/internal/config"
	"github.com/nao1215/d2crawl/internal/database"
	d2log "github.com/nao1215/d2crawl/internal/log"
)

// addStoreFlags registers the flags every command touching the store needs.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .d2crawl.yaml in current, XDG config or home directory)")
	cmd.Flags().String("db-dir", "",
		"Directory holding d2crawl.db (default: XDG data directory)")
	cmd.Flags().Bool("log-json", false, "Write logs as JSON")
}

// addAPIFlags registers the flags of commands calling the Bungie API.
func addAPIFlags(cmd *cobra.Command) {
	cmd.Flags().String("api-key", "",
		"Bungie API key (default: $"+config.APIKeyEnv+")")
	cmd.Flags().Duration("timeout", config.DefaultTimeout,
		"Transport timeout of a single request")
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// loadConfig builds a Config from defaults, .env, the configuration file and
// the flags of cmd that were set explicitly, in increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)
	flags := cmd.Flags()
	if flags.Changed("db-dir") {
		if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
			return nil, err
		}
	}
	if flags.Lookup("log-json") != nil {
		if cfg.LogJSON, err = flags.GetBool("log-json"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("api-key") {
		if cfg.APIKey, err = flags.GetString("api-key"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("timeout") {
		if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// setupLogger creates the secret-masking logger and makes it the default.
func setupLogger(cfg *config.Config) *slog.Logger {
	logger := d2log.New(os.Stderr, d2log.Options{
		Verbose: cfg.Verbose,
		JSON:    cfg.LogJSON,
	})
	slog.SetDefault(logger)
	return logger
}

// openStore opens the crawl database in cfg.DBDir, creating it if needed.
func openStore(cfg *config.Config, logger *slog.Logger) (*database.CrawlDB, error) {
	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Debug("database opened", "path", db.Path())
	return db, nil
}
