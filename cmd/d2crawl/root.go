package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for d2crawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "d2crawl",
		Short: "Crawler for Destiny 2 PvP matches and player stats",
		Long: `d2crawl collects Destiny 2 PvP data from the Bungie API.

It walks the match history of known guardians, stores every team match
(post game carnage report) and every participant together with their
all-time PvP stats, and uses the participants as the next sources.
Progress is kept in a SQLite database, so a stopped crawl resumes where
it left off.

A Bungie API key is required. Set BUNGIE_API_KEY (a .env file in the
current directory is read), api_key in the configuration file, or pass
--api-key.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(NewReportCmd())
	cmd.AddCommand(NewImportCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
