package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nao1215/d2crawl/internal/bungie"
	"github.com/nao1215/d2crawl/internal/config"
	"github.com/nao1215/d2crawl/internal/model"
	"github.com/nao1215/d2crawl/internal/ratelimit"
)

// errNoAccount is returned when a Bungie name resolves to no usable account.
var errNoAccount = errors.New("no account found")

// playerLookup is the part of the Bungie client the seed command uses.
type playerLookup interface {
	SearchPlayer(ctx context.Context, displayName, displayNameCode string) ([]bungie.UserInfoCard, error)
	Profile(ctx context.Context, membershipType, membershipID string) (*bungie.Profile, error)
}

// guardianStore stores seed guardians.
type guardianStore interface {
	InsertGuardian(ctx context.Context, g model.Guardian) (bool, error)
}

// NewSeedCmd creates the seed command.
func NewSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <Name#1234>...",
		Short: "Add the characters of Bungie accounts as crawl sources",
		Long: `Seed resolves Bungie names to their accounts and stores every character
as a guardian, so the next crawl uses them as sources.

Cross-saved accounts are listed once per platform by Bungie; only the
account that holds the characters is used.

Examples:
  d2crawl seed "Breeky#5512"
  d2crawl seed "Breeky#5512" "Another Player#0042"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSeedCmd,
	}

	addStoreFlags(cmd)
	addAPIFlags(cmd)

	return cmd
}

// runSeedCmd executes the seed command.
func runSeedCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return config.ErrNoAPIKey
	}
	logger := setupLogger(cfg)

	db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	limiter := ratelimit.New(cfg.RateCapacity, cfg.RatePerSecond, ratelimit.WithPollInterval(cfg.PollInterval))
	client := newClient(cfg, limiter, logger, nil)

	var failed int
	for _, name := range args {
		added, err := seedPlayer(cmd.Context(), client, db, name, logger)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "Cannot seed %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s: %d new guardian(s)\n", name, added)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d name(s) could not be seeded", failed, len(args))
	}
	return nil
}

// seedPlayer stores every character of the account behind a Bungie name and
// returns how many guardians were new.
func seedPlayer(ctx context.Context, api playerLookup, store guardianStore, bungieName string, logger *slog.Logger) (int, error) {
	name, code, err := bungie.ParseBungieName(bungieName)
	if err != nil {
		return 0, err
	}

	cards, err := api.SearchPlayer(ctx, name, code)
	if err != nil {
		return 0, err
	}

	added := 0
	found := false
	for _, card := range cards {
		if !card.IsCrossSavePrimary() {
			logger.Debug("skipping cross save secondary account",
				"membership_id", card.MembershipID,
				"membership_type", card.MembershipType,
			)
			continue
		}
		found = true

		membershipType := strconv.Itoa(card.MembershipType)
		profile, err := api.Profile(ctx, membershipType, card.MembershipID)
		if err != nil {
			return added, err
		}

		displayName := card.BungieGlobalDisplayName
		if displayName == "" {
			displayName = name
		}
		for _, characterID := range profile.CharacterIDs() {
			id, err := model.NewGuardianID(card.MembershipID, membershipType, characterID)
			if err != nil {
				logger.Warn("skipping character with incomplete id", "membership_id", card.MembershipID, "character_id", characterID)
				continue
			}
			inserted, err := store.InsertGuardian(ctx, model.NewGuardian(id, displayName, code, false))
			if err != nil {
				return added, err
			}
			if inserted {
				added++
				logger.Info("seed guardian added", "guardian", id.String(), "name", displayName+"#"+code)
			}
		}
	}

	if !found {
		return 0, fmt.Errorf("%w for %s", errNoAccount, bungieName)
	}
	return added, nil
}
