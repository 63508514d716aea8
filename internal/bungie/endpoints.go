package bungie

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/nao1215/d2crawl/internal/model"
)

// ErrInvalidBungieName is returned by ParseBungieName.
var ErrInvalidBungieName = errors.New(`bungie name must look like "Name#1234"`)

// ParseBungieName splits "Name#1234" into the display name and its code.
// The last '#' separates them since display names may contain '#'.
func ParseBungieName(s string) (string, string, error) {
	i := strings.LastIndex(s, "#")
	if i <= 0 || i == len(s)-1 {
		return "", "", ErrInvalidBungieName
	}
	name, code := s[:i], s[i+1:]
	if _, err := strconv.Atoi(code); err != nil {
		return "", "", ErrInvalidBungieName
	}
	return name, code, nil
}

// SearchPlayer looks up accounts by Bungie name. It returns nil, without an
// error, when either part is empty or nothing matches.
func (c *Client) SearchPlayer(ctx context.Context, displayName, displayNameCode string) ([]UserInfoCard, error) {
	displayName = norm.NFC.String(strings.TrimSpace(displayName))
	displayNameCode = strings.TrimSpace(displayNameCode)
	if displayName == "" || displayNameCode == "" {
		c.logger.Warn("missing display name or code, skipping player search",
			"display_name", displayName,
			"display_name_code", displayNameCode,
		)
		return nil, nil
	}

	code, err := strconv.Atoi(displayNameCode)
	if err != nil {
		c.logger.Warn("display name code is not numeric, skipping player search",
			"display_name", displayName,
			"display_name_code", displayNameCode,
		)
		return nil, nil
	}

	cards, err := doRequest[[]UserInfoCard](ctx, c, call{
		endpoint: "search",
		method:   "POST",
		path:     "/Destiny2/SearchDestinyPlayerByBungieName/All/",
		body: map[string]any{
			"displayName":     displayName,
			"displayNameCode": code,
		},
		context: fmt.Sprintf("search player %s#%s", displayName, displayNameCode),
	})
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		c.logger.Warn("player search returned no accounts", "display_name", displayName, "display_name_code", displayNameCode)
		return nil, nil
	}
	return cards, nil
}

// Profile fetches the characters of an account.
func (c *Client) Profile(ctx context.Context, membershipType, membershipID string) (*Profile, error) {
	p, err := doRequest[Profile](ctx, c, call{
		endpoint: "profile",
		method:   "GET",
		path: fmt.Sprintf("/Destiny2/%s/Profile/%s/?components=Characters",
			url.PathEscape(membershipType), url.PathEscape(membershipID)),
		context: fmt.Sprintf("fetch profile %s/%s", membershipType, membershipID),
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Stats fetches the all-time PvP aggregates of a character.
func (c *Client) Stats(ctx context.Context, id model.GuardianID) (model.PvPStats, error) {
	desc := fmt.Sprintf("fetch player stats %s", id)
	raw, err := doRequest[accountStats](ctx, c, call{
		endpoint: "stats",
		method:   "GET",
		path: fmt.Sprintf("/Destiny2/%s/Account/%s/Character/%s/Stats/",
			url.PathEscape(id.MembershipType), url.PathEscape(id.MembershipID), url.PathEscape(id.CharacterID)),
		context: desc,
	})
	if err != nil {
		return model.PvPStats{}, err
	}
	stats, err := raw.pvpStats()
	if err != nil {
		return model.PvPStats{}, fmt.Errorf("%s: %w: %w", desc, ErrDecode, err)
	}
	return stats, nil
}

// CarnageReport fetches the post game carnage report of an activity.
func (c *Client) CarnageReport(ctx context.Context, instanceID string) (*CarnageReport, error) {
	r, err := doRequest[CarnageReport](ctx, c, call{
		endpoint: "carnage",
		method:   "GET",
		path:     fmt.Sprintf("/Destiny2/Stats/PostGameCarnageReport/%s/", url.PathEscape(instanceID)),
		context:  fmt.Sprintf("fetch carnage report %s", instanceID),
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}
