package bungie

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/nao1215/d2crawl/internal/model"
)

// DateLayout is the timestamp format of the Bungie API and of the configured
// history window.
const DateLayout = "2006-01-02T15:04:05Z"

// HistoryPageSize is the largest page the history endpoint serves.
const HistoryPageSize = 250

// firstHistoryPage is the index of the newest history page. Bungie pages are
// zero based.
const firstHistoryPage = 0

// oldestHistory is the lower bound used when no "from" bound is given.
var oldestHistory = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

// DateBound is one end of a history window, given either as a time or as a
// DateLayout string. The zero value means "unbounded on this side".
type DateBound struct {
	t   time.Time
	raw string
}

// At returns a bound at t.
func At(t time.Time) DateBound {
	return DateBound{t: t}
}

// DateString returns a bound parsed lazily from s.
func DateString(s string) DateBound {
	return DateBound{raw: s}
}

// IsZero reports whether the bound is unset.
func (b DateBound) IsZero() bool {
	return b.t.IsZero() && b.raw == ""
}

func (b DateBound) resolve(fallback time.Time) (time.Time, error) {
	switch {
	case !b.t.IsZero():
		return b.t.UTC(), nil
	case b.raw == "":
		return fallback, nil
	}
	t, err := time.Parse(DateLayout, b.raw)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// Window resolves from and to into a half-open interval [from, to). Unset
// bounds default to 2015-01-01 and now; reversed bounds are swapped.
func Window(from, to DateBound, now time.Time) (time.Time, time.Time, error) {
	lo, err := from.resolve(oldestHistory)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q: %w", from.raw, err)
	}
	hi, err := to.resolve(now.UTC())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q: %w", to.raw, err)
	}
	if lo.After(hi) {
		lo, hi = hi, lo
	}
	return lo, hi, nil
}

// ActivityHistory returns the activities of id in mode whose period falls in
// [from, to), newest first. Pages are requested until one is empty or until a
// page reaches past the lower bound.
//
// A malformed bound yields a nil result and a log line, not an error. A
// successful fetch always returns a non-nil slice.
func (c *Client) ActivityHistory(ctx context.Context, id model.GuardianID, mode int, from, to DateBound) ([]HistoryEntry, error) {
	lo, hi, err := Window(from, to, time.Now())
	if err != nil {
		c.logger.Error("cannot fetch activity history", "guardian", id.String(), "error", err)
		return nil, nil
	}

	entries := make([]HistoryEntry, 0)
	for page := firstHistoryPage; ; page++ {
		query := url.Values{}
		query.Set("count", strconv.Itoa(HistoryPageSize))
		query.Set("mode", strconv.Itoa(mode))
		query.Set("page", strconv.Itoa(page))

		resp, err := doRequest[historyPage](ctx, c, call{
			endpoint: "history",
			method:   "GET",
			path: fmt.Sprintf("/Destiny2/%s/Account/%s/Character/%s/Stats/Activities/?%s",
				url.PathEscape(id.MembershipType), url.PathEscape(id.MembershipID), url.PathEscape(id.CharacterID), query.Encode()),
			context: fmt.Sprintf("fetch activity history %s page %d", id, page),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Activities) == 0 {
			break
		}

		var oldest time.Time
		for _, a := range resp.Activities {
			period, err := time.Parse(time.RFC3339, a.Period)
			if err != nil {
				c.logger.Warn("skipping history entry with bad period",
					"guardian", id.String(),
					"instance_id", a.ActivityDetails.InstanceID,
					"period", a.Period,
				)
				continue
			}
			if oldest.IsZero() || period.Before(oldest) {
				oldest = period
			}
			if period.Before(lo) || !period.Before(hi) {
				continue
			}
			entries = append(entries, HistoryEntry{
				Period:     period,
				InstanceID: a.ActivityDetails.InstanceID,
				Mode:       a.ActivityDetails.Mode,
				Modes:      a.ActivityDetails.Modes,
				IsPrivate:  a.ActivityDetails.IsPrivate,
			})
		}

		if !oldest.IsZero() && oldest.Before(lo) {
			break
		}
	}

	c.logger.Debug("activity history fetched",
		"guardian", id.String(),
		"mode", mode,
		"from", lo.Format(DateLayout),
		"to", hi.Format(DateLayout),
		"activities", len(entries),
	)
	return entries, nil
}
