package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nao1215/d2crawl/internal/model"
)

const activityColumns = `instance_id, period, mode, is_private, win_score, loss_score, players`

func activityKey(instanceID string) string {
	return "activity:" + instanceID
}

// scanActivity decodes one activities row.
func scanActivity(row rowScanner) (model.Activity, error) {
	var (
		a       model.Activity
		period  string
		players string
	)
	if err := row.Scan(&a.InstanceID, &period, &a.Mode, &a.IsPrivate, &a.WinScore, &a.LossScore, &players); err != nil {
		return model.Activity{}, fmt.Errorf("failed to scan activity: %w", err)
	}
	a.Period = parseTimestamp(period)
	if err := json.Unmarshal([]byte(players), &a.Players); err != nil {
		return model.Activity{}, fmt.Errorf("failed to parse players of activity %s: %w", a.InstanceID, err)
	}
	return a, nil
}

// ActivityExists reports whether an activity with instanceID is stored.
func (cdb *CrawlDB) ActivityExists(ctx context.Context, instanceID string) (bool, error) {
	ok, err := cdb.exists(ctx, activityKey(instanceID),
		`SELECT COUNT(*) FROM activities WHERE instance_id = ?`, instanceID)
	if err != nil {
		return false, fmt.Errorf("failed to check activity %s: %w", instanceID, err)
	}
	return ok, nil
}

// InsertActivity stores a unless an activity with the same instance id
// exists. It reports whether a row was written.
func (cdb *CrawlDB) InsertActivity(ctx context.Context, a model.Activity) (bool, error) {
	if a.InstanceID == "" {
		return false, fmt.Errorf("insert activity: empty instance id")
	}
	players := a.Players
	if players == nil {
		players = []model.Participant{}
	}
	playersJSON, err := json.Marshal(players)
	if err != nil {
		return false, fmt.Errorf("failed to serialize players of activity %s: %w", a.InstanceID, err)
	}

	win, loss := a.WinScore, a.LossScore
	if win < loss {
		win, loss = loss, win
	}

	inserted, err := cdb.insert(ctx, activityKey(a.InstanceID), `
	INSERT OR IGNORE INTO activities (`+activityColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.InstanceID, formatTimestamp(a.Period), a.Mode, a.IsPrivate, win, loss, string(playersJSON),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert activity %s: %w", a.InstanceID, err)
	}
	return inserted, nil
}

// GetActivity returns the activity stored under instanceID, or ErrNotFound.
func (cdb *CrawlDB) GetActivity(ctx context.Context, instanceID string) (model.Activity, error) {
	a, err := scanOne(ctx, cdb.db, scanActivity,
		`SELECT `+activityColumns+` FROM activities WHERE instance_id = ?`, instanceID)
	if err != nil {
		return model.Activity{}, fmt.Errorf("get activity %s: %w", instanceID, err)
	}
	return a, nil
}

// ActivityAt returns the activity at offset in insertion order.
func (cdb *CrawlDB) ActivityAt(ctx context.Context, offset int64) (model.Activity, error) {
	if offset < 0 {
		return model.Activity{}, fmt.Errorf("activity at %d: %w", offset, ErrNotFound)
	}
	a, err := scanOne(ctx, cdb.db, scanActivity,
		`SELECT `+activityColumns+` FROM activities ORDER BY rowid LIMIT 1 OFFSET ?`, offset)
	if err != nil {
		return model.Activity{}, fmt.Errorf("activity at %d: %w", offset, err)
	}
	return a, nil
}

// CountActivities returns the number of stored activities.
func (cdb *CrawlDB) CountActivities(ctx context.Context) (int64, error) {
	n, err := cdb.count(ctx, `SELECT COUNT(*) FROM activities`)
	if err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return n, nil
}

// ModeCount is the number of stored activities of one mode.
type ModeCount struct {
	Mode  int
	Count int64
}

// ModeCounts returns the stored activities grouped by mode, largest first.
func (cdb *CrawlDB) ModeCounts(ctx context.Context) ([]ModeCount, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT mode, COUNT(*) AS n FROM activities
	GROUP BY mode
	ORDER BY n DESC, mode ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to count activities by mode: %w", err)
	}
	defer rows.Close()

	var results []ModeCount
	for rows.Next() {
		var mc ModeCount
		if err := rows.Scan(&mc.Mode, &mc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan mode count: %w", err)
		}
		results = append(results, mc)
	}
	return results, rows.Err()
}
