package database

import (
	"context"
	"fmt"

	"github.com/nao1215/d2crawl/internal/model"
)

const guardianColumns = `membership_id, membership_type, character_id, display_name, display_name_code, is_private,
	activities_entered, activities_won, assists, kills, seconds_played, deaths, average_lifespan,
	score, opponents_defeated, precision_kills, combat_rating`

func guardianKey(id model.GuardianID) string {
	return "guardian:" + id.String()
}

// scanGuardian decodes one guardians row.
func scanGuardian(row rowScanner) (model.Guardian, error) {
	var (
		membershipID, membershipType, characterID string
		name, code                                string
		private                                   bool
		s                                         model.PvPStats
	)
	err := row.Scan(
		&membershipID, &membershipType, &characterID, &name, &code, &private,
		&s.ActivitiesEntered, &s.ActivitiesWon, &s.Assists, &s.Kills, &s.SecondsPlayed, &s.Deaths,
		&s.AverageLifespan, &s.Score, &s.OpponentsDefeated, &s.PrecisionKills, &s.CombatRating,
	)
	if err != nil {
		return model.Guardian{}, fmt.Errorf("failed to scan guardian: %w", err)
	}
	id, err := model.NewGuardianID(membershipID, membershipType, characterID)
	if err != nil {
		return model.Guardian{}, fmt.Errorf("stored guardian %s/%s/%s: %w", membershipType, membershipID, characterID, err)
	}
	return model.NewGuardian(id, name, code, private).WithStats(s), nil
}

// GuardianExists reports whether a guardian with id is stored.
func (cdb *CrawlDB) GuardianExists(ctx context.Context, id model.GuardianID) (bool, error) {
	ok, err := cdb.exists(ctx, guardianKey(id),
		`SELECT COUNT(*) FROM guardians WHERE membership_id = ? AND membership_type = ? AND character_id = ?`,
		id.MembershipID, id.MembershipType, id.CharacterID)
	if err != nil {
		return false, fmt.Errorf("failed to check guardian %s: %w", id, err)
	}
	return ok, nil
}

// InsertGuardian stores g unless a guardian with the same identity exists.
// It reports whether a row was written; an existing row is never updated.
func (cdb *CrawlDB) InsertGuardian(ctx context.Context, g model.Guardian) (bool, error) {
	id := g.ID()
	if !id.Valid() {
		return false, model.ErrIncompleteGuardianID
	}
	s := g.Stats
	inserted, err := cdb.insert(ctx, guardianKey(id), `
	INSERT OR IGNORE INTO guardians (`+guardianColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.MembershipID, id.MembershipType, id.CharacterID, g.DisplayName, g.DisplayNameCode, g.IsPrivate,
		s.ActivitiesEntered, s.ActivitiesWon, s.Assists, s.Kills, s.SecondsPlayed, s.Deaths,
		s.AverageLifespan, s.Score, s.OpponentsDefeated, s.PrecisionKills, s.CombatRating,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert guardian %s: %w", id, err)
	}
	return inserted, nil
}

// GetGuardian returns the guardian stored under id, or ErrNotFound.
func (cdb *CrawlDB) GetGuardian(ctx context.Context, id model.GuardianID) (model.Guardian, error) {
	g, err := scanOne(ctx, cdb.db, scanGuardian,
		`SELECT `+guardianColumns+` FROM guardians WHERE membership_id = ? AND membership_type = ? AND character_id = ?`,
		id.MembershipID, id.MembershipType, id.CharacterID)
	if err != nil {
		return model.Guardian{}, fmt.Errorf("get guardian %s: %w", id, err)
	}
	return g, nil
}

// GuardianAfter returns the first guardian stored after row id rowID and
// its own row id, or ErrNotFound past the end. Row ids grow with insertion
// order and guardians are never deleted, so the lookup is a single index
// seek whatever the position.
func (cdb *CrawlDB) GuardianAfter(ctx context.Context, rowID int64) (model.Guardian, int64, error) {
	var next int64
	g, err := scanOne(ctx, cdb.db, func(row rowScanner) (model.Guardian, error) {
		return scanGuardian(rowIDScanner{row: row, id: &next})
	}, `SELECT rowid, `+guardianColumns+` FROM guardians WHERE rowid > ? ORDER BY rowid LIMIT 1`, rowID)
	if err != nil {
		return model.Guardian{}, 0, fmt.Errorf("guardian after row %d: %w", rowID, err)
	}
	return g, next, nil
}

// rowIDScanner reads a leading rowid column before the columns of row.
type rowIDScanner struct {
	row rowScanner
	id  *int64
}

func (s rowIDScanner) Scan(dest ...any) error {
	return s.row.Scan(append([]any{s.id}, dest...)...)
}

// CountGuardians returns the number of stored guardians.
func (cdb *CrawlDB) CountGuardians(ctx context.Context) (int64, error) {
	n, err := cdb.count(ctx, `SELECT COUNT(*) FROM guardians`)
	if err != nil {
		return 0, fmt.Errorf("failed to count guardians: %w", err)
	}
	return n, nil
}
