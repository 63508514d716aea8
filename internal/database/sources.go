package database

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/d2crawl/internal/model"
)

// Source is a guardian whose history has been walked to the end.
type Source struct {
	ID         model.GuardianID
	ConsumedAt time.Time
}

const sourceColumns = `membership_id, membership_type, character_id, consumed_at`

func sourceKey(id model.GuardianID) string {
	return "source:" + id.String()
}

func scanSource(row rowScanner) (Source, error) {
	var (
		s          Source
		consumedAt string
	)
	if err := row.Scan(&s.ID.MembershipID, &s.ID.MembershipType, &s.ID.CharacterID, &consumedAt); err != nil {
		return Source{}, fmt.Errorf("failed to scan source: %w", err)
	}
	s.ConsumedAt = parseTimestamp(consumedAt)
	return s, nil
}

// SourceConsumed reports whether the source id has been consumed.
func (cdb *CrawlDB) SourceConsumed(ctx context.Context, id model.GuardianID) (bool, error) {
	ok, err := cdb.exists(ctx, sourceKey(id),
		`SELECT COUNT(*) FROM sources WHERE membership_id = ? AND membership_type = ? AND character_id = ?`,
		id.MembershipID, id.MembershipType, id.CharacterID)
	if err != nil {
		return false, fmt.Errorf("failed to check source %s: %w", id, err)
	}
	return ok, nil
}

// MarkSourceConsumed records id as consumed. It reports whether the source
// was newly marked.
func (cdb *CrawlDB) MarkSourceConsumed(ctx context.Context, id model.GuardianID) (bool, error) {
	if !id.Valid() {
		return false, model.ErrIncompleteGuardianID
	}
	inserted, err := cdb.insert(ctx, sourceKey(id), `
	INSERT OR IGNORE INTO sources (`+sourceColumns+`)
	VALUES (?, ?, ?, ?)`,
		id.MembershipID, id.MembershipType, id.CharacterID, formatTimestamp(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark source %s consumed: %w", id, err)
	}
	return inserted, nil
}

// GetSource returns the consumed source id, or ErrNotFound.
func (cdb *CrawlDB) GetSource(ctx context.Context, id model.GuardianID) (Source, error) {
	s, err := scanOne(ctx, cdb.db, scanSource,
		`SELECT `+sourceColumns+` FROM sources WHERE membership_id = ? AND membership_type = ? AND character_id = ?`,
		id.MembershipID, id.MembershipType, id.CharacterID)
	if err != nil {
		return Source{}, fmt.Errorf("get source %s: %w", id, err)
	}
	return s, nil
}

// SourceAt returns the consumed source at offset in consumption order.
func (cdb *CrawlDB) SourceAt(ctx context.Context, offset int64) (Source, error) {
	if offset < 0 {
		return Source{}, fmt.Errorf("source at %d: %w", offset, ErrNotFound)
	}
	s, err := scanOne(ctx, cdb.db, scanSource,
		`SELECT `+sourceColumns+` FROM sources ORDER BY rowid LIMIT 1 OFFSET ?`, offset)
	if err != nil {
		return Source{}, fmt.Errorf("source at %d: %w", offset, err)
	}
	return s, nil
}

// CountSources returns the number of consumed sources.
func (cdb *CrawlDB) CountSources(ctx context.Context) (int64, error) {
	n, err := cdb.count(ctx, `SELECT COUNT(*) FROM sources`)
	if err != nil {
		return 0, fmt.Errorf("failed to count sources: %w", err)
	}
	return n, nil
}
