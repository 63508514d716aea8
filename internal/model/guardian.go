package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteGuardianID is returned when one of the identity parts is empty.
var ErrIncompleteGuardianID = errors.New("guardian id requires membership id, membership type and character id")

// GuardianID identifies a single character of a Bungie account.
// All three parts are opaque strings: Bungie returns membership and character
// ids as 64-bit decimal strings and membership types as small integers.
type GuardianID struct {
	MembershipID   string `json:"membership_id"`
	MembershipType string `json:"membership_type"`
	CharacterID    string `json:"character_id"`
}

// NewGuardianID builds an identity and rejects incomplete triples.
func NewGuardianID(membershipID, membershipType, characterID string) (GuardianID, error) {
	id := GuardianID{
		MembershipID:   strings.TrimSpace(membershipID),
		MembershipType: strings.TrimSpace(membershipType),
		CharacterID:    strings.TrimSpace(characterID),
	}
	if !id.Valid() {
		return GuardianID{}, ErrIncompleteGuardianID
	}
	return id, nil
}

// Valid reports whether every part of the identity is set.
func (id GuardianID) Valid() bool {
	return id.MembershipID != "" && id.MembershipType != "" && id.CharacterID != ""
}

// String renders the identity as type/membership/character, the same order
// the Bungie character endpoints use in their paths.
func (id GuardianID) String() string {
	return id.MembershipType + "/" + id.MembershipID + "/" + id.CharacterID
}

// PvPStats holds the all-time PvP aggregates of a character.
// A zero value means the stats were never fetched (or the profile is private).
type PvPStats struct {
	ActivitiesEntered int64   `json:"activities_entered"`
	ActivitiesWon     int64   `json:"activities_won"`
	Assists           int64   `json:"assists"`
	Kills             int64   `json:"kills"`
	SecondsPlayed     int64   `json:"seconds_played"`
	Deaths            int64   `json:"deaths"`
	AverageLifespan   float64 `json:"average_lifespan"`
	Score             int64   `json:"score"`
	OpponentsDefeated int64   `json:"opponents_defeated"`
	PrecisionKills    int64   `json:"precision_kills"`
	CombatRating      float64 `json:"combat_rating"`
}

// IsZero reports whether no aggregate has been recorded.
func (s PvPStats) IsZero() bool {
	return s == PvPStats{}
}

// Guardian is a character discovered as a seed or as a match participant.
// The identity is fixed at construction; everything else is descriptive.
type Guardian struct {
	id GuardianID

	// DisplayName is the Bungie global display name (without the code).
	DisplayName string

	// DisplayNameCode is the numeric suffix of the Bungie name, zero padded
	// to four digits when rendered.
	DisplayNameCode string

	// IsPrivate marks profiles whose stats cannot be read.
	IsPrivate bool

	// Stats is either all-zero or the complete result of one stats fetch.
	Stats PvPStats
}

// NewGuardian creates a guardian with empty aggregates.
func NewGuardian(id GuardianID, displayName, displayNameCode string, isPrivate bool) Guardian {
	return Guardian{
		id:              id,
		DisplayName:     displayName,
		DisplayNameCode: displayNameCode,
		IsPrivate:       isPrivate,
	}
}

// ID returns the guardian identity.
func (g Guardian) ID() GuardianID {
	return g.id
}

// WithStats returns a copy of the guardian carrying the given aggregates.
func (g Guardian) WithStats(stats PvPStats) Guardian {
	g.Stats = stats
	return g
}

// BungieName returns "Name#1234", or the bare name when the code is unknown.
func (g Guardian) BungieName() string {
	if g.DisplayNameCode == "" {
		return g.DisplayName
	}
	return g.DisplayName + "#" + g.DisplayNameCode
}

// guardianJSON is the flat wire form used by archive chunks.
type guardianJSON struct {
	GuardianID
	DisplayName     string `json:"display_name"`
	DisplayNameCode string `json:"display_name_code"`
	IsPrivate       bool   `json:"is_private"`
	PvPStats
}

// MarshalJSON encodes the guardian as a single flat object.
func (g Guardian) MarshalJSON() ([]byte, error) {
	return json.Marshal(guardianJSON{
		GuardianID:      g.id,
		DisplayName:     g.DisplayName,
		DisplayNameCode: g.DisplayNameCode,
		IsPrivate:       g.IsPrivate,
		PvPStats:        g.Stats,
	})
}

// UnmarshalJSON decodes the flat object written by MarshalJSON. Unknown
// fields and an incomplete identity are rejected.
func (g *Guardian) UnmarshalJSON(data []byte) error {
	var w guardianJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("decode guardian: %w", err)
	}
	id, err := NewGuardianID(w.MembershipID, w.MembershipType, w.CharacterID)
	if err != nil {
		return fmt.Errorf("decode guardian %q: %w", w.GuardianID.String(), err)
	}
	*g = Guardian{
		id:              id,
		DisplayName:     w.DisplayName,
		DisplayNameCode: w.DisplayNameCode,
		IsPrivate:       w.IsPrivate,
		Stats:           w.PvPStats,
	}
	return nil
}
