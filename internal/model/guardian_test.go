package model

import (
	"encoding/json"
	"errors"
	"testing"
)

// TestNewGuardianID tests identity construction and validation.
func TestNewGuardianID(t *testing.T) {
	t.Parallel()

	t.Run("trims and accepts a complete triple", func(t *testing.T) {
		t.Parallel()

		id, err := NewGuardianID(" 4611686018476641937 ", "3", "2305843009403261815")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id.MembershipID != "4611686018476641937" {
			t.Errorf("expected trimmed membership id, got %q", id.MembershipID)
		}
		if id.String() != "3/4611686018476641937/2305843009403261815" {
			t.Errorf("unexpected string form %q", id.String())
		}
	})

	testCases := []struct {
		name                 string
		membership, typ, chr string
	}{
		{"missing membership id", "", "3", "1"},
		{"missing membership type", "1", " ", "1"},
		{"missing character id", "1", "3", ""},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewGuardianID(tc.membership, tc.typ, tc.chr)
			if !errors.Is(err, ErrIncompleteGuardianID) {
				t.Errorf("expected ErrIncompleteGuardianID, got %v", err)
			}
		})
	}
}

// TestGuardian tests guardian accessors and JSON round trips.
func TestGuardian(t *testing.T) {
	t.Parallel()

	id := GuardianID{MembershipID: "10", MembershipType: "3", CharacterID: "20"}

	t.Run("new guardian has zero stats", func(t *testing.T) {
		t.Parallel()

		g := NewGuardian(id, "Breeky", "1234", false)
		if !g.Stats.IsZero() {
			t.Error("expected zero stats")
		}
		if g.ID() != id {
			t.Errorf("expected id %v, got %v", id, g.ID())
		}
		if g.BungieName() != "Breeky#1234" {
			t.Errorf("expected Breeky#1234, got %q", g.BungieName())
		}
	})

	t.Run("WithStats does not modify the receiver", func(t *testing.T) {
		t.Parallel()

		g := NewGuardian(id, "Breeky", "", false)
		withStats := g.WithStats(PvPStats{Kills: 5, CombatRating: 101.5})
		if !g.Stats.IsZero() {
			t.Error("expected original guardian to keep zero stats")
		}
		if withStats.Stats.Kills != 5 {
			t.Errorf("expected 5 kills, got %d", withStats.Stats.Kills)
		}
		if withStats.BungieName() != "Breeky" {
			t.Errorf("expected bare name without code, got %q", withStats.BungieName())
		}
	})

	t.Run("JSON keeps identity and stats", func(t *testing.T) {
		t.Parallel()

		g := NewGuardian(id, "Breeky", "1234", true).WithStats(PvPStats{Deaths: 7})
		data, err := json.Marshal(g)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		var decoded Guardian
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if decoded.ID() != id {
			t.Errorf("expected id %v, got %v", id, decoded.ID())
		}
		if decoded.Stats.Deaths != 7 || !decoded.IsPrivate {
			t.Errorf("unexpected decoded guardian %+v", decoded)
		}
	})
	t.Run("JSON without an identity is rejected", func(t *testing.T) {
		t.Parallel()

		var decoded Guardian
		err := json.Unmarshal([]byte(`{"membership_id":"10","membership_type":"","character_id":"20","kills":3}`), &decoded)
		if !errors.Is(err, ErrIncompleteGuardianID) {
			t.Errorf("expected ErrIncompleteGuardianID, got %v", err)
		}
		if decoded.ID().Valid() {
			t.Errorf("expected the receiver to stay empty, got %v", decoded.ID())
		}
	})

	t.Run("JSON with unknown fields is rejected", func(t *testing.T) {
		t.Parallel()

		var decoded Guardian
		err := json.Unmarshal([]byte(`{"membership_id":"10","membership_type":"3","character_id":"20","clan":"x"}`), &decoded)
		if err == nil {
			t.Error("expected an error for an unknown field")
		}
	})
}
