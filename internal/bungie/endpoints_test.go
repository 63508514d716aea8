package bungie

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/nao1215/d2crawl/internal/model"
)

var breeky = model.GuardianID{
	MembershipID:   "4611686018476641937",
	MembershipType: "3",
	CharacterID:    "2305843009403261815",
}

// TestParseBungieName tests splitting Bungie names.
func TestParseBungieName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		wantName string
		wantCode string
		wantErr  bool
	}{
		{"Breeky#1234", "Breeky", "1234", false},
		{"We#Are#0042", "We#Are", "0042", false},
		{"NoCode", "", "", true},
		{"#1234", "", "", true},
		{"Trailing#", "", "", true},
		{"Name#abcd", "", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			name, code, err := ParseBungieName(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidBungieName) {
					t.Errorf("expected ErrInvalidBungieName, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if name != tt.wantName || code != tt.wantCode {
				t.Errorf("expected %q/%q, got %q/%q", tt.wantName, tt.wantCode, name, code)
			}
		})
	}
}

// TestSearchPlayer tests the Bungie name search.
func TestSearchPlayer(t *testing.T) {
	t.Parallel()

	t.Run("empty name or code returns nil without a request", func(t *testing.T) {
		t.Parallel()

		doer := &fakeDoer{handler: func(request) (string, error) {
			t.Error("unexpected request")
			return ok(nil), nil
		}}
		c := newTestClient(t, doer, &countingLimiter{})

		for _, args := range [][2]string{{"", "1234"}, {"Breeky", ""}, {"Breeky", "x"}} {
			cards, err := c.SearchPlayer(context.Background(), args[0], args[1])
			if err != nil || cards != nil {
				t.Errorf("expected nil, nil for %v, got %v, %v", args, cards, err)
			}
		}
	})

	t.Run("no results returns nil", func(t *testing.T) {
		t.Parallel()

		doer := &fakeDoer{handler: func(request) (string, error) {
			return ok([]any{}), nil
		}}
		c := newTestClient(t, doer, &countingLimiter{})

		cards, err := c.SearchPlayer(context.Background(), "Nobody", "0001")
		if err != nil || cards != nil {
			t.Errorf("expected nil, nil, got %v, %v", cards, err)
		}
	})

	t.Run("posts the name and returns accounts", func(t *testing.T) {
		t.Parallel()

		doer := &fakeDoer{handler: func(request) (string, error) {
			return ok([]map[string]any{{
				"membershipId":                breeky.MembershipID,
				"membershipType":              3,
				"bungieGlobalDisplayName":     "Breeky",
				"bungieGlobalDisplayNameCode": 1234,
			}}), nil
		}}
		c := newTestClient(t, doer, &countingLimiter{})

		cards, err := c.SearchPlayer(context.Background(), "Breeky", "1234")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cards) != 1 || cards[0].MembershipID != breeky.MembershipID {
			t.Fatalf("unexpected cards %+v", cards)
		}
		if !cards[0].IsCrossSavePrimary() {
			t.Error("expected account without cross save override to be primary")
		}

		reqs := doer.Requests()
		if reqs[0].Method != "POST" || reqs[0].Path != "/Destiny2/SearchDestinyPlayerByBungieName/All/" {
			t.Errorf("unexpected request %s %s", reqs[0].Method, reqs[0].Path)
		}
		var body map[string]any
		if err := json.Unmarshal(reqs[0].Body, &body); err != nil {
			t.Fatalf("invalid body: %v", err)
		}
		if body["displayName"] != "Breeky" || body["displayNameCode"] != float64(1234) {
			t.Errorf("unexpected body %v", body)
		}
	})
}

// TestProfile tests the profile endpoint.
func TestProfile(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{handler: func(r request) (string, error) {
		if r.Query.Get("components") != "Characters" {
			t.Errorf("expected Characters component, got %q", r.Query.Get("components"))
		}
		return ok(map[string]any{
			"characters": map[string]any{
				"data": map[string]any{
					"300": map[string]any{"characterId": "300", "membershipId": breeky.MembershipID, "membershipType": 3},
					"100": map[string]any{"characterId": "100", "membershipId": breeky.MembershipID, "membershipType": 3},
				},
			},
		}), nil
	}}
	c := newTestClient(t, doer, &countingLimiter{})

	p, err := c.Profile(context.Background(), "3", breeky.MembershipID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := p.CharacterIDs()
	if len(ids) != 2 || ids[0] != "100" || ids[1] != "300" {
		t.Errorf("expected sorted character ids, got %v", ids)
	}
	if doer.Requests()[0].Path != "/Destiny2/3/Profile/"+breeky.MembershipID+"/" {
		t.Errorf("unexpected path %q", doer.Requests()[0].Path)
	}
}

func statBlock(values map[string]float64) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = map[string]any{"basic": map[string]any{"value": v, "displayValue": strconv.FormatFloat(v, 'f', -1, 64)}}
	}
	return out
}

// TestStats tests the character stats endpoint.
func TestStats(t *testing.T) {
	t.Parallel()

	t.Run("reads the all-time PvP block", func(t *testing.T) {
		t.Parallel()

		doer := &fakeDoer{handler: func(request) (string, error) {
			return ok(map[string]any{
				"allPvP": map[string]any{
					"allTime": statBlock(map[string]float64{
						"activitiesEntered": 1200,
						"activitiesWon":     640,
						"kills":             15000,
						"assists":           4000,
						"deaths":            9000,
						"secondsPlayed":     720000,
						"averageLifespan":   61.5,
						"score":             30000,
						"opponentsDefeated": 19000,
						"precisionKills":    5000,
						"combatRating":      123.4,
					}),
				},
			}), nil
		}}
		c := newTestClient(t, doer, &countingLimiter{})

		stats, err := c.Stats(context.Background(), breeky)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.ActivitiesEntered != 1200 || stats.Kills != 15000 || stats.CombatRating != 123.4 || stats.AverageLifespan != 61.5 {
			t.Errorf("unexpected stats %+v", stats)
		}
		want := "/Destiny2/3/Account/" + breeky.MembershipID + "/Character/" + breeky.CharacterID + "/Stats/"
		if doer.Requests()[0].Path != want {
			t.Errorf("expected path %q, got %q", want, doer.Requests()[0].Path)
		}
	})

	t.Run("missing all-time block is a decode fault", func(t *testing.T) {
		t.Parallel()

		doer := &fakeDoer{handler: func(request) (string, error) {
			return ok(map[string]any{"allPvP": map[string]any{}}), nil
		}}
		c := newTestClient(t, doer, &countingLimiter{})

		_, err := c.Stats(context.Background(), breeky)
		if !errors.Is(err, ErrDecode) || !errors.Is(err, ErrNoPvPStats) {
			t.Errorf("expected ErrDecode and ErrNoPvPStats, got %v", err)
		}
	})
}

// carnageJSON builds a carnage report payload. standing0 is the first team's
// standing (0 = victory).
func carnageJSON(instanceID string, mode int, standing0, score0, score1 float64) map[string]any {
	entry := func(membershipID, characterID string, team float64, public bool) map[string]any {
		return map[string]any{
			"player": map[string]any{
				"destinyUserInfo": map[string]any{
					"membershipId":                membershipID,
					"membershipType":              3,
					"isPublic":                    public,
					"bungieGlobalDisplayName":     "P" + membershipID,
					"bungieGlobalDisplayNameCode": 42,
				},
			},
			"characterId": characterID,
			"values":      map[string]any{"team": map[string]any{"basic": map[string]any{"value": team}}},
		}
	}
	standing1 := 1.0
	if standing0 > 0.5 {
		standing1 = 0
	}
	return map[string]any{
		"period": "2023-05-01T12:00:00Z",
		"activityDetails": map[string]any{
			"instanceId": instanceID,
			"mode":       mode,
			"isPrivate":  false,
		},
		"entries": []any{
			entry("1", "11", 17, true),
			entry("2", "22", 18, true),
			entry("3", "33", 18, false),
		},
		"teams": []any{
			map[string]any{"teamId": 17, "standing": map[string]any{"basic": map[string]any{"value": standing0}}, "score": map[string]any{"basic": map[string]any{"value": score0}}},
			map[string]any{"teamId": 18, "standing": map[string]any{"basic": map[string]any{"value": standing1}}, "score": map[string]any{"basic": map[string]any{"value": score1}}},
		},
	}
}

// TestCarnageReport tests carnage report decoding and reduction.
func TestCarnageReport(t *testing.T) {
	t.Parallel()

	fetch := func(t *testing.T, payload map[string]any) *CarnageReport {
		t.Helper()
		doer := &fakeDoer{handler: func(request) (string, error) { return ok(payload), nil }}
		c := newTestClient(t, doer, &countingLimiter{})
		r, err := c.CarnageReport(context.Background(), "9001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return r
	}

	t.Run("first team wins", func(t *testing.T) {
		t.Parallel()

		r := fetch(t, carnageJSON("9001", model.ModeControl, 0, 150, 120))
		a, err := r.Activity()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.InstanceID != "9001" || a.Mode != model.ModeControl {
			t.Errorf("unexpected activity %+v", a)
		}
		if !a.Period.Equal(time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected period %v", a.Period)
		}
		if a.WinScore != 150 || a.LossScore != 120 {
			t.Errorf("expected 150/120, got %d/%d", a.WinScore, a.LossScore)
		}
		if !a.Players[0].IsWinner || a.Players[1].IsWinner || a.Players[2].IsWinner {
			t.Errorf("unexpected winners %+v", a.Players)
		}
		if a.Players[0].ID.MembershipType != "3" || a.Players[0].DisplayNameCode != "0042" {
			t.Errorf("unexpected participant %+v", a.Players[0])
		}
		if a.Players[2].IsPublic {
			t.Error("expected third participant to be private")
		}
	})

	t.Run("second team wins and scores are reordered", func(t *testing.T) {
		t.Parallel()

		r := fetch(t, carnageJSON("9002", model.ModeClash, 1, 80, 100))
		a, err := r.Activity()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.WinScore != 100 || a.LossScore != 80 {
			t.Errorf("expected 100/80, got %d/%d", a.WinScore, a.LossScore)
		}
		if a.Players[0].IsWinner || !a.Players[1].IsWinner || !a.Players[2].IsWinner {
			t.Errorf("unexpected winners %+v", a.Players)
		}
	})

	t.Run("rumble report is flagged and has no teams", func(t *testing.T) {
		t.Parallel()

		payload := carnageJSON("9003", model.ModeRumble, 0, 0, 0)
		payload["teams"] = []any{}
		r := fetch(t, payload)
		if !r.IsRumble() {
			t.Error("expected rumble report")
		}
		if _, err := r.Activity(); !errors.Is(err, ErrMalformedReport) {
			t.Errorf("expected ErrMalformedReport, got %v", err)
		}
	})
}
