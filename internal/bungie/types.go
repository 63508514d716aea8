package bungie

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/nao1215/d2crawl/internal/model"
)

// statValue is the {"basic": {"value": ...}} wrapper used by every
// historical stat.
type statValue struct {
	Basic struct {
		Value        float64 `json:"value"`
		DisplayValue string  `json:"displayValue"`
	} `json:"basic"`
}

// UserInfoCard is one account returned by the player search.
type UserInfoCard struct {
	MembershipID                string `json:"membershipId"`
	MembershipType              int    `json:"membershipType"`
	DisplayName                 string `json:"displayName"`
	BungieGlobalDisplayName     string `json:"bungieGlobalDisplayName"`
	BungieGlobalDisplayNameCode int    `json:"bungieGlobalDisplayNameCode"`
	CrossSaveOverride           int    `json:"crossSaveOverride"`
	ApplicableMembershipTypes   []int  `json:"applicableMembershipTypes"`
}

// IsCrossSavePrimary reports whether the card is the account Bungie uses for
// stats. Cross-saved accounts appear once per platform; only the override
// target holds the characters.
func (u UserInfoCard) IsCrossSavePrimary() bool {
	return u.CrossSaveOverride == 0 || u.CrossSaveOverride == u.MembershipType
}

// Character is the character component of a profile.
type Character struct {
	MembershipID   string    `json:"membershipId"`
	MembershipType int       `json:"membershipType"`
	CharacterID    string    `json:"characterId"`
	DateLastPlayed time.Time `json:"dateLastPlayed"`
	ClassType      int       `json:"classType"`
	Light          int       `json:"light"`
}

// Profile is a profile fetched with the Characters component.
type Profile struct {
	Characters struct {
		Data    map[string]Character `json:"data"`
		Privacy int                  `json:"privacy"`
	} `json:"characters"`
}

// CharacterIDs returns the character ids sorted for stable output.
func (p *Profile) CharacterIDs() []string {
	if p == nil {
		return nil
	}
	ids := make([]string, 0, len(p.Characters.Data))
	for id := range p.Characters.Data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// accountStats is the Response of the character stats endpoint.
type accountStats struct {
	AllPvP struct {
		AllTime map[string]statValue `json:"allTime"`
	} `json:"allPvP"`
}

// pvpStats converts the all-time block into model.PvPStats. Missing stat
// names decode as zero.
func (s accountStats) pvpStats() (model.PvPStats, error) {
	v := s.AllPvP.AllTime
	if len(v) == 0 {
		return model.PvPStats{}, ErrNoPvPStats
	}
	n := func(name string) int64 { return int64(v[name].Basic.Value) }
	return model.PvPStats{
		ActivitiesEntered: n("activitiesEntered"),
		ActivitiesWon:     n("activitiesWon"),
		Assists:           n("assists"),
		Kills:             n("kills"),
		SecondsPlayed:     n("secondsPlayed"),
		Deaths:            n("deaths"),
		AverageLifespan:   v["averageLifespan"].Basic.Value,
		Score:             n("score"),
		OpponentsDefeated: n("opponentsDefeated"),
		PrecisionKills:    n("precisionKills"),
		CombatRating:      v["combatRating"].Basic.Value,
	}, nil
}

// activityDetails is shared by history entries and carnage reports.
type activityDetails struct {
	ReferenceID          uint32 `json:"referenceId"`
	DirectorActivityHash uint32 `json:"directorActivityHash"`
	InstanceID           string `json:"instanceId"`
	Mode                 int    `json:"mode"`
	Modes                []int  `json:"modes"`
	IsPrivate            bool   `json:"isPrivate"`
}

// HistoryEntry is one activity of a character's history. The per-player
// values block of the raw response is not decoded.
type HistoryEntry struct {
	Period     time.Time
	InstanceID string
	Mode       int
	Modes      []int
	IsPrivate  bool
}

type historyActivity struct {
	Period          string          `json:"period"`
	ActivityDetails activityDetails `json:"activityDetails"`
}

type historyPage struct {
	Activities []historyActivity `json:"activities"`
}

// CarnageReport is the post game carnage report of one activity.
type CarnageReport struct {
	Period          time.Time       `json:"period"`
	ActivityDetails activityDetails `json:"activityDetails"`
	Entries         []carnageEntry  `json:"entries"`
	Teams           []carnageTeam   `json:"teams"`
}

type carnageEntry struct {
	Player struct {
		DestinyUserInfo struct {
			MembershipID                string `json:"membershipId"`
			MembershipType              int    `json:"membershipType"`
			IsPublic                    bool   `json:"isPublic"`
			BungieGlobalDisplayName     string `json:"bungieGlobalDisplayName"`
			BungieGlobalDisplayNameCode int    `json:"bungieGlobalDisplayNameCode"`
		} `json:"destinyUserInfo"`
	} `json:"player"`
	CharacterID string `json:"characterId"`
	Values      struct {
		Team *statValue `json:"team"`
	} `json:"values"`
}

type carnageTeam struct {
	TeamID   int       `json:"teamId"`
	Standing statValue `json:"standing"`
	Score    statValue `json:"score"`
}

// InstanceID returns the activity instance id.
func (r *CarnageReport) InstanceID() string {
	return r.ActivityDetails.InstanceID
}

// Mode returns the activity mode.
func (r *CarnageReport) Mode() int {
	return r.ActivityDetails.Mode
}

// IsRumble reports whether the report is a free-for-all match.
func (r *CarnageReport) IsRumble() bool {
	return r.ActivityDetails.Mode == model.ModeRumble
}

// Activity reduces the report to a model.Activity. The winning team is the
// first team when its standing is 0 (victory), otherwise the second.
func (r *CarnageReport) Activity() (model.Activity, error) {
	if len(r.Teams) < 2 {
		return model.Activity{}, fmt.Errorf("%w: instance %s has %d teams", ErrMalformedReport, r.InstanceID(), len(r.Teams))
	}

	winningTeam := r.Teams[1].TeamID
	if r.Teams[0].Standing.Basic.Value < 0.5 {
		winningTeam = r.Teams[0].TeamID
	}

	players := make([]model.Participant, 0, len(r.Entries))
	for _, e := range r.Entries {
		info := e.Player.DestinyUserInfo
		p := model.Participant{
			ID: model.GuardianID{
				MembershipID:   info.MembershipID,
				MembershipType: strconv.Itoa(info.MembershipType),
				CharacterID:    e.CharacterID,
			},
			DisplayName:     info.BungieGlobalDisplayName,
			DisplayNameCode: formatNameCode(info.BungieGlobalDisplayNameCode),
			IsPublic:        info.IsPublic,
		}
		if e.Values.Team != nil {
			p.IsWinner = int(e.Values.Team.Basic.Value) == winningTeam
		}
		players = append(players, p)
	}

	return model.NewActivity(
		r.InstanceID(),
		r.Period,
		r.Mode(),
		r.ActivityDetails.IsPrivate,
		int(r.Teams[0].Score.Basic.Value),
		int(r.Teams[1].Score.Basic.Value),
		players,
	), nil
}

// formatNameCode renders a Bungie name code with its four digit padding.
func formatNameCode(code int) string {
	if code <= 0 {
		return ""
	}
	return fmt.Sprintf("%04d", code)
}
