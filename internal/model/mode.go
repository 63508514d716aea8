package model

import "strconv"

// Activity mode values used by the Bungie API (DestinyActivityModeType).
const (
	// ModeAllPvP aggregates every Crucible playlist.
	ModeAllPvP = 5
	// ModeControl is the 6v6 zone control playlist.
	ModeControl = 10
	// ModeClash is the 6v6 team deathmatch playlist.
	ModeClash = 12
	// ModeIronBanner is the Iron Banner event playlist.
	ModeIronBanner = 19
	// ModeSurvival is the competitive elimination playlist.
	ModeSurvival = 37
	// ModeRumble is free-for-all. It has no teams, so it is never stored.
	ModeRumble = 48
	// ModeTrialsOfOsiris is the weekend elimination event.
	ModeTrialsOfOsiris = 84
)

var modeNames = map[int]string{
	ModeAllPvP:         "AllPvP",
	ModeControl:        "Control",
	ModeClash:          "Clash",
	ModeIronBanner:     "IronBanner",
	ModeSurvival:       "Survival",
	ModeRumble:         "Rumble",
	ModeTrialsOfOsiris: "TrialsOfOsiris",
	69:                 "PvPCompetitive",
	70:                 "PvPQuickplay",
	73:                 "ControlQuickplay",
}

// ModeName returns a readable name for a mode value, or the number itself.
func ModeName(mode int) string {
	if name, ok := modeNames[mode]; ok {
		return name
	}
	return strconv.Itoa(mode)
}

// IsTeamMode reports whether matches in the mode have two opposing teams.
func IsTeamMode(mode int) bool {
	return mode != ModeRumble
}
