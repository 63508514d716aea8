package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidActivity is returned by Validate for an activity that cannot be stored.
var ErrInvalidActivity = errors.New("invalid activity")

// Participant is one roster entry of an activity.
type Participant struct {
	ID GuardianID `json:"id"`

	// DisplayName and DisplayNameCode are copied from the carnage report so a
	// guardian record can be created without another request.
	DisplayName     string `json:"display_name,omitempty"`
	DisplayNameCode string `json:"display_name_code,omitempty"`

	// IsPublic is false for players whose profile hides their stats.
	IsPublic bool `json:"is_public"`

	// IsWinner is true when the participant played on the winning team.
	IsWinner bool `json:"is_winner"`
}

// Guardian returns a guardian record for the participant with empty stats.
func (p Participant) Guardian() Guardian {
	return NewGuardian(p.ID, p.DisplayName, p.DisplayNameCode, !p.IsPublic)
}

// Activity is a finished match reduced to the fields the crawler keeps.
type Activity struct {
	InstanceID string        `json:"instance_id"`
	Period     time.Time     `json:"period"`
	Mode       int           `json:"mode"`
	IsPrivate  bool          `json:"is_private"`
	WinScore   int           `json:"win_score"`
	LossScore  int           `json:"loss_score"`
	Players    []Participant `json:"players"`
}

// NewActivity builds an activity and orders the team scores so that
// WinScore is never below LossScore.
func NewActivity(instanceID string, period time.Time, mode int, isPrivate bool, scoreA, scoreB int, players []Participant) Activity {
	a := Activity{
		InstanceID: instanceID,
		Period:     period.UTC(),
		Mode:       mode,
		IsPrivate:  isPrivate,
		WinScore:   scoreA,
		LossScore:  scoreB,
		Players:    players,
	}
	a.normalizeScores()
	return a
}

func (a *Activity) normalizeScores() {
	if a.WinScore < a.LossScore {
		a.WinScore, a.LossScore = a.LossScore, a.WinScore
	}
}

// Winners returns the participants on the winning team.
func (a Activity) Winners() []Participant {
	winners := make([]Participant, 0, len(a.Players)/2)
	for _, p := range a.Players {
		if p.IsWinner {
			winners = append(winners, p)
		}
	}
	return winners
}

// Validate checks the fields a stored activity relies on.
func (a Activity) Validate() error {
	if a.InstanceID == "" {
		return fmt.Errorf("%w: empty instance id", ErrInvalidActivity)
	}
	if a.WinScore < a.LossScore {
		return fmt.Errorf("%w: %s has win score %d below loss score %d", ErrInvalidActivity, a.InstanceID, a.WinScore, a.LossScore)
	}
	for i, p := range a.Players {
		if !p.ID.Valid() {
			return fmt.Errorf("%w: %s player %d: %w", ErrInvalidActivity, a.InstanceID, i, ErrIncompleteGuardianID)
		}
	}
	return nil
}
