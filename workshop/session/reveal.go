package session

import (
	"errors"
	"fmt"
)

// ErrInvalidRevealType rejects reveal updates whose Type is neither "top8"
// nor "top3".
var ErrInvalidRevealType = errors.New("invalid reveal type")

// RevealUpdate describes a single reveal or unrevel action for one
// participant. Cards carries the selection being shared and is ignored when
// Unrevel is set.
type RevealUpdate struct {
	Type    string   `json:"type"`
	Cards   []string `json:"cards,omitempty"`
	Unrevel bool     `json:"unrevel,omitempty"`
}

// ApplyReveal mutates p according to update. Revealing stores the submitted
// cards and raises the matching flag; unrevealing lowers the flag and clears
// the stored cards. The participant's status label is rederived from the
// resulting flags. Unknown types leave p untouched.
func ApplyReveal(p *Participant, update RevealUpdate) error {
	switch update.Type {
	case RevealTop8:
		if update.Unrevel {
			p.Revealed.Top8 = false
			p.Top8Cards = nil
		} else {
			p.Revealed.Top8 = true
			p.Top8Cards = append([]string(nil), update.Cards...)
		}
	case RevealTop3:
		if update.Unrevel {
			p.Revealed.Top3 = false
			p.Top3Cards = nil
		} else {
			p.Revealed.Top3 = true
			p.Top3Cards = append([]string(nil), update.Cards...)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRevealType, update.Type)
	}

	p.Status = DeriveStatus(p.Revealed)
	return nil
}

// DeriveStatus maps reveal flags to the participant status label. The flags
// are the source of truth; the label is never stored independently of them.
func DeriveStatus(r RevealState) Status {
	switch {
	case r.Top8 && r.Top3:
		return StatusRevealed83
	case r.Top8:
		return StatusRevealed8
	case r.Top3:
		return StatusRevealed3
	default:
		return StatusSorting
	}
}
