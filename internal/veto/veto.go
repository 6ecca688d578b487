// Package veto implements the turn-based map ban/pick protocol that precedes a match.
//
// A State is a plain value: it is loaded from storage, mutated through Apply and
// written back by the caller. Every transition re-checks that the available, banned
// and picked maps still partition the original pool.
package veto

import (
	"github.com/AdamBeresnev/matchday/internal/apperr"
)

type Format string

const (
	BO1 Format = "bo1"
	BO3 Format = "bo3"
	BO5 Format = "bo5"
)

func (f Format) Valid() bool {
	switch f {
	case BO1, BO3, BO5:
		return true
	}
	return false
}

// MapCount is the number of maps played in a series of this format.
func (f Format) MapCount() int {
	switch f {
	case BO3:
		return 3
	case BO5:
		return 5
	default:
		return 1
	}
}

// Picks is the number of explicit picks; the last map is always the decider.
func (f Format) Picks() int {
	return f.MapCount() - 1
}

type Action string

const (
	Ban      Action = "ban"
	Pick     Action = "pick"
	SidePick Action = "side_pick"
)

func (a Action) Valid() bool {
	return a == Ban || a == Pick || a == SidePick
}

type TeamSlot string

const (
	Team1 TeamSlot = "team1"
	Team2 TeamSlot = "team2"
)

func (t TeamSlot) Valid() bool {
	return t == Team1 || t == Team2
}

func (t TeamSlot) Other() TeamSlot {
	if t == Team1 {
		return Team2
	}
	return Team1
}

type Side string

const (
	CT Side = "CT"
	T  Side = "T"
)

func (s Side) Valid() bool {
	return s == CT || s == T
}

func (s Side) Opposite() Side {
	if s == CT {
		return T
	}
	return CT
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// DeciderPicker is recorded as PickedBy on the leftover map.
const DeciderPicker = "decider"

var (
	ErrAlreadyCompleted = apperr.New(apperr.KindConflict, "veto already completed")
	ErrWrongTurn        = apperr.New(apperr.KindConflict, "not this team's turn")
	ErrInvalidMap       = apperr.New(apperr.KindValidation, "map is not available")
	ErrInvalidSide      = apperr.New(apperr.KindValidation, "invalid side pick")
	ErrInvalidOrder     = apperr.New(apperr.KindValidation, "invalid veto order")
	ErrCorruptState     = apperr.New(apperr.KindConflict, "veto state is inconsistent")
)
