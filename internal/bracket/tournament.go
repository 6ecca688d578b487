package bracket

import (
	"time"

	"github.com/AdamBeresnev/matchday/internal/veto"
	"github.com/google/uuid"
)

type TournamentStatus string

const (
	TournamentSetup      TournamentStatus = "setup"
	TournamentReady      TournamentStatus = "ready"
	TournamentInProgress TournamentStatus = "in_progress"
	TournamentCompleted  TournamentStatus = "completed"
)

type TournamentType string

const (
	SingleElimination TournamentType = "single_elimination"
	DoubleElimination TournamentType = "double_elimination"
	RoundRobin        TournamentType = "round_robin"
	Swiss             TournamentType = "swiss"
)

func (t TournamentType) Valid() bool {
	switch t {
	case SingleElimination, DoubleElimination, RoundRobin, Swiss:
		return true
	}
	return false
}

// RoundBased types have no winner pointers; a round opens once the previous one is done.
func (t TournamentType) RoundBased() bool {
	return t == RoundRobin || t == Swiss
}

type SeedingMethod string

const (
	SeedingSeeded SeedingMethod = "seeded"
	SeedingRandom SeedingMethod = "random"
)

type Settings struct {
	CustomVetoOrder map[veto.Format][]veto.Step `json:"customVetoOrder,omitempty"`
	ThirdPlaceMatch bool                        `json:"thirdPlaceMatch"`
	SeedingMethod   SeedingMethod               `json:"seedingMethod,omitempty"`
	SkipVeto        bool                        `json:"skipVeto"`
	SwissRounds     int                         `json:"swissRounds,omitempty"`
}

type Tournament struct {
	ID          uuid.UUID        `db:"id" json:"id"`
	Name        string           `db:"name" json:"name"`
	Type        TournamentType   `db:"tournament_type" json:"type"`
	Format      veto.Format      `db:"format" json:"format"`
	Status      TournamentStatus `db:"status" json:"status"`
	Maps        StringList       `db:"maps" json:"maps"`
	TeamIDs     StringList       `db:"team_ids" json:"teamIds"`
	Settings    Settings         `db:"settings" json:"settings"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	StartedAt   *time.Time       `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time       `db:"completed_at" json:"completedAt,omitempty"`
}

// VetoRequired reports whether matches must finish a veto before becoming ready.
// A tournament without a map pool has nothing to veto.
func (t *Tournament) VetoRequired() bool {
	return !t.Settings.SkipVeto && len(t.Maps) > 0
}

// CustomOrder returns the configured veto order for the tournament's format, if any.
func (t *Tournament) CustomOrder() []veto.Step {
	if t.Settings.CustomVetoOrder == nil {
		return nil
	}
	return t.Settings.CustomVetoOrder[t.Format]
}
