package bracket

import (
	"time"

	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/AdamBeresnev/matchday/internal/veto"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchReady     MatchStatus = "ready"
	MatchLoaded    MatchStatus = "loaded"
	MatchLive      MatchStatus = "live"
	MatchCompleted MatchStatus = "completed"
)

// Active statuses hold a server.
func (s MatchStatus) Active() bool {
	return s == MatchLoaded || s == MatchLive
}

type Match struct {
	ID           int64     `db:"id" json:"id"`
	Slug         string    `db:"slug" json:"slug"`
	TournamentID uuid.UUID `db:"tournament_id" json:"tournamentId"`

	Round       int `db:"round" json:"round"`
	MatchNumber int `db:"match_number" json:"matchNumber"`

	Team1ID  *string `db:"team1_id" json:"team1Id"`
	Team2ID  *string `db:"team2_id" json:"team2Id"`
	WinnerID *string `db:"winner_id" json:"winnerId"`
	ServerID *string `db:"server_id" json:"serverId"`

	Status      MatchStatus `db:"status" json:"status"`
	NextMatchID *int64      `db:"next_match_id" json:"nextMatchId"`
	IsBye       bool        `db:"is_bye" json:"isBye"`

	Config    types.NullJSONText `db:"config" json:"-"`
	VetoState *veto.State        `db:"veto_state" json:"vetoState,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	LoadedAt    *time.Time `db:"loaded_at" json:"loadedAt,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`

	// Set by the generator and resolved into NextMatchID on insert.
	NextMatchSlug string `db:"-" json:"-"`
}

func (m *Match) HasBothTeams() bool {
	return m.Team1ID != nil && m.Team2ID != nil
}

func (m *Match) HasTeam(teamID string) bool {
	return utils.PtrEquals(m.Team1ID, teamID) || utils.PtrEquals(m.Team2ID, teamID)
}

// OnlyTeam returns the single team of a half-filled match.
func (m *Match) OnlyTeam() (string, bool) {
	switch {
	case m.Team1ID != nil && m.Team2ID == nil:
		return *m.Team1ID, true
	case m.Team1ID == nil && m.Team2ID != nil:
		return *m.Team2ID, true
	}
	return "", false
}

// Loser returns the team that did not win. It is empty when there is no winner or
// the match never had two teams.
func (m *Match) Loser() string {
	if m.WinnerID == nil || !m.HasBothTeams() {
		return ""
	}
	if *m.WinnerID == *m.Team1ID {
		return *m.Team2ID
	}
	if *m.WinnerID == *m.Team2ID {
		return *m.Team1ID
	}
	return ""
}

// VetoSettled reports whether the match may become ready as far as the veto goes.
func (m *Match) VetoSettled(t *Tournament) bool {
	return !t.VetoRequired() || m.VetoState.Completed()
}
