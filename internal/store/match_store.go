package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/veto"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

var (
	ErrSlotsFull     = apperr.New(apperr.KindConflict, "both team slots are already filled")
	ErrServerClaimed = apperr.New(apperr.KindConflict, "server already assigned")
)

const (
	insertMatchQuery = `
		INSERT INTO matches (slug, tournament_id, round, match_number, team1_id, team2_id, winner_id, status, is_bye, config, veto_state, completed_at)
		VALUES (:slug, :tournament_id, :round, :match_number, :team1_id, :team2_id, :winner_id, :status, :is_bye, :config, :veto_state, :completed_at)
	`
	fillTeam1Query = `
		UPDATE matches SET team1_id = ?
		WHERE id = ? AND team1_id IS NULL AND (team2_id IS NULL OR team2_id != ?) AND status != 'completed'
	`
	fillTeam2Query = `
		UPDATE matches SET team2_id = ?
		WHERE id = ? AND team2_id IS NULL AND team1_id IS NOT NULL AND team1_id != ? AND status != 'completed'
	`
	// A server may only be claimed by a ready, unassigned match while no other
	// match holds it.
	claimServerQuery = `
		UPDATE matches SET server_id = ?
		WHERE id = ? AND server_id IS NULL AND status = 'ready'
		AND NOT EXISTS (
			SELECT 1 FROM matches other
			WHERE other.server_id = ? AND other.id != ? AND other.status IN ('ready', 'loaded', 'live')
		)
	`
	readyMatchesQuery = `
		SELECT * FROM matches
		WHERE status = 'ready' AND server_id IS NULL
		ORDER BY round ASC, match_number ASC, id ASC
	`
)

type MatchStore struct {
	db *sqlx.DB
}

func NewMatchStore(db *sqlx.DB) *MatchStore {
	return &MatchStore{db: db}
}

// CreateMatches inserts a generated bracket and links every match to the match
// named by its NextMatchSlug. IDs are written back into the slice.
func (s *MatchStore) CreateMatches(ctx context.Context, tx *sqlx.Tx, matches []bracket.Match) error {
	if len(matches) == 0 {
		return nil
	}
	q := ext(s.db, tx)

	ids := make(map[string]int64, len(matches))
	for i := range matches {
		res, err := sqlx.NamedExecContext(ctx, q, insertMatchQuery, &matches[i])
		if err != nil {
			return fmt.Errorf("failed to insert match %s: %w", matches[i].Slug, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		matches[i].ID = id
		ids[matches[i].Slug] = id
	}

	for i := range matches {
		if matches[i].NextMatchSlug == "" {
			continue
		}
		nextID, ok := ids[matches[i].NextMatchSlug]
		if !ok {
			return fmt.Errorf("match %s points at unknown match %s", matches[i].Slug, matches[i].NextMatchSlug)
		}
		if _, err := q.ExecContext(ctx, "UPDATE matches SET next_match_id = ? WHERE id = ?", nextID, matches[i].ID); err != nil {
			return err
		}
		matches[i].NextMatchID = &nextID
	}
	return nil
}

// AppendMatches inserts matches of a later swiss round.
func (s *MatchStore) AppendMatches(ctx context.Context, tx *sqlx.Tx, matches []bracket.Match) error {
	return s.CreateMatches(ctx, tx, matches)
}

func (s *MatchStore) GetMatch(ctx context.Context, tx *sqlx.Tx, id int64) (*bracket.Match, error) {
	var match bracket.Match
	err := sqlx.GetContext(ctx, ext(s.db, tx), &match, "SELECT * FROM matches WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("match %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// GetMatchBySlug resolves a slug in the most recently generated bracket.
func (s *MatchStore) GetMatchBySlug(ctx context.Context, tx *sqlx.Tx, slug string) (*bracket.Match, error) {
	var match bracket.Match
	err := sqlx.GetContext(ctx, ext(s.db, tx), &match, "SELECT * FROM matches WHERE slug = ? ORDER BY id DESC LIMIT 1", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("match %s not found", slug)
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (s *MatchStore) GetTournamentMatchBySlug(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, slug string) (*bracket.Match, error) {
	var match bracket.Match
	err := sqlx.GetContext(ctx, ext(s.db, tx), &match, "SELECT * FROM matches WHERE tournament_id = ? AND slug = ?", tournamentID, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("match %s not found", slug)
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (s *MatchStore) GetMatches(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := sqlx.SelectContext(ctx, ext(s.db, tx), &matches,
		"SELECT * FROM matches WHERE tournament_id = ? ORDER BY round ASC, match_number ASC, id ASC", tournamentID)
	return matches, err
}

func (s *MatchStore) GetRoundMatches(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, round int) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := sqlx.SelectContext(ctx, ext(s.db, tx), &matches,
		"SELECT * FROM matches WHERE tournament_id = ? AND round = ? ORDER BY match_number ASC", tournamentID, round)
	return matches, err
}

// GetActiveMatches returns matches currently occupying a server.
func (s *MatchStore) GetActiveMatches(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := sqlx.SelectContext(ctx, ext(s.db, tx), &matches,
		"SELECT * FROM matches WHERE tournament_id = ? AND status IN ('loaded', 'live') AND server_id IS NOT NULL", tournamentID)
	return matches, err
}

// CountMatches returns the bracket size and how many matches have been touched by
// play: a veto, a server, or a real result. Generated readiness and byes don't count.
func (s *MatchStore) CountMatches(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) (total int, started int, err error) {
	row := ext(s.db, tx).QueryRowxContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE
			WHEN status IN ('loaded', 'live') THEN 1
			WHEN status = 'completed' AND is_bye = 0 THEN 1
			WHEN veto_state IS NOT NULL OR server_id IS NOT NULL THEN 1
			ELSE 0 END), 0)
		FROM matches WHERE tournament_id = ?`, tournamentID)
	err = row.Scan(&total, &started)
	return total, started, err
}

func (s *MatchStore) DeleteMatches(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID) error {
	_, err := ext(s.db, tx).ExecContext(ctx, "DELETE FROM matches WHERE tournament_id = ?", tournamentID)
	return err
}

// FillSlot places a team into the first empty slot. Re-delivering a team that is
// already in the match is a no-op.
func (s *MatchStore) FillSlot(ctx context.Context, tx *sqlx.Tx, matchID int64, teamID string) error {
	q := ext(s.db, tx)

	ok, err := affected(q.ExecContext(ctx, fillTeam1Query, teamID, matchID, teamID))
	if err != nil || ok {
		return err
	}
	ok, err = affected(q.ExecContext(ctx, fillTeam2Query, teamID, matchID, teamID))
	if err != nil || ok {
		return err
	}

	match, err := s.GetMatch(ctx, tx, matchID)
	if err != nil {
		return err
	}
	if match.HasTeam(teamID) {
		return nil
	}
	return fmt.Errorf("%w: match %s", ErrSlotsFull, match.Slug)
}

// MarkReady stores the config and flips the match to ready. It only succeeds for
// pending or ready matches with both teams.
func (s *MatchStore) MarkReady(ctx context.Context, tx *sqlx.Tx, matchID int64, config types.NullJSONText) (bool, error) {
	return affected(ext(s.db, tx).ExecContext(ctx, `
		UPDATE matches SET config = ?, status = 'ready'
		WHERE id = ? AND status IN ('pending', 'ready') AND team1_id IS NOT NULL AND team2_id IS NOT NULL`,
		config, matchID))
}

func (s *MatchStore) UpdateConfig(ctx context.Context, tx *sqlx.Tx, matchID int64, config types.NullJSONText) error {
	_, err := ext(s.db, tx).ExecContext(ctx, "UPDATE matches SET config = ? WHERE id = ?", config, matchID)
	return err
}

func (s *MatchStore) SaveVetoState(ctx context.Context, tx *sqlx.Tx, matchID int64, state *veto.State) error {
	_, err := ext(s.db, tx).ExecContext(ctx, "UPDATE matches SET veto_state = ? WHERE id = ?", state, matchID)
	return err
}

// CompleteVeto writes the finished veto together with the config built from it and,
// when promote is set, moves a pending or ready match to ready in the same
// statement. It reports whether the match is now ready.
func (s *MatchStore) CompleteVeto(ctx context.Context, tx *sqlx.Tx, matchID int64, state *veto.State, config types.NullJSONText, promote bool) (bool, error) {
	q := ext(s.db, tx)
	if _, err := q.ExecContext(ctx, `
		UPDATE matches SET veto_state = ?, config = ?,
			status = CASE
				WHEN ? AND status IN ('pending', 'ready') AND team1_id IS NOT NULL AND team2_id IS NOT NULL THEN 'ready'
				ELSE status
			END
		WHERE id = ?`, state, config, promote, matchID); err != nil {
		return false, err
	}

	var status bracket.MatchStatus
	if err := sqlx.GetContext(ctx, q, &status, "SELECT status FROM matches WHERE id = ?", matchID); err != nil {
		return false, err
	}
	return status == bracket.MatchReady, nil
}

func (s *MatchStore) ResetVeto(ctx context.Context, tx *sqlx.Tx, matchID int64) error {
	_, err := ext(s.db, tx).ExecContext(ctx, "UPDATE matches SET veto_state = NULL WHERE id = ?", matchID)
	return err
}

func (s *MatchStore) ListReadyMatches(ctx context.Context, tx *sqlx.Tx) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := sqlx.SelectContext(ctx, ext(s.db, tx), &matches, readyMatchesQuery)
	return matches, err
}

// ActiveServerIDs lists servers held by a match. A ready match keeps the server it
// failed to load on until it is released.
func (s *MatchStore) ActiveServerIDs(ctx context.Context, tx *sqlx.Tx) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, ext(s.db, tx), &ids,
		"SELECT DISTINCT server_id FROM matches WHERE server_id IS NOT NULL AND status IN ('ready', 'loaded', 'live')")
	return ids, err
}

// ClaimServer assigns the server to a ready match. It fails with ErrServerClaimed
// when the match was already assigned, left ready, or the server is taken.
func (s *MatchStore) ClaimServer(ctx context.Context, tx *sqlx.Tx, matchID int64, serverID string) error {
	ok, err := affected(ext(s.db, tx).ExecContext(ctx, claimServerQuery, serverID, matchID, serverID, matchID))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: server %s for match %d", ErrServerClaimed, serverID, matchID)
	}
	return nil
}

// ReleaseServer undoes a claim that has not been loaded yet.
func (s *MatchStore) ReleaseServer(ctx context.Context, tx *sqlx.Tx, matchID int64, serverID string) (bool, error) {
	return affected(ext(s.db, tx).ExecContext(ctx,
		"UPDATE matches SET server_id = NULL WHERE id = ? AND server_id = ? AND status = 'ready'", matchID, serverID))
}

func (s *MatchStore) MarkLoaded(ctx context.Context, tx *sqlx.Tx, matchID int64, serverID string, at time.Time) (bool, error) {
	return affected(ext(s.db, tx).ExecContext(ctx,
		"UPDATE matches SET status = 'loaded', loaded_at = ? WHERE id = ? AND server_id = ? AND status = 'ready'", at, matchID, serverID))
}

func (s *MatchStore) MarkLive(ctx context.Context, tx *sqlx.Tx, matchID int64) (bool, error) {
	return affected(ext(s.db, tx).ExecContext(ctx,
		"UPDATE matches SET status = 'live' WHERE id = ? AND status = 'loaded'", matchID))
}

// CompleteMatch is terminal: it reports false when the match was already completed.
func (s *MatchStore) CompleteMatch(ctx context.Context, tx *sqlx.Tx, matchID int64, winnerID *string, at time.Time) (bool, error) {
	return affected(ext(s.db, tx).ExecContext(ctx,
		"UPDATE matches SET status = 'completed', winner_id = ?, completed_at = ? WHERE id = ? AND status != 'completed'", winnerID, at, matchID))
}
