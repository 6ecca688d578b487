package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type TournamentStore struct {
	db *sqlx.DB
}

func NewTournamentStore(db *sqlx.DB) *TournamentStore {
	return &TournamentStore{db: db}
}

func (s *TournamentStore) CreateTournament(ctx context.Context, tx *sqlx.Tx, tournament *bracket.Tournament) error {
	if tournament.ID == uuid.Nil {
		tournament.ID = uuid.New()
	}
	if tournament.Status == "" {
		tournament.Status = bracket.TournamentSetup
	}
	if tournament.CreatedAt.IsZero() {
		tournament.CreatedAt = time.Now().UTC()
	}
	_, err := sqlx.NamedExecContext(ctx, ext(s.db, tx), `INSERT INTO tournaments (id, name, tournament_type, format, status, maps, team_ids, settings, created_at)
		VALUES (:id, :name, :tournament_type, :format, :status, :maps, :team_ids, :settings, :created_at)`, tournament)
	return err
}

func (s *TournamentStore) GetTournament(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*bracket.Tournament, error) {
	var tournament bracket.Tournament
	err := sqlx.GetContext(ctx, ext(s.db, tx), &tournament, "SELECT * FROM tournaments WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("tournament %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &tournament, nil
}

func (s *TournamentStore) ListTournaments(ctx context.Context) ([]bracket.Tournament, error) {
	var tournaments []bracket.Tournament
	err := s.db.SelectContext(ctx, &tournaments, "SELECT * FROM tournaments ORDER BY created_at DESC")
	return tournaments, err
}

// UpdateTournamentStatus sets the status and stamps started_at or completed_at the
// first time the tournament reaches that status. Moving back to setup or ready
// clears both timestamps.
func (s *TournamentStore) UpdateTournamentStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status bracket.TournamentStatus, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	q := ext(s.db, tx)
	switch status {
	case bracket.TournamentInProgress:
		res, err = q.ExecContext(ctx, "UPDATE tournaments SET status = ?, started_at = COALESCE(started_at, ?), completed_at = NULL WHERE id = ?", status, at, id)
	case bracket.TournamentCompleted:
		res, err = q.ExecContext(ctx, "UPDATE tournaments SET status = ?, completed_at = COALESCE(completed_at, ?) WHERE id = ?", status, at, id)
	default:
		res, err = q.ExecContext(ctx, "UPDATE tournaments SET status = ?, started_at = NULL, completed_at = NULL WHERE id = ?", status, id)
	}
	if err != nil {
		return err
	}
	return expectRow(res, apperr.NotFound("tournament %s not found", id))
}

func (s *TournamentStore) DeleteTournament(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	res, err := ext(s.db, tx).ExecContext(ctx, "DELETE FROM tournaments WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectRow(res, apperr.NotFound("tournament %s not found", id))
}

// ext picks the transaction when one is in flight.
func ext(db *sqlx.DB, tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return db
}

func expectRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
