package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/jmoiron/sqlx"
)

const (
	getTeamQuery    = "SELECT * FROM teams WHERE id = ?"
	listTeamsQuery  = "SELECT * FROM teams ORDER BY name ASC"
	createTeamQuery = `
		INSERT INTO teams (id, name, tag, players) VALUES
		(:id, :name, :tag, :players)
	`
	updateTeamQuery = `
		UPDATE teams SET
		name = :name,
		tag = :tag,
		players = :players
		WHERE id = :id
	`
)

type TeamStore struct {
	db *sqlx.DB
}

func NewTeamStore(db *sqlx.DB) *TeamStore {
	return &TeamStore{db: db}
}

func (s *TeamStore) GetTeam(ctx context.Context, tx *sqlx.Tx, id string) (*bracket.Team, error) {
	var team bracket.Team
	err := sqlx.GetContext(ctx, ext(s.db, tx), &team, getTeamQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("team %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &team, nil
}

func (s *TeamStore) ListTeams(ctx context.Context) ([]bracket.Team, error) {
	var teams []bracket.Team
	err := s.db.SelectContext(ctx, &teams, listTeamsQuery)
	return teams, err
}

// GetTeams returns the teams with the given ids in the same order. Unknown ids are
// skipped.
func (s *TeamStore) GetTeams(ctx context.Context, tx *sqlx.Tx, ids []string) ([]bracket.Team, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT * FROM teams WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	q := ext(s.db, tx)

	var found []bracket.Team
	if err := sqlx.SelectContext(ctx, q, &found, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	byID := make(map[string]bracket.Team, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}
	teams := make([]bracket.Team, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			teams = append(teams, t)
		}
	}
	return teams, nil
}

func (s *TeamStore) CreateTeam(ctx context.Context, team *bracket.Team) error {
	_, err := s.db.NamedExecContext(ctx, createTeamQuery, team)
	return err
}

func (s *TeamStore) UpdateTeam(ctx context.Context, team *bracket.Team) error {
	res, err := s.db.NamedExecContext(ctx, updateTeamQuery, team)
	if err != nil {
		return err
	}
	return expectRow(res, apperr.NotFound("team %s not found", team.ID))
}
