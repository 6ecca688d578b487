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
	getServerQuery          = "SELECT * FROM servers WHERE id = ?"
	listServersQuery        = "SELECT * FROM servers ORDER BY id ASC"
	listEnabledServersQuery = "SELECT * FROM servers WHERE enabled = 1 ORDER BY id ASC"
	createServerQuery       = `
		INSERT INTO servers (id, name, host, port, password, enabled) VALUES
		(:id, :name, :host, :port, :password, :enabled)
	`
)

type ServerStore struct {
	db *sqlx.DB
}

func NewServerStore(db *sqlx.DB) *ServerStore {
	return &ServerStore{db: db}
}

func (s *ServerStore) GetServer(ctx context.Context, id string) (*bracket.Server, error) {
	var server bracket.Server
	err := s.db.GetContext(ctx, &server, getServerQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("server %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *ServerStore) ListServers(ctx context.Context) ([]bracket.Server, error) {
	var servers []bracket.Server
	err := s.db.SelectContext(ctx, &servers, listServersQuery)
	return servers, err
}

func (s *ServerStore) ListEnabledServers(ctx context.Context) ([]bracket.Server, error) {
	var servers []bracket.Server
	err := s.db.SelectContext(ctx, &servers, listEnabledServersQuery)
	return servers, err
}

func (s *ServerStore) CreateServer(ctx context.Context, server *bracket.Server) error {
	_, err := s.db.NamedExecContext(ctx, createServerQuery, server)
	return err
}

func (s *ServerStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE servers SET enabled = ? WHERE id = ?", enabled, id)
	if err != nil {
		return err
	}
	return expectRow(res, apperr.NotFound("server %s not found", id))
}
