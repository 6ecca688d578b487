package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/metrics"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/AdamBeresnev/matchday/internal/veto"
	"github.com/jmoiron/sqlx"
)

// VetoAction is a submitted ban, pick or side choice. An empty TeamSlug means an
// administrator acting for the team whose turn it is.
type VetoAction struct {
	MapName  string `json:"mapName"`
	Side     string `json:"side"`
	TeamSlug string `json:"teamSlug"`
}

type VetoService struct {
	db          *sqlx.DB
	tournaments *store.TournamentStore
	matches     *store.MatchStore
	teams       *store.TeamStore
	dispatcher  Dispatcher
	notifier    Notifier
	logger      *slog.Logger
	now         clock
}

func NewVetoService(
	db *sqlx.DB,
	tournaments *store.TournamentStore,
	matches *store.MatchStore,
	teams *store.TeamStore,
	dispatcher Dispatcher,
	notifier Notifier,
	logger *slog.Logger,
) *VetoService {
	return &VetoService{
		db:          db,
		tournaments: tournaments,
		matches:     matches,
		teams:       teams,
		dispatcher:  dispatcher,
		notifier:    notifier,
		logger:      logger,
		now:         utcNow,
	}
}

// GetOrInitVeto returns the stored veto of the match, creating and storing the
// initial state on first access.
func (s *VetoService) GetOrInitVeto(ctx context.Context, matchSlug string) (*veto.State, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	match, t, err := s.load(ctx, tx, matchSlug)
	if err != nil {
		return nil, err
	}
	if match.VetoState != nil {
		return match.VetoState, nil
	}
	if err := vetoOpen(t, match); err != nil {
		return nil, err
	}

	state, err := s.initState(ctx, tx, t, match)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return state, nil
}

// SubmitVetoAction applies one action. The final action also freezes the match
// config from the vetoed maps and readies the match when its round is open.
func (s *VetoService) SubmitVetoAction(ctx context.Context, matchSlug string, action VetoAction) (*veto.State, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	match, t, err := s.load(ctx, tx, matchSlug)
	if err != nil {
		return nil, err
	}
	if match.VetoState.Completed() {
		return nil, veto.ErrAlreadyCompleted
	}
	if err := vetoOpen(t, match); err != nil {
		return nil, err
	}
	if !match.HasBothTeams() {
		return nil, apperr.Conflict("match %s is still waiting for its teams", matchSlug)
	}

	state := match.VetoState
	if state == nil {
		if state, err = s.initState(ctx, tx, t, match); err != nil {
			return nil, err
		}
	}

	step, ok := state.Current()
	if !ok {
		return nil, fmt.Errorf("%w: match %s", veto.ErrCorruptState, matchSlug)
	}
	in, err := actingInput(match, step, action)
	if err != nil {
		return nil, err
	}
	if err := state.Apply(in, s.now()); err != nil {
		return nil, err
	}
	match.VetoState = state

	ready := false
	if state.Completed() {
		config, err := freezeConfig(ctx, tx, s.teams, t, match)
		if err != nil {
			return nil, err
		}
		promote, err := roundOpen(ctx, s.matches, tx, t, match.Round)
		if err != nil {
			return nil, err
		}
		if ready, err = s.matches.CompleteVeto(ctx, tx, match.ID, state, config, promote); err != nil {
			return nil, err
		}
	} else if err := s.matches.SaveVetoState(ctx, tx, match.ID, state); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.VetoActions.WithLabelValues(string(step.Action)).Inc()
	s.logger.Info("veto action applied",
		"match", matchSlug, "step", step.Number, "action", step.Action, "team", step.Team, "map", in.MapName)

	s.afterCommit(ctx, match.ID, ready)
	return state, nil
}

// ResetVeto clears the veto. The match status is left alone.
func (s *VetoService) ResetVeto(ctx context.Context, matchSlug string) error {
	match, err := s.matches.GetMatchBySlug(ctx, nil, matchSlug)
	if err != nil {
		return err
	}
	if err := s.matches.ResetVeto(ctx, nil, match.ID); err != nil {
		return fmt.Errorf("failed to reset veto for %s: %w", matchSlug, err)
	}
	s.logger.Info("veto reset", "match", matchSlug)
	s.afterCommit(ctx, match.ID, false)
	return nil
}

func (s *VetoService) load(ctx context.Context, tx *sqlx.Tx, matchSlug string) (*bracket.Match, *bracket.Tournament, error) {
	match, err := s.matches.GetMatchBySlug(ctx, tx, matchSlug)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.tournaments.GetTournament(ctx, tx, match.TournamentID)
	if err != nil {
		return nil, nil, err
	}
	return match, t, nil
}

func (s *VetoService) initState(ctx context.Context, tx *sqlx.Tx, t *bracket.Tournament, match *bracket.Match) (*veto.State, error) {
	custom := t.CustomOrder()
	order, usedCustom, err := veto.ResolveStepOrder(t.Format, custom, len(t.Maps))
	if err != nil {
		return nil, err
	}
	if len(custom) > 0 && !usedCustom {
		s.logger.Warn("custom veto order is invalid, using the standard order", "tournament", t.ID, "format", t.Format)
	}

	state := veto.NewState(t.Format, t.Maps, order)
	if err := s.matches.SaveVetoState(ctx, tx, match.ID, state); err != nil {
		return nil, fmt.Errorf("failed to store veto for %s: %w", match.Slug, err)
	}
	match.VetoState = state
	return state, nil
}

func (s *VetoService) afterCommit(ctx context.Context, matchID int64, ready bool) {
	match, err := s.matches.GetMatch(ctx, nil, matchID)
	if err != nil {
		s.logger.Warn("failed to reload match after veto", "match", matchID, "error", err)
		return
	}
	s.notifier.PublishMatchUpdated(match.TournamentID, match)
	if ready {
		s.dispatcher.Dispatch(*match)
	}
}

func vetoOpen(t *bracket.Tournament, match *bracket.Match) error {
	if !t.VetoRequired() {
		return apperr.Conflict("tournament %s does not use a map veto", t.Name)
	}
	if match.Status != bracket.MatchPending && match.Status != bracket.MatchReady {
		return apperr.Conflict("match %s is %s", match.Slug, match.Status)
	}
	if match.IsBye {
		return apperr.Conflict("match %s is a bye", match.Slug)
	}
	return nil
}

// actingInput maps the acting team slug onto a slot. The administrator acts as the
// team holding the current step.
func actingInput(match *bracket.Match, step veto.Step, action VetoAction) (veto.Input, error) {
	in := veto.Input{MapName: action.MapName, Side: veto.Side(action.Side)}

	switch action.TeamSlug {
	case "":
		if step.Team == veto.Team1 {
			in.TeamID = *match.Team1ID
		} else {
			in.TeamID = *match.Team2ID
		}
	case *match.Team1ID:
		in.Team, in.TeamID = veto.Team1, action.TeamSlug
	case *match.Team2ID:
		in.Team, in.TeamID = veto.Team2, action.TeamSlug
	default:
		return in, fmt.Errorf("%w: %s does not play match %s", veto.ErrWrongTurn, action.TeamSlug, match.Slug)
	}
	return in, nil
}
