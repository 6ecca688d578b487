package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/AdamBeresnev/matchday/internal/veto"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type TournamentService struct {
	db          *sqlx.DB
	tournaments *store.TournamentStore
	matches     *store.MatchStore
	teams       *store.TeamStore
	generator   *BracketGeneration
	progression *Progression
	scheduler   *Scheduler
	notifier    Notifier
	logger      *slog.Logger
	baseURL     string
	now         clock
}

func NewTournamentService(
	db *sqlx.DB,
	tournaments *store.TournamentStore,
	matches *store.MatchStore,
	teams *store.TeamStore,
	generator *BracketGeneration,
	progression *Progression,
	scheduler *Scheduler,
	notifier Notifier,
	logger *slog.Logger,
	baseURL string,
) *TournamentService {
	return &TournamentService{
		db:          db,
		tournaments: tournaments,
		matches:     matches,
		teams:       teams,
		generator:   generator,
		progression: progression,
		scheduler:   scheduler,
		notifier:    notifier,
		logger:      logger,
		baseURL:     baseURL,
		now:         utcNow,
	}
}

type TournamentInput struct {
	Name     string                 `json:"name"`
	Type     bracket.TournamentType `json:"type"`
	Format   veto.Format            `json:"format"`
	Maps     []string               `json:"maps"`
	TeamIDs  []string               `json:"teamIds"`
	Settings bracket.Settings       `json:"settings"`
}

// StartResult counts what happened when a tournament was started.
type StartResult struct {
	ByesResolved int                `json:"byesResolved"`
	Allocated    int                `json:"allocated"`
	Failed       int                `json:"failed"`
	Polling      int                `json:"polling"`
	Results      []AllocationResult `json:"results"`
}

func (s *TournamentService) CreateTournament(ctx context.Context, in TournamentInput) (*bracket.Tournament, error) {
	if err := s.validate(ctx, in); err != nil {
		return nil, err
	}

	t := &bracket.Tournament{
		ID:        uuid.New(),
		Name:      in.Name,
		Type:      in.Type,
		Format:    in.Format,
		Status:    bracket.TournamentSetup,
		Maps:      in.Maps,
		TeamIDs:   in.TeamIDs,
		Settings:  in.Settings,
		CreatedAt: s.now(),
	}
	if t.Settings.SeedingMethod == "" {
		t.Settings.SeedingMethod = bracket.SeedingSeeded
	}
	if err := s.tournaments.CreateTournament(ctx, nil, t); err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", err)
	}

	s.logger.Info("tournament created", "tournament", t.ID, "type", t.Type, "teams", len(t.TeamIDs))
	return t, nil
}

func (s *TournamentService) validate(ctx context.Context, in TournamentInput) error {
	if in.Name == "" {
		return apperr.Validation("tournament name is required")
	}
	if !in.Type.Valid() {
		return apperr.Validation("unknown tournament type %q", in.Type)
	}
	if !in.Format.Valid() {
		return apperr.Validation("unknown format %q", in.Format)
	}
	switch in.Settings.SeedingMethod {
	case "", bracket.SeedingSeeded, bracket.SeedingRandom:
	default:
		return apperr.Validation("unknown seeding method %q", in.Settings.SeedingMethod)
	}
	if in.Settings.SwissRounds < 0 {
		return apperr.Validation("swiss rounds must not be negative")
	}
	if len(in.TeamIDs) < 2 {
		return apperr.Validation("a tournament needs at least 2 teams, got %d", len(in.TeamIDs))
	}
	if dup, ok := firstDuplicate(in.TeamIDs); ok {
		return apperr.Validation("team %s is entered twice", dup)
	}
	if dup, ok := firstDuplicate(in.Maps); ok {
		return apperr.Validation("map %s is in the pool twice", dup)
	}
	if len(in.Maps) > 0 && !in.Settings.SkipVeto && len(in.Maps) < in.Format.MapCount() {
		return apperr.Validation("%s needs at least %d maps, got %d", in.Format, in.Format.MapCount(), len(in.Maps))
	}
	for format, order := range in.Settings.CustomVetoOrder {
		if err := veto.ValidateOrder(format, order, len(in.Maps)); err != nil {
			return err
		}
	}

	found, err := s.teams.GetTeams(ctx, nil, in.TeamIDs)
	if err != nil {
		return err
	}
	if len(found) != len(in.TeamIDs) {
		for _, id := range in.TeamIDs {
			if !slices.ContainsFunc(found, func(t bracket.Team) bool { return t.ID == id }) {
				return apperr.Validation("team %s does not exist", id)
			}
		}
	}
	return nil
}

// CreateBracket generates and stores the initial bracket. Matches that start with
// both teams get their config frozen right away.
func (s *TournamentService) CreateBracket(ctx context.Context, tournamentID uuid.UUID) ([]bracket.Match, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := s.tournaments.GetTournament(ctx, tx, tournamentID)
	if err != nil {
		return nil, err
	}
	total, _, err := s.matches.CountMatches(ctx, tx, tournamentID)
	if err != nil {
		return nil, err
	}
	if total > 0 {
		return nil, apperr.Conflict("tournament %s already has a bracket", t.Name)
	}

	matches, err := s.buildBracket(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("bracket created", "tournament", t.ID, "matches", len(matches))
	s.notifier.PublishBracketUpdated(t.ID)
	return matches, nil
}

// RegenerateBracket throws the bracket away and builds a new one. Once any match
// has left pending, force is required; loaded matches are ended on their servers.
func (s *TournamentService) RegenerateBracket(ctx context.Context, tournamentID uuid.UUID, force bool) ([]bracket.Match, error) {
	t, err := s.tournaments.GetTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, err
	}
	_, started, err := s.matches.CountMatches(ctx, nil, tournamentID)
	if err != nil {
		return nil, err
	}
	if started > 0 && !force {
		return nil, apperr.Conflict("%d matches of %s have started, regenerate with force", started, t.Name)
	}

	s.halt(ctx, t.ID)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.matches.DeleteMatches(ctx, tx, t.ID); err != nil {
		return nil, fmt.Errorf("failed to delete matches: %w", err)
	}
	matches, err := s.buildBracket(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("bracket regenerated", "tournament", t.ID, "matches", len(matches), "forced", force)
	s.notifier.PublishBracketUpdated(t.ID)
	return matches, nil
}

func (s *TournamentService) buildBracket(ctx context.Context, tx *sqlx.Tx, t *bracket.Tournament) ([]bracket.Match, error) {
	matches, err := s.generator.Generate(t, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.matches.CreateMatches(ctx, tx, matches); err != nil {
		return nil, fmt.Errorf("failed to store bracket: %w", err)
	}

	for i := range matches {
		m := &matches[i]
		if !m.HasBothTeams() || m.Status == bracket.MatchCompleted {
			continue
		}
		config, err := freezeConfig(ctx, tx, s.teams, t, m)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", m.Slug, err)
		}
		if err := s.matches.UpdateConfig(ctx, tx, m.ID, config); err != nil {
			return nil, err
		}
		m.Config = config
	}

	if err := s.tournaments.UpdateTournamentStatus(ctx, tx, t.ID, bracket.TournamentReady, s.now()); err != nil {
		return nil, err
	}
	t.Status = bracket.TournamentReady
	return matches, nil
}

// StartTournament resolves byes and allocates every ready match. Matches that find
// no server are polled.
func (s *TournamentService) StartTournament(ctx context.Context, tournamentID uuid.UUID) (*StartResult, error) {
	t, err := s.tournaments.GetTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case bracket.TournamentSetup:
		return nil, apperr.Conflict("tournament %s has no bracket yet", t.Name)
	case bracket.TournamentCompleted:
		return nil, apperr.Conflict("tournament %s is already completed", t.Name)
	}

	if err := s.tournaments.UpdateTournamentStatus(ctx, nil, t.ID, bracket.TournamentInProgress, s.now()); err != nil {
		return nil, err
	}
	t.Status = bracket.TournamentInProgress

	res := &StartResult{}
	resolved, err := s.progression.ResolveByes(ctx, t)
	res.ByesResolved = resolved
	if err != nil {
		s.logger.Error("failed to resolve some byes", "tournament", t.ID, "error", err)
	}

	results, err := s.scheduler.AllocateAll(ctx, s.baseURL)
	if err != nil {
		return nil, err
	}
	res.Results = results
	for _, r := range results {
		if r.Success {
			res.Allocated++
			continue
		}
		res.Failed++
		if r.ServerID == nil && s.scheduler.StartPolling(r.MatchSlug, s.baseURL) {
			res.Polling++
		}
	}

	s.logger.Info("tournament started", "tournament", t.ID,
		"byes", res.ByesResolved, "allocated", res.Allocated, "failed", res.Failed)
	s.notifier.PublishBracketUpdated(t.ID)
	return res, nil
}

// ResetTournament drops the bracket and returns the tournament to setup.
func (s *TournamentService) ResetTournament(ctx context.Context, tournamentID uuid.UUID) error {
	t, err := s.tournaments.GetTournament(ctx, nil, tournamentID)
	if err != nil {
		return err
	}
	s.halt(ctx, t.ID)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.matches.DeleteMatches(ctx, tx, t.ID); err != nil {
		return err
	}
	if err := s.tournaments.UpdateTournamentStatus(ctx, tx, t.ID, bracket.TournamentSetup, s.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Info("tournament reset", "tournament", t.ID)
	s.notifier.PublishBracketUpdated(t.ID)
	return nil
}

func (s *TournamentService) DeleteTournament(ctx context.Context, tournamentID uuid.UUID) error {
	t, err := s.tournaments.GetTournament(ctx, nil, tournamentID)
	if err != nil {
		return err
	}
	s.halt(ctx, t.ID)

	if err := s.tournaments.DeleteTournament(ctx, nil, t.ID); err != nil {
		return err
	}
	s.logger.Info("tournament deleted", "tournament", t.ID)
	s.notifier.PublishBracketUpdated(t.ID)
	return nil
}

// halt stops every poller and ends the tournament's matches on their servers.
func (s *TournamentService) halt(ctx context.Context, tournamentID uuid.UUID) {
	stopped := s.scheduler.StopAll()
	unloaded := s.scheduler.Unload(ctx, tournamentID)
	s.logger.Info("tournament halted", "tournament", tournamentID, "pollers", stopped, "unloaded", unloaded)
}

func (s *TournamentService) GetBracket(ctx context.Context, tournamentID uuid.UUID) (*bracket.View, error) {
	t, err := s.tournaments.GetTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, err
	}
	matches, err := s.matches.GetMatches(ctx, nil, tournamentID)
	if err != nil {
		return nil, err
	}
	teams, err := s.teams.GetTeams(ctx, nil, t.TeamIDs)
	if err != nil {
		return nil, err
	}
	view := bracket.PrepareView(t, teams, matches)
	return &view, nil
}

func (s *TournamentService) ListTournaments(ctx context.Context) ([]bracket.Tournament, error) {
	return s.tournaments.ListTournaments(ctx)
}

// GetMatchConfig returns the frozen config served to game servers.
func (s *TournamentService) GetMatchConfig(ctx context.Context, matchSlug string) ([]byte, error) {
	m, err := s.matches.GetMatchBySlug(ctx, nil, matchSlug)
	if err != nil {
		return nil, err
	}
	if !m.Config.Valid || len(m.Config.JSONText) == 0 {
		return nil, apperr.NotFound("match %s has no config yet", matchSlug)
	}
	return m.Config.JSONText, nil
}

func firstDuplicate(values []string) (string, bool) {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return v, true
		}
		seen[v] = true
	}
	return "", false
}

