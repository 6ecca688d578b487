package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/matchconfig"
	"github.com/AdamBeresnev/matchday/internal/metrics"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// Progression moves teams through the bracket once results come in.
type Progression struct {
	db          *sqlx.DB
	tournaments *store.TournamentStore
	matches     *store.MatchStore
	teams       *store.TeamStore
	generator   *BracketGeneration
	dispatcher  Dispatcher
	notifier    Notifier
	logger      *slog.Logger
	now         clock
}

func NewProgression(
	db *sqlx.DB,
	tournaments *store.TournamentStore,
	matches *store.MatchStore,
	teams *store.TeamStore,
	generator *BracketGeneration,
	dispatcher Dispatcher,
	notifier Notifier,
	logger *slog.Logger,
) *Progression {
	return &Progression{
		db:          db,
		tournaments: tournaments,
		matches:     matches,
		teams:       teams,
		generator:   generator,
		dispatcher:  dispatcher,
		notifier:    notifier,
		logger:      logger,
		now:         utcNow,
	}
}

// HandleMatchCompleted records the result and runs every progression step. A
// winner that did not play the match is dropped. Step failures are logged and do
// not stop the remaining steps.
func (p *Progression) HandleMatchCompleted(ctx context.Context, matchSlug string, winnerID *string) error {
	match, err := p.matches.GetMatchBySlug(ctx, nil, matchSlug)
	if err != nil {
		return err
	}
	return p.complete(ctx, match, winnerID)
}

func (p *Progression) complete(ctx context.Context, match *bracket.Match, winnerID *string) error {
	if winnerID != nil && !match.HasTeam(*winnerID) {
		p.logger.Warn("winner did not play this match, completing without one", "match", match.Slug, "winner", *winnerID)
		winnerID = nil
	}

	changed, err := p.matches.CompleteMatch(ctx, nil, match.ID, winnerID, p.now())
	if err != nil {
		return fmt.Errorf("failed to complete match %s: %w", match.Slug, err)
	}
	if !changed {
		p.logger.Info("match was already completed", "match", match.Slug)
	}
	p.dispatcher.StopPolling(match.Slug)

	// the stored result wins over the reported one on a repeat
	match, err = p.matches.GetMatch(ctx, nil, match.ID)
	if err != nil {
		return err
	}
	t, err := p.tournaments.GetTournament(ctx, nil, match.TournamentID)
	if err != nil {
		return err
	}

	winner := utils.OrZero(match.WinnerID)
	p.run("advance_winner", match, func() error { return p.AdvanceWinner(ctx, t, match, winner) })
	p.run("advance_loser", match, func() error { return p.AdvanceLoser(ctx, t, match, winner) })
	if t.Type.RoundBased() {
		p.run("round_completion", match, func() error { return p.CheckRoundCompletion(ctx, t, match.Round) })
	}
	p.run("tournament_completion", match, func() error { return p.CheckTournamentCompletion(ctx, t) })

	p.notifier.PublishMatchUpdated(t.ID, match)
	p.notifier.PublishBracketUpdated(t.ID)
	return nil
}

func (p *Progression) run(step string, match *bracket.Match, fn func() error) {
	err := fn()
	metrics.Progressions.WithLabelValues(step, metrics.Outcome(err)).Inc()
	if err != nil {
		p.logger.Error("progression step failed", "step", step, "match", match.Slug, "error", err)
	}
}

// AdvanceWinner places the winner into the match that follows.
func (p *Progression) AdvanceWinner(ctx context.Context, t *bracket.Tournament, match *bracket.Match, winnerID string) error {
	if match.NextMatchID == nil {
		return nil
	}
	if winnerID == "" {
		p.logger.Warn("match has no winner to advance", "match", match.Slug)
		return nil
	}
	return p.deliver(ctx, t, *match.NextMatchID, winnerID)
}

// AdvanceLoser drops the loser of a winners bracket match into the losers bracket,
// or sends a semifinal loser to the third place match.
func (p *Progression) AdvanceLoser(ctx context.Context, t *bracket.Tournament, match *bracket.Match, winnerID string) error {
	if winnerID == "" {
		return nil
	}
	loser := match.Loser()
	if loser == "" {
		return nil
	}

	var dest string
	switch t.Type {
	case bracket.DoubleElimination:
		slug, ok := bracket.LoserDestination(match.Slug)
		if !ok {
			return nil
		}
		dest = slug
	case bracket.SingleElimination:
		final := eliminationRounds(len(t.TeamIDs))
		if !t.Settings.ThirdPlaceMatch || final < 2 || match.Round != final-1 {
			return nil
		}
		dest = bracket.WinnersSlug(final, 2)
	default:
		return nil
	}

	next, err := p.matches.GetTournamentMatchBySlug(ctx, nil, t.ID, dest)
	if err != nil {
		return err
	}
	return p.deliver(ctx, t, next.ID, loser)
}

// deliver fills a slot and settles the receiving match: a bye completes with its
// only team, a full match is readied and dispatched.
func (p *Progression) deliver(ctx context.Context, t *bracket.Tournament, matchID int64, teamID string) error {
	if err := p.matches.FillSlot(ctx, nil, matchID, teamID); err != nil {
		return err
	}
	next, err := p.matches.GetMatch(ctx, nil, matchID)
	if err != nil {
		return err
	}
	p.notifier.PublishMatchUpdated(t.ID, next)

	switch {
	case next.Status == bracket.MatchCompleted:
		return nil
	case next.IsBye:
		if team, ok := next.OnlyTeam(); ok {
			return p.complete(ctx, next, &team)
		}
		return nil
	case next.HasBothTeams():
		ready, err := p.makeReady(ctx, t, next)
		if err != nil {
			return err
		}
		if ready {
			p.dispatcher.Dispatch(*next)
		}
	}
	return nil
}

// makeReady refreshes the frozen config and flips the match to ready when the veto
// allows it. Without a finished veto only the config is stored.
func (p *Progression) makeReady(ctx context.Context, t *bracket.Tournament, m *bracket.Match) (bool, error) {
	config, err := freezeConfig(ctx, nil, p.teams, t, m)
	if err != nil {
		return false, err
	}
	m.Config = config

	if !m.VetoSettled(t) {
		return false, p.matches.UpdateConfig(ctx, nil, m.ID, config)
	}
	ready, err := p.matches.MarkReady(ctx, nil, m.ID, config)
	if err != nil {
		return false, err
	}
	if ready {
		m.Status = bracket.MatchReady
	}
	return ready, nil
}

// CheckRoundCompletion opens the next round once every match of round is done.
// Swiss rounds are paired at that point.
func (p *Progression) CheckRoundCompletion(ctx context.Context, t *bracket.Tournament, round int) error {
	if !t.Type.RoundBased() {
		return nil
	}
	done, err := roundCompleted(ctx, p.matches, nil, t, round)
	if err != nil || !done {
		return err
	}

	next, err := p.matches.GetRoundMatches(ctx, nil, t.ID, round+1)
	if err != nil {
		return err
	}
	if len(next) == 0 {
		if t.Type != bracket.Swiss || round >= swissRounds(t) {
			return nil
		}
		if next, err = p.generateSwissRound(ctx, t, round+1); err != nil {
			return err
		}
		p.notifier.PublishBracketUpdated(t.ID)
	}

	var (
		ready []bracket.Match
		errs  []error
	)
	for i := range next {
		m := &next[i]
		if m.Status != bracket.MatchPending && m.Status != bracket.MatchReady {
			continue
		}
		if m.IsBye {
			if team, ok := m.OnlyTeam(); ok {
				errs = append(errs, p.complete(ctx, m, &team))
			}
			continue
		}
		if !m.HasBothTeams() {
			continue
		}
		ok, err := p.makeReady(ctx, t, m)
		if err != nil {
			errs = append(errs, fmt.Errorf("match %s: %w", m.Slug, err))
			continue
		}
		if ok {
			ready = append(ready, *m)
		}
	}
	if len(ready) > 0 {
		p.dispatcher.Dispatch(ready...)
	}
	return errors.Join(errs...)
}

func roundCompleted(ctx context.Context, matches *store.MatchStore, tx *sqlx.Tx, t *bracket.Tournament, round int) (bool, error) {
	if round < 1 {
		return true, nil
	}
	played, err := matches.GetRoundMatches(ctx, tx, t.ID, round)
	if err != nil {
		return false, err
	}
	if len(played) == 0 {
		return false, nil
	}
	for _, m := range played {
		if m.Status != bracket.MatchCompleted {
			return false, nil
		}
	}
	return true, nil
}

// roundOpen reports whether matches of round may be played yet.
func roundOpen(ctx context.Context, matches *store.MatchStore, tx *sqlx.Tx, t *bracket.Tournament, round int) (bool, error) {
	if !t.Type.RoundBased() || round <= 1 {
		return true, nil
	}
	return roundCompleted(ctx, matches, tx, t, round-1)
}

func (p *Progression) generateSwissRound(ctx context.Context, t *bracket.Tournament, round int) ([]bracket.Match, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := p.matches.GetRoundMatches(ctx, tx, t.ID, round)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	played, err := p.matches.GetMatches(ctx, tx, t.ID)
	if err != nil {
		return nil, err
	}
	matches := p.generator.NextSwissRound(t, round, played, p.now())
	if err := p.matches.AppendMatches(ctx, tx, matches); err != nil {
		return nil, fmt.Errorf("failed to store swiss round %d: %w", round, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	p.logger.Info("swiss round paired", "tournament", t.ID, "round", round, "matches", len(matches))
	return matches, nil
}

// CheckTournamentCompletion completes the tournament once every match is done.
func (p *Progression) CheckTournamentCompletion(ctx context.Context, t *bracket.Tournament) error {
	matches, err := p.matches.GetMatches(ctx, nil, t.ID)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}
	lastRound := 0
	for _, m := range matches {
		if m.Status != bracket.MatchCompleted {
			return nil
		}
		lastRound = max(lastRound, m.Round)
	}
	if t.Type == bracket.Swiss && lastRound < swissRounds(t) {
		return nil
	}

	current, err := p.tournaments.GetTournament(ctx, nil, t.ID)
	if err != nil {
		return err
	}
	if current.Status == bracket.TournamentCompleted {
		return nil
	}
	if err := p.tournaments.UpdateTournamentStatus(ctx, nil, t.ID, bracket.TournamentCompleted, p.now()); err != nil {
		return err
	}
	t.Status = bracket.TournamentCompleted

	p.logger.Info("tournament completed", "tournament", t.ID)
	p.notifier.PublishBracketUpdated(t.ID)
	return nil
}

// ResolveByes completes every bye that already holds its team. Byes that are
// still waiting for a feeder resolve when the team arrives.
func (p *Progression) ResolveByes(ctx context.Context, t *bracket.Tournament) (int, error) {
	matches, err := p.matches.GetMatches(ctx, nil, t.ID)
	if err != nil {
		return 0, err
	}

	resolved := 0
	var errs []error
	for _, m := range matches {
		if !m.IsBye || m.Status == bracket.MatchCompleted {
			continue
		}
		// an earlier bye may have completed this one already
		fresh, err := p.matches.GetMatch(ctx, nil, m.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		team, ok := fresh.OnlyTeam()
		if fresh.Status == bracket.MatchCompleted || !ok {
			continue
		}
		if err := p.complete(ctx, fresh, &team); err != nil {
			errs = append(errs, err)
			continue
		}
		resolved++
	}
	return resolved, errors.Join(errs...)
}

// freezeConfig snapshots the match config from its teams and veto.
func freezeConfig(ctx context.Context, tx *sqlx.Tx, teams *store.TeamStore, t *bracket.Tournament, m *bracket.Match) (types.NullJSONText, error) {
	if !m.HasBothTeams() {
		return types.NullJSONText{}, apperr.Conflict("match %s is missing a team", m.Slug)
	}
	found, err := teams.GetTeams(ctx, tx, []string{*m.Team1ID, *m.Team2ID})
	if err != nil {
		return types.NullJSONText{}, err
	}

	var team1, team2 *bracket.Team
	for i := range found {
		switch found[i].ID {
		case *m.Team1ID:
			team1 = &found[i]
		case *m.Team2ID:
			team2 = &found[i]
		}
	}
	cfg, err := matchconfig.Build(t, m, team1, team2)
	if err != nil {
		return types.NullJSONText{}, err
	}
	return cfg.JSON()
}
