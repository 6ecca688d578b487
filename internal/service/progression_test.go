package service

import (
	"context"
	"testing"

	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleEliminationProgression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.tournament(t, TournamentInput{Type: bracket.SingleElimination, TeamIDs: []string{"astralis", "vitality", "spirit", "faze"}})

	// seeds 1v4 and 2v3
	r1m1 := h.match(t, tour.ID, "r1m1")
	assert.Equal(t, "astralis", utils.OrZero(r1m1.Team1ID))
	assert.Equal(t, "faze", utils.OrZero(r1m1.Team2ID))
	assert.Equal(t, bracket.MatchReady, r1m1.Status)

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r1m1", utils.Ptr("astralis")))
	final := h.match(t, tour.ID, "r2m1")
	assert.Equal(t, "astralis", utils.OrZero(final.Team1ID))
	assert.Nil(t, final.Team2ID)
	assert.Equal(t, bracket.MatchPending, final.Status)

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r1m2", utils.Ptr("spirit")))
	final = h.match(t, tour.ID, "r2m1")
	assert.Equal(t, "spirit", utils.OrZero(final.Team2ID))
	assert.Equal(t, bracket.MatchReady, final.Status)
	assert.True(t, final.Config.Valid, "config is frozen when the match becomes ready")

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r2m1", utils.Ptr("spirit")))
	done, err := h.tournaments.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
}

func TestHandleMatchCompletedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.tournament(t, TournamentInput{Type: bracket.SingleElimination, TeamIDs: []string{"a", "b", "c", "d"}})

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r1m1", utils.Ptr("a")))
	// a repeat with a different winner keeps the stored result
	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r1m1", utils.Ptr("d")))

	m := h.match(t, tour.ID, "r1m1")
	assert.Equal(t, "a", utils.OrZero(m.WinnerID))

	next := h.match(t, tour.ID, "r2m1")
	assert.Equal(t, "a", utils.OrZero(next.Team1ID))
	assert.Nil(t, next.Team2ID)
}

func TestHandleMatchCompletedUnknownWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.tournament(t, TournamentInput{Type: bracket.SingleElimination, TeamIDs: []string{"a", "b", "c", "d"}})

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r1m1", utils.Ptr("navi")))

	m := h.match(t, tour.ID, "r1m1")
	assert.Equal(t, bracket.MatchCompleted, m.Status)
	assert.Nil(t, m.WinnerID)

	next := h.match(t, tour.ID, "r2m1")
	assert.Nil(t, next.Team1ID)
	assert.Nil(t, next.Team2ID)
}

func TestHandleMatchCompletedUnknownMatch(t *testing.T) {
	h := newHarness(t)
	err := h.progression.HandleMatchCompleted(context.Background(), "r9m9", nil)
	require.Error(t, err)
}

func TestThirdPlaceProgression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.tournament(t, TournamentInput{
		Type:     bracket.SingleElimination,
		TeamIDs:  []string{"a", "b", "c", "d"},
		Settings: bracket.Settings{ThirdPlaceMatch: true},
	})

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r1m1", utils.Ptr("a")))
	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r1m2", utils.Ptr("b")))

	third := h.match(t, tour.ID, "r2m2")
	assert.True(t, third.HasTeam("d"))
	assert.True(t, third.HasTeam("c"))
	assert.Equal(t, bracket.MatchReady, third.Status)

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r2m1", utils.Ptr("a")))
	open, err := h.tournaments.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)
	assert.NotEqual(t, bracket.TournamentCompleted, open.Status, "third place match is still open")

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r2m2", utils.Ptr("c")))
	done, err := h.tournaments.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentCompleted, done.Status)
}

func TestDoubleEliminationProgression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.tournament(t, TournamentInput{Type: bracket.DoubleElimination, TeamIDs: []string{"a", "b", "c", "d"}})

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r1m1", utils.Ptr("a")))

	// the drop-in round is a bye, so d passes straight through it
	drop := h.match(t, tour.ID, "lb-r1m1")
	assert.Equal(t, bracket.MatchCompleted, drop.Status)
	assert.Equal(t, "d", utils.OrZero(drop.WinnerID))

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r1m2", utils.Ptr("b")))

	lb2 := h.match(t, tour.ID, "lb-r2m1")
	assert.True(t, lb2.HasTeam("d"))
	assert.True(t, lb2.HasTeam("c"))
	assert.Equal(t, bracket.MatchReady, lb2.Status)

	wbFinal := h.match(t, tour.ID, "r2m1")
	assert.Equal(t, bracket.MatchReady, wbFinal.Status)

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "lb-r2m1", utils.Ptr("c")))
	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "r2m1", utils.Ptr("a")))

	lbFinal := h.match(t, tour.ID, "lb-r3m1")
	assert.True(t, lbFinal.HasTeam("c"))
	assert.True(t, lbFinal.HasTeam("b"))
	assert.Equal(t, bracket.MatchReady, lbFinal.Status)

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, "lb-r3m1", utils.Ptr("b")))
	gf := h.match(t, tour.ID, bracket.GrandFinalSlug)
	assert.True(t, gf.HasTeam("a"))
	assert.True(t, gf.HasTeam("b"))
	assert.Equal(t, bracket.MatchReady, gf.Status)

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, bracket.GrandFinalSlug, utils.Ptr("b")))
	done, err := h.tournaments.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentCompleted, done.Status)
}

func TestRoundRobinOpensNextRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.tournament(t, TournamentInput{Type: bracket.RoundRobin, TeamIDs: []string{"a", "b", "c", "d"}})

	round1, err := h.matches.GetRoundMatches(ctx, nil, tour.ID, 1)
	require.NoError(t, err)
	require.Len(t, round1, 2)

	round2, err := h.matches.GetRoundMatches(ctx, nil, tour.ID, 2)
	require.NoError(t, err)
	for _, m := range round2 {
		assert.Equal(t, bracket.MatchPending, m.Status, "round 2 waits for round 1")
	}

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, round1[0].Slug, round1[0].Team1ID))
	round2, err = h.matches.GetRoundMatches(ctx, nil, tour.ID, 2)
	require.NoError(t, err)
	for _, m := range round2 {
		assert.Equal(t, bracket.MatchPending, m.Status)
	}

	require.NoError(t, h.progression.HandleMatchCompleted(ctx, round1[1].Slug, round1[1].Team2ID))
	round2, err = h.matches.GetRoundMatches(ctx, nil, tour.ID, 2)
	require.NoError(t, err)
	for _, m := range round2 {
		assert.Equal(t, bracket.MatchReady, m.Status)
		assert.True(t, m.Config.Valid)
	}
}

func TestSwissGeneratesNextRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.tournament(t, TournamentInput{Type: bracket.Swiss, TeamIDs: []string{"a", "b", "c", "d"}})

	round1, err := h.matches.GetRoundMatches(ctx, nil, tour.ID, 1)
	require.NoError(t, err)
	require.Len(t, round1, 2)
	for _, m := range round1 {
		require.NoError(t, h.progression.HandleMatchCompleted(ctx, m.Slug, m.Team1ID))
	}

	round2, err := h.matches.GetRoundMatches(ctx, nil, tour.ID, 2)
	require.NoError(t, err)
	require.Len(t, round2, 2)

	// both 1-0 teams meet
	winners := []string{*round1[0].Team1ID, *round1[1].Team1ID}
	top := round2[0]
	assert.True(t, top.HasTeam(winners[0]))
	assert.True(t, top.HasTeam(winners[1]))
	for _, m := range round2 {
		assert.Equal(t, bracket.MatchReady, m.Status)
	}

	for _, m := range round2 {
		require.NoError(t, h.progression.HandleMatchCompleted(ctx, m.Slug, m.Team2ID))
	}
	round3, err := h.matches.GetRoundMatches(ctx, nil, tour.ID, 3)
	require.NoError(t, err)
	assert.Empty(t, round3, "4 teams play 2 swiss rounds")

	done, err := h.tournaments.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentCompleted, done.Status)
}

func TestResolveByes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.tournament(t, TournamentInput{Type: bracket.SingleElimination, TeamIDs: []string{"a", "b", "c"}})

	resolved, err := h.progression.ResolveByes(ctx, tour)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	bye := h.match(t, tour.ID, "r1m1")
	assert.Equal(t, bracket.MatchCompleted, bye.Status)
	assert.Equal(t, "a", utils.OrZero(bye.WinnerID))

	final := h.match(t, tour.ID, "r2m1")
	assert.Equal(t, "a", utils.OrZero(final.Team1ID))

	again, err := h.progression.ResolveByes(ctx, tour)
	require.NoError(t, err)
	assert.Zero(t, again)
}
