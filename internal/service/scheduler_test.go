package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fourTeamCup(t *testing.T, h *harness) *bracket.Tournament {
	t.Helper()
	return h.tournament(t, TournamentInput{Type: bracket.SingleElimination, TeamIDs: []string{"a", "b", "c", "d"}})
}

func TestAllocateAllNoAvailableServers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := fourTeamCup(t, h)
	h.addServers(t, "s1")

	results, err := h.scheduler.AllocateAll(ctx, "http://orchestrator.test")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Success)
	assert.Equal(t, "r1m1", results[0].MatchSlug)
	assert.Equal(t, "s1", utils.OrZero(results[0].ServerID))

	assert.False(t, results[1].Success)
	assert.Equal(t, "r1m2", results[1].MatchSlug)
	assert.Equal(t, "No available servers", results[1].Error)
	assert.Nil(t, results[1].ServerID)

	loaded := h.match(t, tour.ID, "r1m1")
	assert.Equal(t, bracket.MatchLoaded, loaded.Status)
	assert.Equal(t, "s1", utils.OrZero(loaded.ServerID))
	assert.NotNil(t, loaded.LoadedAt)

	waiting := h.match(t, tour.ID, "r1m2")
	assert.Equal(t, bracket.MatchReady, waiting.Status)
	assert.Nil(t, waiting.ServerID)
}

func TestAllocateSendsLoadSequence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fourTeamCup(t, h)
	h.addServers(t, "s1")

	res, err := h.scheduler.AllocateOne(ctx, "r1m1", "http://orchestrator.test")
	require.NoError(t, err)
	require.True(t, res.Success)
	h.tasks.Wait()

	cmds := h.control.commands("s1")
	require.Len(t, cmds, 6, "four load steps and the reapplied webhook and demo settings")
	assert.Contains(t, cmds[0], `matchzy_remote_log_url "http://orchestrator.test/api/events"`)
	assert.Contains(t, cmds[0], `matchzy_remote_log_header_value "hook-secret"`)
	assert.True(t, strings.HasPrefix(cmds[1], "matchzy_demo_upload_url"))
	assert.Contains(t, cmds[2], `"Bearer config-token"`)
	assert.Contains(t, cmds[3], `matchzy_loadmatch_url "http://orchestrator.test/api/matches/r1m1/config"`)
	assert.Equal(t, cmds[0], cmds[4])
	assert.Equal(t, cmds[1], cmds[5])
}

func TestAllocateSkipsOfflineAndBusyServers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := fourTeamCup(t, h)
	h.addServers(t, "s1", "s2", "s3")
	h.control.setOffline("s1", true)

	h.loadMatch(t, h.match(t, tour.ID, "r1m1"), "s2")

	servers, err := h.scheduler.ListAvailableServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "s3", servers[0].ID)

	results, err := h.scheduler.AllocateAll(ctx, "http://orchestrator.test")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "s3", utils.OrZero(results[0].ServerID))
}

func TestAllocateOneRollsBackOnRejection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := fourTeamCup(t, h)
	h.addServers(t, "s1")
	h.control.reject["s1"] = true

	res, err := h.scheduler.AllocateOne(ctx, "r1m1", "http://orchestrator.test")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPluginRejection))
	assert.False(t, res.Success)
	assert.Nil(t, res.ServerID)

	m := h.match(t, tour.ID, "r1m1")
	assert.Equal(t, bracket.MatchReady, m.Status)
	assert.Nil(t, m.ServerID, "the claim is released")
}

func TestAllocateAllKeepsServerOnFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := fourTeamCup(t, h)
	h.addServers(t, "s1")
	h.control.sendErr["s1"] = errors.New("i/o timeout")

	results, err := h.scheduler.AllocateAll(ctx, "http://orchestrator.test")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Equal(t, "s1", utils.OrZero(results[0].ServerID))

	m := h.match(t, tour.ID, "r1m1")
	assert.Equal(t, bracket.MatchReady, m.Status)
	assert.Equal(t, "s1", utils.OrZero(m.ServerID))

	servers, err := h.scheduler.ListAvailableServers(ctx)
	require.NoError(t, err)
	assert.Empty(t, servers, "a held server is not offered again")

	ready, err := h.scheduler.ListReadyMatches(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "r1m2", ready[0].Slug)
}

func TestAllocateOneRejectsUnallocatableMatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := fourTeamCup(t, h)
	h.addServers(t, "s1", "s2")

	_, err := h.scheduler.AllocateOne(ctx, "r7m1", "http://orchestrator.test")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = h.scheduler.AllocateOne(ctx, "r2m1", "http://orchestrator.test")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict), "pending match")

	h.loadMatch(t, h.match(t, tour.ID, "r1m1"), "s1")
	_, err = h.scheduler.AllocateOne(ctx, "r1m1", "http://orchestrator.test")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict), "already loaded")
}

func TestStartPollingKeepsOnePoller(t *testing.T) {
	h := newHarness(t)
	fourTeamCup(t, h)

	assert.True(t, h.scheduler.StartPolling("r1m1", "http://orchestrator.test"))
	assert.False(t, h.scheduler.StartPolling("r1m1", "http://orchestrator.test"))
	assert.True(t, h.scheduler.Polling("r1m1"))

	assert.True(t, h.scheduler.StopPolling("r1m1"))
	assert.False(t, h.scheduler.StopPolling("r1m1"))
	assert.False(t, h.scheduler.Polling("r1m1"))
}

func TestPollerAllocatesWhenServerComesOnline(t *testing.T) {
	h := newHarness(t)
	tour := fourTeamCup(t, h)
	h.addServers(t, "s1")
	h.control.setOffline("s1", true)

	require.True(t, h.scheduler.StartPolling("r1m1", "http://orchestrator.test"))
	// a couple of attempts against the offline server leave the match untouched
	require.Eventually(t, func() bool {
		return h.control.probes("s1") >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, bracket.MatchReady, h.match(t, tour.ID, "r1m1").Status)
	assert.Empty(t, h.control.commands("s1"))
	assert.True(t, h.scheduler.Polling("r1m1"))

	h.control.setOffline("s1", false)
	require.Eventually(t, func() bool {
		return h.match(t, tour.ID, "r1m1").Status == bracket.MatchLoaded
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return !h.scheduler.Polling("r1m1")
	}, time.Second, 10*time.Millisecond)
}

func TestPollerStopsWhenMatchLeavesReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := fourTeamCup(t, h)

	require.True(t, h.scheduler.StartPolling("r1m1", "http://orchestrator.test"))
	_, err := h.matches.CompleteMatch(ctx, nil, h.match(t, tour.ID, "r1m1").ID, nil, genTime)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !h.scheduler.Polling("r1m1")
	}, time.Second, 10*time.Millisecond)
}

func TestCloseStopsPollers(t *testing.T) {
	h := newHarness(t)
	fourTeamCup(t, h)

	require.True(t, h.scheduler.StartPolling("r1m1", "http://orchestrator.test"))
	require.True(t, h.scheduler.StartPolling("r1m2", "http://orchestrator.test"))

	h.scheduler.Close()
	assert.False(t, h.scheduler.Polling("r1m1"))
	assert.False(t, h.scheduler.Polling("r1m2"))
	assert.False(t, h.scheduler.StartPolling("r1m1", "http://orchestrator.test"))
}

func TestDispatchPollsWhenNoServer(t *testing.T) {
	h := newHarness(t)
	tour := fourTeamCup(t, h)

	h.scheduler.Dispatch(*h.match(t, tour.ID, "r1m1"))
	h.tasks.Wait()
	assert.True(t, h.scheduler.Polling("r1m1"))
}

func TestUnloadEndsActiveMatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := fourTeamCup(t, h)
	h.addServers(t, "s1")
	h.loadMatch(t, h.match(t, tour.ID, "r1m1"), "s1")

	assert.Equal(t, 1, h.scheduler.Unload(ctx, tour.ID))
	assert.Equal(t, []string{"matchzy_endmatch"}, h.control.commands("s1"))
}
