package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"event":"series_end","matchid":"42","winner":{"side":"ct","team":"team2"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventSeriesEnd, ev.Event)
	assert.Equal(t, EventMatchID(42), ev.MatchID)
	assert.Equal(t, "team2", ev.Winner.Team)

	ev, err = DecodeEvent([]byte(`{"event":"round_end","matchid":7,"map_number":1,"round_number":3,"team1":{"score":2},"team2":{"score":1}}`))
	require.NoError(t, err)
	assert.Equal(t, EventMatchID(7), ev.MatchID)
	assert.Equal(t, 2, ev.Team1.Score)

	_, err = DecodeEvent([]byte(`{"event":"going_live","matchid":"abc"}`))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestEventLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := fourTeamCup(t, h)
	h.addServers(t, "s1")

	m := h.match(t, tour.ID, "r1m1")
	h.loadMatch(t, m, "s1")

	decode := func(body string) Event {
		ev, err := DecodeEvent([]byte(fmt.Sprintf(body, m.ID)))
		require.NoError(t, err)
		return ev
	}

	require.NoError(t, h.events.Handle(ctx, decode(`{"event":"going_live","matchid":%d,"map_number":0}`)))
	assert.Equal(t, bracket.MatchLive, h.match(t, tour.ID, "r1m1").Status)

	require.NoError(t, h.events.Handle(ctx, decode(`{"event":"round_end","matchid":%d,"map_number":0,"round_number":5,"team1":{"score":4},"team2":{"score":1}}`)))
	stats, err := h.events.LiveStats(ctx, "r1m1")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Round)
	assert.Equal(t, 4, stats.Team1Score)

	require.NoError(t, h.events.Handle(ctx, decode(`{"event":"series_end","matchid":%d,"winner":{"side":"t","team":"team2"}}`)))
	h.tasks.Wait()

	done := h.match(t, tour.ID, "r1m1")
	assert.Equal(t, bracket.MatchCompleted, done.Status)
	assert.Equal(t, "d", utils.OrZero(done.WinnerID))
	assert.Equal(t, "d", utils.OrZero(h.match(t, tour.ID, "r2m1").Team1ID))
}

func TestEventForUnknownMatch(t *testing.T) {
	h := newHarness(t)
	err := h.events.Handle(context.Background(), Event{Event: EventGoingLive, MatchID: 999})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	// events nobody consumes are acknowledged
	require.NoError(t, h.events.Handle(context.Background(), Event{Event: "player_connect", MatchID: 999}))
}

func TestSeriesEndUnknownWinner(t *testing.T) {
	h := newHarness(t)
	tour := fourTeamCup(t, h)
	m := h.match(t, tour.ID, "r1m1")

	err := h.events.Handle(context.Background(), Event{Event: EventSeriesEnd, MatchID: EventMatchID(m.ID), Winner: EventWinner{Team: "team3"}})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
