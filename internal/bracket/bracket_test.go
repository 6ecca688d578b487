package bracket

import (
	"testing"

	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSlug(t *testing.T) {
	testCases := []struct {
		slug     string
		expected Position
		ok       bool
	}{
		{slug: "r1m1", expected: Position{Side: WinnersSide, Round: 1, Match: 1}, ok: true},
		{slug: "r2m3", expected: Position{Side: WinnersSide, Round: 2, Match: 3}, ok: true},
		{slug: "lb-r3m3", expected: Position{Side: LosersSide, Round: 3, Match: 3}, ok: true},
		{slug: "gf-r1m1", expected: Position{Side: FinalsSide, Round: 1, Match: 1}, ok: true},
		{slug: "wb-r1m1", ok: false},
		{slug: "r0m1", ok: false},
		{slug: "r1m1x", ok: false},
		{slug: "", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.slug, func(t *testing.T) {
			pos, ok := ParseSlug(tc.slug)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.expected, pos)
			}
		})
	}
}

func TestLoserDestination(t *testing.T) {
	dest, ok := LoserDestination("r2m3")
	require.True(t, ok)
	assert.Equal(t, "lb-r3m3", dest)

	dest, ok = LoserDestination("r1m4")
	require.True(t, ok)
	assert.Equal(t, "lb-r1m4", dest)

	_, ok = LoserDestination("lb-r2m1")
	assert.False(t, ok)
	_, ok = LoserDestination(GrandFinalSlug)
	assert.False(t, ok)
}

func TestMatchLoser(t *testing.T) {
	m := Match{Team1ID: utils.Ptr("navi"), Team2ID: utils.Ptr("vitality")}
	assert.Empty(t, m.Loser())

	m.WinnerID = utils.Ptr("navi")
	assert.Equal(t, "vitality", m.Loser())

	m.WinnerID = utils.Ptr("faze")
	assert.Empty(t, m.Loser())

	bye := Match{Team2ID: utils.Ptr("navi"), WinnerID: utils.Ptr("navi")}
	assert.Empty(t, bye.Loser())
	team, ok := bye.OnlyTeam()
	assert.True(t, ok)
	assert.Equal(t, "navi", team)
}

func TestPrepareView(t *testing.T) {
	matches := []Match{
		{Slug: GrandFinalSlug, Round: 4},
		{Slug: "r1m2", Round: 1, MatchNumber: 2},
		{Slug: "lb-r1m1", Round: 1, MatchNumber: 1},
		{Slug: "r1m1", Round: 1, MatchNumber: 1},
		{Slug: "r2m1", Round: 2, MatchNumber: 1},
	}
	view := PrepareView(&Tournament{Name: "Major"}, []Team{{ID: "navi", Name: "Natus Vincere"}}, matches)

	require.Len(t, view.Winners, 2)
	assert.Equal(t, "r1m1", view.Winners[0].Matches[0].Slug)
	assert.Equal(t, "r1m2", view.Winners[0].Matches[1].Slug)
	assert.Equal(t, 2, view.Winners[1].Number)
	require.Len(t, view.Losers, 1)
	require.Len(t, view.Finals, 1)
	assert.Equal(t, "Natus Vincere", view.Teams["navi"].Name)
}

func TestVetoRequired(t *testing.T) {
	tour := &Tournament{Maps: StringList{"de_nuke"}}
	assert.True(t, tour.VetoRequired())

	tour.Settings.SkipVeto = true
	assert.False(t, tour.VetoRequired())

	assert.False(t, (&Tournament{}).VetoRequired())

	m := &Match{}
	assert.True(t, m.VetoSettled(tour))
}
