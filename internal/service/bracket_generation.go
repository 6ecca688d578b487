package service

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"time"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/google/uuid"
)

type BracketGeneration struct {
	shuffle func([]string)
}

func NewBracketGeneration() *BracketGeneration {
	return &BracketGeneration{
		shuffle: func(ids []string) {
			rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		},
	}
}

// Generate builds the full initial match graph for the tournament. Matches link to
// their winner's destination through NextMatchSlug.
func (g *BracketGeneration) Generate(t *bracket.Tournament, now time.Time) ([]bracket.Match, error) {
	if !t.Type.Valid() {
		return nil, apperr.Validation("unknown tournament type %q", t.Type)
	}
	if len(t.TeamIDs) < 2 {
		return nil, apperr.Validation("a bracket needs at least 2 teams, got %d", len(t.TeamIDs))
	}

	teams := g.seed(t)
	switch t.Type {
	case bracket.SingleElimination:
		return g.GenerateSingleElimBracket(t, teams, now), nil
	case bracket.DoubleElimination:
		return g.GenerateDoubleElimBracket(t, teams, now), nil
	case bracket.RoundRobin:
		return g.GenerateRoundRobin(t, teams, now), nil
	default:
		return g.GenerateSwissRound(t, 1, teams, now), nil
	}
}

func (g *BracketGeneration) seed(t *bracket.Tournament) []string {
	teams := slices.Clone([]string(t.TeamIDs))
	if t.Settings.SeedingMethod == bracket.SeedingRandom {
		g.shuffle(teams)
	}
	return teams
}

// plan is a bracket under construction. Matches are kept in an order where every
// feeder comes before the match it feeds.
type plan struct {
	tournamentID uuid.UUID
	matches      []bracket.Match
	// destination slug -> winners bracket matches whose loser drops there
	loserFeeds map[string][]string
}

func newPlan(tournamentID uuid.UUID) *plan {
	return &plan{tournamentID: tournamentID, loserFeeds: make(map[string][]string)}
}

func (p *plan) add(slug string, round, number int, next string) *bracket.Match {
	p.matches = append(p.matches, bracket.Match{
		Slug:          slug,
		TournamentID:  p.tournamentID,
		Round:         round,
		MatchNumber:   number,
		Status:        bracket.MatchPending,
		NextMatchSlug: next,
	})
	return &p.matches[len(p.matches)-1]
}

// settle decides the starting status of every match from how many teams can ever
// reach it. A match nobody can reach is completed without a winner, a match only
// one team can reach is a bye.
func (p *plan) settle(t *bracket.Tournament, now time.Time) {
	winnerFeeds := make(map[string][]string)
	for _, m := range p.matches {
		if m.NextMatchSlug != "" {
			winnerFeeds[m.NextMatchSlug] = append(winnerFeeds[m.NextMatchSlug], m.Slug)
		}
	}

	expected := make(map[string]int, len(p.matches))
	for i := range p.matches {
		m := &p.matches[i]
		n := 0
		if m.Team1ID != nil {
			n++
		}
		if m.Team2ID != nil {
			n++
		}
		for _, src := range winnerFeeds[m.Slug] {
			if expected[src] >= 1 {
				n++
			}
		}
		for _, src := range p.loserFeeds[m.Slug] {
			if expected[src] == 2 {
				n++
			}
		}
		expected[m.Slug] = n

		switch {
		case n == 0:
			m.IsBye = true
			m.Status = bracket.MatchCompleted
			m.CompletedAt = utils.Ptr(now)
		case n == 1:
			m.IsBye = true
		case m.Round == 1 && m.HasBothTeams() && !t.VetoRequired():
			m.Status = bracket.MatchReady
		}
	}
}

// Gets the nearest power of 2 while rounding up, so with input 5 it returns 8 and so on
func calcBracketSize(count int) int {
	if count <= 0 {
		return 0
	}

	// Log2 -> Ceil -> 2^^log2 to round up
	log2 := math.Ceil(math.Log2(float64(count)))
	return int(math.Pow(2, log2))
}

// eliminationRounds is the number of winners bracket rounds for count teams.
func eliminationRounds(count int) int {
	size := calcBracketSize(count)
	if size < 2 {
		return 0
	}
	return int(math.Log2(float64(size)))
}

func generateRound1Pairs(bracketSize int) [][2]int {
	if bracketSize == 0 {
		return [][2]int{}
	}

	rounds := []int{0}
	for len(rounds) < bracketSize {
		var nextRound []int
		currentCount := len(rounds) * 2

		for _, seed := range rounds {
			nextRound = append(nextRound, seed)
			nextRound = append(nextRound, (currentCount-1)-seed)
		}
		rounds = nextRound
	}

	pairs := make([][2]int, 0, bracketSize/2)
	for i := 0; i < len(rounds); i += 2 {
		matchup := [2]int{rounds[i], rounds[i+1]}
		pairs = append(pairs, matchup)
	}

	return pairs
}

// addWinnersBracket lays out the seeded tree. The final's winner goes to final,
// which is empty for single elimination.
func (p *plan) addWinnersBracket(teams []string, final string) int {
	totalRounds := eliminationRounds(len(teams))
	pairs := generateRound1Pairs(calcBracketSize(len(teams)))

	for r := 1; r <= totalRounds; r++ {
		matchesInRound := 1 << (totalRounds - r)
		for i := 1; i <= matchesInRound; i++ {
			next := final
			if r < totalRounds {
				next = bracket.WinnersSlug(r+1, (i+1)/2)
			}
			m := p.add(bracket.WinnersSlug(r, i), r, i, next)

			if r == 1 {
				pair := pairs[i-1]
				if pair[0] < len(teams) {
					m.Team1ID = utils.Ptr(teams[pair[0]])
				}
				if pair[1] < len(teams) {
					m.Team2ID = utils.Ptr(teams[pair[1]])
				}
			}
		}
	}
	return totalRounds
}

// Generate bracket structure for single elimination
func (g *BracketGeneration) GenerateSingleElimBracket(t *bracket.Tournament, teams []string, now time.Time) []bracket.Match {
	p := newPlan(t.ID)
	totalRounds := p.addWinnersBracket(teams, "")

	if t.Settings.ThirdPlaceMatch && totalRounds >= 2 {
		slug := bracket.WinnersSlug(totalRounds, 2)
		p.add(slug, totalRounds, 2, "")
		p.loserFeeds[slug] = []string{
			bracket.WinnersSlug(totalRounds-1, 1),
			bracket.WinnersSlug(totalRounds-1, 2),
		}
	}
	p.settle(t, now)
	return p.matches
}

// GenerateDoubleElimBracket adds a losers bracket to the seeded tree. Losers round
// 2R-1 has as many matches as winners round R: slot 1 is kept for the previous
// losers round's winner and slot 2 for the team dropping down from winners match
// R/M. Losers round 2R halves the field. Both finals feed the grand final.
func (g *BracketGeneration) GenerateDoubleElimBracket(t *bracket.Tournament, teams []string, now time.Time) []bracket.Match {
	p := newPlan(t.ID)
	totalRounds := p.addWinnersBracket(teams, bracket.GrandFinalSlug)
	lastLosersRound := 2*totalRounds - 1

	for r := 1; r <= lastLosersRound; r++ {
		var matchesInRound int
		if r%2 == 1 {
			matchesInRound = 1 << (totalRounds - (r+1)/2)
		} else {
			matchesInRound = 1 << (totalRounds - r/2 - 1)
		}

		for i := 1; i <= matchesInRound; i++ {
			var next string
			switch {
			case r == lastLosersRound:
				next = bracket.GrandFinalSlug
			case r%2 == 1:
				next = bracket.LosersSlug(r+1, (i+1)/2)
			default:
				next = bracket.LosersSlug(r+1, i)
			}
			slug := bracket.LosersSlug(r, i)
			p.add(slug, r, i, next)

			if r%2 == 1 {
				p.loserFeeds[slug] = []string{bracket.WinnersSlug((r+1)/2, i)}
			}
		}
	}

	round := max(totalRounds, lastLosersRound) + 1
	p.add(bracket.GrandFinalSlug, round, 1, "")
	p.settle(t, now)
	return p.matches
}

// GenerateRoundRobin pairs everyone with the circle method. With an odd number of
// teams one team sits out each round.
func (g *BracketGeneration) GenerateRoundRobin(t *bracket.Tournament, teams []string, now time.Time) []bracket.Match {
	p := newPlan(t.ID)

	circle := slices.Clone(teams)
	if len(circle)%2 == 1 {
		circle = append(circle, "")
	}
	n := len(circle)

	for r := 1; r < n; r++ {
		number := 0
		for i := 0; i < n/2; i++ {
			a, b := circle[i], circle[n-1-i]
			if a == "" || b == "" {
				continue
			}
			number++
			m := p.add(bracket.WinnersSlug(r, number), r, number, "")
			m.Team1ID, m.Team2ID = utils.Ptr(a), utils.Ptr(b)
		}
		// keep the first team fixed and rotate the rest clockwise
		last := circle[n-1]
		copy(circle[2:], circle[1:n-1])
		circle[1] = last
	}
	p.settle(t, now)
	return p.matches
}

// GenerateSwissRound pairs teams already ordered by standing: the top half plays
// the bottom half. An odd team out gets a bye.
func (g *BracketGeneration) GenerateSwissRound(t *bracket.Tournament, round int, teams []string, now time.Time) []bracket.Match {
	p := newPlan(t.ID)
	half := len(teams) / 2
	for i := 0; i < half; i++ {
		m := p.add(bracket.WinnersSlug(round, i+1), round, i+1, "")
		m.Team1ID, m.Team2ID = utils.Ptr(teams[i]), utils.Ptr(teams[i+half])
	}
	if len(teams)%2 == 1 {
		m := p.add(bracket.WinnersSlug(round, half+1), round, half+1, "")
		m.Team1ID = utils.Ptr(teams[len(teams)-1])
	}
	p.settle(t, now)
	return p.matches
}

// swissRounds is the configured number of swiss rounds, or enough rounds to leave
// a single undefeated team.
func swissRounds(t *bracket.Tournament) int {
	if t.Settings.SwissRounds > 0 {
		return t.Settings.SwissRounds
	}
	return max(1, eliminationRounds(len(t.TeamIDs)))
}

// NextSwissRound pairs round from the results so far: most wins first, seed order
// breaking ties, avoiding rematches where possible. The lowest ranked team that has
// not had a bye yet sits out an odd field.
func (g *BracketGeneration) NextSwissRound(t *bracket.Tournament, round int, played []bracket.Match, now time.Time) []bracket.Match {
	wins := make(map[string]int, len(t.TeamIDs))
	hadBye := make(map[string]bool)
	met := make(map[[2]string]bool)
	for _, m := range played {
		if m.WinnerID != nil {
			wins[*m.WinnerID]++
		}
		if m.HasBothTeams() {
			met[pairKey(*m.Team1ID, *m.Team2ID)] = true
		} else if team, ok := m.OnlyTeam(); ok {
			hadBye[team] = true
		}
	}

	standings := slices.Clone([]string(t.TeamIDs))
	seed := make(map[string]int, len(standings))
	for i, id := range standings {
		seed[id] = i
	}
	sort.SliceStable(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if wins[a] != wins[b] {
			return wins[a] > wins[b]
		}
		return seed[a] < seed[b]
	})

	var bye string
	if len(standings)%2 == 1 {
		idx := len(standings) - 1
		for i := len(standings) - 1; i >= 0; i-- {
			if !hadBye[standings[i]] {
				idx = i
				break
			}
		}
		bye = standings[idx]
		standings = slices.Delete(standings, idx, idx+1)
	}

	p := newPlan(t.ID)
	number := 0
	for len(standings) > 0 {
		a := standings[0]
		opponent := 1
		for j := 1; j < len(standings); j++ {
			if !met[pairKey(a, standings[j])] {
				opponent = j
				break
			}
		}
		b := standings[opponent]
		standings = slices.Delete(standings, opponent, opponent+1)
		standings = standings[1:]

		number++
		m := p.add(bracket.WinnersSlug(round, number), round, number, "")
		m.Team1ID, m.Team2ID = utils.Ptr(a), utils.Ptr(b)
	}
	if bye != "" {
		number++
		m := p.add(bracket.WinnersSlug(round, number), round, number, "")
		m.Team1ID = utils.Ptr(bye)
	}
	p.settle(t, now)
	return p.matches
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}
