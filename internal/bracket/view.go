package bracket

import (
	"sort"
)

type Round struct {
	Number  int     `json:"number"`
	Matches []Match `json:"matches"`
}

// View groups a tournament's matches by bracket side and round for clients.
type View struct {
	Tournament *Tournament     `json:"tournament"`
	Winners    []Round         `json:"winners"`
	Losers     []Round         `json:"losers,omitempty"`
	Finals     []Round         `json:"finals,omitempty"`
	Teams      map[string]Team `json:"teams"`
}

func PrepareView(t *Tournament, teams []Team, matches []Match) View {
	teamMap := make(map[string]Team, len(teams))
	for _, team := range teams {
		teamMap[team.ID] = team
	}

	wbRounds := make(map[int][]Match)
	lbRounds := make(map[int][]Match)
	finalRounds := make(map[int][]Match)

	for _, m := range matches {
		side := WinnersSide
		if pos, ok := ParseSlug(m.Slug); ok {
			side = pos.Side
		}
		switch side {
		case LosersSide:
			lbRounds[m.Round] = append(lbRounds[m.Round], m)
		case FinalsSide:
			finalRounds[m.Round] = append(finalRounds[m.Round], m)
		default:
			wbRounds[m.Round] = append(wbRounds[m.Round], m)
		}
	}

	return View{
		Tournament: t,
		Winners:    sortRounds(wbRounds),
		Losers:     sortRounds(lbRounds),
		Finals:     sortRounds(finalRounds),
		Teams:      teamMap,
	}
}

func sortRounds(rounds map[int][]Match) []Round {
	if len(rounds) == 0 {
		return nil
	}
	nums := make([]int, 0, len(rounds))
	for r := range rounds {
		nums = append(nums, r)
	}
	sort.Ints(nums)

	out := make([]Round, 0, len(nums))
	for _, r := range nums {
		ms := rounds[r]
		sort.Slice(ms, func(i, j int) bool {
			return ms[i].MatchNumber < ms[j].MatchNumber
		})
		out = append(out, Round{Number: r, Matches: ms})
	}
	return out
}
