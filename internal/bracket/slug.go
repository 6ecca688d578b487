package bracket

import (
	"fmt"
	"regexp"
	"strconv"
)

type BracketSide string

const (
	WinnersSide BracketSide = "winners"
	LosersSide  BracketSide = "losers"
	FinalsSide  BracketSide = "finals"
)

const GrandFinalSlug = "gf-r1m1"

var slugPattern = regexp.MustCompile(`^(lb-|gf-)?r(\d+)m(\d+)$`)

// Position is the bracket address encoded in a match slug.
type Position struct {
	Side  BracketSide
	Round int
	Match int
}

func WinnersSlug(round, match int) string {
	return fmt.Sprintf("r%dm%d", round, match)
}

func LosersSlug(round, match int) string {
	return fmt.Sprintf("lb-r%dm%d", round, match)
}

func ParseSlug(slug string) (Position, bool) {
	parts := slugPattern.FindStringSubmatch(slug)
	if parts == nil {
		return Position{}, false
	}
	round, _ := strconv.Atoi(parts[2])
	match, _ := strconv.Atoi(parts[3])
	if round < 1 || match < 1 {
		return Position{}, false
	}

	side := WinnersSide
	switch parts[1] {
	case "lb-":
		side = LosersSide
	case "gf-":
		side = FinalsSide
	}
	return Position{Side: side, Round: round, Match: match}, true
}

// LoserDestination maps a winners bracket slug to the losers bracket match that
// receives its loser: round R drops into losers round 2R-1, same match number.
func LoserDestination(slug string) (string, bool) {
	pos, ok := ParseSlug(slug)
	if !ok || pos.Side != WinnersSide {
		return "", false
	}
	return LosersSlug(2*pos.Round-1, pos.Match), true
}
