package veto

import (
	"fmt"
)

// Step is one entry of a veto order. Number is 1-based.
type Step struct {
	Number int      `json:"step"`
	Team   TeamSlot `json:"team"`
	Action Action   `json:"action"`
}

const standardPoolSize = 7

var standardOrders = map[Format][]Step{
	BO1: {
		{1, Team1, Ban},
		{2, Team1, Ban},
		{3, Team2, Ban},
		{4, Team2, Ban},
		{5, Team2, Ban},
		{6, Team1, Ban},
		{7, Team2, SidePick},
	},
	BO3: {
		{1, Team1, Ban},
		{2, Team2, Ban},
		{3, Team1, Pick},
		{4, Team2, SidePick},
		{5, Team2, Pick},
		{6, Team1, SidePick},
		{7, Team1, Ban},
		{8, Team2, Ban},
		{9, Team2, SidePick},
	},
	BO5: {
		{1, Team1, Ban},
		{2, Team2, Ban},
		{3, Team1, Pick},
		{4, Team2, SidePick},
		{5, Team2, Pick},
		{6, Team1, SidePick},
		{7, Team1, Pick},
		{8, Team2, SidePick},
		{9, Team2, Pick},
		{10, Team1, SidePick},
		{11, Team2, SidePick},
	},
}

// requiredCounts returns how many bans, picks and side picks a complete order for
// this format and pool size contains.
func requiredCounts(format Format, poolSize int) (bans, picks, sides int) {
	picks = format.Picks()
	sides = picks + 1
	bans = poolSize - 1 - picks
	return bans, picks, sides
}

// StandardOrder returns the default order for a format. A seven map pool uses the
// competitive table; other sizes keep the same shape with the ban count adjusted so
// that exactly one decider is left. It returns nil when the pool is too small.
func StandardOrder(format Format, poolSize int) []Step {
	if !format.Valid() {
		return nil
	}
	if poolSize <= 0 || poolSize == standardPoolSize {
		return cloneSteps(standardOrders[format])
	}

	bans, picks, _ := requiredCounts(format, poolSize)
	if bans < 0 {
		return nil
	}

	var steps []Step
	add := func(team TeamSlot, action Action) {
		steps = append(steps, Step{Number: len(steps) + 1, Team: team, Action: action})
	}

	if format == BO1 {
		team := Team1
		for i := 0; i < bans; i++ {
			add(team, Ban)
			team = team.Other()
		}
		add(Team2, SidePick)
		return steps
	}

	opening := min(bans, 2)
	team := Team1
	for i := 0; i < opening; i++ {
		add(team, Ban)
		team = team.Other()
	}
	picker := Team1
	for i := 0; i < picks; i++ {
		add(picker, Pick)
		add(picker.Other(), SidePick)
		picker = picker.Other()
	}
	team = Team1
	for i := 0; i < bans-opening; i++ {
		add(team, Ban)
		team = team.Other()
	}
	add(Team2, SidePick)
	return steps
}

// ValidateOrder checks a custom order against the structural rules of its format.
func ValidateOrder(format Format, steps []Step, poolSize int) error {
	if !format.Valid() {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidOrder, format)
	}
	if len(steps) == 0 {
		return fmt.Errorf("%w: empty order", ErrInvalidOrder)
	}
	if poolSize <= 0 {
		poolSize = standardPoolSize
	}

	wantBans, wantPicks, wantSides := requiredCounts(format, poolSize)
	var bans, picks, sides int
	pendingPick := false

	for i, step := range steps {
		if step.Number != i+1 {
			return fmt.Errorf("%w: step %d is numbered %d", ErrInvalidOrder, i+1, step.Number)
		}
		if !step.Team.Valid() {
			return fmt.Errorf("%w: step %d has team %q", ErrInvalidOrder, step.Number, step.Team)
		}
		last := i == len(steps)-1

		switch step.Action {
		case Ban:
			bans++
		case Pick:
			if pendingPick {
				return fmt.Errorf("%w: step %d picks before the previous pick got a side", ErrInvalidOrder, step.Number)
			}
			pendingPick = true
			picks++
		case SidePick:
			switch {
			case pendingPick:
				pendingPick = false
			case !last:
				return fmt.Errorf("%w: step %d picks a side with no map to attach to", ErrInvalidOrder, step.Number)
			}
			sides++
		default:
			return fmt.Errorf("%w: step %d has action %q", ErrInvalidOrder, step.Number, step.Action)
		}
	}

	if pendingPick {
		return fmt.Errorf("%w: final pick has no side pick", ErrInvalidOrder)
	}
	if bans != wantBans || picks != wantPicks || sides != wantSides {
		return fmt.Errorf("%w: %s needs %d bans, %d picks, %d side picks (got %d, %d, %d)",
			ErrInvalidOrder, format, wantBans, wantPicks, wantSides, bans, picks, sides)
	}

	final := steps[len(steps)-1]
	if final.Action != SidePick {
		return fmt.Errorf("%w: order must end with a side pick for the decider", ErrInvalidOrder)
	}
	if format == BO1 && final.Team != Team2 {
		return fmt.Errorf("%w: bo1 side pick must be made by team2", ErrInvalidOrder)
	}
	return nil
}

// ResolveStepOrder returns custom when it validates, otherwise the standard order.
// The boolean reports whether the custom order was used. An invalid custom order is
// not an error: the protocol must stay executable.
func ResolveStepOrder(format Format, custom []Step, poolSize int) ([]Step, bool, error) {
	if len(custom) > 0 {
		if err := ValidateOrder(format, custom, poolSize); err == nil {
			return cloneSteps(custom), true, nil
		}
	}
	steps := StandardOrder(format, poolSize)
	if steps == nil {
		return nil, false, fmt.Errorf("%w: %d maps cannot produce a %s veto", ErrInvalidOrder, poolSize, format)
	}
	return steps, false, nil
}

func cloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}
