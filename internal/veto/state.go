package veto

import (
	"fmt"
	"slices"
	"time"
)

type PickedMap struct {
	MapNumber int    `json:"mapNumber"`
	MapName   string `json:"mapName"`
	PickedBy  string `json:"pickedBy"`
	SideTeam1 Side   `json:"sideTeam1,omitempty"`
	SideTeam2 Side   `json:"sideTeam2,omitempty"`
	IsDecider bool   `json:"isDecider"`
}

// HasSides reports whether a starting side has been chosen for the map.
func (p PickedMap) HasSides() bool {
	return p.SideTeam1 != "" && p.SideTeam2 != ""
}

// LoggedAction is an audit entry. Entries are only ever appended.
type LoggedAction struct {
	Step      int       `json:"step"`
	Team      TeamSlot  `json:"team"`
	TeamID    string    `json:"teamId,omitempty"`
	Action    Action    `json:"action"`
	MapName   string    `json:"mapName,omitempty"`
	Side      Side      `json:"side,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type State struct {
	Format        Format         `json:"format"`
	Status        Status         `json:"status"`
	Order         []Step         `json:"order"`
	CurrentStep   int            `json:"currentStep"`
	CurrentTurn   TeamSlot       `json:"currentTurn,omitempty"`
	CurrentAction Action         `json:"currentAction,omitempty"`
	MapPool       []string       `json:"mapPool"`
	AvailableMaps []string       `json:"availableMaps"`
	BannedMaps    []string       `json:"bannedMaps"`
	PickedMaps    []PickedMap    `json:"pickedMaps"`
	Actions       []LoggedAction `json:"actions"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

// Input is one submitted veto action. An empty Team acts for whichever team holds
// the current turn.
type Input struct {
	MapName string
	Side    Side
	Team    TeamSlot
	TeamID  string
}

func NewState(format Format, maps []string, order []Step) *State {
	s := &State{
		Format:        format,
		Status:        StatusPending,
		Order:         cloneSteps(order),
		CurrentStep:   1,
		MapPool:       slices.Clone(maps),
		AvailableMaps: slices.Clone(maps),
		BannedMaps:    []string{},
		PickedMaps:    []PickedMap{},
		Actions:       []LoggedAction{},
	}
	s.syncTurn()
	return s
}

func (s *State) Completed() bool {
	return s != nil && s.Status == StatusCompleted
}

// Current returns the step waiting to be executed.
func (s *State) Current() (Step, bool) {
	if s.CurrentStep < 1 || s.CurrentStep > len(s.Order) {
		return Step{}, false
	}
	return s.Order[s.CurrentStep-1], true
}

func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Order = cloneSteps(s.Order)
	c.MapPool = slices.Clone(s.MapPool)
	c.AvailableMaps = slices.Clone(s.AvailableMaps)
	c.BannedMaps = slices.Clone(s.BannedMaps)
	c.PickedMaps = slices.Clone(s.PickedMaps)
	c.Actions = slices.Clone(s.Actions)
	return &c
}

// Apply validates and executes the current step. On error the state is unchanged.
func (s *State) Apply(in Input, now time.Time) error {
	if s.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	step, ok := s.Current()
	if !ok {
		return fmt.Errorf("%w: current step %d outside order of %d", ErrCorruptState, s.CurrentStep, len(s.Order))
	}
	if in.Team != "" && in.Team != step.Team {
		return fmt.Errorf("%w: step %d belongs to %s", ErrWrongTurn, step.Number, step.Team)
	}

	next := s.Clone()
	entry := LoggedAction{
		Step:      step.Number,
		Team:      step.Team,
		TeamID:    in.TeamID,
		Action:    step.Action,
		Timestamp: now,
	}

	switch step.Action {
	case Ban, Pick:
		idx := slices.Index(next.AvailableMaps, in.MapName)
		if in.MapName == "" || idx < 0 {
			return fmt.Errorf("%w: %q", ErrInvalidMap, in.MapName)
		}
		next.AvailableMaps = slices.Delete(next.AvailableMaps, idx, idx+1)
		entry.MapName = in.MapName
		if step.Action == Ban {
			next.BannedMaps = append(next.BannedMaps, in.MapName)
		} else {
			next.PickedMaps = append(next.PickedMaps, PickedMap{
				MapNumber: len(next.PickedMaps) + 1,
				MapName:   in.MapName,
				PickedBy:  in.TeamID,
			})
		}

	case SidePick:
		if !in.Side.Valid() {
			return fmt.Errorf("%w: side %q", ErrInvalidSide, in.Side)
		}
		foldDecider := step.Number == len(next.Order) && len(next.AvailableMaps) == 1
		if !foldDecider && len(next.PickedMaps) == 0 {
			return fmt.Errorf("%w: no picked map to attach a side to", ErrInvalidSide)
		}
		if foldDecider {
			next.appendDecider()
		}
		target := &next.PickedMaps[len(next.PickedMaps)-1]
		if step.Team == Team1 {
			target.SideTeam1, target.SideTeam2 = in.Side, in.Side.Opposite()
		} else {
			target.SideTeam2, target.SideTeam1 = in.Side, in.Side.Opposite()
		}
		entry.MapName = target.MapName
		entry.Side = in.Side
	}

	next.Actions = append(next.Actions, entry)
	if next.Status == StatusPending {
		next.Status = StatusInProgress
		started := now
		next.StartedAt = &started
	}
	next.CurrentStep++
	if next.CurrentStep > len(next.Order) {
		next.Status = StatusCompleted
		completed := now
		next.CompletedAt = &completed
		if len(next.AvailableMaps) == 1 {
			next.appendDecider()
		}
	}
	next.syncTurn()

	if err := next.Validate(); err != nil {
		return err
	}
	*s = *next
	return nil
}

func (s *State) appendDecider() {
	s.PickedMaps = append(s.PickedMaps, PickedMap{
		MapNumber: len(s.PickedMaps) + 1,
		MapName:   s.AvailableMaps[0],
		PickedBy:  DeciderPicker,
		IsDecider: true,
	})
	s.AvailableMaps = s.AvailableMaps[:0]
}

func (s *State) syncTurn() {
	if step, ok := s.Current(); ok && s.Status != StatusCompleted {
		s.CurrentTurn = step.Team
		s.CurrentAction = step.Action
		return
	}
	s.CurrentTurn = ""
	s.CurrentAction = ""
}

// Validate checks that available, banned and picked maps partition the pool and
// that no more maps were picked than the format plays.
func (s *State) Validate() error {
	seen := make(map[string]int, len(s.MapPool))
	for _, m := range s.MapPool {
		seen[m] = 0
	}
	mark := func(name, where string) error {
		n, ok := seen[name]
		if !ok {
			return fmt.Errorf("%w: %s map %q is not in the pool", ErrCorruptState, where, name)
		}
		if n > 0 {
			return fmt.Errorf("%w: map %q appears more than once", ErrCorruptState, name)
		}
		seen[name] = 1
		return nil
	}
	for _, m := range s.AvailableMaps {
		if err := mark(m, "available"); err != nil {
			return err
		}
	}
	for _, m := range s.BannedMaps {
		if err := mark(m, "banned"); err != nil {
			return err
		}
	}
	for _, p := range s.PickedMaps {
		if err := mark(p.MapName, "picked"); err != nil {
			return err
		}
	}
	for name, n := range seen {
		if n == 0 {
			return fmt.Errorf("%w: map %q was lost", ErrCorruptState, name)
		}
	}
	if len(s.PickedMaps) > s.Format.MapCount() {
		return fmt.Errorf("%w: %d maps picked for %s", ErrCorruptState, len(s.PickedMaps), s.Format)
	}
	return nil
}
