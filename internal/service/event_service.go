package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/livestats"
	"github.com/AdamBeresnev/matchday/internal/metrics"
	"github.com/AdamBeresnev/matchday/internal/store"
)

// MatchZy event names the orchestrator reacts to.
const (
	EventGoingLive = "going_live"
	EventRoundEnd  = "round_end"
	EventMapResult = "map_result"
	EventSeriesEnd = "series_end"
)

// EventMatchID accepts the match id as a JSON number or a numeric string.
type EventMatchID int64

func (id *EventMatchID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("matchid %q is not numeric", b)
	}
	*id = EventMatchID(n)
	return nil
}

type EventTeam struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type EventWinner struct {
	Side string `json:"side"`
	Team string `json:"team"`
}

// Event is the union of the MatchZy webhook payloads that are consumed.
type Event struct {
	Event     string       `json:"event"`
	MatchID   EventMatchID `json:"matchid"`
	MapNumber int          `json:"map_number"`
	Round     int          `json:"round_number"`
	Team1     EventTeam    `json:"team1"`
	Team2     EventTeam    `json:"team2"`
	Winner    EventWinner  `json:"winner"`
}

type EventService struct {
	matches     *store.MatchStore
	progression *Progression
	stats       *livestats.Store
	tasks       *Tasks
	notifier    Notifier
	logger      *slog.Logger
	now         clock
}

func NewEventService(
	matches *store.MatchStore,
	progression *Progression,
	stats *livestats.Store,
	tasks *Tasks,
	notifier Notifier,
	logger *slog.Logger,
) *EventService {
	return &EventService{
		matches:     matches,
		progression: progression,
		stats:       stats,
		tasks:       tasks,
		notifier:    notifier,
		logger:      logger,
		now:         utcNow,
	}
}

// Handle applies a game server event. Series results are progressed in the
// background so the game server gets its acknowledgement right away.
func (s *EventService) Handle(ctx context.Context, ev Event) error {
	metrics.Events.WithLabelValues(eventLabel(ev.Event)).Inc()

	switch ev.Event {
	case EventGoingLive, EventRoundEnd, EventMapResult, EventSeriesEnd:
	default:
		s.logger.Debug("ignoring event", "event", ev.Event, "matchid", ev.MatchID)
		return nil
	}

	match, err := s.matches.GetMatch(ctx, nil, int64(ev.MatchID))
	if err != nil {
		return err
	}
	logger := s.logger.With("match", match.Slug, "event", ev.Event)

	switch ev.Event {
	case EventGoingLive:
		live, err := s.matches.MarkLive(ctx, nil, match.ID)
		if err != nil {
			return err
		}
		if !live {
			logger.Info("going live ignored", "status", match.Status)
			return nil
		}
		match.Status = bracket.MatchLive
		s.notifier.PublishMatchUpdated(match.TournamentID, match)

	case EventRoundEnd, EventMapResult:
		st := s.stats.RecordRound(match.Slug, livestats.RoundEnd{
			MapNumber:  ev.MapNumber,
			Round:      ev.Round,
			Team1Score: ev.Team1.Score,
			Team2Score: ev.Team2.Score,
		}, s.now())
		logger.Debug("score updated", "map", st.MapNumber, "round", st.Round, "team1", st.Team1Score, "team2", st.Team2Score)
		s.notifier.PublishMatchUpdated(match.TournamentID, match)

	case EventSeriesEnd:
		winner, err := seriesWinner(match, ev.Winner.Team)
		if err != nil {
			return err
		}
		logger.Info("series ended", "winner", winner)
		slug := match.Slug
		s.tasks.Go("match_completed", func(ctx context.Context) error {
			return s.progression.HandleMatchCompleted(ctx, slug, winner)
		})
	}
	return nil
}

func (s *EventService) LiveStats(ctx context.Context, matchSlug string) (livestats.Stats, error) {
	if _, err := s.matches.GetMatchBySlug(ctx, nil, matchSlug); err != nil {
		return livestats.Stats{}, err
	}
	st, ok := s.stats.Get(matchSlug)
	if !ok {
		return livestats.Stats{}, apperr.NotFound("no live stats for match %s", matchSlug)
	}
	return st, nil
}

// seriesWinner maps the winning slot onto a team id. A draw or an unknown slot
// completes the match without a winner.
func seriesWinner(match *bracket.Match, slot string) (*string, error) {
	switch slot {
	case "team1":
		return match.Team1ID, nil
	case "team2":
		return match.Team2ID, nil
	case "", "none":
		return nil, nil
	}
	return nil, apperr.Validation("unknown winner %q", slot)
}

func eventLabel(name string) string {
	switch name {
	case EventGoingLive, EventRoundEnd, EventMapResult, EventSeriesEnd:
		return name
	}
	return "other"
}

// DecodeEvent reads a webhook body.
func DecodeEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, apperr.Validation("invalid event payload: %v", err)
	}
	return ev, nil
}
