package service

import (
	"context"
	"time"

	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/google/uuid"
)

// ControlChannel sends console commands to a game server.
type ControlChannel interface {
	SendCommand(ctx context.Context, server *bracket.Server, command string) (string, error)
	Ping(ctx context.Context, server *bracket.Server) error
}

// Notifier tells connected clients to refresh. It is never used for correctness.
type Notifier interface {
	PublishMatchUpdated(tournamentID uuid.UUID, match *bracket.Match)
	PublishBracketUpdated(tournamentID uuid.UUID)
}

type StatsResetter interface {
	Reset(matchSlug string)
}

// Dispatcher hands matches that just became ready to the scheduler.
type Dispatcher interface {
	Dispatch(matches ...bracket.Match)
	StopPolling(matchSlug string) bool
}

type clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}
