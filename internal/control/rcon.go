// Package control talks to game servers over Source RCON.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/gorcon/rcon"
)

const pingCommand = "status"

// RCON opens a short-lived connection per command. Commands sent by the scheduler
// are repeatable, so a dropped connection is retried by the next pass rather than
// here.
type RCON struct {
	dialTimeout time.Duration
	deadline    time.Duration
	logger      *slog.Logger
}

func NewRCON(dialTimeout, deadline time.Duration, logger *slog.Logger) *RCON {
	return &RCON{dialTimeout: dialTimeout, deadline: deadline, logger: logger}
}

func (c *RCON) SendCommand(ctx context.Context, server *bracket.Server, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	conn, err := rcon.Dial(server.Address(), server.Password,
		rcon.SetDialTimeout(c.dialTimeout),
		rcon.SetDeadline(c.deadline),
	)
	if err != nil {
		return "", apperr.Transient(err, "server %s unreachable", server.ID)
	}
	defer conn.Close()

	resp, err := conn.Execute(command)
	if err != nil {
		return "", apperr.Transient(err, "command failed on server %s", server.ID)
	}
	c.logger.Debug("rcon command", "server", server.ID, "command", redact(command), "response", strings.TrimSpace(resp))
	return resp, nil
}

// Ping probes liveness with a harmless status query.
func (c *RCON) Ping(ctx context.Context, server *bracket.Server) error {
	if _, err := c.SendCommand(ctx, server, pingCommand); err != nil {
		return fmt.Errorf("ping %s: %w", server.ID, err)
	}
	return nil
}

// redact keeps secrets out of logs: only the command name is logged.
func redact(command string) string {
	var names []string
	for _, part := range strings.Split(command, ";") {
		fields := strings.Fields(part)
		if len(fields) > 0 {
			names = append(names, fields[0])
		}
	}
	return strings.Join(names, "; ")
}
