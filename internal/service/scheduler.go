package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AdamBeresnev/matchday/internal/apperr"
	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/control"
	"github.com/AdamBeresnev/matchday/internal/metrics"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var ErrNoAvailableServers = apperr.New(apperr.KindTransient, "No available servers")

type SchedulerConfig struct {
	BaseURL       string
	WebhookHeader string
	WebhookSecret string
	ConfigToken   string
	DemoUploadURL string
	Commands      control.Commands

	CommandDelay     time.Duration
	ReloadGrace      time.Duration
	PollInterval     time.Duration
	ProbeConcurrency int

	// Whether a failed load releases the claimed server.
	AllocateAllRollback bool
	AllocateOneRollback bool
}

type AllocationResult struct {
	MatchSlug string  `json:"matchSlug"`
	ServerID  *string `json:"serverId,omitempty"`
	Success   bool    `json:"success"`
	Error     string  `json:"error,omitempty"`

	err error
}

func failedAllocation(matchSlug string, serverID *string, err error) AllocationResult {
	return AllocationResult{MatchSlug: matchSlug, ServerID: serverID, Error: err.Error(), err: err}
}

// Scheduler assigns ready matches to idle servers and loads them.
type Scheduler struct {
	matches  *store.MatchStore
	servers  *store.ServerStore
	control  ControlChannel
	notifier Notifier
	stats    StatsResetter
	tasks    *Tasks
	logger   *slog.Logger
	cfg      SchedulerConfig
	now      clock

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	pollers map[string]*poller
	closed  bool
	pollWG  sync.WaitGroup
}

func NewScheduler(
	matches *store.MatchStore,
	servers *store.ServerStore,
	ctrl ControlChannel,
	notifier Notifier,
	stats StatsResetter,
	tasks *Tasks,
	logger *slog.Logger,
	cfg SchedulerConfig,
) *Scheduler {
	if cfg.ProbeConcurrency < 1 {
		cfg.ProbeConcurrency = 1
	}
	if cfg.DemoUploadURL == "" {
		cfg.DemoUploadURL = cfg.BaseURL + "/api/demos"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		matches:  matches,
		servers:  servers,
		control:  ctrl,
		notifier: notifier,
		stats:    stats,
		tasks:    tasks,
		logger:   logger,
		cfg:      cfg,
		now:      utcNow,
		ctx:      ctx,
		cancel:   cancel,
		pollers:  make(map[string]*poller),
	}
}

// ListAvailableServers returns enabled servers that no match holds and that answer
// a probe right now.
func (s *Scheduler) ListAvailableServers(ctx context.Context) ([]bracket.Server, error) {
	enabled, err := s.servers.ListEnabledServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	held, err := s.matches.ActiveServerIDs(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list busy servers: %w", err)
	}
	busy := make(map[string]bool, len(held))
	for _, id := range held {
		busy[id] = true
	}

	var candidates []bracket.Server
	for _, srv := range enabled {
		if !busy[srv.ID] {
			candidates = append(candidates, srv)
		}
	}

	alive := make([]bool, len(candidates))
	var g errgroup.Group
	g.SetLimit(s.cfg.ProbeConcurrency)
	for i := range candidates {
		g.Go(func() error {
			if err := s.control.Ping(ctx, &candidates[i]); err != nil {
				metrics.ServerProbes.WithLabelValues("offline").Inc()
				s.logger.Debug("server did not answer probe", "server", candidates[i].ID, "error", err)
				return nil
			}
			metrics.ServerProbes.WithLabelValues("online").Inc()
			alive[i] = true
			return nil
		})
	}
	_ = g.Wait()

	available := make([]bracket.Server, 0, len(candidates))
	for i, srv := range candidates {
		if alive[i] {
			available = append(available, srv)
		}
	}
	return available, nil
}

func (s *Scheduler) ListReadyMatches(ctx context.Context) ([]bracket.Match, error) {
	return s.matches.ListReadyMatches(ctx, nil)
}

// AllocateAll pairs ready matches with available servers in bracket order. A
// server takes at most one match per pass; the rest are reported as unallocated.
func (s *Scheduler) AllocateAll(ctx context.Context, baseURL string) ([]AllocationResult, error) {
	servers, err := s.ListAvailableServers(ctx)
	if err != nil {
		return nil, err
	}
	ready, err := s.ListReadyMatches(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]AllocationResult, len(ready))
	var g errgroup.Group
	for i := range ready {
		if i >= len(servers) {
			metrics.Allocations.WithLabelValues(allocationOutcome(ErrNoAvailableServers)).Inc()
			results[i] = failedAllocation(ready[i].Slug, nil, ErrNoAvailableServers)
			continue
		}
		g.Go(func() error {
			results[i] = s.allocate(ctx, &ready[i], &servers[i], baseURL, s.cfg.AllocateAllRollback)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("allocation pass finished", "ready", len(ready), "servers", len(servers))
	return results, nil
}

// AllocateOne loads a single ready match on the first server it can claim.
func (s *Scheduler) AllocateOne(ctx context.Context, matchSlug, baseURL string) (AllocationResult, error) {
	match, err := s.matches.GetMatchBySlug(ctx, nil, matchSlug)
	if err != nil {
		return failedAllocation(matchSlug, nil, err), err
	}
	if match.Status != bracket.MatchReady {
		err := apperr.Conflict("match %s is %s, not ready", matchSlug, match.Status)
		return failedAllocation(matchSlug, nil, err), err
	}
	if match.ServerID != nil {
		err := fmt.Errorf("%w: match %s is on %s", store.ErrServerClaimed, matchSlug, *match.ServerID)
		return failedAllocation(matchSlug, match.ServerID, err), err
	}

	servers, err := s.ListAvailableServers(ctx)
	if err != nil {
		return failedAllocation(matchSlug, nil, err), err
	}
	if len(servers) == 0 {
		metrics.Allocations.WithLabelValues(allocationOutcome(ErrNoAvailableServers)).Inc()
		return failedAllocation(matchSlug, nil, ErrNoAvailableServers), ErrNoAvailableServers
	}

	var res AllocationResult
	for i := range servers {
		res = s.allocate(ctx, match, &servers[i], baseURL, s.cfg.AllocateOneRollback)
		// another pass took this server between the probe and the claim
		if res.Success || !errors.Is(res.err, store.ErrServerClaimed) {
			break
		}
	}
	return res, res.err
}

// allocate claims the server before any command goes out, so a crash mid-load
// still shows the server as taken.
func (s *Scheduler) allocate(ctx context.Context, match *bracket.Match, server *bracket.Server, baseURL string, rollback bool) AllocationResult {
	logger := s.logger.With("match", match.Slug, "server", server.ID)

	if err := s.matches.ClaimServer(ctx, nil, match.ID, server.ID); err != nil {
		metrics.Allocations.WithLabelValues(allocationOutcome(err)).Inc()
		return failedAllocation(match.Slug, nil, err)
	}

	seq := s.sequence(match.Slug, baseURL)
	if err := s.load(ctx, server, seq); err != nil {
		metrics.Allocations.WithLabelValues(allocationOutcome(err)).Inc()
		logger.Warn("failed to load match", "error", err, "rollback", rollback)

		serverID := &server.ID
		if rollback {
			// release even when the caller gave up
			if _, rerr := s.matches.ReleaseServer(context.WithoutCancel(ctx), nil, match.ID, server.ID); rerr != nil {
				logger.Error("failed to release server", "error", rerr)
			} else {
				serverID = nil
			}
		}
		s.publish(ctx, match.ID)
		return failedAllocation(match.Slug, serverID, err)
	}

	s.stats.Reset(match.Slug)
	loaded, err := s.matches.MarkLoaded(ctx, nil, match.ID, server.ID, s.now())
	if err == nil && !loaded {
		err = apperr.Conflict("match %s left ready while loading", match.Slug)
	}
	if err != nil {
		metrics.Allocations.WithLabelValues(allocationOutcome(err)).Inc()
		logger.Error("failed to mark match loaded", "error", err)
		return failedAllocation(match.Slug, &server.ID, err)
	}

	metrics.Allocations.WithLabelValues(allocationOutcome(nil)).Inc()
	logger.Info("match loaded")
	s.StopPolling(match.Slug)
	s.publish(ctx, match.ID)

	s.tasks.Go("reapply_config", func(ctx context.Context) error {
		return s.reapply(ctx, match.Slug, server, seq)
	})
	return AllocationResult{MatchSlug: match.Slug, ServerID: &server.ID, Success: true}
}

func (s *Scheduler) sequence(matchSlug, baseURL string) control.LoadSequence {
	return control.LoadSequence{
		Commands:      s.cfg.Commands,
		WebhookURL:    baseURL + "/api/events",
		WebhookHeader: s.cfg.WebhookHeader,
		WebhookSecret: s.cfg.WebhookSecret,
		DemoUploadURL: s.cfg.DemoUploadURL,
		ConfigURL:     baseURL + "/api/matches/" + matchSlug + "/config",
		ConfigToken:   s.cfg.ConfigToken,
	}
}

// load sends the load sequence. The plugin may refuse the match while the RCON
// exchange itself succeeds, so the final response is checked for known failures.
func (s *Scheduler) load(ctx context.Context, server *bracket.Server, seq control.LoadSequence) error {
	steps := seq.Steps()
	for i, cmd := range steps {
		if i > 0 {
			if err := sleep(ctx, s.cfg.CommandDelay); err != nil {
				return err
			}
		}
		resp, err := s.control.SendCommand(ctx, server, cmd)
		if err != nil {
			return fmt.Errorf("load step %d: %w", i+1, err)
		}
		if i == len(steps)-1 {
			if marker, failed := control.DetectFailure(resp); failed {
				return apperr.PluginRejection("server %s rejected the match: %s", server.ID, marker)
			}
		}
	}
	return nil
}

// reapply restores the webhook and demo settings that loading a match resets.
func (s *Scheduler) reapply(ctx context.Context, matchSlug string, server *bracket.Server, seq control.LoadSequence) error {
	if err := sleep(ctx, s.cfg.ReloadGrace); err != nil {
		return nil
	}
	var errs []error
	for _, cmd := range seq.Reapply() {
		if _, err := s.control.SendCommand(ctx, server, cmd); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reapply for match %s on %s: %w", matchSlug, server.ID, err)
	}
	return nil
}

// Dispatch allocates matches that just became ready in the background. Matches
// that find no server are handed to a poller.
func (s *Scheduler) Dispatch(matches ...bracket.Match) {
	if len(matches) == 0 {
		return
	}
	slugs := make([]string, len(matches))
	for i, m := range matches {
		slugs[i] = m.Slug
	}

	s.tasks.Go("dispatch", func(ctx context.Context) error {
		if len(slugs) == 1 {
			_, err := s.AllocateOne(ctx, slugs[0], s.cfg.BaseURL)
			if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
				s.logger.Info("allocation deferred", "match", slugs[0], "error", err)
				s.StartPolling(slugs[0], s.cfg.BaseURL)
			}
			return nil
		}

		results, err := s.AllocateAll(ctx, s.cfg.BaseURL)
		if err != nil {
			for _, slug := range slugs {
				s.StartPolling(slug, s.cfg.BaseURL)
			}
			return err
		}
		for _, r := range results {
			if !r.Success && r.ServerID == nil {
				s.StartPolling(r.MatchSlug, s.cfg.BaseURL)
			}
		}
		return nil
	})
}

// Unload ends every loaded or live match of the tournament on its server. Failures
// are logged and skipped.
func (s *Scheduler) Unload(ctx context.Context, tournamentID uuid.UUID) int {
	active, err := s.matches.GetActiveMatches(ctx, nil, tournamentID)
	if err != nil {
		s.logger.Error("failed to list active matches", "tournament", tournamentID, "error", err)
		return 0
	}

	unloaded := 0
	for _, m := range active {
		server, err := s.servers.GetServer(ctx, *m.ServerID)
		if err != nil {
			s.logger.Warn("cannot unload match", "match", m.Slug, "error", err)
			continue
		}
		if _, err := s.control.SendCommand(ctx, server, s.cfg.Commands.EndMatch); err != nil {
			s.logger.Warn("failed to unload match", "match", m.Slug, "server", server.ID, "error", err)
			continue
		}
		unloaded++
	}
	return unloaded
}

func (s *Scheduler) publish(ctx context.Context, matchID int64) {
	m, err := s.matches.GetMatch(context.WithoutCancel(ctx), nil, matchID)
	if err != nil {
		s.logger.Debug("skipping match notification", "match", matchID, "error", err)
		return
	}
	s.notifier.PublishMatchUpdated(m.TournamentID, m)
}

func allocationOutcome(err error) string {
	switch {
	case err == nil:
		return "loaded"
	case errors.Is(err, ErrNoAvailableServers):
		return "no_server"
	}
	if kind := apperr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
