package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/control"
	"github.com/AdamBeresnev/matchday/internal/livestats"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/AdamBeresnev/matchday/internal/veto"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

type fakeControl struct {
	mu      sync.Mutex
	offline map[string]bool
	sendErr map[string]error
	reject  map[string]bool
	sent    map[string][]string
	pings   map[string]int
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		offline: make(map[string]bool),
		sendErr: make(map[string]error),
		reject:  make(map[string]bool),
		sent:    make(map[string][]string),
		pings:   make(map[string]int),
	}
}

func (f *fakeControl) SendCommand(_ context.Context, server *bracket.Server, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.sendErr[server.ID]; err != nil {
		return "", err
	}
	f.sent[server.ID] = append(f.sent[server.ID], command)
	if f.reject[server.ID] && strings.HasPrefix(command, "matchzy_loadmatch_url") {
		return "[MatchZy] Failed to load match config", nil
	}
	return "", nil
}

func (f *fakeControl) Ping(_ context.Context, server *bracket.Server) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings[server.ID]++
	if f.offline[server.ID] {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeControl) commands(serverID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent[serverID])
}

func (f *fakeControl) probes(serverID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings[serverID]
}

func (f *fakeControl) setOffline(serverID string, offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline[serverID] = offline
}

type fakeNotifier struct {
	mu       sync.Mutex
	matches  []string
	brackets int
}

func (n *fakeNotifier) PublishMatchUpdated(_ uuid.UUID, match *bracket.Match) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.matches = append(n.matches, match.Slug)
}

func (n *fakeNotifier) PublishBracketUpdated(uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.brackets++
}

func (n *fakeNotifier) bracketUpdates() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.brackets
}

type harness struct {
	db          *sqlx.DB
	tournaments *store.TournamentStore
	matches     *store.MatchStore
	teams       *store.TeamStore
	servers     *store.ServerStore
	control     *fakeControl
	notifier    *fakeNotifier
	stats       *livestats.Store
	tasks       *Tasks
	scheduler   *Scheduler
	progression *Progression
	vetoes      *VetoService
	service     *TournamentService
	events      *EventService
}

func testSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseURL:             "http://orchestrator.test",
		WebhookHeader:       "X-MatchZy-Token",
		WebhookSecret:       "hook-secret",
		ConfigToken:         "config-token",
		Commands:            control.DefaultCommands(),
		PollInterval:        20 * time.Millisecond,
		ProbeConcurrency:    4,
		AllocateAllRollback: false,
		AllocateOneRollback: true,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		db:          db,
		tournaments: store.NewTournamentStore(db),
		matches:     store.NewMatchStore(db),
		teams:       store.NewTeamStore(db),
		servers:     store.NewServerStore(db),
		control:     newFakeControl(),
		notifier:    &fakeNotifier{},
		stats:       livestats.New(time.Hour),
		tasks:       NewTasks(logger),
	}
	h.scheduler = NewScheduler(h.matches, h.servers, h.control, h.notifier, h.stats, h.tasks, logger, testSchedulerConfig())
	generator := NewBracketGeneration()
	h.progression = NewProgression(db, h.tournaments, h.matches, h.teams, generator, h.scheduler, h.notifier, logger)
	h.vetoes = NewVetoService(db, h.tournaments, h.matches, h.teams, h.scheduler, h.notifier, logger)
	h.service = NewTournamentService(db, h.tournaments, h.matches, h.teams, generator, h.progression, h.scheduler, h.notifier, logger, "http://orchestrator.test")
	h.events = NewEventService(h.matches, h.progression, h.stats, h.tasks, h.notifier, logger)

	t.Cleanup(func() {
		h.scheduler.Close()
		h.tasks.Close()
		db.Close()
	})
	return h
}

func (h *harness) addTeams(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, h.teams.CreateTeam(context.Background(), &bracket.Team{
			ID:   id,
			Name: strings.ToUpper(id[:1]) + id[1:],
			Tag:  strings.ToUpper(id),
		}))
	}
}

func (h *harness) addServers(t *testing.T, ids ...string) {
	t.Helper()
	for i, id := range ids {
		require.NoError(t, h.servers.CreateServer(context.Background(), &bracket.Server{
			ID:       id,
			Name:     "Server " + id,
			Host:     "10.0.0.1",
			Port:     27015 + i,
			Password: "rcon",
			Enabled:  true,
		}))
	}
}

// tournament creates teams, the tournament and its bracket.
func (h *harness) tournament(t *testing.T, in TournamentInput) *bracket.Tournament {
	t.Helper()
	ctx := context.Background()

	h.addTeams(t, in.TeamIDs...)
	if in.Name == "" {
		in.Name = "Cup"
	}
	if in.Format == "" {
		in.Format = veto.BO1
	}
	tour, err := h.service.CreateTournament(ctx, in)
	require.NoError(t, err)
	_, err = h.service.CreateBracket(ctx, tour.ID)
	require.NoError(t, err)

	tour, err = h.tournaments.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)
	return tour
}

func (h *harness) match(t *testing.T, tournamentID uuid.UUID, slug string) *bracket.Match {
	t.Helper()
	m, err := h.matches.GetTournamentMatchBySlug(context.Background(), nil, tournamentID, slug)
	require.NoError(t, err)
	return m
}

// loadMatch moves a ready match onto a server the way a successful allocation does.
func (h *harness) loadMatch(t *testing.T, m *bracket.Match, serverID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.matches.ClaimServer(ctx, nil, m.ID, serverID))
	ok, err := h.matches.MarkLoaded(ctx, nil, m.ID, serverID, genTime)
	require.NoError(t, err)
	require.True(t, ok)
}

var cs2Maps = []string{"mirage", "inferno", "nuke", "ancient", "anubis", "dust2", "train"}
