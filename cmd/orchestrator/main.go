package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdamBeresnev/matchday/internal/config"
	"github.com/AdamBeresnev/matchday/internal/control"
	"github.com/AdamBeresnev/matchday/internal/db"
	"github.com/AdamBeresnev/matchday/internal/livestats"
	"github.com/AdamBeresnev/matchday/internal/notify"
	"github.com/AdamBeresnev/matchday/internal/service"
	"github.com/AdamBeresnev/matchday/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.Redacted())

	if err := run(cfg, logger); err != nil {
		logger.Error("orchestrator stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.InitDB(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(database.DB, cfg.MigrationsURL); err != nil {
		return err
	}

	hub := notify.NewHub(logger)
	go hub.Run(ctx)

	tournaments := store.NewTournamentStore(database)
	matches := store.NewMatchStore(database)
	teams := store.NewTeamStore(database)
	servers := store.NewServerStore(database)

	stats := livestats.New(cfg.LiveStatsTTL)
	tasks := service.NewTasks(logger)
	rcon := control.NewRCON(cfg.RCONDialTimeout, cfg.RCONDeadline, logger)

	scheduler := service.NewScheduler(matches, servers, rcon, hub, stats, tasks, logger, service.SchedulerConfig{
		BaseURL:             cfg.BaseURL,
		WebhookHeader:       cfg.WebhookHeader,
		WebhookSecret:       cfg.WebhookSecret,
		ConfigToken:         cfg.ConfigToken,
		DemoUploadURL:       cfg.DemoUploadURL,
		Commands:            cfg.ControlCommands(),
		CommandDelay:        cfg.CommandDelay,
		ReloadGrace:         cfg.ReloadGrace,
		PollInterval:        cfg.PollInterval,
		ProbeConcurrency:    cfg.ProbeConcurrency,
		AllocateAllRollback: cfg.AllocateAllRollback,
		AllocateOneRollback: cfg.AllocateOneRollback,
	})
	generator := service.NewBracketGeneration()
	progression := service.NewProgression(database, tournaments, matches, teams, generator, scheduler, hub, logger)

	app := &application{
		cfg:         cfg,
		hub:         hub,
		teams:       teams,
		servers:     servers,
		scheduler:   scheduler,
		progression: progression,
		vetoes:      service.NewVetoService(database, tournaments, matches, teams, scheduler, hub, logger),
		tournaments: service.NewTournamentService(database, tournaments, matches, teams, generator, progression, scheduler, hub, logger, cfg.BaseURL),
		events:      service.NewEventService(matches, progression, stats, tasks, hub, logger),
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	// pollers first, so nothing new lands on the task runner while it drains
	scheduler.Close()
	tasks.Close()
	return nil
}
