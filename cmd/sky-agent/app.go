package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"sky-agent/internal/brain"
	"sky-agent/internal/config"
	"sky-agent/internal/core/ports"
	"sky-agent/internal/follow"
	"sky-agent/internal/logging"
	"sky-agent/internal/posting"
	"sky-agent/internal/sites/bluesky"
	"sky-agent/internal/storage"
	"sky-agent/internal/ui/telegram"
)

// app holds what every command shares: settings, logger, store and, once
// logged in, the remote client.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	closers []io.Closer
	store   ports.Store
	backend string
	remote  *follow.Remote
	clock   follow.SystemClock
}

func setup(ctx context.Context, login bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if login {
		if err := cfg.RequireCredentials(); err != nil {
			return nil, err
		}
	}

	logger, logCloser, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	store, backend, err := storage.Open(ctx, cfg.DatabaseURL, cfg.DBPath)
	if err != nil {
		logger.Error("database initialization failed", "error", err)
		a.Close()
		return nil, err
	}
	a.store, a.backend = store, backend
	a.closers = append([]io.Closer{store}, a.closers...)
	logger.Info("database initialized", "storage", backend)

	if !login {
		return a, nil
	}

	client, err := bluesky.NewClient(bluesky.Options{Host: cfg.Host, RatePerSec: cfg.APIRatePerSec}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.remote = follow.NewRemote(client, follow.DefaultPolicies(), logger)
	if err := a.remote.Login(ctx, cfg.Handle, cfg.Password); err != nil {
		a.Close()
		return nil, fmt.Errorf("login: %w", err)
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (a *app) newRateController() (*follow.RateController, error) {
	lo, hi := a.cfg.DelayRange()
	rate := follow.NewRateController(a.cfg.DailyFollowLimit, lo, hi, a.clock.Now())
	if a.cfg.StateFile == "" {
		return rate, nil
	}
	sf, err := storage.NewStateFile(a.cfg.StateFile)
	if err != nil {
		return nil, err
	}
	if err := rate.Persist(sf, a.logger); err != nil {
		return nil, fmt.Errorf("load cycle state: %w", err)
	}
	return rate, nil
}

func (a *app) newSweeper() *follow.Sweeper {
	return &follow.Sweeper{
		Ledger:   a.store,
		Remote:   a.remote,
		Cooldown: a.cfg.UnfollowAfter(),
		Clock:    a.clock,
		Logger:   a.logger,
	}
}

func (a *app) newDriver() (*follow.Driver, error) {
	rate, err := a.newRateController()
	if err != nil {
		return nil, err
	}
	return follow.NewDriver(follow.Deps{
		Remote:  a.remote,
		Filter:  follow.NewFilter(a.cfg.RequiredTerms, a.cfg.ExcludeUnfollowed, a.store, a.logger),
		Rate:    rate,
		Sweeper: a.newSweeper(),
		Ledger:  a.store,
		Clock:   a.clock,
		Logger:  a.logger,
	}, follow.DefaultDriverConfig()), nil
}

// newBrain prefers OpenAI, then Gemini. It returns nil when neither is configured.
func (a *app) newBrain(ctx context.Context) ports.Brain {
	if a.cfg.OpenAIKey != "" {
		b, err := brain.NewOpenAIBrain(a.cfg.OpenAIKey, a.cfg.OpenAIModel, "", a.logger)
		if err == nil {
			return b
		}
		a.logger.Error("openai brain unavailable", "error", err)
	}
	if a.cfg.GeminiKey != "" {
		b, err := brain.NewGeminiBrain(ctx, a.cfg.GeminiKey, a.logger)
		if err == nil {
			return b
		}
		a.logger.Error("gemini brain unavailable", "error", err)
	}
	return nil
}

func (a *app) newScheduler(ctx context.Context, gen ports.Brain) (*posting.Scheduler, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("post timezone: %w", err)
	}
	schedule, err := posting.ParseSchedule(a.cfg.PostSchedule, loc)
	if err != nil {
		return nil, err
	}

	sched := &posting.Scheduler{
		Brain:        gen,
		Remote:       a.remote,
		History:      a.store,
		Schedule:     schedule,
		Clock:        a.clock,
		Logger:       a.logger,
		SystemPrompt: a.cfg.SystemPrompt,
		UserPrompt:   a.cfg.UserPrompt,
	}
	if a.cfg.TelegramToken != "" && a.cfg.TelegramChatID != "" {
		ui, err := telegram.NewTelegramUI(ctx, a.cfg.TelegramToken, a.cfg.TelegramChatID, a.logger)
		if err != nil {
			a.logger.Warn("telegram approval unavailable, posting without it", "error", err)
		} else {
			ui.Timeout = a.cfg.ApprovalTimeout
			sched.Approver = ui
			a.logger.Info("telegram approval enabled", "timeout", a.cfg.ApprovalTimeout)
		}
	}
	return sched, nil
}
