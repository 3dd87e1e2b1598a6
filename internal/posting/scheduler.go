// Package posting publishes one generated post per scheduled slot.
package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sky-agent/internal/brain"
	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"
	"sky-agent/internal/follow"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
)

const (
	historySize      = 5
	defaultRetryWait = time.Hour
	defaultMaxRounds = 3
)

var postsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sky_agent_posts_total",
	Help: "Post attempts by outcome.",
}, []string{"outcome"})

// ParseSchedule parses a five-field cron expression evaluated in loc.
func ParseSchedule(expr string, loc *time.Location) (cron.Schedule, error) {
	if loc != nil {
		expr = "CRON_TZ=" + loc.String() + " " + expr
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse post schedule %q: %w", expr, err)
	}
	return sched, nil
}

type Scheduler struct {
	Brain    ports.Brain
	Remote   *follow.Remote
	History  ports.PostHistory
	Approver ports.Interaction // optional
	Schedule cron.Schedule
	Clock    follow.Clock
	Logger   *slog.Logger

	SystemPrompt string
	UserPrompt   string
	// RetryWait is slept after a failed generation before trying again.
	RetryWait time.Duration
	// MaxRounds bounds how many drafts the approver can ask for.
	MaxRounds int
}

// Run publishes at every scheduled slot until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.Clock.Now()
		next := s.Schedule.Next(now)
		s.Logger.Info("next post scheduled", "at", next.Format(time.RFC3339), "wait", next.Sub(now).Round(time.Second))
		if err := s.Clock.Sleep(ctx, next.Sub(now)); err != nil {
			return err
		}
		if err := s.publishSlot(ctx); err != nil {
			return err
		}
	}
}

// publishSlot retries failed generations every RetryWait. Other failures are
// logged and the slot is given up.
func (s *Scheduler) publishSlot(ctx context.Context) error {
	for {
		_, err := s.PublishOnce(ctx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, domain.ErrGenerationFailed):
			s.Logger.Warn("post generation failed, retrying later", "error", err, "retry_in", s.retryWait())
			if err := s.Clock.Sleep(ctx, s.retryWait()); err != nil {
				return err
			}
		default:
			s.Logger.Error("daily post failed", "error", err)
			return nil
		}
	}
}

// PublishOnce generates, optionally confirms, publishes and records one post.
// It returns a nil post when the approver skipped it.
func (s *Scheduler) PublishOnce(ctx context.Context) (*domain.PublishedPost, error) {
	if s.Brain == nil {
		return nil, errors.New("no text generator configured")
	}

	text, err := s.draft(ctx)
	if err != nil {
		return nil, err
	}
	if text == "" {
		postsTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}

	uri, err := s.Remote.Publish(ctx, text)
	if err != nil {
		postsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("publish post: %w", err)
	}

	post := domain.PublishedPost{
		ID:          uuid.NewString(),
		Text:        text,
		URI:         uri,
		PublishedAt: s.Clock.Now(),
	}
	postsTotal.WithLabelValues("published").Inc()
	s.Logger.Info("posted successfully", "uri", uri, "chars", len([]rune(text)))

	if err := s.History.SavePost(ctx, post); err != nil {
		return &post, fmt.Errorf("save published post: %w", err)
	}
	return &post, nil
}

// draft returns the text to publish, or "" when the approver declined.
func (s *Scheduler) draft(ctx context.Context) (string, error) {
	history := s.recentTexts(ctx)

	for round := 1; ; round++ {
		text, err := s.Brain.Generate(ctx, s.SystemPrompt, s.UserPrompt, history)
		if err != nil {
			postsTotal.WithLabelValues("generation_failed").Inc()
			if errors.Is(err, domain.ErrGenerationFailed) {
				return "", err
			}
			return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
		}
		text = brain.Truncate(text)
		if text == "" {
			postsTotal.WithLabelValues("generation_failed").Inc()
			return "", fmt.Errorf("%w: empty text", domain.ErrGenerationFailed)
		}
		if s.Approver == nil {
			return text, nil
		}

		title := fmt.Sprintf("🚀 New post for approval (draft %d/%d)", round, s.maxRounds())
		action, err := s.Approver.Confirm(ctx, title, text)
		if err != nil {
			return "", fmt.Errorf("post approval: %w", err)
		}
		switch action {
		case ports.ActionApprove:
			return text, nil
		case ports.ActionRegenerate:
			if round >= s.maxRounds() {
				s.Logger.Info("post not approved after max drafts", "rounds", round)
				return "", nil
			}
			s.Logger.Info("post draft rejected, regenerating", "round", round)
		default:
			s.Logger.Info("post skipped by approver")
			return "", nil
		}
	}
}

func (s *Scheduler) recentTexts(ctx context.Context) []string {
	posts, err := s.History.RecentPosts(ctx, historySize)
	if err != nil {
		s.Logger.Warn("failed to load post history", "error", err)
		return nil
	}
	texts := make([]string, 0, len(posts))
	for _, p := range posts {
		texts = append(texts, p.Text)
	}
	return texts
}

func (s *Scheduler) retryWait() time.Duration {
	if s.RetryWait > 0 {
		return s.RetryWait
	}
	return defaultRetryWait
}

func (s *Scheduler) maxRounds() int {
	if s.MaxRounds > 0 {
		return s.MaxRounds
	}
	return defaultMaxRounds
}
