package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"

	"google.golang.org/genai"
)

type modelConfig struct {
	Name string
	RPM  int
	RPD  int
}

// GeminiBrain tries each model in order, skipping those whose free-tier
// request budget is spent.
type GeminiBrain struct {
	Client *genai.Client
	Models []modelConfig
	logger *slog.Logger
	now    func() time.Time

	dailyCount   map[string]int
	minuteCount  map[string]int
	lastResetDay time.Time
	lastResetMin time.Time
	mu           sync.Mutex
}

func defaultModels() []modelConfig {
	return []modelConfig{
		{Name: "gemini-2.5-flash", RPM: 10, RPD: 250},
		{Name: "gemini-2.5-flash-lite", RPM: 15, RPD: 1000},
	}
}

func NewGeminiBrain(ctx context.Context, apiKey string, logger *slog.Logger) (*GeminiBrain, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	return newGeminiBrain(client, defaultModels(), time.Now, logger), nil
}

func newGeminiBrain(client *genai.Client, models []modelConfig, now func() time.Time, logger *slog.Logger) *GeminiBrain {
	return &GeminiBrain{
		Client:       client,
		Models:       models,
		logger:       logger,
		now:          now,
		dailyCount:   make(map[string]int),
		minuteCount:  make(map[string]int),
		lastResetDay: now(),
		lastResetMin: now(),
	}
}

var _ ports.Brain = (*GeminiBrain)(nil)

func (b *GeminiBrain) Generate(ctx context.Context, systemPrompt, userPrompt string, history []string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.7),
		MaxOutputTokens:   300,
	}
	prompt := ComposeUserPrompt(userPrompt, history)

	var lastErr error
	for _, cfg := range b.Models {
		if !b.canUseModel(cfg) {
			continue
		}

		result, err := b.Client.Models.GenerateContent(ctx, cfg.Name, genai.Text(prompt), config)
		if err != nil {
			if isFallbackError(err) {
				b.logger.Warn("gemini model unavailable, trying next", "model", cfg.Name, "error", err)
				lastErr = err
				continue
			}
			return "", fmt.Errorf("%w: gemini %s: %v", domain.ErrGenerationFailed, cfg.Name, err)
		}

		b.recordUsage(cfg)
		if text := Truncate(result.Text()); text != "" {
			return text, nil
		}
		lastErr = fmt.Errorf("%s returned empty content", cfg.Name)
	}

	if lastErr == nil {
		lastErr = errors.New("all models over their request budget")
	}
	return "", fmt.Errorf("%w: all gemini models failed: %v", domain.ErrGenerationFailed, lastErr)
}

func isFallbackError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == 429 || apiErr.Code == 404) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "exhausted") || strings.Contains(errStr, "404") ||
		strings.Contains(errStr, "not found")
}

func (b *GeminiBrain) canUseModel(cfg modelConfig) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if now.YearDay() != b.lastResetDay.YearDay() || now.Year() != b.lastResetDay.Year() {
		b.dailyCount = make(map[string]int)
		b.lastResetDay = now
	}
	if now.Sub(b.lastResetMin) >= time.Minute {
		b.minuteCount = make(map[string]int)
		b.lastResetMin = now
	}
	if b.dailyCount[cfg.Name] >= cfg.RPD {
		return false
	}
	if b.minuteCount[cfg.Name] >= cfg.RPM {
		return false
	}
	return true
}

func (b *GeminiBrain) recordUsage(cfg modelConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dailyCount[cfg.Name]++
	b.minuteCount[cfg.Name]++
}
