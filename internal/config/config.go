// Package config loads agent settings from .env, an optional YAML file and
// the process environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable pointing at the YAML file.
const ConfigFileEnv = "SKY_AGENT_CONFIG"

const (
	DefaultSystemPrompt = "You are a creative social media assistant specializing in engaging Bluesky posts."
	DefaultUserPrompt   = "Create a daily inspirational post about productivity. Include 2 mental health hashtags."
)

type Config struct {
	Handle   string `yaml:"handle"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`

	DailyFollowLimit  int      `yaml:"daily_follow_limit"`
	FollowDelayMin    int      `yaml:"follow_delay_min"` // seconds
	FollowDelayMax    int      `yaml:"follow_delay_max"` // seconds
	UnfollowAfterDays int      `yaml:"unfollow_after_days"`
	RequiredTerms     []string `yaml:"required_terms"`
	ExcludeUnfollowed bool     `yaml:"exclude_unfollowed"`

	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`
	StateFile   string `yaml:"state_file"`

	PostSchedule string `yaml:"post_schedule"`
	PostTimezone string `yaml:"post_timezone"`
	SystemPrompt string `yaml:"system_prompt"`
	UserPrompt   string `yaml:"user_prompt"`

	OpenAIKey   string `yaml:"openai_api_key"`
	OpenAIModel string `yaml:"openai_model"`
	GeminiKey   string `yaml:"gemini_api_key"`

	TelegramToken  string `yaml:"telegram_bot_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`

	// ApprovalTimeout is how long a post waits for the operator before it
	// is published unreviewed. Zero waits forever.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`

	APIRatePerSec        float64       `yaml:"api_rate_per_sec"`
	MaxWorkerRestarts    int           `yaml:"max_worker_restarts"`
	WorkerRestartBackoff time.Duration `yaml:"worker_restart_backoff"`
}

// Default returns the settings the agent runs with when nothing overrides them.
func Default() Config {
	return Config{
		Host:                 "https://bsky.social",
		DailyFollowLimit:     20,
		FollowDelayMin:       60,
		FollowDelayMax:       4320,
		UnfollowAfterDays:    5,
		RequiredTerms:        []string{"bsky", "sky"},
		DBPath:               "data/sky_agent.db",
		PostSchedule:         "0 9 * * *",
		PostTimezone:         "Asia/Kolkata",
		SystemPrompt:         DefaultSystemPrompt,
		UserPrompt:           DefaultUserPrompt,
		OpenAIModel:          "gpt-3.5-turbo",
		LogFile:              "sky_agent.log",
		LogLevel:             "info",
		APIRatePerSec:        2,
		WorkerRestartBackoff: 10 * time.Second,
		ApprovalTimeout:      time.Hour,
	}
}

// Load reads .env (if present), the YAML file named by SKY_AGENT_CONFIG (if
// set) and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("BLUESKY_HANDLE", &c.Handle)
	str("BLUESKY_PASSWORD", &c.Password)
	str("BLUESKY_HOST", &c.Host)
	num("DAILY_FOLLOW_LIMIT", &c.DailyFollowLimit)
	num("FOLLOW_DELAY_MIN", &c.FollowDelayMin)
	num("FOLLOW_DELAY_MAX", &c.FollowDelayMax)
	num("UNFOLLOW_AFTER_DAYS", &c.UnfollowAfterDays)
	if v, ok := lookup("REQUIRED_TERMS"); ok && v != "" {
		c.RequiredTerms = splitTerms(v)
	}
	if v, ok := lookup("EXCLUDE_UNFOLLOWED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("EXCLUDE_UNFOLLOWED: %w", err))
		} else {
			c.ExcludeUnfollowed = b
		}
	}
	str("DB_PATH", &c.DBPath)
	str("DATABASE_URL", &c.DatabaseURL)
	str("STATE_FILE", &c.StateFile)
	str("POST_SCHEDULE", &c.PostSchedule)
	str("POST_TIMEZONE", &c.PostTimezone)
	str("SYSTEM_PROMPT", &c.SystemPrompt)
	str("USER_PROMPT", &c.UserPrompt)
	str("OPENAI_API_KEY", &c.OpenAIKey)
	str("OPENAI_MODEL", &c.OpenAIModel)
	str("GEMINI_API_KEY", &c.GeminiKey)
	str("TELEGRAM_BOT_TOKEN", &c.TelegramToken)
	str("TELEGRAM_CHAT_ID", &c.TelegramChatID)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("LOG_FILE", &c.LogFile)
	str("LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup("API_RATE_PER_SEC"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("API_RATE_PER_SEC: %w", err))
		} else {
			c.APIRatePerSec = f
		}
	}
	num("MAX_WORKER_RESTARTS", &c.MaxWorkerRestarts)
	dur("WORKER_RESTART_BACKOFF", &c.WorkerRestartBackoff)
	dur("APPROVAL_TIMEOUT", &c.ApprovalTimeout)
	return errors.Join(errs...)
}

func splitTerms(raw string) []string {
	var terms []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// Validate checks the settings needed by the follow campaign. Credentials are
// checked separately by RequireCredentials so read-only commands can run
// without them.
func (c Config) Validate() error {
	var errs []error
	if c.DailyFollowLimit < 1 {
		errs = append(errs, fmt.Errorf("daily follow limit must be >= 1, got %d", c.DailyFollowLimit))
	}
	if c.FollowDelayMin < 0 || c.FollowDelayMax < 0 {
		errs = append(errs, errors.New("follow delays must not be negative"))
	}
	if c.FollowDelayMin > c.FollowDelayMax {
		errs = append(errs, fmt.Errorf("follow delay min %d exceeds max %d", c.FollowDelayMin, c.FollowDelayMax))
	}
	if c.UnfollowAfterDays < 0 {
		errs = append(errs, errors.New("unfollow period must not be negative"))
	}
	if len(c.RequiredTerms) == 0 {
		errs = append(errs, errors.New("at least one required handle term is needed"))
	}
	if c.ApprovalTimeout < 0 {
		errs = append(errs, errors.New("approval timeout must not be negative"))
	}
	if c.MaxWorkerRestarts < 0 {
		errs = append(errs, errors.New("max worker restarts must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) RequireCredentials() error {
	var missing []string
	if c.Handle == "" {
		missing = append(missing, "BLUESKY_HANDLE")
	}
	if c.Password == "" {
		missing = append(missing, "BLUESKY_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) UnfollowAfter() time.Duration {
	return time.Duration(c.UnfollowAfterDays) * 24 * time.Hour
}

func (c Config) DelayRange() (time.Duration, time.Duration) {
	return time.Duration(c.FollowDelayMin) * time.Second, time.Duration(c.FollowDelayMax) * time.Second
}

func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.PostTimezone)
}
