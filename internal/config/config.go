package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AdamBeresnev/matchday/internal/control"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const prefix = "matchday"

type Commands struct {
	RemoteLogURL         string `split_words:"true" default:"matchzy_remote_log_url"`
	RemoteLogHeaderKey   string `split_words:"true" default:"matchzy_remote_log_header_key"`
	RemoteLogHeaderValue string `split_words:"true" default:"matchzy_remote_log_header_value"`
	DemoUploadURL        string `split_words:"true" default:"matchzy_demo_upload_url"`
	LoadHeaderKey        string `split_words:"true" default:"matchzy_loadmatch_header_key"`
	LoadHeaderValue      string `split_words:"true" default:"matchzy_loadmatch_header_value"`
	LoadMatchURL         string `split_words:"true" default:"matchzy_loadmatch_url"`
	EndMatch             string `split_words:"true" default:"matchzy_endmatch"`
}

type Config struct {
	Addr          string `default:":8080"`
	BaseURL       string `split_words:"true" default:"http://localhost:8080"`
	DatabasePath  string `split_words:"true" default:"matchday.db"`
	MigrationsURL string `split_words:"true" default:"file://migrations"`
	LogLevel      string `split_words:"true" default:"info"`

	APIKey        string `envconfig:"API_KEY"`
	WebhookSecret string `split_words:"true" required:"true"`
	WebhookHeader string `split_words:"true" default:"X-MatchZy-Token"`
	ConfigToken   string `split_words:"true" required:"true"`
	DemoUploadURL string `split_words:"true"`

	RCONDialTimeout  time.Duration `envconfig:"RCON_DIAL_TIMEOUT" default:"3s"`
	RCONDeadline     time.Duration `envconfig:"RCON_DEADLINE" default:"5s"`
	CommandDelay     time.Duration `split_words:"true" default:"500ms"`
	ReloadGrace      time.Duration `split_words:"true" default:"5s"`
	PollInterval     time.Duration `split_words:"true" default:"10s"`
	ProbeConcurrency int           `split_words:"true" default:"8"`
	LiveStatsTTL     time.Duration `envconfig:"LIVE_STATS_TTL" default:"3h"`

	AllocateAllRollback bool `split_words:"true" default:"false"`
	AllocateOneRollback bool `split_words:"true" default:"true"`

	Commands Commands
}

// Load reads .env when present, then the MATCHDAY_* environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BaseURL == "" {
		return errors.New("MATCHDAY_BASE_URL must not be empty")
	}
	if c.WebhookSecret == "" || c.ConfigToken == "" {
		return errors.New("MATCHDAY_WEBHOOK_SECRET and MATCHDAY_CONFIG_TOKEN are required")
	}
	if c.PollInterval <= 0 {
		return errors.New("MATCHDAY_POLL_INTERVAL must be positive")
	}
	if c.ProbeConcurrency < 1 {
		c.ProbeConcurrency = 1
	}
	if c.DemoUploadURL == "" {
		c.DemoUploadURL = c.BaseURL + "/api/demos"
	}
	return nil
}

func (c *Config) ControlCommands() control.Commands {
	return control.Commands{
		RemoteLogURL:         c.Commands.RemoteLogURL,
		RemoteLogHeaderKey:   c.Commands.RemoteLogHeaderKey,
		RemoteLogHeaderValue: c.Commands.RemoteLogHeaderValue,
		DemoUploadURL:        c.Commands.DemoUploadURL,
		LoadHeaderKey:        c.Commands.LoadHeaderKey,
		LoadHeaderValue:      c.Commands.LoadHeaderValue,
		LoadMatchURL:         c.Commands.LoadMatchURL,
		EndMatch:             c.Commands.EndMatch,
	}
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (c *Config) Redacted() string {
	secret := func(s string) string {
		if s == "" {
			return "[empty]"
		}
		return "[set]"
	}
	return fmt.Sprintf("addr=%s baseURL=%s db=%s pollInterval=%s apiKey=%s webhookSecret=%s configToken=%s",
		c.Addr, c.BaseURL, c.DatabasePath, c.PollInterval,
		secret(c.APIKey), secret(c.WebhookSecret), secret(c.ConfigToken))
}
