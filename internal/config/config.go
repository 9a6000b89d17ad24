package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	API     API     `yaml:"api"`
	Push    Push    `yaml:"push"`
	Feed    Feed    `yaml:"feed"`
	Archive Archive `yaml:"archive"`
	Status  Status  `yaml:"status"`
}

// API configures the resource API client.
type API struct {
	// BaseURL is the REST endpoint root, e.g. http://localhost:8000/api.
	BaseURL string `yaml:"base_url"`

	// TimeoutMs bounds each request.
	TimeoutMs int `yaml:"timeout_ms"`
}

// Push configures the push-channel connection.
type Push struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8000/ws/timeline/.
	URL string `yaml:"url"`

	// ReconnectIntervalMs is the delay between reconnect attempts.
	ReconnectIntervalMs int `yaml:"reconnect_interval_ms"`

	// MaxReconnectAttempts caps reconnects. Zero means unbounded.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// Feed holds the reconciliation-policy knobs. Every decay deadline and poll
// cadence in the engine comes from here so tests can run on short clocks.
type Feed struct {
	// PollIntervalMs is the reply-poll cadence for a visible post.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// ThinkingPollIntervalMs is the faster cadence used while a post is
	// awaiting an automated response.
	ThinkingPollIntervalMs int `yaml:"thinking_poll_interval_ms"`

	// TypingWindowMs is how long a typing banner stays visible after the
	// last typing event.
	TypingWindowMs int `yaml:"typing_window_ms"`

	// ThinkingFreshnessMs is the maximum post age at which a zero-reply
	// post is assumed to be awaiting an automated response.
	ThinkingFreshnessMs int `yaml:"thinking_freshness_ms"`

	// ThinkingMaxWaitMs forces a thinking post back to idle if no reply
	// ever arrives.
	ThinkingMaxWaitMs int `yaml:"thinking_max_wait_ms"`
}

// Archive configures the optional local reply transcript.
type Archive struct {
	Path      string `yaml:"path"`
	MaxAgeHrs int    `yaml:"max_age_hours"`
	MaxRows   int    `yaml:"max_rows"`
}

// Status configures the local diagnostics HTTP server.
type Status struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

func (a API) Timeout() time.Duration { return time.Duration(a.TimeoutMs) * time.Millisecond }

func (p Push) ReconnectInterval() time.Duration {
	return time.Duration(p.ReconnectIntervalMs) * time.Millisecond
}

func (f Feed) PollInterval() time.Duration { return time.Duration(f.PollIntervalMs) * time.Millisecond }

func (f Feed) ThinkingPollInterval() time.Duration {
	return time.Duration(f.ThinkingPollIntervalMs) * time.Millisecond
}

func (f Feed) TypingWindow() time.Duration {
	return time.Duration(f.TypingWindowMs) * time.Millisecond
}

func (f Feed) ThinkingFreshness() time.Duration {
	return time.Duration(f.ThinkingFreshnessMs) * time.Millisecond
}

func (f Feed) ThinkingMaxWait() time.Duration {
	return time.Duration(f.ThinkingMaxWaitMs) * time.Millisecond
}

func (a Archive) MaxAge() time.Duration { return time.Duration(a.MaxAgeHrs) * time.Hour }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: API{
			BaseURL:   "http://localhost:8000/api",
			TimeoutMs: 30000,
		},
		Push: Push{
			URL:                 "ws://localhost:8000/ws/timeline/",
			ReconnectIntervalMs: 3000,
		},
		Feed: Feed{
			PollIntervalMs:         5000,
			ThinkingPollIntervalMs: 500,
			TypingWindowMs:         5000,
			ThinkingFreshnessMs:    30000,
			ThinkingMaxWaitMs:      60000,
		},
		Archive: Archive{
			Path:      "debate-feed.db",
			MaxAgeHrs: 7 * 24,
			MaxRows:   5000,
		},
		Status: Status{
			Port: 3000,
		},
	}
}

// Load reads configuration starting from defaults, applying the YAML file at
// path if one is given, then environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("DEBATEFEED_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("DEBATEFEED_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("DEBATEFEED_PUSH_URL"); v != "" {
		cfg.Push.URL = v
	}
	if v := os.Getenv("DEBATEFEED_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("DEBATEFEED_STATUS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DEBATEFEED_STATUS_PORT: %w", err)
		}
		cfg.Status.Port = port
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Push.URL == "" {
		return fmt.Errorf("push.url is required")
	}
	if c.Feed.PollIntervalMs <= 0 || c.Feed.ThinkingPollIntervalMs <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Feed.ThinkingPollIntervalMs > c.Feed.PollIntervalMs {
		return fmt.Errorf("thinking_poll_interval_ms must not exceed poll_interval_ms")
	}
	if c.Push.MaxReconnectAttempts < 0 {
		return fmt.Errorf("push.max_reconnect_attempts must not be negative")
	}
	return nil
}
