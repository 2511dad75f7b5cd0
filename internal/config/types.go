package config

import "time"

// Config is the on-disk (JSON or YAML) configuration. Environment variables
// are overlaid on top, see env.go.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Relay    RelayConfig    `json:"relay"`
	Registry RegistryConfig `json:"registry"`
	Logging  LoggingConfig  `json:"logging"`
	Admin    AdminConfig    `json:"admin,omitempty"`
	Tracing  TracingConfig  `json:"tracing,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token" validate:"required"`
	// PollTimeout is a Go duration string. Default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec caps outbound sends across all chats. Default 25.
	RatePerSec int `json:"rate_per_sec,omitempty" validate:"gte=0,lte=1000"`
	// BreakerFailures consecutive send failures open the circuit. Default 20.
	BreakerFailures uint32 `json:"breaker_failures,omitempty"`
	// BreakerTimeout is how long an open circuit rejects sends. Default "30s".
	BreakerTimeout string `json:"breaker_timeout,omitempty"`
}

// RelayConfig holds the broadcast settings.
//
// source_chat_ids and command_prefix are read once at startup.
// max_retries, retry_interval and fanout_concurrency apply on reload.
type RelayConfig struct {
	SourceChatIDs     []int64 `json:"source_chat_ids"`
	MaxRetries        uint    `json:"max_retries,omitempty" validate:"lte=100"`
	RetryInterval     string  `json:"retry_interval,omitempty"`
	CommandPrefix     string  `json:"command_prefix,omitempty" validate:"omitempty,max=8"`
	FanoutConcurrency int     `json:"fanout_concurrency,omitempty" validate:"gte=0,lte=64"`
	Version           string  `json:"version,omitempty"`
	Environment       string  `json:"environment,omitempty"`
}

type RegistryConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=file json sqlite sqlite3 postgres postgresql pgx memory"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// OnCorrupt is "fail" (default) or "empty".
	OnCorrupt string `json:"on_corrupt,omitempty" validate:"omitempty,oneof=fail empty"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file,omitempty"`
	Telegram LoggingTelegram `json:"telegram,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// AdminConfig controls the operator HTTP server.
//
// Prefer a loopback address. A non-loopback address needs a token or an
// explicit allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:6061"
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter,omitempty" validate:"omitempty,oneof=stdout otlp"`
	Endpoint    string  `json:"endpoint,omitempty"`
	Insecure    bool    `json:"insecure,omitempty"`
	SampleRate  float64 `json:"sample_rate,omitempty" validate:"gte=0,lte=1"`
	ServiceName string  `json:"service_name,omitempty"`
}

const (
	DefaultPollTimeout    = 10 * time.Second
	DefaultRetryInterval  = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultBreakerTimeout = 30 * time.Second
	DefaultRegistryPath   = "bot_groups.json"
	DefaultAdminAddr      = "127.0.0.1:6061"
)

// ApplyDefaults fills zero values. It is idempotent.
func (c *Config) ApplyDefaults() {
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = DefaultPollTimeout.String()
	}
	if c.Telegram.RatePerSec == 0 {
		c.Telegram.RatePerSec = 25
	}
	if c.Telegram.BreakerFailures == 0 {
		c.Telegram.BreakerFailures = 20
	}
	if c.Telegram.BreakerTimeout == "" {
		c.Telegram.BreakerTimeout = DefaultBreakerTimeout.String()
	}
	if c.Relay.MaxRetries == 0 {
		c.Relay.MaxRetries = DefaultMaxRetries
	}
	if c.Relay.RetryInterval == "" {
		c.Relay.RetryInterval = DefaultRetryInterval.String()
	}
	if c.Relay.CommandPrefix == "" {
		c.Relay.CommandPrefix = "/"
	}
	if c.Relay.FanoutConcurrency == 0 {
		c.Relay.FanoutConcurrency = 4
	}
	if c.Relay.Version == "" {
		c.Relay.Version = "Unknown"
	}
	if c.Relay.Environment == "" {
		c.Relay.Environment = "production"
	}
	if c.Registry.Driver == "" {
		c.Registry.Driver = "file"
	}
	if c.Registry.Path == "" && (c.Registry.Driver == "file" || c.Registry.Driver == "json") {
		c.Registry.Path = DefaultRegistryPath
	}
	if c.Registry.OnCorrupt == "" {
		c.Registry.OnCorrupt = "fail"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = DefaultAdminAddr
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "relaybot"
	}
}
