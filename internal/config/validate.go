package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Type: ErrValidation, Message: "config is nil"}
	}
	if err := validate.Struct(cfg); err != nil {
		return &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}

	var errs []error
	durations := []struct{ field, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"telegram.breaker_timeout", cfg.Telegram.BreakerTimeout},
		{"relay.retry_interval", cfg.Relay.RetryInterval},
		{"registry.busy_timeout", cfg.Registry.BusyTimeout},
		{"admin.read_timeout", cfg.Admin.ReadTimeout},
		{"admin.idle_timeout", cfg.Admin.IdleTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDuration(d.field, d.raw, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if iv := cfg.Relay.RetryIntervalDuration(); iv > 0 && iv < time.Second {
		errs = append(errs, errors.New("relay.retry_interval: must be at least 1s"))
	}

	switch strings.ToLower(cfg.Registry.Driver) {
	case "", "file", "json", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Registry.Path) == "" && cfg.Registry.Driver != "" {
			errs = append(errs, fmt.Errorf("registry.path is required for driver %q", cfg.Registry.Driver))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Registry.DSN) == "" {
			errs = append(errs, errors.New("registry.dsn is required for postgres"))
		}
	}

	if cfg.Admin.Enabled && !cfg.Admin.AllowInsecure && strings.TrimSpace(cfg.Admin.Token) == "" && !isLoopbackAddr(cfg.Admin.Addr) {
		errs = append(errs, fmt.Errorf("admin.addr %q is not loopback: set admin.token or admin.allow_insecure", cfg.Admin.Addr))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.chat_id is required when telegram logging is enabled"))
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Exporter == "otlp" && strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
		errs = append(errs, errors.New("tracing.endpoint is required for the otlp exporter"))
	}

	if len(errs) > 0 {
		return &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: errors.Join(errs...)}
	}
	return nil
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
