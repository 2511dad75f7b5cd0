package app

import (
	"relaybot/internal/config"
	"relaybot/internal/observability/admin"
	"relaybot/internal/observability/tracing"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	telegram "relaybot/internal/transport/telegram/adapter"
	"relaybot/pkg/logx"
)

func mapAdapterConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:           cfg.Telegram.Token,
		PollTimeout:     cfg.Telegram.PollTimeoutDuration(),
		RatePerSec:      cfg.Telegram.RatePerSec,
		BreakerFailures: cfg.Telegram.BreakerFailures,
		BreakerTimeout:  cfg.Telegram.BreakerTimeoutDuration(),
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Registry.Driver,
		Path:        cfg.Registry.Path,
		DSN:         cfg.Registry.DSN,
		BusyTimeout: cfg.Registry.BusyTimeoutDuration(),
	}
}

func mapEngineConfig(cfg *config.Config) relay.EngineConfig {
	return relay.EngineConfig{
		CommandPrefix: cfg.Relay.CommandPrefix,
		Concurrency:   cfg.Relay.FanoutConcurrency,
	}
}

func mapRetryConfig(cfg *config.Config) relay.RetryConfig {
	return relay.RetryConfig{
		Interval:   cfg.Relay.RetryIntervalDuration(),
		MaxRetries: cfg.Relay.MaxRetries,
	}
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	a := cfg.Admin
	read, err := config.ParseDuration("admin.read_timeout", a.ReadTimeout, 0)
	if err != nil {
		return admin.Config{}, err
	}
	idle, err := config.ParseDuration("admin.idle_timeout", a.IdleTimeout, 0)
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Enabled:       a.Enabled,
		Addr:          a.Addr,
		Token:         a.Token,
		AllowInsecure: a.AllowInsecure,
		Pprof:         a.Pprof,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}

func mapTracingConfig(cfg *config.Config) tracing.Config {
	t := cfg.Tracing
	return tracing.Config{
		Enabled:        t.Enabled,
		Exporter:       t.Exporter,
		Endpoint:       t.Endpoint,
		Insecure:       t.Insecure,
		SampleRate:     t.SampleRate,
		ServiceName:    t.ServiceName,
		ServiceVersion: cfg.Relay.Version,
		Environment:    cfg.Relay.Environment,
	}
}
