package config

import (
	"slices"
	"strings"

	"relaybot/pkg/logx"
)

// Change describes a reload: sections that changed, which of them only take
// effect after a restart, and safe fields for logging (never secrets).
type Change struct {
	Sections        []string
	RestartRequired []string
	Fields          []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || o.PollTimeout != n.PollTimeout || o.BreakerFailures != n.BreakerFailures ||
		o.BreakerTimeout != n.BreakerTimeout || o.RatePerSec != n.RatePerSec {
		mark("telegram", true,
			logx.Bool("telegram.token_changed", o.Token != n.Token),
			logx.String("telegram.poll_timeout", n.PollTimeout),
			logx.Int("telegram.rate_per_sec", n.RatePerSec),
		)
	}

	or, nr := oldCfg.Relay, newCfg.Relay
	if !slices.Equal(or.SourceChatIDs, nr.SourceChatIDs) || or.CommandPrefix != nr.CommandPrefix ||
		or.Version != nr.Version || or.Environment != nr.Environment {
		mark("relay.sources", true,
			logx.Int("relay.source_count", len(nr.SourceChatIDs)),
			logx.String("relay.command_prefix", nr.CommandPrefix),
		)
	}
	if or.MaxRetries != nr.MaxRetries || or.RetryInterval != nr.RetryInterval || or.FanoutConcurrency != nr.FanoutConcurrency {
		mark("relay.delivery", false,
			logx.Uint("relay.max_retries", nr.MaxRetries),
			logx.String("relay.retry_interval", nr.RetryInterval),
			logx.Int("relay.fanout_concurrency", nr.FanoutConcurrency),
		)
	}

	if oldCfg.Registry != newCfg.Registry {
		mark("registry", true, logx.String("registry.driver", newCfg.Registry.Driver))
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	oa, na := oldCfg.Admin, newCfg.Admin
	if oa != na {
		mark("admin", false,
			logx.Bool("admin.enabled", na.Enabled),
			logx.String("admin.addr", strings.TrimSpace(na.Addr)),
			logx.Bool("admin.token_set", strings.TrimSpace(na.Token) != ""),
		)
	}

	if oldCfg.Tracing != newCfg.Tracing {
		mark("tracing", true, logx.Bool("tracing.enabled", newCfg.Tracing.Enabled))
	}
	return ch
}
