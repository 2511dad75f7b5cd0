package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses a non-negative Go duration. Empty means def.
func ParseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// MustDuration is for fields Validate has already checked.
func MustDuration(raw string, def time.Duration) time.Duration {
	d, err := ParseDuration("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (c TelegramConfig) PollTimeoutDuration() time.Duration {
	return MustDuration(c.PollTimeout, DefaultPollTimeout)
}

func (c TelegramConfig) BreakerTimeoutDuration() time.Duration {
	return MustDuration(c.BreakerTimeout, DefaultBreakerTimeout)
}

func (c RelayConfig) RetryIntervalDuration() time.Duration {
	return MustDuration(c.RetryInterval, DefaultRetryInterval)
}

func (c RegistryConfig) BusyTimeoutDuration() time.Duration {
	return MustDuration(c.BusyTimeout, 0)
}
