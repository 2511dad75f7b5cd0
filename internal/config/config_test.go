package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"BOT_TOKEN", "OFFICIAL_CHANNEL_IDS", "BOT_VERSION", "ENVIRONMENT", "GROUPS_FILE", "REGISTRY_DSN", "LOG_LEVEL", "ADMIN_TOKEN"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "relaybot.yaml", `
telegram:
  token: "abc"
relay:
  source_chat_ids: [-1001, 1002]
logging:
  console: true
`)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "abc" || !slices.Equal(cfg.Relay.SourceChatIDs, []int64{-1001, 1002}) {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Relay.MaxRetries != 3 || cfg.Relay.RetryIntervalDuration() != 30*time.Second {
		t.Fatalf("relay defaults=%+v", cfg.Relay)
	}
	if cfg.Registry.Driver != "file" || cfg.Registry.Path != "bot_groups.json" || cfg.Registry.OnCorrupt != "fail" {
		t.Fatalf("registry defaults=%+v", cfg.Registry)
	}
	if cfg.Relay.CommandPrefix != "/" || cfg.Relay.Version != "Unknown" {
		t.Fatalf("prefix/version defaults=%+v", cfg.Relay)
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name, file, body string
	}{
		{"unknown json", "c.json", `{"telegram":{"token":"x","owner":1}}`},
		{"unknown yaml", "c.yml", "relay:\n  retries: 3\n"},
		{"trailing", "c.json", `{"telegram":{"token":"x"}} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, tt.file, tt.body)
			_, err := NewManager(p).Parse()
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Type != ErrParsing {
				t.Fatalf("Parse()=%v want parsing ConfigError", err)
			}
		})
	}
}

func TestEnvOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("OFFICIAL_CHANNEL_IDS", "[-100123, 456 ,]")
	t.Setenv("BOT_VERSION", "v1.2.3")
	t.Setenv("GROUPS_FILE", "/data/groups.json")

	p := writeFile(t, "c.json", `{"telegram":{"token":"from-file"},"relay":{"source_chat_ids":[1]}}`)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token=%q", cfg.Telegram.Token)
	}
	if !slices.Equal(cfg.Relay.SourceChatIDs, []int64{-100123, 456}) {
		t.Fatalf("sources=%v", cfg.Relay.SourceChatIDs)
	}
	if cfg.Relay.Version != "v1.2.3" || cfg.Registry.Path != "/data/groups.json" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestMissingFileWithEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "tok")
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	if _, err := NewManager(missing).Load(); err == nil {
		t.Fatalf("missing file should fail without AllowMissingFile")
	}
	cfg, err := NewManager(missing, AllowMissingFile()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "tok" {
		t.Fatalf("token=%q", cfg.Telegram.Token)
	}
}

func TestIDListDecode(t *testing.T) {
	t.Parallel()

	var l IDList
	if err := l.Decode(" 1, -2,,3 "); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal([]int64(l), []int64{1, -2, 3}) {
		t.Fatalf("l=%v", l)
	}
	if err := l.Decode("1,abc"); err == nil {
		t.Fatalf("bad id should fail")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		c := &Config{Telegram: TelegramConfig{Token: "x"}}
		c.ApplyDefaults()
		return c
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }},
		{"bad interval", func(c *Config) { c.Relay.RetryInterval = "soon" }},
		{"sub-second interval", func(c *Config) { c.Relay.RetryInterval = "200ms" }},
		{"bad driver", func(c *Config) { c.Registry.Driver = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Registry.Driver = "postgres" }},
		{"bad corrupt policy", func(c *Config) { c.Registry.OnCorrupt = "ignore" }},
		{"public admin without token", func(c *Config) {
			c.Admin.Enabled = true
			c.Admin.Addr = "0.0.0.0:6061"
		}},
		{"telegram log without chat", func(c *Config) { c.Logging.Telegram.Enabled = true }},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			err := Validate(c)
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Type != ErrValidation {
				t.Fatalf("Validate()=%v want validation error", err)
			}
		})
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "c.json", `{"telegram":{"token":"x"},"relay":{"max_retries":3}}`)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)

	ctx := context.Background()
	if changed, err := m.Reload(ctx); err != nil || changed {
		t.Fatalf("unchanged reload changed=%v err=%v", changed, err)
	}

	if err := os.WriteFile(p, []byte(`{"telegram":{"token":"x"},"relay":{"max_retries":5}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if changed, err := m.Reload(ctx); err != nil || !changed {
		t.Fatalf("reload changed=%v err=%v", changed, err)
	}
	got := <-sub
	if got.Relay.MaxRetries != 5 || m.Get().Relay.MaxRetries != 5 {
		t.Fatalf("published max_retries=%d", got.Relay.MaxRetries)
	}

	if err := os.WriteFile(p, []byte(`{"telegram":{"token":""}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(ctx); err == nil {
		t.Fatalf("invalid reload should be rejected")
	}
	if m.Get().Relay.MaxRetries != 5 {
		t.Fatalf("rejected reload must not be committed")
	}
	m.Close()
}

func TestWatchPicksUpChanges(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "c.json", `{"telegram":{"token":"x"}}`)
	m := NewManager(p)
	m.debounce = 10 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for i := 0; ; i++ {
		body := `{"telegram":{"token":"x"},"relay":{"fanout_concurrency":` + []string{"2", "3"}[i%2] + `}}`
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		select {
		case cfg := <-sub:
			if cfg.Relay.FanoutConcurrency < 2 {
				t.Fatalf("unexpected config %+v", cfg.Relay)
			}
			cancel()
			<-done
			return
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			t.Fatalf("watch did not publish a reload")
		}
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	a := &Config{Telegram: TelegramConfig{Token: "x"}}
	a.ApplyDefaults()
	b := *a
	b.Relay.MaxRetries = 7
	b.Relay.SourceChatIDs = []int64{1}
	b.Logging.Level = "debug"

	ch := Diff(a, &b)
	if !slices.Equal(ch.Sections, []string{"relay.sources", "relay.delivery", "logging"}) {
		t.Fatalf("sections=%v", ch.Sections)
	}
	if !slices.Equal(ch.RestartRequired, []string{"relay.sources"}) {
		t.Fatalf("restart=%v", ch.RestartRequired)
	}
	if !Diff(a, a).Empty() {
		t.Fatalf("identical configs should diff empty")
	}
}
