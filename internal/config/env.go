package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Env holds the environment overrides. The names match what existing
// deployments already export.
type Env struct {
	BotToken      string `envconfig:"BOT_TOKEN"`
	SourceChatIDs IDList `envconfig:"OFFICIAL_CHANNEL_IDS"`
	Version       string `envconfig:"BOT_VERSION"`
	Environment   string `envconfig:"ENVIRONMENT"`
	GroupsFile    string `envconfig:"GROUPS_FILE"`
	RegistryDSN   string `envconfig:"REGISTRY_DSN"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	AdminToken    string `envconfig:"ADMIN_TOKEN"`
}

// IDList decodes a comma-separated list of chat ids, tolerating blanks and
// surrounding brackets.
type IDList []int64

func (l *IDList) Decode(value string) error {
	value = strings.Trim(strings.TrimSpace(value), "[]")
	out := IDList{}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q: %w", part, err)
		}
		out = append(out, id)
	}
	*l = out
	return nil
}

// LoadDotEnv loads files (default ".env") into the process environment
// without overriding variables that are already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &ConfigError{Type: ErrEnv, Message: "load " + f, Err: err}
		}
	}
	return nil
}

// ReadEnv reads the override variables.
func ReadEnv() (Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return Env{}, &ConfigError{Type: ErrEnv, Message: "failed to process environment", Err: err}
	}
	return e, nil
}

// Overlay copies every set override into cfg.
func (e Env) Overlay(cfg *Config) {
	if s := strings.TrimSpace(e.BotToken); s != "" {
		cfg.Telegram.Token = s
	}
	if e.SourceChatIDs != nil {
		cfg.Relay.SourceChatIDs = append([]int64(nil), e.SourceChatIDs...)
	}
	if s := strings.TrimSpace(e.Version); s != "" {
		cfg.Relay.Version = s
	}
	if s := strings.TrimSpace(e.Environment); s != "" {
		cfg.Relay.Environment = s
	}
	if s := strings.TrimSpace(e.GroupsFile); s != "" {
		cfg.Registry.Path = s
	}
	if s := strings.TrimSpace(e.RegistryDSN); s != "" {
		cfg.Registry.DSN = s
	}
	if s := strings.TrimSpace(e.LogLevel); s != "" {
		cfg.Logging.Level = s
	}
	if s := strings.TrimSpace(e.AdminToken); s != "" {
		cfg.Admin.Token = s
	}
}
