package router

import (
	"strings"
	"unicode"

	kit "relaybot/internal/transport"
)

const (
	menuMaxCommands = 100
	menuMaxDesc     = 256
)

// sanitizeMenuCommand converts a name into a Telegram command name,
// which must match [a-z0-9_]{1,32}.
func sanitizeMenuCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// buildMenu maps commands (already sorted) to menu entries.
func buildMenu(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	seen := map[string]bool{}
	for _, c := range cmds {
		name := sanitizeMenuCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if len(desc) > menuMaxDesc {
			desc = desc[:menuMaxDesc]
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
		if len(out) >= menuMaxCommands {
			break
		}
	}
	return out
}
