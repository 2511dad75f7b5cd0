package router

import (
	"html"
	"strings"

	"relaybot/internal/relay"
)

// helpText renders help for HTML parse mode. With an argument it describes
// that one command.
func (m *CommandManager) helpText(args []string) string {
	if len(args) > 0 {
		name := normalizeName(strings.TrimPrefix(args[0], m.deps.Prefix))
		c, ok := m.lookup(name)
		if !ok {
			return "Unknown command <code>" + html.EscapeString(args[0]) + "</code>. Try <code>" + html.EscapeString(m.deps.Prefix) + "help</code>."
		}
		lines := []string{"<b>" + html.EscapeString(m.deps.Prefix+c.Name) + "</b>"}
		if c.Description != "" {
			lines = append(lines, html.EscapeString(c.Description))
		}
		if c.Usage != "" {
			lines = append(lines, "Usage: <code>"+html.EscapeString(c.Usage)+"</code>")
		}
		if note := m.restriction(c.Name); note != "" {
			lines = append(lines, "<i>"+note+"</i>")
		}
		return strings.Join(lines, "\n")
	}

	lines := []string{"<b>Commands</b>"}
	for _, c := range m.commandList() {
		line := "<code>" + html.EscapeString(m.deps.Prefix+c.Name) + "</code>"
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m *CommandManager) restriction(cmd string) string {
	if m.deps.Gate == nil {
		return ""
	}
	r, ok := m.deps.Gate.Rule(cmd)
	if !ok {
		return ""
	}
	switch r.Kind() {
	case relay.RuleAnyChannel:
		return "Channels only."
	case relay.RuleChannelAllowlist:
		return "Official channels only."
	case relay.RuleNonChannelOnly:
		return "Groups and private chats only."
	}
	return ""
}
