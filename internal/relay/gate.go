package relay

import (
	"maps"
	"slices"
	"strings"

	"relaybot/internal/eventbus"
	"relaybot/pkg/logx"
)

// ChatClass is derived from the origin chat of each command.
type ChatClass uint8

const (
	ChatGroupOrPrivate ChatClass = iota
	ChatChannel
)

func (c ChatClass) String() string {
	if c == ChatChannel {
		return "channel"
	}
	return "group_or_private"
}

type RuleKind uint8

const (
	// RuleAnyChannel admits every channel.
	RuleAnyChannel RuleKind = iota + 1
	// RuleChannelAllowlist admits channels in a fixed set. An empty set
	// admits nothing.
	RuleChannelAllowlist
	// RuleNonChannelOnly admits groups and private chats.
	RuleNonChannelOnly
)

func (k RuleKind) String() string {
	switch k {
	case RuleAnyChannel:
		return "any_channel"
	case RuleChannelAllowlist:
		return "channel_allowlist"
	case RuleNonChannelOnly:
		return "non_channel_only"
	default:
		return "unknown"
	}
}

// Reject texts sent back to the chat on denial.
const (
	RejectChannelText    = "Command not allowed in this chat."
	RejectNonChannelText = "This command can only be used in groups or private chats."
)

// Rule is an immutable authorization rule bound to a command.
type Rule struct {
	kind  RuleKind
	allow map[DestinationID]struct{}
}

func AnyChannel() Rule     { return Rule{kind: RuleAnyChannel} }
func NonChannelOnly() Rule { return Rule{kind: RuleNonChannelOnly} }

// ChannelAllowlist admits only the given channels. Ids are normalized.
func ChannelAllowlist(ids ...int64) Rule {
	allow := make(map[DestinationID]struct{}, len(ids))
	for _, id := range ids {
		allow[Normalize(id)] = struct{}{}
	}
	return Rule{kind: RuleChannelAllowlist, allow: allow}
}

func (r Rule) Kind() RuleKind { return r.kind }

// Allowlist returns the sorted allowlist, or nil for other kinds.
func (r Rule) Allowlist() []DestinationID {
	if r.kind != RuleChannelAllowlist {
		return nil
	}
	return slices.Sorted(maps.Keys(r.allow))
}

// Allows applies the decision table.
func (r Rule) Allows(class ChatClass, chat DestinationID) bool {
	switch r.kind {
	case RuleAnyChannel:
		return class == ChatChannel
	case RuleChannelAllowlist:
		if class != ChatChannel {
			return false
		}
		_, ok := r.allow[Normalize(int64(chat))]
		return ok
	case RuleNonChannelOnly:
		return class != ChatChannel
	default:
		return false
	}
}

func (r Rule) RejectText() string {
	if r.kind == RuleNonChannelOnly {
		return RejectNonChannelText
	}
	return RejectChannelText
}

// Origin identifies where a command came from.
type Origin struct {
	ChatID int64
	Class  ChatClass
	UserID int64
}

type Decision struct {
	Allowed bool
	Gated   bool
	Rule    Rule
	// Reply is the rejection text when Allowed is false.
	Reply string
}

// Denial is published on the event bus for every rejected command.
type Denial struct {
	Command string `json:"command"`
	ChatID  int64  `json:"chat_id"`
	Class   string `json:"class"`
	Rule    string `json:"rule"`
}

// Gate maps commands to rules. Commands without a rule are not gated. The
// rule table is fixed at construction, so Check is safe for concurrent use.
type Gate struct {
	rules  map[string]Rule
	log    logx.Logger
	events Publisher
}

func NewGate(rules map[string]Rule, log logx.Logger, events Publisher) *Gate {
	cp := make(map[string]Rule, len(rules))
	for cmd, r := range rules {
		cp[normalizeCommand(cmd)] = r
	}
	return &Gate{rules: cp, log: log.With(logx.String("comp", "relay.gate")), events: events}
}

// Rule returns the rule bound to command.
func (g *Gate) Rule(command string) (Rule, bool) {
	r, ok := g.rules[normalizeCommand(command)]
	return r, ok
}

func (g *Gate) Check(command string, o Origin) Decision {
	cmd := normalizeCommand(command)
	r, ok := g.rules[cmd]
	if !ok {
		return Decision{Allowed: true}
	}
	if r.Allows(o.Class, Normalize(o.ChatID)) {
		return Decision{Allowed: true, Gated: true, Rule: r}
	}

	g.log.Info("command denied",
		logx.String("command", cmd),
		logx.Int64("chat_id", o.ChatID),
		logx.String("class", o.Class.String()),
		logx.String("rule", r.kind.String()),
	)
	emit(g.events, eventbus.TypeAuthDenied, Denial{
		Command: cmd,
		ChatID:  o.ChatID,
		Class:   o.Class.String(),
		Rule:    r.kind.String(),
	})
	return Decision{Gated: true, Rule: r, Reply: r.RejectText()}
}

func normalizeCommand(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
}
