package transport

import (
	"context"
	"time"

	"relaybot/internal/relay"
)

type UpdateKind string

const (
	// UpdateMessage is a message in a group or private chat.
	UpdateMessage UpdateKind = "message"
	// UpdateChannelPost is a post in a channel the bot administers.
	UpdateChannelPost UpdateKind = "channel_post"
	// UpdateMembership is a change of the bot's own membership in a chat.
	UpdateMembership UpdateKind = "membership"
)

type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSuperGroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// Chat is the origin chat of an update. ID keeps the transport's sign.
type Chat struct {
	ID    int64
	Kind  ChatKind
	Title string
}

func (c Chat) IsChannel() bool { return c.Kind == ChatChannel }

// Class maps the chat kind onto the authorization classes.
func (c Chat) Class() relay.ChatClass {
	if c.IsChannel() {
		return relay.ChatChannel
	}
	return relay.ChatGroupOrPrivate
}

type Message struct {
	ID     int
	Chat   Chat
	FromID int64
	// Text is the message text, or the caption of a media message.
	Text  string
	Media *relay.Media
	Date  time.Time
}

// MembershipChange reports that MemberID joined or left Chat.
type MembershipChange struct {
	Chat     Chat
	MemberID int64
	Joined   bool
}

type Update struct {
	Kind       UpdateKind
	Message    *Message
	Membership *MembershipChange
}

type SendOptions struct {
	ParseMode      string // "", "HTML" or "Markdown"
	DisablePreview bool
	ReplyTo        int
}

// Adapter is the chat-platform connection. It feeds updates into out and
// performs outbound sends. It also implements relay.Sender.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// SelfID is the bot's own user id, known after the adapter is built.
	SelfID() int64

	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) error
	Deliver(ctx context.Context, dest relay.DestinationID, msg *relay.Message) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish the
// client-side command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// ToRelayMessage converts a source post into the immutable relay form.
func (m *Message) ToRelayMessage() *relay.Message {
	if m == nil {
		return nil
	}
	out := &relay.Message{
		Text:            m.Text,
		SourceChatID:    m.Chat.ID,
		SourceMessageID: m.ID,
		ReceivedAt:      m.Date,
	}
	if m.Media != nil {
		cp := *m.Media
		out.Media = &cp
	}
	if out.ReceivedAt.IsZero() {
		out.ReceivedAt = time.Now()
	}
	return out
}
