package relay

import (
	"context"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"relaybot/internal/eventbus"
)

// DestinationID is a sign-normalized chat id.
type DestinationID int64

// Normalize drops the sign transports put on group and channel ids.
// Normalize(Normalize(x)) == Normalize(x). MinInt64 has no positive
// counterpart and clamps to MaxInt64.
func Normalize(id int64) DestinationID {
	switch {
	case id == math.MinInt64:
		return DestinationID(math.MaxInt64)
	case id < 0:
		return DestinationID(-id)
	}
	return DestinationID(id)
}

func (d DestinationID) Int64() int64   { return int64(d) }
func (d DestinationID) String() string { return strconv.FormatInt(int64(d), 10) }

type MediaKind uint8

const (
	MediaNone MediaKind = iota
	MediaPhoto
	MediaDocument
	// MediaFile is any other attachment; the transport copies it from the
	// source post.
	MediaFile
)

func (k MediaKind) String() string {
	switch k {
	case MediaPhoto:
		return "photo"
	case MediaDocument:
		return "document"
	case MediaFile:
		return "file"
	default:
		return "none"
	}
}

// Media references an attachment already stored by the transport.
type Media struct {
	Kind     MediaKind
	FileID   string
	FileName string
	MIME     string
}

// Message is a source post as it will be relayed. It is shared by pointer
// between the fan-out and every retry and must not be modified after
// construction.
type Message struct {
	Text  string
	Media *Media

	SourceChatID    int64
	SourceMessageID int
	ReceivedAt      time.Time
}

func (m *Message) HasMedia() bool { return m != nil && m.Media != nil && m.Media.Kind != MediaNone }

// Preview returns at most n runes of the text, for logs.
func (m *Message) Preview(n int) string {
	if m == nil {
		return ""
	}
	if utf8.RuneCountInString(m.Text) <= n {
		return m.Text
	}
	r := []rune(m.Text)
	return string(r[:n]) + "..."
}

// Sender delivers a message to one destination.
type Sender interface {
	Deliver(ctx context.Context, dest DestinationID, msg *Message) error
}

type SenderFunc func(ctx context.Context, dest DestinationID, msg *Message) error

func (f SenderFunc) Deliver(ctx context.Context, dest DestinationID, msg *Message) error {
	return f(ctx, dest, msg)
}

// Publisher receives relay events. A nil Publisher is allowed everywhere.
type Publisher interface {
	Publish(e eventbus.Event)
}

func emit(p Publisher, typ string, data any) {
	if p == nil {
		return
	}
	p.Publish(eventbus.Event{Type: typ, Data: data})
}
