package adapter

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/relay"
	kit "relaybot/internal/transport"
)

func convertChat(c *tele.Chat) kit.Chat {
	if c == nil {
		return kit.Chat{}
	}
	out := kit.Chat{ID: c.ID, Title: c.Title}
	switch c.Type {
	case tele.ChatChannel, tele.ChatChannelPrivate:
		out.Kind = kit.ChatChannel
	case tele.ChatGroup:
		out.Kind = kit.ChatGroup
	case tele.ChatSuperGroup:
		out.Kind = kit.ChatSuperGroup
	default:
		out.Kind = kit.ChatPrivate
	}
	return out
}

func convertMessage(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:    m.ID,
		Chat:  convertChat(m.Chat),
		Text:  m.Text,
		Media: extractMedia(m),
		Date:  m.Time(),
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
	}
	if out.Text == "" {
		out.Text = m.Caption
	}
	if m.Unixtime == 0 {
		out.Date = time.Now()
	}
	return out
}

// extractMedia returns nil for plain text posts.
func extractMedia(m *tele.Message) *relay.Media {
	switch {
	case m.Photo != nil:
		return &relay.Media{Kind: relay.MediaPhoto, FileID: m.Photo.FileID}
	case m.Document != nil:
		return &relay.Media{
			Kind:     relay.MediaDocument,
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			MIME:     m.Document.MIME,
		}
	case m.Video != nil:
		return &relay.Media{Kind: relay.MediaFile, FileID: m.Video.FileID, MIME: m.Video.MIME}
	case m.Animation != nil:
		return &relay.Media{Kind: relay.MediaFile, FileID: m.Animation.FileID}
	case m.Audio != nil:
		return &relay.Media{Kind: relay.MediaFile, FileID: m.Audio.FileID}
	case m.Voice != nil:
		return &relay.Media{Kind: relay.MediaFile, FileID: m.Voice.FileID}
	case m.VideoNote != nil:
		return &relay.Media{Kind: relay.MediaFile, FileID: m.VideoNote.FileID}
	case m.Sticker != nil:
		return &relay.Media{Kind: relay.MediaFile, FileID: m.Sticker.FileID}
	}
	return nil
}

// convertMembership maps a my_chat_member update. Status changes that keep
// the bot in the chat (member to admin and back) are ignored.
func convertMembership(u *tele.ChatMemberUpdate) *kit.MembershipChange {
	if u == nil || u.Chat == nil || u.NewChatMember == nil {
		return nil
	}
	var oldIn bool
	if u.OldChatMember != nil {
		oldIn = isPresent(u.OldChatMember.Role)
	}
	newIn := isPresent(u.NewChatMember.Role)
	if oldIn == newIn {
		return nil
	}
	mc := &kit.MembershipChange{Chat: convertChat(u.Chat), Joined: newIn}
	if u.NewChatMember.User != nil {
		mc.MemberID = u.NewChatMember.User.ID
	}
	return mc
}

func isPresent(r tele.MemberStatus) bool {
	switch r {
	case tele.Creator, tele.Administrator, tele.Member, tele.Restricted:
		return true
	}
	return false
}

func isChatNotFound(err error) bool {
	if errors.Is(err, tele.ErrChatNotFound) {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "chat not found")
}

// isPermanent reports client errors that say nothing about API health.
func isPermanent(err error) bool {
	var terr *tele.Error
	if errors.As(err, &terr) {
		return terr.Code >= 400 && terr.Code < 500 && terr.Code != 429
	}
	return isChatNotFound(err)
}

const textLimit = 4000

// splitText splits s into chunks of at most limit runes, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, len(rs)/limit+1)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
