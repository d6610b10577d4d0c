package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/supportrelay/internal/relay"
)

// IsUserMessage matches private messages that are not commands.
func IsUserMessage(update *models.Update) bool {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return false
	}
	if msg.Chat.Type != models.ChatTypePrivate {
		return false
	}
	return !strings.HasPrefix(msg.Text, "/")
}

// NewMessageHandler returns the handler relaying user messages to the dashboard.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return messageHandler{deps}.Handle
}

type messageHandler struct {
	deps HandlerDeps
}

func (h messageHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "message")
	in, ok := InboundFrom(update.Message)
	if !ok {
		log.DebugContext(ctx, "Ignoring unsupported message", "update_id", update.ID)
		return
	}

	if err := h.deps.Relay.HandleInbound(ctx, in); err != nil {
		log.ErrorContext(ctx, "Failed to relay user message", "error", err, "user_id", in.UserID)
		h.deps.Relay.Apologize(ctx, update.Message.Chat.ID)
	}
}

// InboundFrom converts a Bot API message. It reports false for messages
// carrying nothing the relay stores.
func InboundFrom(msg *models.Message) (relay.Inbound, bool) {
	if msg == nil || msg.From == nil {
		return relay.Inbound{}, false
	}

	in := relay.Inbound{
		UserID:       msg.From.ID,
		FullName:     FullName(msg.From),
		Username:     msg.From.Username,
		Caption:      msg.Caption,
		MediaGroupID: msg.MediaGroupID,
	}

	switch {
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		in.Attachment = &relay.Attachment{Kind: relay.KindImage, ImageLike: true, FileID: p.FileID, FileSize: int64(p.FileSize)}
	case msg.Animation != nil:
		a := msg.Animation
		in.Attachment = &relay.Attachment{Kind: relay.KindGIF, FileID: a.FileID, FileName: a.FileName, MimeType: a.MimeType, FileSize: int64(a.FileSize)}
	case msg.Video != nil:
		v := msg.Video
		in.Attachment = &relay.Attachment{Kind: relay.KindVideo, FileID: v.FileID, FileName: v.FileName, MimeType: v.MimeType, FileSize: int64(v.FileSize)}
	case msg.Voice != nil:
		v := msg.Voice
		in.Attachment = &relay.Attachment{Kind: relay.KindVoice, FileID: v.FileID, MimeType: v.MimeType, FileSize: int64(v.FileSize)}
	case msg.Audio != nil:
		a := msg.Audio
		in.Attachment = &relay.Attachment{Kind: relay.ClassifyAudio(a.FileName), FileID: a.FileID, FileName: a.FileName, MimeType: a.MimeType, FileSize: int64(a.FileSize)}
	case msg.Document != nil:
		d := msg.Document
		att := &relay.Attachment{Kind: relay.KindDocument, FileID: d.FileID, FileName: d.FileName, MimeType: d.MimeType, FileSize: int64(d.FileSize)}
		if strings.HasPrefix(d.MimeType, "image/") {
			att.Kind, att.ImageLike = relay.KindImage, true
		}
		in.Attachment = att
	case msg.Text != "":
		in.Text = msg.Text
	default:
		return relay.Inbound{}, false
	}
	return in, true
}
