package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/supportrelay/internal/relay"
	"github.com/edgard/supportrelay/internal/sanitize"
)

// NewStartHandler returns a handler for the /start command.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

// startHandler registers the user and sends the welcome matching the deep link.
type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")
	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Start handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	from := update.Message.From
	st := relay.Start{
		UserID:   from.ID,
		FullName: FullName(from),
		Username: from.Username,
		Payload:  StartPayload(update.Message.Text),
	}
	log.InfoContext(ctx, "Handling /start command", "chat_id", update.Message.Chat.ID, "user_id", from.ID, "payload", st.Payload)

	if err := h.deps.Relay.HandleStart(ctx, st); err != nil {
		log.ErrorContext(ctx, "Failed to handle /start", "error", err, "user_id", from.ID)
		h.deps.Relay.Apologize(ctx, update.Message.Chat.ID)
	}
}

// StartPayload returns the deep-link argument of a /start command.
func StartPayload(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// FullName joins a user's first and last name.
func FullName(u *models.User) string {
	if u == nil {
		return ""
	}
	return sanitize.FullName(u.FirstName, u.LastName)
}
