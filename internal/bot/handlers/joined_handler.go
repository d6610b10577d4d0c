package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewJoinedHandler returns a handler for the "I've joined" button.
func NewJoinedHandler(deps HandlerDeps) bot.HandlerFunc {
	return joinedHandler{deps}.Handle
}

type joinedHandler struct {
	deps HandlerDeps
}

func (h joinedHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "joined")
	query := update.CallbackQuery
	if query == nil {
		return
	}

	if err := h.deps.Transport.AnswerCallback(ctx, query.ID, ""); err != nil {
		log.WarnContext(ctx, "Failed to answer callback", "error", err, "user_id", query.From.ID)
	}
	if err := h.deps.Relay.HandleJoined(ctx, query.From.ID, FullName(&query.From)); err != nil {
		log.ErrorContext(ctx, "Failed to thank user for joining", "error", err, "user_id", query.From.ID)
	}
}
