package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/supportrelay/internal/relay"
)

// IsJoinRequest matches chat_join_request updates.
func IsJoinRequest(update *models.Update) bool {
	return update.ChatJoinRequest != nil
}

// NewJoinRequestHandler returns a handler that approves channel join requests.
func NewJoinRequestHandler(deps HandlerDeps) bot.HandlerFunc {
	return joinRequestHandler{deps}.Handle
}

type joinRequestHandler struct {
	deps HandlerDeps
}

func (h joinRequestHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "join_request")
	req := update.ChatJoinRequest
	if req == nil {
		return
	}

	if channelID := h.deps.Config.Telegram.ChannelID; channelID != 0 && req.Chat.ID != channelID {
		log.DebugContext(ctx, "Ignoring join request for another chat", "chat_id", req.Chat.ID)
		return
	}

	if err := h.deps.Relay.HandleJoinRequest(ctx, h.deps.Transport, JoinRequestFrom(req)); err != nil {
		log.ErrorContext(ctx, "Failed to process join request", "error", err, "chat_id", req.Chat.ID, "user_id", req.From.ID)
	}
}

// JoinRequestFrom converts a Bot API join request.
func JoinRequestFrom(req *models.ChatJoinRequest) relay.JoinRequest {
	out := relay.JoinRequest{
		ChatID:   req.Chat.ID,
		UserID:   req.From.ID,
		FullName: FullName(&req.From),
		Username: req.From.Username,
	}
	if req.InviteLink != nil {
		out.InviteLink = req.InviteLink.InviteLink
		out.InviteName = req.InviteLink.Name
	}
	return out
}
