// Package handlers contains Telegram update handlers, their registration
// logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// AdminOnly lets only the configured admin through. A denied command gets the
// not-authorized text; a denied callback is answered with it.
func AdminOnly(deps HandlerDeps) tgbot.Middleware {
	log := deps.Logger.With("middleware", "admin_only")
	deny := deps.Config.Telegram.Messages.NotAuthorized

	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			switch {
			case update.Message != nil && update.Message.From != nil:
				userID, chatID := update.Message.From.ID, update.Message.Chat.ID
				if deps.Config.IsAdmin(userID) {
					next(ctx, bot, update)
					return
				}
				log.WarnContext(ctx, "Rejected admin command", "user_id", userID, "chat_id", chatID)
				if err := deps.Transport.SendText(ctx, chatID, deny, nil); err != nil {
					log.ErrorContext(ctx, "Failed to send not-authorized text", "error", err, "chat_id", chatID)
				}

			case update.CallbackQuery != nil:
				cq := update.CallbackQuery
				if deps.Config.IsAdmin(cq.From.ID) {
					next(ctx, bot, update)
					return
				}
				log.WarnContext(ctx, "Rejected admin callback", "user_id", cq.From.ID)
				if err := deps.Transport.AnswerCallback(ctx, cq.ID, deny); err != nil {
					log.ErrorContext(ctx, "Failed to answer callback", "error", err, "callback_id", cq.ID)
				}
			}
		}
	}
}
