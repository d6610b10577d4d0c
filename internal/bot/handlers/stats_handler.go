package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/supportrelay/internal/database"
)

// NewStatsHandler returns a handler for the admin /stats command.
func NewStatsHandler(deps HandlerDeps) bot.HandlerFunc {
	return statsHandler{deps}.Handle
}

// statsHandler sends the dashboard counters and top referrers to the admin.
type statsHandler struct {
	deps HandlerDeps
}

func (h statsHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "stats")
	if update.Message == nil || update.Message.From == nil {
		log.ErrorContext(ctx, "Stats handler called with nil Message or From", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	log.InfoContext(ctx, "Admin requested stats", "chat_id", chatID, "user_id", update.Message.From.ID)

	stats, err := h.deps.Store.Stats(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load stats", "error", err)
		h.deps.Relay.Apologize(ctx, chatID)
		return
	}
	tracking, err := h.deps.Store.TrackingStats(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load tracking stats", "error", err)
		h.deps.Relay.Apologize(ctx, chatID)
		return
	}

	if err := h.deps.Transport.SendText(ctx, chatID, FormatStats(stats, tracking), nil); err != nil {
		log.ErrorContext(ctx, "Failed to send stats", "error", err, "chat_id", chatID)
	}
}

// FormatStats renders the /stats reply.
func FormatStats(stats *database.Stats, tracking *database.TrackingStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Users: %d\n", stats.TotalUsers)
	fmt.Fprintf(&sb, "🟢 Active (last hour): %d\n", stats.ActiveUsers)
	fmt.Fprintf(&sb, "💬 Messages: %d\n", stats.TotalMessages)
	fmt.Fprintf(&sb, "🆕 Joined today: %d\n", stats.NewJoinsToday)
	fmt.Fprintf(&sb, "🔗 Referrals: %d (%.1f%% of users tracked)\n", tracking.TotalReferrals, tracking.ConversionRate)

	if len(tracking.TopReferrers) > 0 {
		sb.WriteString("\nTop referrers:\n")
		for i, r := range tracking.TopReferrers {
			name := r.FullName
			if name == "" {
				name = fmt.Sprintf("ID %d", r.UserID)
			}
			fmt.Fprintf(&sb, "%d. %s: %d\n", i+1, name, r.ReferralCount)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
