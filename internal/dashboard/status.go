package dashboard

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/supportrelay/internal/database"
)

const botCheckTimeout = 5 * time.Second

type botStatusView struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

// botStatus calls getMe on every configured bot account. A failing bot is
// reported in its entry; the request itself still succeeds.
func (s *Server) botStatus(w http.ResponseWriter, r *http.Request) {
	views := make([]botStatusView, len(s.deps.Bots))

	var g errgroup.Group
	for i, check := range s.deps.Bots {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), botCheckTimeout)
			defer cancel()

			views[i] = botStatusView{Name: check.Name}
			username, err := check.Bot.BotUsername(ctx)
			if err != nil {
				s.logger.WarnContext(ctx, "Bot status check failed", "bot", check.Name, "error", err)
				views[i].Error = err.Error()
				return nil
			}
			views[i].OK = true
			views[i].Username = username
			return nil
		})
	}
	_ = g.Wait()

	writeSuccess(w, map[string]any{
		"bots":        views,
		"channel_id":  s.deps.ChannelID,
		"channel_url": s.deps.ChannelURL,
		"timestamp":   s.now().Format(database.TimeLayout),
	})
}
