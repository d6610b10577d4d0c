// Package telegram is the transport boundary to the Telegram Bot API: bot setup,
// handler registration, a timeout-bounded client and tagged error kinds.
package telegram

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-telegram/bot"
)

// Route describes one handler registration. When Match is set it takes
// precedence over HandlerType/Pattern/MatchType.
type Route struct {
	HandlerType bot.HandlerType
	Pattern     string
	MatchType   bot.MatchType
	Match       bot.MatchFunc
	Handler     bot.HandlerFunc
	Middleware  []bot.Middleware
}

// AllowedUpdates returns the update kinds the relay polls for. Join requests
// are left out when a separate approver bot handles them.
func AllowedUpdates(joinRequests bool) bot.AllowedUpdates {
	kinds := bot.AllowedUpdates{"message", "callback_query"}
	if joinRequests {
		kinds = append(kinds, "chat_join_request")
	}
	return kinds
}

// NewTelegramBot creates a new Telegram bot instance using the go-telegram/bot library.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info("Telegram bot instance created successfully")
	return b, nil
}

// applyMiddleware wraps a handler function with a slice of middleware.
// Middleware are applied in reverse order so the first one in the slice is the outermost.
func applyMiddleware(handler bot.HandlerFunc, mw []bot.Middleware) bot.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// RegisterHandlers registers routes with the bot in a stable order.
func RegisterHandlers(b *bot.Bot, logger *slog.Logger, routes map[string]Route) error {
	if b == nil {
		return fmt.Errorf("bot instance cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "handler_registry")

	if len(routes) == 0 {
		log.Warn("No handlers provided for registration.")
		return nil
	}

	names := make([]string, 0, len(routes))
	for name := range routes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		route := routes[name]
		if route.Handler == nil {
			log.Warn("Skipping registration for nil handler", "route", name)
			continue
		}

		finalHandler := applyMiddleware(route.Handler, route.Middleware)
		if route.Match != nil {
			b.RegisterHandlerMatchFunc(route.Match, finalHandler)
		} else {
			b.RegisterHandler(route.HandlerType, route.Pattern, route.MatchType, finalHandler)
		}
		log.Debug("Registered handler", "route", name, "pattern", route.Pattern, "middleware_count", len(route.Middleware))
	}

	log.Info("Registered Telegram handlers successfully", "count", len(routes))
	return nil
}
