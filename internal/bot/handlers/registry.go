package handlers

import (
	tgbot "github.com/go-telegram/bot"

	"github.com/edgard/supportrelay/internal/relay"
	"github.com/edgard/supportrelay/internal/telegram"
)

// RegisterAll returns every update route of the relay bot.
func RegisterAll(deps HandlerDeps) map[string]telegram.Route {
	routes := make(map[string]telegram.Route)

	routes["/start"] = telegram.Route{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "start",
		Handler:     NewStartHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}

	routes["/stats"] = telegram.Route{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "stats",
		Handler:     NewStatsHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  []tgbot.Middleware{AdminOnly(deps)},
	}

	routes["callback:"+relay.JoinedCallback] = telegram.Route{
		HandlerType: tgbot.HandlerTypeCallbackQueryData,
		Pattern:     relay.JoinedCallback,
		Handler:     NewJoinedHandler(deps),
		MatchType:   tgbot.MatchTypeExact,
	}

	routes["join_request"] = telegram.Route{
		Match:   IsJoinRequest,
		Handler: NewJoinRequestHandler(deps),
	}

	routes["user_message"] = telegram.Route{
		Match:   IsUserMessage,
		Handler: NewMessageHandler(deps),
	}

	return routes
}
