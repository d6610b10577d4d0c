package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/supportrelay/internal/config"
	"github.com/edgard/supportrelay/internal/database"
	"github.com/edgard/supportrelay/internal/relay"
	"github.com/edgard/supportrelay/internal/telegram"
)

// Relay is the part of relay.Service the handlers drive.
type Relay interface {
	HandleStart(ctx context.Context, st relay.Start) error
	HandleJoined(ctx context.Context, userID int64, fullName string) error
	HandleJoinRequest(ctx context.Context, tr relay.JoinTransport, req relay.JoinRequest) error
	HandleInbound(ctx context.Context, in relay.Inbound) error
	Apologize(ctx context.Context, chatID int64)
}

// Transport is the Bot API surface the handlers use directly.
type Transport interface {
	relay.JoinTransport
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// HandlerDeps provides dependencies for Telegram update handlers.
type HandlerDeps struct {
	Logger    *slog.Logger
	Config    *config.Config
	Store     database.Store
	Relay     Relay
	Transport Transport
}

var _ Transport = (*telegram.Client)(nil)
