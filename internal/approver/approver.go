// Package approver runs a second, independent long-polling loop that only
// handles channel join requests. It can run in its own process next to the
// main bot.
package approver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/edgard/supportrelay/internal/config"
	"github.com/edgard/supportrelay/internal/logger"
	"github.com/edgard/supportrelay/internal/relay"
	"github.com/edgard/supportrelay/internal/sanitize"
	"github.com/edgard/supportrelay/internal/telegram"
)

// JoinHandler processes an approved-or-pending join request.
type JoinHandler interface {
	HandleJoinRequest(ctx context.Context, tr relay.JoinTransport, req relay.JoinRequest) error
}

// ErrNoToken is returned when telegram.approver_token is not configured.
var ErrNoToken = errors.New("telegram.approver_token is required for the approver")

// NewBot creates the telego client used by the approver. It always uses
// approver_token: the main bot polls Token, and Telegram serves one getUpdates
// consumer per token.
func NewBot(cfg config.TelegramConfig, log *slog.Logger) (*telego.Bot, error) {
	if cfg.ApproverToken == "" {
		return nil, ErrNoToken
	}
	b, err := telego.NewBot(cfg.ApproverToken,
		telego.WithAPIServer(strings.TrimRight(cfg.APIURL, "/")),
		telego.WithLogger(logger.Telego(log.With("component", "telego"))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create approver bot: %w", err)
	}
	return b, nil
}

// Client adapts telego to relay.JoinTransport.
type Client struct {
	bot         *telego.Bot
	textTimeout time.Duration
}

// NewClient wraps b with the configured call timeout.
func NewClient(b *telego.Bot, textTimeout time.Duration) *Client {
	return &Client{bot: b, textTimeout: textTimeout}
}

// ApproveJoinRequest approves a pending join request.
func (c *Client) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	if err := c.bot.ApproveChatJoinRequest(ctx, &telego.ApproveChatJoinRequestParams{
		ChatID: tu.ID(chatID),
		UserID: userID,
	}); err != nil {
		return telegram.Wrap("approveChatJoinRequest", err)
	}
	return nil
}

// SendText sends a text message with an optional inline keyboard.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, kb telegram.Keyboard) error {
	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	params := tu.Message(tu.ID(chatID), text)
	if len(kb) > 0 {
		params = params.WithReplyMarkup(inlineKeyboard(kb))
	}
	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return telegram.Wrap("sendMessage", err)
	}
	return nil
}

// BotUsername returns the username of the approver account.
func (c *Client) BotUsername(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return "", telegram.Wrap("getMe", err)
	}
	return me.Username, nil
}

// ProfilePhotoPath returns the file path of the user's current profile photo.
func (c *Client) ProfilePhotoPath(ctx context.Context, userID int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	photos, err := c.bot.GetUserProfilePhotos(ctx, &telego.GetUserProfilePhotosParams{UserID: userID, Limit: 1})
	if err != nil {
		return "", telegram.Wrap("getUserProfilePhotos", err)
	}
	if photos == nil || len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return "", nil
	}

	sizes := photos.Photos[0]
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: sizes[len(sizes)-1].FileID})
	if err != nil {
		return "", telegram.Wrap("getFile", err)
	}
	return file.FilePath, nil
}

func inlineKeyboard(kb telegram.Keyboard) *telego.InlineKeyboardMarkup {
	rows := make([][]telego.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			button := tu.InlineKeyboardButton(b.Text)
			switch {
			case b.URL != "":
				button = button.WithURL(b.URL)
			case b.CallbackData != "":
				button = button.WithCallbackData(b.CallbackData)
			}
			buttons = append(buttons, button)
		}
		rows = append(rows, tu.InlineKeyboardRow(buttons...))
	}
	return tu.InlineKeyboard(rows...)
}

// Approver long-polls for chat_join_request updates.
type Approver struct {
	bot         *telego.Bot
	client      *Client
	handler     JoinHandler
	channelID   int64
	pollTimeout time.Duration
	logger      *slog.Logger
}

// New creates an Approver. A zero channelID accepts requests for any chat.
func New(b *telego.Bot, handler JoinHandler, cfg config.TelegramConfig, log *slog.Logger) *Approver {
	return &Approver{
		bot:         b,
		client:      NewClient(b, cfg.TextTimeout),
		handler:     handler,
		channelID:   cfg.ChannelID,
		pollTimeout: cfg.PollTimeout,
		logger:      log.With("component", "approver"),
	}
}

// Run polls until ctx is cancelled.
func (a *Approver) Run(ctx context.Context) error {
	updates, err := a.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        int(a.pollTimeout.Seconds()),
		AllowedUpdates: []string{"chat_join_request"},
	})
	if err != nil {
		return fmt.Errorf("failed to start approver polling: %w", err)
	}

	a.logger.Info("Join request approver started", "channel_id", a.channelID)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Join request approver stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("approver update channel closed")
			}
			if update.ChatJoinRequest != nil {
				a.handle(ctx, update.UpdateID, update.ChatJoinRequest)
			}
		}
	}
}

func (a *Approver) handle(ctx context.Context, updateID int, req *telego.ChatJoinRequest) {
	if a.channelID != 0 && req.Chat.ID != a.channelID {
		a.logger.DebugContext(ctx, "Ignoring join request for another chat", "chat_id", req.Chat.ID)
		return
	}

	start := time.Now()
	err := a.handler.HandleJoinRequest(ctx, a.client, JoinRequestFrom(req))
	attrs := []any{"update_id", updateID, "chat_id", req.Chat.ID, "user_id", req.From.ID, "duration", time.Since(start)}
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to process join request", append(attrs, "error", err)...)
		return
	}
	a.logger.InfoContext(ctx, "Processed join request", attrs...)
}

// JoinRequestFrom converts a telego join request.
func JoinRequestFrom(req *telego.ChatJoinRequest) relay.JoinRequest {
	out := relay.JoinRequest{
		ChatID:   req.Chat.ID,
		UserID:   req.From.ID,
		FullName: sanitize.FullName(req.From.FirstName, req.From.LastName),
		Username: req.From.Username,
	}
	if req.InviteLink != nil {
		out.InviteLink = req.InviteLink.InviteLink
		out.InviteName = req.InviteLink.Name
	}
	return out
}
