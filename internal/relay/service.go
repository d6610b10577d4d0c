package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/supportrelay/internal/config"
	"github.com/edgard/supportrelay/internal/database"
	"github.com/edgard/supportrelay/internal/notify"
	"github.com/edgard/supportrelay/internal/telegram"
)

// Sender delivers messages to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, kb telegram.Keyboard) error
	SendFile(ctx context.Context, chatID int64, up telegram.Upload) (*telegram.SentFile, error)
}

// PhotoSource looks up profile photos.
type PhotoSource interface {
	ProfilePhotoPath(ctx context.Context, userID int64) (string, error)
}

// Transport is the Bot API surface used by the relay.
type Transport interface {
	Sender
	PhotoSource
	ResolveFile(ctx context.Context, fileID string) (string, error)
	OpenFile(ctx context.Context, filePath, rangeHeader string) (*http.Response, error)
}

// Publisher fans events out to dashboard sessions. An empty room is global.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any, room string)
}

// LinkSource generates tracking links.
type LinkSource interface {
	ChannelLink(userID int64) string
	PersonalBotLink(ctx context.Context, userID int64) string
}

// Options configure a Service.
type Options struct {
	Messages             config.MessagesConfig
	ChannelURL           string
	ReceptionistID       int64
	MediaGroupWindow     time.Duration
	ProbeTimeout         time.Duration
	MaxPhotoSize         int64
	MaxFileSize          int64
	BroadcastConcurrency int
	Clock                clockwork.Clock
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Messages:             cfg.Telegram.Messages,
		ChannelURL:           cfg.Telegram.ChannelURL,
		ReceptionistID:       cfg.Telegram.ReceptionistID,
		MediaGroupWindow:     cfg.Relay.MediaGroupWindow,
		ProbeTimeout:         cfg.Relay.ProbeTimeout,
		MaxPhotoSize:         cfg.Relay.MaxPhotoSize,
		MaxFileSize:          cfg.Relay.MaxFileSize,
		BroadcastConcurrency: cfg.Relay.BroadcastConcurrency,
	}
}

// Service ties the store, transport and notifier together.
type Service struct {
	store      database.Store
	transport  Transport
	publisher  Publisher
	links      LinkSource
	aggregator *Aggregator
	prober     Prober
	opts       Options
	logger     *slog.Logger
}

// NewService creates a Service. transport may be nil for processes that only
// read the store; sends then fail with ErrSendFailed.
func NewService(store database.Store, transport Transport, publisher Publisher, links LinkSource, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.BroadcastConcurrency < 1 {
		opts.BroadcastConcurrency = 1
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}

	s := &Service{
		store:     store,
		transport: transport,
		publisher: publisher,
		links:     links,
		opts:      opts,
		logger:    logger.With("component", "relay"),
	}
	if transport != nil {
		s.prober = HeaderProber{Opener: transport, Timeout: opts.ProbeTimeout}
	}
	s.aggregator = NewAggregator(opts.Clock, opts.MediaGroupWindow, s.flushGroup)
	return s
}

// Close flushes media groups that are still collecting.
func (s *Service) Close() {
	s.aggregator.FlushAll()
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any, string) {}

// MessageEvent is the payload of new_message and admin_message_sent.
type MessageEvent struct {
	UserID    int64           `json:"user_id"`
	FullName  string          `json:"full_name,omitempty"`
	Username  string          `json:"username,omitempty"`
	Sender    database.Sender `json:"sender"`
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp"`
}

// UserJoinedEvent is the payload of new_user_joined.
type UserJoinedEvent struct {
	UserID     int64  `json:"user_id"`
	FullName   string `json:"full_name"`
	Username   string `json:"username"`
	InviteLink string `json:"invite_link,omitempty"`
	ReferredBy int64  `json:"referred_by,omitempty"`
}

func (s *Service) publishMessage(ctx context.Context, msg *database.Message, fullName, username, room string) {
	s.publisher.Publish(ctx, notify.EventNewMessage, MessageEvent{
		UserID:    msg.UserID,
		FullName:  fullName,
		Username:  username,
		Sender:    msg.Sender,
		Message:   msg.Text,
		Timestamp: msg.Timestamp,
	}, room)
}

// render substitutes the message placeholders.
func render(template string, name string, userID, referrerID int64, trackingLink string) string {
	return strings.NewReplacer(
		"{NAME}", name,
		"{USER_ID}", strconv.FormatInt(userID, 10),
		"{REFERRER_ID}", strconv.FormatInt(referrerID, 10),
		"{TRACKING_LINK}", trackingLink,
	).Replace(template)
}

// refreshPhoto resolves the user's profile photo reference. Failures are
// logged and yield "".
func (s *Service) refreshPhoto(ctx context.Context, photos PhotoSource, userID int64) string {
	if photos == nil {
		return ""
	}
	filePath, err := photos.ProfilePhotoPath(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "Could not fetch profile photo", "user_id", userID, "error", err)
		return ""
	}
	return telegram.MediaRef(filePath)
}

// logSendFailure logs a failed direct message. Users who blocked the bot are logged at info.
func (s *Service) logSendFailure(ctx context.Context, msg string, chatID int64, err error) {
	if telegram.IsKind(err, telegram.KindForbidden) {
		s.logger.InfoContext(ctx, msg+": user blocked the bot", "chat_id", chatID)
		return
	}
	s.logger.WarnContext(ctx, msg, "chat_id", chatID, "error", err)
}

func sendFailed(err error) error {
	if errors.Is(err, ErrSendFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSendFailed, err)
}
