package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/supportrelay/internal/config"
)

// MediaPrefix is the dashboard path under which Telegram files are proxied.
const MediaPrefix = "/media/"

// UploadMethod selects the Bot API method used to deliver a file.
type UploadMethod int

// Upload methods.
const (
	UploadDocument UploadMethod = iota
	UploadPhoto
	UploadAnimation
	UploadVideo
	UploadAudio
	UploadVoice
)

// Upload is one file to send.
type Upload struct {
	Method   UploadMethod
	Filename string
	Data     io.Reader
	Caption  string
}

// SentFile identifies what Telegram stored for an upload.
type SentFile struct {
	MessageID int
	FileID    string
}

// Button is an inline keyboard button; exactly one of URL or CallbackData is set.
type Button struct {
	Text         string
	URL          string
	CallbackData string
}

// Keyboard is a grid of inline buttons.
type Keyboard [][]Button

// MediaRef is the stored reference for a Telegram file path. It points at the
// dashboard media proxy so the bot token never reaches the database.
func MediaRef(filePath string) string {
	if filePath == "" {
		return ""
	}
	return MediaPrefix + strings.TrimPrefix(filePath, "/")
}

// Client wraps go-telegram/bot with fixed timeouts and tagged errors.
type Client struct {
	bot         *bot.Bot
	token       string
	apiURL      string
	textTimeout time.Duration
	fileTimeout time.Duration
	httpClient  *http.Client
	breaker     *Breaker
	logger      *slog.Logger
}

// NewClient wraps b. The HTTP client is used for file downloads only.
func NewClient(b *bot.Bot, cfg config.TelegramConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_client")
	return &Client{
		bot:         b,
		token:       cfg.Token,
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		textTimeout: cfg.TextTimeout,
		fileTimeout: cfg.FileTimeout,
		httpClient:  &http.Client{Timeout: cfg.FileTimeout},
		breaker:     NewBreaker("telegram_api", defaultBreakerFailures, defaultBreakerCooldown, log),
		logger:      log,
	}
}

// SendText sends a text message, optionally with an inline keyboard.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, kb Keyboard) error {
	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	params := &bot.SendMessageParams{ChatID: chatID, Text: text}
	if len(kb) > 0 {
		params.ReplyMarkup = inlineKeyboard(kb)
	}

	return c.breaker.Do("sendMessage", func() error {
		_, err := c.bot.SendMessage(ctx, params)
		return Wrap("sendMessage", err)
	})
}

// SendFile uploads one file with the method selected by up.Method.
func (c *Client) SendFile(ctx context.Context, chatID int64, up Upload) (*SentFile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fileTimeout)
	defer cancel()

	file := &models.InputFileUpload{Filename: up.Filename, Data: up.Data}

	var (
		msg *models.Message
		op  string
	)
	err := c.breaker.Do("sendFile", func() error {
		var err error
		msg, op, err = c.sendFile(ctx, chatID, up, file)
		return Wrap(op, err)
	})
	if err != nil {
		return nil, err
	}

	return &SentFile{MessageID: msg.ID, FileID: SentFileID(msg)}, nil
}

func (c *Client) sendFile(ctx context.Context, chatID int64, up Upload, file models.InputFile) (msg *models.Message, op string, err error) {
	switch up.Method {
	case UploadPhoto:
		op = "sendPhoto"
		msg, err = c.bot.SendPhoto(ctx, &bot.SendPhotoParams{ChatID: chatID, Photo: file, Caption: up.Caption})
	case UploadAnimation:
		op = "sendAnimation"
		msg, err = c.bot.SendAnimation(ctx, &bot.SendAnimationParams{ChatID: chatID, Animation: file, Caption: up.Caption})
	case UploadVideo:
		op = "sendVideo"
		msg, err = c.bot.SendVideo(ctx, &bot.SendVideoParams{ChatID: chatID, Video: file, Caption: up.Caption})
	case UploadAudio:
		op = "sendAudio"
		msg, err = c.bot.SendAudio(ctx, &bot.SendAudioParams{ChatID: chatID, Audio: file, Caption: up.Caption})
	case UploadVoice:
		op = "sendVoice"
		msg, err = c.bot.SendVoice(ctx, &bot.SendVoiceParams{ChatID: chatID, Voice: file, Caption: up.Caption})
	default:
		op = "sendDocument"
		msg, err = c.bot.SendDocument(ctx, &bot.SendDocumentParams{ChatID: chatID, Document: file, Caption: up.Caption})
	}
	return msg, op, err
}

// SentFileID extracts the stored file id from a message carrying one attachment.
func SentFileID(msg *models.Message) string {
	switch {
	case msg == nil:
		return ""
	case len(msg.Photo) > 0:
		return msg.Photo[len(msg.Photo)-1].FileID
	case msg.Animation != nil:
		return msg.Animation.FileID
	case msg.Video != nil:
		return msg.Video.FileID
	case msg.Voice != nil:
		return msg.Voice.FileID
	case msg.Audio != nil:
		return msg.Audio.FileID
	case msg.Document != nil:
		return msg.Document.FileID
	default:
		return ""
	}
}

// ResolveFile returns the server-side path of a file id.
func (c *Client) ResolveFile(ctx context.Context, fileID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	var filePath string
	err := c.breaker.Do("getFile", func() error {
		f, err := c.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
		if err != nil {
			return Wrap("getFile", err)
		}
		filePath = f.FilePath
		return nil
	})
	return filePath, err
}

// ProfilePhotoPath returns the file path of the user's current profile photo,
// or "" when the user has none.
func (c *Client) ProfilePhotoPath(ctx context.Context, userID int64) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	var photos *models.UserProfilePhotos
	err := c.breaker.Do("getUserProfilePhotos", func() error {
		var err error
		photos, err = c.bot.GetUserProfilePhotos(reqCtx, &bot.GetUserProfilePhotosParams{UserID: userID, Limit: 1})
		return Wrap("getUserProfilePhotos", err)
	})
	if err != nil {
		return "", err
	}
	if photos == nil || len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return "", nil
	}
	sizes := photos.Photos[0]
	return c.ResolveFile(ctx, sizes[len(sizes)-1].FileID)
}

// ApproveJoinRequest approves a pending join request.
func (c *Client) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	return c.breaker.Do("approveChatJoinRequest", func() error {
		_, err := c.bot.ApproveChatJoinRequest(ctx, &bot.ApproveChatJoinRequestParams{ChatID: chatID, UserID: userID})
		return Wrap("approveChatJoinRequest", err)
	})
}

// AnswerCallback acknowledges a callback query.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	return c.breaker.Do("answerCallbackQuery", func() error {
		_, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID, Text: text})
		return Wrap("answerCallbackQuery", err)
	})
}

// BotUsername returns the bot's @username without the @.
func (c *Client) BotUsername(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return "", Wrap("getMe", err)
	}
	return me.Username, nil
}

// OpenFile streams a Telegram file. rangeHeader is forwarded when non-empty.
// The caller closes the body.
func (c *Client) OpenFile(ctx context.Context, filePath, rangeHeader string) (*http.Response, error) {
	return openFile(ctx, c.httpClient, c.fileURL(filePath), rangeHeader)
}

func (c *Client) fileURL(filePath string) string {
	return fmt.Sprintf("%s/file/bot%s/%s", c.apiURL, c.token, strings.TrimPrefix(filePath, "/"))
}

func openFile(ctx context.Context, client *http.Client, fileURL, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build file request: %w", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := client.Do(req)
	if err != nil {
		// The URL embeds the token; keep it out of logs.
		var uErr *url.Error
		if errors.As(err, &uErr) {
			err = uErr.Err
		}
		return nil, &Error{Op: "downloadFile", Kind: KindUnknown, Err: err}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		_ = resp.Body.Close()
		kind := KindUnknown
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
			kind = KindNotFound
		}
		return nil, &Error{Op: "downloadFile", Kind: kind, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return resp, nil
}

func inlineKeyboard(kb Keyboard) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, models.InlineKeyboardButton{Text: b.Text, URL: b.URL, CallbackData: b.CallbackData})
		}
		rows = append(rows, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
