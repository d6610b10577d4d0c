package handlers_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/supportrelay/internal/bot/handlers"
	"github.com/edgard/supportrelay/internal/config"
	"github.com/edgard/supportrelay/internal/database"
	"github.com/edgard/supportrelay/internal/logger"
	"github.com/edgard/supportrelay/internal/relay"
	"github.com/edgard/supportrelay/internal/telegram"
)

type fakeRelay struct {
	mu         sync.Mutex
	starts     []relay.Start
	joined     []int64
	joins      []relay.JoinRequest
	inbound    []relay.Inbound
	apologized []int64
	err        error
}

func (f *fakeRelay) HandleStart(_ context.Context, st relay.Start) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, st)
	return f.err
}

func (f *fakeRelay) HandleJoined(_ context.Context, userID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, userID)
	return f.err
}

func (f *fakeRelay) HandleJoinRequest(_ context.Context, _ relay.JoinTransport, req relay.JoinRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, req)
	return f.err
}

func (f *fakeRelay) HandleInbound(_ context.Context, in relay.Inbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, in)
	return f.err
}

func (f *fakeRelay) Apologize(_ context.Context, chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apologized = append(f.apologized, chatID)
}

type fakeTransport struct {
	texts     []string
	callbacks []string
}

func (f *fakeTransport) ApproveJoinRequest(context.Context, int64, int64) error { return nil }

func (f *fakeTransport) ProfilePhotoPath(context.Context, int64) (string, error) { return "", nil }

func (f *fakeTransport) SendText(_ context.Context, _ int64, text string, _ telegram.Keyboard) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, id, _ string) error {
	f.callbacks = append(f.callbacks, id)
	return nil
}

func newDeps() (handlers.HandlerDeps, *fakeRelay, *fakeTransport) {
	cfg := &config.Config{}
	cfg.Telegram.AdminUserID = 1
	cfg.Telegram.ChannelID = -100
	cfg.Telegram.Messages = config.DefaultMessages

	r := &fakeRelay{}
	tr := &fakeTransport{}
	return handlers.HandlerDeps{Logger: logger.Discard(), Config: cfg, Relay: r, Transport: tr}, r, tr
}

func privateMessage(from int64, text string) *models.Message {
	return &models.Message{
		ID:   1,
		From: &models.User{ID: from, FirstName: "Ann", LastName: "Lee", Username: "ann"},
		Chat: models.Chat{ID: from, Type: models.ChatTypePrivate},
		Text: text,
	}
}

func TestStartPayload(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/start":              "",
		"/start chat_42":      "chat_42",
		"/start   chat_7 more": "chat_7",
	}
	for in, want := range tests {
		if got := handlers.StartPayload(in); got != want {
			t.Errorf("StartPayload(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsUserMessage(t *testing.T) {
	t.Parallel()

	group := privateMessage(5, "hi")
	group.Chat.Type = models.ChatTypeGroup

	botMsg := privateMessage(5, "hi")
	botMsg.From.IsBot = true

	tests := []struct {
		name   string
		update *models.Update
		want   bool
	}{
		{name: "private text", update: &models.Update{Message: privateMessage(5, "hello")}, want: true},
		{name: "command", update: &models.Update{Message: privateMessage(5, "/start")}, want: false},
		{name: "group", update: &models.Update{Message: group}, want: false},
		{name: "bot sender", update: &models.Update{Message: botMsg}, want: false},
		{name: "callback", update: &models.Update{CallbackQuery: &models.CallbackQuery{ID: "x"}}, want: false},
	}
	for _, tt := range tests {
		if got := handlers.IsUserMessage(tt.update); got != tt.want {
			t.Errorf("%s: IsUserMessage() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestInboundFrom(t *testing.T) {
	t.Parallel()

	photo := privateMessage(5, "")
	photo.Photo = []models.PhotoSize{{FileID: "small", FileSize: 10}, {FileID: "large", FileSize: 900}}
	photo.Caption = "look"
	photo.MediaGroupID = "g1"

	voiceAudio := privateMessage(5, "")
	voiceAudio.Audio = &models.Audio{FileID: "a1", FileName: "memo.m4a"}

	imageDoc := privateMessage(5, "")
	imageDoc.Document = &models.Document{FileID: "d1", FileName: "scan.gif", MimeType: "image/gif"}

	pdf := privateMessage(5, "")
	pdf.Document = &models.Document{FileID: "d2", FileName: "a.pdf", MimeType: "application/pdf"}

	anim := privateMessage(5, "")
	anim.Animation = &models.Animation{FileID: "an1"}

	tests := []struct {
		name      string
		msg       *models.Message
		wantKind  relay.Kind
		wantImage bool
		wantFile  string
		wantText  string
	}{
		{name: "text", msg: privateMessage(5, "hello"), wantText: "hello"},
		{name: "largest photo", msg: photo, wantKind: relay.KindImage, wantImage: true, wantFile: "large"},
		{name: "m4a audio is voice", msg: voiceAudio, wantKind: relay.KindVoice, wantFile: "a1"},
		{name: "image document", msg: imageDoc, wantKind: relay.KindImage, wantImage: true, wantFile: "d1"},
		{name: "pdf document", msg: pdf, wantKind: relay.KindDocument, wantFile: "d2"},
		{name: "animation", msg: anim, wantKind: relay.KindGIF, wantFile: "an1"},
	}

	for _, tt := range tests {
		in, ok := handlers.InboundFrom(tt.msg)
		if !ok {
			t.Errorf("%s: InboundFrom() ok = false", tt.name)
			continue
		}
		if in.UserID != 5 || in.FullName != "Ann Lee" || in.Username != "ann" {
			t.Errorf("%s: sender = %d %q %q", tt.name, in.UserID, in.FullName, in.Username)
		}
		if tt.wantText != "" {
			if in.Text != tt.wantText || in.Attachment != nil {
				t.Errorf("%s: InboundFrom() = %+v", tt.name, in)
			}
			continue
		}
		att := in.Attachment
		if att == nil || att.Kind != tt.wantKind || att.ImageLike != tt.wantImage || att.FileID != tt.wantFile {
			t.Errorf("%s: attachment = %+v", tt.name, att)
		}
	}

	if in, _ := handlers.InboundFrom(photo); in.Caption != "look" || in.MediaGroupID != "g1" || in.Attachment.FileSize != 900 {
		t.Errorf("photo inbound = %+v", in)
	}
	if _, ok := handlers.InboundFrom(privateMessage(5, "")); ok {
		t.Error("InboundFrom(empty) ok = true")
	}
}

func TestMessageHandlerApologizesOnFailure(t *testing.T) {
	t.Parallel()
	deps, r, _ := newDeps()
	r.err = errors.New("db down")

	handlers.NewMessageHandler(deps)(context.Background(), nil, &models.Update{Message: privateMessage(9, "help")})

	if len(r.inbound) != 1 || len(r.apologized) != 1 || r.apologized[0] != 9 {
		t.Errorf("inbound = %d, apologized = %v", len(r.inbound), r.apologized)
	}
}

func TestStartHandler(t *testing.T) {
	t.Parallel()
	deps, r, _ := newDeps()

	handlers.NewStartHandler(deps)(context.Background(), nil, &models.Update{Message: privateMessage(9, "/start chat_3")})

	if len(r.starts) != 1 || r.starts[0].Payload != "chat_3" || r.starts[0].UserID != 9 {
		t.Errorf("starts = %+v", r.starts)
	}
}

func TestJoinRequestHandlerFiltersChannel(t *testing.T) {
	t.Parallel()
	deps, r, _ := newDeps()
	h := handlers.NewJoinRequestHandler(deps)

	h(context.Background(), nil, &models.Update{ChatJoinRequest: &models.ChatJoinRequest{
		Chat: models.Chat{ID: -999},
		From: models.User{ID: 4},
	}})
	h(context.Background(), nil, &models.Update{ChatJoinRequest: &models.ChatJoinRequest{
		Chat:       models.Chat{ID: -100},
		From:       models.User{ID: 4, FirstName: "Kim"},
		InviteLink: &models.ChatInviteLink{InviteLink: "https://t.me/c?ref=2"},
	}})

	if len(r.joins) != 1 {
		t.Fatalf("joins = %+v, want only the managed channel", r.joins)
	}
	if got := r.joins[0]; got.UserID != 4 || got.FullName != "Kim" || got.InviteLink != "https://t.me/c?ref=2" {
		t.Errorf("join request = %+v", got)
	}
}

func TestJoinedHandler(t *testing.T) {
	t.Parallel()
	deps, r, tr := newDeps()

	handlers.NewJoinedHandler(deps)(context.Background(), nil, &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb1",
		From: models.User{ID: 8},
		Data: relay.JoinedCallback,
	}})

	if len(tr.callbacks) != 1 || tr.callbacks[0] != "cb1" {
		t.Errorf("answered callbacks = %v", tr.callbacks)
	}
	if len(r.joined) != 1 || r.joined[0] != 8 {
		t.Errorf("joined = %v", r.joined)
	}
}

func TestAdminOnly(t *testing.T) {
	t.Parallel()
	deps, _, tr := newDeps()

	called := 0
	var next tgbot.HandlerFunc = func(context.Context, *tgbot.Bot, *models.Update) { called++ }
	h := handlers.AdminOnly(deps)(next)

	h(context.Background(), nil, &models.Update{Message: privateMessage(2, "/stats")})
	if called != 0 || len(tr.texts) != 1 || tr.texts[0] != config.DefaultMessages.NotAuthorized {
		t.Errorf("non-admin: called = %d, texts = %v", called, tr.texts)
	}

	h(context.Background(), nil, &models.Update{Message: privateMessage(1, "/stats")})
	if called != 1 {
		t.Errorf("admin: called = %d, want 1", called)
	}

	h(context.Background(), nil, &models.Update{CallbackQuery: &models.CallbackQuery{ID: "cb9", From: models.User{ID: 2}}})
	if called != 1 || len(tr.callbacks) != 1 || tr.callbacks[0] != "cb9" {
		t.Errorf("non-admin callback: called = %d, callbacks = %v", called, tr.callbacks)
	}

	h(context.Background(), nil, &models.Update{CallbackQuery: &models.CallbackQuery{ID: "cb10", From: models.User{ID: 1}}})
	if called != 2 {
		t.Errorf("admin callback: called = %d, want 2", called)
	}
}

func TestFormatStats(t *testing.T) {
	t.Parallel()

	got := handlers.FormatStats(
		&database.Stats{TotalUsers: 10, ActiveUsers: 2, TotalMessages: 40, NewJoinsToday: 1},
		&database.TrackingStats{
			TotalReferrals: 3,
			ConversionRate: 30,
			TopReferrers:   []database.Referrer{{UserID: 1, FullName: "Alice", ReferralCount: 2}, {UserID: 2, ReferralCount: 1}},
		},
	)
	for _, want := range []string{"Users: 10", "Messages: 40", "Referrals: 3 (30.0%", "1. Alice: 2", "2. ID 2: 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatStats() missing %q in:\n%s", want, got)
		}
	}
}

func TestRegisterAll(t *testing.T) {
	t.Parallel()
	deps, _, _ := newDeps()

	routes := handlers.RegisterAll(deps)
	for _, name := range []string{"/start", "/stats", "callback:joined_channel", "join_request", "user_message"} {
		route, ok := routes[name]
		if !ok || route.Handler == nil {
			t.Errorf("route %q missing", name)
		}
	}
	if len(routes["/stats"].Middleware) != 1 {
		t.Error("/stats is not admin-only")
	}
}
