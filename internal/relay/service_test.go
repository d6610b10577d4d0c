package relay_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/supportrelay/internal/config"
	"github.com/edgard/supportrelay/internal/database"
	"github.com/edgard/supportrelay/internal/links"
	"github.com/edgard/supportrelay/internal/logger"
	"github.com/edgard/supportrelay/internal/notify"
	"github.com/edgard/supportrelay/internal/relay"
	"github.com/edgard/supportrelay/internal/telegram"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type sentText struct {
	chatID int64
	text   string
	kb     telegram.Keyboard
}

type sentUpload struct {
	chatID   int64
	method   telegram.UploadMethod
	filename string
	caption  string
	data     []byte
}

type fakeTransport struct {
	mu         sync.Mutex
	texts      []sentText
	uploads    []sentUpload
	approved   []int64
	textErr    map[int64]error
	approveErr error
	paths      map[string]string
	content    map[string][]byte
	photo      string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		textErr: map[int64]error{},
		paths:   map[string]string{},
		content: map[string][]byte{},
	}
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, text string, kb telegram.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.textErr[chatID]; err != nil {
		return err
	}
	f.texts = append(f.texts, sentText{chatID: chatID, text: text, kb: kb})
	return nil
}

func (f *fakeTransport) SendFile(_ context.Context, chatID int64, up telegram.Upload) (*telegram.SentFile, error) {
	data, err := io.ReadAll(up.Data)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, sentUpload{chatID: chatID, method: up.Method, filename: up.Filename, caption: up.Caption, data: data})
	return &telegram.SentFile{MessageID: len(f.uploads), FileID: "sent-" + up.Filename}, nil
}

func (f *fakeTransport) ResolveFile(_ context.Context, fileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.paths[fileID]
	if !ok {
		return "", &telegram.Error{Op: "getFile", Kind: telegram.KindNotFound, Err: errors.New("file not found")}
	}
	return p, nil
}

func (f *fakeTransport) ProfilePhotoPath(context.Context, int64) (string, error) {
	return f.photo, nil
}

func (f *fakeTransport) OpenFile(_ context.Context, filePath, _ string) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.content[filePath]
	if !ok {
		return nil, &telegram.Error{Op: "downloadFile", Kind: telegram.KindNotFound, Err: errors.New("missing")}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeTransport) ApproveJoinRequest(_ context.Context, _, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.approveErr != nil {
		return f.approveErr
	}
	f.approved = append(f.approved, userID)
	return nil
}

func (f *fakeTransport) textsTo(chatID int64) []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentText
	for _, s := range f.texts {
		if s.chatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

type published struct {
	event string
	room  string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	ch     chan published
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{ch: make(chan published, 64)}
}

func (p *recordingPublisher) Publish(_ context.Context, event string, _ any, room string) {
	p.mu.Lock()
	p.events = append(p.events, published{event: event, room: room})
	p.mu.Unlock()
	p.ch <- published{event: event, room: room}
}

func (p *recordingPublisher) count(event, room string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.event == event && e.room == room {
			n++
		}
	}
	return n
}

type fixture struct {
	svc       *relay.Service
	store     database.Store
	transport *fakeTransport
	publisher *recordingPublisher
	clock     *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	clock := clockwork.NewFakeClockAt(time.Date(2025, time.June, 1, 9, 0, 0, 0, time.Local))
	store := database.NewStore(db, logger.Discard(), database.WithClock(clock))
	transport := newFakeTransport()
	publisher := newRecordingPublisher()
	gen := links.NewGenerator(links.Options{
		ChannelURL: "https://t.me/community",
		BotToken:   "123:abc",
		TTL:        time.Hour,
		Clock:      clock,
	}, nil, logger.Discard())

	svc := relay.NewService(store, transport, publisher, gen, relay.Options{
		Messages:             config.DefaultMessages,
		ChannelURL:           "https://t.me/community",
		ReceptionistID:       900,
		MediaGroupWindow:     500 * time.Millisecond,
		ProbeTimeout:         time.Second,
		MaxPhotoSize:         config.DefaultMaxPhotoSize,
		MaxFileSize:          config.DefaultMaxFileSize,
		BroadcastConcurrency: 2,
		Clock:                clock,
	}, logger.Discard())
	t.Cleanup(svc.Close)

	return &fixture{svc: svc, store: store, transport: transport, publisher: publisher, clock: clock}
}

func (f *fixture) history(t *testing.T, userID int64) []database.Message {
	t.Helper()
	msgs, err := f.store.History(context.Background(), userID, 100)
	if err != nil {
		t.Fatalf("History(%d) error = %v", userID, err)
	}
	return msgs
}

func memFile(name string, size int64, head []byte) relay.File {
	return relay.File{Name: name, Size: size, Content: bytes.NewReader(head)}
}

func TestSendToUserRejectsOversizePhoto(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.SendToUser(context.Background(), 10, "look", []relay.File{
		memFile("huge.png", 21<<20, pngHeader),
	})

	var vErr *relay.ValidationError
	if !errors.As(err, &vErr) || !errors.Is(err, relay.ErrFileTooLarge) {
		t.Fatalf("SendToUser() error = %v, want ValidationError wrapping ErrFileTooLarge", err)
	}
	if vErr.Filename != "huge.png" || vErr.Limit != config.DefaultMaxPhotoSize {
		t.Errorf("ValidationError = %+v", vErr)
	}
	if !strings.Contains(err.Error(), "huge.png") || !strings.Contains(err.Error(), "20MB") {
		t.Errorf("error text %q lacks filename or limit", err)
	}
	if got := f.history(t, 10); len(got) != 0 {
		t.Errorf("history = %+v, want no rows", got)
	}
	if len(f.transport.texts) != 0 || len(f.transport.uploads) != 0 {
		t.Error("transport was called for a rejected upload")
	}
}

func TestSendToUserHoldsImageLikeFilesToPhotoLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file relay.File
	}{
		{name: "gif by content", file: memFile("loop.bin", 21<<20, []byte("GIF89a\x01\x00"))},
		{name: "gif by name", file: memFile("loop.GIF", 21<<20, pngHeader)},
		{name: "declared image", file: relay.File{Name: "scan", MIME: "image/tiff", Size: 21 << 20, Content: bytes.NewReader([]byte("????"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			_, err := f.svc.SendToUser(context.Background(), 10, "", []relay.File{tt.file})
			var vErr *relay.ValidationError
			if !errors.As(err, &vErr) || vErr.Limit != config.DefaultMaxPhotoSize {
				t.Fatalf("SendToUser() error = %v, want photo-limit ValidationError", err)
			}
			if len(f.transport.uploads) != 0 {
				t.Error("transport was called for a rejected upload")
			}
		})
	}
}

func TestSendToUserRejectsOversizeFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.SendToUser(context.Background(), 10, "", []relay.File{
		memFile("archive.zip", 51<<20, []byte("PK\x03\x04")),
	})
	if !errors.Is(err, relay.ErrFileTooLarge) {
		t.Fatalf("SendToUser() error = %v, want ErrFileTooLarge", err)
	}
}

func TestSendToUserRequiresContent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if _, err := f.svc.SendToUser(context.Background(), 10, "   ", nil); !errors.Is(err, relay.ErrEmptyMessage) {
		t.Errorf("SendToUser() error = %v, want ErrEmptyMessage", err)
	}
}

func TestSendToUserTextAndFiles(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.transport.paths["sent-cat.png"] = "photos/file_7.png"

	res, err := f.svc.SendToUser(ctx, 10, "here you go", []relay.File{
		memFile("cat.png", int64(len(pngHeader)), pngHeader),
		memFile("dance.gif", 10, []byte("GIF89a\x00\x00\x00\x00")),
	})
	if err != nil {
		t.Fatalf("SendToUser() error = %v", err)
	}
	if len(res.Messages) != 3 {
		t.Fatalf("recorded %d messages, want 3", len(res.Messages))
	}

	if len(f.transport.texts) != 0 {
		t.Errorf("text sent separately %d times, want it as caption", len(f.transport.texts))
	}
	if len(f.transport.uploads) != 2 {
		t.Fatalf("uploads = %d, want 2", len(f.transport.uploads))
	}
	first, second := f.transport.uploads[0], f.transport.uploads[1]
	if first.method != telegram.UploadPhoto || first.caption != "here you go" || !bytes.Equal(first.data, pngHeader) {
		t.Errorf("first upload = %+v", first)
	}
	if second.method != telegram.UploadAnimation || second.caption != "" {
		t.Errorf("second upload = %+v", second)
	}

	history := f.history(t, 10)
	want := []string{"here you go", "[image]/media/photos/file_7.png", "[gif]admin-sent-dance.gif"}
	for i, msg := range history {
		if msg.Sender != database.SenderAdmin || msg.Text != want[i] {
			t.Errorf("history[%d] = %s %q, want admin %q", i, msg.Sender, msg.Text, want[i])
		}
	}

	room := notify.Room(10)
	if got := f.publisher.count(notify.EventNewMessage, room); got != 3 {
		t.Errorf("new_message events in %s = %d, want 3", room, got)
	}
	if got := f.publisher.count(notify.EventAdminMessageSent, room); got != 1 {
		t.Errorf("admin_message_sent events = %d, want 1", got)
	}
}

func TestSendToUserTransportFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transport.textErr[10] = &telegram.Error{Op: "sendMessage", Kind: telegram.KindForbidden, Err: errors.New("Forbidden: bot was blocked by the user")}

	_, err := f.svc.SendToUser(context.Background(), 10, "hello", nil)
	if !errors.Is(err, relay.ErrSendFailed) || !telegram.IsKind(err, telegram.KindForbidden) {
		t.Fatalf("SendToUser() error = %v, want ErrSendFailed with forbidden kind", err)
	}
	if !strings.Contains(err.Error(), "bot was blocked") {
		t.Errorf("error %q lost the provider text", err)
	}
	if got := f.history(t, 10); len(got) != 1 {
		t.Errorf("history rows = %d, want the text recorded before sending", len(got))
	}
}

func TestBroadcast(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if _, err := f.store.UpsertUser(ctx, database.NewUser{UserID: id, FullName: "user"}); err != nil {
			t.Fatalf("UpsertUser(%d) error = %v", id, err)
		}
	}
	f.transport.textErr[2] = &telegram.Error{Op: "sendMessage", Kind: telegram.KindForbidden, Err: errors.New("blocked")}

	res, err := f.svc.Broadcast(ctx, "news", nil)
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if res.Total != 3 || res.Count != 2 {
		t.Errorf("Broadcast() = %+v, want count 2 of 3", res)
	}

	for _, id := range []int64{1, 2, 3} {
		msgs := f.history(t, id)
		if len(msgs) != 1 || msgs[0].Sender != database.SenderAdmin || msgs[0].Text != "news" {
			t.Errorf("user %d history = %+v, want one admin row", id, msgs)
		}
	}
}

func TestBroadcastValidatesFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.UpsertUser(ctx, database.NewUser{UserID: 1}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Broadcast(ctx, "x", []relay.File{memFile("big.png", 25<<20, pngHeader)}); !errors.Is(err, relay.ErrFileTooLarge) {
		t.Fatalf("Broadcast() error = %v, want ErrFileTooLarge", err)
	}
	if got := f.history(t, 1); len(got) != 0 {
		t.Errorf("history = %+v, want nothing recorded", got)
	}
}

func TestHandleInboundText(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transport.photo = "profile_photos/p1.jpg"

	err := f.svc.HandleInbound(context.Background(), relay.Inbound{UserID: 55, FullName: "Eve", Username: "eve", Text: "hi there"})
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}

	u, err := f.store.GetUser(context.Background(), 55)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.PhotoURL.String != "/media/profile_photos/p1.jpg" {
		t.Errorf("photo_url = %q", u.PhotoURL.String)
	}

	msgs := f.history(t, 55)
	if len(msgs) != 1 || msgs[0].Text != "hi there" || msgs[0].Sender != database.SenderUser {
		t.Errorf("history = %+v", msgs)
	}
	if f.publisher.count(notify.EventNewMessage, "") != 1 {
		t.Error("inbound message was not published globally")
	}
}

func TestHandleInboundPhotoDetectsGIFByContent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transport.paths["ph1"] = "photos/file_1.jpg"
	f.transport.content["photos/file_1.jpg"] = []byte("GIF89a....")

	err := f.svc.HandleInbound(context.Background(), relay.Inbound{
		UserID:     56,
		Attachment: &relay.Attachment{Kind: relay.KindImage, ImageLike: true, FileID: "ph1", FileSize: 1024},
	})
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if msgs := f.history(t, 56); len(msgs) != 1 || msgs[0].Text != "[gif]/media/photos/file_1.jpg" {
		t.Errorf("history = %+v", msgs)
	}
}

func TestHandleInboundUnresolvedFileDegrades(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	err := f.svc.HandleInbound(context.Background(), relay.Inbound{
		UserID:     57,
		Attachment: &relay.Attachment{Kind: relay.KindImage, ImageLike: true, FileID: "lost"},
	})
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if msgs := f.history(t, 57); len(msgs) != 1 || msgs[0].Text != "[image]lost" {
		t.Errorf("history = %+v, want image with file id reference", msgs)
	}
}

func TestHandleInboundOversize(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	err := f.svc.HandleInbound(context.Background(), relay.Inbound{
		UserID:     58,
		Attachment: &relay.Attachment{Kind: relay.KindVideo, FileID: "v", FileSize: 30 << 20},
	})
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if msgs := f.history(t, 58); len(msgs) != 0 {
		t.Errorf("history = %+v, want nothing recorded", msgs)
	}
	if texts := f.transport.textsTo(58); len(texts) != 1 || texts[0].text != config.DefaultMessages.FileTooLarge {
		t.Errorf("replies = %+v, want the file size notice", texts)
	}
}

func TestHandleInboundMediaGroup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.transport.paths["a"] = "photos/a.jpg"
	f.transport.content["photos/a.jpg"] = pngHeader
	f.transport.paths["b"] = "videos/b.mp4"

	for _, in := range []relay.Inbound{
		{UserID: 60, MediaGroupID: "album", Caption: "trip", Attachment: &relay.Attachment{Kind: relay.KindImage, ImageLike: true, FileID: "a"}},
		{UserID: 60, MediaGroupID: "album", Attachment: &relay.Attachment{Kind: relay.KindVideo, FileID: "b"}},
	} {
		if err := f.svc.HandleInbound(ctx, in); err != nil {
			t.Fatalf("HandleInbound() error = %v", err)
		}
	}
	if msgs := f.history(t, 60); len(msgs) != 0 {
		t.Fatalf("group stored before its window closed: %+v", msgs)
	}

	f.clock.Advance(500 * time.Millisecond)
	select {
	case <-f.publisher.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("media group was not flushed")
	}

	msgs := f.history(t, 60)
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].Text, "[group_media]{") || !strings.Contains(msgs[0].Text, `"count":2`) {
		t.Errorf("history = %+v, want one group_media row", msgs)
	}
}

func TestHandleJoinRequestWithReferral(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.UpsertUser(ctx, database.NewUser{UserID: 1, FullName: "Alice"}); err != nil {
		t.Fatal(err)
	}

	err := f.svc.HandleJoinRequest(ctx, f.transport, relay.JoinRequest{
		ChatID:     -100,
		UserID:     2,
		FullName:   "Bob",
		InviteLink: "https://t.me/community?ref=1&uid=ab12cd34&t=1&src=bot",
	})
	if err != nil {
		t.Fatalf("HandleJoinRequest() error = %v", err)
	}

	alice, _ := f.store.GetUser(ctx, 1)
	if alice.ReferralCount != 1 {
		t.Errorf("Alice referral_count = %d, want 1", alice.ReferralCount)
	}
	bob, err := f.store.GetUser(ctx, 2)
	if err != nil || bob.ReferredBy.Int64 != 1 {
		t.Fatalf("Bob = %+v, err = %v", bob, err)
	}
	if len(f.transport.textsTo(2)) != 1 {
		t.Error("welcome message not sent")
	}
	if notices := f.transport.textsTo(1); len(notices) != 1 || !strings.Contains(notices[0].text, "Bob") {
		t.Errorf("referrer notices = %+v", notices)
	}
	if f.publisher.count(notify.EventNewUserJoined, "") != 1 {
		t.Error("new_user_joined not published")
	}
}

func TestHandleJoinRequestGeneratesLinkAndToleratesBlockedUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.transport.textErr[3] = &telegram.Error{Op: "sendMessage", Kind: telegram.KindForbidden, Err: errors.New("blocked")}

	if err := f.svc.HandleJoinRequest(ctx, f.transport, relay.JoinRequest{ChatID: -100, UserID: 3, FullName: "Carol"}); err != nil {
		t.Fatalf("HandleJoinRequest() error = %v", err)
	}

	carol, err := f.store.GetUser(ctx, 3)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if !strings.HasPrefix(carol.InviteLink.String, "https://t.me/community?") || !strings.Contains(carol.InviteLink.String, "ref=3") {
		t.Errorf("invite_link = %q, want generated tracking link", carol.InviteLink.String)
	}
	if carol.ReferredBy.Valid {
		t.Errorf("referred_by = %v, want NULL", carol.ReferredBy)
	}
}

func TestHandleJoinRequestAlreadyParticipant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.UpsertUser(ctx, database.NewUser{UserID: 4}); err != nil {
		t.Fatal(err)
	}
	f.transport.approveErr = &telegram.Error{Op: "approveChatJoinRequest", Kind: telegram.KindAlreadyParticipant, Err: errors.New("USER_ALREADY_PARTICIPANT")}

	if err := f.svc.HandleJoinRequest(ctx, f.transport, relay.JoinRequest{ChatID: -100, UserID: 4}); err != nil {
		t.Fatalf("HandleJoinRequest() error = %v, want nil for existing member", err)
	}
	if len(f.transport.textsTo(4)) != 0 {
		t.Error("existing member was greeted again")
	}

	f.transport.approveErr = &telegram.Error{Op: "approveChatJoinRequest", Kind: telegram.KindBadRequest, Err: errors.New("HIDE_REQUESTER_MISSING")}
	if err := f.svc.HandleJoinRequest(ctx, f.transport, relay.JoinRequest{ChatID: -100, UserID: 5}); err == nil {
		t.Error("HandleJoinRequest() error = nil, want approval failure")
	}
}

func TestHandleStartPersonalLink(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.UpsertUser(ctx, database.NewUser{UserID: 1, FullName: "Alice"}); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.HandleStart(ctx, relay.Start{UserID: 20, FullName: "Dan", Payload: "chat_1"}); err != nil {
		t.Fatalf("HandleStart() error = %v", err)
	}

	dan, err := f.store.GetUser(ctx, 20)
	if err != nil || dan.ReferredBy.Int64 != 1 {
		t.Fatalf("Dan = %+v, err = %v", dan, err)
	}
	if dan.InviteLink.String != "https://t.me/123?start=chat_1" {
		t.Errorf("invite_link = %q", dan.InviteLink.String)
	}
	if len(f.transport.textsTo(20)) != 1 {
		t.Error("personal welcome not sent")
	}
	if notices := f.transport.textsTo(900); len(notices) != 1 || !strings.Contains(notices[0].text, "20") {
		t.Errorf("receptionist notices = %+v", notices)
	}

	// Repeating /start does not notify again.
	if err := f.svc.HandleStart(ctx, relay.Start{UserID: 20, FullName: "Dan", Payload: "chat_1"}); err != nil {
		t.Fatal(err)
	}
	if len(f.transport.textsTo(900)) != 1 {
		t.Error("receptionist notified twice")
	}
	alice, _ := f.store.GetUser(ctx, 1)
	if alice.ReferralCount != 1 {
		t.Errorf("Alice referral_count = %d, want 1", alice.ReferralCount)
	}
}

func TestHandleStartPlain(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.HandleStart(ctx, relay.Start{UserID: 30, FullName: "Fay"}); err != nil {
		t.Fatalf("HandleStart() error = %v", err)
	}

	replies := f.transport.textsTo(30)
	if len(replies) != 1 {
		t.Fatalf("replies = %+v", replies)
	}
	link := "https://t.me/123?start=chat_30"
	if !strings.Contains(replies[0].text, link) {
		t.Errorf("welcome %q does not carry the tracking link", replies[0].text)
	}
	if len(replies[0].kb) != 2 || replies[0].kb[0][0].URL != "https://t.me/community" || replies[0].kb[1][0].CallbackData != relay.JoinedCallback {
		t.Errorf("keyboard = %+v", replies[0].kb)
	}

	fay, err := f.store.GetUser(ctx, 30)
	if err != nil || fay.InviteLink.String != link {
		t.Errorf("Fay = %+v, err = %v", fay, err)
	}

	if err := f.svc.HandleStart(ctx, relay.Start{UserID: 30, FullName: "Fay"}); err != nil {
		t.Fatal(err)
	}
	if replies := f.transport.textsTo(30); len(replies) != 2 || replies[1].kb != nil {
		t.Errorf("returning user replies = %+v, want plain welcome back", replies)
	}
}
