// Package links generates the tracking links handed to users and owns the
// TTL cache that backs them.
package links

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// StartPrefix marks a /start payload that opens a chat through someone's personal link.
const StartPrefix = "chat_"

var refPattern = regexp.MustCompile(`(?:^|[?&_\s])ref[=_](\d+)`)

// UsernameSource resolves the bot's public username.
type UsernameSource interface {
	BotUsername(ctx context.Context) (string, error)
}

// Options configure a Generator.
type Options struct {
	ChannelURL string
	BotToken   string
	TTL        time.Duration
	Clock      clockwork.Clock
}

type entry struct {
	value   string
	expires time.Time
}

// Generator builds channel tracking links and personal bot links. Generated
// values are cached until their TTL elapses or Invalidate is called.
type Generator struct {
	channelURL string
	botID      string
	ttl        time.Duration
	clock      clockwork.Clock
	source     UsernameSource
	logger     *slog.Logger

	mu       sync.Mutex
	username entry
	channel  map[int64]entry
}

// NewGenerator creates a Generator. source may be nil, in which case personal
// links fall back to the numeric bot id.
func NewGenerator(opts Options, source UsernameSource, logger *slog.Logger) *Generator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	botID, _, _ := strings.Cut(opts.BotToken, ":")
	return &Generator{
		channelURL: strings.TrimRight(opts.ChannelURL, "/"),
		botID:      botID,
		ttl:        opts.TTL,
		clock:      opts.Clock,
		source:     source,
		logger:     logger.With("component", "links"),
		channel:    make(map[int64]entry),
	}
}

// ChannelLink returns the tracking link for userID, generating a fresh one when
// none is cached.
func (g *Generator) ChannelLink(userID int64) string {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.channel[userID]; ok && now.Before(e.expires) {
		return e.value
	}

	q := url.Values{}
	q.Set("ref", strconv.FormatInt(userID, 10))
	q.Set("uid", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	q.Set("t", strconv.FormatInt(now.Unix(), 10))
	q.Set("src", "bot")
	link := g.channelURL + "?" + q.Encode()

	g.channel[userID] = entry{value: link, expires: now.Add(g.ttl)}
	g.logger.Debug("Generated channel link", "user_id", userID)
	return link
}

// PersonalBotLink returns https://t.me/<bot>?start=chat_<userID>.
func (g *Generator) PersonalBotLink(ctx context.Context, userID int64) string {
	name := g.BotUsername(ctx)
	if name == "" {
		name = g.botID
	}
	return fmt.Sprintf("https://t.me/%s?start=%s%d", name, StartPrefix, userID)
}

// BotUsername returns the cached bot username, refreshing it after the TTL.
// A failed refresh keeps serving the previous value.
func (g *Generator) BotUsername(ctx context.Context) string {
	now := g.clock.Now()

	g.mu.Lock()
	cached := g.username
	g.mu.Unlock()

	if cached.value != "" && now.Before(cached.expires) {
		return cached.value
	}
	if g.source == nil {
		return cached.value
	}

	name, err := g.source.BotUsername(ctx)
	if err != nil || name == "" {
		g.logger.WarnContext(ctx, "Could not refresh bot username", "error", err)
		return cached.value
	}

	g.mu.Lock()
	g.username = entry{value: name, expires: now.Add(g.ttl)}
	g.mu.Unlock()
	return name
}

// Invalidate drops every cached value.
func (g *Generator) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.username = entry{}
	g.channel = make(map[int64]entry)
}

// Purge removes expired channel links and returns how many were dropped.
func (g *Generator) Purge() int {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	dropped := 0
	for id, e := range g.channel {
		if !now.Before(e.expires) {
			delete(g.channel, id)
			dropped++
		}
	}
	return dropped
}

// ParseReferrer extracts the referrer id from a tracking link or invite link name
// ("...?ref=42&..." or "ref_42").
func ParseReferrer(s string) (int64, bool) {
	if u, err := url.Parse(s); err == nil {
		if ref := u.Query().Get("ref"); ref != "" {
			if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
				return id, true
			}
		}
	}
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ParseStartPayload extracts the user id from a "chat_<id>" /start payload.
func ParseStartPayload(payload string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(payload), StartPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
