// Package dashboard serves the admin HTTP API: user directory, conversation
// history, admin sends, referral tracking and the live event websocket.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/supportrelay/internal/config"
	"github.com/edgard/supportrelay/internal/database"
	"github.com/edgard/supportrelay/internal/logger"
	"github.com/edgard/supportrelay/internal/relay"
	"github.com/edgard/supportrelay/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

// Relay performs admin sends.
type Relay interface {
	SendToUser(ctx context.Context, userID int64, text string, files []relay.File) (*relay.SendResult, error)
	Broadcast(ctx context.Context, text string, files []relay.File) (*relay.BroadcastResult, error)
}

// Links generates tracking links.
type Links interface {
	ChannelLink(userID int64) string
	PersonalBotLink(ctx context.Context, userID int64) string
}

// BotIdentity asks Telegram which account a token belongs to.
type BotIdentity interface {
	BotUsername(ctx context.Context) (string, error)
}

// BotCheck is one bot account reported by /bot-status.
type BotCheck struct {
	Name string
	Bot  BotIdentity
}

// Deps are the collaborators of the dashboard. Media and Events may be nil,
// which disables /media and /ws.
type Deps struct {
	Store       database.Store
	Relay       Relay
	Links       Links
	Media       relay.FileOpener
	Events      http.Handler
	Bots        []BotCheck
	AdminUserID int64
	ChannelID   int64
	ChannelURL  string
}

// Server is the dashboard HTTP API.
type Server struct {
	deps     Deps
	cfg      config.DashboardConfig
	auth     *Authenticator
	validate *validator.Validate
	logger   *slog.Logger
	router   chi.Router
}

// Option customises a Server.
type Option func(*Server)

// WithClock sets the clock used for token issue and expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) {
		s.auth.clock = clock
	}
}

// NewServer builds the router. With an empty JWT secret every route is open.
func NewServer(deps Deps, cfg config.DashboardConfig, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		deps:     deps,
		cfg:      cfg,
		auth:     NewAuthenticator(cfg.JWTSecret, cfg.PasswordHash, cfg.TokenTTL, nil),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.With("component", "dashboard"),
	}
	s.validate.RegisterTagNameFunc(jsonFieldName)
	for _, opt := range opts {
		opt(s)
	}
	if !s.auth.Enabled() {
		s.logger.Warn("Dashboard JWT secret not set, API is unauthenticated")
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.HTTPMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Post("/login", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/dashboard-users", s.listUsers)
		r.Get("/dashboard-stats", s.stats)
		r.Get("/chat/{id}/messages", s.history)
		r.Post("/chat/{id}", s.sendToChat)
		r.Post("/send_one", s.sendOne)
		r.Post("/send_all", s.sendAll)
		r.Post("/user/{id}/label", s.setLabel)
		r.Get("/user-status/{id}", s.userStatus)
		r.Get("/tracking-stats", s.trackingStats)
		r.Get("/user-tracking/{id}", s.userTracking)
		r.Get("/get_user_link/{id}", s.userLink)
		r.Get("/get_channel_invite_link", s.channelInviteLink)
		r.Get("/bot-status", s.botStatus)

		if s.deps.Media != nil {
			r.Get(telegram.MediaPrefix+"*", s.media)
		}
		if s.deps.Events != nil {
			r.Handle("/ws", s.deps.Events)
		}
	})
	return r
}

func (s *Server) now() time.Time {
	return s.auth.clock.Now()
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on the configured address until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Dashboard listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard shutdown failed: %w", err)
	}
	s.logger.Info("Dashboard stopped")
	return nil
}
