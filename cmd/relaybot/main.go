// Package main contains the entrypoint for the support relay. One binary runs
// any subset of the bot, approver and dashboard units.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/mymmrac/telego"
	"github.com/spf13/pflag"

	"github.com/edgard/supportrelay/internal/approver"
	"github.com/edgard/supportrelay/internal/bot"
	"github.com/edgard/supportrelay/internal/bot/handlers"
	"github.com/edgard/supportrelay/internal/bot/tasks"
	"github.com/edgard/supportrelay/internal/config"
	"github.com/edgard/supportrelay/internal/dashboard"
	"github.com/edgard/supportrelay/internal/database"
	"github.com/edgard/supportrelay/internal/links"
	"github.com/edgard/supportrelay/internal/logger"
	"github.com/edgard/supportrelay/internal/notify"
	"github.com/edgard/supportrelay/internal/relay"
	"github.com/edgard/supportrelay/internal/telegram"
)

const (
	unitBot       = "bot"
	unitApprover  = "approver"
	unitDashboard = "dashboard"
)

var knownUnits = []string{unitBot, unitApprover, unitDashboard}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx, os.Args[1:])
	stop()
	os.Exit(exitCode)
}

// units is the set of units selected with --run.
type units map[string]bool

func parseUnits(names []string) (units, error) {
	sel := units{}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if !slices.Contains(knownUnits, name) {
			return nil, fmt.Errorf("unknown unit %q, expected one of %s", name, strings.Join(knownUnits, ","))
		}
		sel[name] = true
	}
	if len(sel) == 0 {
		return nil, errors.New("no units selected")
	}
	return sel, nil
}

// run wires every selected unit, blocks until shutdown and returns the exit code.
func run(ctx context.Context, args []string) int {
	flags := pflag.NewFlagSet("relaybot", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "./config.yaml", "Path to configuration file")
	runUnits := flags.StringSlice("run", knownUnits, "Units to run in this process (bot, approver, dashboard)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	sel, err := parseUnits(*runUnits)
	if err != nil {
		slog.Error("Invalid --run value", "error", err)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON, "units", *runUnits)

	if err := checkPollers(sel, cfg.Telegram); err != nil {
		log.Error("Invalid unit selection", "units", *runUnits, "error", err)
		return 1
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log,
		database.WithWindows(cfg.Relay.OnlineWindow, cfg.Relay.ActiveWindow),
		database.WithHistoryLimit(cfg.Database.HistoryLimit),
	)

	events, err := newFanout(ctx, cfg, sel, log)
	if err != nil {
		log.Error("Failed to initialize event fanout", "error", err)
		return 1
	}
	defer events.close()
	components := events.components

	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log,
		tgbot.WithServerURL(cfg.Telegram.APIURL),
		tgbot.WithHTTPClient(cfg.Telegram.PollTimeout, &http.Client{Timeout: cfg.Telegram.PollTimeout + 10*time.Second}),
		tgbot.WithAllowedUpdates(telegram.AllowedUpdates(cfg.Telegram.ApproverToken == "")),
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithErrorsHandler(func(err error) {
			log.Warn("Telegram polling error", "error", err)
		}),
	)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}
	client := telegram.NewClient(tg, cfg.Telegram, log)

	gen := links.NewGenerator(links.Options{
		ChannelURL: cfg.Telegram.ChannelURL,
		BotToken:   cfg.Telegram.Token,
		TTL:        cfg.Links.CacheTTL,
	}, client, log)

	svc := relay.NewService(store, client, events.publisher, gen, relay.OptionsFromConfig(cfg), log)

	var sched *bot.Scheduler
	if sel[unitBot] {
		routes := handlers.RegisterAll(handlers.HandlerDeps{
			Logger:    log,
			Config:    cfg,
			Store:     store,
			Relay:     svc,
			Transport: client,
		})
		if err := telegram.RegisterHandlers(tg, log, routes); err != nil {
			log.Error("Failed to register Telegram handlers", "error", err)
			return 1
		}
		components = append(components, bot.Listener(tg))

		taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{Logger: log, Store: store, Links: gen})
		sched, err = bot.NewScheduler(log, &cfg.Scheduler, taskMap)
		if err != nil {
			log.Error("Failed to create scheduler", "error", err)
			return 1
		}
	}

	var approverBot *telego.Bot
	if cfg.Telegram.ApproverToken != "" && (sel[unitApprover] || sel[unitDashboard]) {
		approverBot, err = approver.NewBot(cfg.Telegram, log)
		if err != nil {
			log.Error("Failed to create approver bot", "error", err)
			return 1
		}
	}

	if sel[unitApprover] {
		components = append(components, bot.Component{
			Name: "approver",
			Run:  approver.New(approverBot, svc, cfg.Telegram, log).Run,
		})
	}

	if sel[unitDashboard] {
		bots := []dashboard.BotCheck{{Name: unitBot, Bot: client}}
		if approverBot != nil {
			bots = append(bots, dashboard.BotCheck{
				Name: unitApprover,
				Bot:  approver.NewClient(approverBot, cfg.Telegram.TextTimeout),
			})
		}
		srv := dashboard.NewServer(dashboard.Deps{
			Store:       store,
			Relay:       svc,
			Links:       gen,
			Media:       client,
			Events:      events.hub,
			Bots:        bots,
			AdminUserID: cfg.Telegram.AdminUserID,
			ChannelID:   cfg.Telegram.ChannelID,
			ChannelURL:  cfg.Telegram.ChannelURL,
		}, cfg.Dashboard, log)
		components = append(components, bot.Component{Name: "dashboard", Run: srv.Run})
	}

	app := bot.NewBot(log, sched, components...)
	app.OnStop(svc.Close)

	log.Info("Starting relay...")
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Relay stopped due to error", "error", err)
		return 1
	}

	log.Info("Relay stopped gracefully.")
	return 0
}

// checkPollers rejects selections that would put two getUpdates pollers on
// one token. With approver_token set the bot leaves join requests to the
// approver, wherever it runs.
func checkPollers(sel units, tg config.TelegramConfig) error {
	if sel[unitApprover] && tg.ApproverToken == "" {
		return approver.ErrNoToken
	}
	return nil
}

// fanout is the event path from the relay to dashboard sessions.
type fanout struct {
	publisher  relay.Publisher
	hub        *notify.Hub
	components []bot.Component
	close      func()
}

// newFanout builds the websocket hub for dashboard processes and, when Redis
// is configured, the bridge that carries events between processes.
func newFanout(ctx context.Context, cfg *config.Config, sel units, log *slog.Logger) (*fanout, error) {
	f := &fanout{close: func() {}}

	if sel[unitDashboard] {
		f.hub = notify.NewHub(log, notify.WithCheckOrigin(notify.AllowOrigins(cfg.Dashboard.AllowedOrigins)))
		f.publisher = f.hub
		f.components = append(f.components, bot.Component{Name: "notify_hub", Run: f.hub.Run})
	}

	if !cfg.RedisEnabled() {
		if f.hub == nil {
			log.Info("No dashboard in this process and Redis disabled, events are not published")
		}
		return f, nil
	}

	client, err := notify.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	f.close = func() {
		if err := client.Close(); err != nil {
			log.Warn("Error closing redis client", "error", err)
		}
	}

	var local notify.Deliverer
	if f.hub != nil {
		local = f.hub
	}
	bridge := notify.NewRedisBridge(client, cfg.Redis.Channel, local, log)
	f.publisher = bridge
	if local != nil {
		f.components = append(f.components, bot.Component{Name: "redis_bridge", Run: bridge.Run})
	}
	return f, nil
}
