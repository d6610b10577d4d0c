// Package bot orchestrates the long-running parts of the support relay: the
// Telegram listener, the join-request approver, the dashboard, event fanout
// and the maintenance scheduler.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"
)

// Component is a named unit that runs until ctx is cancelled.
type Component struct {
	Name string
	Run  func(ctx context.Context) error
}

// Listener wraps the Telegram bot's long polling as a Component.
func Listener(tg *tgbot.Bot) Component {
	return Component{
		Name: "telegram_listener",
		Run: func(ctx context.Context) error {
			tg.Start(ctx)
			if ctx.Err() == nil {
				return errors.New("telegram listener stopped unexpectedly")
			}
			return nil
		},
	}
}

// Bot manages the lifecycle of the configured components.
type Bot struct {
	logger     *slog.Logger
	scheduler  *Scheduler
	components []Component
	onStop     []func()
}

// NewBot creates an orchestrator. scheduler may be nil when the process runs
// no maintenance tasks.
func NewBot(logger *slog.Logger, scheduler *Scheduler, components ...Component) *Bot {
	return &Bot{
		logger:     logger.With("component", "bot_orchestrator"),
		scheduler:  scheduler,
		components: components,
	}
}

// OnStop registers fn to run after every component has returned.
func (b *Bot) OnStop(fn func()) {
	b.onStop = append(b.onStop, fn)
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails, which stops the rest.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...", "components", len(b.components))

	g, gCtx := errgroup.WithContext(ctx)

	for _, c := range b.components {
		g.Go(func() error {
			b.logger.Info("Starting component", "name", c.Name)
			if err := c.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Error("Component failed", "name", c.Name, "error", err)
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			b.logger.Info("Component stopped", "name", c.Name)
			return nil
		})
	}

	if b.scheduler != nil {
		g.Go(func() error {
			if err := b.scheduler.Start(gCtx); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			<-gCtx.Done()
			if err := b.scheduler.Stop(); err != nil {
				b.logger.Error("Error stopping scheduler", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	for _, fn := range b.onStop {
		fn()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}
