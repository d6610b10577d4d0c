package bot_test

import (
	"context"
	"slices"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/supportrelay/internal/bot"
	"github.com/edgard/supportrelay/internal/bot/tasks"
	"github.com/edgard/supportrelay/internal/config"
	"github.com/edgard/supportrelay/internal/logger"
)

func noop(context.Context) error { return nil }

func TestSchedulerStart(t *testing.T) {
	t.Parallel()

	cfg := &config.SchedulerConfig{Tasks: map[string]config.TaskConfig{
		tasks.SQLMaintenance:    {Enabled: true, Schedule: "0 0 4 * * *"},
		tasks.ReferralReconcile: {Enabled: false, Schedule: "0 30 4 * * *"},
		tasks.LinkCachePurge:    {Enabled: true, Schedule: ""},
		"unregistered":          {Enabled: true, Schedule: "0 * * * * *"},
		"broken":                {Enabled: true, Schedule: "not a cron"},
	}}
	taskMap := map[string]tasks.ScheduledTaskFunc{
		tasks.SQLMaintenance:    noop,
		tasks.ReferralReconcile: noop,
		tasks.LinkCachePurge:    noop,
		"broken":                noop,
	}

	s, err := bot.NewScheduler(logger.Discard(), cfg, taskMap, bot.WithSchedulerClock(clockwork.NewFakeClock()))
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	if got, want := s.Jobs(), []string{tasks.SQLMaintenance}; !slices.Equal(got, want) {
		t.Errorf("Jobs() = %v, want %v", got, want)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded, want error")
	}
}

func TestSchedulerStopIdempotent(t *testing.T) {
	t.Parallel()

	s, err := bot.NewScheduler(logger.Discard(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() before Start() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
