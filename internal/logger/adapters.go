package logger

import (
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
	"github.com/mymmrac/telego"
)

type gocronLogger struct {
	log *slog.Logger
}

// Gocron adapts slog to the gocron.Logger interface.
//
//nolint:ireturn // Interface return is required by gocron's API contract
func Gocron(log *slog.Logger) gocron.Logger {
	return gocronLogger{log: log}
}

func (l gocronLogger) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.log.Info(msg, args...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.log.Warn(msg, args...) }
func (l gocronLogger) Error(msg string, args ...any) { l.log.Error(msg, args...) }

type telegoLogger struct {
	log *slog.Logger
}

// Telego adapts slog to the telego.Logger interface.
//
//nolint:ireturn // Interface return is required by telego's API contract
func Telego(log *slog.Logger) telego.Logger {
	return telegoLogger{log: log}
}

func (l telegoLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l telegoLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}
