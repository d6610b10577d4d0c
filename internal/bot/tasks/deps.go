// Package tasks implements the relay's scheduled maintenance tasks and their
// registration.
package tasks

import (
	"log/slog"

	"github.com/edgard/supportrelay/internal/database"
)

// LinkCache is the generated link cache purged on a schedule.
type LinkCache interface {
	Purge() int
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Links  LinkCache
}
