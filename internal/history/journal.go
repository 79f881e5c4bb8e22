package history

import (
	"context"
	"errors"
	"strings"

	"caretaker/internal/config"
	logx "caretaker/pkg/logx"
)

var ErrJournalDisabled = errors.New("run journal disabled")

// Journal is the persistence API for finished runs.
//
// Journals are an observability supplement: the in-memory History stays
// authoritative, and journal failures never affect scheduling.
type Journal interface {
	Append(ctx context.Context, run JobRun) error
	Close() error
}

// OpenJournal initializes the configured journal driver.
// It returns (nil, nil) if journaling is disabled.
func OpenJournal(cfg config.HistorySettings, log logx.Logger) (Journal, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.JournalDriver))
	switch driver {
	case "", "none":
		return nil, nil
	case "file":
		if !log.IsZero() {
			log.Info("run journal enabled", logx.String("driver", "file"), logx.String("path", cfg.JournalPath))
		}
		return openFileJournal(cfg)
	case "sqlite", "sqlite3":
		if !log.IsZero() {
			log.Info("run journal enabled", logx.String("driver", "sqlite"), logx.String("path", cfg.JournalPath))
		}
		return openSQLiteJournal(cfg)
	default:
		return nil, errors.New("unknown journal driver: " + driver)
	}
}
