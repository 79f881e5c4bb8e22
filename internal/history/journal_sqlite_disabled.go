//go:build !sqlite
// +build !sqlite

package history

import (
	"errors"

	"caretaker/internal/config"
)

func openSQLiteJournal(cfg config.HistorySettings) (Journal, error) {
	_ = cfg
	return nil, errors.New("sqlite journal not built: build with -tags sqlite")
}
