package history

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"caretaker/internal/config"
)

// fileJournal is the dependency-free journal backend: one append-only
// JSON Lines file, one record per finished run.
type fileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func openFileJournal(cfg config.HistorySettings) (Journal, error) {
	path := strings.TrimSpace(cfg.JournalPath)
	if path == "" {
		return nil, errors.New("journal path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileJournal{f: f}, nil
}

func (j *fileJournal) Append(ctx context.Context, run JobRun) error {
	_ = ctx
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return errors.New("run journal closed")
	}
	return json.NewEncoder(j.f).Encode(run)
}

func (j *fileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
