//go:build sqlite
// +build sqlite

package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"caretaker/internal/config"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteJournal struct {
	db *sql.DB
}

func openSQLiteJournal(cfg config.HistorySettings) (Journal, error) {
	if strings.TrimSpace(cfg.JournalPath) == "" {
		return nil, errors.New("journal path is required for sqlite driver")
	}
	path := cfg.JournalPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.JournalBusyTimeout > 0 {
		ms := cfg.JournalBusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	j := &sqliteJournal{db: db}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *sqliteJournal) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, string(b))
	return err
}

func (j *sqliteJournal) Append(ctx context.Context, run JobRun) error {
	if j == nil || j.db == nil {
		return ErrJournalDisabled
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO job_runs(job_id, started_at, finished_at, status, exit_code, output_summary, err)
		 VALUES(?,?,?,?,?,?,?)`,
		run.JobID,
		run.StartedAt.Format(time.RFC3339Nano),
		run.FinishedAt.Format(time.RFC3339Nano),
		string(run.Status),
		run.ExitCode,
		nullStr(run.OutputSummary),
		nullStr(run.Err),
	)
	return err
}

func (j *sqliteJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
