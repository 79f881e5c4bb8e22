package schedule

import (
	"context"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "caretaker/pkg/logx"
)

// Watcher hot-reloads the schedule source. A changed file is parsed and
// validated into a fresh Store; only a valid store reaches apply. Invalid
// edits are logged and the previous store stays active.
type Watcher struct {
	path  string
	opts  LoadOptions
	log   logx.Logger
	apply func(*Store)

	mu       sync.Mutex
	lastHash uint64
}

func NewWatcher(path string, opts LoadOptions, log logx.Logger, apply func(*Store)) *Watcher {
	return &Watcher{path: path, opts: opts, log: log, apply: apply}
}

// Prime records the content hash of the initially loaded file so the first
// spurious fsnotify event does not trigger a redundant reload.
func (w *Watcher) Prime(raw []byte) {
	w.mu.Lock()
	w.lastHash = hashBytes(raw)
	w.mu.Unlock()
}

// Run watches the schedule file until ctx is cancelled.
//
// When fsnotify gets into a bad state (editor rename dances, remounts),
// the watcher may stop delivering events or close its channels. Self-heal
// by recreating the watcher with a small exponential backoff.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	// local RNG to avoid global contention (and to keep jitter deterministic per process).
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// debounce to avoid partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if !w.log.IsZero() {
			w.log.Debug("schedule change detected; scheduling reload", logx.String("path", w.path))
		}
		timer = time.AfterFunc(250*time.Millisecond, func() { w.reload() })
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err == nil {
			err = fw.Add(dir)
			if err != nil {
				_ = fw.Close()
			}
		}
		if err != nil {
			if !w.log.IsZero() {
				w.log.Warn("schedule watch init failed", logx.Any("err", err), logx.String("dir", dir))
			}
			wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
			if backoff < restartBackoffMax {
				backoff *= 2
				if backoff > restartBackoffMax {
					backoff = restartBackoffMax
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
				continue
			}
		}

		// success; reset backoff so transient issues don't cause long restart delays
		backoff = restartBackoffBase
		if !w.log.IsZero() {
			w.log.Debug("schedule watcher started", logx.String("dir", dir), logx.String("file", file))
		}

		// inner loop: runs until the watcher breaks, then the outer loop recreates it.
		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename (robust across absolute/relative paths and OS quirks).
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means we may have missed events; reload once and keep going.
				// Avoid depending on a specific fsnotify error constant across versions.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					if !w.log.IsZero() {
						w.log.Warn("schedule watch overflow; forcing reload", logx.Any("err", err), logx.String("dir", dir))
					}
					debounce()
					continue
				}
				if !w.log.IsZero() {
					w.log.Warn("schedule watch error", logx.Any("err", err), logx.String("dir", dir))
				}
				// Some fsnotify backends surface watcher closure via an error.
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
					break
				}
			}
		}

		_ = fw.Close()
		if ctx.Err() != nil {
			return nil
		}
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if !w.log.IsZero() {
			w.log.Warn(
				"schedule watcher stopped; restarting",
				logx.String("dir", dir),
				logx.String("file", file),
				logx.Duration("backoff", wait),
			)
		}
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
			continue
		}
	}
}

func (w *Watcher) reload() {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		if !w.log.IsZero() {
			w.log.Warn("schedule reload read failed", logx.String("path", w.path), logx.Err(err))
		}
		return
	}

	// Skip redundant reloads when content is unchanged (editors often fire
	// several write events per save).
	h := hashBytes(raw)
	w.mu.Lock()
	unchanged := h != 0 && h == w.lastHash
	w.mu.Unlock()
	if unchanged {
		if !w.log.IsZero() {
			w.log.Debug("schedule unchanged; skipping reload", logx.String("path", w.path))
		}
		return
	}

	st, err := Parse(w.path, raw, w.opts)
	if err != nil {
		if !w.log.IsZero() {
			w.log.Warn("schedule rejected; keeping previous", logx.String("path", w.path), logx.Err(err))
		}
		return
	}

	w.mu.Lock()
	w.lastHash = h
	w.mu.Unlock()

	if w.apply != nil {
		w.apply(st)
	}
	if !w.log.IsZero() {
		w.log.Info("schedule reloaded", logx.String("path", w.path), logx.Int("jobs", st.Len()))
	}
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
