package jobrunner

import "sync"

// tailBuffer keeps the most recent max bytes written to it. Job output can
// be unbounded; the run record only needs the tail for diagnostics.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = defaultMaxOutput
	}
	return &tailBuffer{max: max}
}

// Write never fails; stdout and stderr share one buffer, so it must be
// safe for concurrent writers.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		t.truncated = true
		return len(p), nil
	}
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		over := len(t.buf) - t.max
		t.buf = t.buf[over:]
		t.truncated = true
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.truncated {
		return "..." + string(t.buf)
	}
	return string(t.buf)
}
