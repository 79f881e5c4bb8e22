package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerKind int

const (
	TriggerCron TriggerKind = iota
	TriggerInterval
)

// triggerParser accepts 5-field and 6-field (seconds) cron specs plus
// descriptors like @daily and @every.
var triggerParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Trigger produces the next fire time for a job.
//
// Two forms exist: calendar (cron expression, evaluated in the store's
// timezone) and fixed interval (Go duration). Both reschedule relative to
// "now" at fire time, so a slow run shifts subsequent fires instead of
// accumulating drift catch-up.
type Trigger struct {
	Kind  TriggerKind
	Raw   string
	Every time.Duration // interval only

	sched cron.Schedule  // cron only
	loc   *time.Location // cron only
}

// ParseTrigger parses a trigger expression.
//
// Accepted forms:
//   - cron expression: "0 3,21 * * *", "*/5 * * * *", "@daily", "@every 1h"
//   - explicit prefix: "cron:0 0 * * *"
//   - Go duration: "10m", "1h30m", or "every:45s"
//
// loc applies to cron expressions; nil means time.Local.
func ParseTrigger(raw string, loc *time.Location) (Trigger, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Trigger{}, fmt.Errorf("empty trigger")
	}
	if loc == nil {
		loc = time.Local
	}

	if rest, ok := strings.CutPrefix(s, "cron:"); ok {
		return parseCron(raw, strings.TrimSpace(rest), loc)
	}
	if rest, ok := strings.CutPrefix(s, "every:"); ok {
		return parseInterval(raw, strings.TrimSpace(rest))
	}

	// A bare Go duration is an interval.
	if d, err := time.ParseDuration(s); err == nil {
		return intervalTrigger(raw, d)
	}

	return parseCron(raw, s, loc)
}

func parseCron(raw, expr string, loc *time.Location) (Trigger, error) {
	sched, err := triggerParser.Parse(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("trigger %q: %w", raw, err)
	}
	return Trigger{Kind: TriggerCron, Raw: raw, sched: sched, loc: loc}, nil
}

func parseInterval(raw, expr string) (Trigger, error) {
	d, err := time.ParseDuration(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("trigger %q: %w", raw, err)
	}
	return intervalTrigger(raw, d)
}

func intervalTrigger(raw string, d time.Duration) (Trigger, error) {
	if d < time.Second {
		return Trigger{}, fmt.Errorf("trigger %q: interval must be >= 1s", raw)
	}
	return Trigger{Kind: TriggerInterval, Raw: raw, Every: d}, nil
}

// Next returns the first fire time strictly after now.
// A zero return means the trigger is inert (no future fire time).
func (t Trigger) Next(now time.Time) time.Time {
	switch t.Kind {
	case TriggerInterval:
		if t.Every <= 0 {
			return time.Time{}
		}
		return now.Add(t.Every)
	case TriggerCron:
		if t.sched == nil {
			return time.Time{}
		}
		// SpecSchedule evaluates in the time value's location when its own
		// location is time.Local, so convert first.
		return t.sched.Next(now.In(t.loc))
	default:
		return time.Time{}
	}
}
