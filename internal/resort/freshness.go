package resort

import (
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// Layouts carrying an explicit zone.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05-07",
}

// Layouts written by naive timestamp columns; read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

var errEmptyTimestamp = errors.New("empty timestamp")

// ParseTimestamp parses a persisted timestamp. Values without a zone offset
// are interpreted as UTC, never as the process' local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyTimestamp
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Evaluator decides whether cached rows are still usable.
type Evaluator struct {
	clock clockwork.Clock
}

// NewEvaluator returns an Evaluator reading time from clock (real clock if nil).
func NewEvaluator(clock clockwork.Clock) *Evaluator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Evaluator{clock: clock}
}

// Age returns how old ts is. Timestamps in the future have age zero.
func (e *Evaluator) Age(ts string) (time.Duration, error) {
	t, err := ParseTimestamp(ts)
	if err != nil {
		return 0, err
	}
	return e.AgeOf(t), nil
}

// AgeOf is Age for an already parsed time.
func (e *Evaluator) AgeOf(t time.Time) time.Duration {
	age := e.clock.Now().Sub(t)
	if age < 0 {
		return 0
	}
	return age
}

// IsFresh reports whether ts is within ttl of now. Empty or unparseable
// timestamps are stale.
func (e *Evaluator) IsFresh(ts string, ttl time.Duration) bool {
	age, err := e.Age(ts)
	if err != nil {
		return false
	}
	return age <= ttl
}

// IsFreshAt is IsFresh for an already parsed time; the zero time is stale.
func (e *Evaluator) IsFreshAt(t time.Time, ttl time.Duration) bool {
	if t.IsZero() {
		return false
	}
	return e.AgeOf(t) <= ttl
}
