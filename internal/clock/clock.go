// Package clock provides the time and identity sources for the control plane.
//
// Services never call time.Now or uuid.New directly — they take a Clock so
// tests can pin the wall clock (the escalation SLA math depends on it).
package clock

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Clock is the wall-clock source used by every service.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a plain function to the Clock interface for tests.
type Func func() time.Time

// Now invokes the wrapped function.
func (f Func) Now() time.Time { return f() }

// Fixed returns a Clock pinned to t.
func Fixed(t time.Time) Clock {
	return Func(func() time.Time { return t })
}

// NewID returns a fresh UUID v4 string.
func NewID() string {
	return uuid.New().String()
}

// isoDurationRe matches the subset of ISO-8601 durations the escalation
// engine accepts: P[nD][T[nH][nM][nS]].
var isoDurationRe = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration parses a duration of the form P[nD][T[nH][nM][nS]].
// A bare "P" or "PT" (no components) is rejected.
func ParseISODuration(s string) (time.Duration, error) {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid ISO-8601 duration: %q", s)
	}

	var d time.Duration
	seen := false
	for i, unit := range []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second} {
		part := m[i+1]
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration: %q", s)
		}
		d += time.Duration(n) * unit
		seen = true
	}
	if !seen {
		return 0, fmt.Errorf("invalid ISO-8601 duration: %q (no components)", s)
	}
	return d, nil
}

// FormatISODuration renders a duration as P[nD]T[nH][nM][nS].
// Sub-second precision is truncated.
func FormatISODuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int64(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	mins := int64(d / time.Minute)
	d -= time.Duration(mins) * time.Minute
	secs := int64(d / time.Second)

	out := "P"
	if days > 0 {
		out += strconv.FormatInt(days, 10) + "D"
	}
	if hours > 0 || mins > 0 || secs > 0 || days == 0 {
		out += "T"
		if hours > 0 {
			out += strconv.FormatInt(hours, 10) + "H"
		}
		if mins > 0 {
			out += strconv.FormatInt(mins, 10) + "M"
		}
		if secs > 0 || (days == 0 && hours == 0 && mins == 0) {
			out += strconv.FormatInt(secs, 10) + "S"
		}
	}
	return out
}
