package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day

	// maxDuration bounds the sum of all tokens as well as each one.
	maxDuration = 100 * year
)

var (
	// ErrInvalidDuration is returned when duration text cannot be parsed.
	ErrInvalidDuration = errors.New("could not parse duration, use e.g. 30m, 3h, 1d 12h, 1w, 1M, 1y or a date like 2026-06-01")
	// ErrDurationInPast is returned when an absolute date is not in the future.
	ErrDurationInPast = errors.New("that date is in the past")

	durationTokenRe = regexp.MustCompile(`(\d+)\s*([A-Za-z]+)`)
	durationFullRe  = regexp.MustCompile(`^(\s*\d+\s*[A-Za-z]+\s*)+$`)
)

// parseUnit maps a unit alias to its length. Only "M" is case sensitive
// since "m" means minutes.
func parseUnit(unit string) (time.Duration, bool) {
	if unit == "M" {
		return month, true
	}

	switch strings.ToLower(unit) {
	case "y", "yr", "yrs", "year", "years":
		return year, true
	case "mo", "month", "months":
		return month, true
	case "w", "week", "weeks":
		return week, true
	case "d", "day", "days":
		return day, true
	case "h", "hr", "hrs", "hour", "hours":
		return time.Hour, true
	case "m", "min", "mins", "minute", "minutes":
		return time.Minute, true
	case "s", "sec", "secs", "second", "seconds":
		return time.Second, true
	}

	return 0, false
}

// ParseDuration resolves user supplied duration text relative to now.
// It returns nil for empty input and for "perm" or "permanent", meaning the
// case is indefinite. Relative input may combine several tokens ("1d 12h").
// Anything else is tried as an absolute date in UTC, which must lie in the future.
func ParseDuration(input string, now time.Time) (*time.Duration, error) {
	trimmed := strings.TrimSpace(input)

	switch strings.ToLower(trimmed) {
	case "", "perm", "permanent", "indefinite":
		return nil, nil
	}

	if durationFullRe.MatchString(trimmed) {
		var total time.Duration

		for _, match := range durationTokenRe.FindAllStringSubmatch(trimmed, -1) {
			amount, err := strconv.ParseInt(match[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidDuration, match[0])
			}

			unit, ok := parseUnit(match[2])
			if !ok {
				return nil, fmt.Errorf("unknown time unit %q: %w", match[2], ErrInvalidDuration)
			}

			if amount > int64((maxDuration-total)/unit) {
				return nil, fmt.Errorf("%w: %q is too long", ErrInvalidDuration, trimmed)
			}

			total += time.Duration(amount) * unit
		}

		if total <= 0 {
			return nil, ErrInvalidDuration
		}

		return &total, nil
	}

	due, err := dateparse.ParseIn(trimmed, time.UTC)
	if err != nil {
		return nil, ErrInvalidDuration
	}

	if !due.After(now) {
		return nil, ErrDurationInPast
	}

	remaining := due.Sub(now)
	if remaining > maxDuration {
		return nil, fmt.Errorf("%w: %q is too far away", ErrInvalidDuration, trimmed)
	}

	return &remaining, nil
}

// FormatDuration renders a duration using the largest whole units, e.g. "1 day 12 hours".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0 seconds"
	}

	units := []struct {
		name string
		size time.Duration
	}{
		{"year", year},
		{"month", month},
		{"week", week},
		{"day", day},
		{"hour", time.Hour},
		{"minute", time.Minute},
		{"second", time.Second},
	}

	parts := make([]string, 0, 2)
	for _, u := range units {
		if d < u.size {
			continue
		}

		n := d / u.size
		d -= n * u.size

		name := u.name
		if n != 1 {
			name += "s"
		}

		parts = append(parts, fmt.Sprintf("%d %s", n, name))
		if len(parts) == 2 {
			break
		}
	}

	if len(parts) == 0 {
		return "less than a second"
	}

	return strings.Join(parts, " ")
}
