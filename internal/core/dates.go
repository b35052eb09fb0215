package core

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// dayLayouts are tried in order. Values with an offset are converted to UTC
// before truncation; values without one are read as UTC.
var dayLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	DateLayout,
}

// ParseDay parses an ISO-8601 date or timestamp into its UTC calendar day.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	var lastErr error
	for _, layout := range dayLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return TruncateDay(t), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// TruncateDay returns midnight UTC of t's UTC calendar date.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WindowCutoff returns the first day of a window of windowDays calendar days
// ending today, inclusive of both ends.
func WindowCutoff(today time.Time, windowDays int) time.Time {
	return TruncateDay(today).AddDate(0, 0, -(windowDays - 1))
}

// RangeKind names a preset of the list pages' date filter.
type RangeKind string

const (
	RangeAll    RangeKind = "all"
	RangeWeek   RangeKind = "7"
	RangeMonth  RangeKind = "30"
	RangeYear   RangeKind = "365"
	RangeCustom RangeKind = "custom"
)

// RangeFilter is the server-side window requested by the list pages. From and
// To are inclusive; a zero bound is open.
type RangeFilter struct {
	Kind RangeKind
	From time.Time
	To   time.Time
}

// ParseRange builds a RangeFilter from the range, from and to query values.
// An empty range means all.
func ParseRange(q url.Values) (RangeFilter, error) {
	kind := RangeKind(strings.TrimSpace(q.Get("range")))
	if kind == "" {
		kind = RangeAll
	}
	f := RangeFilter{Kind: kind}
	switch kind {
	case RangeAll, RangeWeek, RangeMonth, RangeYear:
		return f, nil
	case RangeCustom:
		if v := strings.TrimSpace(q.Get("from")); v != "" {
			from, err := time.Parse(DateLayout, v)
			if err != nil {
				return RangeFilter{}, InvalidInput("from %q", v)
			}
			f.From = from
		}
		if v := strings.TrimSpace(q.Get("to")); v != "" {
			to, err := time.Parse(DateLayout, v)
			if err != nil {
				return RangeFilter{}, InvalidInput("to %q", v)
			}
			f.To = to
		}
		if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
			return RangeFilter{}, InvalidInput("to %s is before from %s", f.To.Format(DateLayout), f.From.Format(DateLayout))
		}
		return f, nil
	}
	return RangeFilter{}, InvalidInput("range %q", kind)
}

// Days returns the window length of a numeric preset, or 0.
func (f RangeFilter) Days() int {
	switch f.Kind {
	case RangeWeek, RangeMonth, RangeYear:
		n, _ := strconv.Atoi(string(f.Kind))
		return n
	}
	return 0
}

// Bounds resolves the filter against today into inclusive day bounds. A zero
// bound is open.
func (f RangeFilter) Bounds(today time.Time) (from, to time.Time) {
	if n := f.Days(); n > 0 {
		return WindowCutoff(today, n), time.Time{}
	}
	if f.Kind == RangeCustom {
		return f.From, f.To
	}
	return time.Time{}, time.Time{}
}

// Matches reports whether day falls inside the filter resolved at today.
func (f RangeFilter) Matches(day, today time.Time) bool {
	from, to := f.Bounds(today)
	day = TruncateDay(day)
	if !from.IsZero() && day.Before(from) {
		return false
	}
	if !to.IsZero() && day.After(to) {
		return false
	}
	return true
}

// Query encodes the filter back into query values.
func (f RangeFilter) Query() url.Values {
	q := url.Values{}
	kind := f.Kind
	if kind == "" {
		kind = RangeAll
	}
	q.Set("range", string(kind))
	if kind == RangeCustom {
		if !f.From.IsZero() {
			q.Set("from", f.From.Format(DateLayout))
		}
		if !f.To.IsZero() {
			q.Set("to", f.To.Format(DateLayout))
		}
	}
	return q
}

// Key is a stable cache key for the filter.
func (f RangeFilter) Key() string {
	return f.Query().Encode()
}
