package availability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// DayHours is the default schedule for one weekday. Open and Close are HH:MM.
type DayHours struct {
	Closed bool   `json:"closed"`
	Open   string `json:"open,omitempty"`
	Close  string `json:"close,omitempty"`
}

// WeeklyHours maps weekdays to their default hours. A missing weekday means
// "no change" when used as a proposal.
type WeeklyHours map[time.Weekday]DayHours

// WeekOrder is the display order, Monday first.
var WeekOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

func WeekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}

func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, d := range WeekOrder {
		name := WeekdayName(d)
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// IsOpen reports whether d has usable opening hours.
func (w WeeklyHours) IsOpen(d time.Weekday) bool {
	h, ok := w[d]
	return ok && !h.Closed
}

// AnyOpen reports whether at least one weekday is open.
func (w WeeklyHours) AnyOpen() bool {
	for d := range w {
		if w.IsOpen(d) {
			return true
		}
	}
	return false
}

// NewlyClosed returns the weekdays closed in proposed that were open in
// current, in week order. With a nil current every closed weekday in
// proposed counts.
func NewlyClosed(current, proposed WeeklyHours) []time.Weekday {
	var out []time.Weekday
	for _, d := range WeekOrder {
		p, ok := proposed[d]
		if !ok || !p.Closed {
			continue
		}
		if current != nil && !current.IsOpen(d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (w WeeklyHours) MarshalJSON() ([]byte, error) {
	m := make(map[string]DayHours, len(w))
	for d, h := range w {
		m[WeekdayName(d)] = h
	}
	return json.Marshal(m)
}

func (w *WeeklyHours) UnmarshalJSON(b []byte) error {
	var m map[string]DayHours
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	out := make(WeeklyHours, len(m))
	for k, h := range m {
		d, err := ParseWeekday(k)
		if err != nil {
			return err
		}
		out[d] = h
	}
	*w = out
	return nil
}

// DateKey formats the calendar date of t, ignoring its location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// CivilDate returns t's calendar date as midnight UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// Period is an inclusive range of calendar dates.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: CivilDate(start), End: CivilDate(end)}
	if p.End.Before(p.Start) {
		return Period{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidPeriod, DateKey(p.End), DateKey(p.Start))
	}
	return p, nil
}

// Dates lists every date in the period.
func (p Period) Dates() []time.Time {
	var out []time.Time
	for d := p.Start; !d.After(p.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
