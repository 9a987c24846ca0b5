// Package recurrence turns a recurrence rule into the deterministic sequence
// of lesson dates a schedule delivers. Everything here is pure: no I/O, no
// clocks, no shared state.
package recurrence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FREQUENCY
// ══════════════════════════════════════════════════════════════════════════════

// Frequency controls the day-stepping cadence of a rule.
type Frequency string

const (
	// Daily accepts every calendar day; the days set is ignored.
	Daily Frequency = "daily"

	// Weekly accepts the listed weekdays of every week.
	Weekly Frequency = "weekly"

	// Biweekly accepts the listed weekdays of every other week, counting
	// from the week that contains the start date.
	Biweekly Frequency = "biweekly"
)

// IsValid checks if the frequency is known.
func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Biweekly:
		return true
	}
	return false
}

// ParseFrequency parses a frequency name (case-insensitive).
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", shared.ErrInvalidFrequency
	}
	return f, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKDAYS
// ══════════════════════════════════════════════════════════════════════════════

// Weekdays is a sorted set of weekdays. It serializes as lowercase names.
type Weekdays []time.Weekday

// ParseWeekday accepts full or three-letter English names.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, shared.WrapError("recurrence", "ParseWeekday", shared.ErrInvalidInput, "unknown weekday", fmt.Errorf("%q", s))
}

// Has reports whether d is in the set.
func (w Weekdays) Has(d time.Weekday) bool {
	for _, x := range w {
		if x == d {
			return true
		}
	}
	return false
}

// normalize returns a sorted copy without duplicates.
func (w Weekdays) normalize() Weekdays {
	seen := make(map[time.Weekday]bool, len(w))
	out := make(Weekdays, 0, len(w))
	for _, d := range w {
		if d < time.Sunday || d > time.Saturday || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a list of lowercase names.
func (w Weekdays) MarshalJSON() ([]byte, error) {
	names := make([]string, len(w))
	for i, d := range w {
		names[i] = strings.ToLower(d.String())
	}
	return json.Marshal(names)
}

// UnmarshalJSON decodes a list of weekday names.
func (w *Weekdays) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	days := make(Weekdays, 0, len(names))
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return err
		}
		days = append(days, d)
	}
	*w = days.normalize()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RULE
// ══════════════════════════════════════════════════════════════════════════════

// Rule is a validated recurrence rule. Build it with NewRule; the zero value
// is not usable.
type Rule struct {
	Frequency       Frequency        `json:"frequency"`
	Days            Weekdays         `json:"days"`
	StartTime       shared.ClockTime `json:"start_time"`
	DurationMinutes int              `json:"duration_minutes"`
	StartDate       shared.Date      `json:"start_date"`
	EndDate         shared.Date      `json:"end_date"`
	Timezone        string           `json:"timezone"`

	loc *time.Location
}

// Params holds the raw inputs of a rule.
type Params struct {
	Frequency       Frequency
	Days            []time.Weekday
	StartTime       string
	DurationMinutes int
	StartDate       shared.Date
	EndDate         shared.Date
	Timezone        string
}

// NewRule validates params and returns a Rule. Empty days are rejected for
// every frequency so that generation can never spin on an empty filter.
func NewRule(p Params) (Rule, error) {
	if !p.Frequency.IsValid() {
		return Rule{}, shared.ErrInvalidFrequency
	}

	days := Weekdays(p.Days).normalize()
	if len(days) == 0 {
		return Rule{}, shared.ErrEmptyDays
	}

	start, err := shared.ParseClockTime(p.StartTime)
	if err != nil {
		return Rule{}, err
	}

	if p.DurationMinutes <= 0 {
		return Rule{}, shared.ErrInvalidDuration
	}

	if p.StartDate.IsZero() || p.EndDate.IsZero() || p.StartDate.After(p.EndDate) {
		return Rule{}, shared.ErrInvalidDateRange
	}

	tz := strings.TrimSpace(p.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Rule{}, shared.WrapError("recurrence", "Validate", shared.ErrInvalidTimezone, "unknown timezone", err)
	}

	return Rule{
		Frequency:       p.Frequency,
		Days:            days,
		StartTime:       start,
		DurationMinutes: p.DurationMinutes,
		StartDate:       p.StartDate,
		EndDate:         p.EndDate,
		Timezone:        tz,
		loc:             loc,
	}, nil
}

// Params returns the raw inputs that rebuild r.
func (r Rule) Params() Params {
	return Params{
		Frequency:       r.Frequency,
		Days:            append([]time.Weekday(nil), r.Days...),
		StartTime:       r.StartTime.String(),
		DurationMinutes: r.DurationMinutes,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		Timezone:        r.Timezone,
	}
}

// WithEndDate returns a copy of r with a new end date. The extension policy
// is the only caller; all other fields are immutable after creation.
func (r Rule) WithEndDate(end shared.Date) Rule {
	r.EndDate = end
	return r
}

// Location returns the rule's time zone.
func (r Rule) Location() *time.Location {
	if r.loc != nil {
		return r.loc
	}
	if loc, err := time.LoadLocation(r.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// Duration returns the lesson length.
func (r Rule) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// StartsAt returns the instant the lesson on date d begins.
func (r Rule) StartsAt(d shared.Date) time.Time {
	return r.StartTime.On(d, r.Location())
}

// EndsAt returns the instant the lesson on date d ends.
func (r Rule) EndsAt(d shared.Date) time.Time {
	return r.StartsAt(d).Add(r.Duration())
}

// UnmarshalJSON decodes and re-validates a rule, restoring its location.
func (r *Rule) UnmarshalJSON(b []byte) error {
	type plain Rule
	var raw plain
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	rule, err := NewRule(Rule(raw).Params())
	if err != nil {
		return err
	}
	*r = rule
	return nil
}
