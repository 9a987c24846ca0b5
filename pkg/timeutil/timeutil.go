// Package timeutil provides timezone helpers for the operational timezone in
// which batch jobs define their business day.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// DefaultZone is used when no operational timezone is configured.
const DefaultZone = "UTC"

// LoadLocation loads an IANA zone name. An empty name yields UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// MustLoadLocation is LoadLocation for package-level values and tests.
func MustLoadLocation(name string) *time.Location {
	loc, err := LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// Yesterday returns midnight of the calendar day before t's day in loc.
// AddDate keeps the result correct across DST changes, where a day is not
// 24 hours long.
func Yesterday(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, -1)
}
