// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ScheduleID identifies a recurring schedule (halaka).
type ScheduleID string

// IsValid checks if the schedule ID is a valid UUID.
func (s ScheduleID) IsValid() bool { return uuidRegex.MatchString(string(s)) }

// String returns the string representation.
func (s ScheduleID) String() string { return string(s) }

// EnrollmentID identifies the link between one student and one schedule.
type EnrollmentID string

// IsValid checks if the enrollment ID is a valid UUID.
func (e EnrollmentID) IsValid() bool { return uuidRegex.MatchString(string(e)) }

// String returns the string representation.
func (e EnrollmentID) String() string { return string(e) }

// StudentID identifies a student account.
type StudentID string

// IsValid checks if the student ID is a valid UUID.
func (s StudentID) IsValid() bool { return uuidRegex.MatchString(string(s)) }

// String returns the string representation.
func (s StudentID) String() string { return string(s) }

// TeacherID identifies a teacher account.
type TeacherID string

// IsValid checks if the teacher ID is a valid UUID.
func (t TeacherID) IsValid() bool { return uuidRegex.MatchString(string(t)) }

// String returns the string representation.
func (t TeacherID) String() string { return string(t) }

// NewScheduleID parses and validates a schedule ID.
func NewScheduleID(id string) (ScheduleID, error) {
	sid := ScheduleID(strings.TrimSpace(id))
	if !sid.IsValid() {
		return "", WrapError("schedule", "ParseID", ErrInvalidID, "invalid schedule ID", fmt.Errorf("%q", id))
	}
	return sid, nil
}

// NewEnrollmentID parses and validates an enrollment ID.
func NewEnrollmentID(id string) (EnrollmentID, error) {
	eid := EnrollmentID(strings.TrimSpace(id))
	if !eid.IsValid() {
		return "", WrapError("enrollment", "ParseID", ErrInvalidID, "invalid enrollment ID", fmt.Errorf("%q", id))
	}
	return eid, nil
}

// NewStudentID parses and validates a student ID.
func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(strings.TrimSpace(id))
	if !sid.IsValid() {
		return "", WrapError("student", "ParseID", ErrInvalidID, "invalid student ID", fmt.Errorf("%q", id))
	}
	return sid, nil
}

// Actor references whoever performed a teacher-facing action.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
}

// ActorKind is the tagged-variant discriminator of an Actor.
type ActorKind string

const (
	ActorTeacher ActorKind = "teacher"
	ActorStudent ActorKind = "student"
	ActorAdmin   ActorKind = "admin"
	ActorSystem  ActorKind = "system"
)

// IsValid reports whether the actor kind is known and an ID is present.
func (a Actor) IsValid() bool {
	switch a.Kind {
	case ActorTeacher, ActorStudent, ActorAdmin:
		return a.ID != ""
	case ActorSystem:
		return true
	default:
		return false
	}
}

// String returns "kind:id".
func (a Actor) String() string {
	return string(a.Kind) + ":" + a.ID
}

// TeacherActor builds an actor for a teacher.
func TeacherActor(id TeacherID) Actor { return Actor{Kind: ActorTeacher, ID: string(id)} }

// ═══════════════════════════════════════════════════════════════════════════
// Money
// ═══════════════════════════════════════════════════════════════════════════

// Money is an amount in minor currency units. Integer arithmetic keeps
// payout releases exact.
type Money int64

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m < 0 }

// String formats the amount with two decimals.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ═══════════════════════════════════════════════════════════════════════════
// Date
// ═══════════════════════════════════════════════════════════════════════════

// DateLayout is the wire and storage format of a Date.
const DateLayout = "2006-01-02"

// Date is a civil calendar date without time or zone. It is comparable and
// safe to use as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a normalized Date (e.g. Feb 30 becomes Mar 2).
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// DateIn returns the calendar date of t as observed in loc.
func DateIn(t time.Time, loc *time.Location) Date {
	return DateOf(t.In(loc))
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, WrapError("recurrence", "ParseDate", ErrInvalidFormat, "date must be YYYY-MM-DD", err)
	}
	return DateOf(t), nil
}

// MustParseDate parses a date or panics. Use only for constants and tests.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d == Date{} }

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// Time returns midnight of d in UTC.
func (d Date) Time() time.Time { return d.In(time.UTC) }

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Weekday returns the Gregorian weekday of d.
func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }

// Compare returns -1, 0 or +1.
func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return cmpInt(d.Year, other.Year)
	case d.Month != other.Month:
		return cmpInt(int(d.Month), int(other.Month))
	default:
		return cmpInt(d.Day, other.Day)
	}
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool { return d.Compare(other) > 0 }

// DaysUntil returns the number of days from d to other (negative if other is earlier).
func (d Date) DaysUntil(other Date) int {
	return int(other.Time().Sub(d.Time()).Hours() / 24)
}

// String formats d as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Clock time
// ═══════════════════════════════════════════════════════════════════════════

// ClockTime is a wall-clock time of day ("HH:MM", 24h).
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return ClockTime{}, ErrInvalidStartTime
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return ClockTime{}, ErrInvalidStartTime
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// On returns the instant this clock time occurs on date d in loc.
func (c ClockTime) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

// String formats the clock time as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// MarshalText implements encoding.TextMarshaler.
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
