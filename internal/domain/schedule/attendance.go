package schedule

import (
	"strings"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE TYPES
// ══════════════════════════════════════════════════════════════════════════════

// AttendanceStatus is the recorded presence of one student on one date.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceExcused AttendanceStatus = "excused"
)

// IsValid checks if the status is known.
func (a AttendanceStatus) IsValid() bool {
	switch a {
	case AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused:
		return true
	default:
		return false
	}
}

// ParseAttendanceStatus parses a status name.
func ParseAttendanceStatus(s string) (AttendanceStatus, error) {
	st := AttendanceStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", shared.ErrInvalidStatus
	}
	return st, nil
}

// RecordSource tells who wrote the current status.
type RecordSource string

const (
	SourceMeeting RecordSource = "meeting"
	SourceAdmin   RecordSource = "admin"
)

// StudentAttendanceRecord is one student's attendance on one date. Each
// field is last-writer-wins by event timestamp, never by arrival order.
type StudentAttendanceRecord struct {
	StudentID shared.StudentID `json:"student_id"`
	Status    AttendanceStatus `json:"status"`
	TimeIn    *time.Time       `json:"time_in,omitempty"`
	TimeOut   *time.Time       `json:"time_out,omitempty"`

	// StatusAt is the timestamp of the write that set Status.
	StatusAt time.Time    `json:"status_at"`
	Source   RecordSource `json:"source"`
}

// AttendanceEntry groups the records of one lesson date.
type AttendanceEntry struct {
	SessionDate shared.Date               `json:"session_date"`
	Records     []StudentAttendanceRecord `json:"records"`
}

// EventKind is the meeting-platform event type.
type EventKind string

const (
	EventJoin  EventKind = "join"
	EventLeave EventKind = "leave"
)

// IsValid checks if the event kind is known.
func (k EventKind) IsValid() bool {
	return k == EventJoin || k == EventLeave
}

// MeetingEvent is a join/leave event with the participant already resolved
// to a student.
type MeetingEvent struct {
	Kind      EventKind
	StudentID shared.StudentID
	Timestamp time.Time
}

// Outcome is the result of applying a meeting event.
type Outcome string

const (
	// OutcomeRecorded means the attendance record was written.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeUnchanged means the event was older than every field it touches.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeUncorrelated means no occurrence matched the event's date.
	OutcomeUncorrelated Outcome = "uncorrelated"
	// OutcomeIgnored means the participant is not part of the schedule.
	OutcomeIgnored Outcome = "ignored"
)

// CorrelationResult is the outcome of ApplyEvent.
type CorrelationResult struct {
	Outcome Outcome
	Date    shared.Date
}

// ══════════════════════════════════════════════════════════════════════════════
// CORRELATION
// ══════════════════════════════════════════════════════════════════════════════

// Correlate maps an event instant to the occurrence date it belongs to. The
// instant is read in the schedule's zone and matched against the generated
// stream inside StartDate..EndDate. Cancelled dates still match.
func (s *Schedule) Correlate(ts time.Time) (shared.Date, bool) {
	d := shared.DateIn(ts, s.Location())
	if !s.InWindow(d) {
		return shared.Date{}, false
	}
	for occ := range s.Rule.All() {
		if occ.Date.After(s.Rule.EndDate) || occ.Date.After(d) {
			break
		}
		if occ.Date == d {
			return d, true
		}
	}
	return shared.Date{}, false
}

// ApplyEvent authorizes, correlates and upserts one meeting event. Unknown
// participants are ignored before anything is written.
func (s *Schedule) ApplyEvent(ev MeetingEvent) (CorrelationResult, error) {
	if !ev.Kind.IsValid() {
		return CorrelationResult{}, shared.ErrInvalidEventType
	}
	if !s.IsParticipant(ev.StudentID) {
		return CorrelationResult{Outcome: OutcomeIgnored}, nil
	}

	date, ok := s.Correlate(ev.Timestamp)
	if !ok {
		return CorrelationResult{Outcome: OutcomeUncorrelated}, nil
	}

	ts := ev.Timestamp.UTC()
	rec := s.record(date, ev.StudentID)

	changed := false
	switch ev.Kind {
	case EventJoin:
		if rec.TimeIn == nil || ts.After(*rec.TimeIn) {
			rec.TimeIn = &ts
			changed = true
		}
	case EventLeave:
		if rec.TimeOut == nil || ts.After(*rec.TimeOut) {
			rec.TimeOut = &ts
			changed = true
		}
	}
	// Either event proves presence.
	if rec.StatusAt.IsZero() || ts.After(rec.StatusAt) {
		rec.Status = AttendancePresent
		rec.StatusAt = ts
		rec.Source = SourceMeeting
		changed = true
	}

	if !changed {
		return CorrelationResult{Outcome: OutcomeUnchanged, Date: date}, nil
	}
	return CorrelationResult{Outcome: OutcomeRecorded, Date: date}, nil
}

// OverrideStatus sets a student's status administratively. The override
// follows the same timestamp ordering as meeting events.
func (s *Schedule) OverrideStatus(d shared.Date, student shared.StudentID, status AttendanceStatus, by shared.Actor, at time.Time) (bool, error) {
	if err := s.authorize(by); err != nil {
		return false, err
	}
	if !status.IsValid() {
		return false, shared.ErrInvalidStatus
	}
	if !s.IsParticipant(student) {
		return false, shared.ErrUnknownParticipant
	}
	if !s.Generates(d) {
		return false, shared.ErrDateNotInSchedule
	}

	at = at.UTC()
	rec := s.record(d, student)
	if !rec.StatusAt.IsZero() && !at.After(rec.StatusAt) {
		return false, nil
	}
	rec.Status = status
	rec.StatusAt = at
	rec.Source = SourceAdmin
	return true, nil
}

// AttendanceFor returns the student's record for d. A student without a
// record is absent.
func (s *Schedule) AttendanceFor(d shared.Date, student shared.StudentID) StudentAttendanceRecord {
	for i := range s.Attendance {
		if s.Attendance[i].SessionDate != d {
			continue
		}
		for _, r := range s.Attendance[i].Records {
			if r.StudentID == student {
				return r
			}
		}
	}
	return StudentAttendanceRecord{StudentID: student, Status: AttendanceAbsent}
}

// WasPresent reports whether the student is marked present on d.
func (s *Schedule) WasPresent(d shared.Date, student shared.StudentID) bool {
	return s.AttendanceFor(d, student).Status == AttendancePresent
}

// EntryFor returns the attendance entry of d, if any.
func (s *Schedule) EntryFor(d shared.Date) (AttendanceEntry, bool) {
	for _, e := range s.Attendance {
		if e.SessionDate == d {
			return e, true
		}
	}
	return AttendanceEntry{}, false
}

// record returns a pointer to the (date, student) record, creating the
// entry and an absent record lazily.
func (s *Schedule) record(d shared.Date, student shared.StudentID) *StudentAttendanceRecord {
	ei := -1
	for i := range s.Attendance {
		if s.Attendance[i].SessionDate == d {
			ei = i
			break
		}
	}
	if ei < 0 {
		s.Attendance = append(s.Attendance, AttendanceEntry{SessionDate: d})
		ei = len(s.Attendance) - 1
	}

	entry := &s.Attendance[ei]
	for i := range entry.Records {
		if entry.Records[i].StudentID == student {
			return &entry.Records[i]
		}
	}
	entry.Records = append(entry.Records, StudentAttendanceRecord{
		StudentID: student,
		Status:    AttendanceAbsent,
	})
	return &entry.Records[len(entry.Records)-1]
}
