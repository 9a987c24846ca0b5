package schedule

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/recurrence"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

const (
	testScheduleID = shared.ScheduleID("5d8c3f0e-8f1a-4d8e-9b55-3c1f0a8e2b11")
	testTeacherID  = shared.TeacherID("0b6f6c1e-4a0e-4f43-9d7e-6d1f2e3a4b5c")
	testStudentID  = shared.StudentID("a3e1c9d2-7b4f-4e6a-8c2d-1f0e9b8a7c6d")
	otherStudentID = shared.StudentID("c0ffee00-1111-4222-8333-444455556666")
)

// 2025-01-03 10:00 in Riyadh; the first lesson is two days later.
var beforeStart = time.Date(2025, 1, 3, 7, 0, 0, 0, time.UTC)

func newPrivate(t *testing.T, total int) *Schedule {
	t.Helper()
	s, err := NewSchedule(NewScheduleParams{
		ID:               testScheduleID,
		TeacherID:        testTeacherID,
		Title:            "  Tajweed basics ",
		Kind:             KindPrivate,
		PrivateStudentID: testStudentID,
		MeetingID:        "room-42",
		Rule: recurrence.Params{
			Frequency:       recurrence.Weekly,
			Days:            []time.Weekday{time.Sunday, time.Tuesday},
			StartTime:       "10:00",
			DurationMinutes: 60,
			StartDate:       shared.MustParseDate("2025-01-05"),
			EndDate:         shared.MustParseDate("2025-02-01"),
			Timezone:        "Asia/Riyadh",
		},
		TotalSessions: total,
		Price:         100000,
		Now:           beforeStart,
	})
	require.NoError(t, err)
	return s
}

func teacher() shared.Actor { return shared.TeacherActor(testTeacherID) }

func TestNewSchedule_DerivesEndDateFromTotal(t *testing.T) {
	s := newPrivate(t, 4)

	assert.Equal(t, "Tajweed basics", s.Title)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, "2025-01-14", s.Rule.EndDate.String())
	assert.Len(t, s.Deliverable(), 4)
	assert.Len(t, s.Occurrences(), 4)
}

func TestNewSchedule_WithoutEndDate(t *testing.T) {
	s, err := NewSchedule(NewScheduleParams{
		ID:               testScheduleID,
		TeacherID:        testTeacherID,
		Kind:             KindPrivate,
		PrivateStudentID: testStudentID,
		Rule: recurrence.Params{
			Frequency:       recurrence.Weekly,
			Days:            []time.Weekday{time.Sunday, time.Tuesday},
			StartTime:       "10:00",
			DurationMinutes: 60,
			StartDate:       shared.MustParseDate("2025-01-05"),
			Timezone:        "Asia/Riyadh",
		},
		TotalSessions: 4,
		Now:           beforeStart,
	})
	require.NoError(t, err)

	assert.Equal(t, "2025-01-14", s.Rule.EndDate.String())
	dates := make([]string, 0, 4)
	for _, o := range s.Deliverable() {
		dates = append(dates, o.Date.String())
	}
	assert.Equal(t, []string{"2025-01-05", "2025-01-07", "2025-01-12", "2025-01-14"}, dates)
}

func TestNewSchedule_Validation(t *testing.T) {
	p := NewScheduleParams{
		ID:        testScheduleID,
		TeacherID: testTeacherID,
		Kind:      KindPrivate,
		Rule: recurrence.Params{
			Frequency:       recurrence.Weekly,
			Days:            []time.Weekday{time.Monday},
			StartTime:       "10:00",
			DurationMinutes: 60,
			StartDate:       shared.MustParseDate("2025-01-05"),
			EndDate:         shared.MustParseDate("2025-02-01"),
		},
		TotalSessions: 4,
	}

	_, err := NewSchedule(p)
	assert.ErrorIs(t, err, shared.ErrMissingPrivateStudent)

	p.PrivateStudentID = testStudentID
	p.TotalSessions = 0
	_, err = NewSchedule(p)
	assert.ErrorIs(t, err, shared.ErrInvalidTotalSessions)

	p.TotalSessions = 4
	p.Kind = "webinar"
	_, err = NewSchedule(p)
	assert.ErrorIs(t, err, shared.ErrInvalidScheduleKind)

	p.Kind = KindPrivate
	p.Rule.Days = nil
	_, err = NewSchedule(p)
	assert.ErrorIs(t, err, shared.ErrEmptyDays)
}

func TestParticipants(t *testing.T) {
	s := newPrivate(t, 4)
	assert.True(t, s.IsParticipant(testStudentID))
	assert.False(t, s.IsParticipant(otherStudentID))
	assert.False(t, s.IsParticipant(""))
	assert.Error(t, s.AddGroupStudent(otherStudentID, beforeStart))

	s.Kind = KindGroup
	s.PrivateStudentID = ""
	require.NoError(t, s.AddGroupStudent(otherStudentID, beforeStart))
	require.NoError(t, s.AddGroupStudent(otherStudentID, beforeStart))
	assert.Equal(t, []shared.StudentID{otherStudentID}, s.Students())
	assert.True(t, s.IsParticipant(otherStudentID))
}

func TestCancelOccurrence_ExtendsEndDate(t *testing.T) {
	s := newPrivate(t, 10)
	occs := s.Rule.Occurrences(11)
	require.Equal(t, occs[9].Date, s.Rule.EndDate)

	change, err := s.CancelOccurrence(occs[2].Date, "teacher travelling", teacher(), beforeStart)

	require.NoError(t, err)
	assert.Equal(t, occs[9].Date, change.OldEndDate)
	assert.Equal(t, occs[10].Date, change.NewEndDate)
	assert.Equal(t, occs[10].Date, s.Rule.EndDate)
	assert.True(t, s.IsCancelled(occs[2].Date))
	assert.Len(t, s.Deliverable(), 10)
	assert.Equal(t, "teacher travelling", s.Cancellations[0].Reason)
}

func TestCancelOccurrence_Rejections(t *testing.T) {
	s := newPrivate(t, 4)

	_, err := s.CancelOccurrence(shared.MustParseDate("2025-01-06"), "", teacher(), beforeStart)
	assert.ErrorIs(t, err, shared.ErrDateNotInSchedule)

	_, err = s.CancelOccurrence(shared.MustParseDate("2025-03-02"), "", teacher(), beforeStart)
	assert.ErrorIs(t, err, shared.ErrDateNotInSchedule, "beyond the end date")

	_, err = s.CancelOccurrence(shared.MustParseDate("2025-01-05"), "", shared.TeacherActor("someone-else"), beforeStart)
	assert.ErrorIs(t, err, shared.ErrNotScheduleTeacher)

	_, err = s.CancelOccurrence(shared.MustParseDate("2025-01-05"), "", shared.Actor{Kind: shared.ActorStudent, ID: string(testStudentID)}, beforeStart)
	assert.ErrorIs(t, err, shared.ErrNotScheduleTeacher)

	_, err = s.CancelOccurrence(shared.MustParseDate("2025-01-07"), "", teacher(), beforeStart)
	require.NoError(t, err)
	_, err = s.CancelOccurrence(shared.MustParseDate("2025-01-07"), "", teacher(), beforeStart)
	assert.ErrorIs(t, err, shared.ErrAlreadyCancelled)

	later := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	_, err = s.CancelOccurrence(shared.MustParseDate("2025-01-05"), "", teacher(), later)
	assert.ErrorIs(t, err, shared.ErrOccurrencePassed)
}

func TestCancelOccurrence_SameDayIsAllowed(t *testing.T) {
	s := newPrivate(t, 4)
	// 23:30 UTC on Jan 4 is already Jan 5 in Riyadh.
	now := time.Date(2025, 1, 4, 23, 30, 0, 0, time.UTC)

	_, err := s.CancelOccurrence(shared.MustParseDate("2025-01-05"), "", teacher(), now)

	assert.NoError(t, err)
}

func TestCancelOccurrence_AdminMayCancel(t *testing.T) {
	s := newPrivate(t, 4)

	_, err := s.CancelOccurrence(shared.MustParseDate("2025-01-12"), "holiday", shared.Actor{Kind: shared.ActorAdmin, ID: "ops"}, beforeStart)

	assert.NoError(t, err)
}

func TestRestoreOccurrence_InverseOfCancel(t *testing.T) {
	s := newPrivate(t, 6)
	original := s.Rule.EndDate
	d := shared.MustParseDate("2025-01-12")

	_, err := s.CancelOccurrence(d, "", teacher(), beforeStart)
	require.NoError(t, err)
	require.True(t, s.Rule.EndDate.After(original))

	change, err := s.RestoreOccurrence(d, teacher(), beforeStart)

	require.NoError(t, err)
	assert.Equal(t, original, change.NewEndDate)
	assert.Equal(t, original, s.Rule.EndDate)
	assert.False(t, s.IsCancelled(d))
	assert.Empty(t, s.Cancellations)
}

func TestRestoreOccurrence_Rejections(t *testing.T) {
	s := newPrivate(t, 6)
	d := shared.MustParseDate("2025-01-07")

	_, err := s.RestoreOccurrence(d, teacher(), beforeStart)
	assert.ErrorIs(t, err, shared.ErrNotCancelled)

	_, err = s.CancelOccurrence(d, "", teacher(), beforeStart)
	require.NoError(t, err)

	_, err = s.RestoreOccurrence(d, shared.TeacherActor("intruder"), beforeStart)
	assert.ErrorIs(t, err, shared.ErrNotScheduleTeacher)

	_, err = s.RestoreOccurrence(d, teacher(), time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, shared.ErrOccurrencePassed)
}

func TestCorrelate(t *testing.T) {
	s := newPrivate(t, 4)

	// 21:30 UTC on Jan 6 is 00:30 on Jan 7 in Riyadh.
	d, ok := s.Correlate(time.Date(2025, 1, 6, 21, 30, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, "2025-01-07", d.String())

	_, ok = s.Correlate(time.Date(2025, 1, 8, 7, 0, 0, 0, time.UTC))
	assert.False(t, ok, "Wednesday is not a lesson day")

	_, ok = s.Correlate(time.Date(2025, 1, 19, 7, 0, 0, 0, time.UTC))
	assert.False(t, ok, "Sunday after the end date")

	_, ok = s.Correlate(time.Date(2024, 12, 29, 7, 0, 0, 0, time.UTC))
	assert.False(t, ok, "Sunday before the start date")
}

func TestCorrelate_CancelledDateStillMatches(t *testing.T) {
	s := newPrivate(t, 4)
	_, err := s.CancelOccurrence(shared.MustParseDate("2025-01-07"), "", teacher(), beforeStart)
	require.NoError(t, err)

	d, ok := s.Correlate(time.Date(2025, 1, 7, 7, 5, 0, 0, time.UTC))

	assert.True(t, ok)
	assert.Equal(t, "2025-01-07", d.String())
}

func TestApplyEvent_JoinThenLeave(t *testing.T) {
	s := newPrivate(t, 4)
	join := time.Date(2025, 1, 5, 7, 1, 0, 0, time.UTC)
	leave := time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC)

	res, err := s.ApplyEvent(MeetingEvent{Kind: EventJoin, StudentID: testStudentID, Timestamp: join})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, res.Outcome)

	res, err = s.ApplyEvent(MeetingEvent{Kind: EventLeave, StudentID: testStudentID, Timestamp: leave})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, res.Outcome)

	rec := s.AttendanceFor(shared.MustParseDate("2025-01-05"), testStudentID)
	assert.Equal(t, AttendancePresent, rec.Status)
	require.NotNil(t, rec.TimeIn)
	require.NotNil(t, rec.TimeOut)
	assert.Equal(t, join, *rec.TimeIn)
	assert.Equal(t, leave, *rec.TimeOut)
	assert.True(t, s.WasPresent(shared.MustParseDate("2025-01-05"), testStudentID))
}

func TestApplyEvent_OutOfOrderConverges(t *testing.T) {
	join := time.Date(2025, 1, 5, 7, 1, 0, 0, time.UTC)
	leave := time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC)

	inOrder := newPrivate(t, 4)
	_, err := inOrder.ApplyEvent(MeetingEvent{Kind: EventJoin, StudentID: testStudentID, Timestamp: join})
	require.NoError(t, err)
	_, err = inOrder.ApplyEvent(MeetingEvent{Kind: EventLeave, StudentID: testStudentID, Timestamp: leave})
	require.NoError(t, err)

	reversed := newPrivate(t, 4)
	res, err := reversed.ApplyEvent(MeetingEvent{Kind: EventLeave, StudentID: testStudentID, Timestamp: leave})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, res.Outcome)

	partial := reversed.AttendanceFor(shared.MustParseDate("2025-01-05"), testStudentID)
	assert.Equal(t, AttendancePresent, partial.Status, "leave alone never infers absent")
	assert.Nil(t, partial.TimeIn)

	_, err = reversed.ApplyEvent(MeetingEvent{Kind: EventJoin, StudentID: testStudentID, Timestamp: join})
	require.NoError(t, err)

	assert.Equal(t, inOrder.Attendance, reversed.Attendance)
}

func TestApplyEvent_DuplicateIsUnchanged(t *testing.T) {
	s := newPrivate(t, 4)
	ev := MeetingEvent{Kind: EventJoin, StudentID: testStudentID, Timestamp: time.Date(2025, 1, 5, 7, 0, 0, 0, time.UTC)}

	_, err := s.ApplyEvent(ev)
	require.NoError(t, err)
	res, err := s.ApplyEvent(ev)

	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	require.Len(t, s.Attendance, 1)
	assert.Len(t, s.Attendance[0].Records, 1)
}

func TestApplyEvent_IgnoredAndUncorrelated(t *testing.T) {
	s := newPrivate(t, 4)

	res, err := s.ApplyEvent(MeetingEvent{Kind: EventJoin, StudentID: otherStudentID, Timestamp: time.Date(2025, 1, 5, 7, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	res, err = s.ApplyEvent(MeetingEvent{Kind: EventJoin, StudentID: testStudentID, Timestamp: time.Date(2025, 1, 8, 7, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUncorrelated, res.Outcome)

	assert.Empty(t, s.Attendance)

	_, err = s.ApplyEvent(MeetingEvent{Kind: "wave", StudentID: testStudentID, Timestamp: time.Now()})
	assert.ErrorIs(t, err, shared.ErrInvalidEventType)
}

func TestOverrideStatus(t *testing.T) {
	s := newPrivate(t, 4)
	d := shared.MustParseDate("2025-01-05")
	admin := shared.Actor{Kind: shared.ActorAdmin, ID: "ops"}

	assert.Equal(t, AttendanceAbsent, s.AttendanceFor(d, testStudentID).Status)

	applied, err := s.OverrideStatus(d, testStudentID, AttendanceExcused, admin, time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, AttendanceExcused, s.AttendanceFor(d, testStudentID).Status)
	assert.Equal(t, SourceAdmin, s.AttendanceFor(d, testStudentID).Source)

	// An earlier join does not beat the later override.
	_, err = s.ApplyEvent(MeetingEvent{Kind: EventJoin, StudentID: testStudentID, Timestamp: time.Date(2025, 1, 5, 7, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, AttendanceExcused, s.AttendanceFor(d, testStudentID).Status)

	applied, err = s.OverrideStatus(d, testStudentID, AttendancePresent, admin, time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, applied, "stale override")

	_, err = s.OverrideStatus(d, otherStudentID, AttendancePresent, admin, time.Now())
	assert.ErrorIs(t, err, shared.ErrUnknownParticipant)

	_, err = s.OverrideStatus(d, testStudentID, "sleeping", admin, time.Now())
	assert.ErrorIs(t, err, shared.ErrInvalidStatus)
}

func TestComplete(t *testing.T) {
	s := newPrivate(t, 4)
	assert.False(t, s.Complete(time.Date(2025, 1, 14, 12, 0, 0, 0, time.UTC)))
	assert.True(t, s.Complete(time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, StatusCompleted, s.Status)
	assert.False(t, s.Complete(time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC)))
}
