package query

import (
	"context"
	"testing"
	"time"

	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/recurrence"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/persistence/memory"
)

const (
	scheduleID   = shared.ScheduleID("c9f0f895-fb98-4b9f-9a1e-0b1c2d3e4f50")
	enrollmentID = shared.EnrollmentID("8f14e45f-ceea-467f-a0e6-1b2c3d4e5f60")
	teacherID    = shared.TeacherID("d3d94468-02a4-4a2b-9b8c-2e3f4a5b6c70")
	studentID    = shared.StudentID("45c48cce-2e2d-4fbd-8a5c-1d2e3f4a5b60")
)

var now = time.Date(2025, 1, 3, 7, 0, 0, 0, time.UTC)

func seedSchedule(t *testing.T, repo *memory.ScheduleRepository) *schedule.Schedule {
	t.Helper()
	s, err := schedule.NewSchedule(schedule.NewScheduleParams{
		ID:               scheduleID,
		TeacherID:        teacherID,
		Title:            "Hifz",
		Kind:             schedule.KindPrivate,
		PrivateStudentID: studentID,
		Rule: recurrence.Params{
			Frequency:       recurrence.Weekly,
			Days:            []time.Weekday{time.Sunday, time.Tuesday},
			StartTime:       "10:00",
			DurationMinutes: 90,
			StartDate:       shared.NewDate(2025, 1, 5),
			Timezone:        "Asia/Riyadh",
		},
		TotalSessions: 4,
		Price:         100000,
		Now:           now,
	})
	require.NoError(t, err)

	_, err = s.CancelOccurrence(shared.NewDate(2025, 1, 7), "exam week", shared.TeacherActor(teacherID), now)
	require.NoError(t, err)
	_, err = s.ApplyEvent(schedule.MeetingEvent{
		Kind:      schedule.EventJoin,
		StudentID: studentID,
		Timestamp: time.Date(2025, 1, 5, 7, 2, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, repo.Create(context.Background(), s))
	return s
}

func TestGetOccurrences(t *testing.T) {
	repo := memory.NewScheduleRepository()
	seedSchedule(t, repo)

	got, err := NewGetOccurrencesHandler(repo).Handle(context.Background(), GetOccurrencesQuery{ScheduleID: scheduleID})
	require.NoError(t, err)

	require.Len(t, got.Occurrences, 5)
	assert.Equal(t, 1, got.Cancelled)
	assert.InDelta(t, 3.0, got.WeeklyHours, 1e-9)
	assert.InDelta(t, 6.0, got.ContractHours, 1e-9)

	first := got.Occurrences[0]
	assert.Equal(t, shared.NewDate(2025, 1, 5), first.Date)
	assert.Equal(t, 1, first.Present)
	assert.Equal(t, "2025-01-05T10:00:00+03:00", first.StartsAt)

	second := got.Occurrences[1]
	assert.True(t, second.Cancelled)
	assert.Equal(t, "exam week", second.CancelReason)
	assert.Equal(t, 1, second.Absent)

	assert.Equal(t, shared.NewDate(2025, 1, 19), got.Occurrences[4].Date)
}

func TestGetOccurrences_Window(t *testing.T) {
	repo := memory.NewScheduleRepository()
	seedSchedule(t, repo)

	got, err := NewGetOccurrencesHandler(repo).Handle(context.Background(), GetOccurrencesQuery{
		ScheduleID: scheduleID,
		From:       shared.NewDate(2025, 1, 10),
		To:         shared.NewDate(2025, 1, 13),
	})
	require.NoError(t, err)
	require.Len(t, got.Occurrences, 1)
	assert.Equal(t, 3, got.Occurrences[0].Sequence)

	_, err = NewGetOccurrencesHandler(repo).Handle(context.Background(), GetOccurrencesQuery{
		ScheduleID: scheduleID,
		From:       shared.NewDate(2025, 1, 13),
		To:         shared.NewDate(2025, 1, 10),
	})
	assert.True(t, shared.IsValidation(err))
}

func TestGetEnrollment(t *testing.T) {
	repo := memory.NewEnrollmentRepository()
	e, err := enrollment.NewEnrollment(enrollment.NewEnrollmentParams{
		ID:            enrollmentID,
		ScheduleID:    scheduleID,
		StudentID:     studentID,
		TeacherID:     teacherID,
		TotalSessions: 4,
		Now:           now,
	})
	require.NoError(t, err)
	require.NoError(t, e.ConfirmPayment(enrollment.Payment{Amount: 1000, Fee: 200, Reference: "p1"}, now))
	e.DeductOneCredit(shared.NewDate(2025, 1, 5), now)
	e.DeductOneCredit(shared.NewDate(2025, 1, 7), now)
	require.NoError(t, e.MarkReleased(shared.NewDate(2025, 1, 5), now))
	require.NoError(t, repo.Create(context.Background(), e))

	got, err := NewGetEnrollmentHandler(repo).Handle(context.Background(), GetEnrollmentQuery{EnrollmentID: enrollmentID})
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusActive, got.Status)
	assert.Equal(t, 2, got.SessionsRemaining)
	assert.Equal(t, 4, got.PaidSessions)
	assert.Equal(t, shared.Money(200), got.Released)
	assert.Equal(t, shared.Money(200), got.PendingRelease)
	assert.Len(t, got.DeductedDates, 2)

	_, err = NewGetEnrollmentHandler(repo).Handle(context.Background(), GetEnrollmentQuery{EnrollmentID: "nope"})
	assert.True(t, shared.IsValidation(err))
}
