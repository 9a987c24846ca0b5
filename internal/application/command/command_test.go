package command

import (
	"context"
	"sync"
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
	teacherID = shared.TeacherID("d3d94468-02a4-4a2b-9b8c-2e3f4a5b6c70")
	studentID = shared.StudentID("45c48cce-2e2d-4fbd-8a5c-1d2e3f4a5b60")
	meetingID = "room-42"
	identity  = "student@example.com"
)

// clock is 2025-01-03, two days before the first lesson.
var clock = time.Date(2025, 1, 3, 7, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(t shared.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type env struct {
	schedules    *memory.ScheduleRepository
	enrollments  *memory.EnrollmentRepository
	participants *memory.ParticipantDirectory
	wallet       *memory.Wallet
	locker       *memory.Locker
	pub          *recordingPublisher
	cfg          OccurrenceHandlerConfig

	schedule   *schedule.Schedule
	enrollment *enrollment.Enrollment
}

// newEnv creates a private Sunday/Tuesday 10:00 Riyadh series of total
// sessions starting 2025-01-05 and pays for it in full.
func newEnv(t *testing.T, total int) *env {
	t.Helper()
	e := &env{
		schedules:    memory.NewScheduleRepository(),
		enrollments:  memory.NewEnrollmentRepository(),
		participants: memory.NewParticipantDirectory(),
		wallet:       memory.NewWallet(),
		locker:       memory.NewLocker(),
		pub:          &recordingPublisher{},
		cfg:          OccurrenceHandlerConfig{Now: func() time.Time { return clock }},
	}
	e.participants.Link(identity, studentID)

	created, err := NewCreateScheduleHandler(e.schedules, e.enrollments, e.cfg.Now).Handle(context.Background(), CreateScheduleCommand{
		TeacherID:        teacherID,
		Title:            "Tajweed",
		Kind:             schedule.KindPrivate,
		PrivateStudentID: studentID,
		MeetingID:        meetingID,
		Rule: recurrence.Params{
			Frequency:       recurrence.Weekly,
			Days:            []time.Weekday{time.Sunday, time.Tuesday},
			StartTime:       "10:00",
			DurationMinutes: 60,
			StartDate:       shared.NewDate(2025, 1, 5),
			Timezone:        "Asia/Riyadh",
		},
		TotalSessions: total,
		Price:         100000,
	})
	require.NoError(t, err)
	require.NotNil(t, created.Enrollment)
	e.schedule = created.Schedule

	pay := NewPaymentHandler(e.enrollments, e.locker, e.pub, PaymentHandlerConfig{FeeBasisPoints: 1500, Now: e.cfg.Now})
	paid, err := pay.Confirm(context.Background(), PaymentCommand{
		EnrollmentID: created.Enrollment.ID,
		Amount:       100000,
		Reference:    "pay-1",
	})
	require.NoError(t, err)
	require.Equal(t, enrollment.StatusActive, paid.Enrollment.Status)
	e.enrollment = paid.Enrollment
	e.wallet.Deposit(teacherID, 85000)
	return e
}

func (e *env) join(t *testing.T, at time.Time) *RecordMeetingEventResult {
	t.Helper()
	h := NewRecordMeetingEventHandler(e.schedules, e.participants, e.locker, e.pub, 0)
	res, err := h.Handle(context.Background(), RecordMeetingEventCommand{
		Event:               "join",
		ParticipantIdentity: identity,
		MeetingID:           meetingID,
		Timestamp:           at,
	})
	require.NoError(t, err)
	return res
}

func (e *env) deducter() *DeductCreditHandler {
	releaser := NewReleasePayoutHandler(e.enrollments, e.wallet, e.pub, e.cfg.Now)
	return NewDeductCreditHandler(e.schedules, e.enrollments, e.locker, releaser, e.pub, e.cfg)
}

// lessonAt returns 10:05 Riyadh time on d.
func lessonAt(d shared.Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 7, 5, 0, 0, time.UTC)
}

// ─────────────────────────────────────────────────────────────────────────────
// Attendance
// ─────────────────────────────────────────────────────────────────────────────

func TestRecordMeetingEvent_Recorded(t *testing.T) {
	e := newEnv(t, 4)
	d := shared.NewDate(2025, 1, 5)

	res := e.join(t, lessonAt(d))
	assert.Equal(t, MeetingRecorded, res.Outcome)
	assert.Equal(t, d, res.Date)
	assert.Equal(t, 1, e.pub.count(shared.EventAttendanceRecorded))

	again := e.join(t, lessonAt(d))
	assert.Equal(t, MeetingUnchanged, again.Outcome)

	s, err := e.schedules.GetByID(context.Background(), e.schedule.ID)
	require.NoError(t, err)
	assert.True(t, s.WasPresent(d, studentID))
}

func TestRecordMeetingEvent_Outcomes(t *testing.T) {
	e := newEnv(t, 4)
	h := NewRecordMeetingEventHandler(e.schedules, e.participants, e.locker, e.pub, 0)
	ctx := context.Background()
	base := RecordMeetingEventCommand{
		Event:               "leave",
		ParticipantIdentity: identity,
		MeetingID:           meetingID,
		Timestamp:           lessonAt(shared.NewDate(2025, 1, 5)),
	}

	unknownRoom := base
	unknownRoom.MeetingID = "room-x"
	res, err := h.Handle(ctx, unknownRoom)
	require.NoError(t, err)
	assert.Equal(t, MeetingUnknownMeeting, res.Outcome)

	stranger := base
	stranger.ParticipantIdentity = "someone@else.com"
	res, err = h.Handle(ctx, stranger)
	require.NoError(t, err)
	assert.Equal(t, MeetingIgnored, res.Outcome)

	monday := base
	monday.Timestamp = lessonAt(shared.NewDate(2025, 1, 6))
	res, err = h.Handle(ctx, monday)
	require.NoError(t, err)
	assert.Equal(t, MeetingUncorrelated, res.Outcome)

	bad := base
	bad.Event = "wave"
	_, err = h.Handle(ctx, bad)
	assert.True(t, shared.IsValidation(err))
}

func TestOverrideAttendance(t *testing.T) {
	e := newEnv(t, 4)
	d := shared.NewDate(2025, 1, 5)
	e.join(t, lessonAt(d))

	h := NewOverrideAttendanceHandler(e.schedules, e.locker, e.cfg)
	res, err := h.Handle(context.Background(), OverrideAttendanceCommand{
		ScheduleID: e.schedule.ID,
		Date:       d,
		StudentID:  studentID,
		Status:     "excused",
		Actor:      shared.TeacherActor(teacherID),
		At:         lessonAt(d).Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, schedule.AttendanceExcused, res.Record.Status)

	stale, err := h.Handle(context.Background(), OverrideAttendanceCommand{
		ScheduleID: e.schedule.ID,
		Date:       d,
		StudentID:  studentID,
		Status:     "absent",
		Actor:      shared.TeacherActor(teacherID),
		At:         lessonAt(d).Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, stale.Applied)
	assert.Equal(t, schedule.AttendanceExcused, stale.Record.Status)
}

// ─────────────────────────────────────────────────────────────────────────────
// Deduction
// ─────────────────────────────────────────────────────────────────────────────

func TestDeductCredit_PresentSessionReleasesPayout(t *testing.T) {
	e := newEnv(t, 4)
	d := shared.NewDate(2025, 1, 5)
	e.join(t, lessonAt(d))

	res, err := e.deducter().Handle(context.Background(), DeductCreditCommand{ScheduleID: e.schedule.ID, StudentID: studentID, Date: d})
	require.NoError(t, err)
	assert.True(t, res.Deducted())
	assert.Equal(t, 3, res.Remaining)
	assert.Equal(t, shared.Money(21250), res.Released)
	assert.NoError(t, res.ReleaseErr)

	b, err := e.wallet.GetBalance(context.Background(), teacherID)
	require.NoError(t, err)
	assert.Equal(t, shared.Money(21250), b.Available)

	again, err := e.deducter().Handle(context.Background(), DeductCreditCommand{ScheduleID: e.schedule.ID, StudentID: studentID, Date: d})
	require.NoError(t, err)
	assert.False(t, again.Deducted())
	assert.Equal(t, enrollment.OutcomeAlreadyDeducted, again.Outcome)
	assert.Equal(t, SkipLedgerSettled, again.Skipped)
	assert.Equal(t, 1, e.wallet.Releases())
}

func TestDeductCredit_Skips(t *testing.T) {
	e := newEnv(t, 4)
	ctx := context.Background()

	res, err := e.deducter().Handle(ctx, DeductCreditCommand{ScheduleID: e.schedule.ID, StudentID: studentID, Date: shared.NewDate(2025, 1, 5)})
	require.NoError(t, err)
	assert.Equal(t, SkipNotPresent, res.Skipped)

	res, err = e.deducter().Handle(ctx, DeductCreditCommand{ScheduleID: e.schedule.ID, StudentID: studentID, Date: shared.NewDate(2025, 1, 6)})
	require.NoError(t, err)
	assert.Equal(t, SkipNotGenerated, res.Skipped)

	cancelled := shared.NewDate(2025, 1, 7)
	e.join(t, lessonAt(cancelled))
	_, err = NewCancelOccurrenceHandler(e.schedules, e.locker, e.pub, e.cfg).Handle(ctx, CancelOccurrenceCommand{
		ScheduleID: e.schedule.ID,
		Date:       cancelled,
		Reason:     "travel",
		Actor:      shared.TeacherActor(teacherID),
	})
	require.NoError(t, err)
	res, err = e.deducter().Handle(ctx, DeductCreditCommand{ScheduleID: e.schedule.ID, StudentID: studentID, Date: cancelled})
	require.NoError(t, err)
	assert.Equal(t, SkipCancelled, res.Skipped)

	stored, err := e.enrollments.GetByID(ctx, e.enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.SessionsRemaining)
}

func TestDeductCredit_ExhaustionNotifiesOnce(t *testing.T) {
	e := newEnv(t, 4)
	ctx := context.Background()
	dates := e.schedule.Rule.Dates(4)
	for _, d := range dates {
		e.join(t, lessonAt(d))
	}

	var last *DeductCreditResult
	for _, d := range dates {
		res, err := e.deducter().Handle(ctx, DeductCreditCommand{ScheduleID: e.schedule.ID, StudentID: studentID, Date: d})
		require.NoError(t, err)
		require.True(t, res.Deducted())
		last = res
	}
	assert.True(t, last.Exhausted)
	assert.Equal(t, 0, last.Remaining)
	assert.Equal(t, 1, e.pub.count(shared.EventBalanceExhausted))

	// Replaying the whole batch changes nothing.
	for _, d := range dates {
		res, err := e.deducter().Handle(ctx, DeductCreditCommand{ScheduleID: e.schedule.ID, StudentID: studentID, Date: d})
		require.NoError(t, err)
		assert.False(t, res.Deducted())
	}
	assert.Equal(t, 1, e.pub.count(shared.EventBalanceExhausted))

	b, err := e.wallet.GetBalance(ctx, teacherID)
	require.NoError(t, err)
	assert.Equal(t, shared.Money(85000), b.Available)
	assert.Equal(t, shared.Money(0), b.Pending)
}

func TestDeductCredit_ConcurrentSameDateDeductsOnce(t *testing.T) {
	e := newEnv(t, 4)
	d := shared.NewDate(2025, 1, 5)
	e.join(t, lessonAt(d))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.deducter().Handle(context.Background(), DeductCreditCommand{ScheduleID: e.schedule.ID, StudentID: studentID, Date: d})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := e.enrollments.GetByID(context.Background(), e.enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.SessionsRemaining)
	assert.Len(t, stored.Deductions, 1)
	assert.Equal(t, 1, e.pub.count(shared.EventCreditDeducted))
}

func TestDeductCredit_WalletFailureLeavesPendingRelease(t *testing.T) {
	e := newEnv(t, 4)
	ctx := context.Background()
	d := shared.NewDate(2025, 1, 5)
	e.join(t, lessonAt(d))
	e.wallet.FailNext(1)

	res, err := e.deducter().Handle(ctx, DeductCreditCommand{ScheduleID: e.schedule.ID, StudentID: studentID, Date: d})
	require.NoError(t, err)
	assert.True(t, res.Deducted())
	assert.ErrorIs(t, res.ReleaseErr, shared.ErrWalletUnavailable)

	stored, err := e.enrollments.GetByID(ctx, e.enrollment.ID)
	require.NoError(t, err)
	pending := stored.UnreleasedPayouts()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	rr, err := NewReleasePayoutHandler(e.enrollments, e.wallet, e.pub, e.cfg.Now).Handle(ctx, ReleasePayoutCommand{EnrollmentID: e.enrollment.ID, Date: d})
	require.NoError(t, err)
	assert.Equal(t, shared.Money(21250), rr.Amount)

	stored, err = e.enrollments.GetByID(ctx, e.enrollment.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.UnreleasedPayouts())
}

// ─────────────────────────────────────────────────────────────────────────────
// Occurrences
// ─────────────────────────────────────────────────────────────────────────────

func TestCancelAndRestoreOccurrence(t *testing.T) {
	e := newEnv(t, 4)
	ctx := context.Background()
	d := shared.NewDate(2025, 1, 7)

	cancel := NewCancelOccurrenceHandler(e.schedules, e.locker, e.pub, e.cfg)
	res, err := cancel.Handle(ctx, CancelOccurrenceCommand{ScheduleID: e.schedule.ID, Date: d, Actor: shared.TeacherActor(teacherID)})
	require.NoError(t, err)
	assert.Equal(t, shared.NewDate(2025, 1, 14), res.OldEndDate)
	assert.Equal(t, shared.NewDate(2025, 1, 19), res.NewEndDate)
	assert.Equal(t, 1, e.pub.count(shared.EventOccurrenceCancelled))

	_, err = cancel.Handle(ctx, CancelOccurrenceCommand{ScheduleID: e.schedule.ID, Date: d, Actor: shared.TeacherActor(teacherID)})
	require.Error(t, err)
	assert.Equal(t, "already cancelled", Reason(err))

	restore := NewRestoreOccurrenceHandler(e.schedules, e.locker, e.pub, e.cfg)
	back, err := restore.Handle(ctx, RestoreOccurrenceCommand{ScheduleID: e.schedule.ID, Date: d, Actor: shared.TeacherActor(teacherID)})
	require.NoError(t, err)
	assert.Equal(t, shared.NewDate(2025, 1, 14), back.NewEndDate)
}

func TestCancelOccurrence_OtherTeacherForbidden(t *testing.T) {
	e := newEnv(t, 4)
	other := shared.TeacherActor("a87ff679-a2f3-4e71-9181-2a3b4c5d6e7f")

	_, err := NewCancelOccurrenceHandler(e.schedules, e.locker, e.pub, e.cfg).Handle(context.Background(), CancelOccurrenceCommand{
		ScheduleID: e.schedule.ID,
		Date:       shared.NewDate(2025, 1, 7),
		Actor:      other,
	})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

// ─────────────────────────────────────────────────────────────────────────────
// Enrollment lifecycle
// ─────────────────────────────────────────────────────────────────────────────

func TestPayment_TopUpReactivatesExhaustedLedger(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	d := shared.NewDate(2025, 1, 5)
	e.join(t, lessonAt(d))

	res, err := e.deducter().Handle(ctx, DeductCreditCommand{ScheduleID: e.schedule.ID, StudentID: studentID, Date: d})
	require.NoError(t, err)
	require.True(t, res.Exhausted)

	pay := NewPaymentHandler(e.enrollments, e.locker, e.pub, PaymentHandlerConfig{FeeBasisPoints: 1000, Now: e.cfg.Now})
	top, err := pay.TopUp(ctx, PaymentCommand{EnrollmentID: e.enrollment.ID, Amount: 4000, Sessions: 4, Reference: "pay-2"})
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusActive, top.Enrollment.Status)
	assert.Equal(t, 4, top.Enrollment.SessionsRemaining)
	assert.Equal(t, shared.Money(400), top.Fee)

	_, err = pay.TopUp(ctx, PaymentCommand{EnrollmentID: e.enrollment.ID, Amount: 4000, Sessions: 4, Reference: "pay-2"})
	assert.ErrorIs(t, err, shared.ErrAlreadyProcessed)
}

func TestEnrollmentLifecycle_Cancel(t *testing.T) {
	e := newEnv(t, 4)
	h := NewEnrollmentLifecycleHandler(e.enrollments, e.locker, e.pub, e.cfg)

	got, err := h.Cancel(context.Background(), EnrollmentActionCommand{
		EnrollmentID: e.enrollment.ID,
		Actor:        shared.Actor{Kind: shared.ActorStudent, ID: studentID.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCancelledByStudent, got.Status)
	assert.Equal(t, 2, e.pub.count(shared.EventEnrollmentStatusChanged))

	_, err = h.Complete(context.Background(), e.enrollment.ID)
	assert.ErrorIs(t, err, shared.ErrEnrollmentTerminal)
}

func TestEnrollmentLifecycle_AcceptInvite(t *testing.T) {
	e := newEnv(t, 4)
	ctx := context.Background()
	created, err := NewCreateScheduleHandler(e.schedules, e.enrollments, e.cfg.Now).Handle(ctx, CreateScheduleCommand{
		TeacherID:        teacherID,
		Kind:             schedule.KindPrivate,
		PrivateStudentID: "aab32389-22bc-4c2b-8e9a-0c1d2e3f4a5b",
		Rule: recurrence.Params{
			Frequency:       recurrence.Daily,
			Days:            []time.Weekday{time.Monday},
			StartTime:       "18:00",
			DurationMinutes: 45,
			StartDate:       shared.NewDate(2025, 2, 1),
		},
		TotalSessions: 8,
		Invite:        true,
	})
	require.NoError(t, err)
	require.Equal(t, enrollment.StatusPendingAction, created.Enrollment.Status)

	h := NewEnrollmentLifecycleHandler(e.enrollments, e.locker, e.pub, e.cfg)
	_, err = h.Accept(ctx, EnrollmentActionCommand{EnrollmentID: created.Enrollment.ID, Actor: shared.Actor{Kind: shared.ActorStudent, ID: studentID.String()}})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	got, err := h.Accept(ctx, EnrollmentActionCommand{EnrollmentID: created.Enrollment.ID, Actor: shared.Actor{Kind: shared.ActorStudent, ID: "aab32389-22bc-4c2b-8e9a-0c1d2e3f4a5b"}})
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusActive, got.Status)
	assert.Equal(t, 8, got.SessionsRemaining)
}

func TestEnrollStudent_GroupSchedule(t *testing.T) {
	e := newEnv(t, 4)
	ctx := context.Background()
	created, err := NewCreateScheduleHandler(e.schedules, e.enrollments, e.cfg.Now).Handle(ctx, CreateScheduleCommand{
		TeacherID: teacherID,
		Kind:      schedule.KindGroup,
		Rule: recurrence.Params{
			Frequency:       recurrence.Weekly,
			Days:            []time.Weekday{time.Friday},
			StartTime:       "16:00",
			DurationMinutes: 90,
			StartDate:       shared.NewDate(2025, 2, 7),
		},
		TotalSessions: 10,
	})
	require.NoError(t, err)
	assert.Nil(t, created.Enrollment)

	h := NewEnrollStudentHandler(e.schedules, e.enrollments, e.locker, e.cfg)
	got, err := h.Handle(ctx, EnrollStudentCommand{ScheduleID: created.Schedule.ID, StudentID: studentID})
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusPendingPayment, got.Status)

	s, err := e.schedules.GetByID(ctx, created.Schedule.ID)
	require.NoError(t, err)
	assert.True(t, s.IsParticipant(studentID))

	_, err = h.Handle(ctx, EnrollStudentCommand{ScheduleID: created.Schedule.ID, StudentID: studentID})
	assert.True(t, shared.IsAlreadyExists(err))
}

// ─────────────────────────────────────────────────────────────────────────────
// Completion
// ─────────────────────────────────────────────────────────────────────────────

func TestCompleteSchedule(t *testing.T) {
	e := newEnv(t, 2) // 2025-01-05 and 2025-01-07
	lifecycle := NewEnrollmentLifecycleHandler(e.enrollments, e.locker, e.pub, e.cfg)
	h := NewCompleteScheduleHandler(e.schedules, e.enrollments, lifecycle, e.locker, e.cfg)
	riyadh, err := time.LoadLocation("Asia/Riyadh")
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), CompleteScheduleCommand{
		ScheduleID: e.schedule.ID,
		AsOf:       time.Date(2025, 1, 7, 20, 0, 0, 0, riyadh),
	})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Empty(t, res.Enrollments)

	res, err = h.Handle(context.Background(), CompleteScheduleCommand{
		ScheduleID: e.schedule.ID,
		AsOf:       time.Date(2025, 1, 8, 0, 0, 0, 0, riyadh),
	})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, []shared.EnrollmentID{e.enrollment.ID}, res.Enrollments)

	s, err := e.schedules.GetByID(context.Background(), e.schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusCompleted, s.Status)

	got, err := e.enrollments.GetByID(context.Background(), e.enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCompleted, got.Status)

	// Running again changes nothing.
	res, err = h.Handle(context.Background(), CompleteScheduleCommand{ScheduleID: e.schedule.ID})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Empty(t, res.Enrollments)
}
