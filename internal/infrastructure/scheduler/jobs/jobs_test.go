package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halaka-hub/halaka-scheduler/internal/application/command"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/recurrence"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/persistence/memory"
)

const teacherID = shared.TeacherID("d3d94468-02a4-4a2b-9b8c-2e3f4a5b6c70")

var (
	riyadh = mustLoad("Asia/Riyadh")
	clock  = time.Date(2025, 1, 3, 7, 0, 0, 0, time.UTC)
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type labels struct {
	mu  sync.Mutex
	got map[string]int
}

func (l *labels) ObserveDeduction(outcome string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.got == nil {
		l.got = map[string]int{}
	}
	l.got[outcome]++
}

type fixture struct {
	schedules   *memory.ScheduleRepository
	enrollments *memory.EnrollmentRepository
	wallet      *memory.Wallet
	locker      *memory.Locker
	cfg         command.OccurrenceHandlerConfig
	deducter    *command.DeductCreditHandler
	releaser    *command.ReleasePayoutHandler
}

func newFixture() *fixture {
	f := &fixture{
		schedules:   memory.NewScheduleRepository(),
		enrollments: memory.NewEnrollmentRepository(),
		wallet:      memory.NewWallet(),
		locker:      memory.NewLocker(),
		cfg:         command.OccurrenceHandlerConfig{Now: func() time.Time { return clock }},
	}
	f.releaser = command.NewReleasePayoutHandler(f.enrollments, f.wallet, shared.NoopPublisher{}, f.cfg.Now)
	f.deducter = command.NewDeductCreditHandler(f.schedules, f.enrollments, f.locker, f.releaser, shared.NoopPublisher{}, f.cfg)
	f.wallet.Deposit(teacherID, 1_000_000)
	return f
}

// private creates a paid Sunday/Tuesday 10:00 Riyadh series from
// 2025-01-05 for student.
func (f *fixture) private(t *testing.T, student shared.StudentID, total int) (*schedule.Schedule, *enrollment.Enrollment) {
	t.Helper()
	created, err := command.NewCreateScheduleHandler(f.schedules, f.enrollments, f.cfg.Now).Handle(context.Background(), command.CreateScheduleCommand{
		TeacherID:        teacherID,
		Title:            "Hifz",
		Kind:             schedule.KindPrivate,
		PrivateStudentID: student,
		MeetingID:        "room-" + student.String()[:8],
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

	pay := command.NewPaymentHandler(f.enrollments, f.locker, shared.NoopPublisher{}, command.PaymentHandlerConfig{FeeBasisPoints: 1500, Now: f.cfg.Now})
	paid, err := pay.Confirm(context.Background(), command.PaymentCommand{
		EnrollmentID: created.Enrollment.ID,
		Amount:       100000,
		Reference:    "pay-" + student.String(),
	})
	require.NoError(t, err)
	return created.Schedule, paid.Enrollment
}

func (f *fixture) attend(t *testing.T, scheduleID shared.ScheduleID, student shared.StudentID, d shared.Date) {
	t.Helper()
	h := command.NewOverrideAttendanceHandler(f.schedules, f.locker, f.cfg)
	res, err := h.Handle(context.Background(), command.OverrideAttendanceCommand{
		ScheduleID: scheduleID,
		Date:       d,
		StudentID:  student,
		Status:     "present",
		Actor:      shared.TeacherActor(teacherID),
		At:         time.Date(d.Year, d.Month, d.Day, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, res.Applied)
}

func (f *fixture) deductionJob(obs DeductionObserver, now time.Time) *CreditDeductionJob {
	return NewCreditDeductionJob(f.schedules, f.deducter, obs, nil, CreditDeductionConfig{
		Location: riyadh,
		PageSize: 1,
		Now:      func() time.Time { return now },
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Credit deduction
// ─────────────────────────────────────────────────────────────────────────────

func TestYesterday(t *testing.T) {
	// 22:30 UTC on Jan 5 is already Jan 6 in Riyadh.
	assert.Equal(t, shared.NewDate(2025, 1, 5), Yesterday(time.Date(2025, 1, 5, 22, 30, 0, 0, time.UTC), riyadh))
	assert.Equal(t, shared.NewDate(2025, 1, 4), Yesterday(time.Date(2025, 1, 5, 20, 30, 0, 0, time.UTC), riyadh))
}

func TestCreditDeduction_Run(t *testing.T) {
	f := newFixture()
	present := shared.StudentID("11111111-1111-4111-8111-111111111111")
	absent := shared.StudentID("22222222-2222-4222-8222-222222222222")
	lesson := shared.NewDate(2025, 1, 5)

	s1, e1 := f.private(t, present, 4)
	_, e2 := f.private(t, absent, 4)
	f.attend(t, s1.ID, present, lesson)

	obs := &labels{}
	// 00:30 Riyadh on Jan 6.
	job := f.deductionJob(obs, time.Date(2025, 1, 5, 21, 30, 0, 0, time.UTC))
	require.NoError(t, job.Run(context.Background()))

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, lesson, stats.Date)
	assert.Equal(t, 2, stats.Schedules)
	assert.Equal(t, 1, stats.Deducted)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, shared.Money(21250), stats.Released)
	assert.Equal(t, 1, obs.got["deducted"])
	assert.Equal(t, 1, obs.got["not_present"])

	got1, err := f.enrollments.GetByID(context.Background(), e1.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got1.SessionsRemaining)

	got2, err := f.enrollments.GetByID(context.Background(), e2.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got2.SessionsRemaining)

	// A second run for the same day is a no-op.
	require.NoError(t, job.RunFor(context.Background(), lesson))
	assert.Equal(t, 0, job.LastStats().Deducted)
	assert.Equal(t, 1, obs.got["already_deducted"])

	got1, err = f.enrollments.GetByID(context.Background(), e1.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got1.SessionsRemaining)
}

func TestCreditDeduction_NoLessonThatDay(t *testing.T) {
	f := newFixture()
	f.private(t, "11111111-1111-4111-8111-111111111111", 4)

	job := f.deductionJob(nil, clock)
	require.NoError(t, job.RunFor(context.Background(), shared.NewDate(2025, 1, 6))) // Monday
	assert.Equal(t, 0, job.LastStats().Schedules)
}

func TestCreditDeduction_ContinuesOnError(t *testing.T) {
	f := newFixture()
	s1, _ := f.private(t, "11111111-1111-4111-8111-111111111111", 4)
	f.private(t, "22222222-2222-4222-8222-222222222222", 4)
	lesson := shared.NewDate(2025, 1, 5)

	failing := deducterFunc(func(ctx context.Context, cmd command.DeductCreditCommand) (*command.DeductCreditResult, error) {
		if cmd.ScheduleID == s1.ID {
			return nil, errors.New("database unavailable")
		}
		return &command.DeductCreditResult{Outcome: enrollment.OutcomeDeducted, Released: 100}, nil
	})
	job := NewCreditDeductionJob(f.schedules, failing, nil, nil, CreditDeductionConfig{Location: riyadh})
	require.NoError(t, job.RunFor(context.Background(), lesson))

	stats := job.LastStats()
	assert.Equal(t, 2, stats.Schedules)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Deducted)
}

type deducterFunc func(context.Context, command.DeductCreditCommand) (*command.DeductCreditResult, error)

func (f deducterFunc) Handle(ctx context.Context, cmd command.DeductCreditCommand) (*command.DeductCreditResult, error) {
	return f(ctx, cmd)
}

// ─────────────────────────────────────────────────────────────────────────────
// Completion
// ─────────────────────────────────────────────────────────────────────────────

func TestCompleteEnrollments(t *testing.T) {
	f := newFixture()
	short, shortEnr := f.private(t, "11111111-1111-4111-8111-111111111111", 2) // ends 2025-01-07
	long, longEnr := f.private(t, "22222222-2222-4222-8222-222222222222", 8)

	lifecycle := command.NewEnrollmentLifecycleHandler(f.enrollments, f.locker, shared.NoopPublisher{}, f.cfg)
	completer := command.NewCompleteScheduleHandler(f.schedules, f.enrollments, lifecycle, f.locker, f.cfg)
	job := NewCompleteEnrollmentsJob(f.schedules, completer, nil, CreditDeductionConfig{Location: riyadh, PageSize: 1})

	// The final lesson's own business day keeps the schedule open.
	require.NoError(t, job.RunFor(context.Background(), shared.NewDate(2025, 1, 7)))
	assert.Equal(t, 0, job.LastStats().Completed)

	require.NoError(t, job.RunFor(context.Background(), shared.NewDate(2025, 1, 8)))
	stats := job.LastStats()
	assert.Equal(t, 1, stats.Checked)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Enrollments)

	s, err := f.schedules.GetByID(context.Background(), short.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusCompleted, s.Status)
	e, err := f.enrollments.GetByID(context.Background(), shortEnr.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCompleted, e.Status)

	s, err = f.schedules.GetByID(context.Background(), long.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusActive, s.Status)
	e, err = f.enrollments.GetByID(context.Background(), longEnr.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusActive, e.Status)
}

// ─────────────────────────────────────────────────────────────────────────────
// Reconciliation
// ─────────────────────────────────────────────────────────────────────────────

func TestReconcilePayouts(t *testing.T) {
	f := newFixture()
	student := shared.StudentID("11111111-1111-4111-8111-111111111111")
	s, enr := f.private(t, student, 4)
	lesson := shared.NewDate(2025, 1, 5)
	f.attend(t, s.ID, student, lesson)

	f.wallet.FailNext(1)
	res, err := f.deducter.Handle(context.Background(), command.DeductCreditCommand{ScheduleID: s.ID, StudentID: student, Date: lesson})
	require.NoError(t, err)
	require.True(t, res.Deducted())
	require.Error(t, res.ReleaseErr)

	job := NewReconcilePayoutsJob(f.enrollments, f.releaser, nil, DefaultReconcileConfig())
	require.NoError(t, job.Run(context.Background()))

	stats := job.LastStats()
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Released)
	assert.Equal(t, shared.Money(21250), stats.Amount)

	got, err := f.enrollments.GetByID(context.Background(), enr.ID)
	require.NoError(t, err)
	assert.Empty(t, got.UnreleasedPayouts())

	// Nothing left to do.
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 0, job.LastStats().Pending)
}

func TestReconcilePayouts_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture()
	student := shared.StudentID("11111111-1111-4111-8111-111111111111")
	s, _ := f.private(t, student, 4)
	lesson := shared.NewDate(2025, 1, 5)
	f.attend(t, s.ID, student, lesson)

	f.wallet.FailNext(1)
	_, err := f.deducter.Handle(context.Background(), command.DeductCreditCommand{ScheduleID: s.ID, StudentID: student, Date: lesson})
	require.NoError(t, err)

	job := NewReconcilePayoutsJob(f.enrollments, f.releaser, nil, ReconcileConfig{MaxAttempts: 1})
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, job.LastStats().GivenUp)
	assert.Equal(t, 0, job.LastStats().Released)
}

// ─────────────────────────────────────────────────────────────────────────────
// Notification retry
// ─────────────────────────────────────────────────────────────────────────────

type redeliverer struct {
	maxAttempts, limit int
	sent               int
	err                error
}

func (r *redeliverer) RetryFailed(_ context.Context, maxAttempts, limit int) (int, error) {
	r.maxAttempts, r.limit = maxAttempts, limit
	return r.sent, r.err
}

func TestRetryNotifications(t *testing.T) {
	r := &redeliverer{sent: 3}
	job := NewRetryNotificationsJob(r, nil, 0, 0)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 5, r.maxAttempts)
	assert.Equal(t, 100, r.limit)
	assert.Equal(t, RetryNotificationsJobName, job.Name())

	r.err = errors.New("outbox down")
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox down")
}
