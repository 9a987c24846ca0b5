package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

type stubJob struct {
	name  string
	err   error
	runs  atomic.Int32
	dates chan shared.Date
	block chan struct{}
}

func (j *stubJob) Name() string        { return j.name }
func (j *stubJob) Description() string { return "stub" }

func (j *stubJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

type datedJob struct {
	stubJob
}

func (j *datedJob) RunFor(_ context.Context, d shared.Date) error {
	j.dates <- d
	return nil
}

type observed struct {
	mu   sync.Mutex
	jobs []string
	errs int
}

func (o *observed) ObserveJob(job string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs = append(o.jobs, job)
	if err != nil {
		o.errs++
	}
}

func TestParseCronExpression(t *testing.T) {
	ce, err := ParseCronExpression("30 0 * * *")
	require.NoError(t, err)
	assert.Equal(t, "30 0 * * *", ce.String())

	riyadh, err := time.LoadLocation("Asia/Riyadh")
	require.NoError(t, err)
	after := time.Date(2025, 1, 5, 12, 0, 0, 0, riyadh)
	assert.Equal(t, time.Date(2025, 1, 6, 0, 30, 0, 0, riyadh), ce.Next(after))

	ce, err = ParseCronExpression("*/15 9-17 * * 1-5")
	require.NoError(t, err)
	// Saturday evening rolls over to Monday 09:00.
	next := ce.Next(time.Date(2025, 1, 4, 18, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC), ce.Next(next))

	for _, bad := range []string{"", "* * * *", "60 * * * *", "* 24 * * *", "5-1 * * * *", "*/0 * * * *", "a * * * *"} {
		_, err := ParseCronExpression(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 15m")
	require.NoError(t, err)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(15*time.Minute), s.Next(base))
	assert.Equal(t, "@every 15m0s", s.String())

	s, err = ParseSchedule("@daily")
	require.NoError(t, err)
	assert.Equal(t, base.Add(24*time.Hour), s.Next(base))

	_, err = ParseSchedule("@every soon")
	assert.Error(t, err)
}

func TestScheduler_RegisterAndRunNow(t *testing.T) {
	obs := &observed{}
	s := New(Config{Observer: obs})
	job := &stubJob{name: "reconcile"}

	require.NoError(t, s.Register(job, nil))
	assert.ErrorIs(t, s.Register(job, nil), ErrJobExists)

	res, err := s.RunNow(context.Background(), "reconcile")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)
	assert.EqualValues(t, 1, job.runs.Load())

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	job.err = errors.New("wallet down")
	res, err = s.RunNow(context.Background(), "reconcile")
	require.Error(t, err)
	assert.False(t, res.Success)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, "manual", infos[0].Schedule)
	assert.EqualValues(t, 2, infos[0].RunCount)
	assert.EqualValues(t, 1, infos[0].FailCount)
	assert.Equal(t, []string{"reconcile", "reconcile"}, obs.jobs)
	assert.Equal(t, 1, obs.errs)
}

func TestScheduler_RunForDate(t *testing.T) {
	s := New(Config{})
	dated := &datedJob{stubJob{name: "credit_deduction", dates: make(chan shared.Date, 1)}}
	plain := &stubJob{name: "plain"}
	require.NoError(t, s.Register(dated, nil))
	require.NoError(t, s.Register(plain, nil))

	d := shared.NewDate(2025, 1, 5)
	res, err := s.RunForDate(context.Background(), "credit_deduction", d)
	require.NoError(t, err)
	assert.Equal(t, d, res.Date)
	assert.Equal(t, d, <-dated.dates)
	assert.EqualValues(t, 0, dated.runs.Load())

	_, err = s.RunForDate(context.Background(), "plain", d)
	assert.ErrorIs(t, err, ErrNotDated)

	// The failed claim must not leave the job marked busy.
	_, err = s.RunNow(context.Background(), "plain")
	assert.NoError(t, err)
}

func TestScheduler_OverlapGuard(t *testing.T) {
	s := New(Config{})
	job := &stubJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, nil))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "slow")
		done <- err
	}()

	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobBusy)

	close(job.block)
	require.NoError(t, <-done)
}

func TestScheduler_StartRunsDueJobs(t *testing.T) {
	s := New(Config{TickInterval: 10 * time.Millisecond})
	job := &stubJob{name: "tick"}
	sched, err := ParseSchedule("@every 20ms")
	require.NoError(t, err)
	require.NoError(t, s.Register(job, sched))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
	assert.False(t, s.IsRunning())
}
