package eventhandler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/notification"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

type sent struct {
	to      shared.Actor
	kind    notification.Type
	message string
	link    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeNotifier) Notify(_ context.Context, to shared.Actor, kind notification.Type, message, link string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to, kind, message, link})
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	scheduleID   = shared.ScheduleID("c9f0f895-fb98-4b9f-9a1e-0b1c2d3e4f50")
	enrollmentID = shared.EnrollmentID("8f14e45f-ceea-467f-a0e6-1b2c3d4e5f60")
	teacherID    = shared.TeacherID("d3d94468-02a4-4a2b-9b8c-2e3f4a5b6c70")
	studentA     = shared.StudentID("45c48cce-2e2d-4fbd-8a5c-1d2e3f4a5b60")
	studentB     = shared.StudentID("aab32389-22bc-4c2b-8e9a-0c1d2e3f4a5b")
)

func TestOnBalanceExhausted(t *testing.T) {
	n := &fakeNotifier{}
	h := NewOnBalanceExhaustedHandler(n, quiet, NotifyConfig{BaseURL: "https://halaka.app", NotifyTeacher: true})

	require.NoError(t, h.Handle(shared.NewBalanceExhaustedEvent(enrollmentID, scheduleID, studentA, teacherID)))
	require.Len(t, n.sent, 2)
	assert.Equal(t, shared.ActorStudent, n.sent[0].to.Kind)
	assert.Equal(t, notification.TypeLowBalance, n.sent[0].kind)
	assert.Equal(t, "https://halaka.app/enrollments/"+enrollmentID.String(), n.sent[0].link)
	assert.Equal(t, shared.TeacherActor(teacherID), n.sent[1].to)

	assert.Error(t, h.Handle(shared.NewPayoutReleasedEvent(teacherID, enrollmentID, shared.NewDate(2025, 1, 5), 10)))
}

func TestOnOccurrenceChanged(t *testing.T) {
	n := &fakeNotifier{}
	h := NewOnOccurrenceChangedHandler(n, quiet, DefaultNotifyConfig())

	ev := shared.NewOccurrenceCancelledEvent(scheduleID, shared.NewDate(2025, 1, 7), "illness",
		shared.TeacherActor(teacherID), shared.NewDate(2025, 1, 19), []shared.StudentID{studentA, studentB})
	require.NoError(t, h.Handle(ev))
	require.Len(t, n.sent, 2)
	assert.Equal(t, notification.TypeOccurrenceCancelled, n.sent[0].kind)
	assert.Contains(t, n.sent[0].message, "2025-01-07")
	assert.Contains(t, n.sent[0].message, "2025-01-19")
	assert.Contains(t, n.sent[0].message, "illness")

	require.NoError(t, h.Handle(shared.NewOccurrenceRestoredEvent(scheduleID, shared.NewDate(2025, 1, 7), shared.NewDate(2025, 1, 14), []shared.StudentID{studentA})))
	require.Len(t, n.sent, 3)
	assert.Equal(t, notification.TypeOccurrenceRestored, n.sent[2].kind)
}

func TestOnPayoutReleased(t *testing.T) {
	n := &fakeNotifier{}
	h := NewOnPayoutReleasedHandler(n, quiet, DefaultNotifyConfig())

	require.NoError(t, h.Handle(shared.NewPayoutReleasedEvent(teacherID, enrollmentID, shared.NewDate(2025, 1, 5), 21250)))
	require.Len(t, n.sent, 1)
	assert.Equal(t, shared.TeacherActor(teacherID), n.sent[0].to)
	assert.Contains(t, n.sent[0].message, "212.50")
}
