package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD MEETING EVENT COMMAND
// Meeting-platform join/leave events become attendance records. The caller is
// an untrusted external system: business rejections come back as outcomes,
// never as errors, so the platform never retries them.
// ══════════════════════════════════════════════════════════════════════════════

// MeetingOutcome reports what happened to a meeting event.
type MeetingOutcome string

const (
	MeetingRecorded           MeetingOutcome = "recorded"
	MeetingUnchanged          MeetingOutcome = "unchanged"
	MeetingUncorrelated       MeetingOutcome = "uncorrelated"
	MeetingIgnored            MeetingOutcome = "ignored"
	MeetingUnknownMeeting     MeetingOutcome = "unknown_meeting"
	MeetingScheduleNotRunning MeetingOutcome = "schedule_not_running"
)

// RecordMeetingEventCommand contains one webhook delivery.
type RecordMeetingEventCommand struct {
	Event               string
	ParticipantIdentity string
	MeetingID           string
	Timestamp           time.Time
}

// Validate validates the command.
func (c RecordMeetingEventCommand) Validate() error {
	if !schedule.EventKind(strings.ToLower(c.Event)).IsValid() {
		return shared.ErrInvalidEventType
	}
	if strings.TrimSpace(c.ParticipantIdentity) == "" {
		return shared.NewDomainError("attendance", "Validate", shared.ErrEmptyValue, "participant identity is required")
	}
	if strings.TrimSpace(c.MeetingID) == "" {
		return shared.NewDomainError("attendance", "Validate", shared.ErrEmptyValue, "meeting identifier is required")
	}
	if c.Timestamp.IsZero() {
		return shared.NewDomainError("attendance", "Validate", shared.ErrEmptyValue, "timestamp is required")
	}
	return nil
}

// RecordMeetingEventResult contains the outcome of one delivery.
type RecordMeetingEventResult struct {
	Outcome    MeetingOutcome
	ScheduleID shared.ScheduleID
	StudentID  shared.StudentID
	Date       shared.Date
}

// RecordMeetingEventHandler handles RecordMeetingEventCommand.
type RecordMeetingEventHandler struct {
	schedules    schedule.Repository
	participants schedule.ParticipantDirectory
	locker       Locker
	publisher    shared.EventPublisher
	tracer       trace.Tracer
	lockTTL      time.Duration
}

// NewRecordMeetingEventHandler creates a new RecordMeetingEventHandler.
func NewRecordMeetingEventHandler(
	schedules schedule.Repository,
	participants schedule.ParticipantDirectory,
	locker Locker,
	publisher shared.EventPublisher,
	lockTTL time.Duration,
) *RecordMeetingEventHandler {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &RecordMeetingEventHandler{
		schedules:    schedules,
		participants: participants,
		locker:       locker,
		publisher:    publisher,
		tracer:       otel.Tracer("halaka-scheduler/attendance"),
		lockTTL:      lockTTL,
	}
}

// Handle resolves the meeting and the participant, then correlates and
// upserts under the schedule lock.
func (h *RecordMeetingEventHandler) Handle(ctx context.Context, cmd RecordMeetingEventCommand) (*RecordMeetingEventResult, error) {
	ctx, span := h.tracer.Start(ctx, "attendance.record_meeting_event",
		trace.WithAttributes(
			attribute.String("meeting.id", cmd.MeetingID),
			attribute.String("meeting.event", cmd.Event),
		),
	)
	defer span.End()

	result, err := h.handle(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record meeting event failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("attendance.outcome", string(result.Outcome)))
	return result, nil
}

func (h *RecordMeetingEventHandler) handle(ctx context.Context, cmd RecordMeetingEventCommand) (*RecordMeetingEventResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_meeting_event: validation failed: %w", err)
	}

	s, err := h.schedules.GetByMeetingID(ctx, strings.TrimSpace(cmd.MeetingID))
	if err != nil {
		if shared.IsNotFound(err) {
			return &RecordMeetingEventResult{Outcome: MeetingUnknownMeeting}, nil
		}
		return nil, fmt.Errorf("record_meeting_event: find schedule: %w", err)
	}
	if s.Status != schedule.StatusActive {
		return &RecordMeetingEventResult{Outcome: MeetingScheduleNotRunning, ScheduleID: s.ID}, nil
	}

	studentID, err := h.participants.ResolveStudent(ctx, strings.TrimSpace(cmd.ParticipantIdentity))
	if err != nil {
		if errors.Is(err, shared.ErrUnknownParticipant) || shared.IsNotFound(err) {
			// Unknown identities look exactly like non-members.
			return &RecordMeetingEventResult{Outcome: MeetingIgnored, ScheduleID: s.ID}, nil
		}
		return nil, fmt.Errorf("record_meeting_event: resolve participant: %w", err)
	}

	ev := schedule.MeetingEvent{
		Kind:      schedule.EventKind(strings.ToLower(cmd.Event)),
		StudentID: studentID,
		Timestamp: cmd.Timestamp,
	}

	result := &RecordMeetingEventResult{ScheduleID: s.ID, StudentID: studentID}
	var events []shared.Event
	err = withLock(ctx, h.locker, ScheduleLockKey(s.ID), h.lockTTL, func(ctx context.Context) error {
		// Reload under the lock; the lookup above may be stale.
		fresh, err := h.schedules.GetByID(ctx, s.ID)
		if err != nil {
			return err
		}

		res, err := fresh.ApplyEvent(ev)
		if err != nil {
			return err
		}
		result.Date = res.Date

		switch res.Outcome {
		case schedule.OutcomeIgnored:
			result.Outcome = MeetingIgnored
			return nil
		case schedule.OutcomeUncorrelated:
			result.Outcome = MeetingUncorrelated
			return nil
		case schedule.OutcomeUnchanged:
			result.Outcome = MeetingUnchanged
			return nil
		}

		if err := h.schedules.Update(ctx, fresh); err != nil {
			return fmt.Errorf("save schedule: %w", err)
		}
		result.Outcome = MeetingRecorded
		events = append(events, shared.NewAttendanceRecordedEvent(fresh.ID, studentID, res.Date, string(ev.Kind), ev.Timestamp))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_meeting_event: %w", err)
	}

	publishAll(h.publisher, events...)
	return result, nil
}
