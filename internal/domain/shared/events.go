// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Commands publish them after the state change has been
// persisted; event handlers react (notifications, metrics).
const (
	// Schedule events
	EventOccurrenceCancelled EventType = "schedule.occurrence_cancelled"
	EventOccurrenceRestored  EventType = "schedule.occurrence_restored"

	// Attendance events
	EventAttendanceRecorded EventType = "attendance.recorded"

	// Ledger events
	EventCreditDeducted          EventType = "enrollment.credit_deducted"
	EventBalanceExhausted        EventType = "enrollment.balance_exhausted"
	EventEnrollmentStatusChanged EventType = "enrollment.status_changed"

	// Wallet events
	EventPayoutReleased EventType = "wallet.payout_released"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Schedule Events
// ═══════════════════════════════════════════════════════════════════════════

// OccurrenceCancelledEvent is emitted when a teacher cancels one occurrence
// and the schedule end date moves forward.
type OccurrenceCancelledEvent struct {
	BaseEvent
	ScheduleID  ScheduleID  `json:"schedule_id"`
	Date        Date        `json:"date"`
	Reason      string      `json:"reason"`
	CancelledBy Actor       `json:"cancelled_by"`
	NewEndDate  Date        `json:"new_end_date"`
	Recipients  []StudentID `json:"recipients"`
}

// Payload implements Event interface.
func (e OccurrenceCancelledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"schedule_id":  e.ScheduleID.String(),
		"date":         e.Date.String(),
		"reason":       e.Reason,
		"cancelled_by": e.CancelledBy.String(),
		"new_end_date": e.NewEndDate.String(),
	}
}

// NewOccurrenceCancelledEvent creates a new OccurrenceCancelledEvent.
func NewOccurrenceCancelledEvent(id ScheduleID, date Date, reason string, by Actor, newEnd Date, recipients []StudentID) OccurrenceCancelledEvent {
	return OccurrenceCancelledEvent{
		BaseEvent:   NewBaseEvent(EventOccurrenceCancelled, id.String()),
		ScheduleID:  id,
		Date:        date,
		Reason:      reason,
		CancelledBy: by,
		NewEndDate:  newEnd,
		Recipients:  recipients,
	}
}

// OccurrenceRestoredEvent is emitted when a cancellation is withdrawn.
type OccurrenceRestoredEvent struct {
	BaseEvent
	ScheduleID ScheduleID  `json:"schedule_id"`
	Date       Date        `json:"date"`
	NewEndDate Date        `json:"new_end_date"`
	Recipients []StudentID `json:"recipients"`
}

// Payload implements Event interface.
func (e OccurrenceRestoredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"schedule_id":  e.ScheduleID.String(),
		"date":         e.Date.String(),
		"new_end_date": e.NewEndDate.String(),
	}
}

// NewOccurrenceRestoredEvent creates a new OccurrenceRestoredEvent.
func NewOccurrenceRestoredEvent(id ScheduleID, date, newEnd Date, recipients []StudentID) OccurrenceRestoredEvent {
	return OccurrenceRestoredEvent{
		BaseEvent:  NewBaseEvent(EventOccurrenceRestored, id.String()),
		ScheduleID: id,
		Date:       date,
		NewEndDate: newEnd,
		Recipients: recipients,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Attendance Events
// ═══════════════════════════════════════════════════════════════════════════

// AttendanceRecordedEvent is emitted after a meeting event was correlated
// and written to the schedule's attendance list.
type AttendanceRecordedEvent struct {
	BaseEvent
	ScheduleID ScheduleID `json:"schedule_id"`
	StudentID  StudentID  `json:"student_id"`
	Date       Date       `json:"date"`
	Kind       string     `json:"kind"`
	At         time.Time  `json:"at"`
}

// Payload implements Event interface.
func (e AttendanceRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"schedule_id": e.ScheduleID.String(),
		"student_id":  e.StudentID.String(),
		"date":        e.Date.String(),
		"kind":        e.Kind,
		"at":          e.At.Format(time.RFC3339),
	}
}

// NewAttendanceRecordedEvent creates a new AttendanceRecordedEvent.
func NewAttendanceRecordedEvent(id ScheduleID, student StudentID, date Date, kind string, at time.Time) AttendanceRecordedEvent {
	return AttendanceRecordedEvent{
		BaseEvent:  NewBaseEvent(EventAttendanceRecorded, id.String()),
		ScheduleID: id,
		StudentID:  student,
		Date:       date,
		Kind:       kind,
		At:         at,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// CreditDeductedEvent is emitted when one session credit was consumed.
type CreditDeductedEvent struct {
	BaseEvent
	EnrollmentID      EnrollmentID `json:"enrollment_id"`
	ScheduleID        ScheduleID   `json:"schedule_id"`
	StudentID         StudentID    `json:"student_id"`
	Date              Date         `json:"date"`
	SessionsRemaining int          `json:"sessions_remaining"`
}

// Payload implements Event interface.
func (e CreditDeductedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"enrollment_id":      e.EnrollmentID.String(),
		"schedule_id":        e.ScheduleID.String(),
		"student_id":         e.StudentID.String(),
		"date":               e.Date.String(),
		"sessions_remaining": e.SessionsRemaining,
	}
}

// NewCreditDeductedEvent creates a new CreditDeductedEvent.
func NewCreditDeductedEvent(id EnrollmentID, schedule ScheduleID, student StudentID, date Date, remaining int) CreditDeductedEvent {
	return CreditDeductedEvent{
		BaseEvent:         NewBaseEvent(EventCreditDeducted, id.String()),
		EnrollmentID:      id,
		ScheduleID:        schedule,
		StudentID:         student,
		Date:              date,
		SessionsRemaining: remaining,
	}
}

// BalanceExhaustedEvent is emitted exactly once per transition into no_balance.
type BalanceExhaustedEvent struct {
	BaseEvent
	EnrollmentID EnrollmentID `json:"enrollment_id"`
	ScheduleID   ScheduleID   `json:"schedule_id"`
	StudentID    StudentID    `json:"student_id"`
	TeacherID    TeacherID    `json:"teacher_id"`
}

// Payload implements Event interface.
func (e BalanceExhaustedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"enrollment_id": e.EnrollmentID.String(),
		"schedule_id":   e.ScheduleID.String(),
		"student_id":    e.StudentID.String(),
		"teacher_id":    e.TeacherID.String(),
	}
}

// NewBalanceExhaustedEvent creates a new BalanceExhaustedEvent.
func NewBalanceExhaustedEvent(id EnrollmentID, schedule ScheduleID, student StudentID, teacher TeacherID) BalanceExhaustedEvent {
	return BalanceExhaustedEvent{
		BaseEvent:    NewBaseEvent(EventBalanceExhausted, id.String()),
		EnrollmentID: id,
		ScheduleID:   schedule,
		StudentID:    student,
		TeacherID:    teacher,
	}
}

// EnrollmentStatusChangedEvent is emitted on every ledger status transition.
type EnrollmentStatusChangedEvent struct {
	BaseEvent
	EnrollmentID EnrollmentID `json:"enrollment_id"`
	From         string       `json:"from"`
	To           string       `json:"to"`
}

// Payload implements Event interface.
func (e EnrollmentStatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"enrollment_id": e.EnrollmentID.String(),
		"from":          e.From,
		"to":            e.To,
	}
}

// NewEnrollmentStatusChangedEvent creates a new EnrollmentStatusChangedEvent.
func NewEnrollmentStatusChangedEvent(id EnrollmentID, from, to string) EnrollmentStatusChangedEvent {
	return EnrollmentStatusChangedEvent{
		BaseEvent:    NewBaseEvent(EventEnrollmentStatusChanged, id.String()),
		EnrollmentID: id,
		From:         from,
		To:           to,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Wallet Events
// ═══════════════════════════════════════════════════════════════════════════

// PayoutReleasedEvent is emitted when escrowed funds moved to the teacher's
// available balance.
type PayoutReleasedEvent struct {
	BaseEvent
	TeacherID    TeacherID    `json:"teacher_id"`
	EnrollmentID EnrollmentID `json:"enrollment_id"`
	Date         Date         `json:"date"`
	Amount       Money        `json:"amount"`
}

// Payload implements Event interface.
func (e PayoutReleasedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"teacher_id":    e.TeacherID.String(),
		"enrollment_id": e.EnrollmentID.String(),
		"date":          e.Date.String(),
		"amount":        int64(e.Amount),
	}
}

// NewPayoutReleasedEvent creates a new PayoutReleasedEvent.
func NewPayoutReleasedEvent(teacher TeacherID, enrollment EnrollmentID, date Date, amount Money) PayoutReleasedEvent {
	return PayoutReleasedEvent{
		BaseEvent:    NewBaseEvent(EventPayoutReleased, enrollment.String()),
		TeacherID:    teacher,
		EnrollmentID: enrollment,
		Date:         date,
		Amount:       amount,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus Contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NoopPublisher drops every event. Useful where no bus is configured.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(Event) error { return nil }
