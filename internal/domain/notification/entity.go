// Package notification holds the notices the engine raises for students and
// teachers (low balance, cancelled or restored lessons, released payouts).
// Delivery is fire-and-forget: a failed send never fails the operation that
// raised it.
package notification

import (
	"context"
	"strings"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// NotificationID identifies one notice.
type NotificationID string

// IsValid checks that the ID is not empty.
func (id NotificationID) IsValid() bool {
	return len(id) > 0
}

// String returns the string representation.
func (id NotificationID) String() string {
	return string(id)
}

// Type is the kind of notice.
type Type string

const (
	// TypeLowBalance tells the student the credits ran out.
	TypeLowBalance Type = "low_balance"

	// TypeOccurrenceCancelled tells students a lesson was cancelled and
	// the series moved its end date.
	TypeOccurrenceCancelled Type = "occurrence_cancelled"

	// TypeOccurrenceRestored tells students a cancelled lesson is back.
	TypeOccurrenceRestored Type = "occurrence_restored"

	// TypePayoutReleased tells the teacher a payout reached the wallet.
	TypePayoutReleased Type = "payout_released"
)

// IsValid checks if the type is known.
func (t Type) IsValid() bool {
	switch t {
	case TypeLowBalance, TypeOccurrenceCancelled, TypeOccurrenceRestored, TypePayoutReleased:
		return true
	default:
		return false
	}
}

// Status is the delivery state of a notice.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// IsFinal returns true for delivered notices.
func (s Status) IsFinal() bool {
	return s == StatusDelivered
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Notification is one notice to one recipient.
type Notification struct {
	ID        NotificationID
	Type      Type
	Recipient shared.Actor
	Message   string

	// Link points the recipient to the relevant page, may be empty.
	Link string

	Status      Status
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// NewNotification validates and creates a pending notice.
func NewNotification(id NotificationID, t Type, recipient shared.Actor, message, link string, now time.Time) (*Notification, error) {
	message = strings.TrimSpace(message)
	if !id.IsValid() || !t.IsValid() || !recipient.IsValid() || recipient.Kind == shared.ActorSystem || message == "" {
		return nil, shared.ErrNotificationRejected
	}
	return &Notification{
		ID:        id,
		Type:      t,
		Recipient: recipient,
		Message:   message,
		Link:      strings.TrimSpace(link),
		Status:    StatusPending,
		CreatedAt: now.UTC(),
	}, nil
}

// MarkDelivered records a successful send.
func (n *Notification) MarkDelivered(now time.Time) {
	at := now.UTC()
	n.Status = StatusDelivered
	n.Attempts++
	n.LastError = ""
	n.DeliveredAt = &at
}

// MarkFailed records a failed send.
func (n *Notification) MarkFailed(cause error) {
	n.Status = StatusFailed
	n.Attempts++
	if cause != nil {
		n.LastError = cause.Error()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// Notifier is the notification sink. Implementations must not block the
// caller on delivery and never report delivery failures back.
type Notifier interface {
	Notify(ctx context.Context, recipient shared.Actor, t Type, message, link string)
}

// Sender delivers a notice to the outside world.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// Repository stores notices (the outbox).
type Repository interface {
	// Save inserts or updates the notice.
	Save(ctx context.Context, n *Notification) error

	// ListByRecipient returns the latest notices of a recipient.
	ListByRecipient(ctx context.Context, recipient shared.Actor, limit int) ([]*Notification, error)

	// ListFailed returns failed notices with fewer than maxAttempts tries.
	ListFailed(ctx context.Context, maxAttempts, limit int) ([]*Notification, error)
}
