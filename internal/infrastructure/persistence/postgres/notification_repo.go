package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/notification"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// NotificationRepository implements notification.Repository (the outbox).
type NotificationRepository struct {
	conn *Connection
}

var _ notification.Repository = (*NotificationRepository)(nil)

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(conn *Connection) *NotificationRepository {
	return &NotificationRepository{conn: conn}
}

const notificationColumns = `id, type, recipient_kind, recipient_id, message, link,
	status, attempts, last_error, created_at, delivered_at`

// Save implements notification.Repository.
func (r *NotificationRepository) Save(ctx context.Context, n *notification.Notification) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error, delivered_at = EXCLUDED.delivered_at`,
		n.ID.String(), string(n.Type), string(n.Recipient.Kind), n.Recipient.ID, n.Message, n.Link,
		string(n.Status), n.Attempts, n.LastError, n.CreatedAt, n.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

// ListByRecipient implements notification.Repository. Newest first.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipient shared.Actor, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_kind = $1 AND recipient_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, string(recipient.Kind), recipient.ID, limit)
}

// ListFailed implements notification.Repository. Oldest first.
func (r *NotificationRepository) ListFailed(ctx context.Context, maxAttempts, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE status = 'failed' AND attempts < $1
		ORDER BY created_at
		LIMIT $2`, maxAttempts, limit)
}

func (r *NotificationRepository) list(ctx context.Context, query string, args ...any) ([]*notification.Notification, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var (
		n                   notification.Notification
		id, typ, kind, stat string
		createdAt           time.Time
	)
	err := row.Scan(&id, &typ, &kind, &n.Recipient.ID, &n.Message, &n.Link,
		&stat, &n.Attempts, &n.LastError, &createdAt, &n.DeliveredAt)
	if err != nil {
		return nil, err
	}
	n.ID = notification.NotificationID(id)
	n.Type = notification.Type(typ)
	n.Recipient.Kind = shared.ActorKind(kind)
	n.Status = notification.Status(stat)
	n.CreatedAt = createdAt.UTC()
	return &n, nil
}
