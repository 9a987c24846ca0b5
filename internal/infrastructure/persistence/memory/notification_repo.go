package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/notification"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// NotificationRepository implements notification.Repository.
type NotificationRepository struct {
	mu    sync.RWMutex
	items map[notification.NotificationID]notification.Notification
}

// NewNotificationRepository creates an empty outbox.
func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{items: make(map[notification.NotificationID]notification.Notification)}
}

var _ notification.Repository = (*NotificationRepository)(nil)

// Save implements notification.Repository.
func (r *NotificationRepository) Save(_ context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[n.ID] = *n
	return nil
}

// ListByRecipient implements notification.Repository. Newest first.
func (r *NotificationRepository) ListByRecipient(_ context.Context, recipient shared.Actor, limit int) ([]*notification.Notification, error) {
	return r.list(limit, func(n notification.Notification) bool {
		return n.Recipient == recipient
	}), nil
}

// ListFailed implements notification.Repository.
func (r *NotificationRepository) ListFailed(_ context.Context, maxAttempts, limit int) ([]*notification.Notification, error) {
	return r.list(limit, func(n notification.Notification) bool {
		return n.Status == notification.StatusFailed && n.Attempts < maxAttempts
	}), nil
}

// All returns every stored notice, newest first.
func (r *NotificationRepository) All() []*notification.Notification {
	return r.list(0, func(notification.Notification) bool { return true })
}

func (r *NotificationRepository) list(limit int, keep func(notification.Notification) bool) []*notification.Notification {
	r.mu.RLock()
	out := make([]*notification.Notification, 0)
	for _, n := range r.items {
		if keep(n) {
			n := n
			out = append(out, &n)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, 0, limit)
}
