package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DeliveryDedup remembers recent webhook deliveries of this process. The
// cache is bounded: the oldest marker is evicted once size is reached.
type DeliveryDedup struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewDeliveryDedup creates a DeliveryDedup holding up to size markers for ttl.
func NewDeliveryDedup(size int, ttl time.Duration) *DeliveryDedup {
	if size <= 0 {
		size = 10_000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DeliveryDedup{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// FirstDelivery marks id as seen and reports whether it was new.
func (d *DeliveryDedup) FirstDelivery(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen.Contains(id) {
		return false, nil
	}
	d.seen.Add(id, struct{}{})
	return true, nil
}

// Forget clears the marker so a failed delivery can be processed again.
func (d *DeliveryDedup) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(id)
	return nil
}
