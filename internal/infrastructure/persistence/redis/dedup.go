package redis

import (
	"context"
	"time"
)

// DeliveryDedup remembers processed webhook deliveries in Redis so
// retries hitting any API instance are recognized.
type DeliveryDedup struct {
	cache *Cache
	ttl   time.Duration
}

// NewDeliveryDedup creates a DeliveryDedup keeping markers for ttl
// (default 24h).
func NewDeliveryDedup(cache *Cache, ttl time.Duration) *DeliveryDedup {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DeliveryDedup{cache: cache, ttl: ttl}
}

// FirstDelivery marks id as seen and reports whether it was new.
func (d *DeliveryDedup) FirstDelivery(ctx context.Context, id string) (bool, error) {
	return d.cache.SetNX(ctx, WebhookKey(id), time.Now().UTC().Unix(), d.ttl)
}

// Forget clears the marker so a failed delivery can be processed again.
func (d *DeliveryDedup) Forget(ctx context.Context, id string) error {
	return d.cache.Delete(ctx, WebhookKey(id))
}
