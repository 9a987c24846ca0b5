package messaging

import (
	"fmt"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// Handler is implemented by the event handlers of the application layer.
type Handler interface {
	Handle(event shared.Event) error
}

// Subscription binds a handler to the event types it understands.
type Subscription struct {
	Handler Handler
	Types   []shared.EventType
}

// Subscribe registers every subscription on the bus.
func Subscribe(bus shared.EventSubscriber, subs ...Subscription) error {
	for _, s := range subs {
		for _, t := range s.Types {
			if err := bus.Subscribe(t, s.Handler.Handle); err != nil {
				return fmt.Errorf("subscribe %s: %w", t, err)
			}
		}
	}
	return nil
}
