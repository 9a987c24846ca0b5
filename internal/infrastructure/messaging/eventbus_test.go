package messaging

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

type observerFunc func(string, time.Duration, error)

func (f observerFunc) ObserveEventHandler(t string, d time.Duration, err error) { f(t, d, err) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func exhausted() shared.Event {
	return shared.NewBalanceExhaustedEvent(
		"8f14e45f-ceea-467f-a0e6-1b2c3d4e5f60",
		"c9f0f895-fb98-4b9f-9a1e-0b1c2d3e4f50",
		"45c48cce-2e2d-4fbd-8a5c-1d2e3f4a5b60",
		"d3d94468-02a4-4a2b-9b8c-2e3f4a5b6c70",
	)
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})

	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventBalanceExhausted, func(shared.Event) error { typed++; return nil }))
	require.NoError(t, bus.Subscribe(shared.EventCreditDeducted, func(shared.Event) error { t.Fatal("wrong type"); return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(exhausted()))
	assert.Equal(t, 1, typed)
	assert.Equal(t, 1, all)
}

func TestInMemoryEventBus_HandlerFailuresAreObserved(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		Logger: quietLogger(),
		Observer: observerFunc(func(_ string, _ time.Duration, err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}),
	})
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("kaboom") }))

	require.NoError(t, bus.Publish(exhausted()))
	require.Len(t, errs, 2)
	assert.EqualError(t, errs[0], "boom")
	assert.ErrorIs(t, errs[1], ErrHandlerPanic)
}

func TestInMemoryEventBus_AsyncAndClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: quietLogger()})
	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { n.Add(1); return nil }))

	for range 10 {
		require.NoError(t, bus.Publish(exhausted()))
	}
	bus.Wait()
	assert.Equal(t, int32(10), n.Load())

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(exhausted()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventCreditDeducted, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

type countingHandler struct{ n atomic.Int32 }

func (h *countingHandler) Handle(shared.Event) error { h.n.Add(1); return nil }

func TestSubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})
	h := &countingHandler{}
	require.NoError(t, Subscribe(bus, Subscription{Handler: h, Types: []shared.EventType{shared.EventBalanceExhausted, shared.EventCreditDeducted}}))

	require.NoError(t, bus.Publish(exhausted()))
	assert.Equal(t, int32(1), h.n.Load())
}
