package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

type testEvent struct {
	typ shared.EventType
	id  string
}

func (e testEvent) EventType() shared.EventType     { return e.typ }
func (e testEvent) AggregateID() string             { return e.id }
func (e testEvent) OccurredAt() time.Time           { return time.Now() }
func (e testEvent) Payload() map[string]interface{} { return map[string]interface{}{"id": e.id} }

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
}

// ─── in-memory event bus ─────────────────────────────────────────────────────

func TestEventBusRoutesByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var typed, global int
	require.NoError(t, bus.Subscribe(shared.EventAlertCreated, func(shared.Event) error {
		typed++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		global++
		return nil
	}))

	require.NoError(t, bus.Publish(testEvent{typ: shared.EventAlertCreated}))
	require.NoError(t, bus.Publish(testEvent{typ: shared.EventBaselineUpdated}))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, global)
}

func TestEventBusAsyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 4})

	var delivered atomic.Int64
	var wg sync.WaitGroup
	wg.Add(10)
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		delivered.Add(1)
		wg.Done()
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(testEvent{typ: shared.EventAlertCreated}))
	}
	wg.Wait()
	assert.Equal(t, int64(10), delivered.Load())

	require.NoError(t, bus.Close())
}

func TestEventBusHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var second bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		second = true
		return nil
	}))

	require.NoError(t, bus.Publish(testEvent{typ: shared.EventAlertCreated}))
	assert.True(t, second)
}

func TestEventBusClosed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(testEvent{typ: shared.EventAlertCreated}), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventAlertCreated, func(shared.Event) error { return nil }), ErrEventBusClosed)

	// Closing twice is fine.
	require.NoError(t, bus.Close())
}

func TestEventBusRejectsNil(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	assert.Error(t, bus.Subscribe(shared.EventAlertCreated, nil))
	assert.Error(t, bus.SubscribeAll(nil))
	assert.Error(t, bus.Publish(nil))
}

func TestEventBusMetrics(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false, EnableMetrics: true})
	defer bus.Close()

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.Publish(testEvent{typ: shared.EventAlertCreated}))

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalPublished)
	assert.Equal(t, int64(2), snap.TotalHandlerExecs)
	assert.InDelta(t, 0.5, snap.HandlerSuccessRate, 1e-9)
}

// ─── dispatcher ──────────────────────────────────────────────────────────────

func fastDispatcher(bus shared.EventBus) *Dispatcher {
	cfg := DefaultDispatcherConfig(bus)
	cfg.RetryConfig = RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	return NewDispatcher(cfg)
}

func TestDispatcherRoutesRegisteredHandlers(t *testing.T) {
	d := fastDispatcher(nil)
	defer d.Stop()

	var created, updated int
	require.NoError(t, d.RegisterSync(shared.EventAlertCreated, "created", func(shared.Event) error {
		created++
		return nil
	}))
	require.NoError(t, d.RegisterSync(shared.EventBaselineUpdated, "updated", func(shared.Event) error {
		updated++
		return nil
	}))

	require.NoError(t, d.Dispatch(testEvent{typ: shared.EventAlertCreated}))
	assert.Equal(t, 1, created)
	assert.Equal(t, 0, updated)
}

func TestDispatcherStartSubscribesToBus(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	d := fastDispatcher(bus)
	defer d.Stop()

	var handled int
	require.NoError(t, d.RegisterSync(shared.EventAlertCreated, "created", func(shared.Event) error {
		handled++
		return nil
	}))
	require.NoError(t, d.Start())

	require.NoError(t, bus.Publish(testEvent{typ: shared.EventAlertCreated}))
	assert.Equal(t, 1, handled)
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	d := fastDispatcher(nil)
	defer d.Stop()

	attempts := 0
	require.NoError(t, d.RegisterSync(shared.EventAlertCreated, "flaky", func(shared.Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, d.Dispatch(testEvent{typ: shared.EventAlertCreated}))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, int64(1), d.Metrics().Snapshot().TotalRetries)
}

func TestDispatcherExhaustedRetriesGoToDLQ(t *testing.T) {
	d := fastDispatcher(nil)
	defer d.Stop()

	require.NoError(t, d.RegisterSync(shared.EventAlertCreated, "broken", func(shared.Event) error {
		return errors.New("permanent")
	}))

	err := d.Dispatch(testEvent{typ: shared.EventAlertCreated, id: "a1"})
	require.Error(t, err)

	dlq := d.DeadLetterQueue()
	require.NotNil(t, dlq)
	require.Equal(t, 1, dlq.Size())

	entry, ok := dlq.Pop()
	require.True(t, ok)
	assert.Equal(t, "broken", entry.HandlerName)
	assert.Equal(t, 3, entry.Attempts) // MaxRetries 2 + the first try
	assert.Equal(t, "a1", entry.Event.AggregateID())
	assert.Equal(t, 0, dlq.Size())
}

func TestDispatcherHandlerTimeout(t *testing.T) {
	cfg := DefaultDispatcherConfig(nil)
	cfg.RetryConfig = RetryConfig{MaxRetries: 0, InitialBackoff: time.Millisecond}
	d := NewDispatcher(cfg)
	defer d.Stop()

	require.NoError(t, d.RegisterHandler(shared.EventAlertCreated, HandlerRegistration{
		Name:       "slow",
		MaxRetries: 1,
		Timeout:    10 * time.Millisecond,
		Handler: func(shared.Event) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}))

	err := d.Dispatch(testEvent{typ: shared.EventAlertCreated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestRecoveryMiddleware(t *testing.T) {
	d := fastDispatcher(nil)
	defer d.Stop()
	d.Use(RecoveryMiddleware(logger.Default()))

	require.NoError(t, d.RegisterSync(shared.EventAlertCreated, "panicky", func(shared.Event) error {
		panic("oops")
	}))

	// The panic surfaces as an error after retries, never crashes the test.
	err := d.Dispatch(testEvent{typ: shared.EventAlertCreated})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerPanic)
}

func TestMiddlewareWrapsInOrder(t *testing.T) {
	d := fastDispatcher(nil)
	defer d.Stop()

	var order []string
	d.Use(func(next shared.EventHandler) shared.EventHandler {
		return func(e shared.Event) error {
			order = append(order, "outer")
			return next(e)
		}
	})
	d.Use(func(next shared.EventHandler) shared.EventHandler {
		return func(e shared.Event) error {
			order = append(order, "inner")
			return next(e)
		}
	})

	require.NoError(t, d.RegisterSync(shared.EventAlertCreated, "h", func(shared.Event) error {
		order = append(order, "handler")
		return nil
	}))

	require.NoError(t, d.Dispatch(testEvent{typ: shared.EventAlertCreated}))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestDispatcherNoHandlersIsNoop(t *testing.T) {
	d := fastDispatcher(nil)
	defer d.Stop()
	assert.NoError(t, d.Dispatch(testEvent{typ: shared.EventAlertCreated}))
}

// ─── dead letter queue ───────────────────────────────────────────────────────

func TestDeadLetterQueueCapacity(t *testing.T) {
	q := NewDeadLetterQueue(3)
	for i := 0; i < 5; i++ {
		q.Add(DeadLetterEntry{HandlerName: string(rune('a' + i))})
	}
	require.Equal(t, 3, q.Size())

	// The oldest entries were dropped.
	entries := q.Entries()
	assert.Equal(t, "c", entries[0].HandlerName)
	assert.Equal(t, "e", entries[2].HandlerName)
}

func TestDeadLetterQueuePopEmpty(t *testing.T) {
	q := NewDeadLetterQueue(10)
	_, ok := q.Pop()
	assert.False(t, ok)
}
