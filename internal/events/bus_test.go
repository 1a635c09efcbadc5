package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestNewBus(t *testing.T) {
	bus := NewBus()
	require.NotNil(t, bus)
	assert.Equal(t, 0, bus.SubscriberCount())
	assert.Equal(t, defaultBufferSize, bus.bufferSize)

	assert.Equal(t, defaultBufferSize, NewBusWithBuffer(-1).bufferSize)
	assert.Equal(t, 7, NewBusWithBuffer(7).bufferSize)
}

func TestBusSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Unsubscribe(ch1)
	assert.Equal(t, 1, bus.SubscriberCount())

	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel should be closed")
	assert.NotNil(t, ch2)
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewWorkerStartedEvent("pool", 3))

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := receive(t, ch)
		assert.Equal(t, EventWorkerStarted, ev.Type)
		assert.Equal(t, "pool", ev.Source)
		assert.Equal(t, 3, ev.Data.WorkerID)
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBusWithBuffer(1)
	ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := range 5 {
			bus.Publish(NewWorkerStartedEvent("pool", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	ev := receive(t, ch)
	assert.Equal(t, 0, ev.Data.WorkerID, "first event should be kept, the rest dropped")
}

func TestBusPublishNil(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(NewPoolClosedEvent("pool")) })
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Close()

	assert.Equal(t, 0, bus.SubscriberCount())
	_, ok := <-ch
	assert.False(t, ok, "expected channel to be closed")
}

func TestBusSubscribeTypes(t *testing.T) {
	bus := NewBus()
	failures := bus.Subscribe(EventJobFailed, EventResourceMissing)
	all := bus.Subscribe()

	bus.Publish(NewWorkerStartedEvent("pool", 0))
	bus.Publish(NewJobFailedEvent("pool", 1, errors.New("boom")))
	bus.Publish(NewResourceMissingEvent("conn-1", "hello.html"))

	assert.Equal(t, EventJobFailed, receive(t, failures).Type)
	assert.Equal(t, EventResourceMissing, receive(t, failures).Type)
	select {
	case ev := <-failures:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}

	assert.Equal(t, EventWorkerStarted, receive(t, all).Type)
	assert.Equal(t, EventJobFailed, receive(t, all).Type)
	assert.Equal(t, EventResourceMissing, receive(t, all).Type)
}

func TestBusUnsubscribeUnknown(t *testing.T) {
	bus := NewBus()
	other := make(chan Event)
	assert.NotPanics(t, func() { bus.Unsubscribe(other) })

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	assert.NotPanics(t, func() { bus.Unsubscribe(ch) }, "second unsubscribe is a no-op")
}

func TestBusSubscribeAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Close()

	ch := bus.Subscribe()
	_, ok := <-ch
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestEventCreation(t *testing.T) {
	t.Run("WorkerStopped", func(t *testing.T) {
		ev := NewWorkerStoppedEvent("pool", 2, 10, 1)
		assert.Equal(t, EventWorkerStopped, ev.Type)
		assert.Equal(t, 2, ev.Data.WorkerID)
		assert.Equal(t, uint64(10), ev.Data.Processed)
		assert.Equal(t, uint64(1), ev.Data.Failed)
		assert.False(t, ev.Timestamp.IsZero())
	})

	t.Run("JobFailed", func(t *testing.T) {
		ev := NewJobFailedEvent("pool", 0, errors.New("boom"))
		assert.Equal(t, EventJobFailed, ev.Type)
		assert.Equal(t, "boom", ev.Data.Error)

		ev = NewJobFailedEvent("pool", 0, nil)
		assert.Empty(t, ev.Data.Error)
	})

	t.Run("JobRejected", func(t *testing.T) {
		ev := NewJobRejectedEvent("server", "queue closed")
		assert.Equal(t, EventJobRejected, ev.Type)
		assert.Equal(t, "queue closed", ev.Data.Reason)
		assert.Equal(t, -1, ev.Data.WorkerID)
	})

	t.Run("ResourceMissing", func(t *testing.T) {
		ev := NewResourceMissingEvent("conn-1", "hello.html")
		assert.Equal(t, EventResourceMissing, ev.Type)
		assert.Equal(t, "hello.html", ev.Data.Resource)
	})

	t.Run("PoolClosed", func(t *testing.T) {
		assert.Equal(t, EventPoolClosed, NewPoolClosedEvent("pool").Type)
	})
}
