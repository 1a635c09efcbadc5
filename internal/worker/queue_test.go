package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop() error { return nil }

func TestQueueFIFO(t *testing.T) {
	q := newJobQueue(0)

	var order []int
	for i := range 5 {
		require.NoError(t, q.push(func() error { order = append(order, i); return nil }))
	}
	assert.Equal(t, 5, q.len())

	for range 5 {
		job, ok := q.pop()
		require.True(t, ok)
		require.NoError(t, job())
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, q.len())
}

func TestQueueCloseDrains(t *testing.T) {
	q := newJobQueue(0)
	require.NoError(t, q.push(noop))
	require.NoError(t, q.push(noop))

	assert.True(t, q.close())
	assert.False(t, q.close(), "close reports the transition only once")
	assert.ErrorIs(t, q.push(noop), ErrQueueClosed)

	// queued jobs are still handed out after close
	_, ok := q.pop()
	assert.True(t, ok)
	_, ok = q.pop()
	assert.True(t, ok)

	_, ok = q.pop()
	assert.False(t, ok, "closed and empty")
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newJobQueue(0)

	got := make(chan bool, 1)
	go func() {
		_, ok := q.pop()
		got <- ok
	}()

	select {
	case <-got:
		t.Fatal("pop returned on an empty open queue")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.push(noop))
	select {
	case ok := <-got:
		assert.True(t, ok)
	case <-time.After(waitTimeout):
		t.Fatal("pop did not wake up after push")
	}
}

func TestQueueCloseWakesAllConsumers(t *testing.T) {
	q := newJobQueue(0)

	const consumers = 4
	var wg sync.WaitGroup
	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.pop()
			assert.False(t, ok)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	q.close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	waitFor(t, done, "close did not release every waiting consumer")
}

func TestQueueCapacity(t *testing.T) {
	q := newJobQueue(2)
	require.NoError(t, q.push(noop))
	require.NoError(t, q.push(noop))
	assert.ErrorIs(t, q.push(noop), ErrQueueFull)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.pushWait(ctx, noop) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("pushWait ignored context cancellation")
	}

	go func() { errCh <- q.pushWait(context.Background(), noop) }()
	_, ok := q.pop()
	require.True(t, ok)
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("pushWait did not proceed after pop freed a slot")
	}
	assert.Equal(t, 2, q.len())

	go func() { errCh <- q.pushWait(context.Background(), noop) }()
	time.Sleep(10 * time.Millisecond)
	q.close()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(waitTimeout):
		t.Fatal("pushWait did not return after close")
	}
}
