package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolserver/internal/events"
	"poolserver/internal/metrics"
)

const waitTimeout = 2 * time.Second

func newTestPool(t *testing.T, cfg PoolConfig) *Pool {
	t.Helper()
	p, err := NewPoolWithConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown() })
	return p
}

func waitFor(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatalf("timeout: %s", msg)
	}
}

func TestNewPoolInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1, -100} {
		p, err := NewPool(size)
		require.Error(t, err, "size %d", size)
		assert.Nil(t, p)
		assert.ErrorIs(t, err, ErrInvalidSize)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
}

func TestNewPoolInvalidConfig(t *testing.T) {
	_, err := NewPoolWithConfig(PoolConfig{NumWorkers: 1, QueueCapacity: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPoolWithConfig(PoolConfig{NumWorkers: 1, Mode: Mode(42)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewPoolSpawnsWorkers(t *testing.T) {
	for _, n := range []int{1, 2, 5, 8} {
		p, err := NewPool(n)
		require.NoError(t, err)

		assert.Equal(t, n, p.Size())
		assert.Equal(t, ModePool, p.Mode())
		assert.Equal(t, StateOpen, p.State())

		infos := p.Workers()
		require.Len(t, infos, n)
		for i, info := range infos {
			assert.Equal(t, i, info.ID)
		}
		require.NoError(t, p.Shutdown())
	}
}

func TestPoolParallelExecution(t *testing.T) {
	for _, n := range []int{1, 2, 4, 16} {
		p := newTestPool(t, PoolConfig{NumWorkers: n})

		release := make(chan struct{})
		started := make(chan int, n)
		var completed atomic.Int32

		for i := range n {
			require.NoError(t, p.Submit(func() {
				started <- i
				<-release
				completed.Add(1)
			}))
		}

		// every job must be running at the same time before any is released
		for range n {
			select {
			case <-started:
			case <-time.After(waitTimeout):
				t.Fatalf("n=%d: not all jobs reached running concurrently", n)
			}
		}
		assert.Equal(t, int32(0), completed.Load())

		close(release)
		require.NoError(t, p.Shutdown())
		assert.Equal(t, int32(n), completed.Load())
	}
}

func TestPoolSingleWorkerOrdering(t *testing.T) {
	p := newTestPool(t, PoolConfig{NumWorkers: 1})

	aStarted := make(chan struct{})
	releaseA := make(chan struct{})
	bStarted := make(chan struct{})
	var aDone atomic.Bool

	require.NoError(t, p.Submit(func() {
		close(aStarted)
		<-releaseA
		aDone.Store(true)
	}))
	require.NoError(t, p.Submit(func() {
		assert.True(t, aDone.Load(), "B started before A completed")
		close(bStarted)
	}))

	waitFor(t, aStarted, "job A did not start")

	select {
	case <-bStarted:
		t.Fatal("job B started while A held the only worker")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, p.QueueLen())

	close(releaseA)
	waitFor(t, bStarted, "job B did not start after A completed")
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	const jobs = 500
	p := newTestPool(t, PoolConfig{NumWorkers: 4})

	var mu sync.Mutex
	seen := make(map[int]int, jobs)
	for i := range jobs {
		require.NoError(t, p.Submit(func() {
			time.Sleep(time.Microsecond)
			mu.Lock()
			seen[i]++
			mu.Unlock()
		}))
	}

	require.NoError(t, p.Shutdown())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, jobs, "every job queued before shutdown must run")
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %d ran %d times", id, count)
	}
	assert.Equal(t, StateClosed, p.State())
	assert.Equal(t, 0, p.QueueLen())

	for _, info := range p.Workers() {
		assert.Equal(t, WorkerStopped.String(), info.State)
	}
	assert.Equal(t, uint64(jobs), p.Stats().Processed)
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	p := newTestPool(t, PoolConfig{NumWorkers: 2})
	require.NoError(t, p.Shutdown())

	var ran atomic.Bool
	err := p.Submit(func() { ran.Store(true) })
	assert.ErrorIs(t, err, ErrQueueClosed)

	err = p.SubmitWait(context.Background(), func() { ran.Store(true) })
	assert.ErrorIs(t, err, ErrQueueClosed)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load(), "rejected job must not run")
	assert.Equal(t, uint64(2), p.Stats().Rejected)
	assert.Equal(t, uint64(0), p.Stats().Submitted)
}

func TestPoolSubmitNil(t *testing.T) {
	p := newTestPool(t, PoolConfig{NumWorkers: 1})
	assert.ErrorIs(t, p.Submit(nil), ErrNilJob)
	assert.ErrorIs(t, p.SubmitWait(context.Background(), nil), ErrNilJob)
}

func TestPoolShutdownIdempotent(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()
	p := newTestPool(t, PoolConfig{NumWorkers: 3, Bus: bus})

	require.NoError(t, p.Shutdown())
	require.NoError(t, p.Shutdown())
	require.NoError(t, p.ShutdownContext(context.Background()))

	var closed, stopped int
	var stoppedIDs []int
	for {
		select {
		case ev := <-sub:
			switch ev.Type {
			case events.EventPoolClosed:
				closed++
			case events.EventWorkerStopped:
				stopped++
				stoppedIDs = append(stoppedIDs, ev.Data.WorkerID)
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, closed, "producer must be closed exactly once")
	assert.Equal(t, 3, stopped, "each worker must be joined exactly once")
	assert.Equal(t, []int{0, 1, 2}, stoppedIDs, "workers are joined in ascending id order")
}

func TestPoolConcurrentShutdown(t *testing.T) {
	p := newTestPool(t, PoolConfig{NumWorkers: 4})
	var counter atomic.Int32
	for range 100 {
		require.NoError(t, p.Submit(func() { counter.Add(1) }))
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Shutdown())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(100), counter.Load())
}

func TestPoolPanicContainment(t *testing.T) {
	var failures atomic.Int32
	var lastErr atomic.Value
	p := newTestPool(t, PoolConfig{
		NumWorkers: 1,
		OnJobFailure: func(_ int, err error) {
			failures.Add(1)
			lastErr.Store(err)
		},
	})

	boom := errors.New("boom")
	require.NoError(t, p.Submit(func() { panic("bad job") }))
	require.NoError(t, p.Submit(func() { panic(boom) }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))
	waitFor(t, done, "worker did not survive panicking jobs")

	require.NoError(t, p.Shutdown())
	assert.Equal(t, int32(2), failures.Load())
	err, _ := lastErr.Load().(error)
	assert.ErrorIs(t, err, ErrJobPanicked)
	assert.ErrorIs(t, err, boom)

	info := p.Workers()[0]
	assert.Equal(t, uint64(3), info.Processed)
	assert.Equal(t, uint64(2), info.Failed)
}

func TestPoolGoexitContainment(t *testing.T) {
	var lastErr atomic.Value
	p := newTestPool(t, PoolConfig{
		NumWorkers:   1,
		OnJobFailure: func(_ int, err error) { lastErr.Store(err) },
	})

	require.NoError(t, p.Submit(func() { runtime.Goexit() }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))
	waitFor(t, done, "worker slot was lost after runtime.Goexit")

	require.NoError(t, p.Shutdown())
	err, _ := lastErr.Load().(error)
	assert.ErrorIs(t, err, ErrJobAborted)
	assert.Equal(t, 1, p.Size())
}

func TestPoolTaskErrorIsFailure(t *testing.T) {
	bus := events.NewBus()
	failed := bus.Subscribe(events.EventJobFailed)
	c := metrics.NewCollector("test")
	var hookErr atomic.Value
	p := newTestPool(t, PoolConfig{
		NumWorkers:   1,
		Bus:          bus,
		Metrics:      c,
		OnJobFailure: func(_ int, err error) { hookErr.Store(err) },
	})

	bad := errors.New("connection reset")
	require.NoError(t, p.SubmitTask(func() error { return bad }))
	require.NoError(t, p.SubmitTask(func() error { return nil }))
	require.NoError(t, p.SubmitTaskWait(context.Background(), func() error { return nil }))
	assert.ErrorIs(t, p.SubmitTask(nil), ErrNilJob)
	require.NoError(t, p.Shutdown())

	select {
	case ev := <-failed:
		assert.Equal(t, "connection reset", ev.Data.Error)
		assert.Equal(t, 0, ev.Data.WorkerID)
	case <-time.After(waitTimeout):
		t.Fatal("expected job_failed event")
	}

	err, _ := hookErr.Load().(error)
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, uint64(1), p.Stats().Failed)
	assert.Equal(t, uint64(3), p.Stats().Processed)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.JobsFailed))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.JobsCompleted))
}

func TestPoolFailureHookPanicIsContained(t *testing.T) {
	var calls atomic.Int32
	p := newTestPool(t, PoolConfig{
		NumWorkers: 1,
		OnJobFailure: func(int, error) {
			calls.Add(1)
			panic("hook broke")
		},
	})

	require.NoError(t, p.Submit(func() { panic("job broke") }))
	require.NoError(t, p.SubmitTask(func() error { return errors.New("task broke") }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))
	waitFor(t, done, "worker did not survive a panicking failure hook")

	require.NoError(t, p.Shutdown())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uint64(2), p.Workers()[0].Failed)
}

func TestPoolQueueDepthMetric(t *testing.T) {
	c := metrics.NewCollector("test")
	p := newTestPool(t, PoolConfig{NumWorkers: 1, QueueCapacity: 1, Metrics: c})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	waitFor(t, started, "blocking job did not start")
	assert.Equal(t, 0.0, testutil.ToFloat64(c.QueueDepth))

	require.NoError(t, p.Submit(func() {}))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.QueueDepth))

	assert.ErrorIs(t, p.Submit(func() {}), ErrQueueFull)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.QueueDepth), "a rejected job is not counted")

	close(release)
	require.NoError(t, p.Shutdown())
	assert.Equal(t, 0.0, testutil.ToFloat64(c.QueueDepth))

	assert.ErrorIs(t, p.Submit(func() {}), ErrQueueClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.QueueDepth))
}

func TestPoolQueueDepthNeverNegative(t *testing.T) {
	c := metrics.NewCollector("test")
	p := newTestPool(t, PoolConfig{NumWorkers: 8, Metrics: c})

	var wg sync.WaitGroup
	var minDepth atomic.Int64
	for range 200 {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			if d := int64(testutil.ToFloat64(c.QueueDepth)); d < minDepth.Load() {
				minDepth.Store(d)
			}
		}))
	}
	wg.Wait()
	require.NoError(t, p.Shutdown())

	assert.GreaterOrEqual(t, minDepth.Load(), int64(0))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.QueueDepth))
}

func TestPoolBoundedQueue(t *testing.T) {
	p := newTestPool(t, PoolConfig{NumWorkers: 1, QueueCapacity: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	waitFor(t, started, "blocking job did not start")

	require.NoError(t, p.Submit(func() {}))
	assert.ErrorIs(t, p.Submit(func() {}), ErrQueueFull)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.SubmitWait(ctx, func() {}), context.DeadlineExceeded)

	waitDone := make(chan error, 1)
	go func() { waitDone <- p.SubmitWait(context.Background(), func() {}) }()

	close(release)
	select {
	case err := <-waitDone:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("SubmitWait did not unblock once the queue drained")
	}

	require.NoError(t, p.Shutdown())
	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Submitted)
	assert.Equal(t, uint64(2), stats.Rejected)
}

func TestPoolShutdownContextTimeout(t *testing.T) {
	p := newTestPool(t, PoolConfig{NumWorkers: 2})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	waitFor(t, started, "blocking job did not start")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.ShutdownContext(ctx)

	var se *ShutdownError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, se.Unjoined)
	assert.Contains(t, err.Error(), "unjoined")
	assert.ErrorIs(t, p.Submit(func() {}), ErrQueueClosed, "producer stays closed after a failed join")

	close(release)
	require.NoError(t, p.Shutdown(), "a later call joins the remaining workers")
}

func TestPoolInlineMode(t *testing.T) {
	p := newTestPool(t, PoolConfig{NumWorkers: 8, Mode: ModeInline})
	assert.Equal(t, 1, p.Size())

	var counter int
	for range 10 {
		require.NoError(t, p.Submit(func() { counter++ }))
		// the job has already run in this goroutine
	}
	assert.Equal(t, 10, counter)

	require.NoError(t, p.Submit(func() { panic("contained") }))

	require.NoError(t, p.Shutdown())
	assert.ErrorIs(t, p.Submit(func() {}), ErrQueueClosed)

	info := p.Workers()[0]
	assert.Equal(t, uint64(11), info.Processed)
	assert.Equal(t, uint64(1), info.Failed)
	assert.Equal(t, WorkerStopped.String(), info.State)
}

func TestPoolSpawnMode(t *testing.T) {
	const jobs = 20
	p := newTestPool(t, PoolConfig{Mode: ModeSpawn})

	release := make(chan struct{})
	started := make(chan struct{}, jobs)
	var completed atomic.Int32
	for range jobs {
		require.NoError(t, p.Submit(func() {
			started <- struct{}{}
			<-release
			completed.Add(1)
		}))
	}
	for range jobs {
		select {
		case <-started:
		case <-time.After(waitTimeout):
			t.Fatal("spawn mode should run every job concurrently")
		}
	}

	shutdownDone := make(chan struct{})
	go func() {
		assert.NoError(t, p.Shutdown())
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned while spawned jobs were still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	waitFor(t, shutdownDone, "Shutdown did not return after jobs completed")
	assert.Equal(t, int32(jobs), completed.Load())
}

func TestPoolEvents(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()
	p := newTestPool(t, PoolConfig{NumWorkers: 2, Bus: bus, Name: "evt"})

	require.NoError(t, p.Submit(func() { panic("x") }))
	require.NoError(t, p.Shutdown())
	_ = p.Submit(func() {})

	counts := map[events.EventType]int{}
	timeout := time.After(waitTimeout)
	for counts[events.EventJobRejected] == 0 {
		select {
		case ev := <-sub:
			assert.Equal(t, "evt", ev.Source)
			counts[ev.Type]++
		case <-timeout:
			t.Fatalf("missing events, got %v", counts)
		}
	}
	assert.Equal(t, 2, counts[events.EventWorkerStarted])
	assert.Equal(t, 1, counts[events.EventJobFailed])
	assert.Equal(t, 1, counts[events.EventPoolClosed])
	assert.Equal(t, 2, counts[events.EventWorkerStopped])
}

func TestPoolStats(t *testing.T) {
	p := newTestPool(t, PoolConfig{NumWorkers: 2})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	waitFor(t, started, "job did not start")

	stats := p.Stats()
	assert.Equal(t, "pool", stats.Mode)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, "open", stats.State)
	assert.Equal(t, 1, stats.Busy)
	assert.Equal(t, uint64(1), stats.Submitted)

	close(release)
	require.NoError(t, p.Shutdown())
	assert.Equal(t, "closed", p.Stats().State)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"", ModePool},
		{"pool", ModePool},
		{"threadpool", ModePool},
		{"INLINE", ModeInline},
		{"single", ModeInline},
		{"spawn", ModeSpawn},
		{"async", ModeSpawn},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.NotEqual(t, "unknown", got.String())
	}

	_, err := ParseMode("fibers")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, "unknown", Mode(9).String())
}
