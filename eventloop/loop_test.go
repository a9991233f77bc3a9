package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningLoop(t *testing.T, opts ...LoopOption) (*Loop, context.CancelFunc) {
	t.Helper()
	loop, err := New(opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		_ = loop.Shutdown(context.Background())
		<-done
	})

	return loop, cancel
}

func TestLoop_SubmitRunsOnLoopGoroutine(t *testing.T) {
	loop, _ := newRunningLoop(t)

	var ran atomic.Bool
	done := make(chan struct{})
	require.NoError(t, loop.Submit(Task{Runnable: func() {
		ran.Store(loop.InEventLoop())
		close(done)
	}}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	assert.True(t, ran.Load())
}

func TestLoop_SubmitFIFOOrder(t *testing.T) {
	loop, _ := newRunningLoop(t)

	const n = 500
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		i := i
		require.NoError(t, loop.Submit(Task{Runnable: func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}}))
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestLoop_SubmitAfterTerminatedFails(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	require.NoError(t, loop.Shutdown(context.Background()))
	cancel()
	<-done

	err = loop.Submit(Task{Runnable: func() {}})
	assert.ErrorIs(t, err, ErrLoopTerminated)
}

func TestLoop_ReentrantRunRejected(t *testing.T) {
	loop, _ := newRunningLoop(t)

	errCh := make(chan error, 1)
	require.NoError(t, loop.Submit(Task{Runnable: func() {
		errCh <- loop.Run(context.Background())
	}}))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrReentrantRun)
	case <-time.After(time.Second):
		t.Fatal("reentrant Run did not return")
	}
}

func TestLoop_ScheduleFiresAfterDelay(t *testing.T) {
	loop, _ := newRunningLoop(t)

	done := make(chan struct{})
	start := time.Now()
	_, err := loop.Schedule(20*time.Millisecond, func() {
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("scheduled task did not fire")
	}
}

func TestLoop_ScheduleCancelPreventsExecution(t *testing.T) {
	loop, _ := newRunningLoop(t)

	var fired atomic.Bool
	task, err := loop.Schedule(20*time.Millisecond, func() {
		fired.Store(true)
	})
	require.NoError(t, err)
	task.Cancel()
	assert.True(t, task.Canceled())

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestLoop_ScheduleAtFixedRateRepeats(t *testing.T) {
	loop, _ := newRunningLoop(t)

	var count atomic.Int32
	task, err := loop.ScheduleAtFixedRate(10*time.Millisecond, func() {
		count.Add(1)
	})
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	task.Cancel()
	observed := count.Load()
	assert.GreaterOrEqual(t, observed, int32(3))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, observed, count.Load())
}

func TestLoop_ShutdownDrainsPendingTasks(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	var ran atomic.Bool
	require.NoError(t, loop.Submit(Task{Runnable: func() {
		ran.Store(true)
	}}))

	require.NoError(t, loop.Shutdown(context.Background()))
	<-done
	assert.True(t, ran.Load())
	assert.Equal(t, StateTerminated, loop.State())
}

func TestLoop_ShutdownGracefullyWaitsForQuietPeriod(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	stop := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = loop.Submit(Task{Runnable: func() {}})
			time.Sleep(5 * time.Millisecond)
		}
	}()

	err = loop.ShutdownGracefully(20*time.Millisecond, time.Second)
	close(stop)
	require.NoError(t, err)
	<-done
	assert.Equal(t, StateTerminated, loop.State())
}

func TestLoop_TaskPanicDoesNotCrashLoop(t *testing.T) {
	loop, _ := newRunningLoop(t)

	require.NoError(t, loop.Submit(Task{Runnable: func() {
		panic("boom")
	}}))

	var recovered atomic.Bool
	done := make(chan struct{})
	require.NoError(t, loop.Submit(Task{Runnable: func() {
		recovered.Store(true)
		close(done)
	}}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not continue processing after panic")
	}
	assert.True(t, recovered.Load())
}

func TestLoop_OnOverloadInvokedWhenBudgetExceeded(t *testing.T) {
	var overloaded atomic.Bool
	loop, _ := newRunningLoop(t,
		WithIORatio(1),
		WithOnOverload(func(err error) {
			overloaded.Store(true)
		}),
	)

	for i := 0; i < 5000; i++ {
		_ = loop.Submit(Task{Runnable: func() {
			time.Sleep(50 * time.Microsecond)
		}})
	}

	require.Eventually(t, overloaded.Load, time.Second, time.Millisecond, "expected overload callback to fire")
}

func TestWithIORatio_RejectsOutOfRange(t *testing.T) {
	_, err := New(WithIORatio(0))
	assert.ErrorIs(t, err, ErrInvalidIORatio)

	_, err = New(WithIORatio(101))
	assert.ErrorIs(t, err, ErrInvalidIORatio)

	loop, err := New(WithIORatio(100))
	require.NoError(t, err)
	_ = loop.Close()
}

func TestLoop_RegisterUnregisterFD(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	rFd, wFd, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	require.NoError(t, err)
	defer closeWakeFd(rFd, wFd)

	require.NoError(t, loop.RegisterFD(rFd, EventRead, func(IOEvents) {}))
	assert.Equal(t, int32(1), loop.userIOFDCount.Load())

	err = loop.RegisterFD(rFd, EventRead, func(IOEvents) {})
	assert.Error(t, err)

	require.NoError(t, loop.UnregisterFD(rFd))
	assert.Equal(t, int32(0), loop.userIOFDCount.Load())
}

func TestLoop_CloseIsIdempotent(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	assert.NoError(t, loop.Close())
	assert.ErrorIs(t, loop.Close(), ErrLoopTerminated)
}

func TestLoop_MetricsTrackQueueDepth(t *testing.T) {
	loop, _ := newRunningLoop(t, WithMetrics(true))

	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		require.NoError(t, loop.Submit(Task{Runnable: wg.Done}))
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return loop.Metrics().Queue.IngressMax >= 1
	}, time.Second, time.Millisecond)
}
