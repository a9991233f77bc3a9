package eventloop

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of work submitted to a Loop. Runnable is invoked on the
// loop's own goroutine with panic recovery; a panic is recorded as a
// [PanicError] and reported via the configured [Logger] rather than
// crashing the loop.
type Task struct {
	Runnable func()
}

// ScheduledTask is a handle to a task scheduled via [Loop.Schedule] or
// [Loop.ScheduleAtFixedRate]. Cancel is safe to call from any goroutine,
// any number of times, both before and after the task has fired.
type ScheduledTask struct {
	id       uint64
	canceled atomic.Bool
}

// Cancel prevents the scheduled task from running (or, for a fixed-rate
// task, from running again). A task already executing when Cancel is
// called is not interrupted.
func (s *ScheduledTask) Cancel() {
	s.canceled.Store(true)
}

// Canceled reports whether Cancel has been called.
func (s *ScheduledTask) Canceled() bool {
	return s.canceled.Load()
}

// timer is an entry in the loop's scheduled-task min-heap.
type timer struct {
	when     time.Time
	task     Task
	sched    *ScheduledTask
	periodic bool
	interval time.Duration
}

// timerHeap is a min-heap of timers ordered by fire time.
type timerHeap []timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

var loopIDCounter atomic.Uint64

// Loop is a single-threaded reactor: one platform poller, one FIFO task
// queue, and one scheduled-task heap, all owned and mutated exclusively by
// the goroutine running [Loop.Run]. Cross-goroutine interaction happens
// only through Submit/Schedule/RegisterFD/UnregisterFD/ModifyFD, which are
// safe to call from anywhere.
type Loop struct { // betteralign:ignore
	_ [0]func() // prevent copying

	id    uint64
	state *FastState

	// tasks is the single submitted-task FIFO. tasksMu guards it from
	// concurrent Submit calls and from the loop goroutine's drain.
	tasks   *ChunkedIngress
	tasksMu sync.Mutex

	// timers is only ever touched from the loop goroutine.
	timers     timerHeap
	timerCount atomic.Int64

	poller FastPoller

	stopOnce  sync.Once
	closeOnce sync.Once

	// Wake-up mechanism: a self-pipe (eventfd on Linux, pipe on Darwin)
	// registered with the poller so a blocking PollIO unblocks as soon as
	// a task is submitted from another goroutine. wakePipe is -1 on
	// platforms (Windows) where the poller itself exposes a Wakeup().
	wakePipe            int
	wakePipeWrite       int
	wakeBuf             [8]byte
	wakeUpSignalPending atomic.Uint32

	tickAnchorMu    sync.RWMutex
	tickAnchor      time.Time
	tickElapsedTime atomic.Int64

	loopGoroutineID atomic.Uint64
	tickCount       uint64

	loopDone chan struct{}

	// userIOFDCount tracks channel-owned FDs registered via RegisterFD,
	// distinct from the internal wake pipe FD.
	userIOFDCount atomic.Int32

	ioRatio        int
	metricsEnabled bool
	metrics        *Metrics
	logger         Logger
	onOverload     func(error)

	nextScheduleID atomic.Uint64

	batchBuf [256]Task
}

// New creates a Loop bound to a fresh platform poller and wake pipe. The
// loop does not start processing until [Loop.Run] is called.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	wakeFd, wakeWriteFd, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}

	loop := &Loop{
		id:             loopIDCounter.Add(1),
		state:          NewFastState(),
		tasks:          NewChunkedIngress(),
		timers:         make(timerHeap, 0),
		wakePipe:       wakeFd,
		wakePipeWrite:  wakeWriteFd,
		loopDone:       make(chan struct{}),
		ioRatio:        cfg.ioRatio,
		metricsEnabled: cfg.metricsEnabled,
		logger:         cfg.logger,
		onOverload:     cfg.onOverload,
	}
	if loop.metricsEnabled {
		loop.metrics = &Metrics{}
	}

	if err := loop.poller.Init(); err != nil {
		_ = closeWakeFd(wakeFd, wakeWriteFd)
		return nil, err
	}

	if wakeFd >= 0 {
		if err := loop.poller.RegisterFD(wakeFd, EventRead, func(IOEvents) {
			loop.drainWakeUpPipe()
		}); err != nil {
			_ = loop.poller.Close()
			_ = closeWakeFd(wakeFd, wakeWriteFd)
			return nil, err
		}
	}

	return loop, nil
}

// ID returns the loop's process-unique identifier, suitable for log
// correlation across a group of loops.
func (l *Loop) ID() uint64 {
	return l.id
}

// InEventLoop reports whether the calling goroutine is this loop's own
// goroutine. Handlers use this to decide whether a call can execute
// directly or must be routed through Submit.
func (l *Loop) InEventLoop() bool {
	return l.isLoopThread()
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Metrics returns a snapshot of the loop's runtime metrics. Only
// meaningful when the loop was created with WithMetrics(true); otherwise
// the returned value is always zero.
func (l *Loop) Metrics() Metrics {
	if l.metrics == nil {
		return Metrics{}
	}
	l.metrics.mu.Lock()
	defer l.metrics.mu.Unlock()
	return Metrics{Latency: l.metrics.Latency, Queue: l.metrics.Queue, TPS: l.metrics.TPS}
}

// Run runs the event loop and blocks until it terminates, via Close,
// Shutdown, ShutdownGracefully, or ctx cancellation. To run in the
// background: `go loop.Run(ctx)`.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		switch l.state.Load() {
		case StateTerminated:
			return ErrLoopTerminated
		default:
			return ErrLoopAlreadyRunning
		}
	}

	defer close(l.loopDone)

	l.tickAnchorMu.Lock()
	l.tickAnchor = time.Now()
	l.tickAnchorMu.Unlock()
	l.tickElapsedTime.Store(0)

	return l.run(ctx)
}

// run is the main loop goroutine body.
func (l *Loop) run(ctx context.Context) error {
	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	// epoll/kqueue require thread affinity for correctness.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.doWakeup()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		select {
		case <-ctx.Done():
			l.beginTerminating()
			l.drainOnShutdown()
			return ctx.Err()
		default:
		}

		state := l.state.Load()
		if state == StateTerminating || state == StateTerminated {
			l.drainOnShutdown()
			return nil
		}

		l.tick()
	}
}

// beginTerminating transitions the loop into StateTerminating from
// whatever state it is currently in, waking it if it was sleeping.
func (l *Loop) beginTerminating() {
	for {
		current := l.state.Load()
		if current == StateTerminating || current == StateTerminated {
			return
		}
		if l.state.TryTransition(current, StateTerminating) {
			if current == StateSleeping {
				l.doWakeup()
			}
			return
		}
	}
}

// tick is a single iteration of the loop: poll for I/O, promote due
// scheduled tasks into the FIFO, then drain the FIFO for a duration
// proportional to how long the poll took, per the configured I/O ratio.
func (l *Loop) tick() {
	l.tickCount++
	l.advanceTickAnchor()

	ioStart := time.Now()
	l.poll()
	ioDuration := time.Since(ioStart)

	l.promoteDueTimers()

	if l.metricsEnabled {
		l.metrics.Queue.UpdateScheduled(int(l.timerCount.Load()))
	}

	l.drainTasks(l.taskBudget(ioDuration))
}

// taskBudget computes how long drainTasks may run this tick. A ratio of
// 100 means "drain fully, no time limit" (represented as a zero
// duration, which drainTasks treats as unbounded).
func (l *Loop) taskBudget(ioDuration time.Duration) time.Duration {
	if l.ioRatio >= 100 {
		return 0
	}
	return ioDuration * time.Duration(100-l.ioRatio) / time.Duration(l.ioRatio)
}

// drainTasks pops and executes tasks from the FIFO. If budget is zero,
// it drains until the queue is empty; otherwise it stops once budget has
// elapsed, leaving any remainder for the next tick and reporting
// overload if a callback is configured.
func (l *Loop) drainTasks(budget time.Duration) {
	deadline := time.Time{}
	if budget > 0 {
		deadline = time.Now().Add(budget)
	}

	for {
		l.tasksMu.Lock()
		n := 0
		for n < len(l.batchBuf) {
			task, ok := l.tasks.Pop()
			if !ok {
				break
			}
			l.batchBuf[n] = task
			n++
		}
		remaining := l.tasks.Length()
		l.tasksMu.Unlock()

		for i := 0; i < n; i++ {
			l.safeExecute(l.batchBuf[i])
			l.batchBuf[i] = Task{}
		}

		if l.metricsEnabled {
			l.metrics.Queue.UpdateIngress(remaining)
		}

		if n == 0 {
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			if remaining > 0 && l.onOverload != nil {
				l.onOverload(ErrLoopOverloaded)
			}
			return
		}
	}
}

// promoteDueTimers pops every scheduled task whose fire time has passed
// and pushes it onto the task FIFO, rescheduling fixed-rate tasks for
// their next interval.
func (l *Loop) promoteDueTimers() {
	now := l.CurrentTickTime()
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		t := heap.Pop(&l.timers).(timer)
		l.timerCount.Add(-1)

		if t.sched.Canceled() {
			continue
		}

		fn := t.task.Runnable
		sched := t.sched
		if t.periodic {
			interval := t.interval
			l.tasksMu.Lock()
			l.tasks.Push(Task{Runnable: func() {
				if sched.Canceled() {
					return
				}
				fn()
			}})
			l.tasksMu.Unlock()
			heap.Push(&l.timers, timer{when: t.when.Add(interval), task: t.task, sched: sched, periodic: true, interval: interval})
			l.timerCount.Add(1)
			continue
		}

		l.tasksMu.Lock()
		l.tasks.Push(Task{Runnable: fn})
		l.tasksMu.Unlock()
	}
}

// poll blocks for I/O readiness (or the nearest scheduled task deadline,
// whichever is sooner) and dispatches ready file descriptors inline via
// the poller's registered callbacks.
func (l *Loop) poll() {
	if l.state.Load() != StateRunning {
		return
	}

	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	l.tasksMu.Lock()
	pending := l.tasks.Length()
	l.tasksMu.Unlock()

	if pending > 0 {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	if l.state.Load() == StateTerminating {
		return
	}

	timeout := l.calculateTimeout()
	_, err := l.poller.PollIO(timeout)
	if err != nil {
		l.handlePollError(err)
		return
	}

	l.state.TryTransition(StateSleeping, StateRunning)
}

// handlePollError reports a fatal poller error and begins loop
// termination; a failed poller cannot be trusted to deliver I/O events.
func (l *Loop) handlePollError(err error) {
	LogPollIOError(int64(l.id), err, true)
	if l.state.TryTransition(StateSleeping, StateTerminating) {
		l.drainOnShutdown()
	}
}

// calculateTimeout computes the poll timeout in milliseconds: capped at
// 10s, and capped further by the nearest scheduled task's fire time.
func (l *Loop) calculateTimeout() int {
	maxDelay := defaultPollTimeout

	if len(l.timers) > 0 {
		delay := l.timers[0].when.Sub(time.Now())
		if delay < 0 {
			delay = 0
		}
		if delay < maxDelay {
			maxDelay = delay
		}
	}

	if maxDelay > 0 && maxDelay < time.Millisecond {
		return 1
	}
	return int(maxDelay.Milliseconds())
}

// drainOnShutdown runs after the loop leaves its run() select loop: it
// keeps executing due timers and queued tasks until both are empty for
// several consecutive checks, then closes the poller and wake pipe.
func (l *Loop) drainOnShutdown() {
	l.state.Store(StateTerminated)

	emptyChecks := 0
	const requiredEmptyChecks = 3
	for emptyChecks < requiredEmptyChecks {
		drained := false

		l.promoteDueTimers()

		for {
			l.tasksMu.Lock()
			task, ok := l.tasks.Pop()
			l.tasksMu.Unlock()
			if !ok {
				break
			}
			l.safeExecute(task)
			drained = true
		}

		if drained {
			emptyChecks = 0
		} else {
			emptyChecks++
			runtime.Gosched()
		}
	}

	l.closeFDs()
}

// Submit enqueues a task for execution on the loop goroutine. Safe to
// call from any goroutine, including the loop's own. Submission is
// allowed during StateTerminating so in-flight work can still drain, and
// rejected only once the loop has fully stopped.
func (l *Loop) Submit(task Task) error {
	l.tasksMu.Lock()
	if l.state.Load() == StateTerminated {
		l.tasksMu.Unlock()
		return ErrLoopTerminated
	}
	l.tasks.Push(task)
	l.tasksMu.Unlock()

	if l.state.Load() == StateSleeping {
		if l.wakeUpSignalPending.CompareAndSwap(0, 1) {
			l.doWakeup()
		}
	}
	return nil
}

// SubmitBatch enqueues every task in tasks under a single tasksMu
// acquisition, cutting lock contention relative to calling Submit once
// per task — intended for fan-out call sites like an accept loop handing
// off a burst of newly-accepted connections.
func (l *Loop) SubmitBatch(tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	l.tasksMu.Lock()
	if l.state.Load() == StateTerminated {
		l.tasksMu.Unlock()
		return ErrLoopTerminated
	}
	for _, task := range tasks {
		l.tasks.Push(task)
	}
	l.tasksMu.Unlock()

	if l.state.Load() == StateSleeping {
		if l.wakeUpSignalPending.CompareAndSwap(0, 1) {
			l.doWakeup()
		}
	}
	return nil
}

// Schedule submits task to run once, after delay has elapsed, on the
// loop goroutine. The returned [ScheduledTask] can be used to cancel it
// before it fires.
func (l *Loop) Schedule(delay time.Duration, fn func()) (*ScheduledTask, error) {
	return l.scheduleTimer(delay, 0, false, fn)
}

// ScheduleAtFixedRate submits task to run every interval, starting after
// the first interval has elapsed, until canceled.
func (l *Loop) ScheduleAtFixedRate(interval time.Duration, fn func()) (*ScheduledTask, error) {
	return l.scheduleTimer(interval, interval, true, fn)
}

func (l *Loop) scheduleTimer(delay, interval time.Duration, periodic bool, fn func()) (*ScheduledTask, error) {
	sched := &ScheduledTask{id: l.nextScheduleID.Add(1)}
	when := l.CurrentTickTime().Add(delay)
	err := l.Submit(Task{Runnable: func() {
		heap.Push(&l.timers, timer{when: when, task: Task{Runnable: fn}, sched: sched, periodic: periodic, interval: interval})
		l.timerCount.Add(1)
	}})
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// RegisterFD registers fd for I/O readiness notification. events
// determine which readiness conditions invoke callback; callback is
// always invoked on the loop goroutine.
func (l *Loop) RegisterFD(fd int, events IOEvents, callback func(events IOEvents)) error {
	err := l.poller.RegisterFD(fd, events, callback)
	if err == nil {
		l.userIOFDCount.Add(1)
		if l.state.Load() == StateSleeping {
			l.doWakeup()
		}
	}
	return err
}

// UnregisterFD removes fd from I/O readiness monitoring.
func (l *Loop) UnregisterFD(fd int) error {
	err := l.poller.UnregisterFD(fd)
	if err == nil {
		l.userIOFDCount.Add(-1)
	}
	return err
}

// ModifyFD updates the readiness events monitored for fd.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.ModifyFD(fd, events)
}

// Shutdown initiates termination and blocks until the loop has drained
// its queues and stopped, or ctx is done first.
func (l *Loop) Shutdown(ctx context.Context) error {
	var result error
	l.stopOnce.Do(func() {
		result = l.shutdownImpl(ctx)
	})
	if result == nil && l.state.Load() != StateTerminated {
		return ErrLoopTerminated
	}
	return result
}

func (l *Loop) shutdownImpl(ctx context.Context) error {
	for {
		current := l.state.Load()
		if current == StateTerminated || current == StateTerminating {
			return ErrLoopTerminated
		}
		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				l.state.Store(StateTerminated)
				l.closeFDs()
				return nil
			}
			l.doWakeup()
			break
		}
	}

	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownGracefully requests termination but first waits for quietPeriod
// of inactivity (no pending tasks or due timers) so in-flight work can
// settle, bounded overall by timeout. It then performs the same drain and
// stop as Shutdown.
func (l *Loop) ShutdownGracefully(quietPeriod, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	pollInterval := quietPeriod / 10
	if pollInterval <= 0 || pollInterval > 5*time.Millisecond {
		pollInterval = 5 * time.Millisecond
	}

	for time.Now().Before(deadline) {
		idleSince := time.Now()
		quiet := true
		for time.Since(idleSince) < quietPeriod {
			if l.hasPendingWork() {
				quiet = false
				break
			}
			if time.Now().After(deadline) {
				break
			}
			time.Sleep(pollInterval)
		}
		if quiet && !l.hasPendingWork() {
			break
		}
	}

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()
	return l.Shutdown(ctx)
}

// hasPendingWork reports whether the loop currently has queued tasks or
// pending scheduled tasks, for use by ShutdownGracefully's quiet-period
// check from outside the loop goroutine.
func (l *Loop) hasPendingWork() bool {
	l.tasksMu.Lock()
	n := l.tasks.Length()
	l.tasksMu.Unlock()
	return n > 0 || l.timerCount.Load() > 0
}

// Close immediately terminates the loop without waiting for queued tasks
// to drain gracefully; pending tasks still run once during the shutdown
// sequence, but no new quiet period is observed.
func (l *Loop) Close() error {
	for {
		current := l.state.Load()
		if current == StateTerminated {
			return ErrLoopTerminated
		}
		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				l.state.Store(StateTerminated)
				l.closeFDs()
				return nil
			}
			if current == StateSleeping {
				l.doWakeup()
			}
			return nil
		}
	}
}

// doWakeup unblocks a loop currently parked in PollIO.
func (l *Loop) doWakeup() {
	if l.wakePipe >= 0 {
		_ = writeFD(l.wakePipeWrite, l.wakeBuf[:])
		return
	}
	_ = l.windowsWakeup()
}

// drainWakeUpPipe drains the wake self-pipe and clears the wakeup
// dedup flag. Invoked as the wake FD's poller callback.
func (l *Loop) drainWakeUpPipe() {
	for {
		n, err := readFD(l.wakePipe, l.wakeBuf[:])
		if err != nil || n <= 0 {
			break
		}
	}
	l.wakeUpSignalPending.Store(0)
}

// advanceTickAnchor refreshes the monotonic elapsed-time offset used by
// CurrentTickTime, based on the monotonic clock reading captured when
// Run started.
func (l *Loop) advanceTickAnchor() {
	l.tickAnchorMu.RLock()
	anchor := l.tickAnchor
	l.tickAnchorMu.RUnlock()
	l.tickElapsedTime.Store(int64(time.Since(anchor)))
}

// CurrentTickTime returns the cached time for the current tick, derived
// from a monotonic anchor so timer math is unaffected by wall-clock
// adjustments (e.g. NTP).
func (l *Loop) CurrentTickTime() time.Time {
	l.tickAnchorMu.RLock()
	anchor := l.tickAnchor
	l.tickAnchorMu.RUnlock()
	if anchor.IsZero() {
		return time.Now()
	}
	return anchor.Add(time.Duration(l.tickElapsedTime.Load()))
}

// SetTickAnchor overrides the tick anchor; exposed for deterministic
// timer tests.
func (l *Loop) SetTickAnchor(t time.Time) {
	l.tickAnchorMu.Lock()
	l.tickAnchor = t
	l.tickAnchorMu.Unlock()
	l.tickElapsedTime.Store(0)
}

// TickAnchor returns the current tick anchor; exposed for tests.
func (l *Loop) TickAnchor() time.Time {
	l.tickAnchorMu.RLock()
	defer l.tickAnchorMu.RUnlock()
	return l.tickAnchor
}

// safeExecute runs a task's Runnable with panic recovery, reporting any
// panic through the configured Logger as a PanicError instead of
// crashing the loop goroutine.
func (l *Loop) safeExecute(t Task) {
	if t.Runnable == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			stack = stack[:runtime.Stack(stack, false)]
			LogTaskPanicked(int64(l.id), 0, r, stack)
		}
	}()
	t.Runnable()
}

// closeFDs closes the poller and wake pipe exactly once.
func (l *Loop) closeFDs() {
	l.closeOnce.Do(func() {
		_ = l.poller.Close()
		_ = closeWakeFd(l.wakePipe, l.wakePipeWrite)
	})
}

// isLoopThread reports whether the calling goroutine is this loop's
// goroutine.
func (l *Loop) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// getGoroutineID parses the current goroutine's ID out of a runtime
// stack trace. Used only for the InEventLoop thread-affinity check; not
// on any hot path.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
