// Package batch coalesces many small submissions into fewer, larger
// units of work, adapted from a standalone batching package in the wider
// corpus for use by eventloop.Loop.SubmitBatch: many goroutines racing to
// submit single tasks get folded into one FIFO append per flush instead
// of one lock acquisition per task.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Processor runs a batch. Any returned error is surfaced to every
// submitter of that batch via Result.Wait.
type Processor[Job any] func(ctx context.Context, jobs []Job) error

// Config holds optional Batcher tuning. The zero value is valid.
type Config struct {
	// MaxSize caps jobs per batch, if positive. Defaults to 16.
	MaxSize int
	// FlushInterval bounds how long an incomplete batch waits before
	// being flushed anyway, if positive. Defaults to 50ms.
	FlushInterval time.Duration
}

type (
	// Batcher accepts jobs and groups them into batches for Processor.
	Batcher[Job any] struct {
		processor     Processor[Job]
		maxSize       int
		flushInterval time.Duration

		ctx    context.Context
		cancel context.CancelFunc

		done     chan struct{}
		stopped  chan struct{}
		stopOnce sync.Once

		jobCh   chan Job
		batchCh chan *state[Job]
		state   *state[Job]
	}

	state[Job any] struct {
		err  error
		done chan struct{}
		jobs []Job
	}

	// Result is a handle to a submitted job's eventual batch outcome.
	Result[Job any] struct {
		Job   Job
		batch *state[Job]
	}
)

// NewBatcher starts a Batcher immediately; call Close or Shutdown when
// done with it.
func NewBatcher[Job any](cfg Config, processor Processor[Job]) *Batcher[Job] {
	if processor == nil {
		panic("batch: nil processor")
	}

	b := &Batcher[Job]{
		processor:     processor,
		maxSize:       16,
		flushInterval: 50 * time.Millisecond,
		state:         newState[Job](),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
		jobCh:         make(chan Job),
		batchCh:       make(chan *state[Job]),
	}
	if cfg.MaxSize != 0 {
		b.maxSize = cfg.MaxSize
	}
	if cfg.FlushInterval != 0 {
		b.flushInterval = cfg.FlushInterval
	}
	if b.maxSize <= 0 && b.flushInterval <= 0 {
		panic("batch: one of MaxSize or FlushInterval must be enabled")
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	go b.run()
	return b
}

// Submit schedules job, blocking until it has been accepted into a
// pending batch (not until the batch runs — use Result.Wait for that).
func (b *Batcher[Job]) Submit(ctx context.Context, job Job) (*Result[Job], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.ctx.Done():
		return nil, b.ctx.Err()
	case <-b.stopped:
		return nil, context.Canceled
	case b.jobCh <- job:
		batch := <-b.batchCh
		return &Result[Job]{Job: job, batch: batch}, nil
	}
}

// Wait blocks until the batch this job was placed in has run.
func (r *Result[Job]) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.batch.done:
		return r.batch.err
	}
}

// Close cancels any in-flight batch and stops accepting new jobs.
func (b *Batcher[Job]) Close() error {
	b.cancel()
	<-b.done
	return nil
}

// Shutdown stops accepting new jobs and waits for already-accepted
// batches to finish, or until ctx is done.
func (b *Batcher[Job]) Shutdown(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stopped) })
	select {
	case <-ctx.Done():
		b.cancel()
		<-b.done
		return ctx.Err()
	case <-b.done:
		return nil
	}
}

func (b *Batcher[Job]) run() {
	defer close(b.done)
	defer b.cancel()

	var wg sync.WaitGroup
	wg.Add(1)

	runBatch := func() {
		if len(b.state.jobs) == 0 {
			return
		}
		batch := b.state
		b.state = newState[Job]()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = batch.run(b.ctx, b.processor)
		}()
	}

	var wait func()
	wait = func() {
		wait = nil
		runBatch()
		wg.Done()
		wg.Wait()
	}
	defer func() {
		b.cancel()
		if wait != nil {
			wait()
		}
	}()

	flushCh := make(chan *state[Job])

	for {
		select {
		case <-b.ctx.Done():
			return

		case <-b.stopped:
			wait()
			return

		case job := <-b.jobCh:
			b.batchCh <- b.state
			b.state.jobs = append(b.state.jobs, job)

			if b.maxSize > 0 && len(b.state.jobs) >= b.maxSize {
				runBatch()
			} else if b.flushInterval > 0 && len(b.state.jobs) == 1 {
				pending := b.state
				timer := time.NewTimer(b.flushInterval)
				go func() {
					defer timer.Stop()
					select {
					case <-b.ctx.Done():
					case <-b.stopped:
					case <-pending.done:
					case <-timer.C:
						select {
						case <-b.ctx.Done():
						case <-b.stopped:
						case <-pending.done:
						case flushCh <- pending:
						}
					}
				}()
			}

		case pending := <-flushCh:
			if pending == b.state {
				runBatch()
			}
		}
	}
}

func newState[Job any]() *state[Job] {
	return &state[Job]{done: make(chan struct{})}
}

func (s *state[Job]) run(ctx context.Context, processor Processor[Job]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.err = errors.New("batch: panic in Processor")
	defer close(s.done)

	s.err = processor(ctx, s.jobs)
	return s.err
}
