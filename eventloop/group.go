package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrGroupClosed is returned by Register once the owning group has begun
// shutting down.
var ErrGroupClosed = errors.New("eventloop: group is shutting down")

// Registrant is anything that can be bound permanently to one Loop for its
// lifetime (typically a channel). Kept as a minimal interface here so the
// eventloop package never imports the channel package that implements it.
type Registrant interface {
	// BindLoop is invoked exactly once, on the chosen loop's own goroutine,
	// with the Loop the registrant is now permanently bound to.
	BindLoop(loop *Loop)
}

// Chooser selects which loop in a group a new registration binds to.
type Chooser interface {
	Next(loops []*Loop) *Loop
}

// roundRobinChooser cycles through loops in order. When the loop count is a
// power of two, index masking replaces the modulo division.
type roundRobinChooser struct {
	counter atomic.Uint64
}

func (c *roundRobinChooser) Next(loops []*Loop) *Loop {
	n := uint64(len(loops))
	i := c.counter.Add(1) - 1
	if n&(n-1) == 0 {
		return loops[i&(n-1)]
	}
	return loops[i%n]
}

// Group is a fixed-size pool of loops sharing one chooser: registration
// binds a Registrant to exactly one member loop for its lifetime, and
// shutdown fans out to every member.
type Group struct {
	loops   []*Loop
	chooser Chooser
	closed  atomic.Bool

	runWG sync.WaitGroup
}

// GroupOption configures a Group at construction.
type GroupOption func(*groupConfig)

type groupConfig struct {
	chooser Chooser
	loopOpts []LoopOption
}

// WithChooser overrides the default round-robin chooser.
func WithChooser(c Chooser) GroupOption {
	return func(cfg *groupConfig) { cfg.chooser = c }
}

// WithGroupLoopOptions applies LoopOption values to every loop the group
// creates.
func WithGroupLoopOptions(opts ...LoopOption) GroupOption {
	return func(cfg *groupConfig) { cfg.loopOpts = append(cfg.loopOpts, opts...) }
}

// NewGroup creates size loops, each started on its own goroutine
// immediately, bound together under one chooser.
func NewGroup(ctx context.Context, size int, opts ...GroupOption) (*Group, error) {
	if size <= 0 {
		return nil, errors.New("eventloop: group size must be positive")
	}

	cfg := &groupConfig{chooser: &roundRobinChooser{}}
	for _, opt := range opts {
		opt(cfg)
	}

	g := &Group{chooser: cfg.chooser}
	for i := 0; i < size; i++ {
		loop, err := New(cfg.loopOpts...)
		if err != nil {
			_ = g.shutdownPartial()
			return nil, err
		}
		g.loops = append(g.loops, loop)
	}

	g.runWG.Add(len(g.loops))
	for _, loop := range g.loops {
		loop := loop
		go func() {
			defer g.runWG.Done()
			_ = loop.Run(ctx)
		}()
	}

	return g, nil
}

func (g *Group) shutdownPartial() error {
	for _, loop := range g.loops {
		_ = loop.Close()
	}
	return nil
}

// Next returns the loop the configured chooser selects, without binding
// anything to it. Exposed for callers that need the loop reference ahead
// of constructing the registrant.
func (g *Group) Next() *Loop {
	return g.chooser.Next(g.loops)
}

// Register permanently binds r to a loop chosen by the group's Chooser,
// invoking r.BindLoop on that loop's own goroutine. Re-registration to a
// different loop is not supported by Group itself — the caller must
// deregister from the old loop and call Register again.
func (g *Group) Register(r Registrant) (*Loop, error) {
	if g.closed.Load() {
		return nil, ErrGroupClosed
	}
	loop := g.chooser.Next(g.loops)
	if err := loop.Submit(Task{Runnable: func() {
		r.BindLoop(loop)
	}}); err != nil {
		return nil, err
	}
	return loop, nil
}

// RegisterOn binds r to a caller-chosen loop, bypassing the chooser.
// Intended for registrants that must be constructed with their loop
// reference already fixed (a channel builds its pipeline with a
// specific *Loop at construction time, since pipeline dispatch is not
// safe to rebind afterwards) — the caller picks the loop via Next(),
// builds the registrant against it, then calls RegisterOn with that
// same loop so the two never disagree.
func (g *Group) RegisterOn(loop *Loop, r Registrant) error {
	if g.closed.Load() {
		return ErrGroupClosed
	}
	return loop.Submit(Task{Runnable: func() {
		r.BindLoop(loop)
	}})
}

// Loops returns the group's member loops. The returned slice must not be
// mutated by the caller.
func (g *Group) Loops() []*Loop {
	return g.loops
}

// ShutdownGracefully fans quietPeriod/timeout out to every member loop and
// waits for all of them to finish, aggregating the first non-nil error.
func (g *Group) ShutdownGracefully(quietPeriod, timeout time.Duration) error {
	g.closed.Store(true)

	errs := make([]error, len(g.loops))
	var wg sync.WaitGroup
	wg.Add(len(g.loops))
	for i, loop := range g.loops {
		i, loop := i, loop
		go func() {
			defer wg.Done()
			errs[i] = loop.ShutdownGracefully(quietPeriod, timeout)
		}()
	}
	wg.Wait()
	g.runWG.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
