package pipeline

import (
	"fmt"
	"net"
	"sync"

	"github.com/joeycumines/netreactor/eventloop"
)

// ErrNameInUse is a programmer error: a handler name collided with
// one already present in the pipeline.
type ErrNameInUse struct{ Name string }

func (e *ErrNameInUse) Error() string { return fmt.Sprintf("pipeline: name already in use: %q", e.Name) }

// ErrHandlerNotSharable is a programmer error: a non-sharable handler
// was added to more than one pipeline.
type ErrHandlerNotSharable struct{ Name string }

func (e *ErrHandlerNotSharable) Error() string {
	return fmt.Sprintf("pipeline: handler %q is not sharable but already belongs to a pipeline", e.Name)
}

// ErrHandlerNotFound names a remove/replace target that does not
// exist in the pipeline.
type ErrHandlerNotFound struct{ Name string }

func (e *ErrHandlerNotFound) Error() string { return fmt.Sprintf("pipeline: handler not found: %q", e.Name) }

type releasable interface{ Release() bool }

// sharableGuard tracks which non-sharable handlers currently belong
// to a pipeline, keyed by handler identity (interface values holding
// a pointer receiver compare by pointer). Entries are removed on
// Remove/Replace so a handler may be reused in a different pipeline
// once it leaves its current one.
var sharableGuard sync.Map // Handler -> struct{}

// Pipeline is a doubly-linked list of handler contexts with immutable
// head and tail sentinels: head dispatches outbound events to the
// owning channel, tail provides inbound fall-through (releasing
// unhandled reference-counted messages, logging unhandled
// exceptions). Structural mutation (AddFirst/AddLast/...) is
// serialized by mu: off-loop callers queue through the channel's
// loop, on-loop callers run directly, matching the channel's
// "runs-immediately-if-on-loop, enqueues-otherwise" thread boundary.
type Pipeline struct {
	driver ChannelDriver
	loop   *eventloop.Loop
	logger eventloop.Logger

	mu    sync.Mutex
	names map[string]*Context
	head  *Context
	tail  *Context
}

// New builds a pipeline whose head dispatches outbound I/O to driver
// and whose default executor (for contexts with no explicit one) is
// loop.
func New(driver ChannelDriver, loop *eventloop.Loop, logger eventloop.Logger) *Pipeline {
	p := &Pipeline{driver: driver, loop: loop, logger: logger, names: make(map[string]*Context)}
	p.head = newContext("head", &headHandler{driver: driver}, p, nil)
	p.tail = newContext("tail", &tailHandler{pipeline: p}, p, nil)
	p.head.state.Store(int32(stateAddComplete))
	p.tail.state.Store(int32(stateAddComplete))
	p.head.next.Store(p.tail)
	p.tail.prev.Store(p.head)
	return p
}

func (p *Pipeline) runStructural(fn func() error) error {
	if p.loop == nil || p.loop.InEventLoop() {
		p.mu.Lock()
		defer p.mu.Unlock()
		return fn()
	}
	errCh := make(chan error, 1)
	if err := p.loop.Submit(eventloop.Task{Runnable: func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		errCh <- fn()
	}}); err != nil {
		return err
	}
	return <-errCh
}

func (p *Pipeline) AddFirst(name string, handler Handler) error {
	return p.runStructural(func() error { return p.addBetween(name, handler, nil, p.head, p.head.next.Load()) })
}

func (p *Pipeline) AddLast(name string, handler Handler) error {
	return p.runStructural(func() error { return p.addBetween(name, handler, nil, p.tail.prev.Load(), p.tail) })
}

func (p *Pipeline) AddBefore(baseName, name string, handler Handler) error {
	return p.runStructural(func() error {
		base, ok := p.names[baseName]
		if !ok {
			return &ErrHandlerNotFound{Name: baseName}
		}
		return p.addBetween(name, handler, nil, base.prev.Load(), base)
	})
}

func (p *Pipeline) AddAfter(baseName, name string, handler Handler) error {
	return p.runStructural(func() error {
		base, ok := p.names[baseName]
		if !ok {
			return &ErrHandlerNotFound{Name: baseName}
		}
		return p.addBetween(name, handler, nil, base, base.next.Load())
	})
}

// addBetween links a new context for handler between prev and next.
// Caller holds mu (directly, or via runStructural's on-loop path).
func (p *Pipeline) addBetween(name string, handler Handler, executor *eventloop.Loop, prev, next *Context) error {
	if _, exists := p.names[name]; exists {
		return &ErrNameInUse{Name: name}
	}
	if !handler.Sharable() {
		if _, alreadyAdded := sharableGuard.LoadOrStore(handler, struct{}{}); alreadyAdded {
			return &ErrHandlerNotSharable{Name: name}
		}
	}

	ctx := newContext(name, handler, p, executor)
	ctx.prev.Store(prev)
	ctx.next.Store(next)
	prev.next.Store(ctx)
	next.prev.Store(ctx)
	p.names[name] = ctx

	ctx.runInline(func() {
		handler.HandlerAdded(ctx)
		ctx.state.Store(int32(stateAddComplete))
	})
	return nil
}

// Remove unlinks the named context, re-reading its successor only
// after handlerRemoved returns so a handler removing a *different*
// context mid-callback still observes a consistent chain.
func (p *Pipeline) Remove(name string) error {
	return p.runStructural(func() error {
		ctx, ok := p.names[name]
		if !ok {
			return &ErrHandlerNotFound{Name: name}
		}
		return p.remove(ctx)
	})
}

func (p *Pipeline) remove(ctx *Context) error {
	prev, next := ctx.prev.Load(), ctx.next.Load()
	prev.next.Store(next)
	next.prev.Store(prev)
	delete(p.names, ctx.name)
	if !ctx.handler.Sharable() {
		sharableGuard.Delete(ctx.handler)
	}

	ctx.runInline(func() {
		ctx.handler.HandlerRemoved(ctx)
		ctx.state.Store(int32(stateRemoveComplete))
	})
	return nil
}

// Replace swaps the named context's handler for a new one under the
// same name, running the old handler's HandlerRemoved and the new
// one's HandlerAdded.
func (p *Pipeline) Replace(name string, handler Handler) error {
	return p.runStructural(func() error {
		old, ok := p.names[name]
		if !ok {
			return &ErrHandlerNotFound{Name: name}
		}
		prev, next := old.prev.Load(), old.next.Load()
		if err := p.remove(old); err != nil {
			return err
		}
		return p.addBetween(name, handler, old.executor, prev, next)
	})
}

// Head/Tail expose the sentinel contexts so callers can start a fire
// from the very beginning/end of the chain (used by the channel when
// an I/O event first occurs).
func (p *Pipeline) Head() *Context { return p.head }
func (p *Pipeline) Tail() *Context { return p.tail }

func (p *Pipeline) FireChannelRegistered()          { p.head.FireChannelRegistered() }
func (p *Pipeline) FireChannelActive()              { p.head.FireChannelActive() }
func (p *Pipeline) FireChannelRead(msg any)         { p.head.FireChannelRead(msg) }
func (p *Pipeline) FireChannelReadComplete()        { p.head.FireChannelReadComplete() }
func (p *Pipeline) FireUserEventTriggered(evt any)  { p.head.FireUserEventTriggered(evt) }
func (p *Pipeline) FireChannelWritabilityChanged()  { p.head.FireChannelWritabilityChanged() }
func (p *Pipeline) FireChannelInactive()            { p.head.FireChannelInactive() }
func (p *Pipeline) FireChannelUnregistered()        { p.head.FireChannelUnregistered() }
func (p *Pipeline) FireExceptionCaught(err error)   { p.head.FireExceptionCaught(err) }

func (p *Pipeline) WriteAndFlush(msg any) *Promise { return p.tail.WriteAndFlush(msg) }
func (p *Pipeline) Bind(addr net.Addr) *Promise {
	promise := NewPromise()
	p.tail.Bind(addr, promise)
	return promise
}
func (p *Pipeline) Connect(addr net.Addr) *Promise {
	promise := NewPromise()
	p.tail.Connect(addr, promise)
	return promise
}
func (p *Pipeline) Close() *Promise {
	promise := NewPromise()
	p.tail.Close(promise)
	return promise
}

// Read signals read intent outbound to the channel, the backpressure
// primitive alongside write/flush/close.
func (p *Pipeline) Read() { p.tail.Read() }

// --- sentinels ---

type headHandler struct {
	BaseHandler
	driver ChannelDriver
}

func (h *headHandler) Bind(ctx *Context, addr net.Addr, promise *Promise) { h.driver.DoBind(addr, promise) }
func (h *headHandler) Connect(ctx *Context, addr net.Addr, promise *Promise) {
	h.driver.DoConnect(addr, promise)
}
func (h *headHandler) Disconnect(ctx *Context, promise *Promise) { h.driver.DoDisconnect(promise) }
func (h *headHandler) Close(ctx *Context, promise *Promise)      { h.driver.DoClose(promise) }
func (h *headHandler) Deregister(ctx *Context, promise *Promise) { h.driver.DoDeregister(promise) }
func (h *headHandler) Read(ctx *Context)                         { h.driver.DoRead() }
func (h *headHandler) Write(ctx *Context, msg any, promise *Promise) {
	h.driver.DoWrite(msg, promise)
}
func (h *headHandler) Flush(ctx *Context) { h.driver.DoFlush() }

type tailHandler struct {
	BaseHandler
	pipeline *Pipeline
}

// The tail is the inbound chain's terminus: every entry point below
// is a sink rather than BaseHandler's propagate-onward default, since
// there is no context beyond the tail to propagate to.
func (h *tailHandler) ChannelRegistered(ctx *Context)         {}
func (h *tailHandler) ChannelActive(ctx *Context)             {}
func (h *tailHandler) ChannelReadComplete(ctx *Context)       {}
func (h *tailHandler) UserEventTriggered(ctx *Context, evt any) {}
func (h *tailHandler) ChannelWritabilityChanged(ctx *Context) {}
func (h *tailHandler) ChannelInactive(ctx *Context)           {}
func (h *tailHandler) ChannelUnregistered(ctx *Context)       {}

func (h *tailHandler) ChannelRead(ctx *Context, msg any) {
	if r, ok := msg.(releasable); ok {
		r.Release()
	}
}

func (h *tailHandler) ExceptionCaught(ctx *Context, err error) {
	if h.pipeline.logger != nil && h.pipeline.logger.IsEnabled(eventloop.LevelError) {
		h.pipeline.logger.Log(eventloop.LogEntry{
			Level:   eventloop.LevelError,
			Message: "unhandled exception reached pipeline tail",
			Err:     err,
		})
	}
}
