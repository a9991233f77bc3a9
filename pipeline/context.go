package pipeline

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/joeycumines/netreactor/eventloop"
)

type contextState int32

const (
	stateAddPending contextState = iota
	stateAddComplete
	stateRemoveComplete
)

// Context is one interior node of a Pipeline's doubly-linked handler
// list. Its prev/next pointers are atomic so that a handler removing
// itself mid-propagation can relink safely while a concurrent fire is
// about to read "next" after the handler returns, per the pipeline's
// add/remove-during-propagation invariant.
type Context struct {
	name     string
	handler  Handler
	pipeline *Pipeline
	executor *eventloop.Loop // nil means the channel's own loop
	state    atomic.Int32

	prev atomic.Pointer[Context]
	next atomic.Pointer[Context]
}

func newContext(name string, handler Handler, pipeline *Pipeline, executor *eventloop.Loop) *Context {
	c := &Context{name: name, handler: handler, pipeline: pipeline, executor: executor}
	c.state.Store(int32(stateAddPending))
	return c
}

func (c *Context) Name() string         { return c.name }
func (c *Context) Pipeline() *Pipeline  { return c.pipeline }
func (c *Context) Handler() Handler     { return c.handler }

// loop returns the executor events on this context run on: the
// context's own executor if assigned, otherwise the pipeline's
// channel's loop.
func (c *Context) loop() *eventloop.Loop {
	if c.executor != nil {
		return c.executor
	}
	return c.pipeline.loop
}

// runInline runs fn now if the calling goroutine is already on this
// context's executor, otherwise re-enqueues it there — the sole
// integration path for handlers on an offloaded executor.
func (c *Context) runInline(fn func()) {
	loop := c.loop()
	if loop == nil || loop.InEventLoop() {
		fn()
		return
	}
	_ = loop.Submit(eventloop.Task{Runnable: fn})
}

func (c *Context) recoverToException(phase string) {
	if r := recover(); r != nil {
		err := fmt.Errorf("pipeline: %s: %v", phase, r)
		c.FireExceptionCaught(err)
	}
}

// --- inbound propagation: head -> tail ---

func nextInbound(c *Context) *Context { return c.next.Load() }

func (c *Context) FireChannelRegistered() {
	n := nextInbound(c)
	n.runInline(func() {
		defer n.recoverToException("ChannelRegistered")
		n.handler.ChannelRegistered(n)
	})
}

func (c *Context) FireChannelActive() {
	n := nextInbound(c)
	n.runInline(func() {
		defer n.recoverToException("ChannelActive")
		n.handler.ChannelActive(n)
	})
}

func (c *Context) FireChannelRead(msg any) {
	n := nextInbound(c)
	n.runInline(func() {
		defer n.recoverToException("ChannelRead")
		n.handler.ChannelRead(n, msg)
	})
}

func (c *Context) FireChannelReadComplete() {
	n := nextInbound(c)
	n.runInline(func() {
		defer n.recoverToException("ChannelReadComplete")
		n.handler.ChannelReadComplete(n)
	})
}

func (c *Context) FireUserEventTriggered(evt any) {
	n := nextInbound(c)
	n.runInline(func() {
		defer n.recoverToException("UserEventTriggered")
		n.handler.UserEventTriggered(n, evt)
	})
}

func (c *Context) FireChannelWritabilityChanged() {
	n := nextInbound(c)
	n.runInline(func() {
		defer n.recoverToException("ChannelWritabilityChanged")
		n.handler.ChannelWritabilityChanged(n)
	})
}

func (c *Context) FireChannelInactive() {
	n := nextInbound(c)
	n.runInline(func() {
		defer n.recoverToException("ChannelInactive")
		n.handler.ChannelInactive(n)
	})
}

func (c *Context) FireChannelUnregistered() {
	n := nextInbound(c)
	n.runInline(func() {
		defer n.recoverToException("ChannelUnregistered")
		n.handler.ChannelUnregistered(n)
	})
}

// FireExceptionCaught propagates inbound; an exception reaching the
// tail sentinel is logged once and dropped.
func (c *Context) FireExceptionCaught(err error) {
	n := nextInbound(c)
	n.runInline(func() {
		n.handler.ExceptionCaught(n, err)
	})
}

// --- outbound propagation: tail -> head ---

func prevOutbound(c *Context) *Context { return c.prev.Load() }

func (c *Context) Bind(addr net.Addr, promise *Promise) {
	p := prevOutbound(c)
	p.runInline(func() { p.handler.Bind(p, addr, promise) })
}

func (c *Context) Connect(addr net.Addr, promise *Promise) {
	p := prevOutbound(c)
	p.runInline(func() { p.handler.Connect(p, addr, promise) })
}

func (c *Context) Disconnect(promise *Promise) {
	p := prevOutbound(c)
	p.runInline(func() { p.handler.Disconnect(p, promise) })
}

func (c *Context) Close(promise *Promise) {
	p := prevOutbound(c)
	p.runInline(func() { p.handler.Close(p, promise) })
}

func (c *Context) Deregister(promise *Promise) {
	p := prevOutbound(c)
	p.runInline(func() { p.handler.Deregister(p, promise) })
}

func (c *Context) Read() {
	p := prevOutbound(c)
	p.runInline(func() { p.handler.Read(p) })
}

// Write completes promise with a terminal failure instead of panicking
// if the handler errors, per the outbound failure model: "an uncaught
// error from an outbound handler is returned via the write's promise."
func (c *Context) Write(msg any, promise *Promise) {
	p := prevOutbound(c)
	p.runInline(func() {
		defer func() {
			if r := recover(); r != nil {
				promise.Fail(fmt.Errorf("pipeline: write: %v", r))
			}
		}()
		p.handler.Write(p, msg, promise)
	})
}

func (c *Context) Flush() {
	p := prevOutbound(c)
	p.runInline(func() { p.handler.Flush(p) })
}

// WriteAndFlush is Write followed by Flush, returning a promise
// completed once the write reaches the socket (or fails).
func (c *Context) WriteAndFlush(msg any) *Promise {
	promise := NewPromise()
	c.Write(msg, promise)
	c.Flush()
	return promise
}
