// Package channel implements the per-connection object holding the
// FD, its interest set, its pipeline, its outbound queue, and
// writability state, with every mutation confined to its bound loop.
package channel

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/joeycumines/netreactor/buffer"
	"github.com/joeycumines/netreactor/eventloop"
	"github.com/joeycumines/netreactor/pipeline"
)

// coreWritabilityBit is the writability-mask bit the water-mark
// hysteresis owns; handlers above the core may flip any other bit via
// SetWritable. writable is the AND of every bit, which this package
// represents as "the mask is zero".
const coreWritabilityBit = uint32(1)

// Channel is the reactor's per-connection object. Every field below
// StateIdle is touched exclusively by the loop goroutine c is bound
// to, a single-thread discipline; cross-goroutine calls arrive only
// through the pipeline's outbound chain, which funnels onto the loop
// via Context.runInline.
type Channel struct {
	loop     *eventloop.Loop
	pipeline *pipeline.Pipeline
	alloc    *buffer.Allocator

	sock         socket
	fdRegistered bool
	writeArmed   bool

	state State32

	readInterest atomic.Bool

	connectPromise *pipeline.Promise
	boundLocalAddr *net.TCPAddr

	out             outboundQueue
	writableMask    uint32
	lowWaterMark    int64
	highWaterMark   int64
	closeUnfinished bool

	sizer           *recvSizer
	maxMessagesRead int
}

// State32 is an atomic holder for State, named distinctly from the
// State type itself so the zero value (StateIdle) is self-evident at
// the field declaration.
type State32 struct{ v atomic.Int32 }

func (s *State32) Load() State        { return State(s.v.Load()) }
func (s *State32) Store(v State)      { s.v.Store(int32(v)) }
func (s *State32) CAS(old, new_ State) bool {
	return s.v.CompareAndSwap(int32(old), int32(new_))
}

// NewChannel builds an idle channel bound to loop (typically chosen
// via (*eventloop.Group).Next() ahead of registration — see
// (*eventloop.Group).RegisterOn). The channel is inert until BindLoop
// runs and, for client channels, until Connect succeeds.
func NewChannel(loop *eventloop.Loop, opts ...Option) *Channel {
	cfg := resolveChannelOptions(opts)
	c := &Channel{
		loop:            loop,
		alloc:           cfg.allocator,
		lowWaterMark:    cfg.lowWaterMark,
		highWaterMark:   cfg.highWaterMark,
		closeUnfinished: cfg.closeUnfinished,
		sizer:           newRecvSizer(cfg.sizerInitial, cfg.sizerMinimum, cfg.sizerMaximum),
		maxMessagesRead: cfg.maxMessagesRead,
	}
	c.pipeline = pipeline.New(c, loop, cfg.logger)
	if cfg.initializer != nil {
		cfg.initializer(c)
	}
	return c
}

// newAcceptedChannel wraps an already-connected socket handed back by
// a Listener's accept loop.
func newAcceptedChannel(loop *eventloop.Loop, sock socket, opts ...Option) *Channel {
	c := NewChannel(loop, opts...)
	c.sock = sock
	c.state.Store(StateConnected)
	return c
}

// BindLoop implements eventloop.Registrant. It runs exactly once, on
// loop's own goroutine, per Group's contract. An accepted channel
// (sock already set) goes straight to REGISTERED then ACTIVE; a bare
// client channel stops at REGISTERED until Connect is called.
func (c *Channel) BindLoop(loop *eventloop.Loop) {
	c.state.Store(StateRegistered)
	c.pipeline.FireChannelRegistered()
	if c.sock != nil {
		c.registerFD(eventloop.EventRead)
		c.readInterest.Store(true)
		c.state.Store(StateActive)
		c.pipeline.FireChannelActive()
	}
}

func (c *Channel) registerFD(events eventloop.IOEvents) {
	if c.fdRegistered {
		_ = c.loop.ModifyFD(c.sock.FD(), events)
		return
	}
	c.fdRegistered = true
	_ = c.loop.RegisterFD(c.sock.FD(), events, c.onIOEvent)
}

func (c *Channel) interestMask() eventloop.IOEvents {
	var mask eventloop.IOEvents
	if c.readInterest.Load() {
		mask |= eventloop.EventRead
	}
	if c.writeArmed {
		mask |= eventloop.EventWrite
	}
	return mask
}

// --- application-facing contract ---

func (c *Channel) Pipeline() *pipeline.Pipeline { return c.pipeline }
func (c *Channel) State() State                 { return c.state.Load() }
func (c *Channel) IsActive() bool               { return c.state.Load() == StateActive }
func (c *Channel) IsWritable() bool             { return c.writableMask == 0 }

func (c *Channel) LocalAddr() net.Addr {
	if c.sock == nil {
		return nil
	}
	return c.sock.LocalAddr()
}

func (c *Channel) RemoteAddr() net.Addr {
	if c.sock == nil {
		return nil
	}
	return c.sock.RemoteAddr()
}

func (c *Channel) Bind(addr net.Addr) *pipeline.Promise    { return c.pipeline.Bind(addr) }
func (c *Channel) Connect(addr net.Addr) *pipeline.Promise { return c.pipeline.Connect(addr) }
func (c *Channel) Close() *pipeline.Promise                { return c.pipeline.Close() }
func (c *Channel) Read()                                   { c.pipeline.Read() }
func (c *Channel) WriteAndFlush(msg any) *pipeline.Promise { return c.pipeline.WriteAndFlush(msg) }

// SetWritable lets a handler above the core flip one of the logical
// writability bits; bit 0 is reserved for the core water-mark signal.
// writable is the AND of every bit.
func (c *Channel) SetWritable(bit uint32, notWritable bool) {
	if bit == coreWritabilityBit {
		panic("channel: bit 1 is reserved for the core water-mark signal")
	}
	c.setWritabilityBit(bit, notWritable)
}

func (c *Channel) setWritabilityBit(bit uint32, notWritable bool) {
	was := c.writableMask == 0
	if notWritable {
		c.writableMask |= bit
	} else {
		c.writableMask &^= bit
	}
	if now := c.writableMask == 0; now != was {
		c.pipeline.FireChannelWritabilityChanged()
	}
}

// --- pipeline.ChannelDriver ---

func (c *Channel) DoBind(addr net.Addr, promise *pipeline.Promise) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		promise.Fail(fmt.Errorf("%w: %T", ErrUnsupportedMessage, addr))
		return
	}
	if c.state.Load() != StateRegistered {
		promise.Fail(ErrAlreadyBound)
		return
	}
	c.boundLocalAddr = tcpAddr
	c.state.Store(StateBound)
	promise.Success()
}

func (c *Channel) DoConnect(addr net.Addr, promise *pipeline.Promise) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		promise.Fail(fmt.Errorf("%w: %T", ErrUnsupportedMessage, addr))
		return
	}
	switch c.state.Load() {
	case StateRegistered, StateBound:
	default:
		promise.Fail(ErrAlreadyBound)
		return
	}

	sock, connected, err := dialTCP(tcpAddr)
	if err != nil {
		promise.Fail(&IOError{Op: "connect", Cause: err, Fatal: true})
		return
	}
	c.sock = sock
	c.state.Store(StateConnected)

	if connected {
		c.finishConnect(promise)
		return
	}
	c.connectPromise = promise
	c.registerFD(eventloop.EventWrite)
}

func (c *Channel) finishConnect(promise *pipeline.Promise) {
	c.registerFD(eventloop.EventRead)
	c.readInterest.Store(true)
	c.state.Store(StateActive)
	c.pipeline.FireChannelActive()
	promise.Success()
}

func (c *Channel) DoDisconnect(promise *pipeline.Promise) {
	if c.state.Load() == StateActive {
		c.readInterest.Store(false)
		c.state.Store(StateInactive)
		c.pipeline.FireChannelInactive()
	}
	promise.Success()
}

func (c *Channel) DoClose(promise *pipeline.Promise) {
	if c.state.Load() == StateClosed {
		promise.Success()
		return
	}
	if !c.closeUnfinished && !c.out.empty() {
		c.out.markFlush()
		c.writeFlushed()
	}
	c.out.failAll(ErrClosedChannel)

	wasActive := c.state.Load() == StateActive
	if c.sock != nil {
		if c.fdRegistered {
			_ = c.loop.UnregisterFD(c.sock.FD())
			c.fdRegistered = false
		}
		_ = c.sock.Close()
	}
	c.state.Store(StateClosed)
	if wasActive {
		c.pipeline.FireChannelInactive()
	}
	promise.Success()
}

func (c *Channel) closeLocally(err error) {
	promise := pipeline.NewPromise()
	c.DoClose(promise)
	_ = err
}

func (c *Channel) DoDeregister(promise *pipeline.Promise) {
	if c.sock != nil && c.fdRegistered {
		_ = c.loop.UnregisterFD(c.sock.FD())
		c.fdRegistered = false
	}
	c.state.Store(StateUnregistered)
	c.pipeline.FireChannelUnregistered()
	promise.Success()
}

// DoRead re-arms read interest — the backpressure primitive: a handler
// stops calling ctx.Read() to apply backpressure, then resumes it once
// ready for more.
func (c *Channel) DoRead() {
	if !c.readInterest.CompareAndSwap(false, true) {
		return
	}
	if c.state.Load() != StateActive {
		return
	}
	if c.fdRegistered {
		c.registerFD(c.interestMask())
	}
	c.doReadCycle()
}

func (c *Channel) DoWrite(msg any, promise *pipeline.Promise) {
	buf, ok := msg.(*buffer.ByteBuf)
	if !ok {
		promise.Fail(ErrUnsupportedMessage)
		return
	}
	switch c.state.Load() {
	case StateClosed, StateInactive:
		buf.Release()
		promise.Fail(ErrClosedChannel)
		return
	}
	c.out.push(buf, promise)
	c.updateWritabilityFromPending()
}

func (c *Channel) DoFlush() {
	c.out.markFlush()
	c.writeFlushed()
}

// --- I/O event handling (runs on the loop goroutine) ---

func (c *Channel) onIOEvent(events eventloop.IOEvents) {
	if c.connectPromise != nil && events&eventloop.EventWrite != 0 {
		promise := c.connectPromise
		c.connectPromise = nil
		if err := connectError(c.sock.FD()); err != nil {
			promise.Fail(&IOError{Op: "connect", Cause: err, Fatal: true})
			c.closeLocally(err)
			return
		}
		c.finishConnect(promise)
		return
	}
	if events&eventloop.EventWrite != 0 {
		c.writeFlushed()
	}
	if events&eventloop.EventRead != 0 {
		c.doReadCycle()
	}
}

// doReadCycle allocates via the sizer, reads non-blocking, fires
// channel-read, stops on a bounded message count or a short read
// (socket drained for this cycle), then fires channel-read-complete.
func (c *Channel) doReadCycle() {
	if c.state.Load() != StateActive {
		return
	}
	for messages := 0; c.readInterest.Load() && messages < c.maxMessagesRead; messages++ {
		capacity := c.sizer.guess()
		buf := c.alloc.Allocate(capacity, c.sizer.maximum)

		n, err := c.sock.Read(buf.WritableSlice())
		if err != nil {
			buf.Release()
			if isWouldBlock(err) {
				return
			}
			if !isFatalIOError(err) {
				continue
			}
			ioErr := &IOError{Op: "read", Cause: err, Fatal: true}
			c.pipeline.FireExceptionCaught(ioErr)
			c.closeLocally(ioErr)
			return
		}
		if n == 0 {
			buf.Release()
			c.onPeerClosed()
			return
		}

		buf.MarkWritten(n)
		c.sizer.record(n, buf.Capacity())
		c.pipeline.FireChannelRead(buf)

		if n < buf.Capacity() {
			break
		}
	}
	c.pipeline.FireChannelReadComplete()
}

// onPeerClosed implements the half-close scenario: a zero-length read
// fires channel-read-complete then channel-inactive; outbound writes
// keep flushing normally until the local Close.
func (c *Channel) onPeerClosed() {
	c.pipeline.FireChannelReadComplete()
	c.readInterest.Store(false)
	c.state.Store(StateInactive)
	if c.fdRegistered {
		c.registerFD(c.interestMask())
	}
	c.pipeline.FireChannelInactive()
}

// writeFlushed drains the flushed prefix of the outbound chain with a
// gathering write: partial writes leave the remainder at the chain
// head and arm writable interest until the chain drains.
func (c *Channel) writeFlushed() {
	for c.out.head != nil {
		n := c.out.head
		atBoundary := n == c.out.flushBoundary

		data := n.buf.Bytes()
		if len(data) > 0 {
			written, err := c.sock.Write(data)
			if written > 0 {
				n.buf.SetIndices(n.buf.ReaderIndex()+written, n.buf.WriterIndex())
				c.out.pendingBytes -= int64(written)
			}
			if err != nil {
				if isWouldBlock(err) {
					c.armWritable()
					return
				}
				if !isFatalIOError(err) {
					continue
				}
				c.failFlush(n, &IOError{Op: "write", Cause: err, Fatal: true})
				return
			}
			if n.buf.ReadableBytes() > 0 {
				// short write with no error: remainder waits for the
				// next writable-readiness callback.
				c.armWritable()
				return
			}
		}

		c.popWritten(n)
		c.updateWritabilityFromPending()
		if atBoundary {
			break
		}
	}
	c.disarmWritable()
}

func (c *Channel) popWritten(n *writeNode) {
	c.out.head = n.next
	if c.out.head == nil {
		c.out.tail = nil
	}
	if c.out.flushBoundary == n {
		c.out.flushBoundary = nil
	}
	n.buf.Release()
	n.promise.Success()
}

func (c *Channel) failFlush(n *writeNode, err *IOError) {
	c.out.head = n.next
	if c.out.head == nil {
		c.out.tail = nil
	}
	c.out.pendingBytes -= int64(n.buf.ReadableBytes())
	n.buf.Release()
	n.promise.Fail(err)
	c.updateWritabilityFromPending()
	c.pipeline.FireExceptionCaught(err)
	if err.Fatal {
		c.closeLocally(err)
	}
}

func (c *Channel) updateWritabilityFromPending() {
	if c.out.pendingBytes <= c.lowWaterMark {
		c.setWritabilityBit(coreWritabilityBit, false)
	} else if c.out.pendingBytes > c.highWaterMark {
		c.setWritabilityBit(coreWritabilityBit, true)
	}
}

func (c *Channel) armWritable() {
	if c.writeArmed {
		return
	}
	c.writeArmed = true
	if c.fdRegistered {
		c.registerFD(c.interestMask())
	}
}

func (c *Channel) disarmWritable() {
	if !c.writeArmed {
		return
	}
	c.writeArmed = false
	if c.fdRegistered {
		c.registerFD(c.interestMask())
	}
}
