package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/netreactor/buffer"
	"github.com/joeycumines/netreactor/pipeline"
)

func newTestChannel(t *testing.T, opts ...Option) (*Channel, *fakeSocket) {
	t.Helper()
	c := NewChannel(nil, opts...)
	sock := &fakeSocket{fd: 1}
	c.sock = sock
	c.state.Store(StateActive)
	c.readInterest.Store(true)
	return c, sock
}

type observerHandler struct {
	pipeline.BaseHandler
	events *[]string
}

func (h *observerHandler) ChannelReadComplete(ctx *pipeline.Context) {
	*h.events = append(*h.events, "read-complete")
	ctx.FireChannelReadComplete()
}

func (h *observerHandler) ChannelInactive(ctx *pipeline.Context) {
	*h.events = append(*h.events, "inactive")
	ctx.FireChannelInactive()
}

type collectingHandler struct {
	pipeline.BaseHandler
	out *[]string
}

func (h *collectingHandler) ChannelRead(ctx *pipeline.Context, msg any) {
	buf := msg.(*buffer.ByteBuf)
	*h.out = append(*h.out, buf.ReadString(buf.ReadableBytes()))
	buf.Release()
}

type exceptionCatcher struct {
	pipeline.BaseHandler
	out *[]error
}

func (h *exceptionCatcher) ExceptionCaught(ctx *pipeline.Context, err error) {
	*h.out = append(*h.out, err)
}

// TestChannel_WriteAndFlush_Echo covers the Echo scenario: a write
// reaches the socket and the promise succeeds once fully drained.
func TestChannel_WriteAndFlush_Echo(t *testing.T) {
	c, sock := newTestChannel(t)

	buf := buffer.NewUnpooled(0, 64)
	buf.WriteString("hello")

	promise := c.pipeline.WriteAndFlush(buf)
	require.NoError(t, promise.Wait(context.Background()))
	assert.Equal(t, "hello", string(sock.written))
	assert.Equal(t, int32(0), buf.RefCnt())
}

func TestChannel_DoWrite_UnsupportedMessage(t *testing.T) {
	c, _ := newTestChannel(t)

	promise := c.pipeline.WriteAndFlush("not a buffer")
	err := promise.Wait(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedMessage)
}

func TestChannel_DoWrite_AfterClose(t *testing.T) {
	c, _ := newTestChannel(t)
	closeDone := c.pipeline.Close()
	require.NoError(t, closeDone.Wait(context.Background()))

	buf := buffer.NewUnpooled(0, 16)
	buf.WriteString("late")
	promise := c.pipeline.WriteAndFlush(buf)
	assert.ErrorIs(t, promise.Wait(context.Background()), ErrClosedChannel)
	assert.Equal(t, int32(0), buf.RefCnt())
}

// TestChannel_Backpressure exercises the writability-hysteresis
// scenario: pending bytes crossing highWaterMark flips IsWritable
// false, and draining back under lowWaterMark flips it back.
func TestChannel_Backpressure(t *testing.T) {
	c, sock := newTestChannel(t, WithWaterMarks(4, 8))
	sock.writeErr = errFakeClosed // block all flush attempts until cleared

	assert.True(t, c.IsWritable())

	buf1 := buffer.NewUnpooled(0, 16)
	buf1.WriteString("12345") // 5 bytes, still under high(8) alone
	p1 := pipeline.NewPromise()
	c.DoWrite(buf1, p1)
	assert.True(t, c.IsWritable())

	buf2 := buffer.NewUnpooled(0, 16)
	buf2.WriteString("1234") // total 9 bytes, crosses high(8)
	p2 := pipeline.NewPromise()
	c.DoWrite(buf2, p2)
	assert.False(t, c.IsWritable())

	// Clear the write error and flush to drain below lowWaterMark.
	sock.writeErr = nil
	c.DoFlush()
	assert.True(t, c.IsWritable())
	assert.Equal(t, "123451234", string(sock.written))
	assert.NoError(t, p1.Wait(context.Background()))
	assert.NoError(t, p2.Wait(context.Background()))
}

// TestChannel_Backpressure_ExactHighWaterMarkStaysWritable pins the
// boundary: pending bytes landing exactly on highWaterMark must not
// flip writability — only strictly exceeding it should.
func TestChannel_Backpressure_ExactHighWaterMarkStaysWritable(t *testing.T) {
	c, sock := newTestChannel(t, WithWaterMarks(4, 8))
	sock.writeErr = errFakeClosed // block all flush attempts until cleared

	buf := buffer.NewUnpooled(0, 16)
	buf.WriteString("12345678") // exactly 8 bytes == highWaterMark
	p := pipeline.NewPromise()
	c.DoWrite(buf, p)

	assert.True(t, c.IsWritable())

	sock.writeErr = nil
	c.DoFlush()
	assert.NoError(t, p.Wait(context.Background()))
}

// TestChannel_HalfClose exercises a zero-length read: read-complete
// then inactive fire, the channel stops offering read interest, and a
// pending write still drains normally afterward.
func TestChannel_HalfClose(t *testing.T) {
	c, sock := newTestChannel(t)

	var events []string
	require.NoError(t, c.pipeline.AddFirst("observer", &observerHandler{events: &events}))

	sock.reads = []fakeRead{{data: nil, err: nil}} // n == 0: peer closed

	c.doReadCycle()

	assert.Contains(t, events, "read-complete")
	assert.Contains(t, events, "inactive")
	assert.Equal(t, StateInactive, c.State())
	assert.False(t, c.readInterest.Load())

	// Pending outbound writes still complete after half-close.
	buf := buffer.NewUnpooled(0, 16)
	buf.WriteString("still flows")
	promise := c.pipeline.WriteAndFlush(buf)
	require.NoError(t, promise.Wait(context.Background()))
	assert.Equal(t, "still flows", string(sock.written))
}

func TestChannel_DoReadCycle_FiresChannelRead(t *testing.T) {
	c, sock := newTestChannel(t)
	var received []string
	require.NoError(t, c.pipeline.AddFirst("collector", &collectingHandler{out: &received}))

	// A short read (less than the sizer's guessed capacity) means the
	// socket was drained for this cycle, so doReadCycle stops without
	// consuming a second queued read.
	sock.reads = []fakeRead{
		{data: []byte("abc")},
		{err: errFakeClosed},
	}

	c.doReadCycle()

	require.Len(t, received, 1)
	assert.Equal(t, "abc", received[0])
	assert.Equal(t, StateActive, c.State())
	assert.Len(t, sock.reads, 1) // the error read was never consumed
}

// TestChannel_DoReadCycle_FatalError exercises a genuine I/O failure:
// the channel fires exception-caught and closes itself.
func TestChannel_DoReadCycle_FatalError(t *testing.T) {
	c, sock := newTestChannel(t)
	var caught []error
	require.NoError(t, c.pipeline.AddFirst("catcher", &exceptionCatcher{out: &caught}))

	sock.reads = []fakeRead{{err: errFakeClosed}}

	c.doReadCycle()

	require.Len(t, caught, 1)
	var ioErr *IOError
	assert.ErrorAs(t, caught[0], &ioErr)
	assert.Equal(t, StateClosed, c.State())
}

func TestChannel_Close_Idempotent(t *testing.T) {
	c, sock := newTestChannel(t)
	p1 := c.pipeline.Close()
	require.NoError(t, p1.Wait(context.Background()))
	assert.True(t, sock.closed)

	p2 := c.pipeline.Close()
	require.NoError(t, p2.Wait(context.Background()))
}
