package pipeline

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDriver struct {
	writes  []any
	flushed int
	closed  int
}

func (d *recordingDriver) DoBind(addr net.Addr, promise *Promise)    { promise.Success() }
func (d *recordingDriver) DoConnect(addr net.Addr, promise *Promise) { promise.Success() }
func (d *recordingDriver) DoDisconnect(promise *Promise)             { promise.Success() }
func (d *recordingDriver) DoClose(promise *Promise)                  { d.closed++; promise.Success() }
func (d *recordingDriver) DoDeregister(promise *Promise)             { promise.Success() }
func (d *recordingDriver) DoRead()                                   {}
func (d *recordingDriver) DoWrite(msg any, promise *Promise) {
	d.writes = append(d.writes, msg)
	promise.Success()
}
func (d *recordingDriver) DoFlush() { d.flushed++ }

type recordEvents struct {
	BaseHandler
	events *[]string
}

func (h *recordEvents) ChannelRead(ctx *Context, msg any) {
	*h.events = append(*h.events, "read:"+msg.(string))
	ctx.FireChannelRead(msg)
}

func newTestPipeline() (*Pipeline, *recordingDriver) {
	driver := &recordingDriver{}
	p := New(driver, nil, nil)
	return p, driver
}

func TestPipeline_InboundPropagatesHeadToTail(t *testing.T) {
	p, _ := newTestPipeline()
	var events []string
	require.NoError(t, p.AddLast("h1", &recordEvents{events: &events}))

	p.FireChannelRead("ping")
	assert.Equal(t, []string{"read:ping"}, events)
}

func TestPipeline_OutboundWriteReachesDriver(t *testing.T) {
	p, driver := newTestPipeline()
	promise := p.WriteAndFlush("payload")

	require.NoError(t, promise.Wait(context.Background()))
	assert.Equal(t, []any{"payload"}, driver.writes)
	assert.Equal(t, 1, driver.flushed)
}

func TestPipeline_NameCollisionRejected(t *testing.T) {
	p, _ := newTestPipeline()
	require.NoError(t, p.AddLast("h1", &BaseHandlerImpl{}))
	err := p.AddLast("h1", &BaseHandlerImpl{})
	assert.Error(t, err)
}

func TestPipeline_RemoveDuringPropagationAdvancesToSuccessor(t *testing.T) {
	p, _ := newTestPipeline()
	var events []string

	self := &removeSelfHandler{events: &events}
	require.NoError(t, p.AddLast("removing", self))
	require.NoError(t, p.AddLast("after", &recordEvents{events: &events}))

	p.FireChannelRead("x")
	assert.Equal(t, []string{"removing", "read:x"}, events)

	_, stillThere := p.names["removing"]
	assert.False(t, stillThere)
}

func TestPipeline_HandlerAddedRemovedBalanced(t *testing.T) {
	p, _ := newTestPipeline()
	h := &lifecycleHandler{}
	require.NoError(t, p.AddLast("h", h))
	require.NoError(t, p.Remove("h"))

	assert.Equal(t, 1, h.added)
	assert.Equal(t, 1, h.removed)
}

func TestPipeline_NonSharableHandlerRejectedInSecondPipeline(t *testing.T) {
	p1, _ := newTestPipeline()
	p2, _ := newTestPipeline()

	h := &BaseHandlerImpl{}
	require.NoError(t, p1.AddLast("h", h))
	err := p2.AddLast("h", h)
	assert.Error(t, err)
}

func TestPipeline_UnhandledReadReleasesReferenceCountedMessage(t *testing.T) {
	p, _ := newTestPipeline()
	msg := &fakeRefCounted{}
	p.FireChannelRead(msg)
	assert.True(t, msg.released)
}

// --- test fixtures ---

type BaseHandlerImpl struct{ BaseHandler }

type lifecycleHandler struct {
	BaseHandler
	added, removed int
}

func (h *lifecycleHandler) HandlerAdded(ctx *Context)   { h.added++ }
func (h *lifecycleHandler) HandlerRemoved(ctx *Context) { h.removed++ }

type removeSelfHandler struct {
	BaseHandler
	events *[]string
}

func (h *removeSelfHandler) ChannelRead(ctx *Context, msg any) {
	*h.events = append(*h.events, "removing")
	_ = ctx.Pipeline().Remove(ctx.Name())
	ctx.FireChannelRead(msg)
}

type fakeRefCounted struct{ released bool }

func (f *fakeRefCounted) Release() bool { f.released = true; return true }
