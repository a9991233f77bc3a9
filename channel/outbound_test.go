package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/netreactor/buffer"
	"github.com/joeycumines/netreactor/pipeline"
)

func TestOutboundQueue_PushAccumulatesPendingBytes(t *testing.T) {
	var q outboundQueue
	assert.True(t, q.empty())

	b1 := buffer.NewUnpooled(0, 16)
	b1.WriteString("abc")
	q.push(b1, pipeline.NewPromise())
	assert.Equal(t, int64(3), q.pendingBytes)
	assert.False(t, q.empty())

	b2 := buffer.NewUnpooled(0, 16)
	b2.WriteString("de")
	q.push(b2, pipeline.NewPromise())
	assert.Equal(t, int64(5), q.pendingBytes)
	assert.Same(t, q.tail.buf, b2)
}

func TestOutboundQueue_MarkFlushBoundary(t *testing.T) {
	var q outboundQueue
	b1 := buffer.NewUnpooled(0, 16)
	q.push(b1, pipeline.NewPromise())
	q.markFlush()
	assert.Same(t, q.flushBoundary, q.head)

	b2 := buffer.NewUnpooled(0, 16)
	q.push(b2, pipeline.NewPromise())
	assert.NotSame(t, q.flushBoundary, q.tail) // not included until markFlush again
}

func TestOutboundQueue_FailAllReleasesAndFails(t *testing.T) {
	var q outboundQueue
	b1 := buffer.NewUnpooled(0, 16)
	b1.WriteString("x")
	p1 := pipeline.NewPromise()
	q.push(b1, p1)

	b2 := buffer.NewUnpooled(0, 16)
	b2.WriteString("y")
	p2 := pipeline.NewPromise()
	q.push(b2, p2)

	q.failAll(ErrClosedChannel)

	assert.True(t, q.empty())
	assert.Equal(t, int64(0), q.pendingBytes)
	assert.Equal(t, int32(0), b1.RefCnt())
	assert.Equal(t, int32(0), b2.RefCnt())

	require.ErrorIs(t, p1.Wait(context.Background()), ErrClosedChannel)
	require.ErrorIs(t, p2.Wait(context.Background()), ErrClosedChannel)
}
