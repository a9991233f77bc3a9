package channel

import (
	"github.com/joeycumines/netreactor/buffer"
	"github.com/joeycumines/netreactor/pipeline"
)

// writeNode is one entry in the outbound chain: a pending buffer plus
// the promise to complete once it reaches the socket, and byte count
// for water-mark accounting.
type writeNode struct {
	buf     *buffer.ByteBuf
	promise *pipeline.Promise
	size    int64
	next    *writeNode
}

// outboundQueue is a singly-linked FIFO of pending writes, grounded on
// eventloop.ChunkedIngress's head/tail-pointer FIFO idiom but kept as
// one node per write (outbound volume is connections×writes, not the
// same hot-path scale as task submission, so chunking would add
// complexity without a measurable win). Touched only from the
// channel's owning loop goroutine — the only mutator of the chain.
type outboundQueue struct {
	head, tail    *writeNode
	flushBoundary *writeNode // last node included in the current flush, or nil
	pendingBytes  int64
}

func (q *outboundQueue) push(buf *buffer.ByteBuf, promise *pipeline.Promise) {
	n := &writeNode{buf: buf, promise: promise, size: int64(buf.ReadableBytes())}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.pendingBytes += n.size
}

// markFlush extends the flush boundary to the current tail, marking
// every write pushed so far as eligible for the next gathering write.
func (q *outboundQueue) markFlush() {
	q.flushBoundary = q.tail
}

// empty reports whether anything remains in the chain (flushed or
// not).
func (q *outboundQueue) empty() bool { return q.head == nil }

// failAll fails every remaining node's promise with err and releases
// its buffer, used on close when draining unflushed writes is
// disabled.
func (q *outboundQueue) failAll(err error) {
	for n := q.head; n != nil; n = n.next {
		n.buf.Release()
		n.promise.Fail(err)
	}
	q.head, q.tail, q.flushBoundary = nil, nil, nil
	q.pendingBytes = 0
}
