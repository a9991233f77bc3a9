package buffer

import "sync"

// derivedPool recycles derivedBuf wrappers, mirroring the
// sync.Pool-based chunk recycling the event loop's ingress queue
// uses for its own fixed-size nodes (see eventloop.ChunkedIngress).
var derivedPool = sync.Pool{New: func() any { return &derivedBuf{} }}

// derivedBuf is a view over a parent buffer with its own reader and
// writer indices and its own independent refcount. Slices fix their
// index range at creation (length is immutable); duplicates span the
// full parent range with indices free to move independently
// afterward. Releasing a derived buffer, regardless of whether it was
// created via a Retained variant, always releases exactly one
// reference on its parent, transitively reaching the root.
type derivedBuf struct {
	parent ReferenceCounted
	base   *ByteBuf // the root ByteBuf actually holding bytes
	start  int      // absolute offset into base's backing array
	length int
}

// Slice returns a fixed-range view over b without taking an
// additional reference: the caller is transferring, not duplicating,
// ownership of one of the references it already holds on b.
func Slice(b *ByteBuf, index, length int) *ByteBuf {
	return newDerivedByteBuf(b, index, length, index, index+length)
}

// RetainedSlice is Slice plus one additional retain on b, so the
// slice and the caller's own reference can each be released
// independently.
func RetainedSlice(b *ByteBuf, index, length int) *ByteBuf {
	b.Retain()
	return newDerivedByteBuf(b, index, length, index, index+length)
}

// Duplicate returns a full-range view with independent indices,
// initialized to b's current reader/writer indices, without taking an
// additional reference.
func Duplicate(b *ByteBuf) *ByteBuf {
	return newDerivedByteBuf(b, 0, b.Capacity(), b.r, b.w)
}

// RetainedDuplicate is Duplicate plus one additional retain on b.
func RetainedDuplicate(b *ByteBuf) *ByteBuf {
	b.Retain()
	return newDerivedByteBuf(b, 0, b.Capacity(), b.r, b.w)
}

func newDerivedByteBuf(b *ByteBuf, start, length, r, w int) *ByteBuf {
	d := derivedPool.Get().(*derivedBuf)
	d.parent = b
	d.base = b
	d.start = start
	d.length = length

	view := b.buf[start : start+length : start+length]
	bb := &ByteBuf{
		rc:  newRefCount(),
		buf: view,
		max: length,
		r:   r - start,
		w:   w - start,
	}
	bb.release = func([]byte) { releaseDerived(d) }
	return bb
}

// releaseDerived implements a two-step recycle-then-release discipline:
// recycle the wrapper into the pool first, then drop the parent
// reference, so a racing reacquire-and-init of the same wrapper can
// never run before this deferred parent-release.
func releaseDerived(d *derivedBuf) {
	parent := d.parent
	*d = derivedBuf{}
	derivedPool.Put(d)
	parent.Release()
}
