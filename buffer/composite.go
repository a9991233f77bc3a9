package buffer

import "sort"

// component is one member of a CompositeByteBuf's virtual address
// space: buf occupies [offset, offset+length) of the composite's
// virtual index range.
type component struct {
	buf            *ByteBuf
	offset, length int
}

// CompositeByteBuf logically concatenates multiple component buffers
// under unified reader/writer indices that live in a virtual address
// space, resolved to (component, within-component-index) by binary
// search over component offsets. It owns one reference on each
// component it holds; releasing the composite releases each in turn.
type CompositeByteBuf struct {
	rc         *refCount
	components []component
	virtualLen int
	r, w       int
	maxComponentsBeforeConsolidate int
}

// NewCompositeByteBuf returns an empty composite buffer. Consolidate
// triggers automatically once the component count exceeds
// maxComponentsBeforeConsolidate, if positive.
func NewCompositeByteBuf(maxComponentsBeforeConsolidate int) *CompositeByteBuf {
	return &CompositeByteBuf{
		rc:                             newRefCount(),
		maxComponentsBeforeConsolidate: maxComponentsBeforeConsolidate,
	}
}

// AddComponent appends buf as a new component, extending the virtual
// writer index by buf's readable byte count, and takes ownership of
// one reference on buf (released when the composite is released or
// the component is removed).
func (c *CompositeByteBuf) AddComponent(buf *ByteBuf) {
	length := buf.ReadableBytes()
	c.components = append(c.components, component{
		buf:    buf,
		offset: c.virtualLen,
		length: length,
	})
	c.virtualLen += length
	c.w += length

	if c.maxComponentsBeforeConsolidate > 0 && len(c.components) > c.maxComponentsBeforeConsolidate {
		c.Consolidate()
	}
}

// find returns the index of the component containing virtual offset
// idx via binary search over component start offsets.
func (c *CompositeByteBuf) find(idx int) int {
	return sort.Search(len(c.components), func(i int) bool {
		comp := c.components[i]
		return comp.offset+comp.length > idx
	})
}

func (c *CompositeByteBuf) checkIndex(index, length int) {
	if index < 0 || length < 0 || index+length > c.virtualLen {
		panic(&ErrIndexOutOfBounds{Op: "CompositeByteBuf", Index: index, Length: length, Extent: c.virtualLen})
	}
}

// GetBytes copies length bytes starting at virtual index, spanning as
// many components as needed.
func (c *CompositeByteBuf) GetBytes(index, length int, dst []byte) {
	c.checkIndex(index, length)
	ci := c.find(index)
	remaining := length
	pos := 0
	for remaining > 0 {
		comp := c.components[ci]
		withinOffset := index - comp.offset
		n := comp.length - withinOffset
		if n > remaining {
			n = remaining
		}
		comp.buf.GetBytes(comp.buf.ReaderIndex()+withinOffset, dst[pos:pos+n])
		pos += n
		index += n
		remaining -= n
		ci++
	}
}

// ReadBytes reads from the current reader index and advances it.
func (c *CompositeByteBuf) ReadBytes(dst []byte) {
	c.GetBytes(c.r, len(dst), dst)
	c.r += len(dst)
}

// ReadableBytes returns the virtual writerIndex - readerIndex.
func (c *CompositeByteBuf) ReadableBytes() int { return c.w - c.r }

// ReaderIndex/WriterIndex expose the virtual indices.
func (c *CompositeByteBuf) ReaderIndex() int { return c.r }
func (c *CompositeByteBuf) WriterIndex() int { return c.w }

// NumComponents returns the current component count.
func (c *CompositeByteBuf) NumComponents() int { return len(c.components) }

// Consolidate merges all components into a single newly-allocated
// contiguous unpooled buffer, releasing the originals.
func (c *CompositeByteBuf) Consolidate() {
	if len(c.components) <= 1 {
		return
	}
	merged := make([]byte, c.virtualLen)
	for _, comp := range c.components {
		copy(merged[comp.offset:], comp.buf.Bytes())
		comp.buf.Release()
	}
	single := WrapUnpooled(merged, c.virtualLen)
	c.components = []component{{buf: single, offset: 0, length: c.virtualLen}}
}

// ComponentViews returns one flat []byte view per component within
// [index, index+length) of the virtual readable range, without
// copying — the NIO-style scatter/gather surface.
func (c *CompositeByteBuf) ComponentViews(index, length int) [][]byte {
	c.checkIndex(index, length)
	var views [][]byte
	ci := c.find(index)
	remaining := length
	for remaining > 0 {
		comp := c.components[ci]
		withinOffset := index - comp.offset
		n := comp.length - withinOffset
		if n > remaining {
			n = remaining
		}
		start := comp.buf.ReaderIndex() + withinOffset
		views = append(views, comp.buf.buf[start:start+n])
		index += n
		remaining -= n
		ci++
	}
	return views
}

// --- ReferenceCounted ---

func (c *CompositeByteBuf) RefCnt() int32 { return c.rc.RefCnt() }

func (c *CompositeByteBuf) Retain() ReferenceCounted { return c.RetainN(1) }

func (c *CompositeByteBuf) RetainN(n int32) ReferenceCounted {
	c.rc.retain(n)
	return c
}

func (c *CompositeByteBuf) Release() bool { return c.ReleaseN(1) }

func (c *CompositeByteBuf) ReleaseN(n int32) bool {
	last := c.rc.release(n)
	if last {
		for _, comp := range c.components {
			comp.buf.Release()
		}
		c.components = nil
	}
	return last
}

func (c *CompositeByteBuf) Touch(hint any) ReferenceCounted {
	c.rc.touch(hint)
	return c
}
