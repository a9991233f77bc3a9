package buffer

import "math/bits"

// chunk is a contiguous backing region managed as a complete binary
// tree of power-of-two pages for buddy-style allocation. memoryMap is
// 1-indexed; memoryMap[id] holds the lowest depth at which a free
// subtree exists beneath id, or unusable once id itself is fully
// allocated.
type chunk struct {
	arena     *Arena
	memory    []byte
	memoryMap []uint8
	maxOrder  int // depth of a single page from the root
	pageShift int
	pageSize  int
	freeBytes int

	// subpages[id] is non-nil when leaf id has been carved into a
	// subpage for tiny/small allocation.
	subpages []*subpage

	// list membership: which of the arena's six utilisation bands
	// this chunk currently sits in, for promotion/demotion.
	list *chunkList
	prev, next *chunk
}

const unusableMarker = 64 // exceeds any real maxOrder (log2(chunkSize/pageSize))

func newChunk(a *Arena) *chunk {
	numPages := a.chunkSize / a.pageSize
	maxOrder := bits.Len(uint(numPages)) - 1
	c := &chunk{
		arena:     a,
		memory:    make([]byte, a.chunkSize),
		memoryMap: make([]uint8, 1<<(maxOrder+1)),
		maxOrder:  maxOrder,
		pageShift: bits.Len(uint(a.pageSize)) - 1,
		pageSize:  a.pageSize,
		freeBytes: a.chunkSize,
		subpages:  make([]*subpage, numPages),
	}
	for id := 1; id < len(c.memoryMap); id++ {
		c.memoryMap[id] = uint8(depthOf(id))
	}
	return c
}

func depthOf(id int) int { return bits.Len(uint(id)) - 1 }

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// usage returns the fraction of the chunk currently allocated, in
// [0,100].
func (c *chunk) usage() int {
	used := len(c.memory) - c.freeBytes
	return used * 100 / len(c.memory)
}

// allocateRun allocates a run of 2^(maxOrder-depth) pages, tie-breaking
// ties between eligible children toward the left. Returns the leaf id
// and its byte offset, or ok=false if no such run is free.
func (c *chunk) allocateRun(depth int) (id, offset int, ok bool) {
	if int(c.memoryMap[1]) > depth {
		return 0, 0, false
	}
	id = 1
	for depthOf(id) < depth {
		id <<= 1
		if int(c.memoryMap[id]) > depth {
			id ^= 1 // right sibling; left was ineligible
		}
	}
	c.memoryMap[id] = unusableMarker
	c.updateParentsAlloc(id)
	offset = c.idOffset(id, depth)
	c.freeBytes -= c.pageSize << (c.maxOrder - depth)
	return id, offset, true
}

func (c *chunk) idOffset(id, depth int) int {
	return (id - (1 << depth)) * (c.pageSize << (c.maxOrder - depth))
}

func (c *chunk) updateParentsAlloc(id int) {
	for id > 1 {
		id >>= 1
		left, right := c.memoryMap[id<<1], c.memoryMap[id<<1+1]
		if left < right {
			c.memoryMap[id] = left
		} else {
			c.memoryMap[id] = right
		}
	}
}

// freeRun releases the run rooted at id (at the given depth).
func (c *chunk) freeRun(id, depth int) {
	c.memoryMap[id] = uint8(depthOf(id))
	c.freeBytes += c.pageSize << (c.maxOrder - depth)
	c.updateParentsFree(id)
}

func (c *chunk) updateParentsFree(id int) {
	for id > 1 {
		sibling := id ^ 1
		parent := id >> 1
		if int(c.memoryMap[id]) == depthOf(id) && int(c.memoryMap[sibling]) == depthOf(sibling) {
			c.memoryMap[parent] = uint8(depthOf(parent))
		} else {
			left, right := c.memoryMap[id&^1], c.memoryMap[id|1]
			if left < right {
				c.memoryMap[parent] = left
			} else {
				c.memoryMap[parent] = right
			}
		}
		id = parent
	}
}

// allocateNormal allocates a pages-aligned run for a Normal-class
// request and returns a ByteBuf view over it.
func (c *chunk) allocateNormal(reqBytes int) (*ByteBuf, bool) {
	pages := reqBytes / c.pageSize
	runPages := nextPow2(pages)
	depth := c.maxOrder - (bits.Len(uint(runPages)) - 1)
	id, offset, ok := c.allocateRun(depth)
	if !ok {
		return nil, false
	}
	size := c.pageSize << (c.maxOrder - depth)
	buf := c.memory[offset : offset+size : offset+size]
	bb := newPooledByteBuf(buf, size, func(b []byte) {
		c.arena.freeNormal(c, id, depth)
	})
	return bb, true
}

// leafPageIndex returns the index into c.subpages for a leaf id at
// maxOrder depth.
func (c *chunk) leafPageIndex(id int) int {
	return id - (1 << c.maxOrder)
}
