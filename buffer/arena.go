package buffer

import (
	"fmt"
	"sync"
)

const (
	defaultPageSize  = 8 * 1024
	defaultChunkSize = 16 * 1024 * 1024
)

// ArenaConfig carries the tunables named by the allocator's
// configuration surface (arena sizing, thread-cache caps).
type ArenaConfig struct {
	PageSize       int
	ChunkSize      int
	TinyCacheSize  int
	SmallCacheSize int
	NormalCacheSize int
}

func (c ArenaConfig) withDefaults() ArenaConfig {
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.TinyCacheSize == 0 {
		c.TinyCacheSize = 512
	}
	if c.SmallCacheSize == 0 {
		c.SmallCacheSize = 256
	}
	if c.NormalCacheSize == 0 {
		c.NormalCacheSize = 64
	}
	return c
}

// Arena owns the chunk lists, subpage lookup tables, and thread-cache
// index backing one pooled allocation domain. Typically an Allocator
// keeps cores*2 arenas and spreads threads across them round-robin.
type Arena struct {
	pageSize  int
	chunkSize int
	cfg       ArenaConfig

	mu                                 sync.Mutex
	qInit, q000, q025, q050, q075, q100 *chunkList
	// bandsAscending is every band in ascending-usage order, used by
	// reclassify; tryOrderNormal is the allocation search order
	// (q050, q025, q000, qInit, q075).
	bandsAscending  []*chunkList
	tryOrderNormal  []*chunkList

	// tinySubpages/smallSubpages map a normalized element size to the
	// head of the arena's "has spare elements" free list for it.
	tinySubpages  map[int]*subpage
	smallSubpages map[int]*subpage
}

// NewArena constructs one arena. Use NewAllocator for the full
// multi-arena pool an Allocator exposes to callers.
func NewArena(cfg ArenaConfig) *Arena {
	cfg = cfg.withDefaults()
	a := &Arena{
		pageSize:      cfg.PageSize,
		chunkSize:     cfg.ChunkSize,
		cfg:           cfg,
		tinySubpages:  make(map[int]*subpage),
		smallSubpages: make(map[int]*subpage),
	}
	a.qInit, a.q000, a.q025, a.q050, a.q075, a.q100 = newChunkLists()
	a.bandsAscending = []*chunkList{a.qInit, a.q000, a.q025, a.q050, a.q075, a.q100}
	a.tryOrderNormal = []*chunkList{a.q050, a.q025, a.q000, a.qInit, a.q075}
	return a
}

// Allocate returns a ByteBuf of at least size bytes (up to
// maxCapacity) routed through the size-class policy: tiny/small via a
// subpage, normal via the chunk buddy tree, huge as a direct,
// unpooled allocation.
func (a *Arena) Allocate(size, maxCapacity int, tc *threadCache) *ByteBuf {
	if size < 0 || maxCapacity < size {
		panic(fmt.Errorf("buffer: Allocate: invalid size %d/maxCapacity %d", size, maxCapacity))
	}
	class, normalized := a.classify(size)

	if tc != nil {
		if bb, ok := tc.get(class, normalized); ok {
			bb.max = maxCapacity
			bb.r, bb.w = 0, 0
			return bb
		}
	}

	switch class {
	case SizeTiny:
		return a.allocateSubpage(normalized, maxCapacity, true, tc, class)
	case SizeSmall:
		return a.allocateSubpage(normalized, maxCapacity, false, tc, class)
	case SizeNormal:
		return a.allocateNormalSized(normalized, maxCapacity, tc, class)
	default:
		return NewUnpooled(size, maxCapacity)
	}
}

// withCache wraps rawRelease so that, on the buffer's last release,
// it is first offered to tc (bucketed by class/normalized size) for
// reuse without touching the arena lock; only once the cache declines
// (full, or no cache for this call site) does it fall through to the
// real arena-level free.
func withCache(tc *threadCache, class SizeClass, normalized int, bb *ByteBuf, rawRelease func([]byte)) func([]byte) {
	return func(raw []byte) {
		if tc != nil && tc.put(class, normalized, bb) {
			return
		}
		rawRelease(raw)
	}
}

func (a *Arena) allocateSubpage(elemSize, maxCapacity int, tiny bool, tc *threadCache, class SizeClass) *ByteBuf {
	a.mu.Lock()
	table := a.smallSubpages
	if tiny {
		table = a.tinySubpages
	}

	sp := table[elemSize]
	if sp == nil || sp.freeElems == 0 {
		sp = a.carveSubpage(elemSize)
		table[elemSize] = sp
	}

	idx, ok := sp.allocate()
	if !ok {
		// Raced with another carve; retry once with a fresh subpage.
		sp = a.carveSubpage(elemSize)
		table[elemSize] = sp
		idx, ok = sp.allocate()
		if !ok {
			a.mu.Unlock()
			panic(fmt.Errorf("buffer: allocateSubpage: fresh subpage exhausted immediately"))
		}
	}
	offset := sp.elementOffset(idx)
	c := sp.chunk
	a.mu.Unlock()

	buf := c.memory[offset : offset+elemSize : offset+elemSize]
	bb := newPooledByteBuf(buf, maxCapacity, nil)
	bb.release = withCache(tc, class, elemSize, bb, func([]byte) {
		a.freeSubpage(sp, idx)
	})
	return bb
}

// carveSubpage allocates one fresh page from a chunk (pulling a new
// chunk in if none has a free page) and partitions it for elemSize.
// Caller holds a.mu.
func (a *Arena) carveSubpage(elemSize int) *subpage {
	c, id, offset, ok := a.allocatePageAnyChunk()
	if !ok {
		panic(fmt.Errorf("buffer: carveSubpage: arena exhausted"))
	}
	sp := newSubpage(c, id, offset, a.pageSize, elemSize)
	c.subpages[c.leafPageIndex(id)] = sp
	return sp
}

// allocatePageAnyChunk allocates a single page-sized leaf run from the
// first chunk in the normal-allocation try order that has one free,
// pulling in a fresh chunk (added to qInit) if none do. Caller holds
// a.mu.
func (a *Arena) allocatePageAnyChunk() (c *chunk, id, offset int, ok bool) {
	for _, l := range a.tryOrderNormal {
		for cur := l.head; cur != nil; cur = cur.next {
			if id, offset, ok := cur.allocateRun(cur.maxOrder); ok {
				a.reclassify(cur)
				return cur, id, offset, true
			}
		}
	}
	c = newChunk(a)
	a.qInit.add(c)
	id, offset, ok = c.allocateRun(c.maxOrder)
	if !ok {
		return nil, 0, 0, false
	}
	a.reclassify(c)
	return c, id, offset, true
}

// freeSubpage releases element idx of sp, returning the whole page to
// the chunk buddy tree once the subpage becomes fully free.
func (a *Arena) freeSubpage(sp *subpage, idx int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sp.free(idx) {
		c := sp.chunk
		c.subpages[c.leafPageIndex(sp.leafID)] = nil
		c.freeRun(sp.leafID, c.maxOrder)
		a.reclassify(c)
	}
}

// allocateNormalSized allocates a pages-aligned run directly from the
// chunk try order, for Normal-class requests.
func (a *Arena) allocateNormalSized(size, maxCapacity int, tc *threadCache, class SizeClass) *ByteBuf {
	a.mu.Lock()

	var bb *ByteBuf
	for _, l := range a.tryOrderNormal {
		for cur := l.head; cur != nil; cur = cur.next {
			if found, ok := cur.allocateNormal(size); ok {
				a.reclassify(cur)
				bb = found
				break
			}
		}
		if bb != nil {
			break
		}
	}

	if bb == nil {
		c := newChunk(a)
		a.qInit.add(c)
		found, ok := c.allocateNormal(size)
		if !ok {
			a.mu.Unlock()
			panic(fmt.Errorf("buffer: allocateNormalSized: fresh chunk cannot satisfy %d bytes", size))
		}
		a.reclassify(c)
		bb = found
	}
	a.mu.Unlock()

	bb.max = maxCapacity
	rawRelease := bb.release
	bb.release = withCache(tc, class, size, bb, rawRelease)
	return bb
}

// freeNormal releases the run rooted at id/depth within c, invoked as
// the ByteBuf's release callback.
func (a *Arena) freeNormal(c *chunk, id, depth int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c.freeRun(id, depth)
	a.reclassify(c)
}
