package buffer

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Allocator is the top-level pooled-buffer entry point: a fixed set
// of arenas (typically cores*2, to spread contention) plus a
// goroutine-keyed thread-cache index. A goroutine sticks to the arena
// it was first assigned, chosen round-robin, for as long as its
// thread-cache entry survives.
type Allocator struct {
	arenas  []*Arena
	counter atomic.Uint64

	mu     sync.Mutex
	owners map[uint64]int // goroutine id -> arena index
	caches map[uint64]*threadCache
}

// AllocatorConfig names the allocator.type / numArenas configuration
// surface; Unpooled bypasses arenas entirely (every Allocate call
// returns a heap-backed NewUnpooled buffer), matching the
// allocator.type=unpooled configuration key.
type AllocatorConfig struct {
	NumArenas int
	Unpooled  bool
	Arena     ArenaConfig
}

// NewAllocator builds a pooled allocator with cfg.NumArenas arenas
// (default runtime.GOMAXPROCS(0)*2), or an allocator that always
// falls through to unpooled allocation if cfg.Unpooled.
func NewAllocator(cfg AllocatorConfig) *Allocator {
	if cfg.Unpooled {
		return &Allocator{}
	}
	n := cfg.NumArenas
	if n <= 0 {
		n = runtime.GOMAXPROCS(0) * 2
	}
	a := &Allocator{
		arenas: make([]*Arena, n),
		owners: make(map[uint64]int),
		caches: make(map[uint64]*threadCache),
	}
	for i := range a.arenas {
		a.arenas[i] = NewArena(cfg.Arena)
	}
	return a
}

// Allocate returns a buffer of at least size bytes, growable up to
// maxCapacity, from the calling goroutine's assigned arena and
// thread cache.
func (a *Allocator) Allocate(size, maxCapacity int) *ByteBuf {
	if len(a.arenas) == 0 {
		return NewUnpooled(size, maxCapacity)
	}
	gid := goroutineID()
	arena, tc := a.forGoroutine(gid)
	return arena.Allocate(size, maxCapacity, tc)
}

func (a *Allocator) forGoroutine(gid uint64) (*Arena, *threadCache) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.owners[gid]
	if !ok {
		idx = int(a.counter.Add(1)-1) % len(a.arenas)
		a.owners[gid] = idx
	}
	tc, ok := a.caches[gid]
	if !ok {
		tc = newThreadCache(a.arenas[idx].cfg)
		a.caches[gid] = tc
	}
	return a.arenas[idx], tc
}

// goroutineID parses the numeric goroutine id out of a runtime stack
// trace; used only to key per-goroutine thread caches, never for
// correctness-critical identity.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.Fields(buf[:n])
	if len(field) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(field[1]), 10, 64)
	return id
}
