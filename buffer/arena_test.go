package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallArena() *Arena {
	return NewArena(ArenaConfig{PageSize: 4096, ChunkSize: 64 * 1024})
}

func TestArena_SizeClassRouting(t *testing.T) {
	a := smallArena()

	class, _ := a.classify(24)
	assert.Equal(t, SizeTiny, class)

	class, _ = a.classify(1024)
	assert.Equal(t, SizeSmall, class)

	class, _ = a.classify(32 * 1024) // 4 pages of 4096, <= 64KiB chunk
	assert.Equal(t, SizeNormal, class)

	class, _ = a.classify(a.chunkSize + 1)
	assert.Equal(t, SizeHuge, class)
}

func TestArena_TinyAllocationRoundTrip(t *testing.T) {
	a := smallArena()
	b := a.Allocate(24, 24, nil)
	require.NotNil(t, b)
	assert.GreaterOrEqual(t, b.Capacity(), 24)

	b.WriteBytes([]byte("0123456789012345678901"))
	assert.True(t, b.Release())
}

func TestArena_NormalAllocationExactChunkSizeIsOneLeaf(t *testing.T) {
	a := smallArena()
	b := a.Allocate(a.chunkSize, a.chunkSize, nil)
	require.NotNil(t, b)
	assert.Equal(t, a.chunkSize, b.Capacity())
}

func TestArena_HugeAllocationBypassesPool(t *testing.T) {
	a := smallArena()
	b := a.Allocate(a.chunkSize+1, a.chunkSize+1, nil)
	require.NotNil(t, b)
	assert.Nil(t, b.release)
}

func TestArena_FreeAndReallocateSameSizeReusesChunkSpace(t *testing.T) {
	a := smallArena()
	b1 := a.Allocate(1024, 1024, nil)
	b1.Release()

	b2 := a.Allocate(1024, 1024, nil)
	require.NotNil(t, b2)
	assert.True(t, b2.Release())
}

func TestThreadCache_GetAfterPutReusesBuffer(t *testing.T) {
	a := smallArena()
	tc := newThreadCache(ArenaConfig{TinyCacheSize: 4, SmallCacheSize: 4, NormalCacheSize: 4})

	b1 := a.Allocate(24, 24, tc)
	original := b1.buf
	require.True(t, b1.Release()) // should land in tc, not the arena

	b2 := a.Allocate(24, 24, tc)
	assert.Equal(t, &original[0], &b2.buf[0])
	assert.EqualValues(t, 1, b2.RefCnt())
}
