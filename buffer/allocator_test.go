package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_AllocateAndRelease(t *testing.T) {
	alloc := NewAllocator(AllocatorConfig{NumArenas: 2, Arena: ArenaConfig{PageSize: 4096, ChunkSize: 64 * 1024}})

	b := alloc.Allocate(100, 1024)
	require.NotNil(t, b)
	b.WriteBytes([]byte("hello"))
	assert.True(t, b.Release())
}

func TestAllocator_UnpooledAlwaysReturnsFreshBuffer(t *testing.T) {
	alloc := NewAllocator(AllocatorConfig{Unpooled: true})

	b := alloc.Allocate(100, 1024)
	require.NotNil(t, b)
	assert.Equal(t, 100, b.Capacity())
}
