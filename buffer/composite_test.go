package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposite_ReadSpansComponents(t *testing.T) {
	c := NewCompositeByteBuf(0)
	c.AddComponent(WrapUnpooled([]byte("hello "), 6))
	c.AddComponent(WrapUnpooled([]byte("world"), 5))

	require.Equal(t, 11, c.ReadableBytes())

	dst := make([]byte, 11)
	c.ReadBytes(dst)
	assert.Equal(t, "hello world", string(dst))
}

func TestComposite_ReadAcrossBoundaryExactly(t *testing.T) {
	c := NewCompositeByteBuf(0)
	c.AddComponent(WrapUnpooled([]byte("abc"), 3))
	c.AddComponent(WrapUnpooled([]byte("def"), 3))

	dst := make([]byte, 4) // spans both components: "abcd"
	c.ReadBytes(dst)
	assert.Equal(t, "abcd", string(dst))
}

func TestComposite_ConsolidateMergesComponents(t *testing.T) {
	c := NewCompositeByteBuf(0)
	c.AddComponent(WrapUnpooled([]byte("ab"), 2))
	c.AddComponent(WrapUnpooled([]byte("cd"), 2))
	require.Equal(t, 2, c.NumComponents())

	c.Consolidate()
	assert.Equal(t, 1, c.NumComponents())

	dst := make([]byte, 4)
	c.ReadBytes(dst)
	assert.Equal(t, "abcd", string(dst))
}

func TestComposite_ReleaseReleasesAllComponents(t *testing.T) {
	c := NewCompositeByteBuf(0)
	b1 := WrapUnpooled([]byte("ab"), 2)
	b2 := WrapUnpooled([]byte("cd"), 2)
	c.AddComponent(b1)
	c.AddComponent(b2)

	assert.True(t, c.Release())
	assert.EqualValues(t, 0, b1.RefCnt())
	assert.EqualValues(t, 0, b2.RefCnt())
}
