package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteBuf_RefCountLifecycle(t *testing.T) {
	b := NewUnpooled(16, 16)
	require.EqualValues(t, 1, b.RefCnt())

	b.Retain()
	require.EqualValues(t, 2, b.RefCnt())

	assert.False(t, b.Release())
	require.EqualValues(t, 1, b.RefCnt())

	assert.True(t, b.Release())
	require.EqualValues(t, 0, b.RefCnt())
}

func TestByteBuf_RetainFromZeroFails(t *testing.T) {
	b := NewUnpooled(16, 16)
	require.True(t, b.Release())

	assert.Panics(t, func() { b.Retain() })
}

func TestByteBuf_ReleaseBelowZeroFails(t *testing.T) {
	b := NewUnpooled(16, 16)
	require.True(t, b.Release())

	assert.Panics(t, func() { b.Release() })
}

func TestByteBuf_RetainOverflowFails(t *testing.T) {
	b := NewUnpooled(16, 16)
	assert.Panics(t, func() { b.RetainN(1<<31 - 1) })
}
