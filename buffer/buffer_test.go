package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteBuf_ReadWriteRoundTrip(t *testing.T) {
	b := NewUnpooled(0, 64)
	b.WriteUint32(0xdeadbeef)
	b.WriteByte(0x7a)
	b.WriteString("hello")

	require.Equal(t, uint32(0xdeadbeef), b.ReadUint32())
	require.Equal(t, byte(0x7a), b.ReadByte())
	require.Equal(t, "hello", b.ReadString(5))
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestByteBuf_EndiannessIsByteReversal(t *testing.T) {
	b := NewUnpooled(8, 8)
	b.SetUint32(0, 0x01020304)

	be := b.GetUint32(0)
	le := b.GetUint32LE(0)

	assert.Equal(t, uint32(0x01020304), be)
	assert.Equal(t, uint32(0x04030201), le)
}

func TestByteBuf_IndexInvariantHolds(t *testing.T) {
	b := NewUnpooled(0, 32)
	b.WriteBytes([]byte("0123456789"))
	b.ReadBytes(make([]byte, 4))

	assert.True(t, 0 <= b.ReaderIndex())
	assert.True(t, b.ReaderIndex() <= b.WriterIndex())
	assert.True(t, b.WriterIndex() <= b.Capacity())
	assert.True(t, b.Capacity() <= b.MaxCapacity())
}

func TestByteBuf_OutOfBoundsPanics(t *testing.T) {
	b := NewUnpooled(4, 4)
	assert.Panics(t, func() { b.GetByte(4) })
	assert.Panics(t, func() { b.GetBytes(0, make([]byte, 5)) })
}

func TestByteBuf_EnsureWritableGrowsByPowerOfTwo(t *testing.T) {
	b := NewUnpooled(4, 1024)
	status := b.EnsureWritable(100, false)
	assert.Equal(t, GrowGrown, status)
	assert.GreaterOrEqual(t, b.Capacity(), 100)
	assert.LessOrEqual(t, b.Capacity(), 1024)
}

func TestByteBuf_EnsureWritableBeyondMaxWithoutForceFails(t *testing.T) {
	b := NewUnpooled(4, 8)
	before := b.Capacity()
	status := b.EnsureWritable(100, false)
	assert.Equal(t, GrowInsufficient, status)
	assert.Equal(t, before, b.Capacity())
}

func TestByteBuf_EnsureWritableForceCapsAtMax(t *testing.T) {
	b := NewUnpooled(4, 8)
	status := b.EnsureWritable(100, true)
	assert.Equal(t, GrowInsufficientAtMax, status)
	assert.Equal(t, 8, b.Capacity())
}

func TestByteBuf_DiscardReadBytesCompacts(t *testing.T) {
	b := NewUnpooled(0, 32)
	b.WriteBytes([]byte("0123456789"))
	b.ReadBytes(make([]byte, 4))

	b.DiscardReadBytes()
	assert.Equal(t, 0, b.ReaderIndex())
	assert.Equal(t, "456789", string(b.Bytes()))
}

func TestByteBuf_SliceOfBufferMatchesDirectRead(t *testing.T) {
	b := NewUnpooled(0, 32)
	b.WriteBytes([]byte("hello world"))

	s := Slice(b, b.ReaderIndex(), b.ReadableBytes())
	direct := make([]byte, b.ReadableBytes())
	b.ReadBytes(direct)

	got := make([]byte, s.ReadableBytes())
	s.ReadBytes(got)

	assert.Equal(t, direct, got)
}

func TestByteBuf_CopyHasIndependentRefCount(t *testing.T) {
	b := NewUnpooled(0, 32)
	b.WriteBytes([]byte("payload"))

	cp := b.Copy()
	assert.True(t, b.Equals(cp))

	b.Retain()
	assert.EqualValues(t, 2, b.RefCnt())
	assert.EqualValues(t, 1, cp.RefCnt())
}

func TestByteBuf_ForEachByteFindsMatch(t *testing.T) {
	b := NewUnpooled(0, 32)
	b.WriteBytes([]byte("find-the-dash"))

	idx := b.ForEachByte(0, b.ReadableBytes(), func(c byte) bool { return c == '-' })
	assert.Equal(t, 4, idx)
}

func TestByteBuf_IndexOfFindsNeedle(t *testing.T) {
	b := NewUnpooled(0, 32)
	b.WriteBytes([]byte("the quick brown fox"))

	idx := b.IndexOf(0, []byte("brown"))
	assert.Equal(t, 10, idx)

	idx = b.IndexOf(0, []byte("nope"))
	assert.Equal(t, -1, idx)
}
