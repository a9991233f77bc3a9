package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerived_SliceReferencePropagation(t *testing.T) {
	a := smallArena()
	b := a.Allocate(1024, 1024, nil) // refcount 1
	require.EqualValues(t, 1, b.RefCnt())

	s := RetainedSlice(b, 0, 512) // b refcount 2
	assert.EqualValues(t, 2, b.RefCnt())

	assert.False(t, s.Release()) // b refcount 1
	assert.EqualValues(t, 1, b.RefCnt())

	assert.True(t, b.Release()) // b deallocates
	assert.EqualValues(t, 0, b.RefCnt())
}

func TestDerived_SliceIsIndependentlyRetainable(t *testing.T) {
	a := smallArena()
	b := a.Allocate(1024, 1024, nil)

	s := RetainedSlice(b, 0, 512)
	s.Retain()
	assert.EqualValues(t, 2, s.RefCnt())

	assert.False(t, s.Release())
	assert.False(t, s.Release())
	assert.EqualValues(t, 1, b.RefCnt())
}

func TestDerived_DuplicateHasIndependentIndices(t *testing.T) {
	b := NewUnpooled(0, 32)
	b.WriteBytes([]byte("0123456789"))

	d := Duplicate(b)
	d.ReadBytes(make([]byte, 4))

	assert.Equal(t, 0, b.ReaderIndex())
	assert.Equal(t, 4, d.ReaderIndex())
}

func TestDerived_ReleasingNonRetainedSliceReleasesOneParentRef(t *testing.T) {
	b := NewUnpooled(0, 32)
	b.WriteBytes([]byte("0123456789"))
	require.EqualValues(t, 1, b.RefCnt())

	s := Slice(b, 0, 5)
	assert.True(t, s.Release())
	assert.EqualValues(t, 0, b.RefCnt())
}

func TestDerived_ReleasingRetainedNTimesMatchesRetentionCount(t *testing.T) {
	a := smallArena()
	root := a.Allocate(1024, 1024, nil)

	s1 := RetainedSlice(root, 0, 100)
	s2 := RetainedSlice(root, 100, 100)
	assert.EqualValues(t, 3, root.RefCnt())

	s1.Release()
	assert.EqualValues(t, 2, root.RefCnt())
	s2.Release()
	assert.EqualValues(t, 1, root.RefCnt())
	root.Release()
}
