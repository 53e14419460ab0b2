package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newMemory(pages uint32) *MemoryInstance {
	return &MemoryInstance{
		Type:  MemoryType{Limits: Limits{Min: pages}},
		Bytes: make([]byte, uint64(pages)*MemoryPageSize),
	}
}

func TestMemoryReadWriteRoundTrip(t *testing.T) {
	m := newMemory(1)

	require.NoError(t, m.WriteUint32Le(0, 0xdeadbeef))
	v, err := m.ReadUint32Le(0)
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), v)

	require.NoError(t, m.WriteUint64Le(8, 0x0102030405060708))
	v64, err := m.ReadUint64Le(8)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), v64)
}

func TestMemoryOutOfBounds(t *testing.T) {
	m := newMemory(1)
	_, err := m.ReadUint32Le(MemoryPageSize - 3)
	require.ErrorIs(t, err, ErrOutOfBounds)

	// offset+size overflowing uint64 must also be rejected, not wrap around
	// into an in-bounds read.
	_, err = m.Read(1, ^uint64(0))
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestMemoryFill(t *testing.T) {
	m := newMemory(1)
	require.NoError(t, m.Fill(10, 0x42, 5))
	b, err := m.Read(10, 5)
	require.NoError(t, err)
	require.Equal(t, []byte{0x42, 0x42, 0x42, 0x42, 0x42}, b)

	// A fill whose range runs past the end must trap without touching any
	// byte within bounds.
	require.NoError(t, m.Fill(0, 0xff, MemoryPageSize))
	err = m.Fill(1, 0x00, MemoryPageSize)
	require.ErrorIs(t, err, ErrOutOfBounds)
	b, err = m.Read(0, MemoryPageSize)
	require.NoError(t, err)
	for _, v := range b {
		require.Equal(t, byte(0xff), v)
	}
}

func TestMemoryCopyWithinOverlap(t *testing.T) {
	m := newMemory(1)
	for i := 0; i < 10; i++ {
		require.NoError(t, m.WriteByte(uint64(i), byte(i)))
	}
	require.NoError(t, m.CopyWithin(2, 0, 8))
	b, err := m.Read(0, 10)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 0, 1, 2, 3, 4, 5, 6, 7}, b)
}

func TestMemoryGrow(t *testing.T) {
	m := newMemory(1)
	m.Type.Limits.HasMax = true
	m.Type.Limits.Max = 2

	prev, ok := m.Grow(1)
	require.True(t, ok)
	require.Equal(t, uint32(1), prev)
	require.Equal(t, uint32(2), m.PageCount())

	_, ok = m.Grow(1)
	require.False(t, ok)
	require.Equal(t, uint32(2), m.PageCount())
}

func TestMemoryInitFromDroppedSegment(t *testing.T) {
	m := newMemory(1)
	data := &DataInstance{Bytes: []byte{1, 2, 3, 4}}
	require.NoError(t, m.InitFrom(0, data, 0, 4))

	data.Drop()
	err := m.InitFrom(0, data, 0, 1)
	require.ErrorIs(t, err, ErrOutOfBounds)

	// Dropping a segment and then copying zero bytes from it is always
	// valid, matching memory.init's spec-mandated zero-length exemption.
	require.NoError(t, m.InitFrom(0, data, 0, 0))
}
