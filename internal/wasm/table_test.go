package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmkit-go/wasmkit/api"
)

func newTable(size uint32) *TableInstance {
	return &TableInstance{
		Type:     TableType{ElemType: api.ValueTypeFuncref, Limits: Limits{Min: size}},
		Elements: make([]Reference, size),
	}
}

func TestTableGetSetOutOfBounds(t *testing.T) {
	tbl := newTable(4)
	require.NoError(t, tbl.Set(1, 42))
	ref, err := tbl.Get(1)
	require.NoError(t, err)
	require.Equal(t, Reference(42), ref)

	_, err = tbl.Get(4)
	require.ErrorIs(t, err, ErrOutOfBounds)
	require.ErrorIs(t, tbl.Set(4, 1), ErrOutOfBounds)
}

func TestTableFill(t *testing.T) {
	tbl := newTable(8)
	require.NoError(t, tbl.Fill(2, 7, 3))
	for i := uint64(2); i < 5; i++ {
		require.Equal(t, Reference(7), tbl.Elements[i])
	}
	require.ErrorIs(t, tbl.Fill(6, 1, 4), ErrOutOfBounds)
}

func TestTableCopyWithinOverlap(t *testing.T) {
	tbl := newTable(8)
	for i := range tbl.Elements {
		tbl.Elements[i] = Reference(i + 1)
	}
	require.NoError(t, tbl.CopyWithin(0, 2, 4))
	require.Equal(t, []Reference{3, 4, 5, 6, 5, 6, 7, 8}, tbl.Elements)
}

func TestTableInitFromDroppedSegment(t *testing.T) {
	tbl := newTable(4)
	elem := &ElementInstance{Refs: []Reference{9, 9}}
	require.NoError(t, tbl.InitFrom(0, elem, 0, 2))
	require.Equal(t, Reference(9), tbl.Elements[0])

	elem.Drop()
	require.ErrorIs(t, tbl.InitFrom(0, elem, 0, 1), ErrOutOfBounds)
	require.NoError(t, tbl.InitFrom(0, elem, 0, 0))
}

func TestTableGrow(t *testing.T) {
	tbl := newTable(2)
	tbl.Type.Limits.HasMax = true
	tbl.Type.Limits.Max = 3

	prev, ok := tbl.Grow(1, 5)
	require.True(t, ok)
	require.Equal(t, uint32(2), prev)
	require.Equal(t, Reference(5), tbl.Elements[2])

	_, ok = tbl.Grow(1, 0)
	require.False(t, ok)
}
