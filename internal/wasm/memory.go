package wasm

import (
	"encoding/binary"
	"errors"
)

// ErrOutOfBounds is the trap raised by any memory or table access whose
// effective address range falls outside the current size.
var ErrOutOfBounds = errors.New("out of bounds memory access")

func (m *MemoryInstance) bounds(offset uint64, size uint64) ([]byte, error) {
	if offset+size > uint64(len(m.Bytes)) || offset+size < offset {
		return nil, ErrOutOfBounds
	}
	return m.Bytes[offset : offset+size], nil
}

func (m *MemoryInstance) ReadByte(offset uint64) (byte, error) {
	b, err := m.bounds(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *MemoryInstance) WriteByte(offset uint64, v byte) error {
	b, err := m.bounds(offset, 1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (m *MemoryInstance) ReadUint16Le(offset uint64) (uint16, error) {
	b, err := m.bounds(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m *MemoryInstance) WriteUint16Le(offset uint64, v uint16) error {
	b, err := m.bounds(offset, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, v)
	return nil
}

func (m *MemoryInstance) ReadUint32Le(offset uint64) (uint32, error) {
	b, err := m.bounds(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *MemoryInstance) WriteUint32Le(offset uint64, v uint32) error {
	b, err := m.bounds(offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

func (m *MemoryInstance) ReadUint64Le(offset uint64) (uint64, error) {
	b, err := m.bounds(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *MemoryInstance) WriteUint64Le(offset uint64, v uint64) error {
	b, err := m.bounds(offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// Read copies size bytes starting at offset out of memory, for WASI iovec
// and similar bulk marshaling.
func (m *MemoryInstance) Read(offset, size uint64) ([]byte, error) {
	b, err := m.bounds(offset, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, b)
	return out, nil
}

// Write copies src into memory at offset.
func (m *MemoryInstance) Write(offset uint64, src []byte) error {
	b, err := m.bounds(offset, uint64(len(src)))
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

// Fill implements memory.fill: size bytes starting at offset are set to
// val. Per §4.3 it traps (and, on trap, leaves memory fully untouched) if
// the range is out of bounds, computed before any byte is written.
func (m *MemoryInstance) Fill(offset uint64, val byte, size uint64) error {
	b, err := m.bounds(offset, size)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = val
	}
	return nil
}

// CopyWithin implements memory.copy, which must behave correctly when the
// source and destination ranges overlap (as Go's builtin copy already
// does for byte slices sharing a backing array).
func (m *MemoryInstance) CopyWithin(dst, src, size uint64) error {
	srcBytes, err := m.bounds(src, size)
	if err != nil {
		return err
	}
	dstBytes, err := m.bounds(dst, size)
	if err != nil {
		return err
	}
	copy(dstBytes, srcBytes)
	return nil
}

// InitFrom implements memory.init: copies size bytes from a (possibly
// already-dropped, in which case any nonzero size traps) passive data
// segment into memory.
func (m *MemoryInstance) InitFrom(dst uint64, data *DataInstance, src, size uint64) error {
	if src+size > uint64(len(data.Bytes)) || src+size < src {
		return ErrOutOfBounds
	}
	dstBytes, err := m.bounds(dst, size)
	if err != nil {
		return err
	}
	copy(dstBytes, data.Bytes[src:src+size])
	return nil
}
