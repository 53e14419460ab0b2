package wasm

func (t *TableInstance) boundsCheck(offset, size uint64) error {
	if offset+size > uint64(len(t.Elements)) || offset+size < offset {
		return ErrOutOfBounds
	}
	return nil
}

func (t *TableInstance) Get(idx uint32) (Reference, error) {
	if uint64(idx) >= uint64(len(t.Elements)) {
		return 0, ErrOutOfBounds
	}
	return t.Elements[idx], nil
}

func (t *TableInstance) Set(idx uint32, ref Reference) error {
	if uint64(idx) >= uint64(len(t.Elements)) {
		return ErrOutOfBounds
	}
	t.Elements[idx] = ref
	return nil
}

// Fill implements table.fill: size slots starting at offset become ref.
func (t *TableInstance) Fill(offset uint64, ref Reference, size uint64) error {
	if err := t.boundsCheck(offset, size); err != nil {
		return err
	}
	for i := offset; i < offset+size; i++ {
		t.Elements[i] = ref
	}
	return nil
}

// CopyWithin implements table.copy, tolerating overlap like
// MemoryInstance.CopyWithin.
func (t *TableInstance) CopyWithin(dst, src, size uint64) error {
	if err := t.boundsCheck(src, size); err != nil {
		return err
	}
	if err := t.boundsCheck(dst, size); err != nil {
		return err
	}
	copy(t.Elements[dst:dst+size], t.Elements[src:src+size])
	return nil
}

// InitFrom implements table.init from a (possibly dropped) element segment.
func (t *TableInstance) InitFrom(dst uint64, elem *ElementInstance, src, size uint64) error {
	if src+size > uint64(len(elem.Refs)) || src+size < src {
		return ErrOutOfBounds
	}
	if err := t.boundsCheck(dst, size); err != nil {
		return err
	}
	copy(t.Elements[dst:dst+size], elem.Refs[src:src+size])
	return nil
}
