package ir

import (
	"fmt"
	"math"

	"github.com/wasmkit-go/wasmkit/api"
	"github.com/wasmkit-go/wasmkit/internal/wasm"
)

// fuseBinary rewrites the just-emitted constant push (if any, and if op is
// eligible) into a single fused instruction, returning true if it did.
// Binary ops always consume their RHS (the value pushed most recently), so
// fusing is valid whenever the immediately preceding instruction was a
// const of the right kind — no operand-order change is needed since the
// const already occupied the RHS position.
func (st *lowerState) fuseBinary(op wasm.Opcode) bool {
	if !st.lastConstValid {
		return false
	}
	last := len(st.fn.Instrs) - 1
	if last < 0 {
		return false
	}
	st.fn.Instrs[last] = Instr{Op: uint32(op) | FusedConstRHS, Imm: st.lastConstImm}
	st.lastConstValid = false
	return true
}

func (st *lowerState) pushConstTracking(op wasm.Opcode, imm uint64, t api.ValueType) {
	st.lastConstValid = true
	st.lastConstImm = imm
	st.lastConstType = t
}

func (st *lowerState) lowerPlain(c *byteCursor, op wasm.Opcode) error {
	switch op {
	case wasm.OpcodeNop:
		return nil
	case wasm.OpcodeUnreachable:
		st.emit(Instr{Op: uint32(op)})
		return nil

	case wasm.OpcodeBr:
		depth, err := c.u32()
		if err != nil {
			return err
		}
		idx := st.emit(Instr{Op: uint32(op)})
		return st.resolveBranch(depth, idx, false, 0, false)

	case wasm.OpcodeBrIf:
		depth, err := c.u32()
		if err != nil {
			return err
		}
		st.height--
		idx := st.emit(Instr{Op: uint32(op)})
		if err := st.resolveBranch(depth, idx, false, 0, false); err != nil {
			return err
		}
		// BrIf's not-taken arm falls straight through to the next
		// instruction with nothing to keep/drop.
		st.fn.Instrs[idx].BrElse = BrTarget{PC: st.pc()}
		return nil

	case wasm.OpcodeBrTable:
		n, err := c.u32()
		if err != nil {
			return err
		}
		targets := make([]BrTarget, n+1)
		idx := st.emit(Instr{Op: uint32(op), Targets: targets})
		st.height--
		for i := uint32(0); i < n; i++ {
			d, err := c.u32()
			if err != nil {
				return err
			}
			if err := st.resolveBranch(d, idx, false, int(i), true); err != nil {
				return err
			}
		}
		d, err := c.u32()
		if err != nil {
			return err
		}
		return st.resolveBranch(d, idx, false, int(n), true)

	case wasm.OpcodeReturn:
		st.emit(Instr{Op: uint32(op)})
		return nil

	case wasm.OpcodeCall:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		fn := st.module.TypeOfFunction(idx)
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		if fn != nil {
			st.height += len(fn.Results) - len(fn.Params)
		}
		return nil

	case wasm.OpcodeCallIndirect:
		typeIdx, err := c.u32()
		if err != nil {
			return err
		}
		tableIdx, err := c.u32()
		if err != nil {
			return err
		}
		st.height-- // table index operand
		ft := st.module.TypeSection[typeIdx]
		st.emit(Instr{Op: uint32(op), Imm: uint64(typeIdx), Imm2: uint64(tableIdx)})
		st.height += len(ft.Results) - len(ft.Params)
		return nil

	case wasm.OpcodeDrop:
		st.height--
		st.emit(Instr{Op: uint32(op)})
		return nil

	case wasm.OpcodeSelect:
		st.height -= 2
		st.emit(Instr{Op: uint32(op)})
		return nil

	case wasm.OpcodeLocalGet:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		st.height++
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		return nil

	case wasm.OpcodeLocalSet, wasm.OpcodeLocalTee:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		if op == wasm.OpcodeLocalSet {
			st.height--
		}
		if FusionEnabled && st.lastConstValid {
			last := len(st.fn.Instrs) - 1
			fused := OpLocalSetConst
			if op == wasm.OpcodeLocalTee {
				fused = OpLocalTeeConst
			}
			st.fn.Instrs[last] = Instr{Op: fused, Imm: uint64(idx), Imm2: st.lastConstImm}
			st.lastConstValid = false
			return nil
		}
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		return nil

	case wasm.OpcodeGlobalGet:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		st.height++
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		return nil

	case wasm.OpcodeGlobalSet:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		st.height--
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		return nil

	case wasm.OpcodeTableGet, wasm.OpcodeTableSet:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		if op == wasm.OpcodeTableSet {
			st.height -= 2
		}
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		return nil

	case wasm.OpcodeMemorySize:
		if _, err := c.u32(); err != nil { // reserved byte
			return err
		}
		st.height++
		st.emit(Instr{Op: uint32(op)})
		return nil
	case wasm.OpcodeMemoryGrow:
		if _, err := c.u32(); err != nil {
			return err
		}
		st.emit(Instr{Op: uint32(op)})
		return nil

	case wasm.OpcodeI32Const:
		v, err := c.i32()
		if err != nil {
			return err
		}
		st.height++
		idx := st.emit(Instr{Op: uint32(op), Imm: uint64(uint32(v))})
		st.pushConstTracking(op, st.fn.Instrs[idx].Imm, api.ValueTypeI32)
		return nil
	case wasm.OpcodeI64Const:
		v, err := c.i64()
		if err != nil {
			return err
		}
		st.height++
		idx := st.emit(Instr{Op: uint32(op), Imm: uint64(v)})
		st.pushConstTracking(op, st.fn.Instrs[idx].Imm, api.ValueTypeI64)
		return nil
	case wasm.OpcodeF32Const:
		v, err := c.f32()
		if err != nil {
			return err
		}
		st.height++
		idx := st.emit(Instr{Op: uint32(op), Imm: uint64(f32bits(v))})
		st.pushConstTracking(op, st.fn.Instrs[idx].Imm, api.ValueTypeF32)
		return nil
	case wasm.OpcodeF64Const:
		v, err := c.f64()
		if err != nil {
			return err
		}
		st.height++
		idx := st.emit(Instr{Op: uint32(op), Imm: f64bits(v)})
		st.pushConstTracking(op, st.fn.Instrs[idx].Imm, api.ValueTypeF64)
		return nil

	case wasm.OpcodeRefNull:
		if _, err := c.u32(); err != nil { // reftype byte, consumed as LEB for simplicity (single byte, no continuation)
			return err
		}
		st.height++
		st.emit(Instr{Op: uint32(op)})
		return nil
	case wasm.OpcodeRefIsNull:
		st.emit(Instr{Op: uint32(op)})
		return nil
	case wasm.OpcodeRefFunc:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		st.height++
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		return nil

	case wasm.OpcodeMemoryInit:
		dataIdx, err := c.u32()
		if err != nil {
			return err
		}
		if _, err := c.u32(); err != nil { // memory index, always 0
			return err
		}
		st.height -= 3
		st.emit(Instr{Op: uint32(op), Imm: uint64(dataIdx)})
		return nil
	case wasm.OpcodeDataDrop:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		return nil
	case wasm.OpcodeMemoryCopy:
		if _, err := c.u32(); err != nil {
			return err
		}
		if _, err := c.u32(); err != nil {
			return err
		}
		st.height -= 3
		st.emit(Instr{Op: uint32(op)})
		return nil
	case wasm.OpcodeMemoryFill:
		if _, err := c.u32(); err != nil {
			return err
		}
		st.height -= 3
		st.emit(Instr{Op: uint32(op)})
		return nil
	case wasm.OpcodeTableInit:
		elemIdx, err := c.u32()
		if err != nil {
			return err
		}
		tableIdx, err := c.u32()
		if err != nil {
			return err
		}
		st.height -= 3
		st.emit(Instr{Op: uint32(op), Imm: uint64(elemIdx), Imm2: uint64(tableIdx)})
		return nil
	case wasm.OpcodeElemDrop:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		return nil
	case wasm.OpcodeTableCopy:
		dst, err := c.u32()
		if err != nil {
			return err
		}
		src, err := c.u32()
		if err != nil {
			return err
		}
		st.height -= 3
		st.emit(Instr{Op: uint32(op), Imm: uint64(dst), Imm2: uint64(src)})
		return nil
	case wasm.OpcodeTableGrow:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		st.height--
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		return nil
	case wasm.OpcodeTableSize:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		st.height++
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		return nil
	case wasm.OpcodeTableFill:
		idx, err := c.u32()
		if err != nil {
			return err
		}
		st.height -= 3
		st.emit(Instr{Op: uint32(op), Imm: uint64(idx)})
		return nil
	}

	if isLoadOpcode(op) {
		return st.lowerLoad(c, op)
	}
	if isStoreOpcode(op) {
		return st.lowerStore(c, op)
	}
	if isUnaryOpcode(op) {
		st.emit(Instr{Op: uint32(op)})
		return nil
	}
	if isBinaryOpcode(op) {
		st.height--
		if !FusionEnabled || !st.fuseBinary(op) {
			st.emit(Instr{Op: uint32(op)})
		}
		return nil
	}
	if isConvertOpcode(op) {
		st.emit(Instr{Op: uint32(op)})
		return nil
	}

	return fmt.Errorf("ir: unsupported opcode %#x", op)
}

func (st *lowerState) lowerLoad(c *byteCursor, op wasm.Opcode) error {
	if _, err := c.u32(); err != nil { // align
		return err
	}
	offset, err := c.u32()
	if err != nil {
		return err
	}
	if FusionEnabled && st.lastConstValid && st.lastConstType == api.ValueTypeI32 {
		last := len(st.fn.Instrs) - 1
		addr := uint64(uint32(st.lastConstImm)) + uint64(offset)
		st.fn.Instrs[last] = Instr{Op: uint32(op) | FusedConstAddr, Imm: addr}
		st.lastConstValid = false
		return nil
	}
	st.emit(Instr{Op: uint32(op), Imm: uint64(offset)})
	return nil
}

func (st *lowerState) lowerStore(c *byteCursor, op wasm.Opcode) error {
	if _, err := c.u32(); err != nil { // align
		return err
	}
	offset, err := c.u32()
	if err != nil {
		return err
	}
	st.height -= 2
	if FusionEnabled && st.lastConstValid {
		last := len(st.fn.Instrs) - 1
		if last >= 0 && st.fn.Instrs[last].Op&FusedMask == 0 && isConstPush(wasm.Opcode(st.fn.Instrs[last].Op)) {
			val := st.lastConstImm
			st.fn.Instrs = st.fn.Instrs[:last]
			st.emit(Instr{Op: uint32(op) | FusedConstVal, Imm: uint64(offset), Imm2: val})
			st.lastConstValid = false
			return nil
		}
	}
	st.emit(Instr{Op: uint32(op), Imm: uint64(offset)})
	return nil
}

func isConstPush(op wasm.Opcode) bool {
	switch op {
	case wasm.OpcodeI32Const, wasm.OpcodeI64Const, wasm.OpcodeF32Const, wasm.OpcodeF64Const:
		return true
	}
	return false
}

func isLoadOpcode(op wasm.Opcode) bool {
	return op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Load32U
}

func isStoreOpcode(op wasm.Opcode) bool {
	return op >= wasm.OpcodeI32Store && op <= wasm.OpcodeI64Store32
}

func isUnaryOpcode(op wasm.Opcode) bool {
	switch {
	case op == wasm.OpcodeI32Eqz || op == wasm.OpcodeI64Eqz:
		return true
	case op >= wasm.OpcodeI32Clz && op <= wasm.OpcodeI32Popcnt:
		return true
	case op >= wasm.OpcodeI64Clz && op <= wasm.OpcodeI64Popcnt:
		return true
	case op >= wasm.OpcodeF32Abs && op <= wasm.OpcodeF32Sqrt:
		return true
	case op >= wasm.OpcodeF64Abs && op <= wasm.OpcodeF64Sqrt:
		return true
	case op == wasm.OpcodeI32Extend8S || op == wasm.OpcodeI32Extend16S:
		return true
	case op == wasm.OpcodeI64Extend8S || op == wasm.OpcodeI64Extend16S || op == wasm.OpcodeI64Extend32S:
		return true
	}
	return false
}

func isBinaryOpcode(op wasm.Opcode) bool {
	switch {
	case op >= wasm.OpcodeI32Eq && op <= wasm.OpcodeI32GeU:
		return true
	case op >= wasm.OpcodeI64Eq && op <= wasm.OpcodeI64GeU:
		return true
	case op >= wasm.OpcodeF32Eq && op <= wasm.OpcodeF32Ge:
		return true
	case op >= wasm.OpcodeF64Eq && op <= wasm.OpcodeF64Ge:
		return true
	case op >= wasm.OpcodeI32Add && op <= wasm.OpcodeI32Rotr:
		return true
	case op >= wasm.OpcodeI64Add && op <= wasm.OpcodeI64Rotr:
		return true
	case op >= wasm.OpcodeF32Add && op <= wasm.OpcodeF32Copysign:
		return true
	case op >= wasm.OpcodeF64Add && op <= wasm.OpcodeF64Copysign:
		return true
	}
	return false
}

func isConvertOpcode(op wasm.Opcode) bool {
	switch {
	case op >= wasm.OpcodeI32WrapI64 && op <= wasm.OpcodeF64PromoteF32:
		return true
	case op >= wasm.OpcodeI32ReinterpretF32 && op <= wasm.OpcodeF64ReinterpretI64:
		return true
	case op >= wasm.OpcodeI32TruncSatF32S && op <= wasm.OpcodeI64TruncSatF64U:
		return true
	}
	return false
}

func f32bits(v float32) uint32 {
	return math.Float32bits(v)
}

func f64bits(v float64) uint64 {
	return math.Float64bits(v)
}
