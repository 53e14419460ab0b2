package interpreter

import (
	"math"
	"math/bits"

	"github.com/wasmkit-go/wasmkit/internal/ir"
	"github.com/wasmkit-go/wasmkit/internal/moremath"
	"github.com/wasmkit-go/wasmkit/internal/wasm"
)

func isLoadBase(base uint32) bool {
	return base >= uint32(wasm.OpcodeI32Load) && base <= uint32(wasm.OpcodeI64Load32U)
}

func isStoreBase(base uint32) bool {
	return base >= uint32(wasm.OpcodeI32Store) && base <= uint32(wasm.OpcodeI64Store32)
}

func isUnaryBase(base uint32) bool {
	switch wasm.Opcode(base) {
	case wasm.OpcodeI32Eqz, wasm.OpcodeI64Eqz,
		wasm.OpcodeI32Extend8S, wasm.OpcodeI32Extend16S,
		wasm.OpcodeI64Extend8S, wasm.OpcodeI64Extend16S, wasm.OpcodeI64Extend32S:
		return true
	}
	o := wasm.Opcode(base)
	return (o >= wasm.OpcodeI32Clz && o <= wasm.OpcodeI32Popcnt) ||
		(o >= wasm.OpcodeI64Clz && o <= wasm.OpcodeI64Popcnt) ||
		(o >= wasm.OpcodeF32Abs && o <= wasm.OpcodeF32Sqrt) ||
		(o >= wasm.OpcodeF64Abs && o <= wasm.OpcodeF64Sqrt)
}

func isBinaryBase(base uint32) bool {
	o := wasm.Opcode(base)
	return (o >= wasm.OpcodeI32Eq && o <= wasm.OpcodeI32GeU) ||
		(o >= wasm.OpcodeI64Eq && o <= wasm.OpcodeI64GeU) ||
		(o >= wasm.OpcodeF32Eq && o <= wasm.OpcodeF32Ge) ||
		(o >= wasm.OpcodeF64Eq && o <= wasm.OpcodeF64Ge) ||
		(o >= wasm.OpcodeI32Add && o <= wasm.OpcodeI32Rotr) ||
		(o >= wasm.OpcodeI64Add && o <= wasm.OpcodeI64Rotr) ||
		(o >= wasm.OpcodeF32Add && o <= wasm.OpcodeF32Copysign) ||
		(o >= wasm.OpcodeF64Add && o <= wasm.OpcodeF64Copysign)
}

func isConvertBase(base uint32) bool {
	o := wasm.Opcode(base)
	return (o >= wasm.OpcodeI32WrapI64 && o <= wasm.OpcodeF64PromoteF32) ||
		(o >= wasm.OpcodeI32ReinterpretF32 && o <= wasm.OpcodeF64ReinterpretI64) ||
		(o >= wasm.OpcodeI32TruncSatF32S && o <= wasm.OpcodeI64TruncSatF64U)
}

func (ce *callEngine) execLoad(fr *frame, in *ir.Instr, base uint32) {
	var addr uint64
	if in.Op&ir.FusedConstAddr != 0 {
		addr = in.Imm
	} else {
		addr = uint64(uint32(ce.pop())) + in.Imm
	}
	mem := fr.fn.Module.Memory
	switch wasm.Opcode(base) {
	case wasm.OpcodeI32Load, wasm.OpcodeF32Load:
		v, err := mem.ReadUint32Le(addr)
		mustNotFault(err)
		ce.push(uint64(v))
	case wasm.OpcodeI64Load, wasm.OpcodeF64Load:
		v, err := mem.ReadUint64Le(addr)
		mustNotFault(err)
		ce.push(v)
	case wasm.OpcodeI32Load8S:
		v, err := mem.ReadByte(addr)
		mustNotFault(err)
		ce.push(uint64(uint32(int32(int8(v)))))
	case wasm.OpcodeI32Load8U:
		v, err := mem.ReadByte(addr)
		mustNotFault(err)
		ce.push(uint64(v))
	case wasm.OpcodeI32Load16S:
		v, err := mem.ReadUint16Le(addr)
		mustNotFault(err)
		ce.push(uint64(uint32(int32(int16(v)))))
	case wasm.OpcodeI32Load16U:
		v, err := mem.ReadUint16Le(addr)
		mustNotFault(err)
		ce.push(uint64(v))
	case wasm.OpcodeI64Load8S:
		v, err := mem.ReadByte(addr)
		mustNotFault(err)
		ce.push(uint64(int64(int8(v))))
	case wasm.OpcodeI64Load8U:
		v, err := mem.ReadByte(addr)
		mustNotFault(err)
		ce.push(uint64(v))
	case wasm.OpcodeI64Load16S:
		v, err := mem.ReadUint16Le(addr)
		mustNotFault(err)
		ce.push(uint64(int64(int16(v))))
	case wasm.OpcodeI64Load16U:
		v, err := mem.ReadUint16Le(addr)
		mustNotFault(err)
		ce.push(uint64(v))
	case wasm.OpcodeI64Load32S:
		v, err := mem.ReadUint32Le(addr)
		mustNotFault(err)
		ce.push(uint64(int64(int32(v))))
	case wasm.OpcodeI64Load32U:
		v, err := mem.ReadUint32Le(addr)
		mustNotFault(err)
		ce.push(uint64(v))
	}
}

func mustNotFault(err error) {
	if err != nil {
		panic(ErrOutOfBoundsMemoryAccess)
	}
}

func (ce *callEngine) execStore(fr *frame, in *ir.Instr, base uint32) {
	var val uint64
	if in.Op&ir.FusedConstVal != 0 {
		val = in.Imm2
	} else {
		val = ce.pop()
	}
	addr := uint64(uint32(ce.pop())) + in.Imm
	mem := fr.fn.Module.Memory
	var err error
	switch wasm.Opcode(base) {
	case wasm.OpcodeI32Store, wasm.OpcodeF32Store:
		err = mem.WriteUint32Le(addr, uint32(val))
	case wasm.OpcodeI64Store, wasm.OpcodeF64Store:
		err = mem.WriteUint64Le(addr, val)
	case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
		err = mem.WriteByte(addr, byte(val))
	case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
		err = mem.WriteUint16Le(addr, uint16(val))
	case wasm.OpcodeI64Store32:
		err = mem.WriteUint32Le(addr, uint32(val))
	}
	mustNotFault(err)
}

func (ce *callEngine) execUnary(base uint32) {
	switch wasm.Opcode(base) {
	case wasm.OpcodeI32Eqz:
		ce.push(boolToU64(uint32(ce.pop()) == 0))
	case wasm.OpcodeI64Eqz:
		ce.push(boolToU64(ce.pop() == 0))
	case wasm.OpcodeI32Clz:
		ce.push(uint64(bits.LeadingZeros32(uint32(ce.pop()))))
	case wasm.OpcodeI32Ctz:
		ce.push(uint64(bits.TrailingZeros32(uint32(ce.pop()))))
	case wasm.OpcodeI32Popcnt:
		ce.push(uint64(bits.OnesCount32(uint32(ce.pop()))))
	case wasm.OpcodeI64Clz:
		ce.push(uint64(bits.LeadingZeros64(ce.pop())))
	case wasm.OpcodeI64Ctz:
		ce.push(uint64(bits.TrailingZeros64(ce.pop())))
	case wasm.OpcodeI64Popcnt:
		ce.push(uint64(bits.OnesCount64(ce.pop())))
	case wasm.OpcodeI32Extend8S:
		ce.push(uint64(uint32(int32(int8(uint8(ce.pop()))))))
	case wasm.OpcodeI32Extend16S:
		ce.push(uint64(uint32(int32(int16(uint16(ce.pop()))))))
	case wasm.OpcodeI64Extend8S:
		ce.push(uint64(int64(int8(uint8(ce.pop())))))
	case wasm.OpcodeI64Extend16S:
		ce.push(uint64(int64(int16(uint16(ce.pop())))))
	case wasm.OpcodeI64Extend32S:
		ce.push(uint64(int64(int32(uint32(ce.pop())))))
	case wasm.OpcodeF32Abs:
		ce.push(uint64(math.Float32bits(float32(math.Abs(float64(math.Float32frombits(uint32(ce.pop()))))))))
	case wasm.OpcodeF32Neg:
		ce.push(uint64(math.Float32bits(-math.Float32frombits(uint32(ce.pop())))))
	case wasm.OpcodeF32Ceil:
		ce.push(uint64(math.Float32bits(float32(math.Ceil(float64(math.Float32frombits(uint32(ce.pop()))))))))
	case wasm.OpcodeF32Floor:
		ce.push(uint64(math.Float32bits(float32(math.Floor(float64(math.Float32frombits(uint32(ce.pop()))))))))
	case wasm.OpcodeF32Trunc:
		ce.push(uint64(math.Float32bits(float32(math.Trunc(float64(math.Float32frombits(uint32(ce.pop()))))))))
	case wasm.OpcodeF32Nearest:
		ce.push(uint64(math.Float32bits(float32(math.RoundToEven(float64(math.Float32frombits(uint32(ce.pop()))))))))
	case wasm.OpcodeF32Sqrt:
		ce.push(uint64(math.Float32bits(float32(math.Sqrt(float64(math.Float32frombits(uint32(ce.pop()))))))))
	case wasm.OpcodeF64Abs:
		ce.push(math.Float64bits(math.Abs(math.Float64frombits(ce.pop()))))
	case wasm.OpcodeF64Neg:
		ce.push(math.Float64bits(-math.Float64frombits(ce.pop())))
	case wasm.OpcodeF64Ceil:
		ce.push(math.Float64bits(math.Ceil(math.Float64frombits(ce.pop()))))
	case wasm.OpcodeF64Floor:
		ce.push(math.Float64bits(math.Floor(math.Float64frombits(ce.pop()))))
	case wasm.OpcodeF64Trunc:
		ce.push(math.Float64bits(math.Trunc(math.Float64frombits(ce.pop()))))
	case wasm.OpcodeF64Nearest:
		ce.push(math.Float64bits(math.RoundToEven(math.Float64frombits(ce.pop()))))
	case wasm.OpcodeF64Sqrt:
		ce.push(math.Float64bits(math.Sqrt(math.Float64frombits(ce.pop()))))
	}
}

func (ce *callEngine) execBinary(in *ir.Instr, base uint32) {
	var v1, v2 uint64
	if in.Op&ir.FusedConstRHS != 0 {
		v2 = in.Imm
		v1 = ce.pop()
	} else {
		v2 = ce.pop()
		v1 = ce.pop()
	}
	switch wasm.Opcode(base) {
	case wasm.OpcodeI32Eq:
		ce.push(boolToU64(uint32(v1) == uint32(v2)))
	case wasm.OpcodeI32Ne:
		ce.push(boolToU64(uint32(v1) != uint32(v2)))
	case wasm.OpcodeI32LtS:
		ce.push(boolToU64(int32(v1) < int32(v2)))
	case wasm.OpcodeI32LtU:
		ce.push(boolToU64(uint32(v1) < uint32(v2)))
	case wasm.OpcodeI32GtS:
		ce.push(boolToU64(int32(v1) > int32(v2)))
	case wasm.OpcodeI32GtU:
		ce.push(boolToU64(uint32(v1) > uint32(v2)))
	case wasm.OpcodeI32LeS:
		ce.push(boolToU64(int32(v1) <= int32(v2)))
	case wasm.OpcodeI32LeU:
		ce.push(boolToU64(uint32(v1) <= uint32(v2)))
	case wasm.OpcodeI32GeS:
		ce.push(boolToU64(int32(v1) >= int32(v2)))
	case wasm.OpcodeI32GeU:
		ce.push(boolToU64(uint32(v1) >= uint32(v2)))

	case wasm.OpcodeI64Eq:
		ce.push(boolToU64(v1 == v2))
	case wasm.OpcodeI64Ne:
		ce.push(boolToU64(v1 != v2))
	case wasm.OpcodeI64LtS:
		ce.push(boolToU64(int64(v1) < int64(v2)))
	case wasm.OpcodeI64LtU:
		ce.push(boolToU64(v1 < v2))
	case wasm.OpcodeI64GtS:
		ce.push(boolToU64(int64(v1) > int64(v2)))
	case wasm.OpcodeI64GtU:
		ce.push(boolToU64(v1 > v2))
	case wasm.OpcodeI64LeS:
		ce.push(boolToU64(int64(v1) <= int64(v2)))
	case wasm.OpcodeI64LeU:
		ce.push(boolToU64(v1 <= v2))
	case wasm.OpcodeI64GeS:
		ce.push(boolToU64(int64(v1) >= int64(v2)))
	case wasm.OpcodeI64GeU:
		ce.push(boolToU64(v1 >= v2))

	case wasm.OpcodeF32Eq, wasm.OpcodeF32Ne, wasm.OpcodeF32Lt, wasm.OpcodeF32Gt, wasm.OpcodeF32Le, wasm.OpcodeF32Ge:
		f1 := math.Float32frombits(uint32(v1))
		f2 := math.Float32frombits(uint32(v2))
		ce.push(f32Compare(wasm.Opcode(base), f1, f2))
	case wasm.OpcodeF64Eq, wasm.OpcodeF64Ne, wasm.OpcodeF64Lt, wasm.OpcodeF64Gt, wasm.OpcodeF64Le, wasm.OpcodeF64Ge:
		f1 := math.Float64frombits(v1)
		f2 := math.Float64frombits(v2)
		ce.push(f64Compare(wasm.Opcode(base), f1, f2))

	case wasm.OpcodeI32Add:
		ce.push(uint64(uint32(v1) + uint32(v2)))
	case wasm.OpcodeI32Sub:
		ce.push(uint64(uint32(v1) - uint32(v2)))
	case wasm.OpcodeI32Mul:
		ce.push(uint64(uint32(v1) * uint32(v2)))
	case wasm.OpcodeI32DivS:
		n, d := int32(v1), int32(v2)
		if d == 0 {
			panic(ErrIntegerDivideByZero)
		}
		if n == math.MinInt32 && d == -1 {
			panic(ErrIntegerOverflow)
		}
		ce.push(uint64(uint32(n / d)))
	case wasm.OpcodeI32DivU:
		if uint32(v2) == 0 {
			panic(ErrIntegerDivideByZero)
		}
		ce.push(uint64(uint32(v1) / uint32(v2)))
	case wasm.OpcodeI32RemS:
		if int32(v2) == 0 {
			panic(ErrIntegerDivideByZero)
		}
		ce.push(uint64(uint32(int32(v1) % int32(v2))))
	case wasm.OpcodeI32RemU:
		if uint32(v2) == 0 {
			panic(ErrIntegerDivideByZero)
		}
		ce.push(uint64(uint32(v1) % uint32(v2)))
	case wasm.OpcodeI32And:
		ce.push(uint64(uint32(v1) & uint32(v2)))
	case wasm.OpcodeI32Or:
		ce.push(uint64(uint32(v1) | uint32(v2)))
	case wasm.OpcodeI32Xor:
		ce.push(uint64(uint32(v1) ^ uint32(v2)))
	case wasm.OpcodeI32Shl:
		ce.push(uint64(uint32(v1) << (uint32(v2) % 32)))
	case wasm.OpcodeI32ShrS:
		ce.push(uint64(uint32(int32(v1) >> (uint32(v2) % 32))))
	case wasm.OpcodeI32ShrU:
		ce.push(uint64(uint32(v1) >> (uint32(v2) % 32)))
	case wasm.OpcodeI32Rotl:
		ce.push(uint64(bits.RotateLeft32(uint32(v1), int(uint32(v2)%32))))
	case wasm.OpcodeI32Rotr:
		ce.push(uint64(bits.RotateLeft32(uint32(v1), -int(uint32(v2)%32))))

	case wasm.OpcodeI64Add:
		ce.push(v1 + v2)
	case wasm.OpcodeI64Sub:
		ce.push(v1 - v2)
	case wasm.OpcodeI64Mul:
		ce.push(v1 * v2)
	case wasm.OpcodeI64DivS:
		n, d := int64(v1), int64(v2)
		if d == 0 {
			panic(ErrIntegerDivideByZero)
		}
		if n == math.MinInt64 && d == -1 {
			panic(ErrIntegerOverflow)
		}
		ce.push(uint64(n / d))
	case wasm.OpcodeI64DivU:
		if v2 == 0 {
			panic(ErrIntegerDivideByZero)
		}
		ce.push(v1 / v2)
	case wasm.OpcodeI64RemS:
		if v2 == 0 {
			panic(ErrIntegerDivideByZero)
		}
		ce.push(uint64(int64(v1) % int64(v2)))
	case wasm.OpcodeI64RemU:
		if v2 == 0 {
			panic(ErrIntegerDivideByZero)
		}
		ce.push(v1 % v2)
	case wasm.OpcodeI64And:
		ce.push(v1 & v2)
	case wasm.OpcodeI64Or:
		ce.push(v1 | v2)
	case wasm.OpcodeI64Xor:
		ce.push(v1 ^ v2)
	case wasm.OpcodeI64Shl:
		ce.push(v1 << (v2 % 64))
	case wasm.OpcodeI64ShrS:
		ce.push(uint64(int64(v1) >> (v2 % 64)))
	case wasm.OpcodeI64ShrU:
		ce.push(v1 >> (v2 % 64))
	case wasm.OpcodeI64Rotl:
		ce.push(bits.RotateLeft64(v1, int(v2%64)))
	case wasm.OpcodeI64Rotr:
		ce.push(bits.RotateLeft64(v1, -int(v2%64)))

	case wasm.OpcodeF32Add:
		ce.push(uint64(math.Float32bits(math.Float32frombits(uint32(v1)) + math.Float32frombits(uint32(v2)))))
	case wasm.OpcodeF32Sub:
		ce.push(uint64(math.Float32bits(math.Float32frombits(uint32(v1)) - math.Float32frombits(uint32(v2)))))
	case wasm.OpcodeF32Mul:
		ce.push(uint64(math.Float32bits(math.Float32frombits(uint32(v1)) * math.Float32frombits(uint32(v2)))))
	case wasm.OpcodeF32Div:
		ce.push(uint64(math.Float32bits(math.Float32frombits(uint32(v1)) / math.Float32frombits(uint32(v2)))))
	case wasm.OpcodeF32Min:
		ce.push(uint64(math.Float32bits(float32(moremath.WasmFloatMin(float64(math.Float32frombits(uint32(v1))), float64(math.Float32frombits(uint32(v2))))))))
	case wasm.OpcodeF32Max:
		ce.push(uint64(math.Float32bits(float32(moremath.WasmFloatMax(float64(math.Float32frombits(uint32(v1))), float64(math.Float32frombits(uint32(v2))))))))
	case wasm.OpcodeF32Copysign:
		ce.push(uint64(math.Float32bits(float32(math.Copysign(float64(math.Float32frombits(uint32(v1))), float64(math.Float32frombits(uint32(v2))))))))

	case wasm.OpcodeF64Add:
		ce.push(math.Float64bits(math.Float64frombits(v1) + math.Float64frombits(v2)))
	case wasm.OpcodeF64Sub:
		ce.push(math.Float64bits(math.Float64frombits(v1) - math.Float64frombits(v2)))
	case wasm.OpcodeF64Mul:
		ce.push(math.Float64bits(math.Float64frombits(v1) * math.Float64frombits(v2)))
	case wasm.OpcodeF64Div:
		ce.push(math.Float64bits(math.Float64frombits(v1) / math.Float64frombits(v2)))
	case wasm.OpcodeF64Min:
		ce.push(math.Float64bits(moremath.WasmFloatMin(math.Float64frombits(v1), math.Float64frombits(v2))))
	case wasm.OpcodeF64Max:
		ce.push(math.Float64bits(moremath.WasmFloatMax(math.Float64frombits(v1), math.Float64frombits(v2))))
	case wasm.OpcodeF64Copysign:
		ce.push(math.Float64bits(math.Copysign(math.Float64frombits(v1), math.Float64frombits(v2))))
	}
}

func f32Compare(op wasm.Opcode, f1, f2 float32) uint64 {
	switch op {
	case wasm.OpcodeF32Eq:
		return boolToU64(f1 == f2)
	case wasm.OpcodeF32Ne:
		return boolToU64(f1 != f2)
	case wasm.OpcodeF32Lt:
		return boolToU64(f1 < f2)
	case wasm.OpcodeF32Gt:
		return boolToU64(f1 > f2)
	case wasm.OpcodeF32Le:
		return boolToU64(f1 <= f2)
	default:
		return boolToU64(f1 >= f2)
	}
}

func f64Compare(op wasm.Opcode, f1, f2 float64) uint64 {
	switch op {
	case wasm.OpcodeF64Eq:
		return boolToU64(f1 == f2)
	case wasm.OpcodeF64Ne:
		return boolToU64(f1 != f2)
	case wasm.OpcodeF64Lt:
		return boolToU64(f1 < f2)
	case wasm.OpcodeF64Gt:
		return boolToU64(f1 > f2)
	case wasm.OpcodeF64Le:
		return boolToU64(f1 <= f2)
	default:
		return boolToU64(f1 >= f2)
	}
}

func (ce *callEngine) execConvert(base uint32) {
	switch wasm.Opcode(base) {
	case wasm.OpcodeI32WrapI64:
		ce.push(uint64(uint32(ce.pop())))
	case wasm.OpcodeI64ExtendI32S:
		ce.push(uint64(int64(int32(ce.pop()))))
	case wasm.OpcodeI64ExtendI32U:
		ce.push(uint64(uint32(ce.pop())))

	case wasm.OpcodeI32TruncF32S:
		ce.push(uint64(uint32(truncChecked(float64(math.Float32frombits(uint32(ce.pop()))), true, false))))
	case wasm.OpcodeI32TruncF32U:
		ce.push(uint64(uint32(truncChecked(float64(math.Float32frombits(uint32(ce.pop()))), false, false))))
	case wasm.OpcodeI32TruncF64S:
		ce.push(uint64(uint32(truncChecked(math.Float64frombits(ce.pop()), true, false))))
	case wasm.OpcodeI32TruncF64U:
		ce.push(uint64(uint32(truncChecked(math.Float64frombits(ce.pop()), false, false))))
	case wasm.OpcodeI64TruncF32S:
		ce.push(uint64(truncChecked(float64(math.Float32frombits(uint32(ce.pop()))), true, true)))
	case wasm.OpcodeI64TruncF32U:
		ce.push(uint64(truncChecked(float64(math.Float32frombits(uint32(ce.pop()))), false, true)))
	case wasm.OpcodeI64TruncF64S:
		ce.push(uint64(truncChecked(math.Float64frombits(ce.pop()), true, true)))
	case wasm.OpcodeI64TruncF64U:
		ce.push(uint64(truncChecked(math.Float64frombits(ce.pop()), false, true)))

	case wasm.OpcodeF32ConvertI32S:
		ce.push(uint64(math.Float32bits(float32(int32(ce.pop())))))
	case wasm.OpcodeF32ConvertI32U:
		ce.push(uint64(math.Float32bits(float32(uint32(ce.pop())))))
	case wasm.OpcodeF32ConvertI64S:
		ce.push(uint64(math.Float32bits(float32(int64(ce.pop())))))
	case wasm.OpcodeF32ConvertI64U:
		ce.push(uint64(math.Float32bits(float32(ce.pop()))))
	case wasm.OpcodeF32DemoteF64:
		ce.push(uint64(math.Float32bits(float32(math.Float64frombits(ce.pop())))))

	case wasm.OpcodeF64ConvertI32S:
		ce.push(math.Float64bits(float64(int32(ce.pop()))))
	case wasm.OpcodeF64ConvertI32U:
		ce.push(math.Float64bits(float64(uint32(ce.pop()))))
	case wasm.OpcodeF64ConvertI64S:
		ce.push(math.Float64bits(float64(int64(ce.pop()))))
	case wasm.OpcodeF64ConvertI64U:
		ce.push(math.Float64bits(float64(ce.pop())))
	case wasm.OpcodeF64PromoteF32:
		ce.push(math.Float64bits(float64(math.Float32frombits(uint32(ce.pop())))))

	case wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64:
		// Bits are already in the right representation on the stack.
	case wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF64ReinterpretI64:
		// Likewise: reinterpret is a type-system fiction at this level.

	case wasm.OpcodeI32TruncSatF32S:
		ce.push(uint64(uint32(truncSat(float64(math.Float32frombits(uint32(ce.pop()))), true, false))))
	case wasm.OpcodeI32TruncSatF32U:
		ce.push(uint64(uint32(truncSat(float64(math.Float32frombits(uint32(ce.pop()))), false, false))))
	case wasm.OpcodeI32TruncSatF64S:
		ce.push(uint64(uint32(truncSat(math.Float64frombits(ce.pop()), true, false))))
	case wasm.OpcodeI32TruncSatF64U:
		ce.push(uint64(uint32(truncSat(math.Float64frombits(ce.pop()), false, false))))
	case wasm.OpcodeI64TruncSatF32S:
		ce.push(uint64(truncSat(float64(math.Float32frombits(uint32(ce.pop()))), true, true)))
	case wasm.OpcodeI64TruncSatF32U:
		ce.push(uint64(truncSat(float64(math.Float32frombits(uint32(ce.pop()))), false, true)))
	case wasm.OpcodeI64TruncSatF64S:
		ce.push(uint64(truncSat(math.Float64frombits(ce.pop()), true, true)))
	case wasm.OpcodeI64TruncSatF64U:
		ce.push(uint64(truncSat(math.Float64frombits(ce.pop()), false, true)))
	}
}

// truncChecked implements the trapping i32/i64.trunc_f*_{s,u} family: NaN,
// infinities, and out-of-range magnitudes all trap.
func truncChecked(v float64, signed, is64 bool) int64 {
	inRange := false
	if is64 {
		inRange = moremath.I64TruncRange(v, signed)
	} else {
		inRange = moremath.I32TruncRange(v, signed)
	}
	if !inRange {
		panic(ErrInvalidConversionToInteger)
	}
	if signed {
		return int64(math.Trunc(v))
	}
	return int64(uint64(math.Trunc(v)))
}

// truncSat implements the non-trapping saturating conversions: NaN becomes
// zero, and out-of-range magnitudes clamp to the representable extreme.
func truncSat(v float64, signed, is64 bool) int64 {
	if math.IsNaN(v) {
		return 0
	}
	t := math.Trunc(v)
	if is64 {
		if signed {
			if t <= math.MinInt64 {
				return math.MinInt64
			}
			if t >= math.MaxInt64 {
				return math.MaxInt64
			}
			return int64(t)
		}
		if t <= 0 {
			return 0
		}
		if t >= 18446744073709551615 {
			return int64(uint64(math.MaxUint64))
		}
		return int64(uint64(t))
	}
	if signed {
		if t <= math.MinInt32 {
			return math.MinInt32
		}
		if t >= math.MaxInt32 {
			return math.MaxInt32
		}
		return int64(int32(t))
	}
	if t <= 0 {
		return 0
	}
	if t >= 4294967295 {
		return int64(uint32(math.MaxUint32))
	}
	return int64(uint32(t))
}
