// Package ir implements the code lowerer (§4.1) and its superinstruction
// fusion pass (§4.2): it turns the raw, structured-control-flow byte stream
// the decoder hands it into a flat vector of Instr the interpreter can walk
// with a single program counter and no runtime label stack. Every branch
// target is resolved to an absolute index into that vector at lowering
// time, with the keep/drop counts baked directly into the branch instead of
// recomputed at run time.
package ir

import "github.com/wasmkit-go/wasmkit/internal/wasm"

// Op identifies what an Instr does. The low bits alias wasm.Opcode for
// every instruction the fusion pass leaves untouched; the three high flag
// bits mark a fused operand source, and values at 0x200 and above name
// operations that have no single-instruction wasm.Opcode equivalent at all
// (the constant-folded local.set/local.tee).
type Op = uint32

// FusionEnabled toggles the superinstruction fusion pass (§4.2) at lowering
// time. Runtime embedders compare fused against unfused dispatch by setting
// this before a module is compiled; it is a single process-wide switch
// rather than a per-Compile option, since wasm.Compiler's signature has no
// room for one.
var FusionEnabled = true

const (
	// FusedConstRHS marks a binary arithmetic/compare instruction whose
	// right-hand operand is Instr.Imm instead of the top of the operand
	// stack: the fusion of a *.const immediately followed by a consuming
	// binary op.
	FusedConstRHS Op = 1 << 14
	// FusedConstAddr marks a load instruction whose effective address is
	// already fully resolved into Instr.Imm, because the index immediately
	// preceding it was itself a constant: no base address is popped.
	FusedConstAddr Op = 1 << 13
	// FusedConstVal marks a store instruction whose value to write is
	// Instr.Imm2 (Instr.Imm keeps the memarg offset); only the address is
	// popped from the stack.
	FusedConstVal Op = 1 << 12

	FusedMask = FusedConstRHS | FusedConstAddr | FusedConstVal
)

// Ops with no wasm.Opcode equivalent: a local.set or local.tee whose value
// is a constant folded into Instr.Imm2 (the local index is Instr.Imm).
// Control flow needs no ops of its own: an `if` lowers to a plain br_if
// whose taken arm is the next instruction and whose not-taken arm (BrElse)
// is the else body or the end.
const (
	OpLocalSetConst Op = 0x200 + iota
	OpLocalTeeConst
)

// BrTarget is one arm of a resolved branch: the absolute instruction index
// to jump to, how many result values to keep on top of the stack, and how
// many values below those to discard so the stack height matches the
// target label's.
type BrTarget struct {
	PC   uint32
	Keep uint32
	Drop uint32
}

// Instr is one lowered, fusion-eligible instruction.
type Instr struct {
	Op Op

	// Imm is the primary immediate: a local/global index, a call target, a
	// folded memory address, a fused constant operand, or (for plain
	// const-push instructions the fusion pass left alone) the pushed
	// value's bit pattern.
	Imm uint64
	// Imm2 carries a second immediate where one primary isn't enough
	// (call_indirect's table index, local.set-const's constant value).
	Imm2 uint64

	// Br is populated for Br/BrIf (the taken arm for BrIf; BrIf's
	// not-taken arm is BrElse).
	Br     BrTarget
	BrElse BrTarget
	// Targets holds every arm of a BrTable, default last.
	Targets []BrTarget
}

// Function is one lowered function body, ready for the interpreter to run
// starting at Instrs[0] with an activation frame of LocalCount uint64
// slots (parameters, then declared locals, all zero-initialized beyond the
// parameters the caller supplied).
type Function struct {
	Instrs     []Instr
	LocalCount int
	Type       *wasm.FunctionType
}

// NumLocals satisfies wasm.CompiledBody.
func (f *Function) NumLocals() int { return f.LocalCount }
