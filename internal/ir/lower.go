package ir

import (
	"fmt"
	"io"
	"math"

	"github.com/wasmkit-go/wasmkit/api"
	"github.com/wasmkit-go/wasmkit/internal/leb128"
	"github.com/wasmkit-go/wasmkit/internal/wasm"
)

type byteCursor struct {
	b   []byte
	pos int
}

func (c *byteCursor) ReadByte() (byte, error) {
	if c.pos >= len(c.b) {
		return 0, io.ErrUnexpectedEOF
	}
	v := c.b[c.pos]
	c.pos++
	return v, nil
}

func (c *byteCursor) peek() (byte, bool) {
	if c.pos >= len(c.b) {
		return 0, false
	}
	return c.b[c.pos], true
}

func (c *byteCursor) done() bool { return c.pos >= len(c.b) }

func (c *byteCursor) u32() (uint32, error) {
	v, _, err := leb128.DecodeUint32(c)
	return v, err
}

func (c *byteCursor) i32() (int32, error) {
	v, _, err := leb128.DecodeInt32(c)
	return v, err
}

func (c *byteCursor) i64() (int64, error) {
	v, _, err := leb128.DecodeInt64(c)
	return v, err
}

func (c *byteCursor) f32() (float32, error) {
	if c.pos+4 > len(c.b) {
		return 0, io.ErrUnexpectedEOF
	}
	bits := uint32(c.b[c.pos]) | uint32(c.b[c.pos+1])<<8 | uint32(c.b[c.pos+2])<<16 | uint32(c.b[c.pos+3])<<24
	c.pos += 4
	return math.Float32frombits(bits), nil
}

func (c *byteCursor) f64() (float64, error) {
	if c.pos+8 > len(c.b) {
		return 0, io.ErrUnexpectedEOF
	}
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(c.b[c.pos+i]) << (8 * i)
	}
	c.pos += 8
	return math.Float64frombits(bits), nil
}

// blockSig is the param/result arity of a block/loop/if header, resolved
// against the module's type section for the multi-value case.
type blockSig struct {
	params, results int
}

func readBlockType(c *byteCursor, module *wasm.Module) (blockSig, error) {
	b, ok := c.peek()
	if !ok {
		return blockSig{}, io.ErrUnexpectedEOF
	}
	if b == wasm.BlockTypeEmpty {
		c.pos++
		return blockSig{}, nil
	}
	switch b {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64,
		api.ValueTypeFuncref, api.ValueTypeExternref:
		c.pos++
		return blockSig{results: 1}, nil
	}
	idx, _, err := leb128.DecodeInt33AsInt64(c)
	if err != nil {
		return blockSig{}, err
	}
	if idx < 0 || int(idx) >= len(module.TypeSection) {
		return blockSig{}, fmt.Errorf("ir: invalid block type index %d", idx)
	}
	ft := module.TypeSection[idx]
	return blockSig{params: len(ft.Params), results: len(ft.Results)}, nil
}

// ctrlFrame tracks one nested block/loop/if while lowering, enough to
// resolve every branch that targets it once its matching end (or else) is
// reached.
type ctrlFrame struct {
	isLoop   bool
	isIf     bool
	sig      blockSig
	baseHeight int // operand stack height at the point the frame was entered
	labelPC  uint32 // for loops: the instruction branches should jump to
	// elseJump is the index of the conditional jump emitted for `if`,
	// patched once we know whether there's an else and where it leads.
	elseJump int
	// pendingExits collects the instruction indices of every branch whose
	// target is "the end of this frame", patched once the end is reached.
	pendingExits []pendingBranch
}

type pendingBranch struct {
	instrIdx int
	isElse   bool // patches BrElse instead of Br
	isTarget bool // patches a BrTable Targets[idx]
	targetIdx int
}

// lowerState carries the fusion lookback and operand-height simulation
// across the whole function body.
type lowerState struct {
	module *wasm.Module
	fn     *Function
	ctrl   []ctrlFrame
	height int // current simulated operand stack height

	// lastConstValid reports that the most recently emitted instruction is
	// a plain constant push eligible for fusion into the very next
	// consumer; lastConstImm and lastConstType hold its value and type.
	lastConstValid bool
	lastConstImm   uint64
	lastConstType  api.ValueType
}

// Lower converts a decoded function body into a flat, branch-resolved
// instruction vector, fusing constant-then-consumer pairs as it goes (§4.2).
func Lower(code *wasm.Code, fnType *wasm.FunctionType, module *wasm.Module) (wasm.CompiledBody, error) {
	fn := &Function{Type: fnType, LocalCount: len(fnType.Params) + len(code.LocalTypes)}
	st := &lowerState{module: module, fn: fn}
	st.height = len(fnType.Params)
	// The function body is itself an implicit block whose label is the
	// function's own return: branching past its only frame is `return`,
	// handled separately, so no frame is pushed for it here.

	c := &byteCursor{b: code.Body}
	if err := st.lowerBlockBody(c, blockSig{params: len(fnType.Params), results: len(fnType.Results)}, true); err != nil {
		return nil, err
	}
	return fn, nil
}

func (st *lowerState) emit(i Instr) int {
	st.fn.Instrs = append(st.fn.Instrs, i)
	st.lastConstValid = false
	return len(st.fn.Instrs) - 1
}

func (st *lowerState) pc() uint32 { return uint32(len(st.fn.Instrs)) }

// lowerBlockBody lowers instructions up to (and consuming) the matching
// `end`, starting a fresh control frame unless top is true (the outermost
// function body, whose "end" terminates lowering and implies `return`).
func (st *lowerState) lowerBlockBody(c *byteCursor, sig blockSig, top bool) error {
	// frameIdx, not a *ctrlFrame, because st.ctrl keeps growing via append as
	// nested blocks/loops/ifs are lowered inside this one's body: a pointer
	// captured before those appends can be left dangling into a backing
	// array Go has since replaced. The frame's own slot is stable (nothing
	// below it on the stack is ever popped before it is), so re-deriving
	// &st.ctrl[frameIdx] at each use is always safe.
	frameIdx := -1
	if !top {
		st.ctrl = append(st.ctrl, ctrlFrame{sig: sig, baseHeight: st.height, elseJump: -1})
		frameIdx = len(st.ctrl) - 1
	}
	for {
		if c.done() {
			if top {
				return nil
			}
			return io.ErrUnexpectedEOF
		}
		opByte, err := c.ReadByte()
		if err != nil {
			return err
		}
		op := wasm.Opcode(opByte)
		if opByte == 0xfc {
			sub, err := c.u32()
			if err != nil {
				return err
			}
			op = wasm.Opcode(0x100 + sub)
		}

		switch op {
		case wasm.OpcodeEnd:
			if top {
				return nil
			}
			st.closeFrame(&st.ctrl[frameIdx], false)
			st.ctrl = st.ctrl[:len(st.ctrl)-1]
			return nil
		case wasm.OpcodeElse:
			st.closeIfArm(&st.ctrl[frameIdx])
			return st.lowerElseArm(c, frameIdx)
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			if err := st.lowerNested(c, op); err != nil {
				return err
			}
		default:
			if err := st.lowerPlain(c, op); err != nil {
				return err
			}
		}
	}
}

// lowerNested handles block/loop/if: a block recurses into lowerBlockBody,
// while loop and if walk their bodies inline under a single control frame
// each (an if emits its conditional jump before its body).
func (st *lowerState) lowerNested(c *byteCursor, op wasm.Opcode) error {
	sig, err := readBlockType(c, st.module)
	if err != nil {
		return err
	}
	// The control frame's recorded height is the stack height at entry,
	// params included (§ label arity: loops branch with their params kept,
	// blocks/ifs with their results kept, both measured against this same
	// baseline — see resolveBranch/closeFrame).

	switch op {
	case wasm.OpcodeLoop:
		// A loop has exactly one label (its start: branching to a loop never
		// targets its end), so it gets a single ctrlFrame, not the two a
		// block/if get from combining lowerBlockBody's own push with this
		// one — pushing both and only ever popping one would leak a frame on
		// every loop, skewing the depth count resolveBranch uses for every
		// branch lowered afterward. So the body is walked inline here
		// instead of recursing into lowerBlockBody.
		label := st.pc()
		st.ctrl = append(st.ctrl, ctrlFrame{isLoop: true, sig: sig, baseHeight: st.height, labelPC: label, elseJump: -1})
		frameIdx := len(st.ctrl) - 1
		for {
			if c.done() {
				return io.ErrUnexpectedEOF
			}
			bb, err := c.ReadByte()
			if err != nil {
				return err
			}
			o := wasm.Opcode(bb)
			if bb == 0xfc {
				sub, err := c.u32()
				if err != nil {
					return err
				}
				o = wasm.Opcode(0x100 + sub)
			}
			switch o {
			case wasm.OpcodeEnd:
				st.closeFrame(&st.ctrl[frameIdx], false)
				st.ctrl = st.ctrl[:len(st.ctrl)-1]
				return nil
			case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
				if err := st.lowerNested(c, o); err != nil {
					return err
				}
			default:
				if err := st.lowerPlain(c, o); err != nil {
					return err
				}
			}
		}
	case wasm.OpcodeBlock:
		return st.lowerBlockBody(c, sig, false)
	case wasm.OpcodeIf:
		idx := st.emit(Instr{Op: uint32(wasm.OpcodeBrIf)})
		st.height-- // condition popped
		// The condition-true arm simply falls through into the code that
		// follows (the true branch body comes next in the stream); only
		// the condition-false arm needs a resolved jump, patched once we
		// know whether it leads to an else body or straight to the end.
		st.fn.Instrs[idx].Br = BrTarget{PC: uint32(idx) + 1}
		st.ctrl = append(st.ctrl, ctrlFrame{isIf: true, sig: sig, baseHeight: st.height, elseJump: idx})
		frameIdx := len(st.ctrl) - 1
		for {
			if c.done() {
				return io.ErrUnexpectedEOF
			}
			bb, err := c.ReadByte()
			if err != nil {
				return err
			}
			o := wasm.Opcode(bb)
			if bb == 0xfc {
				sub, err := c.u32()
				if err != nil {
					return err
				}
				o = wasm.Opcode(0x100 + sub)
			}
			switch o {
			case wasm.OpcodeEnd:
				st.closeFrame(&st.ctrl[frameIdx], true)
				st.ctrl = st.ctrl[:len(st.ctrl)-1]
				return nil
			case wasm.OpcodeElse:
				st.closeIfArm(&st.ctrl[frameIdx])
				return st.lowerElseArm(c, frameIdx)
			case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
				if err := st.lowerNested(c, o); err != nil {
					return err
				}
			default:
				if err := st.lowerPlain(c, o); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// lowerElseArm lowers the false branch of an if after its true branch's
// unconditional skip-jump has been emitted by closeIfArm.
func (st *lowerState) lowerElseArm(c *byteCursor, frameIdx int) error {
	st.height = st.ctrl[frameIdx].baseHeight
	for {
		if c.done() {
			return io.ErrUnexpectedEOF
		}
		bb, err := c.ReadByte()
		if err != nil {
			return err
		}
		o := wasm.Opcode(bb)
		if bb == 0xfc {
			sub, err := c.u32()
			if err != nil {
				return err
			}
			o = wasm.Opcode(0x100 + sub)
		}
		switch o {
		case wasm.OpcodeEnd:
			st.closeFrame(&st.ctrl[frameIdx], false)
			st.ctrl = st.ctrl[:len(st.ctrl)-1]
			return nil
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			if err := st.lowerNested(c, o); err != nil {
				return err
			}
		default:
			if err := st.lowerPlain(c, o); err != nil {
				return err
			}
		}
	}
}

// closeIfArm finishes an if's true branch when an else follows: it patches
// the opening BrIf to fall through into the true branch and jump past the
// else on completion, and emits the unconditional skip.
func (st *lowerState) closeIfArm(frame *ctrlFrame) {
	skip := st.emit(Instr{Op: uint32(wasm.OpcodeBr)})
	frame.pendingExits = append(frame.pendingExits, pendingBranch{instrIdx: skip})
	// The false arm starts right here, at the else body; no stack
	// adjustment is needed since both arms see the same operand stack the
	// if itself was entered with.
	st.fn.Instrs[frame.elseJump].BrElse = BrTarget{PC: st.pc()}
}

// closeFrame patches every exit that targets this frame's end (forward
// branches, and the if-with-no-else false arm) to the current position,
// and restores the stack height to reflect the frame's results.
func (st *lowerState) closeFrame(frame *ctrlFrame, ifWithoutElse bool) {
	here := st.pc()
	if ifWithoutElse {
		// No else body: the condition-false arm falls straight through to
		// the end. (An if with no else must declare equal param/result
		// types, so the stack is already in its post-block shape either way.)
		st.fn.Instrs[frame.elseJump].BrElse = BrTarget{PC: here}
	}
	for _, p := range frame.pendingExits {
		// Keep/Drop were already computed and stored by resolveBranch at the
		// branch site (Drop accounts for any operands pushed beneath the
		// block's result arity before the branch); only PC was unknown then.
		if p.isTarget {
			st.fn.Instrs[p.instrIdx].Targets[p.targetIdx].PC = here
		} else if p.isElse {
			st.fn.Instrs[p.instrIdx].BrElse.PC = here
		} else {
			st.fn.Instrs[p.instrIdx].Br.PC = here
		}
	}
	st.height = frame.baseHeight + frame.sig.results
}

// resolveBranch fills in the target of the branch at instrIdx for branching
// out of the l'th enclosing frame (0 = innermost): loops target their own
// start with their param arity, blocks/ifs target their end with their
// result arity (PC patched later via pendingExits, since the end is not
// lowered yet).
func (st *lowerState) resolveBranch(l uint32, instrIdx int, isElse bool, targetIdx int, useTarget bool) error {
	if int(l) >= len(st.ctrl) {
		return fmt.Errorf("ir: branch depth %d exceeds nesting", l)
	}
	frame := &st.ctrl[len(st.ctrl)-1-int(l)]
	curHeight := st.height
	if frame.isLoop {
		keep := uint32(frame.sig.params)
		drop := uint32(curHeight-frame.baseHeight) - keep
		bt := BrTarget{PC: frame.labelPC, Keep: keep, Drop: drop}
		st.setBranchTarget(instrIdx, isElse, useTarget, targetIdx, bt)
		return nil
	}
	keep := uint32(frame.sig.results)
	// The end isn't lowered yet (forward branch): register for patching,
	// storing Drop computed now since baseHeight/curHeight are both known
	// at the branch site even though PC isn't.
	computedDrop := uint32(curHeight - frame.baseHeight - frame.sig.results)
	if useTarget {
		st.fn.Instrs[instrIdx].Targets[targetIdx] = BrTarget{Keep: keep, Drop: computedDrop}
		frame.pendingExits = append(frame.pendingExits, pendingBranch{instrIdx: instrIdx, isTarget: true, targetIdx: targetIdx})
	} else if isElse {
		st.fn.Instrs[instrIdx].BrElse = BrTarget{Keep: keep, Drop: computedDrop}
		frame.pendingExits = append(frame.pendingExits, pendingBranch{instrIdx: instrIdx, isElse: true})
	} else {
		st.fn.Instrs[instrIdx].Br = BrTarget{Keep: keep, Drop: computedDrop}
		frame.pendingExits = append(frame.pendingExits, pendingBranch{instrIdx: instrIdx})
	}
	return nil
}

func (st *lowerState) setBranchTarget(instrIdx int, isElse, useTarget bool, targetIdx int, bt BrTarget) {
	if useTarget {
		st.fn.Instrs[instrIdx].Targets[targetIdx] = bt
	} else if isElse {
		st.fn.Instrs[instrIdx].BrElse = bt
	} else {
		st.fn.Instrs[instrIdx].Br = bt
	}
}
