package interpreter

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/wasmkit-go/wasmkit/internal/ir"
	"github.com/wasmkit-go/wasmkit/internal/wasm"
)

// maxCallDepth bounds recursion the way a real stack-limited host would;
// wasm32-wasi binaries that blow past it get a trap instead of crashing
// the embedding process.
const maxCallDepth = 1 << 16

// Logger receives one Warn-level entry per trap Call recovers, carrying the
// call trace as a field. nil (the default) disables logging entirely, so
// an embedder that never calls wasmkit.SetLogger pays no logrus cost on
// the hot call path.
var Logger *logrus.Entry

func init() {
	wasm.SetCaller(func(f *wasm.FuncInstance) ([]uint64, error) {
		return Call(context.Background(), f, nil)
	})
}

// Compile adapts ir.Lower to the wasm.Compiler signature Instantiate expects.
func Compile(code *wasm.Code, funcType *wasm.FunctionType, module *wasm.Module) (wasm.CompiledBody, error) {
	return ir.Lower(code, funcType, module)
}

type frame struct {
	fn     *wasm.FuncInstance
	code   *ir.Function
	pc     uint32
	locals []uint64
}

type callEngine struct {
	stack  []uint64
	frames []*frame
}

// Call invokes f with args already in parameter order, recovering any trap
// into a returned error the way the teacher's engine recovers at its own
// call boundary.
func Call(ctx context.Context, f *wasm.FuncInstance, args []uint64) (results []uint64, err error) {
	ce := &callEngine{}
	defer func() {
		if r := recover(); r == nil {
			return
		} else if e, ok := r.(error); ok {
			trace := make([]string, len(ce.frames))
			for i, fr := range ce.frames {
				trace[len(ce.frames)-1-i] = frameLabel(fr)
			}
			err = &Trap{Err: e, Trace: trace}
			if Logger != nil {
				Logger.WithField("trace", trace).WithError(e).Warn("wasm trap")
			}
		} else {
			panic(r)
		}
	}()
	results = ce.call(ctx, f, args)
	return results, nil
}

func frameLabel(fr *frame) string {
	name := fr.fn.Name
	if name == "" {
		name = fr.fn.Module.Name
	}
	return name
}

func (ce *callEngine) call(ctx context.Context, f *wasm.FuncInstance, args []uint64) []uint64 {
	if f.IsHost {
		out, err := f.Host(ctx, f.Module, args)
		if err != nil {
			panic(err)
		}
		return out
	}
	if len(ce.frames) >= maxCallDepth {
		panic(ErrCallStackExhausted)
	}
	code := f.Code.(*ir.Function)
	locals := make([]uint64, code.LocalCount)
	copy(locals, args)
	fr := &frame{fn: f, code: code, locals: locals}
	ce.frames = append(ce.frames, fr)
	base := len(ce.stack)
	ce.run(ctx, fr)
	ce.frames = ce.frames[:len(ce.frames)-1]

	nres := len(f.Type.Results)
	results := make([]uint64, nres)
	copy(results, ce.stack[len(ce.stack)-nres:])
	ce.stack = ce.stack[:base]
	return results
}

func (ce *callEngine) push(v uint64)  { ce.stack = append(ce.stack, v) }
func (ce *callEngine) pop() uint64 {
	v := ce.stack[len(ce.stack)-1]
	ce.stack = ce.stack[:len(ce.stack)-1]
	return v
}

func (ce *callEngine) branch(fr *frame, bt ir.BrTarget) {
	if bt.Keep > 0 {
		base := len(ce.stack) - int(bt.Keep)
		kept := make([]uint64, bt.Keep)
		copy(kept, ce.stack[base:])
		ce.stack = ce.stack[:base-int(bt.Drop)]
		ce.stack = append(ce.stack, kept...)
	} else if bt.Drop > 0 {
		ce.stack = ce.stack[:len(ce.stack)-int(bt.Drop)]
	}
	fr.pc = bt.PC
}

func (ce *callEngine) run(ctx context.Context, fr *frame) {
	instrs := fr.code.Instrs
	for fr.pc < uint32(len(instrs)) {
		in := &instrs[fr.pc]
		base := in.Op &^ ir.FusedMask
		switch {
		case in.Op == uint32(wasm.OpcodeReturn):
			return
		case base == uint32(wasm.OpcodeUnreachable):
			panic(ErrUnreachable)
		case base == uint32(wasm.OpcodeBr):
			ce.branch(fr, in.Br)
			continue
		case base == uint32(wasm.OpcodeBrIf):
			if ce.pop() != 0 {
				ce.branch(fr, in.Br)
			} else {
				ce.branch(fr, in.BrElse)
			}
			continue
		case base == uint32(wasm.OpcodeBrTable):
			v := ce.pop()
			if int(v) < len(in.Targets)-1 {
				ce.branch(fr, in.Targets[v])
			} else {
				ce.branch(fr, in.Targets[len(in.Targets)-1])
			}
			continue
		case base == uint32(wasm.OpcodeCall):
			callee := fr.fn.Module.Function(wasm.Index(in.Imm))
			res := ce.call(ctx, callee, ce.popArgs(callee.Type))
			for _, v := range res {
				ce.push(v)
			}
		case base == uint32(wasm.OpcodeCallIndirect):
			ce.execCallIndirect(ctx, fr, in)
		case base == uint32(wasm.OpcodeDrop):
			ce.pop()
		case base == uint32(wasm.OpcodeSelect):
			c := ce.pop()
			v2 := ce.pop()
			v1 := ce.pop()
			if c != 0 {
				ce.push(v1)
			} else {
				ce.push(v2)
			}
		case base == uint32(wasm.OpcodeLocalGet):
			ce.push(fr.locals[in.Imm])
		case base == uint32(wasm.OpcodeLocalSet):
			fr.locals[in.Imm] = ce.pop()
		case base == uint32(wasm.OpcodeLocalTee):
			fr.locals[in.Imm] = ce.stack[len(ce.stack)-1]
		case in.Op == ir.OpLocalSetConst:
			fr.locals[in.Imm] = in.Imm2
		case in.Op == ir.OpLocalTeeConst:
			fr.locals[in.Imm] = in.Imm2
			ce.push(in.Imm2)
		case base == uint32(wasm.OpcodeGlobalGet):
			ce.push(fr.fn.Module.Global(wasm.Index(in.Imm)).Val)
		case base == uint32(wasm.OpcodeGlobalSet):
			fr.fn.Module.Global(wasm.Index(in.Imm)).Val = ce.pop()
		case base == uint32(wasm.OpcodeTableGet):
			ref, err := fr.fn.Module.Table.Get(uint32(ce.pop()))
			if err != nil {
				panic(ErrInvalidTableAccess)
			}
			ce.push(ref)
		case base == uint32(wasm.OpcodeTableSet):
			ref := ce.pop()
			idx := uint32(ce.pop())
			if err := fr.fn.Module.Table.Set(idx, ref); err != nil {
				panic(ErrInvalidTableAccess)
			}
		case base == uint32(wasm.OpcodeMemorySize):
			ce.push(uint64(fr.fn.Module.Memory.PageCount()))
		case base == uint32(wasm.OpcodeMemoryGrow):
			prev, ok := fr.fn.Module.Memory.Grow(uint32(ce.pop()))
			if !ok {
				ce.push(uint64(uint32(0xffffffff)))
			} else {
				ce.push(uint64(prev))
			}
		case base == uint32(wasm.OpcodeI32Const), base == uint32(wasm.OpcodeI64Const),
			base == uint32(wasm.OpcodeF32Const), base == uint32(wasm.OpcodeF64Const):
			ce.push(in.Imm)
		case base == uint32(wasm.OpcodeRefNull):
			ce.push(0)
		case base == uint32(wasm.OpcodeRefIsNull):
			if ce.pop() == 0 {
				ce.push(1)
			} else {
				ce.push(0)
			}
		case base == uint32(wasm.OpcodeRefFunc):
			ce.push(wasm.Reference(fr.fn.Module.FuncAddrs[in.Imm]) + 1)
		case base == uint32(wasm.OpcodeMemoryInit):
			ce.execMemoryInit(fr, in)
		case base == uint32(wasm.OpcodeDataDrop):
			fr.fn.Module.Data(wasm.Index(in.Imm)).Drop()
		case base == uint32(wasm.OpcodeMemoryCopy):
			ce.execMemoryCopy(fr)
		case base == uint32(wasm.OpcodeMemoryFill):
			ce.execMemoryFill(fr)
		case base == uint32(wasm.OpcodeTableInit):
			ce.execTableInit(fr, in)
		case base == uint32(wasm.OpcodeElemDrop):
			fr.fn.Module.Element(wasm.Index(in.Imm)).Drop()
		case base == uint32(wasm.OpcodeTableCopy):
			ce.execTableCopy(fr)
		case base == uint32(wasm.OpcodeTableGrow):
			ce.execTableGrow(fr)
		case base == uint32(wasm.OpcodeTableSize):
			ce.push(uint64(len(fr.fn.Module.Table.Elements)))
		case base == uint32(wasm.OpcodeTableFill):
			ce.execTableFill(fr)
		default:
			if isLoadBase(base) {
				ce.execLoad(fr, in, base)
			} else if isStoreBase(base) {
				ce.execStore(fr, in, base)
			} else if isUnaryBase(base) {
				ce.execUnary(base)
			} else if isBinaryBase(base) {
				ce.execBinary(in, base)
			} else if isConvertBase(base) {
				ce.execConvert(base)
			} else {
				panic(ErrUnreachable)
			}
		}
		fr.pc++
	}
}

func (ce *callEngine) popArgs(t *wasm.FunctionType) []uint64 {
	n := len(t.Params)
	args := make([]uint64, n)
	copy(args, ce.stack[len(ce.stack)-n:])
	ce.stack = ce.stack[:len(ce.stack)-n]
	return args
}

func (ce *callEngine) execCallIndirect(ctx context.Context, fr *frame, in *ir.Instr) {
	idx := uint32(ce.pop())
	table := fr.fn.Module.Table
	ref, err := table.Get(idx)
	if err != nil {
		panic(ErrInvalidTableAccess)
	}
	if ref == 0 {
		panic(ErrInvalidTableAccess)
	}
	callee := fr.fn.Module.Store.Functions[ref-1]
	wantType := fr.fn.Module.Types[in.Imm]
	if callee.Type.Key() != wantType.Key() {
		panic(ErrIndirectCallTypeMismatch)
	}
	res := ce.call(ctx, callee, ce.popArgs(callee.Type))
	for _, v := range res {
		ce.push(v)
	}
}

func (ce *callEngine) execMemoryInit(fr *frame, in *ir.Instr) {
	size := uint64(uint32(ce.pop()))
	src := uint64(uint32(ce.pop()))
	dst := uint64(uint32(ce.pop()))
	data := fr.fn.Module.Data(wasm.Index(in.Imm))
	if err := fr.fn.Module.Memory.InitFrom(dst, data, src, size); err != nil {
		panic(ErrOutOfBoundsMemoryAccess)
	}
}

func (ce *callEngine) execMemoryCopy(fr *frame) {
	size := uint64(uint32(ce.pop()))
	src := uint64(uint32(ce.pop()))
	dst := uint64(uint32(ce.pop()))
	if err := fr.fn.Module.Memory.CopyWithin(dst, src, size); err != nil {
		panic(ErrOutOfBoundsMemoryAccess)
	}
}

func (ce *callEngine) execMemoryFill(fr *frame) {
	size := uint64(uint32(ce.pop()))
	val := byte(ce.pop())
	dst := uint64(uint32(ce.pop()))
	if err := fr.fn.Module.Memory.Fill(dst, val, size); err != nil {
		panic(ErrOutOfBoundsMemoryAccess)
	}
}

func (ce *callEngine) execTableInit(fr *frame, in *ir.Instr) {
	size := uint64(uint32(ce.pop()))
	src := uint64(uint32(ce.pop()))
	dst := uint64(uint32(ce.pop()))
	elem := fr.fn.Module.Element(wasm.Index(in.Imm))
	if err := fr.fn.Module.Table.InitFrom(dst, elem, src, size); err != nil {
		panic(ErrInvalidTableAccess)
	}
}

func (ce *callEngine) execTableCopy(fr *frame) {
	size := uint64(uint32(ce.pop()))
	src := uint64(uint32(ce.pop()))
	dst := uint64(uint32(ce.pop()))
	if err := fr.fn.Module.Table.CopyWithin(dst, src, size); err != nil {
		panic(ErrInvalidTableAccess)
	}
}

func (ce *callEngine) execTableGrow(fr *frame) {
	n := uint32(ce.pop())
	ref := ce.pop()
	prev, ok := fr.fn.Module.Table.Grow(n, ref)
	if !ok {
		ce.push(uint64(uint32(0xffffffff)))
	} else {
		ce.push(uint64(prev))
	}
}

func (ce *callEngine) execTableFill(fr *frame) {
	size := uint64(uint32(ce.pop()))
	ref := ce.pop()
	dst := uint64(uint32(ce.pop()))
	if err := fr.fn.Module.Table.Fill(dst, ref, size); err != nil {
		panic(ErrInvalidTableAccess)
	}
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
