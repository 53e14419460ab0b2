package interpreter_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/wasmkit-go/wasmkit/api"
	"github.com/wasmkit-go/wasmkit/internal/interpreter"
	"github.com/wasmkit-go/wasmkit/internal/wasm"
)

func i32ConstBytes(v int32) []byte { return append([]byte{0x41}, encodeSLEB128(int64(v))...) }

// encodeSLEB128 is the inverse of internal/leb128's signed decoder, used
// here to hand-assemble test module bodies without a byte-count limit.
func encodeSLEB128(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

func f32ConstBytes(v float32) []byte {
	b := make([]byte, 5)
	b[0] = 0x43
	binary.LittleEndian.PutUint32(b[1:], math.Float32bits(v))
	return b
}

func i32Type() *wasm.FunctionType { return &wasm.FunctionType{Results: []api.ValueType{api.ValueTypeI32}} }
func emptyType() *wasm.FunctionType { return &wasm.FunctionType{} }

// instantiateSingleFunc builds and instantiates a module exporting one
// function "run" with the given type and body.
func instantiateSingleFunc(t *testing.T, ft *wasm.FunctionType, body []byte) *wasm.ModuleInstance {
	t.Helper()
	body = append(append([]byte{}, body...), 0x0b) // end
	module := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{ft},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: body}},
		ExportSection:   []*wasm.Export{{Name: "run", Type: api.ExternTypeFunc, Index: 0}},
	}
	inst, err := wasm.Instantiate(wasm.NewStore(0), module, "m", nil, interpreter.Compile)
	require.NoError(t, err)
	return inst
}

func callRun(t *testing.T, inst *wasm.ModuleInstance, args ...uint64) ([]uint64, error) {
	t.Helper()
	fn, ok := inst.ExportedFunction("run")
	require.True(t, ok)
	return interpreter.Call(context.Background(), fn, args)
}

func TestCallAddTwoConstants(t *testing.T) {
	body := append(append(i32ConstBytes(1), i32ConstBytes(1)...), 0x6a) // i32.add
	inst := instantiateSingleFunc(t, i32Type(), body)

	res, err := callRun(t, inst)
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, res)
}

// TestCallForwardBranchDropsExtraOperands exercises a forward br out of a
// block that leaves extra operands under the block's declared result on the
// stack at the branch site (validator-legal: only the top Keep values reach
// the block's end, the rest must be dropped). Each block here pushes an
// extra i32 before its result and branches out immediately; if the branch's
// Drop were lost, the leftover operands would shift under the final
// i32.add and produce 242 instead of 30.
func TestCallForwardBranchDropsExtraOperands(t *testing.T) {
	var body []byte
	body = append(body, 0x02, 0x7f) // block (result i32)
	body = append(body, i32ConstBytes(111)...)
	body = append(body, i32ConstBytes(10)...)
	body = append(body, 0x0c, 0x00) // br 0
	body = append(body, 0x0b)       // end (block)
	body = append(body, 0x02, 0x7f) // block (result i32)
	body = append(body, i32ConstBytes(222)...)
	body = append(body, i32ConstBytes(20)...)
	body = append(body, 0x0c, 0x00) // br 0
	body = append(body, 0x0b)       // end (block)
	body = append(body, 0x6a)       // i32.add

	inst := instantiateSingleFunc(t, i32Type(), body)

	res, err := callRun(t, inst)
	require.NoError(t, err)
	require.Equal(t, []uint64{30}, res)
}

// TestCallFactorialLoop computes 5! (and 25!, which wraps modulo 2^32 under
// i32.mul) with a counting-down loop, exercising
// nested block/loop control flow: the loop's br_if 1 exits to the
// surrounding block, and its br 0 continues the loop — both depend on the
// lowerer tracking the right control-frame depth across nested pushes.
func TestCallFactorialLoop(t *testing.T) {
	var body []byte
	body = append(body, i32ConstBytes(1)...)      // acc = 1
	body = append(body, 0x21, 0x01)               // local.set 1 (acc)
	body = append(body, 0x20, 0x00)               // local.get 0 (n)
	body = append(body, 0x21, 0x02)               // local.set 2 (i)
	body = append(body, 0x02, 0x40)               // block
	body = append(body, 0x03, 0x40)               //   loop
	body = append(body, 0x20, 0x02)               //     local.get 2 (i)
	body = append(body, 0x45)                     //     i32.eqz
	body = append(body, 0x0d, 0x01)                //     br_if 1 (exit to block)
	body = append(body, 0x20, 0x01)               //     local.get 1 (acc)
	body = append(body, 0x20, 0x02)               //     local.get 2 (i)
	body = append(body, 0x6c)                     //     i32.mul
	body = append(body, 0x21, 0x01)               //     local.set 1 (acc)
	body = append(body, 0x20, 0x02)               //     local.get 2 (i)
	body = append(body, i32ConstBytes(1)...)      //     1
	body = append(body, 0x6b)                     //     i32.sub
	body = append(body, 0x21, 0x02)               //     local.set 2 (i)
	body = append(body, 0x0c, 0x00)                //     br 0 (continue loop)
	body = append(body, 0x0b)                     //   end (loop)
	body = append(body, 0x0b)                     // end (block)
	body = append(body, 0x20, 0x01)               // local.get 1 (acc)

	code := &wasm.Code{LocalTypes: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Body: append(body, 0x0b)}
	module := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{code},
		ExportSection:   []*wasm.Export{{Name: "run", Type: api.ExternTypeFunc, Index: 0}},
	}
	inst, err := wasm.Instantiate(wasm.NewStore(0), module, "m", nil, interpreter.Compile)
	require.NoError(t, err)

	res, err := callRun(t, inst, 5)
	require.NoError(t, err)
	require.Equal(t, []uint64{120}, res)

	res, err = callRun(t, inst, 25)
	require.NoError(t, err)
	require.Equal(t, []uint64{2076180480}, res)
}

func TestCallIntegerDivideByZeroTraps(t *testing.T) {
	body := append(append(i32ConstBytes(1), i32ConstBytes(0)...), 0x6d) // i32.div_s
	inst := instantiateSingleFunc(t, i32Type(), body)

	_, err := callRun(t, inst)
	require.Error(t, err)
	require.ErrorIs(t, err, interpreter.ErrIntegerDivideByZero)
}

func TestCallIntegerOverflowTraps(t *testing.T) {
	// INT_MIN / -1 overflows i32 range and must trap rather than wrap.
	body := append(append(i32ConstBytes(math.MinInt32), i32ConstBytes(-1)...), 0x6d)
	inst := instantiateSingleFunc(t, i32Type(), body)

	_, err := callRun(t, inst)
	require.Error(t, err)
	require.ErrorIs(t, err, interpreter.ErrIntegerOverflow)
}

func TestCallTruncOutOfRangeTraps(t *testing.T) {
	body := append(f32ConstBytes(1e30), 0xa8) // i32.trunc_f32_s
	inst := instantiateSingleFunc(t, i32Type(), body)

	_, err := callRun(t, inst)
	require.Error(t, err)
	require.ErrorIs(t, err, interpreter.ErrInvalidConversionToInteger)
}

func TestCallTruncSatClampsInsteadOfTrapping(t *testing.T) {
	body := append(f32ConstBytes(1e30), 0xfc, 0x00) // i32.trunc_sat_f32_s (sub-opcode 0, leb u32)
	inst := instantiateSingleFunc(t, i32Type(), body)

	res, err := callRun(t, inst)
	require.NoError(t, err)
	require.Equal(t, uint64(uint32(math.MaxInt32)), res[0])
}

func TestCallIndirectTypeMismatchTraps(t *testing.T) {
	// func 1 (the table's only entry) takes and returns nothing; the
	// call_indirect site declares type 0, which wants an i32 result.
	callee := &wasm.Code{Body: []byte{0x0b}}
	driver := &wasm.Code{Body: []byte{
		0x41, 0x00, // i32.const 0 (table index)
		0x11, 0x00, 0x00, // call_indirect typeidx=0 tableidx=0
		0x0b,
	}}
	offset := wasm.ConstExpr{Opcode: wasm.OpcodeI32Const, I64Value: 0}
	module := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32Type(), emptyType()},
		FunctionSection: []wasm.Index{1, 1},
		CodeSection:     []*wasm.Code{driver, callee},
		TableSection:    []*wasm.TableType{{ElemType: api.ValueTypeFuncref, Limits: wasm.Limits{Min: 1}}},
		ElementSection: []*wasm.ElementSegment{
			{Active: true, TableIndex: 0, Offset: offset, Init: []wasm.Index{1}},
		},
		ExportSection: []*wasm.Export{{Name: "run", Type: api.ExternTypeFunc, Index: 0}},
	}
	inst, err := wasm.Instantiate(wasm.NewStore(0), module, "m", nil, interpreter.Compile)
	require.NoError(t, err)

	_, err = callRun(t, inst)
	require.Error(t, err)
	require.ErrorIs(t, err, interpreter.ErrIndirectCallTypeMismatch)

	var trap *interpreter.Trap
	require.True(t, errors.As(err, &trap))
	require.NotEmpty(t, trap.Trace)
}

// TestCallLogsTrapWhenLoggerSet wires a null logrus logger into
// interpreter.Logger and checks that a recovered trap is reported through
// it at Warn level with the call trace attached, in addition to being
// returned as an error. Logger defaults to nil and must be reset to nil
// afterward so other tests see the no-logging default.
func TestCallLogsTrapWhenLoggerSet(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	interpreter.Logger = logger.WithField("module", "m")
	defer func() { interpreter.Logger = nil }()

	body := append(append(i32ConstBytes(1), i32ConstBytes(0)...), 0x6d) // i32.div_s
	inst := instantiateSingleFunc(t, i32Type(), body)

	_, err := callRun(t, inst)
	require.Error(t, err)

	entries := hook.AllEntries()
	require.Len(t, entries, 1)
	require.Equal(t, logrus.WarnLevel, entries[0].Level)
	require.Equal(t, "m", entries[0].Data["module"])
	require.NotEmpty(t, entries[0].Data["trace"])
}

func TestCallMemoryFillOutOfBoundsTraps(t *testing.T) {
	// dst, val, size pushed in that order; fill runs past the one-page
	// memory's end and must trap without partially applying.
	body := append(append(append(i32ConstBytes(0), i32ConstBytes(0)...), i32ConstBytes(int32(wasm.MemoryPageSize)+1)...),
		0xfc, 0x0b, 0x00) // memory.fill (sub-opcode 11), memidx 0
	module := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{emptyType()},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: append(body, 0x0b)}},
		MemorySection:   []*wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		ExportSection:   []*wasm.Export{{Name: "run", Type: api.ExternTypeFunc, Index: 0}},
	}
	inst, err := wasm.Instantiate(wasm.NewStore(0), module, "m", nil, interpreter.Compile)
	require.NoError(t, err)

	_, err = callRun(t, inst)
	require.Error(t, err)
	require.ErrorIs(t, err, interpreter.ErrOutOfBoundsMemoryAccess)
}
