package ir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmkit-go/wasmkit/api"
	"github.com/wasmkit-go/wasmkit/internal/leb128"
	"github.com/wasmkit-go/wasmkit/internal/wasm"
)

// i32ConstBytes encodes i32.const v with its immediate as signed LEB128.
func i32ConstBytes(v int32) []byte {
	return append([]byte{byte(wasm.OpcodeI32Const)}, leb128.EncodeInt32(v)...)
}

func lowerBody(t *testing.T, body []byte, params, results int) *Function {
	t.Helper()
	fnType := &wasm.FunctionType{
		Params:  make([]api.ValueType, params),
		Results: make([]api.ValueType, results),
	}
	code := &wasm.Code{Body: append(append([]byte{}, body...), byte(wasm.OpcodeEnd))}
	fn, err := Lower(code, fnType, &wasm.Module{})
	require.NoError(t, err)
	return fn.(*Function)
}

func TestLowerFusesConstBinaryRHS(t *testing.T) {
	defer func() { FusionEnabled = true }()
	FusionEnabled = true

	body := append(i32ConstBytes(5), byte(wasm.OpcodeI32Add))
	fn := lowerBody(t, body, 1, 1)

	require.Len(t, fn.Instrs, 1)
	require.Equal(t, uint32(wasm.OpcodeI32Add)|FusedConstRHS, fn.Instrs[0].Op)
	require.Equal(t, uint64(5), fn.Instrs[0].Imm)
}

func TestLowerDoesNotFuseWhenDisabled(t *testing.T) {
	defer func() { FusionEnabled = true }()
	FusionEnabled = false

	body := append(i32ConstBytes(5), byte(wasm.OpcodeI32Add))
	fn := lowerBody(t, body, 1, 1)

	require.Len(t, fn.Instrs, 2)
	require.Equal(t, uint32(wasm.OpcodeI32Const), fn.Instrs[0].Op)
	require.Equal(t, uint32(wasm.OpcodeI32Add), fn.Instrs[1].Op)
}

func TestLowerFusesConstLocalSet(t *testing.T) {
	defer func() { FusionEnabled = true }()
	FusionEnabled = true

	body := append(i32ConstBytes(9), byte(wasm.OpcodeLocalSet), 0x00)
	fn := lowerBody(t, body, 1, 0)

	require.Len(t, fn.Instrs, 1)
	require.Equal(t, OpLocalSetConst, fn.Instrs[0].Op)
	require.Equal(t, uint64(0), fn.Instrs[0].Imm)
	require.Equal(t, uint64(9), fn.Instrs[0].Imm2)
}

func TestLowerFusesConstLoadAddress(t *testing.T) {
	defer func() { FusionEnabled = true }()
	FusionEnabled = true

	// align=0, offset=4
	body := append(i32ConstBytes(12), byte(wasm.OpcodeI32Load), 0x00, 0x04)
	fn := lowerBody(t, body, 0, 1)

	require.Len(t, fn.Instrs, 1)
	require.Equal(t, uint32(wasm.OpcodeI32Load)|FusedConstAddr, fn.Instrs[0].Op)
	require.Equal(t, uint64(16), fn.Instrs[0].Imm)
}

func TestLowerFusesConstStoreValue(t *testing.T) {
	defer func() { FusionEnabled = true }()
	FusionEnabled = true

	// i32.const 3 (address); i32.const 99 (value); i32.store align=0 offset=0
	body := append(append(i32ConstBytes(3), i32ConstBytes(99)...),
		byte(wasm.OpcodeI32Store), 0x00, 0x00)
	fn := lowerBody(t, body, 0, 0)

	require.Len(t, fn.Instrs, 2)
	require.Equal(t, uint32(wasm.OpcodeI32Const), fn.Instrs[0].Op)
	require.Equal(t, uint64(3), fn.Instrs[0].Imm)
	require.Equal(t, uint32(wasm.OpcodeI32Store)|FusedConstVal, fn.Instrs[1].Op)
	require.Equal(t, uint64(99), fn.Instrs[1].Imm2)
}

// TestLowerForwardBranchPreservesDropAcrossClose guards against closeFrame
// clobbering the Drop resolveBranch already computed for a pending forward
// exit: a br out of a block that leaves one extra operand under the
// block's declared result must keep Drop=1 once the block's end (and thus
// the branch's PC) is patched in.
func TestLowerForwardBranchPreservesDropAcrossClose(t *testing.T) {
	body := []byte{byte(wasm.OpcodeBlock), 0x7f} // block (result i32)
	body = append(body, i32ConstBytes(9)...)      // extra operand under the kept result
	body = append(body, i32ConstBytes(5)...)      // the kept result
	body = append(body, byte(wasm.OpcodeBr), 0x00)
	body = append(body, byte(wasm.OpcodeEnd)) // end of block

	fn := lowerBody(t, body, 0, 1)

	var br *Instr
	for i := range fn.Instrs {
		if fn.Instrs[i].Op&^FusedMask == uint32(wasm.OpcodeBr) {
			br = &fn.Instrs[i]
			break
		}
	}
	require.NotNil(t, br)
	require.Equal(t, uint32(1), br.Br.Keep)
	require.Equal(t, uint32(1), br.Br.Drop)
}

func TestLowerLocalGetRHSDoesNotFalselyFuse(t *testing.T) {
	defer func() { FusionEnabled = true }()
	FusionEnabled = true

	// local.get 0; i32.add — the RHS is a local, not a const, so no fusion
	// pass should trigger even though the binary op is fusion-eligible.
	body := []byte{byte(wasm.OpcodeLocalGet), 0x00, byte(wasm.OpcodeI32Add)}
	fn := lowerBody(t, body, 2, 1)

	require.Len(t, fn.Instrs, 2)
	require.Equal(t, uint32(wasm.OpcodeLocalGet), fn.Instrs[0].Op)
	require.Equal(t, uint32(wasm.OpcodeI32Add), fn.Instrs[1].Op)
}
