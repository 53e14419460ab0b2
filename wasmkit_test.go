package wasmkit_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmkit-go/wasmkit"
	"github.com/wasmkit-go/wasmkit/api"
)

func section(id byte, body []byte) []byte {
	return append([]byte{id, byte(len(body))}, body...)
}

func name(s string) []byte {
	return append([]byte{byte(len(s))}, []byte(s)...)
}

// buildExitingModule assembles a module that imports wasi_snapshot_preview1's
// proc_exit and exports "_start", which calls it with the given code — the
// minimal shape a wasm32-wasi "hello and exit" binary compiles down to.
func buildExitingModule(code byte) []byte {
	typeSec := section(1, []byte{
		0x02,             // 2 types
		0x60, 0x01, 0x7f, 0x00, // type 0: (i32) -> ()
		0x60, 0x00, 0x00, // type 1: () -> ()
	})
	importSec := section(2, append(append(append([]byte{0x01},
		name("wasi_snapshot_preview1")...), name("proc_exit")...), 0x00, 0x00))
	funcSec := section(3, []byte{0x01, 0x01}) // one local func, type 1
	exportSec := section(7, append(append([]byte{0x01}, name("_start")...), byte(api.ExternTypeFunc), 0x01))
	body := []byte{0x00, 0x41, code, 0x10, 0x00, 0x0b} // 0 locals; i32.const code; call 0; end
	codeSec := section(10, append([]byte{0x01, byte(len(body))}, body...))

	var out []byte
	out = append(out, 0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00)
	out = append(out, typeSec...)
	out = append(out, importSec...)
	out = append(out, funcSec...)
	out = append(out, exportSec...)
	out = append(out, codeSec...)
	return out
}

func TestRunExitsWithProcExitCode(t *testing.T) {
	store := wasmkit.NewStore(api.DefaultFeatures)
	var stdout, stderr bytes.Buffer

	code, err := wasmkit.Run(context.Background(), store, buildExitingModule(7), "m", wasmkit.Config{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	require.NoError(t, err)
	require.Equal(t, uint32(7), code)
}

func TestRunExitsZeroCleanly(t *testing.T) {
	store := wasmkit.NewStore(api.DefaultFeatures)

	code, err := wasmkit.Run(context.Background(), store, buildExitingModule(0), "m", wasmkit.Config{})
	require.NoError(t, err)
	require.Equal(t, uint32(0), code)
}

func TestInstantiateThenExportedFunction(t *testing.T) {
	store := wasmkit.NewStore(api.DefaultFeatures)

	inst, err := wasmkit.Instantiate(context.Background(), store, buildExitingModule(3), "m", wasmkit.Config{})
	require.NoError(t, err)

	fn, ok := wasmkit.ExportedFunction(inst, "_start")
	require.True(t, ok)

	rt := wasmkit.NewRuntime(inst, fn, nil, true)
	_, err = rt.Run(context.Background())
	require.Error(t, err) // proc_exit surfaces as an error at this layer; wasmkit.Run is what translates it
}

func TestRunRejectsMissingStart(t *testing.T) {
	typeSec := section(1, []byte{0x01, 0x60, 0x00, 0x00})
	funcSec := section(3, []byte{0x01, 0x00})
	body := []byte{0x00, 0x0b}
	codeSec := section(10, append([]byte{0x01, byte(len(body))}, body...))

	var out []byte
	out = append(out, 0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00)
	out = append(out, typeSec...)
	out = append(out, funcSec...)
	out = append(out, codeSec...)

	store := wasmkit.NewStore(api.DefaultFeatures)
	_, err := wasmkit.Run(context.Background(), store, out, "m", wasmkit.Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "_start")
}

func TestInstantiateRejectsBadMagic(t *testing.T) {
	store := wasmkit.NewStore(api.DefaultFeatures)
	_, err := wasmkit.Instantiate(context.Background(), store, []byte{0x01, 0x02, 0x03}, "m", wasmkit.Config{})
	require.Error(t, err)
}
