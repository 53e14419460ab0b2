// Package wasmkit is the embedder-facing surface (§6.1): decode a wasm32-wasi
// binary, instantiate it against a WASI host module, and run its exported
// functions. The heavy lifting lives in internal/binary, internal/wasm,
// internal/ir and internal/interpreter; this package only wires them
// together the way internal/wasm's Compiler/ImportProvider seams intend.
package wasmkit

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wasmkit-go/wasmkit/api"
	"github.com/wasmkit-go/wasmkit/internal/binary"
	"github.com/wasmkit-go/wasmkit/internal/interpreter"
	"github.com/wasmkit-go/wasmkit/internal/ir"
	"github.com/wasmkit-go/wasmkit/internal/wasi"
	"github.com/wasmkit-go/wasmkit/internal/wasm"
)

// Store is re-exported so callers never need to import internal/wasm
// directly; NewStore is the only constructor.
type Store = wasm.Store

// ModuleInstance is the result of a successful Instantiate.
type ModuleInstance = wasm.ModuleInstance

// FuncInstance is one resolved export, the argument ExportedFunction
// returns and NewRuntime consumes.
type FuncInstance = wasm.FuncInstance

// Runtime prepares and runs a single call into an instantiated module.
type Runtime = interpreter.Runtime

// NewStore creates an empty Store gated to the given feature set. Passing
// api.DefaultFeatures matches what a stock wasm32-wasi toolchain emits.
func NewStore(features api.Features) *Store {
	return wasm.NewStore(features)
}

// SetFusionEnabled toggles the code lowerer's superinstruction fusion pass
// (§4.2, §8) for every Instantiate call that follows. Fusion happens once,
// when a module's functions are compiled, so this must be set before
// Instantiate, not before Run; see DESIGN.md.
func SetFusionEnabled(enabled bool) {
	ir.FusionEnabled = enabled
}

// SetLogger wires a logrus entry into the interpreter core so every trap
// Run recovers is also logged at Warn level with its call trace, in
// addition to being returned as an error. Pass nil (the default) to
// disable interpreter-level logging entirely.
func SetLogger(entry *logrus.Entry) {
	interpreter.Logger = entry
}

// Config bundles the WASI environment an instantiated command-line module
// runs in: its argv, envp, preopened directories, and standard streams.
// A zero Config is a module with no arguments, no environment, no
// filesystem access, and /dev/null stdio.
type Config struct {
	Args     []string
	Environ  []string
	Preopens []wasi.Preopen
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
}

// Preopen is one `--dir=host:guest`-style mapping (§6.3).
type Preopen = wasi.Preopen

// Instantiate decodes bin, links its "wasi_snapshot_preview1" imports
// (and any already-registered module in store) against cfg's environment,
// and runs the module's start section if it has one. The returned instance
// is registered in store under name if name is non-empty.
func Instantiate(ctx context.Context, store *Store, bin []byte, name string, cfg Config) (*ModuleInstance, error) {
	mod, err := binary.DecodeModule(bin)
	if err != nil {
		return nil, fmt.Errorf("wasmkit: decode: %w", err)
	}

	stdin, stdout, stderr := cfg.Stdin, cfg.Stdout, cfg.Stderr
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	state := wasi.NewState(cfg.Args, cfg.Environ, cfg.Preopens, stdin, stdout, stderr)
	wasiModule := wasi.NewHostModule(store, state)

	imports := func(moduleName string) (*wasm.ModuleInstance, bool) {
		if moduleName == "wasi_snapshot_preview1" {
			return wasiModule, true
		}
		m, ok := store.Modules[moduleName]
		return m, ok
	}

	inst, err := wasm.Instantiate(store, mod, name, imports, interpreter.Compile)
	if err != nil {
		// A wasm start section that calls proc_exit is the one way a
		// module can terminate during instantiation itself (wasm32-wasi
		// toolchains normally export "_start" instead and leave the start
		// section unset, so this is a narrow case).
		var exit *wasi.ExitError
		if asExitError(err, &exit) {
			return &wasm.ModuleInstance{Name: name, Closed: true, ExitCode: exit.Code}, nil
		}
		return nil, fmt.Errorf("wasmkit: instantiate: %w", err)
	}
	return inst, nil
}

// ExportedFunction looks up an exported function by name.
func ExportedFunction(inst *ModuleInstance, name string) (*FuncInstance, bool) {
	return inst.ExportedFunction(name)
}

// NewRuntime prepares a call to f with args already converted to wasm's
// uint64 value encoding.
func NewRuntime(inst *ModuleInstance, f *FuncInstance, args []uint64, fusionEnabled bool) *Runtime {
	return interpreter.NewRuntime(inst, f, args, fusionEnabled)
}

// Run instantiates a command module's entry point the way `wasmkit run`
// does: it resolves "_start" and runs it to completion, translating a
// clean proc_exit into (code, nil) instead of an error.
func Run(ctx context.Context, store *Store, bin []byte, name string, cfg Config) (exitCode uint32, err error) {
	inst, err := Instantiate(ctx, store, bin, name, cfg)
	if err != nil {
		return 0, err
	}
	if inst.Closed {
		return inst.ExitCode, nil
	}
	start, ok := inst.ExportedFunction("_start")
	if !ok {
		return 0, fmt.Errorf("wasmkit: module %q has no exported _start", name)
	}
	rt := NewRuntime(inst, start, nil, ir.FusionEnabled)
	if _, err := rt.Run(ctx); err != nil {
		var exit *wasi.ExitError
		if asExitError(err, &exit) {
			return exit.Code, nil
		}
		return 0, err
	}
	return 0, nil
}

// asExitError unwraps a *wasi.ExitError out of a Trap or a plain error
// chain, the two shapes proc_exit's panic can surface as depending on
// whether it was caught during instantiation's start call or a Runtime.Run.
func asExitError(err error, target **wasi.ExitError) bool {
	for err != nil {
		if ee, ok := err.(*wasi.ExitError); ok {
			*target = ee
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
