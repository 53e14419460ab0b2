package interpreter

import (
	"context"

	"github.com/wasmkit-go/wasmkit/internal/wasm"
)

// Runtime is one prepared call into an instantiated module: the entry
// function to run and the arguments to run it with. Splitting this from
// Instantiate lets an embedder instantiate once and invoke several exported
// functions (or the same one repeatedly) without re-resolving imports.
//
// FusionEnabled records whether ir.FusionEnabled was set when Module's
// functions were compiled, for the embedder to label results when comparing
// fused against unfused dispatch (§6.1, §8); it has no effect here. Fusion
// happens once, at Instantiate's compile step, not at Run time, so toggling
// it after a Runtime already exists would be a no-op — see DESIGN.md.
type Runtime struct {
	Module        *wasm.ModuleInstance
	fn            *wasm.FuncInstance
	args          []uint64
	FusionEnabled bool
}

// NewRuntime prepares a call to f with args already converted to wasm's
// uint64 value encoding. fusionEnabled documents the mode inst was compiled
// under; to actually run unfused, set ir.FusionEnabled before instantiating
// (see wasmkit.SetFusionEnabled).
func NewRuntime(inst *wasm.ModuleInstance, f *wasm.FuncInstance, args []uint64, fusionEnabled bool) *Runtime {
	return &Runtime{Module: inst, fn: f, args: args, FusionEnabled: fusionEnabled}
}

// Run invokes the prepared call, recovering any trap the way Call does.
func (r *Runtime) Run(ctx context.Context) ([]uint64, error) {
	return Call(ctx, r.fn, r.args)
}
