package wasi

import (
	"io"
	"time"

	"github.com/spf13/afero"

	"github.com/wasmkit-go/wasmkit/api"
	"github.com/wasmkit-go/wasmkit/internal/wasm"
)

// Preopen is one `--dir=host:guest`-style mapping: guestPath is the path the
// guest sees (registered starting at fd 3, in order), backed by fs rooted
// at hostPath within the afero filesystem the embedder supplies.
type Preopen struct {
	GuestPath string
	Fs        afero.Fs
}

// fileHandle is one entry of the guest's fd table. Index 0-2 are the
// process's stdio streams; 3.. are preopened directories and whatever
// path_open has opened beneath them.
type fileHandle struct {
	file        afero.File
	fs          afero.Fs
	isPreopen   bool
	preopenPath string
	isDir       bool
	stdinR      io.Reader
	stdoutW     io.Writer
}

// State is the per-process WASI environment: argv/envp to hand back to
// args_get/environ_get, the preopened directory table, and the open-file
// table every fd number indexes into.
type State struct {
	Args    []string
	Environ []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	handles map[uint32]*fileHandle
	nextFD  uint32

	Exited   bool
	ExitCode uint32

	clock func() time.Time
}

// NewState builds a fresh WASI environment, pre-populating fd 0-2 with the
// given stdio streams and fd 3.. with preopens in order.
func NewState(args, environ []string, preopens []Preopen, stdin io.Reader, stdout, stderr io.Writer) *State {
	s := &State{
		Args:    args,
		Environ: environ,
		Stdin:   stdin,
		Stdout:  stdout,
		Stderr:  stderr,
		handles: map[uint32]*fileHandle{},
		nextFD:  3,
		clock:   time.Now,
	}
	s.handles[0] = &fileHandle{stdinR: stdin}
	s.handles[1] = &fileHandle{stdoutW: stdout}
	s.handles[2] = &fileHandle{stdoutW: stderr}
	for _, p := range preopens {
		fd := s.nextFD
		s.nextFD++
		s.handles[fd] = &fileHandle{fs: p.Fs, isPreopen: true, preopenPath: p.GuestPath, isDir: true}
	}
	return s
}

func (s *State) allocFD() uint32 {
	fd := s.nextFD
	s.nextFD++
	return fd
}

// NewHostModule builds the "wasi_snapshot_preview1" host module that
// resolveImports matches against a guest's WASI imports, the same way the
// teacher builds its own built-in host modules directly against the Store
// rather than through Instantiate.
func NewHostModule(store *wasm.Store, state *State) *wasm.ModuleInstance {
	mi := &wasm.ModuleInstance{
		Name:    "wasi_snapshot_preview1",
		Store:   store,
		Exports: map[string]wasm.Export{},
	}
	for _, d := range hostFuncDefs(state) {
		fi := &wasm.FuncInstance{
			Type:   d.sig,
			Module: mi,
			IsHost: true,
			Host:   d.fn,
			Name:   d.name,
		}
		store.Functions = append(store.Functions, fi)
		addr := wasm.Index(len(store.Functions) - 1)
		mi.FuncAddrs = append(mi.FuncAddrs, addr)
		mi.Exports[d.name] = wasm.Export{Name: d.name, Type: api.ExternTypeFunc, Index: wasm.Index(len(mi.FuncAddrs) - 1)}
	}
	return mi
}

type hostFuncDef struct {
	name string
	sig  *wasm.FunctionType
	fn   wasm.HostFunction
}

func sig(params, results []api.ValueType) *wasm.FunctionType {
	return &wasm.FunctionType{Params: params, Results: results}
}

func i32s(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = api.ValueTypeI32
	}
	return out
}
