package wasm

import (
	"context"

	"github.com/wasmkit-go/wasmkit/api"
)

// Reference is the runtime encoding of a nullable funcref/externref: zero is
// null, otherwise it is the Store address of the referent plus one.
type Reference = uint64

// HostFunction is the uniform calling convention the host bridge (§4.5)
// exposes: it receives the values the interpreter popped off the operand
// stack in argument order and returns the values to push, or a trap.
type HostFunction func(ctx context.Context, caller *ModuleInstance, args []uint64) ([]uint64, error)

// CompiledBody is the output of the pre-processor/fusion pass (internal/ir):
// a flat vector of instructions (an op plus its immediates and resolved
// branch targets) plus the side data the
// interpreter needs to run it. It is declared as an interface here so that
// internal/wasm does not import internal/ir; internal/ir's *ir.Function
// satisfies it.
type CompiledBody interface {
	// NumLocals is params + declared locals, for zero-initializing the
	// activation frame.
	NumLocals() int
}

// FuncInstance is a Store-resident function, either defined by a Wasm
// module or provided by the host.
type FuncInstance struct {
	Type *FunctionType

	// Module is the defining module instance, used to resolve the
	// function's own memory/table/global accesses at call time. The spec's
	// design notes call for a weak back-reference so that ModuleInstance
	// ownership stays acyclic; Go's garbage collector already reclaims
	// reference cycles, so a plain pointer is the idiomatic equivalent here
	// (see DESIGN.md).
	Module *ModuleInstance

	LocalTypes []api.ValueType
	Code       CompiledBody

	IsHost bool
	Host   HostFunction

	Name string
	Idx  Index
}

// TableInstance is a Store-resident table of nullable references.
type TableInstance struct {
	Type     TableType
	Elements []Reference
}

// Grow attempts to grow the table by delta elements, filling new slots with
// fillWith. It returns the previous size, or false if the growth would
// exceed the declared maximum.
func (t *TableInstance) Grow(delta uint32, fillWith Reference) (previousSize uint32, ok bool) {
	previousSize = uint32(len(t.Elements))
	newSize := uint64(previousSize) + uint64(delta)
	if t.Type.Limits.HasMax && newSize > uint64(t.Type.Limits.Max) {
		return previousSize, false
	}
	if newSize > 1<<32-1 {
		return previousSize, false
	}
	grown := make([]Reference, newSize)
	copy(grown, t.Elements)
	for i := previousSize; i < uint32(newSize); i++ {
		grown[i] = fillWith
	}
	t.Elements = grown
	return previousSize, true
}

// MemoryInstance is a Store-resident linear memory.
type MemoryInstance struct {
	Type  MemoryType
	Bytes []byte
}

// PageCount returns the current memory size in 64KiB pages.
func (m *MemoryInstance) PageCount() uint32 {
	return uint32(len(m.Bytes) / MemoryPageSize)
}

// Grow attempts to grow the memory by delta pages. It returns the previous
// page count, or false (and leaves memory untouched) if growth would exceed
// the declared maximum or the absolute 4GiB ceiling.
func (m *MemoryInstance) Grow(delta uint32) (previousPages uint32, ok bool) {
	previousPages = m.PageCount()
	newPages := uint64(previousPages) + uint64(delta)
	if newPages > MemoryMaxPages {
		return previousPages, false
	}
	if m.Type.Limits.HasMax && newPages > uint64(m.Type.Limits.Max) {
		return previousPages, false
	}
	grown := make([]byte, newPages*MemoryPageSize)
	copy(grown, m.Bytes)
	m.Bytes = grown
	return previousPages, true
}

// GlobalInstance is a Store-resident global variable. Val holds the raw
// 64-bit bit pattern for every scalar kind (i32/f32 occupy the low 32 bits)
// as well as Reference values.
type GlobalInstance struct {
	Type GlobalType
	Val  uint64
}

// ElementInstance backs table.init: the live reference list for a passive
// (or about-to-be-consumed active) element segment. Dropping empties Refs
// idempotently.
type ElementInstance struct {
	Type    api.ValueType
	Refs    []Reference
	Dropped bool
}

func (e *ElementInstance) Drop() {
	e.Dropped = true
	e.Refs = nil
}

// DataInstance backs memory.init analogously to ElementInstance.
type DataInstance struct {
	Bytes   []byte
	Dropped bool
}

func (d *DataInstance) Drop() {
	d.Dropped = true
	d.Bytes = nil
}

// ModuleInstance is the per-instantiation record of resolved Store
// addresses. Imported addresses always occupy the low indices of each
// slice, local ones follow — the single rule (§3) that disambiguates every
// index a function body references.
type ModuleInstance struct {
	Name string

	Types []*FunctionType

	FuncAddrs   []Index
	TableAddrs  []Index
	MemAddrs    []Index
	GlobalAddrs []Index
	ElemAddrs   []Index
	DataAddrs   []Index

	// ImportedFuncCount lets call/call_indirect sites know whether an index
	// already resolved at lowering time refers to an imported or local
	// function; kept for diagnostics; the interpreter itself indexes
	// FuncAddrs uniformly.
	ImportedFuncCount uint32

	Exports map[string]Export

	Store *Store

	// Memory caches the module's sole memory instance (Wasm 1.0 permits at
	// most one), or nil if the module declares none.
	Memory *MemoryInstance
	// Table caches the module's sole table instance analogously.
	Table *TableInstance

	Closed bool
	ExitCode uint32
}

// Function resolves a module-scoped function index to its Store-resident
// instance.
func (m *ModuleInstance) Function(idx Index) *FuncInstance {
	return m.Store.Functions[m.FuncAddrs[idx]]
}

// Global resolves a module-scoped global index.
func (m *ModuleInstance) Global(idx Index) *GlobalInstance {
	return m.Store.Globals[m.GlobalAddrs[idx]]
}

// Element resolves a module-scoped element segment index.
func (m *ModuleInstance) Element(idx Index) *ElementInstance {
	return m.Store.Elements[m.ElemAddrs[idx]]
}

// Data resolves a module-scoped data segment index.
func (m *ModuleInstance) Data(idx Index) *DataInstance {
	return m.Store.Datas[m.DataAddrs[idx]]
}

// ExportedFunction looks up an exported function by name.
func (m *ModuleInstance) ExportedFunction(name string) (*FuncInstance, bool) {
	exp, ok := m.Exports[name]
	if !ok || exp.Type != api.ExternTypeFunc {
		return nil, false
	}
	return m.Store.Functions[m.FuncAddrs[exp.Index]], true
}
