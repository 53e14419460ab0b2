// Package wasm holds the declarative, decoder-produced representation of a
// module (Module) and the Store-resident runtime objects instantiation
// allocates from it (FuncInstance, TableInstance, MemoryInstance,
// GlobalInstance, ElementInstance, DataInstance).
package wasm

import (
	"fmt"
	"strings"

	"github.com/wasmkit-go/wasmkit/api"
)

// Index is a decoder-scoped index into one of a Module's index spaces.
type Index = uint32

// FunctionType is a function signature: zero or more parameter types and
// zero or more result types (multi-value).
type FunctionType struct {
	Params, Results []api.ValueType

	// key is a cached comparison key computed on first use, for the
	// structural equality that call_indirect requires.
	key string
}

// Key returns a value that structurally compares equal for two
// FunctionTypes with the same params and results.
func (t *FunctionType) Key() string {
	if t.key == "" {
		var b strings.Builder
		for _, p := range t.Params {
			b.WriteByte(p)
		}
		b.WriteByte(0)
		for _, r := range t.Results {
			b.WriteByte(r)
		}
		t.key = b.String()
	}
	return t.key
}

func (t *FunctionType) String() string {
	return fmt.Sprintf("%v->%v", t.Params, t.Results)
}

// Limits bounds a table's or memory's size in its own units (pages for
// memory, elements for tables).
type Limits struct {
	Min uint32
	Max uint32 // only meaningful if HasMax
	HasMax bool
}

// TableType declares a table's element type and size limits.
type TableType struct {
	ElemType api.ValueType // ValueTypeFuncref or ValueTypeExternref
	Limits   Limits
}

// MemoryType declares a linear memory's size limits, in 64KiB pages.
type MemoryType struct {
	Limits Limits
}

// MemoryPageSize is the fixed size of one linear memory page.
const MemoryPageSize = 65536

// MemoryMaxPages is the absolute ceiling on memory size (4GiB of address
// space / page size), matching the 32-bit address space of Wasm v1.
const MemoryMaxPages = 1 << 16

// GlobalType declares a global's value type and mutability.
type GlobalType struct {
	ValType api.ValueType
	Mutable bool
}

// ConstExpr is a constant initialization expression: one of *.const,
// ref.null, ref.func, or global.get of an imported global.
type ConstExpr struct {
	Opcode Opcode
	// The encoded immediate (LEB128 int, or raw little-endian float bits)
	// is already decoded into these plain forms for convenience:
	I64Value  int64
	F64Value  float64
	RefIsFunc bool
	FuncIndex Index
	GlobalIndex Index
	ValType   api.ValueType
}

// Import describes one imported entity awaiting resolution at
// instantiation.
type Import struct {
	Module, Name string
	Type         api.ExternType

	// Exactly one of the following is populated, selected by Type.
	FuncTypeIndex Index
	Table         *TableType
	Memory        *MemoryType
	Global        *GlobalType
}

// Export makes a local or re-exported entity visible under Name.
type Export struct {
	Name  string
	Type  api.ExternType
	Index Index
}

// Code is a local function's decoded body: its additional local variable
// types (beyond the signature's parameters) and its raw instruction stream,
// as produced by the decoder and consumed by the lowerer.
type Code struct {
	LocalTypes []api.ValueType
	Body       []byte
}

// ElementSegment is a table initializer. Active segments carry an offset
// expression and are copied into a table at instantiation; passive segments
// are held for table.init and dropped independently.
type ElementSegment struct {
	Type    api.ValueType
	Active  bool
	TableIndex Index
	Offset  ConstExpr
	Init    []Index // function indices; NullIndex marks an explicit ref.null entry
}

// NullIndex marks a null entry in an element segment's init list, produced
// by an expression-initialized segment (flag 4-7) whose entry is ref.null
// rather than ref.func.
const NullIndex = ^Index(0)

// DataSegment is a memory initializer, active or passive, analogous to
// ElementSegment.
type DataSegment struct {
	Active     bool
	MemIndex   Index
	Offset     ConstExpr
	Init       []byte
}

// Module is the decoder's output: the declarative record of a binary
// module's sections, untouched by instantiation.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []Index // index into TypeSection, one per local function
	TableSection    []*TableType
	MemorySection   []*MemoryType
	GlobalSection   []*GlobalInit
	ExportSection   []*Export
	StartSection    *Index
	ElementSection  []*ElementSegment
	CodeSection     []*Code
	DataSection     []*DataSegment
	DataCountSection *uint32

	// Name is the module name from the "name" custom section; it is
	// informational only and never affects execution.
	Name string
}

// GlobalInit pairs a global's declared type with its initializer
// expression, as they appear together in the binary global section.
type GlobalInit struct {
	Type GlobalType
	Init ConstExpr
}

// ImportFuncCount returns the number of function imports, which is also the
// offset at which local function indices begin (§3 Module instance: "every
// index reference in code" disambiguation rule).
func (m *Module) ImportFuncCount() (n uint32) {
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeFunc {
			n++
		}
	}
	return
}

func (m *Module) ImportTableCount() (n uint32) {
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeTable {
			n++
		}
	}
	return
}

func (m *Module) ImportMemoryCount() (n uint32) {
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeMemory {
			n++
		}
	}
	return
}

func (m *Module) ImportGlobalCount() (n uint32) {
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeGlobal {
			n++
		}
	}
	return
}

// TypeOfFunction resolves the FunctionType for the funcIndex'th function
// counting imports first, matching the module-instance index rule.
func (m *Module) TypeOfFunction(funcIndex Index) *FunctionType {
	importFuncCount := m.ImportFuncCount()
	if funcIndex < importFuncCount {
		var cur uint32
		for _, imp := range m.ImportSection {
			if imp.Type != api.ExternTypeFunc {
				continue
			}
			if cur == funcIndex {
				return m.TypeSection[imp.FuncTypeIndex]
			}
			cur++
		}
		return nil
	}
	localIdx := funcIndex - importFuncCount
	if int(localIdx) >= len(m.FunctionSection) {
		return nil
	}
	return m.TypeSection[m.FunctionSection[localIdx]]
}
