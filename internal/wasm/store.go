package wasm

import (
	"fmt"
	"math"

	"github.com/wasmkit-go/wasmkit/api"
)

// Store is the arena all Module instantiations allocate into (§3): every
// function, table, memory, global, element segment and data segment a
// process creates lives in one of these slices for its lifetime, addressed
// by plain slice index. Wasm v1 has no way to free a single address once
// allocated; an entire Store is reclaimed together when the embedder drops
// it.
type Store struct {
	Functions []*FuncInstance
	Tables    []*TableInstance
	Memories  []*MemoryInstance
	Globals   []*GlobalInstance
	Elements  []*ElementInstance
	Datas     []*DataInstance

	Modules map[string]*ModuleInstance

	Features api.Features
}

// NewStore creates an empty Store that will accept only the instructions
// gated in by features.
func NewStore(features api.Features) *Store {
	return &Store{Modules: map[string]*ModuleInstance{}, Features: features}
}

// Compiler lowers one function body into the form the interpreter runs.
// internal/wasm depends on neither internal/ir nor internal/interpreter, so
// Instantiate takes the compile step as a parameter and the two packages
// are wired together only by the root wasmkit package at the top of the
// import graph.
type Compiler func(code *Code, funcType *FunctionType, module *Module) (CompiledBody, error)

// ImportProvider resolves one (module, name) import to the instance that
// satisfies it, either a previously instantiated ModuleInstance or a host
// module built directly against the Store (see internal/wasi).
type ImportProvider func(moduleName string) (*ModuleInstance, bool)

// Instantiate runs the seven-step procedure of §4.4: resolve imports,
// allocate this module's addresses (imports first, then locals), evaluate
// global and segment initializers, copy active segments, and finally run
// the start function. On any error the partially built ModuleInstance is
// discarded; the Store's existing modules are never mutated by a failed
// instantiation of a new one.
func Instantiate(store *Store, module *Module, registerAs string, imports ImportProvider, compile Compiler) (*ModuleInstance, error) {
	mi := &ModuleInstance{
		Name:  registerAs,
		Types: module.TypeSection,
		Store: store,
	}

	if err := resolveImports(store, module, mi, imports); err != nil {
		return nil, err
	}

	allocateLocalTables(store, module, mi)
	allocateLocalMemories(store, module, mi)
	if err := allocateLocalGlobals(store, module, mi); err != nil {
		return nil, err
	}
	if err := allocateLocalFunctions(store, module, mi, compile); err != nil {
		return nil, err
	}
	if err := allocateElementSegments(store, module, mi); err != nil {
		return nil, err
	}
	if err := allocateDataSegments(store, module, mi); err != nil {
		return nil, err
	}

	if len(mi.TableAddrs) > 0 {
		mi.Table = store.Tables[mi.TableAddrs[0]]
	}
	if len(mi.MemAddrs) > 0 {
		mi.Memory = store.Memories[mi.MemAddrs[0]]
	}

	if err := copyActiveElements(store, module, mi); err != nil {
		return nil, err
	}
	if err := copyActiveData(store, module, mi); err != nil {
		return nil, err
	}

	buildExports(module, mi)

	if module.StartSection != nil {
		start := mi.Function(*module.StartSection)
		if _, err := CallForInstantiate(start); err != nil {
			return nil, fmt.Errorf("wasm: start function trapped: %w", err)
		}
	}

	if registerAs != "" {
		store.Modules[registerAs] = mi
	}
	return mi, nil
}

// CallForInstantiate is overridden by internal/interpreter at program
// start-up (via SetCaller) so that internal/wasm can invoke the start
// function without importing the interpreter package.
var CallForInstantiate = func(f *FuncInstance) ([]uint64, error) {
	return nil, errInstantiate("no interpreter registered to run the start function")
}

// SetCaller installs the function internal/wasm uses to invoke a
// FuncInstance, breaking the import cycle with internal/interpreter.
func SetCaller(fn func(f *FuncInstance) ([]uint64, error)) {
	CallForInstantiate = fn
}

func resolveImports(store *Store, module *Module, mi *ModuleInstance, imports ImportProvider) error {
	for _, imp := range module.ImportSection {
		if imports == nil {
			return errUnresolvedImport(imp.Module, imp.Name)
		}
		src, ok := imports(imp.Module)
		if !ok {
			return errUnresolvedImport(imp.Module, imp.Name)
		}
		exp, ok := src.Exports[imp.Name]
		if !ok || exp.Type != imp.Type {
			return errImportTypeMismatch(imp.Module, imp.Name)
		}
		switch imp.Type {
		case api.ExternTypeFunc:
			addr := src.FuncAddrs[exp.Index]
			want := module.TypeSection[imp.FuncTypeIndex]
			got := store.Functions[addr].Type
			if want.Key() != got.Key() {
				return errImportTypeMismatch(imp.Module, imp.Name)
			}
			mi.FuncAddrs = append(mi.FuncAddrs, addr)
			mi.ImportedFuncCount++
		case api.ExternTypeTable:
			addr := src.TableAddrs[exp.Index]
			got := store.Tables[addr].Type
			if !limitsSatisfy(got.Limits, imp.Table.Limits) || got.ElemType != imp.Table.ElemType {
				return errImportTypeMismatch(imp.Module, imp.Name)
			}
			mi.TableAddrs = append(mi.TableAddrs, addr)
		case api.ExternTypeMemory:
			addr := src.MemAddrs[exp.Index]
			got := store.Memories[addr].Type
			if !limitsSatisfy(got.Limits, imp.Memory.Limits) {
				return errImportTypeMismatch(imp.Module, imp.Name)
			}
			mi.MemAddrs = append(mi.MemAddrs, addr)
		case api.ExternTypeGlobal:
			addr := src.GlobalAddrs[exp.Index]
			got := store.Globals[addr].Type
			if got.ValType != imp.Global.ValType || got.Mutable != imp.Global.Mutable {
				return errImportTypeMismatch(imp.Module, imp.Name)
			}
			mi.GlobalAddrs = append(mi.GlobalAddrs, addr)
		}
	}
	return nil
}

// limitsSatisfy reports whether an already-allocated table/memory with
// limits `have` may be used where `want` is required: it must guarantee at
// least `want`'s minimum, and if `want` bounds a maximum, `have` must too,
// no looser.
func limitsSatisfy(have, want Limits) bool {
	if have.Min < want.Min {
		return false
	}
	if want.HasMax {
		if !have.HasMax || have.Max > want.Max {
			return false
		}
	}
	return true
}

func allocateLocalTables(store *Store, module *Module, mi *ModuleInstance) {
	for _, t := range module.TableSection {
		inst := &TableInstance{Type: *t, Elements: make([]Reference, t.Limits.Min)}
		store.Tables = append(store.Tables, inst)
		mi.TableAddrs = append(mi.TableAddrs, Index(len(store.Tables)-1))
	}
}

func allocateLocalMemories(store *Store, module *Module, mi *ModuleInstance) {
	for _, m := range module.MemorySection {
		inst := &MemoryInstance{Type: *m, Bytes: make([]byte, uint64(m.Limits.Min)*MemoryPageSize)}
		store.Memories = append(store.Memories, inst)
		mi.MemAddrs = append(mi.MemAddrs, Index(len(store.Memories)-1))
	}
}

func allocateLocalGlobals(store *Store, module *Module, mi *ModuleInstance) error {
	for _, g := range module.GlobalSection {
		val, err := evalConstExpr(mi, g.Init, g.Type.ValType)
		if err != nil {
			return err
		}
		inst := &GlobalInstance{Type: g.Type, Val: val}
		store.Globals = append(store.Globals, inst)
		mi.GlobalAddrs = append(mi.GlobalAddrs, Index(len(store.Globals)-1))
	}
	return nil
}

func allocateLocalFunctions(store *Store, module *Module, mi *ModuleInstance, compile Compiler) error {
	for i, code := range module.CodeSection {
		typeIdx := module.FunctionSection[i]
		fnType := module.TypeSection[typeIdx]
		fi := &FuncInstance{
			Type:       fnType,
			Module:     mi,
			LocalTypes: code.LocalTypes,
			Idx:        mi.ImportedFuncCount + Index(i),
		}
		store.Functions = append(store.Functions, fi)
		mi.FuncAddrs = append(mi.FuncAddrs, Index(len(store.Functions)-1))

		compiled, err := compile(code, fnType, module)
		if err != nil {
			return errInstantiate("compiling function %d: %v", fi.Idx, err)
		}
		fi.Code = compiled
	}
	return nil
}

func allocateElementSegments(store *Store, module *Module, mi *ModuleInstance) error {
	for _, seg := range module.ElementSection {
		refs := make([]Reference, len(seg.Init))
		for i, fidx := range seg.Init {
			if fidx == NullIndex {
				refs[i] = 0
				continue
			}
			if int(fidx) >= len(mi.FuncAddrs) {
				return errInstantiate("element segment references out-of-range function index %d", fidx)
			}
			refs[i] = Reference(mi.FuncAddrs[fidx]) + 1
		}
		inst := &ElementInstance{Type: seg.Type, Refs: refs}
		store.Elements = append(store.Elements, inst)
		mi.ElemAddrs = append(mi.ElemAddrs, Index(len(store.Elements)-1))
	}
	return nil
}

func allocateDataSegments(store *Store, module *Module, mi *ModuleInstance) error {
	for _, seg := range module.DataSection {
		bs := make([]byte, len(seg.Init))
		copy(bs, seg.Init)
		inst := &DataInstance{Bytes: bs}
		store.Datas = append(store.Datas, inst)
		mi.DataAddrs = append(mi.DataAddrs, Index(len(store.Datas)-1))
	}
	return nil
}

func copyActiveElements(store *Store, module *Module, mi *ModuleInstance) error {
	for i, seg := range module.ElementSection {
		if !seg.Active {
			continue
		}
		offsetVal, err := evalConstExpr(mi, seg.Offset, api.ValueTypeI32)
		if err != nil {
			return err
		}
		offset := uint32(offsetVal)
		table := store.Tables[mi.TableAddrs[seg.TableIndex]]
		elem := store.Elements[mi.ElemAddrs[i]]
		if uint64(offset)+uint64(len(elem.Refs)) > uint64(len(table.Elements)) {
			return errInstantiate("active element segment %d out of table bounds", i)
		}
		copy(table.Elements[offset:], elem.Refs)
		elem.Drop()
	}
	return nil
}

func copyActiveData(store *Store, module *Module, mi *ModuleInstance) error {
	for i, seg := range module.DataSection {
		if !seg.Active {
			continue
		}
		offsetVal, err := evalConstExpr(mi, seg.Offset, api.ValueTypeI32)
		if err != nil {
			return err
		}
		offset := uint32(offsetVal)
		mem := store.Memories[mi.MemAddrs[seg.MemIndex]]
		data := store.Datas[mi.DataAddrs[i]]
		if uint64(offset)+uint64(len(data.Bytes)) > uint64(len(mem.Bytes)) {
			return errInstantiate("active data segment %d out of memory bounds", i)
		}
		copy(mem.Bytes[offset:], data.Bytes)
		data.Drop()
	}
	return nil
}

func buildExports(module *Module, mi *ModuleInstance) {
	mi.Exports = make(map[string]Export, len(module.ExportSection))
	for _, e := range module.ExportSection {
		mi.Exports[e.Name] = *e
	}
}

// evalConstExpr evaluates a constant initializer expression in the context
// of a ModuleInstance whose imports (and, for element/data offsets, local
// globals) are already resolved, returning the raw 64-bit bit pattern.
func evalConstExpr(mi *ModuleInstance, ce ConstExpr, want api.ValueType) (uint64, error) {
	switch ce.Opcode {
	case OpcodeI32Const:
		return uint64(uint32(ce.I64Value)), nil
	case OpcodeI64Const:
		return uint64(ce.I64Value), nil
	case OpcodeF32Const:
		return uint64(math.Float32bits(float32(ce.F64Value))), nil
	case OpcodeF64Const:
		return math.Float64bits(ce.F64Value), nil
	case OpcodeGlobalGet:
		if int(ce.GlobalIndex) >= len(mi.GlobalAddrs) {
			return 0, errInstantiate("global.get constant expression references out-of-range global %d", ce.GlobalIndex)
		}
		return mi.Store.Globals[mi.GlobalAddrs[ce.GlobalIndex]].Val, nil
	case OpcodeRefNull:
		return 0, nil
	case OpcodeRefFunc:
		if int(ce.FuncIndex) >= len(mi.FuncAddrs) {
			return 0, errInstantiate("ref.func constant expression references out-of-range function %d", ce.FuncIndex)
		}
		return Reference(mi.FuncAddrs[ce.FuncIndex]) + 1, nil
	default:
		return 0, errInstantiate("unsupported constant expression opcode %#x", ce.Opcode)
	}
}
