package wasm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmkit-go/wasmkit/api"
)

// noopBody satisfies CompiledBody for tests that exercise Instantiate's
// linking/allocation steps without running any real code.
type noopBody struct{ numLocals int }

func (b noopBody) NumLocals() int { return b.numLocals }

func noopCompile(code *Code, ft *FunctionType, m *Module) (CompiledBody, error) {
	return noopBody{numLocals: len(ft.Params) + len(code.LocalTypes)}, nil
}

func i32Type() *FunctionType { return &FunctionType{Results: []api.ValueType{api.ValueTypeI32}} }

func constI32(v int32) ConstExpr { return ConstExpr{Opcode: OpcodeI32Const, I64Value: int64(v)} }

func TestInstantiateExportsFunctionAndGlobal(t *testing.T) {
	store := NewStore(0)
	module := &Module{
		TypeSection:     []*FunctionType{i32Type()},
		FunctionSection: []Index{0},
		CodeSection:     []*Code{{Body: []byte{byte(OpcodeEnd)}}},
		GlobalSection: []*GlobalInit{
			{Type: GlobalType{ValType: api.ValueTypeI32, Mutable: true}, Init: constI32(7)},
		},
		ExportSection: []*Export{
			{Name: "answer", Type: api.ExternTypeFunc, Index: 0},
			{Name: "counter", Type: api.ExternTypeGlobal, Index: 0},
		},
	}

	inst, err := Instantiate(store, module, "m", nil, noopCompile)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("answer")
	require.True(t, ok)
	require.Equal(t, i32Type().Key(), fn.Type.Key())

	g := inst.Global(0)
	require.Equal(t, uint64(7), g.Val)

	_, ok = inst.ExportedFunction("missing")
	require.False(t, ok)
}

func TestInstantiateUnresolvedImportFails(t *testing.T) {
	store := NewStore(0)
	module := &Module{
		TypeSection:   []*FunctionType{i32Type()},
		ImportSection: []*Import{{Module: "env", Name: "missing", Type: api.ExternTypeFunc, FuncTypeIndex: 0}},
	}

	_, err := Instantiate(store, module, "m", nil, noopCompile)
	require.Error(t, err)
	var instErr *InstantiationError
	require.True(t, errors.As(err, &instErr))
}

func TestInstantiateImportTypeMismatchFails(t *testing.T) {
	store := NewStore(0)

	hostMod := &ModuleInstance{Name: "env", Store: store, Exports: map[string]Export{}}
	host := &FuncInstance{Type: &FunctionType{}, Module: hostMod, IsHost: true,
		Host: func(ctx context.Context, caller *ModuleInstance, args []uint64) ([]uint64, error) { return nil, nil }}
	store.Functions = append(store.Functions, host)
	hostMod.FuncAddrs = append(hostMod.FuncAddrs, 0)
	hostMod.Exports["f"] = Export{Name: "f", Type: api.ExternTypeFunc, Index: 0}
	store.Modules["env"] = hostMod

	module := &Module{
		TypeSection:   []*FunctionType{i32Type()}, // wants an i32 result; host returns none
		ImportSection: []*Import{{Module: "env", Name: "f", Type: api.ExternTypeFunc, FuncTypeIndex: 0}},
	}

	imports := func(name string) (*ModuleInstance, bool) { m, ok := store.Modules[name]; return m, ok }
	_, err := Instantiate(store, module, "m", imports, noopCompile)
	require.Error(t, err)
}

func TestInstantiateLinksHostFunctionImport(t *testing.T) {
	store := NewStore(0)

	hostMod := &ModuleInstance{Name: "env", Store: store, Exports: map[string]Export{}}
	called := false
	host := &FuncInstance{Type: &FunctionType{}, Module: hostMod, IsHost: true,
		Host: func(ctx context.Context, caller *ModuleInstance, args []uint64) ([]uint64, error) {
			called = true
			return nil, nil
		}}
	store.Functions = append(store.Functions, host)
	hostMod.FuncAddrs = append(hostMod.FuncAddrs, 0)
	hostMod.Exports["f"] = Export{Name: "f", Type: api.ExternTypeFunc, Index: 0}
	store.Modules["env"] = hostMod

	module := &Module{
		TypeSection:   []*FunctionType{{}},
		ImportSection: []*Import{{Module: "env", Name: "f", Type: api.ExternTypeFunc, FuncTypeIndex: 0}},
	}
	imports := func(name string) (*ModuleInstance, bool) { m, ok := store.Modules[name]; return m, ok }

	inst, err := Instantiate(store, module, "m", imports, noopCompile)
	require.NoError(t, err)
	require.Equal(t, uint32(1), inst.ImportedFuncCount)

	_, err = inst.Function(0).Host(context.Background(), inst, nil)
	require.NoError(t, err)
	require.True(t, called)
}

func TestInstantiateStartFunctionTrapPropagates(t *testing.T) {
	prevCaller := CallForInstantiate
	defer func() { CallForInstantiate = prevCaller }()

	trapErr := errors.New("boom")
	SetCaller(func(f *FuncInstance) ([]uint64, error) { return nil, trapErr })

	store := NewStore(0)
	start := Index(0)
	module := &Module{
		TypeSection:     []*FunctionType{{}},
		FunctionSection: []Index{0},
		CodeSection:     []*Code{{Body: []byte{byte(OpcodeEnd)}}},
		StartSection:    &start,
	}

	_, err := Instantiate(store, module, "m", nil, noopCompile)
	require.Error(t, err)
	require.ErrorIs(t, err, trapErr)
}

func TestInstantiateActiveElementSegmentOutOfBoundsFails(t *testing.T) {
	store := NewStore(0)
	module := &Module{
		TableSection: []*TableType{{ElemType: api.ValueTypeFuncref, Limits: Limits{Min: 1}}},
		ElementSection: []*ElementSegment{
			{Active: true, TableIndex: 0, Offset: constI32(0), Init: []Index{NullIndex, NullIndex}},
		},
	}
	_, err := Instantiate(store, module, "m", nil, noopCompile)
	require.Error(t, err)
}

func TestInstantiateActiveDataSegmentCopiesIntoMemory(t *testing.T) {
	store := NewStore(0)
	module := &Module{
		MemorySection: []*MemoryType{{Limits: Limits{Min: 1}}},
		DataSection: []*DataSegment{
			{Active: true, MemIndex: 0, Offset: constI32(4), Init: []byte{1, 2, 3}},
		},
	}
	inst, err := Instantiate(store, module, "m", nil, noopCompile)
	require.NoError(t, err)

	b, err := inst.Memory.Read(4, 3)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)
}
