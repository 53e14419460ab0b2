package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmkit-go/wasmkit/api"
)

func header() []byte {
	return []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}
}

func section(id sectionID, body []byte) []byte {
	return append([]byte{byte(id), byte(len(body))}, body...)
}

// name encodes a name as its LEB128 length followed by the UTF-8 bytes; every
// name used in these tests is short enough for a single-byte length.
func name(s string) []byte {
	return append([]byte{byte(len(s))}, []byte(s)...)
}

// buildMinimalModule assembles a module exporting one niladic function "run"
// that returns a constant i32, mirroring the shape already used for the
// interpreter and lowering tests.
func buildMinimalModule() []byte {
	typeSec := section(sectionType, []byte{
		0x01,       // one type
		0x60,       // functype tag
		0x00,       // 0 params
		0x01, 0x7f, // 1 result, i32
	})
	funcSec := section(sectionFunction, []byte{0x01, 0x00}) // one func, type 0
	exportSec := section(sectionExport, append(append([]byte{0x01}, name("run")...), byte(api.ExternTypeFunc), 0x00))
	body := []byte{0x00, 0x41, 0x2a, 0x0b} // 0 locals, i32.const 42, end
	codeSec := section(sectionCode, append([]byte{0x01, byte(len(body))}, body...))

	var out []byte
	out = append(out, header()...)
	out = append(out, typeSec...)
	out = append(out, funcSec...)
	out = append(out, exportSec...)
	out = append(out, codeSec...)
	return out
}

func TestDecodeModuleMinimal(t *testing.T) {
	m, err := DecodeModule(buildMinimalModule())
	require.NoError(t, err)

	require.Len(t, m.TypeSection, 1)
	require.Empty(t, m.TypeSection[0].Params)
	require.Equal(t, []api.ValueType{api.ValueTypeI32}, m.TypeSection[0].Results)

	require.Equal(t, []uint32{0}, m.FunctionSection)

	require.Len(t, m.ExportSection, 1)
	require.Equal(t, "run", m.ExportSection[0].Name)
	require.Equal(t, api.ExternTypeFunc, m.ExportSection[0].Type)
	require.Equal(t, uint32(0), m.ExportSection[0].Index)

	require.Len(t, m.CodeSection, 1)
	require.Equal(t, []byte{0x41, 0x2a, 0x0b}, m.CodeSection[0].Body)
	require.Empty(t, m.CodeSection[0].LocalTypes)
}

func TestDecodeModuleWithLocals(t *testing.T) {
	typeSec := section(sectionType, []byte{0x01, 0x60, 0x00, 0x00})
	funcSec := section(sectionFunction, []byte{0x01, 0x00})
	// 2 local-groups: 2x i32, 1x i64
	body := []byte{0x02, 0x02, 0x7f, 0x01, 0x7e, 0x0b}
	codeSec := section(sectionCode, append([]byte{0x01, byte(len(body))}, body...))

	var out []byte
	out = append(out, header()...)
	out = append(out, typeSec...)
	out = append(out, funcSec...)
	out = append(out, codeSec...)

	m, err := DecodeModule(out)
	require.NoError(t, err)
	require.Len(t, m.CodeSection, 1)
	require.Equal(t, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI64}, m.CodeSection[0].LocalTypes)
}

func TestDecodeModuleRejectsBadMagic(t *testing.T) {
	data := append([]byte{0x00, 'a', 's', 'x'}, 0x01, 0x00, 0x00, 0x00)
	_, err := DecodeModule(data)
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestDecodeModuleRejectsBadVersion(t *testing.T) {
	data := append(header()[:4], 0x02, 0x00, 0x00, 0x00)
	_, err := DecodeModule(data)
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestDecodeModuleRejectsOutOfOrderSections(t *testing.T) {
	funcSec := section(sectionFunction, []byte{0x00})
	typeSec := section(sectionType, []byte{0x00})

	var out []byte
	out = append(out, header()...)
	out = append(out, funcSec...) // function (3) before type (1): out of order
	out = append(out, typeSec...)

	_, err := DecodeModule(out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of order")
}

func TestDecodeModuleRejectsDuplicateSections(t *testing.T) {
	typeSec := section(sectionType, []byte{0x00})

	var out []byte
	out = append(out, header()...)
	out = append(out, typeSec...)
	out = append(out, typeSec...)

	_, err := DecodeModule(out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate section id")
}

func TestDecodeModuleRejectsTrailingSectionBytes(t *testing.T) {
	// type section declares 0 types but carries an extra trailing byte.
	badTypeSec := section(sectionType, []byte{0x00, 0xff})

	out := append(header(), badTypeSec...)

	_, err := DecodeModule(out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "trailing bytes")
}

func TestDecodeModuleAllowsCustomSectionsAnywhere(t *testing.T) {
	custom := section(sectionCustom, name("producers"))
	typeSec := section(sectionType, []byte{0x00})

	var out []byte
	out = append(out, header()...)
	out = append(out, custom...)
	out = append(out, typeSec...)
	out = append(out, custom...) // custom sections may repeat and interleave

	m, err := DecodeModule(out)
	require.NoError(t, err)
	require.Empty(t, m.TypeSection)
}

func TestDecodeModuleParsesNameCustomSection(t *testing.T) {
	subBody := name("mymodule")
	sub := append([]byte{0x00, byte(len(subBody))}, subBody...) // subsection 0: module name
	custom := section(sectionCustom, append(name("name"), sub...))

	out := append(header(), custom...)

	m, err := DecodeModule(out)
	require.NoError(t, err)
	require.Equal(t, "mymodule", m.Name)
}
