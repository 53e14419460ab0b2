// Package api holds the types shared by the embedder-facing surface of
// wasmkit and its internal packages.
package api

// ExternType classifies imports and exports.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ValueType is one of the four scalar kinds the data model defines, or one
// of the two nullable reference types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-valtype
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c

	// ValueTypeFuncref is a nullable handle into the FuncInstance address space.
	ValueTypeFuncref ValueType = 0x70
	// ValueTypeExternref is a nullable opaque host handle.
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the WebAssembly text format name of t.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	default:
		return "unknown"
	}
}

// IsReferenceType reports whether t is one of the nullable reference types.
func IsReferenceType(t ValueType) bool {
	return t == ValueTypeFuncref || t == ValueTypeExternref
}

// Mutability describes whether a global's value may change after instantiation.
type Mutability = byte

const (
	MutabilityConst Mutability = 0x00
	MutabilityVar   Mutability = 0x01
)

// Features is a bitset of optional behaviors enabled for a Store. Zero is not
// a valid flag value, so each flag is 1 << iota, the first being 1.
type Features uint64

const (
	FeatureMultiValue Features = 1 << iota
	FeatureBulkMemoryOperations
	FeatureReferenceTypes
	FeatureSignExtensionOps
	FeatureNonTrappingFloatToIntConversion
)

// Get reports whether f is set.
func (flags Features) Get(f Features) bool {
	return flags&f != 0
}

// Set returns flags with f set or cleared according to value.
func (flags Features) Set(f Features, value bool) Features {
	if value {
		return flags | f
	}
	return flags &^ f
}

// DefaultFeatures mirrors what a WASI command-line binary typically needs:
// the post-MVP conveniences that are near-universal in wasm32-wasi toolchains.
const DefaultFeatures = FeatureMultiValue | FeatureBulkMemoryOperations |
	FeatureReferenceTypes | FeatureSignExtensionOps | FeatureNonTrappingFloatToIntConversion
