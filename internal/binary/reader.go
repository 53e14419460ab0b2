// Package binary decodes the WebAssembly binary format (§2) into the
// internal/wasm declarative Module, the way the teacher's own module
// decoder walks a byte stream section by section.
package binary

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/wasmkit-go/wasmkit/api"
	"github.com/wasmkit-go/wasmkit/internal/leb128"
	"github.com/wasmkit-go/wasmkit/internal/wasm"
)

// ErrInvalidMagic is returned when the input doesn't start with `\0asm`.
var ErrInvalidMagic = errors.New("binary: invalid magic number")

// ErrInvalidVersion is returned for any version other than 1.
var ErrInvalidVersion = errors.New("binary: unsupported version")

// reader tracks a position within a byte slice being decoded, the way the
// decoder needs to report a byte offset alongside any decode error.
type reader struct {
	b   []byte
	pos int
}

func (r *reader) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("binary: unexpected end of input at offset %d", r.pos)
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, fmt.Errorf("binary: unexpected end of input at offset %d", r.pos)
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) done() bool { return r.pos >= len(r.b) }

func (r *reader) u32() (uint32, error) {
	v, _, err := leb128.DecodeUint32(r)
	return v, err
}

func (r *reader) i32() (int32, error) {
	v, _, err := leb128.DecodeInt32(r)
	return v, err
}

func (r *reader) i64() (int64, error) {
	v, _, err := leb128.DecodeInt64(r)
	return v, err
}

func (r *reader) f32() (float32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits), nil
}

func (r *reader) f64() (float64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	var bits uint64
	for i := 7; i >= 0; i-- {
		bits = bits<<8 | uint64(b[i])
	}
	return math.Float64frombits(bits), nil
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("binary: invalid UTF-8 name at offset %d", r.pos)
	}
	return string(b), nil
}

func (r *reader) valueType() (api.ValueType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64,
		api.ValueTypeFuncref, api.ValueTypeExternref:
		return b, nil
	default:
		return 0, fmt.Errorf("binary: invalid value type 0x%x at offset %d", b, r.pos-1)
	}
}

func (r *reader) limits() (wasm.Limits, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return wasm.Limits{}, err
	}
	min, err := r.u32()
	if err != nil {
		return wasm.Limits{}, err
	}
	lim := wasm.Limits{Min: min}
	if flag == 1 {
		max, err := r.u32()
		if err != nil {
			return wasm.Limits{}, err
		}
		lim.Max = max
		lim.HasMax = true
	}
	return lim, nil
}
