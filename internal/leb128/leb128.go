// Package leb128 encodes and decodes the variable-length integers used
// throughout the WebAssembly binary format.
package leb128

import (
	"errors"
	"io"
)

// ErrOverflow is returned when an encoded value doesn't fit the requested bit width.
var ErrOverflow = errors.New("leb128: overflow")

// EncodeUint32 encodes v as unsigned LEB128.
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 encodes v as unsigned LEB128.
func EncodeUint64(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// EncodeInt32 encodes v as signed LEB128.
func EncodeInt32(v int32) []byte {
	return EncodeInt64(int64(v))
}

// EncodeInt64 encodes v as signed LEB128.
func EncodeInt64(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

// DecodeUint32 reads an unsigned 32-bit LEB128 value, returning the value and
// the number of bytes consumed.
func DecodeUint32(r io.ByteReader) (uint32, uint64, error) {
	v, n, err := decodeUnsigned(r, 35)
	if err == nil && v>>32 != 0 {
		return 0, n, ErrOverflow
	}
	return uint32(v), n, err
}

// DecodeUint64 reads an unsigned 64-bit LEB128 value.
func DecodeUint64(r io.ByteReader) (uint64, uint64, error) {
	return decodeUnsigned(r, 70)
}

// DecodeInt32 reads a signed 32-bit LEB128 value.
func DecodeInt32(r io.ByteReader) (int32, uint64, error) {
	v, n, err := decodeSigned(r, 35)
	if err == nil && int64(int32(v)) != v {
		return 0, n, ErrOverflow
	}
	return int32(v), n, err
}

// DecodeInt64 reads a signed 64-bit LEB128 value.
func DecodeInt64(r io.ByteReader) (int64, uint64, error) {
	return decodeSigned(r, 70)
}

// DecodeInt33AsInt64 decodes a signed 33-bit LEB128 value (used for block
// type immediates, which index either void/valtype or a signed type index)
// sign-extended into an int64.
func DecodeInt33AsInt64(r io.ByteReader) (int64, uint64, error) {
	return decodeSigned(r, 35)
}

func decodeUnsigned(r io.ByteReader, maxShift uint) (uint64, uint64, error) {
	var result uint64
	var shift uint
	var n uint64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, n, err
		}
		n++
		if shift > 57 && uint64(b&0x7f)>>(64-shift) != 0 {
			return 0, n, ErrOverflow
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, n, nil
		}
		shift += 7
		if shift >= maxShift {
			return 0, n, ErrOverflow
		}
	}
}

func decodeSigned(r io.ByteReader, maxShift uint) (int64, uint64, error) {
	var result int64
	var shift uint
	var n uint64
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, n, err
		}
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= maxShift {
			return 0, n, ErrOverflow
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= ^int64(0) << shift
	}
	return result, n, nil
}

// byteSliceReader adapts a []byte to io.ByteReader for the Load* helpers.
type byteSliceReader struct {
	b   []byte
	pos int
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

// LoadUint32 decodes an unsigned 32-bit LEB128 value from the start of b.
func LoadUint32(b []byte) (uint32, uint64, error) {
	return DecodeUint32(&byteSliceReader{b: b})
}

// LoadUint64 decodes an unsigned 64-bit LEB128 value from the start of b.
func LoadUint64(b []byte) (uint64, uint64, error) {
	return DecodeUint64(&byteSliceReader{b: b})
}

// LoadInt32 decodes a signed 32-bit LEB128 value from the start of b.
func LoadInt32(b []byte) (int32, uint64, error) {
	return DecodeInt32(&byteSliceReader{b: b})
}

// LoadInt64 decodes a signed 64-bit LEB128 value from the start of b.
func LoadInt64(b []byte) (int64, uint64, error) {
	return DecodeInt64(&byteSliceReader{b: b})
}
