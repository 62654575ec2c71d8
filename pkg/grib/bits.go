// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package grib

import (
	"encoding/binary"
	"math"
)

func uint16be(b []byte) int { return int(binary.BigEndian.Uint16(b)) }

func uint24(b []byte) int { return int(b[0])<<16 | int(b[1])<<8 | int(b[2]) }

func uint32be(b []byte) int64 { return int64(binary.BigEndian.Uint32(b)) }

func uint64be(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// GRIB encodes signed integers as sign and magnitude, not two's complement.

func int8sm(b byte) int {
	if b&0x80 != 0 {
		return -int(b & 0x7f)
	}
	return int(b)
}

func int16sm(b []byte) int {
	v := uint16be(b)
	if v&0x8000 != 0 {
		return -(v & 0x7fff)
	}
	return v
}

func int24sm(b []byte) int {
	v := uint24(b)
	if v&0x800000 != 0 {
		return -(v & 0x7fffff)
	}
	return v
}

func int32sm(b []byte) int64 {
	v := uint32be(b)
	if v&0x80000000 != 0 {
		return -(v & 0x7fffffff)
	}
	return v
}

// ibmFloat decodes a 32-bit IBM System/360 single precision float (GRIB1 reference values).
func ibmFloat(b []byte) float64 {
	sign := 1.0
	if b[0]&0x80 != 0 {
		sign = -1.0
	}
	exp := int(b[0] & 0x7f)
	mant := float64(uint24(b[1:]))
	if mant == 0 {
		return 0
	}
	return sign * mant / (1 << 24) * math.Pow(16, float64(exp-64))
}

func ieeeFloat(b []byte) float64 {
	return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
}

type bitReader struct {
	data []byte
	pos  int // in bits
}

// read returns the next n bits (n <= 32) as an unsigned integer.
func (r *bitReader) read(n int) (uint64, bool) {
	if n == 0 {
		return 0, true
	}
	if r.pos+n > len(r.data)*8 {
		return 0, false
	}
	var v uint64
	for n > 0 {
		byteIdx := r.pos / 8
		bitOff := r.pos % 8
		avail := 8 - bitOff
		take := avail
		if take > n {
			take = n
		}
		chunk := (uint64(r.data[byteIdx]) >> (avail - take)) & ((1 << take) - 1)
		v = v<<take | chunk
		r.pos += take
		n -= take
	}
	return v, true
}
