// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package grib

import (
	"bytes"
	"math"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
)

// Decode unpacks the values of a single GRIB message. Points masked out by
// the bitmap are returned as NaN. Only simple packing is supported.
func Decode(msg []byte) ([]float64, error) {
	if len(msg) < 16 || !bytes.HasPrefix(msg, []byte(indicator)) || !bytes.HasSuffix(msg, []byte(endSection)) {
		return nil, malformed("not a grib message")
	}
	switch msg[7] {
	case 1:
		return decodeGRIB1(msg)
	case 2:
		return decodeGRIB2(msg)
	default:
		return nil, errors.Newf(errors.CodeUnsupported, "grib edition %d", msg[7])
	}
}

// maxPoints bounds the grid size accepted by Decode.
const maxPoints = 1 << 28

type packing struct {
	ref      float64
	binScale int
	decScale int
	nbits    int
}

func (p packing) value(x uint64) float64 {
	return (p.ref + float64(x)*math.Ldexp(1, p.binScale)) / math.Pow10(p.decScale)
}

func decodeGRIB2(msg []byte) ([]float64, error) {
	s, err := splitGRIB2(msg)
	if err != nil {
		return nil, err
	}
	if s.data == nil {
		return nil, malformed("grib2 message lacks a data section")
	}
	if len(s.repr) < 21 {
		return nil, malformed("data representation section too short")
	}
	if tmpl := uint16be(s.repr[9:]); tmpl != 0 {
		return nil, errors.Newf(errors.CodeUnsupported, "data representation template 5.%d", tmpl)
	}
	if len(s.grid) < 14 {
		return nil, malformed("grid definition section too short")
	}
	packed := int(uint32be(s.repr[5:]))
	p := packing{
		ref:      ieeeFloat(s.repr[11:]),
		binScale: int16sm(s.repr[15:]),
		decScale: int16sm(s.repr[17:]),
		nbits:    int(s.repr[19]),
	}
	points := int(uint32be(s.grid[6:]))

	var bitmap []byte
	if s.bitmap != nil && len(s.bitmap) > 5 {
		switch s.bitmap[5] {
		case 0:
			bitmap = s.bitmap[6:]
		case 255:
		default:
			return nil, errors.Newf(errors.CodeUnsupported, "bitmap indicator %d", s.bitmap[5])
		}
	}
	return unpack(s.data[5:], p, packed, points, bitmap)
}

func decodeGRIB1(msg []byte) ([]float64, error) {
	s, err := splitGRIB1(msg)
	if err != nil {
		return nil, err
	}
	flags := s.bds[3]
	if flags&0x80 != 0 {
		return nil, errors.New(errors.CodeUnsupported, "spherical harmonic coefficients", nil)
	}
	if flags&0x40 != 0 {
		return nil, errors.New(errors.CodeUnsupported, "grib1 complex packing", nil)
	}
	p := packing{
		ref:      ibmFloat(s.bds[6:]),
		binScale: int16sm(s.bds[4:]),
		decScale: int16sm(s.pds[26:]),
		nbits:    int(s.bds[10]),
	}
	data := s.bds[11:]

	var bitmap []byte
	points := -1
	if s.gds != nil {
		g, err := parseGrid1(s.gds)
		if err != nil {
			return nil, err
		}
		points = g.Points()
	}
	if s.bms != nil {
		if len(s.bms) < 6 || uint16be(s.bms[4:]) != 0 {
			return nil, errors.New(errors.CodeUnsupported, "predefined grib1 bitmap", nil)
		}
		bitmap = s.bms[6:]
	}

	packed := points
	if bitmap != nil && points > 0 {
		packed = countBits(bitmap, points)
	}
	if packed < 0 {
		if p.nbits == 0 {
			return nil, malformed("grib1 constant field without grid description")
		}
		packed = (len(data)*8 - int(flags&0x0f)) / p.nbits
		points = packed
	}
	return unpack(data, p, packed, points, bitmap)
}

func unpack(data []byte, p packing, packed, points int, bitmap []byte) ([]float64, error) {
	if p.nbits > 32 {
		return nil, errors.Newf(errors.CodeUnsupported, "%d bits per value", p.nbits)
	}
	if packed < 0 || points < 0 || points > maxPoints {
		return nil, malformed("implausible value count %d of %d points", packed, points)
	}
	if bitmap == nil && packed != points {
		return nil, malformed("packed values %d do not match grid points %d", packed, points)
	}
	if bitmap != nil && (len(bitmap)*8 < points || packed > points) {
		return nil, malformed("bitmap does not cover %d packed values on %d points", packed, points)
	}
	if int64(packed)*int64(p.nbits) > int64(len(data))*8 {
		return nil, malformed("data section holds fewer than %d values", packed)
	}
	packedVals := make([]float64, packed)
	br := &bitReader{data: data}
	for i := range packedVals {
		x, ok := br.read(p.nbits)
		if !ok {
			return nil, malformed("data section ends after %d of %d values", i, packed)
		}
		packedVals[i] = p.value(x)
	}
	if bitmap == nil {
		return packedVals, nil
	}
	out := make([]float64, points)
	j := 0
	for i := range out {
		if bitmap[i/8]&(0x80>>(i%8)) == 0 {
			out[i] = math.NaN()
			continue
		}
		if j >= len(packedVals) {
			return nil, malformed("bitmap selects more points than were packed")
		}
		out[i] = packedVals[j]
		j++
	}
	return out, nil
}

func countBits(bitmap []byte, n int) int {
	c := 0
	for i := 0; i < n && i/8 < len(bitmap); i++ {
		if bitmap[i/8]&(0x80>>(i%8)) != 0 {
			c++
		}
	}
	return c
}
