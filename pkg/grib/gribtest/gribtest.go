// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package gribtest synthesises small GRIB1 and GRIB2 messages for tests.
package gribtest

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Field describes one message to encode. Zero values pick HARMONIE-like defaults:
// GRIB2, centre 233, a 4x3 Lambert grid, hourly steps and 16-bit packing.
type Field struct {
	Edition int

	Centre int

	// GRIB2 parameter.
	Discipline, Category, Number int
	// GRIB1 parameter; Indicator falls back to Number.
	Table, Indicator int

	LevelCode  int
	Level      int
	LevelScale int

	Reference time.Time
	// StepUnit is the time range unit code; nil means hours.
	StepUnit *int
	Step     int
	// StatLength > 0 encodes GRIB2 template 4.8 with this interval length.
	StatLength int

	Nx, Ny  int
	LatLon  bool
	Values  []float64
	Decimal int
	Bits    int
	// Packing is the GRIB2 data representation template, or the GRIB1
	// packing flag nibble. The values are always simply packed.
	Packing int
}

// Unit returns a pointer to a time range unit code for Field.StepUnit.
func Unit(code int) *int { return &code }

func (f Field) stepUnit() byte {
	if f.StepUnit == nil {
		return 1
	}
	return byte(*f.StepUnit)
}

func (f Field) withDefaults() Field {
	if f.Edition == 0 {
		f.Edition = 2
	}
	if f.Centre == 0 {
		f.Centre = 233
	}
	if f.Reference.IsZero() {
		f.Reference = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if f.Nx == 0 {
		f.Nx = 4
	}
	if f.Ny == 0 {
		f.Ny = 3
	}
	if f.Bits == 0 {
		f.Bits = 16
	}
	if f.Indicator == 0 {
		f.Indicator = f.Number
	}
	if f.Table == 0 {
		f.Table = 253
	}
	if f.LevelCode == 0 {
		if f.Edition == 1 {
			f.LevelCode = 105
		} else {
			f.LevelCode = 103
		}
	}
	if f.Values == nil {
		f.Values = make([]float64, f.Nx*f.Ny)
		for i := range f.Values {
			f.Values[i] = 270 + float64(i)
		}
	}
	return f
}

// Encode returns the encoded message.
func Encode(f Field) []byte {
	f = f.withDefaults()
	if f.Edition == 1 {
		return encode1(f)
	}
	return encode2(f)
}

// WriteFile writes the encoded fields to path, creating parent directories.
func WriteFile(path string, fields ...Field) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, f := range fields {
		buf.Write(Encode(f))
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

type packed struct {
	ref     float64
	binExp  int
	bits    int
	data    []byte
	bitmap  []byte
	count   int
	missing bool
}

func pack(values []float64, decimal, bits int) packed {
	scale := math.Pow10(decimal)
	p := packed{bits: bits}
	minV, maxV := math.Inf(1), math.Inf(-1)
	var present []float64
	bitmap := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if math.IsNaN(v) {
			p.missing = true
			continue
		}
		bitmap[i/8] |= 0x80 >> (i % 8)
		sv := v * scale
		present = append(present, sv)
		minV = math.Min(minV, sv)
		maxV = math.Max(maxV, sv)
	}
	if p.missing {
		p.bitmap = bitmap
	}
	p.count = len(present)
	if len(present) == 0 {
		p.bits = 0
		return p
	}
	p.ref = float64(float32(minV))
	if p.ref > minV {
		p.ref = float64(math.Nextafter32(float32(minV), float32(math.Inf(-1))))
	}
	span := maxV - p.ref
	if span > 0 {
		p.binExp = int(math.Ceil(math.Log2(span / float64(uint64(1)<<bits-1))))
	}
	w := &bitWriter{}
	for _, sv := range present {
		x := math.Round((sv - p.ref) / math.Ldexp(1, p.binExp))
		w.write(uint64(x), bits)
	}
	p.data = w.bytes()
	return p
}

type bitWriter struct {
	buf  []byte
	nbit int
}

func (w *bitWriter) write(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.nbit%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v&(1<<uint(i)) != 0 {
			w.buf[len(w.buf)-1] |= 0x80 >> (w.nbit % 8)
		}
		w.nbit++
	}
}

func (w *bitWriter) bytes() []byte { return w.buf }

func be16(v int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b
}

func be24(v int) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

func be32(v int64) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func sm16(v int) []byte {
	if v < 0 {
		return be16(0x8000 | -v)
	}
	return be16(v)
}

func sm24(v int) []byte {
	if v < 0 {
		return be24(0x800000 | -v)
	}
	return be24(v)
}

func sm32(v int64) []byte {
	if v < 0 {
		return be32(0x80000000 | -v)
	}
	return be32(v)
}

func sm8(v int) byte {
	if v < 0 {
		return byte(0x80 | -v)
	}
	return byte(v)
}

func withLength4(body []byte) []byte {
	copy(body[0:4], be32(int64(len(body))))
	return body
}

func withLength3(body []byte) []byte {
	copy(body[0:3], be24(len(body)))
	return body
}
