// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package gribtest

import (
	"bytes"
	"math"
)

func encode1(f Field) []byte {
	p := pack(f.Values, f.Decimal, f.Bits)

	var body bytes.Buffer

	pds := make([]byte, 28)
	pds[3] = byte(f.Table)
	pds[4] = byte(f.Centre)
	pds[5] = 1
	pds[6] = 255
	pds[7] = 0x80
	if p.bitmap != nil {
		pds[7] |= 0x40
	}
	pds[8] = byte(f.Indicator)
	pds[9] = byte(f.LevelCode)
	copy(pds[10:], be16(f.Level))
	year := f.Reference.Year()
	yoc, century := year%100, year/100+1
	if yoc == 0 {
		yoc, century = 100, year/100
	}
	pds[12] = byte(yoc)
	pds[13] = byte(f.Reference.Month())
	pds[14] = byte(f.Reference.Day())
	pds[15] = byte(f.Reference.Hour())
	pds[16] = byte(f.Reference.Minute())
	pds[17] = f.stepUnit()
	pds[18] = byte(f.Step)
	pds[20] = 0
	pds[24] = byte(century)
	pds[25] = 255
	copy(pds[26:], sm16(f.Decimal))
	body.Write(withLength3(pds))

	body.Write(grid1(f))

	if p.bitmap != nil {
		bms := append(make([]byte, 6), p.bitmap...)
		if len(bms)%2 == 1 {
			bms = append(bms, 0)
		}
		bms[3] = byte(len(bms)*8 - 48 - len(f.Values))
		body.Write(withLength3(bms))
	}

	bds := append(make([]byte, 11), p.data...)
	if len(bds)%2 == 1 {
		bds = append(bds, 0)
	}
	unused := (len(bds)-11)*8 - p.count*p.bits
	bds[3] = byte(f.Packing<<4) | byte(unused&0x0f)
	copy(bds[4:], sm16(p.binExp))
	copy(bds[6:], ibm(p.ref))
	bds[10] = byte(p.bits)
	body.Write(withLength3(bds))

	total := 8 + body.Len() + 4
	head := []byte{'G', 'R', 'I', 'B', 0, 0, 0, 1}
	copy(head[4:], be24(total))
	out := append(head, body.Bytes()...)
	return append(out, "7777"...)
}

func grid1(f Field) []byte {
	if f.LatLon {
		gds := make([]byte, 32)
		gds[4] = 255
		gds[5] = 0
		copy(gds[6:], be16(f.Nx))
		copy(gds[8:], be16(f.Ny))
		copy(gds[10:], sm24(50_000))
		copy(gds[13:], sm24(5_000))
		gds[16] = 0x80
		copy(gds[17:], sm24(50_000+(f.Ny-1)*250))
		copy(gds[20:], sm24(5_000+(f.Nx-1)*250))
		copy(gds[23:], be16(250))
		copy(gds[25:], be16(250))
		gds[27] = 0x40
		return withLength3(gds)
	}
	gds := make([]byte, 42)
	gds[4] = 255
	gds[5] = 3
	copy(gds[6:], be16(f.Nx))
	copy(gds[8:], be16(f.Ny))
	copy(gds[10:], sm24(50_320))
	copy(gds[13:], sm24(-1_900))
	gds[16] = 0x08
	copy(gds[17:], sm24(15_000))
	copy(gds[20:], be24(2_500))
	copy(gds[23:], be24(2_500))
	gds[27] = 0x40
	copy(gds[28:], sm24(63_300))
	copy(gds[31:], sm24(63_300))
	return withLength3(gds)
}

// ibm encodes v as an IBM single precision float, truncating the mantissa.
func ibm(v float64) []byte {
	if v == 0 {
		return []byte{0, 0, 0, 0}
	}
	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}
	exp := 64
	for v >= 1 {
		v /= 16
		exp++
	}
	for v < 1.0/16 {
		v *= 16
		exp--
	}
	mant := int(math.Floor(v * (1 << 24)))
	b := be24(mant)
	return []byte{sign | byte(exp), b[0], b[1], b[2]}
}
