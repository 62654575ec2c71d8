// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package gribtest

import (
	"bytes"
	"encoding/binary"
	"math"
)

func encode2(f Field) []byte {
	p := pack(f.Values, f.Decimal, f.Bits)

	var body bytes.Buffer

	sec1 := make([]byte, 21)
	sec1[4] = 1
	copy(sec1[5:], be16(f.Centre))
	sec1[9] = 15
	sec1[11] = 1
	copy(sec1[12:], be16(f.Reference.Year()))
	sec1[14] = byte(f.Reference.Month())
	sec1[15] = byte(f.Reference.Day())
	sec1[16] = byte(f.Reference.Hour())
	sec1[17] = byte(f.Reference.Minute())
	sec1[18] = byte(f.Reference.Second())
	sec1[20] = 1
	body.Write(withLength4(sec1))

	body.Write(grid2(f))

	sec4len := 34
	template := 0
	if f.StatLength > 0 {
		sec4len = 58
		template = 8
	}
	sec4 := make([]byte, sec4len)
	sec4[4] = 4
	copy(sec4[7:], be16(template))
	sec4[9] = byte(f.Category)
	sec4[10] = byte(f.Number)
	sec4[11] = 2
	sec4[17] = f.stepUnit()
	copy(sec4[18:], be32(int64(f.Step)))
	sec4[22] = byte(f.LevelCode)
	sec4[23] = sm8(f.LevelScale)
	copy(sec4[24:], be32(int64(f.Level)))
	sec4[28] = 255
	sec4[29] = 255
	copy(sec4[30:], be32(0xffffffff))
	if template == 8 {
		sec4[41] = 1
		sec4[46] = 1
		sec4[47] = 2
		sec4[48] = f.stepUnit()
		copy(sec4[49:], be32(int64(f.StatLength)))
		sec4[53] = 255
	}
	body.Write(withLength4(sec4))

	sec5 := make([]byte, 21)
	sec5[4] = 5
	copy(sec5[5:], be32(int64(p.count)))
	copy(sec5[9:], be16(f.Packing))
	binary.BigEndian.PutUint32(sec5[11:], math.Float32bits(float32(p.ref)))
	copy(sec5[15:], sm16(p.binExp))
	copy(sec5[17:], sm16(f.Decimal))
	sec5[19] = byte(p.bits)
	body.Write(withLength4(sec5))

	if p.bitmap != nil {
		sec6 := append(make([]byte, 6), p.bitmap...)
		sec6[4] = 6
		sec6[5] = 0
		body.Write(withLength4(sec6))
	} else {
		body.Write(withLength4([]byte{0, 0, 0, 0, 6, 255}))
	}

	sec7 := append(make([]byte, 5), p.data...)
	sec7[4] = 7
	body.Write(withLength4(sec7))

	total := 16 + body.Len() + 4
	head := make([]byte, 16)
	copy(head, "GRIB")
	head[6] = byte(f.Discipline)
	head[7] = 2
	binary.BigEndian.PutUint64(head[8:], uint64(total))

	out := append(head, body.Bytes()...)
	return append(out, "7777"...)
}

func grid2(f Field) []byte {
	if f.LatLon {
		sec := make([]byte, 72)
		sec[4] = 3
		copy(sec[6:], be32(int64(f.Nx*f.Ny)))
		copy(sec[12:], be16(0))
		sec[14] = 6
		copy(sec[30:], be32(int64(f.Nx)))
		copy(sec[34:], be32(int64(f.Ny)))
		copy(sec[42:], be32(0xffffffff))
		copy(sec[46:], sm32(50_000_000))
		copy(sec[50:], sm32(5_000_000))
		sec[54] = 48
		copy(sec[55:], sm32(50_000_000+int64(f.Ny-1)*250_000))
		copy(sec[59:], sm32(5_000_000+int64(f.Nx-1)*250_000))
		copy(sec[63:], be32(250_000))
		copy(sec[67:], be32(250_000))
		sec[71] = 0x40
		return withLength4(sec)
	}
	sec := make([]byte, 81)
	sec[4] = 3
	copy(sec[6:], be32(int64(f.Nx*f.Ny)))
	copy(sec[12:], be16(30))
	sec[14] = 6
	copy(sec[30:], be32(int64(f.Nx)))
	copy(sec[34:], be32(int64(f.Ny)))
	copy(sec[38:], sm32(50_319_616))
	copy(sec[42:], sm32(-1_900_000))
	sec[46] = 8
	copy(sec[47:], sm32(63_300_000))
	copy(sec[51:], sm32(15_000_000))
	copy(sec[55:], be32(2_500_000))
	copy(sec[59:], be32(2_500_000))
	sec[64] = 0x40
	copy(sec[65:], sm32(63_300_000))
	copy(sec[69:], sm32(63_300_000))
	copy(sec[73:], sm32(-90_000_000))
	return withLength4(sec)
}
