// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package grib

import (
	"math"
	"time"
)

// sections2 holds the first occurrence of each GRIB2 section in a message.
type sections2 struct {
	ident, grid, product, repr, bitmap, data []byte
	fields                                   int
}

func splitGRIB2(msg []byte) (sections2, error) {
	var s sections2
	pos := 16
	end := len(msg) - len(endSection)
	for pos < end {
		if pos+5 > end {
			return s, malformed("section header at %d overruns message", pos)
		}
		length := int(uint32be(msg[pos:]))
		if length < 5 || pos+length > end {
			return s, malformed("section length %d at %d overruns message", length, pos)
		}
		sec := msg[pos : pos+length]
		switch sec[4] {
		case 1:
			s.ident = sec
		case 3:
			if s.grid == nil {
				s.grid = sec
			}
		case 4:
			if s.product == nil {
				s.product = sec
			}
		case 5:
			if s.repr == nil {
				s.repr = sec
			}
		case 6:
			if s.bitmap == nil {
				s.bitmap = sec
			}
		case 7:
			if s.data == nil {
				s.data = sec
			}
			s.fields++
		}
		pos += length
	}
	if s.ident == nil || s.grid == nil || s.product == nil || s.repr == nil {
		return s, malformed("grib2 message lacks a required section")
	}
	return s, nil
}

func parseGRIB2(msg []byte) (Message, error) {
	m := Message{Edition: 2, Discipline: int(msg[6])}
	s, err := splitGRIB2(msg)
	if err != nil {
		return m, err
	}
	m.Fields = s.fields

	if len(s.ident) < 21 {
		return m, malformed("identification section too short")
	}
	m.Centre = uint16be(s.ident[5:])
	m.Subcentre = uint16be(s.ident[7:])
	m.ReferenceTime = time.Date(
		uint16be(s.ident[12:]), time.Month(s.ident[14]), int(s.ident[15]),
		int(s.ident[16]), int(s.ident[17]), int(s.ident[18]), 0, time.UTC)

	grid, err := parseGrid2(s.grid)
	if err != nil {
		return m, err
	}
	m.Grid = grid

	if err := parseProduct2(&m, s.product); err != nil {
		return m, err
	}

	if len(s.repr) < 11 {
		return m, malformed("data representation section too short")
	}
	m.NumValues = int(uint32be(s.repr[5:]))
	m.Packing = uint16be(s.repr[9:])
	return m, nil
}

func parseGrid2(sec []byte) (Grid, error) {
	if len(sec) < 14 {
		return Grid{}, malformed("grid definition section too short")
	}
	g := Grid{Template: uint16be(sec[12:]), Projection: ProjectionUnknown}
	points := int(uint32be(sec[6:]))
	switch g.Template {
	case 0:
		if len(sec) < 72 {
			return g, malformed("grid template 3.0 too short")
		}
		g.Projection = ProjectionLatLon
		g.Nx = int(uint32be(sec[30:]))
		g.Ny = int(uint32be(sec[34:]))
		g.La1 = micro(int32sm(sec[46:]))
		g.Lo1 = micro(int32sm(sec[50:]))
		g.La2 = micro(int32sm(sec[55:]))
		g.Lo2 = micro(int32sm(sec[59:]))
		g.Dx = micro(uint32be(sec[63:]))
		g.Dy = micro(uint32be(sec[67:]))
		g.Scanning = int(sec[71])
	case 30:
		if len(sec) < 73 {
			return g, malformed("grid template 3.30 too short")
		}
		g.Projection = ProjectionLambert
		g.Nx = int(uint32be(sec[30:]))
		g.Ny = int(uint32be(sec[34:]))
		g.La1 = micro(int32sm(sec[38:]))
		g.Lo1 = micro(int32sm(sec[42:]))
		g.LaD = micro(int32sm(sec[47:]))
		g.LoV = micro(int32sm(sec[51:]))
		g.Dx = float64(uint32be(sec[55:])) / 1000
		g.Dy = float64(uint32be(sec[59:])) / 1000
		g.Scanning = int(sec[64])
		g.Latin1 = micro(int32sm(sec[65:]))
		g.Latin2 = micro(int32sm(sec[69:]))
	default:
		// unstructured: treat the field as a single row
		g.Nx, g.Ny = points, 1
	}
	return g, nil
}

func parseProduct2(m *Message, sec []byte) error {
	if len(sec) < 34 {
		return malformed("product definition section too short")
	}
	template := uint16be(sec[7:])
	m.Category = int(sec[9])
	m.Number = int(sec[10])
	p := grib2Param(m.Discipline, m.Category, m.Number)
	m.ShortName, m.LongName, m.Units = p.short, p.long, p.units

	step, err := stepDuration(2, int(sec[17]), uint32be(sec[18:]))
	if err != nil {
		return err
	}
	// statistically processed fields are indexed at the end of their interval
	if rangeAt := statRangeOffset(template); rangeAt > 0 {
		if len(sec) < rangeAt+5 {
			return malformed("product template 4.%d too short", template)
		}
		length, err := stepDuration(2, int(sec[rangeAt]), uint32be(sec[rangeAt+1:]))
		if err != nil {
			return err
		}
		step += length
	}
	m.Step = step

	m.LevelCode = int(sec[22])
	m.LevelType = levelName(grib2Levels, m.LevelCode)
	if m.LevelCode != 255 {
		scale := int8sm(sec[23])
		raw := sec[24:28]
		if uint32be(raw) != 0xffffffff {
			m.Level = float64(uint32be(raw)) / math.Pow10(scale)
		}
		if m.LevelCode == 100 {
			m.Level /= 100
		}
	}
	return nil
}

// statRangeOffset returns the offset of the time range unit of the first
// statistical process in product templates 4.8 and 4.11, or 0.
func statRangeOffset(template int) int {
	switch template {
	case 8:
		return 48
	case 11:
		return 51
	default:
		return 0
	}
}

func micro(v int64) float64 {
	return float64(v) / 1e6
}
