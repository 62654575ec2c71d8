// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package grib

import (
	"time"
)

// sections1 holds the product, grid, bitmap and binary data sections of a GRIB1 message.
type sections1 struct {
	pds, gds, bms, bds []byte
}

func splitGRIB1(msg []byte) (sections1, error) {
	var s sections1
	end := len(msg) - len(endSection)
	pos := 8
	next := func(name string) ([]byte, error) {
		if pos+3 > end {
			return nil, malformed("grib1 %s overruns message", name)
		}
		length := uint24(msg[pos:])
		if length < 3 || pos+length > end {
			return nil, malformed("grib1 %s length %d overruns message", name, length)
		}
		sec := msg[pos : pos+length]
		pos += length
		return sec, nil
	}

	var err error
	if s.pds, err = next("product definition section"); err != nil {
		return s, err
	}
	if len(s.pds) < 28 {
		return s, malformed("grib1 product definition section too short")
	}
	flags := s.pds[7]
	if flags&0x80 != 0 {
		if s.gds, err = next("grid description section"); err != nil {
			return s, err
		}
	}
	if flags&0x40 != 0 {
		if s.bms, err = next("bitmap section"); err != nil {
			return s, err
		}
	}
	if s.bds, err = next("binary data section"); err != nil {
		return s, err
	}
	if len(s.bds) < 11 {
		return s, malformed("grib1 binary data section too short")
	}
	return s, nil
}

func parseGRIB1(msg []byte) (Message, error) {
	m := Message{Edition: 1, Fields: 1}
	s, err := splitGRIB1(msg)
	if err != nil {
		return m, err
	}
	pds := s.pds

	m.TableVersion = int(pds[3])
	m.Centre = int(pds[4])
	m.Subcentre = int(pds[25])
	m.Number = int(pds[8])
	p := grib1Param(m.Number, m.TableVersion)
	m.ShortName, m.LongName, m.Units = p.short, p.long, p.units

	m.LevelCode = int(pds[9])
	m.LevelType = levelName(grib1Levels, m.LevelCode)
	if isLayer1(m.LevelCode) {
		m.Level = float64(pds[10])
	} else {
		m.Level = float64(uint16be(pds[10:]))
	}

	year := (int(pds[24])-1)*100 + int(pds[12])
	m.ReferenceTime = time.Date(year, time.Month(pds[13]), int(pds[14]),
		int(pds[15]), int(pds[16]), 0, 0, time.UTC)

	var raw int64
	p1, p2 := int64(pds[18]), int64(pds[19])
	switch tri := pds[20]; tri {
	case 0:
		raw = p1
	case 1:
		raw = 0
	case 2, 3, 4, 5:
		raw = p2
	case 10:
		raw = p1<<8 | p2
	default:
		return m, malformed("unsupported time range indicator %d", tri)
	}
	if m.Step, err = stepDuration(1, int(pds[17]), raw); err != nil {
		return m, err
	}

	if s.gds != nil {
		if m.Grid, err = parseGrid1(s.gds); err != nil {
			return m, err
		}
		m.NumValues = m.Grid.Points()
	} else {
		m.Grid = Grid{Template: 255, Projection: ProjectionUnknown}
	}

	bds := s.bds
	m.Packing = int(bds[3] >> 4)
	if nbits := int(bds[10]); nbits > 0 && s.gds == nil {
		unused := int(bds[3] & 0x0f)
		m.NumValues = ((len(bds)-11)*8 - unused) / nbits
		m.Grid.Nx, m.Grid.Ny = m.NumValues, 1
	}
	return m, nil
}

func parseGrid1(gds []byte) (Grid, error) {
	if len(gds) < 32 {
		return Grid{}, malformed("grib1 grid description section too short")
	}
	g := Grid{Template: int(gds[5]), Projection: ProjectionUnknown}
	g.Nx = uint16be(gds[6:])
	g.Ny = uint16be(gds[8:])
	switch g.Template {
	case 0:
		g.Projection = ProjectionLatLon
		g.La1 = milli(int24sm(gds[10:]))
		g.Lo1 = milli(int24sm(gds[13:]))
		g.La2 = milli(int24sm(gds[17:]))
		g.Lo2 = milli(int24sm(gds[20:]))
		g.Dx = milli(uint16be(gds[23:]))
		g.Dy = milli(uint16be(gds[25:]))
		g.Scanning = int(gds[27])
	case 3:
		if len(gds) < 34 {
			return g, malformed("grib1 lambert grid description too short")
		}
		g.Projection = ProjectionLambert
		g.La1 = milli(int24sm(gds[10:]))
		g.Lo1 = milli(int24sm(gds[13:]))
		g.LoV = milli(int24sm(gds[17:]))
		g.Dx = float64(uint24(gds[20:]))
		g.Dy = float64(uint24(gds[23:]))
		g.Scanning = int(gds[27])
		g.Latin1 = milli(int24sm(gds[28:]))
		g.Latin2 = milli(int24sm(gds[31:]))
		g.LaD = g.Latin1
	}
	return g, nil
}

// isLayer1 reports level types whose two level octets hold top and bottom of a layer.
func isLayer1(code int) bool {
	switch code {
	case 101, 104, 106, 108, 110, 112, 114, 116, 120, 121, 128, 141:
		return true
	}
	return false
}

func milli(v int) float64 {
	return float64(v) / 1000
}
