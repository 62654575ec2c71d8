// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package grib scans GRIB edition 1 and 2 files into message metadata and
// decodes simply-packed fields.
package grib

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
)

const (
	indicator  = "GRIB"
	endSection = "7777"

	// scanChunk is the read size used when searching for the next indicator.
	scanChunk = 64 << 10

	// maxMessage bounds the size of a single message read into memory.
	maxMessage = 2 << 30
)

// Projection names used in Grid.Projection.
const (
	ProjectionLatLon  = "latitude_longitude"
	ProjectionLambert = "lambert_conformal_conic"
	ProjectionUnknown = "unknown"
)

// Grid describes the horizontal grid of a message.
type Grid struct {
	Template   int     `json:"template"`
	Projection string  `json:"projection"`
	Nx         int     `json:"nx"`
	Ny         int     `json:"ny"`
	La1        float64 `json:"la1,omitempty"`
	Lo1        float64 `json:"lo1,omitempty"`
	La2        float64 `json:"la2,omitempty"`
	Lo2        float64 `json:"lo2,omitempty"`
	Dx         float64 `json:"dx,omitempty"`
	Dy         float64 `json:"dy,omitempty"`
	LaD        float64 `json:"lad,omitempty"`
	LoV        float64 `json:"lov,omitempty"`
	Latin1     float64 `json:"latin1,omitempty"`
	Latin2     float64 `json:"latin2,omitempty"`
	Scanning   int     `json:"scanning"`
}

// Points returns the number of grid points.
func (g Grid) Points() int {
	return g.Nx * g.Ny
}

// SameShape reports whether two grids have identical dimensions and template.
func (g Grid) SameShape(o Grid) bool {
	return g.Template == o.Template && g.Nx == o.Nx && g.Ny == o.Ny
}

// Message is the metadata of one GRIB message.
type Message struct {
	Offset  int64 `json:"offset"`
	Length  int64 `json:"length"`
	Edition int   `json:"edition"`

	Centre    int `json:"centre"`
	Subcentre int `json:"subcentre"`

	// GRIB2 parameter identity; Number also holds the GRIB1 indicatorOfParameter.
	Discipline   int `json:"discipline"`
	Category     int `json:"category"`
	Number       int `json:"number"`
	TableVersion int `json:"table_version,omitempty"`

	ShortName string `json:"short_name"`
	LongName  string `json:"long_name,omitempty"`
	Units     string `json:"units,omitempty"`

	LevelCode int     `json:"level_code"`
	LevelType string  `json:"level_type"`
	Level     float64 `json:"level"`

	ReferenceTime time.Time     `json:"reference_time"`
	Step          time.Duration `json:"step"`

	Grid      Grid `json:"grid"`
	NumValues int  `json:"num_values"`
	Packing   int  `json:"packing"`
	Fields    int  `json:"fields"`
}

// ValidTime returns the reference time plus the forecast step.
func (m Message) ValidTime() time.Time {
	return m.ReferenceTime.Add(m.Step)
}

// ParamID returns a stable parameter identifier independent of the short name.
func (m Message) ParamID() string {
	if m.Edition == 1 {
		return fmt.Sprintf("%d.%d", m.Number, m.TableVersion)
	}
	return fmt.Sprintf("%d.%d.%d", m.Discipline, m.Category, m.Number)
}

// Scan walks r looking for GRIB messages and returns their metadata in file order.
// Bytes between messages are skipped.
func Scan(r io.ReaderAt, size int64) ([]Message, error) {
	var msgs []Message
	pos := int64(0)
	for pos < size {
		start, err := nextIndicator(r, pos, size)
		if err != nil {
			return nil, err
		}
		if start < 0 {
			break
		}
		msg, err := readMessage(r, start, size)
		if errors.HasCode(err, errors.CodeUnsupported) {
			// a stray indicator inside padding, keep searching
			pos = start + 1
			continue
		}
		if err != nil {
			return nil, err
		}
		m, err := parse(msg)
		if err != nil {
			return nil, errors.As(err).WithContext("offset", start)
		}
		m.Offset = start
		m.Length = int64(len(msg))
		msgs = append(msgs, m)
		pos = start + m.Length
	}
	return msgs, nil
}

// ScanFile opens path and scans it.
func ScanFile(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.CodeIO, "open grib file", err).WithContext("path", path)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, errors.New(errors.CodeIO, "stat grib file", err).WithContext("path", path)
	}
	msgs, err := Scan(f, info.Size())
	if err != nil {
		return nil, errors.As(err).WithContext("path", path)
	}
	return msgs, nil
}

// ReadMessage returns the raw bytes of the message at offset.
func ReadMessage(r io.ReaderAt, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 16 || length > maxMessage {
		return nil, errors.Newf(errors.CodeMalformed, "reference length %d is not a grib message", length).
			WithContext("offset", offset)
	}
	buf := make([]byte, length)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, errors.New(errors.CodeIO, "read grib message", err).
			WithContext("offset", offset).
			WithContext("length", length)
	}
	if !bytes.HasPrefix(buf, []byte(indicator)) || !bytes.HasSuffix(buf, []byte(endSection)) {
		return nil, errors.New(errors.CodeMalformed, "reference does not address a full grib message", nil).
			WithContext("offset", offset)
	}
	return buf, nil
}

func nextIndicator(r io.ReaderAt, pos, size int64) (int64, error) {
	buf := make([]byte, scanChunk)
	for pos < size {
		n := int64(len(buf))
		if pos+n > size {
			n = size - pos
		}
		read, err := r.ReadAt(buf[:n], pos)
		if err != nil && err != io.EOF {
			return -1, errors.New(errors.CodeIO, "read grib file", err).WithContext("offset", pos)
		}
		if i := bytes.Index(buf[:read], []byte(indicator)); i >= 0 {
			return pos + int64(i), nil
		}
		if pos+int64(read) >= size {
			break
		}
		// keep an overlap so an indicator split across chunks is found
		pos += int64(read) - int64(len(indicator)-1)
	}
	return -1, nil
}

func readMessage(r io.ReaderAt, start, size int64) ([]byte, error) {
	if start+16 > size {
		return nil, truncated(start)
	}
	head := make([]byte, 16)
	if _, err := r.ReadAt(head, start); err != nil {
		return nil, errors.New(errors.CodeIO, "read grib header", err).WithContext("offset", start)
	}
	var length int64
	switch edition := head[7]; edition {
	case 1:
		length = int64(uint24(head[4:]))
	case 2:
		length = int64(uint64be(head[8:]))
	default:
		return nil, errors.Newf(errors.CodeUnsupported, "grib edition %d", edition).WithContext("offset", start)
	}
	if length < 16 || length > size-start || length > maxMessage {
		return nil, truncated(start)
	}
	msg := make([]byte, length)
	if _, err := r.ReadAt(msg, start); err != nil {
		return nil, errors.New(errors.CodeIO, "read grib message", err).WithContext("offset", start)
	}
	if !bytes.HasSuffix(msg, []byte(endSection)) {
		return nil, errors.New(errors.CodeMalformed, "missing end section", nil).WithContext("offset", start)
	}
	return msg, nil
}

func parse(msg []byte) (Message, error) {
	switch msg[7] {
	case 1:
		return parseGRIB1(msg)
	case 2:
		return parseGRIB2(msg)
	default:
		return Message{}, errors.Newf(errors.CodeUnsupported, "grib edition %d", msg[7])
	}
}

func truncated(offset int64) *errors.Error {
	return errors.New(errors.CodeMalformed, "truncated grib message", nil).WithContext("offset", offset)
}

func malformed(format string, args ...interface{}) *errors.Error {
	return errors.Newf(errors.CodeMalformed, format, args...)
}
