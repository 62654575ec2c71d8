// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package dataset gives a labelled view over a reference store: coordinates,
// variables and their chunk references. Datasets can be concatenated along
// time or along a new analysis_time dimension and rendered back to a store.
package dataset

import (
	"context"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/grib"
	"github.com/gribscan/gribscan-harmonie/pkg/refstore"
)

// Dimension names with special meaning.
const (
	DimTime         = "time"
	DimValidTime    = "valid_time"
	DimAnalysisTime = "analysis_time"
	DimLevel        = "level"
)

// Coord is a decoded coordinate array. Scalar coordinates have no dims.
type Coord struct {
	Name   string
	Dims   []string
	DType  string
	Values []float64
	Attrs  map[string]interface{}
}

// Times interprets the values as seconds since the epoch.
func (c *Coord) Times() []time.Time {
	out := make([]time.Time, len(c.Values))
	for i, v := range c.Values {
		out[i] = time.Unix(int64(v), 0).UTC()
	}
	return out
}

// Variable is a chunked array whose chunks are references into GRIB files.
type Variable struct {
	Name  string
	Dims  []string
	Meta  refstore.ArrayMeta
	Attrs map[string]interface{}
	// Refs maps chunk keys such as "0.1.0.0" to references.
	Refs map[string]refstore.Ref
}

// Shape returns the array shape.
func (v *Variable) Shape() []int {
	return v.Meta.Shape
}

// Dataset is an opened reference store.
type Dataset struct {
	Attrs     map[string]interface{}
	Coords    map[string]*Coord
	Vars      map[string]*Variable
	Templates map[string]string
}

// Open decodes the coordinates and variables of s. One-dimensional arrays
// named after their dimension and scalar arrays are coordinates.
func Open(s *refstore.Store) (*Dataset, error) {
	attrs, err := s.GroupAttrs()
	if err != nil {
		return nil, err
	}
	ds := &Dataset{
		Attrs:     attrs,
		Coords:    make(map[string]*Coord),
		Vars:      make(map[string]*Variable),
		Templates: make(map[string]string, len(s.Templates)),
	}
	for k, v := range s.Templates {
		ds.Templates[k] = v
	}

	for _, name := range s.Arrays() {
		meta, attrs, err := s.Array(name)
		if err != nil {
			return nil, err
		}
		dims := refstore.Dims(attrs)
		delete(attrs, refstore.DimensionsAttr)
		if len(dims) != len(meta.Shape) {
			return nil, errors.Newf(errors.CodeMalformed, "array %s: %d dimensions for shape %v", name, len(dims), meta.Shape)
		}

		if len(dims) == 0 || (len(dims) == 1 && dims[0] == name) {
			values, err := s.ReadFloat64(name)
			if err != nil {
				return nil, err
			}
			ds.Coords[name] = &Coord{Name: name, Dims: dims, DType: meta.DType, Values: values, Attrs: attrs}
			continue
		}

		v := &Variable{Name: name, Dims: dims, Meta: meta, Attrs: attrs, Refs: make(map[string]refstore.Ref)}
		for _, key := range s.Keys(name + "/") {
			chunk := strings.TrimPrefix(key, name+"/")
			if strings.HasPrefix(chunk, ".") {
				continue
			}
			ref, _ := s.Get(key)
			v.Refs[chunk] = ref
		}
		ds.Vars[name] = v
	}
	return ds, nil
}

// OpenFile opens the store at path.
func OpenFile(path string) (*Dataset, error) {
	s, err := refstore.Open(path)
	if err != nil {
		return nil, err
	}
	return Open(s)
}

// VariableNames returns the sorted variable names.
func (d *Dataset) VariableNames() []string {
	names := make([]string, 0, len(d.Vars))
	for n := range d.Vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CoordNames returns the sorted coordinate names.
func (d *Dataset) CoordNames() []string {
	names := make([]string, 0, len(d.Coords))
	for n := range d.Coords {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Sizes returns the length of every dimension.
func (d *Dataset) Sizes() map[string]int {
	sizes := make(map[string]int)
	for _, c := range d.Coords {
		if len(c.Dims) == 1 {
			sizes[c.Dims[0]] = len(c.Values)
		}
	}
	for _, v := range d.Vars {
		for i, dim := range v.Dims {
			sizes[dim] = v.Meta.Shape[i]
		}
	}
	return sizes
}

// Times returns the time coordinate, or nil when there is none.
func (d *Dataset) Times() []time.Time {
	c, ok := d.Coords[DimTime]
	if !ok {
		return nil
	}
	return c.Times()
}

// Store renders the dataset as a reference store.
func (d *Dataset) Store() (*refstore.Store, error) {
	s := refstore.New(d.Templates)
	if err := s.SetGroup(d.Attrs); err != nil {
		return nil, err
	}
	for _, name := range d.CoordNames() {
		c := d.Coords[name]
		if err := setCoord(s, c); err != nil {
			return nil, err
		}
	}
	for _, name := range d.VariableNames() {
		v := d.Vars[name]
		if err := s.SetArray(name, v.Meta, v.Dims, v.Attrs); err != nil {
			return nil, err
		}
		for key, ref := range v.Refs {
			s.Set(name+"/"+key, ref)
		}
	}
	return s, nil
}

func setCoord(s *refstore.Store, c *Coord) error {
	if len(c.Dims) == 0 {
		var v float64
		if len(c.Values) > 0 {
			v = c.Values[0]
		}
		if c.DType == "<i8" {
			return s.SetScalarInt64(c.Name, int64(v), c.Attrs)
		}
		return s.SetScalarFloat64(c.Name, v, c.Attrs)
	}
	if c.DType == "<i8" {
		ints := make([]int64, len(c.Values))
		for i, v := range c.Values {
			ints[i] = int64(v)
		}
		return s.SetInlineInt64(c.Name, ints, c.Attrs)
	}
	return s.SetInlineFloat64(c.Name, c.Values, c.Attrs)
}

// ChunkKey formats a chunk index as a zarr key.
func ChunkKey(index []int) string {
	parts := make([]string, len(index))
	for i, n := range index {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// ParseChunkKey parses a zarr chunk key.
func ParseChunkKey(key string) ([]int, error) {
	parts := strings.Split(key, ".")
	index := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, errors.Newf(errors.CodeMalformed, "invalid chunk key %q", key)
		}
		index[i] = n
	}
	return index, nil
}

// ReadChunk returns the raw bytes referenced by one chunk of variable. A
// chunk without a reference returns nil and no error.
func (d *Dataset) ReadChunk(ctx context.Context, variable string, index []int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CodeContextLost, "read cancelled", err)
	}
	v, ok := d.Vars[variable]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "variable %s not found", variable).
			WithContext("available", strings.Join(d.VariableNames(), ", "))
	}
	if len(index) != len(v.Dims) {
		return nil, errors.Newf(errors.CodeInvalidInput, "variable %s has %d dimensions, got index %v", variable, len(v.Dims), index)
	}
	for i, n := range index {
		chunks := v.Meta.Shape[i]
		if c := v.Meta.Chunks[i]; c > 0 {
			chunks = (v.Meta.Shape[i] + c - 1) / c
		}
		if n < 0 || n >= chunks {
			return nil, errors.Newf(errors.CodeInvalidInput, "chunk index %v out of range for %s", index, variable)
		}
	}

	ref, ok := v.Refs[ChunkKey(index)]
	if !ok {
		return nil, nil
	}
	if ref.IsInline() {
		return ref.Data, nil
	}

	path := strings.TrimPrefix(d.resolve(ref.URL), "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.CodeIO, "open referenced file", err).WithContext("path", path)
	}
	defer f.Close()
	length := ref.Length
	if length == 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, errors.New(errors.CodeIO, "stat referenced file", err).WithContext("path", path)
		}
		length = info.Size() - ref.Offset
	}
	msg, err := grib.ReadMessage(f, ref.Offset, length)
	if err != nil {
		return nil, errors.As(err).WithContext("path", path)
	}
	return msg, nil
}

// DecodeChunk reads and decodes one chunk. Missing chunks decode to NaN.
func (d *Dataset) DecodeChunk(ctx context.Context, variable string, index []int) ([]float64, error) {
	raw, err := d.ReadChunk(ctx, variable, index)
	if err != nil {
		return nil, err
	}
	v := d.Vars[variable]
	size := 1
	for _, c := range v.Meta.Chunks {
		size *= c
	}
	if raw == nil {
		out := make([]float64, size)
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	}
	values, err := grib.Decode(raw)
	if err != nil {
		return nil, err
	}
	if len(values) != size {
		return nil, errors.Newf(errors.CodeMalformed, "chunk of %s decoded to %d values, expected %d", variable, len(values), size)
	}
	return values, nil
}

func (d *Dataset) resolve(url string) string {
	if !strings.Contains(url, "{{") {
		return url
	}
	for k, v := range d.Templates {
		url = strings.ReplaceAll(url, "{{"+k+"}}", v)
	}
	return url
}

// TimesOverlap reports whether a and b share more than one time value.
func TimesOverlap(a, b *Dataset) bool {
	ca, okA := a.Coords[DimTime]
	cb, okB := b.Coords[DimTime]
	if !okA || !okB {
		return false
	}
	seen := make(map[float64]bool, len(ca.Values))
	for _, v := range ca.Values {
		seen[v] = true
	}
	shared := 0
	for _, v := range cb.Values {
		if seen[v] {
			shared++
			delete(seen, v)
		}
	}
	return shared > 1
}
