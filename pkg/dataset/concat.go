// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"slices"
	"sort"
	"strings"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/refstore"
)

// Concat combines datasets along dim, which is either "time" or
// "analysis_time".
//
// Along "time" the time and level coordinates are outer-joined and every
// chunk is moved to its position in the union. Along "analysis_time" each
// dataset's time becomes valid_time, its first time becomes its analysis
// time and the datasets are stacked on a new leading dimension. Later
// datasets win when two place a chunk at the same position.
func Concat(datasets []*Dataset, dim string) (*Dataset, error) {
	if len(datasets) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "no datasets to concatenate", nil)
	}
	if err := checkGrids(datasets); err != nil {
		return nil, err
	}
	switch dim {
	case DimTime:
		return concatTime(datasets)
	case DimAnalysisTime:
		return concatAnalysisTime(datasets)
	default:
		return nil, errors.Newf(errors.CodeUnsupported, "cannot concatenate along %q", dim)
	}
}

func checkGrids(datasets []*Dataset) error {
	first := datasets[0]
	for _, dim := range []string{"x", "y"} {
		want := -1
		if c, ok := first.Coords[dim]; ok {
			want = len(c.Values)
		}
		for i, ds := range datasets[1:] {
			got := -1
			if c, ok := ds.Coords[dim]; ok {
				got = len(c.Values)
			}
			if got != want {
				return errors.Newf(errors.CodeInvalidInput, "grid mismatch: dataset %d has %s of length %d, expected %d", i+1, dim, got, want)
			}
		}
	}
	return nil
}

// union returns the sorted distinct values of coordinate name over all
// datasets and, per dataset, the position of each of its values in the union.
func union(datasets []*Dataset, name string) ([]float64, [][]int) {
	seen := make(map[float64]bool)
	var all []float64
	for _, ds := range datasets {
		if c, ok := ds.Coords[name]; ok {
			for _, v := range c.Values {
				if !seen[v] {
					seen[v] = true
					all = append(all, v)
				}
			}
		}
	}
	sort.Float64s(all)
	pos := make(map[float64]int, len(all))
	for i, v := range all {
		pos[v] = i
	}
	maps := make([][]int, len(datasets))
	for i, ds := range datasets {
		if c, ok := ds.Coords[name]; ok {
			m := make([]int, len(c.Values))
			for j, v := range c.Values {
				m[j] = pos[v]
			}
			maps[i] = m
		}
	}
	return all, maps
}

// templateMerger merges URL templates. A template whose name is already
// bound to a different value is expanded in place.
type templateMerger struct {
	templates map[string]string
}

func (m *templateMerger) add(ds *Dataset) func(refstore.Ref) refstore.Ref {
	var conflicts []string
	for k, v := range ds.Templates {
		if cur, ok := m.templates[k]; ok && cur != v {
			conflicts = append(conflicts, k)
			continue
		}
		m.templates[k] = v
	}
	if len(conflicts) == 0 {
		return func(r refstore.Ref) refstore.Ref { return r }
	}
	return func(r refstore.Ref) refstore.Ref {
		for _, k := range conflicts {
			r.URL = strings.ReplaceAll(r.URL, "{{"+k+"}}", ds.Templates[k])
		}
		return r
	}
}

func copyAttrs(attrs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func copyCoord(c *Coord) *Coord {
	out := *c
	out.Dims = append([]string(nil), c.Dims...)
	out.Values = append([]float64(nil), c.Values...)
	out.Attrs = copyAttrs(c.Attrs)
	return &out
}

// remap describes how one dataset's chunk indices move into the output.
type remap struct {
	// dims maps dimension names to old-to-new index tables.
	dims map[string][]int
	// lead, when >= 0, is prepended to every chunk index.
	lead int
	// rename replaces dimension names.
	rename map[string]string
}

// mergeVariable adds v, remapped, to out. sizes gives the output length of
// every remapped dimension.
func mergeVariable(out map[string]*Variable, v *Variable, r remap, sizes map[string]int, fix func(refstore.Ref) refstore.Ref) error {
	dims := make([]string, 0, len(v.Dims)+1)
	shape := make([]int, 0, len(v.Dims)+1)
	chunks := make([]int, 0, len(v.Dims)+1)
	if r.lead >= 0 {
		dims = append(dims, DimAnalysisTime)
		shape = append(shape, sizes[DimAnalysisTime])
		chunks = append(chunks, 1)
	}
	for i, d := range v.Dims {
		name := d
		if n, ok := r.rename[d]; ok {
			name = n
		}
		dims = append(dims, name)
		size := v.Meta.Shape[i]
		if _, ok := r.dims[d]; ok {
			if v.Meta.Chunks[i] != 1 {
				return errors.Newf(errors.CodeUnsupported, "variable %s: dimension %s must be chunked by 1 to concatenate", v.Name, d)
			}
			size = sizes[name]
		}
		shape = append(shape, size)
		chunks = append(chunks, v.Meta.Chunks[i])
	}

	dst, ok := out[v.Name]
	if !ok {
		meta := v.Meta
		meta.Shape = shape
		meta.Chunks = chunks
		dst = &Variable{Name: v.Name, Dims: dims, Meta: meta, Attrs: copyAttrs(v.Attrs), Refs: make(map[string]refstore.Ref)}
		out[v.Name] = dst
	} else if !slices.Equal(dst.Dims, dims) || !slices.Equal(dst.Meta.Shape, shape) {
		return errors.Newf(errors.CodeInvalidInput, "variable %s has dims %v%v, expected %v%v", v.Name, dims, shape, dst.Dims, dst.Meta.Shape)
	}

	for key, ref := range v.Refs {
		index, err := ParseChunkKey(key)
		if err != nil {
			return errors.As(err).WithContext("variable", v.Name)
		}
		if len(index) != len(v.Dims) {
			return errors.Newf(errors.CodeMalformed, "variable %s: chunk key %q does not match dims %v", v.Name, key, v.Dims)
		}
		newIndex := make([]int, 0, len(index)+1)
		if r.lead >= 0 {
			newIndex = append(newIndex, r.lead)
		}
		for i, n := range index {
			if m, ok := r.dims[v.Dims[i]]; ok {
				if n >= len(m) {
					return errors.Newf(errors.CodeMalformed, "variable %s: chunk key %q outside coordinate %s", v.Name, key, v.Dims[i])
				}
				n = m[n]
			}
			newIndex = append(newIndex, n)
		}
		dst.Refs[ChunkKey(newIndex)] = fix(ref)
	}
	return nil
}

func concatTime(datasets []*Dataset) (*Dataset, error) {
	first := datasets[0]
	out := &Dataset{
		Attrs:     copyAttrs(first.Attrs),
		Coords:    make(map[string]*Coord),
		Vars:      make(map[string]*Variable),
		Templates: make(map[string]string),
	}
	merger := &templateMerger{templates: out.Templates}

	times, timeMaps := union(datasets, DimTime)
	levels, levelMaps := union(datasets, DimLevel)
	sizes := map[string]int{DimTime: len(times), DimLevel: len(levels)}

	for i, ds := range datasets {
		fix := merger.add(ds)
		r := remap{dims: map[string][]int{}, lead: -1}
		if timeMaps[i] != nil {
			r.dims[DimTime] = timeMaps[i]
		}
		if levelMaps[i] != nil {
			r.dims[DimLevel] = levelMaps[i]
		}
		for _, name := range ds.VariableNames() {
			if err := mergeVariable(out.Vars, ds.Vars[name], r, sizes, fix); err != nil {
				return nil, err
			}
		}
		for name, c := range ds.Coords {
			if _, ok := out.Coords[name]; !ok {
				out.Coords[name] = copyCoord(c)
			}
		}
	}
	if c, ok := out.Coords[DimTime]; ok {
		c.Values = times
	}
	if c, ok := out.Coords[DimLevel]; ok {
		c.Values = levels
	}
	return out, nil
}

func concatAnalysisTime(datasets []*Dataset) (*Dataset, error) {
	first := datasets[0]
	out := &Dataset{
		Attrs:     copyAttrs(first.Attrs),
		Coords:    make(map[string]*Coord),
		Vars:      make(map[string]*Variable),
		Templates: make(map[string]string),
	}
	merger := &templateMerger{templates: out.Templates}

	analysis := make([]float64, len(datasets))
	for i, ds := range datasets {
		if _, ok := ds.Coords[DimAnalysisTime]; ok {
			return nil, errors.Newf(errors.CodeUnsupported, "dataset %d already has an analysis_time coordinate", i)
		}
		c, ok := ds.Coords[DimTime]
		if !ok || len(c.Values) == 0 {
			return nil, errors.Newf(errors.CodeInvalidInput, "dataset %d has no time values", i)
		}
		analysis[i] = c.Values[0]
	}

	validTimes, timeMaps := union(datasets, DimTime)
	levels, levelMaps := union(datasets, DimLevel)
	sizes := map[string]int{
		DimAnalysisTime: len(datasets),
		DimValidTime:    len(validTimes),
		DimLevel:        len(levels),
	}

	for i, ds := range datasets {
		fix := merger.add(ds)
		for _, name := range ds.VariableNames() {
			v := ds.Vars[name]
			r := remap{dims: map[string][]int{}, lead: -1}
			if slices.Contains(v.Dims, DimTime) {
				r.lead = i
				r.dims[DimTime] = timeMaps[i]
				r.rename = map[string]string{DimTime: DimValidTime}
			} else if i > 0 {
				if _, ok := out.Vars[name]; ok {
					continue
				}
			}
			if levelMaps[i] != nil {
				r.dims[DimLevel] = levelMaps[i]
			}
			if err := mergeVariable(out.Vars, v, r, sizes, fix); err != nil {
				return nil, err
			}
		}
		for name, c := range ds.Coords {
			if name == DimTime {
				continue
			}
			if _, ok := out.Coords[name]; !ok {
				out.Coords[name] = copyCoord(c)
			}
		}
	}

	timeCoord := first.Coords[DimTime]
	out.Coords[DimValidTime] = &Coord{
		Name:   DimValidTime,
		Dims:   []string{DimValidTime},
		DType:  timeCoord.DType,
		Values: validTimes,
		Attrs:  copyAttrs(timeCoord.Attrs),
	}
	analysisAttrs := copyAttrs(timeCoord.Attrs)
	analysisAttrs["long_name"] = "analysis time"
	delete(analysisAttrs, "standard_name")
	out.Coords[DimAnalysisTime] = &Coord{
		Name:   DimAnalysisTime,
		Dims:   []string{DimAnalysisTime},
		DType:  timeCoord.DType,
		Values: analysis,
		Attrs:  analysisAttrs,
	}
	if c, ok := out.Coords[DimLevel]; ok {
		c.Values = levels
	}
	return out, nil
}
