// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package magician turns GRIB index entries into zarr reference stores.
package magician

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/grib"
	"github.com/gribscan/gribscan-harmonie/pkg/gribindex"
	"github.com/gribscan/gribscan-harmonie/pkg/refstore"
)

// URLTemplate is the template name that holds the global prefix.
const URLTemplate = "u"

// RawGribCodec is the compressor id of chunks that are whole GRIB messages.
const RawGribCodec = "gribscan.rawgrib"

// TimeUnits are the CF units of the time coordinate.
const TimeUnits = "seconds since 1970-01-01T00:00:00"

// Dimension names of every variable, in order.
var Dims = []string{"time", "level", "y", "x"}

// Magician builds one reference store per group of index entries.
type Magician interface {
	Build(entries []gribindex.Entry, globalPrefix string) (map[string]*refstore.Store, error)
}

// Harmonie groups messages by level type and lays each group out as
// (time, level, y, x) variables keyed by short name.
type Harmonie struct {
	Logger *slog.Logger
}

var _ Magician = Harmonie{}

func (h Harmonie) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Group splits entries by level type, keeping input order within each group.
func (h Harmonie) Group(entries []gribindex.Entry) map[string][]gribindex.Entry {
	groups := make(map[string][]gribindex.Entry)
	for _, e := range entries {
		groups[e.LevelType] = append(groups[e.LevelType], e)
	}
	return groups
}

// Build returns a store per level type. Chunk URLs are relative to
// globalPrefix through the {{u}} template.
func (h Harmonie) Build(entries []gribindex.Entry, globalPrefix string) (map[string]*refstore.Store, error) {
	stores := make(map[string]*refstore.Store)
	for levelType, group := range h.Group(entries) {
		s, err := h.buildGroup(levelType, group, globalPrefix)
		if err != nil {
			return nil, errors.As(err).WithContext("level_type", levelType)
		}
		stores[levelType] = s
	}
	return stores, nil
}

func (h Harmonie) buildGroup(levelType string, entries []gribindex.Entry, prefix string) (*refstore.Store, error) {
	g := entries[0].Grid
	for _, e := range entries[1:] {
		if !e.Grid.SameShape(g) {
			return nil, errors.Newf(errors.CodeInvalidInput,
				"mixed grids in level type %s: %dx%d (template %d) and %dx%d (template %d)",
				levelType, g.Nx, g.Ny, g.Template, e.Grid.Nx, e.Grid.Ny, e.Grid.Template).
				WithContext("file", e.Filename)
		}
	}

	times := uniqueTimes(entries)
	levels := uniqueLevels(entries)
	timeIndex := make(map[int64]int, len(times))
	for i, t := range times {
		timeIndex[t] = i
	}
	levelIndex := make(map[float64]int, len(levels))
	for i, l := range levels {
		levelIndex[l] = i
	}

	s := refstore.New(map[string]string{URLTemplate: prefix})
	if err := s.SetGroup(globalAttrs(entries, g)); err != nil {
		return nil, err
	}

	vars := make(map[string]gribindex.Entry)
	for _, e := range entries {
		if _, ok := vars[e.ShortName]; !ok {
			vars[e.ShortName] = e
			meta := refstore.ArrayMeta{
				Chunks:     []int{1, 1, g.Ny, g.Nx},
				Compressor: refstore.Codec{"id": RawGribCodec},
				DType:      "<f8",
				FillValue:  "NaN",
				Shape:      []int{len(times), len(levels), g.Ny, g.Nx},
			}
			if err := s.SetArray(e.ShortName, meta, Dims, variableAttrs(e)); err != nil {
				return nil, err
			}
		}

		key := fmt.Sprintf("%s/%d.%d.0.0", e.ShortName, timeIndex[e.ValidTime.Unix()], levelIndex[e.Level])
		if prev, ok := s.Get(key); ok {
			h.logger().Warn("duplicate message, keeping the later one",
				"variable", e.ShortName,
				"level_type", levelType,
				"time", e.ValidTime.UTC().Format(time.RFC3339),
				"level", e.Level,
				"previous", prev.URL,
				"file", e.Filename)
		}
		s.Set(key, refstore.Range(chunkURL(e.Filename, prefix), e.Offset, e.Length))
	}

	if err := s.SetInlineInt64("time", times, map[string]interface{}{
		"standard_name": "time",
		"units":         TimeUnits,
		"calendar":      "proleptic_gregorian",
	}); err != nil {
		return nil, err
	}
	levelAttrs := map[string]interface{}{"long_name": levelType}
	if u := levelUnits(levelType); u != "" {
		levelAttrs["units"] = u
	}
	if err := s.SetInlineFloat64("level", levels, levelAttrs); err != nil {
		return nil, err
	}
	x, y, xAttrs, yAttrs := gridCoords(g)
	if err := s.SetInlineFloat64("x", x, xAttrs); err != nil {
		return nil, err
	}
	if err := s.SetInlineFloat64("y", y, yAttrs); err != nil {
		return nil, err
	}
	return s, nil
}

// chunkURL expresses filename relative to prefix through the URL template.
// Files outside the prefix keep their absolute path.
func chunkURL(filename, prefix string) string {
	if prefix != "" && strings.HasPrefix(filename, prefix) {
		return "{{" + URLTemplate + "}}" + filepath.ToSlash(strings.TrimPrefix(filename, prefix))
	}
	return filename
}

func uniqueTimes(entries []gribindex.Entry) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, e := range entries {
		t := e.ValidTime.Unix()
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func uniqueLevels(entries []gribindex.Entry) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, e := range entries {
		if !seen[e.Level] {
			seen[e.Level] = true
			out = append(out, e.Level)
		}
	}
	sort.Float64s(out)
	return out
}

func variableAttrs(e gribindex.Entry) map[string]interface{} {
	attrs := map[string]interface{}{
		"GRIB_paramId":     e.ParamID,
		"GRIB_shortName":   e.ShortName,
		"GRIB_typeOfLevel": e.LevelType,
	}
	if e.LongName != "" {
		attrs["long_name"] = e.LongName
	}
	if e.Units != "" {
		attrs["units"] = e.Units
	}
	return attrs
}

func globalAttrs(entries []gribindex.Entry, g grib.Grid) map[string]interface{} {
	analysis := entries[0].ReferenceTime
	for _, e := range entries[1:] {
		if e.ReferenceTime.Before(analysis) {
			analysis = e.ReferenceTime
		}
	}
	attrs := map[string]interface{}{
		"source":          "gribscan-harmonie",
		"centre":          entries[0].Centre,
		"institution":     centreName(entries[0].Centre),
		"grid_projection": g.Projection,
		"grid_nx":         g.Nx,
		"grid_ny":         g.Ny,
		"analysis_time":   analysis.UTC().Format(time.RFC3339),
	}
	switch g.Projection {
	case grib.ProjectionLambert:
		attrs["latitude_of_first_grid_point"] = g.La1
		attrs["longitude_of_first_grid_point"] = g.Lo1
		attrs["latitude_of_projection_origin"] = g.LaD
		attrs["longitude_of_central_meridian"] = g.LoV
		attrs["standard_parallel"] = []float64{g.Latin1, g.Latin2}
		attrs["grid_dx"] = g.Dx
		attrs["grid_dy"] = g.Dy
	case grib.ProjectionLatLon:
		attrs["latitude_of_first_grid_point"] = g.La1
		attrs["longitude_of_first_grid_point"] = g.Lo1
		attrs["latitude_of_last_grid_point"] = g.La2
		attrs["longitude_of_last_grid_point"] = g.Lo2
	}
	return attrs
}

// gridCoords returns x and y coordinates in grid order: metres from the first
// point for projected grids, degrees for lat/lon grids and indices otherwise.
func gridCoords(g grib.Grid) (x, y []float64, xAttrs, yAttrs map[string]interface{}) {
	x = make([]float64, g.Nx)
	y = make([]float64, g.Ny)
	switch g.Projection {
	case grib.ProjectionLambert:
		for i := range x {
			x[i] = float64(i) * g.Dx
		}
		for j := range y {
			y[j] = float64(j) * g.Dy
		}
		xAttrs = map[string]interface{}{"standard_name": "projection_x_coordinate", "units": "m"}
		yAttrs = map[string]interface{}{"standard_name": "projection_y_coordinate", "units": "m"}
	case grib.ProjectionLatLon:
		dy := g.Dy
		if g.La2 < g.La1 {
			dy = -math.Abs(dy)
		}
		for i := range x {
			x[i] = g.Lo1 + float64(i)*g.Dx
		}
		for j := range y {
			y[j] = g.La1 + float64(j)*dy
		}
		xAttrs = map[string]interface{}{"standard_name": "longitude", "units": "degrees_east"}
		yAttrs = map[string]interface{}{"standard_name": "latitude", "units": "degrees_north"}
	default:
		for i := range x {
			x[i] = float64(i)
		}
		for j := range y {
			y[j] = float64(j)
		}
		xAttrs = map[string]interface{}{"long_name": "grid index x"}
		yAttrs = map[string]interface{}{"long_name": "grid index y"}
	}
	return x, y, xAttrs, yAttrs
}

func levelUnits(levelType string) string {
	switch levelType {
	case "isobaricInhPa":
		return "hPa"
	case "heightAboveGround", "heightAboveSea", "depthBelowLand":
		return "m"
	}
	return ""
}

func centreName(centre int) string {
	switch centre {
	case 233:
		return "Met Eireann"
	case 94:
		return "Danish Meteorological Institute"
	case 88:
		return "Norwegian Meteorological Institute"
	case 82:
		return "Swedish Meteorological and Hydrological Institute"
	case 98:
		return "European Centre for Medium-Range Weather Forecasts"
	}
	return fmt.Sprintf("centre %d", centre)
}
