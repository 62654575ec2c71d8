// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package magician

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/grib"
	"github.com/gribscan/gribscan-harmonie/pkg/gribindex"
	"github.com/gribscan/gribscan-harmonie/pkg/refstore"
)

var analysis = time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)

var lambert = grib.Grid{
	Template:   30,
	Projection: grib.ProjectionLambert,
	Nx:         4,
	Ny:         3,
	Dx:         2500,
	Dy:         2500,
	LoV:        15,
	Latin1:     63.3,
	Latin2:     63.3,
}

func entry(file, short, levelType string, level float64, step int, offset int64) gribindex.Entry {
	return gribindex.Entry{
		Filename:      file,
		Offset:        offset,
		Length:        100,
		Edition:       2,
		Centre:        233,
		ShortName:     short,
		Units:         "K",
		ParamID:       "0.0.0",
		LevelType:     levelType,
		Level:         level,
		ReferenceTime: analysis,
		Step:          int64(step * 3600),
		ValidTime:     analysis.Add(time.Duration(step) * time.Hour),
		Grid:          lambert,
	}
}

func TestGroup(t *testing.T) {
	entries := []gribindex.Entry{
		entry("/d/a", "t", "heightAboveGround", 2, 0, 0),
		entry("/d/a", "t", "isobaricInhPa", 500, 0, 100),
		entry("/d/b", "u", "heightAboveGround", 10, 1, 0),
	}
	groups := Harmonie{}.Group(entries)
	if len(groups) != 2 || len(groups["heightAboveGround"]) != 2 || len(groups["isobaricInhPa"]) != 1 {
		t.Fatalf("unexpected groups %v", groups)
	}
	if groups["heightAboveGround"][1].ShortName != "u" {
		t.Error("group order should follow input order")
	}
}

func TestBuild(t *testing.T) {
	entries := []gribindex.Entry{
		entry("/data/run/fc+001.grib2", "t", "heightAboveGround", 2, 1, 0),
		entry("/data/run/fc+001.grib2", "u", "heightAboveGround", 10, 1, 100),
		entry("/data/run/fc+000.grib2", "t", "heightAboveGround", 2, 0, 0),
		entry("/data/run/fc+000.grib2", "t", "isobaricInhPa", 850, 0, 100),
		entry("/data/run/fc+000.grib2", "t", "isobaricInhPa", 500, 0, 200),
	}
	stores, err := Harmonie{}.Build(entries, "/data/run/")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(stores) != 2 {
		t.Fatalf("expected 2 stores, got %d", len(stores))
	}

	s := stores["heightAboveGround"]
	if s.Templates[URLTemplate] != "/data/run/" {
		t.Errorf("unexpected templates %v", s.Templates)
	}
	if diff := cmp.Diff([]string{"level", "t", "time", "u", "x", "y"}, s.Arrays()); diff != "" {
		t.Errorf("arrays mismatch (-want +got):\n%s", diff)
	}

	meta, attrs, err := s.Array("t")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{2, 2, 3, 4}, meta.Shape); diff != "" {
		t.Errorf("shape mismatch: %s", diff)
	}
	if diff := cmp.Diff([]int{1, 1, 3, 4}, meta.Chunks); diff != "" {
		t.Errorf("chunks mismatch: %s", diff)
	}
	if meta.Compressor["id"] != RawGribCodec || meta.DType != "<f8" || meta.FillValue != "NaN" {
		t.Errorf("unexpected meta %+v", meta)
	}
	if diff := cmp.Diff(Dims, refstore.Dims(attrs)); diff != "" {
		t.Errorf("dims mismatch: %s", diff)
	}
	if attrs["GRIB_typeOfLevel"] != "heightAboveGround" || attrs["units"] != "K" {
		t.Errorf("unexpected attrs %v", attrs)
	}

	times, _ := s.ReadInt64("time")
	if diff := cmp.Diff([]int64{analysis.Unix(), analysis.Add(time.Hour).Unix()}, times); diff != "" {
		t.Errorf("times mismatch: %s", diff)
	}
	levels, _ := s.ReadFloat64("level")
	if diff := cmp.Diff([]float64{2, 10}, levels); diff != "" {
		t.Errorf("levels mismatch: %s", diff)
	}
	x, _ := s.ReadFloat64("x")
	if diff := cmp.Diff([]float64{0, 2500, 5000, 7500}, x); diff != "" {
		t.Errorf("x mismatch: %s", diff)
	}

	tests := []struct {
		key  string
		want refstore.Ref
	}{
		{"t/0.0.0.0", refstore.Range("{{u}}fc+000.grib2", 0, 100)},
		{"t/1.0.0.0", refstore.Range("{{u}}fc+001.grib2", 0, 100)},
		{"u/1.1.0.0", refstore.Range("{{u}}fc+001.grib2", 100, 100)},
	}
	for _, tt := range tests {
		got, ok := s.Get(tt.key)
		if !ok {
			t.Errorf("missing chunk %s", tt.key)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("chunk %s mismatch (-want +got):\n%s", tt.key, diff)
		}
	}
	if _, ok := s.Get("u/0.0.0.0"); ok {
		t.Error("absent message must not have a chunk")
	}

	p := stores["isobaricInhPa"]
	levels, _ = p.ReadFloat64("level")
	if diff := cmp.Diff([]float64{500, 850}, levels); diff != "" {
		t.Errorf("isobaric levels mismatch: %s", diff)
	}
	if ref, _ := p.Get("t/0.1.0.0"); ref.Offset != 100 {
		t.Errorf("850 hPa should be level index 1, got %+v", ref)
	}

	group, err := s.GroupAttrs()
	if err != nil {
		t.Fatal(err)
	}
	if group["analysis_time"] != "2024-03-05T06:00:00Z" || group["grid_projection"] != grib.ProjectionLambert {
		t.Errorf("unexpected global attrs %v", group)
	}
}

func TestBuildDuplicateLastWins(t *testing.T) {
	var logs bytes.Buffer
	h := Harmonie{Logger: slog.New(slog.NewTextHandler(&logs, nil))}
	entries := []gribindex.Entry{
		entry("/d/a.grib2", "t", "heightAboveGround", 2, 0, 0),
		entry("/d/b.grib2", "t", "heightAboveGround", 2, 0, 500),
	}
	stores, err := h.Build(entries, "/d/")
	if err != nil {
		t.Fatal(err)
	}
	ref, _ := stores["heightAboveGround"].Get("t/0.0.0.0")
	if ref.URL != "{{u}}b.grib2" || ref.Offset != 500 {
		t.Errorf("expected last entry to win, got %+v", ref)
	}
	if !strings.Contains(logs.String(), "duplicate message") {
		t.Errorf("expected a warning, got %q", logs.String())
	}
}

func TestBuildMixedGrids(t *testing.T) {
	other := entry("/d/b.grib2", "u", "heightAboveGround", 10, 0, 0)
	other.Grid.Nx = 5
	_, err := Harmonie{}.Build([]gribindex.Entry{entry("/d/a.grib2", "t", "heightAboveGround", 2, 0, 0), other}, "/d/")
	if !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	if errors.As(err).Context["level_type"] != "heightAboveGround" {
		t.Errorf("expected level type in context, got %v", errors.As(err).Context)
	}
}

func TestChunkURL(t *testing.T) {
	tests := []struct {
		file, prefix, want string
	}{
		{"/data/run/a.grib2", "/data/run/", "{{u}}a.grib2"},
		{"/data/run/sub/a.grib2", "/data/", "{{u}}run/sub/a.grib2"},
		{"/other/a.grib2", "/data/", "/other/a.grib2"},
		{"/data/a.grib2", "", "/data/a.grib2"},
	}
	for _, tt := range tests {
		if got := chunkURL(tt.file, tt.prefix); got != tt.want {
			t.Errorf("chunkURL(%q, %q) = %q, want %q", tt.file, tt.prefix, got, tt.want)
		}
	}
}

func TestGridCoordsLatLon(t *testing.T) {
	g := grib.Grid{Projection: grib.ProjectionLatLon, Nx: 3, Ny: 2, La1: 60, Lo1: 10, La2: 59, Lo2: 12, Dx: 1, Dy: 1}
	x, y, xAttrs, _ := gridCoords(g)
	if diff := cmp.Diff([]float64{10, 11, 12}, x); diff != "" {
		t.Errorf("x mismatch: %s", diff)
	}
	if diff := cmp.Diff([]float64{60, 59}, y); diff != "" {
		t.Errorf("y mismatch: %s", diff)
	}
	if xAttrs["units"] != "degrees_east" {
		t.Errorf("unexpected x attrs %v", xAttrs)
	}
}
