// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/grib/gribtest"
	"github.com/gribscan/gribscan-harmonie/pkg/gribindex"
	"github.com/gribscan/gribscan-harmonie/pkg/magician"
	"github.com/gribscan/gribscan-harmonie/pkg/refstore"
)

var analysis = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

// forecast writes one GRIB file per step holding 2 m temperature and 10 m
// wind, and returns the heightAboveGround dataset built from them.
func forecast(t *testing.T, dir string, ref time.Time, steps ...int) *Dataset {
	t.Helper()
	var entries []gribindex.Entry
	for _, step := range steps {
		path := filepath.Join(dir, fmt.Sprintf("fc%s+%03d.grib2", ref.Format("2006010215"), step))
		values := make([]float64, 12)
		for i := range values {
			values[i] = float64(step*100 + i)
		}
		err := gribtest.WriteFile(path,
			gribtest.Field{Number: 0, Level: 2, Reference: ref, Step: step, Values: values, Decimal: 1},
			gribtest.Field{Category: 2, Number: 2, Level: 10, Reference: ref, Step: step},
		)
		if err != nil {
			t.Fatal(err)
		}
		e, err := gribindex.Write(context.Background(), path, gribindex.Path(path, ""))
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, e...)
	}
	stores, err := magician.Harmonie{}.Build(entries, dir+"/")
	if err != nil {
		t.Fatal(err)
	}
	ds, err := Open(stores["heightAboveGround"])
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return ds
}

func unix(ts ...time.Time) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = float64(t.Unix())
	}
	return out
}

func TestOpen(t *testing.T) {
	ds := forecast(t, t.TempDir(), analysis, 0, 1)

	if diff := cmp.Diff([]string{"t", "u"}, ds.VariableNames()); diff != "" {
		t.Errorf("variables mismatch: %s", diff)
	}
	if diff := cmp.Diff([]string{"level", "time", "x", "y"}, ds.CoordNames()); diff != "" {
		t.Errorf("coords mismatch: %s", diff)
	}
	want := map[string]int{"time": 2, "level": 2, "y": 3, "x": 4}
	if diff := cmp.Diff(want, ds.Sizes()); diff != "" {
		t.Errorf("sizes mismatch: %s", diff)
	}
	if diff := cmp.Diff([]time.Time{analysis, analysis.Add(time.Hour)}, ds.Times()); diff != "" {
		t.Errorf("times mismatch: %s", diff)
	}
	v := ds.Vars["t"]
	if diff := cmp.Diff(magician.Dims, v.Dims); diff != "" {
		t.Errorf("dims mismatch: %s", diff)
	}
	if len(v.Refs) != 2 {
		t.Errorf("expected 2 chunk refs, got %v", v.Refs)
	}
	if _, ok := v.Attrs[refstore.DimensionsAttr]; ok {
		t.Error("dimension attribute should be lifted into Dims")
	}
}

func TestReadAndDecodeChunk(t *testing.T) {
	ctx := context.Background()
	ds := forecast(t, t.TempDir(), analysis, 0, 1)

	raw, err := ds.ReadChunk(ctx, "t", []int{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("ReadChunk failed: %v", err)
	}
	if string(raw[:4]) != "GRIB" || string(raw[len(raw)-4:]) != "7777" {
		t.Errorf("chunk is not a GRIB message")
	}

	values, err := ds.DecodeChunk(ctx, "t", []int{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("DecodeChunk failed: %v", err)
	}
	for i, v := range values {
		if math.Abs(v-float64(100+i)) > 0.05 {
			t.Fatalf("value %d = %v, want %v", i, v, 100+i)
		}
	}

	// t has no message at 10 m
	missing, err := ds.DecodeChunk(ctx, "t", []int{0, 1, 0, 0})
	if err != nil {
		t.Fatalf("DecodeChunk on missing chunk failed: %v", err)
	}
	if len(missing) != 12 || !math.IsNaN(missing[0]) {
		t.Errorf("missing chunk should be NaN, got %v", missing)
	}
	if raw, err := ds.ReadChunk(ctx, "t", []int{0, 1, 0, 0}); raw != nil || err != nil {
		t.Errorf("ReadChunk on missing chunk = %v, %v", raw, err)
	}

	tests := []struct {
		name     string
		variable string
		index    []int
		code     errors.ErrorCode
	}{
		{"unknown variable", "q", []int{0, 0, 0, 0}, errors.CodeNotFound},
		{"wrong rank", "t", []int{0, 0}, errors.CodeInvalidInput},
		{"out of range", "t", []int{2, 0, 0, 0}, errors.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ds.ReadChunk(ctx, tt.variable, tt.index)
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := ds.ReadChunk(cancelled, "t", []int{0, 0, 0, 0}); !errors.HasCode(err, errors.CodeContextLost) {
		t.Errorf("expected CONTEXT_LOST, got %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ds := forecast(t, t.TempDir(), analysis, 0, 1)
	s, err := ds.Store()
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	back, err := Open(s)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if diff := cmp.Diff(ds, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestTimesOverlap(t *testing.T) {
	dir := t.TempDir()
	a := forecast(t, dir, analysis, 0, 1, 2, 3)
	b := forecast(t, dir, analysis.Add(time.Hour), 0, 1, 2)
	c := forecast(t, dir, analysis.Add(3*time.Hour), 0, 1)

	if !TimesOverlap(a, b) {
		t.Error("a and b share three times")
	}
	if TimesOverlap(a, c) {
		t.Error("a and c share only one time")
	}
}

func TestConcatTime(t *testing.T) {
	dir := t.TempDir()
	a := forecast(t, dir, analysis, 0, 1)
	b := forecast(t, dir, analysis.Add(2*time.Hour), 0, 1)

	out, err := Concat([]*Dataset{a, b}, DimTime)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	wantTimes := unix(analysis, analysis.Add(time.Hour), analysis.Add(2*time.Hour), analysis.Add(3*time.Hour))
	if diff := cmp.Diff(wantTimes, out.Coords[DimTime].Values); diff != "" {
		t.Errorf("times mismatch: %s", diff)
	}
	v := out.Vars["t"]
	if diff := cmp.Diff([]int{4, 2, 3, 4}, v.Shape()); diff != "" {
		t.Errorf("shape mismatch: %s", diff)
	}
	if got, want := v.Refs["2.0.0.0"], b.Vars["t"].Refs["0.0.0.0"]; !cmp.Equal(got, want) {
		t.Errorf("chunk 2 = %+v, want %+v", got, want)
	}

	values, err := out.DecodeChunk(context.Background(), "t", []int{3, 0, 0, 0})
	if err != nil {
		t.Fatalf("DecodeChunk failed: %v", err)
	}
	if math.Abs(values[0]-100) > 0.05 {
		t.Errorf("expected the second forecast's step 1, got %v", values[0])
	}
}

func TestConcatAnalysisTime(t *testing.T) {
	dir := t.TempDir()
	a := forecast(t, dir, analysis, 0, 1, 2)
	b := forecast(t, dir, analysis.Add(time.Hour), 0, 1, 2)

	out, err := Concat([]*Dataset{a, b}, DimAnalysisTime)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	if _, ok := out.Coords[DimTime]; ok {
		t.Error("time should be renamed to valid_time")
	}
	if diff := cmp.Diff(unix(analysis, analysis.Add(time.Hour)), out.Coords[DimAnalysisTime].Values); diff != "" {
		t.Errorf("analysis times mismatch: %s", diff)
	}
	wantValid := unix(analysis, analysis.Add(time.Hour), analysis.Add(2*time.Hour), analysis.Add(3*time.Hour))
	if diff := cmp.Diff(wantValid, out.Coords[DimValidTime].Values); diff != "" {
		t.Errorf("valid times mismatch: %s", diff)
	}

	v := out.Vars["u"]
	if diff := cmp.Diff([]string{"analysis_time", "valid_time", "level", "y", "x"}, v.Dims); diff != "" {
		t.Errorf("dims mismatch: %s", diff)
	}
	if diff := cmp.Diff([]int{2, 4, 2, 3, 4}, v.Shape()); diff != "" {
		t.Errorf("shape mismatch: %s", diff)
	}
	if diff := cmp.Diff([]int{1, 1, 1, 3, 4}, v.Meta.Chunks); diff != "" {
		t.Errorf("chunks mismatch: %s", diff)
	}
	// second forecast, step 0 lands on the second valid time
	if got, want := v.Refs["1.1.1.0.0"], b.Vars["u"].Refs["0.1.0.0"]; !cmp.Equal(got, want) {
		t.Errorf("chunk = %+v, want %+v", got, want)
	}
	if _, ok := v.Refs["1.0.1.0.0"]; ok {
		t.Error("second forecast has no data at the first valid time")
	}

	s, err := out.Store()
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	back, err := Open(s)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if diff := cmp.Diff(out.Sizes(), back.Sizes()); diff != "" {
		t.Errorf("sizes changed after round trip: %s", diff)
	}

	if _, err := Concat([]*Dataset{out, a}, DimAnalysisTime); !errors.HasCode(err, errors.CodeUnsupported) {
		t.Errorf("expected UNSUPPORTED for nested analysis_time, got %v", err)
	}
}

func TestConcatErrors(t *testing.T) {
	dir := t.TempDir()
	a := forecast(t, dir, analysis, 0)

	if _, err := Concat(nil, DimTime); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for no datasets, got %v", err)
	}
	if _, err := Concat([]*Dataset{a}, "level"); !errors.HasCode(err, errors.CodeUnsupported) {
		t.Errorf("expected UNSUPPORTED dim, got %v", err)
	}

	other := forecast(t, t.TempDir(), analysis, 1)
	other.Coords["x"].Values = append(other.Coords["x"].Values, 10000)
	if _, err := Concat([]*Dataset{a, other}, DimTime); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for grid mismatch, got %v", err)
	}
}

func TestConcatConflictingTemplates(t *testing.T) {
	a := forecast(t, t.TempDir(), analysis, 0)
	bDir := t.TempDir()
	b := forecast(t, bDir, analysis.Add(time.Hour), 0)

	out, err := Concat([]*Dataset{a, b}, DimTime)
	if err != nil {
		t.Fatal(err)
	}
	if out.Templates[magician.URLTemplate] != a.Templates[magician.URLTemplate] {
		t.Errorf("first template should be kept, got %v", out.Templates)
	}
	ref := out.Vars["t"].Refs["1.0.0.0"]
	want := filepath.Join(bDir, "fc2024030501+000.grib2")
	if ref.URL != want {
		t.Errorf("conflicting template should be expanded, got %q want %q", ref.URL, want)
	}
	if _, err := out.ReadChunk(context.Background(), "t", []int{1, 0, 0, 0}); err != nil {
		t.Errorf("ReadChunk through expanded URL failed: %v", err)
	}
}

func TestChunkKey(t *testing.T) {
	if got := ChunkKey([]int{1, 0, 2}); got != "1.0.2" {
		t.Errorf("ChunkKey = %q", got)
	}
	idx, err := ParseChunkKey("3.0.0.0")
	if err != nil || !cmp.Equal([]int{3, 0, 0, 0}, idx) {
		t.Errorf("ParseChunkKey = %v, %v", idx, err)
	}
	if _, err := ParseChunkKey("a.0"); !errors.HasCode(err, errors.CodeMalformed) {
		t.Errorf("expected MALFORMED, got %v", err)
	}
}
