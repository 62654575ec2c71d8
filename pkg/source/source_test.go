// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gribscan/gribscan-harmonie/pkg/config"
	"github.com/gribscan/gribscan-harmonie/pkg/errors"
)

var analysis = time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)

func touch(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("GRIB"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTemplateSourceFiles(t *testing.T) {
	dir := t.TempDir()
	run := filepath.Join(dir, "2024", "03", "05", "06")
	touch(t,
		filepath.Join(run, "fc2024030506+002.grib2"),
		filepath.Join(run, "fc2024030506+000.grib2"),
		filepath.Join(run, "fc2024030506+001.grib2"),
		filepath.Join(run, "notes.txt"),
		filepath.Join(dir, "2024", "03", "05", "09", "fc2024030509+000.grib2"),
	)
	if err := os.Mkdir(filepath.Join(run, "fc2024030506+dir.grib2"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := NewTemplateSource("harmonie", filepath.Join(dir, "%Y/%m/%d/%H/fc%Y%m%d%H+*.grib2"), 3*time.Hour, 0)
	files, err := s.Files(context.Background(), analysis)
	if err != nil {
		t.Fatalf("Files failed: %v", err)
	}
	want := []string{
		filepath.Join(run, "fc2024030506+000.grib2"),
		filepath.Join(run, "fc2024030506+001.grib2"),
		filepath.Join(run, "fc2024030506+002.grib2"),
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}

	none, err := s.Files(context.Background(), analysis.Add(24*time.Hour))
	if err != nil || len(none) != 0 {
		t.Errorf("expected no files, got %v, %v", none, err)
	}

	if s.Name() != "harmonie" || s.CollectionInterval() != 3*time.Hour || s.CollectionTimespan() != 0 {
		t.Errorf("unexpected accessors")
	}
}

func TestTemplateSourceExpandNonUTC(t *testing.T) {
	s := NewTemplateSource("x", "/data/%Y%m%d%H/fc.grib2", 0, 0)
	cet := time.FixedZone("CET", 3600)
	if got := s.Expand(time.Date(2024, 3, 5, 7, 0, 0, 0, cet)); got != "/data/2024030506/fc.grib2" {
		t.Errorf("Expand = %q", got)
	}
}

func TestTemplateSourceGlob(t *testing.T) {
	tests := []struct {
		pattern string
		glob    string
		root    string
		match   string
		ok      bool
	}{
		{"/data/%Y/%m/%d/%H/fc%Y%m%d%H+*.grib2", "/data/*/*/*/*/fc****+*.grib2", "/data", "/data/2024/03/05/06/fc2024030506+001.grib2", true},
		{"/data/%Y/%m/%d/%H/fc%Y%m%d%H+*.grib2", "/data/*/*/*/*/fc****+*.grib2", "/data", "/data/2024/03/05/06/notes.txt", false},
		{"/archive/igb/fc%Y%m%d%H%%.grib", "/archive/igb/fc****%.grib", "/archive/igb", "/archive/igb/fc2024030506%.grib", true},
		{"/%Y/x.grib", "/*/x.grib", "/", "/2024/x.grib", true},
		{"runs/%H/*.grib", "runs/*/*.grib", "runs", "runs/06/a.grib", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			s := NewTemplateSource("x", tt.pattern, 0, 0)
			if got := s.Glob(); got != tt.glob {
				t.Errorf("Glob = %q, want %q", got, tt.glob)
			}
			if got := s.Root(); got != tt.root {
				t.Errorf("Root = %q, want %q", got, tt.root)
			}
			if got := s.Match(tt.match); got != tt.ok {
				t.Errorf("Match(%q) = %v, want %v", tt.match, got, tt.ok)
			}
		})
	}
}

func TestStaticSource(t *testing.T) {
	s := NewStaticSource("static", map[time.Time][]string{
		analysis:                    {"/a.grib2"},
		analysis.Add(-3 * time.Hour): {"/b.grib2"},
	}, time.Hour)
	files, err := s.Files(context.Background(), analysis.In(time.FixedZone("X", 7200)))
	if err != nil || !cmp.Equal([]string{"/a.grib2"}, files) {
		t.Errorf("Files = %v, %v", files, err)
	}
	files[0] = "mutated"
	again, _ := s.Files(context.Background(), analysis)
	if again[0] != "/a.grib2" {
		t.Error("Files must return a copy")
	}
	if diff := cmp.Diff([]time.Time{analysis.Add(-3 * time.Hour), analysis}, s.AnalysisTimes()); diff != "" {
		t.Errorf("AnalysisTimes mismatch: %s", diff)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Files(ctx, analysis); !errors.HasCode(err, errors.CodeContextLost) {
		t.Errorf("expected CONTEXT_LOST, got %v", err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	body := `interval: PT3H
files:
  "2024-03-05T06:00Z":
    - fc+000.grib2
    - /abs/fc+001.grib2
  "2024-03-05T09:00:00Z": [later.grib2]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadManifest("m", path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if s.CollectionInterval() != 3*time.Hour {
		t.Errorf("interval = %v", s.CollectionInterval())
	}
	files, _ := s.Files(context.Background(), analysis)
	want := []string{filepath.Join(dir, "fc+000.grib2"), "/abs/fc+001.grib2"}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files mismatch: %s", diff)
	}

	if _, err := LoadManifest("m", filepath.Join(dir, "missing.yaml")); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("files: [1, 2"), 0o644)
	if _, err := LoadManifest("m", bad); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	s, err := FromConfig(config.SourceConfig{Name: "h", Pattern: "/data/%Y/*.grib", Interval: "3H", Timespan: "1D"})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if s.CollectionInterval() != 3*time.Hour || s.CollectionTimespan() != 24*time.Hour {
		t.Errorf("unexpected durations %v %v", s.CollectionInterval(), s.CollectionTimespan())
	}
	if _, ok := s.(*TemplateSource); !ok {
		t.Errorf("expected a TemplateSource, got %T", s)
	}

	if _, err := FromConfig(config.SourceConfig{Name: "h", Pattern: "x", Interval: "often"}); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for bad interval, got %v", err)
	}
}
