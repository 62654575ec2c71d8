// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/gribscan/gribscan-harmonie/pkg/catalog"
	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/grib/gribtest"
	"github.com/gribscan/gribscan-harmonie/pkg/gribindex"
)

type result struct {
	code           int
	stdout, stderr string
}

func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

var analysis = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

// fixture writes two forecast steps and a configuration naming them.
func fixture(t *testing.T) (root, cfgPath string) {
	t.Helper()
	root = t.TempDir()
	dir := filepath.Join(root, "data", analysis.Format("2006010215"))
	for step := 0; step < 2; step++ {
		err := gribtest.WriteFile(filepath.Join(dir, fmt.Sprintf("fc+%03d.grib2", step)),
			gribtest.Field{LevelCode: 103, Level: 2, Reference: analysis, Step: step},
			gribtest.Field{LevelCode: 100, Level: 50000, Reference: analysis, Step: step},
		)
		if err != nil {
			t.Fatal(err)
		}
	}
	cfg := fmt.Sprintf(`
log:
  level: warn
index:
  workers: 2
  progress: false
catalog:
  enabled: true
  path: %s
watch:
  debounce: 50ms
sources:
  - name: harmonie
    pattern: %s
    interval: 3h
`, filepath.Join(root, "catalog.db"), filepath.Join(root, "data", "%Y%m%d%H", "fc+*.grib2"))
	cfgPath = filepath.Join(root, "gribscan.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return root, cfgPath
}

func TestVersion(t *testing.T) {
	r := runCLI(t, "version")
	if r.code != 0 || strings.TrimSpace(r.stdout) != "gribscan-harmonie "+version {
		t.Fatalf("version: code %d, stdout %q, stderr %q", r.code, r.stdout, r.stderr)
	}
}

func TestScanAndIndex(t *testing.T) {
	root, _ := fixture(t)
	grib := filepath.Join(root, "data", "2024030500", "fc+001.grib2")

	r := runCLI(t, "--json", "scan", grib)
	if r.code != 0 {
		t.Fatalf("scan failed: %s", r.stderr)
	}
	var entries []gribindex.Entry
	if err := json.Unmarshal([]byte(r.stdout), &entries); err != nil {
		t.Fatal(err)
	}
	got := []string{}
	for _, e := range entries {
		got = append(got, e.LevelType)
	}
	if diff := cmp.Diff([]string{"heightAboveGround", "isobaricInhPa"}, got); diff != "" {
		t.Errorf("level types mismatch (-want +got):\n%s", diff)
	}

	r = runCLI(t, "scan", grib)
	if r.code != 0 || !strings.Contains(r.stdout, "LEVEL TYPE") || !strings.Contains(r.stdout, "fc+001.grib2") {
		t.Errorf("unexpected scan table:\n%s", r.stdout)
	}

	idxRoot := filepath.Join(root, "idx")
	r = runCLI(t, "--set", "index.progress=false", "index", "--index-root", idxRoot, "--workers", "2", grib)
	if r.code != 0 {
		t.Fatalf("index failed: %s", r.stderr)
	}
	want := gribindex.Path(grib, idxRoot)
	if strings.TrimSpace(r.stdout) != want {
		t.Errorf("index printed %q, want %q", r.stdout, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("index file missing: %v", err)
	}
}

func TestBuildLoadInspectRead(t *testing.T) {
	root, cfg := fixture(t)

	r := runCLI(t, "--config", cfg, "--json", "build", "--source", "harmonie", "--time", "2024-03-05T00")
	if r.code != 0 {
		t.Fatalf("build failed: %s", r.stderr)
	}
	var collections map[string][]string
	if err := json.Unmarshal([]byte(r.stdout), &collections); err != nil {
		t.Fatal(err)
	}
	if len(collections) != 2 || len(collections["heightAboveGround"]) != 1 {
		t.Fatalf("unexpected collections %v", collections)
	}

	out := filepath.Join(root, "surface.zarr.json")
	r = runCLI(t, "--config", cfg, "load", "--source", "harmonie", "--time", "2024030500",
		"--level-type", "heightAboveGround", "-o", out)
	if r.code != 0 {
		t.Fatalf("load failed: %s", r.stderr)
	}

	r = runCLI(t, "--json", "inspect", out)
	if r.code != 0 {
		t.Fatalf("inspect failed: %s", r.stderr)
	}
	var sum datasetSummary
	if err := json.Unmarshal([]byte(r.stdout), &sum); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]int{"time": 2, "level": 1, "x": 4, "y": 3}, sum.Sizes); diff != "" {
		t.Errorf("sizes mismatch (-want +got):\n%s", diff)
	}
	if len(sum.Variables) != 1 || sum.Variables[0].Name != "t" || sum.Variables[0].Chunks != 2 {
		t.Errorf("unexpected variables %+v", sum.Variables)
	}

	r = runCLI(t, "inspect", "--format", "yaml", out)
	if r.code != 0 {
		t.Fatalf("inspect yaml failed: %s", r.stderr)
	}
	var ysum map[string]interface{}
	if err := yaml.Unmarshal([]byte(r.stdout), &ysum); err != nil || ysum["path"] != out {
		t.Errorf("unexpected yaml output %v: %v", ysum, err)
	}

	r = runCLI(t, "inspect", out)
	if r.code != 0 || !strings.Contains(r.stdout, "Data variables:") {
		t.Errorf("unexpected text output:\n%s", r.stdout)
	}

	r = runCLI(t, "--json", "read", out, "--var", "t", "--index", "1")
	if r.code != 0 {
		t.Fatalf("read failed: %s", r.stderr)
	}
	var st chunkStats
	if err := json.Unmarshal([]byte(r.stdout), &st); err != nil {
		t.Fatal(err)
	}
	if st.Count != 12 || st.Valid != 12 || math.Abs(st.Min-270) > 0.01 || math.Abs(st.Max-281) > 0.01 {
		t.Errorf("unexpected stats %+v", st)
	}
	if diff := cmp.Diff([]int{1, 0, 0, 0}, st.Index); diff != "" {
		t.Errorf("index mismatch (-want +got):\n%s", diff)
	}

	r = runCLI(t, "--config", cfg, "--json", "catalog", "list", "--kind", "store")
	if r.code != 0 {
		t.Fatalf("catalog list failed: %s", r.stderr)
	}
	var records []catalog.Record
	if err := json.Unmarshal([]byte(r.stdout), &records); err != nil {
		t.Fatal(err)
	}
	// build writes two stores, load reuses them
	if len(records) != 4 {
		t.Errorf("expected 4 store records, got %d", len(records))
	}
}

func TestErrors(t *testing.T) {
	_, cfg := fixture(t)
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"unknown source", []string{"--config", cfg, "build", "--source", "arome", "--time", "2024030500"}, 3, "NOT_FOUND"},
		{"bad time", []string{"--config", cfg, "build", "--source", "harmonie", "--time", "yesterday"}, 2, "INVALID_INPUT"},
		{"reversed range", []string{"--config", cfg, "build", "--source", "harmonie", "--time", "2024030506/2024030500"}, 2, "INVALID_INPUT"},
		{"no files", []string{"--config", cfg, "build", "--source", "harmonie", "--time", "2024030503"}, 3, "NOT_FOUND"},
		{"unknown level type", []string{"--config", cfg, "load", "--source", "harmonie", "--time", "2024030500", "--level-type", "surface"}, 3, "heightAboveGround, isobaricInhPa"},
		{"missing flag", []string{"--config", cfg, "build", "--time", "2024030500"}, 2, "source"},
		{"catalog disabled", []string{"catalog", "list"}, 2, "catalog.enabled"},
		{"bad set", []string{"--set", "index.workers", "scan", cfg}, 2, "key=value"},
		{"bad format", []string{"inspect", "--format", "toml", cfg}, 2, "toml"},
		{"not a store", []string{"inspect", cfg}, 4, "MALFORMED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runCLI(t, append([]string{"--json"}, tt.args...)...)
			if r.code != tt.code {
				t.Fatalf("exit code %d, want %d; stderr %s", r.code, tt.code, r.stderr)
			}
			if tt.want != "" && !strings.Contains(r.stderr, tt.want) {
				t.Errorf("stderr %q does not mention %q", r.stderr, tt.want)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	e := wrapError(fmt.Errorf("unknown flag: --nope"))
	if e.Base.Code != errors.CodeInvalidInput || e.ExitCode() != 2 {
		t.Errorf("plain errors should become INVALID_INPUT, got %v", e.Base.Code)
	}
	e = wrapError(errors.Newf(errors.CodeMalformed, "bad message"))
	if e.ExitCode() != 4 || e.Hint == "" {
		t.Errorf("unexpected %+v", e)
	}

	var buf bytes.Buffer
	NewCLIError(errors.Newf(errors.CodeNotFound, "gone").WithContext("path", "/x"), "look elsewhere").Print(&buf, false)
	want := "Error [Not Found]: gone\n  path: /x\n  Hint: look elsewhere\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("print mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	_, cfg := fixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var stdout, stderr bytes.Buffer
	if code := run(ctx, []string{"--config", cfg, "watch", "--source", "harmonie"}, &stdout, &stderr); code != 0 {
		t.Fatalf("watch exited with %d: %s", code, stderr.String())
	}
}
