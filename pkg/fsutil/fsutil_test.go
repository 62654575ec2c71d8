// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "a.index.json")
	if err := WriteFileAtomic(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected content %q, %v", data, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected temp file to be gone, found %d entries", len(entries))
	}
	if !Exists(path) || Exists(filepath.Join(dir, "missing")) {
		t.Errorf("Exists mismatch")
	}
	if ModTime(path).IsZero() || !ModTime(filepath.Join(dir, "missing")).IsZero() {
		t.Errorf("ModTime mismatch")
	}
}

func TestCommonDir(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"single", []string{"/data/2024/03/05/fc+000.grib2"}, "/data/2024/03/05"},
		{"same dir", []string{"/data/a/x.grib", "/data/a/y.grib"}, "/data/a"},
		{"siblings", []string{"/data/a/x.grib", "/data/b/y.grib"}, "/data"},
		{"nested", []string{"/data/a/x.grib", "/data/a/b/y.grib"}, "/data/a"},
		{"prefix trap", []string{"/data/ab/x.grib", "/data/a/y.grib"}, "/data"},
		{"root", []string{"/x.grib", "/data/y.grib"}, "/"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CommonDir(tt.paths); got != tt.want {
				t.Errorf("CommonDir(%v) = %q, want %q", tt.paths, got, tt.want)
			}
		})
	}
}
