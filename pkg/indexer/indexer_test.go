// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package indexer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/gribscan/gribscan-harmonie/pkg/catalog"
	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/grib/gribtest"
	"github.com/gribscan/gribscan-harmonie/pkg/gribindex"
	"github.com/gribscan/gribscan-harmonie/pkg/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func gribFiles(t *testing.T, dir string, n int) []string {
	t.Helper()
	files := make([]string, n)
	for i := range files {
		files[i] = filepath.Join(dir, fmt.Sprintf("fc+%03d.grib2", i))
		if err := gribtest.WriteFile(files[i], gribtest.Field{Step: i}, gribtest.Field{Number: 6, Step: i}); err != nil {
			t.Fatal(err)
		}
	}
	return files
}

func counters(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestIndexFiles(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			dir := t.TempDir()
			files := gribFiles(t, dir, 5)

			reader := sdkmetric.NewManualReader()
			metrics, err := telemetry.NewIndexMetricsWithMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
			if err != nil {
				t.Fatal(err)
			}
			cat := catalog.NewMemory()
			var progress bytes.Buffer
			ix := New(Options{Workers: workers, Progress: &progress, Catalog: cat, Metrics: metrics, Logger: quiet})

			paths, err := ix.IndexFiles(context.Background(), files)
			if err != nil {
				t.Fatalf("IndexFiles failed: %v", err)
			}
			for i, p := range paths {
				if p != files[i]+gribindex.Suffix {
					t.Errorf("path %d = %q, want index of %q", i, p, files[i])
				}
				entries, err := gribindex.Read(p)
				if err != nil || len(entries) != 2 {
					t.Errorf("index %s: %d entries, %v", p, len(entries), err)
				}
			}
			if !strings.Contains(progress.String(), "5/5") {
				t.Errorf("progress output missing completion: %q", progress.String())
			}

			records, _ := cat.List(context.Background(), catalog.Filter{RunID: ix.RunID(), Kind: catalog.KindIndex})
			if len(records) != 5 {
				t.Fatalf("expected 5 catalog records, got %d", len(records))
			}
			for _, r := range records {
				if r.Skipped || r.Messages != 2 || r.Fingerprint == "" {
					t.Errorf("unexpected record %+v", r)
				}
			}

			// second pass reuses every index
			if _, err := ix.IndexFiles(context.Background(), files); err != nil {
				t.Fatal(err)
			}
			sums := counters(t, reader)
			if sums["gribscan.index.files"] != 5 || sums["gribscan.index.skipped"] != 5 || sums["gribscan.grib.messages"] != 10 {
				t.Errorf("unexpected metrics %v", sums)
			}
		})
	}
}

func TestIndexFilesIndexRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "idx")
	files := gribFiles(t, filepath.Join(dir, "data"), 2)

	ix := New(Options{IndexRoot: root, Workers: 2, Logger: quiet})
	paths, err := ix.IndexFiles(context.Background(), files)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range paths {
		if want := gribindex.Path(files[i], root); p != want {
			t.Errorf("path = %q, want %q", p, want)
		}
		if !strings.HasPrefix(p, root) {
			t.Errorf("index %q not below root", p)
		}
		if _, err := os.Stat(files[i] + gribindex.Suffix); !os.IsNotExist(err) {
			t.Errorf("no index should be written next to %s", files[i])
		}
	}
}

func TestIndexFilesFailure(t *testing.T) {
	dir := t.TempDir()
	files := gribFiles(t, dir, 3)
	broken := filepath.Join(dir, "broken.grib2")
	msg := gribtest.Encode(gribtest.Field{})
	if err := os.WriteFile(broken, msg[:len(msg)-10], 0o644); err != nil {
		t.Fatal(err)
	}
	files = append(files, broken)

	for _, workers := range []int{1, 3} {
		ix := New(Options{Workers: workers, Logger: quiet})
		_, err := ix.IndexFiles(context.Background(), files)
		if !errors.HasCode(err, errors.CodeMalformed) {
			t.Fatalf("workers=%d: expected MALFORMED, got %v", workers, err)
		}
		if errors.As(err).Context["file"] != broken {
			t.Errorf("expected failing file in context, got %v", errors.As(err).Context)
		}
	}
	if _, err := os.Stat(broken + gribindex.Suffix); !os.IsNotExist(err) {
		t.Error("no index should be written for a broken file")
	}
}

func TestIndexFilesCancelled(t *testing.T) {
	dir := t.TempDir()
	files := gribFiles(t, dir, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{Workers: 2, Logger: quiet}).IndexFiles(ctx, files)
	if !errors.HasCode(err, errors.CodeContextLost) {
		t.Fatalf("expected CONTEXT_LOST, got %v", err)
	}
}

func TestIndexFileReindex(t *testing.T) {
	dir := t.TempDir()
	files := gribFiles(t, dir, 1)
	ctx := context.Background()

	plain := New(Options{Logger: quiet})
	reindex := New(Options{Logger: quiet, Reindex: true})
	p, err := plain.IndexFile(ctx, files[0])
	if err != nil {
		t.Fatal(err)
	}

	if err := gribtest.WriteFile(files[0], gribtest.Field{}, gribtest.Field{Number: 6}, gribtest.Field{Number: 11}); err != nil {
		t.Fatal(err)
	}
	if _, err := plain.IndexFile(ctx, files[0]); err != nil {
		t.Fatal(err)
	}
	if entries, _ := gribindex.Read(p); len(entries) != 2 {
		t.Fatalf("without reindex the old index stays, got %d entries", len(entries))
	}

	if _, err := reindex.IndexFile(ctx, files[0]); err != nil {
		t.Fatal(err)
	}
	if entries, _ := gribindex.Read(p); len(entries) != 3 {
		t.Fatalf("reindex should rewrite the stale index, got %d entries", len(entries))
	}
}

func TestProgressBarDisabled(t *testing.T) {
	p := newProgressBar(nil, 3)
	p.increment()
	p.finish()
	if newProgressBar(io.Discard, 0) != nil {
		t.Error("empty runs should not render a bar")
	}
}

func TestIndexFileLogsCarrySpanAndRun(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	files := gribFiles(t, t.TempDir(), 1)
	var logs bytes.Buffer
	ix := New(Options{Logger: telemetry.NewLogger(&logs, "debug", "text"), RunID: "run-7"})

	ctx, parent := tp.Tracer("test").Start(context.Background(), "build")
	_, err := ix.IndexFiles(ctx, files)
	parent.End()
	if err != nil {
		t.Fatal(err)
	}

	var line string
	for _, l := range strings.Split(logs.String(), "\n") {
		if strings.Contains(l, "wrote index") {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("no index log line in %q", logs.String())
	}
	for _, want := range []string{
		"trace_id=" + parent.SpanContext().TraceID().String(),
		"span_id=",
		"run_id=run-7",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q lacks %q", line, want)
		}
	}
}
