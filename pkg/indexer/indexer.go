// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package indexer writes GRIB index files for many files in parallel.
package indexer

import (
	"context"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gribscan/gribscan-harmonie/pkg/catalog"
	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/fsutil"
	"github.com/gribscan/gribscan-harmonie/pkg/gribindex"
	"github.com/gribscan/gribscan-harmonie/pkg/resilience"
	"github.com/gribscan/gribscan-harmonie/pkg/telemetry"
)

// Options configure an Indexer. Zero values are usable.
type Options struct {
	// IndexRoot mirrors index files below this directory.
	IndexRoot string
	// Workers bounds concurrency; 1 indexes sequentially.
	Workers int
	// Progress receives a progress bar; nil disables it.
	Progress io.Writer
	// Reindex rewrites existing index files whose GRIB file has changed.
	Reindex bool

	Retry   resilience.RetryConfig
	Catalog catalog.Catalog
	Metrics *telemetry.IndexMetrics
	Logger  *slog.Logger
	RunID   string
}

// Indexer writes missing index files.
type Indexer struct {
	opts Options
}

// New returns an Indexer with defaults applied.
func New(opts Options) *Indexer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RunID == "" {
		opts.RunID = catalog.NewRunID()
	}
	return &Indexer{opts: opts}
}

// RunID identifies the records this indexer writes to the catalog.
func (ix *Indexer) RunID() string {
	return ix.opts.RunID
}

// IndexPath returns where the index of gribPath lives.
func (ix *Indexer) IndexPath(gribPath string) string {
	return gribindex.Path(gribPath, ix.opts.IndexRoot)
}

// IndexFiles ensures every file has an index and returns the index paths in
// input order. The first failure cancels the remaining work.
func (ix *Indexer) IndexFiles(ctx context.Context, files []string) ([]string, error) {
	ctx, span := telemetry.Tracer().Start(telemetry.WithRunID(ctx, ix.opts.RunID), "gribscan.index_files",
		trace.WithAttributes(
			attribute.Int(telemetry.AttrFileCount, len(files)),
			attribute.Int(telemetry.AttrWorkers, ix.opts.Workers),
		))
	defer span.End()

	log := ix.opts.Logger
	log.DebugContext(ctx, "opening grib files", "files", files)
	log.InfoContext(ctx, "writing index files", "count", len(files), "workers", ix.opts.Workers)

	bar := newProgressBar(ix.opts.Progress, len(files))
	defer bar.finish()

	paths := make([]string, len(files))
	if ix.opts.Workers == 1 {
		for i, f := range files {
			p, err := ix.IndexFile(ctx, f)
			if err != nil {
				return nil, ix.fail(span, err)
			}
			paths[i] = p
			bar.increment()
		}
		return paths, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Workers)
	for i, f := range files {
		g.Go(func() error {
			p, err := ix.IndexFile(gctx, f)
			if err != nil {
				return err
			}
			paths[i] = p
			bar.increment()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, ix.fail(span, err)
	}
	return paths, nil
}

func (ix *Indexer) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// IndexFile ensures gribPath has an index and returns its path.
func (ix *Indexer) IndexFile(ctx context.Context, gribPath string) (string, error) {
	indexPath := ix.IndexPath(gribPath)
	ctx, span := telemetry.Tracer().Start(telemetry.WithRunID(ctx, ix.opts.RunID), "gribscan.index_file")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return "", errors.New(errors.CodeContextLost, "indexing cancelled", err).WithContext("path", gribPath)
	}

	if fsutil.Exists(indexPath) {
		skip := true
		if ix.opts.Reindex {
			stale, err := gribindex.Stale(gribPath, indexPath)
			if err != nil {
				return "", ix.recordFailure(ctx, span, err)
			}
			skip = !stale
		}
		if skip {
			span.SetAttributes(telemetry.IndexAttributes(gribPath, indexPath, true)...)
			ix.opts.Metrics.RecordSkipped(ctx)
			if err := ix.opts.Catalog.Record(ctx, catalog.Record{
				RunID:    ix.opts.RunID,
				Kind:     catalog.KindIndex,
				Path:     indexPath,
				GribFile: gribPath,
				Skipped:  true,
			}); err != nil {
				ix.opts.Logger.WarnContext(ctx, "catalog record failed", "path", indexPath, "error", err)
			}
			return indexPath, nil
		}
	}

	start := time.Now()
	retry := ix.opts.Retry.WithOnRetry(func(attempt int, err error) {
		ix.opts.Logger.WarnContext(ctx, "retrying index", "file", gribPath, "attempt", attempt, "error", err)
	})
	entries, err := resilience.DoWithResult(ctx, retry, func() ([]gribindex.Entry, error) {
		return gribindex.Write(ctx, gribPath, indexPath)
	})
	if err != nil {
		return "", ix.recordFailure(ctx, span, errors.As(err).WithContext("file", gribPath))
	}

	var size int64
	for _, e := range entries {
		size += e.Length
	}
	span.SetAttributes(telemetry.IndexAttributes(gribPath, indexPath, false)...)
	ix.opts.Metrics.RecordIndexed(ctx, len(entries), size, time.Since(start))

	rec := catalog.Record{
		RunID:    ix.opts.RunID,
		Kind:     catalog.KindIndex,
		Path:     indexPath,
		GribFile: gribPath,
		Messages: len(entries),
	}
	if len(entries) > 0 {
		rec.Fingerprint = entries[0].Fingerprint
	}
	if err := ix.opts.Catalog.Record(ctx, rec); err != nil {
		ix.opts.Logger.WarnContext(ctx, "catalog record failed", "path", indexPath, "error", err)
	}
	ix.opts.Logger.DebugContext(ctx, "wrote index", "file", gribPath, "index", indexPath, "messages", len(entries))
	return indexPath, nil
}

func (ix *Indexer) recordFailure(ctx context.Context, span trace.Span, err error) error {
	ix.opts.Metrics.RecordError(ctx, err, "indexer")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
