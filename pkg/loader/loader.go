// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package loader builds per-analysis-time collection stores from a source of
// GRIB files and loads them as one dataset per level type.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gribscan/gribscan-harmonie/pkg/catalog"
	"github.com/gribscan/gribscan-harmonie/pkg/dataset"
	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/fsutil"
	"github.com/gribscan/gribscan-harmonie/pkg/gribindex"
	"github.com/gribscan/gribscan-harmonie/pkg/indexer"
	"github.com/gribscan/gribscan-harmonie/pkg/magician"
	"github.com/gribscan/gribscan-harmonie/pkg/refstore"
	"github.com/gribscan/gribscan-harmonie/pkg/source"
	"github.com/gribscan/gribscan-harmonie/pkg/telemetry"
	"github.com/gribscan/gribscan-harmonie/pkg/timeutil"
)

// StoreSuffix is the file suffix of collection stores.
const StoreSuffix = ".zarr.json"

// Options configure a Loader. Zero values are usable.
type Options struct {
	Indexer  *indexer.Indexer
	Magician magician.Magician
	Catalog  catalog.Catalog
	Metrics  *telemetry.IndexMetrics
	Logger   *slog.Logger
	// Compress writes collection stores zstd-compressed.
	Compress bool
	// CacheSize is the number of opened stores kept in memory.
	CacheSize int64
}

// Collections maps a level type to its collection store paths, one per
// analysis time in order.
type Collections map[string][]string

// LevelTypes returns the sorted level types.
func (c Collections) LevelTypes() []string {
	out := make([]string, 0, len(c))
	for lt := range c {
		out = append(out, lt)
	}
	sort.Strings(out)
	return out
}

// Loader creates collection stores for a source and opens them.
type Loader struct {
	source source.Source
	opts   Options
	cache  *storeCache
}

// New returns a Loader for src. Close releases its cache.
func New(src source.Source, opts Options) (*Loader, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Nop{}
	}
	if opts.Indexer == nil {
		opts.Indexer = indexer.New(indexer.Options{Catalog: opts.Catalog, Metrics: opts.Metrics, Logger: opts.Logger})
	}
	if opts.Magician == nil {
		opts.Magician = magician.Harmonie{Logger: opts.Logger}
	}
	if opts.CacheSize < 1 {
		opts.CacheSize = 64
	}
	cache, err := newStoreCache(opts.CacheSize)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "creating store cache", err)
	}
	return &Loader{source: src, opts: opts, cache: cache}, nil
}

// Close releases the store cache.
func (l *Loader) Close() {
	l.cache.close()
}

// CreateIndexes is a one-shot Loader.CreateIndexes.
func CreateIndexes(ctx context.Context, sel timeutil.Selection, src source.Source, opts Options) (Collections, error) {
	l, err := New(src, opts)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	return l.CreateIndexes(ctx, sel)
}

// AnalysisTimes expands sel into the analysis times it covers. A range
// without a step uses the source's collection interval.
func (l *Loader) AnalysisTimes(ctx context.Context, sel timeutil.Selection) ([]time.Time, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if !sel.IsRange {
		return []time.Time{sel.Start}, nil
	}
	step := sel.Step
	if step == 0 {
		interval := l.source.CollectionInterval()
		if interval == 0 {
			return nil, errors.Newf(errors.CodeInvalidInput,
				"a range of analysis times needs a step, either in the selection or as the collection interval of source %q",
				l.source.Name())
		}
		l.opts.Logger.WarnContext(ctx, "no step in analysis time range, using the source collection interval",
			"source", l.source.Name(), "interval", interval.String())
		step = interval
	}
	if l.source.CollectionTimespan() != 0 {
		return nil, errors.Newf(errors.CodeNotImplemented,
			"source %q groups several analysis times per collection (timespan %s)",
			l.source.Name(), l.source.CollectionTimespan())
	}
	return timeutil.DateRange(sel.Start, sel.Stop, step)
}

// CreateIndexes writes index files and collection stores for every analysis
// time in sel.
func (l *Loader) CreateIndexes(ctx context.Context, sel timeutil.Selection) (Collections, error) {
	ctx = telemetry.WithRunID(ctx, l.opts.Indexer.RunID())
	times, err := l.AnalysisTimes(ctx, sel)
	if err != nil {
		return nil, err
	}
	collections := make(Collections)
	for _, t := range times {
		stores, err := l.collection(ctx, t)
		if err != nil {
			return nil, err
		}
		for lt, p := range stores {
			collections[lt] = append(collections[lt], p)
		}
	}
	return collections, nil
}

// collection indexes the files of one analysis time and writes a store per
// level type next to the first index file.
func (l *Loader) collection(ctx context.Context, analysisTime time.Time) (map[string]string, error) {
	identifier := timeutil.Identifier(analysisTime)
	log := l.opts.Logger.With("source", l.source.Name(), "identifier", identifier)

	files, err := l.source.Files(ctx, analysisTime)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Newf(errors.CodeNotFound, "source %q has no files for analysis time %s",
			l.source.Name(), analysisTime.UTC().Format(time.RFC3339))
	}

	ctx, span := telemetry.Tracer().Start(ctx, "gribscan.collection",
		trace.WithAttributes(telemetry.CollectionAttributes(identifier, len(files))...))
	defer span.End()

	abs := make([]string, len(files))
	for i, f := range files {
		if abs[i], err = filepath.Abs(f); err != nil {
			return nil, errors.New(errors.CodeIO, "resolving grib path", err).WithContext("path", f)
		}
	}

	indexPaths, err := l.opts.Indexer.IndexFiles(ctx, abs)
	if err != nil {
		return nil, fail(span, err)
	}
	entries, err := gribindex.ReadAll(indexPaths)
	if err != nil {
		return nil, fail(span, err)
	}
	if len(entries) == 0 {
		return nil, fail(span, errors.Newf(errors.CodeNotFound, "no grib messages in the %d files of analysis time %s", len(files), identifier))
	}

	dir := filepath.Dir(indexPaths[0])
	newest := time.Time{}
	for _, p := range indexPaths {
		if mt := fsutil.ModTime(p); mt.After(newest) {
			newest = mt
		}
	}

	paths := make(map[string]string)
	var pending []string
	for _, lt := range levelTypes(entries) {
		p := l.storePath(dir, lt, identifier)
		paths[lt] = p
		if mt := fsutil.ModTime(p); mt.IsZero() || mt.Before(newest) {
			pending = append(pending, lt)
			continue
		}
		l.record(ctx, catalog.Record{Kind: catalog.KindStore, Path: p, LevelType: lt, Identifier: identifier, Skipped: true}, log)
	}
	if len(pending) == 0 {
		return paths, nil
	}

	prefix := commonPrefix(abs)
	stores, err := l.opts.Magician.Build(entries, prefix)
	if err != nil {
		return nil, fail(span, errors.As(err).WithContext("identifier", identifier))
	}
	for _, lt := range pending {
		p := paths[lt]
		existed := fsutil.Exists(p)
		if err := stores[lt].WriteFile(p); err != nil {
			return nil, fail(span, err)
		}
		l.opts.Metrics.RecordStore(ctx, lt)
		l.record(ctx, catalog.Record{Kind: catalog.KindStore, Path: p, LevelType: lt, Identifier: identifier}, log)
		if existed {
			log.InfoContext(ctx, "rebuilt zarr index older than its index files", "level_type", lt, "path", p)
		} else {
			log.InfoContext(ctx, "built zarr index", "level_type", lt, "path", p)
		}
	}
	return paths, nil
}

func (l *Loader) storePath(dir, levelType, identifier string) string {
	name := fmt.Sprintf("%s.%s%s", levelType, identifier, StoreSuffix)
	if l.opts.Compress {
		name += refstore.CompressedSuffix
	}
	return filepath.Join(dir, name)
}

func (l *Loader) record(ctx context.Context, rec catalog.Record, log *slog.Logger) {
	rec.RunID = l.opts.Indexer.RunID()
	if err := l.opts.Catalog.Record(ctx, rec); err != nil {
		log.WarnContext(ctx, "catalog record failed", "path", rec.Path, "error", err)
	}
}

// commonPrefix returns the deepest directory shared by files, with a
// trailing separator.
func commonPrefix(files []string) string {
	dir := fsutil.CommonDir(files)
	if strings.HasSuffix(dir, string(filepath.Separator)) {
		return dir
	}
	return dir + string(filepath.Separator)
}

func levelTypes(entries []gribindex.Entry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if !seen[e.LevelType] {
			seen[e.LevelType] = true
			out = append(out, e.LevelType)
		}
	}
	sort.Strings(out)
	return out
}

// Load returns the dataset of levelType for sel. Several analysis times are
// concatenated along analysis_time when the first two share more than one
// valid time, and along time otherwise. Returned datasets may be shared with
// the cache and must not be modified.
func (l *Loader) Load(ctx context.Context, sel timeutil.Selection, levelType string) (*dataset.Dataset, error) {
	ctx, span := telemetry.Tracer().Start(telemetry.WithRunID(ctx, l.opts.Indexer.RunID()), "gribscan.load",
		trace.WithAttributes(telemetry.LoadAttributes(l.source.Name(), levelType, sel.Start)...))
	defer span.End()

	collections, err := l.CreateIndexes(ctx, sel)
	if err != nil {
		return nil, fail(span, err)
	}
	paths, ok := collections[levelType]
	if !ok {
		return nil, fail(span, errors.Newf(errors.CodeNotFound,
			"level type %s not found in parsed GRIB files; available level types: %s",
			levelType, strings.Join(collections.LevelTypes(), ", ")).
			WithContext("available", collections.LevelTypes()))
	}

	datasets := make([]*dataset.Dataset, len(paths))
	for i, p := range paths {
		if datasets[i], err = l.open(p); err != nil {
			return nil, fail(span, err)
		}
	}
	if len(datasets) == 1 {
		return datasets[0], nil
	}

	dim := dataset.DimTime
	if dataset.TimesOverlap(datasets[0], datasets[1]) {
		dim = dataset.DimAnalysisTime
	}
	span.SetAttributes(attribute.String(telemetry.AttrConcatDim, dim))
	l.opts.Logger.DebugContext(ctx, "concatenating collections", "level_type", levelType, "count", len(datasets), "dim", dim)
	out, err := dataset.Concat(datasets, dim)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

func (l *Loader) open(path string) (*dataset.Dataset, error) {
	if ds, ok := l.cache.get(path); ok {
		return ds, nil
	}
	ds, err := dataset.OpenFile(path)
	if err != nil {
		return nil, err
	}
	l.cache.set(path, ds)
	return ds, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
