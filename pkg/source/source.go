// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package source resolves an analysis time to the GRIB files of that forecast.
package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"gopkg.in/yaml.v3"

	"github.com/gribscan/gribscan-harmonie/pkg/config"
	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/timeutil"
)

// Source lists the GRIB files of one analysis time.
type Source interface {
	Name() string
	Files(ctx context.Context, analysisTime time.Time) ([]string, error)
	// CollectionInterval is the spacing of analysis times, or 0 when unset.
	CollectionInterval() time.Duration
	// CollectionTimespan is the span of analysis times covered by one set of
	// files, or 0 when each set holds a single analysis time.
	CollectionTimespan() time.Duration
}

// TemplateSource expands a strftime pattern at the analysis time and globs
// the result.
type TemplateSource struct {
	name     string
	pattern  string
	interval time.Duration
	timespan time.Duration
}

// NewTemplateSource returns a source for pattern, e.g.
// "/data/%Y/%m/%d/%H/fc%Y%m%d%H+*.grib2".
func NewTemplateSource(name, pattern string, interval, timespan time.Duration) *TemplateSource {
	return &TemplateSource{name: name, pattern: pattern, interval: interval, timespan: timespan}
}

func (s *TemplateSource) Name() string                      { return s.name }
func (s *TemplateSource) Pattern() string                   { return s.pattern }
func (s *TemplateSource) CollectionInterval() time.Duration { return s.interval }
func (s *TemplateSource) CollectionTimespan() time.Duration { return s.timespan }

// Expand returns the glob pattern for analysisTime.
func (s *TemplateSource) Expand(analysisTime time.Time) string {
	return strftime.Format(s.pattern, analysisTime.UTC())
}

// Files returns the sorted files matching the pattern at analysisTime.
func (s *TemplateSource) Files(ctx context.Context, analysisTime time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CodeContextLost, "listing files cancelled", err)
	}
	glob := s.Expand(analysisTime)
	matches, err := filepath.Glob(glob)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid source pattern", err).
			WithContext("source", s.name).
			WithContext("pattern", glob)
	}
	files := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Glob returns the pattern with every strftime directive replaced by "*",
// which matches the files of any analysis time.
func (s *TemplateSource) Glob() string {
	var b strings.Builder
	for i := 0; i < len(s.pattern); i++ {
		c := s.pattern[i]
		if c != '%' || i+1 >= len(s.pattern) {
			b.WriteByte(c)
			continue
		}
		i++
		if s.pattern[i] == '%' {
			b.WriteByte('%')
			continue
		}
		b.WriteByte('*')
	}
	return b.String()
}

// Match reports whether path could belong to any analysis time.
func (s *TemplateSource) Match(path string) bool {
	ok, err := filepath.Match(s.Glob(), path)
	return err == nil && ok
}

// Root returns the deepest directory of the pattern that contains no
// strftime directive or glob metacharacter.
func (s *TemplateSource) Root() string {
	parts := strings.Split(filepath.ToSlash(s.pattern), "/")
	var fixed []string
	for _, p := range parts[:len(parts)-1] {
		if strings.ContainsAny(p, "%*?[") {
			break
		}
		fixed = append(fixed, p)
	}
	root := strings.Join(fixed, "/")
	if root == "" {
		if strings.HasPrefix(s.pattern, "/") {
			return "/"
		}
		return "."
	}
	return filepath.FromSlash(root)
}

// StaticSource serves a fixed set of files per analysis time.
type StaticSource struct {
	name     string
	files    map[int64][]string
	interval time.Duration
	timespan time.Duration
}

// NewStaticSource returns a source over files keyed by analysis time.
func NewStaticSource(name string, files map[time.Time][]string, interval time.Duration) *StaticSource {
	s := &StaticSource{name: name, files: make(map[int64][]string, len(files)), interval: interval}
	for t, f := range files {
		s.files[t.Unix()] = append([]string(nil), f...)
	}
	return s
}

func (s *StaticSource) Name() string                      { return s.name }
func (s *StaticSource) CollectionInterval() time.Duration { return s.interval }
func (s *StaticSource) CollectionTimespan() time.Duration { return s.timespan }

// Files returns the files registered for analysisTime, or none.
func (s *StaticSource) Files(ctx context.Context, analysisTime time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CodeContextLost, "listing files cancelled", err)
	}
	return append([]string(nil), s.files[analysisTime.Unix()]...), nil
}

// AnalysisTimes returns the registered analysis times in order.
func (s *StaticSource) AnalysisTimes() []time.Time {
	out := make([]time.Time, 0, len(s.files))
	for t := range s.files {
		out = append(out, time.Unix(t, 0).UTC())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// manifest is the YAML layout of a static source file.
type manifest struct {
	Interval string              `yaml:"interval"`
	Timespan string              `yaml:"timespan"`
	Files    map[string][]string `yaml:"files"`
}

// LoadManifest reads a YAML manifest:
//
//	interval: 3h
//	files:
//	  "2024-03-05T00:00Z": [a.grib2, b.grib2]
//
// Relative file paths are resolved against the manifest's directory.
func LoadManifest(name, path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		code := errors.CodeIO
		if os.IsNotExist(err) {
			code = errors.CodeNotFound
		}
		return nil, errors.New(code, "reading source manifest", err).WithContext("path", path)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "decoding source manifest", err).WithContext("path", path)
	}
	interval, timespan, err := durations(m.Interval, m.Timespan)
	if err != nil {
		return nil, errors.As(err).WithContext("path", path)
	}

	dir := filepath.Dir(path)
	files := make(map[time.Time][]string, len(m.Files))
	for key, list := range m.Files {
		t, err := timeutil.ParseTime(key)
		if err != nil {
			return nil, errors.As(err).WithContext("path", path)
		}
		resolved := make([]string, len(list))
		for i, f := range list {
			if !filepath.IsAbs(f) {
				f = filepath.Join(dir, f)
			}
			resolved[i] = f
		}
		files[t] = resolved
	}
	s := NewStaticSource(name, files, interval)
	s.timespan = timespan
	return s, nil
}

// FromConfig builds the source described by cfg.
func FromConfig(cfg config.SourceConfig) (Source, error) {
	if cfg.Manifest != "" {
		return LoadManifest(cfg.Name, cfg.Manifest)
	}
	interval, timespan, err := durations(cfg.Interval, cfg.Timespan)
	if err != nil {
		return nil, errors.As(err).WithContext("source", cfg.Name)
	}
	return NewTemplateSource(cfg.Name, cfg.Pattern, interval, timespan), nil
}

func durations(interval, timespan string) (time.Duration, time.Duration, error) {
	var i, t time.Duration
	var err error
	if interval != "" {
		if i, err = timeutil.ParseDuration(interval); err != nil {
			return 0, 0, err
		}
	}
	if timespan != "" {
		if t, err = timeutil.ParseDuration(timespan); err != nil {
			return 0, 0, err
		}
	}
	return i, t, nil
}
