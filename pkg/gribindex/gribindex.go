// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package gribindex writes and reads per-file GRIB index files: one JSON line
// per message, stored as <file>.index.json.
package gribindex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/fsutil"
	"github.com/gribscan/gribscan-harmonie/pkg/grib"
)

// Suffix is appended to the GRIB file name to form the index file name.
const Suffix = ".index.json"

// fingerprintSpan is the number of bytes hashed at each end of a file.
const fingerprintSpan = 64 << 10

// Entry is one indexed GRIB message.
type Entry struct {
	Filename string `json:"filename"`
	Offset   int64  `json:"offset"`
	Length   int64  `json:"length"`
	Edition  int    `json:"edition"`
	Centre   int    `json:"centre"`

	ShortName string `json:"shortName"`
	LongName  string `json:"longName,omitempty"`
	Units     string `json:"units,omitempty"`
	ParamID   string `json:"paramId"`

	LevelType string  `json:"levelType"`
	Level     float64 `json:"level"`

	ReferenceTime time.Time `json:"referenceTime"`
	// Step is the forecast step in seconds.
	Step      int64     `json:"step"`
	ValidTime time.Time `json:"time"`

	Grid      grib.Grid `json:"grid"`
	NumValues int       `json:"numValues"`

	Fingerprint string `json:"fingerprint,omitempty"`
}

// header is the single line written for a file without messages, so the
// fingerprint survives. Decode skips it.
type header struct {
	Fingerprint string `json:"fingerprint"`
}

// StepDuration returns Step as a duration.
func (e Entry) StepDuration() time.Duration {
	return time.Duration(e.Step) * time.Second
}

// FromMessage converts scanned message metadata to an index entry.
func FromMessage(filename string, m grib.Message) Entry {
	return Entry{
		Filename:      filename,
		Offset:        m.Offset,
		Length:        m.Length,
		Edition:       m.Edition,
		Centre:        m.Centre,
		ShortName:     m.ShortName,
		LongName:      m.LongName,
		Units:         m.Units,
		ParamID:       m.ParamID(),
		LevelType:     m.LevelType,
		Level:         m.Level,
		ReferenceTime: m.ReferenceTime.UTC(),
		Step:          int64(m.Step / time.Second),
		ValidTime:     m.ValidTime().UTC(),
		Grid:          m.Grid,
		NumValues:     m.NumValues,
	}
}

// Path returns the index path of gribPath. Without an index root the index
// sits next to the GRIB file; otherwise the GRIB file's absolute directory,
// with the leading separator stripped, is recreated below indexRoot.
func Path(gribPath, indexRoot string) string {
	name := filepath.Base(gribPath) + Suffix
	if indexRoot == "" {
		return filepath.Join(filepath.Dir(gribPath), name)
	}
	abs, err := filepath.Abs(gribPath)
	if err != nil {
		abs = gribPath
	}
	dir := strings.TrimLeft(filepath.Dir(abs), string(filepath.Separator))
	if vol := filepath.VolumeName(dir); vol != "" {
		dir = strings.TrimLeft(strings.TrimPrefix(dir, vol), string(filepath.Separator))
	}
	return filepath.Join(indexRoot, dir, name)
}

// Write scans gribPath and atomically writes its index to indexPath.
func Write(ctx context.Context, gribPath, indexPath string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CodeContextLost, "indexing cancelled", err)
	}
	abs, err := filepath.Abs(gribPath)
	if err != nil {
		return nil, errors.New(errors.CodeIO, "resolving grib path", err).WithContext("path", gribPath)
	}
	msgs, err := grib.ScanFile(abs)
	if err != nil {
		return nil, err
	}
	fp, err := Fingerprint(abs)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(msgs))
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, m := range msgs {
		e := FromMessage(abs, m)
		e.Fingerprint = fp
		if err := enc.Encode(e); err != nil {
			return nil, errors.New(errors.CodeInternal, "encoding index entry", err)
		}
		entries = append(entries, e)
	}
	if len(msgs) == 0 {
		if err := enc.Encode(header{Fingerprint: fp}); err != nil {
			return nil, errors.New(errors.CodeInternal, "encoding index header", err)
		}
	}
	if err := fsutil.WriteFileAtomic(indexPath, buf.Bytes(), 0o644); err != nil {
		return nil, errors.New(errors.CodeIO, "writing index file", err).
			WithContext("path", indexPath).
			WithRecoverable(true)
	}
	return entries, nil
}

// EnsureIndex writes the index only when indexPath does not exist yet. It
// reports whether a new index was written.
func EnsureIndex(ctx context.Context, gribPath, indexPath string) (bool, []Entry, error) {
	if fsutil.Exists(indexPath) {
		return false, nil, nil
	}
	entries, err := Write(ctx, gribPath, indexPath)
	if err != nil {
		return false, nil, err
	}
	return true, entries, nil
}

// Read parses an index file. Empty lines are ignored.
func Read(indexPath string) ([]Entry, error) {
	f, err := os.Open(indexPath)
	if err != nil {
		code := errors.CodeIO
		if os.IsNotExist(err) {
			code = errors.CodeNotFound
		}
		return nil, errors.New(code, "open index file", err).WithContext("path", indexPath)
	}
	defer f.Close()
	entries, _, err := decode(f)
	if err != nil {
		return nil, errors.As(err).WithContext("path", indexPath)
	}
	return entries, nil
}

// Decode parses JSON lines from r. The header line of an index without
// messages is skipped.
func Decode(r io.Reader) ([]Entry, error) {
	entries, _, err := decode(r)
	return entries, err
}

// decode also returns the fingerprint of the first entry or of the header.
func decode(r io.Reader) ([]Entry, string, error) {
	var (
		entries     []Entry
		fingerprint string
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, "", errors.New(errors.CodeMalformed, "decoding index entry", err).WithContext("line", line)
		}
		if fingerprint == "" {
			fingerprint = e.Fingerprint
		}
		if e.Filename == "" && e.Fingerprint != "" {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, "", errors.New(errors.CodeIO, "reading index file", err)
	}
	return entries, fingerprint, nil
}

// ReadAll reads several index files and concatenates their entries in order.
func ReadAll(indexPaths []string) ([]Entry, error) {
	var all []Entry
	for _, p := range indexPaths {
		entries, err := Read(p)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// Fingerprint returns the xxhash64 of the file size and the first and last
// 64 KiB of path, as hex.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.New(errors.CodeIO, "open grib file", err).WithContext("path", path)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", errors.New(errors.CodeIO, "stat grib file", err).WithContext("path", path)
	}
	size := info.Size()

	h := xxhash.New()
	var sz [8]byte
	binary.LittleEndian.PutUint64(sz[:], uint64(size))
	_, _ = h.Write(sz[:])

	head := min(size, fingerprintSpan)
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, head)); err != nil {
		return "", errors.New(errors.CodeIO, "hashing grib file", err).WithContext("path", path)
	}
	if size > fingerprintSpan {
		tailStart := max(head, size-fingerprintSpan)
		if _, err := io.Copy(h, io.NewSectionReader(f, tailStart, size-tailStart)); err != nil {
			return "", errors.New(errors.CodeIO, "hashing grib file", err).WithContext("path", path)
		}
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Stale reports whether the index at indexPath no longer matches gribPath.
// A missing index, or one without a fingerprint, is stale.
func Stale(gribPath, indexPath string) (bool, error) {
	f, err := os.Open(indexPath)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, errors.New(errors.CodeIO, "open index file", err).WithContext("path", indexPath)
	}
	defer f.Close()
	_, stored, err := decode(f)
	if err != nil {
		return false, errors.As(err).WithContext("path", indexPath)
	}
	if stored == "" {
		return true, nil
	}
	abs, err := filepath.Abs(gribPath)
	if err != nil {
		abs = gribPath
	}
	fp, err := Fingerprint(abs)
	if err != nil {
		return false, err
	}
	return stored != fp, nil
}
