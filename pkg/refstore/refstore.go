// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package refstore reads and writes kerchunk version 1 reference stores: a
// zarr v2 key space whose values are either inline metadata or byte ranges
// of remote files.
package refstore

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/fsutil"
)

const (
	// Version is the kerchunk reference format version written by Marshal.
	Version = 1

	base64Prefix = "base64:"

	ZGroup = ".zgroup"
	ZAttrs = ".zattrs"
	ZArray = ".zarray"

	// DimensionsAttr is the xarray attribute naming array dimensions.
	DimensionsAttr = "_ARRAY_DIMENSIONS"
)

// Ref is a single value of the store: inline data or a byte range of URL.
type Ref struct {
	Data   []byte
	Binary bool

	URL    string
	Offset int64
	Length int64
}

// Inline returns a text reference.
func Inline(s string) Ref {
	return Ref{Data: []byte(s)}
}

// InlineBytes returns a binary reference, serialized with the base64: prefix.
func InlineBytes(b []byte) Ref {
	return Ref{Data: b, Binary: true}
}

// Range returns a reference to length bytes of url starting at offset.
func Range(url string, offset, length int64) Ref {
	return Ref{URL: url, Offset: offset, Length: length}
}

// IsInline reports whether the reference holds its data directly.
func (r Ref) IsInline() bool {
	return r.URL == ""
}

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.IsInline() {
		if r.Binary {
			return marshalJSON(base64Prefix + base64.StdEncoding.EncodeToString(r.Data))
		}
		return marshalJSON(string(r.Data))
	}
	if r.Length == 0 && r.Offset == 0 {
		return marshalJSON([]interface{}{r.URL})
	}
	return marshalJSON([]interface{}{r.URL, r.Offset, r.Length})
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.HasPrefix(s, base64Prefix) {
			b, err := base64.StdEncoding.DecodeString(s[len(base64Prefix):])
			if err != nil {
				return err
			}
			*r = InlineBytes(b)
			return nil
		}
		*r = Inline(s)
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 1 && len(parts) != 3 {
		return errors.Newf(errors.CodeMalformed, "reference must have 1 or 3 elements, got %d", len(parts))
	}
	var out Ref
	if err := json.Unmarshal(parts[0], &out.URL); err != nil {
		return err
	}
	if len(parts) == 3 {
		if err := json.Unmarshal(parts[1], &out.Offset); err != nil {
			return err
		}
		if err := json.Unmarshal(parts[2], &out.Length); err != nil {
			return err
		}
	}
	*r = out
	return nil
}

// Store is a kerchunk reference set.
type Store struct {
	Version   int               `json:"version"`
	Templates map[string]string `json:"templates,omitempty"`
	Refs      map[string]Ref    `json:"refs"`
}

// New returns an empty store using the given URL templates.
func New(templates map[string]string) *Store {
	t := make(map[string]string, len(templates))
	for k, v := range templates {
		t[k] = v
	}
	return &Store{Version: Version, Templates: t, Refs: make(map[string]Ref)}
}

// Codec is a numcodecs configuration such as {"id": "gribscan.rawgrib"}.
type Codec map[string]interface{}

// ArrayMeta is the content of a .zarray key.
type ArrayMeta struct {
	Chunks     []int       `json:"chunks"`
	Compressor Codec       `json:"compressor"`
	DType      string      `json:"dtype"`
	FillValue  interface{} `json:"fill_value"`
	Filters    []Codec     `json:"filters"`
	Order      string      `json:"order"`
	Shape      []int       `json:"shape"`
	ZarrFormat int         `json:"zarr_format"`
}

// Set stores a reference under key.
func (s *Store) Set(key string, ref Ref) {
	s.Refs[key] = ref
}

// Get returns the reference stored under key.
func (s *Store) Get(key string) (Ref, bool) {
	ref, ok := s.Refs[key]
	return ref, ok
}

// SetGroup writes the root group metadata and attributes.
func (s *Store) SetGroup(attrs map[string]interface{}) error {
	if err := s.setJSON(ZGroup, map[string]int{"zarr_format": 2}); err != nil {
		return err
	}
	return s.setJSON(ZAttrs, nonNil(attrs))
}

// GroupAttrs decodes the root .zattrs.
func (s *Store) GroupAttrs() (map[string]interface{}, error) {
	attrs := map[string]interface{}{}
	if err := s.getJSON(ZAttrs, &attrs); err != nil && !errors.HasCode(err, errors.CodeNotFound) {
		return nil, err
	}
	return attrs, nil
}

// SetArray writes the metadata and attributes of array name. The dims are
// recorded in the _ARRAY_DIMENSIONS attribute.
func (s *Store) SetArray(name string, meta ArrayMeta, dims []string, attrs map[string]interface{}) error {
	if len(dims) != len(meta.Shape) {
		return errors.Newf(errors.CodeInvalidInput, "array %s: %d dimensions for shape %v", name, len(dims), meta.Shape)
	}
	if meta.ZarrFormat == 0 {
		meta.ZarrFormat = 2
	}
	if meta.Order == "" {
		meta.Order = "C"
	}
	a := make(map[string]interface{}, len(attrs)+1)
	for k, v := range attrs {
		a[k] = v
	}
	a[DimensionsAttr] = dims
	if err := s.setJSON(name+"/"+ZArray, meta); err != nil {
		return err
	}
	return s.setJSON(name+"/"+ZAttrs, a)
}

// Array decodes the metadata and attributes of array name.
func (s *Store) Array(name string) (ArrayMeta, map[string]interface{}, error) {
	var meta ArrayMeta
	if err := s.getJSON(name+"/"+ZArray, &meta); err != nil {
		return meta, nil, err
	}
	attrs := map[string]interface{}{}
	if err := s.getJSON(name+"/"+ZAttrs, &attrs); err != nil && !errors.HasCode(err, errors.CodeNotFound) {
		return meta, nil, err
	}
	return meta, attrs, nil
}

// Dims returns the _ARRAY_DIMENSIONS attribute of an array.
func Dims(attrs map[string]interface{}) []string {
	raw, _ := attrs[DimensionsAttr].([]interface{})
	dims := make([]string, 0, len(raw))
	for _, d := range raw {
		if s, ok := d.(string); ok {
			dims = append(dims, s)
		}
	}
	if len(dims) == 0 {
		if s, ok := attrs[DimensionsAttr].([]string); ok {
			return append(dims, s...)
		}
	}
	return dims
}

// Arrays returns the sorted names of all arrays in the store.
func (s *Store) Arrays() []string {
	var names []string
	for key := range s.Refs {
		if strings.HasSuffix(key, "/"+ZArray) {
			names = append(names, strings.TrimSuffix(key, "/"+ZArray))
		}
	}
	sort.Strings(names)
	return names
}

// SetInlineFloat64 writes a one-dimensional float64 coordinate stored as a
// single inline little-endian chunk.
func (s *Store) SetInlineFloat64(name string, values []float64, attrs map[string]interface{}) error {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return s.setInline(name, "<f8", "NaN", len(values), buf, attrs)
}

// SetInlineInt64 writes a one-dimensional int64 coordinate stored as a single
// inline little-endian chunk.
func (s *Store) SetInlineInt64(name string, values []int64, attrs map[string]interface{}) error {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(v))
	}
	return s.setInline(name, "<i8", nil, len(values), buf, attrs)
}

// SetScalarInt64 writes a zero-dimensional int64 array.
func (s *Store) SetScalarInt64(name string, value int64, attrs map[string]interface{}) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(value))
	meta := ArrayMeta{Chunks: []int{}, DType: "<i8", Shape: []int{}}
	if err := s.SetArray(name, meta, []string{}, attrs); err != nil {
		return err
	}
	s.Set(name+"/0", InlineBytes(buf))
	return nil
}

// SetScalarFloat64 writes a zero-dimensional float64 array.
func (s *Store) SetScalarFloat64(name string, value float64, attrs map[string]interface{}) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(value))
	meta := ArrayMeta{Chunks: []int{}, DType: "<f8", FillValue: "NaN", Shape: []int{}}
	if err := s.SetArray(name, meta, []string{}, attrs); err != nil {
		return err
	}
	s.Set(name+"/0", InlineBytes(buf))
	return nil
}

func (s *Store) setInline(name, dtype string, fill interface{}, n int, buf []byte, attrs map[string]interface{}) error {
	dim := name
	meta := ArrayMeta{Chunks: []int{n}, DType: dtype, FillValue: fill, Shape: []int{n}}
	if err := s.SetArray(name, meta, []string{dim}, attrs); err != nil {
		return err
	}
	s.Set(name+"/0", InlineBytes(buf))
	return nil
}

// ReadFloat64 decodes an inline coordinate array as float64 values.
// Integer arrays are converted.
func (s *Store) ReadFloat64(name string) ([]float64, error) {
	meta, buf, err := s.inlineChunk(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		bits := binary.LittleEndian.Uint64(buf[8*i:])
		switch meta.DType {
		case "<f8":
			out[i] = math.Float64frombits(bits)
		case "<i8":
			out[i] = float64(int64(bits))
		default:
			return nil, errors.Newf(errors.CodeUnsupported, "array %s: unsupported dtype %s", name, meta.DType)
		}
	}
	return out, nil
}

// ReadInt64 decodes an inline int64 coordinate array.
func (s *Store) ReadInt64(name string) ([]int64, error) {
	meta, buf, err := s.inlineChunk(name)
	if err != nil {
		return nil, err
	}
	if meta.DType != "<i8" {
		return nil, errors.Newf(errors.CodeUnsupported, "array %s: expected <i8, got %s", name, meta.DType)
	}
	out := make([]int64, len(buf)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return out, nil
}

func (s *Store) inlineChunk(name string) (ArrayMeta, []byte, error) {
	meta, _, err := s.Array(name)
	if err != nil {
		return meta, nil, err
	}
	if len(meta.Shape) > 1 {
		return meta, nil, errors.Newf(errors.CodeUnsupported, "array %s: inline arrays must be one-dimensional", name)
	}
	ref, ok := s.Get(name + "/0")
	if !ok || !ref.IsInline() {
		return meta, nil, errors.Newf(errors.CodeNotFound, "array %s has no inline data", name)
	}
	if len(ref.Data)%8 != 0 {
		return meta, nil, errors.Newf(errors.CodeMalformed, "array %s: %d bytes is not a multiple of 8", name, len(ref.Data))
	}
	return meta, ref.Data, nil
}

// ResolveURL expands {{name}} templates in url.
func (s *Store) ResolveURL(url string) string {
	if !strings.Contains(url, "{{") {
		return url
	}
	for k, v := range s.Templates {
		url = strings.ReplaceAll(url, "{{"+k+"}}", v)
	}
	return url
}

// Keys returns the sorted keys starting with prefix.
func (s *Store) Keys(prefix string) []string {
	var keys []string
	for k := range s.Refs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// marshalJSON is json.Marshal without HTML escaping, so dtypes such as "<f8"
// stay readable.
func marshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (s *Store) setJSON(key string, v interface{}) error {
	b, err := marshalJSON(v)
	if err != nil {
		return errors.New(errors.CodeInternal, "encoding "+key, err)
	}
	s.Set(key, Inline(string(b)))
	return nil
}

func (s *Store) getJSON(key string, v interface{}) error {
	ref, ok := s.Get(key)
	if !ok {
		return errors.Newf(errors.CodeNotFound, "key %s not found", key)
	}
	if !ref.IsInline() {
		return errors.Newf(errors.CodeMalformed, "key %s is not inline", key)
	}
	if err := json.Unmarshal(ref.Data, v); err != nil {
		return errors.New(errors.CodeMalformed, "decoding "+key, err)
	}
	return nil
}

func nonNil(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return map[string]interface{}{}
	}
	return attrs
}

// Marshal encodes the store as kerchunk JSON.
func (s *Store) Marshal() ([]byte, error) {
	if s.Version == 0 {
		s.Version = Version
	}
	return marshalJSON(s)
}

// Unmarshal decodes kerchunk JSON.
func Unmarshal(data []byte) (*Store, error) {
	var s Store
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.New(errors.CodeMalformed, "decoding reference store", err)
	}
	if s.Version != Version {
		return nil, errors.Newf(errors.CodeUnsupported, "reference store version %d", s.Version)
	}
	if s.Refs == nil {
		s.Refs = make(map[string]Ref)
	}
	if s.Templates == nil {
		s.Templates = make(map[string]string)
	}
	return &s, nil
}

// WriteFile writes the store atomically. Paths ending in .zst are zstd-compressed.
func (s *Store) WriteFile(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return errors.New(errors.CodeInternal, "encoding reference store", err)
	}
	if IsCompressed(path) {
		enc, err := encoder()
		if err != nil {
			return errors.New(errors.CodeInternal, "creating zstd encoder", err)
		}
		data = enc.EncodeAll(data, nil)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return errors.New(errors.CodeIO, "writing reference store", err).WithContext("path", path)
	}
	return nil
}

// Open reads a store written by WriteFile.
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		code := errors.CodeIO
		if os.IsNotExist(err) {
			code = errors.CodeNotFound
		}
		return nil, errors.New(code, "reading reference store", err).WithContext("path", path)
	}
	if IsCompressed(path) {
		dec, err := decoder()
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "creating zstd decoder", err)
		}
		data, err = dec.DecodeAll(data, make([]byte, 0, len(data)*4))
		if err != nil {
			return nil, errors.New(errors.CodeMalformed, "decompressing reference store", err).WithContext("path", path)
		}
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, errors.As(err).WithContext("path", path)
	}
	return s, nil
}
