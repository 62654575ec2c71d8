// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog records the index files and collection stores written by
// each run, so they can be listed later.
package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind of a catalog record.
type Kind string

const (
	KindIndex Kind = "index"
	KindStore Kind = "store"
)

// Record describes one written (or reused) file.
type Record struct {
	RunID string `json:"run_id"`
	Kind  Kind   `json:"kind"`
	Path  string `json:"path"`

	// Index records.
	GribFile    string `json:"grib_file,omitempty"`
	Messages    int    `json:"messages,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`

	// Store records.
	LevelType  string `json:"level_type,omitempty"`
	Identifier string `json:"identifier,omitempty"`

	// Skipped is set when an existing file was reused.
	Skipped   bool      `json:"skipped"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter limits List results. Zero fields match everything.
type Filter struct {
	RunID     string
	Kind      Kind
	LevelType string
	Limit     int
}

func (f Filter) match(r Record) bool {
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.LevelType != "" && r.LevelType != f.LevelType {
		return false
	}
	return true
}

// Catalog persists records.
type Catalog interface {
	Record(ctx context.Context, rec Record) error
	List(ctx context.Context, filter Filter) ([]Record, error)
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// Memory keeps records in memory.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// NewMemory returns an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends rec.
func (m *Memory) Record(_ context.Context, rec Record) error {
	rec.CreatedAt = normalizeTime(rec.CreatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// List returns the records matching filter in insertion order.
func (m *Memory) List(_ context.Context, filter Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if !filter.match(r) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }

func (Nop) List(context.Context, Filter) ([]Record, error) { return nil, nil }
