// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides logging, tracing and metrics for GRIB indexing.
package telemetry

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "gribscan-harmonie"

// Attribute keys for spans and metrics.
const (
	AttrGribFile      = "gribscan.grib.file"
	AttrIndexFile     = "gribscan.index.file"
	AttrMessages      = "gribscan.grib.messages"
	AttrBytes         = "gribscan.grib.bytes"
	AttrFileCount     = "gribscan.files.count"
	AttrWorkers       = "gribscan.workers"
	AttrIdentifier    = "gribscan.collection.identifier"
	AttrLevelType     = "gribscan.level_type"
	AttrStorePath     = "gribscan.store.path"
	AttrSource        = "gribscan.source"
	AttrAnalysisTime  = "gribscan.analysis_time"
	AttrConcatDim     = "gribscan.concat.dim"
	AttrSkipped       = "gribscan.index.skipped"
	AttrVariableCount = "gribscan.variables.count"
)

// Tracer returns the tracer shared by all packages.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// IndexAttributes returns attributes for a single file index span.
func IndexAttributes(gribFile, indexFile string, skipped bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrGribFile, gribFile),
		attribute.Bool(AttrSkipped, skipped),
	}
	if indexFile != "" {
		attrs = append(attrs, attribute.String(AttrIndexFile, indexFile))
	}
	return attrs
}

// CollectionAttributes returns attributes for building the stores of one collection.
func CollectionAttributes(identifier string, files int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrIdentifier, identifier),
		attribute.Int(AttrFileCount, files),
	}
}

// LoadAttributes returns attributes for a loader request.
func LoadAttributes(source, levelType string, start time.Time) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLevelType, levelType),
	}
	if source != "" {
		attrs = append(attrs, attribute.String(AttrSource, source))
	}
	if !start.IsZero() {
		attrs = append(attrs, attribute.String(AttrAnalysisTime, start.UTC().Format(time.RFC3339)))
	}
	return attrs
}
