// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
)

// IndexMetrics tracks indexing throughput and failures.
type IndexMetrics struct {
	filesIndexed    metric.Int64Counter
	filesSkipped    metric.Int64Counter
	messagesScanned metric.Int64Counter
	bytesScanned    metric.Int64Counter
	indexErrors     metric.Int64Counter
	storesWritten   metric.Int64Counter
	indexDuration   metric.Float64Histogram
}

// NewIndexMetrics creates the instruments on the global meter provider.
func NewIndexMetrics() (*IndexMetrics, error) {
	return NewIndexMetricsWithMeter(otel.Meter(instrumentationName))
}

// NewIndexMetricsWithMeter creates the instruments on meter.
func NewIndexMetricsWithMeter(meter metric.Meter) (*IndexMetrics, error) {
	m := &IndexMetrics{}
	var err error

	if m.filesIndexed, err = meter.Int64Counter(
		"gribscan.index.files",
		metric.WithDescription("GRIB files scanned into a new index file"),
	); err != nil {
		return nil, err
	}
	if m.filesSkipped, err = meter.Int64Counter(
		"gribscan.index.skipped",
		metric.WithDescription("GRIB files whose index file already existed"),
	); err != nil {
		return nil, err
	}
	if m.messagesScanned, err = meter.Int64Counter(
		"gribscan.grib.messages",
		metric.WithDescription("GRIB messages found while scanning"),
	); err != nil {
		return nil, err
	}
	if m.bytesScanned, err = meter.Int64Counter(
		"gribscan.grib.bytes",
		metric.WithDescription("Bytes of GRIB data scanned"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.indexErrors, err = meter.Int64Counter(
		"gribscan.index.errors",
		metric.WithDescription("Index failures by error code"),
	); err != nil {
		return nil, err
	}
	if m.storesWritten, err = meter.Int64Counter(
		"gribscan.stores.written",
		metric.WithDescription("Zarr reference stores written by level type"),
	); err != nil {
		return nil, err
	}
	if m.indexDuration, err = meter.Float64Histogram(
		"gribscan.index.duration",
		metric.WithDescription("Time spent scanning one GRIB file"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordIndexed records a freshly written index.
func (m *IndexMetrics) RecordIndexed(ctx context.Context, messages int, bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.filesIndexed.Add(ctx, 1)
	m.messagesScanned.Add(ctx, int64(messages))
	m.bytesScanned.Add(ctx, bytes)
	m.indexDuration.Record(ctx, elapsed.Seconds())
}

// RecordSkipped records a file whose index already existed.
func (m *IndexMetrics) RecordSkipped(ctx context.Context) {
	if m == nil {
		return
	}
	m.filesSkipped.Add(ctx, 1)
}

// RecordError increments the error counter with the error code.
func (m *IndexMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	e := errors.As(err)
	m.indexErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(e.Code)),
			attribute.String("component", component),
			attribute.String("recoverable", e.RecoverableString()),
		),
	)
}

// RecordStore records a reference store written for a level type.
func (m *IndexMetrics) RecordStore(ctx context.Context, levelType string) {
	if m == nil {
		return
	}
	m.storesWritten.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrLevelType, levelType)))
}
