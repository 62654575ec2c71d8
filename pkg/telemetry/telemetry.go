// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
)

// Exporter names accepted in Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// AttrRunID is the resource attribute naming the run that produced the telemetry.
const AttrRunID = "gribscan.run_id"

// ShutdownFunc flushes pending spans and metrics.
type ShutdownFunc func(context.Context) error

// Config selects where spans and index metrics go.
type Config struct {
	ServiceName string
	Version     string
	// RunID ties telemetry to the catalog records and log lines of one run.
	RunID string

	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	// Output receives stdout exporter output; nil means os.Stdout.
	Output io.Writer
	// MetricInterval is the export period of the index metrics; 0 means one minute.
	MetricInterval time.Duration
}

// Setup installs global tracer and meter providers for cfg. With the none
// exporter the global no-op providers stay in place.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if cfg.Exporter == ExporterNone {
		return func(context.Context) error { return nil }, nil
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	spans, metrics, err := newExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = time.Minute
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spans, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		err := stderrors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
		if err != nil {
			return errors.New(errors.CodeIO, "flushing telemetry", err)
		}
		return nil
	}, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	if cfg.RunID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, cfg.RunID))
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcessPID(),
	)
	// a partial resource still carries the service and run attributes
	if err != nil && !stderrors.Is(err, resource.ErrPartialResource) {
		return nil, errors.New(errors.CodeInternal, "building telemetry resource", err)
	}
	return res, nil
}

func newExporters(ctx context.Context, cfg Config) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case "", ExporterStdout:
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		spans, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, errors.New(errors.CodeInternal, "creating stdout span exporter", err)
		}
		metrics, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
		if err != nil {
			return nil, nil, errors.New(errors.CodeInternal, "creating stdout metric exporter", err)
		}
		return spans, metrics, nil

	case ExporterOTLP:
		if cfg.OTLPEndpoint == "" {
			return nil, nil, errors.New(errors.CodeInvalidInput, "telemetry.endpoint is required for the otlp exporter", nil)
		}
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		spans, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, errors.New(errors.CodeIO, "creating otlp span exporter", err).
				WithContext("endpoint", cfg.OTLPEndpoint)
		}
		metrics, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			_ = spans.Shutdown(ctx)
			return nil, nil, errors.New(errors.CodeIO, "creating otlp metric exporter", err).
				WithContext("endpoint", cfg.OTLPEndpoint)
		}
		return spans, metrics, nil

	default:
		return nil, nil, errors.Newf(errors.CodeInvalidInput, "unknown telemetry exporter %q", cfg.Exporter).
			WithContext("available", []string{ExporterNone, ExporterStdout, ExporterOTLP})
	}
}
