// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry wires an OpenTelemetry tracer and a Prometheus-backed
// meter around the two places this runtime does real work: one driver
// step and one outbox batch claim. It implements driver.StepObserver and
// outbox.BatchObserver so both packages stay free of any observability
// import; Provider is the thing that knows about otel and Prometheus.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/workflowrt/engine/internal/driver"
	"github.com/workflowrt/engine/internal/outbox"
)

var (
	_ driver.StepObserver  = (*Provider)(nil)
	_ outbox.BatchObserver = (*Provider)(nil)
)

// Config names the resource this process's spans and metrics are tagged
// with.
type Config struct {
	ServiceName    string
	ServiceVersion string
}

// DefaultConfig names the service "workflowrt-engine" at version "dev".
func DefaultConfig() Config {
	return Config{ServiceName: "workflowrt-engine", ServiceVersion: "dev"}
}

// Provider owns the tracer and meter providers for one process. Construct
// one at startup, assign it as Driver.Observer and Processor.Observer, and
// call Shutdown during graceful shutdown.
type Provider struct {
	tp           *sdktrace.TracerProvider
	mp           *sdkmetric.MeterProvider
	promExporter *otelprom.Exporter

	tracer trace.Tracer

	stepCounter  metric.Int64Counter
	stepDuration metric.Float64Histogram
	batchCounter metric.Int64Counter
	batchSize    metric.Int64Histogram
}

const instrumentationName = "github.com/workflowrt/engine"

// New builds a Provider: a trace provider exporting nowhere yet (spans are
// available to any exporter registered via otel.SetTracerProvider's
// global, which New also sets), and a meter provider backed by a
// Prometheus exporter reachable via Provider.Handler.
func New(cfg Config) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	promExporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: building prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(instrumentationName)

	stepCounter, err := meter.Int64Counter("workflowrt_driver_steps_total",
		metric.WithDescription("Number of driver.Step calls, by workflow and result kind."),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building step counter: %w", err)
	}
	stepDuration, err := meter.Float64Histogram("workflowrt_driver_step_duration_seconds",
		metric.WithDescription("Duration of one driver.Step call."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building step histogram: %w", err)
	}
	batchCounter, err := meter.Int64Counter("workflowrt_outbox_batches_total",
		metric.WithDescription("Number of non-empty outbox batches claimed, by kind."),
		metric.WithUnit("{batch}"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building batch counter: %w", err)
	}
	batchSize, err := meter.Int64Histogram("workflowrt_outbox_batch_size",
		metric.WithDescription("Row count of each claimed outbox batch, by kind."),
		metric.WithUnit("{row}"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building batch histogram: %w", err)
	}

	return &Provider{
		tp:           tp,
		mp:           mp,
		promExporter: promExporter,
		tracer:       tp.Tracer(instrumentationName),
		stepCounter:  stepCounter,
		stepDuration: stepDuration,
		batchCounter: batchCounter,
		batchSize:    batchSize,
	}, nil
}

// Handler exposes the Prometheus scrape endpoint.
func (p *Provider) Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes and releases both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutting down tracer provider: %w", err)
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutting down meter provider: %w", err)
	}
	return nil
}

// ObserveStep implements driver.StepObserver. It is called once per
// completed Step with the already-measured duration, so it records rather
// than starts its own span; driver.Step itself has no span boundary to
// hand back a context from, so the span this records is a zero-duration
// marker carrying the same attributes as the metric, not a true wall-clock
// span. Workflows that need a true per-step span should wrap Step at the
// call site with WrapStep instead.
func (p *Provider) ObserveStep(ctx context.Context, workflowName string, kind driver.ResultKind, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("workflow.name", workflowName),
		attribute.String("result.kind", resultKindLabel(kind)),
	}
	p.stepCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	p.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	_, span := p.tracer.Start(ctx, "driver.step", trace.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ObserveBatch implements outbox.BatchObserver.
func (p *Provider) ObserveBatch(ctx context.Context, kind string, size int) {
	attrs := []attribute.KeyValue{attribute.String("outbox.kind", kind)}
	p.batchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	p.batchSize.Record(ctx, int64(size), metric.WithAttributes(attrs...))

	_, span := p.tracer.Start(ctx, "outbox.batch", trace.WithAttributes(
		attribute.String("outbox.kind", kind),
		attribute.Int("outbox.batch_size", size),
	))
	span.End()
}

// WrapStep starts a real span around fn (intended to wrap a single
// driver.Step call site), ending it and recording any error once fn
// returns.
func (p *Provider) WrapStep(ctx context.Context, workflowName string, fn func(ctx context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "driver.step", trace.WithAttributes(
		attribute.String("workflow.name", workflowName),
	))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func resultKindLabel(kind driver.ResultKind) string {
	switch kind {
	case driver.Continue:
		return "continue"
	case driver.Wait:
		return "wait"
	case driver.Retry:
		return "retry"
	case driver.Done:
		return "done"
	case driver.Fault:
		return "fault"
	default:
		return "unknown"
	}
}
