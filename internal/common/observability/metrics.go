package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability owns the OpenTelemetry meter provider exported through Prometheus.
type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	jobCounter    otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	submissions   otelmetric.Int64Counter
	remoteSync    otelmetric.Int64Counter
}

func New(serviceName string, opts ...prometheus.Option) *Observability {
	exporter, err := prometheus.New(opts...)
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	jobCounter, _ := meter.Int64Counter(
		"jobs.processed",
		otelmetric.WithDescription("Number of jobs processed"),
	)

	jobDuration, _ := meter.Float64Histogram(
		"jobs.duration",
		otelmetric.WithDescription("Job processing duration"),
		otelmetric.WithUnit("ms"),
	)

	submissions, _ := meter.Int64Counter(
		"forms.submissions",
		otelmetric.WithDescription("Application submissions by result"),
	)

	remoteSync, _ := meter.Int64Counter(
		"forms.remote_sync",
		otelmetric.WithDescription("Remote mirror writes by result"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		jobCounter:    jobCounter,
		jobDuration:   jobDuration,
		submissions:   submissions,
		remoteSync:    remoteSync,
	}
}

func (o *Observability) RecordJobProcessed(ctx context.Context, status string) {
	if o == nil || o.jobCounter == nil {
		return
	}
	o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("status", status),
	))
}

func (o *Observability) RecordJobDuration(ctx context.Context, duration time.Duration, status string) {
	if o == nil || o.jobDuration == nil {
		return
	}
	o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("status", status),
	))
}

func (o *Observability) RecordSubmission(ctx context.Context, result string) {
	if o == nil || o.submissions == nil {
		return
	}
	o.submissions.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("result", result),
	))
}

func (o *Observability) RecordRemoteSync(ctx context.Context, result string) {
	if o == nil || o.remoteSync == nil {
		return
	}
	o.remoteSync.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("result", result),
	))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.meterProvider.Shutdown(ctx)
}
