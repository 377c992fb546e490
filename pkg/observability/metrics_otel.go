package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/platinummonkey/idlink"

// OTelMetrics mirrors the linking metrics as OpenTelemetry instruments so they
// reach the OTLP collector alongside traces
type OTelMetrics struct {
	linkOperations  metric.Int64Counter
	linkDuration    metric.Float64Histogram
	migrated        metric.Int64Counter
	sessionsIssued  metric.Int64Counter
	sessionResolves metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithProvider(otel.GetMeterProvider())
}

// NewOTelMetricsWithProvider creates instruments on the given provider
func NewOTelMetricsWithProvider(provider metric.MeterProvider) (*OTelMetrics, error) {
	meter := provider.Meter(instrumentationName)

	m := &OTelMetrics{}
	var err error

	m.linkOperations, err = meter.Int64Counter(
		"idlink.link.operations",
		metric.WithDescription("Link operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create link operations counter: %w", err)
	}

	m.linkDuration, err = meter.Float64Histogram(
		"idlink.link.duration",
		metric.WithDescription("Link operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create link duration histogram: %w", err)
	}

	m.migrated, err = meter.Int64Counter(
		"idlink.link.resources_migrated",
		metric.WithDescription("Owned resources re-pointed by committed links"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrated counter: %w", err)
	}

	m.sessionsIssued, err = meter.Int64Counter(
		"idlink.sessions.issued",
		metric.WithDescription("Sessions issued by flow"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions issued counter: %w", err)
	}

	m.sessionResolves, err = meter.Int64Counter(
		"idlink.sessions.resolves",
		metric.WithDescription("Session resolutions by outcome"),
		metric.WithUnit("{resolve}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session resolves counter: %w", err)
	}

	return m, nil
}

// RecordLink records one link operation
func (m *OTelMetrics) RecordLink(ctx context.Context, operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	m.linkOperations.Add(ctx, 1, attrs)
	m.linkDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordMigrated counts re-pointed resources
func (m *OTelMetrics) RecordMigrated(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.migrated.Add(ctx, n)
}

// RecordSessionIssued counts a session issued by flow
func (m *OTelMetrics) RecordSessionIssued(ctx context.Context, flow string) {
	if m == nil {
		return
	}
	m.sessionsIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", flow)))
}

// RecordSessionResolve counts a session resolution by outcome
func (m *OTelMetrics) RecordSessionResolve(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.sessionResolves.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Recorder fans metric events out to Prometheus and OpenTelemetry. Either
// side may be nil.
type Recorder struct {
	Prom *Metrics
	OTel *OTelMetrics
}

// Link records a link operation on both backends
func (r *Recorder) Link(ctx context.Context, operation, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.Prom.ObserveLink(operation, outcome, d)
	r.OTel.RecordLink(ctx, operation, outcome, d)
}

// Migrated records re-pointed resources on both backends
func (r *Recorder) Migrated(ctx context.Context, n int64) {
	if r == nil {
		return
	}
	r.Prom.AddMigrated(n)
	r.OTel.RecordMigrated(ctx, n)
}

// LeaseContention records a refused lease
func (r *Recorder) LeaseContention() {
	if r == nil {
		return
	}
	r.Prom.IncLeaseContention()
}

// SessionIssued records a session issued by flow
func (r *Recorder) SessionIssued(ctx context.Context, flow string) {
	if r == nil {
		return
	}
	r.Prom.IncSessionIssued(flow)
	r.OTel.RecordSessionIssued(ctx, flow)
}

// SessionResolve records a session resolution by outcome
func (r *Recorder) SessionResolve(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.Prom.IncSessionResolve(outcome)
	r.OTel.RecordSessionResolve(ctx, outcome)
}

// AnonymousCreated records a new anonymous identity
func (r *Recorder) AnonymousCreated() {
	if r == nil {
		return
	}
	r.Prom.IncAnonymousCreated()
}

// Cache records a cache lookup
func (r *Recorder) Cache(cacheType string, hit bool) {
	if r == nil {
		return
	}
	r.Prom.ObserveCache(cacheType, hit)
}
