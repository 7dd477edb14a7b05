package nekodb

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricsInstrumentationName = "github.com/4-proxy/nekodb"

// Metrics holds the metric instruments.
type Metrics struct {
	connectionsActive  metric.Int64UpDownCounter
	connectionsTotal   metric.Int64Counter
	connectionDuration metric.Float64Histogram

	queriesTotal  metric.Int64Counter
	queryDuration metric.Float64Histogram

	rollbacksTotal metric.Int64Counter
}

func (t *telemetry) enableMetrics(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metricsEnabled = enabled
	if enabled && t.metrics == nil {
		t.initMetricsLocked()
	}
}

func (t *telemetry) setMeterProvider(provider metric.MeterProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meterProvider = provider
	if t.metricsEnabled {
		t.initMetricsLocked()
	}
}

func (t *telemetry) initMetricsLocked() {
	var meter metric.Meter
	if t.meterProvider != nil {
		meter = t.meterProvider.Meter(metricsInstrumentationName)
	} else {
		meter = otel.Meter(metricsInstrumentationName)
	}

	m := &Metrics{}
	m.connectionsActive, _ = meter.Int64UpDownCounter(
		"nekodb_pool_connections_active",
		metric.WithDescription("Number of pooled connections currently checked out"),
	)
	m.connectionsTotal, _ = meter.Int64Counter(
		"nekodb_pool_acquires_total",
		metric.WithDescription("Total number of pooled connection checkouts"),
	)
	m.connectionDuration, _ = meter.Float64Histogram(
		"nekodb_pool_hold_duration_seconds",
		metric.WithDescription("Time a pooled connection was held before release"),
		metric.WithUnit("s"),
	)
	m.queriesTotal, _ = meter.Int64Counter(
		"nekodb_queries_total",
		metric.WithDescription("Total number of executed queries"),
	)
	m.queryDuration, _ = meter.Float64Histogram(
		"nekodb_query_duration_seconds",
		metric.WithDescription("Duration of query execution including commit"),
		metric.WithUnit("s"),
	)
	m.rollbacksTotal, _ = meter.Int64Counter(
		"nekodb_rollbacks_total",
		metric.WithDescription("Total number of rolled back executions"),
	)
	t.metrics = m
}

func (t *telemetry) activeMetrics() *Metrics {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.metricsEnabled {
		return nil
	}
	return t.metrics
}

func (t *telemetry) recordConnectionAcquired(ctx context.Context, pool string) {
	m := t.activeMetrics()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("pool", pool))
	m.connectionsActive.Add(ctx, 1, attrs)
	m.connectionsTotal.Add(ctx, 1, attrs)
}

func (t *telemetry) recordConnectionReleased(ctx context.Context, pool string, held time.Duration) {
	m := t.activeMetrics()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("pool", pool))
	m.connectionsActive.Add(ctx, -1, attrs)
	m.connectionDuration.Record(ctx, held.Seconds(), attrs)
}

func (t *telemetry) recordQuery(ctx context.Context, path string, duration time.Duration, err error) {
	m := t.activeMetrics()
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("status", status),
	)
	m.queriesTotal.Add(ctx, 1, attrs)
	m.queryDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *telemetry) recordRollback(ctx context.Context, path string) {
	m := t.activeMetrics()
	if m == nil {
		return
	}
	m.rollbacksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}
