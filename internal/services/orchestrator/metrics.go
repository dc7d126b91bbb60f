package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"expensifyos/internal/domain"
)

type metrics struct {
	results  metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(m metric.Meter) *metrics {
	results, err := m.Int64Counter("expensify_os.source.results",
		metric.WithDescription("Per-source run outcomes"))
	if err != nil {
		otel.Handle(err)
	}
	duration, err := m.Float64Histogram("expensify_os.source.duration",
		metric.WithDescription("Per-source processing time"),
		metric.WithUnit("s"))
	if err != nil {
		otel.Handle(err)
	}
	return &metrics{results: results, duration: duration}
}

func (m *metrics) record(ctx context.Context, src domain.Source, status domain.RunStatus, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("source", src.String()),
		attribute.String("status", string(status)),
	)
	if m.results != nil {
		m.results.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
}
