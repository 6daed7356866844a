package observability

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
)

// MeterName is the instrumentation scope of every rsvpvault instrument.
const MeterName = "rsvpvault"

// MetricsRecorder records rsvpvault metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordOperation records one operation attempt with its outcome and latency.
	RecordOperation(ctx context.Context, op string, duration time.Duration, err error)

	// RecordValueIn records value pulled into an instance.
	RecordValueIn(ctx context.Context, op string, amount uint64)

	// RecordValueOut records value paid out of an instance.
	RecordValueOut(ctx context.Context, op string, amount uint64)

	// RecordInstanceCreated records a factory creation.
	RecordInstanceCreated(ctx context.Context, deterministic bool)
}

type otelMetrics struct {
	transitions      metric.Int64Counter
	rejections       metric.Int64Counter
	latency          metric.Float64Histogram
	valueIn          metric.Int64Counter
	valueOut         metric.Int64Counter
	instancesCreated metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(provider metric.MeterProvider) (*otelMetrics, error) {
	meter := provider.Meter(MeterName)

	transitions, err := meter.Int64Counter("rsvpvault.transitions",
		metric.WithDescription("Number of committed state transitions"),
	)
	if err != nil {
		return nil, err
	}

	rejections, err := meter.Int64Counter("rsvpvault.rejections",
		metric.WithDescription("Number of rejected operations"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("rsvpvault.op.latency_ms",
		metric.WithDescription("Operation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	valueIn, err := meter.Int64Counter("rsvpvault.value.in",
		metric.WithDescription("Value pulled into instances"),
	)
	if err != nil {
		return nil, err
	}

	valueOut, err := meter.Int64Counter("rsvpvault.value.out",
		metric.WithDescription("Value paid out of instances"),
	)
	if err != nil {
		return nil, err
	}

	instancesCreated, err := meter.Int64Counter("rsvpvault.instances.created",
		metric.WithDescription("Number of instances created by factories"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		transitions:      transitions,
		rejections:       rejections,
		latency:          latency,
		valueIn:          valueIn,
		valueOut:         valueOut,
		instancesCreated: instancesCreated,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses the global
// OpenTelemetry meter provider. If initialization fails, returns a no-op
// recorder.
//
// Configure the provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFor returns a MetricsRecorder bound to a specific
// provider instead of the global one.
func NewMetricsRecorderFor(provider metric.MeterProvider) (MetricsRecorder, error) {
	m, err := newOtelMetrics(provider)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *otelMetrics) RecordOperation(ctx context.Context, op string, duration time.Duration, err error) {
	opAttr := attribute.String("op", op)
	m.latency.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(opAttr))

	if err != nil {
		m.rejections.Add(ctx, 1, metric.WithAttributes(
			opAttr,
			attribute.String("kind", rverrors.KindOf(err).String()),
		))
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(opAttr))
}

func (m *otelMetrics) RecordValueIn(ctx context.Context, op string, amount uint64) {
	m.valueIn.Add(ctx, clampInt64(amount), metric.WithAttributes(attribute.String("op", op)))
}

func (m *otelMetrics) RecordValueOut(ctx context.Context, op string, amount uint64) {
	m.valueOut.Add(ctx, clampInt64(amount), metric.WithAttributes(attribute.String("op", op)))
}

func (m *otelMetrics) RecordInstanceCreated(ctx context.Context, deterministic bool) {
	m.instancesCreated.Add(ctx, 1, metric.WithAttributes(attribute.Bool("deterministic", deterministic)))
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
