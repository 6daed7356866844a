package rsvpvault

import (
	"io"
	"log/slog"

	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/clock"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/event"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/observability"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/store"
)

// instanceConfig holds the collaborators of an instance.
type instanceConfig struct {
	store     store.Store
	publisher event.Publisher
	clock     clock.Clock
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

func defaultInstanceConfig() instanceConfig {
	return instanceConfig{
		publisher: event.Discard{},
		clock:     clock.NewSystem(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
	}
}

// Option configures an instance.
type Option func(*instanceConfig)

// WithStore persists a snapshot after every committed transition.
// Default: none (state lives only in memory).
func WithStore(s store.Store) Option {
	return func(c *instanceConfig) {
		c.store = s
	}
}

// WithPublisher sets where notifications go.
// Default: event.Discard.
func WithPublisher(p event.Publisher) Option {
	return func(c *instanceConfig) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithClock sets the clock used for EndedAt and the cooling gate.
// Default: system clock (UTC).
func WithClock(clk clock.Clock) Option {
	return func(c *instanceConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the logger.
// Default: discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *instanceConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables metrics recording.
// Default: observability.NoopMetrics.
//
// Example:
//
//	inst, err := rsvpvault.NewInstance(handle, src, rail,
//	    rsvpvault.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *instanceConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager enables tracing.
// Default: observability.NoopSpanManager.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(c *instanceConfig) {
		if sm != nil {
			c.spans = sm
		}
	}
}
