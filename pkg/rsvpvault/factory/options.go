package factory

import (
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/clock"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/config"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/event"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/observability"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/store"
)

type factoryConfig struct {
	settings  config.Settings
	impl      *rsvpvault.Implementation
	address   common.Address
	store     store.Store
	publisher event.Publisher
	clock     clock.Clock
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

func defaultFactoryConfig() factoryConfig {
	return factoryConfig{
		settings:  config.Default(),
		publisher: event.Discard{},
		clock:     clock.NewSystem(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
	}
}

// instanceOptions passes the factory's collaborators on to every instance.
func (c factoryConfig) instanceOptions() []rsvpvault.Option {
	return []rsvpvault.Option{
		rsvpvault.WithStore(c.store),
		rsvpvault.WithPublisher(c.publisher),
		rsvpvault.WithClock(c.clock),
		rsvpvault.WithLogger(c.logger),
		rsvpvault.WithMetrics(c.metrics),
		rsvpvault.WithSpanManager(c.spans),
	}
}

// Option configures a Factory.
type Option func(*factoryConfig)

// WithSettings sets creation defaults and limits.
// Default: config.Default().
func WithSettings(s config.Settings) Option {
	return func(c *factoryConfig) {
		c.settings = s
	}
}

// WithImplementation sets the initial implementation.
// Default: rsvpvault.StandardLogic bounded by the settings' MaxMetadataLength.
func WithImplementation(impl *rsvpvault.Implementation) Option {
	return func(c *factoryConfig) {
		c.impl = impl
	}
}

// WithAddress sets the factory's own address, the base of every handle it
// derives. Default: the first contract address of the owner's account.
func WithAddress(addr common.Address) Option {
	return func(c *factoryConfig) {
		c.address = addr
	}
}

// WithStore persists the factory record and every instance snapshot.
// Default: none.
func WithStore(s store.Store) Option {
	return func(c *factoryConfig) {
		c.store = s
	}
}

// WithPublisher sets where factory and instance notifications go.
// Default: event.Discard.
func WithPublisher(p event.Publisher) Option {
	return func(c *factoryConfig) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithClock sets the clock handed to every instance.
func WithClock(clk clock.Clock) Option {
	return func(c *factoryConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the logger.
// Default: discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *factoryConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables metrics recording.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *factoryConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager enables tracing.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(c *factoryConfig) {
		if sm != nil {
			c.spans = sm
		}
	}
}
