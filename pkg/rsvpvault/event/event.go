package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Source is the event source stamped on every rsvpvault notification.
const Source = "rsvpvault"

// Event is a structured notification of one committed transition.
// Events are immutable once created.
type Event interface {
	// Identity
	ID() string     // Unique event identifier
	Type() Type     // Event type (e.g., "participant.registered")
	Source() string // Always Source for rsvpvault notifications

	// Correlation for batch operations
	CorrelationID() string // Groups the notifications of one call
	CausationID() string   // ID of the notification that directly preceded this one

	// Metadata
	Timestamp() time.Time     // When the transition committed
	Version() int             // Schema version for evolution
	Instance() common.Address // Instance (or factory) the transition happened on
	Actor() common.Address    // Identity that performed the transition

	// Payload
	Data() any         // Strongly-typed payload
	DataBytes() []byte // Serialized payload for transport
}

// Metadata contains common event metadata fields.
type Metadata struct {
	EventID       string         `json:"id"`
	EventType     Type           `json:"type"`
	EventSource   string         `json:"source"`
	CorrelationID string         `json:"correlation_id"`
	CausationID   string         `json:"causation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	SchemaVersion int            `json:"schema_version"`
	Instance      common.Address `json:"instance"`
	Actor         common.Address `json:"actor"`
}

// Notification is the generic Event implementation.
// T is the payload type for type-safe access.
type Notification[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`

	// Cached serialization (computed lazily)
	cachedBytes []byte
}

// ID returns the unique event identifier.
func (e *Notification[T]) ID() string {
	return e.Meta.EventID
}

// Type returns the event type.
func (e *Notification[T]) Type() Type {
	return e.Meta.EventType
}

// Source returns the event source.
func (e *Notification[T]) Source() string {
	return e.Meta.EventSource
}

// CorrelationID returns the correlation ID.
func (e *Notification[T]) CorrelationID() string {
	return e.Meta.CorrelationID
}

// CausationID returns the ID of the event that preceded this one.
func (e *Notification[T]) CausationID() string {
	return e.Meta.CausationID
}

// Timestamp returns when the transition committed.
func (e *Notification[T]) Timestamp() time.Time {
	return e.Meta.Timestamp
}

// Version returns the schema version.
func (e *Notification[T]) Version() int {
	return e.Meta.SchemaVersion
}

// Instance returns the instance the transition happened on.
func (e *Notification[T]) Instance() common.Address {
	return e.Meta.Instance
}

// Actor returns the identity that performed the transition.
func (e *Notification[T]) Actor() common.Address {
	return e.Meta.Actor
}

// Data returns the event payload.
func (e *Notification[T]) Data() any {
	return e.Payload
}

// TypedData returns the strongly-typed payload.
func (e *Notification[T]) TypedData() T {
	return e.Payload
}

// DataBytes returns the serialized payload.
// The result is cached for efficiency.
func (e *Notification[T]) DataBytes() []byte {
	if e.cachedBytes == nil {
		// Best effort - errors are ignored for interface compliance
		e.cachedBytes, _ = json.Marshal(e.Payload)
	}
	return e.cachedBytes
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	id            string
	correlationID string
	causationID   string
	timestamp     time.Time
	version       int
}

// WithEventID sets a specific event ID (default: random UUID).
func WithEventID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithCorrelationID sets the correlation ID.
func WithCorrelationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.correlationID = id
	}
}

// WithCausationID sets the ID of the preceding event.
func WithCausationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.causationID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// New creates a notification for a transition on instance performed by actor.
func New[T any](
	eventType Type,
	instance common.Address,
	actor common.Address,
	payload T,
	opts ...Option,
) *Notification[T] {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now().UTC(),
		version:   1,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// If no correlation ID, use event ID as the root
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	return &Notification[T]{
		Meta: Metadata{
			EventID:       cfg.id,
			EventType:     eventType,
			EventSource:   Source,
			CorrelationID: cfg.correlationID,
			CausationID:   cfg.causationID,
			Timestamp:     cfg.timestamp,
			SchemaVersion: cfg.version,
			Instance:      instance,
			Actor:         actor,
		},
		Payload: payload,
	}
}

// NewFromParent creates a notification that follows parent within the same call.
// It inherits the correlation ID and sets the causation ID.
func NewFromParent[T any](
	parent Event,
	eventType Type,
	payload T,
	opts ...Option,
) *Notification[T] {
	parentOpts := []Option{
		WithCorrelationID(parent.CorrelationID()),
		WithCausationID(parent.ID()),
		WithTimestamp(parent.Timestamp()),
	}
	allOpts := append(parentOpts, opts...)

	return New(eventType, parent.Instance(), parent.Actor(), payload, allOpts...)
}

// Publisher delivers notifications to external observers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Handler consumes notifications delivered by a Bus.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Discard is a Publisher that drops every notification.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, Event) error { return nil }
