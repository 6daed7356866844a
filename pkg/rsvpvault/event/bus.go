package event

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// Bus errors.
var (
	ErrBusClosed          = errors.New("event bus is closed")
	ErrTooManySubscribers = errors.New("event bus subscriber limit reached")
)

// Filter selects the notifications a subscription receives. An empty field
// matches everything.
type Filter struct {
	Types     []Type
	Instances []common.Address
}

// All matches every notification.
var All = Filter{}

// ForInstance matches notifications about one instance.
func ForInstance(handle common.Address, types ...Type) Filter {
	return Filter{Types: types, Instances: []common.Address{handle}}
}

func (f Filter) matches(evt Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, evt.Type()) {
		return false
	}
	if len(f.Instances) > 0 && !slices.Contains(f.Instances, evt.Instance()) {
		return false
	}
	return true
}

// BusConfig configures a LocalBus.
type BusConfig struct {
	// BufferSize is the queue length per subscription. Default 256.
	BufferSize int

	// MaxSubscribers caps live subscriptions. Zero means unlimited.
	MaxSubscribers int

	// DropWhenFull makes Publish skip a subscriber whose queue is full
	// instead of waiting. Skipped notifications are counted in Dropped.
	DropWhenFull bool

	// OnError receives handler failures.
	OnError func(subscription string, evt Event, err error)
}

// DefaultBusConfig is used for zero fields of a BusConfig.
var DefaultBusConfig = BusConfig{
	BufferSize: 256,
}

// LocalBus is an in-memory Publisher that fans notifications out to
// subscribers. Each subscription has its own queue and goroutine, so
// handlers never run on the goroutine that committed the transition, and a
// subscriber sees notifications in publish order.
type LocalBus struct {
	config BusConfig

	mu     sync.RWMutex
	subs   []*Subscription
	nextID int64
	closed bool

	wg sync.WaitGroup
}

var _ Publisher = (*LocalBus)(nil)

// NewBus creates a LocalBus.
func NewBus(config BusConfig) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig.BufferSize
	}
	return &LocalBus{config: config}
}

// Publish queues evt for every matching subscription. In the default mode
// it waits for queue space, ctx, or the bus closing.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	var targets []*Subscription
	for _, sub := range b.subs {
		if sub.filter.matches(evt) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if b.config.DropWhenFull {
			select {
			case sub.queue <- evt:
			default:
				sub.dropped.Add(1)
			}
			continue
		}
		select {
		case sub.queue <- evt:
		case <-sub.quit:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe starts delivering notifications matching f to h.
func (b *LocalBus) Subscribe(f Filter, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, errors.New("event bus: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if b.config.MaxSubscribers > 0 && len(b.subs) >= b.config.MaxSubscribers {
		return nil, ErrTooManySubscribers
	}

	b.nextID++
	sub := &Subscription{
		id:      "sub-" + strconv.FormatInt(b.nextID, 10),
		filter:  f,
		handler: h,
		queue:   make(chan Event, b.config.BufferSize),
		quit:    make(chan struct{}),
		bus:     b,
	}
	b.subs = append(b.subs, sub)

	b.wg.Add(1)
	go sub.run()
	return sub, nil
}

// Close stops accepting notifications, lets every subscription drain what
// it already queued, and waits for the handlers to return. Handlers must not
// call Close.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.wg.Wait()
	return nil
}

// Len returns the number of live subscriptions.
func (b *LocalBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Subscription is one consumer registered on a LocalBus.
type Subscription struct {
	id      string
	filter  Filter
	handler Handler
	queue   chan Event
	quit    chan struct{}
	once    sync.Once
	bus     *LocalBus

	delivered atomic.Int64
	dropped   atomic.Int64
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Delivered returns how many notifications the handler has been given.
func (s *Subscription) Delivered() int64 { return s.delivered.Load() }

// Dropped returns how many notifications were skipped on a full queue.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close removes the subscription. Queued notifications are still delivered.
// Safe to call more than once.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	b.subs = slices.DeleteFunc(b.subs, func(o *Subscription) bool { return o == s })
	b.mu.Unlock()
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.quit) })
}

func (s *Subscription) run() {
	defer s.bus.wg.Done()
	for {
		select {
		case evt := <-s.queue:
			s.deliver(evt)
		case <-s.quit:
			for {
				select {
				case evt := <-s.queue:
					s.deliver(evt)
				default:
					return
				}
			}
		}
	}
}

func (s *Subscription) deliver(evt Event) {
	s.delivered.Add(1)
	if err := s.handler.Handle(context.Background(), evt); err != nil && s.bus.config.OnError != nil {
		s.bus.config.OnError(s.id, evt, err)
	}
}
