package rsvpvault

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/clock"
	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/event"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/ledger"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/store"
)

// Identities used across tests.
var (
	handle   = addr(0xE0)
	owner    = addr(0xA0)
	admin    = addr(0xA1)
	stranger = addr(0xA2)
	alice    = addr(0x01)
	bob      = addr(0x02)
	carol    = addr(0x03)
	dave     = addr(0x04)
	erin     = addr(0x05)
)

var epoch = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func addr(n byte) common.Address {
	return common.BytesToAddress([]byte{n})
}

// testParams is a small event: deposit 20, room for 10, one-day cooling period.
func testParams() Params {
	return Params{
		Name:          "Go meetup",
		Deposit:       20,
		Limit:         10,
		CoolingPeriod: 24 * time.Hour,
	}
}

// swappableSource lets tests change the implementation under a live instance.
type swappableSource struct {
	impl atomic.Pointer[Implementation]
}

func newSwappableSource(impl *Implementation) *swappableSource {
	s := &swappableSource{}
	s.impl.Store(impl)
	return s
}

func (s *swappableSource) Implementation() *Implementation { return s.impl.Load() }

func (s *swappableSource) swap(impl *Implementation) { s.impl.Store(impl) }

// harness wires an initialized instance to in-memory collaborators.
type harness struct {
	t      *testing.T
	ctx    context.Context
	rail   *ledger.MemoryLedger
	clock  *clock.Manual
	store  *store.MemoryStore
	events *event.Recorder
	source *swappableSource
	inst   *Instance
}

func newHarness(t *testing.T, p Params, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		rail:   ledger.NewMemoryLedger(),
		clock:  clock.NewManual(epoch),
		store:  store.NewMemoryStore(),
		events: event.NewRecorder(),
		source: newSwappableSource(MustImplementation(StandardLogic{})),
	}

	all := append([]Option{
		WithStore(h.store),
		WithPublisher(h.events),
		WithClock(h.clock),
	}, opts...)

	inst, err := NewInstance(handle, h.source, h.rail, all...)
	require.NoError(t, err)
	require.NoError(t, inst.Initialize(h.ctx, owner, p))
	h.inst = inst
	return h
}

// register funds each id with exactly one deposit and registers it.
func (h *harness) register(ids ...common.Address) {
	h.t.Helper()
	deposit := h.inst.Snapshot().Deposit
	for _, id := range ids {
		require.NoError(h.t, h.rail.Mint(id, deposit))
		require.NoError(h.t, h.inst.Register(h.ctx, id, id.Hex()[:8], deposit))
	}
}

// requireConserved checks that the instance's ledger account matches what
// the instance believes it holds.
func (h *harness) requireConserved() {
	h.t.Helper()
	require.Equal(h.t, h.inst.Held(), h.rail.Balance(handle), "held balance diverged from ledger")
}

func requireKind(t *testing.T, err error, kind rverrors.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, rverrors.KindOf(err), "unexpected error: %v", err)
}

var errRailDown = errors.New("rail down")
