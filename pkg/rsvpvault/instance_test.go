package rsvpvault

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/event"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/ledger"
)

func TestNewInstance_Validation(t *testing.T) {
	src := Static(MustImplementation(StandardLogic{}))
	rail := ledger.NewMemoryLedger()

	tests := []struct {
		name   string
		handle common.Address
		source ImplementationSource
		rail   ledger.Transferrer
	}{
		{"zero handle", common.Address{}, src, rail},
		{"nil source", handle, nil, rail},
		{"nil rail", handle, src, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInstance(tt.handle, tt.source, tt.rail)
			requireKind(t, err, rverrors.KindInvalidArgument)
		})
	}
}

func TestInstance_Initialize(t *testing.T) {
	t.Run("only once", func(t *testing.T) {
		h := newHarness(t, testParams())

		err := h.inst.Initialize(h.ctx, stranger, testParams())
		requireKind(t, err, rverrors.KindInvalidState)
		assert.Equal(t, owner, h.inst.Owner())
	})

	t.Run("uninitialized instance refuses operations", func(t *testing.T) {
		inst, err := NewInstance(handle, Static(MustImplementation(StandardLogic{})), ledger.NewMemoryLedger())
		require.NoError(t, err)

		requireKind(t, inst.Register(context.Background(), alice, "alice", 20), rverrors.KindInvalidState)
		requireKind(t, inst.Payback(context.Background(), owner), rverrors.KindInvalidState)
		assert.Equal(t, common.Address{}, inst.Owner())
	})

	t.Run("invalid params leave instance uninitialized", func(t *testing.T) {
		inst, err := NewInstance(handle, Static(MustImplementation(StandardLogic{})), ledger.NewMemoryLedger())
		require.NoError(t, err)

		p := testParams()
		p.Deposit = 0
		requireKind(t, inst.Initialize(context.Background(), owner, p), rverrors.KindInvalidAmount)
		require.NoError(t, inst.Initialize(context.Background(), owner, testParams()))
	})

	t.Run("persist failure leaves instance uninitialized", func(t *testing.T) {
		h := newHarness(t, testParams())
		h.store.FailSaves(errors.New("disk full"))

		inst, err := NewInstance(addr(0xE9), h.source, h.rail, WithStore(h.store))
		require.NoError(t, err)
		requireKind(t, inst.Initialize(h.ctx, owner, testParams()), rverrors.KindInternal)

		h.store.FailSaves(nil)
		require.NoError(t, inst.Initialize(h.ctx, owner, testParams()))
	})
}

func TestInstance_Register(t *testing.T) {
	t.Run("pulls exact deposit", func(t *testing.T) {
		h := newHarness(t, testParams())
		require.NoError(t, h.rail.Mint(alice, 50))

		require.NoError(t, h.inst.Register(h.ctx, alice, "  alice  ", 20))

		p, ok := h.inst.Participant(alice)
		require.True(t, ok)
		assert.Equal(t, "alice", p.DisplayName)
		assert.Equal(t, uint64(30), h.rail.Balance(alice))
		assert.Equal(t, uint64(20), h.inst.Held())
		h.requireConserved()
	})

	tests := []struct {
		name    string
		setup   func(h *harness)
		caller  common.Address
		display string
		paid    uint64
		want    rverrors.Kind
	}{
		{
			name:    "underpayment",
			caller:  alice,
			display: "alice",
			paid:    19,
			want:    rverrors.KindInvalidAmount,
		},
		{
			name:    "overpayment",
			caller:  alice,
			display: "alice",
			paid:    21,
			want:    rverrors.KindInvalidAmount,
		},
		{
			name:    "already registered",
			setup:   func(h *harness) { h.register(alice) },
			caller:  alice,
			display: "alice",
			paid:    20,
			want:    rverrors.KindAlreadyExists,
		},
		{
			name: "event ended",
			setup: func(h *harness) {
				require.NoError(t, h.inst.Cancel(h.ctx, owner))
			},
			caller:  alice,
			display: "alice",
			paid:    20,
			want:    rverrors.KindInvalidState,
		},
		{
			name: "event full",
			setup: func(h *harness) {
				require.NoError(t, h.inst.SetLimit(h.ctx, owner, 1))
				h.register(bob)
			},
			caller:  alice,
			display: "alice",
			paid:    20,
			want:    rverrors.KindCapacityExceeded,
		},
		{
			name:    "blank display name",
			caller:  alice,
			display: "   ",
			paid:    20,
			want:    rverrors.KindInvalidArgument,
		},
		{
			name:    "display name too long",
			caller:  alice,
			display: strings.Repeat("a", MaxDisplayNameLength+1),
			paid:    20,
			want:    rverrors.KindInvalidArgument,
		},
		{
			name:    "zero identity",
			caller:  common.Address{},
			display: "nobody",
			paid:    20,
			want:    rverrors.KindInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testParams())
			if tt.setup != nil {
				tt.setup(h)
			}
			require.NoError(t, h.rail.Mint(tt.caller, 100))
			before := h.inst.Snapshot()
			emitted := h.events.Len()

			err := h.inst.Register(h.ctx, tt.caller, tt.display, tt.paid)
			requireKind(t, err, tt.want)

			assert.Equal(t, before, h.inst.Snapshot(), "state changed on rejection")
			assert.Equal(t, uint64(100), h.rail.Balance(tt.caller), "payment taken on rejection")
			assert.Equal(t, emitted, h.events.Len(), "notification emitted on rejection")
			h.requireConserved()
		})
	}

	t.Run("insufficient funds", func(t *testing.T) {
		h := newHarness(t, testParams())
		require.NoError(t, h.rail.Mint(alice, 5))

		err := h.inst.Register(h.ctx, alice, "alice", 20)
		requireKind(t, err, rverrors.KindInvalidAmount)
		assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))
		assert.False(t, h.inst.IsRegistered(alice))
		h.requireConserved()
	})

	t.Run("rail failure is internal", func(t *testing.T) {
		h := newHarness(t, testParams())
		require.NoError(t, h.rail.Mint(alice, 20))
		h.rail.SetHook(func(context.Context, ledger.Movement) error { return errRailDown })

		err := h.inst.Register(h.ctx, alice, "alice", 20)
		requireKind(t, err, rverrors.KindInternal)
		assert.False(t, h.inst.IsRegistered(alice))
	})
}

func TestInstance_Attend(t *testing.T) {
	t.Run("admin marks batch", func(t *testing.T) {
		h := newHarness(t, testParams())
		h.register(alice, bob, carol)
		_, err := h.inst.Grant(h.ctx, owner, []common.Address{admin})
		require.NoError(t, err)

		require.NoError(t, h.inst.Attend(h.ctx, admin, []common.Address{alice, carol}))

		assert.True(t, h.inst.IsAttended(alice))
		assert.False(t, h.inst.IsAttended(bob))
		assert.True(t, h.inst.IsAttended(carol))
		assert.Equal(t, uint64(2), h.inst.Snapshot().AttendedCount)

		marked := h.events.OfType(event.TypeAttendanceMarked)
		require.Len(t, marked, 1)
		payload := marked[0].Data().(event.AttendanceMarked)
		assert.Equal(t, []common.Address{alice, carol}, payload.Participants)
		assert.Equal(t, uint64(2), payload.Attended)
	})

	tests := []struct {
		name   string
		caller common.Address
		ids    []common.Address
		want   rverrors.Kind
	}{
		{"stranger", stranger, []common.Address{alice}, rverrors.KindUnauthorized},
		{"participant", alice, []common.Address{alice}, rverrors.KindUnauthorized},
		{"empty batch", owner, nil, rverrors.KindInvalidArgument},
		{"unregistered in batch", owner, []common.Address{alice, dave, bob}, rverrors.KindNotFound},
		{"duplicate in batch", owner, []common.Address{alice, bob, alice}, rverrors.KindAlreadyExists},
		{"already attended", owner, []common.Address{bob, carol}, rverrors.KindAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testParams())
			h.register(alice, bob, carol)
			require.NoError(t, h.inst.Attend(h.ctx, owner, []common.Address{carol}))
			before := h.inst.Snapshot()

			requireKind(t, h.inst.Attend(h.ctx, tt.caller, tt.ids), tt.want)

			assert.Equal(t, before, h.inst.Snapshot(), "partial batch applied")
			assert.False(t, h.inst.IsAttended(alice))
		})
	}

	t.Run("after end", func(t *testing.T) {
		h := newHarness(t, testParams())
		h.register(alice)
		require.NoError(t, h.inst.Payback(h.ctx, owner))

		requireKind(t, h.inst.Attend(h.ctx, owner, []common.Address{alice}), rverrors.KindInvalidState)
	})
}

func TestInstance_PaybackSplitsAmongAttendees(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice, bob, carol, dave)
	require.NoError(t, h.inst.Attend(h.ctx, owner, []common.Address{alice, carol}))

	require.NoError(t, h.inst.Payback(h.ctx, owner))

	snap := h.inst.Snapshot()
	assert.Equal(t, PhasePaid, h.inst.Phase())
	assert.Equal(t, uint64(40), snap.Payout)
	assert.Equal(t, epoch, snap.EndedAt)

	for _, id := range []common.Address{alice, carol} {
		amount, err := h.inst.Withdraw(h.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(40), amount)
		assert.Equal(t, uint64(40), h.rail.Balance(id))
		assert.True(t, h.inst.IsPaid(id))
		h.requireConserved()
	}

	_, err := h.inst.Withdraw(h.ctx, bob)
	requireKind(t, err, rverrors.KindInvalidState)

	_, err = h.inst.Withdraw(h.ctx, alice)
	requireKind(t, err, rverrors.KindInvalidState)

	_, err = h.inst.Withdraw(h.ctx, stranger)
	requireKind(t, err, rverrors.KindNotFound)

	assert.Equal(t, uint64(0), h.inst.Held())
	assert.Len(t, h.events.OfType(event.TypeWithdrew), 2)

	paid := h.events.OfType(event.TypePaidBack)
	require.Len(t, paid, 1)
	assert.Equal(t, event.Settled{Payout: 40, Registered: 4, Attended: 2, Held: 80}, paid[0].Data())
}

func TestInstance_PaybackRemainderIsCleared(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice, bob, carol, dave, erin)
	require.NoError(t, h.inst.Attend(h.ctx, owner, []common.Address{alice, bob, carol}))
	require.NoError(t, h.inst.Payback(h.ctx, owner))

	assert.Equal(t, uint64(33), h.inst.Snapshot().Payout)
	for _, id := range []common.Address{alice, bob, carol} {
		_, err := h.inst.Withdraw(h.ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(1), h.inst.Held())

	h.clock.Advance(24 * time.Hour)
	amount, err := h.inst.Clear(h.ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), amount)
	assert.Equal(t, uint64(1), h.rail.Balance(owner))
	h.requireConserved()
}

func TestInstance_PaybackWithNoAttendees(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice, bob)
	require.NoError(t, h.inst.Payback(h.ctx, owner))

	assert.Equal(t, uint64(0), h.inst.Snapshot().Payout)
	_, err := h.inst.Withdraw(h.ctx, alice)
	requireKind(t, err, rverrors.KindInvalidState)

	h.clock.Advance(24 * time.Hour)
	amount, err := h.inst.Clear(h.ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), amount)
}

func TestInstance_CancelRefundsEveryone(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice, bob, carol)
	require.NoError(t, h.inst.Attend(h.ctx, owner, []common.Address{alice}))

	require.NoError(t, h.inst.Cancel(h.ctx, owner))
	assert.Equal(t, PhaseCancelled, h.inst.Phase())

	for _, id := range []common.Address{alice, bob, carol} {
		amount, err := h.inst.Withdraw(h.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(20), amount)
		assert.Equal(t, uint64(20), h.rail.Balance(id))
	}
	assert.Equal(t, uint64(0), h.inst.Held())
	h.requireConserved()

	requireKind(t, h.inst.Payback(h.ctx, owner), rverrors.KindInvalidState)
	requireKind(t, h.inst.Cancel(h.ctx, owner), rverrors.KindInvalidState)
}

func TestInstance_WithdrawBeforeEnd(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice)
	require.NoError(t, h.inst.Attend(h.ctx, owner, []common.Address{alice}))

	_, err := h.inst.Withdraw(h.ctx, alice)
	requireKind(t, err, rverrors.KindInvalidState)
	assert.False(t, h.inst.IsPaid(alice))
}

func TestInstance_Clear(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice, bob)
	require.NoError(t, h.inst.Attend(h.ctx, owner, []common.Address{alice}))

	_, err := h.inst.Clear(h.ctx, owner)
	requireKind(t, err, rverrors.KindInvalidState)

	require.NoError(t, h.inst.Payback(h.ctx, owner))

	h.clock.Advance(24*time.Hour - time.Second)
	_, err = h.inst.Clear(h.ctx, owner)
	requireKind(t, err, rverrors.KindTooEarly)

	h.clock.Advance(time.Second)
	_, err = h.inst.Clear(h.ctx, admin)
	requireKind(t, err, rverrors.KindUnauthorized)

	amount, err := h.inst.Clear(h.ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), amount)
	assert.Equal(t, uint64(40), h.rail.Balance(owner))
	assert.True(t, h.inst.Snapshot().Cleared)
	h.requireConserved()

	_, err = h.inst.Clear(h.ctx, owner)
	requireKind(t, err, rverrors.KindInvalidState)

	_, err = h.inst.Withdraw(h.ctx, alice)
	requireKind(t, err, rverrors.KindInvalidState)

	cleared := h.events.OfType(event.TypeCleared)
	require.Len(t, cleared, 1)
	assert.Equal(t, event.Cleared{Recipient: owner, Amount: 40}, cleared[0].Data())
}

func TestInstance_Authorization(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice)
	_, err := h.inst.Grant(h.ctx, owner, []common.Address{admin})
	require.NoError(t, err)

	for _, caller := range []common.Address{admin, alice, stranger} {
		requireKind(t, h.inst.Payback(h.ctx, caller), rverrors.KindUnauthorized)
		requireKind(t, h.inst.Cancel(h.ctx, caller), rverrors.KindUnauthorized)
		requireKind(t, h.inst.SetLimit(h.ctx, caller, 1), rverrors.KindUnauthorized)
		requireKind(t, h.inst.Rename(h.ctx, caller, "mine"), rverrors.KindUnauthorized)
		requireKind(t, h.inst.SetMetadataReference(h.ctx, caller, "ipfs://x"), rverrors.KindUnauthorized)

		_, err := h.inst.Grant(h.ctx, caller, []common.Address{stranger})
		requireKind(t, err, rverrors.KindUnauthorized)
		_, err = h.inst.Revoke(h.ctx, caller, []common.Address{admin})
		requireKind(t, err, rverrors.KindUnauthorized)
	}

	assert.Equal(t, PhaseOpen, h.inst.Phase())
	assert.True(t, h.inst.IsAdmin(admin))
	assert.False(t, h.inst.IsAdmin(stranger))
}

func TestInstance_GrantRevoke(t *testing.T) {
	h := newHarness(t, testParams())

	added, err := h.inst.Grant(h.ctx, owner, []common.Address{admin, stranger, admin, owner})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{admin, stranger}, added)
	assert.Equal(t, []common.Address{admin, stranger}, h.inst.Admins())

	granted := h.events.OfType(event.TypeAdminGranted)
	require.Len(t, granted, 2)
	assert.Equal(t, event.AdminChanged{Admin: admin}, granted[0].Data())
	assert.Equal(t, granted[0].ID(), granted[1].CausationID())
	assert.Equal(t, granted[0].CorrelationID(), granted[1].CorrelationID())

	removed, err := h.inst.Revoke(h.ctx, owner, []common.Address{stranger, alice})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{stranger}, removed)
	assert.False(t, h.inst.IsAdmin(stranger))
	assert.Len(t, h.events.OfType(event.TypeAdminRevoked), 1)

	_, err = h.inst.Grant(h.ctx, owner, []common.Address{{}})
	requireKind(t, err, rverrors.KindInvalidArgument)
}

func TestInstance_SetLimit(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice, bob)

	require.NoError(t, h.inst.SetLimit(h.ctx, owner, 1))
	assert.True(t, h.inst.IsRegistered(bob), "lowering the limit keeps existing participants")

	require.NoError(t, h.rail.Mint(carol, 20))
	requireKind(t, h.inst.Register(h.ctx, carol, "carol", 20), rverrors.KindCapacityExceeded)

	require.NoError(t, h.inst.SetLimit(h.ctx, owner, 3))
	require.NoError(t, h.inst.Register(h.ctx, carol, "carol", 20))

	require.NoError(t, h.inst.Cancel(h.ctx, owner))
	require.NoError(t, h.inst.SetLimit(h.ctx, owner, 100))

	changed := h.events.OfType(event.TypeLimitChanged)
	require.Len(t, changed, 3)
	assert.Equal(t, event.LimitChanged{Limit: 100}, changed[2].Data())
}

func TestInstance_RenameAndMetadata(t *testing.T) {
	h := newHarness(t, testParams())

	require.NoError(t, h.inst.Rename(h.ctx, owner, "  GopherCon  "))
	assert.Equal(t, "GopherCon", h.inst.Snapshot().Name)

	require.NoError(t, h.inst.SetMetadataReference(h.ctx, owner, "ipfs://bafy"))
	assert.Equal(t, "ipfs://bafy", h.inst.Snapshot().MetadataRef)
	require.NoError(t, h.inst.SetMetadataReference(h.ctx, owner, ""))

	requireKind(t, h.inst.Rename(h.ctx, owner, ""), rverrors.KindInvalidArgument)
	requireKind(t, h.inst.SetMetadataReference(h.ctx, owner, strings.Repeat("x", MaxMetadataLength+1)), rverrors.KindInvalidArgument)
	requireKind(t, h.inst.SetMetadataReference(h.ctx, owner, "ipfs://\x00"), rverrors.KindInvalidArgument)

	h.register(alice)
	requireKind(t, h.inst.Rename(h.ctx, owner, "Later"), rverrors.KindInvalidState)
	requireKind(t, h.inst.SetMetadataReference(h.ctx, owner, "ipfs://late"), rverrors.KindInvalidState)
	assert.Equal(t, "GopherCon", h.inst.Snapshot().Name)

	assert.Len(t, h.events.OfType(event.TypeRenamed), 1)
	assert.Len(t, h.events.OfType(event.TypeMetadataChanged), 2)
}

func TestInstance_MetadataLengthOverride(t *testing.T) {
	h := newHarness(t, testParams())
	h.source.swap(MustImplementation(StandardLogic{MaxMetadataLength: 8}))

	require.NoError(t, h.inst.SetMetadataReference(h.ctx, owner, "12345678"))
	requireKind(t, h.inst.SetMetadataReference(h.ctx, owner, "123456789"), rverrors.KindInvalidArgument)
}

func TestInstance_ReentrantWithdrawIsRefused(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice, bob)
	require.NoError(t, h.inst.Attend(h.ctx, owner, []common.Address{alice}))
	require.NoError(t, h.inst.Payback(h.ctx, owner))

	var (
		reentered atomic.Bool
		innerErr  error
	)
	h.rail.SetHook(func(ctx context.Context, m ledger.Movement) error {
		if m.From == handle && m.To == alice && reentered.CompareAndSwap(false, true) {
			_, innerErr = h.inst.Withdraw(ctx, alice)
		}
		return nil
	})

	amount, err := h.inst.Withdraw(h.ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), amount)

	require.True(t, reentered.Load())
	requireKind(t, innerErr, rverrors.KindInvalidState)
	assert.Equal(t, uint64(40), h.rail.Balance(alice))
	assert.Len(t, h.events.OfType(event.TypeWithdrew), 1)
	h.requireConserved()
}

func TestInstance_FailedPayoutIsCompensated(t *testing.T) {
	t.Run("withdraw", func(t *testing.T) {
		h := newHarness(t, testParams())
		h.register(alice)
		require.NoError(t, h.inst.Cancel(h.ctx, owner))

		h.rail.SetHook(func(context.Context, ledger.Movement) error { return errRailDown })
		_, err := h.inst.Withdraw(h.ctx, alice)
		requireKind(t, err, rverrors.KindInternal)
		assert.True(t, errors.Is(err, errRailDown))

		assert.False(t, h.inst.IsPaid(alice))
		assert.Equal(t, uint64(20), h.inst.Held())
		assert.Empty(t, h.events.OfType(event.TypeWithdrew))
		h.requireConserved()

		h.rail.SetHook(nil)
		amount, err := h.inst.Withdraw(h.ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(20), amount)
	})

	t.Run("clear", func(t *testing.T) {
		h := newHarness(t, testParams())
		h.register(alice)
		require.NoError(t, h.inst.Payback(h.ctx, owner))
		h.clock.Advance(48 * time.Hour)

		h.rail.SetHook(func(context.Context, ledger.Movement) error { return errRailDown })
		_, err := h.inst.Clear(h.ctx, owner)
		requireKind(t, err, rverrors.KindInternal)
		assert.False(t, h.inst.Snapshot().Cleared)
		assert.Equal(t, uint64(20), h.inst.Held())

		h.rail.SetHook(nil)
		amount, err := h.inst.Clear(h.ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, uint64(20), amount)
		h.requireConserved()
	})

	t.Run("compensation is persisted", func(t *testing.T) {
		h := newHarness(t, testParams())
		h.register(alice)
		require.NoError(t, h.inst.Cancel(h.ctx, owner))

		h.rail.SetHook(func(context.Context, ledger.Movement) error { return errRailDown })
		_, err := h.inst.Withdraw(h.ctx, alice)
		require.Error(t, err)

		snap, err := LoadSnapshot(h.ctx, h.store, handle)
		require.NoError(t, err)
		p, ok := snap.State.Participant(alice)
		require.True(t, ok)
		assert.False(t, p.Paid)
		assert.Equal(t, uint64(20), snap.State.Held)
	})

	t.Run("clear is refused while a payout is on the rail", func(t *testing.T) {
		h := newHarness(t, testParams())
		h.register(alice, bob)
		require.NoError(t, h.inst.Cancel(h.ctx, owner))
		h.clock.Advance(48 * time.Hour)

		var clearErr error
		h.rail.SetHook(func(ctx context.Context, m ledger.Movement) error {
			if m.To == alice {
				_, clearErr = h.inst.Clear(ctx, owner)
				return errRailDown
			}
			return nil
		})
		_, err := h.inst.Withdraw(h.ctx, alice)
		requireKind(t, err, rverrors.KindInternal)
		requireKind(t, clearErr, rverrors.KindInvalidState)
		assert.False(t, h.inst.Snapshot().Cleared)
		assert.False(t, h.inst.IsPaid(alice))
		assert.Equal(t, uint64(40), h.inst.Held())
		h.requireConserved()

		h.rail.SetHook(nil)
		amount, err := h.inst.Clear(h.ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, uint64(40), amount)
		assert.Zero(t, h.inst.Held())
		h.requireConserved()
	})

	t.Run("rollback survives a cancelled caller", func(t *testing.T) {
		h := newHarness(t, testParams())
		h.register(alice)
		require.NoError(t, h.inst.Cancel(h.ctx, owner))

		ctx, cancel := context.WithCancel(h.ctx)
		defer cancel()
		h.rail.SetHook(func(context.Context, ledger.Movement) error {
			cancel()
			return context.Canceled
		})
		_, err := h.inst.Withdraw(ctx, alice)
		requireKind(t, err, rverrors.KindInternal)

		h.rail.SetHook(nil)
		restored, err := RestoreInstance(h.ctx, h.store, handle, h.source, h.rail)
		require.NoError(t, err)
		assert.False(t, restored.IsPaid(alice))
		assert.Equal(t, uint64(20), restored.Held())

		amount, err := restored.Withdraw(h.ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(20), amount)
		assert.Zero(t, h.rail.Balance(handle))
	})

	t.Run("unpersisted rollback is reported", func(t *testing.T) {
		h := newHarness(t, testParams())
		h.register(alice)
		require.NoError(t, h.inst.Cancel(h.ctx, owner))

		diskFull := errors.New("disk full")
		h.rail.SetHook(func(context.Context, ledger.Movement) error {
			h.store.FailSaves(diskFull)
			return errRailDown
		})
		_, err := h.inst.Withdraw(h.ctx, alice)
		requireKind(t, err, rverrors.KindInternal)
		assert.ErrorIs(t, err, errRailDown)
		assert.ErrorIs(t, err, diskFull)
		assert.False(t, h.inst.IsPaid(alice))
		h.requireConserved()
	})
}

func TestInstance_PersistFailureRollsBack(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice)
	require.NoError(t, h.rail.Mint(bob, 20))
	h.store.FailSaves(errors.New("disk full"))
	before := h.inst.Snapshot()

	err := h.inst.Register(h.ctx, bob, "bob", 20)
	requireKind(t, err, rverrors.KindInternal)
	assert.Equal(t, before, h.inst.Snapshot())
	assert.Equal(t, uint64(20), h.rail.Balance(bob), "deposit refunded")
	h.requireConserved()

	requireKind(t, h.inst.Attend(h.ctx, owner, []common.Address{alice}), rverrors.KindInternal)
	assert.False(t, h.inst.IsAttended(alice))

	h.store.FailSaves(nil)
	require.NoError(t, h.inst.Register(h.ctx, bob, "bob", 20))
	assert.Len(t, h.events.OfType(event.TypeRegistered), 2)
}

func TestInstance_PublishFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t, testParams())
	h.events.FailWith(errors.New("sink offline"))

	h.register(alice)
	assert.True(t, h.inst.IsRegistered(alice))
	assert.Len(t, h.events.OfType(event.TypeRegistered), 1)
}

func TestInstance_RegisteredNotification(t *testing.T) {
	h := newHarness(t, testParams())
	require.NoError(t, h.rail.Mint(alice, 20))
	require.NoError(t, h.inst.Register(h.ctx, alice, "alice", 20))

	events := h.events.OfType(event.TypeRegistered)
	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, handle, evt.Instance())
	assert.Equal(t, alice, evt.Actor())
	assert.Equal(t, event.Registered{Participant: alice, DisplayName: "alice", Deposit: 20}, evt.Data())
}

func TestInstance_UpgradePreservesState(t *testing.T) {
	h := newHarness(t, testParams())
	h.register(alice, bob)
	assert.Equal(t, StandardVersion, h.inst.Version())

	h.source.swap(MustImplementation(doublingLogic{}))
	assert.Equal(t, "doubling/v2", h.inst.Version())
	assert.Equal(t, []Participant{
		{Address: alice, DisplayName: alice.Hex()[:8]},
		{Address: bob, DisplayName: bob.Hex()[:8]},
	}, h.inst.Participants())

	require.NoError(t, h.inst.SetLimit(h.ctx, owner, 4))
	assert.Equal(t, uint64(8), h.inst.Snapshot().Limit)

	snap, err := LoadSnapshot(h.ctx, h.store, handle)
	require.NoError(t, err)
	assert.Equal(t, "doubling/v2", snap.Implementation)
}

func TestInstance_HeldOverflow(t *testing.T) {
	p := testParams()
	p.Deposit = math.MaxUint64/2 + 1
	h := newHarness(t, p)
	h.register(alice)

	require.NoError(t, h.rail.Mint(bob, p.Deposit))
	requireKind(t, h.inst.Register(h.ctx, bob, "bob", p.Deposit), rverrors.KindInvalidAmount)
}

// doublingLogic is a second behavior version: it stores twice the requested limit.
type doublingLogic struct {
	StandardLogic
}

func (doublingLogic) Version() string { return "doubling/v2" }

func (l doublingLogic) SetLimit(st *State, caller common.Address, limit uint64) error {
	return l.StandardLogic.SetLimit(st, caller, limit*2)
}
