package rsvpvault

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/event"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/ledger"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/observability"
)

// Instance is one event's escrow: its own storage plus a pointer to the
// shared implementation, resolved on every call.
//
// All mutations are serialized by a per-instance lock. Inbound deposits are
// pulled while the lock is held. Outbound payouts are issued after the paid
// (or cleared) flag is committed and the lock is released, so a transfer that
// calls back into the instance observes the flag and is refused.
type Instance struct {
	handle common.Address
	source ImplementationSource
	rail   ledger.Transferrer
	cfg    instanceConfig
	log    *slog.Logger

	mu       sync.RWMutex
	state    State
	sequence uint64
	inflight int // payouts committed but not yet settled on the rail
}

// NewInstance creates an uninitialized instance. Call Initialize before use.
func NewInstance(handle common.Address, source ImplementationSource, rail ledger.Transferrer, opts ...Option) (*Instance, error) {
	if handle == (common.Address{}) {
		return nil, rverrors.InvalidArgument("instance", "handle must not be the zero address")
	}
	if source == nil {
		return nil, rverrors.InvalidArgument("instance", "implementation source is required")
	}
	if rail == nil {
		return nil, rverrors.InvalidArgument("instance", "value rail is required")
	}

	cfg := defaultInstanceConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Instance{
		handle: handle,
		source: source,
		rail:   rail,
		cfg:    cfg,
		log:    cfg.logger.With(slog.String("instance", handle.Hex())),
	}, nil
}

// Initialize sets up the instance's storage through the current
// implementation. It succeeds at most once per instance.
func (in *Instance) Initialize(ctx context.Context, owner common.Address, p Params) error {
	return in.observe(ctx, OpInitialize, owner, func(ctx context.Context) error {
		in.mu.Lock()
		defer in.mu.Unlock()

		if in.state.Initialized() {
			return rverrors.InvalidState(OpInitialize, "instance is already initialized")
		}
		impl := in.source.Implementation()
		if impl == nil || impl.Logic() == nil {
			return rverrors.Internal(OpInitialize, "no implementation available", nil)
		}

		var fresh State
		if err := impl.Logic().Initialize(&fresh, owner, p, in.cfg.clock.Now()); err != nil {
			return err
		}
		in.state = fresh
		if err := in.persist(ctx); err != nil {
			in.state = State{}
			observability.LogPersistError(in.log, OpInitialize, err)
			return rverrors.Internal(OpInitialize, "persist snapshot", err)
		}
		return nil
	})
}

// Register adds caller as a participant and pulls exactly paid from the
// caller's account. A rejected registration never takes the payment.
//
// The pull happens under the instance lock; the rail must not call back
// into this instance while it runs.
func (in *Instance) Register(ctx context.Context, caller common.Address, displayName string, paid uint64) error {
	var evt event.Event
	err := in.observe(ctx, OpRegister, caller, func(ctx context.Context) error {
		return in.commit(ctx, OpRegister, func(logic Logic, st *State) (func(), error) {
			if err := logic.Register(st, caller, displayName, paid); err != nil {
				return nil, err
			}
			if err := in.transfer(ctx, OpRegister, caller, in.handle, paid); err != nil {
				if errors.Is(err, ledger.ErrInsufficientFunds) {
					return nil, rverrors.Wrap(rverrors.KindInvalidAmount, OpRegister, "deposit could not be collected", err)
				}
				return nil, rverrors.Internal(OpRegister, "collect deposit", err)
			}

			p, _ := st.Participant(caller)
			evt = event.New(event.TypeRegistered, in.handle, caller, event.Registered{
				Participant: caller,
				DisplayName: p.DisplayName,
				Deposit:     paid,
			})
			return func() { in.refund(ctx, caller, paid) }, nil
		})
	})
	if err != nil {
		return err
	}
	in.cfg.metrics.RecordValueIn(ctx, OpRegister, paid)
	in.publish(ctx, evt)
	return nil
}

// Attend marks a batch of participants as attended, all or nothing.
func (in *Instance) Attend(ctx context.Context, caller common.Address, ids []common.Address) error {
	var evt event.Event
	err := in.observe(ctx, OpAttend, caller, func(ctx context.Context) error {
		return in.commit(ctx, OpAttend, func(logic Logic, st *State) (func(), error) {
			if err := logic.Attend(st, caller, ids); err != nil {
				return nil, err
			}
			marked := make([]common.Address, len(ids))
			copy(marked, ids)
			evt = event.New(event.TypeAttendanceMarked, in.handle, caller, event.AttendanceMarked{
				Participants: marked,
				Attended:     st.AttendedCount,
			})
			return nil, nil
		})
	})
	if err != nil {
		return err
	}
	in.publish(ctx, evt)
	return nil
}

// Payback ends the event and splits the held balance among attendees.
func (in *Instance) Payback(ctx context.Context, caller common.Address) error {
	return in.settle(ctx, OpPayback, event.TypePaidBack, caller, Logic.Payback)
}

// Cancel ends the event with a full refund for every participant.
func (in *Instance) Cancel(ctx context.Context, caller common.Address) error {
	return in.settle(ctx, OpCancel, event.TypeCancelled, caller, Logic.Cancel)
}

func (in *Instance) settle(
	ctx context.Context,
	op string,
	typ event.Type,
	caller common.Address,
	end func(Logic, *State, common.Address, time.Time) error,
) error {
	var evt event.Event
	err := in.observe(ctx, op, caller, func(ctx context.Context) error {
		return in.commit(ctx, op, func(logic Logic, st *State) (func(), error) {
			if err := end(logic, st, caller, in.cfg.clock.Now()); err != nil {
				return nil, err
			}
			evt = event.New(typ, in.handle, caller, event.Settled{
				Payout:     st.Payout,
				Registered: st.RegisteredCount,
				Attended:   st.AttendedCount,
				Held:       st.Held,
			})
			return nil, nil
		})
	})
	if err != nil {
		return err
	}
	in.publish(ctx, evt)
	return nil
}

// Withdraw pays caller what they are owed and returns the amount.
func (in *Instance) Withdraw(ctx context.Context, caller common.Address) (uint64, error) {
	var amount uint64
	err := in.observe(ctx, OpWithdraw, caller, func(ctx context.Context) error {
		err := in.commit(ctx, OpWithdraw, func(logic Logic, st *State) (func(), error) {
			var err error
			if amount, err = logic.Withdraw(st, caller); err != nil {
				return nil, err
			}
			return in.startPayout(amount), nil
		})
		if err != nil {
			return err
		}
		return in.payOut(ctx, OpWithdraw, caller, amount, func(st *State) {
			if p, ok := st.Participant(caller); ok {
				p.Paid = false
			}
		})
	})
	if err != nil {
		return 0, err
	}
	in.cfg.metrics.RecordValueOut(ctx, OpWithdraw, amount)
	in.publish(ctx, event.New(event.TypeWithdrew, in.handle, caller, event.Withdrew{
		Participant: caller,
		Amount:      amount,
	}))
	return amount, nil
}

// Clear sweeps the remaining balance to the owner once the cooling period
// has elapsed. It returns the swept amount. It is refused while a withdrawal payout
// is still on the rail, since a failed payout returns its amount to the held
// balance.
func (in *Instance) Clear(ctx context.Context, caller common.Address) (uint64, error) {
	var amount uint64
	err := in.observe(ctx, OpClear, caller, func(ctx context.Context) error {
		err := in.commit(ctx, OpClear, func(logic Logic, st *State) (func(), error) {
			if in.inflight > 0 {
				return nil, rverrors.InvalidState(OpClear, "payouts are still in flight")
			}
			var err error
			if amount, err = logic.Clear(st, caller, in.cfg.clock.Now()); err != nil {
				return nil, err
			}
			return in.startPayout(amount), nil
		})
		if err != nil {
			return err
		}
		return in.payOut(ctx, OpClear, caller, amount, func(st *State) {
			st.Cleared = false
		})
	})
	if err != nil {
		return 0, err
	}
	in.cfg.metrics.RecordValueOut(ctx, OpClear, amount)
	in.publish(ctx, event.New(event.TypeCleared, in.handle, caller, event.Cleared{
		Recipient: caller,
		Amount:    amount,
	}))
	return amount, nil
}

// SetLimit changes the participant limit.
func (in *Instance) SetLimit(ctx context.Context, caller common.Address, limit uint64) error {
	return in.simple(ctx, OpSetLimit, caller,
		func(logic Logic, st *State) error { return logic.SetLimit(st, caller, limit) },
		func(st *State) event.Event {
			return event.New(event.TypeLimitChanged, in.handle, caller, event.LimitChanged{Limit: st.Limit})
		})
}

// Rename changes the event name. Only allowed before any registration.
func (in *Instance) Rename(ctx context.Context, caller common.Address, name string) error {
	return in.simple(ctx, OpRename, caller,
		func(logic Logic, st *State) error { return logic.Rename(st, caller, name) },
		func(st *State) event.Event {
			return event.New(event.TypeRenamed, in.handle, caller, event.Renamed{Name: st.Name})
		})
}

// SetMetadataReference changes the off-chain metadata pointer.
func (in *Instance) SetMetadataReference(ctx context.Context, caller common.Address, ref string) error {
	return in.simple(ctx, OpSetMetadata, caller,
		func(logic Logic, st *State) error { return logic.SetMetadataReference(st, caller, ref) },
		func(st *State) event.Event {
			return event.New(event.TypeMetadataChanged, in.handle, caller, event.MetadataChanged{Reference: st.MetadataRef})
		})
}

func (in *Instance) simple(
	ctx context.Context,
	op string,
	caller common.Address,
	apply func(Logic, *State) error,
	notify func(*State) event.Event,
) error {
	var evt event.Event
	err := in.observe(ctx, op, caller, func(ctx context.Context) error {
		return in.commit(ctx, op, func(logic Logic, st *State) (func(), error) {
			if err := apply(logic, st); err != nil {
				return nil, err
			}
			evt = notify(st)
			return nil, nil
		})
	})
	if err != nil {
		return err
	}
	in.publish(ctx, evt)
	return nil
}

// Grant makes each identity an admin and returns the ones newly added.
// One notification is emitted per added identity.
func (in *Instance) Grant(ctx context.Context, caller common.Address, ids []common.Address) ([]common.Address, error) {
	return in.changeAdmins(ctx, OpGrant, event.TypeAdminGranted, caller, ids, Logic.Grant)
}

// Revoke removes each identity from the admins and returns the ones removed.
// One notification is emitted per removed identity.
func (in *Instance) Revoke(ctx context.Context, caller common.Address, ids []common.Address) ([]common.Address, error) {
	return in.changeAdmins(ctx, OpRevoke, event.TypeAdminRevoked, caller, ids, Logic.Revoke)
}

func (in *Instance) changeAdmins(
	ctx context.Context,
	op string,
	typ event.Type,
	caller common.Address,
	ids []common.Address,
	apply func(Logic, *State, common.Address, []common.Address) ([]common.Address, error),
) ([]common.Address, error) {
	var changed []common.Address
	err := in.observe(ctx, op, caller, func(ctx context.Context) error {
		return in.commit(ctx, op, func(logic Logic, st *State) (func(), error) {
			var err error
			changed, err = apply(logic, st, caller, ids)
			return nil, err
		})
	})
	if err != nil {
		return nil, err
	}

	var prev event.Event
	for _, id := range changed {
		payload := event.AdminChanged{Admin: id}
		var evt event.Event
		if prev == nil {
			evt = event.New(typ, in.handle, caller, payload)
		} else {
			evt = event.NewFromParent(prev, typ, payload)
		}
		in.publish(ctx, evt)
		prev = evt
	}
	return changed, nil
}

// commit runs apply under the write lock and persists the result. If apply
// fails, or the snapshot cannot be written, storage is restored and undo
// (when apply returned one) reverses apply's external side effects.
func (in *Instance) commit(ctx context.Context, op string, apply func(Logic, *State) (undo func(), err error)) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	impl := in.source.Implementation()
	if impl == nil || impl.Logic() == nil {
		return rverrors.Internal(op, "no implementation available", nil)
	}
	if !in.state.Initialized() {
		return rverrors.InvalidState(op, "instance is not initialized")
	}

	before := in.state.Clone()
	undo, err := apply(impl.Logic(), &in.state)
	if err != nil {
		in.state = before
		return err
	}

	if err := in.persist(ctx); err != nil {
		in.state = before
		if undo != nil {
			undo()
		}
		observability.LogPersistError(in.log, op, err)
		return rverrors.Internal(op, "persist snapshot", err)
	}
	return nil
}

// payOut issues an outbound transfer for an already committed payout. If the
// transfer fails, restore reverts the flag that was set, the held balance is
// credited back, and the rollback is persisted even if ctx was cancelled.
func (in *Instance) payOut(ctx context.Context, op string, to common.Address, amount uint64, restore func(*State)) error {
	if amount == 0 {
		return nil
	}

	err := in.transfer(ctx, op, in.handle, to, amount)

	in.mu.Lock()
	defer in.mu.Unlock()
	in.inflight--
	if err == nil {
		return nil
	}

	restore(&in.state)
	in.state.Held += amount
	if perr := in.persist(context.WithoutCancel(ctx)); perr != nil {
		observability.LogPersistError(in.log, op, perr)
		return rverrors.Internal(op, "payout transfer failed and rollback was not persisted", errors.Join(err, perr))
	}

	observability.LogCompensation(in.log, op, to, amount, err)
	return rverrors.Internal(op, "payout transfer failed", err)
}

// startPayout counts a committed payout as in flight until payOut settles
// it. The returned undo releases it if the commit is rolled back. Callers
// hold in.mu.
func (in *Instance) startPayout(amount uint64) func() {
	if amount == 0 {
		return nil
	}
	in.inflight++
	return func() { in.inflight-- }
}

// transfer moves value on the rail and records the movement on the
// operation's span.
func (in *Instance) transfer(ctx context.Context, op string, from, to common.Address, amount uint64) error {
	err := in.rail.Transfer(ctx, from, to, amount)
	in.cfg.spans.AddSpanEvent(ctx, "transfer",
		attribute.String("rsvpvault.from", from.Hex()),
		attribute.String("rsvpvault.to", to.Hex()),
		attribute.Int64("rsvpvault.amount", int64(min(amount, math.MaxInt64))),
		attribute.Bool("rsvpvault.ok", err == nil),
	)
	if err != nil {
		return err
	}
	observability.LogTransfer(in.log, op, from, to, amount)
	return nil
}

const opRefund = "refund"

// refund returns an inbound payment whose registration could not be committed.
func (in *Instance) refund(ctx context.Context, to common.Address, amount uint64) {
	if err := in.transfer(context.WithoutCancel(ctx), opRefund, in.handle, to, amount); err != nil {
		in.log.Error("refund failed",
			slog.String("participant", to.Hex()),
			slog.Uint64("amount", amount),
			slog.String("error", err.Error()),
		)
	}
}

// observe wraps an operation with a span, latency and outcome metrics, and logs.
func (in *Instance) observe(ctx context.Context, op string, actor common.Address, fn func(context.Context) error) error {
	ctx, span := in.cfg.spans.StartOpSpan(ctx, op, in.handle, actor)
	observability.LogOpStart(in.log, op, actor)
	start := time.Now()
	done := observability.TimedOperation()

	err := fn(ctx)

	in.cfg.spans.EndSpanWithError(span, err)
	in.cfg.metrics.RecordOperation(ctx, op, time.Since(start), err)
	if err != nil {
		observability.LogOpRejected(in.log, op, err)
		return err
	}
	observability.LogOpComplete(in.log, op, actor, done())
	return nil
}

func (in *Instance) publish(ctx context.Context, evt event.Event) {
	if evt == nil {
		return
	}
	if err := in.cfg.publisher.Publish(ctx, evt); err != nil {
		observability.LogPublishError(in.log, string(evt.Type()), err)
	}
}

// Handle returns the instance handle.
func (in *Instance) Handle() common.Address {
	return in.handle
}

// Version returns the version of the implementation currently in effect.
func (in *Instance) Version() string {
	if impl := in.source.Implementation(); impl != nil {
		return impl.Version()
	}
	return ""
}

// Snapshot returns a deep copy of the current storage.
func (in *Instance) Snapshot() State {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.state.Clone()
}

// Owner returns the instance owner.
func (in *Instance) Owner() common.Address {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.state.Owner()
}

// IsAdmin reports whether id is the owner or a granted admin.
func (in *Instance) IsAdmin(id common.Address) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.state.IsAdmin(id)
}

// Admins returns the granted admins in grant order, without the owner.
func (in *Instance) Admins() []common.Address {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.state.Access == nil {
		return nil
	}
	return in.state.Access.Admins()
}

// Participant returns a copy of the participant record for id.
func (in *Instance) Participant(id common.Address) (Participant, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	for _, p := range in.state.Participants {
		if p.Address == id {
			return p, true
		}
	}
	return Participant{}, false
}

// Participants returns all participants in registration order.
func (in *Instance) Participants() []Participant {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]Participant, len(in.state.Participants))
	copy(out, in.state.Participants)
	return out
}

// IsRegistered reports whether id is a participant.
func (in *Instance) IsRegistered(id common.Address) bool {
	_, ok := in.Participant(id)
	return ok
}

// IsAttended reports whether id was marked attended.
func (in *Instance) IsAttended(id common.Address) bool {
	p, ok := in.Participant(id)
	return ok && p.Attended
}

// IsPaid reports whether id has withdrawn.
func (in *Instance) IsPaid(id common.Address) bool {
	p, ok := in.Participant(id)
	return ok && p.Paid
}

// Held returns the balance the instance is accountable for.
func (in *Instance) Held() uint64 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.state.Held
}

// Phase returns the lifecycle position.
func (in *Instance) Phase() Phase {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.state.Phase()
}
