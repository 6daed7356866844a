/*
Package rsvpvault implements deposit-escrow events.

# Overview

An event collects a fixed deposit from everyone who registers. After the
event, the owner (or an admin) marks who showed up, and the owner either pays
back the pooled deposits to attendees in equal shares or cancels the event,
in which case everyone gets their deposit back. No-shows forfeit their
deposit to the attendees. Whatever is left after a cooling period can be
swept to the owner.

Each event is an Instance. Instances share one Implementation, resolved
through an ImplementationSource on every call, so swapping the
implementation (see the beacon package) upgrades all events at once without
touching their storage. The factory package creates instances at sequential
or caller-predictable handles.

# Basic Usage

	rail := ledger.NewMemoryLedger()
	impl := rsvpvault.MustImplementation(rsvpvault.StandardLogic{})

	inst, err := rsvpvault.NewInstance(handle, rsvpvault.Static(impl), rail)
	if err != nil {
	    log.Fatal(err)
	}
	err = inst.Initialize(ctx, owner, rsvpvault.Params{
	    Name:          "Go meetup",
	    Deposit:       20,
	    Limit:         50,
	    CoolingPeriod: 7 * 24 * time.Hour,
	})

	_ = inst.Register(ctx, alice, "alice", 20)
	_ = inst.Attend(ctx, owner, []common.Address{alice})
	_ = inst.Payback(ctx, owner)
	amount, err := inst.Withdraw(ctx, alice)

# Value Movement

Instances never hold value. Register pulls the deposit from the caller's
account on the configured ledger.Transferrer into the instance's account
(keyed by its handle). Withdraw and Clear pay out of that account after the
paid or cleared flag is committed, so a payout that re-enters the instance
finds the flag set and is refused. A payout that fails is compensated: the
flag is cleared again and the held balance restored.

# Errors

Every failure is an *errors.Error with a Kind. Rule violations leave state
exactly as it was. Use errors.Is with the sentinel values in the errors
package:

	if errors.Is(err, rverrors.ErrCapacityExceeded) {
	    // event is full
	}

# Persistence

With WithStore, every committed transition writes a Snapshot of the
instance to the store namespace "instances". RestoreInstance rebuilds an
instance from it.
*/
package rsvpvault
