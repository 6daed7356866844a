// Package event provides the notifications rsvpvault emits for every
// committed transition.
//
// # Notifications
//
// Every state change on an instance, and every instance creation or
// implementation upgrade on a factory, produces exactly one notification per
// committed transition. Rejected operations produce none. Batch operations
// (attendance marking, admin grants) emit one notification per affected
// identity, all sharing a correlation ID:
//
//	first := event.New(event.TypeAdminGranted, handle, owner, event.AdminChanged{Admin: a})
//	next := event.NewFromParent(first, event.TypeAdminGranted, event.AdminChanged{Admin: b})
//	// next.CorrelationID() == first.ID()
//	// next.CausationID() == first.ID()
//
// Notifications are delivered through a Publisher after the transition has
// been committed. A failing Publisher never undoes a transition; the engine
// logs the failure and moves on.
//
// # Publishers
//
//   - Discard drops everything (the default).
//   - Recorder keeps notifications in memory for tests and polling callers.
//   - LocalBus fans notifications out to asynchronous subscribers.
//   - Multi combines publishers.
//
// # Bus
//
//	bus := event.NewBus(event.BusConfig{BufferSize: 64})
//	defer bus.Close()
//
//	sub, err := bus.Subscribe(event.ForInstance(handle, event.TypeWithdrew), event.HandlerFunc(
//	    func(ctx context.Context, evt event.Event) error {
//	        w := evt.Data().(event.Withdrew)
//	        log.Printf("%s withdrew %d", w.Participant.Hex(), w.Amount)
//	        return nil
//	    }))
//
// Close waits until every subscription has drained its queue.
package event
