// Package beacon holds the implementation every instance delegates to.
//
// Instances resolve the beacon on every call, so Upgrade takes effect for
// all existing and future instances at once. Only the beacon's owner (in
// practice the factory) may upgrade it.
package beacon

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault"
	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
)

const opUpgrade = "upgrade_implementation"

// Beacon is an owner-guarded pointer to the current implementation.
// It is safe for concurrent use.
type Beacon struct {
	owner common.Address
	impl  atomic.Pointer[rsvpvault.Implementation]
}

// Compile-time interface check.
var _ rsvpvault.ImplementationSource = (*Beacon)(nil)

// New creates a beacon owned by owner and pointing at impl.
func New(owner common.Address, impl *rsvpvault.Implementation) (*Beacon, error) {
	if owner == (common.Address{}) {
		return nil, rverrors.InvalidArgument("beacon", "owner must not be the zero address")
	}
	if impl == nil {
		return nil, rverrors.InvalidArgument("beacon", "implementation must not be nil")
	}
	b := &Beacon{owner: owner}
	b.impl.Store(impl)
	return b, nil
}

// Owner returns the only identity allowed to upgrade.
func (b *Beacon) Owner() common.Address {
	return b.owner
}

// Implementation implements rsvpvault.ImplementationSource.
func (b *Beacon) Implementation() *rsvpvault.Implementation {
	return b.impl.Load()
}

// Upgrade points the beacon at impl and returns the implementation it
// replaced.
func (b *Beacon) Upgrade(caller common.Address, impl *rsvpvault.Implementation) (*rsvpvault.Implementation, error) {
	if caller != b.owner {
		return nil, rverrors.Unauthorized(opUpgrade, "only the beacon owner can upgrade")
	}
	if impl == nil {
		return nil, rverrors.InvalidArgument(opUpgrade, "implementation must not be nil")
	}
	return b.impl.Swap(impl), nil
}
