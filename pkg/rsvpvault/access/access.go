// Package access implements the two-tier authorization of an event instance:
// a fixed owner plus an insertion-ordered set of granted admins.
//
// The owner is always authorized for admin-level actions even though it never
// appears in the admin list. Only the owner may grant or revoke.
package access

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/registry"
)

// Registry holds the owner and the granted admins of one instance.
// It is safe for concurrent use.
type Registry struct {
	owner  common.Address
	admins *registry.Registry[common.Address, struct{}]
}

// New creates a registry owned by owner.
func New(owner common.Address) (*Registry, error) {
	if owner == (common.Address{}) {
		return nil, rverrors.InvalidArgument("access", "owner must not be the zero address")
	}
	return &Registry{
		owner:  owner,
		admins: registry.New[common.Address, struct{}](),
	}, nil
}

// Owner returns the owner identity.
func (r *Registry) Owner() common.Address {
	return r.owner
}

// IsOwner reports whether id is the owner.
func (r *Registry) IsOwner(id common.Address) bool {
	return id == r.owner
}

// IsAdmin reports whether id may perform admin-level actions.
func (r *Registry) IsAdmin(id common.Address) bool {
	return id == r.owner || r.admins.Has(id)
}

// Admins returns the granted admins in grant order. The owner is not included.
func (r *Registry) Admins() []common.Address {
	return r.admins.Keys()
}

// Grant adds each identity that is not already an admin and returns the newly
// added ones in order. Granting the owner is a no-op.
func (r *Registry) Grant(caller common.Address, ids []common.Address) ([]common.Address, error) {
	if err := r.checkMutation("grant", caller, ids); err != nil {
		return nil, err
	}

	var added []common.Address
	for _, id := range ids {
		if id == r.owner {
			continue
		}
		if r.admins.Add(id, struct{}{}) {
			added = append(added, id)
		}
	}
	return added, nil
}

// Revoke removes each identity that is an admin and returns the removed ones
// in order. Absent identities are ignored.
func (r *Registry) Revoke(caller common.Address, ids []common.Address) ([]common.Address, error) {
	if err := r.checkMutation("revoke", caller, ids); err != nil {
		return nil, err
	}

	var removed []common.Address
	for _, id := range ids {
		if r.admins.Remove(id) {
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// checkMutation validates the whole batch before anything changes.
func (r *Registry) checkMutation(op string, caller common.Address, ids []common.Address) error {
	if caller != r.owner {
		return rverrors.Unauthorized(op, "only the owner can change admins")
	}
	for _, id := range ids {
		if id == (common.Address{}) {
			return rverrors.InvalidArgument(op, "admin must not be the zero address")
		}
	}
	return nil
}

// Clone returns an independent copy.
func (r *Registry) Clone() *Registry {
	c := &Registry{
		owner:  r.owner,
		admins: registry.New[common.Address, struct{}](),
	}
	for _, id := range r.admins.Keys() {
		c.admins.Add(id, struct{}{})
	}
	return c
}

type registryJSON struct {
	Owner  common.Address   `json:"owner"`
	Admins []common.Address `json:"admins"`
}

// MarshalJSON implements json.Marshaler.
func (r *Registry) MarshalJSON() ([]byte, error) {
	admins := r.Admins()
	if admins == nil {
		admins = []common.Address{}
	}
	return json.Marshal(registryJSON{Owner: r.owner, Admins: admins})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var raw registryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Owner == (common.Address{}) {
		return rverrors.InvalidArgument("access", "owner must not be the zero address")
	}
	r.owner = raw.Owner
	r.admins = registry.New[common.Address, struct{}]()
	for _, id := range raw.Admins {
		r.admins.Add(id, struct{}{})
	}
	return nil
}
