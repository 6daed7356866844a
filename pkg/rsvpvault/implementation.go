package rsvpvault

import (
	"github.com/ethereum/go-ethereum/common"

	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
)

// Implementation is the shared behavior object every instance delegates to.
//
// It owns a storage slot of its own only so that direct initialization can
// be refused: NewImplementation stamps that slot with InitDisabled, so
// nobody can initialize the shared object and claim ownership of it.
type Implementation struct {
	logic Logic
	self  State
}

// NewImplementation wraps logic as a shareable implementation.
func NewImplementation(logic Logic) (*Implementation, error) {
	if logic == nil {
		return nil, rverrors.InvalidArgument("implementation", "logic must not be nil")
	}
	if logic.Version() == "" {
		return nil, rverrors.InvalidArgument("implementation", "logic version must not be empty")
	}
	return &Implementation{
		logic: logic,
		self:  State{InitVersion: InitDisabled},
	}, nil
}

// MustImplementation is NewImplementation that panics on error.
// Intended for package-level wiring and tests.
func MustImplementation(logic Logic) *Implementation {
	impl, err := NewImplementation(logic)
	if err != nil {
		panic(err)
	}
	return impl
}

// Version returns the behavior version.
func (i *Implementation) Version() string {
	if i.logic == nil {
		return ""
	}
	return i.logic.Version()
}

// Logic returns the behavior.
func (i *Implementation) Logic() Logic {
	return i.logic
}

// Initialize always fails: implementations are only ever used through an
// instance. This holds for a zero Implementation too.
func (i *Implementation) Initialize(common.Address, Params) error {
	return rverrors.InvalidState(OpInitialize, "implementation cannot be initialized directly")
}

// Owner returns the zero address: the shared implementation has no owner.
func (i *Implementation) Owner() common.Address {
	return i.self.Owner()
}

// ImplementationSource resolves the implementation in effect right now.
// Instances consult it on every call, so swapping what it returns upgrades
// every instance at once.
type ImplementationSource interface {
	Implementation() *Implementation
}

type staticSource struct {
	impl *Implementation
}

func (s staticSource) Implementation() *Implementation { return s.impl }

// Static returns a source that always resolves to impl.
func Static(impl *Implementation) ImplementationSource {
	return staticSource{impl: impl}
}
