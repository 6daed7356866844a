package rsvpvault

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/access"
)

// InitDisabled marks storage that must never be initialized. Implementations
// stamp their own storage with it at construction.
const InitDisabled = ^uint64(0)

// Phase is the lifecycle position of an instance.
type Phase string

const (
	// PhaseOpen accepts registrations and attendance.
	PhaseOpen Phase = "open"
	// PhasePaid is Ended after payback.
	PhasePaid Phase = "paid"
	// PhaseCancelled is Ended after cancel.
	PhaseCancelled Phase = "cancelled"
)

// Participant is one registered identity.
type Participant struct {
	Address     common.Address `json:"address"`
	DisplayName string         `json:"display_name"`
	Attended    bool           `json:"attended"`
	Paid        bool           `json:"paid"`
}

// State is the storage of one instance. It holds data only; behavior lives in
// a Logic so it can be swapped without migrating storage.
type State struct {
	// InitVersion is zero until initialized, then the storage layout version.
	InitVersion uint64 `json:"init_version"`

	Access        *access.Registry `json:"access"`
	Name          string           `json:"name"`
	Deposit       uint64           `json:"deposit"`
	Limit         uint64           `json:"limit"`
	CoolingPeriod time.Duration    `json:"cooling_period"`
	MetadataRef   string           `json:"metadata_ref"`

	RegisteredCount uint64 `json:"registered_count"`
	AttendedCount   uint64 `json:"attended_count"`

	Ended     bool `json:"ended"`
	Cancelled bool `json:"cancelled"`
	Cleared   bool `json:"cleared"`

	Payout uint64 `json:"payout"`
	Held   uint64 `json:"held"`

	CreatedAt time.Time `json:"created_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	// Participants in registration order.
	Participants []Participant `json:"participants"`

	index map[common.Address]int
}

// Initialized reports whether the storage has been initialized (or disabled).
func (s *State) Initialized() bool {
	return s.InitVersion != 0
}

// Phase derives the lifecycle position from the Ended and Cancelled flags.
func (s *State) Phase() Phase {
	switch {
	case s.Cancelled:
		return PhaseCancelled
	case s.Ended:
		return PhasePaid
	default:
		return PhaseOpen
	}
}

// Owner returns the instance owner, or the zero address before initialization.
func (s *State) Owner() common.Address {
	if s.Access == nil {
		return common.Address{}
	}
	return s.Access.Owner()
}

// IsOwner reports whether id owns the instance.
func (s *State) IsOwner(id common.Address) bool {
	return s.Access != nil && s.Access.IsOwner(id)
}

// IsAdmin reports whether id is the owner or a granted admin.
func (s *State) IsAdmin(id common.Address) bool {
	return s.Access != nil && s.Access.IsAdmin(id)
}

// Participant returns a pointer to the stored participant for id.
func (s *State) Participant(id common.Address) (*Participant, bool) {
	s.ensureIndex()
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return &s.Participants[i], true
}

// AddParticipant appends p. The caller must have checked for duplicates.
func (s *State) AddParticipant(p Participant) {
	s.ensureIndex()
	s.index[p.Address] = len(s.Participants)
	s.Participants = append(s.Participants, p)
}

func (s *State) ensureIndex() {
	if s.index != nil && len(s.index) == len(s.Participants) {
		return
	}
	s.index = make(map[common.Address]int, len(s.Participants))
	for i, p := range s.Participants {
		s.index[p.Address] = i
	}
}

// Clone returns a deep copy.
func (s *State) Clone() State {
	c := *s
	if s.Access != nil {
		c.Access = s.Access.Clone()
	}
	c.Participants = make([]Participant, len(s.Participants))
	copy(c.Participants, s.Participants)
	c.index = nil
	return c
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	type plain State
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = State(raw)
	s.index = nil
	return nil
}
