package rsvpvault

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/access"
	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
)

// Operation names used in errors, logs, spans, and metrics.
const (
	OpInitialize  = "initialize"
	OpRegister    = "register"
	OpAttend      = "attend"
	OpPayback     = "payback"
	OpCancel      = "cancel"
	OpWithdraw    = "withdraw"
	OpClear       = "clear"
	OpSetLimit    = "set_limit"
	OpRename      = "rename"
	OpSetMetadata = "set_metadata_reference"
	OpGrant       = "grant"
	OpRevoke      = "revoke"
)

// Limits on caller-supplied strings.
const (
	MaxDisplayNameLength = 64
	MaxEventNameLength   = 128
	MaxMetadataLength    = 512
)

// Params are the creation arguments of an instance.
type Params struct {
	Name          string        `json:"name"`
	Deposit       uint64        `json:"deposit"`
	Limit         uint64        `json:"limit"`
	CoolingPeriod time.Duration `json:"cooling_period"`
	MetadataRef   string        `json:"metadata_ref"`
}

// Logic is one behavior version of the event engine. Every method is a pure
// function over the given storage: it validates first and mutates only when
// every check passed, so a returned error means st is untouched.
//
// Callers serialize access to st.
type Logic interface {
	// Version identifies this behavior (e.g., "standard/v1").
	Version() string

	// Initialize sets up fresh storage. It fails if st was already initialized.
	Initialize(st *State, owner common.Address, p Params, now time.Time) error

	// Register adds caller as a participant paying exactly the deposit.
	Register(st *State, caller common.Address, displayName string, paid uint64) error

	// Attend marks every identity in ids as attended, or none of them.
	Attend(st *State, caller common.Address, ids []common.Address) error

	// Payback ends the event and fixes the per-attendee payout.
	Payback(st *State, caller common.Address, now time.Time) error

	// Cancel ends the event with a full refund for everyone.
	Cancel(st *State, caller common.Address, now time.Time) error

	// Withdraw marks caller paid and returns the amount owed.
	Withdraw(st *State, caller common.Address) (uint64, error)

	// Clear marks the instance cleared and returns the swept balance.
	Clear(st *State, caller common.Address, now time.Time) (uint64, error)

	SetLimit(st *State, caller common.Address, limit uint64) error
	Rename(st *State, caller common.Address, name string) error
	SetMetadataReference(st *State, caller common.Address, ref string) error

	// Grant and Revoke return the identities actually added or removed.
	Grant(st *State, caller common.Address, ids []common.Address) ([]common.Address, error)
	Revoke(st *State, caller common.Address, ids []common.Address) ([]common.Address, error)
}

// StandardLogic is the reference behavior.
//
// Metadata policy: only the owner may change the metadata reference, and only
// while the event is open with no registrations.
type StandardLogic struct {
	// MaxMetadataLength overrides the metadata bound when positive and below
	// the package cap.
	MaxMetadataLength int
}

var _ Logic = StandardLogic{}

// StandardVersion is the version string of StandardLogic.
const StandardVersion = "standard/v1"

// Version implements Logic.
func (StandardLogic) Version() string { return StandardVersion }

// Initialize implements Logic.
func (l StandardLogic) Initialize(st *State, owner common.Address, p Params, now time.Time) error {
	if st.Initialized() {
		return rverrors.InvalidState(OpInitialize, "storage is already initialized")
	}
	if owner == (common.Address{}) {
		return rverrors.InvalidArgument(OpInitialize, "owner must not be the zero address")
	}
	if p.Deposit == 0 {
		return rverrors.InvalidAmount(OpInitialize, "deposit must be positive")
	}
	if p.CoolingPeriod < 0 {
		return rverrors.InvalidArgument(OpInitialize, "cooling period must not be negative")
	}
	name, err := checkText(OpInitialize, "event name", p.Name, MaxEventNameLength)
	if err != nil {
		return err
	}
	if err := l.checkMetadata(OpInitialize, p.MetadataRef); err != nil {
		return err
	}

	registry, err := access.New(owner)
	if err != nil {
		return err
	}

	*st = State{
		InitVersion:   1,
		Access:        registry,
		Name:          name,
		Deposit:       p.Deposit,
		Limit:         p.Limit,
		CoolingPeriod: p.CoolingPeriod,
		MetadataRef:   p.MetadataRef,
		CreatedAt:     now,
		Participants:  []Participant{},
	}
	return nil
}

// Register implements Logic.
func (StandardLogic) Register(st *State, caller common.Address, displayName string, paid uint64) error {
	if caller == (common.Address{}) {
		return rverrors.InvalidArgument(OpRegister, "participant must not be the zero address")
	}
	if st.Ended {
		return rverrors.InvalidState(OpRegister, "event has ended")
	}
	if st.RegisteredCount >= st.Limit {
		return rverrors.CapacityExceeded(OpRegister, "participant limit reached")
	}
	if _, ok := st.Participant(caller); ok {
		return rverrors.AlreadyExists(OpRegister, "already registered")
	}
	if paid != st.Deposit {
		return rverrors.Newf(rverrors.KindInvalidAmount, OpRegister, "payment %d does not match deposit %d", paid, st.Deposit)
	}
	if st.Held > math.MaxUint64-st.Deposit {
		return rverrors.InvalidAmount(OpRegister, "held balance would overflow")
	}
	name, err := checkText(OpRegister, "display name", displayName, MaxDisplayNameLength)
	if err != nil {
		return err
	}

	st.AddParticipant(Participant{Address: caller, DisplayName: name})
	st.RegisteredCount++
	st.Held += st.Deposit
	return nil
}

// Attend implements Logic.
func (StandardLogic) Attend(st *State, caller common.Address, ids []common.Address) error {
	if !st.IsAdmin(caller) {
		return rverrors.Unauthorized(OpAttend, "only the owner or an admin can mark attendance")
	}
	if st.Ended {
		return rverrors.InvalidState(OpAttend, "event has ended")
	}
	if len(ids) == 0 {
		return rverrors.InvalidArgument(OpAttend, "attendance batch is empty")
	}

	// Validate the whole batch before touching anything
	seen := make(map[common.Address]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return rverrors.Newf(rverrors.KindAlreadyExists, OpAttend, "%s appears twice in the batch", id.Hex())
		}
		seen[id] = struct{}{}

		p, ok := st.Participant(id)
		if !ok {
			return rverrors.Newf(rverrors.KindNotFound, OpAttend, "%s is not registered", id.Hex())
		}
		if p.Attended {
			return rverrors.Newf(rverrors.KindAlreadyExists, OpAttend, "%s is already marked attended", id.Hex())
		}
	}

	for _, id := range ids {
		p, _ := st.Participant(id)
		p.Attended = true
	}
	st.AttendedCount += uint64(len(ids))
	return nil
}

// Payback implements Logic. The floor-division remainder stays in the held
// balance for the owner to clear.
func (StandardLogic) Payback(st *State, caller common.Address, now time.Time) error {
	if !st.IsOwner(caller) {
		return rverrors.Unauthorized(OpPayback, "only the owner can pay back")
	}
	if st.Ended {
		return rverrors.InvalidState(OpPayback, "event has already ended")
	}

	var payout uint64
	if st.AttendedCount > 0 {
		payout = st.Held / st.AttendedCount
	}
	st.Payout = payout
	st.Ended = true
	st.EndedAt = now
	return nil
}

// Cancel implements Logic.
func (StandardLogic) Cancel(st *State, caller common.Address, now time.Time) error {
	if !st.IsOwner(caller) {
		return rverrors.Unauthorized(OpCancel, "only the owner can cancel")
	}
	if st.Ended {
		return rverrors.InvalidState(OpCancel, "event has already ended")
	}

	st.Payout = st.Deposit
	st.Ended = true
	st.Cancelled = true
	st.EndedAt = now
	return nil
}

// Withdraw implements Logic.
func (StandardLogic) Withdraw(st *State, caller common.Address) (uint64, error) {
	if !st.Ended {
		return 0, rverrors.InvalidState(OpWithdraw, "event has not ended")
	}
	if st.Cleared {
		return 0, rverrors.InvalidState(OpWithdraw, "remaining funds were cleared")
	}
	p, ok := st.Participant(caller)
	if !ok {
		return 0, rverrors.NotFound(OpWithdraw, "caller is not registered")
	}
	if p.Paid {
		return 0, rverrors.InvalidState(OpWithdraw, "already withdrawn")
	}
	if !st.Cancelled && !p.Attended {
		return 0, rverrors.InvalidState(OpWithdraw, "only attendees are paid back")
	}
	if st.Held < st.Payout {
		return 0, rverrors.Internal(OpWithdraw, "held balance below payout", nil)
	}

	p.Paid = true
	st.Held -= st.Payout
	return st.Payout, nil
}

// Clear implements Logic.
func (StandardLogic) Clear(st *State, caller common.Address, now time.Time) (uint64, error) {
	if !st.IsOwner(caller) {
		return 0, rverrors.Unauthorized(OpClear, "only the owner can clear")
	}
	if !st.Ended {
		return 0, rverrors.InvalidState(OpClear, "event has not ended")
	}
	if st.Cleared {
		return 0, rverrors.InvalidState(OpClear, "already cleared")
	}
	if now.Before(st.EndedAt.Add(st.CoolingPeriod)) {
		return 0, rverrors.Newf(rverrors.KindTooEarly, OpClear, "cooling period ends at %s", st.EndedAt.Add(st.CoolingPeriod).Format(time.RFC3339))
	}

	amount := st.Held
	st.Held = 0
	st.Cleared = true
	return amount, nil
}

// SetLimit implements Logic. A limit below the registered count only blocks
// further registrations.
func (StandardLogic) SetLimit(st *State, caller common.Address, limit uint64) error {
	if !st.IsOwner(caller) {
		return rverrors.Unauthorized(OpSetLimit, "only the owner can change the limit")
	}
	st.Limit = limit
	return nil
}

// Rename implements Logic.
func (StandardLogic) Rename(st *State, caller common.Address, name string) error {
	if !st.IsOwner(caller) {
		return rverrors.Unauthorized(OpRename, "only the owner can rename")
	}
	if st.RegisteredCount > 0 {
		return rverrors.InvalidState(OpRename, "cannot rename after registrations")
	}
	clean, err := checkText(OpRename, "event name", name, MaxEventNameLength)
	if err != nil {
		return err
	}
	st.Name = clean
	return nil
}

// SetMetadataReference implements Logic.
func (l StandardLogic) SetMetadataReference(st *State, caller common.Address, ref string) error {
	if !st.IsOwner(caller) {
		return rverrors.Unauthorized(OpSetMetadata, "only the owner can change metadata")
	}
	if st.Ended {
		return rverrors.InvalidState(OpSetMetadata, "event has ended")
	}
	if st.RegisteredCount > 0 {
		return rverrors.InvalidState(OpSetMetadata, "cannot change metadata after registrations")
	}
	if err := l.checkMetadata(OpSetMetadata, ref); err != nil {
		return err
	}
	st.MetadataRef = ref
	return nil
}

// Grant implements Logic.
func (StandardLogic) Grant(st *State, caller common.Address, ids []common.Address) ([]common.Address, error) {
	if st.Access == nil {
		return nil, rverrors.InvalidState(OpGrant, "storage is not initialized")
	}
	return st.Access.Grant(caller, ids)
}

// Revoke implements Logic.
func (StandardLogic) Revoke(st *State, caller common.Address, ids []common.Address) ([]common.Address, error) {
	if st.Access == nil {
		return nil, rverrors.InvalidState(OpRevoke, "storage is not initialized")
	}
	return st.Access.Revoke(caller, ids)
}

func (l StandardLogic) metadataLimit() int {
	if l.MaxMetadataLength > 0 && l.MaxMetadataLength < MaxMetadataLength {
		return l.MaxMetadataLength
	}
	return MaxMetadataLength
}

func (l StandardLogic) checkMetadata(op, ref string) error {
	if limit := l.metadataLimit(); len(ref) > limit {
		return rverrors.Newf(rverrors.KindInvalidArgument, op, "metadata reference exceeds %d bytes", limit)
	}
	if !utf8.ValidString(ref) {
		return rverrors.InvalidArgument(op, "metadata reference is not valid UTF-8")
	}
	for _, r := range ref {
		if unicode.IsControl(r) {
			return rverrors.InvalidArgument(op, "metadata reference contains control characters")
		}
	}
	return nil
}

// checkText trims s and enforces 1..limit bytes of printable UTF-8.
func checkText(op, field, s string, limit int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", rverrors.Newf(rverrors.KindInvalidArgument, op, "%s must not be empty", field)
	}
	if len(s) > limit {
		return "", rverrors.Newf(rverrors.KindInvalidArgument, op, "%s exceeds %d bytes", field, limit)
	}
	if !utf8.ValidString(s) {
		return "", rverrors.Newf(rverrors.KindInvalidArgument, op, "%s is not valid UTF-8", field)
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", rverrors.Newf(rverrors.KindInvalidArgument, op, "%s contains control characters", field)
		}
	}
	return s, nil
}
