package event

import "github.com/ethereum/go-ethereum/common"

// Type identifies the kind of transition a notification reports.
type Type string

// Factory events.
const (
	// TypeInstanceCreated records the creation of a new instance.
	TypeInstanceCreated Type = "instance.created"
	// TypeImplementationUpgraded records a swap of the shared implementation.
	TypeImplementationUpgraded Type = "implementation.upgraded"
)

// Participant events.
const (
	// TypeRegistered records a paid registration.
	TypeRegistered Type = "participant.registered"
	// TypeAttendanceMarked records one committed attendance batch.
	TypeAttendanceMarked Type = "attendance.marked"
	// TypeWithdrew records a payout to a participant.
	TypeWithdrew Type = "participant.withdrew"
)

// Lifecycle events.
const (
	// TypePaidBack records settlement with payouts to attendees.
	TypePaidBack Type = "event.paid_back"
	// TypeCancelled records cancellation with full refunds.
	TypeCancelled Type = "event.cancelled"
	// TypeCleared records the owner's sweep of the remaining balance.
	TypeCleared Type = "event.cleared"
	// TypeLimitChanged records a new participant limit.
	TypeLimitChanged Type = "event.limit_changed"
	// TypeRenamed records a new display name.
	TypeRenamed Type = "event.renamed"
	// TypeMetadataChanged records a new metadata reference.
	TypeMetadataChanged Type = "event.metadata_changed"
)

// Authorization events.
const (
	// TypeAdminGranted records one newly granted admin.
	TypeAdminGranted Type = "admin.granted"
	// TypeAdminRevoked records one revoked admin.
	TypeAdminRevoked Type = "admin.revoked"
)

// InstanceCreated is the payload of TypeInstanceCreated.
type InstanceCreated struct {
	Handle        common.Address `json:"handle"`
	Owner         common.Address `json:"owner"`
	Name          string         `json:"name"`
	Deposit       uint64         `json:"deposit"`
	Limit         uint64         `json:"limit"`
	CoolingPeriod int64          `json:"cooling_period_seconds"`
	Deterministic bool           `json:"deterministic"`
	Salt          common.Hash    `json:"salt,omitempty"`
}

// ImplementationUpgraded is the payload of TypeImplementationUpgraded.
type ImplementationUpgraded struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// Registered is the payload of TypeRegistered.
type Registered struct {
	Participant common.Address `json:"participant"`
	DisplayName string         `json:"display_name"`
	Deposit     uint64         `json:"deposit"`
}

// AttendanceMarked is the payload of TypeAttendanceMarked.
type AttendanceMarked struct {
	Participants []common.Address `json:"participants"`
	Attended     uint64           `json:"attended_total"`
}

// Withdrew is the payload of TypeWithdrew.
type Withdrew struct {
	Participant common.Address `json:"participant"`
	Amount      uint64         `json:"amount"`
}

// Settled is the payload of TypePaidBack and TypeCancelled.
type Settled struct {
	Payout     uint64 `json:"payout"`
	Registered uint64 `json:"registered"`
	Attended   uint64 `json:"attended"`
	Held       uint64 `json:"held"`
}

// Cleared is the payload of TypeCleared.
type Cleared struct {
	Recipient common.Address `json:"recipient"`
	Amount    uint64         `json:"amount"`
}

// LimitChanged is the payload of TypeLimitChanged.
type LimitChanged struct {
	Limit uint64 `json:"limit"`
}

// Renamed is the payload of TypeRenamed.
type Renamed struct {
	Name string `json:"name"`
}

// MetadataChanged is the payload of TypeMetadataChanged.
type MetadataChanged struct {
	Reference string `json:"reference"`
}

// AdminChanged is the payload of TypeAdminGranted and TypeAdminRevoked.
type AdminChanged struct {
	Admin common.Address `json:"admin"`
}
