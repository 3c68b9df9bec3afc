package interfaces

import "time"

// EventType names an event raised by the orchestrator.
type EventType string

const (
	EventSharesDistributed EventType = "sharesDistributed"
	EventRecoveryInitiated EventType = "recoveryInitiated"
	EventGuardianApproved  EventType = "guardianApproved"
	EventRecoveryCompleted EventType = "recoveryCompleted"
	EventRecoveryFailed    EventType = "recoveryFailed"
	EventRecoveryExpired   EventType = "recoveryExpired"
	EventGuardianAdded     EventType = "guardianAdded"
	EventGuardianRemoved   EventType = "guardianRemoved"
	EventSharesRevoked     EventType = "sharesRevoked"
)

// Event is a flat record of something that happened in the core. Only the
// fields relevant to Type are populated.
type Event struct {
	Type       EventType `json:"type"`
	At         time.Time `json:"at"`
	UserID     UserID    `json:"user_id,omitempty"`
	RecoveryID string    `json:"recovery_id,omitempty"`
	GuardianID string    `json:"guardian_id,omitempty"`

	GuardianCount     int    `json:"guardian_count,omitempty"`
	ShareCount        int    `json:"share_count,omitempty"`
	ApprovedCount     int    `json:"approved_count,omitempty"`
	RequiredThreshold int    `json:"required_threshold,omitempty"`
	RevokedShareCount int    `json:"revoked_share_count,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// EventSink receives events. Emit must not block the caller for long; the
// orchestrator calls it while holding per-user or per-session locks.
type EventSink interface {
	Emit(Event)
}
