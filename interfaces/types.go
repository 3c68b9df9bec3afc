package interfaces

import (
	"slices"
	"time"
)

// UserID identifies the owner of a recoverable key.
type UserID = string

// GuardianID identifies a trusted party holding one share on a user's behalf.
type GuardianID = string

// BackupOptions are the optional non-guardian destinations for shares.
type BackupOptions struct {
	// KeyspaceBackup sends one share to the keyspace backup location.
	KeyspaceBackup bool `json:"keyspace_backup"`
	// EmergencyPrintout produces one share in printable/QR form.
	EmergencyPrintout bool `json:"emergency_printout"`
	// ColdStorage marks that the user keeps an offline copy of the printout.
	// It does not consume a share on its own.
	ColdStorage bool `json:"cold_storage"`
}

// RecoveryConfiguration is the per-user recovery policy.
type RecoveryConfiguration struct {
	UserID           UserID        `json:"user_id"`
	Threshold        int           `json:"threshold"`
	TotalShares      int           `json:"total_shares"`
	GuardianIDs      []GuardianID  `json:"guardian_ids"`
	DeviceShardCount int           `json:"device_shard_count"`
	BackupOptions    BackupOptions `json:"backup_options"`
	CreatedAt        time.Time     `json:"created_at"`
	LastUpdatedAt    time.Time     `json:"last_updated_at"`
	// LastDistributedAt is zero until shares were distributed at least once.
	LastDistributedAt time.Time `json:"last_distributed_at"`
	// Epoch increments on every distribution; shares of older epochs are revoked.
	Epoch int `json:"epoch"`
}

// Clone returns a deep copy so callers never share the guardian slice.
func (c RecoveryConfiguration) Clone() RecoveryConfiguration {
	c.GuardianIDs = slices.Clone(c.GuardianIDs)
	return c
}

// HasGuardian reports whether guardianID is part of the configuration.
func (c RecoveryConfiguration) HasGuardian(guardianID GuardianID) bool {
	return slices.Contains(c.GuardianIDs, guardianID)
}

// ShareStatus is the ledger status of a distributed share.
type ShareStatus string

const (
	ShareActive  ShareStatus = "active"
	ShareRevoked ShareStatus = "revoked"
)

// Share is one fragment of a split secret. Value holds the raw share bytes and
// must only exist in cleartext transiently; it is never logged nor persisted
// outside an encryption envelope.
type Share struct {
	ID          string      `json:"share_id"`
	Index       int         `json:"index"`
	Value       []byte      `json:"value"`
	Threshold   int         `json:"threshold"`
	TotalShares int         `json:"total_shares"`
	OwnerUserID UserID      `json:"user_id"`
	Status      ShareStatus `json:"status"`
	AssignedAt  time.Time   `json:"assigned_at"`
}

// Wipe zeroes the share value in place.
func (s *Share) Wipe() {
	for i := range s.Value {
		s.Value[i] = 0
	}
	s.Value = nil
}

// Channel is the destination type of an envelope.
type Channel string

const (
	ChannelGuardian       Channel = "guardian"
	ChannelDevice         Channel = "device"
	ChannelKeyspaceBackup Channel = "keyspace-backup"
	ChannelPrintout       Channel = "printout"
)

// EncryptedShareEnvelope is an immutable, channel-bound container for a single share.
type EncryptedShareEnvelope struct {
	ShareID       string  `json:"share_id"`
	UserID        UserID  `json:"user_id"`
	Channel       Channel `json:"channel"`
	DestinationID string  `json:"destination_id"`
	Nonce         []byte  `json:"nonce"`
	Ciphertext    []byte  `json:"ciphertext"`
	AuthTag       []byte  `json:"auth_tag"`
	// EphemeralPublicKey is set for the guardian channel only.
	EphemeralPublicKey []byte    `json:"ephemeral_public_key,omitempty"`
	EncryptedAt        time.Time `json:"encrypted_at"`
}

// LedgerEntry tracks the identity, owner and status of one distributed share.
type LedgerEntry struct {
	ShareID       string  `json:"share_id"`
	UserID        UserID  `json:"user_id"`
	Index         int     `json:"index"`
	Epoch         int     `json:"epoch"`
	Channel       Channel `json:"channel"`
	DestinationID string  `json:"destination_id"`
	// Location is the backup content id for the keyspace channel.
	Location   string      `json:"location,omitempty"`
	Status     ShareStatus `json:"status"`
	AssignedAt time.Time   `json:"assigned_at"`
	RevokedAt  *time.Time  `json:"revoked_at,omitempty"`
}

// SessionStatus is the state of a recovery session.
type SessionStatus string

const (
	StatusPendingApproval SessionStatus = "pending_guardian_approval"
	StatusReconstructing  SessionStatus = "reconstructing_key"
	StatusCompleted       SessionStatus = "completed"
	StatusFailed          SessionStatus = "failed"
	StatusExpired         SessionStatus = "expired"
)

// Terminal reports whether no further transition is allowed out of s.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// GuardianApproval records one counted guardian approval.
type GuardianApproval struct {
	GuardianID GuardianID `json:"guardian_id"`
	ShareID    string     `json:"share_id"`
	ApprovedAt time.Time  `json:"approved_at"`
	Signature  []byte     `json:"signature"`
}

// RecoverySession is one end-to-end attempt to reassemble a user's key.
//
// Collected shares and the reconstructed key are deliberately absent: they are
// held by the orchestrator in locked memory and never reach a SessionStore.
type RecoverySession struct {
	RecoveryID         string             `json:"recovery_id"`
	UserID             UserID             `json:"user_id"`
	InitiatedBy        string             `json:"initiated_by"`
	Status             SessionStatus      `json:"status"`
	RequiredThreshold  int                `json:"required_threshold"`
	GuardiansRequested []GuardianID       `json:"guardians_requested"`
	GuardiansApproved  []GuardianApproval `json:"guardians_approved"`
	CreatedAt          time.Time          `json:"created_at"`
	ExpiresAt          time.Time          `json:"expires_at"`
	// FinishedAt is set when the session reaches a terminal state.
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	// KeyAvailable is true while the reconstructed key awaits claim or erasure.
	KeyAvailable bool `json:"key_available"`
}

// Clone returns a deep copy of the session.
func (s RecoverySession) Clone() RecoverySession {
	s.GuardiansRequested = slices.Clone(s.GuardiansRequested)
	s.GuardiansApproved = slices.Clone(s.GuardiansApproved)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}
	return s
}

// HasApproved reports whether guardianID already has a counted approval.
func (s RecoverySession) HasApproved(guardianID GuardianID) bool {
	for _, a := range s.GuardiansApproved {
		if a.GuardianID == guardianID {
			return true
		}
	}
	return false
}

// WasRequested reports whether guardianID is part of the initiation snapshot.
func (s RecoverySession) WasRequested(guardianID GuardianID) bool {
	return slices.Contains(s.GuardiansRequested, guardianID)
}
