package interfaces

import (
	"context"
)

// SecretSharer is the threshold secret-sharing primitive.
//
// Split returns exactly totalShares shares with Index, Value, Threshold and
// TotalShares populated. Any threshold distinct shares reconstruct the secret.
// Reconstruct fails deterministically with fewer than threshold distinct shares.
type SecretSharer interface {
	Split(secret []byte, threshold, totalShares int) ([]Share, error)
	Reconstruct(shares []Share) ([]byte, error)
}

// GuardianKeyDirectory resolves a guardian's long-term X25519 public key.
// Used only by the guardian encryption channel.
type GuardianKeyDirectory interface {
	PublicKeyOf(ctx context.Context, guardianID GuardianID) ([]byte, error)
}

// DeviceKeyService provides the per-device symmetric key and identity.
type DeviceKeyService interface {
	EncryptionKeyFor(ctx context.Context, userID UserID) ([]byte, error)
	DeviceID() string
}

// GuardianStorage keeps guardian envelopes. Store is an idempotent upsert keyed
// by (guardian, share id); Fetch returns the most recently stored envelope for
// the (guardian, owner) pair or ErrEnvelopeNotFound.
type GuardianStorage interface {
	Store(ctx context.Context, guardianID GuardianID, envelope EncryptedShareEnvelope, ownerUserID UserID) error
	Fetch(ctx context.Context, guardianID GuardianID, ownerUserID UserID) (EncryptedShareEnvelope, error)

	// FetchShare returns the envelope stored under exactly (guardian, share id).
	// The latest envelope is not necessarily the active one: a distribution
	// that fails after delivery leaves newer envelopes nobody recorded.
	FetchShare(ctx context.Context, guardianID GuardianID, shareID string) (EncryptedShareEnvelope, error)
}

// NotificationService tells guardians about a new recovery session. Delivery is
// best-effort; errors are logged by the caller and never fail an initiation.
type NotificationService interface {
	NotifyGuardians(ctx context.Context, session RecoverySession) error
}

// SignatureVerifier checks a guardian's approval signature for a session.
type SignatureVerifier interface {
	Verify(ctx context.Context, session RecoverySession, guardianID GuardianID, signature []byte) bool
}

// ShareRetriever returns a guardian's decrypted share for a user, or fails.
type ShareRetriever interface {
	FetchGuardianShare(ctx context.Context, guardianID GuardianID, userID UserID) (Share, error)
}

// BackupDestination persists keyspace-backup envelopes and returns a location
// string recorded in the share ledger.
type BackupDestination interface {
	StoreBackup(ctx context.Context, envelope EncryptedShareEnvelope) (string, error)
}
