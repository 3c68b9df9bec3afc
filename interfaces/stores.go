package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrLedgerEntryNotFound is returned when a share id is not in the ledger.
var ErrLedgerEntryNotFound = errors.New("ledger entry not found")

// ConfigurationStore persists one RecoveryConfiguration per user.
type ConfigurationStore interface {
	// GetConfiguration returns ErrNoConfiguration for unknown users.
	GetConfiguration(ctx context.Context, userID UserID) (RecoveryConfiguration, error)

	// PutConfiguration creates or replaces the configuration atomically.
	PutConfiguration(ctx context.Context, cfg RecoveryConfiguration) error
}

// SessionStore persists recovery sessions. Implementations never receive
// secret material; see RecoverySession.
type SessionStore interface {
	// CreateSession stores a new session.
	CreateSession(ctx context.Context, session RecoverySession) error

	// GetSession returns ErrNotFound for unknown ids.
	GetSession(ctx context.Context, recoveryID string) (RecoverySession, error)

	// UpdateSession replaces a stored session as a single unit.
	UpdateSession(ctx context.Context, session RecoverySession) error

	// ListSessions returns the sessions of userID, or all sessions when userID is empty.
	ListSessions(ctx context.Context, userID UserID) ([]RecoverySession, error)

	// DeleteSession removes a session. Deleting an unknown id is not an error.
	DeleteSession(ctx context.Context, recoveryID string) error
}

// ShareLedger tracks every distributed share.
type ShareLedger interface {
	// RecordShares appends entries as one batch: all of them are recorded or none.
	RecordShares(ctx context.Context, entries []LedgerEntry) error

	// GetShare returns ErrLedgerEntryNotFound for unknown ids.
	GetShare(ctx context.Context, shareID string) (LedgerEntry, error)

	// ListShares returns every entry owned by userID, active and revoked.
	ListShares(ctx context.Context, userID UserID) ([]LedgerEntry, error)

	// RevokeShares marks the given active shares revoked and returns how many changed.
	RevokeShares(ctx context.Context, shareIDs []string, at time.Time) (int, error)

	// ReplaceShares records entries and revokes revokeIDs as one unit, so a
	// redistribution never leaves two epochs active or none. It returns how
	// many shares were revoked.
	ReplaceShares(ctx context.Context, entries []LedgerEntry, revokeIDs []string, at time.Time) (int, error)
}
