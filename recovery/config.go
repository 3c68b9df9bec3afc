package recovery

import (
	"errors"
	"time"
)

// Config holds the orchestrator's policy knobs.
type Config struct {
	// MaxGuardiansPerUser bounds RecoveryConfiguration.GuardianIDs.
	MaxGuardiansPerUser int
	// ApprovalTimeout is how long a session waits for its quorum.
	ApprovalTimeout time.Duration
	// KeyErasureDelay is how long a reconstructed key stays claimable.
	KeyErasureDelay time.Duration
	// AuditRetention is how long terminal sessions are kept before purge.
	AuditRetention time.Duration
	// NotifyTimeout bounds each asynchronous guardian notification.
	NotifyTimeout time.Duration
	// StaleDistributionAge is the age after which audits suggest rotation.
	StaleDistributionAge time.Duration
	// Now is the clock. Tests replace it.
	Now func() time.Time
}

// DefaultConfig returns the production defaults: ten guardians, a 72 hour
// approval window and a 15 minute claim window.
func DefaultConfig() Config {
	return Config{
		MaxGuardiansPerUser:  10,
		ApprovalTimeout:      72 * time.Hour,
		KeyErasureDelay:      15 * time.Minute,
		AuditRetention:       30 * 24 * time.Hour,
		NotifyTimeout:        10 * time.Second,
		StaleDistributionAge: 365 * 24 * time.Hour,
		Now:                  time.Now,
	}
}

// Validate rejects non-positive timeouts and a retention shorter than the
// erasure delay.
func (c Config) Validate() error {
	switch {
	case c.MaxGuardiansPerUser < 1:
		return errors.New("max guardians per user must be positive")
	case c.ApprovalTimeout <= 0:
		return errors.New("approval timeout must be positive")
	case c.KeyErasureDelay <= 0:
		return errors.New("key erasure delay must be positive")
	case c.AuditRetention < c.KeyErasureDelay:
		return errors.New("audit retention must not be shorter than key erasure delay")
	case c.NotifyTimeout <= 0:
		return errors.New("notify timeout must be positive")
	case c.Now == nil:
		return errors.New("clock must be set")
	}
	return nil
}
