package interfaces

import (
	"errors"
	"fmt"
)

// Configuration errors. Always surfaced synchronously, never retried.
var (
	// ErrTooManyGuardians is returned when a guardian list exceeds the per-user maximum.
	ErrTooManyGuardians = errors.New("configuration: too many guardians")

	// ErrNoConfiguration is returned when an operation needs a recovery configuration
	// and the user has none.
	ErrNoConfiguration = errors.New("configuration: no recovery configuration")

	// ErrInvalidConfiguration is returned for threshold/total/guardian inconsistencies.
	ErrInvalidConfiguration = errors.New("configuration: invalid recovery configuration")

	// ErrConfigurationExists is returned when initializing a user that is already configured.
	ErrConfigurationExists = errors.New("configuration: already initialized")
)

// Recovery-session errors. Each one is distinct and caller-visible.
var (
	ErrNotFound             = errors.New("recovery: session not found")
	ErrWrongState           = errors.New("recovery: session in wrong state")
	ErrExpired              = errors.New("recovery: session expired")
	ErrUnauthorizedGuardian = errors.New("recovery: guardian not requested for this session")
	ErrInvalidSignature     = errors.New("recovery: invalid guardian signature")
	ErrShareUnavailable     = errors.New("recovery: guardian share unavailable")
	ErrAlreadyInProgress    = errors.New("recovery: another recovery is in progress")

	// ErrKeyUnavailable is returned when claiming a key that was erased or never reconstructed.
	ErrKeyUnavailable = errors.New("recovery: reconstructed key unavailable")

	// ErrUnauthorizedDevice is returned when a device other than the initiator claims the key.
	ErrUnauthorizedDevice = errors.New("recovery: device did not initiate this recovery")
)

// ErrReconstructionFailed marks a quorum whose shares did not combine. The
// session is failed and never retried.
var ErrReconstructionFailed = errors.New("recovery: key reconstruction failed")

// Guardian lifecycle errors.
var (
	ErrGuardianAlreadyPresent = errors.New("guardian: already present")
	ErrGuardianNotFound       = errors.New("guardian: not found")
	ErrGuardianLimitReached   = errors.New("guardian: limit reached")
)

// Collaborator errors.
var (
	// ErrUnknownGuardianKey is returned by directories and verifiers for unknown guardians.
	ErrUnknownGuardianKey = errors.New("no key registered for guardian")

	// ErrEnvelopeNotFound is returned by GuardianStorage when no envelope is stored.
	ErrEnvelopeNotFound = errors.New("envelope not found")

	// ErrDecryptionFailed is returned when an envelope does not authenticate.
	ErrDecryptionFailed = errors.New("envelope decryption failed")
)

// AlreadyInProgressError carries the id of the live session that blocked a new
// initiation. It matches ErrAlreadyInProgress with errors.Is.
type AlreadyInProgressError struct {
	RecoveryID string
}

func (e *AlreadyInProgressError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAlreadyInProgress.Error(), e.RecoveryID)
}

func (e *AlreadyInProgressError) Is(target error) bool {
	return target == ErrAlreadyInProgress
}
