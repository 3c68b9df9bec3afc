package recovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/guardian-recovery/cryptoutils"
	"github.com/ruteri/guardian-recovery/envelope"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// Failure reasons recorded on sessions.
const (
	ReasonCancelled   = "cancelled"
	ReasonInterrupted = "interrupted during reconstruction"
)

// InitiateResult is returned by InitiateRecovery.
type InitiateResult struct {
	RecoveryID         string                  `json:"recovery_id"`
	RequiredApprovals  int                     `json:"required_approvals"`
	GuardiansRequested []interfaces.GuardianID `json:"guardians_requested"`
	ExpiresAt          time.Time               `json:"expires_at"`
}

// ApprovalResult describes the outcome of an accepted approval. Counted is
// false for repeated approvals and for approvals of completed sessions.
type ApprovalResult struct {
	RecoveryID        string                   `json:"recovery_id"`
	GuardianID        interfaces.GuardianID    `json:"guardian_id"`
	Counted           bool                     `json:"counted"`
	ApprovedCount     int                      `json:"approved_count"`
	RequiredThreshold int                      `json:"required_threshold"`
	Status            interfaces.SessionStatus `json:"status"`
}

func resultOf(session interfaces.RecoverySession, guardianID interfaces.GuardianID, counted bool) ApprovalResult {
	return ApprovalResult{
		RecoveryID:        session.RecoveryID,
		GuardianID:        guardianID,
		Counted:           counted,
		ApprovedCount:     len(session.GuardiansApproved),
		RequiredThreshold: session.RequiredThreshold,
		Status:            session.Status,
	}
}

// InitiateRecovery opens a recovery session for userID on behalf of
// requestingDevice and notifies the configured guardians in the background.
// At most one non-terminal session exists per user.
func (o *Orchestrator) InitiateRecovery(ctx context.Context, userID interfaces.UserID, requestingDevice string) (InitiateResult, error) {
	if requestingDevice == "" {
		return InitiateResult{}, errors.New("requesting device is required")
	}

	unlock := o.userLocks.Lock(userID)
	defer unlock()

	cfg, err := o.deps.Configurations.GetConfiguration(ctx, userID)
	if err != nil {
		return InitiateResult{}, err
	}

	live, err := o.liveSession(ctx, userID)
	if err != nil {
		return InitiateResult{}, err
	}
	if live != "" {
		return InitiateResult{}, &interfaces.AlreadyInProgressError{RecoveryID: live}
	}

	now := o.now()
	session := interfaces.RecoverySession{
		RecoveryID:         uuid.NewString(),
		UserID:             userID,
		InitiatedBy:        requestingDevice,
		Status:             interfaces.StatusPendingApproval,
		RequiredThreshold:  cfg.Threshold,
		GuardiansRequested: slices.Clone(cfg.GuardianIDs),
		GuardiansApproved:  []interfaces.GuardianApproval{},
		CreatedAt:          now,
		ExpiresAt:          now.Add(o.cfg.ApprovalTimeout),
	}
	if err := o.deps.Sessions.CreateSession(ctx, session); err != nil {
		return InitiateResult{}, fmt.Errorf("storing session: %w", err)
	}

	o.log.Info("recovery initiated", "recoveryID", session.RecoveryID, "userID", userID, "device", requestingDevice, "guardians", len(session.GuardiansRequested), "threshold", session.RequiredThreshold)
	o.emit(interfaces.Event{
		Type:              interfaces.EventRecoveryInitiated,
		At:                now,
		UserID:            userID,
		RecoveryID:        session.RecoveryID,
		GuardianCount:     len(session.GuardiansRequested),
		RequiredThreshold: session.RequiredThreshold,
	})
	o.notifyAsync(session.Clone())

	return InitiateResult{
		RecoveryID:         session.RecoveryID,
		RequiredApprovals:  session.RequiredThreshold,
		GuardiansRequested: slices.Clone(session.GuardiansRequested),
		ExpiresAt:          session.ExpiresAt,
	}, nil
}

// liveSession returns the id of the user's non-terminal session, expiring
// stale pending ones on the way. Callers hold the user lock.
func (o *Orchestrator) liveSession(ctx context.Context, userID interfaces.UserID) (string, error) {
	sessions, err := o.deps.Sessions.ListSessions(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("listing sessions: %w", err)
	}
	for _, s := range sessions {
		if s.Status.Terminal() {
			continue
		}
		session, err := o.loadSession(ctx, s.RecoveryID)
		if errors.Is(err, interfaces.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if !session.Status.Terminal() {
			return session.RecoveryID, nil
		}
	}
	return "", nil
}

// loadSession reads a session under its lock, applying lazy expiry.
func (o *Orchestrator) loadSession(ctx context.Context, recoveryID string) (interfaces.RecoverySession, error) {
	unlock := o.sessionLocks.Lock(recoveryID)
	defer unlock()

	session, err := o.deps.Sessions.GetSession(ctx, recoveryID)
	if err != nil {
		return interfaces.RecoverySession{}, err
	}
	if err := o.expireIfDue(ctx, &session, o.now()); err != nil {
		return interfaces.RecoverySession{}, err
	}
	if err := o.reconcileApprovals(ctx, &session); err != nil {
		return interfaces.RecoverySession{}, err
	}
	return session, nil
}

// reconcileApprovals drops approvals of a pending session whose shares are
// not held in memory, as after a process restart. Those guardians have to
// approve again. Callers hold the session lock.
func (o *Orchestrator) reconcileApprovals(ctx context.Context, session *interfaces.RecoverySession) error {
	if session.Status != interfaces.StatusPendingApproval || len(session.GuardiansApproved) == 0 {
		return nil
	}
	kept := make([]interfaces.GuardianApproval, 0, len(session.GuardiansApproved))
	var lost []interfaces.GuardianID
	for _, a := range session.GuardiansApproved {
		if o.material.holds(session.RecoveryID, a.ShareID) {
			kept = append(kept, a)
		} else {
			lost = append(lost, a.GuardianID)
		}
	}
	if len(lost) == 0 {
		return nil
	}

	session.GuardiansApproved = kept
	if err := o.deps.Sessions.UpdateSession(ctx, *session); err != nil {
		return fmt.Errorf("resetting lost approvals: %w", err)
	}
	o.log.Warn("approvals lost with process restart, guardians must approve again", "recoveryID", session.RecoveryID, "userID", session.UserID, "guardians", lost, "approved", len(kept), "threshold", session.RequiredThreshold)
	return nil
}

// expireIfDue marks a pending session past its deadline expired. Callers hold
// the session lock.
func (o *Orchestrator) expireIfDue(ctx context.Context, session *interfaces.RecoverySession, now time.Time) error {
	if session.Status != interfaces.StatusPendingApproval || !now.After(session.ExpiresAt) {
		return nil
	}

	session.Status = interfaces.StatusExpired
	finished := now
	session.FinishedAt = &finished
	if err := o.deps.Sessions.UpdateSession(ctx, *session); err != nil {
		return fmt.Errorf("expiring session: %w", err)
	}
	o.material.dropShares(session.RecoveryID)

	o.log.Info("recovery expired", "recoveryID", session.RecoveryID, "userID", session.UserID, "approved", len(session.GuardiansApproved), "threshold", session.RequiredThreshold)
	o.emit(interfaces.Event{
		Type:              interfaces.EventRecoveryExpired,
		At:                now,
		UserID:            session.UserID,
		RecoveryID:        session.RecoveryID,
		ApprovedCount:     len(session.GuardiansApproved),
		RequiredThreshold: session.RequiredThreshold,
	})
	return nil
}

// GetSession returns a recovery session. A pending session past its deadline
// is marked expired and returned as such.
func (o *Orchestrator) GetSession(ctx context.Context, recoveryID string) (interfaces.RecoverySession, error) {
	session, err := o.loadSession(ctx, recoveryID)
	if err != nil {
		return interfaces.RecoverySession{}, err
	}
	return session.Clone(), nil
}

// ListSessions returns the sessions of userID, or of every user when empty.
func (o *Orchestrator) ListSessions(ctx context.Context, userID interfaces.UserID) ([]interfaces.RecoverySession, error) {
	sessions, err := o.deps.Sessions.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i, s := range sessions {
		if s.Status != interfaces.StatusPendingApproval {
			continue
		}
		fresh, err := o.loadSession(ctx, s.RecoveryID)
		if err != nil {
			o.log.Warn("failed to refresh session", "recoveryID", s.RecoveryID, "userID", s.UserID, "err", err)
			continue
		}
		sessions[i] = fresh
	}
	return sessions, nil
}

// ApproveRecovery records guardianID's approval, fetching its share through
// the configured ShareRetriever.
func (o *Orchestrator) ApproveRecovery(ctx context.Context, recoveryID string, guardianID interfaces.GuardianID, signature []byte) (ApprovalResult, error) {
	return o.approve(ctx, recoveryID, guardianID, signature, func(ctx context.Context, session interfaces.RecoverySession) (interfaces.Share, error) {
		return o.deps.Retriever.FetchGuardianShare(ctx, guardianID, session.UserID)
	})
}

// ApproveRecoveryWithShare is ApproveRecovery for guardians that decrypt their
// envelope themselves and submit the share payload. payload is zeroed.
func (o *Orchestrator) ApproveRecoveryWithShare(ctx context.Context, recoveryID string, guardianID interfaces.GuardianID, signature, payload []byte) (ApprovalResult, error) {
	defer cryptoutils.Wipe(payload)
	return o.approve(ctx, recoveryID, guardianID, signature, func(context.Context, interfaces.RecoverySession) (interfaces.Share, error) {
		return envelope.DecodePayload(payload)
	})
}

type shareSource func(ctx context.Context, session interfaces.RecoverySession) (interfaces.Share, error)

func (o *Orchestrator) approve(ctx context.Context, recoveryID string, guardianID interfaces.GuardianID, signature []byte, fetch shareSource) (ApprovalResult, error) {
	unlock := o.sessionLocks.Lock(recoveryID)
	defer unlock()

	session, err := o.deps.Sessions.GetSession(ctx, recoveryID)
	if err != nil {
		return ApprovalResult{}, err
	}

	now := o.now()
	if session.Status == interfaces.StatusExpired {
		return resultOf(session, guardianID, false), interfaces.ErrExpired
	}
	if now.After(session.ExpiresAt) {
		if err := o.expireIfDue(ctx, &session, now); err != nil {
			return ApprovalResult{}, err
		}
		return resultOf(session, guardianID, false), interfaces.ErrExpired
	}

	if session.Status == interfaces.StatusCompleted {
		if err := o.authenticate(ctx, session, guardianID, signature); err != nil {
			return ApprovalResult{}, err
		}
		return resultOf(session, guardianID, false), nil
	}
	if session.Status != interfaces.StatusPendingApproval {
		return resultOf(session, guardianID, false), fmt.Errorf("%w: %s", interfaces.ErrWrongState, session.Status)
	}
	if err := o.authenticate(ctx, session, guardianID, signature); err != nil {
		return ApprovalResult{}, err
	}
	if err := o.reconcileApprovals(ctx, &session); err != nil {
		return ApprovalResult{}, err
	}
	if session.HasApproved(guardianID) {
		return resultOf(session, guardianID, false), nil
	}

	share, err := fetch(ctx, session)
	if err != nil {
		o.log.Warn("guardian share unavailable", "recoveryID", recoveryID, "guardianID", guardianID, "err", err)
		return ApprovalResult{}, fmt.Errorf("%w: %v", interfaces.ErrShareUnavailable, err)
	}
	defer share.Wipe()
	if err := o.checkShare(ctx, session, guardianID, share); err != nil {
		o.log.Warn("guardian share rejected", "recoveryID", recoveryID, "guardianID", guardianID, "shareID", share.ID, "err", err)
		return ApprovalResult{}, err
	}

	session.GuardiansApproved = append(session.GuardiansApproved, interfaces.GuardianApproval{
		GuardianID: guardianID,
		ShareID:    share.ID,
		ApprovedAt: now,
		Signature:  slices.Clone(signature),
	})
	// Quorum counts shares held in memory, not persisted approvals.
	reached := o.material.shareCount(recoveryID)+1 >= session.RequiredThreshold
	if reached {
		session.Status = interfaces.StatusReconstructing
	}
	if err := o.deps.Sessions.UpdateSession(ctx, session); err != nil {
		return ApprovalResult{}, fmt.Errorf("storing approval: %w", err)
	}
	o.material.addShare(recoveryID, share)

	o.log.Info("guardian approved", "recoveryID", recoveryID, "guardianID", guardianID, "approved", len(session.GuardiansApproved), "threshold", session.RequiredThreshold)
	o.emit(interfaces.Event{
		Type:              interfaces.EventGuardianApproved,
		At:                now,
		UserID:            session.UserID,
		RecoveryID:        recoveryID,
		GuardianID:        guardianID,
		ApprovedCount:     len(session.GuardiansApproved),
		RequiredThreshold: session.RequiredThreshold,
	})

	if !reached {
		return resultOf(session, guardianID, true), nil
	}
	return o.reconstructLocked(ctx, session, guardianID, now)
}

func (o *Orchestrator) authenticate(ctx context.Context, session interfaces.RecoverySession, guardianID interfaces.GuardianID, signature []byte) error {
	if !session.WasRequested(guardianID) {
		return interfaces.ErrUnauthorizedGuardian
	}
	if !o.deps.Verifier.Verify(ctx, session, guardianID, signature) {
		o.log.Warn("invalid approval signature", "recoveryID", session.RecoveryID, "guardianID", guardianID)
		return interfaces.ErrInvalidSignature
	}
	return nil
}

// checkShare accepts only an active ledger share assigned to guardianID for
// the session's user.
func (o *Orchestrator) checkShare(ctx context.Context, session interfaces.RecoverySession, guardianID interfaces.GuardianID, share interfaces.Share) error {
	entry, err := o.deps.Ledger.GetShare(ctx, share.ID)
	if err != nil {
		return fmt.Errorf("%w: share %s: %v", interfaces.ErrShareUnavailable, share.ID, err)
	}
	switch {
	case entry.Status != interfaces.ShareActive:
		return fmt.Errorf("%w: share %s is %s", interfaces.ErrShareUnavailable, share.ID, entry.Status)
	case entry.UserID != session.UserID || share.OwnerUserID != session.UserID:
		return fmt.Errorf("%w: share %s belongs to another user", interfaces.ErrShareUnavailable, share.ID)
	case entry.Channel != interfaces.ChannelGuardian || entry.DestinationID != guardianID:
		return fmt.Errorf("%w: share %s is not assigned to guardian %s", interfaces.ErrShareUnavailable, share.ID, guardianID)
	case entry.Index != share.Index:
		return fmt.Errorf("%w: share %s index mismatch", interfaces.ErrShareUnavailable, share.ID)
	case len(share.Value) == 0:
		return fmt.Errorf("%w: share %s is empty", interfaces.ErrShareUnavailable, share.ID)
	}
	return nil
}

// reconstructLocked combines the collected shares once. The session is
// completed or failed afterwards; a failed reconstruction is never retried.
func (o *Orchestrator) reconstructLocked(ctx context.Context, session interfaces.RecoverySession, guardianID interfaces.GuardianID, now time.Time) (ApprovalResult, error) {
	recoveryID := session.RecoveryID

	shares := o.material.collected(recoveryID)
	key, rerr := o.deps.Sharer.Reconstruct(shares)
	for i := range shares {
		shares[i].Wipe()
	}
	o.material.dropShares(recoveryID)

	finished := now
	session.FinishedAt = &finished

	if rerr != nil {
		session.Status = interfaces.StatusFailed
		session.FailureReason = "reconstruction failed: " + rerr.Error()
		o.log.Error("key reconstruction failed, shares may have been tampered with", "recoveryID", recoveryID, "userID", session.UserID, "err", rerr)
		if err := o.deps.Sessions.UpdateSession(ctx, session); err != nil {
			o.log.Error("storing failed session", "recoveryID", recoveryID, "err", err)
		}
		o.emit(interfaces.Event{
			Type:       interfaces.EventRecoveryFailed,
			At:         now,
			UserID:     session.UserID,
			RecoveryID: recoveryID,
			Reason:     session.FailureReason,
		})
		return resultOf(session, guardianID, true), fmt.Errorf("%w: %v", interfaces.ErrReconstructionFailed, rerr)
	}

	o.material.putKey(recoveryID, key)
	cryptoutils.Wipe(key)

	session.Status = interfaces.StatusCompleted
	session.KeyAvailable = true
	if err := o.deps.Sessions.UpdateSession(ctx, session); err != nil {
		o.material.eraseKey(recoveryID)
		return ApprovalResult{}, fmt.Errorf("storing completed session: %w", err)
	}
	o.scheduleErasure(recoveryID)

	o.log.Info("recovery completed", "recoveryID", recoveryID, "userID", session.UserID)
	o.emit(interfaces.Event{
		Type:       interfaces.EventRecoveryCompleted,
		At:         now,
		UserID:     session.UserID,
		RecoveryID: recoveryID,
	})
	return resultOf(session, guardianID, true), nil
}

// ClaimRecoveredKey hands the reconstructed key to the device that initiated
// the session. The key can be claimed once; it is erased right after.
func (o *Orchestrator) ClaimRecoveredKey(ctx context.Context, recoveryID, deviceID string) ([]byte, error) {
	unlock := o.sessionLocks.Lock(recoveryID)
	defer unlock()

	session, err := o.deps.Sessions.GetSession(ctx, recoveryID)
	if err != nil {
		return nil, err
	}
	if session.InitiatedBy != deviceID {
		return nil, interfaces.ErrUnauthorizedDevice
	}
	if session.Status != interfaces.StatusCompleted {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrWrongState, session.Status)
	}
	key := o.material.key(recoveryID)
	if key == nil {
		return nil, interfaces.ErrKeyUnavailable
	}

	o.material.eraseKey(recoveryID)
	o.cancelErasure(recoveryID)
	session.KeyAvailable = false
	if err := o.deps.Sessions.UpdateSession(ctx, session); err != nil {
		o.log.Error("storing claimed session", "recoveryID", recoveryID, "err", err)
	}
	o.log.Info("recovered key claimed", "recoveryID", recoveryID, "userID", session.UserID, "device", deviceID)
	return key, nil
}

// CancelRecovery fails a pending session on request of its initiating device.
func (o *Orchestrator) CancelRecovery(ctx context.Context, recoveryID, deviceID string) (interfaces.RecoverySession, error) {
	unlock := o.sessionLocks.Lock(recoveryID)
	defer unlock()

	session, err := o.deps.Sessions.GetSession(ctx, recoveryID)
	if err != nil {
		return interfaces.RecoverySession{}, err
	}
	if session.InitiatedBy != deviceID {
		return interfaces.RecoverySession{}, interfaces.ErrUnauthorizedDevice
	}

	now := o.now()
	if err := o.expireIfDue(ctx, &session, now); err != nil {
		return interfaces.RecoverySession{}, err
	}
	if session.Status == interfaces.StatusExpired {
		return session, interfaces.ErrExpired
	}
	if session.Status != interfaces.StatusPendingApproval {
		return session, fmt.Errorf("%w: %s", interfaces.ErrWrongState, session.Status)
	}

	session.Status = interfaces.StatusFailed
	session.FailureReason = ReasonCancelled
	finished := now
	session.FinishedAt = &finished
	if err := o.deps.Sessions.UpdateSession(ctx, session); err != nil {
		return interfaces.RecoverySession{}, fmt.Errorf("storing cancelled session: %w", err)
	}
	o.material.dropShares(recoveryID)

	o.log.Info("recovery cancelled", "recoveryID", recoveryID, "userID", session.UserID)
	o.emit(interfaces.Event{
		Type:       interfaces.EventRecoveryFailed,
		At:         now,
		UserID:     session.UserID,
		RecoveryID: recoveryID,
		Reason:     ReasonCancelled,
	})
	return session.Clone(), nil
}
