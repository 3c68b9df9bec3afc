package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// SweepReport counts what one Sweep changed.
type SweepReport struct {
	Expired     int `json:"expired"`
	KeysErased  int `json:"keys_erased"`
	Interrupted int `json:"interrupted"`
	Purged      int `json:"purged"`
}

// Sweep applies time-based transitions to every stored session: pending
// sessions past their deadline expire, reconstructed keys older than
// KeyErasureDelay are erased, and terminal sessions older than AuditRetention
// are deleted. Sessions left reconstructing without in-memory material, which
// happens after a restart, are failed.
func (o *Orchestrator) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	sessions, err := o.deps.Sessions.ListSessions(ctx, "")
	if err != nil {
		return report, fmt.Errorf("listing sessions: %w", err)
	}

	var errs []error
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := o.sweepOne(ctx, s.RecoveryID, &report); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.RecoveryID, err))
		}
	}
	return report, errors.Join(errs...)
}

func (o *Orchestrator) sweepOne(ctx context.Context, recoveryID string, report *SweepReport) error {
	unlock := o.sessionLocks.Lock(recoveryID)
	defer unlock()

	session, err := o.deps.Sessions.GetSession(ctx, recoveryID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := o.now()
	switch session.Status {
	case interfaces.StatusPendingApproval:
		if now.After(session.ExpiresAt) {
			if err := o.expireIfDue(ctx, &session, now); err != nil {
				return err
			}
			report.Expired++
			return nil
		}
		return o.reconcileApprovals(ctx, &session)

	case interfaces.StatusReconstructing:
		if o.material.shareCount(recoveryID) > 0 || o.material.hasKey(recoveryID) {
			return nil
		}
		session.Status = interfaces.StatusFailed
		session.FailureReason = ReasonInterrupted
		finished := now
		session.FinishedAt = &finished
		if err := o.deps.Sessions.UpdateSession(ctx, session); err != nil {
			return err
		}
		report.Interrupted++
		o.log.Warn("recovery interrupted during reconstruction", "recoveryID", recoveryID, "userID", session.UserID)
		o.emit(interfaces.Event{
			Type:       interfaces.EventRecoveryFailed,
			At:         now,
			UserID:     session.UserID,
			RecoveryID: recoveryID,
			Reason:     ReasonInterrupted,
		})
		return nil
	}

	finishedAt := session.ExpiresAt
	if session.FinishedAt != nil {
		finishedAt = *session.FinishedAt
	}

	if session.KeyAvailable && (!now.Before(finishedAt.Add(o.cfg.KeyErasureDelay)) || !o.material.hasKey(recoveryID)) {
		o.material.eraseKey(recoveryID)
		o.cancelErasure(recoveryID)
		session.KeyAvailable = false
		if err := o.deps.Sessions.UpdateSession(ctx, session); err != nil {
			return err
		}
		report.KeysErased++
		o.log.Info("reconstructed key erased", "recoveryID", recoveryID, "userID", session.UserID)
	}

	if !now.Before(finishedAt.Add(o.cfg.AuditRetention)) {
		o.material.erase(recoveryID)
		o.cancelErasure(recoveryID)
		if err := o.deps.Sessions.DeleteSession(ctx, recoveryID); err != nil {
			return err
		}
		report.Purged++
		o.log.Info("recovery session purged", "recoveryID", recoveryID, "userID", session.UserID, "status", session.Status)
	}
	return nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := o.Sweep(ctx)
			if err != nil {
				o.log.Error("sweep failed", "err", err)
			}
			if report != (SweepReport{}) {
				o.log.Info("sweep done", "expired", report.Expired, "keysErased", report.KeysErased, "interrupted", report.Interrupted, "purged", report.Purged)
			}
		}
	}
}
