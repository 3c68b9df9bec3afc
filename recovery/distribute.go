package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/guardian-recovery/cryptoutils"
	"github.com/ruteri/guardian-recovery/envelope"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// Assignment records where one share went.
type Assignment struct {
	ShareID       string             `json:"share_id"`
	Index         int                `json:"index"`
	Channel       interfaces.Channel `json:"channel"`
	DestinationID string             `json:"destination_id"`
	Location      string             `json:"location,omitempty"`
}

// DistributionResult is what a distribution hands back to the caller. Device
// envelopes and the printout are not stored anywhere by the orchestrator.
type DistributionResult struct {
	UserID          interfaces.UserID                   `json:"user_id"`
	Epoch           int                                 `json:"epoch"`
	DistributedAt   time.Time                           `json:"distributed_at"`
	Assignments     []Assignment                        `json:"assignments"`
	DeviceEnvelopes []interfaces.EncryptedShareEnvelope `json:"device_envelopes,omitempty"`
	// BackupEnvelope is set only when no BackupDestination is configured.
	BackupEnvelope    *interfaces.EncryptedShareEnvelope `json:"backup_envelope,omitempty"`
	Printout          *envelope.Printout                 `json:"printout,omitempty"`
	Unassigned        int                                `json:"unassigned"`
	RevokedShareCount int                                `json:"revoked_share_count"`
}

type destination struct {
	channel interfaces.Channel
	id      string
}

type sealedShare struct {
	share    interfaces.Share
	dest     destination
	envelope interfaces.EncryptedShareEnvelope
	printout *envelope.Printout
	location string
}

// DistributeKeyShards splits secret per the user's configuration and sends
// one share to each destination, guardians first, then device slots, then the
// keyspace backup, then the printout. Shares left over are discarded.
//
// guardianIDs defaults to the configured guardians and must be a subset of
// them. Shares of earlier distributions are revoked once the new ones are
// recorded. secret is zeroed before return.
func (o *Orchestrator) DistributeKeyShards(ctx context.Context, userID interfaces.UserID, secret []byte, guardianIDs []interfaces.GuardianID) (*DistributionResult, error) {
	defer cryptoutils.Wipe(secret)

	unlock := o.userLocks.Lock(userID)
	defer unlock()

	return o.distributeLocked(ctx, userID, secret, guardianIDs)
}

// RotateShares replaces every active share of userID with a fresh split of
// secret sent to the currently configured guardians.
func (o *Orchestrator) RotateShares(ctx context.Context, userID interfaces.UserID, secret []byte) (*DistributionResult, error) {
	return o.DistributeKeyShards(ctx, userID, secret, nil)
}

func (o *Orchestrator) distributeLocked(ctx context.Context, userID interfaces.UserID, secret []byte, guardianIDs []interfaces.GuardianID) (*DistributionResult, error) {
	cfg, err := o.deps.Configurations.GetConfiguration(ctx, userID)
	if err != nil {
		return nil, err
	}

	if guardianIDs == nil {
		guardianIDs = cfg.GuardianIDs
	}
	if len(guardianIDs) > o.cfg.MaxGuardiansPerUser {
		return nil, fmt.Errorf("%w: %d > %d", interfaces.ErrTooManyGuardians, len(guardianIDs), o.cfg.MaxGuardiansPerUser)
	}
	seen := make(map[interfaces.GuardianID]struct{}, len(guardianIDs))
	for _, id := range guardianIDs {
		if !cfg.HasGuardian(id) {
			return nil, fmt.Errorf("%w: guardian %s is not configured", interfaces.ErrInvalidConfiguration, id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate guardian %s", interfaces.ErrInvalidConfiguration, id)
		}
		seen[id] = struct{}{}
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", interfaces.ErrInvalidConfiguration)
	}

	if live, err := o.liveSession(ctx, userID); err != nil {
		return nil, err
	} else if live != "" {
		return nil, &interfaces.AlreadyInProgressError{RecoveryID: live}
	}

	shares, err := o.deps.Sharer.Split(secret, cfg.Threshold, cfg.TotalShares)
	if err != nil {
		return nil, fmt.Errorf("splitting secret: %w", err)
	}
	defer func() {
		for i := range shares {
			shares[i].Wipe()
		}
	}()

	dests := o.destinations(cfg, guardianIDs)
	assigned := min(len(dests), len(shares))
	if len(dests) > len(shares) {
		o.log.Warn("not enough shares for every destination", "userID", userID, "shares", len(shares), "destinations", len(dests))
	}

	now := o.now()
	sealed := make([]sealedShare, 0, assigned)
	for i := 0; i < assigned; i++ {
		shares[i].ID = uuid.NewString()
		shares[i].OwnerUserID = userID
		shares[i].Status = interfaces.ShareActive
		shares[i].AssignedAt = now

		s, err := o.seal(ctx, shares[i], dests[i], now)
		if err != nil {
			return nil, fmt.Errorf("sealing share for %s %s: %w", dests[i].channel, dests[i].id, err)
		}
		sealed = append(sealed, s)
	}

	result := &DistributionResult{
		UserID:        userID,
		Epoch:         cfg.Epoch + 1,
		DistributedAt: now,
		Unassigned:    len(shares) - assigned,
	}

	guardianCount := 0
	for i := range sealed {
		s := &sealed[i]
		switch s.dest.channel {
		case interfaces.ChannelGuardian:
			if err := o.deps.GuardianStorage.Store(ctx, s.dest.id, s.envelope, userID); err != nil {
				return nil, fmt.Errorf("delivering share to guardian %s: %w", s.dest.id, err)
			}
			guardianCount++
		case interfaces.ChannelDevice:
			result.DeviceEnvelopes = append(result.DeviceEnvelopes, s.envelope)
		case interfaces.ChannelKeyspaceBackup:
			if o.deps.Backups == nil {
				env := s.envelope
				result.BackupEnvelope = &env
				continue
			}
			loc, err := o.deps.Backups.StoreBackup(ctx, s.envelope)
			if err != nil {
				return nil, fmt.Errorf("storing keyspace backup: %w", err)
			}
			s.location = loc
		case interfaces.ChannelPrintout:
			result.Printout = s.printout
		}
	}

	entries := make([]interfaces.LedgerEntry, 0, len(sealed))
	for _, s := range sealed {
		entries = append(entries, interfaces.LedgerEntry{
			ShareID:       s.share.ID,
			UserID:        userID,
			Index:         s.share.Index,
			Epoch:         result.Epoch,
			Channel:       s.dest.channel,
			DestinationID: s.dest.id,
			Location:      s.location,
			Status:        interfaces.ShareActive,
			AssignedAt:    now,
		})
		result.Assignments = append(result.Assignments, Assignment{
			ShareID:       s.share.ID,
			Index:         s.share.Index,
			Channel:       s.dest.channel,
			DestinationID: s.dest.id,
			Location:      s.location,
		})
	}
	superseded, err := o.activeShareIDs(ctx, userID, func(interfaces.LedgerEntry) bool { return true })
	if err != nil {
		return nil, fmt.Errorf("listing previous shares: %w", err)
	}

	prev := cfg.Clone()
	cfg.Epoch = result.Epoch
	cfg.LastDistributedAt = now
	cfg.LastUpdatedAt = now
	if err := o.deps.Configurations.PutConfiguration(ctx, cfg); err != nil {
		return nil, fmt.Errorf("storing configuration: %w", err)
	}

	revoked, err := o.deps.Ledger.ReplaceShares(ctx, entries, superseded, now)
	if err != nil {
		o.restoreConfiguration(ctx, prev)
		return nil, fmt.Errorf("recording shares: %w", err)
	}
	result.RevokedShareCount = revoked

	o.log.Info("shares distributed", "userID", userID, "epoch", result.Epoch, "assigned", assigned, "unassigned", result.Unassigned, "revoked", revoked)
	o.emit(interfaces.Event{
		Type:          interfaces.EventSharesDistributed,
		At:            now,
		UserID:        userID,
		GuardianCount: guardianCount,
		ShareCount:    assigned,
	})
	if revoked > 0 {
		o.emit(interfaces.Event{
			Type:              interfaces.EventSharesRevoked,
			At:                now,
			UserID:            userID,
			RevokedShareCount: revoked,
			Reason:            "redistribution",
		})
	}
	return result, nil
}

func (o *Orchestrator) destinations(cfg interfaces.RecoveryConfiguration, guardianIDs []interfaces.GuardianID) []destination {
	dests := make([]destination, 0, len(guardianIDs)+cfg.DeviceShardCount+2)
	for _, id := range guardianIDs {
		dests = append(dests, destination{channel: interfaces.ChannelGuardian, id: id})
	}
	deviceID := o.deps.Devices.DeviceID()
	for slot := 0; slot < cfg.DeviceShardCount; slot++ {
		dests = append(dests, destination{channel: interfaces.ChannelDevice, id: fmt.Sprintf("%s/%d", deviceID, slot)})
	}
	if cfg.BackupOptions.KeyspaceBackup {
		dests = append(dests, destination{channel: interfaces.ChannelKeyspaceBackup, id: envelope.DestinationKeyspaceBackup})
	}
	if cfg.BackupOptions.EmergencyPrintout {
		dests = append(dests, destination{channel: interfaces.ChannelPrintout, id: envelope.DestinationPrintout})
	}
	return dests
}

func (o *Orchestrator) seal(ctx context.Context, share interfaces.Share, dest destination, now time.Time) (sealedShare, error) {
	s := sealedShare{share: share, dest: dest}
	s.share.Value = nil

	var err error
	switch dest.channel {
	case interfaces.ChannelGuardian:
		s.envelope, err = o.sealer.SealForGuardian(ctx, share, dest.id)
	case interfaces.ChannelDevice:
		s.envelope, err = o.sealer.SealForDevice(ctx, share, dest.id)
	case interfaces.ChannelKeyspaceBackup:
		s.envelope, err = o.sealer.SealForKeyspaceBackup(share, now)
	case interfaces.ChannelPrintout:
		var p envelope.Printout
		p, err = o.sealer.SealForPrintout(share, now)
		s.envelope = p.Envelope
		s.printout = &p
	default:
		err = fmt.Errorf("unknown channel %q", dest.channel)
	}
	return s, err
}

// activeShareIDs lists the user's active shares matching pick.
func (o *Orchestrator) activeShareIDs(ctx context.Context, userID interfaces.UserID, pick func(interfaces.LedgerEntry) bool) ([]string, error) {
	entries, err := o.deps.Ledger.ListShares(ctx, userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.Status == interfaces.ShareActive && pick(e) {
			ids = append(ids, e.ShareID)
		}
	}
	return ids, nil
}

// restoreConfiguration puts back a configuration whose ledger update failed.
func (o *Orchestrator) restoreConfiguration(ctx context.Context, prev interfaces.RecoveryConfiguration) {
	if err := o.deps.Configurations.PutConfiguration(context.WithoutCancel(ctx), prev); err != nil {
		o.log.Error("failed to restore configuration after ledger error", "userID", prev.UserID, "epoch", prev.Epoch, "err", err)
	}
}
