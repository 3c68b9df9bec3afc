package recovery

import (
	"context"
	"fmt"
	"slices"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// GuardianChange is the outcome of adding or removing a guardian.
type GuardianChange struct {
	Configuration     interfaces.RecoveryConfiguration `json:"configuration"`
	RevokedShareCount int                              `json:"revoked_share_count"`
	// RedistributionRequired is set while some configured guardian holds no
	// active share or the active guardian shares cannot reach the threshold.
	RedistributionRequired bool `json:"redistribution_required"`
}

// AddGuardian appends guardianID to the user's configuration. The new guardian
// holds no share until the next distribution.
func (o *Orchestrator) AddGuardian(ctx context.Context, userID interfaces.UserID, guardianID interfaces.GuardianID) (GuardianChange, error) {
	if guardianID == "" {
		return GuardianChange{}, fmt.Errorf("%w: empty guardian id", interfaces.ErrInvalidConfiguration)
	}

	unlock := o.userLocks.Lock(userID)
	defer unlock()

	cfg, err := o.deps.Configurations.GetConfiguration(ctx, userID)
	if err != nil {
		return GuardianChange{}, err
	}
	if cfg.HasGuardian(guardianID) {
		return GuardianChange{}, interfaces.ErrGuardianAlreadyPresent
	}
	if len(cfg.GuardianIDs) >= o.cfg.MaxGuardiansPerUser {
		return GuardianChange{}, interfaces.ErrGuardianLimitReached
	}

	now := o.now()
	cfg.GuardianIDs = append(cfg.GuardianIDs, guardianID)
	cfg.LastUpdatedAt = now
	if err := o.deps.Configurations.PutConfiguration(ctx, cfg); err != nil {
		return GuardianChange{}, fmt.Errorf("storing configuration: %w", err)
	}

	pending, err := o.redistributionPending(ctx, cfg)
	if err != nil {
		return GuardianChange{}, err
	}

	o.log.Info("guardian added", "userID", userID, "guardianID", guardianID, "guardians", len(cfg.GuardianIDs), "redistributionRequired", pending)
	o.emit(interfaces.Event{
		Type:          interfaces.EventGuardianAdded,
		At:            now,
		UserID:        userID,
		GuardianID:    guardianID,
		GuardianCount: len(cfg.GuardianIDs),
	})
	return GuardianChange{Configuration: cfg.Clone(), RedistributionRequired: pending}, nil
}

// RemoveGuardian drops guardianID from the configuration and revokes every
// active share assigned to it. Revocation is final: a later approval backed by
// one of those shares fails with ErrShareUnavailable.
func (o *Orchestrator) RemoveGuardian(ctx context.Context, userID interfaces.UserID, guardianID interfaces.GuardianID) (GuardianChange, error) {
	unlock := o.userLocks.Lock(userID)
	defer unlock()

	cfg, err := o.deps.Configurations.GetConfiguration(ctx, userID)
	if err != nil {
		return GuardianChange{}, err
	}
	if !cfg.HasGuardian(guardianID) {
		return GuardianChange{}, interfaces.ErrGuardianNotFound
	}

	now := o.now()
	ids, err := o.activeShareIDs(ctx, userID, func(e interfaces.LedgerEntry) bool {
		return e.Channel == interfaces.ChannelGuardian && e.DestinationID == guardianID
	})
	if err != nil {
		return GuardianChange{}, fmt.Errorf("listing guardian shares: %w", err)
	}

	prev := cfg.Clone()
	cfg.GuardianIDs = slices.DeleteFunc(cfg.GuardianIDs, func(id interfaces.GuardianID) bool { return id == guardianID })
	cfg.LastUpdatedAt = now
	if err := o.deps.Configurations.PutConfiguration(ctx, cfg); err != nil {
		return GuardianChange{}, fmt.Errorf("storing configuration: %w", err)
	}

	revoked := 0
	if len(ids) > 0 {
		revoked, err = o.deps.Ledger.RevokeShares(ctx, ids, now)
		if err != nil {
			o.restoreConfiguration(ctx, prev)
			return GuardianChange{}, fmt.Errorf("revoking guardian shares: %w", err)
		}
	}

	pending, err := o.redistributionPending(ctx, cfg)
	if err != nil {
		return GuardianChange{}, err
	}

	o.log.Info("guardian removed", "userID", userID, "guardianID", guardianID, "revokedShares", revoked, "redistributionRequired", pending)
	o.emit(interfaces.Event{
		Type:              interfaces.EventGuardianRemoved,
		At:                now,
		UserID:            userID,
		GuardianID:        guardianID,
		GuardianCount:     len(cfg.GuardianIDs),
		RevokedShareCount: revoked,
	})
	return GuardianChange{Configuration: cfg.Clone(), RevokedShareCount: revoked, RedistributionRequired: pending}, nil
}

// shareCoverage summarizes the active guardian shares of a configuration.
type shareCoverage struct {
	active         []interfaces.LedgerEntry
	revoked        int
	guardianShares int
	uncovered      []interfaces.GuardianID
}

func (o *Orchestrator) coverage(ctx context.Context, cfg interfaces.RecoveryConfiguration) (shareCoverage, error) {
	entries, err := o.deps.Ledger.ListShares(ctx, cfg.UserID)
	if err != nil {
		return shareCoverage{}, fmt.Errorf("listing shares: %w", err)
	}

	var c shareCoverage
	holders := make(map[interfaces.GuardianID]bool)
	for _, e := range entries {
		if e.Status != interfaces.ShareActive {
			c.revoked++
			continue
		}
		c.active = append(c.active, e)
		if e.Channel == interfaces.ChannelGuardian && cfg.HasGuardian(e.DestinationID) {
			holders[e.DestinationID] = true
			c.guardianShares++
		}
	}
	for _, id := range cfg.GuardianIDs {
		if !holders[id] {
			c.uncovered = append(c.uncovered, id)
		}
	}
	return c, nil
}

func (o *Orchestrator) redistributionPending(ctx context.Context, cfg interfaces.RecoveryConfiguration) (bool, error) {
	if cfg.LastDistributedAt.IsZero() {
		return false, nil
	}
	c, err := o.coverage(ctx, cfg)
	if err != nil {
		return false, err
	}
	return len(c.uncovered) > 0 || c.guardianShares < cfg.Threshold, nil
}
