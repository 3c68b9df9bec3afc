package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/ruteri/guardian-recovery/secretsharing"
)

// ConfigurationRequest is the user-chosen part of a RecoveryConfiguration.
type ConfigurationRequest struct {
	Threshold        int                      `json:"threshold"`
	TotalShares      int                      `json:"total_shares"`
	GuardianIDs      []interfaces.GuardianID  `json:"guardian_ids"`
	DeviceShardCount int                      `json:"device_shard_count"`
	BackupOptions    interfaces.BackupOptions `json:"backup_options"`
}

func (o *Orchestrator) validateRequest(req ConfigurationRequest) error {
	if len(req.GuardianIDs) > o.cfg.MaxGuardiansPerUser {
		return fmt.Errorf("%w: %d > %d", interfaces.ErrTooManyGuardians, len(req.GuardianIDs), o.cfg.MaxGuardiansPerUser)
	}
	if req.Threshold < 1 {
		return fmt.Errorf("%w: threshold must be at least 1", interfaces.ErrInvalidConfiguration)
	}
	if req.TotalShares < req.Threshold {
		return fmt.Errorf("%w: total shares %d below threshold %d", interfaces.ErrInvalidConfiguration, req.TotalShares, req.Threshold)
	}
	if req.TotalShares > secretsharing.MaxShares {
		return fmt.Errorf("%w: total shares %d above %d", interfaces.ErrInvalidConfiguration, req.TotalShares, secretsharing.MaxShares)
	}
	if req.DeviceShardCount < 0 {
		return fmt.Errorf("%w: negative device shard count", interfaces.ErrInvalidConfiguration)
	}
	seen := make(map[interfaces.GuardianID]struct{}, len(req.GuardianIDs))
	for _, id := range req.GuardianIDs {
		if id == "" {
			return fmt.Errorf("%w: empty guardian id", interfaces.ErrInvalidConfiguration)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate guardian %s", interfaces.ErrInvalidConfiguration, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// InitializeUserRecovery stores a new recovery configuration for userID. It
// fails with ErrConfigurationExists when the user is already configured.
func (o *Orchestrator) InitializeUserRecovery(ctx context.Context, userID interfaces.UserID, req ConfigurationRequest) (interfaces.RecoveryConfiguration, error) {
	if userID == "" {
		return interfaces.RecoveryConfiguration{}, fmt.Errorf("%w: empty user id", interfaces.ErrInvalidConfiguration)
	}
	if err := o.validateRequest(req); err != nil {
		return interfaces.RecoveryConfiguration{}, err
	}

	unlock := o.userLocks.Lock(userID)
	defer unlock()

	_, err := o.deps.Configurations.GetConfiguration(ctx, userID)
	if err == nil {
		return interfaces.RecoveryConfiguration{}, interfaces.ErrConfigurationExists
	}
	if !errors.Is(err, interfaces.ErrNoConfiguration) {
		return interfaces.RecoveryConfiguration{}, fmt.Errorf("loading configuration: %w", err)
	}

	now := o.now()
	cfg := interfaces.RecoveryConfiguration{
		UserID:           userID,
		Threshold:        req.Threshold,
		TotalShares:      req.TotalShares,
		GuardianIDs:      append([]interfaces.GuardianID{}, req.GuardianIDs...),
		DeviceShardCount: req.DeviceShardCount,
		BackupOptions:    req.BackupOptions,
		CreatedAt:        now,
		LastUpdatedAt:    now,
	}
	if err := o.deps.Configurations.PutConfiguration(ctx, cfg); err != nil {
		return interfaces.RecoveryConfiguration{}, fmt.Errorf("storing configuration: %w", err)
	}

	if len(cfg.GuardianIDs) < cfg.Threshold {
		o.log.Warn("guardians alone cannot reach the threshold", "userID", userID, "guardians", len(cfg.GuardianIDs), "threshold", cfg.Threshold)
	}
	o.log.Info("recovery configured", "userID", userID, "threshold", cfg.Threshold, "totalShares", cfg.TotalShares, "guardians", len(cfg.GuardianIDs))
	return cfg.Clone(), nil
}

// GetConfiguration returns ErrNoConfiguration for unknown users.
func (o *Orchestrator) GetConfiguration(ctx context.Context, userID interfaces.UserID) (interfaces.RecoveryConfiguration, error) {
	return o.deps.Configurations.GetConfiguration(ctx, userID)
}

// UpdateBackupOptions changes the non-guardian destinations. It takes effect
// on the next distribution.
func (o *Orchestrator) UpdateBackupOptions(ctx context.Context, userID interfaces.UserID, opts interfaces.BackupOptions, deviceShardCount int) (interfaces.RecoveryConfiguration, error) {
	if deviceShardCount < 0 {
		return interfaces.RecoveryConfiguration{}, fmt.Errorf("%w: negative device shard count", interfaces.ErrInvalidConfiguration)
	}

	unlock := o.userLocks.Lock(userID)
	defer unlock()

	cfg, err := o.deps.Configurations.GetConfiguration(ctx, userID)
	if err != nil {
		return interfaces.RecoveryConfiguration{}, err
	}
	cfg.BackupOptions = opts
	cfg.DeviceShardCount = deviceShardCount
	cfg.LastUpdatedAt = o.now()
	if err := o.deps.Configurations.PutConfiguration(ctx, cfg); err != nil {
		return interfaces.RecoveryConfiguration{}, fmt.Errorf("storing configuration: %w", err)
	}
	return cfg.Clone(), nil
}
