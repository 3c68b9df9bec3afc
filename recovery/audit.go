package recovery

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// Severity ranks audit findings, most urgent first.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Recommendation codes.
const (
	CodeRecoveryImpossible     = "RECOVERY_IMPOSSIBLE"
	CodeSingleShareThreshold   = "SINGLE_SHARE_THRESHOLD"
	CodeFewGuardians           = "FEW_GUARDIANS"
	CodeLowThresholdRatio      = "LOW_THRESHOLD_RATIO"
	CodeRedistributionPending  = "REDISTRIBUTION_PENDING"
	CodeNoKeyspaceBackup       = "NO_KEYSPACE_BACKUP"
	CodePrintoutCustody        = "PRINTOUT_CUSTODY"
	CodeStaleDistribution      = "STALE_DISTRIBUTION"
	CodeReconstructionFailures = "RECONSTRUCTION_FAILURES"
	CodeNoDistribution         = "NO_DISTRIBUTION"
)

type Recommendation struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// AuditReport is a read-only health summary of one user's recovery setup.
type AuditReport struct {
	UserID            interfaces.UserID        `json:"user_id"`
	GeneratedAt       time.Time                `json:"generated_at"`
	Threshold         int                      `json:"threshold"`
	TotalShares       int                      `json:"total_shares"`
	GuardianCount     int                      `json:"guardian_count"`
	DeviceShardCount  int                      `json:"device_shard_count"`
	BackupOptions     interfaces.BackupOptions `json:"backup_options"`
	Epoch             int                      `json:"epoch"`
	LastDistributedAt *time.Time               `json:"last_distributed_at,omitempty"`

	ActiveShares           int                              `json:"active_shares"`
	RevokedShares          int                              `json:"revoked_shares"`
	ActiveByChannel        map[interfaces.Channel]int       `json:"active_by_channel"`
	GuardiansWithoutShares []interfaces.GuardianID          `json:"guardians_without_shares,omitempty"`
	RedistributionPending  bool                             `json:"redistribution_pending"`
	SessionsByStatus       map[interfaces.SessionStatus]int `json:"sessions_by_status"`
	ActiveRecoveryID       string                           `json:"active_recovery_id,omitempty"`
	Recommendations        []Recommendation                 `json:"recommendations"`
}

// HasRecommendation reports whether the report carries code.
func (r AuditReport) HasRecommendation(code string) bool {
	return slices.ContainsFunc(r.Recommendations, func(rec Recommendation) bool { return rec.Code == code })
}

// AuditUserRecovery inspects the configuration, share ledger and session
// history of userID. It changes nothing.
func (o *Orchestrator) AuditUserRecovery(ctx context.Context, userID interfaces.UserID) (AuditReport, error) {
	cfg, err := o.deps.Configurations.GetConfiguration(ctx, userID)
	if err != nil {
		return AuditReport{}, err
	}
	cov, err := o.coverage(ctx, cfg)
	if err != nil {
		return AuditReport{}, err
	}
	sessions, err := o.deps.Sessions.ListSessions(ctx, userID)
	if err != nil {
		return AuditReport{}, fmt.Errorf("listing sessions: %w", err)
	}

	now := o.now()
	report := AuditReport{
		UserID:           userID,
		GeneratedAt:      now,
		Threshold:        cfg.Threshold,
		TotalShares:      cfg.TotalShares,
		GuardianCount:    len(cfg.GuardianIDs),
		DeviceShardCount: cfg.DeviceShardCount,
		BackupOptions:    cfg.BackupOptions,
		Epoch:            cfg.Epoch,
		ActiveShares:     len(cov.active),
		RevokedShares:    cov.revoked,
		ActiveByChannel:  make(map[interfaces.Channel]int),
		SessionsByStatus: make(map[interfaces.SessionStatus]int),
		Recommendations:  []Recommendation{},
	}
	distributed := !cfg.LastDistributedAt.IsZero()
	if distributed {
		t := cfg.LastDistributedAt
		report.LastDistributedAt = &t
	}
	for _, e := range cov.active {
		report.ActiveByChannel[e.Channel]++
	}
	if distributed {
		report.GuardiansWithoutShares = cov.uncovered
		report.RedistributionPending = len(cov.uncovered) > 0 || cov.guardianShares < cfg.Threshold
	}

	reconstructionFailures := 0
	for _, s := range sessions {
		report.SessionsByStatus[s.Status]++
		if !s.Status.Terminal() {
			report.ActiveRecoveryID = s.RecoveryID
		}
		if s.Status == interfaces.StatusFailed && strings.HasPrefix(s.FailureReason, "reconstruction failed") {
			reconstructionFailures++
		}
	}

	add := func(code string, sev Severity, format string, args ...any) {
		report.Recommendations = append(report.Recommendations, Recommendation{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if !distributed {
		add(CodeNoDistribution, SeverityHigh, "no shares have been distributed yet")
	} else {
		if cov.guardianShares < cfg.Threshold {
			add(CodeRecoveryImpossible, SeverityCritical, "only %d active guardian shares for a threshold of %d", cov.guardianShares, cfg.Threshold)
		}
		if report.RedistributionPending {
			add(CodeRedistributionPending, SeverityHigh, "%d configured guardians hold no active share", len(cov.uncovered))
		}
		if o.cfg.StaleDistributionAge > 0 && now.Sub(cfg.LastDistributedAt) > o.cfg.StaleDistributionAge {
			add(CodeStaleDistribution, SeverityLow, "shares were last distributed %s ago", now.Sub(cfg.LastDistributedAt).Round(time.Hour))
		}
	}
	if cfg.Threshold == 1 {
		add(CodeSingleShareThreshold, SeverityHigh, "any single share reveals the key")
	}
	if len(cfg.GuardianIDs) < 3 {
		add(CodeFewGuardians, SeverityMedium, "%d guardians configured, at least 3 recommended", len(cfg.GuardianIDs))
	}
	if len(cfg.GuardianIDs) >= 2 && cfg.Threshold*2 < len(cfg.GuardianIDs) {
		add(CodeLowThresholdRatio, SeverityMedium, "threshold %d is below half of %d guardians", cfg.Threshold, len(cfg.GuardianIDs))
	}
	if !cfg.BackupOptions.KeyspaceBackup {
		add(CodeNoKeyspaceBackup, SeverityLow, "keyspace backup is disabled")
	}
	if cfg.BackupOptions.EmergencyPrintout {
		if cfg.BackupOptions.ColdStorage {
			add(CodePrintoutCustody, SeverityInfo, "keep the emergency printout in cold storage, away from the recording device")
		} else {
			add(CodePrintoutCustody, SeverityLow, "an emergency printout exists without cold storage custody")
		}
	}
	if reconstructionFailures > 0 {
		add(CodeReconstructionFailures, SeverityCritical, "%d recoveries failed to reconstruct; guardian shares may be tampered with", reconstructionFailures)
	}

	slices.SortStableFunc(report.Recommendations, func(a, b Recommendation) int {
		return a.Severity.rank() - b.Severity.rank()
	})
	return report, nil
}
