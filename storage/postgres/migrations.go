package postgres

import (
	"context"
	"fmt"
)

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS recovery_configurations (
			user_id VARCHAR(255) PRIMARY KEY,
			threshold INTEGER NOT NULL CHECK (threshold >= 1),
			total_shares INTEGER NOT NULL CHECK (total_shares >= threshold),
			guardian_ids TEXT[] NOT NULL DEFAULT '{}',
			device_shard_count INTEGER NOT NULL DEFAULT 0,
			keyspace_backup BOOLEAN NOT NULL DEFAULT FALSE,
			emergency_printout BOOLEAN NOT NULL DEFAULT FALSE,
			cold_storage BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			last_updated_at TIMESTAMPTZ NOT NULL,
			last_distributed_at TIMESTAMPTZ,
			epoch INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS share_ledger (
			share_id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			share_index INTEGER NOT NULL,
			epoch INTEGER NOT NULL,
			channel VARCHAR(32) NOT NULL,
			destination_id VARCHAR(255) NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			assigned_at TIMESTAMPTZ NOT NULL,
			revoked_at TIMESTAMPTZ
		)`,

		`CREATE INDEX IF NOT EXISTS idx_share_ledger_user
		ON share_ledger(user_id, epoch)`,

		`CREATE INDEX IF NOT EXISTS idx_share_ledger_active
		ON share_ledger(user_id)
		WHERE status = 'active'`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
