// Package postgres persists recovery configurations and the share ledger in
// PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// Store implements interfaces.ConfigurationStore and interfaces.ShareLedger.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

func NewStore(db *sql.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return NewStore(db, log), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetConfiguration(ctx context.Context, userID interfaces.UserID) (interfaces.RecoveryConfiguration, error) {
	cfg := interfaces.RecoveryConfiguration{UserID: userID}
	var distributedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT threshold, total_shares, guardian_ids, device_shard_count,
		       keyspace_backup, emergency_printout, cold_storage,
		       created_at, last_updated_at, last_distributed_at, epoch
		FROM recovery_configurations WHERE user_id = $1`, userID).Scan(
		&cfg.Threshold, &cfg.TotalShares, pq.Array(&cfg.GuardianIDs), &cfg.DeviceShardCount,
		&cfg.BackupOptions.KeyspaceBackup, &cfg.BackupOptions.EmergencyPrintout, &cfg.BackupOptions.ColdStorage,
		&cfg.CreatedAt, &cfg.LastUpdatedAt, &distributedAt, &cfg.Epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.RecoveryConfiguration{}, fmt.Errorf("%w: %s", interfaces.ErrNoConfiguration, userID)
	}
	if err != nil {
		return interfaces.RecoveryConfiguration{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	if distributedAt.Valid {
		cfg.LastDistributedAt = distributedAt.Time.UTC()
	}
	cfg.CreatedAt = cfg.CreatedAt.UTC()
	cfg.LastUpdatedAt = cfg.LastUpdatedAt.UTC()
	if cfg.GuardianIDs == nil {
		cfg.GuardianIDs = []string{}
	}
	return cfg, nil
}

func (s *Store) PutConfiguration(ctx context.Context, cfg interfaces.RecoveryConfiguration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_configurations (
			user_id, threshold, total_shares, guardian_ids, device_shard_count,
			keyspace_backup, emergency_printout, cold_storage,
			created_at, last_updated_at, last_distributed_at, epoch)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			threshold = $2, total_shares = $3, guardian_ids = $4, device_shard_count = $5,
			keyspace_backup = $6, emergency_printout = $7, cold_storage = $8,
			created_at = $9, last_updated_at = $10, last_distributed_at = $11, epoch = $12`,
		cfg.UserID, cfg.Threshold, cfg.TotalShares, pq.Array(cfg.GuardianIDs), cfg.DeviceShardCount,
		cfg.BackupOptions.KeyspaceBackup, cfg.BackupOptions.EmergencyPrintout, cfg.BackupOptions.ColdStorage,
		cfg.CreatedAt, cfg.LastUpdatedAt, nullTime(cfg.LastDistributedAt), cfg.Epoch)
	if err != nil {
		return fmt.Errorf("failed to store configuration: %w", err)
	}
	return nil
}

// RecordShares inserts the batch in one transaction.
func (s *Store) RecordShares(ctx context.Context, entries []interfaces.LedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertShares(ctx, tx, entries); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger batch: %w", err)
	}
	s.log.Debug("recorded ledger batch", "count", len(entries))
	return nil
}

// ReplaceShares inserts entries and revokes revokeIDs in one transaction.
func (s *Store) ReplaceShares(ctx context.Context, entries []interfaces.LedgerEntry, revokeIDs []string, at time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := insertShares(ctx, tx, entries); err != nil {
		return 0, err
	}
	revoked, err := revokeShares(ctx, tx, revokeIDs, at)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ledger replacement: %w", err)
	}
	s.log.Debug("replaced ledger shares", "recorded", len(entries), "revoked", revoked)
	return revoked, nil
}

func insertShares(ctx context.Context, tx *sql.Tx, entries []interfaces.LedgerEntry) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO share_ledger (
			share_id, user_id, share_index, epoch, channel, destination_id,
			location, status, assigned_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		var revokedAt any
		if e.RevokedAt != nil {
			revokedAt = *e.RevokedAt
		}
		_, err := stmt.ExecContext(ctx,
			e.ShareID, e.UserID, e.Index, e.Epoch, string(e.Channel), e.DestinationID,
			e.Location, string(e.Status), e.AssignedAt, revokedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("share %s already recorded", e.ShareID)
			}
			return fmt.Errorf("failed to record share %s: %w", e.ShareID, err)
		}
	}
	return nil
}

const ledgerColumns = `share_id, user_id, share_index, epoch, channel, destination_id,
	location, status, assigned_at, revoked_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (interfaces.LedgerEntry, error) {
	var (
		e         interfaces.LedgerEntry
		channel   string
		status    string
		revokedAt sql.NullTime
	)
	err := row.Scan(&e.ShareID, &e.UserID, &e.Index, &e.Epoch, &channel, &e.DestinationID,
		&e.Location, &status, &e.AssignedAt, &revokedAt)
	if err != nil {
		return interfaces.LedgerEntry{}, err
	}
	e.Channel = interfaces.Channel(channel)
	e.Status = interfaces.ShareStatus(status)
	e.AssignedAt = e.AssignedAt.UTC()
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		e.RevokedAt = &t
	}
	return e, nil
}

func (s *Store) GetShare(ctx context.Context, shareID string) (interfaces.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM share_ledger WHERE share_id = $1`, shareID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.LedgerEntry{}, fmt.Errorf("%w: %s", interfaces.ErrLedgerEntryNotFound, shareID)
	}
	if err != nil {
		return interfaces.LedgerEntry{}, fmt.Errorf("failed to load share: %w", err)
	}
	return e, nil
}

func (s *Store) ListShares(ctx context.Context, userID interfaces.UserID) ([]interfaces.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+` FROM share_ledger
		WHERE user_id = $1 ORDER BY epoch, share_index`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	defer rows.Close()

	out := make([]interfaces.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) RevokeShares(ctx context.Context, shareIDs []string, at time.Time) (int, error) {
	return revokeShares(ctx, s.db, shareIDs, at)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func revokeShares(ctx context.Context, db execer, shareIDs []string, at time.Time) (int, error) {
	if len(shareIDs) == 0 {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `
		UPDATE share_ledger SET status = $1, revoked_at = $2
		WHERE share_id = ANY($3) AND status = $4`,
		string(interfaces.ShareRevoked), at, pq.Array(shareIDs), string(interfaces.ShareActive))
	if err != nil {
		return 0, fmt.Errorf("failed to revoke shares: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
