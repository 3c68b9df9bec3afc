// Package interfaces defines core interfaces and types for the guardian
// recovery system, separating interface definitions from implementations.
//
// # Domain Types
//
// RecoveryConfiguration: the per-user policy (threshold, total shares, guardian
// list, device shard count and backup options).
//
// Share and LedgerEntry: one fragment of a split key and its ledger record.
// A Share's Value is cleartext and is never persisted or logged; the ledger only
// carries identity, ownership and status.
//
// EncryptedShareEnvelope: an immutable, channel-bound container for one share.
// Channels are guardian, device, keyspace-backup and printout.
//
// RecoverySession: one attempt to reassemble a key from guardian approvals. It
// moves from pending_guardian_approval to reconstructing_key to completed, or
// terminates as failed or expired.
//
// # Repository Interfaces
//
// ConfigurationStore, SessionStore and ShareLedger are the owned repositories of
// the orchestrator. Each mutation is a single atomic unit.
//
// # Collaborator Interfaces
//
//   - SecretSharer: threshold split and reconstruct
//   - GuardianKeyDirectory: guardian X25519 public keys
//   - DeviceKeyService: per-device symmetric key and identity
//   - GuardianStorage: idempotent envelope upsert per guardian
//   - NotificationService: best-effort guardian notification
//   - SignatureVerifier: approval signature checks
//   - ShareRetriever: decrypted guardian shares for approvals
//   - BackupDestination: keyspace-backup envelope persistence
//   - EventSink: outbound events
//
// # Storage Interfaces
//
// StorageBackend: content-addressed storage for backup blobs across multiple
// backend types (file, S3, IPFS, Vault).
//
// StorageBackendFactory: creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
//
// # Errors
//
// All failures are sentinel errors matched with errors.Is, grouped as
// configuration, recovery-session, reconstruction and guardian-lifecycle errors.
package interfaces
