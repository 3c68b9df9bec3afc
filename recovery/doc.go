// Package recovery orchestrates guardian share distribution and threshold
// recovery of a user's key.
//
// An Orchestrator ties together the stores, the secret sharer, the envelope
// sealer and the guardian-facing collaborators:
//
//	orch, err := recovery.New(recovery.DefaultConfig(), recovery.Dependencies{...}, log)
//	cfg, err := orch.InitializeUserRecovery(ctx, userID, req)
//	res, err := orch.DistributeKeyShards(ctx, userID, secret, nil)
//	init, err := orch.InitiateRecovery(ctx, userID, deviceID)
//	approval, err := orch.ApproveRecovery(ctx, init.RecoveryID, guardianID, signature)
//	key, err := orch.ClaimRecoveredKey(ctx, init.RecoveryID, deviceID)
//
// # Distribution
//
// The secret is split into TotalShares shares. Destinations are filled in a
// fixed order: the guardians, the device slots, the keyspace backup, then the
// emergency printout. Shares left over are zeroed and reported as unassigned.
// Every envelope is sealed before anything is delivered, and the share ledger
// records the whole batch in one call, so a failed distribution leaves no
// active shares behind. Shares from earlier distributions are revoked once
// the new batch is recorded.
//
// # Sessions
//
// A session moves from pending_guardian_approval to reconstructing_key when
// the threshold is first reached, then to completed or failed. Pending
// sessions past their deadline become expired on the next access or Sweep.
// Completed, failed and expired are final.
//
// Collected shares and the reconstructed key never leave process memory. They
// sit in locked buffers owned by the orchestrator and are zeroed once the key
// is claimed or KeyErasureDelay has passed.
//
// # Concurrency
//
// Operations on one user (configuration changes, distribution, initiation)
// are serialized by a per-user lock. Approvals of one session are serialized
// by a per-session lock, so the threshold transition and the reconstruction
// happen exactly once.
package recovery
