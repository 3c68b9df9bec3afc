// Package storetest holds conformance tests shared by every repository
// implementation. Each backend's tests call the Run* functions with a fresh,
// empty store.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniq keeps keys unique across runs against shared external databases.
func uniq(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func RunConfigurationStoreTests(t *testing.T, store interfaces.ConfigurationStore) {
	ctx := context.Background()
	user := uniq("alice")

	_, err := store.GetConfiguration(ctx, user)
	require.ErrorIs(t, err, interfaces.ErrNoConfiguration)

	now := time.Now().UTC().Truncate(time.Millisecond)
	cfg := interfaces.RecoveryConfiguration{
		UserID:           user,
		Threshold:        2,
		TotalShares:      4,
		GuardianIDs:      []string{"bob", "carol", "dave"},
		DeviceShardCount: 1,
		BackupOptions:    interfaces.BackupOptions{KeyspaceBackup: true},
		CreatedAt:        now,
		LastUpdatedAt:    now,
	}
	require.NoError(t, store.PutConfiguration(ctx, cfg))

	got, err := store.GetConfiguration(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, cfg.Threshold, got.Threshold)
	assert.Equal(t, cfg.TotalShares, got.TotalShares)
	assert.Equal(t, cfg.GuardianIDs, got.GuardianIDs)
	assert.Equal(t, cfg.BackupOptions, got.BackupOptions)
	assert.True(t, cfg.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, got.LastDistributedAt.IsZero())

	got.GuardianIDs[0] = "mallory"
	again, err := store.GetConfiguration(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "bob", again.GuardianIDs[0])

	cfg.GuardianIDs = []string{"bob"}
	cfg.Epoch = 3
	cfg.LastDistributedAt = now.Add(time.Minute)
	require.NoError(t, store.PutConfiguration(ctx, cfg))
	got, err = store.GetConfiguration(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, got.GuardianIDs)
	assert.Equal(t, 3, got.Epoch)
	assert.True(t, cfg.LastDistributedAt.Equal(got.LastDistributedAt))
}

func RunSessionStoreTests(t *testing.T, store interfaces.SessionStore) {
	ctx := context.Background()
	user := uniq("alice")
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := store.GetSession(ctx, uniq("missing"))
	require.ErrorIs(t, err, interfaces.ErrNotFound)

	s1 := interfaces.RecoverySession{
		RecoveryID:         uniq("rec"),
		UserID:             user,
		InitiatedBy:        "laptop",
		Status:             interfaces.StatusPendingApproval,
		RequiredThreshold:  2,
		GuardiansRequested: []string{"bob", "carol"},
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(ctx, s1))
	require.Error(t, store.CreateSession(ctx, s1), "duplicate ids are rejected")

	s2 := s1
	s2.RecoveryID = uniq("rec")
	s2.CreatedAt = now.Add(time.Second)
	require.NoError(t, store.CreateSession(ctx, s2))

	got, err := store.GetSession(ctx, s1.RecoveryID)
	require.NoError(t, err)
	assert.Equal(t, s1.GuardiansRequested, got.GuardiansRequested)
	assert.Equal(t, interfaces.StatusPendingApproval, got.Status)
	assert.True(t, s1.ExpiresAt.Equal(got.ExpiresAt))

	finished := now.Add(time.Minute)
	got.Status = interfaces.StatusCompleted
	got.FinishedAt = &finished
	got.KeyAvailable = true
	got.GuardiansApproved = []interfaces.GuardianApproval{
		{GuardianID: "bob", ShareID: "s1", ApprovedAt: now, Signature: []byte{1, 2}},
	}
	require.NoError(t, store.UpdateSession(ctx, got))

	got, err = store.GetSession(ctx, s1.RecoveryID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusCompleted, got.Status)
	require.Len(t, got.GuardiansApproved, 1)
	assert.Equal(t, []byte{1, 2}, got.GuardiansApproved[0].Signature)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
	assert.True(t, got.KeyAvailable)

	missing := s1
	missing.RecoveryID = uniq("rec")
	require.ErrorIs(t, store.UpdateSession(ctx, missing), interfaces.ErrNotFound)

	list, err := store.ListSessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, s1.RecoveryID, list[0].RecoveryID)
	assert.Equal(t, s2.RecoveryID, list[1].RecoveryID)

	all, err := store.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(all), 2)

	require.NoError(t, store.DeleteSession(ctx, s1.RecoveryID))
	require.NoError(t, store.DeleteSession(ctx, s1.RecoveryID))
	_, err = store.GetSession(ctx, s1.RecoveryID)
	require.ErrorIs(t, err, interfaces.ErrNotFound)

	list, err = store.ListSessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func RunShareLedgerTests(t *testing.T, ledger interfaces.ShareLedger) {
	ctx := context.Background()
	user := uniq("alice")
	now := time.Now().UTC().Truncate(time.Millisecond)

	entries := []interfaces.LedgerEntry{
		{ShareID: uniq("s"), UserID: user, Index: 1, Epoch: 1, Channel: interfaces.ChannelGuardian, DestinationID: "bob", Status: interfaces.ShareActive, AssignedAt: now},
		{ShareID: uniq("s"), UserID: user, Index: 2, Epoch: 1, Channel: interfaces.ChannelGuardian, DestinationID: "carol", Status: interfaces.ShareActive, AssignedAt: now},
		{ShareID: uniq("s"), UserID: user, Index: 3, Epoch: 1, Channel: interfaces.ChannelKeyspaceBackup, DestinationID: "keyspace", Location: "file://x#abc", Status: interfaces.ShareActive, AssignedAt: now},
	}
	require.NoError(t, ledger.RecordShares(ctx, entries))

	// A batch with one duplicate id records nothing.
	fresh := interfaces.LedgerEntry{ShareID: uniq("s"), UserID: user, Index: 4, Epoch: 1, Channel: interfaces.ChannelDevice, DestinationID: "laptop/0", Status: interfaces.ShareActive, AssignedAt: now}
	require.Error(t, ledger.RecordShares(ctx, []interfaces.LedgerEntry{fresh, entries[0]}))
	_, err := ledger.GetShare(ctx, fresh.ShareID)
	require.ErrorIs(t, err, interfaces.ErrLedgerEntryNotFound)

	got, err := ledger.GetShare(ctx, entries[2].ShareID)
	require.NoError(t, err)
	assert.Equal(t, entries[2].Location, got.Location)
	assert.Equal(t, interfaces.ChannelKeyspaceBackup, got.Channel)
	assert.Equal(t, 3, got.Index)

	list, err := ledger.ListShares(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 3)

	n, err := ledger.RevokeShares(ctx, []string{entries[0].ShareID, uniq("unknown")}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = ledger.RevokeShares(ctx, []string{entries[0].ShareID}, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "revocation is final and not repeated")

	got, err = ledger.GetShare(ctx, entries[0].ShareID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ShareRevoked, got.Status)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, now.Add(time.Minute).Equal(*got.RevokedAt))

	other, err := ledger.ListShares(ctx, uniq("nobody"))
	require.NoError(t, err)
	assert.Empty(t, other)

	// Replacement is all or nothing: a duplicate in the new batch leaves the
	// old shares active.
	next := interfaces.LedgerEntry{ShareID: uniq("s"), UserID: user, Index: 1, Epoch: 2, Channel: interfaces.ChannelGuardian, DestinationID: "bob", Status: interfaces.ShareActive, AssignedAt: now}
	_, err = ledger.ReplaceShares(ctx, []interfaces.LedgerEntry{next, entries[2]}, []string{entries[1].ShareID, entries[2].ShareID}, now.Add(3*time.Minute))
	require.Error(t, err)
	got, err = ledger.GetShare(ctx, entries[1].ShareID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ShareActive, got.Status)
	_, err = ledger.GetShare(ctx, next.ShareID)
	require.ErrorIs(t, err, interfaces.ErrLedgerEntryNotFound)

	n, err = ledger.ReplaceShares(ctx, []interfaces.LedgerEntry{next}, []string{entries[1].ShareID, entries[2].ShareID}, now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	list, err = ledger.ListShares(ctx, user)
	require.NoError(t, err)
	var active []string
	for _, e := range list {
		if e.Status == interfaces.ShareActive {
			active = append(active, e.ShareID)
		}
	}
	assert.Equal(t, []string{next.ShareID}, active)
}

func RunGuardianStorageTests(t *testing.T, storage interfaces.GuardianStorage) {
	ctx := context.Background()
	user := uniq("alice")
	guardian := uniq("bob")

	_, err := storage.Fetch(ctx, guardian, user)
	require.ErrorIs(t, err, interfaces.ErrEnvelopeNotFound)

	env1 := interfaces.EncryptedShareEnvelope{
		ShareID:            uniq("s"),
		UserID:             user,
		Channel:            interfaces.ChannelGuardian,
		DestinationID:      guardian,
		Nonce:              []byte{1},
		Ciphertext:         []byte{2},
		AuthTag:            []byte{3},
		EphemeralPublicKey: []byte{4},
		EncryptedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, storage.Store(ctx, guardian, env1, user))
	require.NoError(t, storage.Store(ctx, guardian, env1, user), "upsert is idempotent")

	got, err := storage.Fetch(ctx, guardian, user)
	require.NoError(t, err)
	assert.Equal(t, env1.ShareID, got.ShareID)
	assert.Equal(t, env1.Ciphertext, got.Ciphertext)
	assert.Equal(t, env1.EphemeralPublicKey, got.EphemeralPublicKey)

	env2 := env1
	env2.ShareID = uniq("s")
	env2.Ciphertext = []byte{9}
	env2.EncryptedAt = env1.EncryptedAt.Add(time.Second)
	require.NoError(t, storage.Store(ctx, guardian, env2, user))

	got, err = storage.Fetch(ctx, guardian, user)
	require.NoError(t, err)
	assert.Equal(t, env2.ShareID, got.ShareID, "latest envelope wins")

	_, err = storage.Fetch(ctx, guardian, uniq("carol"))
	require.ErrorIs(t, err, interfaces.ErrEnvelopeNotFound)

	got, err = storage.FetchShare(ctx, guardian, env1.ShareID)
	require.NoError(t, err)
	assert.Equal(t, env1.Ciphertext, got.Ciphertext, "older envelopes stay addressable by share id")

	_, err = storage.FetchShare(ctx, uniq("dave"), env1.ShareID)
	require.ErrorIs(t, err, interfaces.ErrEnvelopeNotFound)
}
