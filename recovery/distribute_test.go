package recovery

import (
	"context"
	"testing"

	"github.com/ruteri/guardian-recovery/envelope"
	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/ruteri/guardian-recovery/secretsharing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributionOrderAndChannels(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2)

	_, err := h.orch.InitializeUserRecovery(ctx, testUser, ConfigurationRequest{
		Threshold:        2,
		TotalShares:      6,
		GuardianIDs:      []string{"g1", "g2"},
		DeviceShardCount: 2,
		BackupOptions:    interfaces.BackupOptions{KeyspaceBackup: true, EmergencyPrintout: true},
	})
	require.NoError(t, err)

	secret := randomSecret(t)
	input := append([]byte{}, secret...)
	res, err := h.orch.DistributeKeyShards(ctx, testUser, input, nil)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, len(input)), input, "secret must be zeroed")

	var channels []interfaces.Channel
	var dests []string
	for _, a := range res.Assignments {
		channels = append(channels, a.Channel)
		dests = append(dests, a.DestinationID)
	}
	assert.Equal(t, []interfaces.Channel{
		interfaces.ChannelGuardian, interfaces.ChannelGuardian,
		interfaces.ChannelDevice, interfaces.ChannelDevice,
		interfaces.ChannelKeyspaceBackup, interfaces.ChannelPrintout,
	}, channels)
	assert.Equal(t, []string{"g1", "g2", testDevice + "/0", testDevice + "/1", envelope.DestinationKeyspaceBackup, envelope.DestinationPrintout}, dests)
	assert.Zero(t, res.Unassigned)
	assert.Equal(t, 1, res.Epoch)

	// Device share plus printout share reach the threshold of two.
	require.Len(t, res.DeviceEnvelopes, 2)
	deviceKey, err := h.device.EncryptionKeyFor(ctx, testUser)
	require.NoError(t, err)
	deviceShare, err := envelope.OpenDeviceEnvelope(deviceKey, res.DeviceEnvelopes[0])
	require.NoError(t, err)

	require.NotNil(t, res.Printout)
	assert.Contains(t, res.Printout.Transcript, "Threshold: 2 of 6 shares")
	printoutShare, err := envelope.OpenPrintoutBlob(testUser, res.Printout.Envelope.ShareID, res.Printout.Envelope.EncryptedAt, res.Printout.Blob)
	require.NoError(t, err)

	got, err := secretsharing.NewShamir().Reconstruct([]interfaces.Share{deviceShare, printoutShare})
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	require.NotNil(t, res.BackupEnvelope)
	backupShare, err := envelope.OpenKeyspaceBackup(*res.BackupEnvelope)
	require.NoError(t, err)
	assert.Equal(t, res.Assignments[4].ShareID, backupShare.ID)

	env, err := h.store.Fetch(ctx, "g1", testUser)
	require.NoError(t, err)
	assert.Equal(t, res.Assignments[0].ShareID, env.ShareID)

	entries, err := h.store.ListShares(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
	for _, e := range entries {
		assert.Equal(t, interfaces.ShareActive, e.Status)
		assert.Equal(t, 1, e.Epoch)
	}

	cfg, err := h.orch.GetConfiguration(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now(), cfg.LastDistributedAt)
	assert.Equal(t, 1, cfg.Epoch)

	distributed := h.events.OfType(interfaces.EventSharesDistributed)
	require.Len(t, distributed, 1)
	assert.Equal(t, 2, distributed[0].GuardianCount)
	assert.Equal(t, 6, distributed[0].ShareCount)
}

func TestDistributionShareBudget(t *testing.T) {
	ctx := context.Background()

	t.Run("extra shares are unassigned", func(t *testing.T) {
		h := newHarness(t, 2)
		_, err := h.orch.InitializeUserRecovery(ctx, testUser, ConfigurationRequest{Threshold: 2, TotalShares: 4, GuardianIDs: []string{"g1", "g2"}})
		require.NoError(t, err)

		res, err := h.orch.DistributeKeyShards(ctx, testUser, randomSecret(t), nil)
		require.NoError(t, err)
		assert.Len(t, res.Assignments, 2)
		assert.Equal(t, 2, res.Unassigned)
	})

	t.Run("later destinations go without", func(t *testing.T) {
		h := newHarness(t, 2)
		_, err := h.orch.InitializeUserRecovery(ctx, testUser, ConfigurationRequest{
			Threshold:        2,
			TotalShares:      3,
			GuardianIDs:      []string{"g1", "g2"},
			DeviceShardCount: 2,
			BackupOptions:    interfaces.BackupOptions{EmergencyPrintout: true},
		})
		require.NoError(t, err)

		res, err := h.orch.DistributeKeyShards(ctx, testUser, randomSecret(t), nil)
		require.NoError(t, err)
		assert.Len(t, res.Assignments, 3)
		assert.Len(t, res.DeviceEnvelopes, 1)
		assert.Nil(t, res.Printout)
		assert.Zero(t, res.Unassigned)
	})
}

func TestDistributionValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	_, err := h.orch.DistributeKeyShards(ctx, testUser, randomSecret(t), nil)
	require.ErrorIs(t, err, interfaces.ErrNoConfiguration)

	_, err = h.orch.InitializeUserRecovery(ctx, testUser, ConfigurationRequest{Threshold: 2, TotalShares: 3, GuardianIDs: []string{"g1", "g2", "g3"}})
	require.NoError(t, err)

	tooMany := make([]string, 11)
	for i := range tooMany {
		tooMany[i] = string(rune('a' + i))
	}
	_, err = h.orch.DistributeKeyShards(ctx, testUser, randomSecret(t), tooMany)
	require.ErrorIs(t, err, interfaces.ErrTooManyGuardians)

	_, err = h.orch.DistributeKeyShards(ctx, testUser, randomSecret(t), []string{"g1", "stranger"})
	require.ErrorIs(t, err, interfaces.ErrInvalidConfiguration)

	_, err = h.orch.DistributeKeyShards(ctx, testUser, nil, nil)
	require.ErrorIs(t, err, interfaces.ErrInvalidConfiguration)

	res, err := h.orch.DistributeKeyShards(ctx, testUser, randomSecret(t), []string{"g3", "g1"})
	require.NoError(t, err)
	assert.Equal(t, "g3", res.Assignments[0].DestinationID)
	assert.Equal(t, "g1", res.Assignments[1].DestinationID)
}

func TestDistributionIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2, func(_ *Config, deps *Dependencies) {
		deps.Backups = failingBackups{}
	})
	_, err := h.orch.InitializeUserRecovery(ctx, testUser, ConfigurationRequest{
		Threshold:     2,
		TotalShares:   3,
		GuardianIDs:   []string{"g1", "g2"},
		BackupOptions: interfaces.BackupOptions{KeyspaceBackup: true},
	})
	require.NoError(t, err)

	_, err = h.orch.DistributeKeyShards(ctx, testUser, randomSecret(t), nil)
	require.Error(t, err)

	entries, err := h.store.ListShares(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, entries)

	cfg, err := h.orch.GetConfiguration(ctx, testUser)
	require.NoError(t, err)
	assert.Zero(t, cfg.Epoch)
	assert.True(t, cfg.LastDistributedAt.IsZero())
	assert.Empty(t, h.events.OfType(interfaces.EventSharesDistributed))
}

func TestDistributionUnknownGuardianKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1)
	_, err := h.orch.InitializeUserRecovery(ctx, testUser, ConfigurationRequest{Threshold: 1, TotalShares: 2, GuardianIDs: []string{"g1", "nokey"}})
	require.NoError(t, err)

	_, err = h.orch.DistributeKeyShards(ctx, testUser, randomSecret(t), nil)
	require.ErrorIs(t, err, interfaces.ErrUnknownGuardianKey)

	_, err = h.store.Fetch(ctx, "g1", testUser)
	require.ErrorIs(t, err, interfaces.ErrEnvelopeNotFound)
}

func TestRedistributionRevokesPreviousShares(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	h.setup(3, 5, 5)

	res, err := h.orch.DistributeKeyShards(ctx, testUser, randomSecret(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.RevokedShareCount)
	assert.Equal(t, 2, res.Epoch)

	entries, err := h.store.ListShares(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	active := 0
	for _, e := range entries {
		if e.Status == interfaces.ShareActive {
			active++
			assert.Equal(t, 2, e.Epoch)
		}
	}
	assert.Equal(t, 5, active)

	revoked := h.events.OfType(interfaces.EventSharesRevoked)
	require.Len(t, revoked, 1)
	assert.Equal(t, 5, revoked[0].RevokedShareCount)
}

func TestDistributionBlockedByLiveRecovery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	h.setup(2, 3, 3)
	id := h.initiate()

	_, err := h.orch.DistributeKeyShards(ctx, testUser, randomSecret(t), nil)
	var inProgress *interfaces.AlreadyInProgressError
	require.ErrorAs(t, err, &inProgress)
	assert.Equal(t, id, inProgress.RecoveryID)
}

func TestFailedRotationKeepsPreviousEpochRecoverable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	secret := h.setup(2, 3, 3)

	h.deps.GuardianStorage = failingGuardianStorage{GuardianStorage: h.store, guardianID: "g3"}
	h.restart()
	_, err := h.orch.RotateShares(ctx, testUser, randomSecret(t))
	require.Error(t, err)

	// g1 now holds a newer envelope the ledger never recorded.
	latest, err := h.store.Fetch(ctx, "g1", testUser)
	require.NoError(t, err)
	_, err = h.store.GetShare(ctx, latest.ShareID)
	require.ErrorIs(t, err, interfaces.ErrLedgerEntryNotFound)

	cfg, err := h.orch.GetConfiguration(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Epoch)

	id := h.initiate()
	for _, g := range []string{"g1", "g2"} {
		_, err := h.approve(id, g)
		require.NoError(t, err)
	}
	key, err := h.orch.ClaimRecoveredKey(ctx, id, testDevice)
	require.NoError(t, err)
	assert.Equal(t, secret, key)
}

func TestRedistributionLedgerFailureRestoresConfiguration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	secret := h.setup(2, 3, 3)

	h.deps.Ledger = failingLedger{ShareLedger: h.store}
	h.restart()
	_, err := h.orch.DistributeKeyShards(ctx, testUser, randomSecret(t), nil)
	require.Error(t, err)

	cfg, err := h.orch.GetConfiguration(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Epoch)

	entries, err := h.store.ListShares(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, interfaces.ShareActive, e.Status)
		assert.Equal(t, 1, e.Epoch)
	}
	assert.Len(t, h.events.OfType(interfaces.EventSharesDistributed), 1)

	h.deps.Ledger = h.store
	h.restart()
	id := h.initiate()
	for _, g := range []string{"g1", "g3"} {
		_, err := h.approve(id, g)
		require.NoError(t, err)
	}
	key, err := h.orch.ClaimRecoveredKey(ctx, id, testDevice)
	require.NoError(t, err)
	assert.Equal(t, secret, key)
}

func TestRemoveGuardianLedgerFailureKeepsGuardian(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	h.setup(2, 3, 3)

	h.deps.Ledger = failingLedger{ShareLedger: h.store}
	h.restart()
	_, err := h.orch.RemoveGuardian(ctx, testUser, "g3")
	require.Error(t, err)

	cfg, err := h.orch.GetConfiguration(ctx, testUser)
	require.NoError(t, err)
	assert.Contains(t, cfg.GuardianIDs, "g3")

	entries, err := h.store.ListShares(ctx, testUser)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, interfaces.ShareActive, e.Status)
	}
	assert.Empty(t, h.events.OfType(interfaces.EventGuardianRemoved))
}
