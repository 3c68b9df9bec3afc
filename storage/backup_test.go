package storage

import (
	"context"
	"testing"
	"time"

	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backupEnvelope() interfaces.EncryptedShareEnvelope {
	return interfaces.EncryptedShareEnvelope{
		ShareID:       "share-1",
		UserID:        "alice",
		Channel:       interfaces.ChannelKeyspaceBackup,
		DestinationID: "keyspace",
		Nonce:         []byte{1, 2, 3},
		Ciphertext:    []byte{4, 5, 6, 7},
		AuthTag:       []byte{8, 9},
		EncryptedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBackupWriter_RoundTrip(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	writer := NewBackupWriter(backend, testLogger())
	ctx := context.Background()

	location, err := writer.StoreBackup(ctx, backupEnvelope())
	require.NoError(t, err)
	assert.Contains(t, location, backend.LocationURI()+"#")

	got, err := writer.FetchBackup(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, backupEnvelope(), got)

	again, err := writer.StoreBackup(ctx, backupEnvelope())
	require.NoError(t, err)
	assert.Equal(t, location, again)
}

func TestBackupWriter_RejectsOtherChannels(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	writer := NewBackupWriter(backend, testLogger())

	env := backupEnvelope()
	env.Channel = interfaces.ChannelGuardian
	_, err = writer.StoreBackup(context.Background(), env)
	require.Error(t, err)
}

func TestBackupWriter_FetchMissing(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	writer := NewBackupWriter(backend, testLogger())

	id := interfaces.ComputeID([]byte("never stored"))
	_, err = writer.FetchBackup(context.Background(), interfaces.BackupRef{Backend: backend.LocationURI(), ID: id}.String())
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	_, err = writer.FetchBackup(context.Background(), backend.LocationURI())
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestFileBackend(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, backend.Available(ctx))

	data := []byte("audit export")
	id, err := backend.Store(ctx, data, interfaces.AuditExportType)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)

	got, err := backend.Fetch(ctx, id, interfaces.AuditExportType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = backend.Fetch(ctx, id, interfaces.BackupEnvelopeType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(testLogger(), 2)
	dirA, dirB := t.TempDir(), t.TempDir()

	locA, err := interfaces.NewStorageBackendLocation("file://" + dirA)
	require.NoError(t, err)
	locB, err := interfaces.NewStorageBackendLocation("file://" + dirB)
	require.NoError(t, err)

	single, err := factory.StorageBackendFor(locA)
	require.NoError(t, err)
	assert.Equal(t, "file://"+dirA, single.LocationURI())

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{locA, locB})
	require.NoError(t, err)

	ctx := context.Background()
	id, err := multi.Store(ctx, []byte("replicated"), interfaces.BackupEnvelopeType)
	require.NoError(t, err)

	for _, dir := range []string{dirA, dirB} {
		backend, err := NewFileBackend(dir, testLogger())
		require.NoError(t, err)
		got, err := backend.Fetch(ctx, id, interfaces.BackupEnvelopeType)
		require.NoError(t, err)
		assert.Equal(t, []byte("replicated"), got)
	}

	vaultLoc, err := interfaces.NewStorageBackendLocation("vault://vault.internal:8200/secret/backups")
	require.NoError(t, err)
	_, err = factory.StorageBackendFor(vaultLoc)
	require.Error(t, err, "vault without token or TLS auth")

	_, err = interfaces.NewStorageBackendLocation("github://owner/repo")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestBackupRef(t *testing.T) {
	id := interfaces.ComputeID([]byte("envelope"))
	ref := interfaces.BackupRef{Backend: "s3://bucket/prefix?region=eu-west-1", ID: id}

	parsed, err := interfaces.ParseBackupRef(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)

	_, err = interfaces.ParseBackupRef("file:///tmp#zz")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = interfaces.ParseContentID("0x" + id.String())
	require.NoError(t, err)
	_, err = interfaces.ParseContentID("abcd")
	require.Error(t, err)
}
