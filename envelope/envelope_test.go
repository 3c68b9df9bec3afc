package envelope

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/guardian-recovery/cryptoutils"
	"github.com/ruteri/guardian-recovery/device"
	"github.com/ruteri/guardian-recovery/directory"
	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/stretchr/testify/require"
)

type fakeGuardianStorage struct {
	envelopes map[string]interfaces.EncryptedShareEnvelope
	latest    map[string]string
}

func newFakeGuardianStorage() *fakeGuardianStorage {
	return &fakeGuardianStorage{
		envelopes: map[string]interfaces.EncryptedShareEnvelope{},
		latest:    map[string]string{},
	}
}

func (f *fakeGuardianStorage) Store(_ context.Context, guardianID string, env interfaces.EncryptedShareEnvelope, owner string) error {
	f.envelopes[guardianID+"|"+env.ShareID] = env
	f.latest[guardianID+"|"+owner] = env.ShareID
	return nil
}

func (f *fakeGuardianStorage) Fetch(ctx context.Context, guardianID string, owner string) (interfaces.EncryptedShareEnvelope, error) {
	shareID, ok := f.latest[guardianID+"|"+owner]
	if !ok {
		return interfaces.EncryptedShareEnvelope{}, interfaces.ErrEnvelopeNotFound
	}
	return f.FetchShare(ctx, guardianID, shareID)
}

func (f *fakeGuardianStorage) FetchShare(_ context.Context, guardianID string, shareID string) (interfaces.EncryptedShareEnvelope, error) {
	env, ok := f.envelopes[guardianID+"|"+shareID]
	if !ok {
		return interfaces.EncryptedShareEnvelope{}, interfaces.ErrEnvelopeNotFound
	}
	return env, nil
}

// fakeLedger only answers ListShares.
type fakeLedger struct {
	interfaces.ShareLedger
	entries []interfaces.LedgerEntry
}

func (f *fakeLedger) ListShares(_ context.Context, userID string) ([]interfaces.LedgerEntry, error) {
	var out []interfaces.LedgerEntry
	for _, e := range f.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func testShare() interfaces.Share {
	return interfaces.Share{
		ID:          "share-1",
		Index:       7,
		Value:       []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03},
		Threshold:   3,
		TotalShares: 5,
		OwnerUserID: "alice",
		Status:      interfaces.ShareActive,
	}
}

func fixture(t *testing.T) (*Sealer, *directory.Static, *device.StaticKeyService, []byte) {
	dir := directory.NewStatic()
	priv, pub, err := cryptoutils.GenerateGuardianKeyPair()
	require.NoError(t, err)
	require.NoError(t, dir.Add("bob", pub))

	devices, err := device.NewRandomKeyService("laptop")
	require.NoError(t, err)

	return NewSealer(dir, devices, nil), dir, devices, priv
}

func TestGuardianEnvelope(t *testing.T) {
	sealer, _, _, priv := fixture(t)
	share := testShare()

	env, err := sealer.SealForGuardian(context.Background(), share, "bob")
	require.NoError(t, err)
	require.Equal(t, interfaces.ChannelGuardian, env.Channel)
	require.Equal(t, "bob", env.DestinationID)
	require.Equal(t, "share-1", env.ShareID)
	require.Len(t, env.EphemeralPublicKey, 32)
	require.Len(t, env.AuthTag, cryptoutils.TagSize)

	opened, err := OpenGuardianEnvelope(priv, env)
	require.NoError(t, err)
	require.Equal(t, share.Value, opened.Value)
	require.Equal(t, share.Index, opened.Index)
	require.Equal(t, share.Threshold, opened.Threshold)
	require.Equal(t, share.TotalShares, opened.TotalShares)
	require.Equal(t, "alice", opened.OwnerUserID)

	// Rebinding the envelope to another user or destination breaks authentication.
	moved := env
	moved.UserID = "mallory"
	_, err = OpenGuardianEnvelope(priv, moved)
	require.ErrorIs(t, err, interfaces.ErrDecryptionFailed)

	moved = env
	moved.DestinationID = "carol"
	_, err = OpenGuardianEnvelope(priv, moved)
	require.ErrorIs(t, err, interfaces.ErrDecryptionFailed)

	_, err = sealer.SealForGuardian(context.Background(), share, "unknown")
	require.ErrorIs(t, err, interfaces.ErrUnknownGuardianKey)
}

func TestDeviceEnvelope(t *testing.T) {
	sealer, _, devices, _ := fixture(t)
	share := testShare()

	env, err := sealer.SealForDevice(context.Background(), share, "laptop/0")
	require.NoError(t, err)
	require.Equal(t, interfaces.ChannelDevice, env.Channel)
	require.Empty(t, env.EphemeralPublicKey)

	key, err := devices.EncryptionKeyFor(context.Background(), "alice")
	require.NoError(t, err)

	opened, err := OpenDeviceEnvelope(key, env)
	require.NoError(t, err)
	require.Equal(t, share.Value, opened.Value)

	_, err = OpenGuardianEnvelope(key, env)
	require.Error(t, err)
}

func TestKeyspaceBackupEnvelope(t *testing.T) {
	sealer, _, _, _ := fixture(t)
	share := testShare()
	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

	env, err := sealer.SealForKeyspaceBackup(share, at)
	require.NoError(t, err)
	require.Equal(t, at, env.EncryptedAt)
	require.Equal(t, DestinationKeyspaceBackup, env.DestinationID)

	opened, err := OpenKeyspaceBackup(env)
	require.NoError(t, err)
	require.Equal(t, share.Value, opened.Value)

	env.EncryptedAt = at.Add(time.Second)
	_, err = OpenKeyspaceBackup(env)
	require.ErrorIs(t, err, interfaces.ErrDecryptionFailed)
}

func TestPrintout(t *testing.T) {
	sealer, _, _, _ := fixture(t)
	share := testShare()
	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

	printout, err := sealer.SealForPrintout(share, at)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(printout.Blob, cryptoutils.PrintoutBlobPrefix))

	require.Contains(t, printout.Transcript, "Share index: 7")
	require.Contains(t, printout.Transcript, "Threshold: 3 of 5 shares")
	require.Contains(t, printout.Transcript, "Value preview: deadbeef…")
	require.Contains(t, printout.Transcript, "2026-05-04T03:02:01Z")
	require.Contains(t, printout.Transcript, "WARNING")
	require.NotContains(t, printout.Transcript, "deadbeef010203")

	opened, err := OpenPrintoutBlob("alice", "share-1", at, printout.Blob)
	require.NoError(t, err)
	require.Equal(t, share.Value, opened.Value)

	_, err = OpenPrintoutBlob("alice", "share-2", at, printout.Blob)
	require.Error(t, err)
}

func TestKeyringRetriever(t *testing.T) {
	sealer, _, _, priv := fixture(t)
	share := testShare()
	store := newFakeGuardianStorage()
	ledger := &fakeLedger{entries: []interfaces.LedgerEntry{
		{ShareID: share.ID, UserID: "alice", Index: share.Index, Channel: interfaces.ChannelGuardian, DestinationID: "bob", Status: interfaces.ShareActive},
	}}

	env, err := sealer.SealForGuardian(context.Background(), share, "bob")
	require.NoError(t, err)
	require.NoError(t, store.Store(context.Background(), "bob", env, "alice"))

	r := NewKeyringRetriever(store, ledger)
	_, err = r.FetchGuardianShare(context.Background(), "bob", "alice")
	require.ErrorIs(t, err, interfaces.ErrUnknownGuardianKey)

	r.AddKey("bob", priv)
	got, err := r.FetchGuardianShare(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, share.Value, got.Value)
	require.Equal(t, "share-1", got.ID)

	_, err = r.FetchGuardianShare(context.Background(), "bob", "carol")
	require.ErrorIs(t, err, interfaces.ErrEnvelopeNotFound)
}

func TestKeyringRetrieverIgnoresUnrecordedEnvelopes(t *testing.T) {
	sealer, _, _, priv := fixture(t)
	share := testShare()
	store := newFakeGuardianStorage()
	ledger := &fakeLedger{entries: []interfaces.LedgerEntry{
		{ShareID: "share-0", UserID: "alice", Channel: interfaces.ChannelGuardian, DestinationID: "bob", Status: interfaces.ShareRevoked},
		{ShareID: share.ID, UserID: "alice", Index: share.Index, Channel: interfaces.ChannelGuardian, DestinationID: "bob", Status: interfaces.ShareActive},
	}}
	r := NewKeyringRetriever(store, ledger)
	r.AddKey("bob", priv)

	env, err := sealer.SealForGuardian(context.Background(), share, "bob")
	require.NoError(t, err)
	require.NoError(t, store.Store(context.Background(), "bob", env, "alice"))

	// A later delivery the ledger never recorded.
	orphan := testShare()
	orphan.ID = "share-2"
	orphan.Value = []byte{0x01}
	env, err = sealer.SealForGuardian(context.Background(), orphan, "bob")
	require.NoError(t, err)
	require.NoError(t, store.Store(context.Background(), "bob", env, "alice"))

	got, err := r.FetchGuardianShare(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, share.ID, got.ID)
	require.Equal(t, share.Value, got.Value)

	ledger.entries = ledger.entries[:1]
	_, err = r.FetchGuardianShare(context.Background(), "bob", "alice")
	require.ErrorIs(t, err, interfaces.ErrEnvelopeNotFound, "revoked shares are never served")
}

func TestDecodePayload(t *testing.T) {
	share := testShare()
	data, err := EncodePayload(share)
	require.NoError(t, err)

	decoded, err := DecodePayload(data)
	require.NoError(t, err)
	require.Equal(t, share.ID, decoded.ID)
	require.Equal(t, share.Value, decoded.Value)
	require.Equal(t, make([]byte, len(data)), data, "input must be wiped")

	_, err = DecodePayload([]byte(`{"share_id":"x"}`))
	require.ErrorIs(t, err, ErrMalformedPayload)
	_, err = DecodePayload([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedPayload)
}
