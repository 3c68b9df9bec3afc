package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/guardian-recovery/api"
	"github.com/ruteri/guardian-recovery/api/recoveryhandler"
	"github.com/ruteri/guardian-recovery/device"
	"github.com/ruteri/guardian-recovery/directory"
	"github.com/ruteri/guardian-recovery/envelope"
	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/ruteri/guardian-recovery/recovery"
	"github.com/ruteri/guardian-recovery/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var passphrase = []byte("correct horse battery staple")

func TestKeyFileRoundTrip(t *testing.T) {
	kf, err := generateKeyFile("alice", passphrase)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "guardian-key.json")
	require.NoError(t, writeKeyFile(path, kf))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := readKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, kf, loaded)

	keys, err := loaded.unlock(passphrase)
	require.NoError(t, err)
	defer keys.Wipe()
	assert.Equal(t, "alice", keys.GuardianID)

	_, err = loaded.unlock([]byte("wrong"))
	require.Error(t, err)

	published, err := directory.ParseRecord(kf.dnsRecord())
	require.NoError(t, err)
	assert.Equal(t, kf.EncryptionPublicKey, published)
}

func TestGenerateKeyFileRequiresInputs(t *testing.T) {
	_, err := generateKeyFile("", passphrase)
	require.Error(t, err)
	_, err = generateKeyFile("alice", nil)
	require.Error(t, err)
}

func TestApprove(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	kf, err := generateKeyFile("alice", passphrase)
	require.NoError(t, err)
	keys, err := kf.unlock(passphrase)
	require.NoError(t, err)
	defer keys.Wipe()

	registry := verifier.NewRegistry(log)
	entry, err := json.Marshal(map[string]any{"guardians": []verifier.GuardianKeyConfig{kf.signingKeyConfig()}})
	require.NoError(t, err)
	require.NoError(t, registry.LoadKeys(bytesReader(entry)))

	session := interfaces.RecoverySession{
		RecoveryID:         "rec-1",
		UserID:             "user-1",
		Status:             interfaces.StatusPendingApproval,
		RequiredThreshold:  2,
		GuardiansRequested: []string{"alice", "bob"},
		CreatedAt:          time.Now().UTC(),
		ExpiresAt:          time.Now().UTC().Add(time.Hour),
	}

	dir := directory.NewStatic()
	require.NoError(t, dir.Add("alice", kf.EncryptionPublicKey))
	devices, err := device.NewRandomKeyService("dev")
	require.NoError(t, err)
	sealer := envelope.NewSealer(dir, devices, time.Now)
	share := interfaces.Share{ID: "share-1", Index: 1, Value: []byte{1, 2, 3}, Threshold: 2, TotalShares: 3, OwnerUserID: "user-1"}
	env, err := sealer.SealForGuardian(context.Background(), share, "alice")
	require.NoError(t, err)
	envData, err := json.Marshal(env)
	require.NoError(t, err)
	envPath := filepath.Join(t.TempDir(), "envelope.json")
	require.NoError(t, os.WriteFile(envPath, envData, 0o600))

	var received api.ApprovalRequest
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/recoveries/rec-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(session)
	})
	mux.HandleFunc("POST /api/v1/recoveries/rec-1/approvals", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(recovery.ApprovalResult{
			RecoveryID: "rec-1", GuardianID: received.GuardianID, Counted: true,
			ApprovedCount: 1, RequiredThreshold: 2, Status: interfaces.StatusPendingApproval,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := &recoveryhandler.Client{BaseURL: srv.URL}
	result, err := approve(context.Background(), client, keys, "rec-1", envPath)
	require.NoError(t, err)
	assert.True(t, result.Counted)

	assert.Equal(t, "alice", received.GuardianID)
	assert.True(t, registry.Verify(context.Background(), session, "alice", received.Signature))

	payload, err := envelope.DecodePayload(received.SharePayload)
	require.NoError(t, err)
	assert.Equal(t, share.Value, payload.Value)
	assert.Equal(t, share.ID, payload.ID)
}

func TestApproveRejectsFinishedSession(t *testing.T) {
	kf, err := generateKeyFile("alice", passphrase)
	require.NoError(t, err)
	keys, err := kf.unlock(passphrase)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(interfaces.RecoverySession{RecoveryID: "rec-1", Status: interfaces.StatusExpired})
	}))
	defer srv.Close()

	_, err = approve(context.Background(), &recoveryhandler.Client{BaseURL: srv.URL}, keys, "rec-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }
